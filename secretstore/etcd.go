// EtcdStore repurposes the teacher's etcd-backed registry: instead of a
// service name resolving to a set of addresses, a client identifier
// resolves to a single override secret, shared and persisted across every
// hub process pointed at the same etcd cluster.
package secretstore

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/zonis/override-keys/"

// EtcdStore stores override secrets under /zonis/override-keys/{identifier}
// in etcd, giving every hub instance behind a load balancer the same view
// of which override keys are valid for which identifiers.
type EtcdStore struct {
	client *clientv3.Client
}

// NewEtcdStore connects to the given etcd endpoints.
func NewEtcdStore(endpoints []string) (*EtcdStore, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, err
	}
	return &EtcdStore{client: c}, nil
}

func (s *EtcdStore) Get(ctx context.Context, identifier string) (string, bool, error) {
	resp, err := s.client.Get(ctx, keyPrefix+identifier)
	if err != nil {
		return "", false, err
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

func (s *EtcdStore) Set(ctx context.Context, identifier, secret string) error {
	_, err := s.client.Put(ctx, keyPrefix+identifier, secret)
	return err
}

// Close releases the underlying etcd client connection.
func (s *EtcdStore) Close() error {
	return s.client.Close()
}
