// Package secretstore holds the server hub's override-key configuration:
// the mapping of client identifier -> secret that authorizes reclaiming
// that identifier (spec §6: "secret_keys (server): mapping of known
// identifiers to override secrets").
//
// Two implementations are provided: InMemory (the default, a single
// process's view) and EtcdStore (a shared, persisted view for hubs
// running behind a load balancer, adapted from the teacher's etcd-backed
// service registry).
package secretstore

import "context"

// Store is the contract the hub uses to validate override keys.
type Store interface {
	// Get returns the configured secret for identifier, and whether one is
	// configured at all.
	Get(ctx context.Context, identifier string) (secret string, ok bool, err error)
	// Set configures identifier's override secret.
	Set(ctx context.Context, identifier, secret string) error
}
