package hub

import (
	"fmt"

	"github.com/Skelmis/zonis-go/session"
	"github.com/Skelmis/zonis-go/zerr"
)

// DefaultPolicy picks the session a Request targets when the caller omits
// a client identifier. Adapted from the teacher's loadbalance.Balancer
// interface (Pick over a list of interchangeable instances) down to this
// spec's single legitimate case: spec.md §4.5 has no notion of redundant
// replicas to load-balance across, only a unique client_identifier per
// session, so the only defensible "pick" is the sole connected client —
// anything else is an ambiguous default and must fail.
type DefaultPolicy interface {
	// Pick selects the target session from the currently connected set.
	Pick(sessions map[string]*session.Session) (*session.Session, error)

	// Name identifies the policy for logging.
	Name() string
}

// SoleClientPolicy is the only DefaultPolicy this spec defines: it
// succeeds exactly when one client is connected.
type SoleClientPolicy struct{}

func (SoleClientPolicy) Name() string { return "sole-client" }

func (SoleClientPolicy) Pick(sessions map[string]*session.Session) (*session.Session, error) {
	if len(sessions) != 1 {
		return nil, fmt.Errorf("zonis: no default client (have %d connected): %w", len(sessions), zerr.ErrUnknownClient)
	}
	for _, sess := range sessions {
		return sess, nil
	}
	return nil, zerr.ErrUnknownClient // unreachable
}
