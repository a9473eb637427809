package listener

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// State of one listener. Each listener owns its own state; the registry
// only mirrors it for observability.
type State int32

const (
	StateConnecting State = iota
	StateListening
	StateRecovering
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateListening:
		return "LISTENING"
	case StateRecovering:
		return "RECOVERING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Registry mirrors listener states for the admin API. A nil *Registry
// ignores updates.
type Registry struct {
	states *xsync.MapOf[string, string]
}

// NewRegistry creates an empty state registry.
func NewRegistry() *Registry {
	return &Registry{states: xsync.NewMapOf[string, string]()}
}

func (r *Registry) set(database string, state State) {
	if r == nil {
		return
	}
	r.states.Store(database, state.String())
}

// Snapshot returns the current state per database.
func (r *Registry) Snapshot() map[string]string {
	if r == nil {
		return nil
	}
	snapshot := make(map[string]string)
	r.states.Range(func(database, state string) bool {
		snapshot[database] = state
		return true
	})
	return snapshot
}
