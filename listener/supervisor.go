package listener

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultShutdownGrace bounds how long Run waits for listeners after the
// shutdown signal. Listeners re-check the signal at least once per poll
// interval, so this only trips when something is badly stuck.
const DefaultShutdownGrace = 30 * time.Second

// Supervisor fans listeners out across goroutines and waits for orderly
// termination. With a single target it runs the listener inline.
type Supervisor struct {
	listeners     []*Listener
	shutdownGrace time.Duration
}

// NewSupervisor wraps the given listeners.
func NewSupervisor(listeners []*Listener) *Supervisor {
	return &Supervisor{
		listeners:     listeners,
		shutdownGrace: DefaultShutdownGrace,
	}
}

// Run blocks until every listener terminated. Cancelling ctx starts the
// shutdown; the wait after cancellation is bounded by the grace period.
func (s *Supervisor) Run(ctx context.Context) {
	if len(s.listeners) == 0 {
		return
	}

	if len(s.listeners) == 1 {
		s.listeners[0].Run(ctx)
		return
	}

	log.Info().Int("listeners", len(s.listeners)).Msg("Starting listeners")

	var wg sync.WaitGroup
	for _, l := range s.listeners {
		wg.Add(1)
		go func(l *Listener) {
			defer wg.Done()
			l.Run(ctx)
		}(l)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	select {
	case <-done:
	case <-time.After(s.shutdownGrace):
		log.Warn().
			Dur("grace", s.shutdownGrace).
			Msg("Listeners did not terminate within the shutdown grace period")
	}
}
