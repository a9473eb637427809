// Package alert sends best-effort operator alerts with per-subject cooldown
// suppression. One Notifier instance is shared by every listener; delivery
// failures are logged and never surface to callers.
package alert

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hexgeo/geobridge/telemetry"
)

// DefaultCooldown is the minimum interval between two alerts sharing a
// subject key. Fixed default; deliberately not externally tunable.
const DefaultCooldown = 15 * time.Minute

// Notifier throttles and delivers alerts. Safe for concurrent use.
type Notifier struct {
	mailer   Mailer
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// Option customizes a Notifier.
type Option func(*Notifier)

// WithCooldown overrides the suppression window.
func WithCooldown(d time.Duration) Option {
	return func(n *Notifier) { n.cooldown = d }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// NewNotifier wraps mailer with cooldown suppression. A nil mailer disables
// alerting entirely; every Send becomes a no-op.
func NewNotifier(mailer Mailer, opts ...Option) *Notifier {
	n := &Notifier{
		mailer:   mailer,
		cooldown: DefaultCooldown,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Enabled reports whether a transport is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.mailer != nil
}

// Send delivers an alert unless one with the same subject key went out
// within the cooldown window. Never returns an error: alerting must not
// affect listener operation.
func (n *Notifier) Send(subjectKey, subject, body string) {
	if !n.Enabled() {
		return
	}

	n.mu.Lock()
	now := n.now()
	if last, ok := n.lastSent[subjectKey]; ok && now.Sub(last) < n.cooldown {
		n.mu.Unlock()
		telemetry.AlertsTotal.With("suppressed").Inc()
		log.Debug().
			Str("subject_key", subjectKey).
			Time("last_sent", last).
			Msg("Alert suppressed by cooldown")
		return
	}
	n.lastSent[subjectKey] = now
	n.mu.Unlock()

	if err := n.mailer.Send(subject, body); err != nil {
		telemetry.AlertsTotal.With("failed").Inc()
		log.Error().
			Err(err).
			Str("subject_key", subjectKey).
			Str("subject", subject).
			Msg("Alert delivery failed")
		return
	}

	telemetry.AlertsTotal.With("sent").Inc()
	log.Info().
		Str("subject_key", subjectKey).
		Str("subject", subject).
		Msg("Alert sent")
}
