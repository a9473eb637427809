// Package listener maintains one resilient LISTEN subscription per source
// database and dispatches every received schema notification. Loss while
// disconnected is permanent: the transport is at-most-once and nothing is
// replayed.
package listener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hexgeo/geobridge/alert"
	"github.com/hexgeo/geobridge/cfg"
	"github.com/hexgeo/geobridge/telemetry"
)

// Dispatcher handles one validated-or-not notification payload. It must
// never panic through and never block beyond what its own timeouts allow.
type Dispatcher interface {
	Dispatch(ctx context.Context, target cfg.DatabaseTarget, payload string)
}

// Options configures a Listener.
type Options struct {
	Target         cfg.DatabaseTarget
	Channel        string
	Dial           Dialer
	Dispatcher     Dispatcher
	Alerts         *alert.Notifier
	Registry       *Registry
	ReconnectDelay time.Duration
	PollInterval   time.Duration
	Instance       string
}

// Listener owns one database connection and runs the
// CONNECTING -> LISTENING -> RECOVERING -> TERMINATED loop.
type Listener struct {
	opts Options
}

// New builds a Listener. The zero durations get sane defaults.
func New(opts Options) (*Listener, error) {
	if opts.Target.DBName == "" {
		return nil, fmt.Errorf("listener requires a database target")
	}
	if opts.Dial == nil {
		return nil, fmt.Errorf("listener requires a dialer")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("listener requires a dispatcher")
	}
	if opts.Channel == "" {
		return nil, fmt.Errorf("listener requires a channel name")
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 60 * time.Second
	}
	return &Listener{opts: opts}, nil
}

// Run drives the state machine until ctx is cancelled. It blocks; the
// supervisor decides whether it gets its own goroutine.
func (l *Listener) Run(ctx context.Context) {
	db := l.opts.Target.DBName
	defer func() {
		l.setState(StateTerminated)
		log.Info().Str("database", db).Msg("Listener terminated")
	}()

	// Set once a LISTENING period ends in a transport failure; cleared by
	// the reconnected alert on the next successful subscribe.
	lostConnection := false

	for {
		if ctx.Err() != nil {
			return
		}

		l.setState(StateConnecting)
		conn, err := l.opts.Dial(ctx, l.opts.Target, l.opts.Channel)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("database", db).Msg("Failed to connect to database")
			l.alertConnectionLost(err)
			l.setState(StateRecovering)
			if !sleepCtx(ctx, l.opts.ReconnectDelay) {
				return
			}
			continue
		}

		l.setState(StateListening)
		log.Info().
			Str("database", db).
			Str("channel", l.opts.Channel).
			Msg("Listening for schema notifications")

		if lostConnection {
			lostConnection = false
			l.opts.Alerts.Send(
				"reconnected:"+db,
				fmt.Sprintf("geobridge: reconnected to %s", db),
				fmt.Sprintf("Instance %s re-established the notification subscription to database %q.\nNotifications sent while disconnected are lost and will not be replayed.",
					l.opts.Instance, db),
			)
		}

		err = l.listen(ctx, conn)

		// The run context may already be cancelled; close with a fresh one
		// so the connection is released on every exit path.
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn.Close(closeCtx)
		cancel()

		if err == nil {
			// Shutdown requested.
			return
		}

		log.Error().Err(err).Str("database", db).Msg("Database connection lost")
		telemetry.ReconnectsTotal.With(db).Inc()
		lostConnection = true
		l.alertConnectionLost(err)

		l.setState(StateRecovering)
		if !sleepCtx(ctx, l.opts.ReconnectDelay) {
			return
		}
	}
}

// listen drains notifications until shutdown (returns nil) or a transport
// error (returned to trigger recovery). The bounded wait keeps the shutdown
// signal checked at least once per poll interval.
func (l *Listener) listen(ctx context.Context, conn Conn) error {
	db := l.opts.Target.DBName

	for {
		waitCtx, cancel := context.WithTimeout(ctx, l.opts.PollInterval)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				// Idle period elapsed: probe the connection so a dead
				// socket is noticed before the next notification.
				if err := l.keepalive(ctx, conn); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("keepalive failed: %w", err)
				}
				continue
			}
			return err
		}

		if notification.Payload == "" {
			telemetry.NotificationsTotal.With(db, "empty").Inc()
			log.Warn().Str("database", db).Msg("Empty notification payload, ignoring")
			continue
		}

		log.Debug().
			Str("database", db).
			Str("payload", notification.Payload).
			Msg("Notification received")
		l.opts.Dispatcher.Dispatch(ctx, l.opts.Target, notification.Payload)
	}
}

func (l *Listener) keepalive(ctx context.Context, conn Conn) error {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Ping(pingCtx)
}

func (l *Listener) alertConnectionLost(cause error) {
	db := l.opts.Target.DBName
	l.opts.Alerts.Send(
		"conn-lost:"+db,
		fmt.Sprintf("geobridge: connection lost to %s", db),
		fmt.Sprintf("Instance %s lost the notification subscription to database %q.\nCause: %v\nThe listener will keep reconnecting; notifications sent meanwhile are lost.",
			l.opts.Instance, db, cause),
	)
}

func (l *Listener) setState(state State) {
	db := l.opts.Target.DBName
	l.opts.Registry.set(db, state)
	if state == StateListening {
		telemetry.ListenerUp.With(db).Set(1)
	} else {
		telemetry.ListenerUp.With(db).Set(0)
	}
}

// sleepCtx sleeps for d or until ctx is done. Returns false when interrupted.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
