package listener

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/hexgeo/geobridge/cfg"
)

// Notification is one payload received on the subscribed channel.
type Notification struct {
	Payload string
}

// Conn is the slice of a database connection the listener needs. It exists
// so the state machine can be driven by a fake in tests; pgConn is the
// production implementation.
type Conn interface {
	// WaitForNotification blocks until a notification arrives or ctx is
	// done. Pending notifications are returned one at a time in arrival
	// order.
	WaitForNotification(ctx context.Context) (Notification, error)
	// Ping issues the no-op keepalive query.
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Dialer opens a connection to target already subscribed to channel.
type Dialer func(ctx context.Context, target cfg.DatabaseTarget, channel string) (Conn, error)

// PGDialer connects via pgx and issues LISTEN on channel.
func PGDialer(ctx context.Context, target cfg.DatabaseTarget, channel string) (Conn, error) {
	conn, err := pgx.Connect(ctx, target.ConnString())
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Close(ctx)
		return nil, err
	}

	return &pgConn{conn: conn}, nil
}

type pgConn struct {
	conn *pgx.Conn
}

func (c *pgConn) WaitForNotification(ctx context.Context) (Notification, error) {
	n, err := c.conn.WaitForNotification(ctx)
	if err != nil {
		return Notification{}, err
	}
	return Notification{Payload: n.Payload}, nil
}

func (c *pgConn) Ping(ctx context.Context) error {
	_, err := c.conn.Exec(ctx, "SELECT 1")
	return err
}

func (c *pgConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}
