package scopedb

import (
	"context"
	"fmt"
)

// Pool hands out dedicated connections. Sizing, health checks and
// reconnection belong to the implementation.
type Pool interface {
	Connect(ctx context.Context) (Conn, error)
}

// Conn is a single connection held for the duration of one unit of work.
type Conn interface {
	// Query executes q and returns its rows.
	Query(ctx context.Context, q Query) (*Result, error)

	// Release returns the connection to its pool. A non-nil err tells the
	// pool the unit of work failed so it may discard the connection.
	Release(err error)
}

// PanicError is passed to Conn.Release when a unit of work panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("scopedb: panic during unit of work: %v", e.Value)
}

// poolWrapper guarantees exactly one Release per acquired connection.
type poolWrapper struct {
	pool Pool
}

// use acquires a connection, runs fn with it and releases it on every exit
// path, passing the failure (if any) to Release.
func (p poolWrapper) use(ctx context.Context, fn func(ctx context.Context, conn Conn) error) error {
	conn, err := p.pool.Connect(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			conn.Release(&PanicError{Value: r})
			panic(r)
		}
	}()

	err = fn(ctx, conn)
	conn.Release(err)
	return err
}
