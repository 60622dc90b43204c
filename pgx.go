package scopedb

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool adapts a pgxpool.Pool to Pool
type PgxPool struct {
	pool *pgxpool.Pool
}

var (
	_ Pool          = (*PgxPool)(nil)
	_ StatsProvider = (*PgxPool)(nil)
)

// NewPgxPool wraps an existing pgx pool
func NewPgxPool(pool *pgxpool.Pool) *PgxPool {
	return &PgxPool{pool: pool}
}

// OpenPgx creates a pgx pool from cfg and returns a DB on top of it
func OpenPgx(ctx context.Context, cfg Config) (*DB, error) {
	cfg.applyDefaults()

	if cfg.URL == "" {
		return nil, &Error{
			Code:    CodeConnectionFailed,
			Message: "database URL is required",
			Op:      "OpenPgx",
		}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, &Error{
			Code:    CodeConnectionFailed,
			Message: "invalid database URL",
			Op:      "OpenPgx",
			Cause:   err,
		}
	}
	poolCfg.MaxConns = clampInt32(cfg.MaxOpenConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	poolCfg.ConnConfig.ConnectTimeout = cfg.DialTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, &Error{
			Code:    CodeConnectionFailed,
			Message: "failed to create pool",
			Op:      "OpenPgx",
			Cause:   err,
		}
	}

	// Verify connection
	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, &Error{
			Code:    CodeConnectionFailed,
			Message: "failed to connect to database",
			Op:      "OpenPgx",
			Cause:   err,
		}
	}

	return New(NewPgxPool(pool), cfg)
}

// Connect acquires a connection from the pool
func (p *PgxPool) Connect(ctx context.Context) (Conn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxConn{
		q: c.Conn(),
		release: func(err error) {
			if err != nil && isBroken(err) {
				// Hijacked connections leave the pool for good.
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = c.Hijack().Close(closeCtx)
				return
			}
			c.Release()
		},
	}, nil
}

// Close closes every connection in the pool
func (p *PgxPool) Close() {
	p.pool.Close()
}

// Stats returns connection pool statistics
func (p *PgxPool) Stats() PoolStats {
	return PoolStatsFromPgx(p.pool.Stat())
}

// Pgx returns the underlying pgx pool for direct access
func (p *PgxPool) Pgx() *pgxpool.Pool {
	return p.pool
}

// PoolStatsFromPgx converts pgxpool statistics to PoolStats
func PoolStatsFromPgx(stat *pgxpool.Stat) PoolStats {
	return PoolStats{
		MaxOpenConnections: int(stat.MaxConns()),
		OpenConnections:    int(stat.TotalConns()),
		InUse:              int(stat.AcquiredConns()),
		Idle:               int(stat.IdleConns()),
		WaitCount:          stat.EmptyAcquireCount(),
		WaitDuration:       stat.AcquireDuration(),
		Expired:            stat.MaxIdleDestroyCount() + stat.MaxLifetimeDestroyCount(),
	}
}

// pgxQuerier is the part of *pgx.Conn used by pgxConn.
type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error)
}

// pgxConn runs queries on one pgx connection.
type pgxConn struct {
	q       pgxQuerier
	release func(err error)
}

func (c *pgxConn) Query(ctx context.Context, q Query) (*Result, error) {
	sql := q.Text
	if q.Name != "" {
		// Preparing the same name and text again is a no-op in pgx.
		if _, err := c.q.Prepare(ctx, q.Name, q.Text); err != nil {
			return nil, err
		}
		sql = q.Name
	}

	rows, err := c.q.Query(ctx, sql, q.Values...)
	if err != nil {
		return nil, err
	}
	return collectPgxRows(rows)
}

func (c *pgxConn) Release(err error) {
	if c.release != nil {
		c.release(err)
	}
}

func collectPgxRows(rows pgx.Rows) (*Result, error) {
	defer rows.Close()

	fds := rows.FieldDescriptions()
	fields := make([]string, len(fds))
	for i, fd := range fds {
		fields[i] = fd.Name
	}

	res := &Result{Fields: fields}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(Row, len(fields))
		for i, name := range fields {
			row[name] = values[i]
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tag := rows.CommandTag()
	res.Command = commandVerb(tag.String())
	res.RowCount = tag.RowsAffected()
	return res, nil
}

// isBroken reports whether a failed unit of work left its connection
// unusable.
func isBroken(err error) bool {
	return IsConnection(err) || IsTimeout(err) || errors.Is(err, context.Canceled)
}

func clampInt32(v int) int32 {
	if v <= 0 {
		return 0
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(v)
}
