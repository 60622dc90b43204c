package scopedb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// SQLPool adapts a database/sql pool to Pool. Values bind to the driver's
// own placeholder syntax.
type SQLPool struct {
	db *sql.DB
}

var (
	_ Pool          = (*SQLPool)(nil)
	_ StatsProvider = (*SQLPool)(nil)
)

// NewSQLPool wraps an existing *sql.DB
func NewSQLPool(db *sql.DB) *SQLPool {
	return &SQLPool{db: db}
}

// Connect reserves a single connection from the pool
func (p *SQLPool) Connect(ctx context.Context) (Conn, error) {
	c, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sqlConn{q: c}, nil
}

// Close closes the database
func (p *SQLPool) Close() error {
	return p.db.Close()
}

// Stats returns connection pool statistics
func (p *SQLPool) Stats() PoolStats {
	return PoolStatsFromSQL(p.db.Stats())
}

// BunPool adapts a bun.DB to Pool. Queries go through bun's formatter and
// query hooks, so values bind to "?" placeholders.
type BunPool struct {
	db *bun.DB
}

var (
	_ Pool          = (*BunPool)(nil)
	_ StatsProvider = (*BunPool)(nil)
)

// NewBunPool wraps an existing bun.DB
func NewBunPool(db *bun.DB) *BunPool {
	return &BunPool{db: db}
}

// Open creates a PostgreSQL connection through bun's pgdriver configured by
// cfg and returns a DB on top of it.
func Open(cfg Config) (*DB, error) {
	// Apply defaults for zero values
	cfg.applyDefaults()

	if cfg.URL == "" {
		return nil, &Error{
			Code:    CodeConnectionFailed,
			Message: "database URL is required",
			Op:      "Open",
		}
	}

	// Create pgdriver connector with timeouts
	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.URL),
		pgdriver.WithDialTimeout(cfg.DialTimeout),
		pgdriver.WithReadTimeout(cfg.ReadTimeout),
		pgdriver.WithWriteTimeout(cfg.WriteTimeout),
	)

	// Open sql.DB
	sqlDB := sql.OpenDB(connector)

	// Configure pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	bunDB := bun.NewDB(sqlDB, pgdialect.New())

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := bunDB.PingContext(ctx); err != nil {
		_ = bunDB.Close()
		return nil, &Error{
			Code:    CodeConnectionFailed,
			Message: "failed to connect to database",
			Op:      "Open",
			Cause:   err,
		}
	}

	return New(NewBunPool(bunDB), cfg)
}

// Connect reserves a single connection from the pool
func (p *BunPool) Connect(ctx context.Context) (Conn, error) {
	c, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sqlConn{q: c}, nil
}

// Close closes the database
func (p *BunPool) Close() error {
	return p.db.Close()
}

// Stats returns connection pool statistics
func (p *BunPool) Stats() PoolStats {
	return PoolStatsFromSQL(p.db.DB.Stats())
}

// Bun returns the underlying bun.DB for direct access
func (p *BunPool) Bun() *bun.DB {
	return p.db
}

// sqlQuerier is satisfied by *sql.Conn and bun.Conn.
type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Raw(f func(driverConn any) error) error
	Close() error
}

// sqlConn runs queries on one reserved database/sql connection.
type sqlConn struct {
	q sqlQuerier
}

func (c *sqlConn) Query(ctx context.Context, q Query) (*Result, error) {
	rows, err := c.q.QueryContext(ctx, q.Text, q.Values...)
	if err != nil {
		return nil, err
	}
	res, err := collectSQLRows(rows)
	if err != nil {
		return nil, err
	}
	res.Command = commandVerb(strings.ToUpper(strings.TrimSpace(q.Text)))
	return res, nil
}

func (c *sqlConn) Release(err error) {
	if err != nil && isBroken(err) {
		// Returning ErrBadConn from Raw makes database/sql discard the
		// connection instead of putting it back.
		_ = c.q.Raw(func(any) error { return driver.ErrBadConn })
	}
	_ = c.q.Close()
}

func collectSQLRows(rows *sql.Rows) (*Result, error) {
	defer rows.Close()

	fields, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &Result{Fields: fields}
	for rows.Next() {
		values := make([]any, len(fields))
		dest := make([]any, len(fields))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
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

	res.RowCount = int64(len(res.Rows))
	return res, nil
}
