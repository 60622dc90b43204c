package scopedb

import "context"

// DB is the root of every unit of work. Each call to Query, Tx or Task
// takes one connection from the pool and gives it back when it returns,
// however deeply the continuation nests further Tx and Task calls.
type DB struct {
	shaper
	pool        poolWrapper
	exec        *executor
	names       *nameGenerator
	txFactory   TxFactory
	taskFactory TaskFactory
	config      Config
}

var _ Queryable = (*DB)(nil)

// New creates a DB issuing queries through pool
func New(pool Pool, cfg Config) (*DB, error) {
	if pool == nil {
		return nil, &Error{
			Code:    CodeConnectionFailed,
			Message: "pool is required",
			Op:      "New",
		}
	}

	// Apply defaults for zero values
	cfg.applyDefaults()

	exec, err := newExecutor(cfg)
	if err != nil {
		return nil, &Error{
			Code:    CodeUnknown,
			Message: "failed to create metrics hook",
			Op:      "New",
			Cause:   err,
		}
	}

	db := &DB{
		pool:        poolWrapper{pool: pool},
		exec:        exec,
		names:       newNameGenerator(nil),
		txFactory:   cfg.TxFactory,
		taskFactory: cfg.TaskFactory,
		config:      cfg,
	}
	db.shaper = shaper{query: db.Query}

	return db, nil
}

// Query takes a connection, runs q and releases the connection
func (db *DB) Query(ctx context.Context, q Query) (*Result, error) {
	return db.exec.acquireAndRun(ctx, db.pool, q)
}

// Tx runs fn inside BEGIN/COMMIT on a dedicated connection. If fn returns
// an error the transaction is rolled back and that error is returned.
//
// Usage:
//
//	err := db.Tx(ctx, func(ctx context.Context, tx scopedb.Queryable) error {
//	    if err := tx.None(ctx, scopedb.Q("UPDATE accounts SET balance = balance - $1 WHERE id = $2", amount, from)); err != nil {
//	        return err // rollback
//	    }
//	    return tx.None(ctx, scopedb.Q("UPDATE accounts SET balance = balance + $1 WHERE id = $2", amount, to))
//	})
func (db *DB) Tx(ctx context.Context, fn Func) error {
	return db.TxWithOptions(ctx, TxOptions{}, fn)
}

// TxWithOptions runs fn inside a transaction opened with the given mode
func (db *DB) TxWithOptions(ctx context.Context, opts TxOptions, fn Func) error {
	open, err := opts.begin()
	if err != nil {
		return err
	}
	return db.pool.use(ctx, func(ctx context.Context, conn Conn) error {
		tx := newTx(conn, db.exec, db.names, db.txFactory)
		return runTransaction(ctx, db.exec, tx.Query, tx.self, txStatements.withOpen(open), "", fn)
	})
}

// ReadOnlyTx runs fn within a read-only transaction
func (db *DB) ReadOnlyTx(ctx context.Context, fn Func) error {
	return db.TxWithOptions(ctx, ReadOnlyTxOptions(), fn)
}

// Task runs fn on a dedicated connection without a transaction
func (db *DB) Task(ctx context.Context, fn Func) error {
	return db.pool.use(ctx, func(ctx context.Context, conn Conn) error {
		task := newTask(conn, db.exec, db.names, db.txFactory, db.taskFactory)
		return fn(ctx, task.self)
	})
}

// Close closes the underlying pool when it supports closing
func (db *DB) Close() error {
	switch p := db.pool.pool.(type) {
	case interface{ Close() error }:
		return p.Close()
	case interface{ Close() }:
		p.Close()
	}
	return nil
}

// Ping verifies the database answers queries
func (db *DB) Ping(ctx context.Context) error {
	if _, err := db.Query(ctx, Q("SELECT 1")); err != nil {
		return wrapError(err, "Ping")
	}
	return nil
}

// Pool returns the underlying pool
func (db *DB) Pool() Pool {
	return db.pool.pool
}

// Config returns the current configuration
func (db *DB) Config() Config {
	return db.config
}
