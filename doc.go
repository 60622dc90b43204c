/*
Package scopedb provides one query interface over a pooled PostgreSQL
connection, whether the caller is at the top level, inside a transaction,
inside a savepoint or inside a task holding a single connection.

ScopeDB adds, on top of any pool:
  - Row-count checked queries (Any, None, One, OneOrNone, Many)
  - Callback transactions with automatic commit/rollback
  - Nested transactions turned into savepoints automatically
  - Tasks that reuse one connection across several calls
  - Exactly one connection acquire/release per top-level call
  - Configurable observability (logging, metrics, tracing) for every query
  - Pool adapters for pgx, database/sql and bun

# Basic Usage

	cfg := scopedb.DefaultConfig(os.Getenv("DATABASE_URL"))
	cfg.Logger = slog.Default()
	cfg.LogSlowQueries = 100 * time.Millisecond

	db, err := scopedb.OpenPgx(ctx, cfg)
	if err != nil {
	    log.Fatal(err)
	}
	defer db.Close()

	users, err := db.Any(ctx, scopedb.Q("SELECT id, email FROM users WHERE active = $1", true))

An existing pool can be wrapped instead:

	db, err := scopedb.New(scopedb.NewPgxPool(pool), cfg)

# Result Shapes

	rows, err := db.Any(ctx, q)       // zero or more rows
	err = db.None(ctx, q)             // ErrUnexpectedData if rows came back
	row, err := db.One(ctx, q)        // ErrNoData or ErrMultipleRows unless exactly one
	row, err = db.OneOrNone(ctx, q)   // nil row when none, ErrMultipleRows if more than one
	rows, err = db.Many(ctx, q)       // ErrNoData if empty

	user, err := scopedb.OneAs[User](ctx, db, q) // decode by `db` tags

# Transactions

	err := db.Tx(ctx, func(ctx context.Context, tx scopedb.Queryable) error {
	    if err := tx.None(ctx, scopedb.Q("INSERT INTO users (email) VALUES ($1)", email)); err != nil {
	        return err // ROLLBACK
	    }
	    return nil // COMMIT
	})

Nested transactions (savepoints):

	err := db.Tx(ctx, func(ctx context.Context, tx scopedb.Queryable) error {
	    _ = tx.None(ctx, outer)

	    err := tx.Tx(ctx, func(ctx context.Context, tx scopedb.Queryable) error {
	        return errors.New("fail") // ROLLBACK TO SAVEPOINT, outer continues
	    })

	    return nil // COMMIT
	})

# Tasks

	err := db.Task(ctx, func(ctx context.Context, t scopedb.Queryable) error {
	    if _, err := t.Query(ctx, scopedb.Q("SET LOCAL statement_timeout = 1000")); err != nil {
	        return err
	    }
	    return t.Tx(ctx, transfer) // BEGIN/COMMIT on the same connection
	})

# Custom Scopes

Factories in Config decide what continuations receive, at any depth:

	type AppTx struct {
	    *scopedb.TxScope
	}

	cfg.TxFactory = func(tx *scopedb.TxScope) scopedb.Queryable {
	    return &AppTx{TxScope: tx}
	}

	err := db.Tx(ctx, func(ctx context.Context, q scopedb.Queryable) error {
	    tx := q.(*AppTx)
	    ...
	})

# Error Handling

Query failures are returned exactly as the driver produced them. Row-count
failures are *Error values:

	row, err := db.One(ctx, q)
	switch {
	case scopedb.IsNoData(err):
	    // nothing matched
	case scopedb.IsDuplicate(err):
	    // driver error classified from its SQLSTATE
	}
*/
package scopedb
