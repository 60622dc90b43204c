package scopedb

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestTx_Commit(t *testing.T) {
	pool := &fakePool{}
	db := newTestDB(t, pool, Config{})

	err := db.Tx(context.Background(), func(ctx context.Context, tx Queryable) error {
		return tx.None(ctx, Q("INSERT INTO users (email) VALUES ($1)", "a@example.com"))
	})
	if err != nil {
		t.Fatalf("Tx failed: %v", err)
	}

	equalStatements(t, pool.log(), []string{
		"BEGIN",
		"INSERT INTO users (email) VALUES ($1)",
		"COMMIT",
	})
	if len(pool.releases) != 1 || pool.releases[0] != nil {
		t.Errorf("expected one clean release, got %v", pool.releases)
	}
}

func TestTx_RollbackReturnsOriginalError(t *testing.T) {
	pool := &fakePool{}
	db := newTestDB(t, pool, Config{})
	failure := errors.New("insufficient funds")

	err := db.Tx(context.Background(), func(ctx context.Context, tx Queryable) error {
		if err := tx.None(ctx, Q("UPDATE accounts SET balance = balance - 10")); err != nil {
			return err
		}
		return failure
	})
	if err != failure {
		t.Fatalf("expected the continuation error unchanged, got %v", err)
	}

	equalStatements(t, pool.log(), []string{
		"BEGIN",
		"UPDATE accounts SET balance = balance - 10",
		"ROLLBACK",
	})
	if len(pool.releases) != 1 || pool.releases[0] != failure {
		t.Errorf("expected release with the failure, got %v", pool.releases)
	}
}

func TestTx_QueryFailureRollsBack(t *testing.T) {
	queryErr := errors.New("relation does not exist")
	pool := &fakePool{respond: failOn("SELECT", queryErr)}
	db := newTestDB(t, pool, Config{})

	err := db.Tx(context.Background(), func(ctx context.Context, tx Queryable) error {
		_, err := tx.Any(ctx, Q("SELECT * FROM missing"))
		return err
	})
	if err != queryErr {
		t.Fatalf("expected the query error unchanged, got %v", err)
	}
	equalStatements(t, pool.log(), []string{"BEGIN", "SELECT * FROM missing", "ROLLBACK"})
}

func TestTx_NestedSavepointCommit(t *testing.T) {
	pool := &fakePool{}
	db := newTestDB(t, pool, Config{})

	err := db.Tx(context.Background(), func(ctx context.Context, tx Queryable) error {
		if err := tx.None(ctx, Q("INSERT INTO a VALUES (1)")); err != nil {
			return err
		}
		return tx.Tx(ctx, func(ctx context.Context, inner Queryable) error {
			return inner.None(ctx, Q("INSERT INTO b VALUES (2)"))
		})
	})
	if err != nil {
		t.Fatalf("Tx failed: %v", err)
	}

	log := pool.log()
	if len(log) != 6 {
		t.Fatalf("expected 6 statements, got %q", log)
	}
	name := strings.TrimPrefix(log[2], "SAVEPOINT ")
	if len(name) != SavepointNameLen {
		t.Fatalf("unexpected savepoint statement %q", log[2])
	}
	equalStatements(t, log, []string{
		"BEGIN",
		"INSERT INTO a VALUES (1)",
		"SAVEPOINT " + name,
		"INSERT INTO b VALUES (2)",
		"RELEASE SAVEPOINT " + name,
		"COMMIT",
	})
	if pool.connects != 1 || len(pool.releases) != 1 {
		t.Errorf("expected one connect and one release, got %d and %d", pool.connects, len(pool.releases))
	}
}

func TestTx_InnerRollbackOuterCommits(t *testing.T) {
	pool := &fakePool{}
	db := newTestDB(t, pool, Config{})
	innerErr := errors.New("duplicate order")

	var seen error
	err := db.Tx(context.Background(), func(ctx context.Context, tx Queryable) error {
		seen = tx.Tx(ctx, func(ctx context.Context, inner Queryable) error {
			if err := inner.None(ctx, Q("INSERT INTO orders VALUES (1)")); err != nil {
				return err
			}
			return innerErr
		})
		return tx.None(ctx, Q("INSERT INTO audit VALUES ('skipped')"))
	})
	if err != nil {
		t.Fatalf("outer Tx failed: %v", err)
	}
	if seen != innerErr {
		t.Fatalf("expected inner Tx to return its error unchanged, got %v", seen)
	}

	log := pool.log()
	if len(log) != 6 {
		t.Fatalf("expected 6 statements, got %q", log)
	}
	name := strings.TrimPrefix(log[1], "SAVEPOINT ")
	equalStatements(t, log, []string{
		"BEGIN",
		"SAVEPOINT " + name,
		"INSERT INTO orders VALUES (1)",
		"ROLLBACK TO SAVEPOINT " + name,
		"INSERT INTO audit VALUES ('skipped')",
		"COMMIT",
	})
}

func TestTx_DeepNestingUsesDistinctSavepoints(t *testing.T) {
	pool := &fakePool{}
	db := newTestDB(t, pool, Config{})

	var nest func(depth int) Func
	nest = func(depth int) Func {
		return func(ctx context.Context, tx Queryable) error {
			if depth == 0 {
				return tx.None(ctx, Q("SELECT 1"))
			}
			return tx.Tx(ctx, nest(depth-1))
		}
	}

	if err := db.Tx(context.Background(), nest(3)); err != nil {
		t.Fatalf("Tx failed: %v", err)
	}

	log := pool.log()
	// BEGIN, 3 SAVEPOINT, SELECT, 3 RELEASE, COMMIT
	if len(log) != 9 {
		t.Fatalf("expected 9 statements, got %q", log)
	}
	names := map[string]bool{}
	for i := 1; i <= 3; i++ {
		name := strings.TrimPrefix(log[i], "SAVEPOINT ")
		names[name] = true
		// Releases happen innermost first.
		if want := "RELEASE SAVEPOINT " + name; log[8-i] != want {
			t.Errorf("expected %q at %d, got %q", want, 8-i, log[8-i])
		}
	}
	if len(names) != 3 {
		t.Errorf("expected 3 distinct savepoint names, got %v", names)
	}
}

func TestTx_AbortFailureShadowsError(t *testing.T) {
	abortErr := errors.New("connection lost during rollback")
	pool := &fakePool{respond: failOn("ROLLBACK", abortErr)}
	handler := &recordingHandler{}
	db := newTestDB(t, pool, Config{Logger: slog.New(handler)})
	original := errors.New("business rule violated")

	err := db.Tx(context.Background(), func(ctx context.Context, tx Queryable) error {
		return original
	})
	if err != abortErr {
		t.Fatalf("expected the rollback error, got %v", err)
	}

	records := handler.byMessage("transaction failed to finish")
	if len(records) != 1 {
		t.Fatalf("expected one failure record, got %d", len(records))
	}
	cause, ok := attr(records[0], "cause")
	if !ok || cause.Any() != original {
		t.Errorf("expected the continuation error logged as cause, got %v", cause)
	}
	if len(pool.releases) != 1 || pool.releases[0] != abortErr {
		t.Errorf("expected release with the rollback error, got %v", pool.releases)
	}
}

func TestTx_CommitFailureDoesNotRollBack(t *testing.T) {
	commitErr := errors.New("could not serialize access")
	pool := &fakePool{respond: failOn("COMMIT", commitErr)}
	db := newTestDB(t, pool, Config{})

	err := db.Tx(context.Background(), func(ctx context.Context, tx Queryable) error {
		return tx.None(ctx, Q("UPDATE counters SET n = n + 1"))
	})
	if err != commitErr {
		t.Fatalf("expected the commit error, got %v", err)
	}
	equalStatements(t, pool.log(), []string{"BEGIN", "UPDATE counters SET n = n + 1", "COMMIT"})
	if len(pool.releases) != 1 || pool.releases[0] != commitErr {
		t.Errorf("expected release with the commit error, got %v", pool.releases)
	}
}

func TestTx_BeginFailureSkipsContinuation(t *testing.T) {
	beginErr := errors.New("too many connections")
	pool := &fakePool{respond: failOn("BEGIN", beginErr)}
	db := newTestDB(t, pool, Config{})

	called := false
	err := db.Tx(context.Background(), func(ctx context.Context, tx Queryable) error {
		called = true
		return nil
	})
	if err != beginErr {
		t.Fatalf("expected the begin error, got %v", err)
	}
	if called {
		t.Error("continuation ran although BEGIN failed")
	}
	equalStatements(t, pool.log(), []string{"BEGIN"})
	if len(pool.releases) != 1 {
		t.Errorf("expected one release, got %d", len(pool.releases))
	}
}

func TestTx_SavepointOpenFailure(t *testing.T) {
	spErr := errors.New("savepoint refused")
	pool := &fakePool{respond: failOn("SAVEPOINT", spErr)}
	db := newTestDB(t, pool, Config{})

	called := false
	err := db.Tx(context.Background(), func(ctx context.Context, tx Queryable) error {
		return tx.Tx(ctx, func(ctx context.Context, inner Queryable) error {
			called = true
			return nil
		})
	})
	if err != spErr {
		t.Fatalf("expected the savepoint error, got %v", err)
	}
	if called {
		t.Error("inner continuation ran although SAVEPOINT failed")
	}
	log := pool.log()
	if len(log) != 3 || log[2] != "ROLLBACK" {
		t.Errorf("expected BEGIN, SAVEPOINT, ROLLBACK; got %q", log)
	}
}

func TestTx_PanicRollsBackAndRepanics(t *testing.T) {
	pool := &fakePool{}
	db := newTestDB(t, pool, Config{})

	func() {
		defer func() {
			r := recover()
			if r != "boom" {
				t.Fatalf("expected panic value boom, got %v", r)
			}
		}()
		_ = db.Tx(context.Background(), func(ctx context.Context, tx Queryable) error {
			_ = tx.None(ctx, Q("DELETE FROM sessions"))
			panic("boom")
		})
	}()

	equalStatements(t, pool.log(), []string{"BEGIN", "DELETE FROM sessions", "ROLLBACK"})
	if len(pool.releases) != 1 {
		t.Fatalf("expected one release, got %d", len(pool.releases))
	}
	var perr *PanicError
	if !errors.As(pool.releases[0], &perr) || perr.Value != "boom" {
		t.Errorf("expected release with a PanicError, got %v", pool.releases[0])
	}
}

func TestTx_RollbackSurvivesCancelledContext(t *testing.T) {
	pool := &fakePool{}
	var abortCtxErr error

	db := newTestDB(t, &ctxPool{fakePool: pool, onQuery: func(ctx context.Context, q Query) {
		if q.Text == "ROLLBACK" {
			abortCtxErr = ctx.Err()
		}
	}}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	failure := errors.New("cancelled by caller")
	err := db.Tx(ctx, func(ctx context.Context, tx Queryable) error {
		cancel()
		return failure
	})
	if err != failure {
		t.Fatalf("expected the continuation error, got %v", err)
	}
	if abortCtxErr != nil {
		t.Errorf("expected ROLLBACK to run with a live context, got %v", abortCtxErr)
	}
}

func TestTx_CommitSurvivesCancelledContext(t *testing.T) {
	tests := []struct {
		name   string
		nested bool
		end    string
		want   []string
	}{
		{"commit", false, "COMMIT", []string{"BEGIN", "SELECT 1", "COMMIT"}},
		{"release savepoint", true, "RELEASE SAVEPOINT", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := &fakePool{}
			endCtxErr := errors.New("not issued")

			db := newTestDB(t, &ctxPool{fakePool: pool, onQuery: func(ctx context.Context, q Query) {
				if strings.HasPrefix(q.Text, tt.end) {
					endCtxErr = ctx.Err()
				}
			}}, Config{})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			err := db.Tx(ctx, func(ctx context.Context, tx Queryable) error {
				if !tt.nested {
					_, err := tx.Query(ctx, Q("SELECT 1"))
					cancel()
					return err
				}
				return tx.Tx(ctx, func(ctx context.Context, tx Queryable) error {
					cancel()
					return nil
				})
			})
			if err != nil {
				t.Fatalf("expected the transaction to finish, got %v", err)
			}
			if endCtxErr != nil {
				t.Errorf("expected %s to run with a live context, got %v", tt.end, endCtxErr)
			}
			if tt.want != nil {
				equalStatements(t, pool.log(), tt.want)
			}
			if len(pool.releases) != 1 || pool.releases[0] != nil {
				t.Errorf("expected one clean release, got %v", pool.releases)
			}
		})
	}
}

func TestTxWithOptions_BeginStatement(t *testing.T) {
	tests := []struct {
		name string
		opts TxOptions
		want string
	}{
		{"default", DefaultTxOptions(), "BEGIN"},
		{"read only", ReadOnlyTxOptions(), "BEGIN READ ONLY"},
		{"serializable", SerializableTxOptions(), "BEGIN ISOLATION LEVEL SERIALIZABLE"},
		{"read committed", TxOptions{Isolation: sql.LevelReadCommitted}, "BEGIN ISOLATION LEVEL READ COMMITTED"},
		{"repeatable read", TxOptions{Isolation: sql.LevelRepeatableRead}, "BEGIN ISOLATION LEVEL REPEATABLE READ"},
		{"deferrable", TxOptions{Isolation: sql.LevelSerializable, ReadOnly: true, Deferrable: true}, "BEGIN ISOLATION LEVEL SERIALIZABLE READ ONLY DEFERRABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := &fakePool{}
			db := newTestDB(t, pool, Config{})

			err := db.TxWithOptions(context.Background(), tt.opts, func(ctx context.Context, tx Queryable) error {
				return nil
			})
			if err != nil {
				t.Fatalf("TxWithOptions failed: %v", err)
			}
			equalStatements(t, pool.log(), []string{tt.want, "COMMIT"})
		})
	}
}

func TestTxWithOptions_UnsupportedIsolation(t *testing.T) {
	pool := &fakePool{}
	db := newTestDB(t, pool, Config{})

	err := db.TxWithOptions(context.Background(), TxOptions{Isolation: sql.LevelLinearizable}, func(ctx context.Context, tx Queryable) error {
		t.Fatal("continuation should not run")
		return nil
	})
	if err == nil {
		t.Fatal("expected an error for an unsupported isolation level")
	}
	if pool.connects != 0 {
		t.Errorf("expected no connection, got %d", pool.connects)
	}
}

func TestReadOnlyTx(t *testing.T) {
	pool := &fakePool{}
	db := newTestDB(t, pool, Config{})

	if err := db.ReadOnlyTx(context.Background(), func(ctx context.Context, tx Queryable) error { return nil }); err != nil {
		t.Fatalf("ReadOnlyTx failed: %v", err)
	}
	equalStatements(t, pool.log(), []string{"BEGIN READ ONLY", "COMMIT"})
}

func TestTxResult(t *testing.T) {
	pool := &fakePool{respond: func(q Query) (*Result, error) {
		if strings.HasPrefix(q.Text, "INSERT") {
			return &Result{Command: "INSERT", RowCount: 1, Fields: []string{"id"}, Rows: []Row{{"id": int64(42)}}}, nil
		}
		return &Result{}, nil
	}}
	db := newTestDB(t, pool, Config{})
	ctx := context.Background()

	id, err := TxResult(ctx, db, func(ctx context.Context, tx Queryable) (int64, error) {
		row, err := tx.One(ctx, Q("INSERT INTO users (name) VALUES ($1) RETURNING id", "ada"))
		if err != nil {
			return 0, err
		}
		return row["id"].(int64), nil
	})
	if err != nil {
		t.Fatalf("TxResult failed: %v", err)
	}
	if id != 42 {
		t.Errorf("expected id 42, got %d", id)
	}

	failure := errors.New("nope")
	id, err = TxResult(ctx, db, func(ctx context.Context, tx Queryable) (int64, error) {
		return 7, failure
	})
	if err != failure || id != 0 {
		t.Errorf("expected zero value and the error, got %d, %v", id, err)
	}
}

// ctxPool wraps a fakePool and observes the context each query runs with.
type ctxPool struct {
	*fakePool
	onQuery func(ctx context.Context, q Query)
}

func (p *ctxPool) Connect(ctx context.Context) (Conn, error) {
	conn, err := p.fakePool.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &ctxConn{Conn: conn, onQuery: p.onQuery}, nil
}

type ctxConn struct {
	Conn
	onQuery func(ctx context.Context, q Query)
}

func (c *ctxConn) Query(ctx context.Context, q Query) (*Result, error) {
	c.onQuery(ctx, q)
	return c.Conn.Query(ctx, q)
}
