package scopedb

import (
	"context"

	"github.com/fernandezvara/scopedb/hooks"
)

// Queryable is implemented by the DB and by every scope it hands to
// continuations. The same calls work at the top level, inside a
// transaction, inside a savepoint and inside a task.
type Queryable interface {
	Query(ctx context.Context, q Query) (*Result, error)
	Any(ctx context.Context, q Query) ([]Row, error)
	None(ctx context.Context, q Query) error
	One(ctx context.Context, q Query) (Row, error)
	OneOrNone(ctx context.Context, q Query) (Row, error)
	Many(ctx context.Context, q Query) ([]Row, error)

	// Tx runs fn inside a transaction, or a savepoint when already in one.
	// A nil return commits, an error rolls back and is returned.
	Tx(ctx context.Context, fn Func) error

	// Task runs fn on a single connection without opening a transaction.
	Task(ctx context.Context, fn Func) error
}

// Func is a continuation run by Tx or Task with the scope it should use.
type Func func(ctx context.Context, q Queryable) error

// TxFactory builds the value handed to Tx continuations from the built-in
// transaction scope, typically a caller type embedding *TxScope.
type TxFactory func(tx *TxScope) Queryable

// TaskFactory builds the value handed to Task continuations from the
// built-in task scope, typically a caller type embedding *TaskScope.
type TaskFactory func(task *TaskScope) Queryable

// DefaultTxFactory hands continuations the built-in *TxScope.
func DefaultTxFactory(tx *TxScope) Queryable { return tx }

// DefaultTaskFactory hands continuations the built-in *TaskScope.
func DefaultTaskFactory(task *TaskScope) Queryable { return task }

// TxScope is the scope of an open transaction on a held connection. Nested
// calls to Tx become savepoints on the same connection.
type TxScope struct {
	shaper
	conn  Conn
	exec  *executor
	names *nameGenerator
	self  Queryable
}

var _ Queryable = (*TxScope)(nil)

func newTx(conn Conn, exec *executor, names *nameGenerator, factory TxFactory) *TxScope {
	tx := &TxScope{conn: conn, exec: exec, names: names}
	tx.shaper = shaper{query: tx.Query}
	tx.self = factory(tx)
	if tx.self == nil {
		tx.self = tx
	}
	return tx
}

// Query runs q on the transaction's connection
func (tx *TxScope) Query(ctx context.Context, q Query) (*Result, error) {
	return tx.exec.run(ctx, hooks.RoleTx, tx.conn, q)
}

// Tx runs fn inside a savepoint. fn receives this same scope.
func (tx *TxScope) Tx(ctx context.Context, fn Func) error {
	name, err := tx.names.next()
	if err != nil {
		return err
	}
	return runTransaction(ctx, tx.exec, tx.Query, tx.self, savepointStatements(name), name, fn)
}

// TxWithOptions behaves like Tx for the default options. Any other mode
// fails with ErrOptionsInTx before the savepoint is opened, since the mode
// of an open transaction is fixed.
func (tx *TxScope) TxWithOptions(ctx context.Context, opts TxOptions, fn Func) error {
	if opts != (TxOptions{}) {
		return ErrOptionsInTx
	}
	return tx.Tx(ctx, fn)
}

// Task runs fn with this scope; the connection is already held.
func (tx *TxScope) Task(ctx context.Context, fn Func) error {
	return fn(ctx, tx.self)
}

// Self returns the value continuations receive for this scope.
func (tx *TxScope) Self() Queryable {
	return tx.self
}

// TaskScope is the scope of a connection held across several calls with
// no transaction around them.
type TaskScope struct {
	shaper
	conn      Conn
	exec      *executor
	names     *nameGenerator
	txFactory TxFactory
	self      Queryable
}

var _ Queryable = (*TaskScope)(nil)

func newTask(conn Conn, exec *executor, names *nameGenerator, txFactory TxFactory, factory TaskFactory) *TaskScope {
	task := &TaskScope{conn: conn, exec: exec, names: names, txFactory: txFactory}
	task.shaper = shaper{query: task.Query}
	task.self = factory(task)
	if task.self == nil {
		task.self = task
	}
	return task
}

// Query runs q on the task's connection
func (t *TaskScope) Query(ctx context.Context, q Query) (*Result, error) {
	return t.exec.run(ctx, hooks.RoleTask, t.conn, q)
}

// Tx opens a transaction on the task's connection. fn receives a
// transaction scope built by the DB's TxFactory.
func (t *TaskScope) Tx(ctx context.Context, fn Func) error {
	return t.TxWithOptions(ctx, TxOptions{}, fn)
}

// TxWithOptions opens a transaction with the given mode on the task's
// connection.
func (t *TaskScope) TxWithOptions(ctx context.Context, opts TxOptions, fn Func) error {
	open, err := opts.begin()
	if err != nil {
		return err
	}
	tx := newTx(t.conn, t.exec, t.names, t.txFactory)
	return runTransaction(ctx, t.exec, tx.Query, tx.self, txStatements.withOpen(open), "", fn)
}

// Task runs fn with this scope.
func (t *TaskScope) Task(ctx context.Context, fn Func) error {
	return fn(ctx, t.self)
}

// Self returns the value continuations receive for this scope.
func (t *TaskScope) Self() Queryable {
	return t.self
}

// TxResult runs fn through q.Tx and returns the value it produced.
//
// Usage:
//
//	id, err := scopedb.TxResult(ctx, db, func(ctx context.Context, tx scopedb.Queryable) (int64, error) {
//	    row, err := tx.One(ctx, scopedb.Q("INSERT INTO users (name) VALUES ($1) RETURNING id", name))
//	    if err != nil {
//	        return 0, err
//	    }
//	    return row["id"].(int64), nil
//	})
func TxResult[T any](ctx context.Context, q Queryable, fn func(ctx context.Context, tx Queryable) (T, error)) (T, error) {
	var out T
	err := q.Tx(ctx, func(ctx context.Context, tx Queryable) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// TaskResult runs fn through q.Task and returns the value it produced.
func TaskResult[T any](ctx context.Context, q Queryable, fn func(ctx context.Context, task Queryable) (T, error)) (T, error) {
	var out T
	err := q.Task(ctx, func(ctx context.Context, task Queryable) error {
		v, err := fn(ctx, task)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
