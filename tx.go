package scopedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fernandezvara/scopedb/hooks"
)

// ErrOptionsInTx is returned when a transaction mode is requested from
// inside a transaction.
var ErrOptionsInTx = errors.New("scopedb: transaction options cannot be changed inside a transaction")

// TxOptions configures the mode of a top level transaction
type TxOptions struct {
	Isolation  sql.IsolationLevel
	ReadOnly   bool
	Deferrable bool // Only meaningful for serializable read-only transactions
}

// DefaultTxOptions returns default transaction options
func DefaultTxOptions() TxOptions {
	return TxOptions{
		Isolation: sql.LevelDefault,
		ReadOnly:  false,
	}
}

// ReadOnlyTxOptions returns options for read-only transactions
func ReadOnlyTxOptions() TxOptions {
	return TxOptions{
		Isolation: sql.LevelDefault,
		ReadOnly:  true,
	}
}

// SerializableTxOptions returns options for serializable transactions
func SerializableTxOptions() TxOptions {
	return TxOptions{
		Isolation: sql.LevelSerializable,
		ReadOnly:  false,
	}
}

// begin renders the BEGIN statement for these options.
func (o TxOptions) begin() (Query, error) {
	var mode []string

	switch o.Isolation {
	case sql.LevelDefault:
	case sql.LevelReadUncommitted:
		mode = append(mode, "ISOLATION LEVEL READ UNCOMMITTED")
	case sql.LevelReadCommitted:
		mode = append(mode, "ISOLATION LEVEL READ COMMITTED")
	case sql.LevelRepeatableRead:
		mode = append(mode, "ISOLATION LEVEL REPEATABLE READ")
	case sql.LevelSerializable:
		mode = append(mode, "ISOLATION LEVEL SERIALIZABLE")
	default:
		return Query{}, fmt.Errorf("scopedb: unsupported isolation level %s", o.Isolation)
	}

	if o.ReadOnly {
		mode = append(mode, "READ ONLY")
	}
	if o.Deferrable {
		mode = append(mode, "DEFERRABLE")
	}

	if len(mode) == 0 {
		return txStatements.open, nil
	}
	return Query{Text: "BEGIN " + strings.Join(mode, " ")}, nil
}

func (s statements) withOpen(open Query) statements {
	s.open = open
	return s
}

// runTransaction issues st.open, runs fn with scope and then issues exactly
// one of st.close (fn succeeded) or st.abort (fn failed or panicked).
//
// When st.abort itself fails, its error is returned in place of fn's error.
// fn's error is still reported to the transaction hooks as the cause.
func runTransaction(ctx context.Context, exec *executor, issue queryFunc, scope Queryable, st statements, savepoint string, fn Func) error {
	start := time.Now()
	if _, err := issue(ctx, st.open); err != nil {
		return err
	}

	finish := func(outcome string, err, cause error) {
		exec.finishTx(ctx, &hooks.TxEvent{
			Savepoint: savepoint,
			Outcome:   outcome,
			Duration:  time.Since(start),
			Err:       err,
			Cause:     cause,
		})
	}

	// Ending the transaction must still reach the server once ctx is
	// cancelled, or the connection goes back with the transaction open.
	endCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			perr := &PanicError{Value: r}
			if _, err := issue(endCtx, st.abort); err != nil {
				finish(hooks.OutcomeFailed, err, perr)
			} else {
				finish(hooks.OutcomeRollback, perr, nil)
			}
			panic(r)
		}
	}()

	if err := fn(ctx, scope); err != nil {
		if _, abortErr := issue(endCtx, st.abort); abortErr != nil {
			finish(hooks.OutcomeFailed, abortErr, err)
			return abortErr
		}
		finish(hooks.OutcomeRollback, err, nil)
		return err
	}

	if _, err := issue(endCtx, st.close); err != nil {
		finish(hooks.OutcomeFailed, err, nil)
		return err
	}

	finish(hooks.OutcomeCommit, nil, nil)
	return nil
}
