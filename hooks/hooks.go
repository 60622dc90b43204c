// Package hooks provides observability hooks for scopedb
package hooks

import (
	"context"
	"time"
)

// Roles a query can run under.
const (
	RoleDB   = "db"
	RoleTx   = "tx"
	RoleTask = "task"
)

// QueryEvent describes one query issued through scopedb.
type QueryEvent struct {
	Role      string
	Query     string
	Values    []any
	Name      string
	StartTime time.Time

	// Client is the wait for a pooled connection. Only set for RoleDB.
	Client time.Duration
	// Duration is the query round-trip.
	Duration time.Duration
	// Total spans the whole call. Only set for RoleDB.
	Total time.Duration

	RowCount int64
	// Err is the failure wrapped with query context; the original error is
	// reachable through errors.Unwrap.
	Err error
}

// QueryHook observes queries.
type QueryHook interface {
	BeforeQuery(ctx context.Context, event *QueryEvent) context.Context
	AfterQuery(ctx context.Context, event *QueryEvent)
}

// Transaction outcomes.
const (
	OutcomeCommit   = "commit"
	OutcomeRollback = "rollback"
	OutcomeFailed   = "failed"
)

// TxEvent describes the end of a transaction or savepoint.
type TxEvent struct {
	Savepoint string // empty for top level transactions
	Outcome   string
	Duration  time.Duration
	Err       error
	// Cause is the continuation error that was shadowed when the abort
	// statement itself failed.
	Cause error
}

// Kind returns "savepoint" or "transaction".
func (e *TxEvent) Kind() string {
	if e.Savepoint != "" {
		return "savepoint"
	}
	return "transaction"
}

// TxHook is implemented by hooks that also observe transactions.
type TxHook interface {
	AfterTx(ctx context.Context, event *TxEvent)
}
