package scopedb

import (
	"context"
	"errors"
	"time"

	"github.com/fernandezvara/scopedb/hooks"
)

// executor times every query and reports it to the configured hooks. It is
// shared by the DB and every scope created from it.
type executor struct {
	hooks []hooks.QueryHook
}

func newExecutor(cfg Config) (*executor, error) {
	e := &executor{
		hooks: []hooks.QueryHook{hooks.NewLoggerHook(cfg.Logger, cfg.LogSlowQueries)},
	}
	if cfg.MetricsRegistry != nil {
		h, err := hooks.NewMetricsHook(cfg.MetricsRegistry)
		if err != nil {
			return nil, err
		}
		e.hooks = append(e.hooks, h)
	}
	if cfg.Tracer != nil {
		e.hooks = append(e.hooks, hooks.NewTracingHook(cfg.Tracer))
	}
	e.hooks = append(e.hooks, cfg.Hooks...)
	return e, nil
}

func (e *executor) begin(ctx context.Context, role string, q Query) (context.Context, *hooks.QueryEvent) {
	event := &hooks.QueryEvent{
		Role:      role,
		Query:     q.Text,
		Values:    q.Values,
		Name:      q.Name,
		StartTime: time.Now(),
	}
	for _, h := range e.hooks {
		ctx = h.BeforeQuery(ctx, event)
	}
	return ctx, event
}

func (e *executor) end(ctx context.Context, event *hooks.QueryEvent, q Query, res *Result, err error) {
	if err != nil {
		event.Err = describeFailure(err, q)
	} else if res != nil {
		event.RowCount = int64(len(res.Rows))
		if res.RowCount > event.RowCount {
			event.RowCount = res.RowCount
		}
	}
	for _, h := range e.hooks {
		h.AfterQuery(ctx, event)
	}
}

// run executes q on a connection that is already held (Tx and Task scopes).
// Only the round-trip duration is reported.
func (e *executor) run(ctx context.Context, role string, conn Conn, q Query) (*Result, error) {
	qctx, event := e.begin(ctx, role, q)

	res, err := conn.Query(qctx, q)
	event.Duration = time.Since(event.StartTime)
	if err == nil && res == nil {
		res = &Result{}
	}

	e.end(qctx, event, q, res, err)
	return res, err
}

// acquireAndRun executes q on a connection taken from pool for this single
// call, reporting connection wait, round-trip and total durations.
func (e *executor) acquireAndRun(ctx context.Context, pool poolWrapper, q Query) (*Result, error) {
	qctx, event := e.begin(ctx, hooks.RoleDB, q)

	var (
		res       *Result
		connected bool
	)
	err := pool.use(qctx, func(ctx context.Context, conn Conn) error {
		connected = true
		event.Client = time.Since(event.StartTime)

		sent := time.Now()
		var err error
		res, err = conn.Query(ctx, q)
		event.Duration = time.Since(sent)
		if err == nil && res == nil {
			res = &Result{}
		}
		return err
	})

	event.Total = time.Since(event.StartTime)
	if !connected {
		event.Client = event.Total
	}

	e.end(qctx, event, q, res, err)
	return res, err
}

// finishTx reports the end of a transaction or savepoint to hooks that
// observe transactions.
func (e *executor) finishTx(ctx context.Context, event *hooks.TxEvent) {
	for _, h := range e.hooks {
		if th, ok := h.(hooks.TxHook); ok {
			th.AfterTx(ctx, event)
		}
	}
}

// describeFailure wraps err for logging without altering what the caller
// receives.
func describeFailure(err error, q Query) error {
	var dbErr *Error
	if errors.As(err, &dbErr) {
		return err
	}
	wrapped := wrapError(err, "Query").(*Error)
	wrapped.Query = q.Text
	return wrapped
}
