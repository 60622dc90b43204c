package scopedb

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// fakePool records every statement and release across the connections it
// hands out.
type fakePool struct {
	mu         sync.Mutex
	statements []string
	releases   []error
	connects   int
	connectErr error

	// respond returns the outcome of a statement; nil means an empty result.
	respond func(q Query) (*Result, error)
}

func (p *fakePool) Connect(ctx context.Context) (Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connects++
	if p.connectErr != nil {
		return nil, p.connectErr
	}
	return &fakeConn{pool: p}, nil
}

func (p *fakePool) log() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.statements...)
}

type fakeConn struct {
	pool     *fakePool
	released bool
}

func (c *fakeConn) Query(ctx context.Context, q Query) (*Result, error) {
	p := c.pool
	p.mu.Lock()
	if c.released {
		p.mu.Unlock()
		panic("query on released connection: " + q.Text)
	}
	p.statements = append(p.statements, q.Text)
	respond := p.respond
	p.mu.Unlock()

	if respond == nil {
		return &Result{}, nil
	}
	return respond(q)
}

func (c *fakeConn) Release(err error) {
	p := c.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	if c.released {
		panic("connection released twice")
	}
	c.released = true
	p.releases = append(p.releases, err)
}

// rowsResult builds a result with n rows of {"n": i}.
func rowsResult(n int) *Result {
	res := &Result{Command: "SELECT", Fields: []string{"n"}}
	for i := 0; i < n; i++ {
		res.Rows = append(res.Rows, Row{"n": i})
	}
	res.RowCount = int64(n)
	return res
}

// failOn makes statements starting with prefix fail with err.
func failOn(prefix string, err error) func(q Query) (*Result, error) {
	return func(q Query) (*Result, error) {
		if strings.HasPrefix(q.Text, prefix) {
			return nil, err
		}
		return &Result{}, nil
	}
}

// recordingHandler keeps every log record for inspection.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) byMessage(msg string) []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []slog.Record
	for _, r := range h.records {
		if r.Message == msg {
			out = append(out, r)
		}
	}
	return out
}

func attr(r slog.Record, key string) (slog.Value, bool) {
	var (
		v     slog.Value
		found bool
	)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			v, found = a.Value, true
			return false
		}
		return true
	})
	return v, found
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestDB builds a DB over pool with logging discarded unless cfg sets a
// logger.
func newTestDB(t *testing.T, pool Pool, cfg Config) *DB {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	db, err := New(pool, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return db
}

func equalStatements(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected statements %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statement %d: expected %q, got %q (all: %q)", i, want[i], got[i], got)
		}
	}
}
