package hooks

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// LoggerHook implements query logging
type LoggerHook struct {
	logger        *slog.Logger
	slowThreshold time.Duration
}

// NewLoggerHook creates a new logger hook. Successful queries are logged at
// debug level, or at warn level when slower than slowThreshold (0 = never).
func NewLoggerHook(logger *slog.Logger, slowThreshold time.Duration) *LoggerHook {
	return &LoggerHook{
		logger:        logger,
		slowThreshold: slowThreshold,
	}
}

// BeforeQuery is called before a query is executed
func (h *LoggerHook) BeforeQuery(ctx context.Context, event *QueryEvent) context.Context {
	return ctx
}

// AfterQuery is called after a query is executed
func (h *LoggerHook) AfterQuery(ctx context.Context, event *QueryEvent) {
	attrs := []slog.Attr{
		slog.String("role", event.Role),
		slog.String("operation", OperationType(event.Query)),
		slog.String("query", truncate(event.Query, 500)),
	}
	if len(event.Values) > 0 {
		attrs = append(attrs, slog.Any("values", event.Values))
	}
	if event.Name != "" {
		attrs = append(attrs, slog.String("name", event.Name))
	}
	if event.Role == RoleDB {
		attrs = append(attrs, slog.Duration("duration_client", event.Client))
	}
	attrs = append(attrs, slog.Duration("duration_query", event.Duration))
	if event.Role == RoleDB {
		attrs = append(attrs, slog.Duration("duration_total", event.Total))
	}

	if event.Err != nil {
		attrs = append(attrs, slog.Any("error", event.Err))
		h.logger.LogAttrs(ctx, slog.LevelError, "database query failed", attrs...)
		return
	}

	attrs = append(attrs, slog.Int64("rows", event.RowCount))
	if h.slowThreshold > 0 && event.Duration >= h.slowThreshold {
		h.logger.LogAttrs(ctx, slog.LevelWarn, "slow database query", attrs...)
		return
	}
	h.logger.LogAttrs(ctx, slog.LevelDebug, "database query", attrs...)
}

// AfterTx logs how a transaction or savepoint ended
func (h *LoggerHook) AfterTx(ctx context.Context, event *TxEvent) {
	attrs := []slog.Attr{
		slog.String("kind", event.Kind()),
		slog.Duration("duration", event.Duration),
	}
	if event.Savepoint != "" {
		attrs = append(attrs, slog.String("savepoint", event.Savepoint))
	}

	switch event.Outcome {
	case OutcomeCommit:
		h.logger.LogAttrs(ctx, slog.LevelDebug, "transaction committed", attrs...)
	case OutcomeRollback:
		attrs = append(attrs, slog.Any("error", event.Err))
		h.logger.LogAttrs(ctx, slog.LevelDebug, "transaction rolled back", attrs...)
	default:
		attrs = append(attrs, slog.Any("error", event.Err))
		if event.Cause != nil {
			attrs = append(attrs, slog.Any("cause", event.Cause))
		}
		h.logger.LogAttrs(ctx, slog.LevelError, "transaction failed to finish", attrs...)
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// OperationType extracts the operation type from a query
func OperationType(query string) string {
	query = strings.TrimSpace(strings.ToUpper(query))
	switch {
	case strings.HasPrefix(query, "SELECT"), strings.HasPrefix(query, "WITH"):
		return "select"
	case strings.HasPrefix(query, "INSERT"):
		return "insert"
	case strings.HasPrefix(query, "UPDATE"):
		return "update"
	case strings.HasPrefix(query, "DELETE"):
		return "delete"
	case strings.HasPrefix(query, "CREATE"):
		return "create"
	case strings.HasPrefix(query, "DROP"):
		return "drop"
	case strings.HasPrefix(query, "ALTER"):
		return "alter"
	case strings.HasPrefix(query, "BEGIN"):
		return "begin"
	case strings.HasPrefix(query, "COMMIT"):
		return "commit"
	case strings.HasPrefix(query, "ROLLBACK TO"):
		return "rollback_savepoint"
	case strings.HasPrefix(query, "ROLLBACK"):
		return "rollback"
	case strings.HasPrefix(query, "SAVEPOINT"):
		return "savepoint"
	case strings.HasPrefix(query, "RELEASE"):
		return "release"
	default:
		return "other"
	}
}
