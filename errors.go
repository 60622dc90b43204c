package scopedb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun/driver/pgdriver"
)

// ErrorCode represents a database error classification
type ErrorCode string

const (
	CodeNoData           ErrorCode = "NO_DATA"
	CodeMultipleRows     ErrorCode = "MULTIPLE_ROWS"
	CodeUnexpectedData   ErrorCode = "UNEXPECTED_DATA"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeForeignKey       ErrorCode = "FOREIGN_KEY"
	CodeCheckViolation   ErrorCode = "CHECK_VIOLATION"
	CodeNotNullViolation ErrorCode = "NOT_NULL"
	CodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeSerialization    ErrorCode = "SERIALIZATION"
	CodeDeadlock         ErrorCode = "DEADLOCK"
	CodeUnknown          ErrorCode = "UNKNOWN"
)

// Sentinel errors for quick checks
var (
	ErrNoData           = errors.New("scopedb: no data returned from the query")
	ErrMultipleRows     = errors.New("scopedb: multiple rows were not expected")
	ErrUnexpectedData   = errors.New("scopedb: no return data was expected")
	ErrDuplicate        = errors.New("scopedb: duplicate key violation")
	ErrForeignKey       = errors.New("scopedb: foreign key violation")
	ErrCheckViolation   = errors.New("scopedb: check constraint violation")
	ErrNotNullViolation = errors.New("scopedb: not null violation")
	ErrConnection       = errors.New("scopedb: connection failed")
	ErrTimeout          = errors.New("scopedb: operation timeout")
	ErrSerialization    = errors.New("scopedb: serialization failure")
	ErrDeadlock         = errors.New("scopedb: deadlock detected")
)

// Error is a rich database error with context
type Error struct {
	Code       ErrorCode // Error classification
	Message    string    // Human-readable message
	Op         string    // Operation that failed (e.g., "One", "Query")
	Table      string    // Table name if known
	Column     string    // Column name if known
	Constraint string    // Constraint name if applicable
	Detail     string    // Additional detail from PostgreSQL
	Hint       string    // Hint from PostgreSQL
	Query      string    // Query that failed
	Rows       int       // Row count seen by a cardinality check
	Cause      error     // Underlying error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("scopedb: %s", e.Message)
	if e.Op != "" {
		msg = fmt.Sprintf("scopedb.%s: %s", e.Op, e.Message)
	}
	if e.Table != "" {
		msg += fmt.Sprintf(" (table: %s)", e.Table)
	}
	if e.Constraint != "" {
		msg += fmt.Sprintf(" (constraint: %s)", e.Constraint)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// sentinels maps every classified code to the error errors.Is matches.
var sentinels = map[ErrorCode]error{
	CodeNoData:           ErrNoData,
	CodeMultipleRows:     ErrMultipleRows,
	CodeUnexpectedData:   ErrUnexpectedData,
	CodeDuplicate:        ErrDuplicate,
	CodeForeignKey:       ErrForeignKey,
	CodeCheckViolation:   ErrCheckViolation,
	CodeNotNullViolation: ErrNotNullViolation,
	CodeConnectionFailed: ErrConnection,
	CodeTimeout:          ErrTimeout,
	CodeSerialization:    ErrSerialization,
	CodeDeadlock:         ErrDeadlock,
}

// Is matches the sentinel of e's code.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinels[e.Code]
	return ok && target == sentinel
}

// cardinalityError builds the error returned by the result shaping methods.
func cardinalityError(code ErrorCode, op string, q Query, rows int) *Error {
	var msg string
	switch code {
	case CodeNoData:
		msg = "no data returned from the query"
	case CodeMultipleRows:
		msg = "multiple rows were not expected"
	default:
		msg = "no return data was expected"
	}
	return &Error{
		Code:    code,
		Message: msg,
		Op:      op,
		Query:   q.Text,
		Rows:    rows,
	}
}

// wrapError converts a raw error to a rich Error
func wrapError(err error, op string) error {
	if err == nil {
		return nil
	}

	// Already wrapped
	var dbErr *Error
	if errors.As(err, &dbErr) {
		return err
	}

	// PostgreSQL specific errors
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return wrapPgError(pgErr, op, err)
	}
	var pgdErr pgdriver.Error
	if errors.As(err, &pgdErr) {
		return wrapPgError(fromPgdriver(pgdErr), op, err)
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return &Error{
			Code:    CodeTimeout,
			Message: "operation timed out",
			Op:      op,
			Cause:   err,
		}
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return &Error{
			Code:    CodeConnectionFailed,
			Message: "database connection failed",
			Op:      op,
			Cause:   err,
		}
	}

	// Generic wrapping
	return &Error{
		Code:    CodeUnknown,
		Message: err.Error(),
		Op:      op,
		Cause:   err,
	}
}

// sqlStates classifies the SQLSTATE codes the package reports on.
// See https://www.postgresql.org/docs/current/errcodes-appendix.html
var sqlStates = map[string]struct {
	code    ErrorCode
	message string
}{
	"23505": {CodeDuplicate, "duplicate key value violates unique constraint"},
	"23503": {CodeForeignKey, "foreign key constraint violation"},
	"23502": {CodeNotNullViolation, "null value in column violates not-null constraint"},
	"23514": {CodeCheckViolation, "check constraint violation"},
	"40001": {CodeSerialization, "serialization failure, retry transaction"},
	"40P01": {CodeDeadlock, "deadlock detected"},
	"57014": {CodeTimeout, "query was cancelled due to timeout"},
	"08000": {CodeConnectionFailed, "database connection failed"},
	"08003": {CodeConnectionFailed, "database connection failed"},
	"08006": {CodeConnectionFailed, "database connection failed"},
}

// wrapPgError converts PostgreSQL errors to rich errors. cause is the error
// as returned by the driver, which may wrap pgErr.
func wrapPgError(pgErr *pgconn.PgError, op string, cause error) *Error {
	e := &Error{
		Op:         op,
		Table:      pgErr.TableName,
		Column:     pgErr.ColumnName,
		Constraint: pgErr.ConstraintName,
		Detail:     pgErr.Detail,
		Hint:       pgErr.Hint,
		Cause:      cause,
	}

	if class, ok := sqlStates[pgErr.Code]; ok {
		e.Code, e.Message = class.code, class.message
	} else {
		e.Code, e.Message = CodeUnknown, pgErr.Message
	}

	return e
}

// fromPgdriver copies the fields of a bun pgdriver error so both drivers
// classify the same way.
func fromPgdriver(e pgdriver.Error) *pgconn.PgError {
	return &pgconn.PgError{
		Severity:       e.Field('S'),
		Code:           e.Field('C'),
		Message:        e.Field('M'),
		Detail:         e.Field('D'),
		Hint:           e.Field('H'),
		SchemaName:     e.Field('s'),
		TableName:      e.Field('t'),
		ColumnName:     e.Field('c'),
		ConstraintName: e.Field('n'),
	}
}

// AsError classifies err, raw driver error or already wrapped, and returns
// the resulting *Error. It reports false for nil.
func AsError(err error) (*Error, bool) {
	var dbErr *Error
	if err == nil || !errors.As(wrapError(err, ""), &dbErr) {
		return nil, false
	}
	return dbErr, true
}

// GetErrorCode extracts the error code, classifying raw driver errors
func GetErrorCode(err error) (ErrorCode, bool) {
	if dbErr, ok := AsError(err); ok {
		return dbErr.Code, true
	}
	return "", false
}

func is(err, target error) bool {
	dbErr, ok := AsError(err)
	return ok && errors.Is(dbErr, target)
}

// IsCardinality reports whether err came from a result shaping check
// (One, Many, None, OneOrNone) rather than from query execution.
func IsCardinality(err error) bool {
	return errors.Is(err, ErrNoData) || errors.Is(err, ErrMultipleRows) || errors.Is(err, ErrUnexpectedData)
}

func IsNoData(err error) bool       { return errors.Is(err, ErrNoData) }
func IsMultipleRows(err error) bool { return errors.Is(err, ErrMultipleRows) }

// IsDuplicate reports a unique violation
func IsDuplicate(err error) bool  { return is(err, ErrDuplicate) }
func IsForeignKey(err error) bool { return is(err, ErrForeignKey) }

// IsConnection and IsTimeout decide whether a connection is discarded on
// release.
func IsConnection(err error) bool { return is(err, ErrConnection) }
func IsTimeout(err error) bool    { return is(err, ErrTimeout) }

// IsRetryable reports serialization failures and deadlocks, after which the
// whole transaction can be run again.
func IsRetryable(err error) bool {
	return is(err, ErrSerialization) || is(err, ErrDeadlock)
}
