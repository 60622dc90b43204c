package scopedb

import "strings"

// Query is a single query unit. It is passed to the connection unchanged;
// scopedb never parses or validates its contents.
type Query struct {
	Text    string            // SQL text (required)
	Values  []any             // Positional parameters
	Name    string            // Prepared statement name, honored by adapters that support it
	RowMode string            // Row shape hint for the driver
	Types   map[string]string // Driver specific type overrides
}

// Q builds a Query from text and positional values.
//
// Usage:
//
//	user, err := db.One(ctx, scopedb.Q("SELECT * FROM users WHERE id = $1", id))
func Q(text string, values ...any) Query {
	return Query{Text: text, Values: values}
}

// Named builds a Query that the driver may prepare once under name.
func Named(name, text string, values ...any) Query {
	return Query{Name: name, Text: text, Values: values}
}

// Row is a single result row keyed by column name.
type Row map[string]any

// Result is the raw outcome of a query.
type Result struct {
	Command  string   // Command tag verb (SELECT, INSERT, ...), when known
	RowCount int64    // Rows affected or returned
	Fields   []string // Column names in select order
	Rows     []Row
}

// statements is an open/close/abort triple driven by runTransaction.
type statements struct {
	open  Query
	close Query
	abort Query
}

var txStatements = statements{
	open:  Query{Text: "BEGIN"},
	close: Query{Text: "COMMIT"},
	abort: Query{Text: "ROLLBACK"},
}

func savepointStatements(name string) statements {
	return statements{
		open:  Query{Text: "SAVEPOINT " + name},
		close: Query{Text: "RELEASE SAVEPOINT " + name},
		abort: Query{Text: "ROLLBACK TO SAVEPOINT " + name},
	}
}

// commandVerb extracts the verb of a command tag such as "INSERT 0 1".
func commandVerb(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexByte(tag, ' '); i >= 0 {
		return tag[:i]
	}
	return tag
}
