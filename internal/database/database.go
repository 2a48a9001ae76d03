// Package database provides the read-only query capability the SQL agent
// uses to inspect schema and execute queries against the target database.
//
// Two backends ship with the OSS distribution: PostgreSQL (pgx pool) and
// SQLite (modernc driver, also used in-memory by tests). The Querier
// interface is the contract; the agent never sees driver types.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Rows is a driver-independent query result. Values are rendered as
// strings because the agent forwards them to a language model as text.
type Rows struct {
	Columns   []string
	Values    [][]string
	Truncated bool // true when the row cap cut the result short
}

// Table describes one user table for schema introspection.
type Table struct {
	Name    string
	Columns []Column
}

// Column is a single column in a table description.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Querier provides read-only access to the target database.
// Implementations must be safe for concurrent use.
type Querier interface {
	// ListTables returns the names of user tables, sorted.
	ListTables(ctx context.Context) ([]string, error)

	// DescribeTables returns column descriptions for the named tables.
	// Unknown names are skipped, not errors — the model routinely asks
	// for tables it misremembers and recovers from the gap.
	DescribeTables(ctx context.Context, names []string) ([]Table, error)

	// Query executes a read-only statement and returns at most maxRows
	// rows (0 means no cap). Non-read statements are rejected with
	// ErrNotReadOnly before reaching the database.
	Query(ctx context.Context, sql string, maxRows int) (*Rows, error)

	// Dialect names the SQL dialect for prompt construction ("postgresql",
	// "sqlite").
	Dialect() string

	// Ping reports whether the database is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close()
}

// ErrNotReadOnly is returned when a statement is not a plain read.
var ErrNotReadOnly = errors.New("database: statement is not read-only")

// readVerbs are the only statement heads allowed through Query.
var readVerbs = map[string]bool{
	"SELECT":  true,
	"WITH":    true,
	"EXPLAIN": true,
}

// checkReadOnly rejects anything that is not a single read statement.
// This is a guard against a misbehaving plan, not a SQL firewall — the
// deployment should also connect with a read-only database role.
func checkReadOnly(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return fmt.Errorf("%w: empty statement", ErrNotReadOnly)
	}

	// Reject multi-statement batches; a trailing semicolon is fine.
	if i := strings.Index(trimmed, ";"); i >= 0 && strings.TrimSpace(trimmed[i+1:]) != "" {
		return fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
	}

	fields := strings.Fields(trimmed)
	verb := strings.ToUpper(strings.TrimRight(fields[0], ";"))
	if !readVerbs[verb] {
		return fmt.Errorf("%w: %s", ErrNotReadOnly, verb)
	}
	return nil
}

// DescribeDDL renders table descriptions as CREATE TABLE-style text for
// inclusion in a model prompt.
func DescribeDDL(tables []Table) string {
	var b strings.Builder
	for i, t := range tables {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "CREATE TABLE %s (", t.Name)
		for j, c := range t.Columns {
			if j > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "\n\t%s %s", c.Name, c.Type)
			if !c.Nullable {
				b.WriteString(" NOT NULL")
			}
		}
		b.WriteString("\n)")
	}
	return b.String()
}

// FormatRows renders a query result as a compact text table for the model.
func FormatRows(r *Rows) string {
	var b strings.Builder
	b.WriteString(strings.Join(r.Columns, " | "))
	for _, row := range r.Values {
		b.WriteString("\n")
		b.WriteString(strings.Join(row, " | "))
	}
	if r.Truncated {
		b.WriteString("\n... (result truncated)")
	}
	return b.String()
}
