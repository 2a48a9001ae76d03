package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// SQLite implements Querier over a modernc.org/sqlite database. It backs
// small deployments and the in-memory test fixtures.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path. Use ":memory:" for
// an in-memory database.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("database: open sqlite: %w", err)
	}

	// The modernc driver serializes access per connection; a single
	// connection avoids "database is locked" on concurrent readers of an
	// in-memory database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: ping sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

// DB exposes the underlying handle for test fixtures that seed data.
func (s *SQLite) DB() *sql.DB { return s.db }

// Dialect implements Querier.
func (s *SQLite) Dialect() string { return "sqlite" }

// Close implements Querier.
func (s *SQLite) Close() { _ = s.db.Close() }

// Ping implements Querier.
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ListTables implements Querier using sqlite_master.
func (s *SQLite) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("database: list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("database: scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: list tables: %w", err)
	}
	return names, nil
}

// DescribeTables implements Querier using PRAGMA table_info.
func (s *SQLite) DescribeTables(ctx context.Context, names []string) ([]Table, error) {
	known, err := s.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	knownSet := map[string]bool{}
	for _, n := range known {
		knownSet[n] = true
	}

	var tables []Table
	for _, name := range names {
		// Table names cannot be bound in PRAGMA, so only known names
		// (taken verbatim from sqlite_master) are interpolated.
		if !knownSet[name] {
			continue
		}
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name)))
		if err != nil {
			return nil, fmt.Errorf("database: describe %s: %w", name, err)
		}

		t := Table{Name: name}
		for rows.Next() {
			var (
				cid        int
				col, ctype string
				notNull    int
				dflt       sql.NullString
				pk         int
			)
			if err := rows.Scan(&cid, &col, &ctype, &notNull, &dflt, &pk); err != nil {
				rows.Close()
				return nil, fmt.Errorf("database: scan column: %w", err)
			}
			t.Columns = append(t.Columns, Column{
				Name:     col,
				Type:     ctype,
				Nullable: notNull == 0,
			})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("database: describe %s: %w", name, err)
		}
		rows.Close()
		tables = append(tables, t)
	}
	return tables, nil
}

// Query implements Querier.
func (s *SQLite) Query(ctx context.Context, query string, maxRows int) (*Rows, error) {
	if err := checkReadOnly(query); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("database: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("database: columns: %w", err)
	}

	result := &Rows{Columns: cols}
	for rows.Next() {
		if maxRows > 0 && len(result.Values) >= maxRows {
			result.Truncated = true
			break
		}
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("database: read row: %w", err)
		}
		result.Values = append(result.Values, renderSQLValues(raw))
	}
	if err := rows.Err(); err != nil && !result.Truncated {
		return nil, fmt.Errorf("database: query: %w", err)
	}
	return result, nil
}

func renderSQLValues(vals []any) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		switch x := v.(type) {
		case nil:
			out[i] = "NULL"
		case []byte:
			out[i] = string(x)
		default:
			out[i] = fmt.Sprint(x)
		}
	}
	return out
}

// quoteIdent double-quotes an identifier for interpolation where
// placeholders are not accepted (PRAGMA arguments).
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
