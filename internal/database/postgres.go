package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Querier over a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool to dsn and verifies connectivity.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("database: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Dialect implements Querier.
func (p *Postgres) Dialect() string { return "postgresql" }

// Close implements Querier.
func (p *Postgres) Close() { p.pool.Close() }

// Ping implements Querier.
func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// ListTables implements Querier using information_schema.
func (p *Postgres) ListTables(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
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

// DescribeTables implements Querier.
func (p *Postgres) DescribeTables(ctx context.Context, names []string) ([]Table, error) {
	if len(names) == 0 {
		return nil, nil
	}

	rows, err := p.pool.Query(ctx, `
		SELECT table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = ANY($1)
		ORDER BY table_name, ordinal_position`, names)
	if err != nil {
		return nil, fmt.Errorf("database: describe tables: %w", err)
	}
	defer rows.Close()

	byName := map[string]*Table{}
	var order []string
	for rows.Next() {
		var table, column, dataType, nullable string
		if err := rows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("database: scan column: %w", err)
		}
		t, ok := byName[table]
		if !ok {
			t = &Table{Name: table}
			byName[table] = t
			order = append(order, table)
		}
		t.Columns = append(t.Columns, Column{
			Name:     column,
			Type:     dataType,
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: describe tables: %w", err)
	}

	tables := make([]Table, 0, len(order))
	for _, name := range order {
		tables = append(tables, *byName[name])
	}
	return tables, nil
}

// Query implements Querier.
func (p *Postgres) Query(ctx context.Context, sql string, maxRows int) (*Rows, error) {
	if err := checkReadOnly(sql); err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("database: query: %w", err)
	}
	defer rows.Close()

	result := &Rows{}
	for _, fd := range rows.FieldDescriptions() {
		result.Columns = append(result.Columns, fd.Name)
	}

	for rows.Next() {
		if maxRows > 0 && len(result.Values) >= maxRows {
			result.Truncated = true
			break
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("database: read row: %w", err)
		}
		result.Values = append(result.Values, renderValues(vals))
	}
	if err := rows.Err(); err != nil && !result.Truncated {
		return nil, fmt.Errorf("database: query: %w", err)
	}
	return result, nil
}

// renderValues converts driver values to the text form sent to the model.
func renderValues(vals []any) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		if v == nil {
			out[i] = "NULL"
			continue
		}
		out[i] = fmt.Sprint(v)
	}
	return out
}
