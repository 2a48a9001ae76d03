package database

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb-ai/askdb/internal/testutil"
)

var pgDSN string

func TestMain(m *testing.M) {
	if os.Getenv("ASKDB_SKIP_INTEGRATION") != "" {
		os.Exit(m.Run())
	}
	tc := testutil.MustStartPostgres()
	pgDSN = tc.DSN
	code := m.Run()
	tc.Terminate()
	os.Exit(code)
}

func newPostgres(t *testing.T) *Postgres {
	t.Helper()
	if pgDSN == "" {
		t.Skip("integration tests disabled")
	}
	ctx := context.Background()

	pg, err := NewPostgres(ctx, pgDSN)
	require.NoError(t, err)
	t.Cleanup(pg.Close)

	_, err = pg.pool.Exec(ctx, `
		DROP TABLE IF EXISTS job_titles;
		CREATE TABLE job_titles (
			id SERIAL PRIMARY KEY,
			title TEXT NOT NULL,
			headcount INT
		);
		INSERT INTO job_titles (title, headcount) VALUES
			('Engineer', 12), ('Designer', 4), ('Analyst', NULL);`)
	require.NoError(t, err)
	return pg
}

func TestPostgresListAndDescribe(t *testing.T) {
	pg := newPostgres(t)
	ctx := context.Background()

	tables, err := pg.ListTables(ctx)
	require.NoError(t, err)
	assert.Contains(t, tables, "job_titles")

	described, err := pg.DescribeTables(ctx, []string{"job_titles", "missing"})
	require.NoError(t, err)
	require.Len(t, described, 1)
	assert.Equal(t, "job_titles", described[0].Name)
	assert.Len(t, described[0].Columns, 3)
}

func TestPostgresQuery(t *testing.T) {
	pg := newPostgres(t)
	ctx := context.Background()

	rows, err := pg.Query(ctx, "SELECT title, headcount FROM job_titles ORDER BY id", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "headcount"}, rows.Columns)
	assert.Len(t, rows.Values, 2)
	assert.True(t, rows.Truncated)
	assert.Equal(t, []string{"Engineer", "12"}, rows.Values[0])
}

func TestPostgresQueryRejectsWrites(t *testing.T) {
	pg := newPostgres(t)

	_, err := pg.Query(context.Background(), "TRUNCATE job_titles", 0)
	assert.ErrorIs(t, err, ErrNotReadOnly)
}
