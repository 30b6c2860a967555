package database

import (
	"bytes"
	"context"
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"
)

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{DSN: "  "})
	require.Error(t, err)
}

func TestQueryLoggerReportsFailures(t *testing.T) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	var buf bytes.Buffer
	db.AddQueryHook(NewQueryLogger(zerolog.New(&buf).Level(zerolog.InfoLevel), 0))

	_, err = db.ExecContext(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Empty(t, buf.String(), "fast queries only log at debug")

	_, err = db.ExecContext(context.Background(), "SELECT * FROM missing_table")
	require.Error(t, err)
	assert.Contains(t, buf.String(), "query failed")
}
