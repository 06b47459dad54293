package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB opens an in-memory database with the schema applied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	require.NoError(t, ApplySchema(db))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestApplySchema_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, ApplySchema(db))
}

func TestNew_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rollup.db")
	db, err := New(Config{Path: path, Profile: ProfileDurable, Name: "rollup"})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate())
	assert.Equal(t, path, db.Path())
	assert.NoError(t, db.HealthCheck(context.Background()))
	assert.NoError(t, db.WALCheckpoint())
}

func TestBuildConnectionString(t *testing.T) {
	durable := buildConnectionString("/tmp/x.db", ProfileDurable)
	assert.Contains(t, durable, "synchronous(FULL)")
	assert.Contains(t, durable, "journal_mode(WAL)")

	standard := buildConnectionString("/tmp/x.db", ProfileStandard)
	assert.Contains(t, standard, "synchronous(NORMAL)")
	assert.Contains(t, standard, "busy_timeout(5000)")
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := setupTestDB(t)

	err := WithTransaction(db, func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO projects (tenant_id, id) VALUES ('t1', 'p1')")
		require.NoError(t, err)
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM projects").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestWithTransaction_RecoversPanic(t *testing.T) {
	db := setupTestDB(t)
	err := WithTransaction(db, func(tx *sql.Tx) error {
		panic("boom")
	})
	assert.ErrorContains(t, err, "panic in transaction")
}
