package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewSQLite_InvalidDSN verifies that NewSQLite returns an error for
// a path inside a nonexistent directory.
func TestNewSQLite_InvalidDSN(t *testing.T) {
	_, err := NewSQLite("/nonexistent/dir/subdir/test.db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite")
}

func TestNewSQLite_WALMode(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "valid.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))
}

func TestSQLite_MigrateAfterClose(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite: migrate")
}
