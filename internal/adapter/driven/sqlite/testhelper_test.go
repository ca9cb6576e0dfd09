package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupTestDB opens a migrated in-memory cache database named after the test,
// so parallel tests never share entries.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := openDSN(context.Background(), memoryDSN(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunMigrations(db.Writer))

	return db
}
