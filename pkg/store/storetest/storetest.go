// Package storetest provides a migrated SQLite database for repository tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"handoff-escalation-service/pkg/store"
)

// Open returns a migrated SQLite database in a temp directory that is
// removed when the test ends.
func Open(t testing.TB) *store.DB {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	path := filepath.Join(t.TempDir(), "handoff.db")
	require.NoError(t, store.Migrate(store.DriverSQLite, path, logger))

	db, err := store.Open(context.Background(), store.DriverSQLite, path, store.DefaultPoolConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}
