package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationURL(t *testing.T) {
	tests := []struct {
		driver  string
		dsn     string
		want    string
		wantErr bool
	}{
		{DriverPostgres, "postgres://u:p@db:5432/handoff?sslmode=disable", "pgx5://u:p@db:5432/handoff?sslmode=disable", false},
		{DriverPostgres, "postgresql://db/handoff", "pgx5://db/handoff", false},
		{DriverPostgres, "host=db user=u", "", true},
		{DriverSQLite, "/tmp/handoff.db", "sqlite3:///tmp/handoff.db", false},
		{"mysql", "x", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.driver+" "+tt.dsn, func(t *testing.T) {
			got, err := migrationURL(tt.driver, tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x", DefaultPoolConfig(), logrus.New())
	assert.Error(t, err)
}

func TestBuilderPlaceholders(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	q, _, err := pg.Builder().Select("id").From("handoff_alerts").Where(sq.Eq{"merchant_id": 1}).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM handoff_alerts WHERE merchant_id = $1", q)

	lite := &DB{driver: DriverSQLite}
	q, _, err = lite.Builder().Select("id").From("handoff_alerts").Where(sq.Eq{"merchant_id": 1}).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM handoff_alerts WHERE merchant_id = ?", q)
}

func TestMigrator_UpDownVersion(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	path := filepath.Join(t.TempDir(), "migrate.db")

	mg, err := NewMigrator(DriverSQLite, path, logger)
	require.NoError(t, err)
	defer mg.Close()

	v, dirty, err := mg.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)
	assert.False(t, dirty)

	require.NoError(t, mg.Up())
	require.NoError(t, mg.Up())

	v, _, err = mg.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	require.NoError(t, mg.Down())
}

func TestExecExpectOneAndQueryHelpers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	b := db.Builder()

	_, err := Exec(ctx, db, b.Insert("conversations").
		Columns("id", "merchant_id", "platform_sender_id", "status", "created_at", "updated_at").
		Values(1, 7, "psid", "active", "2026-01-01 00:00:00", "2026-01-01 00:00:00"))
	require.NoError(t, err)

	err = ExecExpectOne(ctx, db, b.Update("conversations").Set("status", "handoff").Where(sq.Eq{"id": 99}))
	assert.ErrorIs(t, err, sql.ErrNoRows)

	require.NoError(t, ExecExpectOne(ctx, db, b.Update("conversations").Set("status", "handoff").Where(sq.Eq{"id": 1})))

	statuses, err := QueryMany(ctx, db, b.Select("status").From("conversations"), scanStatus)
	require.NoError(t, err)
	assert.Equal(t, []string{"handoff"}, statuses)

	empty, err := QueryMany(ctx, db, b.Select("status").From("conversations").Where(sq.Eq{"merchant_id": 8}), scanStatus)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func openTestDB(t *testing.T) *DB {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	path := filepath.Join(t.TempDir(), "helpers.db")
	require.NoError(t, Migrate(DriverSQLite, path, logger))

	db, err := Open(context.Background(), DriverSQLite, path, DefaultPoolConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func scanStatus(s Scanner) (string, error) {
	var status string
	if err := s.Scan(&status); err != nil {
		return "", err
	}
	return status, nil
}
