// Package store opens the relational database that holds handoff alerts and
// the conversations read model, and applies its embedded schema migrations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/sirupsen/logrus"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// DB pairs a connection pool with the dialect it speaks
type DB struct {
	*sql.DB
	driver string
}

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

// Open connects to driver/dsn and verifies the connection. For sqlite3 the
// DSN is a file path.
func Open(ctx context.Context, driver, dsn string, pool PoolConfig, logger *logrus.Logger) (*DB, error) {
	var sqlDriver string
	switch driver {
	case DriverPostgres:
		sqlDriver = "pgx"
	case DriverSQLite:
		sqlDriver = "sqlite3"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(pool.MaxOpenConns)
		conn.SetMaxIdleConns(pool.MaxIdleConns)
	}
	conn.SetConnMaxLifetime(pool.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pool.PingTimeout)
	defer cancel()

	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.WithField("driver", driver).Info("Connected to database")

	return &DB{DB: conn, driver: driver}, nil
}

func (db *DB) Driver() string {
	return db.driver
}

// Builder returns a squirrel statement builder using the driver's placeholders
func (db *DB) Builder() sq.StatementBuilderType {
	if db.driver == DriverPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// Scanner is satisfied by *sql.Row and *sql.Rows
type Scanner interface {
	Scan(dest ...any) error
}

// QueryMany runs a built query and scans every row. It never returns a nil slice.
func QueryMany[T any](ctx context.Context, db *DB, query sq.Sqlizer, scan func(Scanner) (T, error)) ([]T, error) {
	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}

	return results, rows.Err()
}

// QueryOne runs a built query expected to return one row. A missing row
// surfaces as sql.ErrNoRows.
func QueryOne[T any](ctx context.Context, db *DB, query sq.Sqlizer, scan func(Scanner) (T, error)) (T, error) {
	var zero T

	q, args, err := query.ToSql()
	if err != nil {
		return zero, fmt.Errorf("failed to build query: %w", err)
	}

	return scan(db.QueryRowContext(ctx, q, args...))
}

// Exec runs a built statement and returns the affected row count
func Exec(ctx context.Context, db *DB, stmt sq.Sqlizer) (int64, error) {
	q, args, err := stmt.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build statement: %w", err)
	}

	result, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ExecExpectOne is Exec for statements that must touch a row. Zero affected
// rows returns sql.ErrNoRows.
func ExecExpectOne(ctx context.Context, db *DB, stmt sq.Sqlizer) error {
	n, err := Exec(ctx, db, stmt)
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// migrationURL converts a connection DSN into the URL golang-migrate expects
func migrationURL(driver, dsn string) (string, error) {
	switch driver {
	case DriverPostgres:
		for _, scheme := range []string{"postgres://", "postgresql://"} {
			if strings.HasPrefix(dsn, scheme) {
				return "pgx5://" + strings.TrimPrefix(dsn, scheme), nil
			}
		}
		return "", fmt.Errorf("postgres DSN must be a postgres:// URL")
	case DriverSQLite:
		return "sqlite3://" + dsn, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}
