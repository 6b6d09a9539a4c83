// Package store provides the dual-backend persistence layer. A single DB
// wrapper and a single set of repositories serve both SQLite (single
// instance, local file) and PostgreSQL (multi instance) with identical
// semantics; queries are written with ? placeholders and rebound per dialect.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/relayforge/bridge-engine/pkg/config"
)

// Supported dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// DB wraps a database/sql pool with dialect awareness.
type DB struct {
	*sql.DB
	dialect string
}

// driverDSN maps the configured backend to a database/sql driver name and
// connection string.
func driverDSN(cfg *config.DatabaseConfig) (driver, dsn string, err error) {
	switch cfg.Backend {
	case DialectSQLite:
		// Busy timeout and foreign keys via DSN so every pooled
		// connection carries them.
		return "sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", cfg.SQLitePath), nil
	case DialectPostgres:
		return "pgx", cfg.PostgresURL, nil
	default:
		return "", "", fmt.Errorf("unsupported database backend: %q", cfg.Backend)
	}
}

// Open connects to the configured backend and verifies the connection.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	driver, dsn, err := driverDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, dialect: cfg.Backend}, nil
}

// Dialect reports which backend this connection talks to.
func (db *DB) Dialect() string {
	return db.dialect
}

// Rebind converts ?-style placeholders to the dialect's native form.
// SQLite queries pass through untouched; PostgreSQL gets $1..$N.
func (db *DB) Rebind(query string) string {
	if db.dialect != DialectPostgres {
		return query
	}
	return rebindPostgres(query)
}

// InsertReturningID executes an INSERT written with ? placeholders and
// returns the generated row id. PostgreSQL has no LastInsertId, so the
// query gets a RETURNING clause there instead.
func (db *DB) InsertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	if db.dialect == DialectPostgres {
		var id int64
		err := db.QueryRowContext(ctx, rebindPostgres(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// IsUniqueViolation reports whether err is a unique-constraint rejection
// from either backend.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func rebindPostgres(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
