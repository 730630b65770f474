package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// dialect isolates the few places where the supported engines disagree.
// Queries are written with "?" placeholders and rebound per dialect.
type dialect struct {
	name       string
	driverName string
	schema     string
	numbered   bool
	// upsertUnsupported reports whether err means the engine cannot run the
	// ON CONFLICT statement, as opposed to a real failure.
	upsertUnsupported func(err error) bool
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sku TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	price REAL NOT NULL DEFAULT 0,
	stock INTEGER NOT NULL DEFAULT 0,
	category TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	image_path TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT ''
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS products (
	id BIGSERIAL PRIMARY KEY,
	sku TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	price DOUBLE PRECISION NOT NULL DEFAULT 0,
	stock BIGINT NOT NULL DEFAULT 0,
	category TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	image_path TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT ''
);
`

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite, "sqlite3":
		return dialect{
			name:              DriverSQLite,
			driverName:        "sqlite",
			schema:            sqliteSchema,
			upsertUnsupported: sqliteUpsertUnsupported,
		}, nil
	case DriverPostgres, "pgx", "postgresql":
		return dialect{
			name:              DriverPostgres,
			driverName:        "pgx",
			schema:            postgresSchema,
			numbered:          true,
			upsertUnsupported: postgresUpsertUnsupported,
		}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// rebind rewrites "?" placeholders to "$1", "$2", ... for numbered dialects.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqliteDSN adds the pragmas every connection needs: WAL so the interactive
// connection can read while an import holds the write lock, and a busy
// timeout so short lock waits do not surface as SQLITE_BUSY.
func sqliteDSN(path string) string {
	if strings.Contains(path, "_pragma=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

func sqliteUpsertUnsupported(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code()&0xff != sqlite3.SQLITE_ERROR {
		return false
	}
	msg := strings.ToLower(sqliteErr.Error())
	// Engines older than 3.24 reject the clause outright; a table created
	// without the sku UNIQUE constraint rejects the conflict target.
	return strings.Contains(msg, "syntax error") ||
		strings.Contains(msg, "on conflict clause does not match")
}

func postgresUpsertUnsupported(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 42601 syntax_error, 42P10 invalid_column_reference (no matching unique constraint).
	return pgErr.Code == "42601" || pgErr.Code == "42P10"
}
