package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"database/sql"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/sheenhq/runhub/internal/config"
)

// placeholder returns the correct bind variable for the given index based on DB type.
// Postgres uses $1, $2... while MySQL and SQLite use ?
func placeholder(i int) string {
	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	if db == config.DATABASE_TYPE_POSTGRES {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// nowLiteral renders the given instant as a quoted SQL timestamp literal with
// the precision each engine stores.
func nowLiteral(now time.Time) string {
	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	switch db {
	case config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_MYSQL:
		return fmt.Sprintf("'%s'", now.UTC().Format("2006-01-02 15:04:05.000000"))
	case config.DATABASE_TYPE_SQLLITE:
		return fmt.Sprintf("'%s'", now.UTC().Format("2006-01-02 15:04:05.000"))
	default:
		return fmt.Sprintf("'%s'", now.UTC().Format("2006-01-02 15:04:05.000000"))
	}
}

// dateBefore returns a DB-specific SQL predicate that checks if the provided
// datetime column is strictly before the given instant. This avoids string
// comparisons in SQLite by coercing via julianday().
func dateBefore(column string, t time.Time) string {
	ts := t.UTC().Format("2006-01-02 15:04:05.000")

	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	switch db {
	case config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_MYSQL:
		return fmt.Sprintf("%s < '%s'", column, ts)
	case config.DATABASE_TYPE_SQLLITE:
		return fmt.Sprintf("julianday(%s) < julianday('%s')", column, ts)
	default:
		return fmt.Sprintf("julianday(%s) < julianday('%s')", column, ts)
	}
}

// dateAfterOrEqual is the complement of dateBefore.
func dateAfterOrEqual(column string, t time.Time) string {
	ts := t.UTC().Format("2006-01-02 15:04:05.000")

	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	switch db {
	case config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_MYSQL:
		return fmt.Sprintf("%s >= '%s'", column, ts)
	case config.DATABASE_TYPE_SQLLITE:
		return fmt.Sprintf("julianday(%s) >= julianday('%s')", column, ts)
	default:
		return fmt.Sprintf("julianday(%s) >= julianday('%s')", column, ts)
	}
}

// trueLiteral returns the boolean TRUE literal for the active dialect.
// SQLite and MySQL store booleans as integers.
func trueLiteral() string {
	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_POSTGRES {
		return "TRUE"
	}
	return "1"
}

func supportsReturning() bool {
	return config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_POSTGRES
}

func formatDateInDatabase(t time.Time) string {
	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_SQLLITE {
		return t.UTC().Format("2006-01-02 15:04:05.000")
	}
	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_MYSQL {
		return t.UTC().Format("2006-01-02 15:04:05.000000")
	}
	// PostgreSQL supports RFC3339
	return t.UTC().Format(time.RFC3339Nano)
}

func formatDateInDatabaseNull(t sql.NullTime) interface{} {
	if !t.Valid {
		return nil
	}
	return formatDateInDatabase(t.Time)
}

// isUniqueViolation classifies driver errors raised by a unique constraint so
// idempotent inserts can treat them as "row already exists" rather than fail.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	// Fallback for wrapped driver errors that lost their type
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value")
}
