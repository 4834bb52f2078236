package repository

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/sheenhq/runhub/pkg/runhub/core"
)

// LockRepository implements a named mutual-exclusion primitive over the
// named_locks table. The reaper, attribution sweep and digest tick each take
// a named lock so only one instance acts per cycle, whichever process runs
// it. Works on all three dialects, unlike advisory locks.
type LockRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewLockRepository(db *sql.DB, clock core.Clock) *LockRepository {
	return &LockRepository{db: db, clock: clock}
}

// TryAcquire attempts to take the named lock for holdFor. Returns false when
// another owner currently holds it. Expired locks are reclaimable, so a
// crashed holder never wedges the background tasks.
func (r *LockRepository) TryAcquire(name, owner string, holdFor time.Duration) bool {
	now := r.clock.Now()
	until := formatDateInDatabase(now.Add(holdFor))

	insert := `INSERT INTO named_locks (name, owner, locked_until) VALUES (` +
		placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `)`
	_, err := r.db.Exec(insert, name, owner, until)
	if err == nil {
		return true
	}
	if !isUniqueViolation(err) {
		slog.Error("Failed to insert named lock", "error", err, "lock", name)
		return false
	}

	// Row exists: claim it only if the previous hold has lapsed.
	update := `
		UPDATE named_locks
		SET owner = ` + placeholder(1) + `, locked_until = ` + placeholder(2) + `
		WHERE name = ` + placeholder(3) + ` AND ` + dateBefore("locked_until", now) + `
	`
	result, err := r.db.Exec(update, owner, until, name)
	if err != nil {
		slog.Error("Failed to update named lock", "error", err, "lock", name)
		return false
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rowsAffected == 1
}

// Release lapses the lock immediately, but only for the current owner.
func (r *LockRepository) Release(name, owner string) {
	now := r.clock.Now()
	query := `
		UPDATE named_locks
		SET locked_until = ` + placeholder(1) + `
		WHERE name = ` + placeholder(2) + ` AND owner = ` + placeholder(3) + `
	`
	if _, err := r.db.Exec(query, formatDateInDatabase(now.Add(-time.Second)), name, owner); err != nil {
		slog.Error("Failed to release named lock", "error", err, "lock", name)
	}
}
