package repository

import (
	"database/sql"
	"strings"
	"time"

	"github.com/sheenhq/runhub/pkg/runhub/core"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
)

// DigestRepository persists per-project digest schedules.
type DigestRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewDigestRepository(db *sql.DB, clock core.Clock) *DigestRepository {
	return &DigestRepository{db: db, clock: clock}
}

func (r *DigestRepository) FindByProjectID(projectID string) (*domain.DigestSchedule, error) {
	query := `
		SELECT project_id, enabled, hour_of_day, timezone, next_send_at, last_sent_at
		FROM digest_schedules WHERE project_id = ` + placeholder(1) + `
	`
	var s domain.DigestSchedule
	err := r.db.QueryRow(query, projectID).Scan(
		&s.ProjectID, &s.Enabled, &s.HourOfDay, &s.Timezone, &s.NextSendAt, &s.LastSentAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Upsert replaces the schedule row for the project. Called whenever hour,
// enabled flag or timezone changes, always with a freshly computed next-send
// instant.
func (r *DigestRepository) Upsert(s *domain.DigestSchedule) error {
	// Delete-then-insert keeps this portable across all three dialects.
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM digest_schedules WHERE project_id = `+placeholder(1), s.ProjectID); err != nil {
		tx.Rollback()
		return err
	}
	vals := []interface{}{
		s.ProjectID, s.Enabled, s.HourOfDay, s.Timezone,
		formatDateInDatabase(s.NextSendAt), formatDateInDatabaseNull(s.LastSentAt),
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	insert := `INSERT INTO digest_schedules (project_id, enabled, hour_of_day, timezone, next_send_at, last_sent_at)
		VALUES (` + strings.Join(pps, ", ") + `)`
	if _, err := tx.Exec(insert, vals...); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// FindDue returns enabled schedules whose next-send instant has passed.
func (r *DigestRepository) FindDue(limit int) (*[]domain.DigestSchedule, error) {
	now := r.clock.Now()
	query := `
		SELECT project_id, enabled, hour_of_day, timezone, next_send_at, last_sent_at
		FROM digest_schedules
		WHERE enabled = ` + trueLiteral() + `
		  AND ` + dateBefore("next_send_at", now) + `
		ORDER BY next_send_at ASC
		LIMIT ` + placeholder(1) + `
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []domain.DigestSchedule
	for rows.Next() {
		var s domain.DigestSchedule
		if err := rows.Scan(&s.ProjectID, &s.Enabled, &s.HourOfDay, &s.Timezone, &s.NextSendAt, &s.LastSentAt); err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return &schedules, rows.Err()
}

// AdvanceAfterSend moves the schedule forward unconditionally. Inactive
// projects must advance too, otherwise the tick reprocesses them every cycle.
func (r *DigestRepository) AdvanceAfterSend(projectID string, sentAt, next time.Time) error {
	query := `
		UPDATE digest_schedules
		SET last_sent_at = ` + placeholder(1) + `, next_send_at = ` + placeholder(2) + `
		WHERE project_id = ` + placeholder(3) + `
	`
	_, err := r.db.Exec(query, formatDateInDatabase(sentAt), formatDateInDatabase(next), projectID)
	return err
}
