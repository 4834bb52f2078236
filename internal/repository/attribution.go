package repository

import (
	"database/sql"
	"log/slog"

	"github.com/sheenhq/runhub/pkg/runhub/core"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
)

// AttributionRepository persists run_attributions rows. The table is
// append-only and unique per downstream event reference.
type AttributionRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewAttributionRepository(db *sql.DB, clock core.Clock) *AttributionRepository {
	return &AttributionRepository{db: db, clock: clock}
}

// Save inserts an attribution row. Returns (id, false, nil) on insert and
// (0, true, nil) when the event was already attributed, the uniqueness
// constraint on event_ref being the guard against double attribution.
func (r *AttributionRepository) Save(a *domain.RunAttribution) (int64, bool, error) {
	now := r.clock.Now()
	base := `
		INSERT INTO run_attributions (
			project_id, run_id, event_ref, matched_by, confidence, amount, currency, attributed_at
		) VALUES (
			` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `, ` + placeholder(6) + `, ` + placeholder(7) + `, ` + placeholder(8) + `
		)`
	vals := []interface{}{
		a.ProjectID, a.RunID, a.EventRef, a.MatchedBy, a.Confidence,
		a.Amount, a.Currency, formatDateInDatabase(now),
	}

	var err error
	if supportsReturning() {
		err = r.db.QueryRow(base+" RETURNING id", vals...).Scan(&a.ID)
	} else {
		res, e := r.db.Exec(base, vals...)
		if e != nil {
			err = e
		} else {
			id, e2 := res.LastInsertId()
			if e2 != nil {
				err = e2
			} else {
				a.ID = id
			}
		}
	}

	if err != nil {
		if isUniqueViolation(err) {
			return 0, true, nil
		}
		slog.Error("Failed to save attribution", "error", err, "event_ref", a.EventRef)
		return 0, false, err
	}
	a.AttributedAt = now
	return a.ID, false, nil
}

// ExistsForEvent reports whether the downstream event is already attributed.
func (r *AttributionRepository) ExistsForEvent(eventRef string) (bool, error) {
	query := `SELECT id FROM run_attributions WHERE event_ref = ` + placeholder(1)
	var id int64
	err := r.db.QueryRow(query, eventRef).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FindByRunID returns attributions for a run ordered newest first.
func (r *AttributionRepository) FindByRunID(runID int64) (*[]domain.RunAttribution, error) {
	query := `
		SELECT id, project_id, run_id, event_ref, matched_by, confidence, amount, currency, attributed_at
		FROM run_attributions
		WHERE run_id = ` + placeholder(1) + `
		ORDER BY attributed_at DESC
	`
	rows, err := r.db.Query(query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RunAttribution
	for rows.Next() {
		var a domain.RunAttribution
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.RunID, &a.EventRef, &a.MatchedBy,
			&a.Confidence, &a.Amount, &a.Currency, &a.AttributedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return &out, rows.Err()
}

// LatestForProject returns the most recent attribution for a project, or nil.
func (r *AttributionRepository) LatestForProject(projectID string) (*domain.RunAttribution, error) {
	query := `
		SELECT id, project_id, run_id, event_ref, matched_by, confidence, amount, currency, attributed_at
		FROM run_attributions
		WHERE project_id = ` + placeholder(1) + `
		ORDER BY attributed_at DESC
		LIMIT 1
	`
	var a domain.RunAttribution
	err := r.db.QueryRow(query, projectID).Scan(&a.ID, &a.ProjectID, &a.RunID, &a.EventRef,
		&a.MatchedBy, &a.Confidence, &a.Amount, &a.Currency, &a.AttributedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
