package repository

import (
	"database/sql"
	"time"

	"github.com/sheenhq/runhub/pkg/runhub/core"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
)

// EventRepository reads the business_events table. Ingestion and validation
// happen upstream; this core never writes event rows.
type EventRepository struct {
	db    *sql.DB
	clock core.Clock
}

const EVENT_COLUMNS = ` id, project_id, event_type, event_ref, customer_email,
		       amount, currency, cart_id, session_meta, occurred_at `

func NewEventRepository(db *sql.DB, clock core.Clock) *EventRepository {
	return &EventRepository{db: db, clock: clock}
}

func (r *EventRepository) scanEvents(rows *sql.Rows) (*[]domain.BusinessEvent, error) {
	defer rows.Close()
	var events []domain.BusinessEvent
	for rows.Next() {
		var e domain.BusinessEvent
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.EventType, &e.EventRef, &e.CustomerEmail,
			&e.Amount, &e.Currency, &e.CartID, &e.SessionMeta, &e.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return &events, rows.Err()
}

// FindByTypeSince returns events of one type for a project since the given
// instant, oldest first.
func (r *EventRepository) FindByTypeSince(projectID, eventType string, since time.Time) (*[]domain.BusinessEvent, error) {
	query := `
		SELECT ` + EVENT_COLUMNS + `
		FROM business_events
		WHERE project_id = ` + placeholder(1) + `
		  AND event_type = ` + placeholder(2) + `
		  AND ` + dateAfterOrEqual("occurred_at", since) + `
		ORDER BY occurred_at ASC
	`
	rows, err := r.db.Query(query, projectID, eventType)
	if err != nil {
		return nil, err
	}
	return r.scanEvents(rows)
}

// FindUnattributedSince returns qualifying downstream events inside the
// attribution window that have no attribution row yet, across all projects.
func (r *EventRepository) FindUnattributedSince(since time.Time, limit int) (*[]domain.BusinessEvent, error) {
	query := `
		SELECT ` + EVENT_COLUMNS + `
		FROM business_events e
		WHERE e.event_type IN ('payment_completed', 'order_completed')
		  AND ` + dateAfterOrEqual("e.occurred_at", since) + `
		  AND NOT EXISTS (
		      SELECT 1 FROM run_attributions a WHERE a.event_ref = e.event_ref
		  )
		ORDER BY e.occurred_at ASC
		LIMIT ` + placeholder(1) + `
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	return r.scanEvents(rows)
}

// LastOrderPerCustomer returns each customer's most recent order_completed
// time for the project.
func (r *EventRepository) LastOrderPerCustomer(projectID string) (map[string]time.Time, error) {
	query := `
		SELECT customer_email, MAX(occurred_at)
		FROM business_events
		WHERE project_id = ` + placeholder(1) + `
		  AND event_type = 'order_completed'
		GROUP BY customer_email
	`
	rows, err := r.db.Query(query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var email string
		var last time.Time
		if err := rows.Scan(&email, &last); err != nil {
			return nil, err
		}
		out[email] = last
	}
	return out, rows.Err()
}
