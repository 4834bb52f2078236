package repository

import (
	"database/sql"
	"strings"
	"time"

	"github.com/sheenhq/runhub/pkg/runhub/core"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
)

// MessageRepository persists run_messages, the outbound dispatch log.
type MessageRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewMessageRepository(db *sql.DB, clock core.Clock) *MessageRepository {
	return &MessageRepository{db: db, clock: clock}
}

// Save records one dispatched message. Cart-less messages (promos, winbacks)
// store an empty cart id, matching the business_events convention.
func (r *MessageRepository) Save(m *domain.RunMessage) (int64, error) {
	now := r.clock.Now()
	cartID := ""
	if m.CartID.Valid {
		cartID = m.CartID.String
	}
	vals := []interface{}{
		m.RunID, m.ProjectID, m.Recipient, m.NormalizedEmail, m.TemplateID,
		m.Amount, m.Currency, cartID, formatDateInDatabase(now),
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO run_messages (
		run_id, project_id, recipient, normalized_email, template_id,
		amount, currency, cart_id, sent_at
	) VALUES (` + strings.Join(pps, ", ") + `)`

	var err error
	if supportsReturning() {
		err = r.db.QueryRow(base+" RETURNING id", vals...).Scan(&m.ID)
	} else {
		res, e := r.db.Exec(base, vals...)
		if e != nil {
			err = e
		} else {
			id, e2 := res.LastInsertId()
			if e2 != nil {
				err = e2
			} else {
				m.ID = id
			}
		}
	}
	if err != nil {
		return 0, err
	}
	m.SentAt = now
	return m.ID, nil
}

// SentRecipients returns the recipients already dispatched for a run. Used to
// make dispatch restart-safe after a lease re-acquisition.
func (r *MessageRepository) SentRecipients(runID int64) (map[string]bool, error) {
	query := `SELECT recipient FROM run_messages WHERE run_id = ` + placeholder(1)
	rows, err := r.db.Query(query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sent := make(map[string]bool)
	for rows.Next() {
		var recipient string
		if err := rows.Scan(&recipient); err != nil {
			return nil, err
		}
		sent[recipient] = true
	}
	return sent, rows.Err()
}

// ContactedSince returns the set of normalized emails messaged for the
// project since the given instant. Backs the cooldown exclusion, which must
// apply identically to preview and execute.
func (r *MessageRepository) ContactedSince(projectID string, since time.Time) (map[string]bool, error) {
	query := `
		SELECT normalized_email FROM run_messages
		WHERE project_id = ` + placeholder(1) + `
		  AND ` + dateAfterOrEqual("sent_at", since) + `
	`
	rows, err := r.db.Query(query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacted := make(map[string]bool)
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		contacted[email] = true
	}
	return contacted, rows.Err()
}

// FindMatches returns messages to the normalized email within the window,
// newest first. Ordering gives the caller last-touch semantics: the first
// corroborated hit wins.
func (r *MessageRepository) FindMatches(projectID, normalizedEmail string, since time.Time) (*[]domain.RunMessage, error) {
	query := `
		SELECT id, run_id, project_id, recipient, normalized_email, template_id, amount, currency, cart_id, sent_at
		FROM run_messages
		WHERE project_id = ` + placeholder(1) + `
		  AND normalized_email = ` + placeholder(2) + `
		  AND ` + dateAfterOrEqual("sent_at", since) + `
		ORDER BY sent_at DESC
		LIMIT 20
	`
	rows, err := r.db.Query(query, projectID, normalizedEmail)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RunMessage
	for rows.Next() {
		var m domain.RunMessage
		if err := rows.Scan(&m.ID, &m.RunID, &m.ProjectID, &m.Recipient, &m.NormalizedEmail,
			&m.TemplateID, &m.Amount, &m.Currency, &m.CartID, &m.SentAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return &out, rows.Err()
}
