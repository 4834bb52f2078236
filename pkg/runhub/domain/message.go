package domain

import (
	"database/sql"
	"time"
)

// RunMessage records a single outbound message dispatched for a run. The log
// doubles as the per-recipient idempotency ledger on lease re-acquisition and
// as the search space for identity-based attribution.
type RunMessage struct {
	ID              int64
	RunID           int64
	ProjectID       string
	Recipient       string
	NormalizedEmail string
	TemplateID      string
	Amount          float64
	Currency        string
	CartID          sql.NullString
	SentAt          time.Time
}
