package domain

import "time"

// Attribution match methods in priority order.
const (
	MatchedByLink     = "link"
	MatchedByIdentity = "identity"
)

const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
)

// RunAttribution links a downstream business event to a prior workflow run.
// Rows are append-only and unique per event reference.
type RunAttribution struct {
	ID           int64
	ProjectID    string
	RunID        int64
	EventRef     string
	MatchedBy    string
	Confidence   string
	Amount       float64
	Currency     string
	AttributedAt time.Time
}
