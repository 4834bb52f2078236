package domain

import (
	"database/sql"
	"time"
)

// Business event types this core consumes. Ingestion and validation happen
// upstream; rows are read-only here.
const (
	EventCheckoutAbandoned = "checkout_abandoned"
	EventOrderCompleted    = "order_completed"
	EventPaymentCompleted  = "payment_completed"
	EventCustomerSignup    = "customer_signup"
)

type BusinessEvent struct {
	ID            int64
	ProjectID     string
	EventType     string
	EventRef      string
	CustomerEmail string
	Amount        float64
	Currency      string
	CartID        sql.NullString
	SessionMeta   sql.NullString
	OccurredAt    time.Time
}
