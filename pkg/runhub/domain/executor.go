package domain

import "time"

// Executor is a registered engine instance. Ownership of a run is never
// derived from this table, only from lease rows; executors exist for
// diagnostics.
type Executor struct {
	ID         int64
	Name       string
	Started    time.Time
	LastActive time.Time
}
