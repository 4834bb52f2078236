package domain

import (
	"database/sql"
	"time"
)

// DigestSchedule stores a single precomputed next-send instant per project so
// the tick never has to redo timezone math for projects that are not due.
type DigestSchedule struct {
	ProjectID  string
	Enabled    bool
	HourOfDay  int
	Timezone   string
	NextSendAt time.Time
	LastSentAt sql.NullTime
}
