package models

import "time"

// DigestSettingsRequest updates a project's digest preferences. Any change
// recomputes the stored next-send instant.
type DigestSettingsRequest struct {
	Enabled   bool   `json:"enabled"`
	HourOfDay int    `json:"hourOfDay"`
	Timezone  string `json:"timezone"`
}

type DigestSettingsResponse struct {
	Enabled    bool       `json:"enabled"`
	HourOfDay  int        `json:"hourOfDay"`
	Timezone   string     `json:"timezone"`
	NextSendAt time.Time  `json:"nextSendAt"`
	LastSentAt *time.Time `json:"lastSentAt,omitempty"`
}
