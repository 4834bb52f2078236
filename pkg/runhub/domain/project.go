package domain

import "time"

type Project struct {
	ID              string
	Name            string
	PrimaryCurrency string
	Timezone        string
	Created         time.Time
}
