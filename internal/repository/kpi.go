package repository

import (
	"database/sql"
	"time"

	"github.com/sheenhq/runhub/pkg/runhub/core"
)

// KpiRepository reads the kpi_daily and anomalies tables, both populated by
// the external rollup aggregation. Read-only here.
type KpiRepository struct {
	db    *sql.DB
	clock core.Clock
}

// KpiDelta holds one metric's day-over-day movement.
type KpiDelta struct {
	Metric   string
	Today    float64
	Previous float64
}

// Anomaly is an externally detected metric breach.
type Anomaly struct {
	Metric     string
	Severity   int
	Message    string
	DetectedAt time.Time
}

func NewKpiRepository(db *sql.DB, clock core.Clock) *KpiRepository {
	return &KpiRepository{db: db, clock: clock}
}

// DailyDeltas returns per-metric values for the given day and the day before.
func (r *KpiRepository) DailyDeltas(projectID string, day time.Time) ([]KpiDelta, error) {
	today := day.UTC().Format("2006-01-02")
	previous := day.UTC().AddDate(0, 0, -1).Format("2006-01-02")
	query := `
		SELECT metric, day, value
		FROM kpi_daily
		WHERE project_id = ` + placeholder(1) + `
		  AND day IN (` + placeholder(2) + `, ` + placeholder(3) + `)
	`
	rows, err := r.db.Query(query, projectID, today, previous)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byMetric := make(map[string]*KpiDelta)
	order := make([]string, 0)
	for rows.Next() {
		var metric, rowDay string
		var value float64
		if err := rows.Scan(&metric, &rowDay, &value); err != nil {
			return nil, err
		}
		d, ok := byMetric[metric]
		if !ok {
			d = &KpiDelta{Metric: metric}
			byMetric[metric] = d
			order = append(order, metric)
		}
		if rowDay == today {
			d.Today = value
		} else {
			d.Previous = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]KpiDelta, 0, len(order))
	for _, m := range order {
		out = append(out, *byMetric[m])
	}
	return out, nil
}

// TopAnomalySince returns the highest-severity anomaly detected since the
// given instant, or nil when the project is quiet.
func (r *KpiRepository) TopAnomalySince(projectID string, since time.Time) (*Anomaly, error) {
	query := `
		SELECT metric, severity, message, detected_at
		FROM anomalies
		WHERE project_id = ` + placeholder(1) + `
		  AND ` + dateAfterOrEqual("detected_at", since) + `
		ORDER BY severity DESC, detected_at DESC
		LIMIT 1
	`
	var a Anomaly
	err := r.db.QueryRow(query, projectID).Scan(&a.Metric, &a.Severity, &a.Message, &a.DetectedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
