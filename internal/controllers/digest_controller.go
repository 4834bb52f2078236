package controllers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/sheenhq/runhub/internal/digest"
	"github.com/sheenhq/runhub/internal/util"
	"github.com/sheenhq/runhub/pkg/runhub/core"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
	"github.com/sheenhq/runhub/pkg/runhub/models"
)

// ScheduleRepo is the slice of the digest store the settings endpoint needs.
type ScheduleRepo interface {
	FindByProjectID(projectID string) (*domain.DigestSchedule, error)
	Upsert(s *domain.DigestSchedule) error
}

// DigestController serves per-project digest preferences.
type DigestController struct {
	AuthController
	Schedules ScheduleRepo
	Clock     core.Clock
}

func NewDigestController(schedules ScheduleRepo, clock core.Clock, userRepo UserRepo) *DigestController {
	return &DigestController{
		Schedules: schedules,
		Clock:     clock,
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

func (c *DigestController) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	projectID := callerProject(r.Context())
	schedule, err := c.Schedules.FindByProjectID(projectID)
	if err != nil {
		slog.ErrorContext(r.Context(), "Digest schedule read failed", "project_id", projectID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if schedule == nil {
		// Projects start without a row; report the defaults a PUT would apply.
		util.WriteJSON(w, http.StatusOK, models.DigestSettingsResponse{
			Enabled:   false,
			HourOfDay: 9,
			Timezone:  "UTC",
		})
		return
	}

	util.WriteJSON(w, http.StatusOK, mapScheduleToResponse(schedule))
}

// handlePutSettings replaces the project's digest preferences. Any change
// recomputes the next-send instant; a digest is never sent retroactively for
// a window that passed while settings were different.
func (c *DigestController) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.DigestSettingsRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.HourOfDay < 0 || req.HourOfDay > 23 {
		http.Error(w, "hourOfDay must be between 0 and 23", http.StatusBadRequest)
		return
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		http.Error(w, "unknown timezone", http.StatusBadRequest)
		return
	}

	projectID := callerProject(r.Context())
	schedule := &domain.DigestSchedule{
		ProjectID:  projectID,
		Enabled:    req.Enabled,
		HourOfDay:  req.HourOfDay,
		Timezone:   req.Timezone,
		NextSendAt: digest.ComputeNext(c.Clock.Now(), req.Timezone, req.HourOfDay),
	}
	if existing, err := c.Schedules.FindByProjectID(projectID); err == nil && existing != nil {
		schedule.LastSentAt = existing.LastSentAt
	}

	if err := c.Schedules.Upsert(schedule); err != nil {
		slog.ErrorContext(r.Context(), "Digest schedule update failed", "project_id", projectID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(r.Context(), "Digest settings updated", "project_id", projectID,
		"enabled", schedule.Enabled, "hour_of_day", schedule.HourOfDay, "timezone", schedule.Timezone)
	util.WriteJSON(w, http.StatusOK, mapScheduleToResponse(schedule))
}

func mapScheduleToResponse(s *domain.DigestSchedule) models.DigestSettingsResponse {
	resp := models.DigestSettingsResponse{
		Enabled:    s.Enabled,
		HourOfDay:  s.HourOfDay,
		Timezone:   s.Timezone,
		NextSendAt: s.NextSendAt,
	}
	if s.LastSentAt.Valid {
		t := s.LastSentAt.Time
		resp.LastSentAt = &t
	}
	return resp
}
