// Package admin exposes operational endpoints: channel inventory, service
// status, and scheduler overrides.
package admin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/notifyd/notifyd/internal/channel"
	"github.com/notifyd/notifyd/internal/dispatch"
	"github.com/notifyd/notifyd/internal/pkg/httputil"
	"github.com/notifyd/notifyd/internal/schedule"
	"github.com/notifyd/notifyd/internal/version"
)

// Handler handles HTTP requests for the admin module.
type Handler struct {
	registry  *channel.Registry
	scheduler *schedule.Scheduler
	service   *dispatch.Service
	startedAt time.Time
}

// NewHandler creates a new admin handler.
func NewHandler(registry *channel.Registry, scheduler *schedule.Scheduler, service *dispatch.Service) *Handler {
	return &Handler{
		registry:  registry,
		scheduler: scheduler,
		service:   service,
		startedAt: time.Now().UTC(),
	}
}

// RegisterRoutes registers admin routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/channels", h.Channels)
		r.Get("/status", h.Status)
		r.Post("/scheduler/cancel/{notificationID}", h.CancelScheduled)
	})
}

// Channels handles GET /admin/channels. Channels are listed in resolution
// order, so the first entry per type is the one that will handle sends.
func (h *Handler) Channels(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, h.registry.ListAll())
}

// StatusResponse reports service health details.
type StatusResponse struct {
	Version       string    `json:"version"`
	Commit        string    `json:"commit"`
	StartedAt     time.Time `json:"startedAt"`
	UptimeSeconds int64     `json:"uptimeSeconds"`
	ActiveTimers  int       `json:"activeTimers"`
}

// Status handles GET /admin/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, StatusResponse{
		Version:       version.Version,
		Commit:        version.GitCommit,
		StartedAt:     h.startedAt,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		ActiveTimers:  h.scheduler.ActiveCount(),
	})
}

// CancelScheduled handles POST /admin/scheduler/cancel/{notificationID}.
func (h *Handler) CancelScheduled(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.CancelScheduled(r.Context(), chi.URLParam(r, "notificationID"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}
	httputil.Success(w, http.StatusOK, result)
}
