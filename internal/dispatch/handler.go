package dispatch

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/notifyd/notifyd/internal/pkg/httputil"
	"github.com/notifyd/notifyd/internal/users"
)

// Handler handles HTTP requests for the dispatch module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new dispatch handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers notification routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Post("/", h.Send)
		r.Get("/{id}", h.Get)
		r.Get("/user/{userID}", h.ListByUser)
		r.Post("/{id}/cancel", h.Cancel)
		r.Post("/{id}/delivered", h.MarkDelivered)
		r.Put("/{id}/reschedule", h.Reschedule)
	})
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrNotificationNotFound, Status: http.StatusNotFound},
	{Error: ErrUserNotFound, Status: http.StatusNotFound},
	{Error: users.ErrUserNotFound, Status: http.StatusNotFound},
	{Error: ErrInvalidTransition, Status: http.StatusConflict},
}

// Send handles POST /notifications.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	resp, err := h.service.Send(r.Context(), req)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, map[string]any{
		"notification": resp.Notification,
		"message":      resp.Message,
	})
}

// Get handles GET /notifications/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	notification, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, notification)
}

// ListByUser handles GET /notifications/user/{userID}.
func (h *Handler) ListByUser(w http.ResponseWriter, r *http.Request) {
	limit, offset := httputil.Paging(r)
	list, err := h.service.ListByUser(r.Context(), chi.URLParam(r, "userID"), limit, offset)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, list)
}

// Cancel handles POST /notifications/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.CancelScheduled(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, result)
}

// MarkDelivered handles POST /notifications/{id}/delivered.
func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	notification, err := h.service.MarkDelivered(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, notification)
}

// RescheduleRequest represents a reschedule request body.
type RescheduleRequest struct {
	ScheduledAt time.Time `json:"scheduledAt" validate:"required"`
}

// Reschedule handles PUT /notifications/{id}/reschedule.
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	job, err := h.service.Reschedule(r.Context(), chi.URLParam(r, "id"), req.ScheduledAt)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, job)
}
