package batch

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/notifyd/notifyd/internal/pkg/httputil"
)

// Handler handles HTTP requests for batch sends.
type Handler struct {
	orchestrator *Orchestrator
	validator    *validator.Validate
}

// NewHandler creates a new batch handler.
func NewHandler(orchestrator *Orchestrator) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		validator:    validator.New(),
	}
}

// RegisterRoutes registers batch routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/notifications/batch", h.Process)
}

// ProcessRequest is the wire form of a batch request; the inter-chunk
// delay rides as milliseconds.
type ProcessRequest struct {
	UserIDs     []string          `json:"userIds" validate:"required,min=1,max=10000"`
	Title       string            `json:"title" validate:"required,max=255"`
	Content     string            `json:"content" validate:"required"`
	ChannelType string            `json:"channelType" validate:"required,oneof=email sms push"`
	Priority    string            `json:"priority" validate:"omitempty,oneof=low medium high"`
	Metadata    map[string]string `json:"metadata"`
	ScheduledAt *time.Time        `json:"scheduledAt"`
	Options     ProcessOptions    `json:"options"`
}

// ProcessOptions is the wire form of Options.
type ProcessOptions struct {
	BatchSize             int    `json:"batchSize" validate:"omitempty,min=1,max=1000"`
	DelayBetweenBatchesMs *int64 `json:"delayBetweenBatchesMs" validate:"omitempty,min=0,max=60000"`
	Parallel              *bool  `json:"parallel"`
	ContinueOnError       *bool  `json:"continueOnError"`
	MaxParallelChunks     int    `json:"maxParallelChunks" validate:"omitempty,min=1,max=64"`
}

// Process handles POST /notifications/batch. The batch runs to completion
// before the response is written; callers size their batches accordingly.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	options := Options{
		BatchSize:         req.Options.BatchSize,
		Parallel:          req.Options.Parallel,
		ContinueOnError:   req.Options.ContinueOnError,
		MaxParallelChunks: req.Options.MaxParallelChunks,
	}
	if req.Options.DelayBetweenBatchesMs != nil {
		delay := time.Duration(*req.Options.DelayBetweenBatchesMs) * time.Millisecond
		options.DelayBetweenBatches = &delay
	}

	result, err := h.orchestrator.Process(r.Context(), Request{
		UserIDs:     req.UserIDs,
		Title:       req.Title,
		Content:     req.Content,
		ChannelType: req.ChannelType,
		Priority:    req.Priority,
		Metadata:    req.Metadata,
		ScheduledAt: req.ScheduledAt,
		Options:     options,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}
