package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vanscontrol/internal/ingest"
	id "vanscontrol/pkg/domain"
	dErrors "vanscontrol/pkg/domain-errors"
	"vanscontrol/pkg/platform/httputil"
	"vanscontrol/pkg/requestcontext"
)

// Service defines the interface for ingestion operations.
type Service interface {
	ReportEntry(ctx context.Context, req ingest.Request) error
	ReportExit(ctx context.Context, req ingest.Request) error
}

// Handler wires the event-reporting endpoints to the ingest service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an ingest handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts ingestion endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/events/entry", h.HandleReportEntry)
	r.Post("/events/exit", h.HandleReportExit)
}

// ReportEventRequest is the JSON body for both reporting endpoints.
type ReportEventRequest struct {
	ChildID        string `json:"child_id"`
	ChildName      string `json:"child_name"`
	School         string `json:"school"`
	FamilyGroupKey string `json:"family_group_key"`
}

func (r ReportEventRequest) toDomain() (ingest.Request, error) {
	childID, err := id.ParseChildID(r.ChildID)
	if err != nil {
		return ingest.Request{}, err
	}
	if r.FamilyGroupKey == "" {
		return ingest.Request{}, dErrors.New(dErrors.CodeInvalidInput, "family_group_key is required")
	}
	return ingest.Request{
		ChildID:        childID,
		ChildName:      r.ChildName,
		School:         r.School,
		FamilyGroupKey: id.FamilyGroupKey(r.FamilyGroupKey),
	}, nil
}

// HandleReportEntry handles POST /events/entry requests.
func (h *Handler) HandleReportEntry(w http.ResponseWriter, r *http.Request) {
	h.handleReport(w, r, h.service.ReportEntry)
}

// HandleReportExit handles POST /events/exit requests.
func (h *Handler) HandleReportExit(w http.ResponseWriter, r *http.Request) {
	h.handleReport(w, r, h.service.ReportExit)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request, report func(context.Context, ingest.Request) error) {
	ctx := r.Context()

	body, err := httputil.DecodeJSON[ReportEventRequest](r, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, err := body.toDomain()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := report(ctx, req); err != nil {
		h.logger.ErrorContext(ctx, "event report failed",
			"request_id", requestcontext.RequestID(ctx),
			"child_id", req.ChildID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}
