// Package handler provides the collector's HTTP handlers.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/localbiz/directory-analytics/internal/middleware"
	"github.com/localbiz/directory-analytics/internal/model"
	"github.com/localbiz/directory-analytics/internal/service"
	"github.com/localbiz/directory-analytics/pkg/logger"
)

// AnalyticsHandler handles the tracker ingestion endpoints.
type AnalyticsHandler struct {
	ingest *service.IngestService
	logger *logger.Logger
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(ingest *service.IngestService, log *logger.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		ingest: ingest,
		logger: log,
	}
}

// Track handles POST /api/v1/analytics/track
func (h *AnalyticsHandler) Track(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var record model.EventRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		writeDecodeError(w, err)
		return
	}

	if err := h.ingest.Track(ctx, middleware.GetUserID(ctx), record); err != nil {
		h.writeIngestError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, &model.IngestResponse{Accepted: 1})
}

// TrackBatch handles POST /api/v1/analytics/track-batch
func (h *AnalyticsHandler) TrackBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDecodeError(w, err)
		return
	}

	n, err := h.ingest.TrackBatch(ctx, middleware.GetUserID(ctx), req.Events)
	if err != nil {
		h.writeIngestError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, &model.IngestResponse{Accepted: n})
}

// writeDecodeError answers 413 when the body limit cut the request short.
func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
}

func (h *AnalyticsHandler) writeIngestError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidEvent), errors.Is(err, service.ErrEmptyBatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrBatchTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		ctx := r.Context()
		h.logger.WithRequest(middleware.GetCorrelationID(ctx), middleware.GetUserID(ctx)).
			Error("failed to ingest analytics", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to store events")
	}
}
