// Package service provides the collector's ingestion logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/localbiz/directory-analytics/internal/model"
	"github.com/localbiz/directory-analytics/pkg/logger"
	"github.com/localbiz/directory-analytics/pkg/metrics"
)

var (
	// ErrInvalidEvent is returned for records that fail validation.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrEmptyBatch is returned for batches without events.
	ErrEmptyBatch = errors.New("batch contains no events")
	// ErrBatchTooLarge is returned for batches above the configured limit.
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
)

const (
	maxIDLength       = 128
	maxMetadataFields = 32
)

// Publisher persists accepted events.
type Publisher interface {
	PublishEvent(ctx context.Context, event *model.IngestedEvent) (uint64, error)
}

// IngestService validates tracker submissions and publishes them.
type IngestService struct {
	publisher    Publisher
	maxBatchSize int
	now          func() time.Time
	logger       *logger.Logger
}

// NewIngestService creates a new ingest service.
func NewIngestService(publisher Publisher, maxBatchSize int, log *logger.Logger) *IngestService {
	if maxBatchSize <= 0 {
		maxBatchSize = 500
	}
	return &IngestService{
		publisher:    publisher,
		maxBatchSize: maxBatchSize,
		now:          time.Now,
		logger:       log.Named("ingest"),
	}
}

// Track accepts a single record.
func (s *IngestService) Track(ctx context.Context, userID string, record model.EventRecord) error {
	_, err := s.TrackBatch(ctx, userID, []model.EventRecord{record})
	if errors.Is(err, ErrEmptyBatch) {
		return ErrInvalidEvent
	}
	return err
}

// TrackBatch validates every record before publishing any of them, so a
// rejected batch publishes nothing. It returns the number of records published.
func (s *IngestService) TrackBatch(ctx context.Context, userID string, records []model.EventRecord) (int, error) {
	if len(records) == 0 {
		metrics.EventsRejectedTotal.WithLabelValues("empty_batch").Inc()
		return 0, ErrEmptyBatch
	}
	if len(records) > s.maxBatchSize {
		metrics.EventsRejectedTotal.WithLabelValues("batch_too_large").Inc()
		return 0, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(records), s.maxBatchSize)
	}
	for i, rec := range records {
		if err := ValidateRecord(rec); err != nil {
			metrics.EventsRejectedTotal.WithLabelValues("invalid").Inc()
			return 0, fmt.Errorf("event %d: %w", i, err)
		}
	}

	ctx, span := otel.Tracer("github.com/localbiz/directory-analytics/internal/service").Start(ctx, "analytics.ingest")
	defer span.End()
	span.SetAttributes(attribute.Int("analytics.events", len(records)))

	receivedAt := s.now().UTC()
	authenticated := strconv.FormatBool(userID != "")
	for i, rec := range records {
		event := &model.IngestedEvent{
			ID:          uuid.Must(uuid.NewV7()).String(),
			UserID:      userID,
			ReceivedAt:  receivedAt,
			EventRecord: rec,
		}
		if _, err := s.publisher.PublishEvent(ctx, event); err != nil {
			span.RecordError(err)
			s.logger.Error("failed to publish event",
				zap.String("event_type", string(rec.EventType)),
				zap.Int("published", i),
				zap.Error(err),
			)
			return i, fmt.Errorf("failed to publish event: %w", err)
		}
		metrics.EventsIngestedTotal.WithLabelValues(string(rec.EventType), authenticated).Inc()
	}

	return len(records), nil
}

// ValidateRecord checks a record against the wire contract.
func ValidateRecord(rec model.EventRecord) error {
	if !rec.EventType.Valid() {
		return fmt.Errorf("%w: unknown event_type %q", ErrInvalidEvent, rec.EventType)
	}
	if len(rec.BusinessID) > maxIDLength {
		return fmt.Errorf("%w: business_id too long", ErrInvalidEvent)
	}
	if len(rec.SessionID) > maxIDLength {
		return fmt.Errorf("%w: session_id too long", ErrInvalidEvent)
	}
	if len(rec.Metadata) > maxMetadataFields {
		return fmt.Errorf("%w: too many metadata fields", ErrInvalidEvent)
	}
	return nil
}
