package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/localbiz/directory-analytics/internal/model"
	"github.com/localbiz/directory-analytics/pkg/metrics"
)

const (
	// StreamName is the name of the analytics stream.
	StreamName = "ANALYTICS"

	// SubjectPrefix is the prefix for all analytics subjects.
	SubjectPrefix = "analytics"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream creates the analytics stream if it does not exist yet.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, StreamConfig())
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// StreamConfig returns the analytics stream configuration.
func StreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    20 * 1024 * 1024 * 1024, // 20GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Duplicates:  2 * time.Minute,
		Discard:     jetstream.DiscardOld,
		Description: "Directory analytics events",
	}
}

// EventSubject returns the subject for an event type.
func EventSubject(eventType model.EventType) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, eventType)
}

// PublishEvent publishes an accepted event to JetStream under its event id,
// so the stream stores each accepted event at most once within the
// duplicate window.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.IngestedEvent) (uint64, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, EventSubject(event.EventType), data, jetstream.WithMsgID(event.ID))
	if err != nil {
		metrics.NATSPublishFailures.WithLabelValues(StreamName).Inc()
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}
