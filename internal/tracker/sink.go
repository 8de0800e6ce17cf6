package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/localbiz/directory-analytics/internal/credential"
	"github.com/localbiz/directory-analytics/internal/model"
	"github.com/localbiz/directory-analytics/pkg/logger"
	"github.com/localbiz/directory-analytics/pkg/metrics"
)

// Ingestion endpoints relative to the API base URL.
const (
	TrackPath      = "/api/v1/analytics/track"
	TrackBatchPath = "/api/v1/analytics/track-batch"
)

const tracerName = "github.com/localbiz/directory-analytics/internal/tracker"

// Submission is one unit of work handed to a Sink: a single record for the
// track endpoint, or any number of records for the batch endpoint.
type Submission struct {
	Events []model.EventRecord
	Batch  bool
}

// Sink accepts submissions without blocking and without reporting failure.
// Implementations must swallow every error and must not panic.
type Sink interface {
	Submit(sub Submission)
}

// Discard is a Sink that drops every submission.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Submit(Submission) {}

// HTTPClient is the subset of *http.Client the sink needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSink posts submissions to the analytics ingestion API, one goroutine
// per submission. Failures are logged at debug level and counted, never
// returned.
type HTTPSink struct {
	baseURL     string
	httpClient  HTTPClient
	credentials credential.Provider
	timeout     time.Duration
	logger      *logger.Logger
	tracer      trace.Tracer

	wg sync.WaitGroup
}

// SinkOption configures an HTTPSink.
type SinkOption func(*HTTPSink)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c HTTPClient) SinkOption {
	return func(s *HTTPSink) { s.httpClient = c }
}

// WithCredentials sets the bearer credential source.
func WithCredentials(p credential.Provider) SinkOption {
	return func(s *HTTPSink) { s.credentials = p }
}

// WithTimeout bounds each submission, including the credential lookup.
func WithTimeout(d time.Duration) SinkOption {
	return func(s *HTTPSink) { s.timeout = d }
}

// WithSinkLogger sets the logger used for dropped submissions.
func WithSinkLogger(l *logger.Logger) SinkOption {
	return func(s *HTTPSink) { s.logger = l }
}

// NewHTTPSink creates a sink posting to baseURL.
func NewHTTPSink(baseURL string, opts ...SinkOption) *HTTPSink {
	s := &HTTPSink{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		credentials: credential.None{},
		timeout:     10 * time.Second,
		logger:      logger.Global(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.credentials == nil {
		s.credentials = credential.None{}
	}
	s.logger = s.logger.Named("tracker")
	return s
}

// Submit starts delivery in the background and returns immediately.
func (s *HTTPSink) Submit(sub Submission) {
	if len(sub.Events) == 0 {
		return
	}

	s.wg.Add(1)
	metrics.TrackerInflight.Inc()
	go func() {
		defer s.wg.Done()
		defer metrics.TrackerInflight.Dec()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Debug("analytics submission panicked", zap.Any("panic", r))
			}
		}()
		s.deliver(sub)
	}()
}

// Flush waits for in-flight submissions to settle or for ctx to end.
func (s *HTTPSink) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliveryError tags a failure with a low-cardinality reason for metrics.
type deliveryError struct {
	reason string
	err    error
}

func (e *deliveryError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *deliveryError) Unwrap() error { return e.err }

func (s *HTTPSink) deliver(sub Submission) {
	start := time.Now()
	path, endpoint := TrackPath, "track"
	if sub.Batch {
		path, endpoint = TrackBatchPath, "track_batch"
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "analytics.submit",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("analytics.endpoint", endpoint),
			attribute.Int("analytics.events", len(sub.Events)),
		),
	)
	defer span.End()

	err := s.post(ctx, path, sub)
	duration := time.Since(start).Seconds()
	if err == nil {
		metrics.RecordSubmission(endpoint, metrics.OutcomeDelivered, "", duration)
		return
	}

	reason := "unknown"
	if de, ok := err.(*deliveryError); ok {
		reason = de.reason
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	metrics.RecordSubmission(endpoint, metrics.OutcomeDropped, reason, duration)
	s.logger.Debug("dropped analytics submission",
		zap.String("endpoint", endpoint),
		zap.String("event_type", string(sub.Events[0].EventType)),
		zap.Int("events", len(sub.Events)),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

func (s *HTTPSink) post(ctx context.Context, path string, sub Submission) error {
	var body any = sub.Events[0]
	if sub.Batch {
		body = model.BatchRequest{Events: sub.Events}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return &deliveryError{reason: "encode", err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return &deliveryError{reason: "request", err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	// The credential is refetched per submission and never cached here.
	token, err := s.credentials.Token(ctx)
	if err != nil {
		s.logger.Debug("submitting without credential", zap.Error(err))
	} else if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &deliveryError{reason: "network", err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &deliveryError{reason: "status", err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}
