package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localbiz/directory-analytics/internal/credential"
	"github.com/localbiz/directory-analytics/internal/model"
	"github.com/localbiz/directory-analytics/internal/service"
	"github.com/localbiz/directory-analytics/internal/session"
	"github.com/localbiz/directory-analytics/internal/tracker"
	"github.com/localbiz/directory-analytics/pkg/logger"
)

const testSecret = "collector-secret"

type memoryPublisher struct {
	mu     sync.Mutex
	events []*model.IngestedEvent
	err    error
}

func (p *memoryPublisher) PublishEvent(_ context.Context, ev *model.IngestedEvent) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	p.events = append(p.events, ev)
	return uint64(len(p.events)), nil
}

func (p *memoryPublisher) Events() []*model.IngestedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*model.IngestedEvent{}, p.events...)
}

type connState bool

func (c connState) IsConnected() bool { return bool(c) }

func newRouter(pub service.Publisher, connected bool) http.Handler {
	log := logger.NewNop()
	return NewRouter(RouterConfig{
		Analytics:          NewAnalyticsHandler(service.NewIngestService(pub, 3, log), log),
		Health:             NewHealthHandler(connState(connected)),
		Logger:             log,
		JWTSecret:          testSecret,
		RateLimitRequests:  1000,
		RateLimitWindow:    time.Minute,
		CORSAllowedOrigins: []string{"https://*"},
		ServiceName:        "collector-test",
	})
}

func post(h http.Handler, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTrackAcceptsAnonymousEvent(t *testing.T) {
	pub := &memoryPublisher{}
	rec := post(newRouter(pub, true), "/api/v1/analytics/track",
		`{"event_type":"page_view","business_id":"biz-1","session_id":"s","metadata":{"source":"search"}}`, nil)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"accepted":1}`, rec.Body.String())

	events := pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "search", events[0].Metadata["source"])
	assert.Empty(t, events[0].UserID)
}

func TestTrackRecordsAuthenticatedUser(t *testing.T) {
	issuer := credential.NewJWTIssuer(testSecret, time.Minute)
	issuer.SignIn("user-5")
	token, err := issuer.Token(context.Background())
	require.NoError(t, err)

	pub := &memoryPublisher{}
	rec := post(newRouter(pub, true), "/api/v1/analytics/track",
		`{"event_type":"favorite_add","business_id":"biz-1","session_id":"s"}`,
		map[string]string{"Authorization": "Bearer " + token})

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "user-5", pub.Events()[0].UserID)
}

func TestTrackRejections(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		header map[string]string
		want   int
	}{
		{"malformed json", "/api/v1/analytics/track", `{"event_type":`, nil, http.StatusBadRequest},
		{"unknown type", "/api/v1/analytics/track", `{"event_type":"checkout","session_id":"s"}`, nil, http.StatusBadRequest},
		{"bad token", "/api/v1/analytics/track", `{"event_type":"share","session_id":"s"}`, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"wrong content type", "/api/v1/analytics/track", `{"event_type":"share"}`, map[string]string{"Content-Type": "text/plain"}, http.StatusUnsupportedMediaType},
		{"empty batch", "/api/v1/analytics/track-batch", `{"events":[]}`, nil, http.StatusBadRequest},
		{"oversized body", "/api/v1/analytics/track", `{"event_type":"share","metadata":{"x":"` + strings.Repeat("a", 2<<20) + `"}}`, nil, http.StatusRequestEntityTooLarge},
		{"oversized batch body", "/api/v1/analytics/track-batch", `{"events":[{"event_type":"share","metadata":{"x":"` + strings.Repeat("a", 2<<20) + `"}}]}`, nil, http.StatusRequestEntityTooLarge},
		{"oversized batch", "/api/v1/analytics/track-batch", `{"events":[{"event_type":"share"},{"event_type":"share"},{"event_type":"share"},{"event_type":"share"}]}`, nil, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &memoryPublisher{}
			rec := post(newRouter(pub, true), tt.path, tt.body, tt.header)

			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, pub.Events())
		})
	}
}

func TestTrackPublishFailureIsBadGateway(t *testing.T) {
	pub := &memoryPublisher{err: errors.New("nats: no responders")}
	rec := post(newRouter(pub, true), "/api/v1/analytics/track", `{"event_type":"share","session_id":"s"}`, nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"failed to store events"}`, rec.Body.String())
}

func TestHealthAndReady(t *testing.T) {
	for _, tc := range []struct {
		connected bool
		want      int
	}{{true, http.StatusOK}, {false, http.StatusServiceUnavailable}} {
		h := newRouter(&memoryPublisher{}, tc.connected)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, tc.want, rec.Code)
	}
}

func TestTrackerToCollector(t *testing.T) {
	pub := &memoryPublisher{}
	srv := httptest.NewServer(newRouter(pub, true))
	t.Cleanup(srv.Close)

	issuer := credential.NewJWTIssuer(testSecret, time.Minute)
	issuer.SignIn("user-9")
	sink := tracker.NewHTTPSink(srv.URL, tracker.WithCredentials(issuer), tracker.WithSinkLogger(logger.NewNop()))
	tr := tracker.New(session.New(session.NewMemoryStore()), sink, tracker.WithLogger(logger.NewNop()))

	tr.TrackContactClick("biz-1", tracker.ChannelWhatsApp)
	tr.TrackSearchImpressions([]string{"a", "b"}, "tailor")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sink.Flush(ctx))

	events := pub.Events()
	require.Len(t, events, 3)

	counts := map[model.EventType]int{}
	for _, ev := range events {
		counts[ev.EventType]++
		assert.Equal(t, "user-9", ev.UserID)
		assert.Equal(t, tr.SessionID(), ev.SessionID)
	}
	assert.Equal(t, 1, counts[model.EventTypeWhatsAppClick])
	assert.Equal(t, 2, counts[model.EventTypeSearchImpression])
}
