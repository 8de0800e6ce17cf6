package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localbiz/directory-analytics/internal/credential"
	"github.com/localbiz/directory-analytics/internal/model"
	"github.com/localbiz/directory-analytics/internal/session"
	"github.com/localbiz/directory-analytics/pkg/logger"
)

type capturedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// ingestServer records every request and answers with status.
type ingestServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []capturedRequest
	status   atomic.Int32
}

func newIngestServer(t *testing.T) *ingestServer {
	s := &ingestServer{}
	s.status.Store(http.StatusAccepted)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, capturedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Header: r.Header.Clone(),
			Body:   body,
		})
		s.mu.Unlock()
		w.WriteHeader(int(s.status.Load()))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *ingestServer) Requests() []capturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capturedRequest{}, s.requests...)
}

func flush(t *testing.T, sink *HTTPSink) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sink.Flush(ctx))
}

func record(eventType model.EventType) model.EventRecord {
	return model.EventRecord{EventType: eventType, BusinessID: "biz-1", SessionID: "1700000000000-abc123def"}
}

func TestHTTPSinkPostsSingleRecord(t *testing.T) {
	srv := newIngestServer(t)
	sink := NewHTTPSink(srv.URL+"/", WithSinkLogger(logger.NewNop()))

	sink.Submit(Submission{Events: []model.EventRecord{record(model.EventTypeMapPinClick)}})
	flush(t, sink)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, TrackPath, reqs[0].Path)
	assert.Equal(t, "application/json", reqs[0].Header.Get("Content-Type"))
	assert.Empty(t, reqs[0].Header.Get("Authorization"))
	assert.JSONEq(t, `{"event_type":"map_pin_click","business_id":"biz-1","session_id":"1700000000000-abc123def"}`, string(reqs[0].Body))
}

func TestHTTPSinkPostsBatch(t *testing.T) {
	srv := newIngestServer(t)
	sink := NewHTTPSink(srv.URL, WithSinkLogger(logger.NewNop()))

	sink.Submit(Submission{
		Events: []model.EventRecord{record(model.EventTypeSearchImpression), record(model.EventTypeSearchImpression)},
		Batch:  true,
	})
	flush(t, sink)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, TrackBatchPath, reqs[0].Path)

	var batch model.BatchRequest
	require.NoError(t, json.Unmarshal(reqs[0].Body, &batch))
	assert.Len(t, batch.Events, 2)
}

func TestHTTPSinkSkipsEmptySubmission(t *testing.T) {
	srv := newIngestServer(t)
	sink := NewHTTPSink(srv.URL, WithSinkLogger(logger.NewNop()))

	sink.Submit(Submission{Batch: true})
	flush(t, sink)

	assert.Empty(t, srv.Requests())
}

func TestHTTPSinkAttachesBearerToken(t *testing.T) {
	srv := newIngestServer(t)
	issuer := credential.NewJWTIssuer("secret", time.Minute)
	issuer.SignIn("user-1")
	sink := NewHTTPSink(srv.URL, WithCredentials(issuer), WithSinkLogger(logger.NewNop()))

	sink.Submit(Submission{Events: []model.EventRecord{record(model.EventTypeShare)}})
	flush(t, sink)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Regexp(t, `^Bearer .+\..+\..+$`, reqs[0].Header.Get("Authorization"))
}

func TestHTTPSinkRefetchesCredentialPerSubmission(t *testing.T) {
	srv := newIngestServer(t)
	var calls atomic.Int32
	provider := credential.Func(func(context.Context) (string, error) {
		calls.Add(1)
		return "tok", nil
	})
	sink := NewHTTPSink(srv.URL, WithCredentials(provider), WithSinkLogger(logger.NewNop()))

	for i := 0; i < 3; i++ {
		sink.Submit(Submission{Events: []model.EventRecord{record(model.EventTypePageView)}})
	}
	flush(t, sink)

	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPSinkProceedsWithoutCredentialOnError(t *testing.T) {
	srv := newIngestServer(t)
	issuer := credential.NewJWTIssuer("secret", time.Minute) // nobody signed in
	sink := NewHTTPSink(srv.URL, WithCredentials(issuer), WithSinkLogger(logger.NewNop()))

	sink.Submit(Submission{Events: []model.EventRecord{record(model.EventTypePageView)}})
	flush(t, sink)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Header.Get("Authorization"))
}

func TestHTTPSinkSwallowsErrorStatus(t *testing.T) {
	srv := newIngestServer(t)
	srv.status.Store(http.StatusInternalServerError)
	sink := NewHTTPSink(srv.URL, WithSinkLogger(logger.NewNop()))

	assert.NotPanics(t, func() {
		sink.Submit(Submission{Events: []model.EventRecord{record(model.EventTypePageView)}})
		flush(t, sink)
	})

	srv.status.Store(http.StatusAccepted)
	sink.Submit(Submission{Events: []model.EventRecord{record(model.EventTypePageView)}})
	flush(t, sink)

	assert.Len(t, srv.Requests(), 2)
}

// flakyTransport fails the first request and records the rest.
type flakyTransport struct {
	mu    sync.Mutex
	calls int
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == 1 {
		return nil, errors.New("connection reset by peer")
	}
	return &http.Response{
		StatusCode: http.StatusAccepted,
		Body:       io.NopCloser(http.NoBody),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func (f *flakyTransport) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestNetworkFailureDoesNotAffectLaterEvents(t *testing.T) {
	transport := &flakyTransport{}
	sink := NewHTTPSink("http://analytics.invalid",
		WithHTTPClient(&http.Client{Transport: transport}),
		WithSinkLogger(logger.NewNop()),
	)
	tr := New(session.New(session.NewMemoryStore()), sink, WithLogger(logger.NewNop()))

	assert.NotPanics(t, func() {
		tr.TrackPageView("biz-1", "")
		flush(t, sink)
	})

	tr.TrackPageView("biz-2", "")
	flush(t, sink)

	// No retry of the dropped event, no suppression of the next one.
	assert.Equal(t, 2, transport.Calls())
}

func TestSubmitDoesNotBlockOnSlowBackend(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	sink := NewHTTPSink(srv.URL, WithSinkLogger(logger.NewNop()))

	start := time.Now()
	sink.Submit(Submission{Events: []model.EventRecord{record(model.EventTypePageView)}})
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sink.Flush(ctx), context.DeadlineExceeded)

	close(release)
	flush(t, sink)
}

func TestSubmissionTimeoutIsSwallowed(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	sink := NewHTTPSink(srv.URL, WithTimeout(20*time.Millisecond), WithSinkLogger(logger.NewNop()))

	sink.Submit(Submission{Events: []model.EventRecord{record(model.EventTypePageView)}})
	flush(t, sink)
}

func TestTrackerEndToEnd(t *testing.T) {
	srv := newIngestServer(t)
	sink := NewHTTPSink(srv.URL, WithSinkLogger(logger.NewNop()))
	tr := New(session.New(session.NewMemoryStore()), sink, WithLogger(logger.NewNop()))

	tr.TrackFavorite("biz-9", FavoriteAdd)
	tr.TrackSearchImpressions([]string{"a", "b"}, "florist")
	flush(t, sink)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)

	byPath := map[string]capturedRequest{}
	for _, r := range reqs {
		byPath[r.Path] = r
	}

	var single model.EventRecord
	require.NoError(t, json.Unmarshal(byPath[TrackPath].Body, &single))
	assert.Equal(t, model.EventTypeFavoriteAdd, single.EventType)
	assert.Equal(t, "biz-9", single.BusinessID)

	var batch model.BatchRequest
	require.NoError(t, json.Unmarshal(byPath[TrackBatchPath].Body, &batch))
	require.Len(t, batch.Events, 2)
	assert.Equal(t, single.SessionID, batch.Events[0].SessionID)
	assert.Equal(t, single.SessionID, batch.Events[1].SessionID)
	assert.Equal(t, "florist", batch.Events[1].Metadata["query"])
}
