// Package tracker turns user actions in the business directory into
// best-effort analytics submissions.
//
// Every Track call returns immediately. Records carry the session identifier
// of the injected session context and are handed to a Sink, which delivers
// them in the background and discards failures. A dropped event is lost;
// nothing is retried or buffered.
package tracker

import (
	"go.uber.org/zap"

	"github.com/localbiz/directory-analytics/internal/model"
	"github.com/localbiz/directory-analytics/internal/session"
	"github.com/localbiz/directory-analytics/pkg/logger"
	"github.com/localbiz/directory-analytics/pkg/metrics"
)

// ContactChannel is the way a visitor chose to contact a business.
type ContactChannel string

const (
	ChannelPhone      ContactChannel = "phone"
	ChannelWhatsApp   ContactChannel = "whatsapp"
	ChannelEmail      ContactChannel = "email"
	ChannelWebsite    ContactChannel = "website"
	ChannelDirections ContactChannel = "directions"
)

// FavoriteAction is the direction of a favorite toggle.
type FavoriteAction string

const (
	FavoriteAdd    FavoriteAction = "add"
	FavoriteRemove FavoriteAction = "remove"
)

// Tracker builds event records and submits them through a Sink.
type Tracker struct {
	session *session.Session
	sink    Sink
	logger  *logger.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the tracker's logger.
func WithLogger(l *logger.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New creates a tracker for one session. A nil sink discards everything.
func New(sess *session.Session, sink Sink, opts ...Option) *Tracker {
	if sess == nil {
		sess = session.New(nil)
	}
	if sink == nil {
		sink = Discard
	}
	t := &Tracker{session: sess, sink: sink, logger: logger.Global()}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.Named("tracker")
	return t
}

// SessionID returns the identifier attached to tracked events.
func (t *Tracker) SessionID() string {
	return t.session.ID()
}

// TrackEvent submits one record of eventType. businessID and metadata are
// optional; pass "" and nil to omit them.
func (t *Tracker) TrackEvent(eventType model.EventType, businessID string, metadata map[string]any) {
	if !eventType.Valid() {
		t.logger.Debug("ignoring unknown event type", zap.String("event_type", string(eventType)))
		return
	}

	metadata = copyMetadata(metadata)
	metrics.TrackerEventsTotal.WithLabelValues(string(eventType)).Inc()
	t.submit(func(sessionID string) Submission {
		return Submission{Events: []model.EventRecord{{
			EventType:  eventType,
			BusinessID: businessID,
			SessionID:  sessionID,
			Metadata:   metadata,
		}}}
	})
}

// TrackPageView records a business page view. source is where the visitor
// came from, for example "search" or "map".
func (t *Tracker) TrackPageView(businessID, source string) {
	t.TrackEvent(model.EventTypePageView, businessID, optional("source", source))
}

// TrackContactClick records a click on one of a business's contact channels.
func (t *Tracker) TrackContactClick(businessID string, channel ContactChannel) {
	t.TrackEvent(model.EventType(string(channel)+"_click"), businessID, optional("channel", string(channel)))
}

// TrackMapPinClick records a click on a business's map pin.
func (t *Tracker) TrackMapPinClick(businessID string) {
	t.TrackEvent(model.EventTypeMapPinClick, businessID, nil)
}

// TrackFavorite records a business being added to or removed from favorites.
func (t *Tracker) TrackFavorite(businessID string, action FavoriteAction) {
	t.TrackEvent(model.EventType("favorite_"+string(action)), businessID, nil)
}

// TrackShare records a business being shared, optionally naming the platform.
func (t *Tracker) TrackShare(businessID, platform string) {
	t.TrackEvent(model.EventTypeShare, businessID, optional("platform", platform))
}

// TrackSearchImpressions records that businessIDs were shown in search
// results. All records share one session id and go out as a single batch.
// An empty slice submits nothing.
func (t *Tracker) TrackSearchImpressions(businessIDs []string, query string) {
	if len(businessIDs) == 0 {
		return
	}

	ids := append([]string(nil), businessIDs...)
	metrics.TrackerEventsTotal.WithLabelValues(string(model.EventTypeSearchImpression)).Add(float64(len(ids)))
	t.submit(func(sessionID string) Submission {
		events := make([]model.EventRecord, len(ids))
		for i, id := range ids {
			events[i] = model.EventRecord{
				EventType:  model.EventTypeSearchImpression,
				BusinessID: id,
				SessionID:  sessionID,
				Metadata:   optional("query", query),
			}
		}
		return Submission{Events: events, Batch: true}
	})
}

// submit resolves the session id and hands the built submission to the sink.
// A panicking session store or sink is logged and the event dropped.
func (t *Tracker) submit(build func(sessionID string) Submission) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Debug("analytics submission panicked", zap.Any("panic", r))
		}
	}()
	t.sink.Submit(build(t.session.ID()))
}

func optional(key, value string) map[string]any {
	if value == "" {
		return nil
	}
	return map[string]any{key: value}
}

func copyMetadata(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
