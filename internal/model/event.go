// Package model defines the analytics wire types shared by the tracker and collector.
package model

import (
	"time"
)

// EventType is the fixed kind of a tracked user action.
type EventType string

const (
	EventTypePageView         EventType = "page_view"
	EventTypePhoneClick       EventType = "phone_click"
	EventTypeWhatsAppClick    EventType = "whatsapp_click"
	EventTypeEmailClick       EventType = "email_click"
	EventTypeWebsiteClick     EventType = "website_click"
	EventTypeDirectionsClick  EventType = "directions_click"
	EventTypeMapPinClick      EventType = "map_pin_click"
	EventTypeFavoriteAdd      EventType = "favorite_add"
	EventTypeFavoriteRemove   EventType = "favorite_remove"
	EventTypeShare            EventType = "share"
	EventTypeSearchImpression EventType = "search_impression"
)

var knownEventTypes = map[EventType]struct{}{
	EventTypePageView:         {},
	EventTypePhoneClick:       {},
	EventTypeWhatsAppClick:    {},
	EventTypeEmailClick:       {},
	EventTypeWebsiteClick:     {},
	EventTypeDirectionsClick:  {},
	EventTypeMapPinClick:      {},
	EventTypeFavoriteAdd:      {},
	EventTypeFavoriteRemove:   {},
	EventTypeShare:            {},
	EventTypeSearchImpression: {},
}

// Valid reports whether t is one of the fixed event kinds.
func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// EventTypes returns every known event kind.
func EventTypes() []EventType {
	out := make([]EventType, 0, len(knownEventTypes))
	for t := range knownEventTypes {
		out = append(out, t)
	}
	return out
}

// EventRecord is one telemetry unit describing a user action.
type EventRecord struct {
	EventType  EventType      `json:"event_type"`
	BusinessID string         `json:"business_id,omitempty"`
	SessionID  string         `json:"session_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// BatchRequest is the body of a track-batch submission.
type BatchRequest struct {
	Events []EventRecord `json:"events"`
}

// IngestedEvent is an EventRecord as accepted by the collector.
type IngestedEvent struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	EventRecord
}

// IngestResponse is returned by the collector for accepted submissions.
type IngestResponse struct {
	Accepted int `json:"accepted"`
}
