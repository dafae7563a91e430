package session

import (
	"github.com/FranksOps/scour/internal/materializer"
	"github.com/FranksOps/scour/internal/serp"
)

// EventType tags an Event.
type EventType string

const (
	EventStarted    EventType = "started"
	EventImageURLs  EventType = "image_urls"
	EventWebResults EventType = "web_results"
	EventImage      EventType = "image"
	EventDone       EventType = "done"
	EventFailed     EventType = "failed"
)

// Terminal reports whether no further events follow for the generation.
func (t EventType) Terminal() bool {
	return t == EventDone || t == EventFailed
}

// Event is one step of a query. A successful query produces Started, one
// result event, zero or more Image events and Done. A failed one produces
// Started and Failed.
type Event struct {
	Generation uint64
	Type       EventType
	Kind       serp.Kind
	Query      string

	ImageURLs  []string
	WebResults []serp.WebResult
	Image      *materializer.Image
	Stats      *materializer.Stats // set on Done when images were materialized
	Err        error
}

func (e Event) with(t EventType) Event {
	e.Type = t
	return e
}
