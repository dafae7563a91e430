package session

import (
	"sync"

	"github.com/FranksOps/scour/internal/materializer"
	"github.com/FranksOps/scour/internal/serp"
)

// State is what a result screen shows.
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateEmpty     State = "empty"
	StatePopulated State = "populated"
	StateFailed    State = "failed"
)

// Snapshot is a copy of a View at one point in time.
type Snapshot struct {
	Generation uint64
	State      State
	Kind       serp.Kind
	Query      string
	ImageURLs  []string
	WebResults []serp.WebResult
	Images     []materializer.Image
	Err        error
}

// View folds session events into presentation state. Events from a
// generation older than the newest one seen are ignored, so a slow first
// query can never overwrite the results of a later one.
type View struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewView returns an idle View.
func NewView() *View {
	return &View{snap: Snapshot{State: StateIdle}}
}

// Apply folds ev into the view and reports whether it was applied.
func (v *View) Apply(ev Event) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if ev.Generation < v.snap.Generation {
		return false
	}
	if ev.Generation > v.snap.Generation {
		// A newer query replaces the prior result set entirely.
		v.snap = Snapshot{
			Generation: ev.Generation,
			State:      StateLoading,
			Kind:       ev.Kind,
			Query:      ev.Query,
		}
	}

	s := &v.snap
	switch ev.Type {
	case EventStarted:
		s.State = StateLoading
	case EventImageURLs:
		s.ImageURLs = ev.ImageURLs
		s.State = populated(len(ev.ImageURLs))
	case EventWebResults:
		s.WebResults = ev.WebResults
		s.State = populated(len(ev.WebResults))
	case EventImage:
		if ev.Image != nil {
			s.Images = append(s.Images, *ev.Image)
		}
	case EventDone:
		if s.State == StateLoading {
			s.State = StateEmpty
		}
	case EventFailed:
		s.State = StateFailed
		s.Err = ev.Err
	}
	return true
}

func populated(n int) State {
	if n == 0 {
		return StateEmpty
	}
	return StatePopulated
}

// Snapshot returns a copy of the current state.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := v.snap
	s.ImageURLs = append([]string(nil), s.ImageURLs...)
	s.WebResults = append([]serp.WebResult(nil), s.WebResults...)
	s.Images = append([]materializer.Image(nil), s.Images...)
	return s
}

// Loading reports whether a query is in flight.
func (v *View) Loading() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snap.State == StateLoading
}
