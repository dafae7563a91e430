package storage

import (
	"context"
	"time"

	"github.com/FranksOps/scour/internal/serp"
	"github.com/google/uuid"
)

// Record is the history entry for one dispatched query.
type Record struct {
	ID          string           `json:"id"`
	Kind        serp.Kind        `json:"kind"`
	Query       string           `json:"query"`
	URL         string           `json:"url"`
	ResultCount int              `json:"result_count"`
	ImageURLs   []string         `json:"image_urls,omitempty"`
	WebResults  []serp.WebResult `json:"web_results,omitempty"`
	Duration    time.Duration    `json:"duration"`
	ErrorKind   serp.ErrorKind   `json:"error_kind,omitempty"`
	Error       string           `json:"error,omitempty"` // non-empty if the query failed
	CreatedAt   time.Time        `json:"created_at"`
}

// NewRecord returns a Record with a fresh ID and CreatedAt set to now (UTC).
func NewRecord(kind serp.Kind, query string) *Record {
	return &Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		Query:     query,
		CreatedAt: time.Now().UTC(),
	}
}

// Failed reports whether the query ended in an error.
func (r *Record) Failed() bool {
	return r.Error != ""
}

// Blocked reports whether the query was stopped by an anti-bot page.
func (r *Record) Blocked() bool {
	return r.ErrorKind == serp.ErrBlocked
}

// Filter allows querying for specific Records.
type Filter struct {
	Kind   serp.Kind
	Query  string
	Failed *bool
	Since  *time.Time
	Limit  int
	Offset int
}

// Match applies every field of f except Limit and Offset.
func (f Filter) Match(r *Record) bool {
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.Query != "" && r.Query != f.Query {
		return false
	}
	if f.Failed != nil && r.Failed() != *f.Failed {
		return false
	}
	if f.Since != nil && r.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Page reverses records that were read oldest first, then applies Offset and
// Limit. Used by the append-only file backends.
func (f Filter) Page(records []*Record) []*Record {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}

	if f.Offset > 0 {
		if f.Offset >= len(records) {
			return []*Record{}
		}
		records = records[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(records) {
		records = records[:f.Limit]
	}
	if records == nil {
		return []*Record{}
	}
	return records
}

// Backend defines the interface for storing and querying query history.
type Backend interface {
	Save(ctx context.Context, record *Record) error
	Query(ctx context.Context, filter Filter) ([]*Record, error)
	Close() error
}
