// Package session runs search queries off the caller's goroutine and reports
// their progress as a stream of generation-tagged events. Only one query is
// outstanding at a time: submitting a new one cancels the previous query and
// suppresses its remaining events.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/FranksOps/scour/internal/materializer"
	"github.com/FranksOps/scour/internal/serp"
	"github.com/FranksOps/scour/internal/storage"
)

// ErrEmptyQuery is returned by Do when the query is blank after normalization.
var ErrEmptyQuery = errors.New("session: empty query")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("session: closed")

const (
	DefaultQueryTimeout = 30 * time.Second
	DefaultEventBuffer  = 64
	saveTimeout         = 5 * time.Second
)

// Config wires a Session to its engines. Images and Web are required only for
// the kinds that are submitted; Materializer and History are optional.
type Config struct {
	Images       serp.ImageSearcher
	Web          serp.WebSearcher
	Materializer *materializer.Materializer
	History      storage.Backend
	QueryTimeout time.Duration
	EventBuffer  int
	Logger       *slog.Logger
}

// Session owns the lifetime of the current query.
type Session struct {
	cfg    Config
	logger *slog.Logger
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// New returns a Session. Callers must drain Events and call Close when done.
func New(cfg Config) (*Session, error) {
	if cfg.Images == nil && cfg.Web == nil {
		return nil, errors.New("session: no search engines configured")
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Session{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "session"),
		events: make(chan Event, cfg.EventBuffer),
		done:   make(chan struct{}),
	}, nil
}

// Events is closed by Close.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Generation returns the id of the most recently submitted query.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Submit normalizes raw and, if anything is left, cancels the in-flight query
// and starts a new one. It never blocks on the network. ok is false when the
// query is empty, the kind has no engine, or the session is closed; nothing
// is dispatched in that case.
func (s *Session) Submit(kind serp.Kind, raw string) (generation uint64, ok bool) {
	query := serp.NormalizeQuery(raw)
	if query == "" || !s.supports(kind) {
		return 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.QueryTimeout)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.dispatch(ctx, gen, kind, query)
	}()

	s.logger.Debug("query submitted", "generation", gen, "kind", kind, "query", query)
	return gen, true
}

// Cancel stops the in-flight query, if any, without starting a new one.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
}

// Close cancels the in-flight query, waits for it to unwind and closes the
// event channel.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	close(s.events)
	return nil
}

// Do runs one query synchronously on the caller's goroutine and returns its
// history record. The record is saved to History when configured.
func (s *Session) Do(ctx context.Context, kind serp.Kind, raw string) (*storage.Record, error) {
	query := serp.NormalizeQuery(raw)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if !s.supports(kind) {
		return nil, fmt.Errorf("session: no engine for kind %q", kind)
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	res := s.search(ctx, kind, query)
	s.save(ctx, res)
	return res.Record, res.err
}

func (s *Session) supports(kind serp.Kind) bool {
	switch kind {
	case serp.KindImage:
		return s.cfg.Images != nil
	case serp.KindWeb:
		return s.cfg.Web != nil
	default:
		return false
	}
}

type urlBuilder interface {
	SearchURL(query string) (string, error)
}

// result carries the error alongside the record so Do can return it as is.
type result struct {
	*storage.Record
	err error
}

func (s *Session) search(ctx context.Context, kind serp.Kind, query string) result {
	rec := storage.NewRecord(kind, query)
	start := time.Now()

	var err error
	switch kind {
	case serp.KindImage:
		if u, ok := s.cfg.Images.(urlBuilder); ok {
			rec.URL, _ = u.SearchURL(query)
		}
		rec.ImageURLs, err = s.cfg.Images.FetchImageResultURLs(ctx, query)
		rec.ResultCount = len(rec.ImageURLs)
	case serp.KindWeb:
		if u, ok := s.cfg.Web.(urlBuilder); ok {
			rec.URL, _ = u.SearchURL(query)
		}
		rec.WebResults, err = s.cfg.Web.FetchWebResults(ctx, query)
		rec.ResultCount = len(rec.WebResults)
	}

	rec.Duration = time.Since(start)
	if err != nil {
		rec.ErrorKind = serp.KindOf(err)
		rec.Error = err.Error()
	}
	return result{Record: rec, err: err}
}

func (s *Session) save(ctx context.Context, res result) {
	if s.cfg.History == nil {
		return
	}
	// The query context may already be cancelled; history is written anyway.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := s.cfg.History.Save(ctx, res.Record); err != nil {
		s.logger.Error("failed to save history record", "id", res.ID, "err", err)
	}
}

func (s *Session) dispatch(ctx context.Context, gen uint64, kind serp.Kind, query string) {
	base := Event{Generation: gen, Kind: kind, Query: query}

	if !s.emit(ctx, base.with(EventStarted)) {
		return
	}

	res := s.search(ctx, kind, query)
	s.save(ctx, res)

	if res.err != nil {
		if s.stale(gen) {
			s.logger.Debug("dropping superseded failure", "generation", gen, "err", res.err)
			return
		}
		ev := base.with(EventFailed)
		ev.Err = res.err
		s.emit(ctx, ev)
		return
	}

	var ev Event
	switch kind {
	case serp.KindImage:
		ev = base.with(EventImageURLs)
		ev.ImageURLs = res.ImageURLs
	case serp.KindWeb:
		ev = base.with(EventWebResults)
		ev.WebResults = res.WebResults
	}
	if !s.emit(ctx, ev) {
		return
	}

	done := base.with(EventDone)
	if kind == serp.KindImage && s.cfg.Materializer != nil && len(res.ImageURLs) > 0 {
		stats := s.cfg.Materializer.Run(ctx, res.ImageURLs, func(img materializer.Image) {
			ie := base.with(EventImage)
			ie.Image = &img
			s.emit(ctx, ie)
		})
		done.Stats = &stats
	}
	s.emit(ctx, done)
}

func (s *Session) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen != s.gen
}

// emit delivers ev unless its generation has been superseded. Progress events
// are also abandoned once ctx is done; terminal events wait for the consumer
// so a timed-out query still reports its failure.
// A superseded event can still slip through between the check and the send;
// View drops those by generation.
func (s *Session) emit(ctx context.Context, ev Event) bool {
	if s.stale(ev.Generation) {
		return false
	}
	var cancelled <-chan struct{}
	if !ev.Type.Terminal() {
		cancelled = ctx.Done()
	}
	select {
	case s.events <- ev:
		return true
	case <-cancelled:
		return false
	case <-s.done:
		return false
	}
}
