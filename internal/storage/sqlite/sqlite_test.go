package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/FranksOps/scour/internal/serp"
	"github.com/FranksOps/scour/internal/storage"
)

func TestSQLiteBackend(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "scour.db")
	b, err := New(dsn)
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	rec := &storage.Record{
		ID:          "test1234",
		Kind:        serp.KindImage,
		Query:       "cats",
		URL:         "https://www.google.com/search?q=cats&tbm=isch",
		ResultCount: 2,
		ImageURLs:   []string{"https://img.example/1", "https://img.example/2"},
		Duration:    50 * time.Millisecond,
		CreatedAt:   now,
	}
	failed := &storage.Record{
		ID:        "test5678",
		Kind:      serp.KindWeb,
		Query:     "golang",
		URL:       "https://www.bing.com/search?q=golang",
		Duration:  5 * time.Millisecond,
		ErrorKind: serp.ErrBlocked,
		Error:     "challenged by BingChallenge (status 200)",
		CreatedAt: now.Add(-2 * time.Hour),
	}

	if err := b.Save(ctx, rec); err != nil {
		t.Fatalf("Failed to save record: %v", err)
	}
	if err := b.Save(ctx, failed); err != nil {
		t.Fatalf("Failed to save failed record: %v", err)
	}

	results, err := b.Query(ctx, storage.Filter{Query: "cats"})
	if err != nil {
		t.Fatalf("Failed to query records: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}

	got := results[0]
	if got.ID != rec.ID {
		t.Errorf("Expected ID %s, got %s", rec.ID, got.ID)
	}
	if got.Kind != rec.Kind {
		t.Errorf("Expected Kind %s, got %s", rec.Kind, got.Kind)
	}
	if got.URL != rec.URL {
		t.Errorf("Expected URL %s, got %s", rec.URL, got.URL)
	}
	if got.ResultCount != rec.ResultCount {
		t.Errorf("Expected ResultCount %d, got %d", rec.ResultCount, got.ResultCount)
	}
	if len(got.ImageURLs) != 2 || got.ImageURLs[1] != rec.ImageURLs[1] {
		t.Errorf("Expected ImageURLs %v, got %v", rec.ImageURLs, got.ImageURLs)
	}
	if got.Duration.Milliseconds() != rec.Duration.Milliseconds() {
		t.Errorf("Expected Duration %v, got %v", rec.Duration, got.Duration)
	}
	if got.CreatedAt.Unix() != rec.CreatedAt.Unix() {
		t.Errorf("Expected CreatedAt %v, got %v", rec.CreatedAt, got.CreatedAt)
	}
	if got.Failed() {
		t.Errorf("Expected a successful record, got error %q", got.Error)
	}

	// Since filter
	past := now.Add(-1 * time.Hour)
	resultsSince, err := b.Query(ctx, storage.Filter{Since: &past})
	if err != nil {
		t.Fatalf("Failed to query records with Since: %v", err)
	}
	if len(resultsSince) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(resultsSince))
	}

	// Failed filter
	boolTrue := true
	resultsFailed, err := b.Query(ctx, storage.Filter{Failed: &boolTrue})
	if err != nil {
		t.Fatalf("Failed to query failed records: %v", err)
	}
	if len(resultsFailed) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(resultsFailed))
	}
	if !resultsFailed[0].Blocked() {
		t.Errorf("Expected blocked record, got kind %q", resultsFailed[0].ErrorKind)
	}

	boolFalse := false
	resultsOK, err := b.Query(ctx, storage.Filter{Failed: &boolFalse, Kind: serp.KindWeb})
	if err != nil {
		t.Fatalf("Failed to query successful web records: %v", err)
	}
	if len(resultsOK) != 0 {
		t.Fatalf("Expected 0 results, got %d", len(resultsOK))
	}

	// Ordering with offset and no limit
	resultsOffset, err := b.Query(ctx, storage.Filter{Offset: 1})
	if err != nil {
		t.Fatalf("Failed to query with offset: %v", err)
	}
	if len(resultsOffset) != 1 || resultsOffset[0].ID != failed.ID {
		t.Fatalf("Expected the older record at offset 1, got %+v", resultsOffset)
	}
}

func TestSQLiteBackend_SinceWithOffset(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "scour.db"))
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	rec := &storage.Record{
		ID:        "tz1",
		Kind:      serp.KindWeb,
		Query:     "golang",
		CreatedAt: time.Date(2024, 5, 1, 17, 0, 0, 0, time.UTC),
	}
	if err := b.Save(ctx, rec); err != nil {
		t.Fatalf("Failed to save record: %v", err)
	}

	// 18:30+02:00 is 16:30Z, half an hour before the record.
	since := time.Date(2024, 5, 1, 18, 30, 0, 0, time.FixedZone("+02", 2*3600))
	results, err := b.Query(ctx, storage.Filter{Since: &since})
	if err != nil {
		t.Fatalf("Failed to query records with Since: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result since %v, got %d", since, len(results))
	}

	// 19:30+02:00 is 17:30Z, after the record.
	later := since.Add(time.Hour)
	results, err = b.Query(ctx, storage.Filter{Since: &later})
	if err != nil {
		t.Fatalf("Failed to query records with Since: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("Expected 0 results since %v, got %d", later, len(results))
	}
}
