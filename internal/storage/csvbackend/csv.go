package csvbackend

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/FranksOps/scour/internal/serp"
	"github.com/FranksOps/scour/internal/storage"
)

// ensure csvBackend implements storage.Backend
var _ storage.Backend = (*csvBackend)(nil)

type csvBackend struct {
	mu   sync.Mutex
	file *os.File
}

// headers defines the CSV column order
var headers = []string{
	"id",
	"kind",
	"query",
	"url",
	"result_count",
	"image_urls_json",
	"web_results_json",
	"duration_ms",
	"error_kind",
	"error",
	"created_at",
}

// New creates a new CSV-backed storage.Backend.
func New(filePath string) (storage.Backend, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("csvbackend: open %s: %w", filePath, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("csvbackend: stat: %w", err)
	}

	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(headers); err != nil {
			f.Close()
			return nil, fmt.Errorf("csvbackend: write header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("csvbackend: write header: %w", err)
		}
	}

	return &csvBackend{
		file: f,
	}, nil
}

func (b *csvBackend) Save(ctx context.Context, record *storage.Record) error {
	imagesJSON, err := json.Marshal(record.ImageURLs)
	if err != nil {
		return fmt.Errorf("csvbackend: marshal image urls: %w", err)
	}
	webJSON, err := json.Marshal(record.WebResults)
	if err != nil {
		return fmt.Errorf("csvbackend: marshal web results: %w", err)
	}

	row := []string{
		record.ID,
		string(record.Kind),
		record.Query,
		record.URL,
		strconv.Itoa(record.ResultCount),
		string(imagesJSON),
		string(webJSON),
		strconv.FormatInt(record.Duration.Milliseconds(), 10),
		string(record.ErrorKind),
		record.Error,
		record.CreatedAt.Format(time.RFC3339Nano),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("csvbackend: seek: %w", err)
	}

	w := csv.NewWriter(b.file)
	if err := w.Write(row); err != nil {
		return fmt.Errorf("csvbackend: write: %w", err)
	}
	w.Flush()

	if err := w.Error(); err != nil {
		return fmt.Errorf("csvbackend: flush: %w", err)
	}

	return nil
}

func (b *csvBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("csvbackend: seek: %w", err)
	}
	defer func() {
		// Restore pointer to end for writing
		_, _ = b.file.Seek(0, io.SeekEnd)
	}()

	r := csv.NewReader(b.file)

	// Read headers
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []*storage.Record{}, nil
		}
		return nil, fmt.Errorf("csvbackend: read header: %w", err)
	}

	var matched []*storage.Record

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvbackend: read: %w", err)
		}

		if len(row) != len(headers) {
			continue // skip malformed rows
		}

		rec := parseRow(row)
		if filter.Match(rec) {
			matched = append(matched, rec)
		}
	}

	return filter.Page(matched), nil
}

// parseRow is lenient: unparsable numeric or JSON columns become zero values.
func parseRow(row []string) *storage.Record {
	resultCount, _ := strconv.Atoi(row[4])
	var imageURLs []string
	_ = json.Unmarshal([]byte(row[5]), &imageURLs)
	var webResults []serp.WebResult
	_ = json.Unmarshal([]byte(row[6]), &webResults)
	durationMs, _ := strconv.ParseInt(row[7], 10, 64)
	createdAt, _ := time.Parse(time.RFC3339Nano, row[10])

	return &storage.Record{
		ID:          row[0],
		Kind:        serp.Kind(row[1]),
		Query:       row[2],
		URL:         row[3],
		ResultCount: resultCount,
		ImageURLs:   imageURLs,
		WebResults:  webResults,
		Duration:    time.Duration(durationMs) * time.Millisecond,
		ErrorKind:   serp.ErrorKind(row[8]),
		Error:       row[9],
		CreatedAt:   createdAt,
	}
}

func (b *csvBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
