package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/FranksOps/scour/internal/serp"
	"github.com/FranksOps/scour/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS query_history (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	query TEXT NOT NULL,
	url TEXT NOT NULL,
	result_count INTEGER NOT NULL,
	image_urls TEXT NOT NULL,
	web_results TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	error_kind TEXT,
	error TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS query_history_created_at ON query_history (created_at);
`

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, r *storage.Record) error {
	imagesJSON, err := json.Marshal(r.ImageURLs)
	if err != nil {
		return fmt.Errorf("sqlite: marshal image urls: %w", err)
	}
	webJSON, err := json.Marshal(r.WebResults)
	if err != nil {
		return fmt.Errorf("sqlite: marshal web results: %w", err)
	}

	query := `
	INSERT INTO query_history (
		id, kind, query, url, result_count, image_urls, web_results, duration_ms, error_kind, error, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = b.db.ExecContext(ctx, query,
		r.ID,
		string(r.Kind),
		r.Query,
		r.URL,
		r.ResultCount,
		string(imagesJSON),
		string(webJSON),
		r.Duration.Milliseconds(),
		string(r.ErrorKind),
		r.Error,
		r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert: %w", err)
	}

	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	query := `SELECT id, kind, query, url, result_count, image_urls, web_results, duration_ms, error_kind, error, created_at FROM query_history WHERE 1=1`
	args := []any{}

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Query != "" {
		query += ` AND query = ?`
		args = append(args, filter.Query)
	}
	if filter.Failed != nil {
		if *filter.Failed {
			query += ` AND error <> ''`
		} else {
			query += ` AND (error IS NULL OR error = '')`
		}
	}
	if filter.Since != nil {
		// created_at is stored as text, so both sides must be UTC to compare.
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		// SQLite only accepts OFFSET after LIMIT.
		query += ` LIMIT -1`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	results := []*storage.Record{}
	for rows.Next() {
		var (
			r                   storage.Record
			kind, errKind       string
			imagesJSON, webJSON string
			durationMs          int64
			errText             sql.NullString
		)

		err := rows.Scan(
			&r.ID, &kind, &r.Query, &r.URL, &r.ResultCount, &imagesJSON, &webJSON,
			&durationMs, &errKind, &errText, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}

		r.Kind = serp.Kind(kind)
		r.ErrorKind = serp.ErrorKind(errKind)
		r.Error = errText.String
		r.Duration = time.Duration(durationMs) * time.Millisecond
		if err := json.Unmarshal([]byte(imagesJSON), &r.ImageURLs); err != nil {
			return nil, fmt.Errorf("sqlite: decode image urls: %w", err)
		}
		if err := json.Unmarshal([]byte(webJSON), &r.WebResults); err != nil {
			return nil, fmt.Errorf("sqlite: decode web results: %w", err)
		}

		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows: %w", err)
	}

	return results, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
