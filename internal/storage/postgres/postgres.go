package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/FranksOps/scour/internal/serp"
	"github.com/FranksOps/scour/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS query_history (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	query TEXT NOT NULL,
	url TEXT NOT NULL,
	result_count INTEGER NOT NULL,
	image_urls JSONB NOT NULL,
	web_results JSONB NOT NULL,
	duration_ms BIGINT NOT NULL,
	error_kind TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS query_history_created_at ON query_history (created_at DESC);
`

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, r *storage.Record) error {
	imagesJSON, err := json.Marshal(r.ImageURLs)
	if err != nil {
		return fmt.Errorf("postgres: marshal image urls: %w", err)
	}
	webJSON, err := json.Marshal(r.WebResults)
	if err != nil {
		return fmt.Errorf("postgres: marshal web results: %w", err)
	}

	query := `
	INSERT INTO query_history (
		id, kind, query, url, result_count, image_urls, web_results, duration_ms, error_kind, error, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = b.pool.Exec(ctx, query,
		r.ID,
		string(r.Kind),
		r.Query,
		r.URL,
		r.ResultCount,
		imagesJSON,
		webJSON,
		r.Duration.Milliseconds(),
		string(r.ErrorKind),
		r.Error,
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert: %w", err)
	}

	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	query := `SELECT id, kind, query, url, result_count, image_urls, web_results, duration_ms, error_kind, error, created_at FROM query_history WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, paramCount)
		args = append(args, string(filter.Kind))
		paramCount++
	}
	if filter.Query != "" {
		query += fmt.Sprintf(` AND query = $%d`, paramCount)
		args = append(args, filter.Query)
		paramCount++
	}
	if filter.Failed != nil {
		if *filter.Failed {
			query += ` AND error <> ''`
		} else {
			query += ` AND error = ''`
		}
	}
	if filter.Since != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, paramCount)
		args = append(args, *filter.Since)
		paramCount++
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, filter.Limit)
		paramCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, paramCount)
		args = append(args, filter.Offset)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	results := []*storage.Record{}
	for rows.Next() {
		var (
			r                   storage.Record
			kind, errKind       string
			imagesJSON, webJSON []byte
			durationMs          int64
		)

		err := rows.Scan(
			&r.ID, &kind, &r.Query, &r.URL, &r.ResultCount, &imagesJSON, &webJSON,
			&durationMs, &errKind, &r.Error, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}

		r.Kind = serp.Kind(kind)
		r.ErrorKind = serp.ErrorKind(errKind)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		if err := json.Unmarshal(imagesJSON, &r.ImageURLs); err != nil {
			return nil, fmt.Errorf("postgres: decode image urls: %w", err)
		}
		if err := json.Unmarshal(webJSON, &r.WebResults); err != nil {
			return nil, fmt.Errorf("postgres: decode web results: %w", err)
		}

		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}

	return results, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
