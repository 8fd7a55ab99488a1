package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/climateriver/river/internal/core/domain"
)

// Source status flips to error only after this many consecutive failed
// fetches; a single transient failure keeps the feed healthy.
const fetchFailureThreshold = 3

// ListFeedsDue returns up to limit rss:// sources ordered for fairness:
// least recently fetched first, then highest weight.
func (db *DB) ListFeedsDue(ctx context.Context, limit int) ([]domain.Source, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, slug, name, feed_url, homepage_url, weight,
		       COALESCE(last_fetch_status, ''), last_fetched_at, consecutive_failures, created_at
		FROM sources
		WHERE feed_url LIKE 'rss://%'
		ORDER BY last_fetched_at ASC NULLS FIRST, weight DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list feeds due: %w", err)
	}
	defer rows.Close()

	return scanSources(rows)
}

// ListWebSources returns web:// sources that still need feed discovery.
func (db *DB) ListWebSources(ctx context.Context, limit int) ([]domain.Source, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, slug, name, feed_url, homepage_url, weight,
		       COALESCE(last_fetch_status, ''), last_fetched_at, consecutive_failures, created_at
		FROM sources
		WHERE feed_url LIKE 'web://%'
		ORDER BY last_fetched_at ASC NULLS FIRST, weight DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list web sources: %w", err)
	}
	defer rows.Close()

	return scanSources(rows)
}

func scanSources(rows pgx.Rows) ([]domain.Source, error) {
	var sources []domain.Source

	for rows.Next() {
		var s domain.Source
		if err := rows.Scan(&s.ID, &s.Slug, &s.Name, &s.FeedURL, &s.HomepageURL, &s.Weight,
			&s.LastFetchStatus, &s.LastFetchedAt, &s.ConsecutiveFailures, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}

		sources = append(sources, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}

	return sources, nil
}

// RecordFetchResult records a feed fetch outcome. Success resets the failure
// counter; failures accumulate and flip the status to error only at the
// threshold.
func (db *DB) RecordFetchResult(ctx context.Context, sourceID int64, ok bool) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE sources SET
			last_fetched_at = now(),
			consecutive_failures = CASE WHEN $2 THEN 0 ELSE consecutive_failures + 1 END,
			last_fetch_status = CASE
				WHEN $2 THEN $3
				WHEN consecutive_failures + 1 >= $4 THEN $5
				ELSE COALESCE(last_fetch_status, $3)
			END
		WHERE id = $1
	`, sourceID, ok, domain.FetchStatusOK, fetchFailureThreshold, domain.FetchStatusError)
	if err != nil {
		return fmt.Errorf("record fetch result: %w", err)
	}

	return nil
}

// CreateSource inserts a new source, returning its id and whether a row was
// created. Slug collisions mean the source already exists.
func (db *DB) CreateSource(ctx context.Context, s domain.Source) (int64, bool, error) {
	var id int64

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO sources (slug, name, feed_url, homepage_url, weight)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING
		RETURNING id
	`, s.Slug, s.Name, s.FeedURL, s.HomepageURL, s.Weight).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			existing, lookupErr := db.findSource(ctx, s.Slug, s.FeedURL)
			if lookupErr != nil {
				return 0, false, lookupErr
			}

			return existing, false, nil
		}

		return 0, false, fmt.Errorf("create source: %w", err)
	}

	return id, true, nil
}

// findSource resolves the existing row after an upsert conflict, which may
// be on either the slug or the feed_url constraint.
func (db *DB) findSource(ctx context.Context, slug, feedURL string) (int64, error) {
	var id int64
	if err := db.Pool.QueryRow(ctx,
		`SELECT id FROM sources WHERE slug = $1 OR feed_url = $2 LIMIT 1`,
		slug, feedURL).Scan(&id); err != nil {
		return 0, fmt.Errorf("find source: %w", err)
	}

	return id, nil
}

// UpgradeSourceFeed replaces a source's descriptor after feed discovery
// found a working RSS endpoint, optionally filling the homepage.
func (db *DB) UpgradeSourceFeed(ctx context.Context, sourceID int64, feedURL, homepageURL string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE sources SET
			feed_url = $2,
			homepage_url = CASE WHEN homepage_url = '' THEN $3 ELSE homepage_url END
		WHERE id = $1
	`, sourceID, feedURL, homepageURL)
	if err != nil {
		return fmt.Errorf("upgrade source feed: %w", err)
	}

	return nil
}
