package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/climateriver/river/internal/core/domain"
)

// UpsertArticle inserts an article by canonical URL. On conflict only the
// non-identifying fields (title, dek, author, published_at) are overwritten,
// and only when the incoming record is newer than the stored fetched_at.
// Returns the article id and whether a new row was inserted.
func (db *DB) UpsertArticle(ctx context.Context, a *domain.Article) (int64, bool, error) {
	var (
		id       int64
		inserted bool
	)

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO articles (canonical_url, title, dek, author,
		                      publisher_name, publisher_host, publisher_homepage,
		                      source_id, published_at, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (canonical_url) DO UPDATE SET
			title        = CASE WHEN articles.fetched_at <= EXCLUDED.fetched_at AND EXCLUDED.title <> '' THEN EXCLUDED.title ELSE articles.title END,
			dek          = CASE WHEN articles.fetched_at <= EXCLUDED.fetched_at AND EXCLUDED.dek <> '' THEN EXCLUDED.dek ELSE articles.dek END,
			author       = CASE WHEN articles.fetched_at <= EXCLUDED.fetched_at AND EXCLUDED.author <> '' THEN EXCLUDED.author ELSE articles.author END,
			published_at = COALESCE(EXCLUDED.published_at, articles.published_at),
			fetched_at   = EXCLUDED.fetched_at
		RETURNING id, (xmax = 0) AS inserted
	`, a.CanonicalURL, a.Title, a.Dek, a.Author,
		a.PublisherName, a.PublisherHost, a.PublisherHomepage,
		nullableID(a.SourceID), a.PublishedAt).Scan(&id, &inserted)
	if err != nil {
		return 0, false, fmt.Errorf("upsert article: %w", err)
	}

	return id, inserted, nil
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}

	return &id
}

// PrefetchCandidate is an article awaiting a content prefetch.
type PrefetchCandidate struct {
	ID            int64
	CanonicalURL  string
	PublisherHost string
}

// ListPrefetchCandidates returns recent articles that have never been
// content-fetched, newest first.
func (db *DB) ListPrefetchCandidates(ctx context.Context, limit int) ([]PrefetchCandidate, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, canonical_url, publisher_host
		FROM articles
		WHERE content_status IS NULL
		ORDER BY published_at DESC NULLS LAST, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list prefetch candidates: %w", err)
	}
	defer rows.Close()

	var out []PrefetchCandidate

	for rows.Next() {
		var c PrefetchCandidate
		if err := rows.Scan(&c.ID, &c.CanonicalURL, &c.PublisherHost); err != nil {
			return nil, fmt.Errorf("scan prefetch candidate: %w", err)
		}

		out = append(out, c)
	}

	return out, rows.Err()
}

// GetPrefetchCandidates loads the fetch fields for an explicit id set.
func (db *DB) GetPrefetchCandidates(ctx context.Context, ids []int64) ([]PrefetchCandidate, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, canonical_url, publisher_host
		FROM articles
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("get prefetch candidates: %w", err)
	}
	defer rows.Close()

	var out []PrefetchCandidate

	for rows.Next() {
		var c PrefetchCandidate
		if err := rows.Scan(&c.ID, &c.CanonicalURL, &c.PublisherHost); err != nil {
			return nil, fmt.Errorf("scan prefetch candidate: %w", err)
		}

		out = append(out, c)
	}

	return out, rows.Err()
}

// UpdateContent persists a prefetch outcome. startedAt is when the caller
// began its fetch; the conditional drops the write when another run already
// persisted a result after that point, so the last fetch to start never
// clobbers a fresher one.
func (db *DB) UpdateContent(ctx context.Context, articleID int64, status domain.ContentStatus,
	text, html string, wordCount *int, startedAt time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE articles SET
			content_status = $2,
			content_text = NULLIF($3, ''),
			content_html = NULLIF($4, ''),
			content_word_count = $5,
			content_fetched_at = now()
		WHERE id = $1
		  AND (content_fetched_at IS NULL OR content_fetched_at < $6)
	`, articleID, string(status), text, html, wordCount, startedAt)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}

	return nil
}

// EmbeddingCandidate is an article missing its embedding vector.
type EmbeddingCandidate struct {
	ID    int64
	Title string
	Dek   string
}

// ListArticlesMissingEmbedding returns recent articles without an embedding.
func (db *DB) ListArticlesMissingEmbedding(ctx context.Context, windowHours, limit int) ([]EmbeddingCandidate, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, title, dek
		FROM articles
		WHERE embedding IS NULL
		  AND fetched_at > now() - make_interval(hours => $1)
		ORDER BY fetched_at DESC
		LIMIT $2
	`, windowHours, limit)
	if err != nil {
		return nil, fmt.Errorf("list articles missing embedding: %w", err)
	}
	defer rows.Close()

	var out []EmbeddingCandidate

	for rows.Next() {
		var c EmbeddingCandidate
		if err := rows.Scan(&c.ID, &c.Title, &c.Dek); err != nil {
			return nil, fmt.Errorf("scan embedding candidate: %w", err)
		}

		out = append(out, c)
	}

	return out, rows.Err()
}

// SetEmbedding stores an article's embedding vector.
func (db *DB) SetEmbedding(ctx context.Context, articleID int64, embedding []float32) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE articles SET embedding = $2 WHERE id = $1`,
		articleID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}

	return nil
}

// DeleteArticlesOlderThan removes articles beyond the retention horizon,
// treating missing publish dates as fetch time. Junction rows cascade.
func (db *DB) DeleteArticlesOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM articles
		WHERE COALESCE(published_at, fetched_at) < now() - make_interval(days => $1)
	`, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("delete old articles: %w", err)
	}

	return tag.RowsAffected(), nil
}
