package storage

import (
	"context"
	"fmt"
)

// RewriteCandidate is an article eligible for headline rewriting.
type RewriteCandidate struct {
	ID    int64
	Title string
	Dek   string
}

// ListRewriteCandidates returns articles from the last N days with a publish
// date, no accepted rewrite and no prior attempt, preferring cluster leads.
func (db *DB) ListRewriteCandidates(ctx context.Context, days, limit int) ([]RewriteCandidate, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT a.id, a.title, a.dek
		FROM articles a
		WHERE a.published_at IS NOT NULL
		  AND a.published_at > now() - make_interval(days => $1)
		  AND a.rewritten_title = ''
		  AND a.rewritten_at IS NULL
		ORDER BY EXISTS (SELECT 1 FROM cluster_scores cs WHERE cs.lead_article_id = a.id) DESC,
		         a.published_at DESC
		LIMIT $2
	`, days, limit)
	if err != nil {
		return nil, fmt.Errorf("list rewrite candidates: %w", err)
	}
	defer rows.Close()

	var out []RewriteCandidate

	for rows.Next() {
		var c RewriteCandidate
		if err := rows.Scan(&c.ID, &c.Title, &c.Dek); err != nil {
			return nil, fmt.Errorf("scan rewrite candidate: %w", err)
		}

		out = append(out, c)
	}

	return out, rows.Err()
}

// RecordRewrite persists a rewrite attempt. An accepted rewrite carries the
// new title; a rejection leaves title empty and records the reasons in
// notes. Either way rewritten_at marks the attempt so it is not retried.
func (db *DB) RecordRewrite(ctx context.Context, articleID int64, title, model, notes string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE articles SET
			rewritten_title = $2,
			rewritten_at = now(),
			rewrite_model = $3,
			rewrite_notes = $4
		WHERE id = $1
	`, articleID, title, model, notes)
	if err != nil {
		return fmt.Errorf("record rewrite: %w", err)
	}

	return nil
}
