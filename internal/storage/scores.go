package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/climateriver/river/internal/core/domain"
)

// ClusterAggregate is the raw material the scorer needs for one cluster:
// total size, the newest member's publish time, and the lead article.
type ClusterAggregate struct {
	ClusterID     int64
	Size          int
	NewestAt      time.Time
	LeadArticleID int64
}

// ListClusterAggregates returns aggregates for every cluster with at least
// one article inside the window. Size counts all members; the lead is the
// member with the most recent published_at, ties broken by highest id.
func (db *DB) ListClusterAggregates(ctx context.Context, windowHours int) ([]ClusterAggregate, error) {
	rows, err := db.Pool.Query(ctx, `
		WITH windowed AS (
			SELECT DISTINCT ac.cluster_id
			FROM article_clusters ac
			JOIN articles a ON a.id = ac.article_id
			WHERE COALESCE(a.published_at, a.fetched_at) > now() - make_interval(hours => $1)
		)
		SELECT w.cluster_id,
		       (SELECT count(*) FROM article_clusters ac WHERE ac.cluster_id = w.cluster_id),
		       (SELECT max(COALESCE(a.published_at, a.fetched_at))
		          FROM article_clusters ac JOIN articles a ON a.id = ac.article_id
		         WHERE ac.cluster_id = w.cluster_id),
		       (SELECT a.id
		          FROM article_clusters ac JOIN articles a ON a.id = ac.article_id
		         WHERE ac.cluster_id = w.cluster_id
		         ORDER BY a.published_at DESC NULLS LAST, a.id DESC
		         LIMIT 1)
		FROM windowed w
		ORDER BY w.cluster_id
	`, windowHours)
	if err != nil {
		return nil, fmt.Errorf("list cluster aggregates: %w", err)
	}
	defer rows.Close()

	var out []ClusterAggregate

	for rows.Next() {
		var agg ClusterAggregate
		if err := rows.Scan(&agg.ClusterID, &agg.Size, &agg.NewestAt, &agg.LeadArticleID); err != nil {
			return nil, fmt.Errorf("scan cluster aggregate: %w", err)
		}

		out = append(out, agg)
	}

	return out, rows.Err()
}

// UpsertClusterScores writes all score rows in a single transaction, so the
// river never sees a half-updated ranking.
func (db *DB) UpsertClusterScores(ctx context.Context, scores []domain.ClusterScore) error {
	if len(scores) == 0 {
		return nil
	}

	err := pgx.BeginTxFunc(ctx, db.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, s := range scores {
			if _, err := tx.Exec(ctx, `
				INSERT INTO cluster_scores (cluster_id, lead_article_id, size, score, updated_at)
				VALUES ($1, $2, $3, $4, now())
				ON CONFLICT (cluster_id) DO UPDATE SET
					lead_article_id = EXCLUDED.lead_article_id,
					size = EXCLUDED.size,
					score = EXCLUDED.score,
					updated_at = now()
			`, s.ClusterID, s.LeadArticleID, s.Size, s.Score); err != nil {
				return fmt.Errorf("upsert score for cluster %d: %w", s.ClusterID, err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert cluster scores: %w", err)
	}

	return nil
}
