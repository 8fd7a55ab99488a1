package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// ErrSerializationFailure wraps Postgres serialization failures (SQLSTATE
// 40001) so callers can retry merge transactions.
var ErrSerializationFailure = errors.New("serialization failure")

const sqlstateSerializationFailure = "40001"

// ClusterMatch is the best existing cluster for an embedding.
type ClusterMatch struct {
	ClusterID  int64
	Similarity float64
}

// FindBestCluster returns the cluster whose member is most cosine-similar to
// the embedding among articles within the window, excluding the article
// itself. Returns pgx.ErrNoRows wrapped as a nil match when nothing is close.
func (db *DB) FindBestCluster(ctx context.Context, articleID int64, embedding []float32, windowHours int) (*ClusterMatch, error) {
	var m ClusterMatch

	err := db.Pool.QueryRow(ctx, `
		SELECT ac.cluster_id, 1 - (a.embedding <=> $1::vector) AS similarity
		FROM articles a
		JOIN article_clusters ac ON ac.article_id = a.id
		WHERE a.embedding IS NOT NULL
		  AND a.id <> $2
		  AND COALESCE(a.published_at, a.fetched_at) > now() - make_interval(hours => $3)
		ORDER BY a.embedding <=> $1::vector
		LIMIT 1
	`, pgvector.NewVector(embedding), articleID, windowHours).Scan(&m.ClusterID, &m.Similarity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // intentional: no candidate is not an error
		}

		return nil, fmt.Errorf("find best cluster: %w", err)
	}

	return &m, nil
}

// CreateCluster inserts a new cluster with the given stable key.
func (db *DB) CreateCluster(ctx context.Context, key string) (int64, error) {
	var id int64
	if err := db.Pool.QueryRow(ctx,
		`INSERT INTO clusters (key) VALUES ($1) RETURNING id`, key).Scan(&id); err != nil {
		return 0, fmt.Errorf("create cluster: %w", err)
	}

	return id, nil
}

// AssignArticle adds an article to a cluster. The unique index on article_id
// enforces single membership; a conflict means the article is already
// clustered and the assignment is skipped.
func (db *DB) AssignArticle(ctx context.Context, articleID, clusterID int64) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO article_clusters (article_id, cluster_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, articleID, clusterID)
	if err != nil {
		return false, fmt.Errorf("assign article to cluster: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// UnclusteredArticle is an embedded article with no cluster membership.
type UnclusteredArticle struct {
	ID        int64
	Embedding []float32
}

// ListUnclusteredEmbedded returns embedded articles within the window that
// have no cluster, oldest first so arrival order stays deterministic.
func (db *DB) ListUnclusteredEmbedded(ctx context.Context, windowHours, limit int) ([]UnclusteredArticle, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT a.id, a.embedding
		FROM articles a
		WHERE a.embedding IS NOT NULL
		  AND COALESCE(a.published_at, a.fetched_at) > now() - make_interval(hours => $1)
		  AND NOT EXISTS (SELECT 1 FROM article_clusters ac WHERE ac.article_id = a.id)
		ORDER BY a.id ASC
		LIMIT $2
	`, windowHours, limit)
	if err != nil {
		return nil, fmt.Errorf("list unclustered articles: %w", err)
	}
	defer rows.Close()

	var out []UnclusteredArticle

	for rows.Next() {
		var (
			a   UnclusteredArticle
			vec pgvector.Vector
		)

		if err := rows.Scan(&a.ID, &vec); err != nil {
			return nil, fmt.Errorf("scan unclustered article: %w", err)
		}

		a.Embedding = vec.Slice()
		out = append(out, a)
	}

	return out, rows.Err()
}

// MergeCandidate is a pair of clusters whose members are similar enough to
// describe the same story.
type MergeCandidate struct {
	ClusterA      int64 // lower id
	ClusterB      int64 // higher id
	AvgSimilarity float64
	StrongPairs   int
}

// ListMergeCandidates finds cluster pairs with average cross-similarity
// above avgThreshold and at least minStrong cross-pairs above
// strongThreshold, considering members within the window.
func (db *DB) ListMergeCandidates(ctx context.Context, windowHours int,
	avgThreshold, strongThreshold float64, minStrong int) ([]MergeCandidate, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT xa.cluster_id AS cluster_a,
		       ya.cluster_id AS cluster_b,
		       avg(1 - (x.embedding <=> y.embedding)) AS avg_similarity,
		       count(*) FILTER (WHERE 1 - (x.embedding <=> y.embedding) > $4) AS strong_pairs
		FROM article_clusters xa
		JOIN articles x ON x.id = xa.article_id
		JOIN article_clusters ya ON ya.cluster_id > xa.cluster_id
		JOIN articles y ON y.id = ya.article_id
		WHERE x.embedding IS NOT NULL AND y.embedding IS NOT NULL
		  AND COALESCE(x.published_at, x.fetched_at) > now() - make_interval(hours => $1)
		  AND COALESCE(y.published_at, y.fetched_at) > now() - make_interval(hours => $1)
		GROUP BY xa.cluster_id, ya.cluster_id
		HAVING avg(1 - (x.embedding <=> y.embedding)) > $2
		   AND count(*) FILTER (WHERE 1 - (x.embedding <=> y.embedding) > $4) >= $3
		ORDER BY avg(1 - (x.embedding <=> y.embedding)) DESC
	`, windowHours, avgThreshold, minStrong, strongThreshold)
	if err != nil {
		return nil, fmt.Errorf("list merge candidates: %w", err)
	}
	defer rows.Close()

	var out []MergeCandidate

	for rows.Next() {
		var c MergeCandidate
		if err := rows.Scan(&c.ClusterA, &c.ClusterB, &c.AvgSimilarity, &c.StrongPairs); err != nil {
			return nil, fmt.Errorf("scan merge candidate: %w", err)
		}

		out = append(out, c)
	}

	return out, rows.Err()
}

// ClusterSizes returns the current member count for each given cluster.
// Clusters that no longer exist are absent from the map.
func (db *DB) ClusterSizes(ctx context.Context, clusterIDs []int64) (map[int64]int, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT cluster_id, count(*)
		FROM article_clusters
		WHERE cluster_id = ANY($1)
		GROUP BY cluster_id
	`, clusterIDs)
	if err != nil {
		return nil, fmt.Errorf("cluster sizes: %w", err)
	}
	defer rows.Close()

	sizes := make(map[int64]int, len(clusterIDs))

	for rows.Next() {
		var (
			id int64
			n  int
		)

		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan cluster size: %w", err)
		}

		sizes[id] = n
	}

	return sizes, rows.Err()
}

// MergeClusters moves every member of fromID into toID and deletes the
// emptied cluster and its score row, all in one serializable transaction so
// the single-membership invariant holds under concurrent assignment.
// The surviving cluster's score row is left for the scorer.
func (db *DB) MergeClusters(ctx context.Context, fromID, toID int64) error {
	err := pgx.BeginTxFunc(ctx, db.Pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE article_clusters SET cluster_id = $2 WHERE cluster_id = $1`, fromID, toID); err != nil {
			return fmt.Errorf("move members: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM cluster_scores WHERE cluster_id = $1`, fromID); err != nil {
			return fmt.Errorf("delete merged score: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM clusters WHERE id = $1`, fromID); err != nil {
			return fmt.Errorf("delete merged cluster: %w", err)
		}

		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == sqlstateSerializationFailure {
			return fmt.Errorf("%w: %w", ErrSerializationFailure, err)
		}

		return fmt.Errorf("merge clusters: %w", err)
	}

	return nil
}

// DeleteOrphanClusters removes cluster_scores and clusters rows whose
// cluster has no remaining members.
func (db *DB) DeleteOrphanClusters(ctx context.Context) (int64, error) {
	if _, err := db.Pool.Exec(ctx, `
		DELETE FROM cluster_scores cs
		WHERE NOT EXISTS (SELECT 1 FROM article_clusters ac WHERE ac.cluster_id = cs.cluster_id)
	`); err != nil {
		return 0, fmt.Errorf("delete orphan scores: %w", err)
	}

	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM clusters c
		WHERE NOT EXISTS (SELECT 1 FROM article_clusters ac WHERE ac.cluster_id = c.id)
	`)
	if err != nil {
		return 0, fmt.Errorf("delete orphan clusters: %w", err)
	}

	return tag.RowsAffected(), nil
}
