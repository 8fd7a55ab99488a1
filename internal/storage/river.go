package storage

import (
	"context"
	"fmt"
	"time"
)

// RiverClusterRow is one ranked cluster as returned by get_river_clusters.
type RiverClusterRow struct {
	ClusterID            int64
	LeadArticleID        int64
	LeadTitle            string
	LeadURL              string
	LeadDek              string
	LeadAuthor           string
	LeadSource           string
	LeadHost             string
	LeadHomepage         string
	LeadContentStatus    *string
	LeadContentWordCount *int
	LeadPublishedAt      *time.Time
	Size                 int
	Score                float64
	SourcesCount         int64
}

// GetRiverClusters calls the get_river_clusters stored function.
func (db *DB) GetRiverClusters(ctx context.Context, isLatest bool, windowHours, limit int, category *string) ([]RiverClusterRow, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT * FROM get_river_clusters($1, $2, $3, $4)`,
		isLatest, windowHours, limit, category)
	if err != nil {
		return nil, fmt.Errorf("get river clusters: %w", err)
	}
	defer rows.Close()

	var out []RiverClusterRow

	for rows.Next() {
		var r RiverClusterRow
		if err := rows.Scan(&r.ClusterID, &r.LeadArticleID, &r.LeadTitle, &r.LeadURL,
			&r.LeadDek, &r.LeadAuthor, &r.LeadSource, &r.LeadHost, &r.LeadHomepage,
			&r.LeadContentStatus, &r.LeadContentWordCount, &r.LeadPublishedAt,
			&r.Size, &r.Score, &r.SourcesCount); err != nil {
			return nil, fmt.Errorf("scan river cluster: %w", err)
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

// ClusterMemberRow is one member article of a river cluster.
type ClusterMemberRow struct {
	ClusterID     int64
	ArticleID     int64
	Title         string
	URL           string
	PublisherHost string
	SourceName    string
	Author        string
	PublishedAt   *time.Time
	SourceID      *int64
}

// ListClusterMembers loads all member articles for the given clusters,
// newest first within each cluster, with a deterministic id tiebreak.
func (db *DB) ListClusterMembers(ctx context.Context, clusterIDs []int64) ([]ClusterMemberRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT ac.cluster_id, a.id,
		       COALESCE(NULLIF(a.rewritten_title, ''), a.title),
		       a.canonical_url, a.publisher_host,
		       COALESCE(NULLIF(a.publisher_name, ''), s.name, ''),
		       a.author, a.published_at, a.source_id
		FROM article_clusters ac
		JOIN articles a ON a.id = ac.article_id
		LEFT JOIN sources s ON s.id = a.source_id
		WHERE ac.cluster_id = ANY($1)
		ORDER BY ac.cluster_id, a.published_at DESC NULLS LAST, a.id DESC
	`, clusterIDs)
	if err != nil {
		return nil, fmt.Errorf("list cluster members: %w", err)
	}
	defer rows.Close()

	var out []ClusterMemberRow

	for rows.Next() {
		var m ClusterMemberRow
		if err := rows.Scan(&m.ClusterID, &m.ArticleID, &m.Title, &m.URL, &m.PublisherHost,
			&m.SourceName, &m.Author, &m.PublishedAt, &m.SourceID); err != nil {
			return nil, fmt.Errorf("scan cluster member: %w", err)
		}

		out = append(out, m)
	}

	return out, rows.Err()
}
