// Package river assembles the ranked cluster view served to the presentation
// layer.
package river

import (
	"context"
	"fmt"
	"time"

	"github.com/climateriver/river/internal/core/links"
	"github.com/climateriver/river/internal/storage"
)

const (
	// View selects the ranking order.
	ViewTop    = "top"
	ViewLatest = "latest"

	// At most this many secondary outlets per cluster, one per host.
	maxSubs = 8

	DefaultWindowHours = 7 * 24
	DefaultLimit       = 30
	MaxLimit           = 50
)

// Sub is one secondary outlet covering the cluster's story.
type Sub struct {
	ArticleID    int64      `json:"article_id"`
	Title        string     `json:"title"`
	URL          string     `json:"url"`
	Host         string     `json:"host"`
	Source       string     `json:"source"`
	Author       string     `json:"author,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	ArticleCount int        `json:"article_count"`
}

// Article is one member article in the by-source listing.
type Article struct {
	ArticleID   int64      `json:"article_id"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Source      string     `json:"source"`
	Author      string     `json:"author,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// ClusterView is one ranked river entry.
type ClusterView struct {
	ClusterID            int64                `json:"cluster_id"`
	LeadArticleID        int64                `json:"lead_article_id"`
	LeadTitle            string               `json:"lead_title"`
	LeadURL              string               `json:"lead_url"`
	LeadDek              string               `json:"lead_dek,omitempty"`
	LeadAuthor           string               `json:"lead_author,omitempty"`
	LeadSource           string               `json:"lead_source"`
	LeadHost             string               `json:"lead_host"`
	LeadHomepage         string               `json:"lead_homepage,omitempty"`
	LeadContentStatus    *string              `json:"lead_content_status,omitempty"`
	LeadContentWordCount *int                 `json:"lead_content_word_count,omitempty"`
	LeadPublishedAt      *time.Time           `json:"lead_published_at,omitempty"`
	Size                 int                  `json:"size"`
	Score                float64              `json:"score"`
	SourcesCount         int64                `json:"sources_count"`
	Subs                 []Sub                `json:"subs"`
	AllArticlesBySource  map[string][]Article `json:"all_articles_by_source"`
}

// Repository is the storage surface the river query uses.
type Repository interface {
	GetRiverClusters(ctx context.Context, isLatest bool, windowHours, limit int, category *string) ([]storage.RiverClusterRow, error)
	ListClusterMembers(ctx context.Context, clusterIDs []int64) ([]storage.ClusterMemberRow, error)
}

// Query serves the ranked river view.
type Query struct {
	repo Repository
}

// NewQuery creates a river query.
func NewQuery(repo Repository) *Query {
	return &Query{repo: repo}
}

// River returns the ranked cluster view. An empty category means no category
// filter; limit is clamped to MaxLimit.
func (q *Query) River(ctx context.Context, view, category string, windowHours, limit int) ([]ClusterView, error) {
	if windowHours <= 0 {
		windowHours = DefaultWindowHours
	}

	if limit <= 0 {
		limit = DefaultLimit
	}

	if limit > MaxLimit {
		limit = MaxLimit
	}

	var cat *string
	if category != "" {
		cat = &category
	}

	rows, err := q.repo.GetRiverClusters(ctx, view == ViewLatest, windowHours, limit, cat)
	if err != nil {
		return nil, fmt.Errorf("river clusters: %w", err)
	}

	if len(rows) == 0 {
		return []ClusterView{}, nil
	}

	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ClusterID
	}

	members, err := q.repo.ListClusterMembers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("cluster members: %w", err)
	}

	byCluster := make(map[int64][]storage.ClusterMemberRow, len(rows))
	for _, m := range members {
		byCluster[m.ClusterID] = append(byCluster[m.ClusterID], m)
	}

	out := make([]ClusterView, 0, len(rows))

	for _, r := range rows {
		view := ClusterView{
			ClusterID:            r.ClusterID,
			LeadArticleID:        r.LeadArticleID,
			LeadTitle:            r.LeadTitle,
			LeadURL:              r.LeadURL,
			LeadDek:              r.LeadDek,
			LeadAuthor:           r.LeadAuthor,
			LeadSource:           r.LeadSource,
			LeadHost:             r.LeadHost,
			LeadHomepage:         r.LeadHomepage,
			LeadContentStatus:    r.LeadContentStatus,
			LeadContentWordCount: r.LeadContentWordCount,
			LeadPublishedAt:      r.LeadPublishedAt,
			Size:                 r.Size,
			Score:                r.Score,
			SourcesCount:         r.SourcesCount,
		}

		clusterMembers := byCluster[r.ClusterID]
		view.Subs = buildSubs(r, clusterMembers)
		view.AllArticlesBySource = groupBySource(clusterMembers)

		out = append(out, view)
	}

	return out, nil
}

// buildSubs picks up to maxSubs non-lead members, one per normalized host.
// Aggregator hosts never appear; the lead's own host is excluded unless it is
// the only non-lead outlet the cluster has.
func buildSubs(lead storage.RiverClusterRow, members []storage.ClusterMemberRow) []Sub {
	leadHost := links.NormalizeHost(lead.LeadHost)

	hostCounts := make(map[string]int)
	for _, m := range members {
		if m.ArticleID == lead.LeadArticleID {
			continue
		}

		hostCounts[links.NormalizeHost(m.PublisherHost)]++
	}

	nonLeadHosts := 0
	for host := range hostCounts {
		if host != leadHost {
			nonLeadHosts++
		}
	}

	allowLeadHost := nonLeadHosts == 0

	subs := make([]Sub, 0, maxSubs)
	seen := make(map[string]bool)

	// Members arrive newest first, so the first article per host wins.
	for _, m := range members {
		if len(subs) >= maxSubs {
			break
		}

		if m.ArticleID == lead.LeadArticleID {
			continue
		}

		host := links.NormalizeHost(m.PublisherHost)
		if seen[host] || links.IsAggregatorHost(m.PublisherHost) {
			continue
		}

		if host == leadHost && !allowLeadHost {
			continue
		}

		seen[host] = true

		subs = append(subs, Sub{
			ArticleID:    m.ArticleID,
			Title:        m.Title,
			URL:          m.URL,
			Host:         host,
			Source:       m.SourceName,
			Author:       m.Author,
			PublishedAt:  m.PublishedAt,
			ArticleCount: hostCounts[host],
		})
	}

	return subs
}

// groupBySource maps normalized host to every member article from that host,
// preserving the newest-first member order.
func groupBySource(members []storage.ClusterMemberRow) map[string][]Article {
	out := make(map[string][]Article)

	for _, m := range members {
		host := links.NormalizeHost(m.PublisherHost)

		out[host] = append(out[host], Article{
			ArticleID:   m.ArticleID,
			Title:       m.Title,
			URL:         m.URL,
			Source:      m.SourceName,
			Author:      m.Author,
			PublishedAt: m.PublishedAt,
		})
	}

	return out
}
