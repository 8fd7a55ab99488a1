// Package domain holds the core entities shared by the pipeline stages.
package domain

import "time"

// ContentStatus describes the outcome of a full-content prefetch.
// Statuses are data, not errors: the presentation layer uses them to decide
// whether a "read now" action is shown.
type ContentStatus string

// Content prefetch statuses.
const (
	ContentSuccess  ContentStatus = "success"
	ContentPaywall  ContentStatus = "paywall"
	ContentBlocked  ContentStatus = "blocked"
	ContentTimeout  ContentStatus = "timeout"
	ContentNotFound ContentStatus = "not_found"
	ContentError    ContentStatus = "error"
)

// Fetch statuses recorded on sources.
const (
	FetchStatusOK    = "ok"
	FetchStatusError = "error"
)

// Source is an upstream feed, domain, or discovery query that yields articles.
type Source struct {
	ID                  int64
	Slug                string
	Name                string
	FeedURL             string // descriptor: rss://, web://, web-discovery://
	HomepageURL         string
	Weight              int
	LastFetchStatus     string
	LastFetchedAt       *time.Time
	ConsecutiveFailures int
	CreatedAt           time.Time
}

// Article is a single URL-identified news item from an upstream outlet.
type Article struct {
	ID                int64
	CanonicalURL      string
	Title             string
	Dek               string
	Author            string
	PublisherName     string
	PublisherHost     string // unfolded host, www. stripped only (links.RawHostOf)
	PublisherHomepage string
	SourceID          int64
	PublishedAt       *time.Time
	FetchedAt         time.Time

	Embedding []float32

	ContentText      string
	ContentHTML      string
	ContentWordCount *int
	ContentStatus    ContentStatus
	ContentFetchedAt *time.Time

	RewrittenTitle string
	RewrittenAt    *time.Time
	RewriteModel   string
	RewriteNotes   string
}

// DisplayTitle returns the rewritten title when one was accepted.
func (a *Article) DisplayTitle() string {
	if a.RewrittenTitle != "" {
		return a.RewrittenTitle
	}

	return a.Title
}

// Category is one of the fixed climate category tags.
type Category struct {
	ID          int64
	Slug        string
	Name        string
	Description string
	Color       string
	Keywords    []string
}

// ArticleCategory links an article to a category with a confidence score.
type ArticleCategory struct {
	ArticleID  int64
	CategoryID int64
	Slug       string
	Confidence float64
	IsPrimary  bool
}

// Cluster is a set of articles judged to describe the same story.
type Cluster struct {
	ID  int64
	Key string
}

// ClusterScore is the rolled-up ranking state for one cluster.
type ClusterScore struct {
	ClusterID     int64
	LeadArticleID int64
	Size          int
	Score         float64
	UpdatedAt     time.Time
}
