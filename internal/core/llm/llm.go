// Package llm wraps the chat-completion service used for headline rewriting
// and web discovery.
package llm

import "context"

// DiscoveredArticle is one URL returned by a web-discovery completion.
type DiscoveredArticle struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	PublishedAt string `json:"published_at,omitempty"`
}

// Client is the chat-completion surface the pipeline depends on.
type Client interface {
	// RewriteHeadline asks for a rewritten title for the given title and dek.
	// It returns the raw candidate; acceptance checks belong to the caller.
	RewriteHeadline(ctx context.Context, title, dek string) (string, error)

	// DiscoverArticles asks for up to perQuery recent article URLs matching
	// the query.
	DiscoverArticles(ctx context.Context, query string, perQuery int) ([]DiscoveredArticle, error)
}
