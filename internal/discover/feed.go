// Package discover finds new sources: RSS endpoints for known sites and
// whole new outlets via chat-completion web discovery.
package discover

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/climateriver/river/internal/core/domain"
	"github.com/climateriver/river/internal/core/links"
)

// Candidate feed paths probed in order; most CMSes answer one of these.
var feedPaths = []string{
	"/feed",
	"/rss",
	"/feed.xml",
	"/atom.xml",
	"/rss.xml",
	"/index.xml",
	"/feeds/posts/default",
}

// SourceRepository is the storage surface feed discovery writes through.
type SourceRepository interface {
	ListWebSources(ctx context.Context, limit int) ([]domain.Source, error)
	UpgradeSourceFeed(ctx context.Context, sourceID int64, feedURL, homepageURL string) error
}

// Fetcher retrieves candidate feed URLs and homepages.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*links.FetchResult, error)
}

// FeedDiscoverer upgrades web:// sources to rss:// descriptors.
type FeedDiscoverer struct {
	repo    SourceRepository
	fetcher Fetcher
	parser  *gofeed.Parser
	logger  *zerolog.Logger
}

// NewFeedDiscoverer creates a feed discoverer.
func NewFeedDiscoverer(repo SourceRepository, fetcher Fetcher, logger *zerolog.Logger) *FeedDiscoverer {
	return &FeedDiscoverer{
		repo:    repo,
		fetcher: fetcher,
		parser:  gofeed.NewParser(),
		logger:  logger,
	}
}

// FeedResult aggregates one feed discovery run.
type FeedResult struct {
	Checked  int
	Upgraded int
}

// Counts converts the result to stage counters.
func (r FeedResult) Counts() map[string]int {
	return map[string]int{"checked": r.Checked, "upgraded": r.Upgraded}
}

// Run probes up to limit web:// sources for a working feed.
func (d *FeedDiscoverer) Run(ctx context.Context, limit int) (FeedResult, error) {
	sources, err := d.repo.ListWebSources(ctx, limit)
	if err != nil {
		return FeedResult{}, fmt.Errorf("list web sources: %w", err)
	}

	var res FeedResult

	for _, src := range sources {
		res.Checked++

		desc, err := domain.ParseFeedDescriptor(src.FeedURL)
		if err != nil || desc.Kind != domain.FeedWeb {
			continue
		}

		host := desc.Value

		feedURL := d.probeFeedPaths(ctx, host)
		if feedURL == "" {
			feedURL = d.probeHomepageLinks(ctx, host)
		}

		if feedURL == "" {
			continue
		}

		homepage := "https://" + host
		if err := d.repo.UpgradeSourceFeed(ctx, src.ID, domain.RSSDescriptor(feedURL), homepage); err != nil {
			d.logger.Error().Err(err).Str("slug", src.Slug).Msg("upgrade source feed failed")

			continue
		}

		d.logger.Info().Str("slug", src.Slug).Str("feed", feedURL).Msg("feed discovered")
		res.Upgraded++
	}

	return res, nil
}

// probeFeedPaths tries the well-known feed paths and returns the first URL
// that parses as a feed with at least one item.
func (d *FeedDiscoverer) probeFeedPaths(ctx context.Context, host string) string {
	for _, path := range feedPaths {
		candidate := "https://" + host + path
		if d.isFeed(ctx, candidate) {
			return candidate
		}
	}

	return ""
}

// probeHomepageLinks falls back to RSS autodiscovery on the homepage.
func (d *FeedDiscoverer) probeHomepageLinks(ctx context.Context, host string) string {
	homepage := "https://" + host

	res, err := d.fetcher.Fetch(ctx, homepage)
	if err != nil || res.StatusCode != http.StatusOK {
		return ""
	}

	for _, href := range ExtractFeedLinks(res.Body) {
		candidate := resolveRef(homepage, href)
		if candidate == "" {
			continue
		}

		if d.isFeed(ctx, candidate) {
			return candidate
		}
	}

	return ""
}

func (d *FeedDiscoverer) isFeed(ctx context.Context, rawURL string) bool {
	res, err := d.fetcher.Fetch(ctx, rawURL)
	if err != nil || res.StatusCode != http.StatusOK {
		return false
	}

	feed, err := d.parser.Parse(bytes.NewReader(res.Body))

	return err == nil && len(feed.Items) > 0
}

// ExtractFeedLinks returns the hrefs of <link rel="alternate"> tags with an
// RSS or Atom type, in document order.
func ExtractFeedLinks(htmlBytes []byte) []string {
	doc, err := html.Parse(bytes.NewReader(htmlBytes))
	if err != nil {
		return nil
	}

	var hrefs []string

	var traverse func(*html.Node)

	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "link" {
			if href := feedLinkHref(n); href != "" {
				hrefs = append(hrefs, href)
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}

	traverse(doc)

	return hrefs
}

func feedLinkHref(n *html.Node) string {
	var rel, typ, href string

	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "rel":
			rel = strings.ToLower(attr.Val)
		case "type":
			typ = strings.ToLower(attr.Val)
		case "href":
			href = attr.Val
		}
	}

	if rel != "alternate" {
		return ""
	}

	if typ != "application/rss+xml" && typ != "application/atom+xml" {
		return ""
	}

	return href
}

func resolveRef(base, href string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}

	return baseURL.ResolveReference(ref).String()
}
