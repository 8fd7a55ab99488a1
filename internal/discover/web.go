package discover

import (
	"context"

	"github.com/araddon/dateparse"
	"github.com/rs/zerolog"

	"github.com/climateriver/river/internal/core/domain"
	"github.com/climateriver/river/internal/core/links"
	"github.com/climateriver/river/internal/core/llm"
	"github.com/climateriver/river/internal/platform/htmlutils"
)

// Weight assigned to sources created by web discovery; seeded feeds rank
// higher until a discovered outlet proves itself.
const discoveredSourceWeight = 4

// Standing discovery queries for the daily pass.
var defaultQueries = []string{
	"climate change policy news this week",
	"renewable energy project announcements",
	"extreme weather climate impact reporting",
	"carbon emissions regulation news",
	"climate science study findings",
	"climate adaptation local news",
}

// breakingQueries is the smaller, time-sensitive list used in breaking mode.
var breakingQueries = []string{
	"breaking climate news today",
	"major extreme weather event now",
	"climate policy announcement today",
}

// WebRepository is the storage surface web discovery writes through.
type WebRepository interface {
	CreateSource(ctx context.Context, s domain.Source) (int64, bool, error)
	UpsertArticle(ctx context.Context, a *domain.Article) (int64, bool, error)
}

// WebDiscoverer turns chat-completion answers into new sources and articles.
type WebDiscoverer struct {
	repo   WebRepository
	client llm.Client
	logger *zerolog.Logger
}

// NewWebDiscoverer creates a web discoverer.
func NewWebDiscoverer(repo WebRepository, client llm.Client, logger *zerolog.Logger) *WebDiscoverer {
	return &WebDiscoverer{repo: repo, client: client, logger: logger}
}

// WebResult aggregates one web discovery run.
type WebResult struct {
	Queries    int
	URLs       int
	NewSources int
	Articles   int
	Errors     int
}

// Counts converts the result to stage counters.
func (r WebResult) Counts() map[string]int {
	return map[string]int{
		"queries":     r.Queries,
		"urls":        r.URLs,
		"new_sources": r.NewSources,
		"articles":    r.Articles,
		"errors":      r.Errors,
	}
}

// Run executes up to maxQueries discovery queries with perQuery results each.
// Breaking mode swaps in the time-sensitive query list.
func (d *WebDiscoverer) Run(ctx context.Context, maxQueries, perQuery int, breaking bool) (WebResult, error) {
	queries := defaultQueries
	if breaking {
		queries = breakingQueries
	}

	if maxQueries > 0 && maxQueries < len(queries) {
		queries = queries[:maxQueries]
	}

	var res WebResult

	for _, query := range queries {
		res.Queries++

		articles, err := d.client.DiscoverArticles(ctx, query, perQuery)
		if err != nil {
			d.logger.Warn().Err(err).Str("query", query).Msg("discovery query failed")
			res.Errors++

			continue
		}

		for _, a := range articles {
			if d.ingestDiscovered(ctx, a, &res) {
				res.URLs++
			}
		}
	}

	return res, nil
}

func (d *WebDiscoverer) ingestDiscovered(ctx context.Context, a llm.DiscoveredArticle, res *WebResult) bool {
	canonical, err := links.Canonicalize(a.URL)
	if err != nil {
		return false
	}

	// Aggregators are rejected on the unfolded host; HostOf strips "news."
	// and would hide news.google.com from the blocklist.
	rawHost := links.RawHostOf(a.URL)
	if rawHost == "" || links.IsAggregatorHost(rawHost) {
		return false
	}

	host := links.NormalizeHost(rawHost)

	sourceID, created, err := d.repo.CreateSource(ctx, domain.Source{
		Slug:        Slugify(host),
		Name:        host,
		FeedURL:     domain.WebDescriptor(host),
		HomepageURL: "https://" + host,
		Weight:      discoveredSourceWeight,
	})
	if err != nil {
		d.logger.Error().Err(err).Str("host", host).Msg("create discovered source failed")
		res.Errors++

		return false
	}

	if created {
		res.NewSources++
	}

	article := &domain.Article{
		CanonicalURL:  canonical,
		Title:         htmlutils.StripHTMLTags(a.Title),
		PublisherHost: rawHost,
		SourceID:      sourceID,
	}

	if a.PublishedAt != "" {
		if t, err := dateparse.ParseAny(a.PublishedAt); err == nil {
			article.PublishedAt = &t
		}
	}

	if article.Title == "" {
		// A bare URL still seeds the source; without a title there is no
		// article worth keeping.
		return true
	}

	if _, _, err := d.repo.UpsertArticle(ctx, article); err != nil {
		d.logger.Error().Err(err).Str("url", canonical).Msg("upsert discovered article failed")
		res.Errors++

		return false
	}

	res.Articles++

	return true
}
