// Package ingest fetches RSS/Atom feeds and upserts their items as articles.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/climateriver/river/internal/core/domain"
	"github.com/climateriver/river/internal/core/links"
	"github.com/climateriver/river/internal/platform/htmlutils"
	"github.com/climateriver/river/internal/platform/retry"
)

const (
	defaultConcurrency = 8
	maxTitleLength     = 500
	maxDekLength       = 1000
)

// ErrNotAFeed indicates the source descriptor is not an rss:// feed.
var ErrNotAFeed = errors.New("source is not an rss feed")

// StatusError reports a non-2xx feed endpoint response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feed fetch status %d", e.Code)
}

// Repository is the storage surface the ingestor writes through.
type Repository interface {
	ListFeedsDue(ctx context.Context, limit int) ([]domain.Source, error)
	RecordFetchResult(ctx context.Context, sourceID int64, ok bool) error
	UpsertArticle(ctx context.Context, a *domain.Article) (int64, bool, error)
}

// Fetcher retrieves raw feed bodies.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*links.FetchResult, error)
	Resolve(ctx context.Context, rawURL string) (string, error)
}

// Ingestor processes due feeds with bounded concurrency and per-host
// single-flight.
type Ingestor struct {
	repo        Repository
	fetcher     Fetcher
	parser      *gofeed.Parser
	logger      *zerolog.Logger
	concurrency int
}

// New creates an ingestor.
func New(repo Repository, fetcher Fetcher, logger *zerolog.Logger) *Ingestor {
	return &Ingestor{
		repo:        repo,
		fetcher:     fetcher,
		parser:      gofeed.NewParser(),
		logger:      logger,
		concurrency: defaultConcurrency,
	}
}

// Result aggregates one ingest run.
type Result struct {
	Fetched  int
	Inserted int
	Updated  int
	Errors   int
}

// Counts converts the result to stage counters.
func (r Result) Counts() map[string]int {
	return map[string]int{
		"fetched":  r.Fetched,
		"inserted": r.Inserted,
		"updated":  r.Updated,
		"errors":   r.Errors,
	}
}

// Run fetches up to limit due feeds. Feeds sharing a normalized host run
// sequentially within one worker so a host never sees two in-flight fetches.
func (i *Ingestor) Run(ctx context.Context, limit int) (Result, error) {
	feeds, err := i.repo.ListFeedsDue(ctx, limit)
	if err != nil {
		return Result{}, fmt.Errorf("list feeds: %w", err)
	}

	groups := groupByHost(feeds)

	var (
		mu    sync.Mutex
		total Result
		wg    sync.WaitGroup
	)

	sem := make(chan struct{}, i.concurrency)

	for _, group := range groups {
		wg.Add(1)

		go func(sources []domain.Source) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			for _, src := range sources {
				res := i.ingestFeed(ctx, src)

				mu.Lock()
				total.Fetched += res.Fetched
				total.Inserted += res.Inserted
				total.Updated += res.Updated
				total.Errors += res.Errors
				mu.Unlock()

				if ctx.Err() != nil {
					return
				}
			}
		}(group)
	}

	wg.Wait()

	return total, nil
}

func (i *Ingestor) ingestFeed(ctx context.Context, src domain.Source) Result {
	var res Result

	feed, err := i.fetchFeed(ctx, src)
	if err != nil {
		i.logger.Warn().Err(err).Str("slug", src.Slug).Msg("feed fetch failed")

		if recErr := i.repo.RecordFetchResult(ctx, src.ID, false); recErr != nil {
			i.logger.Error().Err(recErr).Str("slug", src.Slug).Msg("record fetch result failed")
		}

		res.Errors++

		return res
	}

	res.Fetched++

	for _, item := range feed.Items {
		inserted, updated, itemErr := i.ingestItem(ctx, src, feed, item)
		if itemErr != nil {
			if !errors.Is(itemErr, errSkipped) {
				i.logger.Debug().Err(itemErr).Str("slug", src.Slug).Str("link", item.Link).Msg("item rejected")
				res.Errors++
			}

			continue
		}

		if inserted {
			res.Inserted++
		} else if updated {
			res.Updated++
		}
	}

	if err := i.repo.RecordFetchResult(ctx, src.ID, true); err != nil {
		i.logger.Error().Err(err).Str("slug", src.Slug).Msg("record fetch result failed")
	}

	return res
}

func (i *Ingestor) fetchFeed(ctx context.Context, src domain.Source) (*gofeed.Feed, error) {
	desc, err := domain.ParseFeedDescriptor(src.FeedURL)
	if err != nil {
		return nil, err
	}

	if desc.Kind != domain.FeedRSS {
		return nil, fmt.Errorf("%w: %s", ErrNotAFeed, src.FeedURL)
	}

	var body []byte

	fetch := func() error {
		res, ferr := i.fetcher.Fetch(ctx, desc.FetchURL())
		if ferr != nil {
			return ferr
		}

		if res.StatusCode != http.StatusOK {
			return &StatusError{Code: res.StatusCode}
		}

		body = res.Body

		return nil
	}

	if err := retry.Do(ctx, retry.DefaultConfig(), fetch, isTransient); err != nil {
		return nil, err
	}

	feed, err := i.parser.ParseString(string(body))
	if err != nil {
		// Parse failure is permanent for this fetch; the feed stays.
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	return feed, nil
}

// errSkipped marks items dropped by policy rather than by failure.
var errSkipped = errors.New("item skipped")

func (i *Ingestor) ingestItem(ctx context.Context, src domain.Source, feed *gofeed.Feed, item *gofeed.Item) (inserted, updated bool, err error) {
	if item.Link == "" {
		return false, false, errSkipped
	}

	rawURL := i.resolveLink(ctx, item.Link)

	canonical, err := links.Canonicalize(rawURL)
	if err != nil {
		return false, false, fmt.Errorf("canonicalize: %w", err)
	}

	// The aggregator check runs on the unfolded host: HostOf strips "news."
	// and would let news.google.com through as google.com.
	rawHost := links.RawHostOf(rawURL)
	if links.IsAggregatorHost(rawHost) {
		return false, false, errSkipped
	}

	article := &domain.Article{
		CanonicalURL:      canonical,
		Title:             htmlutils.Truncate(htmlutils.StripHTMLTags(item.Title), maxTitleLength),
		Dek:               htmlutils.Truncate(htmlutils.StripHTMLTags(item.Description), maxDekLength),
		Author:            itemAuthor(item),
		PublisherName:     feed.Title,
		PublisherHost:     rawHost,
		PublisherHomepage: feed.Link,
		SourceID:          src.ID,
		PublishedAt:       itemPublished(item),
	}

	if article.Title == "" {
		return false, false, errSkipped
	}

	_, ins, err := i.repo.UpsertArticle(ctx, article)
	if err != nil {
		return false, false, fmt.Errorf("upsert: %w", err)
	}

	return ins, !ins, nil
}

// resolveLink follows redirects only for known redirector hosts; everything
// else is canonicalized as-is. Matching keys on the unfolded host, like the
// aggregator check.
func (i *Ingestor) resolveLink(ctx context.Context, rawURL string) string {
	if !isRedirectorHost(links.RawHostOf(rawURL)) {
		return rawURL
	}

	resolved, err := i.fetcher.Resolve(ctx, rawURL)
	if err != nil || resolved == "" {
		return rawURL
	}

	return resolved
}

var redirectorHosts = map[string]struct{}{
	"news.google.com":      {},
	"feedproxy.google.com": {},
	"feeds.feedburner.com": {},
	"t.co":                 {},
	"bit.ly":               {},
}

func isRedirectorHost(host string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	_, ok := redirectorHosts[host]

	return ok
}

func itemAuthor(item *gofeed.Item) string {
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return item.Authors[0].Name
	}

	return ""
}

func itemPublished(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed
	}

	if item.UpdatedParsed != nil {
		return item.UpdatedParsed
	}

	if item.Published != "" {
		if t, err := dateparse.ParseAny(item.Published); err == nil {
			return &t
		}
	}

	return nil
}

// groupByHost buckets feeds by normalized fetch host; bucket order follows
// the input so the fairness ordering from the query is preserved.
func groupByHost(feeds []domain.Source) [][]domain.Source {
	index := make(map[string]int)

	var groups [][]domain.Source

	for _, f := range feeds {
		desc, err := domain.ParseFeedDescriptor(f.FeedURL)
		if err != nil || desc.Kind != domain.FeedRSS {
			continue
		}

		host := links.NormalizeHost(links.HostOf(desc.FetchURL()))

		pos, ok := index[host]
		if !ok {
			pos = len(groups)
			index[host] = pos
			groups = append(groups, nil)
		}

		groups[pos] = append(groups[pos], f)
	}

	return groups
}

// isTransient classifies fetch failures: network errors, timeouts and 5xx
// are retried; 4xx and malformed input are not.
func isTransient(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= http.StatusInternalServerError || statusErr.Code == http.StatusTooManyRequests
	}

	if errors.Is(err, links.ErrTooManyRedirects) {
		return false
	}

	return true
}
