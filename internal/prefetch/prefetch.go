// Package prefetch retrieves full article bodies and classifies the outcome.
package prefetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/climateriver/river/internal/core/domain"
	"github.com/climateriver/river/internal/core/links"
	"github.com/climateriver/river/internal/storage"
)

const (
	defaultConcurrency = 3
	minWordCount       = 100
)

// Hosts that hard-paywall their content; fetching them wastes politeness
// budget, so they are classified without an HTTP request.
var paywalledHosts = map[string]struct{}{
	"nytimes.com":       {},
	"wsj.com":           {},
	"ft.com":            {},
	"economist.com":     {},
	"bloomberg.com":     {},
	"washingtonpost.com": {},
	"newyorker.com":     {},
	"theathletic.com":   {},
	"foreignpolicy.com": {},
}

// Repository is the storage surface the prefetcher uses.
type Repository interface {
	ListPrefetchCandidates(ctx context.Context, limit int) ([]storage.PrefetchCandidate, error)
	GetPrefetchCandidates(ctx context.Context, ids []int64) ([]storage.PrefetchCandidate, error)
	UpdateContent(ctx context.Context, articleID int64, status domain.ContentStatus, text, html string, wordCount *int, startedAt time.Time) error
}

// Fetcher retrieves article pages.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*links.FetchResult, error)
}

// Prefetcher fetches and extracts article bodies with bounded concurrency.
type Prefetcher struct {
	repo        Repository
	fetcher     Fetcher
	logger      *zerolog.Logger
	concurrency int
}

// New creates a prefetcher.
func New(repo Repository, fetcher Fetcher, logger *zerolog.Logger) *Prefetcher {
	return &Prefetcher{
		repo:        repo,
		fetcher:     fetcher,
		logger:      logger,
		concurrency: defaultConcurrency,
	}
}

// Result aggregates one prefetch run by outcome status.
type Result struct {
	Processed int
	ByStatus  map[string]int
}

// Counts converts the result to stage counters.
func (r Result) Counts() map[string]int {
	counts := map[string]int{"processed": r.Processed}
	for status, n := range r.ByStatus {
		counts[status] = n
	}

	return counts
}

// Run prefetches content for the given ids, or for up to limit pending
// articles when ids is empty. There are no in-run retries; rescheduling is
// the caller's job.
func (p *Prefetcher) Run(ctx context.Context, ids []int64, limit int) (Result, error) {
	var (
		candidates []storage.PrefetchCandidate
		err        error
	)

	if len(ids) > 0 {
		candidates, err = p.repo.GetPrefetchCandidates(ctx, ids)
	} else {
		candidates, err = p.repo.ListPrefetchCandidates(ctx, limit)
	}

	if err != nil {
		return Result{}, fmt.Errorf("load candidates: %w", err)
	}

	res := Result{ByStatus: make(map[string]int)}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	sem := make(chan struct{}, p.concurrency)

	for _, c := range candidates {
		wg.Add(1)

		go func(c storage.PrefetchCandidate) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			status := p.prefetchOne(ctx, c)

			mu.Lock()
			res.Processed++
			res.ByStatus[string(status)]++
			mu.Unlock()
		}(c)
	}

	wg.Wait()

	return res, nil
}

func (p *Prefetcher) prefetchOne(ctx context.Context, c storage.PrefetchCandidate) domain.ContentStatus {
	started := time.Now()

	status, text, html, wordCount := p.fetchAndClassify(ctx, c)

	var wc *int
	if status == domain.ContentSuccess {
		wc = &wordCount
	}

	if err := p.repo.UpdateContent(ctx, c.ID, status, text, html, wc, started); err != nil {
		p.logger.Error().Err(err).Int64("article_id", c.ID).Msg("persist content failed")

		return domain.ContentError
	}

	return status
}

func (p *Prefetcher) fetchAndClassify(ctx context.Context, c storage.PrefetchCandidate) (domain.ContentStatus, string, string, int) {
	if isPaywalledHost(c.PublisherHost) {
		return domain.ContentPaywall, "", "", 0
	}

	res, err := p.fetcher.Fetch(ctx, c.CanonicalURL)
	if err != nil {
		if links.IsTimeout(err) {
			return domain.ContentTimeout, "", "", 0
		}

		p.logger.Debug().Err(err).Int64("article_id", c.ID).Msg("content fetch failed")

		return domain.ContentError, "", "", 0
	}

	switch res.StatusCode {
	case http.StatusPaymentRequired, http.StatusForbidden, http.StatusUnavailableForLegalReasons:
		return domain.ContentPaywall, "", "", 0
	case http.StatusNotFound, http.StatusGone:
		return domain.ContentNotFound, "", "", 0
	}

	if res.StatusCode != http.StatusOK {
		return domain.ContentError, "", "", 0
	}

	extracted, err := Extract(res.Body, res.FinalURL)
	if err != nil {
		return domain.ContentError, "", "", 0
	}

	if hasPaywallMarkers(extracted.Text) {
		return domain.ContentPaywall, "", "", 0
	}

	if extracted.WordCount < minWordCount {
		// Thin bodies usually mean a consent wall or bot block.
		return domain.ContentBlocked, "", "", 0
	}

	return domain.ContentSuccess, extracted.Text, extracted.HTML, extracted.WordCount
}

func isPaywalledHost(host string) bool {
	_, ok := paywalledHosts[links.NormalizeHost(host)]

	return ok
}

var paywallMarkers = []string{
	"subscribe to continue reading",
	"subscription required",
	"this article is for subscribers",
	"sign in to keep reading",
	"create a free account to continue",
}

func hasPaywallMarkers(text string) bool {
	lower := strings.ToLower(text)

	for _, marker := range paywallMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	return false
}
