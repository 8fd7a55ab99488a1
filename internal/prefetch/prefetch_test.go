package prefetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/climateriver/river/internal/core/domain"
	"github.com/climateriver/river/internal/core/links"
	"github.com/climateriver/river/internal/storage"
)

func articlePage(words int) string {
	var sb strings.Builder

	sb.WriteString(`<html><head><title>Flood defences approved</title></head><body><article><h1>Flood defences approved</h1><p>`)

	for i := 0; i < words; i++ {
		sb.WriteString("The council approved new coastal flood defences today. ")
	}

	sb.WriteString(`</p></article></body></html>`)

	return sb.String()
}

type fakeContentRepo struct {
	mu         sync.Mutex
	candidates []storage.PrefetchCandidate
	updates    map[int64]domain.ContentStatus
	wordCounts map[int64]*int
	startedAts map[int64]time.Time
}

func newFakeContentRepo(candidates ...storage.PrefetchCandidate) *fakeContentRepo {
	return &fakeContentRepo{
		candidates: candidates,
		updates:    make(map[int64]domain.ContentStatus),
		wordCounts: make(map[int64]*int),
		startedAts: make(map[int64]time.Time),
	}
}

func (r *fakeContentRepo) ListPrefetchCandidates(_ context.Context, limit int) ([]storage.PrefetchCandidate, error) {
	if limit < len(r.candidates) {
		return r.candidates[:limit], nil
	}

	return r.candidates, nil
}

func (r *fakeContentRepo) GetPrefetchCandidates(_ context.Context, ids []int64) ([]storage.PrefetchCandidate, error) {
	var out []storage.PrefetchCandidate

	for _, c := range r.candidates {
		for _, id := range ids {
			if c.ID == id {
				out = append(out, c)
			}
		}
	}

	return out, nil
}

func (r *fakeContentRepo) UpdateContent(_ context.Context, articleID int64, status domain.ContentStatus, _, _ string, wordCount *int, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates[articleID] = status
	r.wordCounts[articleID] = wordCount
	r.startedAts[articleID] = startedAt

	return nil
}

type fakeContentFetcher struct {
	mu     sync.Mutex
	calls  int
	body   string
	status int
	err    error
}

func (f *fakeContentFetcher) Fetch(_ context.Context, rawURL string) (*links.FetchResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	status := f.status
	if status == 0 {
		status = http.StatusOK
	}

	return &links.FetchResult{Body: []byte(f.body), StatusCode: status, FinalURL: rawURL}, nil
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)

	return &l
}

func TestRunPaywalledHostSkipsFetch(t *testing.T) {
	repo := newFakeContentRepo(storage.PrefetchCandidate{
		ID: 1, CanonicalURL: "https://ft.com/content/abc", PublisherHost: "ft.com",
	})
	fetcher := &fakeContentFetcher{body: articlePage(40)}

	res, err := New(repo, fetcher, testLogger()).Run(context.Background(), nil, 10)
	require.NoError(t, err)

	require.Equal(t, 0, fetcher.calls, "known-paywall hosts must not be fetched")
	require.Equal(t, domain.ContentPaywall, repo.updates[1])
	require.Nil(t, repo.wordCounts[1])
	require.Equal(t, 1, res.ByStatus["paywall"])
}

func TestRunClassifiesOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		fetcher *fakeContentFetcher
		want    domain.ContentStatus
	}{
		{name: "success", fetcher: &fakeContentFetcher{body: articlePage(40)}, want: domain.ContentSuccess},
		{name: "thin body blocked", fetcher: &fakeContentFetcher{body: articlePage(3)}, want: domain.ContentBlocked},
		{name: "http 403 paywall", fetcher: &fakeContentFetcher{status: http.StatusForbidden}, want: domain.ContentPaywall},
		{name: "http 402 paywall", fetcher: &fakeContentFetcher{status: http.StatusPaymentRequired}, want: domain.ContentPaywall},
		{name: "http 451 paywall", fetcher: &fakeContentFetcher{status: http.StatusUnavailableForLegalReasons}, want: domain.ContentPaywall},
		{name: "http 404 not found", fetcher: &fakeContentFetcher{status: http.StatusNotFound}, want: domain.ContentNotFound},
		{name: "http 410 not found", fetcher: &fakeContentFetcher{status: http.StatusGone}, want: domain.ContentNotFound},
		{name: "http 500 error", fetcher: &fakeContentFetcher{status: http.StatusInternalServerError}, want: domain.ContentError},
		{name: "timeout", fetcher: &fakeContentFetcher{err: timeoutErr{}}, want: domain.ContentTimeout},
		{name: "network error", fetcher: &fakeContentFetcher{err: errors.New("connection reset")}, want: domain.ContentError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeContentRepo(storage.PrefetchCandidate{
				ID: 1, CanonicalURL: "https://example.com/story", PublisherHost: "example.com",
			})

			res, err := New(repo, tt.fetcher, testLogger()).Run(context.Background(), nil, 10)
			require.NoError(t, err)
			require.Equal(t, 1, res.Processed)
			require.Equal(t, tt.want, repo.updates[1])

			if tt.want == domain.ContentSuccess {
				require.NotNil(t, repo.wordCounts[1])
				require.GreaterOrEqual(t, *repo.wordCounts[1], minWordCount)
			} else {
				require.Nil(t, repo.wordCounts[1])
			}
		})
	}
}

func TestRunExplicitIDs(t *testing.T) {
	repo := newFakeContentRepo(
		storage.PrefetchCandidate{ID: 1, CanonicalURL: "https://example.com/a", PublisherHost: "example.com"},
		storage.PrefetchCandidate{ID: 2, CanonicalURL: "https://example.com/b", PublisherHost: "example.com"},
	)
	fetcher := &fakeContentFetcher{body: articlePage(40)}

	res, err := New(repo, fetcher, testLogger()).Run(context.Background(), []int64{2}, 10)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)

	_, touched := repo.updates[1]
	require.False(t, touched)
	require.Equal(t, domain.ContentSuccess, repo.updates[2])
}

func TestRunPassesFetchStartToUpdate(t *testing.T) {
	repo := newFakeContentRepo(storage.PrefetchCandidate{
		ID: 1, CanonicalURL: "https://example.com/story", PublisherHost: "example.com",
	})
	fetcher := &fakeContentFetcher{body: articlePage(40)}

	before := time.Now()

	_, err := New(repo, fetcher, testLogger()).Run(context.Background(), nil, 10)
	require.NoError(t, err)

	started := repo.startedAts[1]
	require.False(t, started.Before(before), "write guard must see the time this fetch began")
	require.False(t, started.After(time.Now()))
}

func TestHasPaywallMarkers(t *testing.T) {
	require.True(t, hasPaywallMarkers("Please Subscribe To Continue Reading this story"))
	require.False(t, hasPaywallMarkers("The subscription model of solar leasing is growing"))
}

func TestIsPaywalledHost(t *testing.T) {
	require.True(t, isPaywalledHost("www.nytimes.com"))
	require.True(t, isPaywalledHost("bloomberg.com"))
	require.False(t, isPaywalledHost("theguardian.com"))
}
