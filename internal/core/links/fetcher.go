package links

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrTooManyRedirects indicates too many HTTP redirects.
var ErrTooManyRedirects = errors.New("too many redirects")

const (
	defaultFetchTimeout = 10 * time.Second
	maxRedirects        = 3
	globalLimiterBurst  = 5
	maxBodySizeBytes    = 5 * 1024 * 1024
	hostLimiterRate     = 1
	hostLimiterBurst    = 2

	desktopUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36 ClimateRiver/1.0"
	feedUserAgent    = "ClimateRiver/1.0 (Climate News Aggregator)"
)

// FetchResult carries the response body plus the status and final URL after
// redirects. Non-2xx statuses are data for the caller, not errors.
type FetchResult struct {
	Body       []byte
	StatusCode int
	FinalURL   string
}

// Fetcher is a politeness-limited HTTP client shared by the feed and content
// fetch paths: one global limiter plus one limiter per host.
type Fetcher struct {
	client       *http.Client
	globalLimit  *rate.Limiter
	hostLimiters map[string]*rate.Limiter
	mu           sync.RWMutex
	userAgent    string
}

// NewFetcher creates a fetcher with the given global requests-per-second
// budget and per-request timeout.
func NewFetcher(rps float64, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return ErrTooManyRedirects
				}

				return nil
			},
		},
		globalLimit:  rate.NewLimiter(rate.Limit(rps), globalLimiterBurst),
		hostLimiters: make(map[string]*rate.Limiter),
		userAgent:    desktopUserAgent,
	}
}

// NewFeedFetcher creates a fetcher that identifies itself as a feed reader.
func NewFeedFetcher(rps float64, timeout time.Duration) *Fetcher {
	f := NewFetcher(rps, timeout)
	f.userAgent = feedUserAgent

	return f
}

// Fetch retrieves rawURL. A response with any status code is a successful
// fetch; transport failures and redirect overflow come back as errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	if err := f.globalLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("global rate limiter wait: %w", err)
	}

	host := HostOf(rawURL)
	if err := f.hostLimiter(host).Wait(ctx); err != nil {
		return nil, fmt.Errorf("host rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &FetchResult{
		Body:       body,
		StatusCode: resp.StatusCode,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

// Resolve follows redirects for rawURL and returns the final URL. It tries a
// HEAD request first and falls back to GET when the server rejects HEAD.
func (f *Fetcher) Resolve(ctx context.Context, rawURL string) (string, error) {
	if err := f.globalLimit.Wait(ctx); err != nil {
		return "", fmt.Errorf("global rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySizeBytes))
	resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		res, err := f.Fetch(ctx, rawURL)
		if err != nil {
			return "", err
		}

		return res.FinalURL, nil
	}

	return resp.Request.URL.String(), nil
}

// IsTimeout reports whether err was a network timeout or a deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return strings.Contains(err.Error(), "Client.Timeout exceeded")
}

func (f *Fetcher) hostLimiter(host string) *rate.Limiter {
	f.mu.RLock()
	limiter, exists := f.hostLimiters[host]
	f.mu.RUnlock()

	if exists {
		return limiter
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double check
	if limiter, exists := f.hostLimiters[host]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(hostLimiterRate, hostLimiterBurst)
	f.hostLimiters[host] = limiter

	return limiter
}
