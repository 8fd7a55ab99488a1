package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/climateriver/river/internal/core/domain"
)

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)

	return &l
}

// recordingStage remembers the opts it ran with.
type recordingStage struct {
	opts   []Opts
	counts map[string]int
	err    error
}

func (s *recordingStage) Run(_ context.Context, opts Opts) (map[string]int, error) {
	s.opts = append(s.opts, opts)

	return s.counts, s.err
}

// newTestServer registers a recording stage for every known stage name and
// pins the clock to the given hour.
func newTestServer(t *testing.T, hour int) (*Server, map[string]*recordingStage) {
	t.Helper()

	srv := NewServer("secret", 0, nil, testLogger())
	srv.now = func() time.Time {
		return time.Date(2026, 8, 16, hour, 0, 0, 0, time.UTC)
	}

	stages := make(map[string]*recordingStage)

	for _, name := range []string{
		StageDiscover, StageIngest, StagePrefetch, StageCategorize,
		StageCluster, StageMaintain, StageScore, StageRewrite,
		StageWebDiscover, StageRetention,
	} {
		rec := &recordingStage{counts: map[string]int{"processed": 1}}
		stages[name] = rec

		srv.Register(name, rec)
	}

	return srv, stages
}

func doRequest(t *testing.T, srv *Server, method, target string, header map[string]string) (*http.Response, cronResponse) {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var body cronResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))

	return rec.Result(), body
}

func TestAuthorization(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header map[string]string
		want   int
	}{
		{"no credentials", "/cron/light", nil, http.StatusUnauthorized},
		{"wrong token", "/cron/light?token=nope", nil, http.StatusUnauthorized},
		{"wrong bearer", "/cron/light", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"query token", "/cron/light?token=secret", nil, http.StatusOK},
		{"bearer token", "/cron/light", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"cron header", "/cron/light", map[string]string{"X-Appengine-Cron": "true"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, stages := newTestServer(t, 12)

			resp, body := doRequest(t, srv, http.MethodGet, tt.target, tt.header)
			require.Equal(t, tt.want, resp.StatusCode)

			if tt.want == http.StatusUnauthorized {
				require.False(t, body.OK)
				require.Equal(t, "unauthorized", body.Error)
				require.Empty(t, stages[StageIngest].opts, "unauthorized requests run no stages")
			} else {
				require.True(t, body.OK)
				require.NotEmpty(t, stages[StageIngest].opts)
			}
		})
	}
}

func TestLightClampsIngestLimit(t *testing.T) {
	srv, stages := newTestServer(t, 12)

	resp, body := doRequest(t, srv, http.MethodGet, "/cron/light?token=secret&limit=500", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, body.OK)

	require.Equal(t, Opts{Limit: 50}, stages[StageIngest].opts[0])
	require.Equal(t, 50, body.Result[StageIngest].Counts["limit"])
}

func TestLightDefaultLimits(t *testing.T) {
	srv, stages := newTestServer(t, 12)

	_, body := doRequest(t, srv, http.MethodGet, "/cron/light?token=secret", nil)

	require.Equal(t, 30, stages[StageIngest].opts[0].Limit)
	require.Equal(t, 20, stages[StagePrefetch].opts[0].Limit)
	require.Equal(t, 30, body.Result[StageIngest].Counts["limit"])
}

func TestLightWebDiscoveryHourWindow(t *testing.T) {
	tests := []struct {
		hour int
		runs bool
	}{
		{8, false},
		{9, true},
		{21, true},
		{22, false},
	}

	for _, tt := range tests {
		srv, stages := newTestServer(t, tt.hour)

		_, body := doRequest(t, srv, http.MethodGet, "/cron/light?token=secret", nil)

		if tt.runs {
			require.Len(t, stages[StageWebDiscover].opts, 1, "hour %d", tt.hour)
			require.Equal(t, Opts{MaxQueries: 5, PerQuery: 3, Breaking: true}, stages[StageWebDiscover].opts[0])
			require.Contains(t, body.Result, StageWebDiscover)
		} else {
			require.Empty(t, stages[StageWebDiscover].opts, "hour %d", tt.hour)
			require.NotContains(t, body.Result, StageWebDiscover)
		}
	}
}

func TestDailyRunsFullSequence(t *testing.T) {
	srv, stages := newTestServer(t, 3)

	_, body := doRequest(t, srv, http.MethodPost, "/cron/daily?token=secret&discover=10&rewrite=500", nil)

	require.Equal(t, 10, stages[StageDiscover].opts[0].Limit, "requested value below cap passes through")
	require.Equal(t, 150, stages[StageIngest].opts[0].Limit)
	require.Equal(t, 100, stages[StageRewrite].opts[0].Limit, "rewrite request clamped to cap")
	require.Len(t, stages[StageMaintain].opts, 1)
	require.Len(t, stages[StageRetention].opts, 1)

	require.Equal(t, Opts{MaxQueries: 6, PerQuery: 4}, stages[StageWebDiscover].opts[0], "daily discovery window covers 03:00")
	require.True(t, body.Result[StageScore].OK)
}

func TestStageFailureIsIsolated(t *testing.T) {
	srv, stages := newTestServer(t, 12)
	stages[StageIngest].err = errors.New("feed storm")

	resp, body := doRequest(t, srv, http.MethodGet, "/cron/light?token=secret", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, body.OK, "a failed stage does not fail the invocation")

	require.False(t, body.Result[StageIngest].OK)
	require.Equal(t, "feed storm", body.Result[StageIngest].Error)

	require.True(t, body.Result[StageScore].OK, "later stages still ran")
	require.NotEmpty(t, stages[StageScore].opts)
}

func TestUnregisteredStageReportsError(t *testing.T) {
	srv := NewServer("secret", 0, nil, testLogger())
	srv.Register(StageIngest, &recordingStage{})

	_, body := doRequest(t, srv, http.MethodGet, "/cron/light?token=secret", nil)
	require.True(t, body.OK)
	require.False(t, body.Result[StageScore].OK)
	require.Contains(t, body.Result[StageScore].Error, "not registered")
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, 12)

	resp, body := doRequest(t, srv, http.MethodDelete, "/cron/light?token=secret", nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	require.False(t, body.OK)
}

func TestDeadlineExceededNoted(t *testing.T) {
	srv, _ := newTestServer(t, 12)

	slow := &recordingStage{err: context.DeadlineExceeded}
	srv.Register(StageIngest, slow)

	_, body := doRequest(t, srv, http.MethodGet, "/cron/light?token=secret", nil)

	res := body.Result[StageIngest]
	require.False(t, res.OK)
	require.Equal(t, domain.NoteDeadlineExceeded, res.Note)
}
