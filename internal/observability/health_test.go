package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	err error
}

func (p *fakePinger) Ping(_ context.Context) error { return p.err }

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)

	return &l
}

func TestHealthz(t *testing.T) {
	srv := NewServer(&fakePinger{}, 0, testLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"db reachable", nil, http.StatusOK},
		{"db down", errors.New("connection refused"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&fakePinger{err: tt.err}, 0, testLogger())

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	srv := NewServer(&fakePinger{}, 0, testLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
}
