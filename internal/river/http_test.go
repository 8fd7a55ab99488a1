package river

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/climateriver/river/internal/storage"
)

func TestHandlerServesRiverJSON(t *testing.T) {
	repo := &fakeRiverRepo{
		rows: []storage.RiverClusterRow{
			{ClusterID: 1, LeadArticleID: 10, LeadTitle: "lead", LeadHost: "grist.org", Size: 2, Score: 1.1},
		},
		members: []storage.ClusterMemberRow{
			member(1, 10, "grist.org", "lead", 12),
			member(1, 11, "carbonbrief.org", "brief", 11),
		},
	}

	logger := zerolog.New(io.Discard)
	handler := NewQuery(repo).Handler(&logger)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/river?view=latest&limit=500&category=policy", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	require.True(t, repo.gotLatest)
	require.Equal(t, MaxLimit, repo.gotLimit, "limit clamped before the query")
	require.NotNil(t, repo.gotCat)
	require.Equal(t, "policy", *repo.gotCat)

	var body struct {
		Clusters []ClusterView `json:"clusters"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Clusters, 1)
	require.Equal(t, "lead", body.Clusters[0].LeadTitle)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/river", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
