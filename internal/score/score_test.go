package score

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/climateriver/river/internal/core/domain"
	"github.com/climateriver/river/internal/storage"
)

func TestCompute(t *testing.T) {
	// A small fresh cluster outranks a large stale one.
	require.InDelta(t, 1.4, Compute(3, 1), 1e-9)
	require.InDelta(t, -16.2, Compute(5, 48), 1e-9)
	require.Greater(t, Compute(3, 1), Compute(5, 48))
}

func TestComputeMonotonicity(t *testing.T) {
	// Larger size at equal age always scores higher.
	for size := 1; size < 10; size++ {
		require.Greater(t, Compute(size+1, 5), Compute(size, 5))
	}

	// Fresher at equal size always scores higher.
	for hours := 0.0; hours < 100; hours += 7 {
		require.Greater(t, Compute(4, hours), Compute(4, hours+1))
	}
}

type fakeScoreRepo struct {
	aggs   []storage.ClusterAggregate
	stored []domain.ClusterScore
}

func (r *fakeScoreRepo) ListClusterAggregates(_ context.Context, _ int) ([]storage.ClusterAggregate, error) {
	return r.aggs, nil
}

func (r *fakeScoreRepo) UpsertClusterScores(_ context.Context, scores []domain.ClusterScore) error {
	r.stored = scores

	return nil
}

func TestRunScoresAggregates(t *testing.T) {
	now := time.Date(2026, 8, 17, 12, 0, 0, 0, time.UTC)

	repo := &fakeScoreRepo{aggs: []storage.ClusterAggregate{
		{ClusterID: 1, Size: 3, NewestAt: now.Add(-1 * time.Hour), LeadArticleID: 10},
		{ClusterID: 2, Size: 5, NewestAt: now.Add(-48 * time.Hour), LeadArticleID: 20},
	}}

	logger := zerolog.New(io.Discard)
	s := New(repo, &logger, 168)
	s.now = func() time.Time { return now }

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Scored)

	require.Len(t, repo.stored, 2)
	require.InDelta(t, 1.4, repo.stored[0].Score, 1e-9)
	require.Equal(t, int64(10), repo.stored[0].LeadArticleID)
	require.InDelta(t, -16.2, repo.stored[1].Score, 1e-9)

	require.Greater(t, repo.stored[0].Score, repo.stored[1].Score,
		"the fresher small cluster must outrank the stale large one")
}
