package rewrite

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/climateriver/river/internal/core/llm"
	"github.com/climateriver/river/internal/storage"
)

func TestEvaluate(t *testing.T) {
	const (
		title = "IEA says 2030 renewables target in reach"
		dek   = "The agency's annual outlook points to record solar growth."
	)

	tests := []struct {
		name      string
		candidate string
		want      []string
	}{
		{
			name:      "accepted",
			candidate: "Renewables target within reach for 2030, IEA says",
			want:      nil,
		},
		{
			name:      "added proper noun",
			candidate: "Bill Gates predicts renewables boom by 2030",
			want:      []string{reasonAddedProperNoun},
		},
		{
			name:      "identical",
			candidate: "IEA says 2030 renewables target in reach",
			want:      []string{reasonIdentical},
		},
		{
			name:      "identical ignoring case",
			candidate: "iea says 2030 renewables target in reach",
			want:      []string{reasonIdentical},
		},
		{
			name:      "added number",
			candidate: "Renewables could triple by 2035, IEA says",
			want:      []string{reasonAddedNumber},
		},
		{
			name:      "banned phrase",
			candidate: "Shocking IEA report on 2030 renewables target",
			want:      []string{reasonBannedPhrase},
		},
		{
			name:      "too long",
			candidate: "IEA says the 2030 renewables target is in reach and this headline keeps going on and on and on well past any reasonable length limit for a news river headline",
			want:      []string{reasonTooLong},
		},
		{
			name:      "empty",
			candidate: "   ",
			want:      []string{reasonEmpty},
		},
		{
			name:      "sentence-case first word allowed",
			candidate: "Solar growth puts renewables target in reach, IEA says",
			want:      nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(title, dek, tt.candidate)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestCapitalizedRuns(t *testing.T) {
	runs := capitalizedRuns("Bill Gates predicts boom, says New York Times")
	require.Len(t, runs, 2)
	require.Equal(t, []string{"Bill", "Gates"}, runs[0].words)
	require.Equal(t, 0, runs[0].start)
	require.Equal(t, []string{"New", "York", "Times"}, runs[1].words)
}

type fakeRewriteRepo struct {
	mu         sync.Mutex
	candidates []storage.RewriteCandidate
	titles     map[int64]string
	notes      map[int64]string
}

func newFakeRewriteRepo(cands ...storage.RewriteCandidate) *fakeRewriteRepo {
	return &fakeRewriteRepo{
		candidates: cands,
		titles:     make(map[int64]string),
		notes:      make(map[int64]string),
	}
}

func (r *fakeRewriteRepo) ListRewriteCandidates(_ context.Context, _, limit int) ([]storage.RewriteCandidate, error) {
	if limit < len(r.candidates) {
		return r.candidates[:limit], nil
	}

	return r.candidates, nil
}

func (r *fakeRewriteRepo) RecordRewrite(_ context.Context, articleID int64, title, _, notes string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles[articleID] = title
	r.notes[articleID] = notes

	return nil
}

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)

	return &l
}

func TestRunAcceptsAndRejects(t *testing.T) {
	repo := newFakeRewriteRepo(
		storage.RewriteCandidate{ID: 1, Title: "IEA says 2030 renewables target in reach"},
		storage.RewriteCandidate{ID: 2, Title: "Grid storage hits new milestone"},
	)

	client := &llm.MockClient{RewriteFunc: func(title, _ string) (string, error) {
		if title == "IEA says 2030 renewables target in reach" {
			return "Bill Gates predicts renewables boom by 2030", nil
		}

		return "New milestone reached for grid storage", nil
	}}

	rw := New(repo, client, "test-model", 3, testLogger())

	res, err := rw.Run(context.Background(), 10)
	require.NoError(t, err)

	require.Equal(t, 2, res.Processed)
	require.Equal(t, 1, res.Updated)
	require.Equal(t, 1, res.Skipped)

	require.Empty(t, repo.titles[1], "rejected rewrite leaves the title empty")
	require.Equal(t, "added_proper_noun", repo.notes[1])

	require.Equal(t, "New milestone reached for grid storage", repo.titles[2])
	require.Empty(t, repo.notes[2])
}

func TestRunCompletionFailureSkipsWithoutRecord(t *testing.T) {
	repo := newFakeRewriteRepo(storage.RewriteCandidate{ID: 1, Title: "A headline"})

	client := &llm.MockClient{RewriteFunc: func(_, _ string) (string, error) {
		return "", errors.New("rate limited")
	}}

	rw := New(repo, client, "test-model", 3, testLogger())

	res, err := rw.Run(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)

	_, recorded := repo.titles[1]
	require.False(t, recorded, "a failed completion leaves the row untouched for a later run")
}
