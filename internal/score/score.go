// Package score computes the ranking value behind the river.
package score

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/climateriver/river/internal/core/domain"
	"github.com/climateriver/river/internal/storage"
)

const (
	sizeWeight    = 0.6
	recencyWeight = 0.4
)

// Compute scores a cluster from its member count and the age of its newest
// article. Bigger and fresher both rank higher; staleness drags a score
// arbitrarily far below zero.
func Compute(size int, hoursSinceNewest float64) float64 {
	return sizeWeight*float64(size) + recencyWeight*(-hoursSinceNewest)
}

// Repository is the storage surface the scorer uses.
type Repository interface {
	ListClusterAggregates(ctx context.Context, windowHours int) ([]storage.ClusterAggregate, error)
	UpsertClusterScores(ctx context.Context, scores []domain.ClusterScore) error
}

// Scorer recomputes cluster_scores for every cluster active in the window.
type Scorer struct {
	repo        Repository
	logger      *zerolog.Logger
	windowHours int
	now         func() time.Time
}

// New creates a scorer over the given window.
func New(repo Repository, logger *zerolog.Logger, windowHours int) *Scorer {
	return &Scorer{
		repo:        repo,
		logger:      logger,
		windowHours: windowHours,
		now:         time.Now,
	}
}

// Result aggregates one scoring run.
type Result struct {
	Scored int
}

// Counts converts the result to stage counters.
func (r Result) Counts() map[string]int {
	return map[string]int{"scored": r.Scored}
}

// Run recomputes and upserts all scores in one transaction.
func (s *Scorer) Run(ctx context.Context) (Result, error) {
	aggs, err := s.repo.ListClusterAggregates(ctx, s.windowHours)
	if err != nil {
		return Result{}, fmt.Errorf("list cluster aggregates: %w", err)
	}

	now := s.now()
	scores := make([]domain.ClusterScore, 0, len(aggs))

	for _, agg := range aggs {
		hours := now.Sub(agg.NewestAt).Hours()

		scores = append(scores, domain.ClusterScore{
			ClusterID:     agg.ClusterID,
			LeadArticleID: agg.LeadArticleID,
			Size:          agg.Size,
			Score:         Compute(agg.Size, hours),
		})
	}

	if err := s.repo.UpsertClusterScores(ctx, scores); err != nil {
		return Result{}, fmt.Errorf("upsert cluster scores: %w", err)
	}

	return Result{Scored: len(scores)}, nil
}
