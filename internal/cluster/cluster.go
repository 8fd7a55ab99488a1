// Package cluster groups articles describing the same story by embedding
// similarity.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/climateriver/river/internal/core/embeddings"
	"github.com/climateriver/river/internal/platform/retry"
	"github.com/climateriver/river/internal/storage"
)

const (
	// Cosine similarity floor for joining an existing cluster.
	assignThreshold = 0.6

	// Merge pass thresholds: average cross-similarity plus a minimum number
	// of strongly similar pairs, so one outlier pair cannot force a merge.
	mergeAvgThreshold    = 0.58
	mergeStrongThreshold = 0.55
	mergeMinStrongPairs  = 2

	// Upper bound on merge rounds; each round re-lists candidates so
	// transitive merges settle.
	maxMergeRounds = 5

	embedConcurrency = 4

	defaultWindowHours = 7 * 24
)

// Repository is the storage surface the clusterer uses.
type Repository interface {
	ListArticlesMissingEmbedding(ctx context.Context, windowHours, limit int) ([]storage.EmbeddingCandidate, error)
	SetEmbedding(ctx context.Context, articleID int64, embedding []float32) error
	FindBestCluster(ctx context.Context, articleID int64, embedding []float32, windowHours int) (*storage.ClusterMatch, error)
	CreateCluster(ctx context.Context, key string) (int64, error)
	AssignArticle(ctx context.Context, articleID, clusterID int64) (bool, error)
	ListUnclusteredEmbedded(ctx context.Context, windowHours, limit int) ([]storage.UnclusteredArticle, error)
	ListMergeCandidates(ctx context.Context, windowHours int, avgThreshold, strongThreshold float64, minStrong int) ([]storage.MergeCandidate, error)
	ClusterSizes(ctx context.Context, clusterIDs []int64) (map[int64]int, error)
	MergeClusters(ctx context.Context, fromID, toID int64) error
	DeleteOrphanClusters(ctx context.Context) (int64, error)
}

// Clusterer embeds new articles and maintains cluster membership.
type Clusterer struct {
	repo        Repository
	provider    embeddings.Provider
	logger      *zerolog.Logger
	windowHours int
}

// New creates a clusterer over the default 7-day window.
func New(repo Repository, provider embeddings.Provider, logger *zerolog.Logger) *Clusterer {
	return &Clusterer{
		repo:        repo,
		provider:    provider,
		logger:      logger,
		windowHours: defaultWindowHours,
	}
}

// NewWithWindow creates a clusterer with an explicit window.
func NewWithWindow(repo Repository, provider embeddings.Provider, logger *zerolog.Logger, windowHours int) *Clusterer {
	c := New(repo, provider, logger)
	c.windowHours = windowHours

	return c
}

// Result aggregates one clustering run.
type Result struct {
	Embedded   int
	Assigned   int
	Singletons int
	Joined     int
	Merged     int
	Orphans    int
	Errors     int
}

// Counts converts the result to stage counters.
func (r Result) Counts() map[string]int {
	return map[string]int{
		"embedded":   r.Embedded,
		"assigned":   r.Assigned,
		"singletons": r.Singletons,
		"joined":     r.Joined,
		"merged":     r.Merged,
		"orphans":    r.Orphans,
		"errors":     r.Errors,
	}
}

// EmbedAndAssign embeds up to limit articles missing vectors and assigns each
// to a cluster.
func (c *Clusterer) EmbedAndAssign(ctx context.Context, limit int) (Result, error) {
	candidates, err := c.repo.ListArticlesMissingEmbedding(ctx, c.windowHours, limit)
	if err != nil {
		return Result{}, fmt.Errorf("list embedding candidates: %w", err)
	}

	var (
		res Result
		mu  sync.Mutex
		wg  sync.WaitGroup
	)

	type embedded struct {
		id  int64
		vec []float32
	}

	done := make([]embedded, 0, len(candidates))
	sem := make(chan struct{}, embedConcurrency)

	for _, cand := range candidates {
		wg.Add(1)

		go func(cand storage.EmbeddingCandidate) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			vec, embErr := c.provider.GetEmbedding(ctx, embedInput(cand.Title, cand.Dek))
			if embErr != nil {
				c.logger.Warn().Err(embErr).Int64("article_id", cand.ID).Msg("embedding failed")

				mu.Lock()
				res.Errors++
				mu.Unlock()

				return
			}

			if setErr := c.repo.SetEmbedding(ctx, cand.ID, vec); setErr != nil {
				c.logger.Error().Err(setErr).Int64("article_id", cand.ID).Msg("store embedding failed")

				mu.Lock()
				res.Errors++
				mu.Unlock()

				return
			}

			mu.Lock()
			res.Embedded++
			done = append(done, embedded{id: cand.ID, vec: vec})
			mu.Unlock()
		}(cand)
	}

	wg.Wait()

	// Assignment runs sequentially so earlier articles can seed clusters the
	// later ones join.
	for _, e := range done {
		assigned, singleton, err := c.assign(ctx, e.id, e.vec)
		if err != nil {
			c.logger.Error().Err(err).Int64("article_id", e.id).Msg("cluster assignment failed")
			res.Errors++

			continue
		}

		if assigned && !singleton {
			res.Assigned++
		}

		if singleton {
			res.Singletons++
		}
	}

	return res, nil
}

// assign joins the best matching cluster at or above the threshold, creating
// a singleton otherwise.
func (c *Clusterer) assign(ctx context.Context, articleID int64, vec []float32) (assigned, singleton bool, err error) {
	match, err := c.repo.FindBestCluster(ctx, articleID, vec, c.windowHours)
	if err != nil {
		return false, false, err
	}

	if match != nil && match.Similarity >= assignThreshold {
		ok, err := c.repo.AssignArticle(ctx, articleID, match.ClusterID)
		if err != nil {
			return false, false, err
		}

		return ok, false, nil
	}

	clusterID, err := c.repo.CreateCluster(ctx, uuid.NewString())
	if err != nil {
		return false, false, err
	}

	ok, err := c.repo.AssignArticle(ctx, articleID, clusterID)
	if err != nil {
		return false, false, err
	}

	return ok, true, nil
}

// Maintain runs the periodic pass: retroactive joins, merges, then orphan
// cleanup.
func (c *Clusterer) Maintain(ctx context.Context, limit int) (Result, error) {
	var res Result

	unclustered, err := c.repo.ListUnclusteredEmbedded(ctx, c.windowHours, limit)
	if err != nil {
		return res, fmt.Errorf("list unclustered: %w", err)
	}

	for _, a := range unclustered {
		assigned, singleton, err := c.assign(ctx, a.ID, a.Embedding)
		if err != nil {
			c.logger.Error().Err(err).Int64("article_id", a.ID).Msg("retroactive join failed")
			res.Errors++

			continue
		}

		if assigned && !singleton {
			res.Joined++
		}

		if singleton {
			res.Singletons++
		}
	}

	merged, err := c.mergePass(ctx)
	res.Merged = merged

	if err != nil {
		return res, err
	}

	orphans, err := c.repo.DeleteOrphanClusters(ctx)
	if err != nil {
		return res, fmt.Errorf("orphan cleanup: %w", err)
	}

	res.Orphans = int(orphans)

	return res, nil
}

// mergePass merges candidate pairs in descending average-similarity order,
// re-reading sizes before every merge because earlier merges change them.
// Rounds repeat until no merge applies, so clusters grown by one round can
// absorb their neighbors in the next.
func (c *Clusterer) mergePass(ctx context.Context) (int, error) {
	total := 0

	for round := 0; round < maxMergeRounds; round++ {
		merged, err := c.mergeRound(ctx)
		total += merged

		if err != nil {
			return total, err
		}

		if merged == 0 {
			break
		}
	}

	return total, nil
}

func (c *Clusterer) mergeRound(ctx context.Context) (int, error) {
	candidates, err := c.repo.ListMergeCandidates(ctx, c.windowHours,
		mergeAvgThreshold, mergeStrongThreshold, 1)
	if err != nil {
		return 0, fmt.Errorf("list merge candidates: %w", err)
	}

	merged := 0
	gone := make(map[int64]bool)

	for _, cand := range candidates {
		if gone[cand.ClusterA] || gone[cand.ClusterB] {
			continue
		}

		sizes, err := c.repo.ClusterSizes(ctx, []int64{cand.ClusterA, cand.ClusterB})
		if err != nil {
			return merged, fmt.Errorf("cluster sizes: %w", err)
		}

		sizeA, okA := sizes[cand.ClusterA]
		sizeB, okB := sizes[cand.ClusterB]

		if !okA || !okB {
			continue
		}

		// Two singletons can only produce one cross-pair; the strong-pair
		// minimum caps at what the pair can geometrically yield.
		required := mergeMinStrongPairs
		if possible := sizeA * sizeB; possible < required {
			required = possible
		}

		if cand.StrongPairs < required {
			continue
		}

		from, to := cand.ClusterB, cand.ClusterA
		if sizeA < sizeB {
			from, to = cand.ClusterA, cand.ClusterB
		}

		mergeFn := func() error { return c.repo.MergeClusters(ctx, from, to) }
		retryable := func(err error) bool { return errors.Is(err, storage.ErrSerializationFailure) }

		if err := retry.Do(ctx, retry.DefaultConfig(), mergeFn, retryable); err != nil {
			c.logger.Error().Err(err).
				Int64("from", from).
				Int64("to", to).
				Msg("cluster merge failed")

			continue
		}

		gone[from] = true
		merged++
	}

	return merged, nil
}

func embedInput(title, dek string) string {
	return strings.TrimSpace(title + " " + dek)
}
