// Package app wires configuration, storage and the pipeline stages into the
// runnable services.
package app

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/climateriver/river/internal/categorize"
	"github.com/climateriver/river/internal/cluster"
	"github.com/climateriver/river/internal/core/embeddings"
	"github.com/climateriver/river/internal/core/links"
	"github.com/climateriver/river/internal/core/llm"
	"github.com/climateriver/river/internal/discover"
	"github.com/climateriver/river/internal/ingest"
	"github.com/climateriver/river/internal/observability"
	"github.com/climateriver/river/internal/platform/config"
	"github.com/climateriver/river/internal/prefetch"
	"github.com/climateriver/river/internal/rewrite"
	"github.com/climateriver/river/internal/river"
	"github.com/climateriver/river/internal/scheduler"
	"github.com/climateriver/river/internal/score"
	"github.com/climateriver/river/internal/storage"
)

// Listing bound for the maintenance stage's retroactive-join query.
const maintainListLimit = 200

// App holds the wired pipeline.
type App struct {
	cfg      *config.Config
	db       *storage.DB
	logger   *zerolog.Logger
	embedder embeddings.Provider

	ingestor       *ingest.Ingestor
	prefetcher     *prefetch.Prefetcher
	categorizer    *categorize.Categorizer
	clusterer      *cluster.Clusterer
	scorer         *score.Scorer
	rewriter       *rewrite.Rewriter
	feedDiscoverer *discover.FeedDiscoverer
	webDiscoverer  *discover.WebDiscoverer
}

// New builds the pipeline from configuration.
func New(cfg *config.Config, db *storage.DB, logger *zerolog.Logger) *App {
	feedFetcher := links.NewFeedFetcher(cfg.WebFetchRPS, cfg.FeedFetchTimeout)
	contentFetcher := links.NewFetcher(cfg.WebFetchRPS, cfg.ContentFetchTimeout)

	embedder := embeddings.NewOpenAIProvider(embeddings.OpenAIConfig{
		APIKey:     cfg.EmbeddingAPIKey,
		BaseURL:    cfg.EmbeddingBaseURL,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDims,
		RateLimit:  cfg.EmbeddingRPS,
	}, logger)

	chat := llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:    cfg.ChatAPIKey,
		BaseURL:   cfg.ChatBaseURL,
		Model:     cfg.ChatModel,
		RateLimit: cfg.ChatRPS,
	}, logger)

	clusterWindow := int(cfg.ClusterWindow.Hours())

	return &App{
		cfg:      cfg,
		db:       db,
		logger:   logger,
		embedder: embedder,

		ingestor:       ingest.New(db, feedFetcher, logger),
		prefetcher:     prefetch.New(db, contentFetcher, logger),
		categorizer:    categorize.New(db, embedder, logger),
		clusterer:      cluster.NewWithWindow(db, embedder, logger, clusterWindow),
		scorer:         score.New(db, logger, cfg.RiverWindowHours),
		rewriter:       rewrite.New(db, chat, cfg.ChatModel, cfg.RewriteDays, logger),
		feedDiscoverer: discover.NewFeedDiscoverer(db, feedFetcher, logger),
		webDiscoverer:  discover.NewWebDiscoverer(db, chat, logger),
	}
}

// StartHealthServer serves /healthz, /readyz, /metrics and the read-only
// /river view until ctx ends.
func (a *App) StartHealthServer(ctx context.Context) error {
	riverHandler := river.NewQuery(a.db).Handler(a.logger)

	return observability.NewServerWithRiver(a.db.Pool, a.cfg.HealthPort, riverHandler, a.logger).Start(ctx)
}

// RunCronServer serves the cron endpoints until ctx ends.
func (a *App) RunCronServer(ctx context.Context) error {
	metrics := observability.NewMetrics()

	srv := scheduler.NewServer(a.cfg.AdminToken, a.cfg.CronPort, metrics, a.logger)
	a.registerStages(srv)

	return srv.Start(ctx)
}

func (a *App) registerStages(srv *scheduler.Server) {
	srv.Register(scheduler.StageDiscover, scheduler.StageFunc(
		func(ctx context.Context, opts scheduler.Opts) (map[string]int, error) {
			res, err := a.feedDiscoverer.Run(ctx, opts.Limit)

			return res.Counts(), err
		}))

	srv.Register(scheduler.StageIngest, scheduler.StageFunc(
		func(ctx context.Context, opts scheduler.Opts) (map[string]int, error) {
			res, err := a.ingestor.Run(ctx, opts.Limit)

			return res.Counts(), err
		}))

	srv.Register(scheduler.StagePrefetch, scheduler.StageFunc(
		func(ctx context.Context, opts scheduler.Opts) (map[string]int, error) {
			res, err := a.prefetcher.Run(ctx, nil, opts.Limit)

			return res.Counts(), err
		}))

	srv.Register(scheduler.StageCategorize, scheduler.StageFunc(
		func(ctx context.Context, opts scheduler.Opts) (map[string]int, error) {
			res, err := a.categorizer.Run(ctx, a.cfg.RiverWindowHours, opts.Limit)

			return res.Counts(), err
		}))

	srv.Register(scheduler.StageCluster, scheduler.StageFunc(
		func(ctx context.Context, opts scheduler.Opts) (map[string]int, error) {
			res, err := a.clusterer.EmbedAndAssign(ctx, opts.Limit)

			return res.Counts(), err
		}))

	srv.Register(scheduler.StageMaintain, scheduler.StageFunc(
		func(ctx context.Context, _ scheduler.Opts) (map[string]int, error) {
			res, err := a.clusterer.Maintain(ctx, maintainListLimit)

			return res.Counts(), err
		}))

	srv.Register(scheduler.StageScore, scheduler.StageFunc(
		func(ctx context.Context, _ scheduler.Opts) (map[string]int, error) {
			res, err := a.scorer.Run(ctx)

			return res.Counts(), err
		}))

	srv.Register(scheduler.StageRewrite, scheduler.StageFunc(
		func(ctx context.Context, opts scheduler.Opts) (map[string]int, error) {
			res, err := a.rewriter.Run(ctx, opts.Limit)

			return res.Counts(), err
		}))

	srv.Register(scheduler.StageWebDiscover, scheduler.StageFunc(
		func(ctx context.Context, opts scheduler.Opts) (map[string]int, error) {
			res, err := a.webDiscoverer.Run(ctx, opts.MaxQueries, opts.PerQuery, opts.Breaking)

			return res.Counts(), err
		}))

	srv.Register(scheduler.StageRetention, scheduler.StageFunc(
		func(ctx context.Context, _ scheduler.Opts) (map[string]int, error) {
			return a.RunRetention(ctx)
		}))
}

// RunBackfill re-embeds and re-clusters recent articles missing embeddings,
// in batches, then runs one maintenance pass. The backfill horizon is wider
// than the regular cluster window.
func (a *App) RunBackfill(ctx context.Context) error {
	backfiller := cluster.NewWithWindow(a.db, a.embedder, a.logger, a.cfg.BackfillHours)

	for {
		res, err := backfiller.EmbedAndAssign(ctx, a.cfg.BackfillBatch)
		if err != nil {
			return err
		}

		a.logger.Info().Interface("counts", res.Counts()).Msg("backfill batch done")

		if res.Embedded == 0 {
			break
		}
	}

	return a.RunMaintain(ctx)
}

// RunMaintain runs one cluster maintenance pass.
func (a *App) RunMaintain(ctx context.Context) error {
	res, err := a.clusterer.Maintain(ctx, maintainListLimit)
	if err != nil {
		return err
	}

	a.logger.Info().Interface("counts", res.Counts()).Msg("maintenance done")

	_, err = a.scorer.Run(ctx)

	return err
}

// RunRetention deletes articles past the retention horizon and cleans up
// clusters emptied by the delete.
func (a *App) RunRetention(ctx context.Context) (map[string]int, error) {
	deleted, err := a.db.DeleteArticlesOlderThan(ctx, a.cfg.RetentionDays)
	if err != nil {
		return nil, err
	}

	orphans, err := a.db.DeleteOrphanClusters(ctx)
	if err != nil {
		return map[string]int{"deleted": int(deleted)}, err
	}

	a.logger.Info().Int64("deleted", deleted).Int64("orphan_clusters", orphans).Msg("retention done")

	return map[string]int{"deleted": int(deleted), "orphan_clusters": int(orphans)}, nil
}
