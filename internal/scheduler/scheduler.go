// Package scheduler is the HTTP cron driver: it authenticates trigger
// requests and runs fixed stage sequences with server-side caps.
package scheduler

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

// Stage names known to the registry.
const (
	StageDiscover    = "discover"
	StageIngest      = "ingest"
	StagePrefetch    = "prefetch"
	StageCategorize  = "categorize"
	StageCluster     = "cluster"
	StageMaintain    = "maintain"
	StageScore       = "score"
	StageRewrite     = "rewrite"
	StageWebDiscover = "web_discover"
	StageRetention   = "retention"
)

// Opts carries the per-invocation knobs a stage understands. Stages ignore
// fields that do not apply to them.
type Opts struct {
	Limit      int
	MaxQueries int
	PerQuery   int
	Breaking   bool
}

// Stage is one pipeline step invokable by name from the registry.
type Stage interface {
	Run(ctx context.Context, opts Opts) (map[string]int, error)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc func(ctx context.Context, opts Opts) (map[string]int, error)

// Run implements Stage.
func (f StageFunc) Run(ctx context.Context, opts Opts) (map[string]int, error) {
	return f(ctx, opts)
}

// cap bounds one stage's work per invocation: def when the request does not
// ask, never more than max regardless of the request.
type stageCap struct {
	def int
	max int
}

func (c stageCap) effective(requested int) int {
	if requested <= 0 {
		return c.def
	}

	if requested > c.max {
		return c.max
	}

	return requested
}

// plannedStage is one step of an endpoint's sequence.
type plannedStage struct {
	name string
	opts Opts
}

// endpointPlan describes a cron endpoint: its soft time budget and the stage
// sequence it runs for a given request.
type endpointPlan struct {
	name   string
	budget time.Duration
	stages func(q url.Values, hour int) []plannedStage
}

// Endpoint caps. The request may lower a cap but never raise it past max.
var (
	lightIngestCap   = stageCap{def: 30, max: 50}
	lightPrefetchCap = stageCap{def: 20, max: 50}

	deltaDiscoverCap = stageCap{def: 25, max: 50}
	deltaIngestCap   = stageCap{def: 25, max: 50}
	deltaRewriteCap  = stageCap{def: 40, max: 100}

	dailyDiscoverCap = stageCap{def: 60, max: 100}
	dailyIngestCap   = stageCap{def: 150, max: 300}
	dailyPrefetchCap = stageCap{def: 50, max: 100}
	dailyRewriteCap  = stageCap{def: 60, max: 100}
)

// Web discovery cost guard: hour windows and query caps per endpoint.
const (
	lightDiscoverStartHour = 9
	lightDiscoverEndHour   = 21
	dailyDiscoverStartHour = 0
	dailyDiscoverEndHour   = 6

	lightWebMaxQueries = 5
	lightWebPerQuery   = 3
	dailyWebMaxQueries = 6
	dailyWebPerQuery   = 4
)

// Soft time budgets per endpoint.
const (
	lightBudget = 60 * time.Second
	deltaBudget = 120 * time.Second
	dailyBudget = 300 * time.Second
)

func intParam(q url.Values, key string) int {
	v, err := strconv.Atoi(q.Get(key))
	if err != nil {
		return 0
	}

	return v
}

func lightPlan() endpointPlan {
	return endpointPlan{
		name:   "light",
		budget: lightBudget,
		stages: func(q url.Values, hour int) []plannedStage {
			plan := []plannedStage{
				{StageIngest, Opts{Limit: lightIngestCap.effective(intParam(q, "limit"))}},
				{StagePrefetch, Opts{Limit: lightPrefetchCap.effective(0)}},
				{StageCategorize, Opts{Limit: lightPrefetchCap.max}},
				{StageCluster, Opts{Limit: lightIngestCap.max}},
				{StageScore, Opts{}},
			}

			if hour >= lightDiscoverStartHour && hour <= lightDiscoverEndHour {
				plan = append(plan, plannedStage{StageWebDiscover, Opts{
					MaxQueries: lightWebMaxQueries,
					PerQuery:   lightWebPerQuery,
					Breaking:   true,
				}})
			}

			return plan
		},
	}
}

func deltaPlan() endpointPlan {
	return endpointPlan{
		name:   "delta",
		budget: deltaBudget,
		stages: func(q url.Values, _ int) []plannedStage {
			return []plannedStage{
				{StageDiscover, Opts{Limit: deltaDiscoverCap.effective(intParam(q, "discover"))}},
				{StageIngest, Opts{Limit: deltaIngestCap.effective(intParam(q, "limit"))}},
				{StageCategorize, Opts{Limit: deltaIngestCap.max}},
				{StageCluster, Opts{Limit: deltaIngestCap.max}},
				{StageScore, Opts{}},
				{StageRewrite, Opts{Limit: deltaRewriteCap.effective(intParam(q, "rewrite"))}},
			}
		},
	}
}

func dailyPlan() endpointPlan {
	return endpointPlan{
		name:   "daily",
		budget: dailyBudget,
		stages: func(q url.Values, hour int) []plannedStage {
			plan := []plannedStage{
				{StageDiscover, Opts{Limit: dailyDiscoverCap.effective(intParam(q, "discover"))}},
				{StageIngest, Opts{Limit: dailyIngestCap.effective(intParam(q, "limit"))}},
				{StagePrefetch, Opts{Limit: dailyPrefetchCap.effective(0)}},
				{StageCategorize, Opts{Limit: dailyIngestCap.max}},
				{StageCluster, Opts{Limit: dailyIngestCap.max}},
				{StageMaintain, Opts{}},
				{StageScore, Opts{}},
				{StageRewrite, Opts{Limit: dailyRewriteCap.effective(intParam(q, "rewrite"))}},
				{StageRetention, Opts{}},
			}

			if hour >= dailyDiscoverStartHour && hour <= dailyDiscoverEndHour {
				plan = append(plan, plannedStage{StageWebDiscover, Opts{
					MaxQueries: dailyWebMaxQueries,
					PerQuery:   dailyWebPerQuery,
				}})
			}

			return plan
		},
	}
}
