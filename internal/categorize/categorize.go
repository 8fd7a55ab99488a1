// Package categorize assigns climate category tags with a hybrid rule plus
// embedding scheme.
package categorize

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/climateriver/river/internal/core/domain"
	"github.com/climateriver/river/internal/core/embeddings"
	"github.com/climateriver/river/internal/platform/htmlutils"
	"github.com/climateriver/river/internal/storage"
)

const (
	ruleWeight     = 0.6
	semanticWeight = 0.4

	titleWeight = 2.0
	dekWeight   = 1.5
	bodyWeight  = 1.0

	// Rule confidence saturates at this many weighted hits.
	ruleSaturation = 6.0

	gateFloor        = 0.15
	persistThreshold = 0.2

	embedInputLimit = 1200
	anchorCacheSize = 6
	anchorKeywords  = 8
)

// Repository is the storage surface the categorizer uses.
type Repository interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	ListCategorizeCandidates(ctx context.Context, windowHours, limit int) ([]storage.CategorizeCandidate, error)
	ReplaceArticleCategories(ctx context.Context, articleID int64, cats []domain.ArticleCategory) error
}

// Categorizer scores articles against the fixed category set.
type Categorizer struct {
	repo     Repository
	provider embeddings.Provider
	logger   *zerolog.Logger

	// Anchor embeddings live for the process: the category set is static.
	anchorMu sync.Mutex
	anchors  map[string][]float32
}

// New creates a categorizer.
func New(repo Repository, provider embeddings.Provider, logger *zerolog.Logger) *Categorizer {
	return &Categorizer{
		repo:     repo,
		provider: provider,
		logger:   logger,
		anchors:  make(map[string][]float32, anchorCacheSize),
	}
}

// Result aggregates one categorize run.
type Result struct {
	Processed int
	Tagged    int
	Skipped   int
}

// Counts converts the result to stage counters.
func (r Result) Counts() map[string]int {
	return map[string]int{"processed": r.Processed, "tagged": r.Tagged, "skipped": r.Skipped}
}

// Run categorizes up to limit recent untagged articles.
func (c *Categorizer) Run(ctx context.Context, windowHours, limit int) (Result, error) {
	categories, err := c.repo.ListCategories(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list categories: %w", err)
	}

	candidates, err := c.repo.ListCategorizeCandidates(ctx, windowHours, limit)
	if err != nil {
		return Result{}, fmt.Errorf("list candidates: %w", err)
	}

	var res Result

	for _, cand := range candidates {
		res.Processed++

		cats := c.Categorize(ctx, categories, cand.Title, cand.Dek, cand.ContentHead)
		if len(cats) == 0 {
			res.Skipped++

			continue
		}

		for i := range cats {
			cats[i].ArticleID = cand.ID
		}

		if err := c.repo.ReplaceArticleCategories(ctx, cand.ID, cats); err != nil {
			c.logger.Error().Err(err).Int64("article_id", cand.ID).Msg("persist categories failed")

			continue
		}

		res.Tagged++
	}

	return res, nil
}

// Categorize scores one article. An empty slice means the article did not
// clear the climate-relevance gate.
func (c *Categorizer) Categorize(ctx context.Context, categories []domain.Category, title, dek, body string) []domain.ArticleCategory {
	ruleScores := ruleScores(categories, title, dek, body)

	if !passesGate(ruleScores, title+" "+dek+" "+body) {
		return nil
	}

	semScores := c.semanticScores(ctx, categories, title, dek)

	var out []domain.ArticleCategory

	best := -1
	bestConf := 0.0

	for _, cat := range categories {
		conf := ruleWeight * ruleScores[cat.Slug]
		if sem, ok := semScores[cat.Slug]; ok {
			conf += semanticWeight * sem
		}

		conf = clip01(conf)
		if conf < persistThreshold {
			continue
		}

		out = append(out, domain.ArticleCategory{
			CategoryID: cat.ID,
			Slug:       cat.Slug,
			Confidence: conf,
		})

		if conf > bestConf {
			bestConf = conf
			best = len(out) - 1
		}
	}

	if best >= 0 {
		out[best].IsPrimary = true
	}

	return out
}

// ruleScores counts keyword hits weighted by position and normalizes into
// [0,1].
func ruleScores(categories []domain.Category, title, dek, body string) map[string]float64 {
	titleText := strings.ToLower(htmlutils.StripHTMLTags(title))
	dekText := strings.ToLower(htmlutils.StripHTMLTags(dek))
	bodyText := strings.ToLower(body)

	scores := make(map[string]float64, len(categories))

	for _, cat := range categories {
		var weighted float64

		for _, kw := range cat.Keywords {
			kw = strings.ToLower(kw)
			if kw == "" {
				continue
			}

			if containsTerm(titleText, kw) {
				weighted += titleWeight
			}

			if containsTerm(dekText, kw) {
				weighted += dekWeight
			}

			if containsTerm(bodyText, kw) {
				weighted += bodyWeight
			}
		}

		scores[cat.Slug] = clip01(weighted / ruleSaturation)
	}

	return scores
}

// containsTerm matches a keyword on word boundaries so "ice" does not hit
// "price".
func containsTerm(text, term string) bool {
	idx := 0

	for {
		pos := strings.Index(text[idx:], term)
		if pos < 0 {
			return false
		}

		start := idx + pos
		end := start + len(term)

		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])

		if beforeOK && afterOK {
			return true
		}

		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

// climateTerms back the relevance gate: an article with no rule signal still
// qualifies when it mentions core climate vocabulary.
var climateTerms = []string{
	"climate", "carbon", "emission", "emissions", "warming", "greenhouse",
	"renewable", "renewables", "solar", "wind power", "fossil fuel",
	"fossil fuels", "net zero", "net-zero", "decarbonization", "methane",
	"sea level", "wildfire", "drought", "heat wave", "heatwave", "ipcc", "cop",
}

func passesGate(ruleScores map[string]float64, text string) bool {
	for _, s := range ruleScores {
		if s >= gateFloor {
			return true
		}
	}

	lower := strings.ToLower(text)
	for _, term := range climateTerms {
		if containsTerm(lower, term) {
			return true
		}
	}

	return false
}

// semanticScores embeds the article head and compares it to the category
// anchors. Any embedding failure degrades to rule-only scoring.
func (c *Categorizer) semanticScores(ctx context.Context, categories []domain.Category, title, dek string) map[string]float64 {
	input := htmlutils.Truncate(strings.TrimSpace(title+" "+dek), embedInputLimit)

	vec, err := c.provider.GetEmbedding(ctx, input)
	if err != nil {
		c.logger.Warn().Err(err).Msg("article embedding failed, rule-only scores")

		return nil
	}

	scores := make(map[string]float64, len(categories))

	for _, cat := range categories {
		anchor, err := c.anchorEmbedding(ctx, cat)
		if err != nil {
			c.logger.Warn().Err(err).Str("category", cat.Slug).Msg("anchor embedding failed")

			continue
		}

		s := float64(embeddings.CosineSimilarity(vec, anchor))
		scores[cat.Slug] = rescale(s)
	}

	return scores
}

// rescale maps raw cosine similarity into a usable confidence: values below
// 0.5 carry no signal.
func rescale(s float64) float64 {
	v := 2 * (s - 0.5)
	if v < 0 {
		return 0
	}

	return v
}

func (c *Categorizer) anchorEmbedding(ctx context.Context, cat domain.Category) ([]float32, error) {
	c.anchorMu.Lock()
	cached, ok := c.anchors[cat.Slug]
	c.anchorMu.Unlock()

	if ok {
		return cached, nil
	}

	kws := cat.Keywords
	if len(kws) > anchorKeywords {
		kws = kws[:anchorKeywords]
	}

	anchorText := cat.Name + ". " + cat.Description + " " + strings.Join(kws, ", ")

	vec, err := c.provider.GetEmbedding(ctx, anchorText)
	if err != nil {
		return nil, err
	}

	c.anchorMu.Lock()
	if len(c.anchors) < anchorCacheSize {
		c.anchors[cat.Slug] = vec
	}
	c.anchorMu.Unlock()

	return vec, nil
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}

	if v > 1 {
		return 1
	}

	return v
}
