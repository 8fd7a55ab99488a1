// Package rewrite produces neutral replacement headlines through the chat
// completion service, with acceptance guards that keep the rewrite factual.
package rewrite

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/climateriver/river/internal/core/llm"
	"github.com/climateriver/river/internal/storage"
)

const (
	defaultConcurrency = 2
	maxTitleLength     = 140
)

// Rejection reasons recorded in rewrite_notes.
const (
	reasonTooLong         = "too_long"
	reasonIdentical       = "identical"
	reasonBannedPhrase    = "banned_phrase"
	reasonAddedProperNoun = "added_proper_noun"
	reasonAddedNumber     = "added_number"
	reasonEmpty           = "empty"
)

// Repository is the storage surface the rewriter uses.
type Repository interface {
	ListRewriteCandidates(ctx context.Context, days, limit int) ([]storage.RewriteCandidate, error)
	RecordRewrite(ctx context.Context, articleID int64, title, model, notes string) error
}

// Rewriter batches headline rewrites.
type Rewriter struct {
	repo        Repository
	client      llm.Client
	model       string
	logger      *zerolog.Logger
	days        int
	concurrency int
}

// New creates a rewriter selecting candidates from the last days days.
func New(repo Repository, client llm.Client, model string, days int, logger *zerolog.Logger) *Rewriter {
	return &Rewriter{
		repo:        repo,
		client:      client,
		model:       model,
		logger:      logger,
		days:        days,
		concurrency: defaultConcurrency,
	}
}

// Result aggregates one rewrite run.
type Result struct {
	Processed int
	Updated   int
	Skipped   int
}

// Counts converts the result to stage counters.
func (r Result) Counts() map[string]int {
	return map[string]int{"processed": r.Processed, "updated": r.Updated, "skipped": r.Skipped}
}

// Run rewrites up to limit candidate headlines.
func (rw *Rewriter) Run(ctx context.Context, limit int) (Result, error) {
	candidates, err := rw.repo.ListRewriteCandidates(ctx, rw.days, limit)
	if err != nil {
		return Result{}, fmt.Errorf("list rewrite candidates: %w", err)
	}

	var (
		res Result
		mu  sync.Mutex
		wg  sync.WaitGroup
	)

	sem := make(chan struct{}, rw.concurrency)

	for _, cand := range candidates {
		wg.Add(1)

		go func(cand storage.RewriteCandidate) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			updated := rw.rewriteOne(ctx, cand)

			mu.Lock()
			res.Processed++
			if updated {
				res.Updated++
			} else {
				res.Skipped++
			}
			mu.Unlock()
		}(cand)
	}

	wg.Wait()

	return res, nil
}

func (rw *Rewriter) rewriteOne(ctx context.Context, cand storage.RewriteCandidate) bool {
	candidate, err := rw.client.RewriteHeadline(ctx, cand.Title, cand.Dek)
	if err != nil {
		rw.logger.Warn().Err(err).Int64("article_id", cand.ID).Msg("rewrite completion failed")

		return false
	}

	reasons := Evaluate(cand.Title, cand.Dek, candidate)
	if len(reasons) > 0 {
		// Rejections still mark the attempt so the article is not retried.
		if err := rw.repo.RecordRewrite(ctx, cand.ID, "", rw.model, strings.Join(reasons, ",")); err != nil {
			rw.logger.Error().Err(err).Int64("article_id", cand.ID).Msg("record rejection failed")
		}

		return false
	}

	if err := rw.repo.RecordRewrite(ctx, cand.ID, candidate, rw.model, ""); err != nil {
		rw.logger.Error().Err(err).Int64("article_id", cand.ID).Msg("record rewrite failed")

		return false
	}

	return true
}

// Evaluate checks a candidate headline against the acceptance rules and
// returns the rejection reasons, empty on acceptance.
func Evaluate(title, dek, candidate string) []string {
	candidate = strings.TrimSpace(candidate)

	var reasons []string

	if candidate == "" {
		return []string{reasonEmpty}
	}

	if len([]rune(candidate)) > maxTitleLength {
		reasons = append(reasons, reasonTooLong)
	}

	if strings.EqualFold(candidate, strings.TrimSpace(title)) {
		reasons = append(reasons, reasonIdentical)
	}

	if hasBannedPhrase(candidate) {
		reasons = append(reasons, reasonBannedPhrase)
	}

	source := strings.ToLower(title + " " + dek)

	if addsProperNoun(source, candidate) {
		reasons = append(reasons, reasonAddedProperNoun)
	}

	if addsNumber(source, candidate) {
		reasons = append(reasons, reasonAddedNumber)
	}

	return reasons
}

var bannedPhrases = []string{
	"you won't believe",
	"shocking",
	"destroys",
	"slams",
	"goes viral",
	"mind-blowing",
	"breaking:",
}

func hasBannedPhrase(candidate string) bool {
	lower := strings.ToLower(candidate)

	for _, phrase := range bannedPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}

	return false
}

// addsProperNoun reports whether the candidate introduces a proper noun the
// source never mentions. Capitalized runs are treated as proper nouns, except
// a lone capitalized first word, which is ordinary sentence case.
func addsProperNoun(source, candidate string) bool {
	for _, run := range capitalizedRuns(candidate) {
		if run.start == 0 && len(run.words) == 1 {
			continue
		}

		for _, w := range run.words {
			if !strings.Contains(source, strings.ToLower(w)) {
				return true
			}
		}
	}

	return false
}

// addsNumber reports whether the candidate introduces a number absent from
// the source.
func addsNumber(source, candidate string) bool {
	for _, tok := range strings.Fields(candidate) {
		tok = strings.Trim(tok, ".,;:!?\"'()")
		if tok == "" || !containsDigit(tok) {
			continue
		}

		if !strings.Contains(source, strings.ToLower(tok)) {
			return true
		}
	}

	return false
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}

	return false
}

type capitalRun struct {
	start int // word index of the run's first word
	words []string
}

// capitalizedRuns returns maximal runs of consecutive capitalized words.
func capitalizedRuns(s string) []capitalRun {
	words := strings.Fields(s)

	var (
		runs    []capitalRun
		current *capitalRun
	)

	for i, w := range words {
		trimmed := strings.Trim(w, ".,;:!?\"'()")

		if isCapitalized(trimmed) {
			if current == nil {
				current = &capitalRun{start: i}
			}

			current.words = append(current.words, trimmed)

			continue
		}

		if current != nil {
			runs = append(runs, *current)
			current = nil
		}
	}

	if current != nil {
		runs = append(runs, *current)
	}

	return runs
}

func isCapitalized(w string) bool {
	if w == "" {
		return false
	}

	r := []rune(w)[0]

	return unicode.IsUpper(r)
}
