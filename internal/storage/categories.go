package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/climateriver/river/internal/core/domain"
)

// ListCategories returns the fixed category set.
func (db *DB) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, slug, name, description, color, keywords
		FROM categories
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []domain.Category

	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name, &c.Description, &c.Color, &c.Keywords); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}

		out = append(out, c)
	}

	return out, rows.Err()
}

// CategorizeCandidate is a recent article without category rows.
type CategorizeCandidate struct {
	ID          int64
	Title       string
	Dek         string
	ContentHead string
}

// ListCategorizeCandidates returns recent articles that have no category
// rows yet, with the leading slice of extracted content when available.
func (db *DB) ListCategorizeCandidates(ctx context.Context, windowHours, limit int) ([]CategorizeCandidate, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT a.id, a.title, a.dek, left(COALESCE(a.content_text, ''), 2048)
		FROM articles a
		WHERE a.fetched_at > now() - make_interval(hours => $1)
		  AND NOT EXISTS (SELECT 1 FROM article_categories ac WHERE ac.article_id = a.id)
		ORDER BY a.fetched_at DESC
		LIMIT $2
	`, windowHours, limit)
	if err != nil {
		return nil, fmt.Errorf("list categorize candidates: %w", err)
	}
	defer rows.Close()

	var out []CategorizeCandidate

	for rows.Next() {
		var c CategorizeCandidate
		if err := rows.Scan(&c.ID, &c.Title, &c.Dek, &c.ContentHead); err != nil {
			return nil, fmt.Errorf("scan categorize candidate: %w", err)
		}

		out = append(out, c)
	}

	return out, rows.Err()
}

// ReplaceArticleCategories deletes any existing rows for the article and
// inserts the new set atomically. Re-categorization replaces wholesale.
func (db *DB) ReplaceArticleCategories(ctx context.Context, articleID int64, cats []domain.ArticleCategory) error {
	err := pgx.BeginTxFunc(ctx, db.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM article_categories WHERE article_id = $1`, articleID); err != nil {
			return fmt.Errorf("delete article categories: %w", err)
		}

		for _, c := range cats {
			if _, err := tx.Exec(ctx, `
				INSERT INTO article_categories (article_id, category_id, confidence, is_primary)
				VALUES ($1, $2, $3, $4)
			`, articleID, c.CategoryID, c.Confidence, c.IsPrimary); err != nil {
				return fmt.Errorf("insert article category: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("replace article categories: %w", err)
	}

	return nil
}
