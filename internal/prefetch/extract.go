package prefetch

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
)

// Extracted is the readable body pulled out of an article page.
type Extracted struct {
	Title     string
	Text      string
	HTML      string
	ImageURL  string
	WordCount int
}

// Extract runs readability over an article page and returns the main body.
func Extract(htmlBytes []byte, pageURL string) (*Extracted, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(htmlBytes), u)
	if err != nil {
		return nil, fmt.Errorf("readability: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)

	return &Extracted{
		Title:     article.Title,
		Text:      text,
		HTML:      article.Content,
		ImageURL:  article.Image,
		WordCount: len(strings.Fields(text)),
	}, nil
}
