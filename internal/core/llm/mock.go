package llm

import "context"

// MockClient returns canned responses for tests.
type MockClient struct {
	RewriteFunc  func(title, dek string) (string, error)
	DiscoverFunc func(query string, perQuery int) ([]DiscoveredArticle, error)
}

func (m *MockClient) RewriteHeadline(_ context.Context, title, dek string) (string, error) {
	if m.RewriteFunc != nil {
		return m.RewriteFunc(title, dek)
	}

	return title, nil
}

func (m *MockClient) DiscoverArticles(_ context.Context, query string, perQuery int) ([]DiscoveredArticle, error) {
	if m.DiscoverFunc != nil {
		return m.DiscoverFunc(query, perQuery)
	}

	return nil, nil
}
