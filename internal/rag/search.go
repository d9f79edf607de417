package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// defaultMaxResults bounds how many chunks a search returns.
const defaultMaxResults = 5

// Searcher retrieves knowledge-base passages from a vector store. It
// implements the demo runner's KnowledgeSearcher.
type Searcher struct {
	client     openai.Client
	storeID    string
	maxResults int64
}

// SearcherOption customizes a Searcher.
type SearcherOption func(*Searcher)

// WithMaxResults overrides how many chunks a search returns.
func WithMaxResults(n int64) SearcherOption {
	return func(s *Searcher) { s.maxResults = n }
}

// NewSearcher returns a searcher over the given vector store.
func NewSearcher(baseURL, apiKey, storeID string, opts ...SearcherOption) *Searcher {
	s := &Searcher{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(apiKey),
		),
		storeID:    storeID,
		maxResults: defaultMaxResults,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SearchKnowledgeBase returns the most relevant passages for the query,
// one block per source file, ready to hand to the RAG agent.
func (s *Searcher) SearchKnowledgeBase(ctx context.Context, query string) (string, error) {
	page, err := s.client.VectorStores.Search(ctx, s.storeID, openai.VectorStoreSearchParams{
		Query:         openai.VectorStoreSearchParamsQueryUnion{OfString: openai.String(query)},
		MaxNumResults: openai.Int(s.maxResults),
	})
	if err != nil {
		return "", fmt.Errorf("searching knowledge base: %w", err)
	}

	if len(page.Data) == 0 {
		return "No relevant information found in the knowledge base.", nil
	}

	var b strings.Builder
	for i, result := range page.Data {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s]\n", result.Filename)
		for _, content := range result.Content {
			b.WriteString(content.Text)
		}
	}
	return b.String(), nil
}
