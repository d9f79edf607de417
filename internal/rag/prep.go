// Package rag builds and queries the knowledge base behind the demo's
// RAG agent: an OpenAI vector store filled with markdown articles.
package rag

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// processingTimeout bounds how long Prep waits for the vector store to
// finish indexing uploaded files.
const processingTimeout = 300 * time.Second

const pollInterval = 5 * time.Second

// UploadedFile describes one knowledge-base article in the store.
type UploadedFile struct {
	Name   string `json:"name"`
	Title  string `json:"title"`
	FileID string `json:"file_id"`
}

// PrepResult is the outcome of a knowledge-base build.
type PrepResult struct {
	StoreID string         `json:"vector_store_id"`
	Reused  bool           `json:"reused"`
	Files   []UploadedFile `json:"files"`
}

// Prep builds the knowledge-base vector store.
type Prep struct {
	client    openai.Client
	storeName string
	exclude   map[string]bool
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
}

// PrepOption customizes a Prep.
type PrepOption func(*Prep)

// WithExcludedFiles skips the named files during upload.
func WithExcludedFiles(names ...string) PrepOption {
	return func(p *Prep) {
		for _, n := range names {
			p.exclude[n] = true
		}
	}
}

// WithPollInterval overrides the processing poll interval.
func WithPollInterval(d time.Duration) PrepOption {
	return func(p *Prep) { p.interval = d }
}

// WithProcessingTimeout overrides the processing wait ceiling.
func WithProcessingTimeout(d time.Duration) PrepOption {
	return func(p *Prep) { p.timeout = d }
}

// WithLogger overrides the prep's logger.
func WithLogger(logger *slog.Logger) PrepOption {
	return func(p *Prep) { p.logger = logger }
}

// NewPrep returns a knowledge-base builder targeting the named store.
func NewPrep(baseURL, apiKey, storeName string, opts ...PrepOption) *Prep {
	p := &Prep{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(apiKey),
		),
		storeName: storeName,
		exclude:   map[string]bool{},
		interval:  pollInterval,
		timeout:   processingTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run uploads every markdown file under dir into the vector store,
// reusing a store with the configured name if one exists, and waits for
// indexing to complete.
func (p *Prep) Run(ctx context.Context, dir string) (*PrepResult, error) {
	files, err := collectMarkdown(dir, p.exclude)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no markdown files under %s", dir)
	}

	storeID, reused, err := p.findOrCreateStore(ctx)
	if err != nil {
		return nil, err
	}
	p.logger.Info("using vector store", "id", storeID, "reused", reused)

	result := &PrepResult{StoreID: storeID, Reused: reused}
	for _, path := range files {
		uploaded, err := p.uploadFile(ctx, storeID, path)
		if err != nil {
			return nil, fmt.Errorf("uploading %s: %w", path, err)
		}
		p.logger.Info("uploaded article", "file", uploaded.Name, "title", uploaded.Title, "file_id", uploaded.FileID)
		result.Files = append(result.Files, uploaded)
	}

	if err := p.waitForProcessing(ctx, storeID); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Prep) findOrCreateStore(ctx context.Context) (string, bool, error) {
	iter := p.client.VectorStores.ListAutoPaging(ctx, openai.VectorStoreListParams{})
	for iter.Next() {
		store := iter.Current()
		if store.Name == p.storeName {
			return store.ID, true, nil
		}
	}
	if err := iter.Err(); err != nil {
		return "", false, fmt.Errorf("listing vector stores: %w", err)
	}

	store, err := p.client.VectorStores.New(ctx, openai.VectorStoreNewParams{
		Name: openai.String(p.storeName),
	})
	if err != nil {
		return "", false, fmt.Errorf("creating vector store: %w", err)
	}
	return store.ID, false, nil
}

func (p *Prep) uploadFile(ctx context.Context, storeID, path string) (UploadedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return UploadedFile{}, err
	}

	name := filepath.Base(path)
	file, err := p.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(bytes.NewReader(raw), name, "text/markdown"),
		Purpose: openai.FilePurposeAssistants,
	})
	if err != nil {
		return UploadedFile{}, err
	}

	if _, err := p.client.VectorStores.Files.New(ctx, storeID, openai.VectorStoreFileNewParams{
		FileID: file.ID,
	}); err != nil {
		return UploadedFile{}, err
	}

	return UploadedFile{Name: name, Title: ExtractTitle(raw, name), FileID: file.ID}, nil
}

// waitForProcessing polls the store until every file is indexed.
func (p *Prep) waitForProcessing(ctx context.Context, storeID string) error {
	deadline := time.Now().Add(p.timeout)
	for {
		store, err := p.client.VectorStores.Get(ctx, storeID)
		if err != nil {
			return fmt.Errorf("polling vector store: %w", err)
		}

		counts := store.FileCounts
		p.logger.Info("vector store processing",
			"status", store.Status,
			"completed", counts.Completed,
			"in_progress", counts.InProgress,
			"failed", counts.Failed)

		switch store.Status {
		case openai.VectorStoreStatusCompleted:
			if counts.Failed > 0 {
				return fmt.Errorf("%d of %d files failed to index", counts.Failed, counts.Total)
			}
			return nil
		case openai.VectorStoreStatusExpired:
			return fmt.Errorf("vector store %s expired during processing", storeID)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("vector store processing did not finish within %s", p.timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}
}

// collectMarkdown returns the markdown files directly under dir, sorted
// by name.
func collectMarkdown(dir string, exclude map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading knowledge base: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".md" && ext != ".markdown" {
			continue
		}
		if exclude[entry.Name()] {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// ExtractTitle returns the first level-one heading of a markdown
// document, falling back to the file name.
func ExtractTitle(source []byte, fallback string) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	title := ""
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if heading, ok := n.(*ast.Heading); ok && heading.Level == 1 {
			title = string(heading.Text(source))
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})

	if title == "" {
		return strings.TrimSuffix(fallback, filepath.Ext(fallback))
	}
	return title
}
