package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		fallback string
		want     string
	}{
		{
			name:     "first heading",
			source:   "# What is an eSIM?\n\nAn eSIM is a digital SIM.",
			fallback: "esim.md",
			want:     "What is an eSIM?",
		},
		{
			name:     "skips deeper headings",
			source:   "## Setup\n\n# Device Compatibility\n",
			fallback: "compat.md",
			want:     "Device Compatibility",
		},
		{
			name:     "no heading falls back to file name",
			source:   "Just some prose.",
			fallback: "notes.md",
			want:     "notes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTitle([]byte(tt.source), tt.fallback))
		})
	}
}

func TestCollectMarkdown(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"b.md":       "# B",
		"a.md":       "# A",
		"README.md":  "# Readme",
		"notes.txt":  "not markdown",
		"c.markdown": "# C",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	files, err := collectMarkdown(dir, map[string]bool{"README.md": true})
	require.NoError(t, err)

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = filepath.Base(f)
	}
	assert.Equal(t, []string{"a.md", "b.md", "c.markdown"}, names)
}

// fakeBackend is a minimal vector-store API: list, create, upload,
// attach, retrieve, search.
type fakeBackend struct {
	t         *testing.T
	stores    []map[string]any
	uploads   int
	attached  []string
	pollsLeft int
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /vector_stores", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"object": "list", "data": f.stores, "has_more": false})
	})
	mux.HandleFunc("POST /vector_stores", func(w http.ResponseWriter, r *http.Request) {
		store := map[string]any{"id": "vs-new", "object": "vector_store", "name": "esim-kb", "status": "in_progress"}
		f.stores = append(f.stores, store)
		writeJSON(w, store)
	})
	mux.HandleFunc("POST /files", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(f.t, r.ParseMultipartForm(1<<20))
		f.uploads++
		writeJSON(w, map[string]any{"id": "file-" + r.MultipartForm.File["file"][0].Filename, "object": "file"})
	})
	mux.HandleFunc("POST /vector_stores/{id}/files", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			FileID string `json:"file_id"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.attached = append(f.attached, body.FileID)
		writeJSON(w, map[string]any{"id": body.FileID, "object": "vector_store.file", "status": "in_progress"})
	})
	mux.HandleFunc("GET /vector_stores/{id}", func(w http.ResponseWriter, r *http.Request) {
		status := "in_progress"
		if f.pollsLeft <= 0 {
			status = "completed"
		}
		f.pollsLeft--
		writeJSON(w, map[string]any{
			"id":     r.PathValue("id"),
			"object": "vector_store",
			"status": status,
			"file_counts": map[string]any{
				"total":       len(f.attached),
				"completed":   len(f.attached),
				"in_progress": 0,
				"failed":      0,
			},
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestPrepUploadsAndWaits(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "what-is-esim.md"),
		[]byte("# What is an eSIM?\n\nAn eSIM is a digital SIM."), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "setup.md"),
		[]byte("# Setting up your eSIM\n\nScan the QR code."), 0644))

	backend := &fakeBackend{t: t, pollsLeft: 2}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	prep := NewPrep(server.URL, "test-key", "esim-kb", WithPollInterval(time.Millisecond))
	result, err := prep.Run(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "vs-new", result.StoreID)
	assert.False(t, result.Reused)
	assert.Equal(t, 2, backend.uploads)
	assert.Len(t, backend.attached, 2)

	require.Len(t, result.Files, 2)
	assert.Equal(t, "setup.md", result.Files[0].Name)
	assert.Equal(t, "Setting up your eSIM", result.Files[0].Title)
	assert.Equal(t, "What is an eSIM?", result.Files[1].Title)
}

func TestPrepReusesExistingStore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "faq.md"), []byte("# FAQ"), 0644))

	backend := &fakeBackend{t: t, stores: []map[string]any{
		{"id": "vs-old", "object": "vector_store", "name": "esim-kb", "status": "completed"},
	}}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	prep := NewPrep(server.URL, "test-key", "esim-kb", WithPollInterval(time.Millisecond))
	result, err := prep.Run(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "vs-old", result.StoreID)
	assert.True(t, result.Reused)
}

func TestPrepEmptyDirectory(t *testing.T) {
	prep := NewPrep("http://unused", "test-key", "esim-kb")
	_, err := prep.Run(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no markdown files")
}

func TestSearchKnowledgeBase(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/vector_stores/vs-1/search"))
		var body struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotQuery = body.Query

		writeJSON(w, map[string]any{
			"object": "vector_store.search_results.page",
			"data": []map[string]any{
				{
					"file_id":  "file-1",
					"filename": "what-is-esim.md",
					"score":    0.92,
					"content":  []map[string]any{{"type": "text", "text": "An eSIM is a digital SIM."}},
				},
				{
					"file_id":  "file-2",
					"filename": "setup.md",
					"score":    0.41,
					"content":  []map[string]any{{"type": "text", "text": "Scan the QR code."}},
				},
			},
			"has_more": false,
		})
	}))
	defer server.Close()

	searcher := NewSearcher(server.URL, "test-key", "vs-1")
	out, err := searcher.SearchKnowledgeBase(context.Background(), "what is an esim")
	require.NoError(t, err)

	assert.Equal(t, "what is an esim", gotQuery)
	assert.Contains(t, out, "[what-is-esim.md]")
	assert.Contains(t, out, "An eSIM is a digital SIM.")
	assert.Contains(t, out, "Scan the QR code.")
}

func TestSearchKnowledgeBaseNoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"object": "vector_store.search_results.page", "data": []any{}, "has_more": false})
	}))
	defer server.Close()

	searcher := NewSearcher(server.URL, "test-key", "vs-1")
	out, err := searcher.SearchKnowledgeBase(context.Background(), "anything")
	require.NoError(t, err)
	assert.Contains(t, out, "No relevant information")
}
