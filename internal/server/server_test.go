package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wherespace/internal/catalog"
	"github.com/fyrsmithlabs/wherespace/internal/ingest"
	"github.com/fyrsmithlabs/wherespace/internal/modelserver"
	"github.com/fyrsmithlabs/wherespace/internal/modelstate"
	"github.com/fyrsmithlabs/wherespace/internal/querycache"
	"github.com/fyrsmithlabs/wherespace/internal/scanner"
	"github.com/fyrsmithlabs/wherespace/internal/store"
)

type fakeStore struct {
	docs      []store.DocSummary
	hits      []store.Hit
	flushed   int64
	deleted   int64
	chunks    int
	documents int
	reindexed bool
	err       error
}

func (f *fakeStore) ListDocuments(context.Context) ([]store.DocSummary, error) {
	return f.docs, f.err
}

func (f *fakeStore) DeleteDocument(context.Context, string) (int64, error) {
	return f.deleted, f.err
}

func (f *fakeStore) FlushAll(context.Context) (int64, error) {
	return f.flushed, f.err
}

func (f *fakeStore) CountChunks(context.Context) (int, error) { return f.chunks, f.err }

func (f *fakeStore) CountDocuments(context.Context) (int, error) { return f.documents, f.err }

func (f *fakeStore) Search(context.Context, []float32, store.SearchParams) ([]store.Hit, error) {
	return f.hits, f.err
}

func (f *fakeStore) Reindex(context.Context) error {
	f.reindexed = true
	return f.err
}

type fakeRetriever struct {
	hits []store.Hit
	err  error
}

func (f *fakeRetriever) Retrieve(context.Context, string, bool) ([]store.Hit, error) {
	return f.hits, f.err
}

type fakeGenerator struct {
	tokens []string
	err    error
	prompt string
	model  string
}

func (f *fakeGenerator) ChatStream(_ context.Context, model, prompt string, fn func(string) error) error {
	f.model = model
	f.prompt = prompt
	for _, tok := range f.tokens {
		if err := fn(tok); err != nil {
			return err
		}
	}
	return f.err
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string, string) ([]float32, error) {
	return f.vec, f.err
}

type fakeIngester struct {
	report *ingest.Report
	err    error
	path   string
}

func (f *fakeIngester) IngestDirectory(_ context.Context, dir string, _ int) (*ingest.Report, error) {
	f.path = dir
	return f.report, f.err
}

type fakeLister struct {
	models []modelserver.ModelInfo
	err    error
}

func (f *fakeLister) ListModels(context.Context) ([]modelserver.ModelInfo, error) {
	return f.models, f.err
}

func testDeps(t *testing.T) (Deps, *fakeStore, *fakeRetriever, *fakeGenerator) {
	t.Helper()
	st := &fakeStore{chunks: 12, documents: 3}
	rt := &fakeRetriever{}
	gen := &fakeGenerator{tokens: []string{"Hello", " world"}}
	lister := &fakeLister{models: []modelserver.ModelInfo{
		{Name: "llama3.1:latest", Size: 1, ModifiedAt: time.Now()},
		{Name: "mistral:latest", Size: 1, ModifiedAt: time.Now()},
	}}
	deps := Deps{
		Store:           st,
		Retriever:       rt,
		Generator:       gen,
		Embedder:        &fakeEmbedder{vec: []float32{0.1}},
		Ingester:        &fakeIngester{report: &ingest.Report{RunID: "run", Ingested: 2}},
		Catalog:         catalog.New(lister),
		State:           modelstate.Load(filepath.Join(t.TempDir(), "model.json"), "llama3.1", zap.NewNop()),
		Cache:           querycache.New(10, time.Minute),
		Scanner:         scanner.New(nil, zap.NewNop()),
		EmbeddingModel:  "nomic-embed-text",
		MaxPromptTokens: 2000,
		DefaultTopK:     10,
		MinSimilarity:   0.3,
	}
	return deps, st, rt, gen
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	deps, _, _, _ := testDeps(t)
	s := New(deps, zap.NewNop())

	rec := doJSON(t, s.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestStatus(t *testing.T) {
	deps, _, _, _ := testDeps(t)
	s := New(deps, zap.NewNop())

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "llama3.1", body["current_model"])
	assert.Equal(t, true, body["persistence_ok"])
	assert.Equal(t, float64(3), body["document_count"])
	assert.Equal(t, float64(12), body["chunk_count"])
}

func TestModels(t *testing.T) {
	deps, _, _, _ := testDeps(t)
	s := New(deps, zap.NewNop())

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "llama3.1", body["current_model"])
	models := body["models"].(map[string]any)
	assert.Contains(t, models, "llama")
	assert.Contains(t, models, "mistral")
}

func TestSetModel(t *testing.T) {
	t.Run("sets installed model", func(t *testing.T) {
		deps, _, _, _ := testDeps(t)
		s := New(deps, zap.NewNop())

		rec := doJSON(t, s.Handler(), http.MethodPost, "/api/set_model",
			setModelRequest{Model: "mistral:latest"})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "mistral", body["model"])
		assert.Equal(t, true, body["verified"])
		assert.Equal(t, "mistral", deps.State.Get())
	})

	t.Run("unknown model is 404 with alternatives", func(t *testing.T) {
		deps, _, _, _ := testDeps(t)
		s := New(deps, zap.NewNop())

		rec := doJSON(t, s.Handler(), http.MethodPost, "/api/set_model",
			setModelRequest{Model: "gpt-4"})
		require.Equal(t, http.StatusNotFound, rec.Code)

		body := decode(t, rec)
		assert.Contains(t, body["available_models"], "llama3.1")
	})

	t.Run("missing model is 400", func(t *testing.T) {
		deps, _, _, _ := testDeps(t)
		s := New(deps, zap.NewNop())

		rec := doJSON(t, s.Handler(), http.MethodPost, "/api/set_model", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListDocuments(t *testing.T) {
	deps, st, _, _ := testDeps(t)
	st.docs = []store.DocSummary{
		{FilePath: "/d/a.txt", FileName: "a.txt", ChunkCount: 4},
	}
	s := New(deps, zap.NewNop())

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/list_documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, float64(1), body["count"])
}

func TestFlushDocuments(t *testing.T) {
	deps, st, _, _ := testDeps(t)
	st.flushed = 42
	deps.Cache.Put([]float32{1, 2, 3}, 5, []store.Hit{{FilePath: "x"}})
	s := New(deps, zap.NewNop())

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/flush_documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(42), decode(t, rec)["deleted_count"])

	// Flushing the store also clears the query cache.
	assert.Equal(t, 0, deps.Cache.Stats().Size)
}

func TestQueryStream(t *testing.T) {
	t.Run("streams tokens and trailing sources", func(t *testing.T) {
		deps, _, rt, gen := testDeps(t)
		rt.hits = []store.Hit{{
			FileName:       "guide.md",
			Similarity:     0.91,
			ContentPreview: "Pooling keeps connections warm.",
			Content:        "Pooling keeps connections warm.",
		}}
		s := New(deps, zap.NewNop())

		rec := doJSON(t, s.Handler(), http.MethodPost, "/api/query_stream",
			queryRequest{Query: "pool size"})
		require.Equal(t, http.StatusOK, rec.Code)

		body := rec.Body.String()
		assert.True(t, strings.HasPrefix(body, "Hello world"))

		// Trailing record carries the sources.
		idx := strings.Index(body, "\n\n")
		require.Greater(t, idx, 0)
		var trailer struct {
			Sources []source `json:"sources"`
		}
		require.NoError(t, json.Unmarshal([]byte(body[idx:]), &trailer))
		require.Len(t, trailer.Sources, 1)
		assert.Equal(t, "guide.md", trailer.Sources[0].FileName)
		assert.InDelta(t, 0.91, trailer.Sources[0].Similarity, 1e-9)

		// The generator got the RAG envelope, not the raw query.
		assert.Contains(t, gen.prompt, "guide.md")
		assert.Contains(t, gen.prompt, "Question: pool size")
		assert.Equal(t, "llama3.1", gen.model)
	})

	t.Run("mid-stream failure emits terminal error record", func(t *testing.T) {
		deps, _, _, gen := testDeps(t)
		gen.tokens = []string{"partial "}
		gen.err = fmt.Errorf("%w: connection reset", modelserver.ErrGeneration)
		s := New(deps, zap.NewNop())

		rec := doJSON(t, s.Handler(), http.MethodPost, "/api/query_stream",
			queryRequest{Query: "q"})
		// Headers were already flushed; the failure shows up in-band.
		require.Equal(t, http.StatusOK, rec.Code)

		body := rec.Body.String()
		assert.True(t, strings.HasPrefix(body, "partial "))

		idx := strings.Index(body, "\n\n")
		require.Greater(t, idx, 0)
		var record map[string]string
		require.NoError(t, json.Unmarshal([]byte(body[idx:]), &record))
		assert.Equal(t, "generation failed", record["error"])
		assert.Equal(t, "generation", record["kind"])
	})

	t.Run("retrieval failure maps to 502", func(t *testing.T) {
		deps, _, rt, _ := testDeps(t)
		rt.err = fmt.Errorf("embed query: %w", modelserver.ErrEmbedding)
		s := New(deps, zap.NewNop())

		rec := doJSON(t, s.Handler(), http.MethodPost, "/api/query_stream",
			queryRequest{Query: "q"})
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("empty query is 400", func(t *testing.T) {
		deps, _, _, _ := testDeps(t)
		s := New(deps, zap.NewNop())

		rec := doJSON(t, s.Handler(), http.MethodPost, "/api/query_stream", queryRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestQueryDirectStream(t *testing.T) {
	deps, _, _, gen := testDeps(t)
	s := New(deps, zap.NewNop())

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/query_direct_stream",
		queryRequest{Query: "what is a pool"})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.True(t, strings.HasPrefix(rec.Body.String(), "Hello world"))
	// Direct mode uses the minimal envelope without context blocks.
	assert.NotContains(t, gen.prompt, "Context:")
	assert.Contains(t, gen.prompt, "Question: what is a pool")
}

func TestIngestDirectory(t *testing.T) {
	t.Run("returns report", func(t *testing.T) {
		deps, _, _, _ := testDeps(t)
		s := New(deps, zap.NewNop())

		rec := doJSON(t, s.Handler(), http.MethodPost, "/api/ingest_directory",
			ingestRequest{Path: "/data/docs"})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		assert.Equal(t, "run", body["run_id"])
		assert.Equal(t, float64(2), body["ingested"])
	})

	t.Run("bad path is 400", func(t *testing.T) {
		deps, _, _, _ := testDeps(t)
		deps.Ingester = &fakeIngester{err: errors.New("no such directory")}
		s := New(deps, zap.NewNop())

		rec := doJSON(t, s.Handler(), http.MethodPost, "/api/ingest_directory",
			ingestRequest{Path: "/nope"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSearch(t *testing.T) {
	deps, st, _, _ := testDeps(t)
	st.hits = []store.Hit{{FilePath: "/d/a.txt", Similarity: 0.8}}
	s := New(deps, zap.NewNop())

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/search",
		searchRequest{Query: "pooling"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])
}

func TestCacheEndpoints(t *testing.T) {
	deps, _, _, _ := testDeps(t)
	deps.Cache.Put([]float32{1}, 5, []store.Hit{{FilePath: "x"}})
	s := New(deps, zap.NewNop())

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/cache_stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["size"])

	rec = doJSON(t, s.Handler(), http.MethodPost, "/api/clear_cache", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/cache_stats", nil)
	assert.Equal(t, float64(0), decode(t, rec)["size"])
}

func TestReindex(t *testing.T) {
	deps, st, _, _ := testDeps(t)
	s := New(deps, zap.NewNop())

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/reindex", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, st.reindexed)
}

func TestMetricsEndpoint(t *testing.T) {
	deps, _, _, _ := testDeps(t)
	s := New(deps, zap.NewNop())

	rec := doJSON(t, s.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
