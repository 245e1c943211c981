package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wherespace/internal/modelserver"
	"github.com/fyrsmithlabs/wherespace/internal/retriever"
	"github.com/fyrsmithlabs/wherespace/internal/store"
)

type queryRequest struct {
	Query string `json:"query"`
}

type setModelRequest struct {
	Model string `json:"model"`
}

type ingestRequest struct {
	Path         string `json:"path"`
	MaxDocuments int    `json:"max_documents,omitempty"`
}

type scanRequest struct {
	Path string `json:"path"`
}

type searchRequest struct {
	Query         string  `json:"query"`
	TopK          int     `json:"top_k,omitempty"`
	MinSimilarity float64 `json:"min_similarity,omitempty"`
	FileType      string  `json:"file_type,omitempty"`
}

// source is one entry of the trailing record a streamed query emits.
type source struct {
	FileName   string  `json:"file_name"`
	Similarity float64 `json:"similarity"`
	Preview    string  `json:"preview"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()

	docCount, err := s.deps.Store.CountDocuments(ctx)
	if err != nil {
		return s.internalError(c, err)
	}
	chunkCount, err := s.deps.Store.CountChunks(ctx)
	if err != nil {
		return s.internalError(c, err)
	}

	persisted, ok := s.deps.State.Persisted()
	return c.JSON(http.StatusOK, map[string]any{
		"current_model":   s.deps.State.Get(),
		"persisted_model": persisted,
		"persistence_ok":  ok,
		"document_count":  docCount,
		"chunk_count":     chunkCount,
	})
}

func (s *Server) handleModels(c echo.Context) error {
	grouped, err := s.deps.Catalog.Grouped(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "model server unavailable",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"models":        grouped,
		"current_model": s.deps.State.Get(),
	})
}

func (s *Server) handleSetModel(c echo.Context) error {
	var req setModelRequest
	if err := c.Bind(&req); err != nil || req.Model == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "model is required"})
	}

	ctx := c.Request().Context()
	name, found, err := s.deps.Catalog.Resolve(ctx, req.Model)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "model server unavailable",
		})
	}
	if !found {
		names, _ := s.deps.Catalog.Names(ctx)
		return c.JSON(http.StatusNotFound, map[string]any{
			"error":            fmt.Sprintf("model %q is not installed", req.Model),
			"available_models": names,
		})
	}

	verified := true
	if err := s.deps.State.Set(name); err != nil {
		s.logger.Error("model persistence verification failed", zap.Error(err))
		verified = false
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"model":    name,
		"verified": verified,
	})
}

func (s *Server) handleListDocuments(c echo.Context) error {
	docs, err := s.deps.Store.ListDocuments(c.Request().Context())
	if err != nil {
		return s.internalError(c, err)
	}
	if docs == nil {
		docs = []store.DocSummary{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"documents": docs,
		"count":     len(docs),
	})
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	var req struct {
		FilePath string `json:"file_path"`
	}
	if err := c.Bind(&req); err != nil || req.FilePath == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "file_path is required"})
	}
	deleted, err := s.deps.Store.DeleteDocument(c.Request().Context(), req.FilePath)
	if err != nil {
		return s.internalError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted_count": deleted})
}

func (s *Server) handleFlushDocuments(c echo.Context) error {
	deleted, err := s.deps.Store.FlushAll(c.Request().Context())
	if err != nil {
		return s.internalError(c, err)
	}
	if s.deps.Cache != nil {
		s.deps.Cache.Clear()
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted_count": deleted})
}

func (s *Server) handleQueryStream(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil || req.Query == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "query is required"})
	}
	ctx := c.Request().Context()

	hits, err := s.deps.Retriever.Retrieve(ctx, req.Query, true)
	if err != nil {
		return s.upstreamError(c, err)
	}

	prompt := retriever.BuildPrompt(req.Query, hits, s.deps.MaxPromptTokens)
	return s.stream(c, prompt, hits)
}

func (s *Server) handleQueryDirectStream(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil || req.Query == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "query is required"})
	}
	return s.stream(c, retriever.BuildDirectPrompt(req.Query), nil)
}

// stream runs generation and flushes each token as it arrives. After
// the final token it emits a trailing JSON record with the sources.
// Client disconnects cancel the upstream stream through the request
// context.
func (s *Server) stream(c echo.Context, prompt string, hits []store.Hit) error {
	ctx := c.Request().Context()
	model := s.deps.State.Get()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/plain; charset=utf-8")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	err := s.deps.Generator.ChatStream(ctx, model, prompt, func(token string) error {
		if _, err := resp.Write([]byte(token)); err != nil {
			return err
		}
		resp.Flush()
		return nil
	})
	if err != nil {
		// Headers are out, so the status code cannot change. Emit a
		// terminal error record the way the sources trailer is framed
		// and close the stream.
		s.logger.Warn("generation stream ended early", zap.Error(err))
		if record, merr := json.Marshal(map[string]string{
			"error": "generation failed",
			"kind":  "generation",
		}); merr == nil {
			fmt.Fprintf(resp, "\n\n%s\n", record)
			resp.Flush()
		}
		return nil
	}

	sources := make([]source, len(hits))
	for i, h := range hits {
		sources[i] = source{
			FileName:   h.FileName,
			Similarity: h.Similarity,
			Preview:    h.ContentPreview,
		}
	}
	trailer, err := json.Marshal(map[string]any{"sources": sources})
	if err != nil {
		return nil
	}
	fmt.Fprintf(resp, "\n\n%s\n", trailer)
	resp.Flush()
	return nil
}

func (s *Server) handleIngestDirectory(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil || req.Path == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "path is required"})
	}

	report, err := s.deps.Ingester.IngestDirectory(c.Request().Context(), req.Path, req.MaxDocuments)
	if err != nil {
		if errors.Is(err, store.ErrSchemaMismatch) {
			return s.internalError(c, err)
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleScanDirectory(c echo.Context) error {
	var req scanRequest
	if err := c.Bind(&req); err != nil || req.Path == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "path is required"})
	}
	report, err := s.deps.Scanner.Scan(req.Path)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, report)
}

// handleSearch returns raw hits without generation, for UIs that only
// want the matching chunks.
func (s *Server) handleSearch(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil || req.Query == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "query is required"})
	}
	ctx := c.Request().Context()

	embedding, err := s.deps.Embedder.Embed(ctx, s.deps.EmbeddingModel, req.Query)
	if err != nil {
		return s.upstreamError(c, err)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.deps.DefaultTopK
	}
	minSim := req.MinSimilarity
	if minSim <= 0 {
		minSim = s.deps.MinSimilarity
	}

	hits, err := s.deps.Store.Search(ctx, embedding, store.SearchParams{
		TopK:          topK,
		MinSimilarity: minSim,
		FileType:      req.FileType,
	})
	if err != nil {
		return s.internalError(c, err)
	}
	if hits == nil {
		hits = []store.Hit{}
	}
	return c.JSON(http.StatusOK, map[string]any{"hits": hits, "count": len(hits)})
}

// handleReindex rebuilds the ANN index sized to the current chunk
// count. Manual operation; the index is never rebuilt automatically.
func (s *Server) handleReindex(c echo.Context) error {
	if err := s.deps.Store.Reindex(c.Request().Context()); err != nil {
		return s.internalError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "reindexed"})
}

func (s *Server) handleCacheStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Cache.Stats())
}

func (s *Server) handleClearCache(c echo.Context) error {
	s.deps.Cache.Clear()
	return c.JSON(http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) internalError(c echo.Context, err error) error {
	s.logger.Error("request failed", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

// upstreamError maps model server failures to 502 and everything else
// to 500.
func (s *Server) upstreamError(c echo.Context, err error) error {
	s.logger.Error("upstream failure", zap.Error(err))
	if errors.Is(err, modelserver.ErrEmbedding) || errors.Is(err, modelserver.ErrUnreachable) ||
		errors.Is(err, modelserver.ErrGeneration) {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "model server unavailable"})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
