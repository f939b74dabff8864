// Package api exposes the knowledge base over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"legal_kb/internal/contextcache"
	"legal_kb/internal/model"
	"legal_kb/internal/scheduler"
	"legal_kb/internal/storage"
)

// ContextProvider serves cached prompt context.
type ContextProvider interface {
	GetContext(ctx context.Context, req contextcache.Request) contextcache.Result
	Stats() contextcache.Stats
	Clear() int
}

// Refresher runs manual source refreshes.
type Refresher interface {
	TriggerAsync(ctx context.Context, names []string, done func(scheduler.Report)) error
	Running() bool
	Sources() []string
}

// Handler serves the HTTP API.
type Handler struct {
	store     storage.Storage
	cache     ContextProvider
	refresher Refresher
	// base outlives single requests and bounds background refreshes.
	base context.Context
	log  *slog.Logger
}

// NewHandler creates a Handler. Background refreshes started through the API
// stop when base is cancelled.
func NewHandler(base context.Context, store storage.Storage, cache ContextProvider, refresher Refresher, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: store, cache: cache, refresher: refresher, base: base, log: log}
}

// NewRouter returns a gin engine with every route registered.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.log))

	r.GET("/health", h.Health)

	api := r.Group("/api")
	api.POST("/context", h.GetContext)
	api.GET("/faq", h.FAQByCategory)
	api.GET("/faq/search", h.SearchFAQ)
	api.GET("/stats", h.Stats)
	api.GET("/cache/stats", h.CacheStats)
	api.DELETE("/cache", h.ClearCache)
	api.GET("/sources", h.Sources)
	api.POST("/sources/refresh", h.RefreshSources)
	return r
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status())
	}
}

func errorJSON(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// storeError maps store failures to a response.
func (h *Handler) storeError(c *gin.Context, op string, err error) {
	if errors.Is(err, storage.ErrUnavailable) {
		h.log.Error("store unavailable", "op", op, "error", err)
		errorJSON(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	h.log.Error(op, "error", err)
	errorJSON(c, http.StatusInternalServerError, err.Error())
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type contextRequest struct {
	Query     string `json:"query" binding:"required"`
	Category  string `json:"category"`
	Language  string `json:"language"`
	MaxItems  int    `json:"max_items"`
	MaxLength int    `json:"max_length"`
}

// GetContext handles POST /api/context. Store failures still answer 200
// with an empty context and cache_status "error".
func (h *Handler) GetContext(c *gin.Context) {
	var req contextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	cat, err := model.ParseCategory(req.Category)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.MaxItems < 0 || req.MaxLength < 0 {
		errorJSON(c, http.StatusBadRequest, "max_items and max_length must not be negative")
		return
	}

	res := h.cache.GetContext(c.Request.Context(), contextcache.Request{
		Query:     req.Query,
		Category:  cat,
		Language:  req.Language,
		MaxItems:  req.MaxItems,
		MaxLength: req.MaxLength,
	})
	if res.Items == nil {
		res.Items = []model.Item{}
	}
	c.JSON(http.StatusOK, res)
}

func queryLimit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		errorJSON(c, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

func itemsResponse(c *gin.Context, items []model.Item) {
	if items == nil {
		items = []model.Item{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// FAQByCategory handles GET /api/faq.
func (h *Handler) FAQByCategory(c *gin.Context) {
	cat, err := model.ParseCategory(c.Query("category"))
	if err != nil || cat == "" {
		errorJSON(c, http.StatusBadRequest, "a valid category is required")
		return
	}
	limit, ok := queryLimit(c, 20)
	if !ok {
		return
	}

	items, err := h.store.ByCategory(c.Request.Context(), cat, c.Query("language"), limit)
	if err != nil {
		h.storeError(c, "faq by category", err)
		return
	}
	itemsResponse(c, items)
}

// SearchFAQ handles GET /api/faq/search.
func (h *Handler) SearchFAQ(c *gin.Context) {
	cat, err := model.ParseCategory(c.Query("category"))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	limit, ok := queryLimit(c, storage.DefaultLimit)
	if !ok {
		return
	}

	items, err := h.store.Search(c.Request.Context(), storage.SearchQuery{
		Query:    c.Query("q"),
		Category: cat,
		Language: c.Query("language"),
		Limit:    limit,
	})
	if err != nil {
		h.storeError(c, "search faq", err)
		return
	}
	itemsResponse(c, items)
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(c *gin.Context) {
	st, err := h.store.Stats(c.Request.Context())
	if err != nil {
		h.storeError(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// CacheStats handles GET /api/cache/stats.
func (h *Handler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats())
}

// ClearCache handles DELETE /api/cache.
func (h *Handler) ClearCache(c *gin.Context) {
	n := h.cache.Clear()
	h.log.Info("cache cleared", "count", n)
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

// Sources handles GET /api/sources. With ?source= it returns the metadata
// of that source only.
func (h *Handler) Sources(c *gin.Context) {
	ctx := c.Request.Context()
	if name := c.Query("source"); name != "" {
		meta, err := h.store.SourceMetadata(ctx, name)
		if err != nil {
			h.storeError(c, "source metadata", err)
			return
		}
		if meta == nil {
			errorJSON(c, http.StatusNotFound, "no metadata for source "+name)
			return
		}
		c.JSON(http.StatusOK, meta)
		return
	}

	metas, err := h.store.ListSourceMetadata(ctx)
	if err != nil {
		h.storeError(c, "list source metadata", err)
		return
	}
	if metas == nil {
		metas = []model.SourceMetadata{}
	}
	c.JSON(http.StatusOK, gin.H{
		"registered": h.refresher.Sources(),
		"running":    h.refresher.Running(),
		"metadata":   metas,
	})
}

type refreshRequest struct {
	Sources []string `json:"sources"`
}

// RefreshSources handles POST /api/sources/refresh. The refresh runs in the
// background; the response only confirms it started.
func (h *Handler) RefreshSources(c *gin.Context) {
	var req refreshRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorJSON(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	err := h.refresher.TriggerAsync(h.base, req.Sources, func(r scheduler.Report) {
		h.log.Info("manual refresh finished", "run_id", r.RunID,
			"success", r.Count(model.StatusSuccess), "error", r.Count(model.StatusError))
	})
	switch {
	case errors.Is(err, scheduler.ErrRunInProgress):
		errorJSON(c, http.StatusConflict, err.Error())
	case errors.Is(err, scheduler.ErrUnknownSource):
		errorJSON(c, http.StatusBadRequest, err.Error())
	case err != nil:
		errorJSON(c, http.StatusInternalServerError, err.Error())
	default:
		sources := req.Sources
		if len(sources) == 0 {
			sources = h.refresher.Sources()
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "started", "sources": sources})
	}
}
