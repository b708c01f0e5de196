package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"rsyncssh/pkg/cache"
	"rsyncssh/pkg/history"
	"rsyncssh/pkg/logger"
	"rsyncssh/pkg/task"
)

type Publisher interface {
	PublishSync(ctx context.Context, payload task.SyncPayload) error
}

type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
	Stats(ctx context.Context) (history.Stats, error)
}

type HTTPHandler struct {
	publisher Publisher
	cache     cache.RsyncPathCache
	history   HistoryReader
	logger    *logger.Logger
}

type PublishRequest struct {
	ProjectFile string   `json:"project_file"`
	Path        string   `json:"path"`
	Restrict    []string `json:"restrict"`
	Force       bool     `json:"force"`
	FromRemote  bool     `json:"from_remote"`
	Keys        []string `json:"keys"`
	Save        bool     `json:"save"`
}

type PublishResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type ClearCacheResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type HistoryResponse struct {
	Stats   history.Stats    `json:"stats"`
	Records []history.Record `json:"records"`
}

// NewHTTPHandler serves the daemon API. history may be nil when history is
// disabled.
func NewHTTPHandler(publisher Publisher, cache cache.RsyncPathCache, history HistoryReader) *HTTPHandler {
	return &HTTPHandler{
		publisher: publisher,
		cache:     cache,
		history:   history,
		logger:    logger.NewDefault(),
	}
}

func (h *HTTPHandler) Register(e *echo.Echo) {
	e.GET("/healthz", h.HealthHandler)
	e.POST("/sync", h.PublishHandler)
	e.DELETE("/cache", h.ClearCacheHandler)
	e.GET("/history", h.HistoryHandler)
}

func (h *HTTPHandler) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) PublishHandler(c echo.Context) error {
	var req PublishRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, PublishResponse{Error: "invalid JSON payload"})
	}

	if req.ProjectFile == "" {
		return c.JSON(http.StatusBadRequest, PublishResponse{Error: "project_file is required"})
	}

	payload := task.SyncPayload{
		ProjectFile: req.ProjectFile,
		Path:        req.Path,
		Restrict:    req.Restrict,
		Force:       req.Force,
		FromRemote:  req.FromRemote,
		Keys:        req.Keys,
		Save:        req.Save,
	}
	if err := h.publisher.PublishSync(c.Request().Context(), payload); err != nil {
		h.logger.Error("failed to publish task", err, map[string]any{
			"project_file": req.ProjectFile,
			"path":         req.Path,
		})
		return c.JSON(http.StatusInternalServerError, PublishResponse{Error: err.Error()})
	}

	h.logger.Info("task published via HTTP", map[string]any{
		"project_file": req.ProjectFile,
		"path":         req.Path,
	})

	return c.JSON(http.StatusOK, PublishResponse{
		Success: true,
		Message: "task published successfully",
	})
}

func (h *HTTPHandler) ClearCacheHandler(c echo.Context) error {
	target := c.QueryParam("target")

	if err := h.cache.Invalidate(c.Request().Context(), target); err != nil {
		h.logger.Error("failed to clear cache", err, map[string]any{"target": target})
		return c.JSON(http.StatusInternalServerError, ClearCacheResponse{Error: "internal server error"})
	}

	message := "all cache cleared successfully"
	if target != "" {
		message = "cache cleared for target: " + target
	}
	h.logger.Info("cache cleared via HTTP", map[string]any{"target": target})

	return c.JSON(http.StatusOK, ClearCacheResponse{
		Success: true,
		Message: message,
	})
}

func (h *HTTPHandler) HistoryHandler(c echo.Context) error {
	if h.history == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "history is disabled"})
	}

	n := 20
	if nStr := c.QueryParam("n"); nStr != "" {
		if parsed, err := strconv.Atoi(nStr); err == nil && parsed > 0 {
			n = parsed
		}
	}

	ctx := c.Request().Context()
	records, err := h.history.Recent(ctx, n)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	stats, err := h.history.Stats(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, HistoryResponse{Stats: stats, Records: records})
}
