package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"epp-monitor/internal/feed"
	"epp-monitor/internal/http/middleware"
	"epp-monitor/internal/report"
	"epp-monitor/internal/service"
	"epp-monitor/internal/storage"
	"epp-monitor/internal/stream"
)

const heartbeatInterval = 15 * time.Second

type Handler struct {
	monitor  *service.MonitorService
	hub      *stream.Hub
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(monitor *service.MonitorService, hub *stream.Hub, log zerolog.Logger) *Handler {
	return &Handler{
		monitor: monitor,
		hub:     hub,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.GET("/snapshot", h.getSnapshot)
		public.GET("/stats", h.getStats)
		public.GET("/timeline", h.getTimeline)
		public.GET("/trend", h.getTrend)
		public.GET("/status", h.getStatus)
		public.GET("/stream", h.streamSSE)
		public.GET("/ws", h.streamWS)
		public.GET("/timelapse/days", h.listTimelapseDays)
		public.GET("/timelapse/frames", h.listTimelapseFrames)
		public.GET("/history", h.listHistory)
		public.GET("/reports/alerts.xlsx", h.downloadReport)
	}

	// Protected endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware, middleware.RequireManager())
	{
		protected.POST("/reports/alerts", h.publishReport)
		protected.POST("/metrics/reset", h.resetMetrics)
	}
}

func (h *Handler) getSnapshot(c *gin.Context) {
	view, err := h.monitor.SnapshotView()
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(view))
}

func (h *Handler) getStats(c *gin.Context) {
	view, err := h.monitor.SnapshotView()
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  view.Stats,
		"state": view.State,
	})
}

func (h *Handler) getTimeline(c *gin.Context) {
	violationsOnly := false
	if raw := strings.TrimSpace(c.Query("violations")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("violations must be a boolean"))
			return
		}
		violationsOnly = parsed
	}

	events, err := h.monitor.Timeline(c.Query("canal"), violationsOnly)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(events))
}

func (h *Handler) getTrend(c *gin.Context) {
	snap, err := h.monitor.Current()
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":          snap.Breakdown,
		"reference_day": snap.Stats.ReferenceDay,
	})
}

func (h *Handler) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.monitor.Status()))
}

func (h *Handler) streamSSE(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, errorResponse("streaming unsupported"))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	client := stream.NewSSEClient(c.Writer, flusher, h.log)
	if err := h.sendInitial(client); err != nil {
		return
	}
	topics := []string{stream.TopicSnapshot, stream.TopicAlert, stream.TopicStatus}
	h.hub.Register(client, topics...)
	defer h.hub.Unregister(client, topics...)
	// the response writer must not be touched once the handler returns
	defer client.Close()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (h *Handler) streamWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := stream.NewWSClient(conn, h.log)
	defer client.Close()
	if err := h.sendInitial(client); err != nil {
		return
	}
	topics := []string{stream.TopicSnapshot, stream.TopicAlert, stream.TopicStatus}
	h.hub.Register(client, topics...)
	defer h.hub.Unregister(client, topics...)

	client.ReadLoop()
}

// sendInitial writes the current snapshot, or the status while none exists, before the client joins the hub.
func (h *Handler) sendInitial(client stream.Subscriber) error {
	var msg stream.Message
	if view, err := h.monitor.SnapshotView(); err == nil {
		msg = stream.Message{Type: stream.TopicSnapshot, Data: view}
	} else {
		msg = stream.Message{Type: stream.TopicStatus, Data: h.monitor.Status()}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return client.Send(payload)
}

func (h *Handler) listTimelapseDays(c *gin.Context) {
	days, err := h.monitor.TimelapseDays(c.Request.Context(), c.Query("canal"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(days))
}

func (h *Handler) listTimelapseFrames(c *gin.Context) {
	frames, err := h.monitor.TimelapseFrames(c.Request.Context(), c.Query("dia"), c.Query("canal"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(frames))
}

func (h *Handler) listHistory(c *gin.Context) {
	entries, err := h.monitor.History(c.Request.Context(), c.Query("from"), c.Query("to"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(entries))
}

func (h *Handler) downloadReport(c *gin.Context) {
	name, buf, err := h.monitor.BuildReport()
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, report.ContentType, buf.Bytes())
}

func (h *Handler) publishReport(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)
	url, err := h.monitor.PublishReport(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "ok", "url": url})
}

func (h *Handler) resetMetrics(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)
	view := h.monitor.ResetLocal(principal)
	c.JSON(http.StatusOK, successResponse(view))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNoSnapshot):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  err.Error(),
			"status": h.monitor.Status(),
		})
	case feed.IsNetworkError(err), errors.Is(err, feed.ErrParse), errors.Is(err, feed.ErrSchema):
		h.log.Warn().Err(err).Str("kind", feed.Kind(err)).Msg("backend request failed")
		c.JSON(http.StatusBadGateway, errorResponse("backend unavailable"))
	case errors.Is(err, storage.ErrNotConfigured):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
