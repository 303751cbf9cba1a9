package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/monitor"
	"github.com/stemsi/exstem-attempts/internal/response"
	"github.com/stemsi/exstem-attempts/internal/service"
	"github.com/stemsi/exstem-attempts/internal/validator"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

type MonitorHandler struct {
	attemptService *service.AttemptService
	feed           monitor.Feed
	log            zerolog.Logger
}

func NewMonitorHandler(attemptService *service.AttemptService, feed monitor.Feed, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		attemptService: attemptService,
		feed:           feed,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/instructor/exams/:exam_id/monitor
// Streams a live-status snapshot followed by attempt events.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, ok := validator.ParamUUID(c, "exam_id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()

	// Fail before switching to SSE so unknown exams still get a JSON 404.
	snapshot, err := h.attemptService.GetLiveStatus(reqCtx, examID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	events, cancel, err := h.feed.Subscribe(reqCtx, examID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("message", gin.H{"type": "snapshot", "data": snapshot})
	c.Writer.Flush()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Refresh only after activity; an idle exam needs no polling.
	dirty := false

	h.log.Info().Str("exam_id", examID.String()).Msg("Instructor attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Instructor disconnected from live monitor SSE")
			return

		case msg, open := <-events:
			if !open {
				return
			}
			// Forward raw JSON directly; no deserialization needed
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(msg)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
			dirty = true

		case <-refreshTicker.C:
			if !dirty {
				continue
			}
			h.sendRefresh(c, reqCtx, examID)
			dirty = false

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// sendRefresh recounts attempt states and sends a refresh event.
func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, examID uuid.UUID) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	status, err := h.attemptService.GetLiveStatus(ctx, examID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to fetch live status for refresh")
		return
	}

	c.SSEvent("message", gin.H{"type": "refresh", "data": status})
	c.Writer.Flush()
}
