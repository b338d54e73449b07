package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	ingestdomain "github.com/voxmeter/voxmeter/internal/ingest/domain"
)

func (s *Server) HandleVoiceEvent(c *gin.Context) {
	var event ingestdomain.VoiceEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if eventType := strings.TrimSpace(event.Type); eventType != "" {
		c.Set("event_type", eventType)
	}

	result, err := s.ingestSvc.HandleEvent(c.Request.Context(), event)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type reprocessRequest struct {
	BatchSize int `json:"batch_size"`
}

// ReprocessUnattributed replays parked events. The redis lock keeps
// concurrent replicas from replaying the same batch.
func (s *Server) ReprocessUnattributed(c *gin.Context) {
	var req reprocessRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	ctx := c.Request.Context()
	token, acquired, err := s.ingestLimiter.TryReprocessLock(ctx)
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	if !acquired {
		AbortWithError(c, ErrConflict)
		return
	}
	defer func() {
		_ = s.ingestLimiter.ReleaseReprocessLock(ctx, token)
	}()

	report, err := s.ingestSvc.ReprocessUnattributed(ctx, req.BatchSize)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func (s *Server) ListUnattributed(c *gin.Context) {
	rows, err := s.ingestSvc.ListUnattributed(c.Request.Context(), parseLimitQuery(c, 50))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": rows})
}
