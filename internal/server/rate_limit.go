package server

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/voxmeter/voxmeter/internal/observability/logger"
)

const rateLimitReasonSourceRate = "source-rate"

type ingestRateLimitKey struct {
	AssistantID string `json:"assistant_id"`
}

// IngestRateLimit throttles webhook deliveries per assistant. The
// body is peeked and restored so the handler can still bind it.
func (s *Server) IngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.ingestLimiter == nil || !s.ingestLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		source, err := readIngestSource(c)
		if err != nil {
			logger.FromContext(ctx).Warn("ingest rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}

		result, err := s.ingestLimiter.AllowSource(ctx, source)
		if err != nil {
			logger.FromContext(ctx).Warn("ingest rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			logger.FromContext(ctx).Warn("ingest rate limit exceeded",
				zap.String("source", source),
				zap.String("reason", rateLimitReasonSourceRate),
			)
			s.obsMetrics.RecordRateLimitDenied(ctx, endpointLabel(c), rateLimitReasonSourceRate)

			c.Header("Retry-After", "1")
			c.Header("X-Rate-Limited-Reason", rateLimitReasonSourceRate)
			AbortWithError(c, ErrRateLimited)
			return
		}

		c.Next()
	}
}

func readIngestSource(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload ingestRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	return strings.TrimSpace(payload.AssistantID), nil
}

func endpointLabel(c *gin.Context) string {
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
