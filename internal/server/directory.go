package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	directorydomain "github.com/voxmeter/voxmeter/internal/directory/domain"
)

type registerAssistantRequest struct {
	AssistantID string `json:"assistant_id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
}

func (s *Server) RegisterAssistant(c *gin.Context) {
	var req registerAssistantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := parseUserField(req.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	assistantID := strings.TrimSpace(req.AssistantID)
	if err := s.directorySvc.RegisterAssistant(c.Request.Context(), assistantID, userID, req.Name); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"assistant_id": assistantID,
		"user_id":      userID.String(),
	})
}

type upsertAccountRequest struct {
	UserID       string     `json:"user_id"`
	Plan         string     `json:"plan"`
	SubscribedAt *time.Time `json:"subscribed_at,omitempty"`
}

func (s *Server) UpsertAccount(c *gin.Context) {
	var req upsertAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := parseUserField(req.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	subscribedAt := s.clock.Now()
	if req.SubscribedAt != nil {
		subscribedAt = req.SubscribedAt.UTC()
	}

	account := directorydomain.Account{
		UserID:       userID,
		Plan:         strings.TrimSpace(strings.ToLower(req.Plan)),
		SubscribedAt: subscribedAt,
	}
	if err := s.directorySvc.UpsertAccount(c.Request.Context(), account); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}

func (s *Server) GetAccount(c *gin.Context) {
	userID, err := parseUserParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	account, err := s.directorySvc.GetAccount(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}
