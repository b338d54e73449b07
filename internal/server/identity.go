package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	identitydomain "github.com/voxmeter/voxmeter/internal/identity/domain"
)

func (s *Server) BindIdentity(c *gin.Context) {
	var req identitydomain.BindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := parseUserField(req.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	platform := identitydomain.Platform(strings.TrimSpace(strings.ToLower(req.Platform)))
	if err := s.identitySvc.Bind(c.Request.Context(), userID, platform, req.ExternalID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":     userID.String(),
		"platform":    platform,
		"external_id": strings.TrimSpace(req.ExternalID),
	})
}

func (s *Server) ResolveIdentity(c *gin.Context) {
	platform := identitydomain.Platform(strings.TrimSpace(strings.ToLower(c.Query("platform"))))
	externalID := c.Query("external_id")

	userID, err := s.identitySvc.Resolve(c.Request.Context(), platform, externalID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID.String()})
}

func (s *Server) ListIdentities(c *gin.Context) {
	userID, err := parseUserParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	identities, err := s.identitySvc.ListByUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"identities": identities})
}
