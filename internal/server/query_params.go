package server

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	ledgerdomain "github.com/voxmeter/voxmeter/internal/ledger/domain"
)

func parseUserParam(c *gin.Context) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param("userId"))
	if raw == "" {
		return 0, newValidationError("userId", "invalid_user", "user id is required")
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, newValidationError("userId", "invalid_user", "user id is malformed")
	}
	return id, nil
}

func parseUserField(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, newValidationError("user_id", "invalid_user", "user id is required")
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, newValidationError("user_id", "invalid_user", "user id is malformed")
	}
	return id, nil
}

// monthOrDefault validates the month query parameter, defaulting to
// the current billing month.
func (s *Server) monthOrDefault(c *gin.Context) (string, error) {
	month := strings.TrimSpace(c.Query("month"))
	if month == "" {
		return ledgerdomain.BillingMonthOf(s.clock.Now()), nil
	}
	if _, _, err := ledgerdomain.MonthBounds(month); err != nil {
		return "", newValidationError("month", "invalid_month", "month must look like 2026-08")
	}
	return month, nil
}

func parseLimitQuery(c *gin.Context, fallback int) int {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
