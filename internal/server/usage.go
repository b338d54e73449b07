package server

import (
	"errors"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	directorydomain "github.com/voxmeter/voxmeter/internal/directory/domain"
	ledgerdomain "github.com/voxmeter/voxmeter/internal/ledger/domain"
	"github.com/voxmeter/voxmeter/internal/limits"
	snapshotdomain "github.com/voxmeter/voxmeter/internal/snapshot/domain"
)

func (s *Server) ListUsage(c *gin.Context) {
	var req ledgerdomain.ListUsageRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetUsageSummary serves the current month from the snapshot cache,
// the endpoint dashboards poll. A past month is answered from the
// ledger with the same derived shape.
func (s *Server) GetUsageSummary(c *gin.Context) {
	userID, err := parseUserParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	month, err := s.monthOrDefault(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var snap *snapshotdomain.UserUsageSnapshot
	if month == ledgerdomain.BillingMonthOf(s.clock.Now()) {
		snap, err = s.snapshotSvc.Get(c.Request.Context(), userID)
	} else {
		snap, err = s.historicalSnapshot(c, userID, month)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	lim, err := s.limitsForUser(c, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"snapshot":   snap,
		"limits":     lim,
		"evaluation": limits.Evaluate(snap.MonthlyMinutes, lim),
	})
}

// historicalSnapshot derives a closed month's counters from the
// ledger without touching the cached row.
func (s *Server) historicalSnapshot(c *gin.Context, userID snowflake.ID, month string) (*snapshotdomain.UserUsageSnapshot, error) {
	totals, err := s.ledgerSvc.AggregateMonth(c.Request.Context(), userID, month)
	if err != nil {
		return nil, err
	}
	return &snapshotdomain.UserUsageSnapshot{
		UserID:           userID,
		BillingMonth:     month,
		MonthlyMinutes:   totals.Minutes,
		TotalCalls:       totals.Calls,
		AssistantMinutes: totals.AssistantMinutes,
		WorkflowMinutes:  totals.WorkflowMinutes,
		MonthlyCost:      totals.Cost,
		LastActivityAt:   totals.LastStartedAt,
	}, nil
}

func (s *Server) GetDailyUsage(c *gin.Context) {
	userID, err := parseUserParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	month, err := s.monthOrDefault(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	days, err := s.ledgerSvc.AggregateDaily(c.Request.Context(), userID, month)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"month": month, "days": days})
}

func (s *Server) GetAssistantUsage(c *gin.Context) {
	userID, err := parseUserParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	month, err := s.monthOrDefault(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	assistants, err := s.ledgerSvc.AggregateByAssistant(c.Request.Context(), userID, month)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"month": month, "assistants": assistants})
}

func (s *Server) GetLifetimeUsage(c *gin.Context) {
	userID, err := parseUserParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	totals, err := s.ledgerSvc.AggregateLifetime(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, totals)
}

func (s *Server) GetLimitStatus(c *gin.Context) {
	userID, err := parseUserParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	snap, err := s.snapshotSvc.Get(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	lim, err := s.limitsForUser(c, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"plan":       lim.Plan,
		"limits":     lim,
		"evaluation": limits.Evaluate(snap.MonthlyMinutes, lim),
	})
}

// RebuildSnapshot recomputes the cache from the ledger, the recovery
// path for a drifted or lost snapshot row.
func (s *Server) RebuildSnapshot(c *gin.Context) {
	userID, err := parseUserParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	month, err := s.monthOrDefault(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	snap, err := s.snapshotSvc.Rebuild(c.Request.Context(), userID, month)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

func (s *Server) ListAlerts(c *gin.Context) {
	userID, err := parseUserParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	month := c.Query("month")
	alerts, err := s.alertSvc.List(c.Request.Context(), userID, month)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) limitsForUser(c *gin.Context, userID snowflake.ID) (limits.UsageLimits, error) {
	plan := ""
	account, err := s.directorySvc.GetAccount(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, directorydomain.ErrAccountNotFound) {
		return limits.UsageLimits{}, err
	}
	if account != nil {
		plan = account.Plan
	}
	return s.limitTable.LimitsFor(plan), nil
}
