// Package limits maps plans to usage allowances and evaluates current
// usage against them. The mapping is pure data so policy stays
// trivially testable; evaluation never blocks usage, it only reports.
package limits

import (
	"fmt"
	"strings"

	"github.com/voxmeter/voxmeter/internal/config"
)

// UsageLimits is the immutable allowance attached to a plan.
type UsageLimits struct {
	Plan               string  `json:"plan"`
	MonthlyMinuteLimit int64   `json:"monthly_minute_limit"`
	DailyMinuteLimit   int64   `json:"daily_minute_limit"`
	WarningThreshold   float64 `json:"warning_threshold"`
	OverageRate        float64 `json:"overage_rate"`
}

// Status classifies usage relative to the plan allowance.
type Status string

const (
	StatusSafe     Status = "safe"
	StatusWarning  Status = "warning"
	StatusExceeded Status = "exceeded"
)

// Evaluation is the outcome of checking usage against limits.
type Evaluation struct {
	Status           Status  `json:"status"`
	PercentUsed      float64 `json:"percent_used"`
	MinutesUsed      int64   `json:"minutes_used"`
	MinutesRemaining int64   `json:"minutes_remaining"`
	Message          string  `json:"message"`
}

// Evaluate reports where monthly usage stands relative to the plan.
// Exceeding the allowance never blocks further usage; it switches
// billing to overage and flips the reported status.
func Evaluate(monthlyMinutes int64, lim UsageLimits) Evaluation {
	percent := 0.0
	if lim.MonthlyMinuteLimit > 0 {
		percent = float64(monthlyMinutes) / float64(lim.MonthlyMinuteLimit)
	}

	remaining := lim.MonthlyMinuteLimit - monthlyMinutes
	if remaining < 0 {
		remaining = 0
	}

	status := StatusSafe
	switch {
	case percent >= 1.0:
		status = StatusExceeded
	case percent >= lim.WarningThreshold:
		status = StatusWarning
	}

	return Evaluation{
		Status:           status,
		PercentUsed:      percent,
		MinutesUsed:      monthlyMinutes,
		MinutesRemaining: remaining,
		Message:          message(status, remaining, lim),
	}
}

func message(status Status, remaining int64, lim UsageLimits) string {
	switch status {
	case StatusExceeded:
		return fmt.Sprintf("monthly allowance of %d minutes exceeded; overage billed at %.2f/min", lim.MonthlyMinuteLimit, lim.OverageRate)
	case StatusWarning:
		return fmt.Sprintf("%d minutes remaining of %d", remaining, lim.MonthlyMinuteLimit)
	default:
		return fmt.Sprintf("%d of %d minutes used", lim.MonthlyMinuteLimit-remaining, lim.MonthlyMinuteLimit)
	}
}

// Table resolves plans to limits from the hot-reloadable config.
type Table struct {
	holder *config.PlanConfigHolder
}

func NewTable(holder *config.PlanConfigHolder) *Table {
	return &Table{holder: holder}
}

// LimitsFor returns the allowance for the plan. An unknown or empty
// plan resolves to the most restrictive configured tier, so a
// misconfigured account can never obtain unbounded usage.
func (t *Table) LimitsFor(plan string) UsageLimits {
	cfg := t.holder.Get()
	plan = strings.TrimSpace(strings.ToLower(plan))

	var fallback *config.PlanLimit
	for i := range cfg.Plans {
		entry := &cfg.Plans[i]
		if fallback == nil || entry.MonthlyMinuteLimit < fallback.MonthlyMinuteLimit {
			fallback = entry
		}
		if strings.EqualFold(entry.Plan, plan) {
			return fromConfig(*entry)
		}
	}
	if fallback != nil {
		return fromConfig(*fallback)
	}

	// Unreachable with a validated config; kept as a hard floor.
	return UsageLimits{Plan: "free", MonthlyMinuteLimit: 100, DailyMinuteLimit: 30, WarningThreshold: 0.8, OverageRate: 0.15}
}

// Rates returns the currently configured per-minute prices.
func (t *Table) Rates() config.BillingRates {
	return t.holder.Get().Rates
}

func fromConfig(entry config.PlanLimit) UsageLimits {
	return UsageLimits{
		Plan:               strings.ToLower(entry.Plan),
		MonthlyMinuteLimit: entry.MonthlyMinuteLimit,
		DailyMinuteLimit:   entry.DailyMinuteLimit,
		WarningThreshold:   entry.WarningThreshold,
		OverageRate:        entry.OverageRate,
	}
}
