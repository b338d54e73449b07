// Package billing converts billed minutes into money. It is pure: no
// storage, no clock, just arithmetic over minutes, rates and limits.
package billing

import (
	"math"

	"github.com/voxmeter/voxmeter/internal/config"
	"github.com/voxmeter/voxmeter/internal/limits"
)

// BillingInfo is the priced breakdown of one user's usage.
type BillingInfo struct {
	AssistantCost          float64 `json:"assistant_cost"`
	WorkflowCost           float64 `json:"workflow_cost"`
	TotalCost              float64 `json:"total_cost"`
	AssistantRatePerMinute float64 `json:"assistant_rate_per_minute"`
	WorkflowRatePerMinute  float64 `json:"workflow_rate_per_minute"`
	OverageMinutes         int64   `json:"overage_minutes"`
	OverageRate            float64 `json:"overage_rate"`
	Currency               string  `json:"currency"`
}

// ComputeCost prices the month's minutes. Minutes within the plan
// allowance bill at the channel rate; minutes beyond it bill at the
// plan's overage rate. Both portions are split across channels in
// proportion to each channel's share of total minutes.
//
// Rounding happens once, on the final per-channel totals; the grand
// total is the sum of the rounded channel totals, so
// AssistantCost + WorkflowCost == TotalCost holds exactly.
func ComputeCost(assistantMinutes, workflowMinutes int64, lim limits.UsageLimits, rates config.BillingRates) BillingInfo {
	info := BillingInfo{
		AssistantRatePerMinute: rates.AssistantRatePerMinute,
		WorkflowRatePerMinute:  rates.WorkflowRatePerMinute,
		OverageRate:            lim.OverageRate,
		Currency:               rates.Currency,
	}

	if assistantMinutes < 0 {
		assistantMinutes = 0
	}
	if workflowMinutes < 0 {
		workflowMinutes = 0
	}
	total := assistantMinutes + workflowMinutes
	if total == 0 {
		return info
	}

	baseMinutes := total
	var overageMinutes int64
	if lim.MonthlyMinuteLimit > 0 && total > lim.MonthlyMinuteLimit {
		baseMinutes = lim.MonthlyMinuteLimit
		overageMinutes = total - lim.MonthlyMinuteLimit
	}

	assistantShare := float64(assistantMinutes) / float64(total)
	workflowShare := float64(workflowMinutes) / float64(total)

	assistantCost := float64(baseMinutes)*assistantShare*rates.AssistantRatePerMinute +
		float64(overageMinutes)*assistantShare*lim.OverageRate
	workflowCost := float64(baseMinutes)*workflowShare*rates.WorkflowRatePerMinute +
		float64(overageMinutes)*workflowShare*lim.OverageRate

	info.AssistantCost = roundCurrency(assistantCost)
	info.WorkflowCost = roundCurrency(workflowCost)
	info.TotalCost = info.AssistantCost + info.WorkflowCost
	info.OverageMinutes = overageMinutes
	return info
}

// RecordCost prices a single record at ingest time, before any
// allowance accounting. Invoices re-price from aggregate minutes.
func RecordCost(channelMinutes int64, channel string, rates config.BillingRates) float64 {
	if channelMinutes <= 0 {
		return 0
	}
	rate := rates.AssistantRatePerMinute
	if channel == "workflow" {
		rate = rates.WorkflowRatePerMinute
	}
	return roundCurrency(float64(channelMinutes) * rate)
}

func roundCurrency(value float64) float64 {
	return math.Round(value*100) / 100
}
