package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voxmeter/voxmeter/internal/config"
	"github.com/voxmeter/voxmeter/internal/limits"
)

func testRates() config.BillingRates {
	return config.BillingRates{
		AssistantRatePerMinute: 0.05,
		WorkflowRatePerMinute:  0.03,
		Currency:               "USD",
	}
}

func TestComputeCostWithinAllowance(t *testing.T) {
	lim := limits.UsageLimits{Plan: "starter", MonthlyMinuteLimit: 500, OverageRate: 0.10}

	info := ComputeCost(100, 50, lim, testRates())

	assert.InDelta(t, 5.00, info.AssistantCost, 1e-9)
	assert.InDelta(t, 1.50, info.WorkflowCost, 1e-9)
	assert.InDelta(t, 6.50, info.TotalCost, 1e-9)
	assert.Equal(t, int64(0), info.OverageMinutes)
	assert.Equal(t, "USD", info.Currency)
}

func TestComputeCostOverageSingleChannel(t *testing.T) {
	lim := limits.UsageLimits{Plan: "tiny", MonthlyMinuteLimit: 10, OverageRate: 0.08}

	info := ComputeCost(12, 0, lim, testRates())

	// 10 allowance minutes at the assistant rate, 2 overage minutes
	// at the overage rate.
	assert.InDelta(t, 0.66, info.AssistantCost, 1e-9)
	assert.InDelta(t, 0.0, info.WorkflowCost, 1e-9)
	assert.InDelta(t, 0.66, info.TotalCost, 1e-9)
	assert.Equal(t, int64(2), info.OverageMinutes)
}

func TestComputeCostOverageSplitsProportionally(t *testing.T) {
	lim := limits.UsageLimits{Plan: "starter", MonthlyMinuteLimit: 100, OverageRate: 0.10}

	// 150 assistant + 50 workflow = 200 total, 100 over the limit.
	// Assistant carries 75% of both the allowance and the overage.
	info := ComputeCost(150, 50, lim, testRates())

	assert.InDelta(t, 75*0.05+75*0.10, info.AssistantCost, 0.005)
	assert.InDelta(t, 25*0.03+25*0.10, info.WorkflowCost, 0.005)
	assert.Equal(t, int64(100), info.OverageMinutes)
}

func TestComputeCostAdditivity(t *testing.T) {
	lim := limits.UsageLimits{Plan: "growth", MonthlyMinuteLimit: 2000, OverageRate: 0.08}
	rates := testRates()

	for a := int64(0); a <= 3000; a += 137 {
		for w := int64(0); w <= 3000; w += 251 {
			info := ComputeCost(a, w, lim, rates)
			assert.Equal(t, info.TotalCost, info.AssistantCost+info.WorkflowCost,
				"assistant=%d workflow=%d", a, w)
		}
	}
}

func TestComputeCostZeroUsage(t *testing.T) {
	lim := limits.UsageLimits{Plan: "free", MonthlyMinuteLimit: 100, OverageRate: 0.15}

	info := ComputeCost(0, 0, lim, testRates())

	assert.Zero(t, info.AssistantCost)
	assert.Zero(t, info.WorkflowCost)
	assert.Zero(t, info.TotalCost)
}

func TestComputeCostNegativeInputsClamped(t *testing.T) {
	lim := limits.UsageLimits{Plan: "free", MonthlyMinuteLimit: 100, OverageRate: 0.15}

	info := ComputeCost(-5, 10, lim, testRates())

	assert.Zero(t, info.AssistantCost)
	assert.InDelta(t, 0.30, info.WorkflowCost, 1e-9)
}

func TestRecordCost(t *testing.T) {
	rates := testRates()

	assert.InDelta(t, 0.15, RecordCost(3, "assistant", rates), 1e-9)
	assert.InDelta(t, 0.09, RecordCost(3, "workflow", rates), 1e-9)
	assert.Zero(t, RecordCost(0, "assistant", rates))
}
