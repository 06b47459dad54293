package domain

// Metric codes known to the pipeline.
const (
	MetricTasksTotal          = "tasks.total"
	MetricTasksCompleted      = "tasks.completed"
	MetricTasksOverdue        = "tasks.overdue"
	MetricTaskCompletionRate  = "tasks.completion_rate"
	MetricRisksOpen           = "risks.open"
	MetricRisksHigh           = "risks.high"
	MetricRiskExposure        = "risks.exposure"
	MetricBudgetPlanned       = "budget.planned"
	MetricBudgetActual        = "budget.actual"
	MetricBudgetBurnRate      = "budget.burn_rate"
	MetricApprovalsPending    = "approvals.pending"
	MetricApprovalRate        = "approvals.approval_rate"
	MetricMilestonesOnTime    = "milestones.on_time"
	MetricMilestoneOnTimeRate = "milestones.on_time_rate"
)

var ratioMetrics = map[string]bool{
	MetricTaskCompletionRate:  true,
	MetricBudgetBurnRate:      true,
	MetricApprovalRate:        true,
	MetricMilestoneOnTimeRate: true,
}

// IsRatioMetric reports whether a code aggregates by mean instead of sum.
func IsRatioMetric(code string) bool {
	return ratioMetrics[code]
}

// AllMetricCodes lists every metric code in a stable order.
var AllMetricCodes = []string{
	MetricTasksTotal,
	MetricTasksCompleted,
	MetricTasksOverdue,
	MetricTaskCompletionRate,
	MetricRisksOpen,
	MetricRisksHigh,
	MetricRiskExposure,
	MetricBudgetPlanned,
	MetricBudgetActual,
	MetricBudgetBurnRate,
	MetricApprovalsPending,
	MetricApprovalRate,
	MetricMilestonesOnTime,
	MetricMilestoneOnTimeRate,
}
