// Package events maps business mutation events onto recompute jobs.
package events

import "github.com/aristath/rollup/internal/domain"

// EventType is a business mutation the pipeline reacts to.
type EventType string

const (
	TaskCreated   EventType = "task.created"
	TaskUpdated   EventType = "task.updated"
	TaskCompleted EventType = "task.completed"
	TaskDeleted   EventType = "task.deleted"

	RiskCreated EventType = "risk.created"
	RiskUpdated EventType = "risk.updated"
	RiskClosed  EventType = "risk.closed"

	BudgetUpdated   EventType = "budget.updated"
	ExpenseRecorded EventType = "expense.recorded"

	MilestoneUpdated EventType = "milestone.updated"
	ApprovalDecided  EventType = "approval.decided"

	// ProjectUpdated may touch anything about a project.
	ProjectUpdated EventType = "project.updated"

	// Membership changes only affect the aggregates.
	ProjectPortfolioChanged EventType = "project.portfolio_changed"
	ProjectProgramChanged   EventType = "project.program_changed"
)

// AllEventTypes lists every known event type.
var AllEventTypes = []EventType{
	TaskCreated, TaskUpdated, TaskCompleted, TaskDeleted,
	RiskCreated, RiskUpdated, RiskClosed,
	BudgetUpdated, ExpenseRecorded,
	MilestoneUpdated, ApprovalDecided,
	ProjectUpdated,
	ProjectPortfolioChanged, ProjectProgramChanged,
}

var taskCodes = []string{
	domain.MetricTasksTotal,
	domain.MetricTasksCompleted,
	domain.MetricTasksOverdue,
	domain.MetricTaskCompletionRate,
}

var riskCodes = []string{
	domain.MetricRisksOpen,
	domain.MetricRisksHigh,
	domain.MetricRiskExposure,
}

var budgetCodes = []string{
	domain.MetricBudgetPlanned,
	domain.MetricBudgetActual,
	domain.MetricBudgetBurnRate,
}

// ParseEventType resolves an event name. Unknown names report false.
func ParseEventType(name string) (EventType, bool) {
	et := EventType(name)
	for _, known := range AllEventTypes {
		if known == et {
			return et, true
		}
	}
	return "", false
}

// AffectedCodes returns the metric codes an event invalidates for its
// project. registered is false when the event triggers no project
// recompute. A registered event with no codes affects every metric.
func (e EventType) AffectedCodes() (codes []string, registered bool) {
	switch e {
	case TaskCreated, TaskUpdated, TaskCompleted, TaskDeleted:
		return taskCodes, true
	case RiskCreated, RiskUpdated, RiskClosed:
		return riskCodes, true
	case BudgetUpdated, ExpenseRecorded:
		return budgetCodes, true
	case MilestoneUpdated:
		return []string{domain.MetricMilestonesOnTime, domain.MetricMilestoneOnTimeRate}, true
	case ApprovalDecided:
		return []string{domain.MetricApprovalsPending, domain.MetricApprovalRate}, true
	case ProjectUpdated:
		return nil, true
	case ProjectPortfolioChanged, ProjectProgramChanged:
		return nil, false
	}
	return nil, false
}

// Membership returns the aggregate scope whose membership the event changes.
func (e EventType) Membership() (domain.ScopeType, bool) {
	switch e {
	case ProjectPortfolioChanged:
		return domain.ScopePortfolio, true
	case ProjectProgramChanged:
		return domain.ScopeProgram, true
	}
	return "", false
}

// Payload is the scope carried by an event.
type Payload struct {
	TenantID    string `json:"tenant_id"`
	ProjectID   string `json:"project_id,omitempty"`
	PortfolioID string `json:"portfolio_id,omitempty"`
	ProgramID   string `json:"program_id,omitempty"`
	// Previous* name the aggregate a project left, so it is rolled up too.
	PreviousPortfolioID string `json:"previous_portfolio_id,omitempty"`
	PreviousProgramID   string `json:"previous_program_id,omitempty"`
	AsOfDate            string `json:"as_of_date,omitempty"`
}

// Emitted lists the job ids an event produced. Empty ids mean nothing was
// enqueued for that scope.
type Emitted struct {
	ProjectJobID    string   `json:"project_job_id,omitempty"`
	PortfolioJobIDs []string `json:"portfolio_job_ids,omitempty"`
	ProgramJobIDs   []string `json:"program_job_ids,omitempty"`
}
