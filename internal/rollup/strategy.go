package rollup

import (
	"context"
	"strconv"

	"github.com/aristath/rollup/internal/domain"
)

// Contribution is one child's input to one aggregate metric.
type Contribution struct {
	ChildID string
	Code    string
	Value   float64
	// Ref identifies the source row and its value for the input hash.
	Ref string
}

// Strategy describes one aggregate scope level.
type Strategy interface {
	Kind() domain.JobKind
	Flag() string
	ScopeType() domain.ScopeType
	ScopeID(p domain.JobPayload) string
	ChildQuery(tenantID, scopeID string) domain.ProjectScopeQuery
	// Extra returns contributions beyond the stored leaf values. They replace
	// a leaf value of the same child and code.
	Extra(ctx context.Context, tenantID string, childIDs []string) ([]Contribution, error)
}

// PortfolioStrategy aggregates the projects of a portfolio.
type PortfolioStrategy struct{}

func (PortfolioStrategy) Kind() domain.JobKind               { return domain.KindPortfolioRollup }
func (PortfolioStrategy) Flag() string                       { return domain.FlagPortfolioRollup }
func (PortfolioStrategy) ScopeType() domain.ScopeType        { return domain.ScopePortfolio }
func (PortfolioStrategy) ScopeID(p domain.JobPayload) string { return p.PortfolioID }

func (PortfolioStrategy) ChildQuery(tenantID, scopeID string) domain.ProjectScopeQuery {
	return domain.ProjectScopeQuery{TenantID: tenantID, PortfolioID: scopeID}
}

func (PortfolioStrategy) Extra(context.Context, string, []string) ([]Contribution, error) {
	return nil, nil
}

// ProgramStrategy aggregates the projects of a program, folding in their
// budget rows.
type ProgramStrategy struct {
	Budgets domain.BudgetReader
}

func (ProgramStrategy) Kind() domain.JobKind               { return domain.KindProgramRollup }
func (ProgramStrategy) Flag() string                       { return domain.FlagProgramRollup }
func (ProgramStrategy) ScopeType() domain.ScopeType        { return domain.ScopeProgram }
func (ProgramStrategy) ScopeID(p domain.JobPayload) string { return p.ProgramID }

func (ProgramStrategy) ChildQuery(tenantID, scopeID string) domain.ProjectScopeQuery {
	return domain.ProjectScopeQuery{TenantID: tenantID, ProgramID: scopeID}
}

// Extra sums each child's budget rows into budget.planned and budget.actual
// and derives budget.burn_rate for children with a planned amount.
func (s ProgramStrategy) Extra(ctx context.Context, tenantID string, childIDs []string) ([]Contribution, error) {
	budgets, err := s.Budgets.FindBudgets(ctx, tenantID, childIDs)
	if err != nil {
		return nil, err
	}

	type totals struct {
		planned, actual float64
		ref             string
	}
	byChild := make(map[string]*totals)
	var order []string
	for _, b := range budgets {
		t, ok := byChild[b.ProjectID]
		if !ok {
			t = &totals{}
			byChild[b.ProjectID] = t
			order = append(order, b.ProjectID)
		}
		t.planned += b.Planned
		t.actual += b.Actual
		t.ref += "budget:" + b.ID + ":" + formatFloat(b.Planned) + ":" + formatFloat(b.Actual) + ";"
	}

	out := make([]Contribution, 0, len(order)*3)
	for _, child := range order {
		t := byChild[child]
		out = append(out,
			Contribution{ChildID: child, Code: domain.MetricBudgetPlanned, Value: t.planned, Ref: t.ref},
			Contribution{ChildID: child, Code: domain.MetricBudgetActual, Value: t.actual, Ref: t.ref},
		)
		if t.planned > 0 {
			out = append(out, Contribution{ChildID: child, Code: domain.MetricBudgetBurnRate, Value: t.actual / t.planned, Ref: t.ref})
		}
	}
	return out, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
