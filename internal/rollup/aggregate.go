package rollup

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/queue"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Aggregation methods recorded in the value detail.
const (
	MethodSum  = "sum"
	MethodMean = "mean"
)

// ValueDetail is the structured value stored next to an aggregate.
type ValueDetail struct {
	Method       string `json:"method"`
	Contributors int    `json:"contributors"`
	Children     int    `json:"children"`
}

// Aggregate is one computed aggregate metric.
type Aggregate struct {
	Code   string
	Value  float64
	Detail ValueDetail
}

// RollupProcessor aggregates child projects into one aggregate scope.
type RollupProcessor struct {
	strategy Strategy
	deps     Deps
	log      zerolog.Logger
}

// NewRollupProcessor creates a rollup processor for one scope level.
func NewRollupProcessor(strategy Strategy, deps Deps, log zerolog.Logger) *RollupProcessor {
	return &RollupProcessor{
		strategy: strategy,
		deps:     deps,
		log:      log.With().Str("component", string(strategy.Kind())).Logger(),
	}
}

// Process runs one rollup job. Snapshots whose stored input hash equals the
// fresh one are left untouched and counted as skipped.
func (rp *RollupProcessor) Process(ctx context.Context, p domain.JobPayload) (Result, error) {
	started := time.Now()
	kind := rp.strategy.Kind()
	if err := p.Validate(kind); err != nil {
		return Result{}, err
	}
	scopeID := rp.strategy.ScopeID(p)
	log := rp.log.With().
		Str("tenant_id", p.TenantID).
		Str("scope_id", scopeID).
		Str("correlation_id", p.CorrelationID).
		Logger()

	if !rp.deps.Flags.IsEnabled(rp.strategy.Flag()) {
		log.Debug().Msg("Rollup disabled, skipping")
		return Result{}, nil
	}

	if !rp.deps.Limiter.TryConsume(p.TenantID) {
		rp.deps.Metrics.Throttled(string(kind))
		log.Debug().Msg("Tenant rate limited, rescheduling")
		return Result{Throttled: true}, nil
	}

	children, err := rp.deps.Projects.FindProjectsByScope(ctx, rp.strategy.ChildQuery(p.TenantID, scopeID))
	if err != nil {
		return Result{}, err
	}
	if len(children) == 0 {
		log.Debug().Msg("No child projects, nothing to aggregate")
		return Result{}, nil
	}
	childIDs := make([]string, len(children))
	for i, c := range children {
		childIDs[i] = c.ID
	}

	values, err := rp.deps.Values.FindMetricValues(ctx, domain.MetricValueQuery{
		TenantID:   p.TenantID,
		ProjectIDs: childIDs,
		AsOfDate:   p.AsOfDate,
	})
	if err != nil {
		return Result{}, err
	}
	extra, err := rp.strategy.Extra(ctx, p.TenantID, childIDs)
	if err != nil {
		return Result{}, err
	}

	contributions := mergeContributions(latestValues(values), extra)
	aggregates := AggregateContributions(contributions, len(children))

	refs := make([]string, 0, len(childIDs)+len(contributions))
	for _, id := range childIDs {
		refs = append(refs, "child:"+id)
	}
	for _, c := range contributions {
		refs = append(refs, c.ChildID+":"+c.Code+":"+c.Ref)
	}
	res := Result{InputHash: domain.InputHash(refs, p.AsOfDate)}

	for _, agg := range aggregates {
		written, err := rp.write(ctx, p, scopeID, agg, res.InputHash)
		if err != nil {
			return Result{}, err
		}
		if written {
			res.ComputedCount++
		} else {
			res.SkippedCount++
		}
	}
	rp.deps.Metrics.SnapshotWrites(string(rp.strategy.ScopeType()), res.ComputedCount, res.SkippedCount)

	audit(log, string(kind), zerolog.Dict().
		Str("tenant_id", p.TenantID).
		Str(string(rp.strategy.ScopeType())+"_id", scopeID).
		Int("children", len(children)), p, res, started)
	return res, nil
}

func (rp *RollupProcessor) write(ctx context.Context, p domain.JobPayload, scopeID string, agg Aggregate, hash string) (bool, error) {
	key := domain.SnapshotKey{
		TenantID:   p.TenantID,
		ScopeType:  rp.strategy.ScopeType(),
		ScopeID:    scopeID,
		AsOfDate:   p.AsOfDate,
		MetricCode: agg.Code,
	}
	existing, err := rp.deps.Snapshots.GetSnapshot(ctx, key)
	if err != nil {
		return false, err
	}
	if existing != nil && existing.InputHash == hash {
		return false, nil
	}

	detail, err := json.Marshal(agg.Detail)
	if err != nil {
		return false, fmt.Errorf("failed to encode value detail: %w", err)
	}
	err = rp.deps.Snapshots.UpsertSnapshot(ctx, &domain.Snapshot{
		SnapshotKey:   key,
		Value:         agg.Value,
		ValueDetail:   detail,
		InputHash:     hash,
		EngineVersion: domain.EngineVersion,
		ComputedAt:    rp.deps.now().UTC(),
	})
	return err == nil, err
}

// Handle adapts Process to the worker pool.
func (rp *RollupProcessor) Handle(ctx context.Context, job *queue.Job) error {
	res, err := rp.Process(ctx, job.Payload)
	if err != nil {
		return err
	}
	if res.Throttled {
		return queue.Requeue(rp.deps.requeueDelay())
	}
	return nil
}

// latestValues keeps the newest value per child and code.
func latestValues(values []domain.MetricValue) []Contribution {
	type key struct{ child, code string }
	latest := make(map[key]domain.MetricValue, len(values))
	for _, v := range values {
		k := key{v.ProjectID, v.MetricCode}
		cur, ok := latest[k]
		if !ok || v.AsOfDate > cur.AsOfDate || (v.AsOfDate == cur.AsOfDate && v.ID > cur.ID) {
			latest[k] = v
		}
	}

	out := make([]Contribution, 0, len(latest))
	for _, v := range latest {
		out = append(out, Contribution{
			ChildID: v.ProjectID,
			Code:    v.MetricCode,
			Value:   v.Value,
			Ref:     v.ID + ":" + v.AsOfDate + ":" + formatFloat(v.Value),
		})
	}
	return out
}

// mergeContributions overlays extra onto base by child and code and returns
// the result sorted by code then child.
func mergeContributions(base, extra []Contribution) []Contribution {
	type key struct{ child, code string }
	merged := make(map[key]Contribution, len(base)+len(extra))
	for _, c := range base {
		merged[key{c.ChildID, c.Code}] = c
	}
	for _, c := range extra {
		merged[key{c.ChildID, c.Code}] = c
	}

	out := make([]Contribution, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].ChildID < out[j].ChildID
	})
	return out
}

// AggregateContributions groups contributions by code. Ratio codes take the
// mean over the children that reported a value; every other code sums. A
// code with no contributions yields no aggregate. Results are sorted by code.
func AggregateContributions(contributions []Contribution, children int) []Aggregate {
	byCode := make(map[string][]float64)
	var codes []string
	for _, c := range contributions {
		if _, ok := byCode[c.Code]; !ok {
			codes = append(codes, c.Code)
		}
		byCode[c.Code] = append(byCode[c.Code], c.Value)
	}
	sort.Strings(codes)

	out := make([]Aggregate, 0, len(codes))
	for _, code := range codes {
		vals := byCode[code]
		agg := Aggregate{
			Code:   code,
			Detail: ValueDetail{Contributors: len(vals), Children: children},
		}
		if domain.IsRatioMetric(code) {
			agg.Value = stat.Mean(vals, nil)
			agg.Detail.Method = MethodMean
		} else {
			agg.Value = floats.Sum(vals)
			agg.Detail.Method = MethodSum
		}
		out = append(out, agg)
	}
	return out
}
