package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aristath/rollup/internal/di"
	"github.com/aristath/rollup/internal/domain"
)

func runSweep(cmd *cobra.Command, args []string) error {
	var kind domain.JobKind
	switch sweepKind {
	case "nightly":
		kind = domain.KindNightlyRefresh
	case "stale":
		kind = domain.KindStaleRefresh
	default:
		return fmt.Errorf("unknown sweep kind %q (want nightly or stale)", sweepKind)
	}

	cfg, log := setup()
	container, jobs, err := di.Wire(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to wire dependencies: %w", err)
	}
	defer container.Close()
	ctx := cmd.Context()

	if sweepTenant == "" && sweepDate == "" {
		job := jobs.Stale
		if kind == domain.KindNightlyRefresh {
			job = jobs.Nightly
		}
		if err := container.Scheduler.RunNow(ctx, job); err != nil {
			return err
		}
	} else {
		if err := enqueueSweep(ctx, container, kind); err != nil {
			return err
		}
	}

	if !sweepDrain {
		return nil
	}
	return drain(ctx, container)
}

// enqueueSweep enqueues one sweep job for a single tenant, or for every
// tenant at an explicit date.
func enqueueSweep(ctx context.Context, container *di.Container, kind domain.JobKind) error {
	tenants := []string{sweepTenant}
	if sweepTenant == "" {
		var err error
		if tenants, err = container.ProjectRepo.ListTenants(ctx); err != nil {
			return err
		}
	}
	reason := domain.ReasonStaleRefresh
	if kind == domain.KindNightlyRefresh {
		reason = domain.ReasonNightlyRefresh
	}
	correlationID := uuid.NewString()
	for _, tenant := range tenants {
		id, err := container.Enqueue.Enqueue(ctx, kind, domain.JobPayload{
			TenantID:      tenant,
			AsOfDate:      sweepDate,
			Reason:        reason,
			CorrelationID: correlationID,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s\t%s\n", tenant, id)
	}
	return nil
}

// drain runs every due job, queue by queue, until a full pass does nothing.
// Debounce delays still apply, so delayed jobs stay queued for serve.
func drain(ctx context.Context, container *di.Container) error {
	for {
		total := 0
		for _, name := range []domain.QueueName{domain.QueueScheduler, domain.QueueRecompute, domain.QueueRollup} {
			n, err := container.Pools[name].Drain(ctx)
			if err != nil {
				return fmt.Errorf("failed to drain %s: %w", name, err)
			}
			total += n
		}
		if total == 0 {
			return nil
		}
	}
}
