package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/rollup/internal/di"
	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/enqueue"
	"github.com/aristath/rollup/internal/queue"
)

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, log := setup()
	container, err := di.InitializeDatabases(cfg, log)
	if err != nil {
		return err
	}
	defer container.Close()
	ctx := cmd.Context()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if statusTenant != "" || statusProj != "" {
		if statusTenant == "" || statusProj == "" {
			return fmt.Errorf("--tenant and --project must be given together")
		}
		date := statusDate
		if date == "" {
			date = domain.FormatDate(time.Now())
		}
		svc := enqueue.NewService(container.Queue, cfg.Policies, nil, log)
		status, err := svc.GetJobStatus(ctx, statusTenant, statusProj, date)
		if err != nil {
			return err
		}
		return enc.Encode(status)
	}

	stats := make(map[domain.QueueName]queue.Stats, len(domain.AllQueues))
	for _, name := range domain.AllQueues {
		s, err := container.Queue.Stats(ctx, name)
		if err != nil {
			return err
		}
		stats[name] = s
	}
	return enc.Encode(stats)
}
