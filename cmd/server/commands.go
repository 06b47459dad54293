package main

import (
	"github.com/spf13/cobra"
)

var (
	sweepKind    string
	sweepTenant  string
	sweepDate    string
	sweepDrain   bool
	statusTenant string
	statusProj   string
	statusDate   string

	rootCmd = &cobra.Command{
		Use:   "rollup",
		Short: "KPI recompute and rollup service",
		Long: `rollup keeps project, portfolio and program KPI snapshots current.
Domain events enqueue debounced recompute jobs, recomputes cascade into
aggregate rollups, and a cron cadence sweeps tenants for stale snapshots.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the worker pools and the sweep cadence",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Enqueue a nightly or stale sweep once, outside the cadence",
		RunE:  runSweep, // Defined in cmd_sweep.go
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print queue statistics, or the pending recompute of one project",
		RunE:  runStatus, // Defined in cmd_status.go
	}
)

func init() {
	sweepCmd.Flags().StringVar(&sweepKind, "kind", "stale", "sweep to run: nightly or stale")
	sweepCmd.Flags().StringVar(&sweepTenant, "tenant", "", "limit the sweep to one tenant")
	sweepCmd.Flags().StringVar(&sweepDate, "date", "", "as-of date (YYYY-MM-DD), defaults to today")
	sweepCmd.Flags().BoolVar(&sweepDrain, "drain", false, "process every due job before exiting")

	statusCmd.Flags().StringVar(&statusTenant, "tenant", "", "tenant id")
	statusCmd.Flags().StringVar(&statusProj, "project", "", "project id")
	statusCmd.Flags().StringVar(&statusDate, "date", "", "as-of date (YYYY-MM-DD), defaults to today")

	rootCmd.AddCommand(serveCmd, sweepCmd, statusCmd)
}
