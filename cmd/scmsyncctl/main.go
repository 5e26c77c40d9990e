// Command scmsyncctl is the operator surface for the sync control plane:
// status reporting, forcing a reaper sweep out of band, and
// pausing/unpausing a (repo, job_type) pair by hand. Its scan command does
// not run a scan; it only returns an error explaining that scans run in the
// worker process. Cobra/viper were never part of the job scheduler this module grew out of (it exposed
// everything over its gin API); this CLI is built the way the rest of the
// example pack's operator tools are, as a flag-driven cobra tree over the
// same store package the server and worker use directly.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/scm-sync/logbook/config"
	"github.com/scm-sync/logbook/internal/domain"
	"github.com/scm-sync/logbook/internal/pause"
	"github.com/scm-sync/logbook/internal/reaper"
	"github.com/scm-sync/logbook/internal/store/postgres"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dsn string

	root := &cobra.Command{
		Use:   "scmsyncctl",
		Short: "Operate the SCM sync control plane out of band",
	}
	root.PersistentFlags().StringVar(&dsn, "postgres-dsn", "", "Postgres DSN (defaults to POSTGRES_DSN)")
	_ = viper.BindPFlag("postgres_dsn", root.PersistentFlags().Lookup("postgres-dsn"))
	viper.SetEnvPrefix("scmsyncctl")
	viper.AutomaticEnv()

	resolveDSN := func() (string, error) {
		if dsn != "" {
			return dsn, nil
		}
		if v := viper.GetString("postgres_dsn"); v != "" {
			return v, nil
		}
		cfg, err := config.Load()
		if err != nil {
			return "", fmt.Errorf("resolve postgres dsn: %w", err)
		}
		return cfg.PostgresDSN, nil
	}

	root.AddCommand(
		newStatusCmd(resolveDSN),
		newReapCmd(resolveDSN),
		newScanCmd(resolveDSN),
		newPauseCmd(resolveDSN),
		newUnpauseCmd(resolveDSN),
	)
	return root
}

func connect(ctx context.Context, resolveDSN func() (string, error)) (*postgres.JobStore, *postgres.RunStore, *postgres.LockStore, *postgres.PauseStore, func(), error) {
	dsn, err := resolveDSN()
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("connect: %w", err)
	}
	jobs := postgres.NewJobStore(pool)
	runs := postgres.NewRunStore(pool)
	locks := postgres.NewLockStore(pool)
	kv := postgres.NewKVStore(pool)
	pauses := postgres.NewPauseStore(kv)
	return jobs, runs, locks, pauses, pool.Close, nil
}

func newStatusCmd(resolveDSN func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print job/run counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			jobs, runs, _, _, closePool, err := connect(ctx, resolveDSN)
			if err != nil {
				return err
			}
			defer closePool()

			byStatus, err := jobs.CountByStatus(ctx)
			if err != nil {
				return fmt.Errorf("job counts: %w", err)
			}
			fmt.Println("jobs:")
			for status, n := range byStatus {
				fmt.Printf("  %-10s %d\n", status, n)
			}

			summary, err := runs.StatusSummary(ctx)
			if err != nil {
				return fmt.Errorf("run summary: %w", err)
			}
			fmt.Printf("runs (last 24h): total=%d failed=%d\n", summary.RunsLast24h, summary.FailedLast24h)
			fmt.Printf("jobs: pending=%d running=%d dead=%d\n", summary.PendingJobs, summary.RunningJobs, summary.DeadJobs)
			return nil
		},
	}
}

func newReapCmd(resolveDSN func() (string, error)) *cobra.Command {
	var graceSeconds int
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Run one reaper sweep immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			jobs, runs, locks, _, closePool, err := connect(ctx, resolveDSN)
			if err != nil {
				return err
			}
			defer closePool()

			r := reaper.New(jobs, runs, locks, slog.New(slog.NewTextHandler(os.Stderr, nil)), reaper.Config{
				Interval:     time.Minute, // unused by a one-shot Sweep call
				GraceSeconds: graceSeconds,
			})
			r.Sweep(ctx)
			fmt.Println("reaper sweep complete")
			return nil
		},
	}
	cmd.Flags().IntVar(&graceSeconds, "grace-seconds", 30, "lease grace period before a job/run/lock is reclaimed")
	return cmd
}

func newScanCmd(resolveDSN func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Report that one-shot scans are unavailable from the CLI (scans run only in the worker process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("scan-now requires the running worker process; use its /metrics scan_duration_seconds series to confirm cadence instead")
		},
	}
}

func newPauseCmd(resolveDSN func() (string, error)) *cobra.Command {
	var durationSeconds int
	cmd := &cobra.Command{
		Use:   "pause <repo_id> <job_type>",
		Short: "Manually pause a (repo, job_type) pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, _, _, pauses, closePool, err := connect(ctx, resolveDSN)
			if err != nil {
				return err
			}
			defer closePool()

			repoID, jobType, err := parsePair(args)
			if err != nil {
				return err
			}
			now := float64(time.Now().Unix())
			rec := pause.Record{
				RepoID:      repoID,
				JobType:     jobType,
				PausedUntil: now + float64(durationSeconds),
				PausedAt:    now,
				Reason:      "manual pause via scmsyncctl",
				ReasonCode:  pause.ReasonManual,
			}
			if err := pauses.Set(ctx, rec); err != nil {
				return fmt.Errorf("set pause: %w", err)
			}
			fmt.Printf("paused repo=%d job_type=%s for %ds\n", repoID, jobType, durationSeconds)
			return nil
		},
	}
	cmd.Flags().IntVar(&durationSeconds, "duration-seconds", 3600, "how long the pause lasts")
	return cmd
}

func newUnpauseCmd(resolveDSN func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "unpause <repo_id> <job_type>",
		Short: "Clear a manual pause on a (repo, job_type) pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, _, _, pauses, closePool, err := connect(ctx, resolveDSN)
			if err != nil {
				return err
			}
			defer closePool()

			repoID, jobType, err := parsePair(args)
			if err != nil {
				return err
			}
			if err := pauses.Clear(ctx, repoID, jobType); err != nil {
				return fmt.Errorf("clear pause: %w", err)
			}
			fmt.Printf("unpaused repo=%d job_type=%s\n", repoID, jobType)
			return nil
		},
	}
}

func parsePair(args []string) (repoID int, jobType string, err error) {
	if _, err := fmt.Sscanf(args[0], "%d", &repoID); err != nil {
		return 0, "", fmt.Errorf("invalid repo_id %q: %w", args[0], err)
	}
	jt := domain.JobType(args[1])
	switch jt {
	case domain.JobTypeCommits, domain.JobTypeMRs, domain.JobTypeReviews, domain.JobTypeSVN:
	default:
		return 0, "", fmt.Errorf("unknown job_type %q", args[1])
	}
	return repoID, string(jt), nil
}
