package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cptnfren/teltubby/pkg/config"
	"github.com/cptnfren/teltubby/pkg/queue"
	"github.com/cptnfren/teltubby/pkg/store"
	"github.com/cptnfren/teltubby/pkg/types"
)

// Offline maintenance subcommands. These operate directly on the local
// bbolt file with no bot session involved (job retry also connects to the
// broker to re-publish the stored payload), so they can run
// without a live teltubby process — bbolt's own file lock refuses to open
// a data dir a running process already holds.

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect or manage archived jobs",
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recently updated jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withStore(func(ctx context.Context, st *store.BoltStore) error {
			jobs, err := st.ListRecentJobs(ctx, limit)
			if err != nil {
				return err
			}
			return printJobs(jobs)
		})
	},
}

var jobGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show a single job by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.BoltStore) error {
			job, err := st.GetJob(ctx, args[0])
			if err != nil {
				return err
			}
			return printJobs([]*types.Job{job})
		})
	},
}

var jobRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Requeue a failed or cancelled job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Retry needs a live broker connection (it re-publishes the stored
		// payload), unlike the read-only and cancel subcommands below which
		// only ever touch the local row.
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		st, err := store.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open local store (is teltubby already running against this data dir?): %w", err)
		}
		defer st.Close()

		qc, err := queue.New(cfg.AMQPURL, st)
		if err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
		defer qc.Close()

		job, err := qc.Retry(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("job %s set to %s\n", job.ID, job.State)
		return nil
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or processing job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.BoltStore) error {
			job, err := st.CancelJob(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("job %s set to %s\n", job.ID, job.State)
			return nil
		})
	},
}

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Maintain the local dedup/job database",
}

var dbVacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Compact the local database file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.BoltStore) error {
			if err := st.Vacuum(ctx); err != nil {
				return err
			}
			fmt.Println("vacuum complete")
			return nil
		})
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print job counts by state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.BoltStore) error {
			counts, err := st.CountJobsByState(ctx)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(counts)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		})
	},
}

func init() {
	jobListCmd.Flags().Int("limit", 20, "maximum number of jobs to list")

	jobCmd.AddCommand(jobListCmd, jobGetCmd, jobRetryCmd, jobCancelCmd)
	dbCmd.AddCommand(dbVacuumCmd, dbStatsCmd)
	rootCmd.AddCommand(jobCmd, dbCmd)
}

func withStore(fn func(ctx context.Context, st *store.BoltStore) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := store.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open local store (is teltubby already running against this data dir?): %w", err)
	}
	defer st.Close()
	return fn(context.Background(), st)
}

func printJobs(jobs interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(jobs)
}
