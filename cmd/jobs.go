package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and run enrichment jobs",
	Long:  "Commands for listing enrichment jobs and dispatching pending ones to the provider.",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrichment jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		orgID, _ := cmd.Flags().GetString("org")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := st.ListJobs(ctx, store.JobFilter{
			Status: model.JobStatus(status),
			OrgID:  orgID,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tSUBSCRIBER\tRETRIES\tEST\tACTUAL\tUPDATED")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				j.ID, j.Status, j.SubscriberID, j.RetryCount,
				j.EstimatedCredits, j.ActualCredits,
				j.UpdatedAt.Format(time.RFC3339),
			)
		}
		return w.Flush()
	},
}

// -- jobs run --

var jobsRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Dispatch pending jobs to the enrichment provider",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		eng := initEngine(st)

		jobID, _ := cmd.Flags().GetString("id")
		if jobID != "" {
			if err := eng.Dispatch(ctx, jobID); err != nil {
				return eris.Wrap(err, "jobs run")
			}
			zap.L().Info("job dispatched", zap.String("job", jobID))
			return nil
		}

		orgID, _ := cmd.Flags().GetString("org")
		limit, _ := cmd.Flags().GetInt("limit")
		concurrency := cfg.Intake.MaxConcurrentJobs

		dispatched, err := eng.RunPending(ctx, orgID, limit, concurrency)
		if err != nil {
			return eris.Wrap(err, "jobs run")
		}

		zap.L().Info("pending jobs dispatched",
			zap.Int("dispatched", dispatched),
			zap.String("org", orgID),
		)
		return nil
	},
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by status (pending|running|enriched|failed)")
	jobsListCmd.Flags().String("org", "", "filter by organization ID")
	jobsListCmd.Flags().Int("limit", 50, "max jobs to list")

	jobsRunCmd.Flags().String("id", "", "dispatch a single job by ID")
	jobsRunCmd.Flags().String("org", "", "restrict to one organization")
	jobsRunCmd.Flags().Int("limit", 100, "max pending jobs to dispatch")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsRunCmd)
	rootCmd.AddCommand(jobsCmd)
}
