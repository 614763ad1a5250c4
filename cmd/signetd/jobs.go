package main

import (
	"github.com/spf13/cobra"

	"github.com/signetai/signetd/internal/ui"
)

var (
	jobsStatus string
	jobsType   string
	jobsLimit  int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect the background pipeline queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := newBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		jobs, err := b.Jobs(ctx, jobsStatus, jobsType, jobsLimit)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(map[string]any{"count": len(jobs), "jobs": jobs})
		}
		printf("%s\n", ui.RenderJobsTable(jobs))
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one job in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := newBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		job, err := b.Job(ctx, args[0])
		if err != nil {
			return err
		}
		// Full job rows are easiest to read as JSON either way.
		return printJSON(job)
	},
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Requeue a failed or dead job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := newBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		if err := b.RetryJob(ctx, args[0]); err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(map[string]any{"id": args[0], "status": "queued"})
		}
		printf("Requeued %s\n", args[0])
		return nil
	},
}

func init() {
	f := jobsCmd.Flags()
	f.StringVarP(&jobsStatus, "status", "s", "", "filter by status (pending, processing, completed, failed, dead)")
	f.StringVarP(&jobsType, "type", "t", "", "filter by job type (extract, decide, embed, summarize)")
	f.IntVarP(&jobsLimit, "limit", "n", 50, "max rows")
	jobsCmd.AddCommand(jobsShowCmd, jobsRetryCmd)
	rootCmd.AddCommand(jobsCmd)
}
