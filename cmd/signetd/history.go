package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/signetai/signetd/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show the audit trail of one memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := newBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		entries, err := b.History(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(map[string]any{"memoryId": args[0], "count": len(entries), "history": entries})
		}
		if len(entries) == 0 {
			printf("No history for %s\n", args[0])
			return nil
		}
		for _, e := range entries {
			line := e.CreatedAt.Local().Format(time.RFC822) + "  " + string(e.Event)
			if e.ChangedBy != "" {
				line += "  by " + e.ChangedBy
			}
			printf("%s\n", line)
			if e.Reason != "" {
				printf("    reason: %s\n", e.Reason)
			}
			if e.OldContent != "" && e.NewContent != "" && e.OldContent != e.NewContent {
				printf("    - %s\n", ui.Truncate(e.OldContent, 100))
				printf("    + %s\n", ui.Truncate(e.NewContent, 100))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
