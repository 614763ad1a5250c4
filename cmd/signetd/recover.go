package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var recoverReason string

var recoverCmd = &cobra.Command{
	Use:   "recover <id>",
	Short: "Restore a soft-deleted memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if recoverReason == "" {
			return fmt.Errorf("a --reason is required to recover")
		}
		ctx := cmd.Context()
		b, err := newBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		if err := b.Recover(ctx, args[0], recoverReason); err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(map[string]any{"id": args[0], "status": "recovered"})
		}
		printf("Recovered %s\n", args[0])
		return nil
	},
}

func init() {
	recoverCmd.Flags().StringVar(&recoverReason, "reason", "", "reason recorded in history (required)")
	rootCmd.AddCommand(recoverCmd)
}
