package main

import (
	"sort"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and store status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := newBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		status, err := b.Status(ctx)
		if err != nil {
			return err
		}
		status["backend"] = b.Kind()
		if jsonOutput() {
			return printJSON(status)
		}

		printf("Backend: %s\n", b.Kind())
		keys := make([]string, 0, len(status))
		for k := range status {
			if k == "backend" {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			printf("%s: %v\n", k, status[k])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
