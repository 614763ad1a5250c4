package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signetai/signetd/internal/diagnostics"
	"github.com/signetai/signetd/internal/ui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks against the memory store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := newBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		report, err := b.Doctor(ctx)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(report)
		}
		printf("%s\n", ui.RenderDoctorReport(report))
		if report.Overall == diagnostics.StatusUnhealthy {
			return fmt.Errorf("store is unhealthy")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
