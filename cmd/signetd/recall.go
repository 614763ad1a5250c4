package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/signetai/signetd/internal/recall"
	"github.com/signetai/signetd/internal/types"
	"github.com/signetai/signetd/internal/ui"
)

var (
	recallLimit    int
	recallType     string
	recallProject  string
	recallMinScore float64
)

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Search memories (hybrid BM25 + vector)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")

		ctx := cmd.Context()
		b, err := newBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		results, err := b.Recall(ctx, recall.Query{
			Query:    query,
			Limit:    recallLimit,
			Type:     types.MemoryType(recallType),
			Project:  recallProject,
			MinScore: recallMinScore,
		})
		if err != nil {
			return err
		}

		if jsonOutput() {
			return printJSON(map[string]any{"query": query, "results": results})
		}
		printf("%s\n", ui.RenderRecallBox(query, results, ui.GetWidth()))
		return nil
	},
}

func init() {
	f := recallCmd.Flags()
	f.IntVarP(&recallLimit, "limit", "n", 0, "max results")
	f.StringVarP(&recallType, "type", "t", "", "restrict to one memory type")
	f.StringVar(&recallProject, "project", "", "restrict to one project")
	f.Float64Var(&recallMinScore, "min-score", 0, "drop results scoring below this")
	rootCmd.AddCommand(recallCmd)
}
