package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

var (
	modifyContent    string
	modifyType       string
	modifyImportance float64
	modifyTags       []string
	modifyReason     string
	modifyIfVersion  int
)

var modifyCmd = &cobra.Command{
	Use:   "modify <id>",
	Short: "Edit a memory in place",
	Long: `Applies a partial update to one memory. Every change bumps the version
and lands in history with the reason. Use --if-version for optimistic
concurrency: the update fails if someone changed the row first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch storage.MemoryPatch
		if cmd.Flags().Changed("content") {
			patch.Content = &modifyContent
		}
		if cmd.Flags().Changed("type") {
			t := types.MemoryType(modifyType)
			if !t.IsValid() {
				return fmt.Errorf("invalid memory type %q", modifyType)
			}
			patch.Type = &t
		}
		if cmd.Flags().Changed("importance") {
			patch.Importance = &modifyImportance
		}
		if cmd.Flags().Changed("tags") {
			patch.Tags = &modifyTags
		}
		if patch.Empty() {
			return fmt.Errorf("nothing to change: pass --content, --type, --importance, or --tags")
		}
		if modifyReason == "" {
			return fmt.Errorf("a --reason is required to modify")
		}

		var ifVersion *int
		if cmd.Flags().Changed("if-version") {
			ifVersion = &modifyIfVersion
		}

		ctx := cmd.Context()
		b, err := newBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		version, err := b.Update(ctx, args[0], patch, modifyReason, ifVersion)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(map[string]any{"id": args[0], "version": version})
		}
		printf("Updated %s (version %d)\n", args[0], version)
		return nil
	},
}

func init() {
	f := modifyCmd.Flags()
	f.StringVar(&modifyContent, "content", "", "replacement content")
	f.StringVarP(&modifyType, "type", "t", "", "new memory type")
	f.Float64VarP(&modifyImportance, "importance", "i", 0, "new importance 0..1")
	f.StringSliceVar(&modifyTags, "tags", nil, "replacement tag set")
	f.StringVar(&modifyReason, "reason", "", "reason recorded in history (required)")
	f.IntVar(&modifyIfVersion, "if-version", 0, "fail unless the current version matches")
	rootCmd.AddCommand(modifyCmd)
}
