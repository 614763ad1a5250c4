package main

import (
	"github.com/spf13/cobra"

	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
	"github.com/signetai/signetd/internal/ui"
)

var (
	listType    string
	listProject string
	listPinned  bool
	listDeleted bool
	listLimit   int
)

// list always opens the database directly: listing is a local inspection
// tool and the daemon API deliberately has no unfiltered dump endpoint.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List memories in this workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := newDirectBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		memories, err := b.List(ctx, storage.ListFilter{
			Type:           types.MemoryType(listType),
			Project:        listProject,
			PinnedOnly:     listPinned,
			IncludeDeleted: listDeleted,
			Limit:          listLimit,
		})
		if err != nil {
			return err
		}

		if jsonOutput() {
			return printJSON(map[string]any{"count": len(memories), "memories": memories})
		}
		printf("%s\n", ui.RenderMemoryTable(memories, ui.GetWidth()))
		return nil
	},
}

func init() {
	f := listCmd.Flags()
	f.StringVarP(&listType, "type", "t", "", "filter by memory type")
	f.StringVar(&listProject, "project", "", "filter by project")
	f.BoolVar(&listPinned, "pinned", false, "pinned only")
	f.BoolVar(&listDeleted, "deleted", false, "include tombstones")
	f.IntVarP(&listLimit, "limit", "n", 50, "max rows")
	rootCmd.AddCommand(listCmd)
}
