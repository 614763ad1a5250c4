package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/signetai/signetd/internal/ui"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one memory in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := newBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		mem, err := b.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(mem)
		}

		var sb strings.Builder
		sb.WriteString("# " + string(mem.Type))
		if mem.Pinned {
			sb.WriteString(" (pinned)")
		}
		sb.WriteString("\n\n")
		sb.WriteString(mem.Content)
		sb.WriteString("\n\n---\n\n")
		sb.WriteString("- **ID**: " + mem.ID + "\n")
		sb.WriteString("- **Importance**: " + fmt.Sprintf("%.2f", mem.Importance) + "\n")
		sb.WriteString("- **Confidence**: " + fmt.Sprintf("%.2f", mem.Confidence) + "\n")
		if len(mem.Tags) > 0 {
			sb.WriteString("- **Tags**: " + strings.Join(mem.Tags, ", ") + "\n")
		}
		if mem.Project != "" {
			sb.WriteString("- **Project**: " + mem.Project + "\n")
		}
		sb.WriteString("- **Version**: " + strconv.Itoa(mem.Version) + "\n")
		sb.WriteString("- **Created**: " + mem.CreatedAt.Local().Format(time.RFC822) + "\n")
		sb.WriteString("- **Updated**: " + mem.UpdatedAt.Local().Format(time.RFC822))
		if mem.UpdatedBy != "" {
			sb.WriteString(" by " + mem.UpdatedBy)
		}
		sb.WriteString("\n")
		if mem.IsDeleted {
			sb.WriteString("- **Deleted**: yes\n")
		}
		printf("%s\n", ui.RenderMarkdown(sb.String(), ui.GetWidth()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
