package main

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
	"github.com/signetai/signetd/internal/ui"
)

var (
	forgetType      string
	forgetProject   string
	forgetOlderThan string
	forgetLimit     int
	forgetReason    string
	forgetYes       bool
	forgetDryRun    bool
)

var forgetCmd = &cobra.Command{
	Use:   "forget [id...]",
	Short: "Soft-delete memories by ID or selector",
	Long: `Soft-deletes memories. Everything lands as a recoverable tombstone;
pinned memories are never touched by selectors.

The --older-than cutoff takes natural language ("2 weeks ago"), a
duration ("720h"), or a date ("2006-01-02").`,
	RunE: runForget,
}

func init() {
	f := forgetCmd.Flags()
	f.StringVarP(&forgetType, "type", "t", "", "select by memory type")
	f.StringVar(&forgetProject, "project", "", "select by project")
	f.StringVar(&forgetOlderThan, "older-than", "", "select memories created before this cutoff")
	f.IntVarP(&forgetLimit, "limit", "n", 0, "cap the selection")
	f.StringVar(&forgetReason, "reason", "", "reason recorded in history (required)")
	f.BoolVarP(&forgetYes, "yes", "y", false, "skip the confirmation prompt")
	f.BoolVar(&forgetDryRun, "dry-run", false, "preview only, delete nothing")
	rootCmd.AddCommand(forgetCmd)
}

func runForget(cmd *cobra.Command, args []string) error {
	sel := storage.ForgetSelector{
		IDs:     args,
		Type:    types.MemoryType(forgetType),
		Project: forgetProject,
		Limit:   forgetLimit,
	}
	if forgetOlderThan != "" {
		cutoff, err := parseCutoff(forgetOlderThan, time.Now())
		if err != nil {
			return err
		}
		sel.OlderThan = &cutoff
	}
	if sel.Empty() {
		return fmt.Errorf("nothing selected: pass IDs or at least one of --type, --project, --older-than")
	}

	ctx := cmd.Context()
	b, err := newBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	preview, err := b.Forget(ctx, sel, "preview", "", "")
	if err != nil {
		return err
	}
	if preview.Count == 0 {
		if jsonOutput() {
			return printJSON(preview)
		}
		printf("Nothing matches.\n")
		return nil
	}
	if forgetDryRun {
		if jsonOutput() {
			return printJSON(preview)
		}
		printf("Would forget %d memories (dry run).\n", preview.Count)
		for _, id := range preview.IDs {
			printf("  %s\n", id)
		}
		return nil
	}

	if forgetReason == "" {
		return fmt.Errorf("a --reason is required to forget")
	}
	if !forgetYes {
		if !ui.PromptYesNo(fmt.Sprintf("Forget %d memories?", preview.Count), false) {
			printf("Aborted.\n")
			return nil
		}
	}

	res, err := b.Forget(ctx, sel, "execute", "", forgetReason)
	if err != nil {
		return err
	}
	if res.RequiresConfirm {
		// Over the batch threshold: the first execute hands back a confirm
		// token. The prompt above already covered consent.
		token := res.ConfirmToken
		if token == "" {
			token = "confirmed"
		}
		res, err = b.Forget(ctx, sel, "execute", token, forgetReason)
		if err != nil {
			return err
		}
	}

	if jsonOutput() {
		return printJSON(res)
	}
	printf("Forgot %d memories.\n", res.Count)
	return nil
}

// parseCutoff turns a human cutoff expression into an absolute time.
func parseCutoff(expr string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(expr); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", expr, time.Local); err == nil {
		return t, nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(expr, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --older-than %q: %w", expr, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand --older-than %q", expr)
	}
	return r.Time, nil
}
