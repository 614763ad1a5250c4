package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/signetai/signetd/internal/types"
)

// memoryPack is the on-disk import format: a TOML file with repeated
// [[memory]] blocks.
type memoryPack struct {
	Name     string       `toml:"name"`
	Project  string       `toml:"project"`
	Memories []packMemory `toml:"memory"`
}

type packMemory struct {
	Content    string   `toml:"content"`
	Type       string   `toml:"type"`
	Importance float64  `toml:"importance"`
	Tags       []string `toml:"tags"`
	Pinned     bool     `toml:"pinned"`
}

var importProject string

var importCmd = &cobra.Command{
	Use:   "import <pack.toml>",
	Short: "Import a TOML memory pack",
	Long: `Imports memories from a TOML pack:

  name = "team-conventions"

  [[memory]]
  content = "Always run the linter before pushing"
  type = "rule"
  pinned = true
  tags = ["ci"]

Duplicates of existing memories are skipped by content dedup.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importProject, "project", "", "project scope (overrides the pack's)")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	var pack memoryPack
	if _, err := toml.DecodeFile(args[0], &pack); err != nil {
		return fmt.Errorf("parse pack: %w", err)
	}
	if len(pack.Memories) == 0 {
		return fmt.Errorf("pack has no [[memory]] blocks")
	}
	project := pack.Project
	if importProject != "" {
		project = importProject
	}

	ctx := cmd.Context()
	b, err := newBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	var created, deduped, skipped int
	for i, m := range pack.Memories {
		if strings.TrimSpace(m.Content) == "" {
			skipped++
			continue
		}
		if m.Type != "" && !types.MemoryType(m.Type).IsValid() {
			return fmt.Errorf("memory %d: invalid type %q", i+1, m.Type)
		}
		p := rememberParams{
			Content:    m.Content,
			Type:       m.Type,
			Tags:       m.Tags,
			Project:    project,
			SourceType: "import",
		}
		if m.Importance > 0 {
			v := m.Importance
			p.Importance = &v
		}
		if m.Pinned {
			v := true
			p.Pinned = &v
		}
		res, err := b.Remember(ctx, p)
		if err != nil {
			return fmt.Errorf("memory %d: %w", i+1, err)
		}
		if res.Deduped {
			deduped++
		} else {
			created++
		}
	}

	if jsonOutput() {
		return printJSON(map[string]any{
			"pack": pack.Name, "created": created, "deduped": deduped, "skipped": skipped,
		})
	}
	printf("Imported %d memories (%d already known, %d empty skipped)\n", created, deduped, skipped)
	return nil
}
