package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/signetai/signetd/internal/types"
	"github.com/signetai/signetd/internal/ui"
)

var (
	rememberType       string
	rememberImportance float64
	rememberPin        bool
	rememberTags       []string
	rememberProject    string
)

var rememberCmd = &cobra.Command{
	Use:   "remember [content]",
	Short: "Save a memory",
	Long: `Saves one memory. Shorthand in the content is honored:

  critical: <content>      pinned at importance 1.0
  [tag1, tag2]: <content>  leading tag list

With no argument and a terminal, opens an interactive form.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRemember,
}

func init() {
	f := rememberCmd.Flags()
	f.StringVarP(&rememberType, "type", "t", "", "memory type (fact, preference, decision, rule, ...)")
	f.Float64VarP(&rememberImportance, "importance", "i", 0, "importance 0..1")
	f.BoolVarP(&rememberPin, "pin", "p", false, "pin: exempt from decay and batch forget")
	f.StringSliceVar(&rememberTags, "tags", nil, "tags")
	f.StringVar(&rememberProject, "project", "", "project scope")
	rootCmd.AddCommand(rememberCmd)
}

func runRemember(cmd *cobra.Command, args []string) error {
	p := rememberParams{
		Type:    rememberType,
		Tags:    rememberTags,
		Project: rememberProject,
	}
	if cmd.Flags().Changed("importance") {
		v := rememberImportance
		p.Importance = &v
	}
	if cmd.Flags().Changed("pin") {
		v := rememberPin
		p.Pinned = &v
	}

	if len(args) > 0 {
		p.Content = args[0]
	} else {
		if !ui.IsTerminal() {
			return fmt.Errorf("content required (or run interactively)")
		}
		var err error
		p, err = rememberForm(p)
		if err != nil {
			return err
		}
	}
	if strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("content is empty")
	}

	ctx := cmd.Context()
	b, err := newBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	res, err := b.Remember(ctx, p)
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(res)
	}
	if res.Deduped {
		printf("Already known (refreshed %s)\n", res.ID)
	} else {
		printf("Remembered %s\n", res.ID)
	}
	return nil
}

// rememberForm collects the fields interactively, seeded from any flags.
func rememberForm(seed rememberParams) (rememberParams, error) {
	p := seed
	var (
		content    = p.Content
		memType    = p.Type
		pinned     = p.Pinned != nil && *p.Pinned
		tagsInput  = strings.Join(p.Tags, ", ")
		typeOption = func(t types.MemoryType) huh.Option[string] {
			return huh.NewOption(string(t), string(t))
		}
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title("What should I remember?").
				Value(&content),
			huh.NewSelect[string]().
				Title("Type").
				Options(
					typeOption(types.MemoryTypeGeneral),
					typeOption(types.MemoryTypeFact),
					typeOption(types.MemoryTypePreference),
					typeOption(types.MemoryTypeDecision),
					typeOption(types.MemoryTypeRule),
					typeOption(types.MemoryTypeProcedural),
					typeOption(types.MemoryTypeIssue),
					typeOption(types.MemoryTypeLearning),
				).
				Value(&memType),
			huh.NewInput().
				Title("Tags (comma separated)").
				Value(&tagsInput),
			huh.NewConfirm().
				Title("Pin it?").
				Value(&pinned),
		),
	)
	if err := form.Run(); err != nil {
		return p, err
	}

	p.Content = content
	p.Type = memType
	p.Pinned = &pinned
	p.Tags = nil
	for _, t := range strings.Split(tagsInput, ",") {
		if t = strings.TrimSpace(t); t != "" {
			p.Tags = append(p.Tags, t)
		}
	}
	return p, nil
}
