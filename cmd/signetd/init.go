package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/signetai/signetd/internal/workspace"
)

// initConfig is the seed written to .signet/config.yaml. Only the knobs
// people actually change first; everything else has a default.
type initConfig struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Auth struct {
		Mode string `yaml:"mode"`
	} `yaml:"auth"`
	LLM struct {
		Model string `yaml:"model"`
	} `yaml:"llm"`
	Embedding struct {
		Model string `yaml:"model"`
	} `yaml:"embedding"`
}

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a .signet workspace in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		signetDir, err := workspace.EnsureDir("")
		if err != nil {
			return err
		}
		notesDir := workspace.NotesDir(signetDir)
		if err := os.MkdirAll(notesDir, 0o755); err != nil {
			return err
		}

		cfgPath := filepath.Join(signetDir, "config.yaml")
		if _, err := os.Stat(cfgPath); err == nil && !initForce {
			if jsonOutput() {
				return printJSON(map[string]any{"dir": signetDir, "config": cfgPath, "created": false})
			}
			printf("Workspace already initialized at %s\n", signetDir)
			return nil
		}

		var seed initConfig
		seed.HTTP.Addr = "127.0.0.1:7433"
		seed.Auth.Mode = "local"
		seed.LLM.Model = "claude-3-5-haiku-latest"
		seed.Embedding.Model = "nomic-embed-text"
		data, err := yaml.Marshal(&seed)
		if err != nil {
			return err
		}
		if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}

		if jsonOutput() {
			return printJSON(map[string]any{"dir": signetDir, "config": cfgPath, "created": true})
		}
		printf("Initialized workspace:\n")
		printf("  %s\n", cfgPath)
		printf("  %s (drop .md notes here, they get remembered)\n", notesDir)
		printf("Run 'signetd serve' to start the daemon.\n")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config.yaml")
	rootCmd.AddCommand(initCmd)
}
