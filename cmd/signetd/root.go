package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/signetai/signetd/internal/config"
)

// Version is stamped by the release build; the default marks dev builds.
var Version = "0.6.0-dev"

var (
	flagJSON     bool
	flagActor    string
	flagDB       string
	flagNoDaemon bool
	flagAddr     string
	flagToken    string
)

var rootCmd = &cobra.Command{
	Use:   "signetd",
	Short: "Local memory daemon for AI coding agents",
	Long: `signetd keeps a durable memory store per workspace: agents remember
facts, decisions, and preferences; recall is hybrid BM25 + vector search;
session checkpoints survive context compaction.

Commands talk to a running daemon over HTTP and fall back to direct
database access when none is up.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		// Flags override config and environment.
		if flagJSON {
			config.Set("json", true)
		}
		if flagActor != "" {
			config.Set("actor", flagActor)
		}
		if flagDB != "" {
			config.Set("db", flagDB)
		}
		if flagNoDaemon {
			config.Set("no-daemon", true)
		}
		if flagAddr != "" {
			config.Set("http.addr", flagAddr)
		}
		if flagToken != "" {
			config.Set("http.token", flagToken)
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&flagJSON, "json", false, "machine-readable JSON output")
	pf.StringVar(&flagActor, "actor", "", "actor identity recorded in history")
	pf.StringVar(&flagDB, "db", "", "database path (overrides workspace discovery)")
	pf.BoolVar(&flagNoDaemon, "no-daemon", false, "skip daemon discovery, use the database directly")
	pf.StringVar(&flagAddr, "addr", "", "daemon address (host:port)")
	pf.StringVar(&flagToken, "token", "", "bearer token for team-mode daemons")
}

func jsonOutput() bool {
	return config.GetBool("json")
}

func actorIdentity() string {
	return config.GetIdentity(config.GetString("actor"))
}

// printJSON writes v as indented JSON on stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func printf(format string, args ...any) {
	fmt.Printf(format, args...)
}
