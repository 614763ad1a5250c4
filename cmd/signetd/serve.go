package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/signetai/signetd/internal/analytics"
	"github.com/signetai/signetd/internal/authz"
	"github.com/signetai/signetd/internal/config"
	"github.com/signetai/signetd/internal/daemon"
	"github.com/signetai/signetd/internal/llm"
	"github.com/signetai/signetd/internal/notes"
	"github.com/signetai/signetd/internal/pipeline"
	"github.com/signetai/signetd/internal/recall"
	"github.com/signetai/signetd/internal/server"
	"github.com/signetai/signetd/internal/session"
	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/storage/sqlite"
	"github.com/signetai/signetd/internal/workspace"
)

const memoryMDInterval = 60 * time.Second

var serveForeground bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory daemon for this workspace",
	Long: `Starts the HTTP server, the extraction pipeline, and the notes watcher
for the enclosing workspace. One daemon per workspace: a lock file under
.signet prevents double starts.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveForeground, "foreground", true, "run in the foreground (logs to stderr as well as the log file)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signetDir, err := workspace.EnsureDir("")
	if err != nil {
		return fmt.Errorf("prepare workspace: %w", err)
	}
	root := filepath.Dir(signetDir)

	// Singleton guard. TryLock rather than Lock: a second serve should fail
	// fast, not queue behind the running daemon.
	lock := flock.New(filepath.Join(signetDir, "daemon.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another daemon already holds %s", lock.Path())
	}
	defer lock.Unlock()

	log := newDaemonLogger(signetDir)

	dbPath := config.GetString("db")
	if dbPath == "" {
		dbPath = filepath.Join(signetDir, workspace.DBFileName)
	}
	store, err := sqlite.New(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	var gen llm.Generator
	if ac, err := llm.NewAnthropicClient(config.GetString("llm.api_key"), config.GetString("llm.model")); err == nil {
		ac.EnableAudit(actorIdentity())
		gen = ac
		log.Info("generator ready", "model", ac.Model())
	} else {
		log.Warn("no generator available, extraction disabled", "error", err)
	}

	var embedder llm.Embedder
	var recallEmbedder recall.Embedder
	if oe, err := llm.NewOllamaEmbedder(config.GetString("embedding.model")); err == nil {
		embedder = oe
		recallEmbedder = oe
		if !oe.Available(ctx) {
			log.Warn("ollama not reachable, vector arm degraded", "model", oe.Model())
		}
	} else {
		log.Warn("no embedder available", "error", err)
	}

	secretPath := config.GetString("auth.secret_path")
	if secretPath == "" {
		secretPath = filepath.Join(signetDir, "auth.secret")
	}
	secret, err := authz.LoadOrCreateSecret(secretPath)
	if err != nil {
		return fmt.Errorf("load auth secret: %w", err)
	}

	collector := analytics.NewCollector()
	engine := recall.NewEngine(store, recallEmbedder)

	logPath := config.GetString("log.file")
	if logPath == "" {
		logPath = filepath.Join(signetDir, "signetd.log")
	}

	srv := server.New(store, engine, collector, log, server.Config{
		Addr:           config.GetString("http.addr"),
		RequestTimeout: config.GetDuration("http.request_timeout"),
		AuthMode:       authz.Mode(config.GetString("auth.mode")),
		Secret:         secret,
		Alpha:          config.GetFloat64("recall.alpha"),
		TopK:           config.GetInt("recall.top_k"),
		MinScore:       config.GetFloat64("recall.min_score"),
		Continuity: session.Options{
			Enabled:        config.GetBool("continuity.enabled"),
			PromptInterval: config.GetInt("continuity.prompt_interval"),
			TimeInterval:   config.GetDuration("continuity.time_interval"),
		},
		FlushDelay:        config.GetDuration("continuity.flush_delay"),
		MaxCheckpoints:    config.GetInt("continuity.max_checkpoints_per_session"),
		RecoveryWindow:    config.GetDuration("continuity.recovery_window"),
		RecoveryBudget:    config.GetInt("continuity.recovery_budget_chars"),
		SessionBudget:     config.GetInt("inject.db_budget"),
		PromptBudget:      config.GetInt("inject.prompt_budget"),
		MinEffectiveScore: config.GetFloat64("inject.min_effective_score"),
		Limits:            limitsFromConfig(),
		LogPath:           logPath,
		WorkspaceRoot:     root,
		Version:           Version,
	})

	notesDir := workspace.NotesDir(signetDir)
	pipe := pipeline.New(store, gen, embedder, log, pipeline.Config{
		Workers:         config.GetInt("pipeline.workers"),
		PollInterval:    config.GetDuration("pipeline.poll_interval"),
		LeaseBatch:      config.GetInt("pipeline.lease_batch"),
		LeaseTimeout:    config.GetDuration("pipeline.lease_timeout"),
		GenerateTimeout: config.GetDuration("llm.timeout"),
		DecideTimeout:   config.GetDuration("llm.decide_timeout"),
		SummaryTimeout:  config.GetDuration("llm.summary_timeout"),
		SummaryMaxChars: config.GetInt("pipeline.summary_max_chars"),
		NotesDir:        notesDir,
		SweepInterval:   config.GetDuration("retention.interval"),
		Retention:       retentionFromConfig(),
	})
	pipe.SetObserver(collector)

	watcher := notes.NewWatcher(store, log, notesDir, "", 0)

	addr := config.GetString("http.addr")
	reg, regErr := daemon.NewRegistry()
	if regErr == nil {
		entry := daemon.Entry{
			Workspace: root,
			Addr:      addr,
			DBPath:    dbPath,
			PID:       os.Getpid(),
			Version:   Version,
			StartedAt: time.Now().UTC(),
		}
		if err := reg.Register(entry); err != nil {
			log.Warn("daemon registry write failed", "error", err)
		} else {
			defer reg.Unregister(root, os.Getpid())
		}
	} else {
		log.Warn("daemon registry unavailable", "error", regErr)
	}

	log.Info("daemon starting", "addr", addr, "db", dbPath, "version", Version)
	if !jsonOutput() {
		printf("signetd listening on %s (workspace %s)\n", addr, root)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return pipe.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return memoryMDLoop(gctx, store, root, log) })

	err = g.Wait()
	srv.FlushSessions()
	log.Info("daemon stopped")
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// memoryMDLoop keeps the workspace MEMORY.md digest current. One write at
// startup, then on a fixed cadence; the writer itself skips no-op updates
// via atomic replace.
func memoryMDLoop(ctx context.Context, store storage.Storage, root string, log *slog.Logger) error {
	budget := config.GetInt("inject.memory_md_budget")
	write := func() {
		wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if _, err := notes.WriteMemoryMD(wctx, store, "", root, budget); err != nil {
			log.Warn("memory digest write failed", "error", err)
		}
	}
	write()
	ticker := time.NewTicker(memoryMDInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			write()
		}
	}
}

// newDaemonLogger builds the rotating file logger, teeing to stderr in the
// foreground.
func newDaemonLogger(signetDir string) *slog.Logger {
	logPath := config.GetString("log.file")
	if logPath == "" {
		logPath = filepath.Join(signetDir, "signetd.log")
	}
	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    config.GetInt("log.max_size_mb"),
		MaxBackups: config.GetInt("log.max_backups"),
		MaxAge:     config.GetInt("log.max_age_days"),
		Compress:   true,
	}

	var out io.Writer = rotator
	if serveForeground {
		out = io.MultiWriter(rotator, os.Stderr)
	}

	level := slog.LevelInfo
	switch config.GetString("log.level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}

func limitsFromConfig() server.Limits {
	rule := func(key string) server.LimitRule {
		return server.LimitRule{
			Window: config.GetDuration("limits." + key + ".window"),
			Max:    config.GetInt("limits." + key + ".max"),
		}
	}
	return server.Limits{
		Forget:      rule("forget"),
		Modify:      rule("modify"),
		BatchForget: rule("batch_forget"),
		ForceDelete: rule("force_delete"),
		Admin:       rule("admin"),
	}
}

func retentionFromConfig() storage.RetentionPolicy {
	days := func(key string) time.Duration {
		return time.Duration(config.GetInt(key)) * 24 * time.Hour
	}
	return storage.RetentionPolicy{
		TombstoneRetention:    days("retention.tombstone_days"),
		HistoryRetention:      days("retention.history_days"),
		CompletedJobRetention: days("retention.completed_job_days"),
		DeadJobRetention:      days("retention.dead_job_days"),
		CheckpointRetention:   days("continuity.retention_days"),
		ProjectionRetention:   days("continuity.retention_days"),
		LeaseTimeout:          config.GetDuration("pipeline.lease_timeout"),
		BatchLimit:            config.GetInt("retention.batch_limit"),
	}
}
