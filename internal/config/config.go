package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/signetai/signetd/internal/debug"
	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()

	// Only config.yaml is loaded; SetConfigFile avoids picking up stray
	// config.json files in the same directory.
	v.SetConfigType("yaml")

	// Precedence: project .signet/config.yaml > ~/.config/signet/config.yaml
	// > ~/.signet/config.yaml
	configFileSet := false

	// 1. Walk up from CWD to find the project .signet/config.yaml so
	//    commands work from subdirectories.
	cwd, err := os.Getwd()
	if err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".signet", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	// 2. User config directory (~/.config/signet/config.yaml)
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "signet", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// 3. Home directory (~/.signet/config.yaml)
	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".signet", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Environment variables take precedence over the config file.
	// E.g., SIGNET_JSON, SIGNET_ACTOR, SIGNET_DB, SIGNET_HTTP_ADDR.
	v.SetEnvPrefix("SIGNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Global flags
	v.SetDefault("json", false)
	v.SetDefault("no-daemon", false)
	v.SetDefault("actor", "")
	v.SetDefault("db", "")

	// HTTP surface
	v.SetDefault("http.addr", "127.0.0.1:7433")
	v.SetDefault("http.request_timeout", "30s")
	v.SetDefault("http.token", "")

	// Retention sweeper windows
	v.SetDefault("retention.tombstone_days", 30)
	v.SetDefault("retention.history_days", 180)
	v.SetDefault("retention.completed_job_days", 14)
	v.SetDefault("retention.dead_job_days", 30)
	v.SetDefault("retention.interval", "6h")
	v.SetDefault("retention.batch_limit", 500)

	// Session continuity
	v.SetDefault("continuity.enabled", true)
	v.SetDefault("continuity.prompt_interval", 5)
	v.SetDefault("continuity.time_interval", "15m")
	v.SetDefault("continuity.max_checkpoints_per_session", 50)
	v.SetDefault("continuity.retention_days", 7)
	v.SetDefault("continuity.recovery_budget_chars", 2000)
	v.SetDefault("continuity.flush_delay", "2500ms")
	v.SetDefault("continuity.recovery_window", "24h")

	// Hybrid recall
	v.SetDefault("recall.alpha", 0.7)
	v.SetDefault("recall.top_k", 20)
	v.SetDefault("recall.min_score", 0.0)
	v.SetDefault("recall.recency_bias", 0.7)

	// Per-operation rate limits
	v.SetDefault("limits.forget.window", "60s")
	v.SetDefault("limits.forget.max", 30)
	v.SetDefault("limits.modify.window", "60s")
	v.SetDefault("limits.modify.max", 60)
	v.SetDefault("limits.batch_forget.window", "60s")
	v.SetDefault("limits.batch_forget.max", 5)
	v.SetDefault("limits.force_delete.window", "60s")
	v.SetDefault("limits.force_delete.max", 3)
	v.SetDefault("limits.admin.window", "60s")
	v.SetDefault("limits.admin.max", 10)

	// Auth policy
	v.SetDefault("auth.mode", "local")
	v.SetDefault("auth.secret_path", "")
	v.SetDefault("auth.state_path", "")
	v.SetDefault("auth.default_token_ttl", "168h")
	v.SetDefault("auth.session_token_ttl", "24h")

	// LLM provider (generate contract)
	v.SetDefault("llm.model", "claude-3-5-haiku-latest")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", "30s")
	v.SetDefault("llm.decide_timeout", "10s")
	v.SetDefault("llm.summary_timeout", "90s")

	// Embedding provider (embed contract)
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.dimensions", 768)

	// Pipeline workers
	v.SetDefault("pipeline.workers", 2)
	v.SetDefault("pipeline.poll_interval", "5s")
	v.SetDefault("pipeline.lease_timeout", "5m")
	v.SetDefault("pipeline.lease_batch", 5)
	v.SetDefault("pipeline.summary_max_chars", 24000)

	// Context injection budgets (characters)
	v.SetDefault("inject.memory_md_budget", 10000)
	v.SetDefault("inject.db_budget", 2000)
	v.SetDefault("inject.prompt_budget", 500)
	v.SetDefault("inject.min_effective_score", 0.3)

	// Ingest dedup window
	v.SetDefault("dedup.window_days", 7)

	// Daemon log
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.level", "info")

	// Provider key envs bound explicitly so they work without the SIGNET_
	// prefix, which is what the SDKs document.
	_ = v.BindEnv("llm.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("identity", "SIGNET_IDENTITY")
	v.SetDefault("identity", "")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		debug.Logf("Debug: loaded config from %s\n", v.ConfigFileUsed())
	} else {
		debug.Logf("Debug: no config.yaml found; using defaults and environment variables\n")
	}

	return nil
}

// ConfigSource represents where a configuration value came from.
type ConfigSource string

const (
	SourceDefault    ConfigSource = "default"
	SourceConfigFile ConfigSource = "config_file"
	SourceEnvVar     ConfigSource = "env_var"
	SourceFlag       ConfigSource = "flag"
)

// GetValueSource returns the source of a configuration value.
// Priority (highest to lowest): env var > config file > default.
// Flag overrides are handled separately since viper doesn't know about
// cobra flags.
func GetValueSource(key string) ConfigSource {
	if v == nil {
		return SourceDefault
	}

	envKey := "SIGNET_" + strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(key, "-", "_"), ".", "_"))
	if os.Getenv(envKey) != "" {
		return SourceEnvVar
	}

	if v.InConfig(key) {
		return SourceConfigFile
	}

	return SourceDefault
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetFloat64 retrieves a float configuration value.
func GetFloat64(key string) float64 {
	if v == nil {
		return 0
	}
	return v.GetFloat64(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set sets a configuration value.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map.
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// GetStringSlice retrieves a string slice configuration value.
func GetStringSlice(key string) []string {
	if v == nil {
		return []string{}
	}
	return v.GetStringSlice(key)
}

// GetIdentity resolves the actor identity recorded in history rows and
// checkpoint provenance.
// Priority chain:
//  1. flagValue (from --actor)
//  2. SIGNET_IDENTITY env var / config.yaml identity field (via viper)
//  3. git config user.name
//  4. hostname
func GetIdentity(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	if identity := GetString("identity"); identity != "" {
		return identity
	}

	cmd := exec.Command("git", "config", "user.name")
	if output, err := cmd.Output(); err == nil {
		if gitUser := strings.TrimSpace(string(output)); gitUser != "" {
			return gitUser
		}
	}

	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}

	return "unknown"
}
