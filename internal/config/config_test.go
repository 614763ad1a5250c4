package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupConfigTest(t *testing.T) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "signet-config-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	oldWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get cwd: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to chdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(oldWd)
		_ = os.RemoveAll(tmpDir)
		v = nil
	})
}

func TestInitializeDefaults(t *testing.T) {
	setupConfigTest(t)

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if got := GetFloat64("recall.alpha"); got != 0.7 {
		t.Errorf("recall.alpha default = %g, want 0.7", got)
	}
	if got := GetInt("retention.tombstone_days"); got != 30 {
		t.Errorf("retention.tombstone_days default = %d, want 30", got)
	}
	if got := GetDuration("continuity.flush_delay"); got != 2500*time.Millisecond {
		t.Errorf("continuity.flush_delay default = %v, want 2.5s", got)
	}
	if got := GetInt("continuity.max_checkpoints_per_session"); got != 50 {
		t.Errorf("max_checkpoints_per_session default = %d, want 50", got)
	}
	if got := GetString("auth.mode"); got != "local" {
		t.Errorf("auth.mode default = %q, want local", got)
	}
	if got := GetInt("limits.batch_forget.max"); got != 5 {
		t.Errorf("limits.batch_forget.max default = %d, want 5", got)
	}
	if !GetBool("continuity.enabled") {
		t.Error("continuity.enabled should default to true")
	}
}

func TestEnvOverride(t *testing.T) {
	setupConfigTest(t)
	t.Setenv("SIGNET_HTTP_ADDR", "127.0.0.1:9999")

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if got := GetString("http.addr"); got != "127.0.0.1:9999" {
		t.Errorf("http.addr = %q, want env override", got)
	}
	if got := GetValueSource("http.addr"); got != SourceEnvVar {
		t.Errorf("GetValueSource = %s, want env_var", got)
	}
}

func TestProjectConfigDiscovery(t *testing.T) {
	setupConfigTest(t)

	cwd, _ := os.Getwd()
	signetDir := filepath.Join(cwd, ".signet")
	if err := os.MkdirAll(signetDir, 0755); err != nil {
		t.Fatalf("failed to create .signet: %v", err)
	}
	configYaml := "recall:\n  alpha: 0.4\n"
	if err := os.WriteFile(filepath.Join(signetDir, "config.yaml"), []byte(configYaml), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	// Run from a subdirectory to exercise the walk-up.
	subDir := filepath.Join(cwd, "deep", "nested")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatalf("failed to create subdir: %v", err)
	}
	if err := os.Chdir(subDir); err != nil {
		t.Fatalf("failed to chdir: %v", err)
	}

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if got := GetFloat64("recall.alpha"); got != 0.4 {
		t.Errorf("recall.alpha = %g, want 0.4 from project config", got)
	}
	if got := GetValueSource("recall.alpha"); got != SourceConfigFile {
		t.Errorf("GetValueSource = %s, want config_file", got)
	}
}

func TestNilSingletonSafe(t *testing.T) {
	v = nil
	if GetString("anything") != "" {
		t.Error("GetString on nil viper should return empty")
	}
	if GetInt("anything") != 0 {
		t.Error("GetInt on nil viper should return 0")
	}
	if GetDuration("anything") != 0 {
		t.Error("GetDuration on nil viper should return 0")
	}
}
