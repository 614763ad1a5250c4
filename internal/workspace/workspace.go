// Package workspace locates the .signet state directory for the current
// project.
package workspace

import (
	"os"
	"path/filepath"
)

const (
	// DirName is the per-project state directory.
	DirName = ".signet"

	// DBFileName is the daemon database inside DirName.
	DBFileName = "memory.db"

	// NotesDirName holds session summary notes inside DirName.
	NotesDirName = "memory"
)

// FindDir walks up from the working directory looking for an existing
// .signet directory. Returns "" when none is found.
func FindDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for dir := cwd; ; dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, DirName)
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return candidate
		}
		if dir == filepath.Dir(dir) {
			return ""
		}
	}
}

// FindDatabasePath resolves the project database, or "" when no workspace
// exists yet.
func FindDatabasePath() string {
	dir := FindDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, DBFileName)
}

// EnsureDir creates .signet under root (or the working directory when root
// is empty) and returns its path.
func EnsureDir(root string) (string, error) {
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		root = cwd
	}
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	return dir, nil
}

// NotesDir returns the summary notes directory for a workspace dir.
func NotesDir(signetDir string) string {
	return filepath.Join(signetDir, NotesDirName)
}
