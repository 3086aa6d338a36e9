// Package testutil provides utilities for testing toolup in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Env holds the directories SetupTestEnv points toolup at.
type Env struct {
	Home      string
	ConfigDir string
	DataDir   string
	BinDir    string
}

// ConfigFile returns the config file path toolup reads in this environment.
func (e Env) ConfigFile() string {
	return filepath.Join(e.ConfigDir, "toolup", "config.toml")
}

// SetupTestEnv creates isolated directories for each test and points every
// toolup path at them, so tests never touch:
// - the user's installs and active binaries
// - the user's config and metadata files
// - a real access token
//
// The cleanup function is automatically handled by t.TempDir(),
// so callers don't need to manually clean up.
func SetupTestEnv(t *testing.T) Env {
	t.Helper()

	tmpDir := t.TempDir()
	env := Env{
		Home:      filepath.Join(tmpDir, "home"),
		ConfigDir: filepath.Join(tmpDir, "config"),
		DataDir:   filepath.Join(tmpDir, "data"),
		BinDir:    filepath.Join(tmpDir, "bin"),
	}

	t.Setenv("HOME", env.Home)
	t.Setenv("USERPROFILE", env.Home)
	t.Setenv("XDG_CONFIG_HOME", env.ConfigDir)
	t.Setenv("XDG_DATA_HOME", env.DataDir)
	t.Setenv("TOOLUP_ROOT_DIR", filepath.Join(env.DataDir, "toolup"))
	t.Setenv("TOOLUP_BIN_DIR", env.BinDir)

	// Requests in tests go to httptest servers only.
	t.Setenv("TOOLUP_GITHUB_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "")

	for _, dir := range []string{env.Home, env.ConfigDir, env.DataDir, env.BinDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}
	return env
}
