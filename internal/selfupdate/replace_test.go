package selfupdate

import (
	"os"
	"path/filepath"
	"testing"
)

func writeExe(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRenameAside(t *testing.T) {
	dir := t.TempDir()
	exe := writeExe(t, dir, "toolup", "old")
	newBinary := writeExe(t, t.TempDir(), "toolup", "new")
	// A leftover from an earlier update must not block this one.
	writeExe(t, dir, "toolup.old", "older")

	if err := (RenameAside{}).Replace(newBinary, exe); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	data, err := os.ReadFile(exe)
	if err != nil || string(data) != "new" {
		t.Errorf("executable = %q, %v", data, err)
	}
	if err := CleanupLeftovers(exe); err != nil {
		t.Fatalf("CleanupLeftovers() error = %v", err)
	}
	if _, err := os.Stat(exe + ".old"); !os.IsNotExist(err) {
		t.Error("renamed-aside binary left after cleanup")
	}
}

func TestRenameAside_MissingTarget(t *testing.T) {
	newBinary := writeExe(t, t.TempDir(), "toolup", "new")
	if err := (RenameAside{}).Replace(newBinary, filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("expected error for missing executable")
	}
}

func TestCleanupLeftovers(t *testing.T) {
	dir := t.TempDir()
	exe := writeExe(t, dir, "toolup", "current")
	writeExe(t, dir, "toolup.old", "previous")
	writeExe(t, dir, ".toolup.new", "partial")

	if err := CleanupLeftovers(exe); err != nil {
		t.Fatalf("CleanupLeftovers() error = %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != "toolup" {
		t.Errorf("entries after cleanup = %v", entries)
	}
	if err := CleanupLeftovers(exe); err != nil {
		t.Errorf("CleanupLeftovers() without leftovers error = %v", err)
	}
}
