package selfupdate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/inconshreveable/go-update"

	"github.com/ZebulonRouseFrantzich/toolup/internal/atomicfs"
)

// oldSuffix names the renamed-aside previous executable.
const oldSuffix = ".old"

// Strategy replaces the executable at exe with the file at newBinary.
type Strategy interface {
	Replace(newBinary, exe string) error
	Name() string
}

// RenameOver writes the new binary beside the target and renames it over
// the running file in one step. Requires a platform that allows replacing
// the directory entry of a running image.
type RenameOver struct{}

// Name implements Strategy.
func (RenameOver) Name() string { return "rename-over" }

// Replace implements Strategy.
func (RenameOver) Replace(newBinary, exe string) error {
	perm, err := executableMode(exe)
	if err != nil {
		return err
	}
	if err := atomicfs.CopyFile(newBinary, exe, perm); err != nil {
		return fmt.Errorf("rename over %s: %w", exe, err)
	}
	return atomicfs.SyncDir(filepath.Dir(exe))
}

// RenameAside moves the running file to <exe>.old, places the new binary at
// the original path and deletes the old file when the platform allows it.
// A file that is still locked is removed by CleanupLeftovers on a later
// start.
type RenameAside struct{}

// Name implements Strategy.
func (RenameAside) Name() string { return "rename-aside" }

// Replace implements Strategy.
func (RenameAside) Replace(newBinary, exe string) error {
	perm, err := executableMode(exe)
	if err != nil {
		return err
	}
	f, err := os.Open(newBinary)
	if err != nil {
		return fmt.Errorf("open new binary: %w", err)
	}
	defer f.Close()

	oldPath := exe + oldSuffix
	// A leftover from a previous update would make the rename aside fail.
	if err := os.Remove(oldPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove previous %s: %w", filepath.Base(oldPath), err)
	}

	err = update.Apply(f, update.Options{
		TargetPath:  exe,
		TargetMode:  perm,
		OldSavePath: oldPath,
	})
	if err != nil {
		if rerr := update.RollbackError(err); rerr != nil {
			return fmt.Errorf("rename aside: %w (rollback failed: %v; previous binary is at %s)", err, rerr, oldPath)
		}
		return fmt.Errorf("rename aside: %w (rolled back)", err)
	}

	// Deleting a running image fails on some platforms; it is retried on the
	// next start.
	_ = os.Remove(oldPath)
	return nil
}

// CleanupLeftovers deletes the renamed-aside executable and an unfinished
// replacement left by an earlier update of exe.
func CleanupLeftovers(exe string) error {
	dir, base := filepath.Split(exe)
	var errs []error
	for _, p := range []string{exe + oldSuffix, filepath.Join(dir, "."+base+".new")} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", filepath.Base(p), err))
		}
	}
	return errors.Join(errs...)
}

func executableMode(exe string) (os.FileMode, error) {
	info, err := os.Stat(exe)
	if err != nil {
		return 0, fmt.Errorf("stat executable: %w", err)
	}
	perm := info.Mode().Perm()
	if perm == 0 {
		perm = 0755
	}
	return perm | 0100, nil
}
