package active

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/toolup/internal/atomicfs"
	"github.com/ZebulonRouseFrantzich/toolup/internal/config"
	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

func (m *Manager) installedBinary(iv *model.InstalledVersion, bin string) string {
	return filepath.Join(iv.Dir, model.BinaryFileName(bin, iv.Platform.OS))
}

func (m *Manager) exposedPath(iv *model.InstalledVersion, bin string) string {
	return filepath.Join(m.binDir, model.BinaryFileName(bin, iv.Platform.OS))
}

// ExposedPath returns where binary bin of an install appears on the lookup
// path.
func (m *Manager) ExposedPath(iv *model.InstalledVersion, bin string) string {
	return m.exposedPath(iv, bin)
}

// expose points every binary of iv at its install. Each entry is replaced
// with a single rename.
func (m *Manager) expose(iv *model.InstalledVersion) error {
	if err := os.MkdirAll(m.binDir, 0755); err != nil {
		return fmt.Errorf("create bin directory: %w", err)
	}
	for _, bin := range iv.Binaries {
		src := m.installedBinary(iv, bin)
		dst := m.exposedPath(iv, bin)

		var err error
		switch m.linkMode {
		case config.LinkModeCopy:
			err = atomicfs.CopyFile(src, dst, 0755)
		default:
			err = atomicfs.ReplaceSymlink(src, dst)
		}
		if err != nil {
			return fmt.Errorf("expose %s: %w", bin, err)
		}
		m.logger.Debug("exposed binary", "binary", bin, "path", dst, "mode", m.linkMode)
	}
	if err := atomicfs.SyncDir(m.binDir); err != nil {
		m.logger.Debug("failed to sync bin dir", "dir", m.binDir, "error", err)
	}
	return nil
}

// unexposeExcept removes the exposure of iv's binaries that are not in keep.
// Only entries that are iv's exposure are removed, so a foreign file of the
// same name survives.
func (m *Manager) unexposeExcept(iv *model.InstalledVersion, keep []string) {
	kept := make(map[string]bool, len(keep))
	for _, k := range keep {
		kept[k] = true
	}

	for _, bin := range iv.Binaries {
		if kept[bin] {
			continue
		}
		path := m.exposedPath(iv, bin)
		if !m.owns(iv, bin, path) {
			m.logger.Debug("leaving unrelated file in bin directory", "path", path)
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("failed to remove exposed binary", "path", path, "error", err)
		}
	}
}

// owns reports whether path is the exposure of binary bin of iv: a symlink
// into the component's directory, or in copy mode a file identical to the
// installed binary.
func (m *Manager) owns(iv *model.InstalledVersion, bin, path string) bool {
	if m.linkMode == config.LinkModeSymlink {
		compDir := filepath.Join(m.root, iv.Component) + string(filepath.Separator)
		dest, err := os.Readlink(path)
		return err == nil && strings.HasPrefix(filepath.Clean(dest), compDir)
	}
	if iv.Dir == "" {
		return false
	}
	same, err := sameContent(path, m.installedBinary(iv, bin))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.Debug("failed to compare exposed binary", "path", path, "error", err)
	}
	return same
}

// sameContent reports whether two regular files have equal size and SHA-256.
func sameContent(a, b string) (bool, error) {
	ia, err := os.Lstat(a)
	if err != nil {
		return false, err
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if !ia.Mode().IsRegular() || ia.Size() != ib.Size() {
		return false, nil
	}
	ha, err := fileSHA256(a)
	if err != nil {
		return false, err
	}
	hb, err := fileSHA256(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ha, hb), nil
}

func fileSHA256(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
