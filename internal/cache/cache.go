// Package cache stores downloaded artifacts keyed by component, version and
// platform so that reinstalling a version never re-downloads it.
//
// Entries are write-once: a new artifact is written to a uniquely named
// temporary file and hard-linked into place. When two writers race, the
// first link wins and the other writer observes the existing entry.
package cache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/toolup/internal/atomicfs"
	"github.com/ZebulonRouseFrantzich/toolup/internal/config"
	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

const (
	tempPrefix = ".store-"
	// staleTempAge is how old an orphaned temp file must be before Prune
	// reclaims it.
	staleTempAge = time.Hour
)

// Cache is an artifact cache rooted at a directory.
type Cache struct {
	root   string
	now    func() time.Time
	logger config.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for LRU bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l config.Logger) Option {
	return func(c *Cache) { c.logger = config.OrNop(l) }
}

// New creates a cache rooted at root.
func New(root string, opts ...Option) *Cache {
	c := &Cache{root: root, now: time.Now, logger: config.NopLogger()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Root returns the cache directory.
func (c *Cache) Root() string {
	return c.root
}

func (c *Cache) keyDir(key model.ResolvedTarget) (string, error) {
	for _, el := range []string{key.Component, key.Version, key.Platform.String()} {
		if err := model.ValidatePathElement(el); err != nil {
			return "", model.Wrap(model.ErrIO, key, "cache key", err)
		}
	}
	return filepath.Join(c.root, key.Component, key.Version, key.Platform.String()), nil
}

// Lookup returns the cached artifact for key. A hit refreshes the entry's
// last-used time.
func (c *Cache) Lookup(key model.ResolvedTarget) (string, bool, error) {
	dir, err := c.keyDir(key)
	if err != nil {
		return "", false, err
	}

	path, err := artifactIn(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, model.Wrap(model.ErrIO, key, "cache lookup", err)
	}

	now := c.now()
	if err := os.Chtimes(path, now, now); err != nil {
		c.logger.Debug("failed to touch cache entry", "path", path, "error", err)
	}
	return path, true, nil
}

// artifactIn returns the single committed artifact in dir.
func artifactIn(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || !e.Type().IsRegular() {
			continue
		}
		return filepath.Join(dir, e.Name()), nil
	}
	return "", fs.ErrNotExist
}

// Store writes r as the artifact for key under the file name name. If an
// entry already exists it is returned unchanged and r is not consumed.
func (c *Cache) Store(key model.ResolvedTarget, name string, r io.Reader) (string, error) {
	dir, err := c.keyDir(key)
	if err != nil {
		return "", err
	}
	if err := model.ValidatePathElement(name); err != nil || strings.HasPrefix(name, ".") {
		return "", model.Errorf(model.ErrIO, key, "invalid artifact name %q", name)
	}

	if existing, err := artifactIn(dir); err == nil {
		return existing, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", model.Wrap(model.ErrIO, key, "cache store", fmt.Errorf("create directory: %w", err))
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return "", model.Wrap(model.ErrIO, key, "cache store", fmt.Errorf("create temp file: %w", err))
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", model.Wrap(model.ErrFetch, key, "cache store", fmt.Errorf("write temp file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", model.Wrap(model.ErrIO, key, "cache store", fmt.Errorf("sync temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return "", model.Wrap(model.ErrIO, key, "cache store", fmt.Errorf("close temp file: %w", err))
	}

	final := filepath.Join(dir, name)
	if err := commit(tmpPath, final); err != nil {
		if existing, lookupErr := artifactIn(dir); lookupErr == nil {
			// A concurrent writer committed first.
			return existing, nil
		}
		return "", model.Wrap(model.ErrIO, key, "cache store", err)
	}

	// Another writer may have committed under a different name between our
	// check and our link; the first entry in directory order is canonical.
	if winner, err := artifactIn(dir); err == nil && winner != final {
		os.Remove(final)
		final = winner
	}

	if err := atomicfs.SyncDir(dir); err != nil {
		c.logger.Debug("failed to sync cache dir", "dir", dir, "error", err)
	}
	c.logger.Debug("cached artifact", "key", key.String(), "path", final)
	return final, nil
}

// commit links tmp to final without replacing an existing file. Filesystems
// without hard links fall back to a rename.
func commit(tmp, final string) error {
	err := os.Link(tmp, final)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		return err
	}
	if _, statErr := os.Lstat(final); statErr == nil {
		return fs.ErrExist
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Evict removes the entry for key. Evicting a missing entry is not an error.
func (c *Cache) Evict(key model.ResolvedTarget) error {
	dir, err := c.keyDir(key)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return model.Wrap(model.ErrIO, key, "cache evict", err)
	}
	c.removeEmptyParents(filepath.Dir(dir))
	c.logger.Debug("evicted cache entry", "key", key.String())
	return nil
}

// removeEmptyParents removes empty version and component directories.
func (c *Cache) removeEmptyParents(dir string) {
	for dir != c.root && strings.HasPrefix(dir, c.root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// Entries lists every committed artifact.
func (c *Cache) Entries() ([]model.CacheEntry, error) {
	var out []model.CacheEntry

	components, err := readDirs(c.root)
	if err != nil {
		return nil, model.Wrap(model.ErrIO, model.ResolvedTarget{}, "cache entries", err)
	}
	for _, comp := range components {
		versions, err := readDirs(filepath.Join(c.root, comp))
		if err != nil {
			return nil, model.Wrap(model.ErrIO, model.ResolvedTarget{Component: comp}, "cache entries", err)
		}
		for _, version := range versions {
			platforms, err := readDirs(filepath.Join(c.root, comp, version))
			if err != nil {
				return nil, model.Wrap(model.ErrIO, model.ResolvedTarget{Component: comp, Version: version}, "cache entries", err)
			}
			for _, plat := range platforms {
				p, err := model.ParsePlatform(plat)
				if err != nil {
					continue
				}
				path, err := artifactIn(filepath.Join(c.root, comp, version, plat))
				if err != nil {
					continue
				}
				info, err := os.Stat(path)
				if err != nil {
					continue
				}
				out = append(out, model.CacheEntry{
					Component: comp,
					Version:   version,
					Platform:  p,
					Path:      path,
					Size:      info.Size(),
					LastUsed:  info.ModTime(),
				})
			}
		}
	}
	return out, nil
}

// readDirs lists the non-hidden subdirectories of dir. A missing dir is
// empty.
func readDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
