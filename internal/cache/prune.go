package cache

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

// Policy selects cache entries to evict.
type Policy interface {
	evictions(entries []model.CacheEntry, now time.Time) []model.CacheEntry
}

// MaxAge evicts entries not used within Age.
type MaxAge struct {
	Age time.Duration
}

func (p MaxAge) evictions(entries []model.CacheEntry, now time.Time) []model.CacheEntry {
	var out []model.CacheEntry
	for _, e := range entries {
		if now.Sub(e.LastUsed) > p.Age {
			out = append(out, e)
		}
	}
	return out
}

// MaxTotalSize evicts least recently used entries until the total size is
// at most Bytes.
type MaxTotalSize struct {
	Bytes int64
}

func (p MaxTotalSize) evictions(entries []model.CacheEntry, _ time.Time) []model.CacheEntry {
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	if total <= p.Bytes {
		return nil
	}

	sorted := append([]model.CacheEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastUsed.Before(sorted[j].LastUsed)
	})

	var out []model.CacheEntry
	for _, e := range sorted {
		if total <= p.Bytes {
			break
		}
		out = append(out, e)
		total -= e.Size
	}
	return out
}

// All evicts everything.
type All struct{}

func (All) evictions(entries []model.CacheEntry, _ time.Time) []model.CacheEntry {
	return entries
}

// Prune evicts the entries selected by policy and reclaims temp files left
// behind by interrupted stores. It returns the number of entries evicted.
func (c *Cache) Prune(policy Policy) (int, error) {
	c.reclaimTemps()

	entries, err := c.Entries()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range policy.evictions(entries, c.now()) {
		if err := c.Evict(e.Key()); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("pruned cache", "removed", removed)
	}
	return removed, nil
}

// reclaimTemps removes orphaned store temp files older than staleTempAge.
// Younger ones may belong to a store in progress.
func (c *Cache) reclaimTemps() {
	cutoff := c.now().Add(-staleTempAge)
	_ = filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != c.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err == nil {
			c.logger.Debug("removed stale cache temp file", "path", path)
		}
		return nil
	})
}
