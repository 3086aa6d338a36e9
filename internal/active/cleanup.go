package active

import (
	"os"
	"sort"
	"time"

	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

// StagingMaxAge is the age after which an abandoned staging directory is
// reclaimed by Cleanup.
const StagingMaxAge = time.Hour

// Candidate is an inactive install considered for removal.
type Candidate struct {
	model.InstalledVersion
	// LastUsed is the later of the install time and the last time the
	// version was switched to or away from.
	LastUsed time.Time
}

// Policy selects which inactive installs of one component to remove.
type Policy interface {
	victims(candidates []Candidate, now time.Time) []Candidate
}

// OlderThan removes installs unused for longer than Age.
type OlderThan struct {
	Age time.Duration
}

func (p OlderThan) victims(candidates []Candidate, now time.Time) []Candidate {
	cutoff := now.Add(-p.Age)
	var out []Candidate
	for _, c := range candidates {
		if c.LastUsed.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out
}

// KeepNewest keeps the Count most recently installed versions.
type KeepNewest struct {
	Count int
}

func (p KeepNewest) victims(candidates []Candidate, _ time.Time) []Candidate {
	return keepTop(candidates, p.Count, func(c Candidate) time.Time { return c.InstalledAt })
}

// LeastRecentlyUsed keeps the Keep most recently used versions.
type LeastRecentlyUsed struct {
	Keep int
}

func (p LeastRecentlyUsed) victims(candidates []Candidate, _ time.Time) []Candidate {
	return keepTop(candidates, p.Keep, func(c Candidate) time.Time { return c.LastUsed })
}

// AllOf removes an install only when every policy selects it. An empty
// AllOf removes nothing.
type AllOf []Policy

func (p AllOf) victims(candidates []Candidate, now time.Time) []Candidate {
	if len(p) == 0 {
		return nil
	}
	counts := map[model.ResolvedTarget]int{}
	for _, policy := range p {
		for _, v := range policy.victims(candidates, now) {
			counts[v.Target()]++
		}
	}
	var out []Candidate
	for _, c := range candidates {
		if counts[c.Target()] == len(p) {
			out = append(out, c)
		}
	}
	return out
}

// DefaultPolicy keeps the two most recently used inactive versions.
func DefaultPolicy() Policy {
	return LeastRecentlyUsed{Keep: 2}
}

// keepTop returns everything but the keep candidates with the latest key.
func keepTop(candidates []Candidate, keep int, key func(Candidate) time.Time) []Candidate {
	if keep < 0 {
		keep = 0
	}
	if len(candidates) <= keep {
		return nil
	}
	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return key(sorted[i]).After(key(sorted[j]))
	})
	return sorted[keep:]
}

// Cleanup removes inactive installs selected by policy across all
// components and reclaims stale staging directories. The active version of a
// component is never a candidate. It returns the number of installs removed.
func (m *Manager) Cleanup(policy Policy) (int, error) {
	if policy == nil {
		policy = DefaultPolicy()
	}
	comps, err := m.installs.Components()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, comp := range comps {
		n, err := m.cleanupComponent(comp, policy)
		removed += n
		if err != nil {
			return removed, err
		}
	}

	staging, err := m.installs.RemoveStaleStaging(StagingMaxAge)
	if err != nil {
		return removed, err
	}
	m.logger.Info("cleanup finished", "removed", removed, "staging", staging)
	return removed, nil
}

func (m *Manager) cleanupComponent(comp string, policy Policy) (int, error) {
	if err := m.Recover(comp); err != nil {
		return 0, err
	}
	cur, err := m.Current(comp)
	if err != nil {
		return 0, err
	}
	installed, err := m.installs.ListInstalled(comp)
	if err != nil {
		return 0, err
	}

	var candidates []Candidate
	for _, iv := range installed {
		if cur != nil && pointerTarget(*cur) == iv.Target() {
			continue
		}
		candidates = append(candidates, Candidate{InstalledVersion: iv, LastUsed: lastUsed(iv)})
	}

	removed := 0
	for _, v := range policy.victims(candidates, m.now()) {
		// Re-read the pointer: a concurrent switch may have activated v.
		if active, err := m.IsActive(v.Target()); err != nil || active {
			continue
		}
		if err := m.installs.Remove(v.Target()); err != nil {
			return removed, err
		}
		m.logger.Debug("removed inactive version", "target", v.Target().String(), "last_used", v.LastUsed)
		removed++
	}
	return removed, nil
}

func lastUsed(iv model.InstalledVersion) time.Time {
	used := iv.InstalledAt
	if info, err := os.Stat(iv.Dir); err == nil && info.ModTime().After(used) {
		used = info.ModTime()
	}
	return used
}
