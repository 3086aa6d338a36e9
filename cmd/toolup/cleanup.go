package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/toolup/internal/active"
	"github.com/ZebulonRouseFrantzich/toolup/internal/cache"
	"github.com/ZebulonRouseFrantzich/toolup/internal/config"
)

var (
	cleanupKeep      int
	cleanupOlderThan time.Duration
	cleanupCacheAll  bool
	cleanupNoCache   bool
)

func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove unused installs and stale downloads",
		Long: `Remove inactive installed versions and cached downloads.

Without flags the most recently used keep_versions inactive versions of each
component are kept. --keep and --older-than together remove only versions
matched by both. Active versions are never removed.`,
		Args: cobra.NoArgs,
		RunE: runCleanup,
	}
	cmd.Flags().IntVar(&cleanupKeep, "keep", 0, "Inactive versions to keep per component")
	cmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 0, "Only remove versions unused for this long (e.g. 720h)")
	cmd.Flags().BoolVar(&cleanupCacheAll, "cache-all", false, "Empty the download cache")
	cmd.Flags().BoolVar(&cleanupNoCache, "no-cache", false, "Leave the download cache alone")
	return cmd
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}

	policy := cleanupPolicy(a.settings, cmd.Flags().Changed("keep"), cleanupKeep, cleanupOlderThan)
	removed, err := a.engine.Cleanup(policy)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d installed versions\n", removed)

	if cleanupNoCache {
		return nil
	}
	var cachePolicy cache.Policy = cache.MaxAge{Age: a.settings.CacheMaxAge}
	if cleanupCacheAll {
		cachePolicy = cache.All{}
	}
	pruned, err := a.engine.PruneCache(cachePolicy)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached downloads\n", pruned)
	return nil
}

func cleanupPolicy(s *config.Settings, keepSet bool, keep int, olderThan time.Duration) active.Policy {
	var policies []active.Policy
	if keepSet {
		policies = append(policies, active.LeastRecentlyUsed{Keep: keep})
	}
	if olderThan > 0 {
		policies = append(policies, active.OlderThan{Age: olderThan})
	}
	switch len(policies) {
	case 0:
		return active.LeastRecentlyUsed{Keep: s.KeepVersions}
	case 1:
		return policies[0]
	default:
		return active.AllOf(policies)
	}
}
