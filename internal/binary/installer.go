package binary

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ZebulonRouseFrantzich/toolup/internal/atomicfs"
	"github.com/ZebulonRouseFrantzich/toolup/internal/cache"
	"github.com/ZebulonRouseFrantzich/toolup/internal/config"
	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
	"github.com/ZebulonRouseFrantzich/toolup/internal/source"
)

// Catalog provides component definitions.
type Catalog interface {
	Get(name string) (model.Component, error)
}

// FetcherFor returns the fetcher serving a source kind.
type FetcherFor func(kind model.SourceKind) (source.Fetcher, error)

// Installer orchestrates fetch, verification, extraction and publication
type Installer struct {
	root       string
	keyringDir string
	cache      *cache.Cache
	catalog    Catalog
	fetchers   FetcherFor
	verifier   *Verifier
	extractor  *Extractor
	logger     config.Logger
	now        func() time.Time

	// beforePublish runs between staging and publication.
	beforePublish func(staging string) error
}

// Config holds configuration for the installer
type Config struct {
	// Root is the data directory holding installs and keyrings
	Root     string
	Cache    *cache.Cache
	Catalog  Catalog
	Fetchers FetcherFor
	Logger   config.Logger
	Clock    func() time.Time
}

// NewInstaller creates a new installer
func NewInstaller(cfg Config) (*Installer, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if cfg.Fetchers == nil {
		return nil, fmt.Errorf("fetchers are required")
	}

	keyringDir := filepath.Join(cfg.Root, "keyrings")
	inst := &Installer{
		root:       cfg.Root,
		keyringDir: keyringDir,
		cache:      cfg.Cache,
		catalog:    cfg.Catalog,
		fetchers:   cfg.Fetchers,
		verifier:   NewVerifier(keyringDir),
		extractor:  NewExtractor(),
		logger:     config.OrNop(cfg.Logger),
		now:        cfg.Clock,
	}
	if inst.now == nil {
		inst.now = time.Now
	}
	return inst, nil
}

// Root returns the data directory.
func (i *Installer) Root() string {
	return i.root
}

// InstallDir returns the published directory of a target.
func (i *Installer) InstallDir(target model.ResolvedTarget) (string, error) {
	for _, el := range []string{target.Component, target.Version, target.Platform.String()} {
		if err := model.ValidatePathElement(el); err != nil {
			return "", model.Wrap(model.ErrIO, target, "install dir", err)
		}
	}
	return filepath.Join(i.root, target.Component, target.Version, target.Platform.String()), nil
}

// Install makes target available on disk. An existing install is returned
// without fetching anything.
func (i *Installer) Install(ctx context.Context, target model.ResolvedTarget, release model.ReleaseDescriptor) (*model.InstalledVersion, error) {
	return i.InstallWith(ctx, target, release, InstallOptions{})
}

// InstallWith is Install with options. Asking for debug binaries on an
// existing install that lacks them adds just those binaries to it.
func (i *Installer) InstallWith(ctx context.Context, target model.ResolvedTarget, release model.ReleaseDescriptor, opts InstallOptions) (*model.InstalledVersion, error) {
	comp, err := i.catalog.Get(target.Component)
	if err != nil {
		return nil, err
	}
	binaries, err := binariesFor(comp, target, opts)
	if err != nil {
		return nil, err
	}

	existing, ok, err := i.Installed(target)
	if err != nil {
		return nil, err
	}
	if ok {
		missing := missingBinaries(existing.Binaries, binaries)
		if len(missing) == 0 {
			i.logger.Debug("already installed", "target", target.String())
			return existing, nil
		}
		return i.addBinaries(ctx, comp, existing, release, missing)
	}

	staged, err := i.stage(ctx, comp, target, release, binaries)
	if err != nil {
		return nil, err
	}
	return i.publish(target, staged)
}

// Stage fetches (or reuses), verifies and extracts the artifact for target
// into a fresh staging directory. The caller owns the returned directory.
func (i *Installer) Stage(ctx context.Context, target model.ResolvedTarget, release model.ReleaseDescriptor) (*Staged, error) {
	comp, err := i.catalog.Get(target.Component)
	if err != nil {
		return nil, err
	}
	binaries, err := binariesFor(comp, target, InstallOptions{})
	if err != nil {
		return nil, err
	}
	return i.stage(ctx, comp, target, release, binaries)
}

func (i *Installer) stage(ctx context.Context, comp model.Component, target model.ResolvedTarget, release model.ReleaseDescriptor, binaries []string) (*Staged, error) {
	finalDir, err := i.InstallDir(target)
	if err != nil {
		return nil, err
	}

	artifact, asset, err := i.verifiedArtifact(ctx, comp, target, release)
	if err != nil {
		return nil, err
	}

	staging := filepath.Join(filepath.Dir(filepath.Dir(finalDir)), stagingPrefix+uuid.NewString())
	if err := os.MkdirAll(staging, 0755); err != nil {
		return nil, model.Wrap(model.ErrIO, target, "create staging dir", err)
	}

	format := DetectFormat(asset.Name, comp.Archive)
	if err := i.extractor.Extract(artifact, format, binaries, target.Platform.OS, staging); err != nil {
		os.RemoveAll(staging)
		i.evict(target)
		return nil, model.Wrap(model.ErrExtractionFailed, target, "extract "+asset.Name, err)
	}

	iv := model.InstalledVersion{
		Component:   target.Component,
		Version:     target.Version,
		Platform:    target.Platform,
		InstalledAt: i.now().UTC(),
		Binaries:    binaries,
		Asset:       asset.Name,
	}
	if err := atomicfs.WriteJSON(filepath.Join(staging, installMetadataFile), iv, 0644); err != nil {
		os.RemoveAll(staging)
		return nil, model.Wrap(model.ErrIO, target, "write install metadata", err)
	}

	iv.Dir = staging
	return &Staged{Dir: staging, Version: iv}, nil
}

// verifiedArtifact returns the cached or freshly fetched artifact of target
// once it has passed verification.
func (i *Installer) verifiedArtifact(ctx context.Context, comp model.Component, target model.ResolvedTarget, release model.ReleaseDescriptor) (string, model.AssetRef, error) {
	asset, ok := release.Asset(target.Platform)
	if !ok {
		return "", asset, model.Errorf(model.ErrMissingAsset, target, "release %s publishes no asset for %s", release.Tag, target.Platform)
	}

	fetcher, err := i.fetchers(comp.Source)
	if err != nil {
		return "", asset, model.Wrap(model.ErrFetch, target, "select source", err)
	}

	artifact, err := i.obtain(ctx, fetcher, target, asset)
	if err != nil {
		return "", asset, err
	}

	result, err := i.verifier.Verify(ctx, comp, asset, artifact, fetcher)
	if err != nil {
		var ae *auxError
		if errors.As(err, &ae) {
			return "", asset, withTarget(ae.err, model.ErrFetch, target, "fetch verification data")
		}
		i.evict(target)
		return "", asset, model.Wrap(model.ErrVerificationFailed, target, "verify "+asset.Name, err)
	}
	i.logger.Debug("verified artifact", "target", target.String(), "method", result.Method.String())
	return artifact, asset, nil
}

// addBinaries extracts missing into a published install. Each binary is
// renamed into place before the install metadata lists it, so a reader never
// sees a listed binary that is absent.
func (i *Installer) addBinaries(ctx context.Context, comp model.Component, iv *model.InstalledVersion, release model.ReleaseDescriptor, missing []string) (*model.InstalledVersion, error) {
	target := iv.Target()
	artifact, asset, err := i.verifiedArtifact(ctx, comp, target, release)
	if err != nil {
		return nil, err
	}

	staging := filepath.Join(i.root, target.Component, stagingPrefix+uuid.NewString())
	if err := os.MkdirAll(staging, 0755); err != nil {
		return nil, model.Wrap(model.ErrIO, target, "create staging dir", err)
	}
	defer os.RemoveAll(staging)

	format := DetectFormat(asset.Name, comp.Archive)
	if err := i.extractor.Extract(artifact, format, missing, target.Platform.OS, staging); err != nil {
		return nil, model.Wrap(model.ErrExtractionFailed, target, "extract "+asset.Name, err)
	}
	for _, bin := range missing {
		if err := os.Rename(joinBinary(staging, bin, target.Platform.OS), joinBinary(iv.Dir, bin, target.Platform.OS)); err != nil {
			return nil, model.Wrap(model.ErrIO, target, "add "+bin, err)
		}
	}

	updated := *iv
	updated.Binaries = append(append([]string(nil), iv.Binaries...), missing...)
	if err := atomicfs.WriteJSON(filepath.Join(iv.Dir, installMetadataFile), updated, 0644); err != nil {
		return nil, model.Wrap(model.ErrIO, target, "write install metadata", err)
	}
	i.logger.Info("added binaries", "target", target.String(), "binaries", strings.Join(missing, ","))
	return &updated, nil
}

// binariesFor lists the binaries an install of comp extracts.
func binariesFor(comp model.Component, target model.ResolvedTarget, opts InstallOptions) ([]string, error) {
	binaries := comp.Binaries
	if len(binaries) == 0 {
		binaries = []string{comp.Name}
	}
	if !opts.Debug {
		return binaries, nil
	}
	if len(comp.DebugBinaries) == 0 {
		return nil, model.Errorf(model.ErrMalformedSpecifier, target, "%s publishes no debug binaries", comp.Name)
	}
	return append(append([]string(nil), binaries...), comp.DebugBinaries...), nil
}

func missingBinaries(have, want []string) []string {
	present := make(map[string]bool, len(have))
	for _, b := range have {
		present[b] = true
	}
	var out []string
	for _, b := range want {
		if !present[b] {
			out = append(out, b)
		}
	}
	return out
}

// obtain returns the cached artifact for target, fetching it on a miss.
func (i *Installer) obtain(ctx context.Context, fetcher source.Fetcher, target model.ResolvedTarget, asset model.AssetRef) (string, error) {
	if path, ok, err := i.cache.Lookup(target); err != nil {
		return "", err
	} else if ok {
		i.logger.Debug("cache hit", "target", target.String(), "path", path)
		return path, nil
	}

	rc, err := fetcher.FetchAsset(ctx, asset)
	if err != nil {
		return "", withTarget(err, model.ErrFetch, target, "fetch "+asset.Name)
	}
	defer rc.Close()

	path, err := i.cache.Store(target, asset.Name, rc)
	if err != nil {
		return "", withTarget(err, model.ErrIO, target, "cache "+asset.Name)
	}
	i.logger.Info("downloaded", "target", target.String(), "asset", asset.Name)
	return path, nil
}

// publish renames the staging directory to its final path. When another
// process published first, the staging directory is discarded and the
// existing install returned.
func (i *Installer) publish(target model.ResolvedTarget, staged *Staged) (*model.InstalledVersion, error) {
	finalDir, err := i.InstallDir(target)
	if err != nil {
		return nil, err
	}

	if i.beforePublish != nil {
		if err := i.beforePublish(staged.Dir); err != nil {
			return nil, model.Wrap(model.ErrIO, target, "publish", err)
		}
	}

	parent := filepath.Dir(finalDir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		os.RemoveAll(staged.Dir)
		return nil, model.Wrap(model.ErrIO, target, "publish", fmt.Errorf("create version dir: %w", err))
	}

	if err := os.Rename(staged.Dir, finalDir); err != nil {
		os.RemoveAll(staged.Dir)
		if existing, ok, lookupErr := i.Installed(target); lookupErr == nil && ok {
			i.logger.Debug("install published concurrently", "target", target.String())
			return existing, nil
		}
		return nil, model.Wrap(model.ErrIO, target, "publish", err)
	}
	if err := atomicfs.SyncDir(parent); err != nil {
		i.logger.Debug("failed to sync install dir", "dir", parent, "error", err)
	}

	iv := staged.Version
	iv.Dir = finalDir
	i.logger.Info("installed", "target", target.String())
	return &iv, nil
}

// Installed returns the published install of target.
func (i *Installer) Installed(target model.ResolvedTarget) (*model.InstalledVersion, bool, error) {
	dir, err := i.InstallDir(target)
	if err != nil {
		return nil, false, err
	}
	iv, err := readInstall(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, model.Wrap(model.ErrIO, target, "read install", err)
	}
	return iv, true, nil
}

func readInstall(dir string) (*model.InstalledVersion, error) {
	var iv model.InstalledVersion
	if err := atomicfs.ReadJSON(filepath.Join(dir, installMetadataFile), &iv); err != nil {
		return nil, err
	}
	iv.Dir = dir
	return &iv, nil
}

// ListInstalled returns every published install of component, oldest
// install first.
func (i *Installer) ListInstalled(component string) ([]model.InstalledVersion, error) {
	if err := model.ValidatePathElement(component); err != nil {
		return nil, model.Wrap(model.ErrIO, model.ResolvedTarget{Component: component}, "list installed", err)
	}
	compDir := filepath.Join(i.root, component)

	versions, err := subdirs(compDir)
	if err != nil {
		return nil, model.Wrap(model.ErrIO, model.ResolvedTarget{Component: component}, "list installed", err)
	}

	var out []model.InstalledVersion
	for _, version := range versions {
		platforms, err := subdirs(filepath.Join(compDir, version))
		if err != nil {
			return nil, model.Wrap(model.ErrIO, model.ResolvedTarget{Component: component, Version: version}, "list installed", err)
		}
		for _, plat := range platforms {
			iv, err := readInstall(filepath.Join(compDir, version, plat))
			if err != nil {
				i.logger.Warn("skipping unreadable install", "component", component, "version", version, "platform", plat, "error", err)
				continue
			}
			out = append(out, *iv)
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		if !out[a].InstalledAt.Equal(out[b].InstalledAt) {
			return out[a].InstalledAt.Before(out[b].InstalledAt)
		}
		return out[a].Version < out[b].Version
	})
	return out, nil
}

// Components returns the names of components with anything on disk.
func (i *Installer) Components() ([]string, error) {
	names, err := subdirs(i.root)
	if err != nil {
		return nil, model.Wrap(model.ErrIO, model.ResolvedTarget{}, "list components", err)
	}
	var out []string
	for _, n := range names {
		if n == "cache" || n == "keyrings" || n == "bin" {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Remove deletes a published install. The directory is first renamed to a
// staging name so a partially deleted install is never visible.
func (i *Installer) Remove(target model.ResolvedTarget) error {
	dir, err := i.InstallDir(target)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	trash := filepath.Join(i.root, target.Component, stagingPrefix+uuid.NewString())
	if err := os.Rename(dir, trash); err != nil {
		return model.Wrap(model.ErrIO, target, "remove", err)
	}
	if err := os.RemoveAll(trash); err != nil {
		return model.Wrap(model.ErrIO, target, "remove", err)
	}
	// The version directory goes once its last platform is gone.
	_ = os.Remove(filepath.Dir(dir))
	i.logger.Info("removed", "target", target.String())
	return nil
}

// RemoveStaleStaging deletes staging directories older than maxAge left by
// interrupted installs. It returns how many were removed.
func (i *Installer) RemoveStaleStaging(maxAge time.Duration) (int, error) {
	comps, err := i.Components()
	if err != nil {
		return 0, err
	}
	cutoff := i.now().Add(-maxAge)
	removed := 0
	for _, comp := range comps {
		entries, err := os.ReadDir(filepath.Join(i.root, comp))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || !strings.HasPrefix(e.Name(), stagingPrefix) {
				continue
			}
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.RemoveAll(filepath.Join(i.root, comp, e.Name())); err != nil {
				return removed, model.Wrap(model.ErrIO, model.ResolvedTarget{Component: comp}, "remove staging", err)
			}
			removed++
		}
	}
	return removed, nil
}

func (i *Installer) evict(target model.ResolvedTarget) {
	if err := i.cache.Evict(target); err != nil {
		i.logger.Warn("failed to evict cache entry", "target", target.String(), "error", err)
	}
}

// withTarget attaches target to err. An *model.Error without a target keeps
// its kind.
func withTarget(err error, kind model.Kind, target model.ResolvedTarget, op string) error {
	var me *model.Error
	if errors.As(err, &me) {
		if me.Target.Component != "" {
			return err
		}
		cp := *me
		cp.Target = target
		return &cp
	}
	return model.Wrap(kind, target, op, err)
}

// subdirs lists non-hidden subdirectories. A missing dir has none.
func subdirs(dir string) ([]string, error) {
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
