// Package service is the engine boundary: it wires the metadata store,
// resolver, fetchers, cache, installer, active-version manager and
// self-updater together behind the operations the command layer calls.
package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ZebulonRouseFrantzich/toolup/internal/active"
	"github.com/ZebulonRouseFrantzich/toolup/internal/binary"
	"github.com/ZebulonRouseFrantzich/toolup/internal/cache"
	"github.com/ZebulonRouseFrantzich/toolup/internal/config"
	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
	"github.com/ZebulonRouseFrantzich/toolup/internal/registry"
	"github.com/ZebulonRouseFrantzich/toolup/internal/resolve"
	"github.com/ZebulonRouseFrantzich/toolup/internal/selfupdate"
	"github.com/ZebulonRouseFrantzich/toolup/internal/source"
)

const (
	// DefaultConcurrency bounds parallel installs in InstallAll.
	DefaultConcurrency = 4

	cacheDirName = "cache"
)

// Options configures an Engine.
type Options struct {
	Settings *config.Settings
	Catalog  *registry.Store
	// Client backs the default fetchers. Ignored when Fetchers is set.
	Client *source.Client
	// Fetchers overrides fetcher selection.
	Fetchers binary.FetcherFor
	// Platform is the host platform; installs default to it.
	Platform model.Platform
	// Version is the running toolup version.
	Version string
	// Executable is the path replaced by self-update. Empty means the
	// running executable.
	Executable string
	// SelfUpdateStrategy overrides the platform default.
	SelfUpdateStrategy selfupdate.Strategy
	Concurrency        int
	Clock              Clock
	Logger             config.Logger
}

// Engine exposes install, switch and maintenance operations.
type Engine struct {
	catalog     *registry.Store
	fetchers    binary.FetcherFor
	resolver    *resolve.Resolver
	cache       *cache.Cache
	installer   *binary.Installer
	active      *active.Manager
	updater     *selfupdate.Updater
	platform    model.Platform
	concurrency int
	logger      config.Logger
}

// InstallRequest asks for one component to be installed.
type InstallRequest struct {
	Component string
	// Specifier is "name", "name=V", "name==V" or "name@TAG". Empty means
	// the latest release of Component.
	Specifier string
	// Platform defaults to the host platform.
	Platform model.Platform
	// Switch makes the installed version active; it is rejected for other
	// platforms. A host-platform install is also activated when the
	// component has no active version.
	Switch bool
	// Debug also installs the component's debug binaries.
	Debug bool
}

// NewEngine wires the engine components rooted at opts.Settings.RootDir.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Settings == nil {
		return nil, fmt.Errorf("settings are required")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("component catalog is required")
	}
	if opts.Platform.IsZero() {
		return nil, fmt.Errorf("host platform is required")
	}
	logger := config.OrNop(opts.Logger)
	now := nowFunc(opts.Clock)
	root := opts.Settings.RootDir

	fetchers := opts.Fetchers
	if fetchers == nil {
		if opts.Client == nil {
			return nil, fmt.Errorf("source client or fetchers are required")
		}
		fetchers = memoizedFetchers(opts.Client)
	}

	artifacts := cache.New(filepath.Join(root, cacheDirName), cache.WithClock(now), cache.WithLogger(logger))
	installer, err := binary.NewInstaller(binary.Config{
		Root:     root,
		Cache:    artifacts,
		Catalog:  opts.Catalog,
		Fetchers: fetchers,
		Logger:   logger,
		Clock:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("create installer: %w", err)
	}
	manager, err := active.New(active.Config{
		Root:     root,
		BinDir:   opts.Settings.BinDir,
		LinkMode: opts.Settings.LinkMode,
		Installs: installer,
		Logger:   logger,
		Clock:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("create active manager: %w", err)
	}

	e := &Engine{
		catalog:     opts.Catalog,
		fetchers:    fetchers,
		resolver:    resolve.New(opts.Catalog),
		cache:       artifacts,
		installer:   installer,
		active:      manager,
		platform:    opts.Platform,
		concurrency: opts.Concurrency,
		logger:      logger,
	}
	if e.concurrency <= 0 {
		e.concurrency = DefaultConcurrency
	}

	if self, err := opts.Catalog.Self(); err == nil {
		fetcher, err := fetchers(self.Source)
		if err != nil {
			return nil, fmt.Errorf("self-update source: %w", err)
		}
		e.updater, err = selfupdate.New(selfupdate.Config{
			Component:      self,
			Fetcher:        fetcher,
			Resolver:       e.resolver,
			Stager:         installer,
			CurrentVersion: opts.Version,
			Executable:     opts.Executable,
			Platform:       opts.Platform,
			Strategy:       opts.SelfUpdateStrategy,
			LockDir:        root,
			Logger:         logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create self-updater: %w", err)
		}
	}

	exe := opts.Executable
	if exe == "" {
		exe, _ = selfupdate.ExecutablePath()
	}
	if exe != "" {
		if err := selfupdate.CleanupLeftovers(exe); err != nil {
			logger.Warn("could not remove self-update leftovers", "executable", exe, "error", err)
		}
	}
	return e, nil
}

// memoizedFetchers builds each fetcher variant once.
func memoizedFetchers(client *source.Client) binary.FetcherFor {
	var mu sync.Mutex
	built := map[model.SourceKind]source.Fetcher{}
	return func(kind model.SourceKind) (source.Fetcher, error) {
		mu.Lock()
		defer mu.Unlock()
		if f, ok := built[kind]; ok {
			return f, nil
		}
		f, err := source.New(kind, client)
		if err != nil {
			return nil, err
		}
		built[kind] = f
		return f, nil
	}
}

// Platform returns the host platform.
func (e *Engine) Platform() model.Platform {
	return e.platform
}

// BinDir returns the directory active binaries are exposed in.
func (e *Engine) BinDir() string {
	return e.active.BinDir()
}

// Components returns every known component definition.
func (e *Engine) Components() []model.Component {
	return e.catalog.All()
}

// Available lists the releases of component as its source reports them.
func (e *Engine) Available(ctx context.Context, component string) ([]model.ReleaseDescriptor, error) {
	comp, err := e.catalog.Get(component)
	if err != nil {
		return nil, err
	}
	fetcher, err := e.fetchers(comp.Source)
	if err != nil {
		return nil, model.Wrap(model.ErrFetch, model.ResolvedTarget{Component: component}, "select source", err)
	}
	return fetcher.ListReleases(ctx, comp)
}

// Resolve turns a request into a concrete target without installing it.
func (e *Engine) Resolve(ctx context.Context, req InstallRequest) (model.ResolvedTarget, model.ReleaseDescriptor, error) {
	spec, err := requestSpecifier(req)
	if err != nil {
		return model.ResolvedTarget{}, model.ReleaseDescriptor{}, err
	}
	releases, err := e.Available(ctx, spec.Component)
	if err != nil {
		return model.ResolvedTarget{}, model.ReleaseDescriptor{}, err
	}
	p := req.Platform
	if p.IsZero() {
		p = e.platform
	}
	return e.resolver.Resolve(spec, releases, p)
}

// Install resolves, installs and optionally activates one component.
func (e *Engine) Install(ctx context.Context, req InstallRequest) (*model.InstalledVersion, error) {
	target, release, err := e.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("resolved", "request", req.Specifier, "target", target.String())
	if req.Switch && target.Platform != e.platform {
		return nil, model.Errorf(model.ErrSwitch, target, "%s binaries cannot be activated on %s", target.Platform, e.platform)
	}

	iv, err := e.installer.InstallWith(ctx, target, release, binary.InstallOptions{Debug: req.Debug})
	if err != nil {
		return nil, err
	}
	if target.Platform != e.platform {
		return iv, nil
	}

	cur, err := e.active.Current(target.Component)
	if err != nil {
		return iv, err
	}
	// Switching to the active version again exposes newly added binaries.
	switchNow := req.Switch || cur == nil ||
		(req.Debug && cur.Version == target.Version && cur.Platform == target.Platform)
	if switchNow {
		if _, err := e.active.Switch(target.Component, target.Version, target.Platform); err != nil {
			return iv, err
		}
	}
	return iv, nil
}

// InstallAll installs several components concurrently. Results are in
// request order; the first failure cancels the remaining installs.
func (e *Engine) InstallAll(ctx context.Context, reqs []InstallRequest) ([]*model.InstalledVersion, error) {
	results := make([]*model.InstalledVersion, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			iv, err := e.Install(gctx, req)
			if err != nil {
				return err
			}
			results[i] = iv
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

// Switch activates an installed version of component on the host platform.
// A version given without its leading "v" also matches.
func (e *Engine) Switch(component, version string) (*model.ActivePointer, error) {
	if _, err := e.catalog.Get(component); err != nil {
		return nil, err
	}
	if err := model.ValidatePathElement(version); err != nil {
		return nil, model.Wrap(model.ErrMalformedSpecifier, model.ResolvedTarget{Component: component, Version: version}, "switch", err)
	}
	target := model.ResolvedTarget{Component: component, Version: version, Platform: e.platform}
	if _, ok, err := e.installer.Installed(target); err == nil && !ok && !strings.HasPrefix(version, "v") {
		alt := target
		alt.Version = "v" + version
		if _, ok, _ := e.installer.Installed(alt); ok {
			target = alt
		}
	}
	return e.active.Switch(target.Component, target.Version, target.Platform)
}

// Current returns the active version of component, or nil.
func (e *Engine) Current(component string) (*model.ActivePointer, error) {
	if _, err := e.catalog.Get(component); err != nil {
		return nil, err
	}
	return e.active.Current(component)
}

// ListInstalled returns installed versions of component, or of every
// component when component is empty.
func (e *Engine) ListInstalled(component string) ([]model.InstalledVersion, error) {
	if component != "" {
		if _, err := e.catalog.Get(component); err != nil {
			return nil, err
		}
		return e.installer.ListInstalled(component)
	}

	comps, err := e.installer.Components()
	if err != nil {
		return nil, err
	}
	sort.Strings(comps)
	var out []model.InstalledVersion
	for _, c := range comps {
		list, err := e.installer.ListInstalled(c)
		if err != nil {
			return nil, err
		}
		out = append(out, list...)
	}
	return out, nil
}

// Cleanup removes inactive installs selected by policy; nil means the
// default policy.
func (e *Engine) Cleanup(policy active.Policy) (int, error) {
	return e.active.Cleanup(policy)
}

// PruneCache removes cached artifacts selected by policy.
func (e *Engine) PruneCache(policy cache.Policy) (int, error) {
	return e.cache.Prune(policy)
}

// SelfUpdate replaces the running executable with the release specifier
// resolves to (latest when empty).
func (e *Engine) SelfUpdate(ctx context.Context, specifier string) (*selfupdate.Result, error) {
	if e.updater == nil {
		return nil, &model.Error{Kind: model.ErrNoSuchComponent, Op: "self update", Err: fmt.Errorf("no self component is defined")}
	}
	return e.updater.Update(ctx, specifier)
}

// CheckForUpdate returns a newer toolup version, or "" when up to date.
func (e *Engine) CheckForUpdate(ctx context.Context) (string, error) {
	if e.updater == nil {
		return "", nil
	}
	return e.updater.Check(ctx)
}

// Remove deletes one installed version of component on the host platform.
// The active version is refused.
func (e *Engine) Remove(component, version string) error {
	if _, err := e.catalog.Get(component); err != nil {
		return err
	}
	target := model.ResolvedTarget{Component: component, Version: version, Platform: e.platform}
	if err := model.ValidatePathElement(version); err != nil {
		return model.Wrap(model.ErrMalformedSpecifier, target, "remove", err)
	}
	isActive, err := e.active.IsActive(target)
	if err != nil {
		return err
	}
	if isActive {
		return model.Errorf(model.ErrSwitch, target, "%s@%s is the active version; switch to another version or uninstall the component", component, version)
	}
	if _, ok, err := e.installer.Installed(target); err != nil {
		return err
	} else if !ok {
		return model.Errorf(model.ErrNoMatchingVersion, target, "%s@%s is not installed", component, version)
	}
	return e.installer.Remove(target)
}

// Uninstall deactivates component and removes every installed version and
// cached artifact of it. It returns the number of versions removed.
func (e *Engine) Uninstall(component string) (int, error) {
	if _, err := e.catalog.Get(component); err != nil {
		return 0, err
	}
	if err := e.active.Deactivate(component); err != nil {
		return 0, err
	}
	installed, err := e.installer.ListInstalled(component)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, iv := range installed {
		if err := e.installer.Remove(iv.Target()); err != nil {
			return removed, err
		}
		removed++
	}

	entries, err := e.cache.Entries()
	if err != nil {
		return removed, err
	}
	for _, entry := range entries {
		if entry.Component != component {
			continue
		}
		if err := e.cache.Evict(entry.Key()); err != nil {
			return removed, err
		}
	}
	e.logger.Info("uninstalled", "component", component, "versions", removed)
	return removed, nil
}

// requestSpecifier parses the specifier of req, defaulting to the bare
// component name.
func requestSpecifier(req InstallRequest) (resolve.Specifier, error) {
	raw := req.Specifier
	if raw == "" {
		raw = req.Component
	}
	spec, err := resolve.ParseSpecifier(raw)
	if err != nil {
		return resolve.Specifier{}, err
	}
	if req.Component != "" && spec.Component != req.Component {
		return resolve.Specifier{}, model.Errorf(model.ErrMalformedSpecifier, model.ResolvedTarget{Component: req.Component},
			"specifier %q names %s", raw, spec.Component)
	}
	return spec, nil
}
