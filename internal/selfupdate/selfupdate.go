// Package selfupdate replaces the running toolup executable with a newer
// release. The new binary is fetched, verified and extracted by the
// installer like any other component; only the final replacement differs
// per platform (see Strategy).
package selfupdate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/ZebulonRouseFrantzich/toolup/internal/binary"
	"github.com/ZebulonRouseFrantzich/toolup/internal/config"
	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
	"github.com/ZebulonRouseFrantzich/toolup/internal/resolve"
	"github.com/ZebulonRouseFrantzich/toolup/internal/source"
	"github.com/ZebulonRouseFrantzich/toolup/internal/transaction"
)

// Stager extracts a verified release into a private directory.
// *binary.Installer implements it.
type Stager interface {
	Stage(ctx context.Context, target model.ResolvedTarget, release model.ReleaseDescriptor) (*binary.Staged, error)
}

// Config configures an Updater.
type Config struct {
	// Component is the self component definition.
	Component model.Component
	Fetcher   source.Fetcher
	Resolver  *resolve.Resolver
	Stager    Stager
	// CurrentVersion is the version of the running binary.
	CurrentVersion string
	// Executable is the file to replace. Empty means the running executable.
	Executable string
	Platform   model.Platform
	// Strategy defaults to the platform's DefaultStrategy.
	Strategy Strategy
	// LockDir serializes concurrent self-updates when set.
	LockDir string
	Logger  config.Logger
}

// Updater performs self-updates.
type Updater struct {
	cfg    Config
	logger config.Logger
}

// Result describes a completed update attempt.
type Result struct {
	// UpToDate is set when no replacement happened.
	UpToDate bool
	Previous string
	Target   model.ResolvedTarget
	// Installed describes the new binary; Dir is the executable's directory.
	Installed *model.InstalledVersion
	Strategy  string
}

// New creates an updater.
func New(cfg Config) (*Updater, error) {
	if cfg.Component.Name == "" {
		return nil, fmt.Errorf("self component is required")
	}
	if cfg.Fetcher == nil || cfg.Resolver == nil || cfg.Stager == nil {
		return nil, fmt.Errorf("fetcher, resolver and stager are required")
	}
	if cfg.Strategy == nil {
		cfg.Strategy = DefaultStrategy()
	}
	return &Updater{cfg: cfg, logger: config.OrNop(cfg.Logger)}, nil
}

// Update resolves specifier (empty means latest) against the self
// component's releases and, when the result is newer than the running
// version, replaces the executable. An exact specifier ("toolup==v0.4.0")
// may also select an older version.
func (u *Updater) Update(ctx context.Context, specifier string) (*Result, error) {
	comp := u.cfg.Component

	spec, err := u.parse(specifier)
	if err != nil {
		return nil, err
	}

	if u.cfg.LockDir != "" {
		lock, err := transaction.AcquireLock(ctx, u.cfg.LockDir, "self-update")
		if err != nil {
			return nil, model.Wrap(model.ErrIO, model.ResolvedTarget{Component: comp.Name}, "self update", err)
		}
		defer lock.Release()
	}

	releases, err := u.cfg.Fetcher.ListReleases(ctx, comp)
	if err != nil {
		return nil, err
	}
	target, release, err := u.cfg.Resolver.Resolve(spec, releases, u.cfg.Platform)
	if err != nil {
		return nil, err
	}

	result := &Result{Previous: u.cfg.CurrentVersion, Target: target, Strategy: u.cfg.Strategy.Name()}
	if !wanted(spec, target.Version, u.cfg.CurrentVersion) {
		u.logger.Info("already up to date", "version", u.cfg.CurrentVersion, "latest", target.Version)
		result.UpToDate = true
		return result, nil
	}

	exe := u.cfg.Executable
	if exe == "" {
		if exe, err = ExecutablePath(); err != nil {
			return nil, model.Wrap(model.ErrSelfUpdateReplacementFailed, target, "locate executable", err)
		}
	}

	staged, err := u.cfg.Stager.Stage(ctx, target, release)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staged.Dir)

	binaries := staged.Version.Binaries
	if len(binaries) == 0 {
		binaries = []string{comp.Name}
	}
	newBinary := staged.BinaryPath(binaries[0])

	u.logger.Info("replacing executable", "path", exe, "from", u.cfg.CurrentVersion, "to", target.Version, "strategy", u.cfg.Strategy.Name())
	if err := u.cfg.Strategy.Replace(newBinary, exe); err != nil {
		return nil, model.Wrap(model.ErrSelfUpdateReplacementFailed, target, "replace "+exe, err)
	}

	iv := staged.Version
	iv.Dir = filepath.Dir(exe)
	result.Installed = &iv
	return result, nil
}

// Check reports the newest available version when it is newer than the
// running one, or "" when up to date.
func (u *Updater) Check(ctx context.Context) (string, error) {
	releases, err := u.cfg.Fetcher.ListReleases(ctx, u.cfg.Component)
	if err != nil {
		return "", err
	}
	target, _, err := u.cfg.Resolver.Resolve(resolve.Specifier{Component: u.cfg.Component.Name}, releases, u.cfg.Platform)
	if err != nil {
		return "", err
	}
	if !IsNewer(target.Version, u.cfg.CurrentVersion) {
		return "", nil
	}
	return target.Version, nil
}

func (u *Updater) parse(specifier string) (resolve.Specifier, error) {
	name := u.cfg.Component.Name
	if specifier == "" {
		return resolve.Specifier{Component: name, Raw: name}, nil
	}
	spec, err := resolve.ParseSpecifier(specifier)
	if err != nil {
		return resolve.Specifier{}, err
	}
	if spec.Component != name {
		return resolve.Specifier{}, model.Errorf(model.ErrMalformedSpecifier, model.ResolvedTarget{Component: spec.Component},
			"self update only accepts %s specifiers", name)
	}
	return spec, nil
}

// wanted reports whether resolving spec to candidate calls for a replacement
// of the running version.
func wanted(spec resolve.Specifier, candidate, current string) bool {
	if spec.Form == resolve.FormExact {
		return strings.TrimPrefix(candidate, "v") != strings.TrimPrefix(current, "v")
	}
	return IsNewer(candidate, current)
}

// IsNewer reports whether candidate is a later version than current. When
// either is not a semantic version, any different version counts as newer.
func IsNewer(candidate, current string) bool {
	c, errC := semver.NewVersion(strings.TrimPrefix(candidate, "v"))
	r, errR := semver.NewVersion(strings.TrimPrefix(current, "v"))
	if errC != nil || errR != nil {
		return strings.TrimPrefix(candidate, "v") != strings.TrimPrefix(current, "v")
	}
	return c.GreaterThan(r)
}

// ExecutablePath returns the resolved path of the running executable.
func ExecutablePath() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("determine current executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exePath); err == nil {
		exePath = resolved
	}
	return exePath, nil
}
