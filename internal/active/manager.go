// Package active owns the default version of every component: the
// active.json pointer and the binaries exposed on the lookup path.
//
// A switch exposes every binary of the new version first, each with a single
// rename, and only then replaces the pointer. A concurrent invocation of an
// exposed binary therefore resolves either the old or the new version. The
// switch is journaled so a run killed halfway is brought back in line with
// the pointer on the next switch or Recover.
package active

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ZebulonRouseFrantzich/toolup/internal/atomicfs"
	"github.com/ZebulonRouseFrantzich/toolup/internal/config"
	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
	"github.com/ZebulonRouseFrantzich/toolup/internal/transaction"
)

// PointerFile is the name of the active indirection inside a component dir.
const PointerFile = "active.json"

// Installs is the view of the installer the manager needs.
type Installs interface {
	Installed(target model.ResolvedTarget) (*model.InstalledVersion, bool, error)
	ListInstalled(component string) ([]model.InstalledVersion, error)
	Components() ([]string, error)
	Remove(target model.ResolvedTarget) error
	RemoveStaleStaging(maxAge time.Duration) (int, error)
}

// Manager switches and reports active versions.
type Manager struct {
	root     string
	binDir   string
	linkMode string
	installs Installs
	logger   config.Logger
	now      func() time.Time
}

// Config configures a Manager.
type Config struct {
	Root     string
	BinDir   string
	LinkMode string
	Installs Installs
	Logger   config.Logger
	Clock    func() time.Time
}

// New creates a manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Root == "" || cfg.BinDir == "" {
		return nil, fmt.Errorf("root and bin directories are required")
	}
	if cfg.Installs == nil {
		return nil, fmt.Errorf("installs are required")
	}
	mode := cfg.LinkMode
	if mode == "" {
		mode = config.LinkModeSymlink
	}
	if mode != config.LinkModeSymlink && mode != config.LinkModeCopy {
		return nil, fmt.Errorf("unknown link mode %q", mode)
	}
	m := &Manager{
		root:     cfg.Root,
		binDir:   cfg.BinDir,
		linkMode: mode,
		installs: cfg.Installs,
		logger:   config.OrNop(cfg.Logger),
		now:      cfg.Clock,
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// BinDir returns the directory holding exposed binaries.
func (m *Manager) BinDir() string {
	return m.binDir
}

func (m *Manager) pointerPath(component string) string {
	return filepath.Join(m.root, component, PointerFile)
}

// Current returns the active pointer of component, or nil when no version is
// active.
func (m *Manager) Current(component string) (*model.ActivePointer, error) {
	if err := model.ValidatePathElement(component); err != nil {
		return nil, model.Wrap(model.ErrSwitch, model.ResolvedTarget{Component: component}, "current", err)
	}
	var ptr model.ActivePointer
	if err := atomicfs.ReadJSON(m.pointerPath(component), &ptr); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, model.Wrap(model.ErrIO, model.ResolvedTarget{Component: component}, "read active pointer", err)
	}
	return &ptr, nil
}

// Switch makes an installed version the active one. It never installs: a
// target that is not installed fails with SwitchError and leaves the current
// pointer untouched.
func (m *Manager) Switch(component, version string, p model.Platform) (*model.ActivePointer, error) {
	target := model.ResolvedTarget{Component: component, Version: version, Platform: p}

	iv, ok, err := m.installs.Installed(target)
	if err != nil {
		return nil, withKind(err, target)
	}
	if !ok {
		return nil, model.Errorf(model.ErrSwitch, target, "%s is not installed", target)
	}
	for _, bin := range iv.Binaries {
		if _, err := os.Stat(m.installedBinary(iv, bin)); err != nil {
			return nil, model.Wrap(model.ErrSwitch, target, "switch", fmt.Errorf("binary %s missing from install: %w", bin, err))
		}
	}

	if err := m.Recover(component); err != nil {
		return nil, withKind(err, target)
	}
	prev, err := m.Current(component)
	if err != nil {
		return nil, withKind(err, target)
	}

	ptr := model.ActivePointer{Component: component, Version: version, Platform: p, SwitchedAt: m.now().UTC()}
	txn := transaction.New(prev, ptr, iv.Binaries)
	if err := txn.Save(m.root); err != nil {
		return nil, model.Wrap(model.ErrSwitch, target, "switch", err)
	}

	if err := m.expose(iv); err != nil {
		m.rollback(txn, prev, iv, err)
		return nil, model.Wrap(model.ErrSwitch, target, "expose binaries", err)
	}
	txn.SetState(transaction.StateExposed, nil)
	if err := txn.Save(m.root); err != nil {
		m.logger.Debug("failed to update switch journal", "component", component, "error", err)
	}

	if err := atomicfs.WriteJSON(m.pointerPath(component), ptr, 0644); err != nil {
		m.rollback(txn, prev, iv, err)
		return nil, model.Wrap(model.ErrSwitch, target, "write active pointer", err)
	}

	if prev != nil {
		m.touch(prev.Component, prev.Version, prev.Platform)
		if old, ok, _ := m.installs.Installed(pointerTarget(*prev)); ok {
			m.unexposeExcept(old, iv.Binaries)
		}
	}
	m.touch(component, version, p)

	if err := transaction.Clear(m.root, component); err != nil {
		m.logger.Warn("failed to clear switch journal", "component", component, "error", err)
	}
	m.logger.Info("switched", "target", target.String())
	return &ptr, nil
}

// rollback restores the exposure of prev after a failed switch. The pointer
// has not been written yet, so it still names prev.
func (m *Manager) rollback(txn *transaction.SwitchTxn, prev *model.ActivePointer, failed *model.InstalledVersion, cause error) {
	m.logger.Warn("switch failed, restoring previous exposure", "component", failed.Component, "error", cause)
	if err := m.restore(prev, failed); err != nil {
		txn.SetState(transaction.StatePending, err)
		if saveErr := txn.Save(m.root); saveErr != nil {
			m.logger.Error("failed to record switch rollback", "component", failed.Component, "error", saveErr)
		}
		return
	}
	txn.SetState(transaction.StateRolledBack, cause)
	if err := transaction.Clear(m.root, failed.Component); err != nil {
		m.logger.Warn("failed to clear switch journal", "component", failed.Component, "error", err)
	}
}

// restore re-exposes prev, or removes the exposure of failed when no version
// was active.
func (m *Manager) restore(prev *model.ActivePointer, failed *model.InstalledVersion) error {
	if prev == nil {
		m.unexposeExcept(failed, nil)
		return nil
	}
	old, ok, err := m.installs.Installed(pointerTarget(*prev))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("active version %s@%s is no longer installed", prev.Component, prev.Version)
	}
	if err := m.expose(old); err != nil {
		return err
	}
	m.unexposeExcept(failed, old.Binaries)
	return nil
}

// Recover finishes or undoes a switch of component that was interrupted.
// Exposure is brought in line with whatever the pointer names.
func (m *Manager) Recover(component string) error {
	txn, err := transaction.Load(m.root, component)
	if err != nil {
		return model.Wrap(model.ErrIO, model.ResolvedTarget{Component: component}, "recover switch", err)
	}
	if txn == nil {
		return nil
	}

	if !txn.Finished() {
		cur, err := m.Current(component)
		if err != nil {
			return err
		}
		to, ok, err := m.installs.Installed(pointerTarget(txn.To))
		if err != nil {
			return err
		}
		if !ok {
			to = &model.InstalledVersion{Component: component, Version: txn.To.Version, Platform: txn.To.Platform, Binaries: txn.Binaries}
		}
		if err := m.restore(cur, to); err != nil {
			return model.Wrap(model.ErrSwitch, pointerTarget(txn.To), "recover switch", err)
		}
		m.logger.Warn("recovered interrupted switch", "component", component, "to", txn.To.Version)
	}

	if err := transaction.Clear(m.root, component); err != nil {
		return model.Wrap(model.ErrIO, model.ResolvedTarget{Component: component}, "recover switch", err)
	}
	return nil
}

// Deactivate removes the exposure and pointer of component. It is a no-op
// when nothing is active.
func (m *Manager) Deactivate(component string) error {
	cur, err := m.Current(component)
	if err != nil {
		return err
	}
	if cur == nil {
		return nil
	}
	target := pointerTarget(*cur)
	if iv, ok, err := m.installs.Installed(target); err == nil && ok {
		m.unexposeExcept(iv, nil)
	}
	if err := os.Remove(m.pointerPath(component)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return model.Wrap(model.ErrIO, target, "deactivate", err)
	}
	if err := transaction.Clear(m.root, component); err != nil {
		return model.Wrap(model.ErrIO, target, "deactivate", err)
	}
	m.logger.Info("deactivated", "component", component)
	return nil
}

// IsActive reports whether target is the active version of its component.
func (m *Manager) IsActive(target model.ResolvedTarget) (bool, error) {
	cur, err := m.Current(target.Component)
	if err != nil || cur == nil {
		return false, err
	}
	return pointerTarget(*cur) == target, nil
}

// touch marks an install as used now. Cleanup ranks installs by this time.
func (m *Manager) touch(component, version string, p model.Platform) {
	dir := filepath.Join(m.root, component, version, p.String())
	now := m.now()
	if err := os.Chtimes(dir, now, now); err != nil {
		m.logger.Debug("failed to mark install used", "dir", dir, "error", err)
	}
}

func pointerTarget(p model.ActivePointer) model.ResolvedTarget {
	return model.ResolvedTarget{Component: p.Component, Version: p.Version, Platform: p.Platform}
}

// withKind turns a plain error into a SwitchError for target.
func withKind(err error, target model.ResolvedTarget) error {
	var me *model.Error
	if errors.As(err, &me) {
		return err
	}
	return model.Wrap(model.ErrSwitch, target, "switch", err)
}
