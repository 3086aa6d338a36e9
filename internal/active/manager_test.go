package active

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/toolup/internal/config"
	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
	"github.com/ZebulonRouseFrantzich/toolup/internal/transaction"
)

var linuxAMD64 = model.Platform{OS: "linux", Arch: "amd64"}

// fakeInstalls keeps install records in memory and their binaries on disk.
type fakeInstalls struct {
	root     string
	mu       sync.Mutex
	installs map[model.ResolvedTarget]model.InstalledVersion
}

func newFakeInstalls(root string) *fakeInstalls {
	return &fakeInstalls{root: root, installs: map[model.ResolvedTarget]model.InstalledVersion{}}
}

func (f *fakeInstalls) add(t *testing.T, comp, version string, installedAt time.Time, bins ...string) model.InstalledVersion {
	t.Helper()
	dir := filepath.Join(f.root, comp, version, linuxAMD64.String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, b := range bins {
		if err := os.WriteFile(filepath.Join(dir, b), []byte(comp+" "+version+" "+b), 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Chtimes(dir, installedAt, installedAt); err != nil {
		t.Fatal(err)
	}
	iv := model.InstalledVersion{Component: comp, Version: version, Platform: linuxAMD64, Dir: dir, InstalledAt: installedAt, Binaries: bins}
	f.mu.Lock()
	f.installs[iv.Target()] = iv
	f.mu.Unlock()
	return iv
}

func (f *fakeInstalls) Installed(target model.ResolvedTarget) (*model.InstalledVersion, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	iv, ok := f.installs[target]
	if !ok {
		return nil, false, nil
	}
	return &iv, true, nil
}

func (f *fakeInstalls) ListInstalled(component string) ([]model.InstalledVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.InstalledVersion
	for _, iv := range f.installs {
		if iv.Component == component {
			out = append(out, iv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstalledAt.Before(out[j].InstalledAt) })
	return out, nil
}

func (f *fakeInstalls) Components() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for t := range f.installs {
		if !seen[t.Component] {
			seen[t.Component] = true
			out = append(out, t.Component)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeInstalls) Remove(target model.ResolvedTarget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	iv, ok := f.installs[target]
	if !ok {
		return nil
	}
	delete(f.installs, target)
	return os.RemoveAll(iv.Dir)
}

func (f *fakeInstalls) RemoveStaleStaging(time.Duration) (int, error) {
	return 0, nil
}

func (f *fakeInstalls) versions(component string) []string {
	list, _ := f.ListInstalled(component)
	var out []string
	for _, iv := range list {
		out = append(out, iv.Version)
	}
	return out
}

func newManager(t *testing.T, mode string) (*Manager, *fakeInstalls) {
	t.Helper()
	if mode == config.LinkModeSymlink && runtime.GOOS == "windows" {
		t.Skip("symlinks need elevated privileges on Windows")
	}
	root := t.TempDir()
	installs := newFakeInstalls(root)
	m, err := New(Config{
		Root:     root,
		BinDir:   filepath.Join(t.TempDir(), "bin"),
		LinkMode: mode,
		Installs: installs,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m, installs
}

func readExposed(t *testing.T, m *Manager, bin string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(m.BinDir(), bin))
	if err != nil {
		t.Fatalf("read exposed %s: %v", bin, err)
	}
	return string(data)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty config")
	}
	if _, err := New(Config{Root: "r", BinDir: "b", Installs: newFakeInstalls("r"), LinkMode: "hardlink"}); err == nil {
		t.Error("expected error for unknown link mode")
	}
}

func TestSwitch_NotInstalled(t *testing.T) {
	m, installs := newManager(t, config.LinkModeSymlink)
	installs.add(t, "sui", "v1", time.Now(), "sui")
	if _, err := m.Switch("sui", "v1", linuxAMD64); err != nil {
		t.Fatal(err)
	}

	_, err := m.Switch("sui", "v2", linuxAMD64)
	if !errors.Is(err, model.ErrSwitch) {
		t.Fatalf("Switch() error = %v, want ErrSwitch", err)
	}
	cur, _ := m.Current("sui")
	if cur == nil || cur.Version != "v1" {
		t.Errorf("Current() = %+v, want v1 untouched", cur)
	}
	if got := readExposed(t, m, "sui"); got != "sui v1 sui" {
		t.Errorf("exposed sui = %q", got)
	}
}

func TestSwitch(t *testing.T) {
	for _, mode := range []string{config.LinkModeSymlink, config.LinkModeCopy} {
		t.Run(mode, func(t *testing.T) {
			m, installs := newManager(t, mode)
			installs.add(t, "sui", "v1", time.Now(), "sui", "sui-legacy")
			installs.add(t, "sui", "v2", time.Now(), "sui", "sui-node")

			if cur, err := m.Current("sui"); err != nil || cur != nil {
				t.Fatalf("Current() before switch = %+v, %v", cur, err)
			}

			ptr, err := m.Switch("sui", "v1", linuxAMD64)
			if err != nil {
				t.Fatalf("Switch(v1) error = %v", err)
			}
			if ptr.Version != "v1" || ptr.SwitchedAt.IsZero() {
				t.Errorf("pointer = %+v", ptr)
			}
			if got := readExposed(t, m, "sui-legacy"); got != "sui v1 sui-legacy" {
				t.Errorf("exposed sui-legacy = %q", got)
			}

			if _, err := m.Switch("sui", "v2", linuxAMD64); err != nil {
				t.Fatalf("Switch(v2) error = %v", err)
			}
			if got := readExposed(t, m, "sui"); got != "sui v2 sui" {
				t.Errorf("exposed sui = %q", got)
			}
			if got := readExposed(t, m, "sui-node"); got != "sui v2 sui-node" {
				t.Errorf("exposed sui-node = %q", got)
			}
			if mode == config.LinkModeSymlink {
				if _, err := os.Lstat(filepath.Join(m.BinDir(), "sui-legacy")); !os.IsNotExist(err) {
					t.Error("binary dropped by v2 is still exposed")
				}
			}

			cur, err := m.Current("sui")
			if err != nil || cur == nil || cur.Version != "v2" || cur.Platform != linuxAMD64 {
				t.Errorf("Current() = %+v, %v", cur, err)
			}
			if _, err := os.Stat(transaction.Path(installs.root, "sui")); !os.IsNotExist(err) {
				t.Error("switch journal left behind")
			}
		})
	}
}

func TestSwitch_MissingBinaryFailsClosed(t *testing.T) {
	m, installs := newManager(t, config.LinkModeSymlink)
	installs.add(t, "sui", "v1", time.Now(), "sui")
	v2 := installs.add(t, "sui", "v2", time.Now(), "sui")
	if _, err := m.Switch("sui", "v1", linuxAMD64); err != nil {
		t.Fatal(err)
	}
	os.Remove(filepath.Join(v2.Dir, "sui"))

	if _, err := m.Switch("sui", "v2", linuxAMD64); !errors.Is(err, model.ErrSwitch) {
		t.Fatalf("Switch() error = %v, want ErrSwitch", err)
	}
	if got := readExposed(t, m, "sui"); got != "sui v1 sui" {
		t.Errorf("exposed sui = %q, want v1", got)
	}
}

func TestSwitch_ExposureFailureRollsBack(t *testing.T) {
	m, installs := newManager(t, config.LinkModeSymlink)
	installs.add(t, "sui", "v1", time.Now(), "sui")
	installs.add(t, "sui", "v2", time.Now(), "sui", "sui-node")
	if _, err := m.Switch("sui", "v1", linuxAMD64); err != nil {
		t.Fatal(err)
	}

	// A non-empty directory cannot be replaced by a rename.
	blocker := filepath.Join(m.BinDir(), "sui-node")
	os.MkdirAll(filepath.Join(blocker, "keep"), 0755)

	_, err := m.Switch("sui", "v2", linuxAMD64)
	if !errors.Is(err, model.ErrSwitch) {
		t.Fatalf("Switch() error = %v, want ErrSwitch", err)
	}

	cur, _ := m.Current("sui")
	if cur == nil || cur.Version != "v1" {
		t.Errorf("Current() = %+v, want v1", cur)
	}
	if got := readExposed(t, m, "sui"); got != "sui v1 sui" {
		t.Errorf("exposed sui = %q, want v1 restored", got)
	}
	if _, err := os.Stat(filepath.Join(blocker, "keep")); err != nil {
		t.Error("foreign directory was touched")
	}
	if txn, _ := transaction.Load(installs.root, "sui"); txn != nil {
		t.Errorf("journal left after rollback: %+v", txn)
	}
}

func TestRecover_InterruptedSwitch(t *testing.T) {
	m, installs := newManager(t, config.LinkModeSymlink)
	installs.add(t, "sui", "v1", time.Now(), "sui")
	v2 := installs.add(t, "sui", "v2", time.Now(), "sui")
	prev, err := m.Switch("sui", "v1", linuxAMD64)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a process killed after exposing v2 but before the pointer.
	txn := transaction.New(prev, model.ActivePointer{Component: "sui", Version: "v2", Platform: linuxAMD64}, v2.Binaries)
	if err := txn.Save(installs.root); err != nil {
		t.Fatal(err)
	}
	if err := m.expose(&v2); err != nil {
		t.Fatal(err)
	}

	if err := m.Recover("sui"); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if got := readExposed(t, m, "sui"); got != "sui v1 sui" {
		t.Errorf("exposed sui = %q, want v1 per pointer", got)
	}
	if txn, _ := transaction.Load(installs.root, "sui"); txn != nil {
		t.Error("journal not cleared")
	}
}

func TestSwitch_ReadersNeverSeeGap(t *testing.T) {
	m, installs := newManager(t, config.LinkModeSymlink)
	installs.add(t, "sui", "v1", time.Now(), "sui")
	installs.add(t, "sui", "v2", time.Now(), "sui")
	if _, err := m.Switch("sui", "v1", linuxAMD64); err != nil {
		t.Fatal(err)
	}

	exposed := filepath.Join(m.BinDir(), "sui")
	var misses atomic.Int64
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			data, err := os.ReadFile(exposed)
			if err != nil || (string(data) != "sui v1 sui" && string(data) != "sui v2 sui") {
				misses.Add(1)
			}
		}
	}()

	for i := 0; i < 50; i++ {
		version := "v1"
		if i%2 == 0 {
			version = "v2"
		}
		if _, err := m.Switch("sui", version, linuxAMD64); err != nil {
			t.Fatalf("Switch(%s) error = %v", version, err)
		}
	}
	close(stop)
	<-done

	if n := misses.Load(); n != 0 {
		t.Errorf("reader observed %d missing or partial binaries", n)
	}
}

func TestDeactivate(t *testing.T) {
	m, installs := newManager(t, config.LinkModeSymlink)
	installs.add(t, "mvr", "v0.0.5", time.Now(), "mvr")
	installs.add(t, "sui", "v1", time.Now(), "sui")
	if _, err := m.Switch("mvr", "v0.0.5", linuxAMD64); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Switch("sui", "v1", linuxAMD64); err != nil {
		t.Fatal(err)
	}
	// The user replaced the exposed sui link with their own build.
	foreign := filepath.Join(m.BinDir(), "sui")
	os.Remove(foreign)
	os.WriteFile(foreign, []byte("user binary"), 0755)

	if err := m.Deactivate("mvr"); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if cur, _ := m.Current("mvr"); cur != nil {
		t.Errorf("Current() after Deactivate() = %+v", cur)
	}
	if _, err := os.Lstat(filepath.Join(m.BinDir(), "mvr")); !os.IsNotExist(err) {
		t.Error("exposed binary not removed")
	}
	if err := m.Deactivate("mvr"); err != nil {
		t.Errorf("second Deactivate() error = %v", err)
	}

	if err := m.Deactivate("sui"); err != nil {
		t.Fatal(err)
	}
	if data, _ := os.ReadFile(foreign); string(data) != "user binary" {
		t.Error("foreign file removed")
	}
	if cur, _ := m.Current("sui"); cur != nil {
		t.Errorf("Current(sui) after Deactivate() = %+v", cur)
	}
}

func TestIsActive(t *testing.T) {
	m, installs := newManager(t, config.LinkModeSymlink)
	installs.add(t, "sui", "v1", time.Now(), "sui")
	if _, err := m.Switch("sui", "v1", linuxAMD64); err != nil {
		t.Fatal(err)
	}

	if ok, err := m.IsActive(model.ResolvedTarget{Component: "sui", Version: "v1", Platform: linuxAMD64}); err != nil || !ok {
		t.Errorf("IsActive(v1) = %v, %v", ok, err)
	}
	if ok, _ := m.IsActive(model.ResolvedTarget{Component: "sui", Version: "v2", Platform: linuxAMD64}); ok {
		t.Error("IsActive(v2) = true")
	}
	if ok, _ := m.IsActive(model.ResolvedTarget{Component: "walrus", Version: "v1", Platform: linuxAMD64}); ok {
		t.Error("IsActive() for component without pointer = true")
	}
}

func TestDeactivate_CopyModeKeepsForeignFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"different size", "user binary"},
		{"same size", "sui v1 sux"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, installs := newManager(t, config.LinkModeCopy)
			installs.add(t, "sui", "v1", time.Now(), "sui")
			if _, err := m.Switch("sui", "v1", linuxAMD64); err != nil {
				t.Fatal(err)
			}
			foreign := filepath.Join(m.BinDir(), "sui")
			if err := os.WriteFile(foreign, []byte(tt.content), 0755); err != nil {
				t.Fatal(err)
			}

			if err := m.Deactivate("sui"); err != nil {
				t.Fatalf("Deactivate() error = %v", err)
			}
			if data, _ := os.ReadFile(foreign); string(data) != tt.content {
				t.Errorf("foreign file = %q, want it left alone", data)
			}
		})
	}
}

func TestSwitch_CopyModeRemovesOnlyOwnCopies(t *testing.T) {
	m, installs := newManager(t, config.LinkModeCopy)
	installs.add(t, "sui", "v1", time.Now(), "sui", "sui-node", "sui-tool")
	installs.add(t, "sui", "v2", time.Now(), "sui")
	if _, err := m.Switch("sui", "v1", linuxAMD64); err != nil {
		t.Fatal(err)
	}
	// The user replaced one of the copies with their own build.
	foreign := filepath.Join(m.BinDir(), "sui-node")
	if err := os.WriteFile(foreign, []byte("user sui-node"), 0755); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Switch("sui", "v2", linuxAMD64); err != nil {
		t.Fatalf("Switch(v2) error = %v", err)
	}
	if got := readExposed(t, m, "sui"); got != "sui v2 sui" {
		t.Errorf("exposed sui = %q", got)
	}
	if _, err := os.Stat(filepath.Join(m.BinDir(), "sui-tool")); !os.IsNotExist(err) {
		t.Error("copy of v1's sui-tool not removed")
	}
	if data, _ := os.ReadFile(foreign); string(data) != "user sui-node" {
		t.Errorf("foreign sui-node = %q, want it left alone", data)
	}
}
