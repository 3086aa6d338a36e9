package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/toolup/internal/active"
	"github.com/ZebulonRouseFrantzich/toolup/internal/config"
	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
	"github.com/ZebulonRouseFrantzich/toolup/internal/testutil"
)

const helloMetadata = `
[[component]]
name = "hello"
description = "test binary"
source = "standalone"
repository = "example/hello"
asset = ["hello-{os}-{arch}{ext}"]
archive = "raw"
`

// releaseAPI serves example/hello releases. Each version's binary holds
// "hello <version>".
func releaseAPI(t *testing.T, versions ...string) *httptest.Server {
	t.Helper()
	arch := runtime.GOARCH
	if arch != "amd64" && arch != "arm64" {
		t.Skipf("no release assets for %s", arch)
	}
	ext := ""
	if runtime.GOOS == "windows" {
		ext = ".exe"
	}
	name := fmt.Sprintf("hello-%s-%s%s", runtime.GOOS, arch, ext)

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/example/hello/releases":
			var rels []map[string]any
			for i := len(versions) - 1; i >= 0; i-- {
				v := versions[i]
				sum := sha256.Sum256([]byte("hello " + v))
				rels = append(rels, map[string]any{
					"tag_name":     v,
					"published_at": time.Date(2025, 1, i+1, 0, 0, 0, 0, time.UTC),
					"assets": []map[string]any{{
						"name":                 name,
						"browser_download_url": srv.URL + "/download/" + v + "/" + name,
						"size":                 len("hello " + v),
						"digest":               "sha256:" + hex.EncodeToString(sum[:]),
					}},
				})
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(rels)
		case strings.HasPrefix(r.URL.Path, "/download/"):
			v := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/download/"), "/", 2)[0]
			fmt.Fprintf(w, "hello %s", v)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupCLI(t *testing.T, versions ...string) testutil.Env {
	t.Helper()
	env := testutil.SetupTestEnv(t)
	srv := releaseAPI(t, versions...)

	metadata := filepath.Join(env.ConfigDir, "components.toml")
	if err := os.WriteFile(metadata, []byte(helloMetadata), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TOOLUP_METADATA_FILE", metadata)
	t.Setenv("TOOLUP_API_BASE_URL", srv.URL)
	t.Setenv("TOOLUP_LINK_MODE", config.LinkModeCopy)
	t.Setenv("TOOLUP_RETRIES", "0")
	t.Setenv("PATH", env.BinDir)
	return env
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func exposedHello(t *testing.T, env testutil.Env) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(env.BinDir, model.BinaryFileName("hello", runtime.GOOS)))
	if err != nil {
		t.Fatalf("read exposed hello: %v", err)
	}
	return string(data)
}

func TestCLI_InstallSwitchRemove(t *testing.T) {
	env := setupCLI(t, "v1.0.0", "v1.1.0", "v2.0.0")

	out, _, err := run(t, "install", "hello=1")
	if err != nil {
		t.Fatalf("install error = %v", err)
	}
	if !strings.Contains(out, "installed hello v1.1.0") || !strings.Contains(out, "hello v1.1.0 is active") {
		t.Errorf("install output = %q", out)
	}
	if got := exposedHello(t, env); got != "hello v1.1.0" {
		t.Errorf("exposed = %q", got)
	}

	if _, _, err := run(t, "install", "hello"); err != nil {
		t.Fatalf("install latest error = %v", err)
	}
	if got := exposedHello(t, env); got != "hello v1.1.0" {
		t.Errorf("second install changed the active version: %q", got)
	}

	if out, _, err = run(t, "switch", "hello", "2.0.0"); err != nil {
		t.Fatalf("switch error = %v", err)
	}
	if !strings.Contains(out, "hello v2.0.0 is active") {
		t.Errorf("switch output = %q", out)
	}
	if got := exposedHello(t, env); got != "hello v2.0.0" {
		t.Errorf("exposed after switch = %q", got)
	}

	out, _, err = run(t, "--json", "current", "hello")
	if err != nil {
		t.Fatalf("current error = %v", err)
	}
	var ptrs []model.ActivePointer
	if err := json.Unmarshal([]byte(out), &ptrs); err != nil || len(ptrs) != 1 || ptrs[0].Version != "v2.0.0" {
		t.Errorf("current --json = %q (%v)", out, err)
	}

	if _, _, err := run(t, "remove", "hello", "v2.0.0"); err == nil {
		t.Error("remove of the active version should fail")
	}
	if _, _, err := run(t, "remove", "hello", "v1.1.0"); err != nil {
		t.Errorf("remove error = %v", err)
	}

	out, _, err = run(t, "list", "hello")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if !strings.Contains(out, "v2.0.0*") || strings.Contains(out, "v1.1.0") {
		t.Errorf("list output = %q", out)
	}

	if out, _, err = run(t, "uninstall", "hello"); err != nil || !strings.Contains(out, "1 versions") {
		t.Errorf("uninstall = %q, %v", out, err)
	}
}

func TestCLI_InstallErrors(t *testing.T) {
	setupCLI(t, "v1.0.0")
	tests := []struct {
		name string
		args []string
	}{
		{"unknown component", []string{"install", "nope"}},
		{"no matching version", []string{"install", "hello==9.9.9"}},
		{"bad platform", []string{"install", "--platform", "linux", "hello"}},
		{"missing args", []string{"install"}},
		{"debug without debug builds", []string{"install", "--debug", "hello"}},
		{"switch foreign platform", []string{"install", "--switch", "--platform", "plan9-amd64", "hello"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := run(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCLI_PathHint(t *testing.T) {
	env := setupCLI(t, "v1.0.0")
	t.Setenv("PATH", filepath.Join(env.Home, "elsewhere"))
	t.Setenv("SHELL", "/bin/bash")

	_, stderr, err := run(t, "install", "hello")
	if err != nil {
		t.Fatalf("install error = %v", err)
	}
	if !strings.Contains(stderr, "is not on your PATH") || !strings.Contains(stderr, env.BinDir) {
		t.Errorf("missing PATH hint: %q", stderr)
	}

	out, _, err := run(t, "path", "--shell", "bash", "--write")
	if err != nil {
		t.Fatalf("path --write error = %v", err)
	}
	rc := filepath.Join(env.Home, ".bashrc")
	data, _ := os.ReadFile(rc)
	if !strings.Contains(out, rc) || !strings.Contains(string(data), env.BinDir) {
		t.Errorf("path --write: out=%q rc=%q", out, data)
	}
}

func TestCLI_Version(t *testing.T) {
	out, _, err := run(t, "version")
	if err != nil || !strings.HasPrefix(out, "toolup "+Version) {
		t.Errorf("version = %q, %v", out, err)
	}
}

func TestSwitchArgs(t *testing.T) {
	tests := []struct {
		args        []string
		wantName    string
		wantVersion string
		wantErr     bool
	}{
		{[]string{"sui", "1.39.3"}, "sui", "1.39.3", false},
		{[]string{"sui==testnet-v1.39.3"}, "sui", "testnet-v1.39.3", false},
		{[]string{"mvr@v0.0.5"}, "mvr", "v0.0.5", false},
		{[]string{"sui"}, "", "", true},
		{[]string{"sui=="}, "", "", true},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			name, version, err := switchArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("switchArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if name != tt.wantName || version != tt.wantVersion {
				t.Errorf("switchArgs() = %s, %s", name, version)
			}
		})
	}
}

func TestCleanupPolicy(t *testing.T) {
	s := &config.Settings{KeepVersions: 3}
	tests := []struct {
		name      string
		keepSet   bool
		keep      int
		olderThan time.Duration
		want      active.Policy
	}{
		{"settings default", false, 0, 0, active.LeastRecentlyUsed{Keep: 3}},
		{"keep flag", true, 0, 0, active.LeastRecentlyUsed{Keep: 0}},
		{"older than", false, 0, time.Hour, active.OlderThan{Age: time.Hour}},
		{"both", true, 1, time.Hour, active.AllOf{active.LeastRecentlyUsed{Keep: 1}, active.OlderThan{Age: time.Hour}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cleanupPolicy(s, tt.keepSet, tt.keep, tt.olderThan)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("cleanupPolicy() = %#v, want %#v", got, tt.want)
			}
		})
	}
}
