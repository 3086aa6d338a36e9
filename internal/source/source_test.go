package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/toolup/internal/config"
	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

var (
	linuxAMD64  = model.Platform{OS: "linux", Arch: "amd64"}
	darwinARM64 = model.Platform{OS: "darwin", Arch: "arm64"}
)

func suiComponent() model.Component {
	return model.Component{
		Name:           "sui",
		Source:         model.SourceRegistry,
		Repository:     "MystenLabs/sui",
		Binaries:       []string{"sui"},
		Channels:       []string{"testnet", "devnet", "mainnet"},
		DefaultChannel: "testnet",
		AssetTemplates: []string{"sui-{tag}-{os}-{arch}.tgz"},
		OSNames:        map[string]string{"linux": "ubuntu|linux", "darwin": "macos", "windows": "windows"},
		ArchNames:      map[string]string{"amd64": "x86_64", "arm64": "aarch64|arm64"},
		Archive:        model.ArchiveTarGz,
	}
}

func signerComponent(name string) model.Component {
	return model.Component{
		Name:           name,
		Source:         model.SourceSignerRepo,
		Repository:     "MystenLabs/rust-signers",
		Binaries:       []string{name},
		AssetTemplates: []string{"{name}-{version}-{os}-{arch}*", "{name}-{os}-{arch}*"},
		OSNames:        map[string]string{"linux": "ubuntu|linux", "darwin": "macos"},
		ArchNames:      map[string]string{"amd64": "x86_64", "arm64": "aarch64|arm64"},
		Archive:        model.ArchiveRaw,
	}
}

// releaseServer serves a fixed release list for one repository and the
// assets it references.
func releaseServer(t *testing.T, repo string, build func(base string) []ghRelease) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/"+repo+"/releases":
			atomic.AddInt32(&hits, 1)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(build(srv.URL))
		case strings.HasPrefix(r.URL.Path, "/download/"):
			_, _ = io.WriteString(w, "payload:"+strings.TrimPrefix(r.URL.Path, "/download/"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func asset(base, name string) ghAsset {
	return ghAsset{Name: name, BrowserDownloadURL: base + "/download/" + name, Size: 10}
}

func testClient(t *testing.T, baseURL string, opts ...func(*ClientOptions)) *Client {
	t.Helper()
	o := ClientOptions{
		BaseURL:        baseURL,
		Retries:        2,
		RetryBaseDelay: time.Millisecond,
		Timeout:        5 * time.Second,
		CacheDir:       t.TempDir(),
		TempDir:        t.TempDir(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return NewClient(o)
}

func TestNew_UnknownKind(t *testing.T) {
	if _, err := New("ftp", testClient(t, "http://127.0.0.1:1")); err == nil {
		t.Error("New(ftp) expected error")
	}
}

func TestRegistryBinary_ListReleases(t *testing.T) {
	srv, _ := releaseServer(t, "MystenLabs/sui", func(base string) []ghRelease {
		return []ghRelease{
			{
				TagName: "devnet-v1.40.0",
				Assets:  []ghAsset{asset(base, "sui-devnet-v1.40.0-ubuntu-x86_64.tgz")},
			},
			{
				TagName:     "testnet-v1.39.3",
				PublishedAt: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
				Assets: []ghAsset{
					{Name: "sui-testnet-v1.39.3-ubuntu-x86_64.tgz", BrowserDownloadURL: base + "/download/linux", Digest: "sha256:abc"},
					asset(base, "sui-testnet-v1.39.3-ubuntu-x86_64.tgz.sha256"),
					asset(base, "sui-testnet-v1.39.3-macos-arm64.tgz"),
					asset(base, "sui-testnet-v1.39.3-windows-x86_64.tgz"),
				},
			},
			{TagName: "sui-v1.0.0"},
			{TagName: "testnet-v1.40.0", Draft: true},
			{TagName: "testnet-v1/../../evil"},
		}
	})

	f, err := New(model.SourceRegistry, testClient(t, srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.ListReleases(context.Background(), suiComponent())
	if err != nil {
		t.Fatalf("ListReleases() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (foreign, draft and unsafe tags skipped): %+v", len(got), got)
	}

	rel := got[1]
	if rel.Version != "testnet-v1.39.3" || rel.Channel != "testnet" || rel.Source != model.SourceRegistry {
		t.Errorf("release = %+v", rel)
	}
	linux, ok := rel.Asset(linuxAMD64)
	if !ok {
		t.Fatal("missing linux-amd64 asset")
	}
	if linux.Digest != "sha256:abc" || !strings.HasSuffix(linux.ChecksumURL, ".tgz.sha256") {
		t.Errorf("linux asset = %+v", linux)
	}
	if a, ok := rel.Asset(darwinARM64); !ok || a.Name != "sui-testnet-v1.39.3-macos-arm64.tgz" {
		t.Errorf("darwin-arm64 asset = %+v, %v", a, ok)
	}
	if _, ok := rel.Asset(model.Platform{OS: "linux", Arch: "arm64"}); ok {
		t.Error("linux-arm64 asset should be absent")
	}
	if got[0].Channel != "devnet" {
		t.Errorf("channel = %q, want devnet", got[0].Channel)
	}
}

func TestSignerRepoBinary_ListReleases(t *testing.T) {
	srv, _ := releaseServer(t, "MystenLabs/rust-signers", func(base string) []ghRelease {
		return []ghRelease{
			{TagName: "ledger-signer-v0.1.0", Assets: []ghAsset{asset(base, "ledger-signer-v0.1.0-ubuntu-x86_64")}},
			{TagName: "yubikey-signer-v0.2.0", Assets: []ghAsset{asset(base, "yubikey-signer-v0.2.0-ubuntu-x86_64")}},
			{TagName: "v0.3.0", Assets: []ghAsset{asset(base, "ledger-signer-ubuntu-x86_64"), asset(base, "ledger-signer-ubuntu-x86_64.sig")}},
			{TagName: "v0.4.0", Assets: []ghAsset{asset(base, "yubikey-signer-ubuntu-x86_64")}},
		}
	})

	f, _ := New(model.SourceSignerRepo, testClient(t, srv.URL))
	got, err := f.ListReleases(context.Background(), signerComponent("ledger-signer"))
	if err != nil {
		t.Fatalf("ListReleases() error = %v", err)
	}

	var versions []string
	for _, r := range got {
		versions = append(versions, r.Version)
	}
	if strings.Join(versions, ",") != "v0.1.0,v0.3.0" {
		t.Fatalf("versions = %v, want [v0.1.0 v0.3.0]", versions)
	}
	if a, _ := got[1].Asset(linuxAMD64); a.Name != "ledger-signer-ubuntu-x86_64" {
		t.Errorf("asset = %q; sidecars must not be picked", a.Name)
	}
}

func TestSelfBinary_SkipsPrereleases(t *testing.T) {
	srv, _ := releaseServer(t, "o/toolup", func(base string) []ghRelease {
		return []ghRelease{
			{TagName: "v2.0.0-rc.1", Prerelease: true},
			{TagName: "v1.1.0", Assets: []ghAsset{asset(base, "toolup-Linux-x86_64.tar.gz")}},
		}
	})
	comp := model.Component{
		Name: "toolup", Source: model.SourceSelf, Repository: "o/toolup",
		AssetTemplates: []string{"toolup-{os}-{arch}.tar.gz"},
		OSNames:        map[string]string{"linux": "Linux-musl|Linux"},
		ArchNames:      map[string]string{"amd64": "x86_64"},
	}

	f, _ := New(model.SourceSelf, testClient(t, srv.URL))
	got, err := f.ListReleases(context.Background(), comp)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Version != "v1.1.0" {
		t.Fatalf("got %+v", got)
	}
	if _, ok := got[0].Asset(linuxAMD64); !ok {
		t.Error("missing upgrade asset for linux-amd64")
	}
}

func TestFetchAsset(t *testing.T) {
	srv, _ := releaseServer(t, "x/y", func(string) []ghRelease { return nil })
	c := testClient(t, srv.URL)
	f, _ := New(model.SourceStandalone, c)

	rc, err := f.FetchAsset(context.Background(), model.AssetRef{Name: "mvr", URL: srv.URL + "/download/mvr"})
	if err != nil {
		t.Fatalf("FetchAsset() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if string(data) != "payload:mvr" {
		t.Errorf("body = %q", data)
	}

	_, err = f.FetchAsset(context.Background(), model.AssetRef{Name: "gone", URL: srv.URL + "/missing"})
	if !errors.Is(err, model.ErrFetch) {
		t.Errorf("FetchAsset(missing) error = %v, want ErrFetch", err)
	}
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	f, _ := New(model.SourceStandalone, testClient(t, srv.URL))
	data, err := f.FetchAuxiliary(context.Background(), srv.URL+"/sum")
	if err != nil {
		t.Fatalf("FetchAuxiliary() error = %v", err)
	}
	if string(data) != "ok" || atomic.LoadInt32(&calls) != 3 {
		t.Errorf("data = %q, calls = %d", data, calls)
	}
}

func TestRetry_StatusHandling(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{"not found is final", http.StatusNotFound, 1},
		{"forbidden is final", http.StatusForbidden, 1},
		{"rate limited is retried", http.StatusTooManyRequests, 3},
		{"server error is retried", http.StatusInternalServerError, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			f, _ := New(model.SourceStandalone, testClient(t, srv.URL))
			_, err := f.FetchAuxiliary(context.Background(), srv.URL+"/x")
			if !errors.Is(err, model.ErrFetch) {
				t.Errorf("error = %v, want ErrFetch", err)
			}
			if got := atomic.LoadInt32(&calls); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestRetry_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, func(o *ClientOptions) { o.RetryBaseDelay = time.Hour })
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.fetchSmall(ctx, srv.URL, 10)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("backoff ignored context cancellation")
	}
}

func TestReleases_ETagAndFallback(t *testing.T) {
	var (
		calls   int32
		failing atomic.Bool
		sawETag atomic.Bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			sawETag.Store(true)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_ = json.NewEncoder(w).Encode([]ghRelease{{TagName: "v1.0.0"}})
	}))
	defer srv.Close()

	var logs bytes.Buffer
	c := testClient(t, srv.URL, func(o *ClientOptions) { o.Logger = config.NewWriterLogger(&logs, false) })
	f, _ := New(model.SourceStandalone, c)
	comp := model.Component{Name: "tool", Source: model.SourceStandalone, Repository: "o/tool", AssetTemplates: []string{"tool"}}

	for i := 0; i < 2; i++ {
		got, err := f.ListReleases(context.Background(), comp)
		if err != nil || len(got) != 1 || got[0].Version != "v1.0.0" {
			t.Fatalf("ListReleases() #%d = %+v, %v", i, got, err)
		}
	}
	if !sawETag.Load() {
		t.Error("second request did not send If-None-Match")
	}

	failing.Store(true)
	got, err := f.ListReleases(context.Background(), comp)
	if err != nil || len(got) != 1 {
		t.Fatalf("fallback ListReleases() = %+v, %v", got, err)
	}
	if !strings.Contains(logs.String(), "warn release source unreachable") {
		t.Errorf("expected warning, logs = %q", logs.String())
	}
}

func TestReleases_Malformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message": "not a list"`)
	}))
	defer srv.Close()

	f, _ := New(model.SourceStandalone, testClient(t, srv.URL))
	_, err := f.ListReleases(context.Background(), model.Component{Name: "tool", Repository: "o/tool"})
	if !errors.Is(err, model.ErrFetch) || !strings.Contains(err.Error(), "malformed") {
		t.Errorf("error = %v, want malformed ErrFetch", err)
	}
}

func TestToken_OnlySentToAPIHost(t *testing.T) {
	var assetAuth atomic.Value
	assets := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assetAuth.Store(r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, "bin")
	}))
	defer assets.Close()

	var apiAuth, agent atomic.Value
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiAuth.Store(r.Header.Get("Authorization"))
		agent.Store(r.Header.Get("User-Agent"))
		_ = json.NewEncoder(w).Encode([]ghRelease{})
	}))
	defer api.Close()

	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("TOOLUP_GITHUB_TOKEN", "s3cret")
	c := testClient(t, api.URL, func(o *ClientOptions) {
		o.Token = TokenFromEnv()
		o.UserAgent = "toolup/1.2.3"
	})
	f, _ := New(model.SourceStandalone, c)

	if _, err := f.ListReleases(context.Background(), model.Component{Name: "tool", Repository: "o/tool"}); err != nil {
		t.Fatal(err)
	}
	rc, err := f.FetchAsset(context.Background(), model.AssetRef{Name: "tool", URL: assets.URL + "/tool"})
	if err != nil {
		t.Fatal(err)
	}
	rc.Close()

	if apiAuth.Load() != "Bearer s3cret" {
		t.Errorf("api Authorization = %v", apiAuth.Load())
	}
	if agent.Load() != "toolup/1.2.3" {
		t.Errorf("User-Agent = %v", agent.Load())
	}
	if assetAuth.Load() != "" {
		t.Errorf("asset host received Authorization %v", assetAuth.Load())
	}
}

func TestTokenFromEnv(t *testing.T) {
	t.Setenv("TOOLUP_GITHUB_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "gh")
	if got := TokenFromEnv(); got != "gh" {
		t.Errorf("TokenFromEnv() = %q, want gh", got)
	}
	t.Setenv("TOOLUP_GITHUB_TOKEN", "tu")
	if got := TokenFromEnv(); got != "tu" {
		t.Errorf("TokenFromEnv() = %q, want tu", got)
	}
}
