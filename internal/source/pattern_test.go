package source

import (
	"testing"

	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

func TestRenderPattern(t *testing.T) {
	comp := model.Component{
		Name:      "mvr",
		Binaries:  []string{"mvr"},
		OSNames:   map[string]string{"linux": "ubuntu|linux", "darwin": "macos"},
		ArchNames: map[string]string{"amd64": "x86_64", "arm64": "aarch64|arm64"},
	}
	rel := model.ReleaseDescriptor{Version: "v0.0.5", Tag: "v0.0.5"}

	tests := []struct {
		name     string
		tmpl     string
		platform model.Platform
		match    []string
		noMatch  []string
	}{
		{
			name:     "os alternatives",
			tmpl:     "{binary}-{os}-{arch}{ext}",
			platform: model.Platform{OS: "linux", Arch: "amd64"},
			match:    []string{"mvr-ubuntu-x86_64", "mvr-linux-x86_64"},
			noMatch:  []string{"mvr-ubuntu-x86_64.tgz", "mvr-macos-x86_64", "xmvr-ubuntu-x86_64"},
		},
		{
			name:     "windows ext",
			tmpl:     "{name}-{os}-{arch}{ext}",
			platform: model.Platform{OS: "windows", Arch: "amd64"},
			match:    []string{"mvr-windows-x86_64.exe"},
			noMatch:  []string{"mvr-windows-x86_64"},
		},
		{
			name:     "version with or without v",
			tmpl:     "{name}-{version}-{os}-{arch}*",
			platform: model.Platform{OS: "darwin", Arch: "arm64"},
			match:    []string{"mvr-v0.0.5-macos-arm64", "mvr-0.0.5-macos-aarch64.tar.gz"},
			noMatch:  []string{"mvr-0.0.50-macos-arm64", "mvr-0x0x5-macos-arm64"},
		},
		{
			name:     "unknown placeholder is literal",
			tmpl:     "{nope}.txt",
			platform: model.Platform{OS: "linux", Arch: "amd64"},
			match:    []string{"{nope}.txt"},
			noMatch:  []string{"x.txt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re, err := compilePattern(renderPattern(tt.tmpl, varsFor(comp, rel, tt.platform)))
			if err != nil {
				t.Fatalf("compilePattern() error = %v", err)
			}
			for _, s := range tt.match {
				if !re.MatchString(s) {
					t.Errorf("%s does not match %q", re, s)
				}
			}
			for _, s := range tt.noMatch {
				if re.MatchString(s) {
					t.Errorf("%s unexpectedly matches %q", re, s)
				}
			}
		})
	}
}

func TestCompilePattern_Memoized(t *testing.T) {
	a, err := compilePattern("^memo-test$")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := compilePattern("^memo-test$")
	if a != b {
		t.Error("compilePattern() compiled the same pattern twice")
	}
}

func TestMatchAsset_TemplateOrder(t *testing.T) {
	comp := model.Component{Name: "tool"}
	v := varsFor(comp, model.ReleaseDescriptor{Version: "1.0.0", Tag: "v1.0.0"}, model.Platform{OS: "linux", Arch: "amd64"})
	assets := []ghAsset{{Name: "tool-linux-amd64.zip"}, {Name: "tool-1.0.0-linux-amd64.tar.gz"}}

	got, ok, err := matchAsset([]string{"{name}-{version}-{os}-{arch}*", "{name}-{os}-{arch}*"}, v, assets)
	if err != nil || !ok {
		t.Fatalf("matchAsset() = %v, %v", ok, err)
	}
	if got.Name != "tool-1.0.0-linux-amd64.tar.gz" {
		t.Errorf("matchAsset() = %q; earlier templates take precedence", got.Name)
	}
}
