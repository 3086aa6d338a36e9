package registry

import (
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

var linuxAMD64 = model.Platform{OS: "linux", Arch: "amd64"}

func TestPrefixMatcher(t *testing.T) {
	tests := []struct {
		requested string
		candidate string
		want      bool
	}{
		{"1.2", "1.2.0", true},
		{"1.2", "1.2.3", true},
		{"1.2", "1.3.0", false},
		{"1.2", "1.20.0", false},
		{"1", "1.9.9", true},
		{"1.2.3", "1.2.3", true},
		{"1.2.3", "1.2", false},
		{"1.2", "nightly-2025-01-01", false},
		{"1.2", "1.2.0-rc.1", true},
	}

	m, err := NewMatcher(model.Component{Compat: model.CompatPrefix})
	if err != nil {
		t.Fatal(err)
	}
	for _, tt := range tests {
		t.Run(tt.requested+"~"+tt.candidate, func(t *testing.T) {
			got, err := m.Compatible(tt.requested, tt.candidate, linuxAMD64)
			if err != nil {
				t.Fatalf("Compatible() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Compatible(%q, %q) = %v, want %v", tt.requested, tt.candidate, got, tt.want)
			}
		})
	}

	if _, err := m.Compatible("latest", "1.2.0", linuxAMD64); err == nil {
		t.Error("Compatible(latest) expected error")
	}
}

func TestConstraintMatchers(t *testing.T) {
	tests := []struct {
		compat    string
		requested string
		candidate string
		want      bool
	}{
		{model.CompatTilde, "1.2", "1.2.9", true},
		{model.CompatTilde, "1.2", "1.3.0", false},
		{model.CompatCaret, "1.2", "1.9.0", true},
		{model.CompatCaret, "1.2", "2.0.0", false},
		{model.CompatCaret, "0.0.4", "0.0.5", false},
		{model.CompatCaret, "1.2", "not-a-version", false},
	}

	for _, tt := range tests {
		t.Run(tt.compat+tt.requested+"/"+tt.candidate, func(t *testing.T) {
			m, err := NewMatcher(model.Component{Compat: tt.compat})
			if err != nil {
				t.Fatal(err)
			}
			got, err := m.Compatible(tt.requested, tt.candidate, linuxAMD64)
			if err != nil {
				t.Fatalf("Compatible() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Compatible(%q, %q) = %v, want %v", tt.requested, tt.candidate, got, tt.want)
			}
		})
	}
}

func TestScriptMatcher(t *testing.T) {
	script := `
local rmaj, rmin = string.match(requested, "^(%d+)%.(%d+)")
local cmaj, cmin = string.match(candidate, "^(%d+)%.(%d+)")
if platform.is_windows then
  return rmaj == cmaj
end
return rmaj == cmaj and rmin == cmin
`
	m, err := NewMatcher(model.Component{Name: "foo", Compat: model.CompatLua, CompatScript: script})
	if err != nil {
		t.Fatalf("NewMatcher() error = %v", err)
	}

	got, err := m.Compatible("1.2", "1.2.5", linuxAMD64)
	if err != nil || !got {
		t.Errorf("Compatible(1.2, 1.2.5) = %v, %v", got, err)
	}
	got, err = m.Compatible("1.2", "1.3.0", linuxAMD64)
	if err != nil || got {
		t.Errorf("Compatible(1.2, 1.3.0) = %v, %v", got, err)
	}
	got, err = m.Compatible("1.2", "1.3.0", model.Platform{OS: "windows", Arch: "amd64"})
	if err != nil || !got {
		t.Errorf("Compatible(1.2, 1.3.0) on windows = %v, %v", got, err)
	}
}

func TestScriptMatcher_Sandbox(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantErr string
	}{
		{"os removed", `return os.getenv("HOME") ~= nil`, "nil"},
		{"io removed", `return io.open("/etc/passwd") ~= nil`, "nil"},
		{"non boolean", `return "yes"`, "want boolean"},
		{"runaway", `while true do end`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMatcher(model.Component{Name: "foo", Compat: model.CompatLua, CompatScript: tt.script})
			if err != nil {
				t.Fatalf("NewMatcher() error = %v", err)
			}
			_, err = m.Compatible("1.0", "1.0.0", linuxAMD64)
			if err == nil {
				t.Fatal("Compatible() expected error")
			}
			if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewMatcher_Unknown(t *testing.T) {
	if _, err := NewMatcher(model.Component{Compat: "fuzzy"}); err == nil {
		t.Error("NewMatcher(fuzzy) expected error")
	}
}
