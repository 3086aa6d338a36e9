// Package platform detects the host operating system, architecture and
// Linux distribution. The result selects the default install platform and
// is exposed to component compatibility scripts as a read-only Lua table.
package platform

import (
	"context"

	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

// Linux distribution family constants.
const (
	FamilyDebian  = "debian"  // Debian, Ubuntu, Linux Mint
	FamilyRHEL    = "rhel"    // RHEL, CentOS, Rocky Linux, AlmaLinux
	FamilyFedora  = "fedora"  // Fedora
	FamilySUSE    = "suse"    // openSUSE, SLES
	FamilyArch    = "arch"    // Arch Linux, Manjaro
	FamilyAlpine  = "alpine"  // Alpine Linux
	FamilyGentoo  = "gentoo"  // Gentoo
	FamilyUnknown = "unknown" // Unrecognized distributions
)

// Info contains platform detection information.
type Info struct {
	OS      string // "linux", "darwin", "windows"
	Arch    string // "amd64", "arm64" (normalized)
	ArchRaw string // original GOARCH
	Distro  string // distro ID (Linux only, e.g., "ubuntu")
	Family  string // canonical family (e.g., "debian")
	Version string // distro version (Linux only, e.g., "22.04")
}

// FromTarget builds an Info for an install target that may not be the host.
// Distribution fields are left empty.
func FromTarget(p model.Platform) *Info {
	return &Info{OS: p.OS, Arch: p.Arch, ArchRaw: p.Arch}
}

// Target returns the install platform for this host.
func (i *Info) Target() model.Platform {
	return model.Platform{OS: i.OS, Arch: i.Arch}
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.OS == "linux"
}

// IsMacOS returns true if the platform is macOS.
func (i *Info) IsMacOS() bool {
	return i.OS == "darwin"
}

// IsWindows returns true if the platform is Windows.
func (i *Info) IsWindows() bool {
	return i.OS == "windows"
}

// IsMusl returns true for distributions that ship musl libc.
func (i *Info) IsMusl() bool {
	return i.OS == "linux" && i.Family == FamilyAlpine
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// StaticDetector returns a fixed Info. It is used for explicit target
// platforms and in tests.
type StaticDetector struct {
	Info *Info
	Err  error
}

// Detect returns the configured info and error.
func (s StaticDetector) Detect(ctx context.Context) (*Info, error) {
	return s.Info, s.Err
}
