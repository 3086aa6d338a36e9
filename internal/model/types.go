// Package model defines the shared data types of the toolup engine:
// components, releases, resolved targets, installs, active pointers and
// cache entries.
package model

import (
	"fmt"
	"strings"
	"time"
)

// SourceKind identifies where a component's artifacts come from.
type SourceKind string

const (
	// SourceRegistry is a registry-hosted archive published per channel
	// (e.g. "testnet-v1.39.3").
	SourceRegistry SourceKind = "registry"
	// SourceSignerRepo is a binary published from a shared signer repository
	// with component-prefixed tags.
	SourceSignerRepo SourceKind = "signer-repo"
	// SourceStandalone is a bare binary (or archive) attached to plain
	// version tags.
	SourceStandalone SourceKind = "standalone"
	// SourceSelf is the tool's own upgrade asset.
	SourceSelf SourceKind = "self"
)

// String returns the string representation of the source kind
func (k SourceKind) String() string {
	return string(k)
}

// IsValid returns true if the source kind is one of the known kinds
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceRegistry, SourceSignerRepo, SourceStandalone, SourceSelf:
		return true
	default:
		return false
	}
}

// Platform is an (os, arch) pair. Its string form "os-arch" is the third
// element of every cache and install key.
type Platform struct {
	OS   string `json:"os"`
	Arch string `json:"arch"`
}

// String returns "os-arch".
func (p Platform) String() string {
	return p.OS + "-" + p.Arch
}

// IsZero reports whether neither field is set.
func (p Platform) IsZero() bool {
	return p.OS == "" && p.Arch == ""
}

// ParsePlatform parses "os-arch".
func ParsePlatform(s string) (Platform, error) {
	goos, arch, ok := strings.Cut(s, "-")
	if !ok || goos == "" || arch == "" {
		return Platform{}, fmt.Errorf("invalid platform %q (want os-arch)", s)
	}
	return Platform{OS: goos, Arch: arch}, nil
}

// Archive formats understood by the installer.
const (
	ArchiveTarGz = "tar.gz"
	ArchiveTar   = "tar"
	ArchiveZip   = "zip"
	ArchiveRaw   = "raw"
)

// Signature kinds.
const (
	SignaturePGP      = "pgp"
	SignatureMinisign = "minisign"
)

// Compatibility rules for "name=V" specifiers.
const (
	CompatPrefix = "prefix"
	CompatTilde  = "tilde"
	CompatCaret  = "caret"
	CompatLua    = "lua"
)

// SignatureSpec describes a detached signature published next to an asset.
type SignatureSpec struct {
	Kind      string `toml:"kind" json:"kind"`
	Asset     string `toml:"asset" json:"asset"`
	PublicKey string `toml:"public_key" json:"public_key"`
}

// Component is the static description of one installable tool.
// Components are loaded once and never mutated.
type Component struct {
	Name           string            `toml:"name"`
	Description    string            `toml:"description"`
	Source         SourceKind        `toml:"source"`
	Repository     string            `toml:"repository"`
	Binaries       []string          `toml:"binaries"`
	DebugBinaries  []string          `toml:"debug_binaries"`
	Channels       []string          `toml:"channels"`
	DefaultChannel string            `toml:"default_channel"`
	AssetTemplates []string          `toml:"asset"`
	OSNames        map[string]string `toml:"os_names"`
	ArchNames      map[string]string `toml:"arch_names"`
	Archive        string            `toml:"archive"`
	ChecksumAsset  string            `toml:"checksum_asset"`
	Signature      *SignatureSpec    `toml:"signature"`
	Compat         string            `toml:"compat"`
	CompatScript   string            `toml:"compat_script"`
}

// Clone returns a deep copy of the component.
func (c Component) Clone() Component {
	out := c
	out.Binaries = append([]string(nil), c.Binaries...)
	out.DebugBinaries = append([]string(nil), c.DebugBinaries...)
	out.Channels = append([]string(nil), c.Channels...)
	out.AssetTemplates = append([]string(nil), c.AssetTemplates...)
	out.OSNames = cloneMap(c.OSNames)
	out.ArchNames = cloneMap(c.ArchNames)
	if c.Signature != nil {
		sig := *c.Signature
		out.Signature = &sig
	}
	return out
}

// HasChannel reports whether the component publishes the named channel.
func (c Component) HasChannel(name string) bool {
	for _, ch := range c.Channels {
		if ch == name {
			return true
		}
	}
	return false
}

// BinaryFileName returns the on-disk file name of a binary for the given OS.
func BinaryFileName(name, goos string) string {
	if goos == "windows" && !strings.HasSuffix(name, ".exe") {
		return name + ".exe"
	}
	return name
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// AssetRef points at one downloadable artifact of a release.
type AssetRef struct {
	Name         string `json:"name"`
	URL          string `json:"url"`
	Size         int64  `json:"size,omitempty"`
	Digest       string `json:"digest,omitempty"` // "sha256:<hex>" when reported by the source
	ChecksumURL  string `json:"checksum_url,omitempty"`
	SignatureURL string `json:"signature_url,omitempty"`
}

// ReleaseDescriptor is one release as listed by a source. Version is the
// opaque identifier used in every key; it is not assumed to be semver.
type ReleaseDescriptor struct {
	Version     string                `json:"version"`
	Tag         string                `json:"tag"`
	Channel     string                `json:"channel,omitempty"`
	Source      SourceKind            `json:"source"`
	Prerelease  bool                  `json:"prerelease,omitempty"`
	PublishedAt time.Time             `json:"published_at"`
	Assets      map[Platform]AssetRef `json:"-"`
}

// Asset returns the asset for a platform.
func (r ReleaseDescriptor) Asset(p Platform) (AssetRef, bool) {
	a, ok := r.Assets[p]
	return a, ok
}

// NumericVersion strips a channel prefix and a leading "v" from a version
// identifier: "testnet-v1.39.3" -> "1.39.3", "v0.0.5" -> "0.0.5".
func NumericVersion(version, channel string) string {
	v := version
	if channel != "" {
		v = strings.TrimPrefix(v, channel+"-")
	}
	return strings.TrimPrefix(v, "v")
}

// ResolvedTarget is the unit of identity for installation.
type ResolvedTarget struct {
	Component string   `json:"component"`
	Version   string   `json:"version"`
	Platform  Platform `json:"platform"`
}

// String returns "component@version (os-arch)".
func (t ResolvedTarget) String() string {
	return fmt.Sprintf("%s@%s (%s)", t.Component, t.Version, t.Platform)
}

// InstalledVersion records a completed install. It is persisted inside the
// install directory.
type InstalledVersion struct {
	Component   string    `json:"component"`
	Version     string    `json:"version"`
	Platform    Platform  `json:"platform"`
	Dir         string    `json:"-"`
	InstalledAt time.Time `json:"installed_at"`
	Binaries    []string  `json:"binaries"`
	Asset       string    `json:"asset,omitempty"`
}

// Target returns the resolved target this install satisfies.
func (v InstalledVersion) Target() ResolvedTarget {
	return ResolvedTarget{Component: v.Component, Version: v.Version, Platform: v.Platform}
}

// ActivePointer names the default installed version of a component.
type ActivePointer struct {
	Component  string    `json:"component"`
	Version    string    `json:"version"`
	Platform   Platform  `json:"platform"`
	SwitchedAt time.Time `json:"switched_at"`
}

// CacheEntry is a downloaded, not yet extracted artifact.
type CacheEntry struct {
	Component string
	Version   string
	Platform  Platform
	Path      string
	Size      int64
	LastUsed  time.Time
}

// Key returns the cache key of the entry.
func (e CacheEntry) Key() ResolvedTarget {
	return ResolvedTarget{Component: e.Component, Version: e.Version, Platform: e.Platform}
}

// ValidatePathElement rejects names that cannot be used as a single
// directory component.
func ValidatePathElement(s string) error {
	if s == "" || s == "." || s == ".." {
		return fmt.Errorf("invalid path element %q", s)
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return fmt.Errorf("invalid path element %q", s)
	}
	return nil
}
