// Package source lists releases and streams artifacts from the remote
// release host. Four fetcher variants share one HTTP client; they differ
// only in how release tags map to versions and channels.
package source

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

// maxAuxiliarySize bounds checksum and signature downloads.
const maxAuxiliarySize = 1 << 20

// Fetcher lists releases of a component and fetches its artifacts.
type Fetcher interface {
	// ListReleases returns the releases of comp, newest first as the
	// host reports them.
	ListReleases(ctx context.Context, comp model.Component) ([]model.ReleaseDescriptor, error)
	// FetchAsset streams an asset. The caller must close the reader.
	FetchAsset(ctx context.Context, asset model.AssetRef) (io.ReadCloser, error)
	// FetchAuxiliary downloads a small sidecar such as a checksum list.
	FetchAuxiliary(ctx context.Context, url string) ([]byte, error)
}

// New returns the fetcher for a source kind.
func New(kind model.SourceKind, client *Client) (Fetcher, error) {
	b := base{client: client}
	switch kind {
	case model.SourceRegistry:
		return &RegistryBinary{base: b}, nil
	case model.SourceSignerRepo:
		return &SignerRepoBinary{base: b}, nil
	case model.SourceStandalone:
		return &StandaloneBinary{base: b}, nil
	case model.SourceSelf:
		return &SelfBinary{base: b}, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
}

// classifier maps a release to (version, channel). ok is false for releases
// that do not belong to the component.
type classifier func(comp model.Component, rel ghRelease) (version, channel string, ok bool)

type base struct {
	client *Client
}

func (b base) list(ctx context.Context, comp model.Component, classify classifier) ([]model.ReleaseDescriptor, error) {
	target := model.ResolvedTarget{Component: comp.Name}

	releases, err := b.client.releases(ctx, comp.Repository)
	if err != nil {
		return nil, model.Wrap(model.ErrFetch, target, "list releases", err)
	}

	var out []model.ReleaseDescriptor
	for _, rel := range releases {
		if rel.Draft || rel.TagName == "" {
			continue
		}
		version, channel, ok := classify(comp, rel)
		if !ok {
			continue
		}
		if err := model.ValidatePathElement(version); err != nil {
			b.client.logger.Warn("skipping release with unusable version", "component", comp.Name, "tag", rel.TagName, "error", err)
			continue
		}
		desc, err := describe(comp, rel, version, channel)
		if err != nil {
			return nil, model.Wrap(model.ErrFetch, target, "list releases", err)
		}
		out = append(out, desc)
	}

	b.client.logger.Debug("listed releases", "component", comp.Name, "repo", comp.Repository, "count", len(out))
	return out, nil
}

// FetchAsset downloads the asset with retries and returns it for reading.
func (b base) FetchAsset(ctx context.Context, asset model.AssetRef) (io.ReadCloser, error) {
	if asset.URL == "" {
		return nil, &model.Error{Kind: model.ErrFetch, Op: "fetch " + asset.Name, Err: fmt.Errorf("asset has no download URL")}
	}
	b.client.logger.Debug("downloading asset", "asset", asset.Name, "url", asset.URL)
	rc, err := b.client.download(ctx, asset.URL)
	if err != nil {
		return nil, &model.Error{Kind: model.ErrFetch, Op: "fetch " + asset.Name, Err: err}
	}
	return rc, nil
}

// FetchAuxiliary downloads a small sidecar document.
func (b base) FetchAuxiliary(ctx context.Context, url string) ([]byte, error) {
	data, err := b.client.fetchSmall(ctx, url, maxAuxiliarySize)
	if err != nil {
		return nil, &model.Error{Kind: model.ErrFetch, Op: "fetch " + url, Err: err}
	}
	return data, nil
}

// RegistryBinary lists releases tagged "<channel>-v<version>". Tags whose
// prefix is not a declared channel are skipped; a component without
// channels takes every tag as a version.
type RegistryBinary struct {
	base
}

// ListReleases implements Fetcher.
func (f *RegistryBinary) ListReleases(ctx context.Context, comp model.Component) ([]model.ReleaseDescriptor, error) {
	return f.list(ctx, comp, func(comp model.Component, rel ghRelease) (string, string, bool) {
		if len(comp.Channels) == 0 {
			return rel.TagName, "", true
		}
		for _, ch := range comp.Channels {
			if strings.HasPrefix(rel.TagName, ch+"-") {
				return rel.TagName, ch, true
			}
		}
		return "", "", false
	})
}

// SignerRepoBinary lists releases from a repository shared by several
// components. A release belongs to the component when its tag starts with
// "<name>-" or when it carries an asset for the component.
type SignerRepoBinary struct {
	base
}

// ListReleases implements Fetcher.
func (f *SignerRepoBinary) ListReleases(ctx context.Context, comp model.Component) ([]model.ReleaseDescriptor, error) {
	return f.list(ctx, comp, func(comp model.Component, rel ghRelease) (string, string, bool) {
		if rest, ok := strings.CutPrefix(rel.TagName, comp.Name+"-"); ok && rest != "" {
			return rest, "", true
		}
		if hasAnyAsset(comp, rel) {
			return rel.TagName, "", true
		}
		return "", "", false
	})
}

// StandaloneBinary lists plain version tags.
type StandaloneBinary struct {
	base
}

// ListReleases implements Fetcher.
func (f *StandaloneBinary) ListReleases(ctx context.Context, comp model.Component) ([]model.ReleaseDescriptor, error) {
	return f.list(ctx, comp, func(_ model.Component, rel ghRelease) (string, string, bool) {
		return rel.TagName, "", true
	})
}

// SelfBinary lists the tool's own releases. Prereleases are never offered
// as upgrades.
type SelfBinary struct {
	base
}

// ListReleases implements Fetcher.
func (f *SelfBinary) ListReleases(ctx context.Context, comp model.Component) ([]model.ReleaseDescriptor, error) {
	return f.list(ctx, comp, func(_ model.Component, rel ghRelease) (string, string, bool) {
		if rel.Prerelease {
			return "", "", false
		}
		return rel.TagName, "", true
	})
}
