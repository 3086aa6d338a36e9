package source

import (
	"time"

	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

// defaultChecksumTemplate is probed when a component names no checksum asset.
const defaultChecksumTemplate = "{asset}.sha256"

// Platforms is the set of platforms asset templates are evaluated for.
var Platforms = []model.Platform{
	{OS: "linux", Arch: "amd64"},
	{OS: "linux", Arch: "arm64"},
	{OS: "darwin", Arch: "amd64"},
	{OS: "darwin", Arch: "arm64"},
	{OS: "windows", Arch: "amd64"},
	{OS: "windows", Arch: "arm64"},
}

// ghRelease is the subset of the GitHub release payload toolup reads.
type ghRelease struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []ghAsset `json:"assets"`
}

type ghAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
	Digest             string `json:"digest"`
}

// describe converts a GitHub release into a descriptor whose assets are
// matched per platform. Platforms without a matching asset are absent.
func describe(comp model.Component, rel ghRelease, version, channel string) (model.ReleaseDescriptor, error) {
	desc := model.ReleaseDescriptor{
		Version:     version,
		Tag:         rel.TagName,
		Channel:     channel,
		Source:      comp.Source,
		Prerelease:  rel.Prerelease,
		PublishedAt: rel.PublishedAt,
		Assets:      make(map[model.Platform]model.AssetRef),
	}

	for _, p := range Platforms {
		v := varsFor(comp, desc, p)
		asset, ok, err := matchAsset(comp.AssetTemplates, v, rel.Assets)
		if err != nil {
			return model.ReleaseDescriptor{}, err
		}
		if !ok {
			continue
		}

		ref := model.AssetRef{
			Name:   asset.Name,
			URL:    asset.BrowserDownloadURL,
			Size:   asset.Size,
			Digest: asset.Digest,
		}
		v.Asset = asset.Name

		checksumTmpl := comp.ChecksumAsset
		if checksumTmpl == "" {
			checksumTmpl = defaultChecksumTemplate
		}
		if sum, ok, err := matchSidecar(checksumTmpl, v, rel.Assets); err != nil {
			return model.ReleaseDescriptor{}, err
		} else if ok {
			ref.ChecksumURL = sum.BrowserDownloadURL
		}

		if comp.Signature != nil {
			if sig, ok, err := matchSidecar(comp.Signature.Asset, v, rel.Assets); err != nil {
				return model.ReleaseDescriptor{}, err
			} else if ok {
				ref.SignatureURL = sig.BrowserDownloadURL
			}
		}

		desc.Assets[p] = ref
	}
	return desc, nil
}

// hasAnyAsset reports whether any platform's template matches an asset of rel.
func hasAnyAsset(comp model.Component, rel ghRelease) bool {
	probe := model.ReleaseDescriptor{Version: rel.TagName, Tag: rel.TagName}
	for _, p := range Platforms {
		if _, ok, err := matchAsset(comp.AssetTemplates, varsFor(comp, probe, p), rel.Assets); err == nil && ok {
			return true
		}
	}
	return false
}
