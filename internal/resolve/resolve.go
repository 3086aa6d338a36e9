package resolve

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
	"github.com/ZebulonRouseFrantzich/toolup/internal/registry"
)

// Catalog provides component definitions and their compatibility rules.
// *registry.Store implements it.
type Catalog interface {
	Get(name string) (model.Component, error)
	Matcher(name string) (registry.Matcher, error)
}

// Resolver resolves specifiers against release lists.
type Resolver struct {
	catalog Catalog
}

// New creates a resolver backed by catalog.
func New(catalog Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve picks one release from available for spec on platform p. The
// returned release is the element of available the target was built from.
func (r *Resolver) Resolve(spec Specifier, available []model.ReleaseDescriptor, p model.Platform) (model.ResolvedTarget, model.ReleaseDescriptor, error) {
	comp, err := r.catalog.Get(spec.Component)
	if err != nil {
		return model.ResolvedTarget{}, model.ReleaseDescriptor{}, err
	}
	matcher, err := r.catalog.Matcher(spec.Component)
	if err != nil {
		return model.ResolvedTarget{}, model.ReleaseDescriptor{}, err
	}

	idx, err := pick(comp, matcher, spec, available, p)
	if err != nil {
		return model.ResolvedTarget{}, model.ReleaseDescriptor{}, err
	}

	rel := available[idx]
	target := model.ResolvedTarget{Component: comp.Name, Version: rel.Version, Platform: p}
	return target, rel, nil
}

func pick(comp model.Component, matcher registry.Matcher, spec Specifier, available []model.ReleaseDescriptor, p model.Platform) (int, error) {
	var candidates []int

	switch spec.Form {
	case FormLatest:
		for i, rel := range available {
			if inDefaultStream(comp, rel) && !rel.Prerelease {
				candidates = append(candidates, i)
			}
		}

	case FormCompatible:
		requested := strings.TrimPrefix(spec.Constraint, "v")
		for i, rel := range available {
			if !inDefaultStream(comp, rel) || rel.Prerelease {
				continue
			}
			ok, err := matcher.Compatible(requested, model.NumericVersion(rel.Version, rel.Channel), p)
			if err != nil {
				return -1, &model.Error{
					Kind:   model.ErrMalformedSpecifier,
					Target: model.ResolvedTarget{Component: comp.Name, Platform: p},
					Err:    fmt.Errorf("%s: %w", spec, err),
				}
			}
			if ok {
				candidates = append(candidates, i)
			}
		}

	case FormExact:
		// An identical identifier wins over a numeric match; there is no
		// ordering among exact matches, so the first one is taken.
		for i, rel := range available {
			if rel.Version == spec.Constraint || rel.Tag == spec.Constraint {
				return i, nil
			}
		}
		want := strings.TrimPrefix(spec.Constraint, "v")
		for i, rel := range available {
			if inDefaultStream(comp, rel) && model.NumericVersion(rel.Version, rel.Channel) == want {
				return i, nil
			}
		}

	case FormTag:
		for i, rel := range available {
			if rel.Channel == spec.Constraint || rel.Tag == spec.Constraint || rel.Version == spec.Constraint {
				candidates = append(candidates, i)
			}
		}
		if len(candidates) == 0 {
			candidates = tagFallback(comp, spec.Constraint, available)
		}
	}

	if len(candidates) == 0 {
		return -1, &model.Error{
			Kind:   model.ErrNoMatchingVersion,
			Target: model.ResolvedTarget{Component: comp.Name, Platform: p},
			Err:    fmt.Errorf("no release satisfies %q among %d available", spec.String(), len(available)),
		}
	}
	return newest(available, candidates), nil
}

// tagFallback matches a tag that names a version rather than a release tag:
// "<channel>-X.Y.Z" (with or without "v") selects that version in the
// channel, and a bare "X.Y.Z" or "vX.Y.Z" selects it in the default stream.
func tagFallback(comp model.Component, tag string, available []model.ReleaseDescriptor) []int {
	channel, want := "", tag
	if ch, rest, ok := strings.Cut(tag, "-"); ok && comp.HasChannel(ch) {
		channel, want = ch, rest
	}
	want = strings.TrimPrefix(want, "v")
	if want == "" {
		return nil
	}

	var out []int
	for i, rel := range available {
		if channel != "" {
			if rel.Channel != channel {
				continue
			}
		} else if !inDefaultStream(comp, rel) {
			continue
		}
		if model.NumericVersion(rel.Version, rel.Channel) == want {
			out = append(out, i)
		}
	}
	return out
}

// inDefaultStream reports whether rel belongs to the release stream used
// when no channel is named.
func inDefaultStream(comp model.Component, rel model.ReleaseDescriptor) bool {
	if comp.DefaultChannel == "" {
		return true
	}
	return rel.Channel == comp.DefaultChannel
}

// newest returns the index of the newest release among candidates. Versions
// are compared semantically when both parse; otherwise, and on equal
// versions, the later publish time wins, then the first-listed release.
func newest(available []model.ReleaseDescriptor, candidates []int) int {
	best := candidates[0]
	for _, i := range candidates[1:] {
		if newer(available[i], available[best]) {
			best = i
		}
	}
	return best
}

func newer(a, b model.ReleaseDescriptor) bool {
	if c, ok := compareVersions(a, b); ok && c != 0 {
		return c > 0
	}
	if !a.PublishedAt.IsZero() && !b.PublishedAt.IsZero() {
		return a.PublishedAt.After(b.PublishedAt)
	}
	return false
}

func compareVersions(a, b model.ReleaseDescriptor) (int, bool) {
	va, err := semver.NewVersion(model.NumericVersion(a.Version, a.Channel))
	if err != nil {
		return 0, false
	}
	vb, err := semver.NewVersion(model.NumericVersion(b.Version, b.Channel))
	if err != nil {
		return 0, false
	}
	return va.Compare(vb), true
}
