package source

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

// compiled asset patterns, keyed by rendered pattern text
var patternCache sync.Map

// sidecar suffixes never count as the primary asset of a platform.
var sidecarSuffixes = []string{".sha256", ".sha512", ".sig", ".asc", ".minisig", ".pem", ".sbom.json"}

// templateVars are the values substituted into an asset template.
type templateVars struct {
	Name    string
	Binary  string
	Version string
	Tag     string
	Channel string
	OS      string // may hold "a|b" alternatives
	Arch    string // may hold "a|b" alternatives
	Ext     string
	Asset   string
}

func varsFor(comp model.Component, rel model.ReleaseDescriptor, p model.Platform) templateVars {
	v := templateVars{
		Name:    comp.Name,
		Binary:  comp.Name,
		Version: model.NumericVersion(rel.Version, rel.Channel),
		Tag:     rel.Tag,
		Channel: rel.Channel,
		OS:      p.OS,
		Arch:    p.Arch,
	}
	if len(comp.Binaries) > 0 {
		v.Binary = comp.Binaries[0]
	}
	if name, ok := comp.OSNames[p.OS]; ok && name != "" {
		v.OS = name
	}
	if name, ok := comp.ArchNames[p.Arch]; ok && name != "" {
		v.Arch = name
	}
	if p.OS == "windows" {
		v.Ext = ".exe"
	}
	return v
}

// renderPattern turns a template into an anchored regular expression.
// Placeholders are replaced by their quoted values and "*" matches any run of
// characters. Unknown placeholders are kept literally.
func renderPattern(tmpl string, v templateVars) string {
	var b strings.Builder
	b.WriteString("^")

	for i := 0; i < len(tmpl); {
		switch tmpl[i] {
		case '*':
			b.WriteString(".*")
			i++
			continue
		case '{':
			end := strings.IndexByte(tmpl[i:], '}')
			if end > 0 {
				key := tmpl[i+1 : i+end]
				if val, ok := v.lookup(key); ok {
					b.WriteString(val)
					i += end + 1
					continue
				}
			}
		}
		b.WriteString(regexp.QuoteMeta(tmpl[i : i+1]))
		i++
	}

	b.WriteString("$")
	return b.String()
}

func (v templateVars) lookup(key string) (string, bool) {
	switch key {
	case "name":
		return regexp.QuoteMeta(v.Name), true
	case "binary":
		return regexp.QuoteMeta(v.Binary), true
	case "version":
		return "v?" + regexp.QuoteMeta(strings.TrimPrefix(v.Version, "v")), true
	case "tag":
		return regexp.QuoteMeta(v.Tag), true
	case "channel":
		return regexp.QuoteMeta(v.Channel), true
	case "os":
		return alternatives(v.OS), true
	case "arch":
		return alternatives(v.Arch), true
	case "ext":
		return regexp.QuoteMeta(v.Ext), true
	case "asset":
		return regexp.QuoteMeta(v.Asset), true
	default:
		return "", false
	}
}

func alternatives(s string) string {
	parts := strings.Split(s, "|")
	if len(parts) == 1 {
		return regexp.QuoteMeta(s)
	}
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return "(?:" + strings.Join(parts, "|") + ")"
}

// compilePattern compiles pattern at most once per process.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile asset pattern %q: %w", pattern, err)
	}
	actual, _ := patternCache.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp), nil
}

func isSidecar(name string) bool {
	for _, suffix := range sidecarSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// matchAsset returns the first asset matching any of the templates, tried in
// order.
func matchAsset(templates []string, v templateVars, assets []ghAsset) (ghAsset, bool, error) {
	for _, tmpl := range templates {
		re, err := compilePattern(renderPattern(tmpl, v))
		if err != nil {
			return ghAsset{}, false, err
		}
		for _, a := range assets {
			if isSidecar(a.Name) {
				continue
			}
			if re.MatchString(a.Name) {
				return a, true, nil
			}
		}
	}
	return ghAsset{}, false, nil
}

// matchSidecar finds the asset named by a sidecar template such as
// "{asset}.sha256" or "checksums.txt".
func matchSidecar(tmpl string, v templateVars, assets []ghAsset) (ghAsset, bool, error) {
	if tmpl == "" {
		return ghAsset{}, false, nil
	}
	re, err := compilePattern(renderPattern(tmpl, v))
	if err != nil {
		return ghAsset{}, false, err
	}
	for _, a := range assets {
		if re.MatchString(a.Name) {
			return a, true, nil
		}
	}
	return ghAsset{}, false, nil
}
