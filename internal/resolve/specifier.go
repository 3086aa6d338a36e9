// Package resolve turns a user specifier plus a list of available releases
// into one concrete version. Resolution is pure: it never performs I/O.
package resolve

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

// Form is the shape of a specifier.
type Form int

const (
	// FormLatest is a bare component name.
	FormLatest Form = iota
	// FormCompatible is "name=V".
	FormCompatible
	// FormExact is "name==V".
	FormExact
	// FormTag is "name@TAG".
	FormTag
)

// String returns the delimiter used by the form.
func (f Form) String() string {
	switch f {
	case FormCompatible:
		return "="
	case FormExact:
		return "=="
	case FormTag:
		return "@"
	default:
		return ""
	}
}

// Specifier is a parsed user request.
type Specifier struct {
	Component  string
	Form       Form
	Constraint string
	Raw        string
}

// String returns the canonical text form.
func (s Specifier) String() string {
	if s.Form == FormLatest {
		return s.Component
	}
	return s.Component + s.Form.String() + s.Constraint
}

// ParseSpecifier splits s on the first of "@", "==", "=" (in that order of
// precedence).
func ParseSpecifier(s string) (Specifier, error) {
	malformed := func(reason string) (Specifier, error) {
		return Specifier{}, &model.Error{
			Kind:   model.ErrMalformedSpecifier,
			Target: model.ResolvedTarget{Component: s},
			Err:    fmt.Errorf("%s", reason),
		}
	}

	if s == "" {
		return malformed("specifier is empty")
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return malformed("specifier must not contain whitespace")
	}

	spec := Specifier{Raw: s}
	var delim string
	switch {
	case strings.Contains(s, "@"):
		delim, spec.Form = "@", FormTag
	case strings.Contains(s, "=="):
		delim, spec.Form = "==", FormExact
	case strings.Contains(s, "="):
		delim, spec.Form = "=", FormCompatible
	default:
		spec.Component = s
		spec.Form = FormLatest
		if err := model.ValidatePathElement(s); err != nil {
			return malformed(err.Error())
		}
		return spec, nil
	}

	name, constraint, _ := strings.Cut(s, delim)
	if name == "" {
		return malformed("missing component name")
	}
	if constraint == "" {
		return malformed(fmt.Sprintf("missing version after %q", delim))
	}
	if strings.ContainsAny(constraint, "@=") {
		return malformed(fmt.Sprintf("unexpected delimiter in %q", constraint))
	}
	if err := model.ValidatePathElement(name); err != nil {
		return malformed(err.Error())
	}
	if err := model.ValidatePathElement(constraint); err != nil {
		return malformed(err.Error())
	}

	spec.Component = name
	spec.Constraint = constraint
	return spec, nil
}
