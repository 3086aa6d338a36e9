package registry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
	"github.com/ZebulonRouseFrantzich/toolup/internal/platform"
)

// scriptTimeout bounds a single compatibility script evaluation.
const scriptTimeout = time.Second

// Matcher decides whether a candidate version satisfies a "name=V" request.
// Both arguments are numeric versions without channel prefix or leading "v".
type Matcher interface {
	Compatible(requested, candidate string, target model.Platform) (bool, error)
}

// NewMatcher builds the compatibility rule declared by a component.
func NewMatcher(c model.Component) (Matcher, error) {
	switch c.Compat {
	case "", model.CompatPrefix:
		return prefixMatcher{}, nil
	case model.CompatTilde:
		return constraintMatcher{op: "~"}, nil
	case model.CompatCaret:
		return constraintMatcher{op: "^"}, nil
	case model.CompatLua:
		return compileScript(c.Name, c.CompatScript)
	default:
		return nil, fmt.Errorf("unknown compat rule %q", c.Compat)
	}
}

// prefixMatcher treats the requested version as a prefix of numeric
// components: "1.2" accepts "1.2.0" and "1.2.7" but not "1.20.0".
type prefixMatcher struct{}

func (prefixMatcher) Compatible(requested, candidate string, _ model.Platform) (bool, error) {
	want, err := numericParts(requested)
	if err != nil {
		return false, err
	}
	have, err := numericParts(candidate)
	if err != nil || len(have) < len(want) {
		return false, nil
	}
	for i := range want {
		if want[i] != have[i] {
			return false, nil
		}
	}
	return true, nil
}

func numericParts(v string) ([]int, error) {
	if v == "" {
		return nil, fmt.Errorf("empty version")
	}
	// Build metadata and prerelease suffixes never take part in the prefix.
	core, _, _ := strings.Cut(v, "+")
	core, _, _ = strings.Cut(core, "-")
	fields := strings.Split(core, ".")
	parts := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("version %q is not numeric", v)
		}
		parts[i] = n
	}
	return parts, nil
}

// constraintMatcher applies a semver range operator to the request.
type constraintMatcher struct {
	op string
}

func (m constraintMatcher) Compatible(requested, candidate string, _ model.Platform) (bool, error) {
	c, err := semver.NewConstraint(m.op + requested)
	if err != nil {
		return false, fmt.Errorf("version %q is not a valid constraint: %w", requested, err)
	}
	v, err := semver.NewVersion(candidate)
	if err != nil {
		return false, nil
	}
	return c.Check(v), nil
}

// scriptMatcher runs a sandboxed Lua chunk with globals requested,
// candidate and platform. The chunk must return a boolean.
type scriptMatcher struct {
	name  string
	proto *lua.FunctionProto
}

func compileScript(name, script string) (*scriptMatcher, error) {
	chunk, err := parse.Parse(strings.NewReader(script), name)
	if err != nil {
		return nil, fmt.Errorf("parse compat_script: %w", err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compile compat_script: %w", err)
	}
	return &scriptMatcher{name: name, proto: proto}, nil
}

func (m *scriptMatcher) Compatible(requested, candidate string, target model.Platform) (bool, error) {
	L := newSandboxedVM()
	defer L.Close()

	ctx, cancel := context.WithTimeout(context.Background(), scriptTimeout)
	defer cancel()
	L.SetContext(ctx)

	if err := platform.InjectPlatformTable(L, platform.FromTarget(target)); err != nil {
		return false, fmt.Errorf("inject platform table: %w", err)
	}
	L.SetGlobal("requested", lua.LString(requested))
	L.SetGlobal("candidate", lua.LString(candidate))

	L.Push(L.NewFunctionFromProto(m.proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return false, fmt.Errorf("compat_script for %s: %w", m.name, err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	b, ok := ret.(lua.LBool)
	if !ok {
		return false, fmt.Errorf("compat_script for %s returned %s, want boolean", m.name, ret.Type())
	}
	return bool(b), nil
}
