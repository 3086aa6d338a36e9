// Package registry holds the static component definitions. Definitions are
// read once at startup from the embedded defaults and an optional user file,
// validated, and never mutated afterwards.
package registry

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

//go:embed components.toml
var defaultComponents []byte

//go:embed components.schema.json
var schemaJSON []byte

const schemaURL = "https://github.com/ZebulonRouseFrantzich/toolup/components.schema.json"

// reservedNames cannot be used as component names because they collide with
// directories under the installation root.
var reservedNames = map[string]bool{
	"cache":    true,
	"keyrings": true,
	"bin":      true,
}

var requiredFields = []string{"name", "source", "repository", "asset"}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// Store is the immutable set of known components.
type Store struct {
	components []model.Component
	index      map[string]int
	compat     map[string]Matcher
}

// Load parses the embedded definitions and, if userFile is non-empty and
// exists, merges the user's definitions over them.
func Load(userFile string) (*Store, error) {
	builtin, err := Parse("built-in components", defaultComponents)
	if err != nil {
		return nil, err
	}

	sets := [][]model.Component{builtin}
	if userFile != "" {
		data, err := os.ReadFile(userFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read metadata file: %w", err)
		default:
			user, err := Parse(userFile, data)
			if err != nil {
				return nil, err
			}
			sets = append(sets, user)
		}
	}

	return New(sets...)
}

// New builds a store. Later sets replace components of the same name.
func New(sets ...[]model.Component) (*Store, error) {
	byName := map[string]model.Component{}
	for _, set := range sets {
		for _, c := range set {
			byName[c.Name] = c.Clone()
		}
	}

	s := &Store{
		index:  make(map[string]int, len(byName)),
		compat: make(map[string]Matcher, len(byName)),
	}
	for _, c := range byName {
		if err := validateComponent(c); err != nil {
			return nil, err
		}
		m, err := NewMatcher(c)
		if err != nil {
			return nil, fmt.Errorf("component %q: %w", c.Name, err)
		}
		s.components = append(s.components, c)
		s.compat[c.Name] = m
	}

	sort.Slice(s.components, func(i, j int) bool {
		return s.components[i].Name < s.components[j].Name
	})
	for i, c := range s.components {
		s.index[c.Name] = i
	}
	return s, nil
}

// Get returns a copy of the named component.
func (s *Store) Get(name string) (model.Component, error) {
	i, ok := s.index[name]
	if !ok {
		return model.Component{}, &model.Error{
			Kind:   model.ErrNoSuchComponent,
			Target: model.ResolvedTarget{Component: name},
			Err:    fmt.Errorf("known components: %s", strings.Join(s.Names(), ", ")),
		}
	}
	return s.components[i].Clone(), nil
}

// Contains reports whether the component is known.
func (s *Store) Contains(name string) bool {
	_, ok := s.index[name]
	return ok
}

// All returns copies of every component, sorted by name.
func (s *Store) All() []model.Component {
	out := make([]model.Component, len(s.components))
	for i, c := range s.components {
		out[i] = c.Clone()
	}
	return out
}

// Names returns the sorted component names.
func (s *Store) Names() []string {
	names := make([]string, len(s.components))
	for i, c := range s.components {
		names[i] = c.Name
	}
	return names
}

// Self returns the component describing this tool.
func (s *Store) Self() (model.Component, error) {
	for _, c := range s.components {
		if c.Source == model.SourceSelf {
			return c.Clone(), nil
		}
	}
	return model.Component{}, &model.Error{
		Kind: model.ErrNoSuchComponent,
		Err:  errors.New("no component with source \"self\" is defined"),
	}
}

// Matcher returns the compatibility rule of the named component.
func (s *Store) Matcher(name string) (Matcher, error) {
	m, ok := s.compat[name]
	if !ok {
		return nil, &model.Error{Kind: model.ErrNoSuchComponent, Target: model.ResolvedTarget{Component: name}}
	}
	return m, nil
}

// Parse decodes and validates one definitions document. source names the
// document in error messages.
func Parse(source string, data []byte) ([]model.Component, error) {
	var raw map[string]interface{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: parse toml: %w", source, err)
	}
	if err := checkRequired(source, raw); err != nil {
		return nil, err
	}
	if err := validateSchema(raw); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	var doc struct {
		Components []model.Component `toml:"component"`
	}
	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, fmt.Errorf("%s: decode components: %w", source, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown keys: %v", source, undecoded)
	}

	seen := map[string]bool{}
	for i := range doc.Components {
		c := &doc.Components[i]
		if seen[c.Name] {
			return nil, fmt.Errorf("%s: component %q defined twice", source, c.Name)
		}
		seen[c.Name] = true
		applyDefaults(c)
		if err := validateComponent(*c); err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
	}
	return doc.Components, nil
}

// checkRequired reports the first missing required field by component name
// so the message points at the offending definition.
func checkRequired(source string, raw map[string]interface{}) error {
	entries, _ := raw["component"].([]map[string]interface{})
	for i, entry := range entries {
		name, _ := entry["name"].(string)
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
		}
		for _, field := range requiredFields {
			if _, ok := entry[field]; !ok {
				return fmt.Errorf("%s: component %q: missing required field %q", source, name, field)
			}
		}
	}
	return nil
}

func validateSchema(raw map[string]interface{}) error {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("load schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
	})
	if schemaErr != nil {
		return schemaErr
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("convert to json: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("convert to json: %w", err)
	}
	if err := compiledSchema.Validate(inst); err != nil {
		return fmt.Errorf("invalid component definitions: %w", err)
	}
	return nil
}

func applyDefaults(c *model.Component) {
	if len(c.Binaries) == 0 {
		c.Binaries = []string{c.Name}
	}
	if c.DefaultChannel == "" && len(c.Channels) > 0 {
		c.DefaultChannel = c.Channels[0]
	}
	if c.Compat == "" {
		c.Compat = model.CompatPrefix
	}
}

func validateComponent(c model.Component) error {
	if c.Name == "" || strings.HasPrefix(c.Name, ".") || reservedNames[c.Name] {
		return fmt.Errorf("component name %q is reserved or empty", c.Name)
	}
	if !c.Source.IsValid() {
		return fmt.Errorf("component %q: unknown source %q", c.Name, c.Source)
	}
	if c.Repository == "" {
		return fmt.Errorf("component %q: missing required field %q", c.Name, "repository")
	}
	if len(c.AssetTemplates) == 0 {
		return fmt.Errorf("component %q: missing required field %q", c.Name, "asset")
	}
	if c.DefaultChannel != "" && !c.HasChannel(c.DefaultChannel) {
		return fmt.Errorf("component %q: default channel %q is not in channels", c.Name, c.DefaultChannel)
	}
	for _, d := range c.DebugBinaries {
		for _, b := range c.Binaries {
			if d == b {
				return fmt.Errorf("component %q: %q is both a binary and a debug binary", c.Name, d)
			}
		}
	}
	if c.Compat == model.CompatLua && strings.TrimSpace(c.CompatScript) == "" {
		return fmt.Errorf("component %q: compat = \"lua\" requires compat_script", c.Name)
	}
	return nil
}
