// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin loads marktime plugins and brokers the capabilities they
// declare.
//
// A Host reads the installed-plugin list from the core preferences, fetches
// every manifest from a Source, then loads plugins depth-first so that each
// plugin's dependencies are fully loaded (capabilities declared, initialize
// handlers settled) before its own entry chunk runs. Every plugin executes in
// its own sandbox and reaches other plugins only through the Context values
// the host hands it.
package plugin

import (
	"fmt"
	"io/fs"
	"path"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: must start with lowercase letter,
// followed by lowercase letters, digits, or hyphens.
// Cannot end with a hyphen. Single character names are allowed.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ValidName reports whether name can identify a plugin.
func ValidName(name string) bool {
	return len(name) <= maxNameLength && namePattern.MatchString(name)
}

// Author credits one plugin author. In YAML it may be written as a bare
// string or as a mapping with a name.
type Author struct {
	Name string `yaml:"name" json:"name"`
}

// UnmarshalYAML accepts both `- Ada` and `- name: Ada`.
func (a *Author) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		a.Name = node.Value
		return nil
	}
	type plain Author
	var p plain
	if err := node.Decode(&p); err != nil {
		return err //nolint:wrapcheck // yaml errors carry the position
	}
	*a = Author(p)
	return nil
}

// Dependency is one entry of a manifest's dependency mapping.
type Dependency struct {
	Name string
	// Constraint is a semver constraint; empty accepts any version.
	Constraint string
}

// Satisfied reports whether version meets the constraint.
func (d Dependency) Satisfied(version string) (bool, error) {
	if d.Constraint == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(d.Constraint)
	if err != nil {
		return false, oops.In("plugin").With("dependency", d.Name).With("constraint", d.Constraint).Wrap(err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, oops.In("plugin").With("dependency", d.Name).With("version", version).Wrap(err)
	}
	return c.Check(v), nil
}

// Dependencies is a manifest's dependency mapping in declaration order.
// Values may be true, null or "*" (any version) or a semver constraint.
type Dependencies []Dependency

// UnmarshalYAML decodes the mapping while keeping declaration order.
func (d *Dependencies) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		*d = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: dependencies must be a mapping", node.Line)
	}
	deps := make(Dependencies, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		dep := Dependency{Name: key.Value}
		switch value.Tag {
		case "!!null", "!!bool":
		case "!!str":
			if value.Value != "*" {
				dep.Constraint = value.Value
			}
		default:
			return fmt.Errorf("line %d: dependency %q must be true, null or a version constraint", value.Line, key.Value)
		}
		deps = append(deps, dep)
	}
	*d = deps
	return nil
}

// Names returns dependency names in declaration order.
func (d Dependencies) Names() []string {
	names := make([]string, len(d))
	for i, dep := range d {
		names[i] = dep.Name
	}
	return names
}

// Manifest represents a plugin.yaml file. Fields left empty are filled from
// the host-wide defaults by ApplyDefaults.
type Manifest struct {
	Main         string       `yaml:"main,omitempty" json:"main,omitempty" jsonschema:"description=Entry chunk relative to the plugin folder"`
	Name         string       `yaml:"name,omitempty" json:"name,omitempty" jsonschema:"pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$,maxLength=64"`
	Version      string       `yaml:"version,omitempty" json:"version,omitempty" jsonschema:"description=Semantic version"`
	Description  string       `yaml:"description,omitempty" json:"description,omitempty"`
	Authors      []Author     `yaml:"authors,omitempty" json:"authors,omitempty"`
	Dependencies Dependencies `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Permissions  []string     `yaml:"permissions,omitempty" json:"permissions,omitempty" jsonschema:"description=Capabilities this plugin may use as provider.capability globs"`
}

// ParseManifest checks data against the manifest schema and decodes it.
// Call ApplyDefaults and Validate before using the result.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return &m, nil
}

// ApplyDefaults fills empty fields. name is the installed plugin name.
func (m *Manifest) ApplyDefaults(name string, d Defaults) {
	if m.Name == "" {
		m.Name = name
	}
	if m.Main == "" {
		m.Main = d.Main
	}
	if m.Version == "" {
		m.Version = d.Version
	}
	if m.Description == "" {
		m.Description = d.Description
	}
	if len(m.Authors) == 0 && len(d.Authors) > 0 {
		m.Authors = append([]Author(nil), d.Authors...)
	}
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}
	if m.Main == "" {
		return fmt.Errorf("main is required")
	}
	if !fs.ValidPath(path.Clean(m.Main)) {
		return fmt.Errorf("main %q must be a relative path inside the plugin folder", m.Main)
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not a semantic version: %w", m.Version, err)
	}

	seen := make(map[string]bool, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		if dep.Name == m.Name {
			return fmt.Errorf("plugin cannot depend on itself")
		}
		if seen[dep.Name] {
			return fmt.Errorf("dependency %q is declared twice", dep.Name)
		}
		seen[dep.Name] = true
		if dep.Constraint != "" {
			if _, err := semver.NewConstraint(dep.Constraint); err != nil {
				return fmt.Errorf("dependency %q: invalid constraint %q: %w", dep.Name, dep.Constraint, err)
			}
		}
	}

	for i, p := range m.Permissions {
		if p == "" {
			return fmt.Errorf("permissions[%d] cannot be empty", i)
		}
	}
	return nil
}

// Defaults are the host-wide manifest fallbacks kept in the core
// preferences under plugin.config.
type Defaults struct {
	FolderRoot   string
	ManifestFile string
	Main         string
	Version      string
	Description  string
	Authors      []Author
}

// Preference keys of the defaults under plugin.config.
const (
	keyFolderRoot         = "folder_root"
	keyManifestFile       = "file_plugin"
	keyDefaultMain        = "default_main"
	keyDefaultVersion     = "default_version"
	keyDefaultDescription = "default_description"
	keyDefaultAuthors     = "default_authors"
)

// DefaultConfig returns the values plugin.config is initialized with.
func DefaultConfig() map[string]any {
	return map[string]any{
		keyFolderRoot:         "plugins",
		keyManifestFile:       "plugin.yaml",
		keyDefaultMain:        "main.lua",
		keyDefaultVersion:     "1.0.0",
		keyDefaultDescription: "No description",
		keyDefaultAuthors:     []any{},
	}
}

// DefaultsFromConfig reads Defaults out of a loaded plugin.config map.
// Missing or mistyped keys fall back to DefaultConfig.
func DefaultsFromConfig(cfg map[string]any) Defaults {
	fallback := DefaultConfig()
	str := func(key string) string {
		if s, ok := cfg[key].(string); ok {
			return s
		}
		return fallback[key].(string) //nolint:forcetypeassert // DefaultConfig holds strings
	}

	d := Defaults{
		FolderRoot:   str(keyFolderRoot),
		ManifestFile: str(keyManifestFile),
		Main:         str(keyDefaultMain),
		Version:      str(keyDefaultVersion),
		Description:  str(keyDefaultDescription),
	}
	if authors, ok := cfg[keyDefaultAuthors].([]any); ok {
		for _, a := range authors {
			switch v := a.(type) {
			case string:
				d.Authors = append(d.Authors, Author{Name: v})
			case map[string]any:
				if name, ok := v["name"].(string); ok {
					d.Authors = append(d.Authors, Author{Name: name})
				}
			}
		}
	}
	return d
}

// ManifestPath is where the manifest of plugin name is read from.
func (d Defaults) ManifestPath(name string) string {
	return path.Join(d.FolderRoot, name, d.ManifestFile)
}

// EntryPath is where the entry chunk main of plugin name is read from.
func (d Defaults) EntryPath(name, main string) string {
	return path.Join(d.FolderRoot, name, main)
}
