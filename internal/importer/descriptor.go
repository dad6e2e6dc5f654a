// Package importer turns YAML project descriptors produced by external build
// systems into workspace entities and re-imports them with ReplaceBySource.
package importer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"workspacemodel/internal/substitution"
)

// Descriptor is the YAML document describing one external project.
type Descriptor struct {
	Project     string       `yaml:"project"`
	Modules     []Module     `yaml:"modules"`
	Libraries   []Library    `yaml:"libraries"`
	Sdks        []Sdk        `yaml:"sdks"`
	Artifacts   []Artifact   `yaml:"artifacts"`
	Coordinates *Coordinates `yaml:"coordinates,omitempty"`
}

// Module describes a module and everything it owns.
type Module struct {
	Name         string        `yaml:"name"`
	Type         string        `yaml:"type,omitempty"`
	ContentRoots []ContentRoot `yaml:"content_roots,omitempty"`
	Facets       []Facet       `yaml:"facets,omitempty"`
	Settings     *Settings     `yaml:"settings,omitempty"`
	Dependencies []Dependency  `yaml:"dependencies,omitempty"`
}

// ContentRoot describes a content root of a module.
type ContentRoot struct {
	URL         string       `yaml:"url"`
	Excluded    []string     `yaml:"excluded,omitempty"`
	SourceRoots []SourceRoot `yaml:"source_roots,omitempty"`
}

// SourceRoot describes a source root inside a content root.
type SourceRoot struct {
	URL  string `yaml:"url"`
	Type string `yaml:"type"`
}

// Facet describes a module facet.
type Facet struct {
	Name          string `yaml:"name"`
	Type          string `yaml:"type"`
	Configuration string `yaml:"configuration,omitempty"`
}

// Settings describes java module settings.
type Settings struct {
	InheritOutput bool   `yaml:"inherit_output"`
	OutputURL     string `yaml:"output_url,omitempty"`
	LanguageLevel string `yaml:"language_level,omitempty"`
}

// Dependency is one module dependency; exactly one of Library and Module is set.
type Dependency struct {
	Library  string `yaml:"library,omitempty"`
	Module   string `yaml:"module,omitempty"`
	Scope    string `yaml:"scope,omitempty"`
	Exported bool   `yaml:"exported,omitempty"`
}

// Library describes a project library.
type Library struct {
	Name  string   `yaml:"name"`
	Roots []string `yaml:"roots,omitempty"`
}

// Sdk describes an SDK.
type Sdk struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Home string `yaml:"home,omitempty"`
}

// Artifact describes a build artifact and its packaging layout.
type Artifact struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Output  string   `yaml:"output,omitempty"`
	OnBuild bool     `yaml:"build_on_make,omitempty"`
	Root    *Element `yaml:"root,omitempty"`
}

// Element is one packaging element; exactly one kind field is set. Only
// directories and archives may have children.
type Element struct {
	Directory    string    `yaml:"directory,omitempty"`
	Archive      string    `yaml:"archive,omitempty"`
	File         string    `yaml:"file,omitempty"`
	LibraryFiles string    `yaml:"library_files,omitempty"`
	Children     []Element `yaml:"children,omitempty"`
}

// Coordinates lists artifact coordinates for dependency substitution.
type Coordinates struct {
	Modules   map[string]string `yaml:"modules,omitempty"`
	Libraries map[string]string `yaml:"libraries,omitempty"`
}

// Source returns c as a substitution source.
func (c Coordinates) Source() substitution.CoordinateSource {
	return substitution.Static{Modules: c.Modules, Libraries: c.Libraries}
}

// Parse decodes a descriptor. Unknown keys are rejected.
func Parse(r io.Reader) (Descriptor, error) {
	var d Descriptor
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return Descriptor{}, fmt.Errorf("parse descriptor: empty document")
		}
		return Descriptor{}, fmt.Errorf("parse descriptor: %w", err)
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// ParseFile decodes the descriptor stored at path.
func ParseFile(path string) (Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return Descriptor{}, err
	}
	defer f.Close()
	d, err := Parse(f)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// LoadCoordinates reads a standalone YAML coordinates file.
func LoadCoordinates(path string) (Coordinates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Coordinates{}, err
	}
	var c Coordinates
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Coordinates{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Validate checks the structural constraints the YAML schema cannot express.
func (d Descriptor) Validate() error {
	if d.Project == "" {
		return errors.New("descriptor: project is required")
	}
	seen := map[string]bool{}
	for _, m := range d.Modules {
		if m.Name == "" {
			return errors.New("descriptor: module without name")
		}
		if seen[m.Name] {
			return fmt.Errorf("descriptor: module %q declared twice", m.Name)
		}
		seen[m.Name] = true
		for _, dep := range m.Dependencies {
			if (dep.Library == "") == (dep.Module == "") {
				return fmt.Errorf("descriptor: module %q: dependency needs exactly one of library or module", m.Name)
			}
		}
	}
	for _, a := range d.Artifacts {
		if a.Root == nil {
			continue
		}
		if err := a.Root.validate(true); err != nil {
			return fmt.Errorf("descriptor: artifact %q: %w", a.Name, err)
		}
	}
	return nil
}

func (e Element) kinds() int {
	n := 0
	for _, s := range []string{e.Directory, e.Archive, e.File, e.LibraryFiles} {
		if s != "" {
			n++
		}
	}
	return n
}

func (e Element) composite() bool { return e.Directory != "" || e.Archive != "" }

func (e Element) validate(root bool) error {
	if e.kinds() != 1 {
		return errors.New("packaging element needs exactly one of directory, archive, file or library_files")
	}
	if root && !e.composite() {
		return errors.New("root element must be a directory or an archive")
	}
	if !e.composite() && len(e.Children) > 0 {
		return errors.New("only directories and archives have children")
	}
	for _, c := range e.Children {
		if err := c.validate(false); err != nil {
			return err
		}
	}
	return nil
}
