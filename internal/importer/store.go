package importer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"slices"

	"gopkg.in/yaml.v3"

	"workspacemodel/internal/blob"
)

// LoadDescriptors parses every .yaml or .yml blob under prefix, in key order.
func LoadDescriptors(ctx context.Context, store blob.Store, prefix string) ([]Descriptor, error) {
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list descriptors: %w", err)
	}
	var out []Descriptor
	for _, key := range keys {
		if ext := path.Ext(key); ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := blob.ReadAll(ctx, store, key)
		if err != nil {
			return nil, err
		}
		d, err := Parse(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, d)
	}
	return out, nil
}

type reportDoc struct {
	Project     string         `yaml:"project"`
	Changes     map[string]int `yaml:"changes"`
	Substituted int            `yaml:"substituted"`
	Restored    int            `yaml:"restored"`
	Modules     []string       `yaml:"modules,omitempty"`
	Violations  []string       `yaml:"violations,omitempty"`
}

// MarshalYAML renders the report as a summary document.
func (r Report) MarshalYAML() (any, error) {
	doc := reportDoc{
		Project:     r.Project,
		Changes:     map[string]int{},
		Substituted: r.Substitution.Substituted,
		Restored:    r.Substitution.Restored,
		Modules:     slices.Clone(r.Substitution.Modules),
	}
	for kind, n := range r.Counts() {
		doc.Changes[string(kind)] = n
	}
	for _, v := range r.Violations {
		doc.Violations = append(doc.Violations, fmt.Sprintf("%s %s %s: %s", v.Severity, v.Rule, v.EntityID, v.Message))
	}
	return doc, nil
}

// SaveReports writes reports as one YAML stream to key.
func SaveReports(ctx context.Context, store blob.Store, key string, reports []Report) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	for _, r := range reports {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return store.Put(ctx, key, &buf, "application/yaml")
}
