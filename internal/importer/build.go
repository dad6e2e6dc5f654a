package importer

import (
	"fmt"

	"workspacemodel/internal/jps"
	"workspacemodel/internal/storage"
	"workspacemodel/pkg/domain"
)

// Source is the entity source recorded for everything imported from d by
// system.
func (d Descriptor) Source(system string) domain.ExternalSource {
	return domain.ExternalSource{System: system, ProjectPath: d.Project}
}

// Build materializes d as a standalone snapshot whose entities carry the
// source of system. The snapshot is meant as the replacement argument of
// ReplaceBySource.
func (d Descriptor) Build(system string) (*storage.Snapshot, error) {
	src := d.Source(system)
	b := storage.NewBuilder(jps.Schema())
	add := func(draft *storage.Draft) (storage.Entity, error) {
		e, err := b.AddEntity(draft)
		if err != nil {
			return storage.Entity{}, fmt.Errorf("build %s: %w", draft.Type(), err)
		}
		return e, nil
	}

	for _, lib := range d.Libraries {
		if _, err := add(jps.NewLibrary(lib.Name, src, lib.Roots...)); err != nil {
			return nil, err
		}
	}
	for _, sdk := range d.Sdks {
		draft := jps.NewSdk(sdk.Name, sdk.Type, src)
		if sdk.Home != "" {
			draft.Set("home", domain.String(sdk.Home))
		}
		if _, err := add(draft); err != nil {
			return nil, err
		}
	}
	for _, m := range d.Modules {
		if err := buildModule(add, m, src); err != nil {
			return nil, fmt.Errorf("module %q: %w", m.Name, err)
		}
	}
	for _, a := range d.Artifacts {
		if err := buildArtifact(add, a, src); err != nil {
			return nil, fmt.Errorf("artifact %q: %w", a.Name, err)
		}
	}
	return b.ToStorage()
}

type addFunc func(*storage.Draft) (storage.Entity, error)

func buildModule(add addFunc, m Module, src domain.EntitySource) error {
	deps := make([]jps.Dependency, 0, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		scope, err := jps.ParseScope(dep.Scope)
		if err != nil {
			return err
		}
		if dep.Library != "" {
			deps = append(deps, jps.OnLibrary(dep.Library, dep.Exported, scope))
		} else {
			deps = append(deps, jps.OnModule(dep.Module, dep.Exported, scope))
		}
	}
	draft := jps.NewModule(m.Name, src, deps...)
	if m.Type != "" {
		draft.Set("type", domain.String(m.Type))
	}
	mod, err := add(draft)
	if err != nil {
		return err
	}

	for _, cr := range m.ContentRoots {
		d := jps.NewContentRoot(mod.ID(), cr.URL, src)
		if len(cr.Excluded) > 0 {
			d.Set("excluded", domain.NewStrings(cr.Excluded...))
		}
		root, err := add(d)
		if err != nil {
			return err
		}
		for _, sr := range cr.SourceRoots {
			if _, err := add(jps.NewSourceRoot(root.ID(), sr.URL, sr.Type, src)); err != nil {
				return err
			}
		}
	}
	for _, f := range m.Facets {
		d := jps.NewFacet(mod.ID(), f.Name, f.Type, src)
		if f.Configuration != "" {
			d.Set("configuration", domain.String(f.Configuration))
		}
		if _, err := add(d); err != nil {
			return err
		}
	}
	if s := m.Settings; s != nil {
		d := jps.NewModuleSettings(mod.ID(), s.InheritOutput, src)
		if s.OutputURL != "" {
			d.Set("output_url", domain.String(s.OutputURL))
		}
		if s.LanguageLevel != "" {
			d.Set("language_level", domain.String(s.LanguageLevel))
		}
		if _, err := add(d); err != nil {
			return err
		}
	}
	return nil
}

func buildArtifact(add addFunc, a Artifact, src domain.EntitySource) error {
	d := jps.NewArtifact(a.Name, a.Type, src).Set("include_in_build", domain.Bool(a.OnBuild))
	if a.Output != "" {
		d.Set("output_url", domain.String(a.Output))
	}
	art, err := add(d)
	if err != nil {
		return err
	}
	if a.Root == nil {
		return nil
	}
	return buildElement(add, *a.Root, jps.ArtifactRoot, art.ID(), src)
}

func buildElement(add addFunc, e Element, conn domain.ConnectionID, parent domain.EntityID, src domain.EntitySource) error {
	var d *storage.Draft
	switch {
	case e.Directory != "":
		d = jps.NewDirectory(e.Directory, src)
	case e.Archive != "":
		d = jps.NewArchive(e.Archive, src)
	case e.File != "":
		d = jps.NewFileCopy(e.File, src)
	default:
		d = jps.NewLibraryFiles(e.LibraryFiles, src)
	}
	el, err := add(d.WithParent(conn, parent))
	if err != nil {
		return err
	}
	for _, c := range e.Children {
		if err := buildElement(add, c, jps.CompositeChildren, el.ID(), src); err != nil {
			return err
		}
	}
	return nil
}
