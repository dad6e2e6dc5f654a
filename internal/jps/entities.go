package jps

import (
	"fmt"

	"workspacemodel/internal/storage"
	"workspacemodel/pkg/domain"
)

// Library levels.
const (
	ProjectLevel = "project"
	ModuleLevel  = "module"
)

// NewModule starts a module draft.
func NewModule(name string, src domain.EntitySource, deps ...Dependency) *storage.Draft {
	d := storage.NewDraft(ModuleType, src).Set(FieldName, domain.String(name))
	if len(deps) > 0 {
		d.Set("dependencies", NewDependencies(deps...))
	}
	return d
}

// NewLibrary starts a project-level library draft.
func NewLibrary(name string, src domain.EntitySource, roots ...string) *storage.Draft {
	d := storage.NewDraft(LibraryType, src).
		Set(FieldName, domain.String(name)).
		Set("level", domain.String(ProjectLevel))
	if len(roots) > 0 {
		d.Set("roots", domain.NewStrings(roots...))
	}
	return d
}

// NewSdk starts an SDK draft.
func NewSdk(name, sdkType string, src domain.EntitySource) *storage.Draft {
	return storage.NewDraft(SdkType, src).
		Set(FieldName, domain.String(name)).
		Set("type", domain.String(sdkType))
}

// NewContentRoot starts a content root draft under module.
func NewContentRoot(module domain.EntityID, url string, src domain.EntitySource) *storage.Draft {
	return storage.NewDraft(ContentRootType, src).
		Set(FieldURL, domain.String(url)).
		WithParent(ModuleContentRoots, module)
}

// NewSourceRoot starts a source root draft under a content root.
func NewSourceRoot(contentRoot domain.EntityID, url, rootType string, src domain.EntitySource) *storage.Draft {
	return storage.NewDraft(SourceRootType, src).
		Set(FieldURL, domain.String(url)).
		Set("root_type", domain.String(rootType)).
		WithParent(ContentSourceRoots, contentRoot)
}

// NewFacet starts a facet draft under module.
func NewFacet(module domain.EntityID, name, facetType string, src domain.EntitySource) *storage.Draft {
	return storage.NewDraft(FacetType, src).
		Set(FieldName, domain.String(name)).
		Set("facet_type", domain.String(facetType)).
		WithParent(ModuleFacets, module)
}

// NewModuleSettings starts the java settings draft of module.
func NewModuleSettings(module domain.EntityID, inheritOutput bool, src domain.EntitySource) *storage.Draft {
	return storage.NewDraft(ModuleSettingsType, src).
		Set("inherit_output", domain.Bool(inheritOutput)).
		WithParent(ModuleSettings, module)
}

// NewArtifact starts an artifact draft. The root element is attached
// separately through ArtifactRoot.
func NewArtifact(name, artifactType string, src domain.EntitySource) *storage.Draft {
	return storage.NewDraft(ArtifactType, src).
		Set(FieldName, domain.String(name)).
		Set("artifact_type", domain.String(artifactType)).
		Set("include_in_build", domain.Bool(false))
}

// NewDirectory starts a directory packaging element.
func NewDirectory(name string, src domain.EntitySource) *storage.Draft {
	return storage.NewDraft(DirectoryElementType, src).Set("directory_name", domain.String(name))
}

// NewArchive starts an archive packaging element.
func NewArchive(fileName string, src domain.EntitySource) *storage.Draft {
	return storage.NewDraft(ArchiveElementType, src).Set("file_name", domain.String(fileName))
}

// NewFileCopy starts a file copy packaging element.
func NewFileCopy(path string, src domain.EntitySource) *storage.Draft {
	return storage.NewDraft(FileCopyElementType, src).Set("file_path", domain.String(path))
}

// NewLibraryFiles starts a packaging element copying the files of library.
func NewLibraryFiles(library string, src domain.EntitySource) *storage.Draft {
	return storage.NewDraft(LibraryFilesElementType, src).Set("library", domain.String(library))
}

// NewSubstitution records that module's dependency on library was replaced
// by a dependency on replacement, identified by coordinate. The flags of the
// replaced library dependency are kept so the rewrite can be reversed.
func NewSubstitution(module domain.EntityID, library Dependency, replacement, coordinate string, src domain.EntitySource) *storage.Draft {
	d := storage.NewDraft(SubstitutionType, src).
		Set("library", domain.String(library.Name)).
		Set("module", domain.String(replacement)).
		Set("coordinate", domain.String(coordinate)).
		Set("exported", domain.Bool(library.Exported)).
		WithParent(ModuleSubstitution, module)
	if library.Scope != "" {
		d.Set("scope", domain.String(library.Scope))
	}
	return d
}

// Module is a typed view over a module entity.
type Module struct{ storage.Entity }

// Name returns the module name.
func (m Module) Name() (string, error) { return m.Text(FieldName) }

// Dependencies returns the module dependency list.
func (m Module) Dependencies() (Dependencies, error) {
	v, err := m.Value("dependencies")
	if err != nil || v == nil {
		return nil, err
	}
	deps, ok := v.(Dependencies)
	if !ok {
		return nil, fmt.Errorf("module %s: dependencies field holds %s", m.ID(), v.Kind())
	}
	return deps, nil
}

// ContentRoots returns the content roots of the module.
func (m Module) ContentRoots(r storage.Reader) ([]storage.Entity, error) {
	return storage.OneToManyChildren(r, ModuleContentRoots, m.ID())
}

// Settings returns the java settings of the module, if any.
func (m Module) Settings(r storage.Reader) (storage.Entity, bool, error) {
	return storage.OneToOneChild(r, ModuleSettings, m.ID())
}

// Substitutions returns the substitution records of the module.
func (m Module) Substitutions(r storage.Reader) ([]Substitution, error) {
	kids, err := storage.OneToManyChildren(r, ModuleSubstitution, m.ID())
	if err != nil {
		return nil, err
	}
	out := make([]Substitution, len(kids))
	for i, k := range kids {
		out[i] = Substitution{k}
	}
	return out, nil
}

// Substitution is a typed view over a dependency_substitution entity.
type Substitution struct{ storage.Entity }

// Library is the name of the library dependency that was replaced.
func (s Substitution) Library() (string, error) { return s.Text("library") }

// Module is the name of the module that replaced it.
func (s Substitution) Module() (string, error) { return s.Text("module") }

// Coordinate is the artifact coordinate shared by library and module.
func (s Substitution) Coordinate() (string, error) { return s.Text("coordinate") }

// Replaced rebuilds the library dependency the record stands for.
func (s Substitution) Replaced() (Dependency, error) {
	name, err := s.Library()
	if err != nil {
		return Dependency{}, err
	}
	exported, err := s.Flag("exported")
	if err != nil {
		return Dependency{}, err
	}
	scope, err := s.Text("scope")
	if err != nil {
		return Dependency{}, err
	}
	return OnLibrary(name, exported, Scope(scope)), nil
}

// Modules returns typed views over every module in r.
func Modules(r storage.Reader) []Module {
	var out []Module
	for e := range r.Entities(ModuleType) {
		out = append(out, Module{e})
	}
	return out
}

// FindModule returns the module called name.
func FindModule(r storage.Reader, name string) (Module, bool) {
	return findNamed[Module](r, ModuleType, name, func(e storage.Entity) Module { return Module{e} })
}

// FindLibrary returns the library called name.
func FindLibrary(r storage.Reader, name string) (storage.Entity, bool) {
	return findNamed(r, LibraryType, name, func(e storage.Entity) storage.Entity { return e })
}

func findNamed[T any](r storage.Reader, t domain.EntityType, name string, wrap func(storage.Entity) T) (T, bool) {
	for e := range r.Entities(t) {
		if got, err := e.Text(FieldName); err == nil && got == name {
			return wrap(e), true
		}
	}
	var zero T
	return zero, false
}

// ArtifactElements walks the packaging element tree of artifact depth first,
// returning the root followed by its descendants.
func ArtifactElements(r storage.Reader, artifact domain.EntityID) ([]storage.Entity, error) {
	root, ok, err := storage.OneToOneChild(r, ArtifactRoot, artifact)
	if err != nil || !ok {
		return nil, err
	}
	var out []storage.Entity
	var walk func(e storage.Entity) error
	walk = func(e storage.Entity) error {
		out = append(out, e)
		if !r.Schema().IsA(e.Type(), CompositeElementType) {
			return nil
		}
		kids, err := storage.OneToAbstractManyChildren(r, CompositeChildren, e.ID())
		if err != nil {
			return err
		}
		for _, k := range kids {
			if err := walk(k); err != nil {
				return err
			}
		}
		return nil
	}
	return out, walk(root)
}
