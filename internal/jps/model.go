// Package jps declares the project structure model stored in the workspace:
// modules and their roots, libraries, SDKs, facets, artifacts with their
// packaging element trees, and dependency substitution records.
package jps

import (
	"sync"

	"workspacemodel/pkg/domain"
)

// Entity types of the project model.
const (
	ModuleType         domain.EntityType = "module"
	LibraryType        domain.EntityType = "library"
	SdkType            domain.EntityType = "sdk"
	ContentRootType    domain.EntityType = "content_root"
	SourceRootType     domain.EntityType = "source_root"
	FacetType          domain.EntityType = "facet"
	ModuleSettingsType domain.EntityType = "java_module_settings"
	ArtifactType       domain.EntityType = "artifact"
	SubstitutionType   domain.EntityType = "dependency_substitution"

	// PackagingElementType is the abstract base of every packaging element.
	PackagingElementType domain.EntityType = "packaging_element"
	// CompositeElementType is the abstract base of elements that hold children.
	CompositeElementType    domain.EntityType = "composite_packaging_element"
	DirectoryElementType    domain.EntityType = "directory_packaging_element"
	ArchiveElementType      domain.EntityType = "archive_packaging_element"
	FileCopyElementType     domain.EntityType = "file_copy_packaging_element"
	LibraryFilesElementType domain.EntityType = "library_files_packaging_element"
)

// Connections of the project model.
var (
	ModuleContentRoots = domain.ConnectionID{Name: "module_content_roots", Parent: ModuleType, Child: ContentRootType, Kind: domain.OneToMany}
	ContentSourceRoots = domain.ConnectionID{Name: "content_root_source_roots", Parent: ContentRootType, Child: SourceRootType, Kind: domain.OneToMany}
	ModuleFacets       = domain.ConnectionID{Name: "module_facets", Parent: ModuleType, Child: FacetType, Kind: domain.OneToMany}
	ModuleSettings     = domain.ConnectionID{Name: "module_java_settings", Parent: ModuleType, Child: ModuleSettingsType, Kind: domain.OneToOne}
	ModuleSubstitution = domain.ConnectionID{Name: "module_dependency_substitutions", Parent: ModuleType, Child: SubstitutionType, Kind: domain.OneToMany, ParentNullable: true}
	ArtifactRoot       = domain.ConnectionID{Name: "artifact_root_element", Parent: ArtifactType, Child: CompositeElementType, Kind: domain.OneToOne, ParentNullable: true}
	CompositeChildren  = domain.ConnectionID{Name: "composite_children", Parent: CompositeElementType, Child: PackagingElementType, Kind: domain.OneToAbstractMany, ParentNullable: true}
)

// Field names shared by several types.
const (
	FieldName = "name"
	FieldURL  = "url"
)

var schema = sync.OnceValue(func() *domain.Schema {
	str := func(name string, key bool) domain.FieldSpec {
		return domain.FieldSpec{Name: name, Kind: domain.KindString, Key: key}
	}
	opt := func(name string, kind domain.ValueKind) domain.FieldSpec {
		return domain.FieldSpec{Name: name, Kind: kind, Nullable: true}
	}
	composite := []domain.EntityType{CompositeElementType}
	element := []domain.EntityType{PackagingElementType}
	return domain.MustSchema([]domain.TypeSpec{
		{Type: ModuleType, Fields: []domain.FieldSpec{
			str(FieldName, true),
			opt("type", domain.KindString),
			opt("dependencies", KindDependencies),
		}},
		{Type: LibraryType, Fields: []domain.FieldSpec{
			str(FieldName, true),
			str("level", true),
			opt("roots", domain.KindStrings),
		}},
		{Type: SdkType, Fields: []domain.FieldSpec{
			str(FieldName, true),
			str("type", false),
			opt("home", domain.KindString),
		}},
		{Type: ContentRootType, Fields: []domain.FieldSpec{
			str(FieldURL, true),
			opt("excluded", domain.KindStrings),
		}},
		{Type: SourceRootType, Fields: []domain.FieldSpec{
			str(FieldURL, true),
			str("root_type", false),
		}},
		{Type: FacetType, Fields: []domain.FieldSpec{
			str(FieldName, true),
			str("facet_type", true),
			opt("configuration", domain.KindString),
		}},
		{Type: ModuleSettingsType, Fields: []domain.FieldSpec{
			{Name: "inherit_output", Kind: domain.KindBool},
			opt("output_url", domain.KindString),
			opt("language_level", domain.KindString),
		}},
		{Type: ArtifactType, Fields: []domain.FieldSpec{
			str(FieldName, true),
			str("artifact_type", false),
			{Name: "include_in_build", Kind: domain.KindBool},
			opt("output_url", domain.KindString),
		}},
		{Type: SubstitutionType, Fields: []domain.FieldSpec{
			str("library", true),
			str("module", true),
			str("coordinate", false),
			opt("exported", domain.KindBool),
			opt("scope", domain.KindString),
		}},
		{Type: PackagingElementType, Abstract: true},
		{Type: CompositeElementType, Abstract: true, Supertypes: element},
		{Type: DirectoryElementType, Supertypes: composite, Fields: []domain.FieldSpec{str("directory_name", true)}},
		{Type: ArchiveElementType, Supertypes: composite, Fields: []domain.FieldSpec{str("file_name", true)}},
		{Type: FileCopyElementType, Supertypes: element, Fields: []domain.FieldSpec{
			str("file_path", true),
			opt("renamed_output", domain.KindString),
		}},
		{Type: LibraryFilesElementType, Supertypes: element, Fields: []domain.FieldSpec{str("library", true)}},
	}, []domain.ConnectionID{
		ModuleContentRoots,
		ContentSourceRoots,
		ModuleFacets,
		ModuleSettings,
		ModuleSubstitution,
		ArtifactRoot,
		CompositeChildren,
	})
})

// Schema returns the project model contract.
func Schema() *domain.Schema {
	return schema()
}
