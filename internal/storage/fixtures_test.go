package storage

import (
	"testing"

	"workspacemodel/pkg/domain"
)

const (
	typeModule      domain.EntityType = "module"
	typeContentRoot domain.EntityType = "content_root"
	typeSettings    domain.EntityType = "settings"
	typeNote        domain.EntityType = "note"
	typeElement     domain.EntityType = "element"
	typeComposite   domain.EntityType = "composite"
	typeDirectory   domain.EntityType = "directory"
	typeFile        domain.EntityType = "file"
)

var (
	connContentRoots = domain.ConnectionID{Name: "module_content_roots", Parent: typeModule, Child: typeContentRoot, Kind: domain.OneToMany}
	connSettings     = domain.ConnectionID{Name: "module_settings", Parent: typeModule, Child: typeSettings, Kind: domain.OneToOne}
	connNotes        = domain.ConnectionID{Name: "module_notes", Parent: typeModule, Child: typeNote, Kind: domain.OneToMany, ParentNullable: true}
	connElements     = domain.ConnectionID{Name: "composite_children", Parent: typeComposite, Child: typeElement, Kind: domain.OneToAbstractMany, ParentNullable: true}

	testSchema = domain.MustSchema([]domain.TypeSpec{
		{Type: typeModule, Fields: []domain.FieldSpec{
			{Name: "name", Kind: domain.KindString, Key: true},
			{Name: "kind", Kind: domain.KindString, Nullable: true},
		}},
		{Type: typeContentRoot, Fields: []domain.FieldSpec{
			{Name: "url", Kind: domain.KindString, Key: true},
			{Name: "excluded", Kind: domain.KindStrings, Nullable: true},
		}},
		{Type: typeSettings, Fields: []domain.FieldSpec{
			{Name: "level", Kind: domain.KindString, Nullable: true},
		}},
		{Type: typeNote, Fields: []domain.FieldSpec{
			{Name: "text", Kind: domain.KindString},
		}},
		{Type: typeElement, Abstract: true},
		{Type: typeComposite, Abstract: true, Supertypes: []domain.EntityType{typeElement}},
		{Type: typeDirectory, Supertypes: []domain.EntityType{typeComposite}, Fields: []domain.FieldSpec{
			{Name: "name", Kind: domain.KindString, Key: true},
		}},
		{Type: typeFile, Supertypes: []domain.EntityType{typeElement}, Fields: []domain.FieldSpec{
			{Name: "path", Kind: domain.KindString, Key: true},
		}},
	}, []domain.ConnectionID{connContentRoots, connSettings, connNotes, connElements})

	userSource   = domain.FileSource{URL: "project.ipr"}
	gradleSource = domain.ExternalSource{System: "gradle", ProjectPath: "/work/app"}
)

func moduleDraft(name string, src domain.EntitySource) *Draft {
	return NewDraft(typeModule, src).Set("name", domain.String(name))
}

func mustAdd(t *testing.T, b *Builder, d *Draft) Entity {
	t.Helper()
	e, err := b.AddEntity(d)
	if err != nil {
		t.Fatalf("add %s: %v", d.Type(), err)
	}
	return e
}

func mustText(t *testing.T, e Entity, field string) string {
	t.Helper()
	s, err := e.Text(field)
	if err != nil {
		t.Fatalf("read %s.%s: %v", e.Type(), field, err)
	}
	return s
}

func mustSnapshot(t *testing.T, b *Builder) *Snapshot {
	t.Helper()
	s, err := b.ToStorage()
	if err != nil {
		t.Fatalf("to storage: %v", err)
	}
	return s
}

func names(t *testing.T, r Reader, typ domain.EntityType, field string) []string {
	t.Helper()
	var out []string
	for e := range r.Entities(typ) {
		out = append(out, mustText(t, e, field))
	}
	return out
}

func rename(name string) func(*MutableEntity) error {
	return func(m *MutableEntity) error {
		return m.Set("name", domain.String(name))
	}
}
