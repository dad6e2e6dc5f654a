package storage

import (
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"workspacemodel/pkg/domain"
)

func TestAddResolveAndIterate(t *testing.T) {
	b := NewBuilder(testSchema)
	app := mustAdd(t, b, moduleDraft("app", userSource))
	lib := mustAdd(t, b, moduleDraft("lib", userSource))

	if app.ID() == lib.ID() {
		t.Fatalf("ids must be unique")
	}
	if got := names(t, b, typeModule, "name"); !slices.Equal(got, []string{"app", "lib"}) {
		t.Fatalf("builder order = %v", got)
	}
	snap := mustSnapshot(t, b)
	if snap.Len() != 2 || snap.Count(typeModule) != 2 {
		t.Fatalf("snapshot size = %d", snap.Len())
	}
	e, ok := snap.Resolve(lib.ID())
	if !ok || mustText(t, e, "name") != "lib" {
		t.Fatalf("resolve lib failed")
	}
	if got := names(t, snap, typeModule, "name"); !slices.Equal(got, []string{"app", "lib"}) {
		t.Fatalf("snapshot order = %v", got)
	}
}

func TestResolveForeignLineage(t *testing.T) {
	a := NewBuilder(testSchema)
	other := NewBuilder(testSchema)
	e := mustAdd(t, other, moduleDraft("x", userSource))
	if _, ok := a.Resolve(e.ID()); ok {
		t.Fatalf("foreign id must not resolve")
	}
	var foreign domain.ForeignEntityError
	if _, err := a.Children(connContentRoots, e.ID()); !errors.As(err, &foreign) {
		t.Fatalf("expected ForeignEntityError, got %v", err)
	}
	snap := mustSnapshot(t, a)
	if _, _, err := snap.Parent(connContentRoots, e.ID()); !errors.As(err, &foreign) {
		t.Fatalf("expected ForeignEntityError from snapshot, got %v", err)
	}
}

func TestAddValidation(t *testing.T) {
	b := NewBuilder(testSchema)
	mod := mustAdd(t, b, moduleDraft("app", userSource))

	cases := []struct {
		name  string
		draft *Draft
		check func(error) bool
	}{
		{
			name:  "missing required field",
			draft: NewDraft(typeModule, userSource),
			check: func(err error) bool {
				var e domain.UninitializedFieldError
				return errors.As(err, &e) && e.Field == "name"
			},
		},
		{
			name:  "missing required parent",
			draft: NewDraft(typeContentRoot, userSource).Set("url", domain.String("file:///a")),
			check: func(err error) bool {
				var e domain.UninitializedFieldError
				return errors.As(err, &e) && e.Field == connContentRoots.Name
			},
		},
		{
			name:  "wrong kind",
			draft: moduleDraft("x", userSource).Set("kind", domain.Bool(true)),
			check: func(err error) bool {
				var e domain.SchemaViolationError
				return errors.As(err, &e)
			},
		},
		{
			name:  "abstract type",
			draft: NewDraft(typeComposite, userSource),
			check: func(err error) bool {
				var e domain.SchemaViolationError
				return errors.As(err, &e)
			},
		},
		{
			name:  "wrong parent type",
			draft: NewDraft(typeNote, userSource).Set("text", domain.String("n")).WithParent(connElements, mod.ID()),
			check: func(err error) bool {
				var e domain.CardinalityViolationError
				return errors.As(err, &e)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := b.ModificationCount()
			if _, err := b.AddEntity(tc.draft); !tc.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.Len() != 1 {
				t.Fatalf("failed add left %d entities", b.Len())
			}
			if b.ModificationCount() != before {
				t.Fatalf("failed add changed the log")
			}
		})
	}
}

func TestDuplicateDraft(t *testing.T) {
	d := moduleDraft("app", userSource)
	b1 := NewBuilder(testSchema)
	mustAdd(t, b1, d)
	var dup domain.DuplicateEntityError
	if _, err := b1.AddEntity(d); !errors.As(err, &dup) {
		t.Fatalf("same builder: expected DuplicateEntityError, got %v", err)
	}
	b2 := NewBuilder(testSchema)
	if _, err := b2.AddEntity(d); !errors.As(err, &dup) {
		t.Fatalf("other builder: expected DuplicateEntityError, got %v", err)
	}
}

func TestStaleHandleAfterRemove(t *testing.T) {
	seed := NewBuilder(testSchema)
	mustAdd(t, seed, moduleDraft("a", userSource))
	mustAdd(t, seed, moduleDraft("b", userSource))
	snap := mustSnapshot(t, seed)

	b := From(snap)
	var a, sibling Entity
	for e := range b.Entities(typeModule) {
		switch mustText(t, e, "name") {
		case "a":
			a = e
		case "b":
			sibling = e
		}
	}
	if err := b.RemoveEntity(a); err != nil {
		t.Fatalf("remove: %v", err)
	}
	var removed domain.EntityRemovedError
	if _, err := a.Text("name"); !errors.As(err, &removed) {
		t.Fatalf("expected EntityRemovedError, got %v", err)
	}
	if _, err := b.ModifyEntity(a, rename("c")); !errors.As(err, &removed) {
		t.Fatalf("modify of removed entity: %v", err)
	}
	if got := mustText(t, sibling, "name"); got != "b" {
		t.Fatalf("sibling reads %q", got)
	}
	if e, ok := snap.Resolve(a.ID()); !ok || mustText(t, e, "name") != "a" {
		t.Fatalf("snapshot must still hold the removed entity")
	}
}

func TestModifyScope(t *testing.T) {
	b := NewBuilder(testSchema)
	mod := mustAdd(t, b, moduleDraft("app", userSource))

	var escaped *MutableEntity
	updated, err := b.ModifyEntity(mod, func(m *MutableEntity) error {
		escaped = m
		return m.Set("kind", domain.String("JAVA"))
	})
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if got := mustText(t, updated, "kind"); got != "JAVA" {
		t.Fatalf("kind = %q", got)
	}
	var outside domain.ModificationOutsideScopeError
	if err := escaped.Set("name", domain.String("other")); !errors.As(err, &outside) {
		t.Fatalf("expected ModificationOutsideScopeError, got %v", err)
	}
	if got := mustText(t, mod, "name"); got != "app" {
		t.Fatalf("escaped write leaked: %q", got)
	}
}

func TestModifyFailureLeavesBuilderUntouched(t *testing.T) {
	b := NewBuilder(testSchema)
	mod := mustAdd(t, b, moduleDraft("app", userSource))
	before := b.Changes()

	boom := errors.New("boom")
	_, err := b.ModifyEntity(mod, func(m *MutableEntity) error {
		if err := m.Set("name", domain.String("renamed")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	_, err = b.ModifyEntity(mod, func(m *MutableEntity) error { return m.Clear("name") })
	var uninit domain.UninitializedFieldError
	if !errors.As(err, &uninit) {
		t.Fatalf("clearing a required field: %v", err)
	}
	if got := mustText(t, mod, "name"); got != "app" {
		t.Fatalf("name = %q", got)
	}
	if diff := cmp.Diff(before, b.Changes()); diff != "" {
		t.Fatalf("change log modified (-want +got):\n%s", diff)
	}
}

func TestBatchRollsBack(t *testing.T) {
	b := NewBuilder(testSchema)
	keep := mustAdd(t, b, moduleDraft("keep", userSource))
	before := b.Changes()

	boom := errors.New("boom")
	err := b.Batch(func() error {
		if _, err := b.AddEntity(moduleDraft("tmp", userSource)); err != nil {
			return err
		}
		if _, err := b.ModifyEntity(keep, rename("changed")); err != nil {
			return err
		}
		// A failed nested write rolls back on its own and the batch continues.
		if _, err := b.AddEntity(NewDraft(typeSettings, userSource).WithParent(connSettings, domain.EntityID{})); err == nil {
			return errors.New("settings without a parent accepted")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("batch: %v", err)
	}
	if got := names(t, b, typeModule, "name"); len(got) != 1 || got[0] != "keep" {
		t.Fatalf("modules after rollback = %v", got)
	}
	if diff := cmp.Diff(before, b.Changes()); diff != "" {
		t.Fatalf("change log modified (-want +got):\n%s", diff)
	}

	if err := b.Batch(func() error {
		_, err := b.AddEntity(moduleDraft("kept", userSource))
		return err
	}); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if b.Len() != 2 {
		t.Fatalf("len = %d", b.Len())
	}
}

func TestFinalizedBuilderRejectsWrites(t *testing.T) {
	b := NewBuilder(testSchema)
	mod := mustAdd(t, b, moduleDraft("app", userSource))
	s1 := mustSnapshot(t, b)
	s2 := mustSnapshot(t, b)
	if s1 != s2 {
		t.Fatalf("repeated ToStorage must return the same snapshot")
	}
	var fin domain.BuilderFinalizedError
	if _, err := b.AddEntity(moduleDraft("x", userSource)); !errors.As(err, &fin) {
		t.Fatalf("add after finalize: %v", err)
	}
	if err := b.RemoveEntity(mod); !errors.As(err, &fin) {
		t.Fatalf("remove after finalize: %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	b := NewBuilder(testSchema)
	mod := mustAdd(t, b, moduleDraft("app", userSource).Set("kind", domain.String("JAVA")))
	mustAdd(t, b, NewDraft(typeContentRoot, userSource).
		Set("url", domain.String("file:///app")).
		Set("excluded", domain.NewStrings("build", "out")).
		WithParent(connContentRoots, mod.ID()))
	s1 := mustSnapshot(t, b)

	s2 := mustSnapshot(t, From(s1))
	if s2.Len() != s1.Len() {
		t.Fatalf("len %d != %d", s2.Len(), s1.Len())
	}
	for _, typ := range testSchema.Types() {
		if diff := cmp.Diff(s1.Records(typ), s2.Records(typ)); diff != "" {
			t.Fatalf("%s differs (-s1 +s2):\n%s", typ, diff)
		}
	}
	roots, err := s2.Children(connContentRoots, mod.ID())
	if err != nil || len(roots) != 1 {
		t.Fatalf("content roots = %v, %v", roots, err)
	}
}

func TestStructuralSharing(t *testing.T) {
	b := NewBuilder(testSchema)
	mod := mustAdd(t, b, moduleDraft("app", userSource))
	mustAdd(t, b, NewDraft(typeNote, userSource).Set("text", domain.String("hello")).WithParent(connNotes, mod.ID()))
	s1 := mustSnapshot(t, b)

	next := From(s1)
	if _, err := next.ModifyEntity(mustResolve(t, next, mod.ID()), rename("app2")); err != nil {
		t.Fatalf("modify: %v", err)
	}
	s2 := mustSnapshot(t, next)
	if s1.entities[typeNote] != s2.entities[typeNote] {
		t.Fatalf("untouched partition was copied")
	}
	if s1.refs[connNotes.Name] != s2.refs[connNotes.Name] {
		t.Fatalf("untouched relation table was copied")
	}
	if s1.entities[typeModule] == s2.entities[typeModule] {
		t.Fatalf("touched partition was shared")
	}
	e, _ := s1.Resolve(mod.ID())
	if got := mustText(t, e, "name"); got != "app" {
		t.Fatalf("base snapshot changed: %q", got)
	}
}

func TestEntitiesBySource(t *testing.T) {
	b := NewBuilder(testSchema)
	mustAdd(t, b, moduleDraft("user", userSource))
	imported := mustAdd(t, b, moduleDraft("imported", gradleSource))
	s := mustSnapshot(t, b)

	got := s.EntitiesBySource(domain.FromSystem("gradle"))
	if len(got) != 1 || len(got[gradleSource][typeModule]) != 1 {
		t.Fatalf("by source = %v", got)
	}

	next := From(s)
	moved, err := next.ModifyEntity(mustResolve(t, next, imported.ID()), func(m *MutableEntity) error {
		return m.SetSource(userSource)
	})
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if got := next.EntitiesBySource(domain.FromSystem("gradle")); len(got) != 0 {
		t.Fatalf("moved entity still indexed under old source: %v", got)
	}
	users := next.EntitiesBySource(domain.SourceIs(userSource))[userSource][typeModule]
	if len(users) != 2 || users[1].ID() != moved.ID() {
		t.Fatalf("user modules = %v", users)
	}
	s2 := mustSnapshot(t, next)
	if got := s2.EntitiesBySource(domain.SourceIs(userSource))[userSource][typeModule]; len(got) != 2 {
		t.Fatalf("folded index = %v", got)
	}
	if got := s2.EntitiesBySource(domain.FromSystem("gradle")); len(got) != 0 {
		t.Fatalf("folded index kept the old source: %v", got)
	}
}

func mustResolve(t *testing.T, r Reader, id domain.EntityID) Entity {
	t.Helper()
	e, ok := r.Resolve(id)
	if !ok {
		t.Fatalf("entity %s not found", id)
	}
	return e
}
