package storage

import (
	"slices"
	"testing"

	"workspacemodel/pkg/domain"
)

func baseWithModule(t *testing.T) (*Snapshot, domain.EntityID) {
	t.Helper()
	b := NewBuilder(testSchema)
	mod := mustAdd(t, b, moduleDraft("app", userSource))
	return mustSnapshot(t, b), mod.ID()
}

func setKind(kind string) func(*MutableEntity) error {
	return func(m *MutableEntity) error { return m.Set("kind", domain.String(kind)) }
}

func setSource(src domain.EntitySource) func(*MutableEntity) error {
	return func(m *MutableEntity) error { return m.SetSource(src) }
}

func TestChangeLogCoalescing(t *testing.T) {
	cases := []struct {
		name      string
		edits     func(t *testing.T, b *Builder, id domain.EntityID)
		wantKind  domain.ChangeKind
		wantField []string
		wantNone  bool
	}{
		{
			name: "replace then replace",
			edits: func(t *testing.T, b *Builder, id domain.EntityID) {
				modify(t, b, id, rename("app2"))
				modify(t, b, id, setKind("JAVA"))
			},
			wantKind:  domain.ChangeReplace,
			wantField: []string{"name", "kind"},
		},
		{
			name: "replace then change source",
			edits: func(t *testing.T, b *Builder, id domain.EntityID) {
				modify(t, b, id, rename("app2"))
				modify(t, b, id, setSource(gradleSource))
			},
			wantKind:  domain.ChangeReplaceAndSource,
			wantField: []string{"name"},
		},
		{
			name: "change source then replace",
			edits: func(t *testing.T, b *Builder, id domain.EntityID) {
				modify(t, b, id, setSource(gradleSource))
				modify(t, b, id, setKind("JAVA"))
			},
			wantKind:  domain.ChangeReplaceAndSource,
			wantField: []string{"kind"},
		},
		{
			name: "change source twice",
			edits: func(t *testing.T, b *Builder, id domain.EntityID) {
				modify(t, b, id, setSource(domain.NonPersistentSource{}))
				modify(t, b, id, setSource(gradleSource))
			},
			wantKind: domain.ChangeSource,
		},
		{
			name: "replace then remove",
			edits: func(t *testing.T, b *Builder, id domain.EntityID) {
				modify(t, b, id, rename("app2"))
				if err := b.RemoveEntity(mustResolve(t, b, id)); err != nil {
					t.Fatalf("remove: %v", err)
				}
			},
			wantKind: domain.ChangeRemove,
		},
		{
			name: "edit reverted",
			edits: func(t *testing.T, b *Builder, id domain.EntityID) {
				modify(t, b, id, rename("app2"))
				modify(t, b, id, rename("app"))
			},
			wantNone: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			base, id := baseWithModule(t)
			b := From(base)
			tc.edits(t, b, id)
			changes := b.Changes()
			if tc.wantNone {
				if len(changes) != 0 || b.HasChanges() {
					t.Fatalf("expected no changes, got %+v", changes)
				}
				return
			}
			if len(changes) != 1 {
				t.Fatalf("expected one coalesced entry, got %+v", changes)
			}
			c := changes[0]
			if c.Kind != tc.wantKind {
				t.Fatalf("kind = %s, want %s", c.Kind, tc.wantKind)
			}
			if !slices.Equal(c.Fields, tc.wantField) {
				t.Fatalf("fields = %v, want %v", c.Fields, tc.wantField)
			}
			if c.OldSource != userSource {
				t.Fatalf("old source = %v", c.OldSource)
			}
			if c.ModificationCount != b.ModificationCount() {
				t.Fatalf("entry count %d, builder count %d", c.ModificationCount, b.ModificationCount())
			}
		})
	}
}

func TestChangeLogAddedEntities(t *testing.T) {
	base, _ := baseWithModule(t)
	b := From(base)
	added := mustAdd(t, b, moduleDraft("new", userSource))
	modify(t, b, added.ID(), setKind("JAVA"))
	modify(t, b, added.ID(), setSource(gradleSource))

	changes := b.Changes()
	if len(changes) != 1 || changes[0].Kind != domain.ChangeAdd || changes[0].NewSource != gradleSource {
		t.Fatalf("add must absorb later edits: %+v", changes)
	}

	gone := mustAdd(t, b, moduleDraft("gone", userSource))
	if err := b.RemoveEntity(gone); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(b.Changes()) != 1 {
		t.Fatalf("add then remove must leave no entry: %+v", b.Changes())
	}
}

func TestModificationCountIsMonotonic(t *testing.T) {
	base, id := baseWithModule(t)
	b := From(base)
	modify(t, b, id, rename("x"))
	mustAdd(t, b, moduleDraft("y", userSource))
	modify(t, b, id, setKind("JAVA"))

	changes := b.Changes()
	if len(changes) != 2 {
		t.Fatalf("changes = %+v", changes)
	}
	if changes[0].ID != id {
		t.Fatalf("entries must keep first-touch order")
	}
	if changes[0].ModificationCount <= changes[1].ModificationCount {
		t.Fatalf("latest edit must carry the highest count: %d vs %d", changes[0].ModificationCount, changes[1].ModificationCount)
	}
}

func TestCollectChangesOrdering(t *testing.T) {
	b := NewBuilder(testSchema)
	keep := mustAdd(t, b, moduleDraft("keep", userSource))
	drop := mustAdd(t, b, moduleDraft("drop", userSource))
	base := mustSnapshot(t, b)

	next := From(base)
	mustAdd(t, next, moduleDraft("fresh", userSource))
	modify(t, next, keep.ID(), setKind("JAVA"))
	if err := next.RemoveEntity(mustResolve(t, next, drop.ID())); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got := next.CollectChanges()
	want := []domain.ChangeKind{domain.ChangeRemove, domain.ChangeReplace, domain.ChangeAdd}
	if len(got) != len(want) {
		t.Fatalf("collected %d changes", len(got))
	}
	for i, c := range got {
		if c.Kind != want[i] {
			t.Fatalf("change %d kind = %s, want %s", i, c.Kind, want[i])
		}
	}
	if mustText(t, got[0].Old, "name") != "drop" {
		t.Fatalf("removed change must expose the old entity")
	}
	if mustText(t, got[1].New, "kind") != "JAVA" || mustText(t, got[1].Old, "name") != "keep" {
		t.Fatalf("replaced change must expose both sides")
	}
}

func modify(t *testing.T, b *Builder, id domain.EntityID, fn func(*MutableEntity) error) {
	t.Helper()
	if _, err := b.ModifyEntity(mustResolve(t, b, id), fn); err != nil {
		t.Fatalf("modify %s: %v", id, err)
	}
}
