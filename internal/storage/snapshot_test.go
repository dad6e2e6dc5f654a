package storage

import (
	"fmt"
	"testing"

	"golang.org/x/sync/errgroup"

	"workspacemodel/pkg/domain"
)

func TestSnapshotConcurrentReaders(t *testing.T) {
	b := NewBuilder(testSchema)
	var ids []domain.EntityID
	for i := 0; i < 200; i++ {
		m := mustAdd(t, b, moduleDraft(fmt.Sprintf("m%03d", i), userSource))
		mustAdd(t, b, NewDraft(typeContentRoot, userSource).Set("url", domain.String(fmt.Sprintf("file:///m%03d", i))).WithParent(connContentRoots, m.ID()))
		ids = append(ids, m.ID())
	}
	snap := mustSnapshot(t, b)

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for round := 0; round < 20; round++ {
				n := 0
				for e := range snap.Entities(typeModule) {
					if _, err := e.Text("name"); err != nil {
						return err
					}
					n++
				}
				if n != len(ids) {
					return fmt.Errorf("saw %d modules", n)
				}
				for _, id := range ids {
					kids, err := snap.Children(connContentRoots, id)
					if err != nil {
						return err
					}
					if len(kids) != 1 {
						return fmt.Errorf("module %s has %d roots", id, len(kids))
					}
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		next := From(snap)
		for i, id := range ids {
			e, ok := next.Resolve(id)
			if !ok {
				return fmt.Errorf("missing %s", id)
			}
			if i%2 == 0 {
				if err := next.RemoveEntity(e); err != nil {
					return err
				}
				continue
			}
			if _, err := next.ModifyEntity(e, rename(fmt.Sprintf("renamed%d", i))); err != nil {
				return err
			}
		}
		_, err := next.ToStorage()
		return err
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent access: %v", err)
	}
	if snap.Len() != 400 {
		t.Fatalf("base snapshot changed size: %d", snap.Len())
	}
}
