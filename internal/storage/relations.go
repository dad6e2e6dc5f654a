package storage

import (
	"slices"

	"workspacemodel/pkg/domain"
)

// Relation edits keep both sides of a connection in step: the child's
// parentOf slot and the parent's ordered children list. Every write goes
// through setParentSlot/setChildrenList so it can be undone.

func (b *Builder) checkLink(conn domain.ConnectionID, parent, child domain.EntityID) error {
	if _, err := b.live(parent); err != nil {
		return err
	}
	if !b.schema.IsA(parent.Type, conn.Parent) {
		return domain.CardinalityViolationError{Connection: conn, Parent: parent, Child: child, Reason: "parent type not accepted"}
	}
	if !b.schema.AcceptsChild(conn, child.Type) {
		return domain.CardinalityViolationError{Connection: conn, Parent: parent, Child: child, Reason: "child type not accepted"}
	}
	if b.isAncestor(child, parent) {
		return domain.CardinalityViolationError{Connection: conn, Parent: parent, Child: child, Reason: "cycle"}
	}
	return nil
}

// isAncestor reports whether candidate is id itself or one of its ancestors
// over any connection.
func (b *Builder) isAncestor(candidate, id domain.EntityID) bool {
	seen := map[domain.EntityID]struct{}{}
	pending := []domain.EntityID{id}
	for len(pending) > 0 {
		cur := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if cur == candidate {
			return true
		}
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		for _, conn := range b.schema.ParentConnections(cur.Type) {
			if p, ok := b.parentOf(conn, cur); ok {
				pending = append(pending, p)
			}
		}
	}
	return false
}

// link attaches child under parent, moving it away from its previous parent
// on the same connection.
func (b *Builder) link(conn domain.ConnectionID, parent, child domain.EntityID) error {
	if err := b.checkLink(conn, parent, child); err != nil {
		return err
	}
	old, had := b.parentOf(conn, child)
	if had && old == parent {
		return nil
	}
	siblings := b.childrenOf(conn, parent)
	if conn.Kind == domain.OneToOne && len(siblings) > 0 {
		return domain.CardinalityViolationError{Connection: conn, Parent: parent, Child: child, Reason: "parent already has a child"}
	}
	if had {
		b.detachFromList(conn, old, child)
	}
	b.setChildrenList(conn.Name, parent.Seq, append(slices.Clone(siblings), child))
	b.setParentSlot(conn.Name, child.Seq, parentSlot{id: parent, ok: true})
	return nil
}

func (b *Builder) unlink(conn domain.ConnectionID, child domain.EntityID) {
	old, ok := b.parentOf(conn, child)
	if !ok {
		return
	}
	b.detachFromList(conn, old, child)
	b.setParentSlot(conn.Name, child.Seq, parentSlot{})
}

func (b *Builder) detachFromList(conn domain.ConnectionID, parent, child domain.EntityID) {
	list := b.childrenOf(conn, parent)
	i := slices.Index(list, child)
	if i < 0 {
		return
	}
	next := make([]domain.EntityID, 0, len(list)-1)
	next = append(next, list[:i]...)
	next = append(next, list[i+1:]...)
	b.setChildrenList(conn.Name, parent.Seq, next)
}

// replaceChildren makes children the complete ordered child list of parent.
// It returns the children that changed parent and the previous children that
// are no longer listed; the caller decides whether those are removed or only
// detached.
func (b *Builder) replaceChildren(conn domain.ConnectionID, parent domain.EntityID, children []domain.EntityID) (moved, dropped []domain.EntityID, err error) {
	if conn.Kind == domain.OneToOne && len(children) > 1 {
		return nil, nil, domain.CardinalityViolationError{Connection: conn, Parent: parent, Reason: "more than one child"}
	}
	keep := make(map[domain.EntityID]struct{}, len(children))
	for _, c := range children {
		if _, dup := keep[c]; dup {
			return nil, nil, domain.CardinalityViolationError{Connection: conn, Parent: parent, Child: c, Reason: "child listed twice"}
		}
		keep[c] = struct{}{}
		if _, err := b.live(c); err != nil {
			return nil, nil, err
		}
		if err := b.checkLink(conn, parent, c); err != nil {
			return nil, nil, err
		}
	}
	previous := b.childrenOf(conn, parent)
	for _, c := range children {
		old, had := b.parentOf(conn, c)
		if had && old == parent {
			continue
		}
		if had {
			b.detachFromList(conn, old, c)
		}
		b.setParentSlot(conn.Name, c.Seq, parentSlot{id: parent, ok: true})
		moved = append(moved, c)
	}
	for _, c := range previous {
		if _, ok := keep[c]; ok {
			continue
		}
		b.setParentSlot(conn.Name, c.Seq, parentSlot{})
		dropped = append(dropped, c)
	}
	b.setChildrenList(conn.Name, parent.Seq, slices.Clone(children))
	return moved, dropped, nil
}

// removeTree removes root, every entity that requires it through a
// non-nullable connection (transitively), and detaches children held through
// nullable connections. It returns the removed ids, root first.
func (b *Builder) removeTree(root domain.EntityID) []domain.EntityID {
	order := []domain.EntityID{root}
	doomed := map[domain.EntityID]struct{}{root: {}}
	type detach struct {
		conn  domain.ConnectionID
		child domain.EntityID
	}
	var detached []detach
	for i := 0; i < len(order); i++ {
		id := order[i]
		for _, conn := range b.schema.ChildConnections(id.Type) {
			for _, c := range b.childrenOf(conn, id) {
				if _, ok := doomed[c]; ok {
					continue
				}
				if conn.ParentNullable {
					detached = append(detached, detach{conn: conn, child: c})
					continue
				}
				doomed[c] = struct{}{}
				order = append(order, c)
			}
		}
	}
	for _, d := range detached {
		if _, ok := doomed[d.child]; ok {
			continue
		}
		b.unlink(d.conn, d.child)
		b.logTouch(d.child, d.conn.RefField())
	}
	for _, id := range order {
		for _, conn := range b.schema.ParentConnections(id.Type) {
			b.unlink(conn, id)
		}
		for _, conn := range b.schema.ChildConnections(id.Type) {
			if len(b.childrenOf(conn, id)) > 0 {
				b.setChildrenList(conn.Name, id.Seq, nil)
			}
		}
		b.markRemoved(id)
		b.logRemove(id)
	}
	return order
}
