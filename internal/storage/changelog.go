package storage

import (
	"maps"
	"slices"

	"workspacemodel/pkg/domain"
)

type entryState int

const (
	entryAdded entryState = iota + 1
	entryTouched
	entryRemoved
)

// logEntry is the coalesced record of everything that happened to one id.
// The concrete change kind is derived on read by comparing the live state
// with the base snapshot, so edits that cancel out leave no visible change.
type logEntry struct {
	state    entryState
	refs     map[string]struct{}
	modCount uint64
}

type changeLog struct {
	entries map[domain.EntityID]*logEntry
	order   []domain.EntityID
	count   uint64
}

func newChangeLog() changeLog {
	return changeLog{entries: make(map[domain.EntityID]*logEntry)}
}

// saveEntry journals the current log state for id before it is changed.
func (b *Builder) saveEntry(id domain.EntityID) {
	prev, had := b.log.entries[id]
	var snapshot logEntry
	if had {
		snapshot = *prev
		snapshot.refs = maps.Clone(prev.refs)
	}
	n := len(b.log.order)
	count := b.log.count
	b.remember(func() {
		if had {
			restored := snapshot
			b.log.entries[id] = &restored
		} else {
			delete(b.log.entries, id)
		}
		b.log.order = b.log.order[:n]
		b.log.count = count
	})
}

func (b *Builder) nextMod() uint64 {
	b.log.count++
	return b.log.count
}

func (b *Builder) logAdd(id domain.EntityID) {
	b.saveEntry(id)
	b.log.entries[id] = &logEntry{state: entryAdded, modCount: b.nextMod()}
	b.log.order = append(b.log.order, id)
}

func (b *Builder) logTouch(id domain.EntityID, refs ...string) {
	b.saveEntry(id)
	e, ok := b.log.entries[id]
	if !ok {
		e = &logEntry{state: entryTouched}
		b.log.entries[id] = e
		b.log.order = append(b.log.order, id)
	}
	if e.state == entryTouched && len(refs) > 0 {
		if e.refs == nil {
			e.refs = make(map[string]struct{}, len(refs))
		}
		for _, r := range refs {
			e.refs[r] = struct{}{}
		}
	}
	e.modCount = b.nextMod()
}

func (b *Builder) logRemove(id domain.EntityID) {
	b.saveEntry(id)
	e, ok := b.log.entries[id]
	if ok && e.state == entryAdded {
		delete(b.log.entries, id)
		b.nextMod()
		return
	}
	if !ok {
		e = &logEntry{}
		b.log.entries[id] = e
		b.log.order = append(b.log.order, id)
	}
	e.state = entryRemoved
	e.refs = nil
	e.modCount = b.nextMod()
}

// ModificationCount returns the number of mutations recorded so far.
func (b *Builder) ModificationCount() uint64 {
	return b.log.count
}

// Changes returns the coalesced change log in order of first touch.
func (b *Builder) Changes() []domain.Change {
	var out []domain.Change
	for _, id := range b.log.order {
		e, ok := b.log.entries[id]
		if !ok {
			continue
		}
		if c, ok := b.describe(id, e); ok {
			out = append(out, c)
		}
	}
	return out
}

// HasChanges reports whether the builder differs from its base.
func (b *Builder) HasChanges() bool {
	for id, e := range b.log.entries {
		if _, ok := b.describe(id, e); ok {
			return true
		}
	}
	return false
}

func (b *Builder) describe(id domain.EntityID, e *logEntry) (domain.Change, bool) {
	c := domain.Change{ID: id, Type: id.Type, ModificationCount: e.modCount}
	switch e.state {
	case entryAdded:
		d, ok := b.added[id]
		if !ok {
			return domain.Change{}, false
		}
		c.Kind = domain.ChangeAdd
		c.NewSource = d.source
		return c, true
	case entryRemoved:
		old, ok := b.base.data(id)
		if !ok {
			return domain.Change{}, false
		}
		c.Kind = domain.ChangeRemove
		c.OldSource = old.source
		return c, true
	}
	old, ok := b.base.data(id)
	if !ok {
		return domain.Change{}, false
	}
	cur, ok := b.lookup(id)
	if !ok {
		return domain.Change{}, false
	}
	c.Fields = b.changedFields(old, cur)
	for _, ref := range slices.Sorted(maps.Keys(e.refs)) {
		if b.refChanged(ref, id) {
			c.Fields = append(c.Fields, ref)
		}
	}
	c.OldSource = old.source
	c.NewSource = cur.source
	sourceChanged := old.source != cur.source
	switch {
	case len(c.Fields) > 0 && sourceChanged:
		c.Kind = domain.ChangeReplaceAndSource
	case len(c.Fields) > 0:
		c.Kind = domain.ChangeReplace
	case sourceChanged:
		c.Kind = domain.ChangeSource
	default:
		return domain.Change{}, false
	}
	return c, true
}

func (b *Builder) changedFields(old, cur *entityData) []string {
	spec, _ := b.schema.Type(old.id.Type)
	var out []string
	for _, f := range spec.Fields {
		if !domain.ValuesEqual(old.fields[f.Name], cur.fields[f.Name]) {
			out = append(out, f.Name)
		}
	}
	return out
}

// refChanged compares both sides of connection ref for id against the base.
func (b *Builder) refChanged(ref string, id domain.EntityID) bool {
	conn, ok := b.schema.Connection(ref[1:])
	if !ok {
		return false
	}
	if b.schema.AcceptsChild(conn, id.Type) {
		was, wasOK := b.base.parentOf(conn, id)
		now, nowOK := b.parentOf(conn, id)
		if was != now || wasOK != nowOK {
			return true
		}
	}
	if b.schema.IsA(id.Type, conn.Parent) {
		if !slices.Equal(b.base.childrenOf(conn, id), b.childrenOf(conn, id)) {
			return true
		}
	}
	return false
}

// EntityChange pairs the base and current state of one changed entity.
type EntityChange struct {
	Kind domain.ChangeKind
	Old  Entity
	New  Entity
}

// CollectChanges groups the log per entity type in schema order, listing
// removals, then replacements, then additions within each type. Source-only
// changes are reported as replacements.
func (b *Builder) CollectChanges() []EntityChange {
	byType := make(map[domain.EntityType][3][]EntityChange)
	for _, c := range b.Changes() {
		groups := byType[c.Type]
		old, _ := b.base.Resolve(c.ID)
		switch c.Kind {
		case domain.ChangeRemove:
			groups[0] = append(groups[0], EntityChange{Kind: domain.ChangeRemove, Old: old})
		case domain.ChangeAdd:
			groups[2] = append(groups[2], EntityChange{Kind: domain.ChangeAdd, New: Entity{id: c.ID, owner: b}})
		default:
			groups[1] = append(groups[1], EntityChange{Kind: domain.ChangeReplace, Old: old, New: Entity{id: c.ID, owner: b}})
		}
		byType[c.Type] = groups
	}
	var out []EntityChange
	for _, t := range b.schema.Types() {
		groups := byType[t]
		for _, g := range groups {
			out = append(out, g...)
		}
	}
	return out
}
