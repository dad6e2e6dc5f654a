package storage

import (
	"iter"
	"slices"

	"go.uber.org/zap"

	"workspacemodel/pkg/domain"
)

// Reader is the query surface shared by snapshots and builders.
type Reader interface {
	Schema() *domain.Schema
	Lineage() domain.LineageID
	Len() int
	Entities(t domain.EntityType) iter.Seq[Entity]
	Resolve(id domain.EntityID) (Entity, bool)
	EntitiesBySource(pred domain.SourcePredicate) map[domain.EntitySource]map[domain.EntityType][]Entity
	Parent(conn domain.ConnectionID, child domain.EntityID) (Entity, bool, error)
	Children(conn domain.ConnectionID, parent domain.EntityID) ([]Entity, error)
}

var (
	_ Reader = (*Snapshot)(nil)
	_ Reader = (*Builder)(nil)

	_ domain.RuleView = (*Snapshot)(nil)
	_ domain.RuleView = (*Builder)(nil)
)

type builderState int

const (
	stateEmpty builderState = iota
	stateDirty
	stateFinalized
)

type parentSlot struct {
	id domain.EntityID
	ok bool
}

type refDelta struct {
	parentOf map[uint64]parentSlot
	children map[uint64][]domain.EntityID
}

// Builder is a single-writer mutable overlay over an immutable base snapshot.
type Builder struct {
	schema  *domain.Schema
	lineage *lineage
	base    *Snapshot
	logger  *zap.Logger
	policy  ConflictPolicy

	added      map[domain.EntityID]*entityData
	addedOrder map[domain.EntityType][]domain.EntityID
	modified   map[domain.EntityID]*entityData
	removed    map[domain.EntityID]struct{}
	refs       map[string]*refDelta
	log        changeLog

	state      builderState
	result     *Snapshot
	applied    bool
	journaling bool
	undo       []func()
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger routes builder diagnostics to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithConflictPolicy selects how AddDiff resolves fields changed on both sides.
func WithConflictPolicy(p ConflictPolicy) Option {
	return func(b *Builder) { b.policy = p }
}

// NewBuilder creates an empty builder that starts a new lineage.
func NewBuilder(schema *domain.Schema, opts ...Option) *Builder {
	lin := &lineage{id: domain.NewLineageID()}
	return newBuilder(emptySnapshot(schema, lin), opts)
}

// From creates a builder on top of snapshot s.
func From(s *Snapshot, opts ...Option) *Builder {
	return newBuilder(s, opts)
}

func newBuilder(base *Snapshot, opts []Option) *Builder {
	b := &Builder{
		schema:     base.schema,
		lineage:    base.lineage,
		base:       base,
		logger:     zap.NewNop(),
		added:      make(map[domain.EntityID]*entityData),
		addedOrder: make(map[domain.EntityType][]domain.EntityID),
		modified:   make(map[domain.EntityID]*entityData),
		removed:    make(map[domain.EntityID]struct{}),
		refs:       make(map[string]*refDelta),
		log:        newChangeLog(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Schema returns the entity model of the builder.
func (b *Builder) Schema() *domain.Schema { return b.schema }

// Lineage returns the id space of the builder.
func (b *Builder) Lineage() domain.LineageID { return b.lineage.id }

// Base returns the snapshot the builder was created from.
func (b *Builder) Base() *Snapshot { return b.base }

// Len returns the number of live entities.
func (b *Builder) Len() int {
	n := b.base.count + len(b.added)
	for id := range b.removed {
		if _, ok := b.base.data(id); ok {
			n--
		}
	}
	return n
}

func (b *Builder) lookup(id domain.EntityID) (*entityData, bool) {
	if id.Lineage != b.lineage.id {
		return nil, false
	}
	if _, gone := b.removed[id]; gone {
		return nil, false
	}
	if d, ok := b.added[id]; ok {
		return d, true
	}
	if d, ok := b.modified[id]; ok {
		return d, true
	}
	return b.base.data(id)
}

func (b *Builder) live(id domain.EntityID) (*entityData, error) {
	if id.Lineage != b.lineage.id {
		return nil, domain.ForeignEntityError{ID: id, Expected: b.lineage.id}
	}
	d, ok := b.lookup(id)
	if !ok {
		return nil, domain.EntityRemovedError{ID: id}
	}
	return d, nil
}

func (b *Builder) parentOf(conn domain.ConnectionID, child domain.EntityID) (domain.EntityID, bool) {
	if delta := b.refs[conn.Name]; delta != nil {
		if slot, ok := delta.parentOf[child.Seq]; ok {
			return slot.id, slot.ok
		}
	}
	return b.base.parentOf(conn, child)
}

func (b *Builder) childrenOf(conn domain.ConnectionID, parent domain.EntityID) []domain.EntityID {
	if delta := b.refs[conn.Name]; delta != nil {
		if list, ok := delta.children[parent.Seq]; ok {
			return list
		}
	}
	return b.base.childrenOf(conn, parent)
}

// Entities lists live entities of type t: base entities in their original
// order followed by entities added in this builder.
func (b *Builder) Entities(t domain.EntityType) iter.Seq[Entity] {
	return func(yield func(Entity) bool) {
		for _, ct := range concreteTypes(b.schema, t) {
			ok := b.base.entities[ct].each(func(seq uint64, d *entityData) bool {
				if _, gone := b.removed[d.id]; gone {
					return true
				}
				return yield(Entity{id: d.id, owner: b})
			})
			if !ok {
				return
			}
			for _, id := range b.addedOrder[ct] {
				if _, ok := b.added[id]; !ok {
					continue
				}
				if !yield(Entity{id: id, owner: b}) {
					return
				}
			}
		}
	}
}

// Resolve returns a handle for id when it is live in this builder.
func (b *Builder) Resolve(id domain.EntityID) (Entity, bool) {
	if _, ok := b.lookup(id); !ok {
		return Entity{}, false
	}
	return Entity{id: id, owner: b}, true
}

// EntitiesBySource groups live entities whose source satisfies pred. Base
// entities come from the snapshot index; overlay entities are checked directly.
func (b *Builder) EntitiesBySource(pred domain.SourcePredicate) map[domain.EntitySource]map[domain.EntityType][]Entity {
	out := make(map[domain.EntitySource]map[domain.EntityType][]Entity)
	emit := func(src domain.EntitySource, id domain.EntityID) {
		group := out[src]
		if group == nil {
			group = make(map[domain.EntityType][]Entity)
			out[src] = group
		}
		group[id.Type] = append(group[id.Type], Entity{id: id, owner: b})
	}
	for src, byType := range b.base.bySource {
		if !pred(src) {
			continue
		}
		for t, ids := range byType {
			ids.each(func(seq uint64, _ struct{}) bool {
				id := domain.EntityID{Lineage: b.lineage.id, Type: t, Seq: seq}
				if d, ok := b.lookup(id); ok && d.source == src {
					emit(src, id)
				}
				return true
			})
		}
	}
	for id, d := range b.modified {
		old, _ := b.base.data(id)
		if old.source != d.source && pred(d.source) {
			emit(d.source, id)
		}
	}
	for id, d := range b.added {
		if pred(d.source) {
			emit(d.source, id)
		}
	}
	for _, group := range out {
		for _, list := range group {
			slices.SortFunc(list, func(x, y Entity) int {
				return compareSeq(x.id.Seq, y.id.Seq)
			})
		}
	}
	return out
}

func compareSeq(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Parent returns the parent of child on conn.
func (b *Builder) Parent(conn domain.ConnectionID, child domain.EntityID) (Entity, bool, error) {
	if _, err := b.live(child); err != nil {
		return Entity{}, false, err
	}
	pid, ok := b.parentOf(conn, child)
	if !ok {
		return Entity{}, false, nil
	}
	p, ok := b.Resolve(pid)
	return p, ok, nil
}

// Children returns the ordered children of parent on conn.
func (b *Builder) Children(conn domain.ConnectionID, parent domain.EntityID) ([]Entity, error) {
	if _, err := b.live(parent); err != nil {
		return nil, err
	}
	ids := b.childrenOf(conn, parent)
	out := make([]Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, Entity{id: id, owner: b})
	}
	return out, nil
}

// Records returns detached copies of the live entities of type t.
func (b *Builder) Records(t domain.EntityType) []domain.Record {
	return collectRecords(b.Entities(t))
}

// Lookup returns a detached copy of a live entity.
func (b *Builder) Lookup(id domain.EntityID) (domain.Record, bool) {
	d, ok := b.lookup(id)
	if !ok {
		return domain.Record{}, false
	}
	return d.record(), true
}

func (b *Builder) writable() error {
	if b.state == stateFinalized {
		return domain.BuilderFinalizedError{}
	}
	return nil
}

// atomic runs fn with the undo journal enabled and rolls every overlay and
// change log write made by fn back when it fails. Nested calls roll back to
// their own mark and leave the outer journal running.
func (b *Builder) atomic(fn func() error) error {
	outer := b.journaling
	mark := len(b.undo)
	b.journaling = true
	err := fn()
	if err != nil {
		for i := len(b.undo) - 1; i >= mark; i-- {
			b.undo[i]()
		}
		clear(b.undo[mark:])
		b.undo = b.undo[:mark]
	}
	if outer {
		return err
	}
	b.journaling = false
	clear(b.undo)
	b.undo = b.undo[:0]
	if err == nil {
		b.state = stateDirty
	}
	return err
}

// Batch runs fn as one all-or-nothing step: if fn returns an error, every
// write made through b inside fn is rolled back.
func (b *Builder) Batch(fn func() error) error {
	if err := b.writable(); err != nil {
		return err
	}
	return b.atomic(fn)
}

func (b *Builder) remember(undo func()) {
	if b.journaling {
		b.undo = append(b.undo, undo)
	}
}

func (b *Builder) putAdded(d *entityData) {
	id := d.id
	prev, had := b.added[id]
	b.added[id] = d
	if had {
		b.remember(func() { b.added[id] = prev })
		return
	}
	n := len(b.addedOrder[id.Type])
	b.addedOrder[id.Type] = append(b.addedOrder[id.Type], id)
	b.remember(func() {
		delete(b.added, id)
		b.addedOrder[id.Type] = b.addedOrder[id.Type][:n]
	})
}

func (b *Builder) putModified(d *entityData) {
	id := d.id
	prev, had := b.modified[id]
	b.modified[id] = d
	b.remember(func() {
		if had {
			b.modified[id] = prev
		} else {
			delete(b.modified, id)
		}
	})
}

// update stores a new version of an existing live entity.
func (b *Builder) update(d *entityData) {
	if _, ok := b.added[d.id]; ok {
		b.putAdded(d)
		return
	}
	b.putModified(d)
}

func (b *Builder) markRemoved(id domain.EntityID) {
	if prev, ok := b.added[id]; ok {
		delete(b.added, id)
		b.remember(func() { b.added[id] = prev })
	}
	if prev, ok := b.modified[id]; ok {
		delete(b.modified, id)
		b.remember(func() { b.modified[id] = prev })
	}
	b.removed[id] = struct{}{}
	b.remember(func() { delete(b.removed, id) })
}

func (b *Builder) delta(conn string) *refDelta {
	d := b.refs[conn]
	if d == nil {
		d = &refDelta{
			parentOf: make(map[uint64]parentSlot),
			children: make(map[uint64][]domain.EntityID),
		}
		b.refs[conn] = d
	}
	return d
}

func (b *Builder) setParentSlot(conn string, child uint64, slot parentSlot) {
	d := b.delta(conn)
	prev, had := d.parentOf[child]
	d.parentOf[child] = slot
	b.remember(func() {
		if had {
			d.parentOf[child] = prev
		} else {
			delete(d.parentOf, child)
		}
	})
}

func (b *Builder) setChildrenList(conn string, parent uint64, list []domain.EntityID) {
	d := b.delta(conn)
	prev, had := d.children[parent]
	d.children[parent] = list
	b.remember(func() {
		if had {
			d.children[parent] = prev
		} else {
			delete(d.children, parent)
		}
	})
}

// AddEntity validates the draft, assigns it a fresh id and links it under the
// draft's parents.
func (b *Builder) AddEntity(d *Draft) (Entity, error) {
	if err := b.writable(); err != nil {
		return Entity{}, err
	}
	if d.bound != nil {
		return Entity{}, domain.DuplicateEntityError{Type: d.typ}
	}
	if err := domain.CheckSource(d.source); err != nil {
		return Entity{}, err
	}
	if err := b.schema.CheckInstance(d.typ, d.fields); err != nil {
		return Entity{}, err
	}
	if err := b.checkRequiredParents(d.typ, func(conn domain.ConnectionID) bool {
		for _, p := range d.parents {
			if p.conn.Name == conn.Name && !p.parent.IsZero() {
				return true
			}
		}
		return false
	}); err != nil {
		return Entity{}, err
	}
	var ent Entity
	err := b.atomic(func() error {
		data := &entityData{id: b.lineage.next(d.typ), source: d.source, fields: d.fields.Clone()}
		b.putAdded(data)
		b.logAdd(data.id)
		for _, p := range d.parents {
			if err := b.link(p.conn, p.parent, data.id); err != nil {
				return err
			}
		}
		ent = Entity{id: data.id, owner: b}
		return nil
	})
	if err != nil {
		return Entity{}, err
	}
	d.bound = b
	return ent, nil
}

func (b *Builder) checkRequiredParents(t domain.EntityType, has func(domain.ConnectionID) bool) error {
	for _, conn := range b.schema.ParentConnections(t) {
		if !conn.ParentNullable && !has(conn) {
			return domain.UninitializedFieldError{Type: t, Field: conn.Name}
		}
	}
	return nil
}

// ModifyEntity runs fn against a writable view of e and applies the result
// as one change. When fn fails the builder is left untouched.
func (b *Builder) ModifyEntity(e Entity, fn func(*MutableEntity) error) (Entity, error) {
	if err := b.writable(); err != nil {
		return Entity{}, err
	}
	d, err := b.live(e.id)
	if err != nil {
		return Entity{}, err
	}
	m := &MutableEntity{
		id:     d.id,
		schema: b.schema,
		fields: d.fields.Clone(),
		source: d.source,
		open:   true,
	}
	err = fn(m)
	m.open = false
	if err != nil {
		return Entity{}, err
	}
	if err := b.schema.CheckInstance(d.id.Type, m.fields); err != nil {
		return Entity{}, err
	}
	err = b.atomic(func() error { return b.applyEdit(d, m) })
	if err != nil {
		return Entity{}, err
	}
	return Entity{id: d.id, owner: b}, nil
}

func (b *Builder) applyEdit(d *entityData, m *MutableEntity) error {
	id := d.id
	var refs []string
	for _, pe := range m.parents {
		if pe.parent.IsZero() {
			if !pe.conn.ParentNullable {
				return domain.UninitializedFieldError{Type: id.Type, Field: pe.conn.Name}
			}
			b.unlink(pe.conn, id)
		} else if err := b.link(pe.conn, pe.parent, id); err != nil {
			return err
		}
		refs = append(refs, pe.conn.RefField())
	}
	for _, ce := range m.children {
		moved, dropped, err := b.replaceChildren(ce.conn, id, ce.children)
		if err != nil {
			return err
		}
		for _, c := range moved {
			b.logTouch(c, ce.conn.RefField())
		}
		for _, c := range dropped {
			if ce.conn.ParentNullable {
				b.logTouch(c, ce.conn.RefField())
				continue
			}
			if _, ok := b.lookup(c); ok {
				b.removeTree(c)
			}
		}
		refs = append(refs, ce.conn.RefField())
	}
	if !fieldsEqual(d.fields, m.fields) || d.source != m.source {
		b.update(&entityData{id: id, source: m.source, fields: m.fields})
	}
	b.logTouch(id, refs...)
	return nil
}

func fieldsEqual(a, b domain.Fields) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if !domain.ValuesEqual(v, b[k]) {
			return false
		}
	}
	return true
}

// RemoveEntity removes e and cascades over its relations.
func (b *Builder) RemoveEntity(e Entity) error {
	if err := b.writable(); err != nil {
		return err
	}
	if _, err := b.live(e.id); err != nil {
		return err
	}
	return b.atomic(func() error {
		b.removeTree(e.id)
		return nil
	})
}

// CheckInitialization verifies required fields and required parents of every
// entity added or modified by this builder.
func (b *Builder) CheckInitialization() error {
	check := func(d *entityData) error {
		if err := b.schema.CheckInstance(d.id.Type, d.fields); err != nil {
			return err
		}
		return b.checkRequiredParents(d.id.Type, func(conn domain.ConnectionID) bool {
			_, ok := b.parentOf(conn, d.id)
			return ok
		})
	}
	for _, d := range b.added {
		if err := check(d); err != nil {
			return err
		}
	}
	for _, d := range b.modified {
		if err := check(d); err != nil {
			return err
		}
	}
	return nil
}

// ToStorage folds the overlay into a new immutable snapshot. Untouched type
// partitions, source buckets and relation tables are shared with the base.
// The builder is finalized afterwards; calling ToStorage again returns the
// same snapshot.
func (b *Builder) ToStorage() (*Snapshot, error) {
	if b.state == stateFinalized {
		return b.result, nil
	}
	if err := b.CheckInitialization(); err != nil {
		return nil, err
	}
	f := b.base.beginFold()
	for id := range b.removed {
		if old, ok := b.base.data(id); ok {
			f.delete(old)
		}
	}
	for id, d := range b.modified {
		old, _ := b.base.data(id)
		f.put(old, d)
	}
	for _, d := range b.added {
		f.put(nil, d)
	}
	for name, delta := range b.refs {
		for seq, slot := range delta.parentOf {
			f.setParent(name, seq, slot)
		}
		for seq, list := range delta.children {
			f.setChildren(name, seq, list)
		}
	}
	b.state = stateFinalized
	b.result = f.s
	return f.s, nil
}
