// Package storage implements the workspace entity store: immutable snapshots
// with structural sharing, copy-on-write builders, the relation index, the
// coalescing change log, diff application and source-scoped replacement.
package storage

import (
	"iter"
	"sync/atomic"

	"workspacemodel/pkg/domain"
)

type entityData struct {
	id     domain.EntityID
	source domain.EntitySource
	fields domain.Fields
}

func (d *entityData) record() domain.Record {
	return domain.Record{ID: d.id, Source: d.source, Fields: d.fields.Clone()}
}

// lineage is shared by every snapshot and builder derived from one NewBuilder
// call. The counter is atomic because divergent builders of one lineage may
// live on different goroutines.
type lineage struct {
	id  domain.LineageID
	seq atomic.Uint64
}

func (l *lineage) next(t domain.EntityType) domain.EntityID {
	return domain.EntityID{Lineage: l.id, Type: t, Seq: l.seq.Add(1)}
}

type refTable struct {
	parentOf *radix[domain.EntityID]
	children *radix[[]domain.EntityID]
}

// Snapshot is an immutable version of the workspace. It is safe for
// concurrent use without locking.
type Snapshot struct {
	schema   *domain.Schema
	lineage  *lineage
	entities map[domain.EntityType]*radix[*entityData]
	bySource map[domain.EntitySource]map[domain.EntityType]*radix[struct{}]
	refs     map[string]refTable
	count    int
}

func emptySnapshot(schema *domain.Schema, lin *lineage) *Snapshot {
	return &Snapshot{
		schema:   schema,
		lineage:  lin,
		entities: make(map[domain.EntityType]*radix[*entityData]),
		bySource: make(map[domain.EntitySource]map[domain.EntityType]*radix[struct{}]),
		refs:     make(map[string]refTable),
	}
}

// Schema returns the entity model the snapshot was built against.
func (s *Snapshot) Schema() *domain.Schema { return s.schema }

// Lineage returns the id space the snapshot belongs to.
func (s *Snapshot) Lineage() domain.LineageID { return s.lineage.id }

// Len returns the number of entities in the snapshot.
func (s *Snapshot) Len() int { return s.count }

// Count returns the number of entities of concrete type t.
func (s *Snapshot) Count(t domain.EntityType) int {
	return s.entities[t].len()
}

func (s *Snapshot) data(id domain.EntityID) (*entityData, bool) {
	if id.Lineage != s.lineage.id {
		return nil, false
	}
	return s.entities[id.Type].get(id.Seq)
}

func (s *Snapshot) parentOf(conn domain.ConnectionID, child domain.EntityID) (domain.EntityID, bool) {
	return s.refs[conn.Name].parentOf.get(child.Seq)
}

func (s *Snapshot) childrenOf(conn domain.ConnectionID, parent domain.EntityID) []domain.EntityID {
	list, _ := s.refs[conn.Name].children.get(parent.Seq)
	return list
}

// Entities lists the entities of type t in insertion order. An abstract t
// yields every concrete subtype, one type after the other.
func (s *Snapshot) Entities(t domain.EntityType) iter.Seq[Entity] {
	return func(yield func(Entity) bool) {
		for _, ct := range concreteTypes(s.schema, t) {
			ok := s.entities[ct].each(func(_ uint64, d *entityData) bool {
				return yield(Entity{id: d.id, data: d})
			})
			if !ok {
				return
			}
		}
	}
}

// Resolve returns the entity with the given id. Ids of other lineages never resolve.
func (s *Snapshot) Resolve(id domain.EntityID) (Entity, bool) {
	d, ok := s.data(id)
	if !ok {
		return Entity{}, false
	}
	return Entity{id: id, data: d}, true
}

// EntitiesBySource groups the entities whose source satisfies pred. Only the
// by-source index is consulted.
func (s *Snapshot) EntitiesBySource(pred domain.SourcePredicate) map[domain.EntitySource]map[domain.EntityType][]Entity {
	out := make(map[domain.EntitySource]map[domain.EntityType][]Entity)
	for src, byType := range s.bySource {
		if !pred(src) {
			continue
		}
		group := make(map[domain.EntityType][]Entity, len(byType))
		for t, ids := range byType {
			part := s.entities[t]
			ids.each(func(seq uint64, _ struct{}) bool {
				if d, ok := part.get(seq); ok {
					group[t] = append(group[t], Entity{id: d.id, data: d})
				}
				return true
			})
		}
		out[src] = group
	}
	return out
}

// Parent returns the parent of child on conn.
func (s *Snapshot) Parent(conn domain.ConnectionID, child domain.EntityID) (Entity, bool, error) {
	if err := s.checkLineage(child); err != nil {
		return Entity{}, false, err
	}
	pid, ok := s.parentOf(conn, child)
	if !ok {
		return Entity{}, false, nil
	}
	p, ok := s.Resolve(pid)
	return p, ok, nil
}

// Children returns the ordered children of parent on conn.
func (s *Snapshot) Children(conn domain.ConnectionID, parent domain.EntityID) ([]Entity, error) {
	if err := s.checkLineage(parent); err != nil {
		return nil, err
	}
	ids := s.childrenOf(conn, parent)
	out := make([]Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.Resolve(id); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Snapshot) checkLineage(id domain.EntityID) error {
	if id.Lineage != s.lineage.id {
		return domain.ForeignEntityError{ID: id, Expected: s.lineage.id}
	}
	return nil
}

// Records returns detached copies of the entities of type t.
func (s *Snapshot) Records(t domain.EntityType) []domain.Record {
	return collectRecords(s.Entities(t))
}

// Lookup returns a detached copy of the entity with the given id.
func (s *Snapshot) Lookup(id domain.EntityID) (domain.Record, bool) {
	d, ok := s.data(id)
	if !ok {
		return domain.Record{}, false
	}
	return d.record(), true
}

func collectRecords(seq iter.Seq[Entity]) []domain.Record {
	var out []domain.Record
	for e := range seq {
		if r, err := e.Record(); err == nil {
			out = append(out, r)
		}
	}
	return out
}

func concreteTypes(schema *domain.Schema, t domain.EntityType) []domain.EntityType {
	spec, ok := schema.Type(t)
	if !ok {
		return nil
	}
	if !spec.Abstract {
		return []domain.EntityType{t}
	}
	var out []domain.EntityType
	for _, ct := range schema.Types() {
		if sp, _ := schema.Type(ct); !sp.Abstract && schema.IsA(ct, t) {
			out = append(out, ct)
		}
	}
	return out
}

// fold is the mutable view of a snapshot under construction. It copies outer
// maps once and inner maps on first touch so the base stays untouched.
type fold struct {
	s          *Snapshot
	baseSource map[domain.EntitySource]bool
}

func (s *Snapshot) beginFold() *fold {
	next := &Snapshot{
		schema:   s.schema,
		lineage:  s.lineage,
		entities: make(map[domain.EntityType]*radix[*entityData], len(s.entities)),
		bySource: make(map[domain.EntitySource]map[domain.EntityType]*radix[struct{}], len(s.bySource)),
		refs:     make(map[string]refTable, len(s.refs)),
		count:    s.count,
	}
	for t, p := range s.entities {
		next.entities[t] = p
	}
	for src, byType := range s.bySource {
		next.bySource[src] = byType
	}
	for name, rt := range s.refs {
		next.refs[name] = rt
	}
	return &fold{s: next, baseSource: make(map[domain.EntitySource]bool)}
}

func (f *fold) sourceBucket(src domain.EntitySource) map[domain.EntityType]*radix[struct{}] {
	bucket, ok := f.s.bySource[src]
	if f.baseSource[src] {
		return bucket
	}
	copied := make(map[domain.EntityType]*radix[struct{}], len(bucket)+1)
	if ok {
		for t, r := range bucket {
			copied[t] = r
		}
	}
	f.s.bySource[src] = copied
	f.baseSource[src] = true
	return copied
}

func (f *fold) put(old, d *entityData) {
	t := d.id.Type
	f.s.entities[t] = f.s.entities[t].set(d.id.Seq, d)
	if old == nil {
		f.s.count++
	}
	if old != nil && old.source == d.source {
		return
	}
	if old != nil {
		f.unindex(old)
	}
	bucket := f.sourceBucket(d.source)
	bucket[t] = bucket[t].set(d.id.Seq, struct{}{})
}

func (f *fold) delete(old *entityData) {
	t := old.id.Type
	f.s.entities[t] = f.s.entities[t].delete(old.id.Seq)
	if f.s.entities[t].len() == 0 {
		delete(f.s.entities, t)
	}
	f.s.count--
	f.unindex(old)
}

func (f *fold) unindex(old *entityData) {
	bucket := f.sourceBucket(old.source)
	t := old.id.Type
	bucket[t] = bucket[t].delete(old.id.Seq)
	if bucket[t].len() == 0 {
		delete(bucket, t)
	}
	if len(bucket) == 0 {
		delete(f.s.bySource, old.source)
		delete(f.baseSource, old.source)
	}
}

func (f *fold) setParent(conn string, child uint64, slot parentSlot) {
	rt := f.s.refs[conn]
	if slot.ok {
		rt.parentOf = rt.parentOf.set(child, slot.id)
	} else {
		rt.parentOf = rt.parentOf.delete(child)
	}
	f.s.refs[conn] = rt
}

func (f *fold) setChildren(conn string, parent uint64, list []domain.EntityID) {
	rt := f.s.refs[conn]
	if len(list) == 0 {
		rt.children = rt.children.delete(parent)
	} else {
		rt.children = rt.children.set(parent, list)
	}
	f.s.refs[conn] = rt
}
