package storage

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"workspacemodel/pkg/domain"
)

// keyer computes identity keys: the entity type, its business key fields and
// the identity keys of its current parents.
type keyer struct {
	r      Reader
	schema *domain.Schema
	memo   map[domain.EntityID]string
}

func newKeyer(r Reader) *keyer {
	return &keyer{r: r, schema: r.Schema(), memo: make(map[domain.EntityID]string)}
}

func (k *keyer) key(e Entity) string {
	if s, ok := k.memo[e.ID()]; ok {
		return s
	}
	// Parent cycles are rejected on write; the placeholder only guards reentry.
	k.memo[e.ID()] = "<cycle>"
	var sb strings.Builder
	sb.WriteString(string(e.Type()))
	rec, err := e.Record()
	if err == nil {
		for _, f := range k.schema.KeyFields(e.Type()) {
			sb.WriteByte('|')
			sb.WriteString(f)
			sb.WriteByte('=')
			if v := rec.Fields[f]; v != nil {
				sb.WriteString(strconv.Quote(v.String()))
			}
		}
	}
	for _, conn := range k.schema.ParentConnections(e.Type()) {
		p, ok, err := k.r.Parent(conn, e.ID())
		if err != nil || !ok {
			continue
		}
		sb.WriteString("^" + conn.Name + "(" + k.key(p) + ")")
	}
	s := sb.String()
	k.memo[e.ID()] = s
	return s
}

func flatten(groups map[domain.EntitySource]map[domain.EntityType][]Entity) []Entity {
	var out []Entity
	for _, byType := range groups {
		for _, list := range byType {
			out = append(out, list...)
		}
	}
	slices.SortFunc(out, func(x, y Entity) int { return compareSeq(x.id.Seq, y.id.Seq) })
	return out
}

type replacePair struct {
	repl   Entity
	target domain.EntityID
}

type replacer struct {
	b    *Builder
	repl Reader
	pred domain.SourcePredicate
	tk   *keyer
	rk   *keyer

	candidate map[domain.EntityID]struct{}
	byKey     map[domain.EntityType]map[string]domain.EntityID
	mapped    map[domain.EntityID]domain.EntityID
	protected map[domain.EntityID]struct{}
	adding    map[domain.EntityID]bool

	pairs    []replacePair
	toAdd    []Entity
	toRemove []domain.EntityID
	skipped  int
}

// ReplaceBySource makes the entities of b whose source satisfies pred equal
// to the matching entities of replacement. Entities present on both sides
// (same identity key) keep their id and take the replacement's fields,
// source and parents; the rest are added or removed. Entities whose source
// does not satisfy pred keep their fields and sources; only their relation
// edges to replaced entities may change. The operation is atomic.
func (b *Builder) ReplaceBySource(pred domain.SourcePredicate, replacement Reader) error {
	if err := b.writable(); err != nil {
		return err
	}
	if replacement.Schema() != b.schema {
		return fmt.Errorf("replace by source: replacement uses a different schema")
	}
	r := &replacer{
		b:         b,
		repl:      replacement,
		pred:      pred,
		tk:        newKeyer(b),
		rk:        newKeyer(replacement),
		candidate: make(map[domain.EntityID]struct{}),
		byKey:     make(map[domain.EntityType]map[string]domain.EntityID),
		mapped:    make(map[domain.EntityID]domain.EntityID),
		protected: make(map[domain.EntityID]struct{}),
		adding:    make(map[domain.EntityID]bool),
	}
	r.plan()
	if err := b.atomic(r.apply); err != nil {
		return fmt.Errorf("replace by source: %w", err)
	}
	b.logger.Debug("replace by source",
		zap.Int("matched", len(r.pairs)),
		zap.Int("added", len(r.toAdd)-r.skipped),
		zap.Int("removed", len(r.toRemove)),
		zap.Int("skipped", r.skipped))
	return nil
}

// lookupKey finds a live target entity of type t with identity key k. The
// per-type index is built on first use.
func (r *replacer) lookupKey(t domain.EntityType, k string) (domain.EntityID, bool) {
	idx, ok := r.byKey[t]
	if !ok {
		idx = make(map[string]domain.EntityID)
		for e := range r.b.Entities(t) {
			key := r.tk.key(e)
			if _, dup := idx[key]; !dup {
				idx[key] = e.ID()
			}
		}
		r.byKey[t] = idx
	}
	id, ok := idx[k]
	return id, ok
}

func (r *replacer) plan() {
	targets := flatten(r.b.EntitiesBySource(r.pred))
	index := make(map[string]domain.EntityID, len(targets))
	for _, t := range targets {
		r.candidate[t.ID()] = struct{}{}
		k := r.tk.key(t)
		if _, dup := index[k]; !dup {
			index[k] = t.ID()
		}
	}
	matched := make(map[domain.EntityID]struct{})
	for _, e := range flatten(r.repl.EntitiesBySource(r.pred)) {
		k := r.rk.key(e)
		if t, ok := index[k]; ok {
			if _, used := matched[t]; !used {
				matched[t] = struct{}{}
				r.mapped[e.ID()] = t
				r.pairs = append(r.pairs, replacePair{repl: e, target: t})
				continue
			}
		}
		if t, ok := r.lookupKey(e.Type(), k); ok {
			if _, isCandidate := r.candidate[t]; !isCandidate {
				// An entity outside the replaced sources already owns this
				// identity; reuse it as the anchor for the subtree.
				r.mapped[e.ID()] = t
				r.protected[t] = struct{}{}
				continue
			}
		}
		r.toAdd = append(r.toAdd, e)
		r.adding[e.ID()] = true
	}
	anchor := func(e Entity) {
		for _, conn := range r.b.schema.ParentConnections(e.Type()) {
			p, ok, err := r.repl.Parent(conn, e.ID())
			if err != nil || !ok {
				continue
			}
			if src, err := p.Source(); err == nil && r.pred(src) {
				continue
			}
			if t, ok := r.resolve(p); ok {
				r.protected[t] = struct{}{}
			}
		}
	}
	for _, p := range r.pairs {
		anchor(p.repl)
	}
	for _, e := range r.toAdd {
		anchor(e)
	}
	for _, t := range targets {
		id := t.ID()
		if _, ok := matched[id]; ok {
			continue
		}
		if _, ok := r.protected[id]; ok {
			continue
		}
		if r.hasForeignDependents(id) {
			r.b.logger.Debug("keeping entity required by entities outside the replaced sources", zap.Stringer("entity", id))
			continue
		}
		r.toRemove = append(r.toRemove, id)
	}
}

// resolve maps a replacement entity to its target counterpart: a matched
// pair, an entity added by this replacement or an anchor with the same
// identity key.
func (r *replacer) resolve(p Entity) (domain.EntityID, bool) {
	if t, ok := r.mapped[p.ID()]; ok {
		_, live := r.b.lookup(t)
		return t, live
	}
	if r.adding[p.ID()] {
		return domain.EntityID{}, false
	}
	t, ok := r.lookupKey(p.Type(), r.rk.key(p))
	if ok {
		r.mapped[p.ID()] = t
	}
	return t, ok
}

func (r *replacer) hasForeignDependents(root domain.EntityID) bool {
	pending := []domain.EntityID{root}
	seen := map[domain.EntityID]struct{}{}
	for len(pending) > 0 {
		id := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		for _, conn := range r.b.schema.ChildConnections(id.Type) {
			if conn.ParentNullable {
				continue
			}
			for _, c := range r.b.childrenOf(conn, id) {
				if d, ok := r.b.lookup(c); ok && !r.pred(d.source) {
					return true
				}
				pending = append(pending, c)
			}
		}
	}
	return false
}

func (r *replacer) apply() error {
	for _, id := range r.toRemove {
		if _, ok := r.b.lookup(id); ok {
			r.b.removeTree(id)
		}
	}
	done := make(map[domain.EntityID]bool, len(r.toAdd))
	for _, e := range r.toAdd {
		if err := r.add(e, done); err != nil {
			return err
		}
	}
	for _, p := range r.pairs {
		if err := r.retarget(p); err != nil {
			return err
		}
	}
	return nil
}

func (r *replacer) add(e Entity, done map[domain.EntityID]bool) error {
	if done[e.ID()] {
		return nil
	}
	done[e.ID()] = true
	b := r.b
	type edge struct {
		conn   domain.ConnectionID
		parent Entity
	}
	var parents []edge
	for _, conn := range b.schema.ParentConnections(e.Type()) {
		p, ok, err := r.repl.Parent(conn, e.ID())
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if r.adding[p.ID()] {
			if err := r.add(p, done); err != nil {
				return err
			}
		}
		parents = append(parents, edge{conn: conn, parent: p})
	}
	rec, err := e.Record()
	if err != nil {
		return err
	}
	links := make([]draftParent, 0, len(parents))
	for _, pe := range parents {
		tp, ok := r.resolve(pe.parent)
		if !ok {
			if pe.conn.ParentNullable {
				continue
			}
			b.logger.Warn("skipping replacement entity without a parent in the target",
				zap.Stringer("entity", e.ID()), zap.String("connection", pe.conn.Name))
			r.skipped++
			return nil
		}
		if pe.conn.Kind == domain.OneToOne && len(b.childrenOf(pe.conn, tp)) > 0 {
			// The slot is held by an entity the replacement does not own.
			b.logger.Warn("skipping replacement entity whose one-to-one parent already has a child",
				zap.Stringer("entity", e.ID()), zap.Stringer("parent", tp), zap.String("connection", pe.conn.Name))
			r.skipped++
			return nil
		}
		links = append(links, draftParent{conn: pe.conn, parent: tp})
	}
	nd := &entityData{id: b.lineage.next(e.Type()), source: rec.Source, fields: rec.Fields}
	b.putAdded(nd)
	b.logAdd(nd.id)
	r.mapped[e.ID()] = nd.id
	for _, l := range links {
		if err := b.link(l.conn, l.parent, nd.id); err != nil {
			return err
		}
	}
	return nil
}

func (r *replacer) retarget(p replacePair) error {
	b := r.b
	cur, ok := b.lookup(p.target)
	if !ok {
		return nil
	}
	rec, err := p.repl.Record()
	if err != nil {
		return err
	}
	if !fieldsEqual(cur.fields, rec.Fields) || cur.source != rec.Source {
		b.update(&entityData{id: p.target, source: rec.Source, fields: rec.Fields})
	}
	var refs []string
	for _, conn := range b.schema.ParentConnections(p.target.Type) {
		rp, ok, err := r.repl.Parent(conn, p.repl.ID())
		if err != nil {
			return err
		}
		current, has := b.parentOf(conn, p.target)
		if !ok {
			if has && conn.ParentNullable {
				if _, replaced := r.candidate[current]; replaced {
					b.unlink(conn, p.target)
					refs = append(refs, conn.RefField())
				}
			}
			continue
		}
		tp, ok := r.resolve(rp)
		if !ok || (has && tp == current) {
			continue
		}
		if err := b.link(conn, tp, p.target); err != nil {
			return err
		}
		refs = append(refs, conn.RefField())
	}
	b.logTouch(p.target, refs...)
	return nil
}
