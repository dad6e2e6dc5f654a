package storage

import (
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"workspacemodel/pkg/domain"
)

// ConflictPolicy decides which side wins when AddDiff replays a field edit
// on an entity the target builder has also edited.
type ConflictPolicy int

const (
	// SourceWins applies the incoming value (last writer wins).
	SourceWins ConflictPolicy = iota
	// TargetWins keeps fields and sources the target already changed.
	TargetWins
)

func (p ConflictPolicy) String() string {
	if p == TargetWins {
		return "target_wins"
	}
	return "source_wins"
}

// ParseConflictPolicy accepts "source_wins" or "target_wins".
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "source_wins":
		return SourceWins, nil
	case "target_wins":
		return TargetWins, nil
	default:
		return SourceWins, fmt.Errorf("unknown conflict policy %q", s)
	}
}

// AddDiff replays the change log of src into b. Entities added in src get
// fresh ids in b with their relations remapped; edits and removals of shared
// entities are applied on top of b's own changes. Changes to entities that b
// has already removed are dropped. Either every change is applied or b is
// left untouched. A builder can be applied as a diff only once.
func (b *Builder) AddDiff(src *Builder) error {
	if err := b.writable(); err != nil {
		return err
	}
	if src == b {
		return fmt.Errorf("add diff: builder cannot be applied to itself")
	}
	if src.applied {
		return domain.DiffAlreadyAppliedError{}
	}
	if src.schema != b.schema {
		return fmt.Errorf("add diff: builders use different schemas")
	}
	changes := src.Changes()
	sameLineage := src.lineage.id == b.lineage.id
	if !sameLineage {
		for _, c := range changes {
			if c.Kind != domain.ChangeAdd {
				return domain.ForeignEntityError{ID: c.ID, Expected: b.lineage.id}
			}
		}
	}
	a := &diffApplier{target: b, src: src, same: sameLineage, mapping: make(map[domain.EntityID]domain.EntityID)}
	if err := b.atomic(func() error { return a.apply(changes) }); err != nil {
		return err
	}
	src.applied = true
	b.logger.Debug("diff applied",
		zap.Int("changes", len(changes)),
		zap.Int("added", len(a.added)),
		zap.Int("dropped", a.dropped))
	return nil
}

type diffApplier struct {
	target  *Builder
	src     *Builder
	same    bool
	mapping map[domain.EntityID]domain.EntityID
	added   []domain.EntityID
	dropped int
}

func (a *diffApplier) apply(changes []domain.Change) error {
	b := a.target
	for _, c := range changes {
		if c.Kind != domain.ChangeAdd {
			continue
		}
		d, _ := a.src.lookup(c.ID)
		nd := &entityData{id: b.lineage.next(c.Type), source: d.source, fields: d.fields.Clone()}
		b.putAdded(nd)
		b.logAdd(nd.id)
		a.mapping[c.ID] = nd.id
		a.added = append(a.added, c.ID)
	}
	for _, c := range changes {
		if c.Kind != domain.ChangeRemove {
			continue
		}
		if _, ok := b.lookup(c.ID); ok {
			b.removeTree(c.ID)
		} else {
			a.dropped++
		}
	}
	for _, c := range changes {
		switch c.Kind {
		case domain.ChangeReplace, domain.ChangeSource, domain.ChangeReplaceAndSource:
			if err := a.replace(c); err != nil {
				return err
			}
		}
	}
	for _, sid := range a.added {
		if err := a.linkAdded(sid); err != nil {
			return err
		}
	}
	return nil
}

// targetID maps an id of src into b. The boolean is false when the entity no
// longer lives in b.
func (a *diffApplier) targetID(id domain.EntityID) (domain.EntityID, bool, error) {
	if mapped, ok := a.mapping[id]; ok {
		_, live := a.target.lookup(mapped)
		return mapped, live, nil
	}
	if !a.same {
		return domain.EntityID{}, false, domain.ForeignEntityError{ID: id, Expected: a.target.lineage.id}
	}
	_, live := a.target.lookup(id)
	return id, live, nil
}

func (a *diffApplier) linkAdded(sid domain.EntityID) error {
	b := a.target
	nid := a.mapping[sid]
	if _, ok := b.lookup(nid); !ok {
		return nil
	}
	for _, conn := range b.schema.ParentConnections(sid.Type) {
		p, ok := a.src.parentOf(conn, sid)
		if !ok {
			continue
		}
		tp, live, err := a.targetID(p)
		if err != nil {
			return err
		}
		if !live {
			if conn.ParentNullable {
				continue
			}
			b.logger.Warn("dropping added entity whose parent was removed",
				zap.Stringer("entity", sid), zap.Stringer("parent", p), zap.String("connection", conn.Name))
			b.removeTree(nid)
			a.dropped++
			return nil
		}
		if err := b.link(conn, tp, nid); err != nil {
			return err
		}
	}
	return nil
}

func (a *diffApplier) replace(c domain.Change) error {
	b := a.target
	cur, ok := b.lookup(c.ID)
	if !ok {
		a.dropped++
		b.logger.Debug("dropping change for entity removed in target", zap.Stringer("entity", c.ID))
		return nil
	}
	incoming, _ := a.src.lookup(c.ID)
	mine := map[string]bool{}
	mineSource := false
	if a.target.policy == TargetWins {
		if e, ok := b.log.entries[c.ID]; ok {
			if own, ok := b.describe(c.ID, e); ok {
				for _, f := range own.Fields {
					mine[f] = true
				}
				mineSource = own.Kind == domain.ChangeSource || own.Kind == domain.ChangeReplaceAndSource
			}
		}
	}
	fields := cur.fields.Clone()
	source := cur.source
	var refs []string
	for _, f := range c.Fields {
		if strings.HasPrefix(f, "@") {
			refs = append(refs, f)
			continue
		}
		if mine[f] {
			continue
		}
		if v := incoming.fields[f]; v != nil {
			fields[f] = v
		} else {
			delete(fields, f)
		}
	}
	if (c.Kind == domain.ChangeSource || c.Kind == domain.ChangeReplaceAndSource) && !mineSource {
		source = incoming.source
	}
	if !fieldsEqual(cur.fields, fields) || cur.source != source {
		b.update(&entityData{id: c.ID, source: source, fields: fields})
	}
	for _, ref := range refs {
		if mine[ref] {
			continue
		}
		if err := a.replaceRef(c.ID, ref); err != nil {
			return err
		}
	}
	b.logTouch(c.ID, refs...)
	return nil
}

func (a *diffApplier) replaceRef(id domain.EntityID, ref string) error {
	b := a.target
	conn, ok := b.schema.Connection(ref[1:])
	if !ok {
		return nil
	}
	if b.schema.AcceptsChild(conn, id.Type) {
		p, ok := a.src.parentOf(conn, id)
		switch {
		case ok:
			tp, live, err := a.targetID(p)
			if err != nil {
				return err
			}
			if live {
				if err := b.link(conn, tp, id); err != nil {
					return err
				}
			}
		case conn.ParentNullable:
			b.unlink(conn, id)
		}
	}
	if b.schema.IsA(id.Type, conn.Parent) {
		var order []domain.EntityID
		for _, c := range a.src.childrenOf(conn, id) {
			tc, live, err := a.targetID(c)
			if err != nil {
				return err
			}
			if live {
				order = append(order, tc)
			}
		}
		for _, c := range b.childrenOf(conn, id) {
			if !slices.Contains(order, c) {
				order = append(order, c)
			}
		}
		if conn.Kind == domain.OneToOne && len(order) > 1 {
			order = order[:1]
		}
		moved, dropped, err := b.replaceChildren(conn, id, order)
		if err != nil {
			return err
		}
		for _, c := range moved {
			b.logTouch(c, ref)
		}
		for _, c := range dropped {
			if conn.ParentNullable {
				b.logTouch(c, ref)
			} else if _, ok := b.lookup(c); ok {
				b.removeTree(c)
			}
		}
	}
	return nil
}
