package storage

import (
	"fmt"
	"slices"

	"workspacemodel/pkg/domain"
)

// Entity is a read handle. Handles taken from a Snapshot carry the data they
// were read with; handles taken from a Builder read through the builder and
// fail with EntityRemovedError once the entity is removed there.
type Entity struct {
	id    domain.EntityID
	data  *entityData
	owner *Builder
}

// ID returns the entity identity.
func (e Entity) ID() domain.EntityID { return e.id }

// Type returns the concrete entity type.
func (e Entity) Type() domain.EntityType { return e.id.Type }

// IsZero reports whether e is the zero handle.
func (e Entity) IsZero() bool { return e.id.IsZero() }

func (e Entity) current() (*entityData, error) {
	if e.owner == nil {
		if e.data == nil {
			return nil, domain.EntityRemovedError{ID: e.id}
		}
		return e.data, nil
	}
	d, ok := e.owner.lookup(e.id)
	if !ok {
		return nil, domain.EntityRemovedError{ID: e.id}
	}
	return d, nil
}

// Source returns the entity source.
func (e Entity) Source() (domain.EntitySource, error) {
	d, err := e.current()
	if err != nil {
		return nil, err
	}
	return d.source, nil
}

// Value returns field name; nil means the field is null.
func (e Entity) Value(name string) (domain.Value, error) {
	d, err := e.current()
	if err != nil {
		return nil, err
	}
	return d.fields[name], nil
}

// Fields returns a copy of every non-null field.
func (e Entity) Fields() (domain.Fields, error) {
	d, err := e.current()
	if err != nil {
		return nil, err
	}
	return d.fields.Clone(), nil
}

// Record returns a detached copy of the entity state.
func (e Entity) Record() (domain.Record, error) {
	d, err := e.current()
	if err != nil {
		return domain.Record{}, err
	}
	return d.record(), nil
}

// Text returns a string field, "" when null.
func (e Entity) Text(name string) (string, error) {
	v, err := e.Value(name)
	if err != nil || v == nil {
		return "", err
	}
	s, ok := v.(domain.String)
	if !ok {
		return "", fmt.Errorf("%s.%s is %s, not a string", e.id.Type, name, v.Kind())
	}
	return string(s), nil
}

// Flag returns a bool field, false when null.
func (e Entity) Flag(name string) (bool, error) {
	v, err := e.Value(name)
	if err != nil || v == nil {
		return false, err
	}
	b, ok := v.(domain.Bool)
	if !ok {
		return false, fmt.Errorf("%s.%s is %s, not a bool", e.id.Type, name, v.Kind())
	}
	return bool(b), nil
}

// List returns a copy of a strings field, nil when null.
func (e Entity) List(name string) ([]string, error) {
	v, err := e.Value(name)
	if err != nil || v == nil {
		return nil, err
	}
	s, ok := v.(domain.Strings)
	if !ok {
		return nil, fmt.Errorf("%s.%s is %s, not a string list", e.id.Type, name, v.Kind())
	}
	return slices.Clone([]string(s)), nil
}

// Draft describes an entity that is not yet part of any builder.
type Draft struct {
	typ     domain.EntityType
	source  domain.EntitySource
	fields  domain.Fields
	parents []draftParent
	bound   *Builder
}

type draftParent struct {
	conn   domain.ConnectionID
	parent domain.EntityID
}

// NewDraft starts an entity of concrete type t.
func NewDraft(t domain.EntityType, source domain.EntitySource) *Draft {
	return &Draft{typ: t, source: source, fields: make(domain.Fields)}
}

// Type returns the draft's entity type.
func (d *Draft) Type() domain.EntityType { return d.typ }

// Set assigns a field. A nil value leaves the field null.
func (d *Draft) Set(name string, v domain.Value) *Draft {
	if v == nil {
		delete(d.fields, name)
		return d
	}
	d.fields[name] = v
	return d
}

// WithParent links the entity under parent on conn when it is added.
func (d *Draft) WithParent(conn domain.ConnectionID, parent domain.EntityID) *Draft {
	d.parents = append(d.parents, draftParent{conn: conn, parent: parent})
	return d
}

// MutableEntity is the writable view passed to ModifyEntity. It must not be
// used after the callback returns.
type MutableEntity struct {
	id       domain.EntityID
	schema   *domain.Schema
	fields   domain.Fields
	source   domain.EntitySource
	parents  []parentEdit
	children []childrenEdit
	open     bool
}

type parentEdit struct {
	conn   domain.ConnectionID
	parent domain.EntityID
}

type childrenEdit struct {
	conn     domain.ConnectionID
	children []domain.EntityID
}

// ID returns the identity of the entity being modified.
func (m *MutableEntity) ID() domain.EntityID { return m.id }

// Get returns the pending value of field name.
func (m *MutableEntity) Get(name string) domain.Value { return m.fields[name] }

// Source returns the pending source.
func (m *MutableEntity) Source() domain.EntitySource { return m.source }

func (m *MutableEntity) guard(field string) error {
	if !m.open {
		return domain.ModificationOutsideScopeError{ID: m.id, Field: field}
	}
	return nil
}

// Set assigns field name; nil clears it.
func (m *MutableEntity) Set(name string, v domain.Value) error {
	if err := m.guard(name); err != nil {
		return err
	}
	if err := m.schema.CheckField(m.id.Type, name, v); err != nil {
		return err
	}
	if v == nil {
		delete(m.fields, name)
		return nil
	}
	m.fields[name] = v
	return nil
}

// Clear sets field name to null.
func (m *MutableEntity) Clear(name string) error {
	return m.Set(name, nil)
}

// SetSource changes the entity source.
func (m *MutableEntity) SetSource(src domain.EntitySource) error {
	if err := m.guard("source"); err != nil {
		return err
	}
	if err := domain.CheckSource(src); err != nil {
		return err
	}
	m.source = src
	return nil
}

// SetParent moves the entity under parent on conn. A zero parent detaches it,
// which is only allowed on nullable connections.
func (m *MutableEntity) SetParent(conn domain.ConnectionID, parent domain.EntityID) error {
	if err := m.guard(conn.RefField()); err != nil {
		return err
	}
	if !m.schema.AcceptsChild(conn, m.id.Type) {
		return domain.CardinalityViolationError{Connection: conn, Parent: parent, Child: m.id, Reason: "child type not accepted"}
	}
	m.parents = append(m.parents, parentEdit{conn: conn, parent: parent})
	return nil
}

// SetChildren replaces the ordered children of the entity on conn. Children
// dropped from a non-nullable connection are removed; dropped children of a
// nullable connection are detached.
func (m *MutableEntity) SetChildren(conn domain.ConnectionID, children []domain.EntityID) error {
	if err := m.guard(conn.RefField()); err != nil {
		return err
	}
	if !m.schema.IsA(m.id.Type, conn.Parent) {
		return domain.CardinalityViolationError{Connection: conn, Parent: m.id, Reason: "parent type not accepted"}
	}
	m.children = append(m.children, childrenEdit{conn: conn, children: slices.Clone(children)})
	return nil
}
