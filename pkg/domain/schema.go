package domain

import (
	"fmt"
	"slices"
)

// FieldSpec declares one scalar field of an entity type.
type FieldSpec struct {
	Name     string
	Kind     ValueKind
	Nullable bool
	// Key marks the field as part of the business key used to match entities
	// across storages.
	Key bool
}

// TypeSpec declares an entity type. Abstract types only serve as relation
// endpoints and supertypes; they cannot be instantiated.
type TypeSpec struct {
	Type       EntityType
	Abstract   bool
	Supertypes []EntityType
	Fields     []FieldSpec
}

// ConnectionKind is the cardinality of a relation.
type ConnectionKind int

// Supported cardinalities.
const (
	// OneToOne links a parent to at most one child and the child to one parent.
	OneToOne ConnectionKind = iota + 1
	// OneToMany links a parent to an ordered list of children of exactly the
	// declared child type.
	OneToMany
	// OneToAbstractMany links a parent to an ordered list of children whose
	// concrete type is any subtype of the declared child type.
	OneToAbstractMany
)

func (k ConnectionKind) String() string {
	switch k {
	case OneToOne:
		return "ONE_TO_ONE"
	case OneToMany:
		return "ONE_TO_MANY"
	case OneToAbstractMany:
		return "ONE_TO_ABSTRACT_MANY"
	default:
		return fmt.Sprintf("ConnectionKind(%d)", int(k))
	}
}

// ConnectionID identifies a typed relation between a parent and a child type.
// When ParentNullable is false every child must have a parent, and removing
// the parent removes the child.
type ConnectionID struct {
	Name           string
	Parent         EntityType
	Child          EntityType
	Kind           ConnectionKind
	ParentNullable bool
}

func (c ConnectionID) String() string {
	return fmt.Sprintf("%s(%s->%s %s)", c.Name, c.Parent, c.Child, c.Kind)
}

// RefField is the change-log field name used for reference edits on c.
func (c ConnectionID) RefField() string {
	return "@" + c.Name
}

type typeInfo struct {
	spec      TypeSpec
	fields    map[string]FieldSpec
	ancestors map[EntityType]struct{}
	keys      []string
	parents   []ConnectionID
	children  []ConnectionID
}

// Schema is the immutable entity model contract the engine validates against.
type Schema struct {
	types       map[EntityType]*typeInfo
	order       []EntityType
	connections map[string]ConnectionID
}

// NewSchema validates and indexes the supplied type and connection
// declarations.
func NewSchema(types []TypeSpec, connections []ConnectionID) (*Schema, error) {
	s := &Schema{
		types:       make(map[EntityType]*typeInfo, len(types)),
		connections: make(map[string]ConnectionID, len(connections)),
	}
	for _, spec := range types {
		if spec.Type == "" {
			return nil, fmt.Errorf("schema: entity type without name")
		}
		if _, dup := s.types[spec.Type]; dup {
			return nil, fmt.Errorf("schema: duplicate entity type %q", spec.Type)
		}
		info := &typeInfo{spec: spec, fields: make(map[string]FieldSpec, len(spec.Fields))}
		for _, f := range spec.Fields {
			if _, dup := info.fields[f.Name]; dup {
				return nil, fmt.Errorf("schema: duplicate field %s.%s", spec.Type, f.Name)
			}
			info.fields[f.Name] = f
			if f.Key {
				info.keys = append(info.keys, f.Name)
			}
		}
		if len(info.keys) == 0 {
			for _, f := range spec.Fields {
				info.keys = append(info.keys, f.Name)
			}
		}
		s.types[spec.Type] = info
		s.order = append(s.order, spec.Type)
	}
	for _, t := range s.order {
		info := s.types[t]
		info.ancestors = map[EntityType]struct{}{t: {}}
		pending := slices.Clone(info.spec.Supertypes)
		for len(pending) > 0 {
			super := pending[0]
			pending = pending[1:]
			sup, ok := s.types[super]
			if !ok {
				return nil, fmt.Errorf("schema: %s declares unknown supertype %q", t, super)
			}
			if !sup.spec.Abstract {
				return nil, fmt.Errorf("schema: %s extends concrete type %q", t, super)
			}
			if _, seen := info.ancestors[super]; seen {
				continue
			}
			info.ancestors[super] = struct{}{}
			pending = append(pending, sup.spec.Supertypes...)
		}
	}
	for _, c := range connections {
		if c.Name == "" {
			return nil, fmt.Errorf("schema: connection without name")
		}
		if _, dup := s.connections[c.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate connection %q", c.Name)
		}
		if _, ok := s.types[c.Parent]; !ok {
			return nil, fmt.Errorf("schema: connection %s has unknown parent type %q", c.Name, c.Parent)
		}
		if _, ok := s.types[c.Child]; !ok {
			return nil, fmt.Errorf("schema: connection %s has unknown child type %q", c.Name, c.Child)
		}
		switch c.Kind {
		case OneToOne, OneToMany, OneToAbstractMany:
		default:
			return nil, fmt.Errorf("schema: connection %s has invalid kind %v", c.Name, c.Kind)
		}
		s.connections[c.Name] = c
	}
	for _, t := range s.order {
		info := s.types[t]
		for _, c := range connections {
			if s.AcceptsChild(c, t) {
				info.parents = append(info.parents, c)
			}
			if s.IsA(t, c.Parent) {
				info.children = append(info.children, c)
			}
		}
	}
	return s, nil
}

// MustSchema is NewSchema for package-level model declarations.
func MustSchema(types []TypeSpec, connections []ConnectionID) *Schema {
	s, err := NewSchema(types, connections)
	if err != nil {
		panic(err)
	}
	return s
}

// Types returns every declared type in declaration order.
func (s *Schema) Types() []EntityType {
	return slices.Clone(s.order)
}

// Type returns the declaration of t.
func (s *Schema) Type(t EntityType) (TypeSpec, bool) {
	info, ok := s.types[t]
	if !ok {
		return TypeSpec{}, false
	}
	return info.spec, true
}

// Field returns the declaration of field name on type t.
func (s *Schema) Field(t EntityType, name string) (FieldSpec, bool) {
	info, ok := s.types[t]
	if !ok {
		return FieldSpec{}, false
	}
	f, ok := info.fields[name]
	return f, ok
}

// KeyFields returns the business key fields of t.
func (s *Schema) KeyFields(t EntityType) []string {
	if info, ok := s.types[t]; ok {
		return info.keys
	}
	return nil
}

// IsA reports whether t equals super or inherits from it.
func (s *Schema) IsA(t, super EntityType) bool {
	info, ok := s.types[t]
	if !ok {
		return false
	}
	_, ok = info.ancestors[super]
	return ok
}

// AcceptsChild reports whether an entity of type t may be a child on c.
func (s *Schema) AcceptsChild(c ConnectionID, t EntityType) bool {
	if c.Kind == OneToMany {
		return t == c.Child
	}
	return s.IsA(t, c.Child)
}

// Connection looks up a connection by name.
func (s *Schema) Connection(name string) (ConnectionID, bool) {
	c, ok := s.connections[name]
	return c, ok
}

// ParentConnections lists the connections on which t is a child.
func (s *Schema) ParentConnections(t EntityType) []ConnectionID {
	if info, ok := s.types[t]; ok {
		return info.parents
	}
	return nil
}

// ChildConnections lists the connections on which t is a parent.
func (s *Schema) ChildConnections(t EntityType) []ConnectionID {
	if info, ok := s.types[t]; ok {
		return info.children
	}
	return nil
}

// CheckField validates a single field assignment. A nil value clears the field.
func (s *Schema) CheckField(t EntityType, name string, v Value) error {
	f, ok := s.Field(t, name)
	if !ok {
		return SchemaViolationError{Type: t, Reason: fmt.Sprintf("unknown field %q", name)}
	}
	if v == nil {
		return nil
	}
	if v.Kind() != f.Kind {
		return SchemaViolationError{Type: t, Reason: fmt.Sprintf("field %q expects %s, got %s", name, f.Kind, v.Kind())}
	}
	return nil
}

// CheckInstance validates a complete field set for a concrete type.
func (s *Schema) CheckInstance(t EntityType, fields Fields) error {
	info, ok := s.types[t]
	if !ok {
		return SchemaViolationError{Type: t, Reason: "unknown entity type"}
	}
	if info.spec.Abstract {
		return SchemaViolationError{Type: t, Reason: "abstract type cannot be instantiated"}
	}
	for name, v := range fields {
		if err := s.CheckField(t, name, v); err != nil {
			return err
		}
	}
	for _, f := range info.spec.Fields {
		if !f.Nullable && fields[f.Name] == nil {
			return UninitializedFieldError{Type: t, Field: f.Name}
		}
	}
	return nil
}
