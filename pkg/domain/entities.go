// Package domain defines the entity model contract, value types, change records
// and rule evaluation primitives shared by the workspace storage engine and its
// clients.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// EntityType identifies a concrete or abstract entity type declared in a Schema.
type EntityType string

// LineageID identifies a family of snapshots and builders that share one id space.
type LineageID uuid.UUID

// NewLineageID returns a fresh random lineage identifier.
func NewLineageID() LineageID {
	return LineageID(uuid.New())
}

// IsZero reports whether the lineage was never assigned.
func (l LineageID) IsZero() bool {
	return uuid.UUID(l) == uuid.Nil
}

func (l LineageID) String() string {
	return uuid.UUID(l).String()
}

// EntityID is the opaque identity of an entity inside one storage lineage.
// Sequence numbers are allocated from a lineage-wide counter and never reused.
type EntityID struct {
	Lineage LineageID
	Type    EntityType
	Seq     uint64
}

// IsZero reports whether id is the zero value.
func (id EntityID) IsZero() bool {
	return id.Seq == 0 && id.Type == "" && id.Lineage.IsZero()
}

func (id EntityID) String() string {
	return fmt.Sprintf("%s#%d", id.Type, id.Seq)
}

// Record is a detached, read-only copy of an entity's state.
type Record struct {
	ID     EntityID
	Source EntitySource
	Fields Fields
}

// Text returns the string field name, or "" when it is null or of another kind.
func (r Record) Text(name string) string {
	if v, ok := r.Fields[name].(String); ok {
		return string(v)
	}
	return ""
}
