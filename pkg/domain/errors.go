package domain

import "fmt"

// UninitializedFieldError reports a required field or required parent
// connection that was never set.
type UninitializedFieldError struct {
	Type  EntityType
	Field string
}

func (e UninitializedFieldError) Error() string {
	return fmt.Sprintf("%s: required field %q is not initialized", e.Type, e.Field)
}

// EntityRemovedError is returned when a handle refers to an entity that has
// been removed from the builder it was obtained from.
type EntityRemovedError struct {
	ID EntityID
}

func (e EntityRemovedError) Error() string {
	return fmt.Sprintf("entity %s has been removed", e.ID)
}

// ModificationOutsideScopeError is returned when a mutable entity view is
// used after its ModifyEntity call returned.
type ModificationOutsideScopeError struct {
	ID    EntityID
	Field string
}

func (e ModificationOutsideScopeError) Error() string {
	return fmt.Sprintf("entity %s: field %q modified outside of ModifyEntity", e.ID, e.Field)
}

// DuplicateEntityError is returned when a draft that is already bound to a
// builder is added again.
type DuplicateEntityError struct {
	Type EntityType
}

func (e DuplicateEntityError) Error() string {
	return fmt.Sprintf("%s draft is already added to a builder", e.Type)
}

// CardinalityViolationError reports an edit that would break a connection's
// cardinality, type or acyclicity.
type CardinalityViolationError struct {
	Connection ConnectionID
	Parent     EntityID
	Child      EntityID
	Reason     string
}

func (e CardinalityViolationError) Error() string {
	return fmt.Sprintf("connection %s: %s (parent %s, child %s)", e.Connection.Name, e.Reason, e.Parent, e.Child)
}

// ForeignEntityError is returned when an id from another storage lineage is
// passed to a query or mutation.
type ForeignEntityError struct {
	ID       EntityID
	Expected LineageID
}

func (e ForeignEntityError) Error() string {
	return fmt.Sprintf("entity %s belongs to lineage %s, expected %s", e.ID, e.ID.Lineage, e.Expected)
}

// SchemaViolationError reports data that does not conform to the schema.
type SchemaViolationError struct {
	Type   EntityType
	Reason string
}

func (e SchemaViolationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Reason)
}

// BuilderFinalizedError is returned when a finalized builder is mutated.
type BuilderFinalizedError struct{}

func (BuilderFinalizedError) Error() string {
	return "builder is finalized"
}

// DiffAlreadyAppliedError is returned when a builder is applied as a diff twice.
type DiffAlreadyAppliedError struct{}

func (DiffAlreadyAppliedError) Error() string {
	return "builder has already been applied as a diff"
}
