package domain

// ChangeKind enumerates the coalesced change log entry kinds.
type ChangeKind string

// Change log entry kinds.
const (
	// ChangeAdd records an entity added by the builder.
	ChangeAdd ChangeKind = "add"
	// ChangeReplace records field or reference edits on an existing entity.
	ChangeReplace ChangeKind = "replace"
	// ChangeSource records a source change on an existing entity.
	ChangeSource ChangeKind = "change_source"
	// ChangeReplaceAndSource records both field edits and a source change.
	ChangeReplaceAndSource ChangeKind = "replace_and_change_source"
	// ChangeRemove records an entity removed from the base snapshot.
	ChangeRemove ChangeKind = "remove"
)

// Change is one coalesced change log entry.
type Change struct {
	Kind   ChangeKind
	ID     EntityID
	Type   EntityType
	Fields []string
	// OldSource is the source before the first edit; nil for additions.
	OldSource EntitySource
	// NewSource is the current source; nil for removals.
	NewSource         EntitySource
	ModificationCount uint64
}

// Changed reports whether the entry touched field name.
func (c Change) Changed(name string) bool {
	for _, f := range c.Fields {
		if f == name {
			return true
		}
	}
	return false
}
