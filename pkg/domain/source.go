package domain

import (
	"fmt"
	"reflect"
)

// EntitySource tags every entity with its origin. Implementations must be
// comparable values because sources key the by-source index.
type EntitySource interface {
	SourceKind() string
	String() string
}

// SourcePredicate selects entity sources, typically for ReplaceBySource.
type SourcePredicate func(EntitySource) bool

// FileSource marks entities persisted in a user-authored project file.
type FileSource struct {
	URL string
}

// SourceKind implements EntitySource.
func (FileSource) SourceKind() string { return "file" }

func (s FileSource) String() string { return "file:" + s.URL }

// ExternalSource marks entities produced by an external build system import.
type ExternalSource struct {
	System      string
	ProjectPath string
}

// SourceKind implements EntitySource.
func (ExternalSource) SourceKind() string { return "external" }

func (s ExternalSource) String() string { return s.System + ":" + s.ProjectPath }

// NonPersistentSource marks entities that only live in memory.
type NonPersistentSource struct{}

// SourceKind implements EntitySource.
func (NonPersistentSource) SourceKind() string { return "non-persistent" }

func (NonPersistentSource) String() string { return "non-persistent" }

// CheckSource verifies that src can be used as an index key.
func CheckSource(src EntitySource) error {
	if src == nil {
		return fmt.Errorf("entity source is nil")
	}
	if !reflect.TypeOf(src).Comparable() {
		return fmt.Errorf("entity source %T is not comparable", src)
	}
	return nil
}

// FromSystem matches external sources created by the named build system.
func FromSystem(system string) SourcePredicate {
	return func(src EntitySource) bool {
		ext, ok := src.(ExternalSource)
		return ok && ext.System == system
	}
}

// SourceIs matches exactly one source value.
func SourceIs(want EntitySource) SourcePredicate {
	return func(src EntitySource) bool { return src == want }
}

// AnySource matches every source.
func AnySource(EntitySource) bool { return true }
