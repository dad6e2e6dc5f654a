package domain

import (
	"slices"
	"strconv"
	"strings"
)

// ValueKind names the shape of a field value. Model packages may declare
// additional kinds for their own Value implementations.
type ValueKind string

// Built-in value kinds.
const (
	KindString  ValueKind = "string"
	KindBool    ValueKind = "bool"
	KindInt     ValueKind = "int"
	KindStrings ValueKind = "strings"
)

// Value is an immutable field value.
type Value interface {
	Kind() ValueKind
	Equal(other Value) bool
	String() string
}

// Fields maps field names to values. A missing key is a null field.
type Fields map[string]Value

// Clone returns a shallow copy; values themselves are immutable.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// ValuesEqual compares two possibly-null values.
func ValuesEqual(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Kind() == b.Kind() && a.Equal(b)
}

// String is a text value.
type String string

// Kind implements Value.
func (String) Kind() ValueKind { return KindString }

// Equal implements Value.
func (s String) Equal(other Value) bool {
	o, ok := other.(String)
	return ok && o == s
}

func (s String) String() string { return string(s) }

// Bool is a boolean value.
type Bool bool

// Kind implements Value.
func (Bool) Kind() ValueKind { return KindBool }

// Equal implements Value.
func (b Bool) Equal(other Value) bool {
	o, ok := other.(Bool)
	return ok && o == b
}

func (b Bool) String() string { return strconv.FormatBool(bool(b)) }

// Int is an integer value.
type Int int64

// Kind implements Value.
func (Int) Kind() ValueKind { return KindInt }

// Equal implements Value.
func (i Int) Equal(other Value) bool {
	o, ok := other.(Int)
	return ok && o == i
}

func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }

// Strings is an ordered list of text values. Use NewStrings to build one so
// the backing array is not shared with the caller.
type Strings []string

// NewStrings copies items into a Strings value.
func NewStrings(items ...string) Strings {
	return Strings(slices.Clone(items))
}

// Kind implements Value.
func (Strings) Kind() ValueKind { return KindStrings }

// Equal implements Value.
func (s Strings) Equal(other Value) bool {
	o, ok := other.(Strings)
	return ok && slices.Equal(s, o)
}

func (s Strings) String() string { return "[" + strings.Join(s, ",") + "]" }
