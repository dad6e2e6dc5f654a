package jps

import (
	"fmt"
	"slices"
	"strings"

	"workspacemodel/pkg/domain"
)

// KindDependencies is the value kind of a module's dependency list.
const KindDependencies domain.ValueKind = "dependencies"

// DependencyKind distinguishes the entries of a module dependency list.
type DependencyKind string

// Dependency kinds.
const (
	LibraryDependency      DependencyKind = "library"
	ModuleDependency       DependencyKind = "module"
	SdkDependency          DependencyKind = "sdk"
	InheritedSdkDependency DependencyKind = "inherited_sdk"
	ModuleSourceDependency DependencyKind = "module_source"
)

// Scope is the classpath scope of a dependency.
type Scope string

// Dependency scopes.
const (
	ScopeCompile  Scope = "COMPILE"
	ScopeTest     Scope = "TEST"
	ScopeRuntime  Scope = "RUNTIME"
	ScopeProvided Scope = "PROVIDED"
)

// ParseScope accepts a scope name in any case; empty means COMPILE.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToUpper(strings.TrimSpace(s))) {
	case "", ScopeCompile:
		return ScopeCompile, nil
	case ScopeTest:
		return ScopeTest, nil
	case ScopeRuntime:
		return ScopeRuntime, nil
	case ScopeProvided:
		return ScopeProvided, nil
	default:
		return "", fmt.Errorf("unknown dependency scope %q", s)
	}
}

// Dependency is one entry of a module dependency list. Library and module
// entries refer to their target by name.
type Dependency struct {
	Kind     DependencyKind
	Name     string
	Exported bool
	Scope    Scope
}

// OnLibrary builds a library dependency entry.
func OnLibrary(name string, exported bool, scope Scope) Dependency {
	return Dependency{Kind: LibraryDependency, Name: name, Exported: exported, Scope: scope}
}

// OnModule builds a module dependency entry.
func OnModule(name string, exported bool, scope Scope) Dependency {
	return Dependency{Kind: ModuleDependency, Name: name, Exported: exported, Scope: scope}
}

func (d Dependency) String() string {
	var sb strings.Builder
	sb.WriteString(string(d.Kind))
	if d.Name != "" {
		sb.WriteString(":" + d.Name)
	}
	if d.Scope != "" && d.Scope != ScopeCompile {
		sb.WriteString("@" + string(d.Scope))
	}
	if d.Exported {
		sb.WriteString("+exported")
	}
	return sb.String()
}

// Dependencies is the ordered dependency list value of a module.
type Dependencies []Dependency

// NewDependencies copies items into a Dependencies value.
func NewDependencies(items ...Dependency) Dependencies {
	return Dependencies(slices.Clone(items))
}

// Kind implements domain.Value.
func (Dependencies) Kind() domain.ValueKind { return KindDependencies }

// Equal implements domain.Value.
func (d Dependencies) Equal(other domain.Value) bool {
	o, ok := other.(Dependencies)
	return ok && slices.Equal(d, o)
}

func (d Dependencies) String() string {
	parts := make([]string, len(d))
	for i, dep := range d {
		parts[i] = dep.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}
