package substitution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workspacemodel/internal/jps"
	"workspacemodel/internal/storage"
	"workspacemodel/pkg/domain"
)

var src = domain.ExternalSource{System: "gradle", ProjectPath: "/work"}

const coord = "org.example:library:1.0"

func workspace(t *testing.T) *storage.Snapshot {
	t.Helper()
	b := storage.NewBuilder(jps.Schema())
	_, err := b.AddEntity(jps.NewLibrary("library", src, "file:///m2/library-1.0.jar"))
	require.NoError(t, err)
	_, err = b.AddEntity(jps.NewModule("app-module", src, jps.OnLibrary("library", false, jps.ScopeCompile)))
	require.NoError(t, err)
	_, err = b.AddEntity(jps.NewModule("lib-module", src))
	require.NoError(t, err)
	s, err := b.ToStorage()
	require.NoError(t, err)
	return s
}

func registered() Static {
	return Static{
		Modules:   map[string]string{"lib-module": coord},
		Libraries: map[string]string{"library": coord},
	}
}

func appDependencies(t *testing.T, r storage.Reader) jps.Dependencies {
	t.Helper()
	m, ok := jps.FindModule(r, "app-module")
	require.True(t, ok)
	deps, err := m.Dependencies()
	require.NoError(t, err)
	return deps
}

func TestUpdateForwardAndReverse(t *testing.T) {
	b := storage.From(workspace(t))

	res, err := Update(b, registered())
	require.NoError(t, err)
	assert.Equal(t, Result{Substituted: 1, Modules: []string{"app-module"}}, res)
	assert.Equal(t, jps.NewDependencies(jps.OnModule("lib-module", false, jps.ScopeCompile)), appDependencies(t, b))

	app, _ := jps.FindModule(b, "app-module")
	subs, err := app.Substitutions(b)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	lib, err := subs[0].Library()
	require.NoError(t, err)
	assert.Equal(t, "library", lib)

	s, err := b.ToStorage()
	require.NoError(t, err)
	back := storage.From(s)
	res, err = Update(back)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Restored)
	assert.Equal(t, jps.NewDependencies(jps.OnLibrary("library", false, jps.ScopeCompile)), appDependencies(t, back))
	assert.Equal(t, 1, back.Base().Count(jps.SubstitutionType))
	subs, err = app.Substitutions(back)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestUpdateIsIdempotent(t *testing.T) {
	b := storage.From(workspace(t))
	_, err := Update(b, registered())
	require.NoError(t, err)
	s, err := b.ToStorage()
	require.NoError(t, err)

	again := storage.From(s)
	res, err := Update(again, registered())
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.False(t, again.HasChanges())
	assert.Zero(t, again.ModificationCount())

	// Within one builder the second run also leaves the log as it was.
	b2 := storage.From(workspace(t))
	_, err = Update(b2, registered())
	require.NoError(t, err)
	first := b2.Changes()
	_, err = Update(b2, registered())
	require.NoError(t, err)
	assert.Equal(t, first, b2.Changes())
}

func TestUpdatePreservesFlags(t *testing.T) {
	b := storage.NewBuilder(jps.Schema())
	_, err := b.AddEntity(jps.NewModule("app", src,
		jps.OnLibrary("a", true, jps.ScopeTest),
		jps.OnLibrary("b", false, jps.ScopeRuntime),
		jps.OnLibrary("unrelated", false, jps.ScopeCompile)))
	require.NoError(t, err)
	_, err = b.AddEntity(jps.NewModule("mod-a", src))
	require.NoError(t, err)
	_, err = b.AddEntity(jps.NewModule("mod-b", src))
	require.NoError(t, err)

	_, err = Update(b, Static{
		Modules:   map[string]string{"mod-a": "g:a:1", "mod-b": "g:b:1"},
		Libraries: map[string]string{"a": "g:a:1", "b": "g:b:1", "unrelated": "g:x:1"},
	})
	require.NoError(t, err)
	m, _ := jps.FindModule(b, "app")
	deps, err := m.Dependencies()
	require.NoError(t, err)
	assert.Equal(t, jps.NewDependencies(
		jps.OnModule("mod-a", true, jps.ScopeTest),
		jps.OnModule("mod-b", false, jps.ScopeRuntime),
		jps.OnLibrary("unrelated", false, jps.ScopeCompile),
	), deps)
}

func TestReverseRestoresFlagsOfMergedLibraries(t *testing.T) {
	b := storage.NewBuilder(jps.Schema())
	_, err := b.AddEntity(jps.NewModule("app-module", src,
		jps.OnLibrary("a", false, jps.ScopeCompile),
		jps.OnLibrary("b", true, jps.ScopeTest)))
	require.NoError(t, err)
	_, err = b.AddEntity(jps.NewModule("lib-module", src))
	require.NoError(t, err)

	res, err := Update(b, Static{
		Modules:   map[string]string{"lib-module": coord},
		Libraries: map[string]string{"a": coord, "b": coord},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Substituted)
	assert.Equal(t, jps.NewDependencies(jps.OnModule("lib-module", false, jps.ScopeCompile)), appDependencies(t, b))

	app, _ := jps.FindModule(b, "app-module")
	subs, err := app.Substitutions(b)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	replaced, err := subs[1].Replaced()
	require.NoError(t, err)
	assert.Equal(t, jps.OnLibrary("b", true, jps.ScopeTest), replaced)

	res, err = Update(b)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Restored)
	assert.Equal(t, jps.NewDependencies(
		jps.OnLibrary("a", false, jps.ScopeCompile),
		jps.OnLibrary("b", true, jps.ScopeTest),
	), appDependencies(t, b))
	assert.Zero(t, countRecords(b))
}

func TestUpdateSkipsSelfAndDirectDependencies(t *testing.T) {
	b := storage.NewBuilder(jps.Schema())
	_, err := b.AddEntity(jps.NewModule("lib-module", src, jps.OnLibrary("library", false, jps.ScopeCompile)))
	require.NoError(t, err)
	_, err = b.AddEntity(jps.NewModule("app", src,
		jps.OnModule("lib-module", false, jps.ScopeCompile),
		jps.OnLibrary("library", false, jps.ScopeCompile)))
	require.NoError(t, err)
	s, err := b.ToStorage()
	require.NoError(t, err)

	next := storage.From(s)
	res, err := Update(next, registered())
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.False(t, next.HasChanges())
}

func TestLaterSourcesOverride(t *testing.T) {
	b := storage.From(workspace(t))
	override := Static{Libraries: map[string]string{"library": "org.example:library:2.0"}}
	res, err := Update(b, registered(), override)
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.Equal(t, jps.NewDependencies(jps.OnLibrary("library", false, jps.ScopeCompile)), appDependencies(t, b))
}

func TestUpdatePurgesDetachedRecords(t *testing.T) {
	b := storage.From(workspace(t))
	_, err := Update(b, registered())
	require.NoError(t, err)
	app, ok := jps.FindModule(b, "app-module")
	require.True(t, ok)
	require.NoError(t, b.RemoveEntity(app.Entity))
	assert.Equal(t, 1, countRecords(b))

	_, err = Update(b, registered())
	require.NoError(t, err)
	assert.Zero(t, countRecords(b))
}

func countRecords(r storage.Reader) int {
	n := 0
	for range r.Entities(jps.SubstitutionType) {
		n++
	}
	return n
}
