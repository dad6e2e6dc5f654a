// Package substitution replaces library dependencies with dependencies on
// workspace modules that build the same artifact coordinate.
package substitution

import (
	"cmp"
	"maps"
	"slices"

	"workspacemodel/internal/jps"
	"workspacemodel/internal/storage"
	"workspacemodel/pkg/domain"
)

// Coordinates maps module and library names to artifact coordinates such as
// "org.example:library:1.0".
type Coordinates struct {
	Modules   map[string]string
	Libraries map[string]string
}

// CoordinateSource supplies coordinates to Update. Later sources override
// earlier ones for the same name.
type CoordinateSource interface {
	Coordinates() Coordinates
}

// RecordSource is the source of dependency_substitution records. Records are
// derived data: re-importing a module from its build system keeps them, and
// records detached by the removal of their module are purged by Update.
var RecordSource domain.EntitySource = domain.NonPersistentSource{}

// Static is a fixed CoordinateSource.
type Static Coordinates

// Coordinates implements CoordinateSource.
func (s Static) Coordinates() Coordinates { return Coordinates(s) }

// Result summarizes one Update run.
type Result struct {
	// Substituted counts library dependencies rewritten to module dependencies.
	Substituted int
	// Restored counts module dependencies rewritten back to libraries.
	Restored int
	// Modules lists the modules whose dependency list changed.
	Modules []string
}

// Changed reports whether the run touched any module.
func (r Result) Changed() bool { return len(r.Modules) > 0 }

type record struct {
	library, module, coordinate string
	exported                    bool
	scope                       jps.Scope
}

func (r record) dependency() jps.Dependency {
	return jps.OnLibrary(r.library, r.exported, r.scope)
}

type recorded struct {
	record
	entity jps.Substitution
}

func merge(sources []CoordinateSource) Coordinates {
	out := Coordinates{Modules: map[string]string{}, Libraries: map[string]string{}}
	for _, s := range sources {
		c := s.Coordinates()
		maps.Copy(out.Modules, c.Modules)
		maps.Copy(out.Libraries, c.Libraries)
	}
	return out
}

type plan struct {
	coords  Coordinates
	byCoord map[string]string
}

func newPlan(sources []CoordinateSource) plan {
	p := plan{coords: merge(sources), byCoord: map[string]string{}}
	// The alphabetically first module wins a shared coordinate.
	for _, name := range slices.Sorted(maps.Keys(p.coords.Modules)) {
		c := p.coords.Modules[name]
		if _, taken := p.byCoord[c]; c != "" && !taken {
			p.byCoord[c] = name
		}
	}
	return p
}

// still reports whether a recorded substitution is backed by the current
// coordinates.
func (p plan) still(r record) bool {
	c := p.coords.Libraries[r.library]
	return c != "" && c == p.coords.Modules[r.module] && p.byCoord[c] == r.module
}

// Update rewrites the dependency lists of every module in b so that library
// dependencies whose coordinate is produced by a workspace module become
// dependencies on that module, and reverses earlier rewrites whose
// coordinates no longer match. Each rewrite is recorded as a
// dependency_substitution child of the module. Exported and scope flags are
// preserved. Running Update again with unchanged inputs does not write to b.
// On error b is left as it was.
func Update(b *storage.Builder, sources ...CoordinateSource) (Result, error) {
	p := newPlan(sources)
	var res Result
	err := b.Batch(func() error {
		if err := purgeDetached(b); err != nil {
			return err
		}
		for _, m := range jps.Modules(b) {
			changed, err := p.updateModule(b, m, &res)
			if err != nil {
				return err
			}
			if changed {
				name, err := m.Name()
				if err != nil {
					return err
				}
				res.Modules = append(res.Modules, name)
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// purgeDetached removes records whose module was removed.
func purgeDetached(b *storage.Builder) error {
	var detached []storage.Entity
	for e := range b.Entities(jps.SubstitutionType) {
		_, ok, err := b.Parent(jps.ModuleSubstitution, e.ID())
		if err != nil {
			return err
		}
		if !ok {
			detached = append(detached, e)
		}
	}
	for _, e := range detached {
		if err := b.RemoveEntity(e); err != nil {
			return err
		}
	}
	return nil
}

func (p plan) updateModule(b *storage.Builder, m jps.Module, res *Result) (bool, error) {
	self, err := m.Name()
	if err != nil {
		return false, err
	}
	deps, err := m.Dependencies()
	if err != nil {
		return false, err
	}
	subs, err := m.Substitutions(b)
	if err != nil {
		return false, err
	}
	existing := make([]recorded, 0, len(subs))
	recordedFor := map[string][]record{}
	for _, s := range subs {
		r, err := readRecord(s)
		if err != nil {
			return false, err
		}
		existing = append(existing, recorded{record: r, entity: s})
		recordedFor[r.module] = append(recordedFor[r.module], r)
	}

	direct := map[string]bool{}
	for _, d := range deps {
		if d.Kind == jps.ModuleDependency && len(recordedFor[d.Name]) == 0 {
			direct[d.Name] = true
		}
	}

	var next jps.Dependencies
	want := map[record]bool{}
	emitted := map[string]bool{}
	for _, d := range deps {
		switch {
		case d.Kind == jps.ModuleDependency && len(recordedFor[d.Name]) > 0:
			recs := recordedFor[d.Name]
			keep := true
			for _, r := range recs {
				if !p.still(r) {
					keep = false
				}
			}
			if keep {
				for _, r := range recs {
					want[r] = true
				}
				next = append(next, d)
				emitted[d.Name] = true
				continue
			}
			for _, r := range recs {
				next = append(next, r.dependency())
				res.Restored++
			}
		case d.Kind == jps.LibraryDependency:
			coord := p.coords.Libraries[d.Name]
			target, ok := p.byCoord[coord]
			if coord == "" || !ok || target == self || direct[target] {
				next = append(next, d)
				continue
			}
			want[record{library: d.Name, module: target, coordinate: coord, exported: d.Exported, scope: d.Scope}] = true
			res.Substituted++
			if emitted[target] {
				continue
			}
			emitted[target] = true
			next = append(next, jps.OnModule(target, d.Exported, d.Scope))
		default:
			next = append(next, d)
		}
	}

	changed := !slices.Equal(deps, next)
	if changed {
		_, err := b.ModifyEntity(m.Entity, func(me *storage.MutableEntity) error {
			if len(next) == 0 {
				return me.Clear("dependencies")
			}
			return me.Set("dependencies", next)
		})
		if err != nil {
			return false, err
		}
	}
	return changed, p.syncRecords(b, m, existing, want)
}

func (p plan) syncRecords(b *storage.Builder, m jps.Module, existing []recorded, want map[record]bool) error {
	have := make(map[record]bool, len(existing))
	for _, e := range existing {
		if want[e.record] && !have[e.record] {
			have[e.record] = true
			continue
		}
		if err := b.RemoveEntity(e.entity.Entity); err != nil {
			return err
		}
	}
	// Sorted so that ids are assigned deterministically.
	missing := make([]record, 0, len(want))
	for r := range want {
		if !have[r] {
			missing = append(missing, r)
		}
	}
	slices.SortFunc(missing, func(a, b record) int {
		return cmp.Or(cmp.Compare(a.library, b.library), cmp.Compare(a.module, b.module))
	})
	for _, r := range missing {
		if _, err := b.AddEntity(jps.NewSubstitution(m.ID(), r.dependency(), r.module, r.coordinate, RecordSource)); err != nil {
			return err
		}
	}
	return nil
}

func readRecord(s jps.Substitution) (record, error) {
	var r record
	lib, err := s.Replaced()
	if err != nil {
		return r, err
	}
	r.library, r.exported, r.scope = lib.Name, lib.Exported, lib.Scope
	if r.module, err = s.Module(); err != nil {
		return r, err
	}
	r.coordinate, err = s.Coordinate()
	return r, err
}

var _ CoordinateSource = Static{}
