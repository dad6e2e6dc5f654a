package core

import (
	"context"
	"fmt"

	"workspacemodel/internal/jps"
	"workspacemodel/pkg/domain"
)

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewUniqueModuleNameRule())
	engine.Register(NewDanglingDependencyRule())
	return engine
}

// NewUniqueModuleNameRule blocks write actions that leave two modules with
// the same name.
func NewUniqueModuleNameRule() domain.Rule {
	return uniqueModuleNameRule{}
}

type uniqueModuleNameRule struct{}

func (uniqueModuleNameRule) Name() string { return "unique_module_name" }

func (r uniqueModuleNameRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	if !touches(changes, jps.ModuleType) {
		return domain.Result{}, nil
	}
	seen := make(map[string]domain.EntityID)
	res := domain.Result{}
	for _, rec := range view.Records(jps.ModuleType) {
		name := rec.Text(jps.FieldName)
		first, dup := seen[name]
		if !dup {
			seen[name] = rec.ID
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("module name %q used by %s and %s", name, first, rec.ID),
			Entity:   jps.ModuleType,
			EntityID: rec.ID,
		})
	}
	return res, nil
}

// NewDanglingDependencyRule warns about modules whose dependency list names
// a module or library that does not exist. It runs when modules or libraries
// change.
func NewDanglingDependencyRule() domain.Rule {
	return danglingDependencyRule{}
}

type danglingDependencyRule struct{}

func (danglingDependencyRule) Name() string { return "dangling_dependency" }

func (r danglingDependencyRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	if !touches(changes, jps.ModuleType) && !touches(changes, jps.LibraryType) {
		return domain.Result{}, nil
	}
	modules := view.Records(jps.ModuleType)
	known := map[jps.DependencyKind]map[string]bool{
		jps.ModuleDependency:  names(modules),
		jps.LibraryDependency: names(view.Records(jps.LibraryType)),
	}
	res := domain.Result{}
	for _, rec := range modules {
		deps, _ := rec.Fields["dependencies"].(jps.Dependencies)
		for _, d := range deps {
			targets, checked := known[d.Kind]
			if !checked || targets[d.Name] {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("module %q depends on unknown %s %q", rec.Text(jps.FieldName), d.Kind, d.Name),
				Entity:   jps.ModuleType,
				EntityID: rec.ID,
			})
		}
	}
	return res, nil
}

func touches(changes []domain.Change, t domain.EntityType) bool {
	for _, c := range changes {
		if c.Type == t {
			return true
		}
	}
	return false
}

func names(records []domain.Record) map[string]bool {
	out := make(map[string]bool, len(records))
	for _, rec := range records {
		out[rec.Text(jps.FieldName)] = true
	}
	return out
}
