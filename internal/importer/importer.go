package importer

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"workspacemodel/internal/core"
	"workspacemodel/internal/storage"
	"workspacemodel/internal/substitution"
	"workspacemodel/pkg/domain"
)

// OpImport is the operation name imports are reported under.
const OpImport = "import"

// Importer re-imports project descriptors into a service.
type Importer struct {
	svc    *core.Service
	system string
	logger *zap.Logger
	coords []substitution.CoordinateSource
}

// Option customizes an Importer.
type Option func(*Importer)

// WithLogger sets the importer logger.
func WithLogger(logger *zap.Logger) Option {
	return func(im *Importer) {
		if logger != nil {
			im.logger = logger
		}
	}
}

// WithCoordinates adds coordinate sources consulted after every import,
// before the coordinates carried by the descriptor itself.
func WithCoordinates(sources ...substitution.CoordinateSource) Option {
	return func(im *Importer) { im.coords = append(im.coords, sources...) }
}

// New returns an importer that records system as the source of imported
// entities.
func New(svc *core.Service, system string, opts ...Option) *Importer {
	im := &Importer{svc: svc, system: system, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Report summarizes one import.
type Report struct {
	Project      string
	Changes      []domain.Change
	Substitution substitution.Result
	Violations   []domain.Violation
}

// Counts tallies the changes by kind.
func (r Report) Counts() map[domain.ChangeKind]int {
	out := make(map[domain.ChangeKind]int)
	for _, c := range r.Changes {
		out[c.Kind]++
	}
	return out
}

// Import replaces the entities previously imported from the same project
// with the content of d and recomputes dependency substitutions, in one
// write action. Entities from other sources are left untouched.
func (im *Importer) Import(ctx context.Context, d Descriptor) (Report, error) {
	if err := d.Validate(); err != nil {
		return Report{}, err
	}
	replacement, err := d.Build(im.system)
	if err != nil {
		return Report{}, fmt.Errorf("import %s: %w", d.Project, err)
	}
	sources := slices.Clone(im.coords)
	if d.Coordinates != nil {
		sources = append(sources, d.Coordinates.Source())
	}

	rep := Report{Project: d.Project}
	res, err := im.svc.UpdateAs(ctx, OpImport, func(b *storage.Builder) error {
		if err := b.ReplaceBySource(domain.SourceIs(d.Source(im.system)), replacement); err != nil {
			return err
		}
		sub, err := substitution.Update(b, sources...)
		if err != nil {
			return fmt.Errorf("dependency substitution: %w", err)
		}
		rep.Substitution = sub
		rep.Changes = b.Changes()
		return nil
	})
	rep.Violations = res.Violations
	if err != nil {
		return rep, fmt.Errorf("import %s: %w", d.Project, err)
	}
	counts := rep.Counts()
	im.logger.Info("project imported",
		zap.String("project", d.Project),
		zap.String("system", im.system),
		zap.Int("added", counts[domain.ChangeAdd]),
		zap.Int("removed", counts[domain.ChangeRemove]),
		zap.Int("replaced", len(rep.Changes)-counts[domain.ChangeAdd]-counts[domain.ChangeRemove]),
		zap.Int("substituted", rep.Substitution.Substituted))
	return rep, nil
}
