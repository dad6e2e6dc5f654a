// Package core runs write actions against the workspace model: it serializes
// writers, evaluates change rules before commit, publishes the resulting
// snapshot and reports every operation to listeners and metrics.
package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"workspacemodel/internal/storage"
	"workspacemodel/internal/substitution"
	"workspacemodel/pkg/domain"
)

// Operation names reported to metrics and listeners.
const (
	OpUpdate          = "update"
	OpApplyDiff       = "apply_diff"
	OpReplaceBySource = "replace_by_source"
	OpSubstitution    = "update_substitutions"
)

// Event describes a committed write action.
type Event struct {
	Operation string
	Before    *storage.Snapshot
	After     *storage.Snapshot
	Changes   []domain.Change
	Result    domain.Result
}

// Listener observes committed write actions. Listeners run while the write
// lock is held, in registration order, and must not call back into Update.
type Listener func(ctx context.Context, ev Event)

// Service owns the current workspace snapshot.
type Service struct {
	mu        sync.Mutex
	current   atomic.Pointer[storage.Snapshot]
	engine    *domain.RulesEngine
	logger    *zap.Logger
	metrics   MetricsRecorder
	policy    storage.ConflictPolicy
	listeners []Listener
	nowFn     func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the service logger. The builders created by the service
// log through it as well.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRulesEngine replaces the default rules engine.
func WithRulesEngine(engine *domain.RulesEngine) Option {
	return func(s *Service) {
		if engine != nil {
			s.engine = engine
		}
	}
}

// WithMetricsRecorder sets the recorder that observes every operation.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithConflictPolicy sets the policy used when diffs are applied.
func WithConflictPolicy(p storage.ConflictPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithListener registers a listener for committed write actions.
func WithListener(l Listener) Option {
	return func(s *Service) {
		if l != nil {
			s.listeners = append(s.listeners, l)
		}
	}
}

// NewService constructs a service over an empty workspace of schema.
func NewService(schema *domain.Schema, opts ...Option) (*Service, error) {
	empty, err := storage.NewBuilder(schema).ToStorage()
	if err != nil {
		return nil, err
	}
	return NewServiceFrom(empty, opts...), nil
}

// NewServiceFrom constructs a service whose current state is snap.
func NewServiceFrom(snap *storage.Snapshot, opts ...Option) *Service {
	s := &Service{
		engine:  NewDefaultRulesEngine(),
		logger:  zap.NewNop(),
		metrics: nopRecorder{},
		nowFn:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(snap)
	s.metrics.ObserveSnapshot(snap.Len())
	return s
}

// Snapshot returns the current snapshot. It never blocks.
func (s *Service) Snapshot() *storage.Snapshot {
	return s.current.Load()
}

// Update runs fn against a builder over the current snapshot. When fn
// succeeds and the builder recorded changes, the rules engine evaluates them
// and, unless a blocking violation is reported, the builder is committed as
// the new current snapshot. Warnings are returned in the result.
func (s *Service) Update(ctx context.Context, fn func(*storage.Builder) error) (domain.Result, error) {
	return s.run(ctx, OpUpdate, fn)
}

// UpdateAs is Update reported to metrics and listeners under operation.
func (s *Service) UpdateAs(ctx context.Context, operation string, fn func(*storage.Builder) error) (domain.Result, error) {
	return s.run(ctx, operation, fn)
}

// ApplyDiff merges the changes recorded by diff into the current snapshot.
// diff must derive from a snapshot of this service or hold additions only.
func (s *Service) ApplyDiff(ctx context.Context, diff *storage.Builder) (domain.Result, error) {
	return s.run(ctx, OpApplyDiff, func(b *storage.Builder) error {
		return b.AddDiff(diff)
	})
}

// ReplaceBySource replaces every entity whose source matches pred with the
// matching entities of replacement.
func (s *Service) ReplaceBySource(ctx context.Context, pred domain.SourcePredicate, replacement storage.Reader) (domain.Result, error) {
	return s.run(ctx, OpReplaceBySource, func(b *storage.Builder) error {
		return b.ReplaceBySource(pred, replacement)
	})
}

// UpdateSubstitutions recomputes dependency substitutions from sources.
func (s *Service) UpdateSubstitutions(ctx context.Context, sources ...substitution.CoordinateSource) (substitution.Result, domain.Result, error) {
	var out substitution.Result
	res, err := s.run(ctx, OpSubstitution, func(b *storage.Builder) error {
		var err error
		out, err = substitution.Update(b, sources...)
		return err
	})
	if err != nil {
		return substitution.Result{}, res, err
	}
	return out, res, nil
}

func (s *Service) run(ctx context.Context, op string, fn func(*storage.Builder) error) (res domain.Result, err error) {
	start := s.nowFn()
	defer func() {
		s.metrics.Observe(ctx, op, err == nil, s.nowFn().Sub(start))
		if err != nil {
			s.logger.Warn("write action failed", zap.String("operation", op), zap.Error(err))
		}
	}()
	if err := ctx.Err(); err != nil {
		return domain.Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.current.Load()
	b := storage.From(before, storage.WithLogger(s.logger), storage.WithConflictPolicy(s.policy))
	if err := fn(b); err != nil {
		return domain.Result{}, err
	}
	if !b.HasChanges() {
		s.logger.Debug("write action made no changes", zap.String("operation", op))
		return domain.Result{}, nil
	}

	changes := b.Changes()
	res, err = s.engine.Evaluate(ctx, b, changes)
	if err != nil {
		return domain.Result{}, err
	}
	if res.HasBlocking() {
		return res, domain.RuleViolationError{Result: res}
	}
	for _, v := range res.Violations {
		s.logger.Warn("rule violation",
			zap.String("rule", v.Rule),
			zap.String("severity", string(v.Severity)),
			zap.Stringer("entity", v.EntityID),
			zap.String("message", v.Message))
	}

	after, err := b.ToStorage()
	if err != nil {
		return domain.Result{}, err
	}
	s.current.Store(after)
	s.metrics.ObserveSnapshot(after.Len())
	s.logger.Info("write action committed",
		zap.String("operation", op),
		zap.Int("changes", len(changes)),
		zap.Int("entities", after.Len()))

	ev := Event{Operation: op, Before: before, After: after, Changes: changes, Result: res}
	for _, l := range s.listeners {
		l(ctx, ev)
	}
	return res, nil
}
