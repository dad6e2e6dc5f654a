package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"workspacemodel/internal/jps"
	"workspacemodel/internal/storage"
	"workspacemodel/internal/substitution"
	"workspacemodel/pkg/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var userSource = domain.FileSource{URL: "file:///work/.idea/modules.xml"}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	mu       sync.Mutex
	calls    []metricsCall
	entities int
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) ObserveSnapshot(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities = n
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

func newService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(jps.Schema(), opts...)
	require.NoError(t, err)
	return svc
}

func addModule(name string, deps ...jps.Dependency) func(*storage.Builder) error {
	return func(b *storage.Builder) error {
		_, err := b.AddEntity(jps.NewModule(name, userSource, deps...))
		return err
	}
}

func TestServiceUpdatePublishesSnapshot(t *testing.T) {
	ctx := context.Background()
	metrics := &captureMetricsRecorder{}
	var events []Event
	svc := newService(t,
		WithMetricsRecorder(metrics),
		WithListener(func(_ context.Context, ev Event) { events = append(events, ev) }),
	)
	empty := svc.Snapshot()

	_, err := svc.Update(ctx, addModule("app"))
	require.NoError(t, err)

	cur := svc.Snapshot()
	assert.NotSame(t, empty, cur)
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, 1, cur.Len())
	assert.Equal(t, empty.Lineage(), cur.Lineage())
	require.Len(t, events, 1)
	assert.Equal(t, OpUpdate, events[0].Operation)
	assert.Same(t, empty, events[0].Before)
	assert.Same(t, cur, events[0].After)
	require.Len(t, events[0].Changes, 1)
	assert.Equal(t, domain.ChangeAdd, events[0].Changes[0].Kind)
	assert.True(t, metrics.has(OpUpdate, true))
	assert.Equal(t, 1, metrics.entities)

	// A write action without changes publishes nothing.
	_, err = svc.Update(ctx, func(*storage.Builder) error { return nil })
	require.NoError(t, err)
	assert.Same(t, cur, svc.Snapshot())
	assert.Len(t, events, 1)
}

func TestServiceUpdateErrorKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	metrics := &captureMetricsRecorder{}
	svc := newService(t, WithMetricsRecorder(metrics))
	before := svc.Snapshot()

	boom := errors.New("boom")
	_, err := svc.Update(ctx, func(b *storage.Builder) error {
		if err := addModule("app")(b); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Same(t, before, svc.Snapshot())
	assert.True(t, metrics.has(OpUpdate, false))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = svc.Update(cancelled, addModule("app"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestServiceRulesBlockCommit(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	svc := newService(t, WithLogger(zap.New(core)))

	_, err := svc.Update(ctx, addModule("app"))
	require.NoError(t, err)
	before := svc.Snapshot()

	_, err = svc.Update(ctx, addModule("app"))
	var rv domain.RuleViolationError
	require.ErrorAs(t, err, &rv)
	require.Len(t, rv.Result.Violations, 1)
	assert.Equal(t, "unique_module_name", rv.Result.Violations[0].Rule)
	assert.Same(t, before, svc.Snapshot())

	res, err := svc.Update(ctx, addModule("web", jps.OnLibrary("missing", false, jps.ScopeCompile)))
	require.NoError(t, err)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, domain.SeverityWarn, res.Violations[0].Severity)
	assert.Equal(t, 1, logs.FilterMessage("rule violation").Len())
	assert.Equal(t, 1, logs.FilterMessage("write action failed").Len())
}

func TestServiceApplyDiff(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	_, err := svc.Update(ctx, addModule("app"))
	require.NoError(t, err)

	// A diff prepared against an older snapshot merges into the current one.
	diff := storage.From(svc.Snapshot())
	require.NoError(t, addModule("lib")(diff))

	_, err = svc.Update(ctx, addModule("web"))
	require.NoError(t, err)
	_, err = svc.ApplyDiff(ctx, diff)
	require.NoError(t, err)

	var names []string
	for _, m := range jps.Modules(svc.Snapshot()) {
		n, err := m.Name()
		require.NoError(t, err)
		names = append(names, n)
	}
	assert.Equal(t, []string{"app", "web", "lib"}, names)
}

func TestServiceReplaceBySource(t *testing.T) {
	ctx := context.Background()
	gradle := domain.ExternalSource{System: "gradle", ProjectPath: "/work"}
	svc := newService(t)
	_, err := svc.Update(ctx, func(b *storage.Builder) error {
		if _, err := b.AddEntity(jps.NewModule("old", gradle)); err != nil {
			return err
		}
		_, err := b.AddEntity(jps.NewModule("mine", userSource))
		return err
	})
	require.NoError(t, err)

	rb := storage.NewBuilder(jps.Schema())
	_, err = rb.AddEntity(jps.NewModule("new", gradle))
	require.NoError(t, err)
	replacement, err := rb.ToStorage()
	require.NoError(t, err)

	_, err = svc.ReplaceBySource(ctx, domain.FromSystem("gradle"), replacement)
	require.NoError(t, err)
	_, ok := jps.FindModule(svc.Snapshot(), "old")
	assert.False(t, ok)
	_, ok = jps.FindModule(svc.Snapshot(), "new")
	assert.True(t, ok)
	_, ok = jps.FindModule(svc.Snapshot(), "mine")
	assert.True(t, ok)
}

func TestServiceUpdateSubstitutions(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	_, err := svc.Update(ctx, func(b *storage.Builder) error {
		if _, err := b.AddEntity(jps.NewLibrary("library", userSource)); err != nil {
			return err
		}
		if err := addModule("app", jps.OnLibrary("library", false, jps.ScopeCompile))(b); err != nil {
			return err
		}
		return addModule("lib-module")(b)
	})
	require.NoError(t, err)

	coords := substitution.Static{
		Modules:   map[string]string{"lib-module": "g:lib:1"},
		Libraries: map[string]string{"library": "g:lib:1"},
	}
	out, _, err := svc.UpdateSubstitutions(ctx, coords)
	require.NoError(t, err)
	assert.Equal(t, []string{"app"}, out.Modules)
	committed := svc.Snapshot()

	out, _, err = svc.UpdateSubstitutions(ctx, coords)
	require.NoError(t, err)
	assert.False(t, out.Changed())
	assert.Same(t, committed, svc.Snapshot())
}

func TestServiceConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	var g errgroup.Group
	for i := range 16 {
		g.Go(func() error {
			_, err := svc.Update(ctx, addModule(string(rune('a'+i))))
			return err
		})
		g.Go(func() error {
			_ = svc.Snapshot().Len()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 16, svc.Snapshot().Len())
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg, "wsmodel")
	require.NoError(t, err)
	svc := newService(t, WithMetricsRecorder(rec))
	ctx := context.Background()

	_, err = svc.Update(ctx, addModule("app"))
	require.NoError(t, err)
	_, err = svc.Update(ctx, addModule("app"))
	require.Error(t, err)

	assert.Equal(t, 1.0, promtest.ToFloat64(rec.operations.WithLabelValues(OpUpdate, "success")))
	assert.Equal(t, 1.0, promtest.ToFloat64(rec.operations.WithLabelValues(OpUpdate, "error")))
	assert.Equal(t, 1.0, promtest.ToFloat64(rec.entities))
	assert.Equal(t, 1, promtest.CollectAndCount(rec.duration))

	_, err = NewPrometheusRecorder(reg, "wsmodel")
	assert.Error(t, err, "duplicate registration")
}
