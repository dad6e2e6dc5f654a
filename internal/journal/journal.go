// Package journal appends every committed write action and its change log to
// a SQL database so the history of a workspace can be inspected later. The
// journal is write-only history: the model itself is never restored from it.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"workspacemodel/internal/core"
	"workspacemodel/pkg/domain"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type dialect struct {
	sqlDriver string
	ddl       []string
	numbered  bool
}

var dialects = map[string]dialect{
	DriverSQLite: {
		sqlDriver: "sqlite",
		ddl: []string{
			`CREATE TABLE IF NOT EXISTS write_actions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				lineage TEXT NOT NULL,
				operation TEXT NOT NULL,
				committed_at INTEGER NOT NULL,
				entities INTEGER NOT NULL,
				violations INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS entity_changes (
				action_id INTEGER NOT NULL REFERENCES write_actions(id),
				position INTEGER NOT NULL,
				kind TEXT NOT NULL,
				entity_type TEXT NOT NULL,
				entity_seq INTEGER NOT NULL,
				fields TEXT NOT NULL,
				old_source TEXT NOT NULL,
				new_source TEXT NOT NULL,
				PRIMARY KEY (action_id, position)
			)`,
		},
	},
	DriverPostgres: {
		sqlDriver: "pgx",
		numbered:  true,
		ddl: []string{
			`CREATE TABLE IF NOT EXISTS write_actions (
				id BIGSERIAL PRIMARY KEY,
				lineage TEXT NOT NULL,
				operation TEXT NOT NULL,
				committed_at BIGINT NOT NULL,
				entities INTEGER NOT NULL,
				violations INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS entity_changes (
				action_id BIGINT NOT NULL REFERENCES write_actions(id),
				position INTEGER NOT NULL,
				kind TEXT NOT NULL,
				entity_type TEXT NOT NULL,
				entity_seq BIGINT NOT NULL,
				fields TEXT NOT NULL,
				old_source TEXT NOT NULL,
				new_source TEXT NOT NULL,
				PRIMARY KEY (action_id, position)
			)`,
		},
	},
}

// rebind rewrites ? placeholders as $1, $2, ... for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var sqlOpen = sql.Open

// Journal writes committed write actions to a database.
type Journal struct {
	db     *sql.DB
	d      dialect
	logger *zap.Logger
	nowFn  func() time.Time
}

// Option customizes a Journal.
type Option func(*Journal)

// WithLogger sets the logger used by the listener to report write failures.
func WithLogger(logger *zap.Logger) Option {
	return func(j *Journal) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) {
		if now != nil {
			j.nowFn = now
		}
	}
}

// Open connects to dsn with the named driver and creates the journal tables
// when missing. For sqlite, dsn is a file path and its directory is created.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Journal, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unknown journal driver %q", driver)
	}
	if dsn == "" {
		return nil, errors.New("journal dsn required")
	}
	if driver == DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sqlOpen(d.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	j := &Journal{db: db, d: d, logger: zap.NewNop(), nowFn: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	if err := j.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	if err := j.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping journal: %w", err)
	}
	for _, stmt := range j.d.ddl {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create journal tables: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (j *Journal) Close() error { return j.db.Close() }

// Record stores ev and its changes in one transaction and returns the id of
// the new action row.
func (j *Journal) Record(ctx context.Context, ev core.Event) (id int64, err error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	entities := 0
	if ev.After != nil {
		entities = ev.After.Len()
	}
	var lineage string
	if ev.After != nil {
		lineage = ev.After.Lineage().String()
	}
	err = tx.QueryRowContext(ctx, j.d.rebind(
		`INSERT INTO write_actions (lineage, operation, committed_at, entities, violations) VALUES (?, ?, ?, ?, ?) RETURNING id`),
		lineage, ev.Operation, j.nowFn().UnixNano(), entities, len(ev.Result.Violations),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert write action: %w", err)
	}
	insert := j.d.rebind(`INSERT INTO entity_changes
		(action_id, position, kind, entity_type, entity_seq, fields, old_source, new_source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	for i, c := range ev.Changes {
		_, err = tx.ExecContext(ctx, insert,
			id, i, string(c.Kind), string(c.Type), int64(c.ID.Seq), // #nosec G115 -- seqs stay far below 2^63
			strings.Join(c.Fields, ","), sourceText(c.OldSource), sourceText(c.NewSource))
		if err != nil {
			return 0, fmt.Errorf("insert change %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit write action: %w", err)
	}
	return id, nil
}

func sourceText(src domain.EntitySource) string {
	if src == nil {
		return ""
	}
	return src.String()
}

// Listener returns a service listener that records every committed action.
// Failures are logged and do not undo the commit.
func (j *Journal) Listener() core.Listener {
	return func(ctx context.Context, ev core.Event) {
		if _, err := j.Record(ctx, ev); err != nil {
			j.logger.Error("journal write failed", zap.String("operation", ev.Operation), zap.Error(err))
		}
	}
}

// Action is one journaled write action.
type Action struct {
	ID          int64
	Lineage     string
	Operation   string
	CommittedAt time.Time
	Entities    int
	Violations  int
}

// Entry is one journaled change.
type Entry struct {
	Kind       domain.ChangeKind
	EntityType domain.EntityType
	EntitySeq  uint64
	Fields     []string
	OldSource  string
	NewSource  string
}

// Actions returns up to limit actions, newest first. A limit of zero or less
// returns all of them.
func (j *Journal) Actions(ctx context.Context, limit int) ([]Action, error) {
	query := `SELECT id, lineage, operation, committed_at, entities, violations FROM write_actions ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, j.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select write actions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Action
	for rows.Next() {
		var a Action
		var at int64
		if err := rows.Scan(&a.ID, &a.Lineage, &a.Operation, &at, &a.Entities, &a.Violations); err != nil {
			return nil, err
		}
		a.CommittedAt = time.Unix(0, at).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// Changes returns the changes recorded for action in log order.
func (j *Journal) Changes(ctx context.Context, action int64) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, j.d.rebind(
		`SELECT kind, entity_type, entity_seq, fields, old_source, new_source FROM entity_changes WHERE action_id = ? ORDER BY position`),
		action)
	if err != nil {
		return nil, fmt.Errorf("select changes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Entry
	for rows.Next() {
		var e Entry
		var kind, typ, fields string
		var seq int64
		if err := rows.Scan(&kind, &typ, &seq, &fields, &e.OldSource, &e.NewSource); err != nil {
			return nil, err
		}
		e.Kind, e.EntityType, e.EntitySeq = domain.ChangeKind(kind), domain.EntityType(typ), uint64(seq) // #nosec G115
		if fields != "" {
			e.Fields = strings.Split(fields, ",")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
