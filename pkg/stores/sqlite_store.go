package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/froyo-aur/pkg/aur"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists invocation history and last known package state.
// It implements aur.Recorder.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if isMemory(cfg.Path) {
		// Every connection to :memory: opens a separate database.
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

func dsn(path string) string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_txlock=immediate",
	}
	if !isMemory(path) {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + strings.TrimPrefix(path, "file:") + sep + strings.Join(pragmas, "&")
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", dsn(s.cfg.Path))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// RecordInvocation persists a finished engine invocation together with its
// package results and, for applied invocations, the resulting package state.
func (s *SQLiteStore) RecordInvocation(ctx context.Context, inv *aur.Invocation) error {
	rec, err := NewInvocationRecord(inv)
	if err != nil {
		return err
	}
	return s.SaveInvocation(ctx, rec, packageStates(inv))
}

// NewInvocationRecord converts an engine invocation into its stored form.
func NewInvocationRecord(inv *aur.Invocation) (*InvocationRecord, error) {
	req, err := json.Marshal(inv.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	rec := &InvocationRecord{
		ID:          inv.ID,
		Operation:   inv.Request.Operation(),
		Helper:      inv.Helper,
		Packages:    inv.Request.Packages,
		Request:     string(req),
		CheckMode:   inv.Check,
		Status:      InvocationStatusOK,
		StartedAt:   inv.StartedAt,
		CompletedAt: inv.CompletedAt,
	}
	if rec.Packages == nil {
		rec.Packages = []string{}
	}

	if out := inv.Outcome; out != nil {
		encoded, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to encode outcome: %w", err)
		}
		outcome := string(encoded)
		rec.Outcome = &outcome
		rec.Changed = out.Changed
		rec.Failed = out.Failed
		rec.RC = out.RC
		rec.Msg = out.Msg
		if out.Helper != "" {
			rec.Helper = out.Helper
		}

		for _, p := range out.Packages {
			rec.Results = append(rec.Results, &PackageRecord{
				InvocationID: inv.ID,
				Package:      p.Package,
				Phase:        string(p.State),
				Changed:      p.Changed,
				RC:           p.RC,
			})
		}
	}

	if inv.Err != nil {
		msg := inv.Err.Error()
		rec.Error = &msg
		rec.ErrorKind = string(aur.KindOf(inv.Err))
		rec.Failed = true
	}

	switch {
	case rec.Failed:
		rec.Status = InvocationStatusFailed
	case rec.Changed:
		rec.Status = InvocationStatusChanged
	}

	return rec, nil
}

// packageStates derives the state each processed package was left in.
// Dry runs and system upgrades leave no per-package state.
func packageStates(inv *aur.Invocation) []*PackageState {
	out := inv.Outcome
	if inv.Check || out == nil || inv.Request.Upgrade {
		return nil
	}

	installed := toSet(out.Installed)
	updated := toSet(out.Updated)
	removed := toSet(out.Removed)
	absent := inv.Request.State == aur.StateAbsent

	var states []*PackageState
	for _, p := range out.Packages {
		if p.State != aur.PhaseSucceeded && p.State != aur.PhaseSkipped {
			continue
		}

		action := PackageActionUnchanged
		switch {
		case removed[p.Package]:
			action = PackageActionRemoved
		case installed[p.Package]:
			action = PackageActionInstalled
		case updated[p.Package]:
			action = PackageActionUpdated
		}

		states = append(states, &PackageState{
			Name:             p.Package,
			Installed:        !absent,
			Helper:           out.Helper,
			LastAction:       action,
			LastInvocationID: inv.ID,
			UpdatedAt:        inv.CompletedAt,
		})
	}
	return states
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// SaveInvocation writes an invocation, its package results and package
// states in one transaction.
func (s *SQLiteStore) SaveInvocation(ctx context.Context, rec *InvocationRecord, states []*PackageState) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	packages, err := json.Marshal(rec.Packages)
	if err != nil {
		return fmt.Errorf("failed to encode packages: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invocations (
			id, operation, helper, packages, request, check_mode, status, changed, failed,
			rc, msg, outcome, error, error_kind, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Operation,
		rec.Helper,
		string(packages),
		rec.Request,
		rec.CheckMode,
		rec.Status,
		rec.Changed,
		rec.Failed,
		rec.RC,
		rec.Msg,
		rec.Outcome,
		rec.Error,
		rec.ErrorKind,
		rec.StartedAt.UTC(),
		rec.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert invocation: %w", err)
	}

	for _, r := range rec.Results {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO package_results (invocation_id, package, phase, changed, rc)
			VALUES (?, ?, ?, ?, ?)
		`, rec.ID, r.Package, r.Phase, r.Changed, r.RC)
		if err != nil {
			return fmt.Errorf("failed to insert package result: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			r.ID = id
		}
		r.InvocationID = rec.ID
	}

	for _, st := range states {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO package_state (name, installed, helper, last_action, last_invocation_id, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				installed = excluded.installed,
				helper = excluded.helper,
				last_action = excluded.last_action,
				last_invocation_id = excluded.last_invocation_id,
				updated_at = excluded.updated_at
		`, st.Name, st.Installed, st.Helper, st.LastAction, st.LastInvocationID, st.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert package state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit invocation: %w", err)
	}
	return nil
}

const invocationColumns = `
	id, operation, helper, packages, request, check_mode, status, changed, failed,
	rc, msg, outcome, error, error_kind, started_at, completed_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanInvocation(row scanner) (*InvocationRecord, error) {
	rec := &InvocationRecord{}
	var packages string
	err := row.Scan(
		&rec.ID,
		&rec.Operation,
		&rec.Helper,
		&packages,
		&rec.Request,
		&rec.CheckMode,
		&rec.Status,
		&rec.Changed,
		&rec.Failed,
		&rec.RC,
		&rec.Msg,
		&rec.Outcome,
		&rec.Error,
		&rec.ErrorKind,
		&rec.StartedAt,
		&rec.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(packages), &rec.Packages); err != nil {
		return nil, fmt.Errorf("failed to decode packages of invocation %s: %w", rec.ID, err)
	}
	return rec, nil
}

// GetInvocation retrieves an invocation and its package results by ID.
func (s *SQLiteStore) GetInvocation(ctx context.Context, id string) (*InvocationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invocationColumns+` FROM invocations WHERE id = ?`, id)

	rec, err := scanInvocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invocation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invocation: %w", err)
	}

	rec.Results, err = s.packageResults(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) packageResults(ctx context.Context, invocationID string) ([]*PackageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invocation_id, package, phase, changed, rc
		FROM package_results
		WHERE invocation_id = ?
		ORDER BY id
	`, invocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list package results: %w", err)
	}
	defer rows.Close()

	var results []*PackageRecord
	for rows.Next() {
		r := &PackageRecord{}
		if err := rows.Scan(&r.ID, &r.InvocationID, &r.Package, &r.Phase, &r.Changed, &r.RC); err != nil {
			return nil, fmt.Errorf("failed to scan package result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating package results: %w", err)
	}
	return results, nil
}

// ListInvocations lists invocations newest first.
func (s *SQLiteStore) ListInvocations(ctx context.Context, filter InvocationFilter) ([]*InvocationRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.Operation != "" {
		where = append(where, "operation = ?")
		args = append(args, filter.Operation)
	}
	if filter.Package != "" {
		where = append(where, "id IN (SELECT invocation_id FROM package_results WHERE package = ?)")
		args = append(args, filter.Package)
	}

	query := `SELECT ` + invocationColumns + ` FROM invocations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id LIMIT ? OFFSET ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}
	defer rows.Close()

	records := []*InvocationRecord{}
	for rows.Next() {
		rec, err := scanInvocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invocations: %w", err)
	}
	return records, nil
}

// DeleteInvocation deletes an invocation and its package results.
func (s *SQLiteStore) DeleteInvocation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM invocations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete invocation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("invocation %s: %w", id, ErrNotFound)
	}
	return nil
}

// PruneInvocations deletes invocations that started before cutoff and
// returns how many were removed. Package state is kept.
func (s *SQLiteStore) PruneInvocations(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM invocations WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune invocations: %w", err)
	}
	return result.RowsAffected()
}

// GetPackageState returns the last recorded state of a package.
func (s *SQLiteStore) GetPackageState(ctx context.Context, name string) (*PackageState, error) {
	st := &PackageState{}
	err := s.db.QueryRowContext(ctx, `
		SELECT name, installed, helper, last_action, last_invocation_id, updated_at
		FROM package_state
		WHERE name = ?
	`, name).Scan(&st.Name, &st.Installed, &st.Helper, &st.LastAction, &st.LastInvocationID, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("package %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package state: %w", err)
	}
	return st, nil
}

// ListPackageStates returns every recorded package ordered by name.
func (s *SQLiteStore) ListPackageStates(ctx context.Context) ([]*PackageState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, installed, helper, last_action, last_invocation_id, updated_at
		FROM package_state
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list package states: %w", err)
	}
	defer rows.Close()

	states := []*PackageState{}
	for rows.Next() {
		st := &PackageState{}
		if err := rows.Scan(&st.Name, &st.Installed, &st.Helper, &st.LastAction, &st.LastInvocationID, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan package state: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating package states: %w", err)
	}
	return states, nil
}
