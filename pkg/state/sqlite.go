package state

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/terrane-io/terrane/pkg/addrs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store and Journal backed by a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	cfg SQLiteConfig
}

// SQLiteConfig holds SQLite store configuration.
type SQLiteConfig struct {
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DefaultSQLiteConfig returns the store defaults.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Path:            "terrane.db",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// NewSQLiteStore creates a SQLite store instance. Call Init before use.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database in WAL mode and runs migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
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

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return s.migrate()
}

// migrate applies the embedded schema migrations.
func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the record for addr, or nil when none exists.
func (s *SQLiteStore) Get(ctx context.Context, addr addrs.Resource) (*StateRecord, error) {
	query := `
		SELECT attrs, dependencies, serial, updated_at
		FROM states
		WHERE address = ?
	`

	var (
		rawAttrs  []byte
		rawDeps   string
		serial    uint64
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, query, addr.String()).Scan(&rawAttrs, &rawDeps, &serial, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state for %s: %w", addr, err)
	}

	attrs, err := DecodeAttrs(rawAttrs)
	if err != nil {
		return nil, fmt.Errorf("corrupt state for %s: %w", addr, err)
	}
	deps, err := decodeDeps(rawDeps)
	if err != nil {
		return nil, fmt.Errorf("corrupt state for %s: %w", addr, err)
	}

	return &StateRecord{
		Address:      addr,
		Attrs:        attrs,
		Dependencies: deps,
		Serial:       serial,
		UpdatedAt:    updatedAt,
	}, nil
}

// Put writes rec inside a transaction so the serial check and the write are
// atomic.
func (s *SQLiteStore) Put(ctx context.Context, rec *StateRecord, expectedSerial uint64) error {
	rawAttrs, err := EncodeAttrs(rec.Attrs)
	if err != nil {
		return err
	}
	rawDeps, err := encodeDeps(rec.Dependencies)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var actual uint64
	err = tx.QueryRowContext(ctx,
		`SELECT serial FROM states WHERE address = ?`, rec.Address.String()).Scan(&actual)
	exists := true
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
		actual = 0
	} else if err != nil {
		return fmt.Errorf("failed to read serial for %s: %w", rec.Address, err)
	}

	if actual != expectedSerial {
		return &ConflictError{Address: rec.Address, Expected: expectedSerial, Actual: actual}
	}

	rec.Serial = expectedSerial + 1
	rec.UpdatedAt = time.Now().UTC()

	if exists {
		_, err = tx.ExecContext(ctx, `
			UPDATE states
			SET attrs = ?, dependencies = ?, serial = ?, updated_at = ?
			WHERE address = ?`,
			string(rawAttrs), rawDeps, rec.Serial, rec.UpdatedAt, rec.Address.String())
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO states (address, resource_type, resource_name, resource_idx, attrs, dependencies, serial, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.Address.String(), rec.Address.Type, rec.Address.Name, rec.Address.Index,
			string(rawAttrs), rawDeps, rec.Serial, rec.UpdatedAt)
	}
	if err != nil {
		return fmt.Errorf("failed to write state for %s: %w", rec.Address, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state for %s: %w", rec.Address, err)
	}
	return nil
}

// Delete removes the record for addr.
func (s *SQLiteStore) Delete(ctx context.Context, addr addrs.Resource) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM states WHERE address = ?`, addr.String())
	if err != nil {
		return fmt.Errorf("failed to delete state for %s: %w", addr, err)
	}
	return nil
}

// List returns every recorded address in canonical order.
func (s *SQLiteStore) List(ctx context.Context) ([]addrs.Resource, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address FROM states`)
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	defer rows.Close()

	out := []addrs.Resource{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan state address: %w", err)
		}
		addr, err := addrs.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt state address %q: %w", raw, err)
		}
		out = append(out, addr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating states: %w", err)
	}

	addrs.Sort(out)
	return out, nil
}

// Lock inserts the singleton lock row; a constraint violation means another
// run holds the lock, reported as LockError with the holder's info.
func (s *SQLiteStore) Lock(ctx context.Context, info *LockInfo) (string, error) {
	id := uuid.New().String()
	created := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lock (singleton, lock_id, operation, who, created_at)
		VALUES (1, ?, ?, ?, ?)`,
		id, info.Operation, info.Who, created)
	if err == nil {
		return id, nil
	}

	holder := &LockInfo{}
	row := s.db.QueryRowContext(ctx,
		`SELECT lock_id, operation, who, created_at FROM lock WHERE singleton = 1`)
	if scanErr := row.Scan(&holder.ID, &holder.Operation, &holder.Who, &holder.Created); scanErr != nil {
		return "", &LockError{}
	}
	return "", &LockError{Info: holder}
}

// Unlock removes the lock row if id matches the holder.
func (s *SQLiteStore) Unlock(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lock WHERE singleton = 1 AND lock_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to unlock state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to unlock state: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("lock %s is not held", id)
	}
	return nil
}

// SaveRun implements Journal.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var errMsg *string
	if run.Error != "" {
		errMsg = &run.Error
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, duration_ms, applied, failed, skipped, no_op, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.Duration.Milliseconds(),
		run.Applied, run.Failed, run.Skipped, run.NoOp, errMsg)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	for _, nr := range run.NodeResults {
		var nodeErr *string
		if nr.Error != "" {
			nodeErr = &nr.Error
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO node_results (run_id, address, action, status, error, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID, nr.Address.String(), nr.Action, nr.Status, nodeErr, nr.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("failed to save node result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// ListRuns implements Journal. Node results are not loaded.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, duration_ms, applied, failed, skipped, no_op, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		run := &RunRecord{}
		var durationMS int64
		var errMsg *string
		if err := rows.Scan(&run.ID, &run.StartedAt, &durationMS,
			&run.Applied, &run.Failed, &run.Skipped, &run.NoOp, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		if errMsg != nil {
			run.Error = *errMsg
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}
