// Package ratestore persists rate records in SQLite or PostgreSQL.
//
// The overlap rule is enforced twice: a pre-check inside the write
// transaction that produces a descriptive *rates.OverlapError, and a
// database constraint (triggers on SQLite, an exclusion constraint on
// PostgreSQL) that holds even for writers that bypass this package.
package ratestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"cloud.google.com/go/civil"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"tree-estimator/core/rates"
	ierrors "tree-estimator/internal/errors"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Driver names accepted by Open
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// goose keeps its dialect and filesystem in package globals
var gooseMu sync.Mutex

// Store is a SQL-backed rate table. It implements rates.Source.
type Store struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store's logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open connects to the rate database and checks connectivity.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	var sqlDriver string
	switch driver {
	case DriverSQLite:
		sqlDriver = "sqlite"
	case DriverPostgres:
		sqlDriver = "postgres"
	default:
		return nil, ierrors.Newf(ierrors.TypeConfig, "unsupported rate store driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		// one writer at a time keeps the transaction pre-check race free
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`
			PRAGMA journal_mode = WAL;
			PRAGMA foreign_keys = ON;
			PRAGMA busy_timeout = 5000;
		`); err != nil {
			db.Close()
			return nil, fmt.Errorf("set sqlite pragmas: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, ierrors.Wrap(ierrors.TypeNetwork, "ping rate database", err)
	}

	s := &Store{db: db, driver: driver, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Migrate applies pending schema migrations
func (s *Store) Migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	dialect := "sqlite3"
	if s.driver == DriverPostgres {
		dialect = "postgres"
	}
	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations/"+s.driver); err != nil {
		return fmt.Errorf("run goose up migrations: %w", err)
	}
	s.logger.Info("rate store migrated", zap.String("driver", s.driver))
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT id, kind, subject, amount, effective_from, effective_to, notes FROM rate_records`

// Insert adds one record, rejecting overlapping windows
func (s *Store) Insert(ctx context.Context, r rates.Record) error {
	return s.InsertAll(ctx, []rates.Record{r})
}

// InsertAll adds records in one transaction. Either all are stored or none.
func (s *Store) InsertAll(ctx context.Context, records []rates.Record) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			if err := r.Validate(); err != nil {
				return ierrors.Wrap(ierrors.TypeValidation, "invalid rate record", err)
			}
			if r.ID == "" {
				r.ID = rates.RecordID(r.Subject, r.EffectiveFrom)
			}
			existing, err := s.history(ctx, tx, r.Subject)
			if err != nil {
				return err
			}
			if err := rates.CheckOverlap(existing, r); err != nil {
				return err
			}
			if err := s.insert(ctx, tx, r); err != nil {
				return s.translate(err, r, existing)
			}
		}
		return nil
	})
}

// Import inserts the records whose ids are not stored yet, in one transaction.
// Records already present are skipped as-is, even if a later supersede closed their window.
func (s *Store) Import(ctx context.Context, records []rates.Record) (added, skipped int, err error) {
	stored, err := s.All(ctx)
	if err != nil {
		return 0, 0, err
	}
	have := make(map[string]bool, len(stored))
	for _, r := range stored {
		have[r.ID] = true
	}

	var fresh []rates.Record
	for _, r := range records {
		if r.ID == "" {
			r.ID = rates.RecordID(r.Subject, r.EffectiveFrom)
		}
		if have[r.ID] {
			skipped++
			continue
		}
		fresh = append(fresh, r)
	}
	if err := s.InsertAll(ctx, fresh); err != nil {
		return 0, 0, err
	}
	s.logger.Info("rates imported", zap.Int("added", len(fresh)), zap.Int("skipped", skipped))
	return len(fresh), skipped, nil
}

// Supersede closes the open record of subject on from and inserts amount from that day on.
// Both writes happen in one transaction.
func (s *Store) Supersede(ctx context.Context, subject rates.Subject, amount decimal.Decimal, from civil.Date) (*rates.Record, rates.Record, error) {
	var closed *rates.Record
	var next rates.Record
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.history(ctx, tx, subject)
		if err != nil {
			return err
		}
		closed, next, err = rates.PlanSupersede(existing, subject, amount, from)
		if err != nil {
			return err
		}
		if closed != nil {
			q := s.rebind(`UPDATE rate_records SET effective_to = ? WHERE id = ?`)
			if _, err := tx.ExecContext(ctx, q, closed.EffectiveTo.String(), closed.ID); err != nil {
				return s.translate(err, *closed, existing)
			}
		}
		if err := s.insert(ctx, tx, next); err != nil {
			return s.translate(err, next, existing)
		}
		return nil
	})
	if err != nil {
		return nil, rates.Record{}, err
	}
	s.logger.Info("rate superseded",
		zap.Stringer("subject", subject),
		zap.String("amount", amount.String()),
		zap.Stringer("from", from))
	return closed, next, nil
}

// Load implements rates.Source
func (s *Store) Load(ctx context.Context, subjects []rates.Subject) ([]rates.Record, error) {
	if len(subjects) == 0 {
		return nil, nil
	}
	conds := make([]string, 0, len(subjects))
	args := make([]any, 0, 2*len(subjects))
	for _, sub := range subjects {
		conds = append(conds, "(kind = ? AND subject = ?)")
		args = append(args, string(sub.Kind), sub.Name)
	}
	q := selectColumns + " WHERE " + strings.Join(conds, " OR ") + " ORDER BY kind, subject, effective_from"
	return s.query(ctx, s.db, q, args...)
}

// History returns every record of one subject, oldest first
func (s *Store) History(ctx context.Context, subject rates.Subject) ([]rates.Record, error) {
	return s.history(ctx, s.db, subject)
}

// All returns every stored record
func (s *Store) All(ctx context.Context) ([]rates.Record, error) {
	return s.query(ctx, s.db, selectColumns+" ORDER BY kind, subject, effective_from")
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) history(ctx context.Context, q querier, subject rates.Subject) ([]rates.Record, error) {
	return s.query(ctx, q,
		selectColumns+" WHERE kind = ? AND subject = ? ORDER BY effective_from",
		string(subject.Kind), subject.Name)
}

func (s *Store) query(ctx context.Context, q querier, query string, args ...any) ([]rates.Record, error) {
	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query rate records: %w", err)
	}
	defer rows.Close()

	var out []rates.Record
	for rows.Next() {
		var (
			r        rates.Record
			kind     string
			from, to dateValue
		)
		if err := rows.Scan(&r.ID, &kind, &r.Subject.Name, &r.Amount, &from, &to, &r.Notes); err != nil {
			return nil, fmt.Errorf("scan rate record: %w", err)
		}
		r.Subject.Kind = rates.Kind(kind)
		if !from.Valid {
			return nil, fmt.Errorf("rate record %s has no effective_from", r.ID)
		}
		r.EffectiveFrom = from.Date
		if to.Valid {
			d := to.Date
			r.EffectiveTo = &d
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) insert(ctx context.Context, tx *sql.Tx, r rates.Record) error {
	var to any
	if r.EffectiveTo != nil {
		to = r.EffectiveTo.String()
	}
	q := s.rebind(`INSERT INTO rate_records (id, kind, subject, amount, effective_from, effective_to, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := tx.ExecContext(ctx, q,
		r.ID, string(r.Subject.Kind), r.Subject.Name, r.Amount.String(),
		r.EffectiveFrom.String(), to, r.Notes)
	return err
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// translate maps constraint violations to domain errors
func (s *Store) translate(err error, r rates.Record, existing []rates.Record) error {
	if !s.isOverlapViolation(err) {
		return fmt.Errorf("write rate record %s: %w", r.Subject, err)
	}
	for _, e := range existing {
		if e.ID != r.ID && r.Overlaps(e) {
			return &rates.OverlapError{Record: r, Existing: e}
		}
	}
	return ierrors.Wrap(ierrors.TypeRateOverlap, "rate window overlaps a concurrent write", errors.Join(rates.ErrOverlappingWindow, err))
}

func (s *Store) isOverlapViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// exclusion_violation, unique_violation
		return pqErr.Code == "23P01" || pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "rate window overlaps") || strings.Contains(msg, "UNIQUE constraint failed")
}

// rebind rewrites ? placeholders as $n for PostgreSQL
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
