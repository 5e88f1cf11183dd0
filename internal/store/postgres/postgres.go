// Package postgres provides a PostgreSQL result store. Supabase projects are
// reached through their direct database connection string.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/starford/gpahub/internal/apperr"
	"github.com/starford/gpahub/internal/models"
	"github.com/starford/gpahub/internal/store"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS programs (
	name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS regulations (
	program TEXT NOT NULL,
	year    TEXT NOT NULL,
	PRIMARY KEY (program, year)
);

CREATE TABLE IF NOT EXISTS institutes (
	program    TEXT NOT NULL,
	regulation TEXT NOT NULL,
	code       TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	district   TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (program, regulation, code)
);

CREATE TABLE IF NOT EXISTS students (
	program        TEXT NOT NULL,
	regulation     TEXT NOT NULL,
	institute_code TEXT NOT NULL,
	roll           TEXT NOT NULL,
	cgpa           DOUBLE PRECISION,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (program, regulation, institute_code, roll)
);

CREATE INDEX IF NOT EXISTS idx_students_roll ON students (program, regulation, roll);

CREATE TABLE IF NOT EXISTS gpa_records (
	program        TEXT NOT NULL,
	regulation     TEXT NOT NULL,
	institute_code TEXT NOT NULL,
	roll           TEXT NOT NULL,
	semester       SMALLINT NOT NULL CHECK (semester BETWEEN 1 AND 8),
	gpa            DOUBLE PRECISION CHECK (gpa IS NULL OR gpa BETWEEN 0 AND 4),
	is_reference   BOOLEAN NOT NULL DEFAULT false,
	ref_subjects   TEXT[] NOT NULL DEFAULT '{}',
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (program, regulation, institute_code, roll, semester)
);

CREATE TABLE IF NOT EXISTS cgpa_records (
	program         TEXT NOT NULL,
	regulation      TEXT NOT NULL,
	institute_code  TEXT NOT NULL,
	roll            TEXT NOT NULL,
	label           TEXT NOT NULL,
	cgpa            DOUBLE PRECISION NOT NULL,
	calculated_from TEXT NOT NULL DEFAULT 'gradesheet',
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (program, regulation, institute_code, roll, label)
);
`

const (
	upsertProgramSQL    = `INSERT INTO programs (name) VALUES ($1) ON CONFLICT DO NOTHING`
	upsertRegulationSQL = `INSERT INTO regulations (program, year) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	upsertInstituteSQL  = `
		INSERT INTO institutes (program, regulation, code, name, district, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (program, regulation, code) DO UPDATE SET
			name = EXCLUDED.name, district = EXCLUDED.district, updated_at = now()`
	upsertStudentSQL = `
		INSERT INTO students (program, regulation, institute_code, roll, cgpa, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (program, regulation, institute_code, roll) DO UPDATE SET
			cgpa = COALESCE(EXCLUDED.cgpa, students.cgpa), updated_at = now()`
	upsertGpaSQL = `
		INSERT INTO gpa_records (program, regulation, institute_code, roll, semester, gpa, is_reference, ref_subjects, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (program, regulation, institute_code, roll, semester) DO UPDATE SET
			gpa = EXCLUDED.gpa, is_reference = EXCLUDED.is_reference,
			ref_subjects = EXCLUDED.ref_subjects, updated_at = now()`
	upsertCgpaSQL = `
		INSERT INTO cgpa_records (program, regulation, institute_code, roll, label, cgpa, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (program, regulation, institute_code, roll, label) DO UPDATE SET
			cgpa = EXCLUDED.cgpa, updated_at = now()`
)

// Config holds pool settings for one store.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// PoolConfig returns the pgxpool configuration for c.
func (c Config) PoolConfig() (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if c.MaxConns > 0 {
		cfg.MaxConns = c.MaxConns
	}
	cfg.MaxConnLifetime = time.Hour
	if c.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = c.MaxConnLifetime
	}
	cfg.MaxConnIdleTime = 30 * time.Minute
	if c.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = c.MaxConnIdleTime
	}
	cfg.HealthCheckPeriod = time.Minute
	return cfg, nil
}

// DB is a result store on a PostgreSQL connection pool.
type DB struct {
	name string
	pool *pgxpool.Pool
}

var _ store.Store = (*DB)(nil)

// Open connects, verifies the connection and applies the schema.
func Open(ctx context.Context, name string, cfg Config) (*DB, error) {
	poolCfg, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	return &DB{name: name, pool: pool}, nil
}

// Connector opens a separate single-connection pool per caller so parallel
// ingest workers never share a connection.
func Connector(name string, cfg Config) store.Connector {
	return func(ctx context.Context) (store.Store, error) {
		cfg.MaxConns = 1
		return Open(ctx, name, cfg)
	}
}

func (db *DB) Name() string   { return db.name }
func (db *DB) Driver() string { return store.DriverPostgres }

func (db *DB) Ping(ctx context.Context) error { return db.pool.Ping(ctx) }

func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// withTx runs fn in a transaction, rolling back on error.
func (db *DB) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (db *DB) UpsertInstitute(ctx context.Context, inst models.Institute) error {
	return db.ApplyBatch(ctx, []models.Operation{{Kind: models.OpInstitute, Institute: &inst}})
}

func (db *DB) UpsertStudent(ctx context.Context, st models.Student) error {
	if _, err := db.pool.Exec(ctx, upsertStudentSQL, st.Program, st.RegulationYear, st.InstituteCode, st.Roll, st.CGPA); err != nil {
		return fmt.Errorf("postgres: upsert student: %w", err)
	}
	return nil
}

func (db *DB) UpsertGpaRecords(ctx context.Context, program, regulation, code, roll string, entries []models.GpaEntry) error {
	return db.withTx(ctx, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		queueGpa(b, program, regulation, code, roll, entries)
		return sendBatch(ctx, tx, b)
	})
}

func (db *DB) UpsertCgpa(ctx context.Context, rec models.CgpaRecord) error {
	if _, err := db.pool.Exec(ctx, upsertCgpaSQL,
		rec.Program, rec.RegulationYear, rec.InstituteCode, rec.Roll, rec.Label, rec.CGPA); err != nil {
		return fmt.Errorf("postgres: upsert cgpa: %w", err)
	}
	return nil
}

// ApplyBatch queues every operation on one pgx.Batch inside a transaction.
func (db *DB) ApplyBatch(ctx context.Context, ops []models.Operation) error {
	b := &pgx.Batch{}
	for _, op := range ops {
		switch op.Kind {
		case models.OpInstitute:
			inst := op.Institute
			b.Queue(upsertProgramSQL, inst.Program)
			b.Queue(upsertRegulationSQL, inst.Program, inst.RegulationYear)
			b.Queue(upsertInstituteSQL, inst.Program, inst.RegulationYear, inst.Code, inst.Name, inst.District)
		case models.OpStudent:
			st := op.Student
			b.Queue(upsertStudentSQL, st.Program, st.RegulationYear, st.InstituteCode, st.Roll, st.CGPA)
			queueGpa(b, st.Program, st.RegulationYear, st.InstituteCode, st.Roll, st.GPA)
		case models.OpCgpa:
			rec := op.Cgpa
			b.Queue(upsertCgpaSQL, rec.Program, rec.RegulationYear, rec.InstituteCode, rec.Roll, rec.Label, rec.CGPA)
		default:
			return fmt.Errorf("postgres: unknown operation kind %q", op.Kind)
		}
	}
	return db.withTx(ctx, func(tx pgx.Tx) error { return sendBatch(ctx, tx, b) })
}

func queueGpa(b *pgx.Batch, program, regulation, code, roll string, entries []models.GpaEntry) {
	for _, e := range entries {
		var gpa *float64
		if !e.Referred {
			v := e.Value
			gpa = &v
		}
		subjects := e.ReferredSubjects
		if subjects == nil {
			subjects = []string{}
		}
		b.Queue(upsertGpaSQL, program, regulation, code, roll, e.Semester, gpa, e.Referred, subjects)
	}
}

func sendBatch(ctx context.Context, tx pgx.Tx, b *pgx.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("postgres: batch statement %d: %w", i, err)
		}
	}
	return br.Close()
}

func (db *DB) FindStudent(ctx context.Context, program, regulation, roll string) (*models.Student, error) {
	st := models.Student{Program: program, RegulationYear: regulation, Roll: roll}
	err := db.pool.QueryRow(ctx, `
		SELECT institute_code, cgpa FROM students
		WHERE program = $1 AND regulation = $2 AND roll = $3
		ORDER BY institute_code LIMIT 1
	`, program, regulation, roll).Scan(&st.InstituteCode, &st.CGPA)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: student %s: %w", roll, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find student: %w", err)
	}

	rows, err := db.pool.Query(ctx, `
		SELECT semester, gpa, is_reference, ref_subjects FROM gpa_records
		WHERE program = $1 AND regulation = $2 AND institute_code = $3 AND roll = $4
		ORDER BY semester
	`, program, regulation, st.InstituteCode, roll)
	if err != nil {
		return nil, fmt.Errorf("postgres: gpa records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e   models.GpaEntry
			sem int16
			gpa *float64
		)
		if err := rows.Scan(&sem, &gpa, &e.Referred, &e.ReferredSubjects); err != nil {
			return nil, fmt.Errorf("postgres: scan gpa record: %w", err)
		}
		e.Semester = int(sem)
		if gpa != nil {
			e.Value = *gpa
		}
		if len(e.ReferredSubjects) == 0 {
			e.ReferredSubjects = nil
		}
		st.GPA = append(st.GPA, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: gpa records: %w", err)
	}
	return &st, nil
}

func (db *DB) FindInstitute(ctx context.Context, program, regulation, code string) (*models.Institute, error) {
	inst := models.Institute{Program: program, RegulationYear: regulation, Code: code}
	err := db.pool.QueryRow(ctx, `
		SELECT name, district FROM institutes WHERE program = $1 AND regulation = $2 AND code = $3
	`, program, regulation, code).Scan(&inst.Name, &inst.District)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: institute %s: %w", code, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find institute: %w", err)
	}
	return &inst, nil
}

func (db *DB) FindCgpa(ctx context.Context, program, regulation, code, roll string) ([]models.CgpaRecord, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT label, cgpa FROM cgpa_records
		WHERE program = $1 AND regulation = $2 AND institute_code = $3 AND roll = $4
		ORDER BY label
	`, program, regulation, code, roll)
	if err != nil {
		return nil, fmt.Errorf("postgres: find cgpa: %w", err)
	}
	defer rows.Close()

	var out []models.CgpaRecord
	for rows.Next() {
		rec := models.CgpaRecord{Program: program, RegulationYear: regulation, InstituteCode: code, Roll: roll}
		if err := rows.Scan(&rec.Label, &rec.CGPA); err != nil {
			return nil, fmt.Errorf("postgres: scan cgpa: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (db *DB) Regulations(ctx context.Context, program string) ([]string, error) {
	rows, err := db.pool.Query(ctx, `SELECT year FROM regulations WHERE program = $1 ORDER BY year`, program)
	if err != nil {
		return nil, fmt.Errorf("postgres: regulations: %w", err)
	}
	years, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: regulations: %w", err)
	}
	if years == nil {
		years = []string{}
	}
	return years, nil
}

func (db *DB) Stats(ctx context.Context) (models.Stats, error) {
	var s models.Stats
	err := db.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM programs),
			(SELECT COUNT(*) FROM regulations),
			(SELECT COUNT(*) FROM institutes),
			(SELECT COUNT(*) FROM students),
			(SELECT COUNT(*) FROM gpa_records),
			(SELECT COUNT(*) FROM cgpa_records)
	`).Scan(&s.Programs, &s.Regulations, &s.Institutes, &s.Students, &s.GpaRecords, &s.CgpaRecords)
	if err != nil {
		return models.Stats{}, fmt.Errorf("postgres: stats: %w", err)
	}
	return s, nil
}
