package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/gpahub/internal/apperr"
	"github.com/starford/gpahub/internal/models"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertInstitute inserts or updates an institute and registers its program and regulation.
func (db *DB) UpsertInstitute(ctx context.Context, inst models.Institute) error {
	return db.inTx(ctx, func(tx *sql.Tx) error { return upsertInstitute(ctx, tx, inst) })
}

// UpsertStudent inserts a student or refreshes its CGPA.
func (db *DB) UpsertStudent(ctx context.Context, st models.Student) error {
	return upsertStudent(ctx, db.conn, st)
}

// UpsertGpaRecords writes semester entries, replacing existing semesters.
func (db *DB) UpsertGpaRecords(ctx context.Context, program, regulation, code, roll string, entries []models.GpaEntry) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		return upsertGpaRecords(ctx, tx, program, regulation, code, roll, entries)
	})
}

// UpsertCgpa inserts or updates a CGPA record.
func (db *DB) UpsertCgpa(ctx context.Context, rec models.CgpaRecord) error {
	return upsertCgpa(ctx, db.conn, rec)
}

// ApplyBatch writes every operation in a single transaction.
func (db *DB) ApplyBatch(ctx context.Context, ops []models.Operation) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		for _, op := range ops {
			var err error
			switch op.Kind {
			case models.OpInstitute:
				err = upsertInstitute(ctx, tx, *op.Institute)
			case models.OpStudent:
				st := op.Student
				if err = upsertStudent(ctx, tx, *st); err == nil {
					err = upsertGpaRecords(ctx, tx, st.Program, st.RegulationYear, st.InstituteCode, st.Roll, st.GPA)
				}
			case models.OpCgpa:
				err = upsertCgpa(ctx, tx, *op.Cgpa)
			default:
				err = fmt.Errorf("sqlite: unknown operation kind %q", op.Kind)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertInstitute(ctx context.Context, ex execer, inst models.Institute) error {
	if _, err := ex.ExecContext(ctx, `INSERT OR IGNORE INTO programs (name) VALUES (?)`, inst.Program); err != nil {
		return fmt.Errorf("sqlite: upsert program: %w", err)
	}
	if _, err := ex.ExecContext(ctx,
		`INSERT OR IGNORE INTO regulations (program, year) VALUES (?, ?)`,
		inst.Program, inst.RegulationYear); err != nil {
		return fmt.Errorf("sqlite: upsert regulation: %w", err)
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO institutes (program, regulation, code, name, district, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(program, regulation, code) DO UPDATE SET
			name       = excluded.name,
			district   = excluded.district,
			updated_at = excluded.updated_at
	`, inst.Program, inst.RegulationYear, inst.Code, inst.Name, inst.District, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite: upsert institute: %w", err)
	}
	return nil
}

func upsertStudent(ctx context.Context, ex execer, st models.Student) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO students (program, regulation, institute_code, roll, cgpa, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(program, regulation, institute_code, roll) DO UPDATE SET
			cgpa       = COALESCE(excluded.cgpa, students.cgpa),
			updated_at = excluded.updated_at
	`, st.Program, st.RegulationYear, st.InstituteCode, st.Roll, st.CGPA, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite: upsert student: %w", err)
	}
	return nil
}

func upsertGpaRecords(ctx context.Context, ex execer, program, regulation, code, roll string, entries []models.GpaEntry) error {
	now := time.Now().UTC()
	for _, e := range entries {
		var gpa any
		if !e.Referred {
			gpa = e.Value
		}
		subjects := e.ReferredSubjects
		if subjects == nil {
			subjects = []string{}
		}
		subjectsJSON, _ := json.Marshal(subjects)

		_, err := ex.ExecContext(ctx, `
			INSERT INTO gpa_records (program, regulation, institute_code, roll, semester, gpa, is_reference, ref_subjects, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(program, regulation, institute_code, roll, semester) DO UPDATE SET
				gpa          = excluded.gpa,
				is_reference = excluded.is_reference,
				ref_subjects = excluded.ref_subjects,
				updated_at   = excluded.updated_at
		`, program, regulation, code, roll, e.Semester, gpa, e.Referred, string(subjectsJSON), now)
		if err != nil {
			return fmt.Errorf("sqlite: upsert gpa record: %w", err)
		}
	}
	return nil
}

func upsertCgpa(ctx context.Context, ex execer, rec models.CgpaRecord) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO cgpa_records (program, regulation, institute_code, roll, label, cgpa, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(program, regulation, institute_code, roll, label) DO UPDATE SET
			cgpa       = excluded.cgpa,
			updated_at = excluded.updated_at
	`, rec.Program, rec.RegulationYear, rec.InstituteCode, rec.Roll, rec.Label, rec.CGPA, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite: upsert cgpa: %w", err)
	}
	return nil
}

// FindStudent returns the student with roll and its GPA entries ordered by semester.
func (db *DB) FindStudent(ctx context.Context, program, regulation, roll string) (*models.Student, error) {
	st := models.Student{Program: program, RegulationYear: regulation, Roll: roll}
	var cgpa sql.NullFloat64
	err := db.conn.QueryRowContext(ctx, `
		SELECT institute_code, cgpa FROM students
		WHERE program = ? AND regulation = ? AND roll = ?
		ORDER BY institute_code LIMIT 1
	`, program, regulation, roll).Scan(&st.InstituteCode, &cgpa)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: student %s: %w", roll, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find student: %w", err)
	}
	if cgpa.Valid {
		st.CGPA = &cgpa.Float64
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT semester, gpa, is_reference, ref_subjects FROM gpa_records
		WHERE program = ? AND regulation = ? AND institute_code = ? AND roll = ?
		ORDER BY semester
	`, program, regulation, st.InstituteCode, roll)
	if err != nil {
		return nil, fmt.Errorf("sqlite: gpa records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e        models.GpaEntry
			gpa      sql.NullFloat64
			subjects string
		)
		if err := rows.Scan(&e.Semester, &gpa, &e.Referred, &subjects); err != nil {
			return nil, fmt.Errorf("sqlite: scan gpa record: %w", err)
		}
		e.Value = gpa.Float64
		_ = json.Unmarshal([]byte(subjects), &e.ReferredSubjects)
		if len(e.ReferredSubjects) == 0 {
			e.ReferredSubjects = nil
		}
		st.GPA = append(st.GPA, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: gpa records: %w", err)
	}
	return &st, nil
}

// FindInstitute returns one institute by code.
func (db *DB) FindInstitute(ctx context.Context, program, regulation, code string) (*models.Institute, error) {
	inst := models.Institute{Program: program, RegulationYear: regulation, Code: code}
	err := db.conn.QueryRowContext(ctx, `
		SELECT name, district FROM institutes WHERE program = ? AND regulation = ? AND code = ?
	`, program, regulation, code).Scan(&inst.Name, &inst.District)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: institute %s: %w", code, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find institute: %w", err)
	}
	return &inst, nil
}

// FindCgpa returns every CGPA record for a student; none is not an error.
func (db *DB) FindCgpa(ctx context.Context, program, regulation, code, roll string) ([]models.CgpaRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT label, cgpa FROM cgpa_records
		WHERE program = ? AND regulation = ? AND institute_code = ? AND roll = ?
		ORDER BY label
	`, program, regulation, code, roll)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find cgpa: %w", err)
	}
	defer rows.Close()

	var out []models.CgpaRecord
	for rows.Next() {
		rec := models.CgpaRecord{Program: program, RegulationYear: regulation, InstituteCode: code, Roll: roll}
		if err := rows.Scan(&rec.Label, &rec.CGPA); err != nil {
			return nil, fmt.Errorf("sqlite: scan cgpa: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Regulations lists the regulation years recorded for program.
func (db *DB) Regulations(ctx context.Context, program string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT year FROM regulations WHERE program = ? ORDER BY year`, program)
	if err != nil {
		return nil, fmt.Errorf("sqlite: regulations: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var y string
		if err := rows.Scan(&y); err != nil {
			return nil, err
		}
		out = append(out, y)
	}
	return out, rows.Err()
}

// Stats counts the rows in every table.
func (db *DB) Stats(ctx context.Context) (models.Stats, error) {
	var s models.Stats
	err := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM programs),
			(SELECT COUNT(*) FROM regulations),
			(SELECT COUNT(*) FROM institutes),
			(SELECT COUNT(*) FROM students),
			(SELECT COUNT(*) FROM gpa_records),
			(SELECT COUNT(*) FROM cgpa_records)
	`).Scan(&s.Programs, &s.Regulations, &s.Institutes, &s.Students, &s.GpaRecords, &s.CgpaRecords)
	if err != nil {
		return models.Stats{}, fmt.Errorf("sqlite: stats: %w", err)
	}
	return s, nil
}
