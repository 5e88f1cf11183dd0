// Package store defines the result store contract shared by every backend.
package store

import (
	"context"
	"fmt"

	"github.com/starford/gpahub/internal/models"
)

// Drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Reader retrieves results. Lookups that match nothing return an error
// wrapping apperr.ErrNotFound; any other error means the store could not answer.
type Reader interface {
	FindStudent(ctx context.Context, program, regulation, roll string) (*models.Student, error)
	FindInstitute(ctx context.Context, program, regulation, code string) (*models.Institute, error)
	FindCgpa(ctx context.Context, program, regulation, code, roll string) ([]models.CgpaRecord, error)
	Regulations(ctx context.Context, program string) ([]string, error)
	Stats(ctx context.Context) (models.Stats, error)
}

// Writer persists results. Every write is an idempotent upsert.
type Writer interface {
	UpsertInstitute(ctx context.Context, inst models.Institute) error
	UpsertStudent(ctx context.Context, st models.Student) error
	UpsertGpaRecords(ctx context.Context, program, regulation, code, roll string, entries []models.GpaEntry) error
	UpsertCgpa(ctx context.Context, rec models.CgpaRecord) error
	ApplyBatch(ctx context.Context, ops []models.Operation) error
}

// Store is a named result store backend.
type Store interface {
	Reader
	Writer
	Name() string
	Driver() string
	Ping(ctx context.Context) error
	Close() error
}

// Connector opens an independent connection to a store. Parallel ingest
// workers each call it once.
type Connector func(ctx context.Context) (Store, error)

// Apply performs a single operation through the per-record upserts.
func Apply(ctx context.Context, w Writer, op models.Operation) error {
	switch op.Kind {
	case models.OpInstitute:
		return w.UpsertInstitute(ctx, *op.Institute)
	case models.OpStudent:
		st := op.Student
		if err := w.UpsertStudent(ctx, *st); err != nil {
			return err
		}
		return w.UpsertGpaRecords(ctx, st.Program, st.RegulationYear, st.InstituteCode, st.Roll, st.GPA)
	case models.OpCgpa:
		return w.UpsertCgpa(ctx, *op.Cgpa)
	default:
		return fmt.Errorf("store: unknown operation kind %q", op.Kind)
	}
}
