// Package storetest holds the behavioural checks every store backend must pass.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/gpahub/internal/apperr"
	"github.com/starford/gpahub/internal/models"
	"github.com/starford/gpahub/internal/store"
)

const (
	program    = "Diploma in Engineering"
	regulation = "2016"
)

func institute() models.Institute {
	return models.Institute{
		Program:        program,
		RegulationYear: regulation,
		Code:           "23106",
		Name:           "Dhaka Polytechnic Institute",
		District:       "Dhaka",
	}
}

func student() models.Student {
	return models.Student{
		Program:        program,
		RegulationYear: regulation,
		InstituteCode:  "23106",
		Roll:           "721942",
		GPA: []models.GpaEntry{
			{Semester: 2, Value: 3.34},
			{Semester: 1, Value: 3.10},
			{Semester: 3, Referred: true, ReferredSubjects: []string{"25841(T)"}},
		},
	}
}

func seed(t *testing.T, s store.Store) {
	t.Helper()
	inst := institute()
	st := student()
	cgpa := models.CgpaRecord{
		Program: program, RegulationYear: regulation,
		InstituteCode: "23106", Roll: "721942", Label: models.FinalLabel, CGPA: 3.41,
	}
	require.NoError(t, s.ApplyBatch(context.Background(), []models.Operation{
		{Kind: models.OpInstitute, Institute: &inst},
		{Kind: models.OpStudent, Student: &st},
		{Kind: models.OpCgpa, Cgpa: &cgpa},
	}))
}

// Run exercises open() against the shared store contract.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("FindStudentMissing", func(t *testing.T) {
		s := open(t)
		_, err := s.FindStudent(context.Background(), program, regulation, "999999")
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("BatchRoundTrip", func(t *testing.T) {
		s := open(t)
		seed(t, s)
		ctx := context.Background()

		st, err := s.FindStudent(ctx, program, regulation, "721942")
		require.NoError(t, err)
		assert.Equal(t, "23106", st.InstituteCode)
		require.Len(t, st.GPA, 3)
		assert.Equal(t, 1, st.GPA[0].Semester)
		assert.InDelta(t, 3.10, st.GPA[0].Value, 1e-9)
		assert.True(t, st.GPA[2].Referred)
		assert.Equal(t, []string{"25841(T)"}, st.GPA[2].ReferredSubjects)

		inst, err := s.FindInstitute(ctx, program, regulation, "23106")
		require.NoError(t, err)
		assert.Equal(t, "Dhaka Polytechnic Institute", inst.Name)
		assert.Equal(t, "Dhaka", inst.District)

		cgpa, err := s.FindCgpa(ctx, program, regulation, "23106", "721942")
		require.NoError(t, err)
		require.Len(t, cgpa, 1)
		assert.InDelta(t, 3.41, cgpa[0].CGPA, 1e-9)
	})

	t.Run("UpsertIsIdempotent", func(t *testing.T) {
		s := open(t)
		seed(t, s)
		seed(t, s)
		stats, err := s.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, models.Stats{
			Programs: 1, Regulations: 1, Institutes: 1, Students: 1, GpaRecords: 3, CgpaRecords: 1,
		}, stats)
	})

	t.Run("LaterValueWins", func(t *testing.T) {
		s := open(t)
		seed(t, s)
		ctx := context.Background()
		require.NoError(t, s.UpsertGpaRecords(ctx, program, regulation, "23106", "721942",
			[]models.GpaEntry{{Semester: 3, Value: 2.75}}))

		st, err := s.FindStudent(ctx, program, regulation, "721942")
		require.NoError(t, err)
		require.Len(t, st.GPA, 3)
		assert.False(t, st.GPA[2].Referred)
		assert.InDelta(t, 2.75, st.GPA[2].Value, 1e-9)
	})

	t.Run("MissingInstitute", func(t *testing.T) {
		s := open(t)
		_, err := s.FindInstitute(context.Background(), program, regulation, "00000")
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("NoCgpaIsEmpty", func(t *testing.T) {
		s := open(t)
		cgpa, err := s.FindCgpa(context.Background(), program, regulation, "23106", "721942")
		require.NoError(t, err)
		assert.Empty(t, cgpa)
	})

	t.Run("Regulations", func(t *testing.T) {
		s := open(t)
		seed(t, s)
		other := institute()
		other.RegulationYear = "2022"
		require.NoError(t, s.UpsertInstitute(context.Background(), other))

		regs, err := s.Regulations(context.Background(), program)
		require.NoError(t, err)
		assert.Equal(t, []string{"2016", "2022"}, regs)
	})
}
