// Package normalize turns raw parse output into validated domain records and
// the flat list of persistence operations the ingest pipeline writes.
package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/starford/gpahub/internal/apperr"
	"github.com/starford/gpahub/internal/models"
	"github.com/starford/gpahub/internal/parser"
)

// Rejection records a value dropped by validation.
type Rejection struct {
	InstituteCode string `json:"institute_code"`
	Roll          string `json:"roll"`
	// Semester is 0 for a rejected CGPA value.
	Semester int    `json:"semester"`
	Value    string `json:"value"`
	Reason   string `json:"reason"`
}

// Report counts what survived normalization.
type Report struct {
	Institutes int         `json:"institutes"`
	Students   int         `json:"students"`
	GpaRecords int         `json:"gpa_records"`
	Rejected   []Rejection `json:"rejected,omitempty"`
}

// Output is the normalized form of one gradesheet.
type Output struct {
	Program    string
	Regulation string
	Institutes []models.Institute
	Students   []models.Student
	Cgpa       []models.CgpaRecord
	Report     Report
}

// Normalize validates every raw value in res under program and regulation.
// Numeric GPAs outside [0, 4] and unparsable tokens are dropped and reported;
// "ref" becomes a referred entry carrying the student's referred subjects.
func Normalize(res *parser.Result, program, regulation string) (*Output, error) {
	program = strings.TrimSpace(program)
	regulation = strings.TrimSpace(regulation)
	if program == "" || regulation == "" {
		return nil, fmt.Errorf("normalize: program and regulation are required: %w", apperr.ErrInvalidArgument)
	}

	out := &Output{Program: program, Regulation: regulation}
	if res == nil {
		return out, nil
	}

	for _, code := range res.InstituteCodes() {
		inst := res.Institutes[code]
		out.Institutes = append(out.Institutes, models.Institute{
			Program:        program,
			RegulationYear: regulation,
			Code:           inst.Code,
			Name:           inst.Name,
			District:       inst.District,
		})

		for _, roll := range inst.Rolls() {
			st := out.student(code, inst.Students[roll])
			if len(st.GPA) == 0 && st.CGPA == nil {
				continue
			}
			out.Students = append(out.Students, st)
			out.Report.GpaRecords += len(st.GPA)
			if st.CGPA != nil {
				out.Cgpa = append(out.Cgpa, models.CgpaRecord{
					Program:        program,
					RegulationYear: regulation,
					InstituteCode:  code,
					Roll:           roll,
					Label:          models.FinalLabel,
					CGPA:           *st.CGPA,
				})
			}
		}
	}
	out.Report.Institutes = len(out.Institutes)
	out.Report.Students = len(out.Students)

	return out, nil
}

func (o *Output) student(code string, raw *parser.Student) models.Student {
	st := models.Student{
		Program:        o.Program,
		RegulationYear: o.Regulation,
		InstituteCode:  code,
		Roll:           raw.Roll,
	}

	for sem := models.MinSemester; sem <= models.MaxSemester; sem++ {
		value, ok := raw.Semesters[sem]
		if !ok {
			continue
		}
		if value == models.ReferredValue {
			st.GPA = append(st.GPA, models.GpaEntry{
				Semester:         sem,
				Referred:         true,
				ReferredSubjects: append([]string(nil), raw.RefSubjects...),
			})
			continue
		}
		v, reason := ParseGPA(value)
		if reason != "" {
			o.reject(code, raw.Roll, sem, value, reason)
			continue
		}
		st.GPA = append(st.GPA, models.GpaEntry{Semester: sem, Value: v})
	}

	if raw.CGPA != "" {
		if v, reason := ParseGPA(raw.CGPA); reason != "" {
			o.reject(code, raw.Roll, 0, raw.CGPA, reason)
		} else {
			st.CGPA = &v
		}
	}
	return st
}

func (o *Output) reject(code, roll string, sem int, value, reason string) {
	o.Report.Rejected = append(o.Report.Rejected, Rejection{
		InstituteCode: code,
		Roll:          roll,
		Semester:      sem,
		Value:         value,
		Reason:        reason,
	})
}

// ParseGPA parses a numeric GPA token. The returned reason is empty when the
// value is acceptable.
func ParseGPA(value string) (float64, string) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, "not a number"
	}
	if v < models.MinGPA || v > models.MaxGPA {
		return 0, "out of range"
	}
	return v, ""
}

// Operations flattens the output into persistence operations: institutes
// first, then students, then CGPA records.
func (o *Output) Operations() []models.Operation {
	ops := make([]models.Operation, 0, len(o.Institutes)+len(o.Students)+len(o.Cgpa))
	for i := range o.Institutes {
		ops = append(ops, models.Operation{Kind: models.OpInstitute, Institute: &o.Institutes[i]})
	}
	for i := range o.Students {
		ops = append(ops, models.Operation{Kind: models.OpStudent, Student: &o.Students[i]})
	}
	for i := range o.Cgpa {
		ops = append(ops, models.Operation{Kind: models.OpCgpa, Cgpa: &o.Cgpa[i]})
	}
	return ops
}
