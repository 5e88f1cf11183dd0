// Package parser extracts institute and student GPA records from gradesheet text.
//
// The input is the plain-text export of a results gazette: institute header lines
// ("23106 - Dhaka Polytechnic Institute, Dhaka") followed by parenthesized student
// blocks ("721942 (gpa4: 3.76, gpa3: ref, ref_sub: 25841(T))"). Page breaks wrap
// blocks across lines, so the parser keeps a little state between lines and runs
// an ordered chain of recovery rules over each one. It is best-effort: it never
// aborts on a bad line and never validates values.
package parser

import (
	"bufio"
	"io"
	"log/slog"
	"sort"
	"strings"
)

// Result is the outcome of parsing one gradesheet.
type Result struct {
	Institutes map[string]*Institute
	Warnings   []Warning
	Lines      int
}

// Institute groups the students listed under one institute header.
type Institute struct {
	Code     string
	Name     string
	District string
	Students map[string]*Student

	last *Student
}

// Student holds raw semester values exactly as they appeared in the text.
type Student struct {
	Roll string
	// Semesters maps semester number to "ref" or a numeric token.
	Semesters map[int]string
	// CGPA is the raw cumulative value when the block carried one.
	CGPA        string
	RefSubjects []string
	// Pending is the semester whose value was cut off by a line break; 0 when none.
	Pending int
}

// WarningKind classifies a ParseWarning.
type WarningKind string

// Warning kinds.
const (
	WarnSemesterRange     WarningKind = "semester_out_of_range"
	WarnUnattributed      WarningKind = "unattributed_value"
	WarnRollOrder         WarningKind = "roll_order_fallback"
	WarnUnresolvedPending WarningKind = "unresolved_pending"
	WarnRead              WarningKind = "read_error"
)

// Warning is a non-fatal observation about a line that could not be fully recovered.
type Warning struct {
	Line   int         `json:"line"`
	Kind   WarningKind `json:"kind"`
	Detail string      `json:"detail"`
}

// Option configures a parse run.
type Option func(*state)

// WithLogger routes per-line debug output to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *state) {
		if logger != nil {
			s.log = logger
		}
	}
}

const maxLineBytes = 4 << 20

// Parse reads gradesheet text line by line and returns every institute and
// student it could recover. A read failure yields an empty result carrying a
// single warning.
func Parse(r io.Reader, opts ...Option) *Result {
	s := newState(opts...)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		s.lineNo++
		s.processLine(sc.Text())
	}
	if err := sc.Err(); err != nil {
		s.log.Warn("parser: read failed", slog.Int("line", s.lineNo), slog.String("error", err.Error()))
		return &Result{
			Institutes: map[string]*Institute{},
			Lines:      s.lineNo,
			Warnings:   []Warning{{Line: s.lineNo, Kind: WarnRead, Detail: err.Error()}},
		}
	}

	return s.finish()
}

// ParseString is Parse over an in-memory string.
func ParseString(text string, opts ...Option) *Result {
	return Parse(strings.NewReader(text), opts...)
}

// InstituteCodes returns institute codes in ascending order.
func (r *Result) InstituteCodes() []string {
	codes := make([]string, 0, len(r.Institutes))
	for code := range r.Institutes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Counts returns the number of institutes, students and semester values recovered.
func (r *Result) Counts() (institutes, students, gpaRecords int) {
	institutes = len(r.Institutes)
	for _, inst := range r.Institutes {
		students += len(inst.Students)
		for _, st := range inst.Students {
			gpaRecords += len(st.Semesters)
		}
	}
	return institutes, students, gpaRecords
}

// Student looks up a student by institute code and roll.
func (r *Result) Student(code, roll string) (*Student, bool) {
	inst, ok := r.Institutes[code]
	if !ok {
		return nil, false
	}
	st, ok := inst.Students[roll]
	return st, ok
}

// Rolls returns the institute's roll numbers in ascending numeric order.
func (i *Institute) Rolls() []string {
	rolls := make([]string, 0, len(i.Students))
	for roll := range i.Students {
		rolls = append(rolls, roll)
	}
	sort.Slice(rolls, func(a, b int) bool { return rollLess(rolls[a], rolls[b]) })
	return rolls
}

// rollLess compares digit strings numerically without overflow concerns.
func rollLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
