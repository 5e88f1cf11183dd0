// Package models defines the domain types for gpahub.
package models

import (
	"sort"
	"strconv"
)

// Semester bounds for GPA entries.
const (
	MinSemester = 1
	MaxSemester = 8
)

// GPA range accepted by the normalizer.
const (
	MinGPA = 0.0
	MaxGPA = 4.0
)

// ReferredValue is the textual sentinel for a referred semester.
const ReferredValue = "ref"

// UnknownInstitute is used when a student's institute cannot be resolved.
const UnknownInstitute = "Unknown"

// Institute is an examination centre within a program and regulation year.
type Institute struct {
	Program        string `json:"program"`
	RegulationYear string `json:"regulation"`
	Code           string `json:"code"`
	Name           string `json:"name"`
	District       string `json:"district"`
}

// GpaEntry is one semester result. Referred entries carry no numeric value.
type GpaEntry struct {
	Semester         int      `json:"semester"`
	Value            float64  `json:"value"`
	Referred         bool     `json:"referred"`
	ReferredSubjects []string `json:"referred_subjects,omitempty"`
}

// Display renders the value as it appears in query responses.
func (e GpaEntry) Display() string {
	if e.Referred {
		return ReferredValue
	}
	return FormatGPA(e.Value)
}

// Student is a single examinee keyed by (program, regulation, institute, roll).
type Student struct {
	Program        string     `json:"program"`
	RegulationYear string     `json:"regulation"`
	InstituteCode  string     `json:"institute_code"`
	Roll           string     `json:"roll"`
	GPA            []GpaEntry `json:"gpa"`
	CGPA           *float64   `json:"cgpa,omitempty"`
}

// SortGPA orders the student's entries by semester.
func (s *Student) SortGPA() {
	sort.Slice(s.GPA, func(i, j int) bool { return s.GPA[i].Semester < s.GPA[j].Semester })
}

// CgpaRecord is a cumulative GPA observation for a student.
type CgpaRecord struct {
	Program        string  `json:"program"`
	RegulationYear string  `json:"regulation"`
	InstituteCode  string  `json:"institute_code"`
	Roll           string  `json:"roll"`
	Label          string  `json:"label"`
	CGPA           float64 `json:"cgpa"`
}

// FinalLabel is the label used for the overall CGPA.
const FinalLabel = "Final"

// FormatGPA renders a GPA with two decimals.
func FormatGPA(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
