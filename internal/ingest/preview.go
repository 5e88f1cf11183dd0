package ingest

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/starford/gpahub/internal/models"
	"github.com/starford/gpahub/internal/normalize"
	"github.com/starford/gpahub/internal/parser"
)

// Preview is a dry run of one gradesheet: what would be written, without writing it.
type Preview struct {
	Program         string                `json:"program"`
	Regulation      string                `json:"regulation"`
	Lines           int                   `json:"lines"`
	InstitutesFound int                   `json:"institutes_found"`
	StudentsFound   int                   `json:"students_found"`
	GpaRecordsFound int                   `json:"gpa_records_found"`
	Operations      int                   `json:"operations"`
	Institutes      []models.Institute    `json:"institutes"`
	Students        []models.Student      `json:"students"`
	Cgpa            []models.CgpaRecord   `json:"cgpa"`
	Rejected        []normalize.Rejection `json:"rejected"`
	Warnings        []parser.Warning      `json:"warnings"`
}

// DryRun parses and normalizes r under program and regulation.
func DryRun(r io.Reader, program, regulation string, logger *slog.Logger) (*Preview, error) {
	if logger == nil {
		logger = slog.Default()
	}
	parsed := parser.Parse(r, parser.WithLogger(logger))
	out, err := normalize.Normalize(parsed, program, regulation)
	if err != nil {
		return nil, fmt.Errorf("ingest: dry run: %w", err)
	}

	p := &Preview{
		Program:         out.Program,
		Regulation:      out.Regulation,
		Lines:           parsed.Lines,
		InstitutesFound: out.Report.Institutes,
		StudentsFound:   out.Report.Students,
		GpaRecordsFound: out.Report.GpaRecords,
		Operations:      len(out.Operations()),
		Institutes:      nonNil(out.Institutes),
		Students:        nonNil(out.Students),
		Cgpa:            nonNil(out.Cgpa),
		Rejected:        nonNil(out.Report.Rejected),
		Warnings:        nonNil(parsed.Warnings),
	}
	return p, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
