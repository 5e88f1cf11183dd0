// Package ingest turns gradesheet text into stored records: parse, normalize,
// then write the resulting operations in batches.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/gpahub/internal/metrics"
	"github.com/starford/gpahub/internal/models"
	"github.com/starford/gpahub/internal/normalize"
	"github.com/starford/gpahub/internal/parser"
	"github.com/starford/gpahub/internal/store"
)

// Write modes reported in Summary.Mode.
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
	ModeNone       = "none"
)

// Config tunes batch writes.
type Config struct {
	BatchSize  int
	BatchPause time.Duration
	Workers    int
	// ParallelThreshold is the operation count at which writes switch to the worker pool.
	ParallelThreshold int
	MaxRetries        int
	RetryBackoff      time.Duration
}

// DefaultConfig returns the default batching parameters.
func DefaultConfig() Config {
	return Config{
		BatchSize:         1000,
		BatchPause:        time.Second,
		Workers:           4,
		ParallelThreshold: 10000,
		MaxRetries:        2,
		RetryBackoff:      5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.ParallelThreshold <= 0 {
		c.ParallelThreshold = def.ParallelThreshold
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BatchPause < 0 {
		c.BatchPause = 0
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	return c
}

// Summary reports one ingest run.
type Summary struct {
	RunID           string                `json:"run_id"`
	Program         string                `json:"program"`
	Regulation      string                `json:"regulation"`
	Store           string                `json:"store"`
	InstitutesFound int                   `json:"institutes_found"`
	StudentsFound   int                   `json:"students_found"`
	GpaRecordsFound int                   `json:"gpa_records_found"`
	Rejected        []normalize.Rejection `json:"rejected"`
	Warnings        []parser.Warning      `json:"warnings"`
	Operations      int                   `json:"operations"`
	Written         int                   `json:"written"`
	FailedBatches   int                   `json:"failed_batches"`
	Mode            string                `json:"mode"`
	Success         bool                  `json:"success"`
	DurationMS      int64                 `json:"duration_ms"`
}

// Pipeline ingests gradesheets into one target store.
type Pipeline struct {
	target  store.Store
	connect store.Connector
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithConnector enables the parallel mode; each worker opens its own
// connection through connect.
func WithConnector(connect store.Connector) Option {
	return func(p *Pipeline) { p.connect = connect }
}

// New returns a pipeline writing to target, which must be non-nil.
func New(target store.Store, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		target: target,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Target returns the store the pipeline writes to.
func (p *Pipeline) Target() store.Store { return p.target }

// Ingest parses r, normalizes it under program and regulation, and writes every
// resulting operation. Failed batches do not abort the run; they leave
// Success false. The error is non-nil only for invalid arguments or a
// cancelled context.
func (p *Pipeline) Ingest(ctx context.Context, r io.Reader, program, regulation string) (*Summary, error) {
	start := time.Now()
	sum := &Summary{
		RunID:      uuid.NewString(),
		Program:    program,
		Regulation: regulation,
		Store:      p.target.Name(),
		Mode:       ModeNone,
		Rejected:   []normalize.Rejection{},
		Warnings:   []parser.Warning{},
	}
	log := p.logger.With(slog.String("run_id", sum.RunID), slog.String("store", sum.Store))

	parsed := parser.Parse(r, parser.WithLogger(log))
	out, err := normalize.Normalize(parsed, program, regulation)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	sum.Program, sum.Regulation = out.Program, out.Regulation
	sum.Warnings = append(sum.Warnings, parsed.Warnings...)
	sum.Rejected = append(sum.Rejected, out.Report.Rejected...)
	sum.InstitutesFound = out.Report.Institutes
	sum.StudentsFound = out.Report.Students
	sum.GpaRecordsFound = out.Report.GpaRecords

	ops := out.Operations()
	sum.Operations = len(ops)
	log.Info("ingest: parsed",
		slog.Int("lines", parsed.Lines),
		slog.Int("institutes", sum.InstitutesFound),
		slog.Int("students", sum.StudentsFound),
		slog.Int("gpa_records", sum.GpaRecordsFound),
		slog.Int("rejected", len(sum.Rejected)),
		slog.Int("warnings", len(sum.Warnings)),
	)

	if len(ops) == 0 {
		log.Warn("ingest: nothing to write")
		sum.DurationMS = time.Since(start).Milliseconds()
		p.metrics.ObserveIngest(false, 0, len(sum.Rejected), time.Since(start))
		return sum, nil
	}

	var res writeResult
	if p.connect != nil && len(ops) >= p.cfg.ParallelThreshold {
		sum.Mode = ModeParallel
		res = p.writeParallel(ctx, log, ops)
	} else {
		sum.Mode = ModeSequential
		res = p.writeSequential(ctx, log, ops)
	}
	sum.Written = res.written
	sum.FailedBatches = res.failed
	sum.Success = res.err == nil && res.written == len(ops)

	elapsed := time.Since(start)
	sum.DurationMS = elapsed.Milliseconds()
	p.metrics.ObserveIngest(sum.Success, sum.Written, len(sum.Rejected), elapsed)

	rate := 0.0
	if elapsed > 0 {
		rate = float64(sum.Written) / elapsed.Seconds()
	}
	log.Info("ingest: completed",
		slog.String("mode", sum.Mode),
		slog.Int("written", sum.Written),
		slog.Int("operations", sum.Operations),
		slog.Int("failed_batches", sum.FailedBatches),
		slog.Bool("success", sum.Success),
		slog.Float64("ops_per_second", rate),
		slog.Duration("duration", elapsed),
	)

	if res.err != nil {
		return sum, fmt.Errorf("ingest: %w", res.err)
	}
	return sum, nil
}

// IngestString is Ingest over an in-memory gradesheet.
func (p *Pipeline) IngestString(ctx context.Context, text, program, regulation string) (*Summary, error) {
	return p.Ingest(ctx, stringReader(text), program, regulation)
}

type writeResult struct {
	written int
	failed  int
	// err is set only when the context ended the run.
	err error
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func chunk(ops []models.Operation, size int) [][]models.Operation {
	var out [][]models.Operation
	for i := 0; i < len(ops); i += size {
		out = append(out, ops[i:min(i+size, len(ops))])
	}
	return out
}
