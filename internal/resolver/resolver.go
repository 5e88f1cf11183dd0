// Package resolver answers result queries by searching stores in a fixed
// order, then external web APIs, and reporting which sources were tried.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/gpahub/internal/apperr"
	"github.com/starford/gpahub/internal/metrics"
	"github.com/starford/gpahub/internal/models"
	"github.com/starford/gpahub/internal/webapi"
)

// WebAPIsTried is the ProjectsTried entry recorded once the web stage runs.
const WebAPIsTried = "web_apis"

// DefaultCallTimeout bounds a single store call.
const DefaultCallTimeout = 5 * time.Second

// State is a resolution phase.
type State string

const (
	StateSearchingStores  State = "searching_stores"
	StateFoundInStore     State = "found_in_store"
	StateSearchingWebAPIs State = "searching_web_apis"
	StateFoundInWebAPI    State = "found_in_web_api"
	StateNotFound         State = "not_found"
)

// Outcome classifies one store or web API call.
type Outcome string

const (
	OutcomeFound   Outcome = "found"
	OutcomeMissing Outcome = "missing"
	// OutcomeFailed is an error other than not-found; it is treated as missing.
	OutcomeFailed Outcome = "failed"
)

// Attempt records one call made while resolving.
type Attempt struct {
	Source  string  `json:"source"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// NotFoundError reports an exhaustive miss. It matches apperr.ErrNotFound.
type NotFoundError struct {
	Query    models.Query
	Tried    []string
	Attempts []Attempt
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("result for roll %s (%s, %s) not found; tried %s",
		e.Query.Roll, e.Query.Program, e.Query.Regulation, strings.Join(e.Tried, ", "))
}

func (e *NotFoundError) Is(target error) bool {
	return target == apperr.ErrNotFound
}

// WebFetcher queries one external API.
type WebFetcher interface {
	Fetch(ctx context.Context, d webapi.Descriptor, q models.Query) (*models.QueryResult, error)
}

// Resolver runs a Plan. It holds no mutable state.
type Resolver struct {
	plan        *Plan
	web         WebFetcher
	callTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithCallTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// New returns a Resolver for plan. web may be nil when the plan has no web APIs.
func New(plan *Plan, web WebFetcher, opts ...Option) *Resolver {
	r := &Resolver{
		plan:        plan,
		web:         web,
		callTimeout: DefaultCallTimeout,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Plan returns the resolver's search plan.
func (r *Resolver) Plan() *Plan { return r.plan }

// Resolve looks q up in every store in search order, then in every web API in
// priority order. Store and API failures are logged and skipped. An exhaustive
// miss returns a *NotFoundError.
func (r *Resolver) Resolve(ctx context.Context, q models.Query) (*models.QueryResult, error) {
	q = cleanQuery(q)
	if q.Roll == "" || q.Regulation == "" || q.Program == "" {
		return nil, fmt.Errorf("resolver: roll, regulation and program are required: %w", apperr.ErrInvalidArgument)
	}

	start := time.Now()
	log := r.logger.With(slog.String("roll", q.Roll), slog.String("regulation", q.Regulation))

	var (
		tried    []string
		attempts []Attempt
	)

	log.Debug("resolver: state", slog.String("state", string(StateSearchingStores)))
	for i, src := range r.plan.stores {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tried = append(tried, src.Name)

		st, outcome, err := r.findStudent(ctx, src, q)
		attempts = append(attempts, attemptOf(src.Name, outcome, err))
		r.metrics.StoreLookup(src.Name, string(outcome))
		if outcome == OutcomeFailed {
			log.Warn("resolver: store lookup failed", slog.String("store", src.Name), slog.String("error", err.Error()))
		}
		if outcome != OutcomeFound {
			continue
		}

		log.Debug("resolver: state", slog.String("state", string(StateFoundInStore)), slog.String("store", src.Name))
		res := r.fromStore(ctx, i, st)
		res.ProjectsTried = tried
		r.metrics.ObserveSearch("store", time.Since(start))
		return res, nil
	}

	log.Debug("resolver: state", slog.String("state", string(StateSearchingWebAPIs)))
	tried = append(tried, WebAPIsTried)
	for _, d := range r.plan.apis {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.web == nil {
			break
		}

		res, err := r.web.Fetch(ctx, d, q)
		outcome := classify(err)
		attempts = append(attempts, attemptOf(d.Source(), outcome, err))
		r.metrics.WebAPICall(d.Name, string(outcome))
		if outcome != OutcomeFound {
			log.Debug("resolver: web api miss", slog.String("api", d.Name), slog.String("outcome", string(outcome)))
			continue
		}

		log.Debug("resolver: state", slog.String("state", string(StateFoundInWebAPI)), slog.String("api", d.Name))
		res.Source = d.Source()
		res.ProjectsTried = tried
		if res.Program == "" {
			res.Program = q.Program
		}
		r.metrics.ObserveSearch("web_api", time.Since(start))
		return res, nil
	}

	log.Info("resolver: state", slog.String("state", string(StateNotFound)))
	r.metrics.ObserveSearch("not_found", time.Since(start))
	return nil, &NotFoundError{Query: q, Tried: tried, Attempts: attempts}
}

func (r *Resolver) callCtx(ctx context.Context, src Source) (context.Context, context.CancelFunc) {
	d := src.Timeout
	if d <= 0 {
		d = r.callTimeout
	}
	return context.WithTimeout(ctx, d)
}

func (r *Resolver) findStudent(ctx context.Context, src Source, q models.Query) (*models.Student, Outcome, error) {
	cctx, cancel := r.callCtx(ctx, src)
	defer cancel()

	st, err := src.Reader.FindStudent(cctx, q.Program, q.Regulation, q.Roll)
	if outcome := classify(err); outcome != OutcomeFound {
		return nil, outcome, err
	}
	if st == nil {
		return nil, OutcomeMissing, nil
	}
	return st, OutcomeFound, nil
}

// fromStore builds the response for a student found in r.plan.stores[hit].
func (r *Resolver) fromStore(ctx context.Context, hit int, st *models.Student) *models.QueryResult {
	src := r.plan.stores[hit]
	res := &models.QueryResult{
		Roll:       st.Roll,
		Regulation: st.RegulationYear,
		Program:    st.Program,
		Institute: models.InstituteInfo{
			Code:     st.InstituteCode,
			Name:     models.UnknownInstitute,
			District: models.UnknownInstitute,
		},
		Semesters: semesters(st),
		Source:    src.Name,
	}

	cctx, cancel := r.callCtx(ctx, src)
	inst, err := src.Reader.FindInstitute(cctx, st.Program, st.RegulationYear, st.InstituteCode)
	cancel()
	if err == nil && inst != nil {
		res.Institute.Name = inst.Name
		res.Institute.District = inst.District
	} else if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		r.logger.Warn("resolver: institute lookup failed", slog.String("store", src.Name), slog.String("error", err.Error()))
	}

	if recs := r.findCgpa(ctx, src, st); len(recs) > 0 {
		res.CGPA = cgpaResults(recs)
		return res
	}
	if st.CGPA != nil {
		res.CGPA = []models.CgpaResult{{Label: models.FinalLabel, CGPA: models.FormatGPA(*st.CGPA)}}
		return res
	}

	// The student's CGPA may have been ingested into a different store.
	for i, other := range r.plan.stores {
		if i == hit {
			continue
		}
		if recs := r.findCgpa(ctx, other, st); len(recs) > 0 {
			res.CGPA = cgpaResults(recs)
			break
		}
	}
	return res
}

func (r *Resolver) findCgpa(ctx context.Context, src Source, st *models.Student) []models.CgpaRecord {
	cctx, cancel := r.callCtx(ctx, src)
	defer cancel()

	recs, err := src.Reader.FindCgpa(cctx, st.Program, st.RegulationYear, st.InstituteCode, st.Roll)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			r.logger.Debug("resolver: cgpa lookup failed", slog.String("store", src.Name), slog.String("error", err.Error()))
		}
		return nil
	}
	return recs
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeFound
	case errors.Is(err, apperr.ErrNotFound):
		return OutcomeMissing
	default:
		return OutcomeFailed
	}
}

func attemptOf(source string, outcome Outcome, err error) Attempt {
	a := Attempt{Source: source, Outcome: outcome}
	if outcome == OutcomeFailed && err != nil {
		a.Error = err.Error()
	}
	return a
}

func semesters(st *models.Student) []models.SemesterResult {
	s := *st
	s.GPA = append([]models.GpaEntry(nil), st.GPA...)
	s.SortGPA()

	out := make([]models.SemesterResult, 0, len(s.GPA))
	for _, e := range s.GPA {
		subjects := append([]string{}, e.ReferredSubjects...)
		out = append(out, models.SemesterResult{
			Semester:         e.Semester,
			GPA:              e.Display(),
			Passed:           !e.Referred,
			ReferredSubjects: subjects,
		})
	}
	return out
}

func cgpaResults(recs []models.CgpaRecord) []models.CgpaResult {
	out := make([]models.CgpaResult, len(recs))
	for i, rec := range recs {
		out[i] = models.CgpaResult{Label: rec.Label, CGPA: models.FormatGPA(rec.CGPA)}
	}
	return out
}

func cleanQuery(q models.Query) models.Query {
	return models.Query{
		Roll:       strings.TrimSpace(q.Roll),
		Regulation: strings.TrimSpace(q.Regulation),
		Program:    strings.TrimSpace(q.Program),
	}
}
