// Package resultservice is the application facade shared by the HTTP API, the
// MCP server, the CLI and the inbox watcher.
package resultservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/starford/gpahub/internal/apperr"
	"github.com/starford/gpahub/internal/cache"
	"github.com/starford/gpahub/internal/ingest"
	"github.com/starford/gpahub/internal/metrics"
	"github.com/starford/gpahub/internal/models"
	"github.com/starford/gpahub/internal/resolver"
	"github.com/starford/gpahub/internal/store"
	"github.com/starford/gpahub/internal/webapi"
)

// Events receives ingest lifecycle notifications. *sse.Broker implements it.
type Events interface {
	PublishIngestEvent(kind string, data any)
}

// Ingest event kinds, matching the sse package.
const (
	eventStarted   = "started"
	eventCompleted = "completed"
	eventFailed    = "failed"
)

// StoreEntry is one configured store.
type StoreEntry struct {
	Store       store.Store
	Description string
}

// StoreInfo describes a configured store for listings.
type StoreInfo struct {
	Name        string `json:"name"`
	Driver      string `json:"driver"`
	Description string `json:"description,omitempty"`

	// SearchRank is the 1-based position in the search order; 0 when not searched.
	SearchRank   int  `json:"search_rank"`
	IngestTarget bool `json:"ingest_target"`
}

// StoreStats pairs a store with its record counts, or the error that prevented counting.
type StoreStats struct {
	Name  string        `json:"name"`
	Stats *models.Stats `json:"stats,omitempty"`
	Error string        `json:"error,omitempty"`
}

// Deps wires a Service.
type Deps struct {
	Pipeline *ingest.Pipeline
	Resolver *resolver.Resolver
	Cache    cache.ResultCache
	Stores   []StoreEntry
	Events   Events
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	// DefaultProgram fills in a blank program on searches and ingests.
	DefaultProgram string
}

// Service implements the ingest and search operations.
type Service struct {
	pipeline       *ingest.Pipeline
	resolver       *resolver.Resolver
	cache          cache.ResultCache
	stores         []StoreEntry
	events         Events
	logger         *slog.Logger
	metrics        *metrics.Metrics
	defaultProgram string
}

// New creates a Service. Cache and Events are optional.
func New(d Deps) *Service {
	s := &Service{
		pipeline:       d.Pipeline,
		resolver:       d.Resolver,
		cache:          d.Cache,
		stores:         d.Stores,
		events:         d.Events,
		logger:         d.Logger,
		metrics:        d.Metrics,
		defaultProgram: d.DefaultProgram,
	}
	if s.cache == nil {
		s.cache = cache.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// DefaultProgram returns the program used when a request leaves it blank.
func (s *Service) DefaultProgram() string { return s.defaultProgram }

func (s *Service) program(p string) string {
	if p = strings.TrimSpace(p); p != "" {
		return p
	}
	return s.defaultProgram
}

// Ingest runs the pipeline over r and drops cached results for the touched
// program and regulation.
func (s *Service) Ingest(ctx context.Context, r io.Reader, program, regulation string) (*ingest.Summary, error) {
	program = s.program(program)
	s.publish(eventStarted, map[string]string{"program": program, "regulation": regulation})

	sum, err := s.pipeline.Ingest(ctx, r, program, regulation)
	if sum != nil && sum.Written > 0 {
		if cerr := s.cache.Invalidate(ctx, sum.Program, sum.Regulation); cerr != nil {
			s.logger.Warn("resultservice: cache invalidation failed", slog.String("error", cerr.Error()))
		}
	}

	switch {
	case err != nil:
		s.publish(eventFailed, map[string]string{"program": program, "regulation": regulation, "error": err.Error()})
		return sum, err
	case !sum.Success:
		s.publish(eventFailed, sum)
	default:
		s.publish(eventCompleted, sum)
	}
	return sum, nil
}

// IngestText is Ingest over an in-memory gradesheet.
func (s *Service) IngestText(ctx context.Context, text, program, regulation string) (*ingest.Summary, error) {
	return s.Ingest(ctx, strings.NewReader(text), program, regulation)
}

// Search resolves one result, consulting the cache first. Exhaustive misses
// return a *resolver.NotFoundError.
func (s *Service) Search(ctx context.Context, roll, regulation, program string) (*models.QueryResult, error) {
	q := models.Query{
		Roll:       strings.TrimSpace(roll),
		Regulation: strings.TrimSpace(regulation),
		Program:    s.program(program),
	}

	if res, ok := s.cache.Get(ctx, q); ok {
		s.metrics.CacheResult(true)
		return res, nil
	}
	s.metrics.CacheResult(false)

	res, err := s.resolver.Resolve(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, q, res); err != nil {
		s.logger.Warn("resultservice: cache set failed", slog.String("error", err.Error()))
	}
	return res, nil
}

// Stores lists every configured store with its search rank.
func (s *Service) Stores() []StoreInfo {
	rank := map[string]int{}
	for i, name := range s.resolver.Plan().StoreNames() {
		rank[name] = i + 1
	}
	target := ""
	if s.pipeline != nil && s.pipeline.Target() != nil {
		target = s.pipeline.Target().Name()
	}

	out := make([]StoreInfo, len(s.stores))
	for i, e := range s.stores {
		out[i] = StoreInfo{
			Name:         e.Store.Name(),
			Driver:       e.Store.Driver(),
			Description:  e.Description,
			SearchRank:   rank[e.Store.Name()],
			IngestTarget: e.Store.Name() == target,
		}
	}
	return out
}

// TestStore pings the named store.
func (s *Service) TestStore(ctx context.Context, name string) error {
	st, ok := s.lookup(name)
	if !ok {
		return fmt.Errorf("resultservice: store %q: %w", name, apperr.ErrNotFound)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("resultservice: ping %q: %v: %w", name, err, apperr.ErrStoreUnavailable)
	}
	return nil
}

// SearchOrder returns the store names in the order searches visit them.
func (s *Service) SearchOrder() []string {
	return s.resolver.Plan().StoreNames()
}

// WebAPIs lists the web API fallbacks in priority order.
func (s *Service) WebAPIs() []webapi.Info {
	apis := s.resolver.Plan().WebAPIs()
	out := make([]webapi.Info, len(apis))
	for i, d := range apis {
		out[i] = d.Info()
	}
	return out
}

// Stats counts records in every store. A failing store is reported inline.
func (s *Service) Stats(ctx context.Context) []StoreStats {
	out := make([]StoreStats, 0, len(s.stores))
	for _, e := range s.stores {
		st, err := e.Store.Stats(ctx)
		if err != nil {
			out = append(out, StoreStats{Name: e.Store.Name(), Error: err.Error()})
			continue
		}
		out = append(out, StoreStats{Name: e.Store.Name(), Stats: &st})
	}
	return out
}

// Regulations returns the union of regulation years known to any store for program.
func (s *Service) Regulations(ctx context.Context, program string) ([]string, error) {
	program = s.program(program)
	if program == "" {
		return nil, fmt.Errorf("resultservice: program is required: %w", apperr.ErrInvalidArgument)
	}

	seen := map[string]struct{}{}
	var errs []error
	for _, e := range s.stores {
		regs, err := e.Store.Regulations(ctx, program)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Store.Name(), err))
			continue
		}
		for _, r := range regs {
			seen[r] = struct{}{}
		}
	}
	if len(seen) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Service) lookup(name string) (store.Store, bool) {
	for _, e := range s.stores {
		if e.Store.Name() == name {
			return e.Store, true
		}
	}
	return nil, false
}

func (s *Service) publish(kind string, data any) {
	if s.events != nil {
		s.events.PublishIngestEvent(kind, data)
	}
}
