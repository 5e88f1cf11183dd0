package resolver

import (
	"fmt"
	"time"

	"github.com/starford/gpahub/internal/apperr"
	"github.com/starford/gpahub/internal/store"
	"github.com/starford/gpahub/internal/webapi"
)

// Source is one named store the resolver may search.
type Source struct {
	Name   string
	Reader store.Reader
	// Timeout bounds each call to this store; zero uses the resolver default.
	Timeout time.Duration
}

// Plan is the immutable search configuration: stores in search order and web
// APIs in priority order. It is built once and shared by concurrent resolves.
type Plan struct {
	stores []Source
	apis   []webapi.Descriptor
}

// NewPlan orders sources by searchOrder. An empty searchOrder keeps the
// declaration order. Every name in searchOrder must match a source, and
// sources missing from a non-empty searchOrder are not searched.
func NewPlan(sources []Source, searchOrder []string, apis []webapi.Descriptor) (*Plan, error) {
	byName := make(map[string]Source, len(sources))
	for _, s := range sources {
		if s.Name == "" || s.Reader == nil {
			return nil, fmt.Errorf("resolver: source %q: name and reader are required: %w", s.Name, apperr.ErrInvalidArgument)
		}
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("resolver: duplicate source %q: %w", s.Name, apperr.ErrInvalidArgument)
		}
		byName[s.Name] = s
	}

	p := &Plan{apis: webapi.SortByPriority(apis)}
	if len(searchOrder) == 0 {
		p.stores = append([]Source(nil), sources...)
		return p, nil
	}

	seen := make(map[string]bool, len(searchOrder))
	for _, name := range searchOrder {
		s, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("resolver: search order names unknown store %q: %w", name, apperr.ErrInvalidArgument)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		p.stores = append(p.stores, s)
	}
	return p, nil
}

// StoreNames returns the store names in search order.
func (p *Plan) StoreNames() []string {
	names := make([]string, len(p.stores))
	for i, s := range p.stores {
		names[i] = s.Name
	}
	return names
}

// WebAPIs returns the web API descriptors in priority order.
func (p *Plan) WebAPIs() []webapi.Descriptor {
	out := make([]webapi.Descriptor, len(p.apis))
	copy(out, p.apis)
	return out
}
