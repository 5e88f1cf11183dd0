// Package cache memoizes resolved query results. Entries are keyed by
// program, regulation and roll, and are dropped per program/regulation after
// an ingest touches that partition.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/starford/gpahub/internal/models"
)

// Drivers.
const (
	DriverNone  = "none"
	DriverLocal = "local"
	DriverRedis = "redis"
)

// DefaultTTL applies when a cache is created with a non-positive TTL.
const DefaultTTL = 10 * time.Minute

const keyPrefix = "gpahub:result:"

// ResultCache stores QueryResults. Get never fails: backend errors count as misses.
type ResultCache interface {
	Get(ctx context.Context, q models.Query) (*models.QueryResult, bool)
	Set(ctx context.Context, q models.Query, res *models.QueryResult) error
	// Invalidate drops every entry for program and regulation.
	Invalidate(ctx context.Context, program, regulation string) error
	Close() error
}

// Key renders the cache key for q. Program is matched exactly, as the stores
// match it.
func Key(q models.Query) string {
	return partition(q.Program, q.Regulation) + q.Roll
}

func partition(program, regulation string) string {
	return keyPrefix + strings.TrimSpace(program) + "|" + strings.TrimSpace(regulation) + "|"
}

// Nop caches nothing.
type Nop struct{}

func (Nop) Get(context.Context, models.Query) (*models.QueryResult, bool) { return nil, false }

func (Nop) Set(context.Context, models.Query, *models.QueryResult) error { return nil }

func (Nop) Invalidate(context.Context, string, string) error { return nil }

func (Nop) Close() error { return nil }

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
