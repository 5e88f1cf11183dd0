package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/starford/gpahub/internal/models"
)

// Local is an in-process cache with per-entry expiry.
type Local struct {
	items *gocache.Cache
}

var _ ResultCache = (*Local)(nil)

// NewLocal creates a cache whose entries live for ttl. Expired entries are
// purged every cleanup; a zero cleanup disables the janitor goroutine.
func NewLocal(ttl, cleanup time.Duration) *Local {
	return &Local{items: gocache.New(ttlOrDefault(ttl), cleanup)}
}

func (l *Local) Get(_ context.Context, q models.Query) (*models.QueryResult, bool) {
	v, ok := l.items.Get(Key(q))
	if !ok {
		return nil, false
	}
	res := v.(models.QueryResult)
	return &res, true
}

func (l *Local) Set(_ context.Context, q models.Query, res *models.QueryResult) error {
	if res == nil {
		return nil
	}
	l.items.SetDefault(Key(q), *res)
	return nil
}

func (l *Local) Invalidate(_ context.Context, program, regulation string) error {
	prefix := partition(program, regulation)
	for k := range l.items.Items() {
		if strings.HasPrefix(k, prefix) {
			l.items.Delete(k)
		}
	}
	return nil
}

func (l *Local) Close() error {
	l.items.Flush()
	return nil
}

// Len reports the number of unexpired entries.
func (l *Local) Len() int { return l.items.ItemCount() }
