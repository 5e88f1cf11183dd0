package resultservice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/gpahub/internal/apperr"
	"github.com/starford/gpahub/internal/cache"
	"github.com/starford/gpahub/internal/ingest"
	"github.com/starford/gpahub/internal/models"
	"github.com/starford/gpahub/internal/resolver"
	"github.com/starford/gpahub/internal/store"
	"github.com/starford/gpahub/internal/testutil"
	"github.com/starford/gpahub/internal/webapi"
)

type recordedEvent struct {
	kind string
	data any
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) PublishIngestEvent(kind string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind: kind, data: data})
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.kind
	}
	return out
}

// broken fails every call.
type broken struct{ *store.Memory }

func (broken) Ping(context.Context) error { return errors.New("dial tcp: refused") }

func (broken) Stats(context.Context) (models.Stats, error) {
	return models.Stats{}, errors.New("dial tcp: refused")
}

func (broken) Regulations(context.Context, string) ([]string, error) {
	return nil, errors.New("dial tcp: refused")
}

type fixture struct {
	svc     *Service
	primary *store.Memory
	archive *store.Memory
	cache   *cache.Local
	events  *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	primary := store.NewMemory("primary")
	archive := store.NewMemory("archive")
	require.NoError(t, archive.UpsertInstitute(context.Background(), models.Institute{
		Program: testutil.SampleProgram, RegulationYear: "2010", Code: "23106", Name: "Dhaka Polytechnic Institute", District: "Dhaka",
	}))

	plan, err := resolver.NewPlan(
		[]resolver.Source{{Name: "primary", Reader: primary}, {Name: "archive", Reader: archive}},
		[]string{"archive", "primary"},
		[]webapi.Descriptor{{Name: "hub", Priority: 1, BaseURL: "https://hub.test"}},
	)
	require.NoError(t, err)

	c := cache.NewLocal(time.Minute, 0)
	ev := &recorder{}
	svc := New(Deps{
		Pipeline:       ingest.New(primary, ingest.Config{BatchSize: 100}),
		Resolver:       resolver.New(plan, nil),
		Cache:          c,
		Stores:         []StoreEntry{{Store: primary, Description: "hot store"}, {Store: archive}},
		Events:         ev,
		DefaultProgram: testutil.SampleProgram,
	})
	return &fixture{svc: svc, primary: primary, archive: archive, cache: c, events: ev}
}

func TestIngestThenSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sum, err := f.svc.IngestText(ctx, testutil.SampleGradesheet, "", testutil.SampleRegulation)
	require.NoError(t, err)
	assert.True(t, sum.Success)
	assert.Equal(t, testutil.SampleProgram, sum.Program)
	assert.Equal(t, []string{eventStarted, eventCompleted}, f.events.kinds())

	res, err := f.svc.Search(ctx, "721942", "2016", "")
	require.NoError(t, err)
	assert.Equal(t, "primary", res.Source)
	assert.Equal(t, []string{"archive", "primary"}, res.ProjectsTried)
	assert.Equal(t, "3.76", res.Semesters[3].GPA)
	assert.Equal(t, 1, f.cache.Len())
}

func TestSearchServesFromCacheUntilIngest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.IngestText(ctx, testutil.SampleGradesheet, testutil.SampleProgram, "2016")
	require.NoError(t, err)

	first, err := f.svc.Search(ctx, "721942", "2016", testutil.SampleProgram)
	require.NoError(t, err)
	assert.Equal(t, "3.76", first.Semesters[3].GPA)

	// A direct write bypasses the cache, so the stale value is still served.
	require.NoError(t, f.primary.UpsertGpaRecords(ctx, testutil.SampleProgram, "2016", "23106", "721942",
		[]models.GpaEntry{{Semester: 4, Value: 3.90}}))
	cached, err := f.svc.Search(ctx, "721942", "2016", testutil.SampleProgram)
	require.NoError(t, err)
	assert.Equal(t, "3.76", cached.Semesters[3].GPA)

	// Re-ingesting the partition invalidates it.
	_, err = f.svc.IngestText(ctx, "23106 - Dhaka Polytechnic Institute, Dhaka\n721942 (gpa4: 3.95)\n", testutil.SampleProgram, "2016")
	require.NoError(t, err)
	fresh, err := f.svc.Search(ctx, "721942", "2016", testutil.SampleProgram)
	require.NoError(t, err)
	assert.Equal(t, "3.95", fresh.Semesters[3].GPA)
}

func TestSearchProgramCaseIsExact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.IngestText(ctx, testutil.SampleGradesheet, testutil.SampleProgram, "2016")
	require.NoError(t, err)

	_, err = f.svc.Search(ctx, "721942", "2016", "diploma in engineering")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	warm, err := f.svc.Search(ctx, "721942", "2016", testutil.SampleProgram)
	require.NoError(t, err)
	assert.Equal(t, testutil.SampleProgram, warm.Program)

	// A cached hit for one spelling must not answer another.
	_, err = f.svc.Search(ctx, "721942", "2016", "diploma in engineering")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 1, f.cache.Len())
}

func TestSearchNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Search(context.Background(), "999999", "2016", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	var nf *resolver.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, []string{"archive", "primary", "web_apis"}, nf.Tried)
	assert.Zero(t, f.cache.Len(), "misses are not cached")
}

func TestIngestEmptyPublishesFailure(t *testing.T) {
	f := newFixture(t)
	sum, err := f.svc.IngestText(context.Background(), "nothing here", "", "2016")
	require.NoError(t, err)
	assert.False(t, sum.Success)
	assert.Equal(t, []string{eventStarted, eventFailed}, f.events.kinds())
}

func TestIngestInvalidArgumentPublishesFailure(t *testing.T) {
	f := newFixture(t)
	f.svc.defaultProgram = ""
	_, err := f.svc.IngestText(context.Background(), testutil.SampleGradesheet, "", "2016")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	assert.Equal(t, []string{eventStarted, eventFailed}, f.events.kinds())
}

func TestStores(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []StoreInfo{
		{Name: "primary", Driver: "memory", Description: "hot store", SearchRank: 2, IngestTarget: true},
		{Name: "archive", Driver: "memory", SearchRank: 1},
	}, f.svc.Stores())
	assert.Equal(t, "hub", f.svc.WebAPIs()[0].Name)
}

func TestTestStore(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.svc.TestStore(context.Background(), "primary"))
	assert.ErrorIs(t, f.svc.TestStore(context.Background(), "nope"), apperr.ErrNotFound)

	f.svc.stores = append(f.svc.stores, StoreEntry{Store: broken{store.NewMemory("remote")}})
	assert.ErrorIs(t, f.svc.TestStore(context.Background(), "remote"), apperr.ErrStoreUnavailable)
}

func TestStatsReportsFailuresInline(t *testing.T) {
	f := newFixture(t)
	f.svc.stores = append(f.svc.stores, StoreEntry{Store: broken{store.NewMemory("remote")}})
	_, err := f.svc.IngestText(context.Background(), testutil.SampleGradesheet, "", "2016")
	require.NoError(t, err)

	stats := f.svc.Stats(context.Background())
	require.Len(t, stats, 3)
	assert.Equal(t, 9, stats[0].Stats.Students)
	assert.Equal(t, 1, stats[1].Stats.Institutes)
	assert.Nil(t, stats[2].Stats)
	assert.NotEmpty(t, stats[2].Error)
}

func TestRegulationsUnion(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.IngestText(context.Background(), testutil.SampleGradesheet, "", "2016")
	require.NoError(t, err)
	f.svc.stores = append(f.svc.stores, StoreEntry{Store: broken{store.NewMemory("remote")}})

	regs, err := f.svc.Regulations(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"2010", "2016"}, regs)
}
