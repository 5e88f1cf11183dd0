package ingest

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/starford/gpahub/internal/apperr"
	"github.com/starford/gpahub/internal/models"
	"github.com/starford/gpahub/internal/resolver"
	"github.com/starford/gpahub/internal/store"
	"github.com/starford/gpahub/internal/store/sqlite"
	"github.com/starford/gpahub/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fastConfig writes without pauses or retry delays.
func fastConfig() Config {
	return Config{BatchSize: 5, BatchPause: 0, Workers: 3, ParallelThreshold: 1000, MaxRetries: 1, RetryBackoff: time.Millisecond}
}

// flaky fails the first failures ApplyBatch calls.
type flaky struct {
	*store.Memory
	failures int64
	calls    atomic.Int64
}

func (f *flaky) ApplyBatch(ctx context.Context, ops []models.Operation) error {
	if f.calls.Add(1) <= f.failures {
		return errors.New("write quota exceeded")
	}
	return f.Memory.ApplyBatch(ctx, ops)
}

func ingestSample(t *testing.T, p *Pipeline) *Summary {
	t.Helper()
	sum, err := p.IngestString(context.Background(), testutil.SampleGradesheet, testutil.SampleProgram, testutil.SampleRegulation)
	require.NoError(t, err)
	return sum
}

func TestIngestSummary(t *testing.T) {
	mem := store.NewMemory("main")
	sum := ingestSample(t, New(mem, fastConfig()))

	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, "main", sum.Store)
	assert.Equal(t, ModeSequential, sum.Mode)
	assert.Equal(t, 2, sum.InstitutesFound)
	assert.Equal(t, 9, sum.StudentsFound)
	assert.Equal(t, 35, sum.GpaRecordsFound)
	require.Len(t, sum.Rejected, 1)
	assert.Equal(t, "700018", sum.Rejected[0].Roll)
	assert.Equal(t, 12, sum.Operations)
	assert.Equal(t, 12, sum.Written)
	assert.Zero(t, sum.FailedBatches)
	assert.True(t, sum.Success)

	stats, err := mem.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Stats{Programs: 1, Regulations: 1, Institutes: 2, Students: 9, GpaRecords: 35, CgpaRecords: 1}, stats)
}

func TestIngestThenSearchRoundTrip(t *testing.T) {
	db, _ := testutil.TestSQLite(t, "main")
	ingestSample(t, New(db, fastConfig()))

	plan, err := resolver.NewPlan([]resolver.Source{{Name: "main", Reader: db}}, nil, nil)
	require.NoError(t, err)
	r := resolver.New(plan, nil)

	res, err := r.Resolve(context.Background(), models.Query{Roll: "721942", Regulation: "2016", Program: testutil.SampleProgram})
	require.NoError(t, err)
	assert.Equal(t, "23106", res.Institute.Code)
	assert.Equal(t, "Dhaka Polytechnic Institute", res.Institute.Name)
	require.Len(t, res.Semesters, 4)
	assert.Equal(t, 4, res.Semesters[3].Semester)
	assert.Equal(t, "3.76", res.Semesters[3].GPA)
	assert.True(t, res.Semesters[3].Passed)

	ref, err := r.Resolve(context.Background(), models.Query{Roll: "721943", Regulation: "2016", Program: testutil.SampleProgram})
	require.NoError(t, err)
	sem4 := ref.Semesters[3]
	assert.Equal(t, "ref", sem4.GPA)
	assert.False(t, sem4.Passed)
	assert.Equal(t, []string{"25841(T)", "25931(P)"}, sem4.ReferredSubjects)

	cg, err := r.Resolve(context.Background(), models.Query{Roll: "700017", Regulation: "2016", Program: testutil.SampleProgram})
	require.NoError(t, err)
	assert.Equal(t, []models.CgpaResult{{Label: "Final", CGPA: "3.51"}}, cg.CGPA)
}

func TestIngestIsIdempotent(t *testing.T) {
	mem := store.NewMemory("main")
	p := New(mem, fastConfig())
	ingestSample(t, p)
	first, err := mem.Stats(context.Background())
	require.NoError(t, err)

	ingestSample(t, p)
	second, err := mem.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestIngestParallelMode(t *testing.T) {
	db, path := testutil.TestSQLite(t, "main")
	cfg := fastConfig()
	cfg.ParallelThreshold = 10
	cfg.BatchSize = 2

	sum := ingestSample(t, New(db, cfg, WithConnector(sqlite.Connector("main", path))))
	assert.Equal(t, ModeParallel, sum.Mode)
	assert.Equal(t, 12, sum.Written)
	assert.True(t, sum.Success)

	stats, err := db.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, stats.Students)
	assert.Equal(t, 35, stats.GpaRecords)
}

func TestIngestBelowThresholdStaysSequential(t *testing.T) {
	mem := store.NewMemory("main")
	sum := ingestSample(t, New(mem, fastConfig(), WithConnector(store.MemoryConnector(mem))))
	assert.Equal(t, ModeSequential, sum.Mode)
}

func TestIngestParallelConnectFailure(t *testing.T) {
	mem := store.NewMemory("main")
	cfg := fastConfig()
	cfg.ParallelThreshold = 1
	cfg.BatchSize = 4

	broken := func(context.Context) (store.Store, error) {
		return nil, apperr.ErrStoreUnavailable
	}
	sum := ingestSample(t, New(mem, cfg, WithConnector(broken)))
	assert.False(t, sum.Success)
	assert.Zero(t, sum.Written)
	assert.Equal(t, 3, sum.FailedBatches)
}

func TestIngestRetriesFailedBatch(t *testing.T) {
	f := &flaky{Memory: store.NewMemory("main"), failures: 1}
	cfg := fastConfig()
	cfg.BatchSize = 100

	sum := ingestSample(t, New(f, cfg))
	assert.True(t, sum.Success)
	assert.Equal(t, int64(2), f.calls.Load())
}

func TestIngestRetryExhaustion(t *testing.T) {
	f := &flaky{Memory: store.NewMemory("main"), failures: 1 << 30}
	cfg := fastConfig()
	cfg.MaxRetries = 2

	sum := ingestSample(t, New(f, cfg))
	assert.False(t, sum.Success)
	assert.Zero(t, sum.Written)
	assert.Equal(t, 3, sum.FailedBatches)
	assert.Equal(t, int64(9), f.calls.Load(), "three batches, three attempts each")
}

func TestIngestPacesBatches(t *testing.T) {
	cfg := fastConfig()
	cfg.BatchSize = 4
	cfg.BatchPause = 30 * time.Millisecond

	start := time.Now()
	sum := ingestSample(t, New(store.NewMemory("main"), cfg))
	assert.True(t, sum.Success)
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestIngestEmptyInput(t *testing.T) {
	sum, err := New(store.NewMemory("main"), fastConfig()).
		IngestString(context.Background(), "no results on this page\n", testutil.SampleProgram, "2016")
	require.NoError(t, err)
	assert.False(t, sum.Success)
	assert.Equal(t, ModeNone, sum.Mode)
	assert.Zero(t, sum.Operations)
}

func TestIngestRequiresProgramAndRegulation(t *testing.T) {
	_, err := New(store.NewMemory("main"), fastConfig()).
		Ingest(context.Background(), strings.NewReader(testutil.SampleGradesheet), "", "2016")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestIngestCancelled(t *testing.T) {
	cfg := fastConfig()
	cfg.BatchPause = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := New(store.NewMemory("main"), cfg).
		IngestString(ctx, testutil.SampleGradesheet, testutil.SampleProgram, testutil.SampleRegulation)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sum)
	assert.False(t, sum.Success)
	assert.Zero(t, sum.Written)
}

func TestChunk(t *testing.T) {
	ops := make([]models.Operation, 7)
	sizes := []int{}
	for _, c := range chunk(ops, 3) {
		sizes = append(sizes, len(c))
	}
	assert.Equal(t, []int{3, 3, 1}, sizes)
}

func TestDryRunWritesNothing(t *testing.T) {
	p, err := DryRun(strings.NewReader(testutil.SampleGradesheet), testutil.SampleProgram, testutil.SampleRegulation, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, p.InstitutesFound)
	assert.Equal(t, 9, p.StudentsFound)
	assert.Equal(t, 35, p.GpaRecordsFound)
	assert.Equal(t, 12, p.Operations)
	assert.Len(t, p.Students, 9)
	assert.Len(t, p.Cgpa, 1)
	require.Len(t, p.Rejected, 1)
	assert.Equal(t, "700018", p.Rejected[0].Roll)
	assert.NotNil(t, p.Warnings)
}

func TestDryRunRequiresRegulation(t *testing.T) {
	_, err := DryRun(strings.NewReader(testutil.SampleGradesheet), testutil.SampleProgram, " ", nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}
