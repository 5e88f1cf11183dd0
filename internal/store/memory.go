package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/patrickmn/go-cache"

	"github.com/starford/gpahub/internal/apperr"
	"github.com/starford/gpahub/internal/models"
)

const (
	prefixInstitute = "inst"
	prefixStudent   = "stu"
	prefixCgpa      = "cgpa"
)

// Memory is a process-local store backed by a non-expiring go-cache. It is
// used for development and as a fast first tier in front of remote stores.
type Memory struct {
	name  string
	items *cache.Cache
	// mu serialises read-modify-write sequences; single reads go straight to the cache.
	mu sync.Mutex
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory(name string) *Memory {
	return &Memory{name: name, items: cache.New(cache.NoExpiration, 0)}
}

// MemoryConnector returns a Connector that hands out m itself.
func MemoryConnector(m *Memory) Connector {
	return func(context.Context) (Store, error) { return nopCloser{m}, nil }
}

type nopCloser struct{ *Memory }

func (nopCloser) Close() error { return nil }

func key(parts ...string) string { return strings.Join(parts, "|") }

func (m *Memory) Name() string   { return m.name }
func (m *Memory) Driver() string { return DriverMemory }

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.items.Flush()
	return nil
}

func (m *Memory) UpsertInstitute(_ context.Context, inst models.Institute) error {
	m.items.Set(key(prefixInstitute, inst.Program, inst.RegulationYear, inst.Code), inst, cache.NoExpiration)
	return nil
}

// students returns the per-roll map keyed by institute code.
func (m *Memory) students(program, regulation, roll string) map[string]models.Student {
	if v, ok := m.items.Get(key(prefixStudent, program, regulation, roll)); ok {
		return v.(map[string]models.Student)
	}
	return nil
}

func (m *Memory) UpsertStudent(_ context.Context, st models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byCode := cloneStudents(m.students(st.Program, st.RegulationYear, st.Roll))
	existing, ok := byCode[st.InstituteCode]
	if ok {
		st.GPA = existing.GPA
		if st.CGPA == nil {
			st.CGPA = existing.CGPA
		}
	} else {
		st.GPA = nil
	}
	byCode[st.InstituteCode] = st
	m.items.Set(key(prefixStudent, st.Program, st.RegulationYear, st.Roll), byCode, cache.NoExpiration)
	return nil
}

func (m *Memory) UpsertGpaRecords(_ context.Context, program, regulation, code, roll string, entries []models.GpaEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byCode := cloneStudents(m.students(program, regulation, roll))
	st, ok := byCode[code]
	if !ok {
		return fmt.Errorf("store: memory: gpa for unknown student %s/%s: %w", code, roll, apperr.ErrNotFound)
	}

	merged := make(map[int]models.GpaEntry, len(st.GPA)+len(entries))
	for _, e := range st.GPA {
		merged[e.Semester] = e
	}
	for _, e := range entries {
		merged[e.Semester] = e
	}
	st.GPA = make([]models.GpaEntry, 0, len(merged))
	for _, e := range merged {
		st.GPA = append(st.GPA, e)
	}
	st.SortGPA()

	byCode[code] = st
	m.items.Set(key(prefixStudent, program, regulation, roll), byCode, cache.NoExpiration)
	return nil
}

func (m *Memory) UpsertCgpa(_ context.Context, rec models.CgpaRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(prefixCgpa, rec.Program, rec.RegulationYear, rec.InstituteCode, rec.Roll)
	var records []models.CgpaRecord
	if v, ok := m.items.Get(k); ok {
		for _, r := range v.([]models.CgpaRecord) {
			if r.Label != rec.Label {
				records = append(records, r)
			}
		}
	}
	records = append(records, rec)
	m.items.Set(k, records, cache.NoExpiration)
	return nil
}

func (m *Memory) ApplyBatch(ctx context.Context, ops []models.Operation) error {
	for _, op := range ops {
		if err := Apply(ctx, m, op); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) FindStudent(_ context.Context, program, regulation, roll string) (*models.Student, error) {
	byCode := m.students(program, regulation, roll)
	if len(byCode) == 0 {
		return nil, fmt.Errorf("store: memory: student %s: %w", roll, apperr.ErrNotFound)
	}
	codes := make([]string, 0, len(byCode))
	for code := range byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	st := byCode[codes[0]]
	st.GPA = append([]models.GpaEntry(nil), st.GPA...)
	return &st, nil
}

func (m *Memory) FindInstitute(_ context.Context, program, regulation, code string) (*models.Institute, error) {
	v, ok := m.items.Get(key(prefixInstitute, program, regulation, code))
	if !ok {
		return nil, fmt.Errorf("store: memory: institute %s: %w", code, apperr.ErrNotFound)
	}
	inst := v.(models.Institute)
	return &inst, nil
}

func (m *Memory) FindCgpa(_ context.Context, program, regulation, code, roll string) ([]models.CgpaRecord, error) {
	v, ok := m.items.Get(key(prefixCgpa, program, regulation, code, roll))
	if !ok {
		return nil, nil
	}
	return append([]models.CgpaRecord(nil), v.([]models.CgpaRecord)...), nil
}

func (m *Memory) Regulations(_ context.Context, program string) ([]string, error) {
	prefix := key(prefixInstitute, program) + "|"
	seen := map[string]struct{}{}
	for k, item := range m.items.Items() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		seen[item.Object.(models.Institute).RegulationYear] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Stats(context.Context) (models.Stats, error) {
	var s models.Stats
	programs := map[string]struct{}{}
	regulations := map[string]struct{}{}
	for k, item := range m.items.Items() {
		switch {
		case strings.HasPrefix(k, prefixInstitute+"|"):
			inst := item.Object.(models.Institute)
			programs[inst.Program] = struct{}{}
			regulations[inst.Program+"|"+inst.RegulationYear] = struct{}{}
			s.Institutes++
		case strings.HasPrefix(k, prefixStudent+"|"):
			for _, st := range item.Object.(map[string]models.Student) {
				s.Students++
				s.GpaRecords += len(st.GPA)
			}
		case strings.HasPrefix(k, prefixCgpa+"|"):
			s.CgpaRecords += len(item.Object.([]models.CgpaRecord))
		}
	}
	s.Programs = len(programs)
	s.Regulations = len(regulations)
	return s, nil
}

func cloneStudents(in map[string]models.Student) map[string]models.Student {
	out := make(map[string]models.Student, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
