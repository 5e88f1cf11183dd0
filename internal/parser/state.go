package parser

import (
	"log/slog"
	"sort"
	"strings"
)

// state carries the parser's position across lines: the institute currently
// being read and, through Institute.last, the student touched most recently.
type state struct {
	log     *slog.Logger
	lineNo  int
	result  *Result
	current *Institute
}

func newState(opts ...Option) *state {
	s := &state{
		log:    slog.New(slog.DiscardHandler),
		result: &Result{Institutes: map[string]*Institute{}},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *state) processLine(raw string) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return
	}

	if m := instituteRe.FindStringSubmatch(text); m != nil {
		s.openInstitute(m[1], m[2], m[3])
		return
	}
	if s.current == nil {
		return
	}

	l := &line{no: s.lineNo, text: text, prev: s.current.last}
	for _, r := range ruleChain {
		r.apply(s, l)
	}
}

// openInstitute switches to the institute with code, merging into an
// existing record when the header repeats on a later page.
func (s *state) openInstitute(code, name, district string) {
	inst, ok := s.result.Institutes[code]
	if !ok {
		inst = &Institute{Code: code, Students: map[string]*Student{}}
		s.result.Institutes[code] = inst
		s.log.Debug("parser: institute", slog.Int("line", s.lineNo), slog.String("code", code))
	}
	inst.Name = strings.TrimSpace(name)
	inst.District = strings.TrimSpace(district)
	s.current = inst
}

func (s *state) student(roll string) *Student {
	st, ok := s.current.Students[roll]
	if !ok {
		st = &Student{Roll: roll, Semesters: map[int]string{}}
		s.current.Students[roll] = st
	}
	return st
}

// rollBelow returns the recorded student whose roll is numerically just below next.
func (s *state) rollBelow(next string) *Student {
	var best *Student
	for roll, st := range s.current.Students {
		if !rollLess(roll, next) {
			continue
		}
		if best == nil || rollLess(best.Roll, roll) {
			best = st
		}
	}
	return best
}

func (s *state) warn(l *line, kind WarningKind, detail string) {
	no := s.lineNo
	if l != nil {
		no = l.no
	}
	s.result.Warnings = append(s.result.Warnings, Warning{Line: no, Kind: kind, Detail: detail})
	s.log.Debug("parser: warning",
		slog.Int("line", no),
		slog.String("kind", string(kind)),
		slog.String("detail", detail))
}

func (s *state) finish() *Result {
	s.result.Lines = s.lineNo
	for _, code := range s.result.InstituteCodes() {
		inst := s.result.Institutes[code]
		for _, roll := range inst.Rolls() {
			st := inst.Students[roll]
			st.RefSubjects = dedupe(st.RefSubjects)
			if st.Pending != 0 {
				s.warn(nil, WarnUnresolvedPending, code+"/"+roll)
			}
		}
	}
	return s.result
}

func (st *Student) set(sem int, value string) {
	st.Semesters[sem] = value
	if st.Pending == sem {
		st.Pending = 0
	}
}

func (st *Student) addSubject(code string) {
	st.RefSubjects = append(st.RefSubjects, code)
}

// lowestGap returns the lowest semester missing below the highest known one, or 0.
func (st *Student) lowestGap() int {
	highest := 0
	for sem := range st.Semesters {
		highest = max(highest, sem)
	}
	for sem := 1; sem < highest; sem++ {
		if _, ok := st.Semesters[sem]; !ok {
			return sem
		}
	}
	return 0
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
