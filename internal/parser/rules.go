package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/starford/gpahub/internal/models"
)

var (
	instituteRe = regexp.MustCompile(`(\d{5})\s*-\s*([^,]+),\s*([A-Za-z\s]+)`)
	blockRe     = regexp.MustCompile(`\b(\d{6,8})\s*[({]([^)]*)`)
	gpaTokenRe  = regexp.MustCompile(`(?i)\bgpa(\d+):\s*([\d.]+|ref)?(?:[),}\s]|$)`)
	cgpaTokenRe = regexp.MustCompile(`(?i)\bcgpa:\s*([\d.]+)`)

	// GPA values always have a single integer digit, which keeps page
	// numbers and roll fragments out of the continuation rules.
	leadingValueRe = regexp.MustCompile(`(?i)^(\d(?:\.\d+)?|ref)(?:[),}\s]|$)`)
	beforeRefSubRe = regexp.MustCompile(`(?i)\b(\d(?:\.\d+)?)\s*,\s*ref_sub:`)
	followingRoll  = regexp.MustCompile(`^\)?\s*(\d{6,8})\b`)

	refSubRe   = regexp.MustCompile(`(?i)ref_sub:\s*([^}]*)`)
	subjectRe  = regexp.MustCompile(`\b(\d{4,6})\s*\(\s*([TP](?:\s*,\s*[TP])*)\s*\)`)
	bareCodeRe = regexp.MustCompile(`^\d{4,6}$`)
)

// rule is one named recovery step. Rules run in ruleChain order on every
// line after the institute header check; a span claimed by an earlier rule
// is never attributed again.
type rule struct {
	name  string
	apply func(*state, *line)
}

var ruleChain = []rule{
	{name: "student-blocks", apply: (*state).studentBlocks},
	{name: "pending-continuation", apply: (*state).pendingContinuation},
	{name: "cross-student", apply: (*state).crossStudent},
	{name: "referred-subjects", apply: (*state).referredSubjects},
	{name: "gap-inference", apply: (*state).gapInference},
}

type span struct{ start, end int }

type anchor struct {
	pos     int
	student *Student
}

// line is the per-line cursor shared by the rules.
type line struct {
	no   int
	text string
	// prev is the student that was most recent when the line started.
	prev    *Student
	claimed []span
	anchors []anchor
}

func (l *line) isFree(start, end int) bool {
	for _, c := range l.claimed {
		if start < c.end && c.start < end {
			return false
		}
	}
	return true
}

func (l *line) claim(start, end int) {
	l.claimed = append(l.claimed, span{start: start, end: end})
}

// ownerAt returns the student most recent at byte offset pos: the last block
// opened before pos on this line, or the line-start student.
func (l *line) ownerAt(pos int) *Student {
	owner := l.prev
	for _, a := range l.anchors {
		if a.pos > pos {
			break
		}
		owner = a.student
	}
	return owner
}

// nextAnchor returns the offset of the first block opened after pos.
func (l *line) nextAnchor(pos int) int {
	for _, a := range l.anchors {
		if a.pos > pos {
			return a.pos
		}
	}
	return len(l.text)
}

// studentBlocks opens a record for every "<roll> (" block and reads the
// labeled values inside it.
func (s *state) studentBlocks(l *line) {
	for _, m := range blockRe.FindAllStringSubmatchIndex(l.text, -1) {
		st := s.student(l.text[m[2]:m[3]])
		l.anchors = append(l.anchors, anchor{pos: m[0], student: st})
		l.claim(m[0], m[1])

		blob := l.text[m[4]:m[5]]
		for _, tm := range gpaTokenRe.FindAllStringSubmatch(blob, -1) {
			s.assign(l, st, tm[1], tm[2])
		}
		if cm := cgpaTokenRe.FindStringSubmatch(blob); cm != nil {
			st.CGPA = cm[1]
		}
		s.current.last = st
	}
}

// pendingContinuation completes a semester whose value was pushed onto this line.
func (s *state) pendingContinuation(l *line) {
	st := l.prev
	if st == nil || st.Pending == 0 {
		return
	}
	if m := leadingValueRe.FindStringSubmatchIndex(l.text); m != nil && l.isFree(m[2], m[3]) {
		st.set(st.Pending, strings.ToLower(l.text[m[2]:m[3]]))
		l.claim(m[2], m[3])
		return
	}
	for _, m := range beforeRefSubRe.FindAllStringSubmatchIndex(l.text, -1) {
		if l.isFree(m[2], m[3]) {
			st.set(st.Pending, l.text[m[2]:m[3]])
			l.claim(m[2], m[3])
			return
		}
	}
}

// crossStudent attributes labeled values found outside any block. A value
// followed by a roll number belongs to the student just below that roll;
// this assumes rolls increase monotonically down the page.
func (s *state) crossStudent(l *line) {
	for _, m := range gpaTokenRe.FindAllStringSubmatchIndex(l.text, -1) {
		if !l.isFree(m[0], m[0]+1) {
			continue
		}
		semText := l.text[m[2]:m[3]]
		value, valueEnd := "", m[3]
		if m[4] >= 0 {
			value, valueEnd = l.text[m[4]:m[5]], m[5]
		}

		owner := l.ownerAt(m[0])
		if fm := followingRoll.FindStringSubmatch(l.text[valueEnd:]); fm != nil {
			if below := s.rollBelow(fm[1]); below != nil {
				owner = below
			} else {
				s.warn(l, WarnRollOrder, "no roll below "+fm[1])
				owner = l.prev
			}
		}
		if owner == nil {
			s.warn(l, WarnUnattributed, l.text[m[0]:valueEnd])
			continue
		}
		s.assign(l, owner, semText, value)
		l.claim(m[0], valueEnd)
	}
}

// referredSubjects collects subject codes from ref_sub segments and bare
// "<code>(T)" patterns.
func (s *state) referredSubjects(l *line) {
	for _, m := range subjectRe.FindAllStringSubmatchIndex(l.text, -1) {
		owner := l.ownerAt(m[0])
		if owner == nil {
			continue
		}
		kinds := strings.ReplaceAll(l.text[m[4]:m[5]], " ", "")
		owner.addSubject(l.text[m[2]:m[3]] + "(" + kinds + ")")
	}

	for _, m := range refSubRe.FindAllStringSubmatchIndex(l.text, -1) {
		owner := l.ownerAt(m[0])
		if owner == nil {
			continue
		}
		end := min(m[3], l.nextAnchor(m[0]))
		if end <= m[2] {
			continue
		}
		for _, item := range strings.Split(l.text[m[2]:end], ",") {
			item = strings.Trim(item, " )}")
			if bareCodeRe.MatchString(item) {
				owner.addSubject(item)
			}
		}
	}
}

// gapInference places an unlabeled leading value into the lowest semester
// missing from the line-start student's run.
func (s *state) gapInference(l *line) {
	st := l.prev
	if st == nil {
		return
	}
	m := leadingValueRe.FindStringSubmatchIndex(l.text)
	if m == nil || !l.isFree(m[2], m[3]) {
		return
	}
	value := strings.ToLower(l.text[m[2]:m[3]])
	if sem := st.lowestGap(); sem > 0 {
		st.set(sem, value)
		l.claim(m[2], m[3])
		return
	}
	s.warn(l, WarnUnattributed, value)
}

func (s *state) assign(l *line, st *Student, semText, value string) {
	sem, err := strconv.Atoi(semText)
	if err != nil || sem < models.MinSemester || sem > models.MaxSemester {
		s.warn(l, WarnSemesterRange, "gpa"+semText+" for "+st.Roll)
		return
	}
	if value == "" {
		st.Pending = sem
		return
	}
	st.set(sem, strings.ToLower(value))
}
