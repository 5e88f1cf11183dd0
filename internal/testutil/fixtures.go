package testutil

// Program and regulation used by SampleGradesheet fixtures.
const (
	SampleProgram    = "Diploma in Engineering"
	SampleRegulation = "2016"
)

// SampleGradesheet is a two-institute gradesheet excerpt covering wrapped
// blocks, referred semesters, CGPA tokens, gap inference and a value that
// fails range validation.
const SampleGradesheet = `Bangladesh Technical Education Board
Diploma in Engineering 4th Semester Examination Result
Page 1 of 3
23106 - Dhaka Polytechnic Institute, Dhaka
721942 (gpa4: 3.76, gpa3: 3.54, gpa2: 3.34, gpa1: 3.10)
721943 (gpa4: ref, gpa3: 3.00, gpa2: 2.95, gpa1: 3.05, ref_sub: 25841(T), 25931(P))

Page 2 of 3
66712 - Barisal Polytechnic Institute, Barisal
700014 (gpa4: 3.76, gpa3: 3.54, gpa2:
3.34, gpa1:
3.10)
700015 (gpa4: 3.20, gpa3: 3.41, gpa2: 3.05, gpa1: 3.36)700016 (gpa4: ref, gpa3: 2.90,
gpa2: 3.00, gpa1: 3.15, ref_sub: 66641(T) }
700017 (gpa4: 3.50, gpa3: 3.62, gpa2: 3.44, cgpa: 3.51
3.22)
Page 3 of 3
66712 - Barisal Polytechnic Institute, Barisal
700018 (gpa4: 4.85, gpa3: 3.10, gpa2: 3.00, gpa1: 2.90)
700019 (gpa4: 3.00, gpa3: 3.10, gpa2: 3.20,
gpa1: 3.30)700020 (gpa4: 3.90, gpa3: 3.80, gpa2: 3.70, gpa1: 3.60)
`
