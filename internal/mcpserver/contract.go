package mcpserver

// GradesheetFormat describes the gradesheet text layout that the parser
// recovers results from.
const GradesheetFormat = `# gpahub Gradesheet Format

A gradesheet is the plain text extracted from a board result PDF. One sheet
covers one program and one regulation year; both are passed alongside the text.

## Institute headers

` + "```" + `
23106 - Dhaka Polytechnic Institute, Dhaka
` + "```" + `

- A 5-digit institute code, a dash, the name, a comma, the district.
- Page banners such as ` + "`" + `Page 2 of 1223` + "`" + ` before the header are ignored.
- A header repeated on a later page continues the same institute.

## Student blocks

` + "```" + `
721942 (gpa4: 3.76, gpa3: 3.54, gpa2: 3.34, gpa1: 3.10)
721943 (gpa4: ref, gpa3: 3.00, gpa2: 2.95, gpa1: 3.05, ref_sub: 25841(T), 25931(P))
` + "```" + `

- A 6 to 8 digit roll number followed by ` + "`(`" + ` (or ` + "`{`" + `) opens a block; ` + "`)`" + ` closes it.
- ` + "`gpa<N>: <value>`" + ` with N from 1 to 8. The value is a number or ` + "`ref`" + ` for a referred semester.
- ` + "`cgpa: <value>`" + ` inside a block records the cumulative GPA.
- ` + "`ref_sub:`" + ` lists referred subjects as ` + "`<code>(T)`" + `, ` + "`<code>(P)`" + ` or ` + "`<code>(T,P)`" + `.
- Several blocks may share a line.

## Wrapped lines

Blocks may be cut by line breaks. A ` + "`gpa<N>:`" + ` with no value is completed by
the first number (or ` + "`ref`" + `) at the start of the next line:

` + "```" + `
700014 (gpa4: 3.76, gpa3: 3.54, gpa2:
3.34, gpa1:
3.10)
` + "```" + `

Values that spill over after a closing ` + "`)`" + ` are attributed to the student whose
roll is just below the next roll on the line. Rolls are assumed to increase
down the sheet; when that does not hold, the value falls back to the student
at the start of the line and a warning is reported.

## Validation

- Numeric values outside 0.00 to 4.00 are rejected and reported, not stored.
- A later value for the same roll and semester replaces an earlier one.
- Re-ingesting the same sheet is safe; records are upserted.

Use the ` + "`parse_gradesheet`" + ` tool to preview a sheet before ingesting it.
`
