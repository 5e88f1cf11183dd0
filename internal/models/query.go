package models

// InstituteInfo is the institute block of a query response.
type InstituteInfo struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	District string `json:"district"`
}

// SemesterResult is one semester line of a query response.
type SemesterResult struct {
	Semester         int      `json:"semester"`
	GPA              string   `json:"gpa"`
	Passed           bool     `json:"passed"`
	ReferredSubjects []string `json:"referred_subjects"`
	PublishedAt      string   `json:"published_at,omitempty"`
}

// CgpaResult is one cumulative GPA line of a query response.
type CgpaResult struct {
	Label       string `json:"label"`
	CGPA        string `json:"cgpa"`
	PublishedAt string `json:"published_at,omitempty"`
}

// QueryResult is the uniform response for a roll/regulation/program lookup,
// regardless of whether it came from a store or a web API.
type QueryResult struct {
	Roll          string           `json:"roll"`
	Regulation    string           `json:"regulation"`
	Program       string           `json:"program"`
	Institute     InstituteInfo    `json:"institute"`
	Semesters     []SemesterResult `json:"results"`
	CGPA          []CgpaResult     `json:"cgpa,omitempty"`
	Source        string           `json:"source"`
	ProjectsTried []string         `json:"projects_tried"`
}

// Query identifies one result lookup.
type Query struct {
	Roll       string `json:"roll"`
	Regulation string `json:"regulation"`
	Program    string `json:"program"`
}
