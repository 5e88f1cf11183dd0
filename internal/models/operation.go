package models

// OperationKind identifies the record an Operation persists.
type OperationKind string

// Operation kinds.
const (
	OpInstitute OperationKind = "institute"
	OpStudent   OperationKind = "student"
	OpCgpa      OperationKind = "cgpa"
)

// Operation is one persistence step emitted by normalization.
// Exactly one of the payload fields is set, matching Kind.
type Operation struct {
	Kind      OperationKind `json:"kind"`
	Institute *Institute    `json:"institute,omitempty"`
	Student   *Student      `json:"student,omitempty"`
	Cgpa      *CgpaRecord   `json:"cgpa,omitempty"`
}

// Stats summarises the records held by one store.
type Stats struct {
	Programs    int `json:"programs"`
	Regulations int `json:"regulations"`
	Institutes  int `json:"institutes"`
	Students    int `json:"students"`
	GpaRecords  int `json:"gpa_records"`
	CgpaRecords int `json:"cgpa_records"`
}
