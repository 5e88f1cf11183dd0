package api

import (
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/gpahub/internal/ingest"
	"github.com/starford/gpahub/internal/models"
	"github.com/starford/gpahub/internal/resultservice"
	"github.com/starford/gpahub/internal/webapi"
)

var (
	rollPattern       = regexp.MustCompile(`^\d{6,8}$`)
	regulationPattern = regexp.MustCompile(`^\d{4}$`)
)

// SearchRequest is the request body for POST /api/search-result.
// Program may be blank when the server has a default program.
type SearchRequest struct {
	RollNo     string `json:"rollNo" example:"721942" validate:"required"`
	Regulation string `json:"regulation" example:"2016" validate:"required"`
	Program    string `json:"program" example:"Diploma in Engineering"`
}

// Validate trims and checks the lookup key.
func (r *SearchRequest) Validate() error {
	r.RollNo = strings.TrimSpace(r.RollNo)
	r.Regulation = strings.TrimSpace(r.Regulation)
	r.Program = strings.TrimSpace(r.Program)
	return validation.ValidateStruct(r,
		validation.Field(&r.RollNo, validation.Required, validation.Match(rollPattern).Error("must be 6 to 8 digits")),
		validation.Field(&r.Regulation, validation.Required, validation.Match(regulationPattern).Error("must be a 4 digit year")),
		validation.Field(&r.Program, validation.Length(0, 200)),
	)
}

// IngestRequest is the request body for POST /api/ingest.
type IngestRequest struct {
	Program    string `json:"program" example:"Diploma in Engineering"`
	Regulation string `json:"regulation" example:"2016" validate:"required"`
	Text       string `json:"text" validate:"required"`
}

// Validate checks the ingest target and that there is text to parse.
func (r *IngestRequest) Validate() error {
	r.Program = strings.TrimSpace(r.Program)
	r.Regulation = strings.TrimSpace(r.Regulation)
	return validation.ValidateStruct(r,
		validation.Field(&r.Program, validation.Length(0, 200)),
		validation.Field(&r.Regulation, validation.Required, validation.Match(regulationPattern).Error("must be a 4 digit year")),
		validation.Field(&r.Text, validation.Required),
	)
}

// QueryResult is the search response (aliased from the domain layer).
type QueryResult = models.QueryResult

// IngestSummary is the ingest response (aliased from the domain layer).
type IngestSummary = ingest.Summary

// RegulationsResponse lists the regulation years known for a program.
type RegulationsResponse struct {
	Program     string   `json:"program" example:"Diploma in Engineering" validate:"required"`
	Regulations []string `json:"regulations" example:"2010,2016" validate:"required"`
}

// StatsResponse wraps per-store record counts.
type StatsResponse struct {
	Stores []resultservice.StoreStats `json:"stores" validate:"required"`
}

// StoresResponse wraps the configured store list.
type StoresResponse struct {
	Stores      []resultservice.StoreInfo `json:"stores" validate:"required"`
	SearchOrder []string                  `json:"search_order" validate:"required"`
}

// StoreTestResponse reports a store connection check.
type StoreTestResponse struct {
	Name string `json:"name" example:"primary" validate:"required"`
	OK   bool   `json:"ok" validate:"required"`
}

// WebAPIsResponse wraps the web API fallbacks in priority order.
type WebAPIsResponse struct {
	WebAPIs []webapi.Info `json:"web_apis" validate:"required"`
}

// InboxFile is one gradesheet waiting in, or already ingested from, the inbox.
type InboxFile struct {
	Path       string `json:"path" example:"Diploma in Engineering/2016/sheet.txt"`
	Program    string `json:"program"`
	Regulation string `json:"regulation"`
	Checksum   string `json:"checksum"`
	Ingested   bool   `json:"ingested"`
}

// InboxUploadResponse is returned after a gradesheet is dropped into the inbox.
type InboxUploadResponse struct {
	Path string `json:"path" example:"Diploma in Engineering/2016/sheet.txt" validate:"required"`
	Size int64  `json:"size" example:"12345" validate:"required"`
}
