package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/starford/gpahub/internal/apperr"
	"github.com/starford/gpahub/internal/models"
)

const userAgent = "BTEB-Results-App/1.0"

// maxBody caps the response size read from an external API.
const maxBody = 2 << 20

// Client performs one GET per descriptor.
type Client struct {
	http   *http.Client
	logger *slog.Logger
}

// NewClient wraps httpClient; a nil client uses a fresh http.Client.
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{http: httpClient, logger: logger}
}

// Fetch queries d for q. It returns apperr.ErrNotFound for a 404 or an empty
// result list, apperr.ErrTimeout when d's timeout elapses, and
// apperr.ErrExternalAPI for anything else that is not a usable 200.
func (c *Client) Fetch(ctx context.Context, d Descriptor, q models.Query) (*models.QueryResult, error) {
	target, err := d.URL(q)
	if err != nil {
		return nil, fmt.Errorf("webapi: %s: build url: %w: %w", d.Name, err, apperr.ErrExternalAPI)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("webapi: %s: new request: %w: %w", d.Name, err, apperr.ErrExternalAPI)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("webapi: %s: %w", d.Name, apperr.ErrTimeout)
		}
		return nil, fmt.Errorf("webapi: %s: %w: %w", d.Name, err, apperr.ErrExternalAPI)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("webapi: %s: roll %s: %w", d.Name, q.Roll, apperr.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("webapi: %s: status %d: %w", d.Name, resp.StatusCode, apperr.ErrExternalAPI)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("webapi: %s: read body: %w", d.Name, apperr.ErrTimeout)
		}
		return nil, fmt.Errorf("webapi: %s: read body: %w: %w", d.Name, err, apperr.ErrExternalAPI)
	}

	var payload response
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("webapi: %s: decode: %w: %w", d.Name, err, apperr.ErrExternalAPI)
	}
	if payload.Success != nil && !*payload.Success || len(payload.ResultData) == 0 {
		return nil, fmt.Errorf("webapi: %s: roll %s: empty result: %w", d.Name, q.Roll, apperr.ErrNotFound)
	}

	c.logger.Debug("webapi: result found", slog.String("api", d.Name), slog.String("roll", q.Roll))
	return payload.toResult(d, q), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// response is the result hub JSON shape.
type response struct {
	Success       *bool  `json:"success"`
	Roll          flex   `json:"roll"`
	Exam          string `json:"exam"`
	Regulation    flex   `json:"regulation"`
	InstituteData struct {
		Code     flex   `json:"code"`
		Name     string `json:"name"`
		District string `json:"district"`
	} `json:"instituteData"`
	ResultData []struct {
		Semester    flex            `json:"semester"`
		Result      json.RawMessage `json:"result"`
		Passed      *bool           `json:"passed"`
		PublishedAt string          `json:"publishedAt"`
	} `json:"resultData"`
	CgpaData []struct {
		Semester    flex   `json:"semester"`
		CGPA        flex   `json:"cgpa"`
		PublishedAt string `json:"publishedAt"`
	} `json:"cgpaData"`
}

func (r response) toResult(d Descriptor, q models.Query) *models.QueryResult {
	out := &models.QueryResult{
		Roll:       firstNonEmpty(string(r.Roll), q.Roll),
		Regulation: firstNonEmpty(string(r.Regulation), q.Regulation),
		Program:    q.Program,
		Institute: models.InstituteInfo{
			Code:     firstNonEmpty(string(r.InstituteData.Code), "00000"),
			Name:     firstNonEmpty(r.InstituteData.Name, models.UnknownInstitute),
			District: firstNonEmpty(r.InstituteData.District, models.UnknownInstitute),
		},
		Source: d.Source(),
	}

	for _, rd := range r.ResultData {
		sem, err := strconv.Atoi(strings.TrimSpace(string(rd.Semester)))
		if err != nil {
			continue
		}
		gpa, subjects := decodeResult(rd.Result)
		passed := gpa != models.ReferredValue
		if rd.Passed != nil {
			passed = *rd.Passed && passed
		}
		if !passed && gpa != models.ReferredValue {
			gpa = models.ReferredValue
		}
		if subjects == nil {
			subjects = []string{}
		}
		out.Semesters = append(out.Semesters, models.SemesterResult{
			Semester:         sem,
			GPA:              gpa,
			Passed:           passed,
			ReferredSubjects: subjects,
			PublishedAt:      rd.PublishedAt,
		})
	}
	sort.Slice(out.Semesters, func(i, j int) bool { return out.Semesters[i].Semester < out.Semesters[j].Semester })

	for _, cd := range r.CgpaData {
		label := string(cd.Semester)
		if label == "" {
			label = models.FinalLabel
		}
		out.CGPA = append(out.CGPA, models.CgpaResult{Label: label, CGPA: string(cd.CGPA), PublishedAt: cd.PublishedAt})
	}
	return out
}

// decodeResult accepts "3.76", 3.76, "ref" or {"gpa": ..., "ref_subjects": [...]}.
func decodeResult(raw json.RawMessage) (string, []string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var obj struct {
			GPA         flex     `json:"gpa"`
			RefSubjects []string `json:"ref_subjects"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil {
			return normalizeGPA(string(obj.GPA)), obj.RefSubjects
		}
		return models.ReferredValue, nil
	}
	var f flex
	if err := json.Unmarshal(raw, &f); err != nil {
		return models.ReferredValue, nil
	}
	return normalizeGPA(string(f)), nil
}

func normalizeGPA(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, models.ReferredValue) {
		return models.ReferredValue
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return models.FormatGPA(f)
	}
	return models.ReferredValue
}

// flex decodes a JSON string or number into its textual form.
type flex string

func (f *flex) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flex(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flex(n.String())
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
