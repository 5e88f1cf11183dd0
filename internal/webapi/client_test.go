package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/gpahub/internal/apperr"
	"github.com/starford/gpahub/internal/models"
)

const hubResponse = `{
	"success": true,
	"roll": "721942",
	"exam": "diploma-in-engineering",
	"regulation": 2016,
	"instituteData": {"code": "23106", "name": "Dhaka Polytechnic Institute", "district": "Dhaka"},
	"resultData": [
		{"semester": "2", "result": "3.45", "passed": true, "publishedAt": "2020-01-12"},
		{"semester": 1, "result": 3.2},
		{"semester": "3", "result": "ref", "passed": false},
		{"semester": "4", "result": {"gpa": "ref", "ref_subjects": ["25841(T)"]}}
	]
}`

func newMockClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	return NewClient(&http.Client{Transport: mock}, nil), mock
}

func hubDescriptor() Descriptor {
	return Descriptor{
		Name:     "hub",
		BaseURL:  "https://results.test/api/",
		Endpoint: "/results/individual/{roll}",
		Params:   map[string]string{"exam": "diploma-in-engineering", "regulation": "{regulation}"},
		Timeout:  time.Second,
	}
}

var query = models.Query{Roll: "721942", Regulation: "2016", Program: "Diploma in Engineering"}

func TestDescriptorURL(t *testing.T) {
	got, err := hubDescriptor().URL(query)
	require.NoError(t, err)
	assert.Equal(t, "https://results.test/api/results/individual/721942?exam=diploma-in-engineering&regulation=2016", got)
}

func TestDescriptorInfoOmitsParams(t *testing.T) {
	d := hubDescriptor()
	d.Params["api_key"] = "k-123"
	info := d.Info()
	assert.Equal(t, Info{
		Name:     "hub",
		BaseURL:  "https://results.test/api/",
		Endpoint: "/results/individual/{roll}",
		Timeout:  "1s",
	}, info)

	out, err := json.Marshal(info)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "k-123")

	assert.Equal(t, DefaultTimeout.String(), Descriptor{Name: "bare"}.Info().Timeout)
}

func TestSortByPriority(t *testing.T) {
	ds := []Descriptor{{Name: "c", Priority: 3}, {Name: "a", Priority: 1}, {Name: "b", Priority: 1}}
	sorted := SortByPriority(ds)

	names := make([]string, len(sorted))
	for i, d := range sorted {
		names[i] = d.Name
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
	assert.Equal(t, "c", ds[0].Name, "input must not be reordered")
}

func TestFetchConvertsResponse(t *testing.T) {
	c, mock := newMockClient(t)
	mock.RegisterResponder("GET", `=~^https://results\.test/api/results/individual/721942`,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, userAgent, req.Header.Get("User-Agent"))
			assert.Equal(t, "application/json", req.Header.Get("Accept"))
			assert.Equal(t, "2016", req.URL.Query().Get("regulation"))
			return httpmock.NewStringResponse(http.StatusOK, hubResponse), nil
		})

	res, err := c.Fetch(context.Background(), hubDescriptor(), query)
	require.NoError(t, err)

	assert.Equal(t, "web_api_hub", res.Source)
	assert.Equal(t, "721942", res.Roll)
	assert.Equal(t, "2016", res.Regulation)
	assert.Equal(t, models.InstituteInfo{Code: "23106", Name: "Dhaka Polytechnic Institute", District: "Dhaka"}, res.Institute)

	require.Len(t, res.Semesters, 4)
	assert.Equal(t, models.SemesterResult{Semester: 1, GPA: "3.20", Passed: true, ReferredSubjects: []string{}}, res.Semesters[0])
	assert.Equal(t, "3.45", res.Semesters[1].GPA)
	assert.Equal(t, "2020-01-12", res.Semesters[1].PublishedAt)
	assert.False(t, res.Semesters[2].Passed)
	assert.Equal(t, "ref", res.Semesters[2].GPA)
	assert.False(t, res.Semesters[3].Passed)
	assert.Equal(t, []string{"25841(T)"}, res.Semesters[3].ReferredSubjects)
}

func TestFetchDefaultsUnknownInstitute(t *testing.T) {
	c, mock := newMockClient(t)
	mock.RegisterResponder("GET", `=~^https://results\.test/`,
		httpmock.NewStringResponder(http.StatusOK, `{"resultData": [{"semester": 1, "result": "2.90"}]}`))

	res, err := c.Fetch(context.Background(), hubDescriptor(), query)
	require.NoError(t, err)
	assert.Equal(t, "00000", res.Institute.Code)
	assert.Equal(t, models.UnknownInstitute, res.Institute.Name)
	assert.Equal(t, query.Roll, res.Roll)
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		want      error
	}{
		{name: "not found", responder: httpmock.NewStringResponder(http.StatusNotFound, ""), want: apperr.ErrNotFound},
		{name: "empty result", responder: httpmock.NewStringResponder(http.StatusOK, `{"success": true, "resultData": []}`), want: apperr.ErrNotFound},
		{name: "unsuccessful", responder: httpmock.NewStringResponder(http.StatusOK, `{"success": false, "resultData": [{"semester": 1, "result": "3.00"}]}`), want: apperr.ErrNotFound},
		{name: "server error", responder: httpmock.NewStringResponder(http.StatusBadGateway, "oops"), want: apperr.ErrExternalAPI},
		{name: "bad json", responder: httpmock.NewStringResponder(http.StatusOK, "<html>"), want: apperr.ErrExternalAPI},
		{name: "network", responder: httpmock.NewErrorResponder(errors.New("connection refused")), want: apperr.ErrExternalAPI},
		{name: "timeout", responder: httpmock.NewErrorResponder(context.DeadlineExceeded), want: apperr.ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mock := newMockClient(t)
			mock.RegisterResponder("GET", `=~^https://results\.test/`, tt.responder)

			_, err := c.Fetch(context.Background(), hubDescriptor(), query)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}
