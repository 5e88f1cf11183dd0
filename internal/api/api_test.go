package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/starford/gpahub/internal/inbox"
	"github.com/starford/gpahub/internal/ingest"
	"github.com/starford/gpahub/internal/resolver"
	"github.com/starford/gpahub/internal/resultservice"
	"github.com/starford/gpahub/internal/store"
	"github.com/starford/gpahub/internal/testutil"
	"github.com/starford/gpahub/internal/webapi"
)

var quiet = slog.New(slog.NewJSONHandler(io.Discard, nil))

type env struct {
	router   http.Handler
	store    *store.Memory
	inboxDir string
	mock     *httpmock.MockTransport
}

// testEnv builds a router over one memory store and an httpmock-backed web API.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) *env {
	t.Helper()
	return testEnvWithSSE(t, authToken, nil)
}

func testEnvWithSSE(t *testing.T, authToken string, sseHandler http.Handler) *env {
	t.Helper()

	mem := store.NewMemory("main")
	mock := httpmock.NewMockTransport()
	plan, err := resolver.NewPlan(
		[]resolver.Source{{Name: "main", Reader: mem}},
		nil,
		[]webapi.Descriptor{{Name: "hub", BaseURL: "https://results.test", Endpoint: "/results/{roll}", Timeout: time.Second}},
	)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	svc := resultservice.New(resultservice.Deps{
		Pipeline:       ingest.New(mem, ingest.Config{BatchSize: 100}, ingest.WithLogger(quiet)),
		Resolver:       resolver.New(plan, webapi.NewClient(&http.Client{Transport: mock}, quiet), resolver.WithLogger(quiet)),
		Stores:         []resultservice.StoreEntry{{Store: mem, Description: "local"}},
		Logger:         quiet,
		DefaultProgram: testutil.SampleProgram,
	})

	dir := t.TempDir()
	fsys, err := inbox.NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	in, err := inbox.New(fsys, svc, inbox.WithLogger(quiet))
	if err != nil {
		t.Fatalf("inbox.New: %v", err)
	}

	return &env{
		router:   NewRouter(svc, authToken != "", authToken, sseHandler, in),
		store:    mem,
		inboxDir: dir,
		mock:     mock,
	}
}

func (e *env) do(t *testing.T, method, target string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) ingestSample(t *testing.T) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/ingest", map[string]string{
		"regulation": testutil.SampleRegulation,
		"text":       testutil.SampleGradesheet,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("ingest status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestIngestAndSearchResult(t *testing.T) {
	e := testEnv(t, "")

	w := e.do(t, http.MethodPost, "/ingest", map[string]string{
		"program":    testutil.SampleProgram,
		"regulation": testutil.SampleRegulation,
		"text":       testutil.SampleGradesheet,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("ingest status = %d, body = %s", w.Code, w.Body.String())
	}
	var sum IngestSummary
	_ = json.Unmarshal(w.Body.Bytes(), &sum)
	if !sum.Success || sum.StudentsFound != 9 {
		t.Errorf("summary = %+v", sum)
	}

	w = e.do(t, http.MethodPost, "/search-result", map[string]string{
		"rollNo":     "721942",
		"regulation": "2016",
		"program":    testutil.SampleProgram,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d, body = %s", w.Code, w.Body.String())
	}
	var res QueryResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Source != "main" {
		t.Errorf("source = %q, want main", res.Source)
	}
	if res.Institute.Code != "23106" || res.Institute.District != "Dhaka" {
		t.Errorf("institute = %+v", res.Institute)
	}
	if len(res.Semesters) != 4 || res.Semesters[3].GPA != "3.76" || !res.Semesters[3].Passed {
		t.Errorf("semesters = %+v", res.Semesters)
	}
}

func TestSearchByQueryParams(t *testing.T) {
	e := testEnv(t, "")
	e.ingestSample(t)

	w := e.do(t, http.MethodGet, "/search?roll=721943&regulation=2016", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d, body = %s", w.Code, w.Body.String())
	}
	var res QueryResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Program != testutil.SampleProgram {
		t.Errorf("program = %q, want default program", res.Program)
	}
	sem4 := res.Semesters[len(res.Semesters)-1]
	if sem4.GPA != "ref" || sem4.Passed || len(sem4.ReferredSubjects) == 0 {
		t.Errorf("referred semester = %+v", sem4)
	}
}

func TestSearchResult_WebAPIFallback(t *testing.T) {
	e := testEnv(t, "")
	e.mock.RegisterResponder(http.MethodGet, "https://results.test/results/555555",
		httpmock.NewStringResponder(http.StatusOK, `{
			"success": true,
			"roll": "555555",
			"regulation": "2016",
			"instituteData": {"code": "23106", "name": "Dhaka Polytechnic Institute", "district": "Dhaka"},
			"resultData": [{"semester": "1", "result": "3.10", "passed": true}]
		}`))

	w := e.do(t, http.MethodGet, "/search?roll=555555&regulation=2016", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d, body = %s", w.Code, w.Body.String())
	}
	var res QueryResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Source != "web_api_hub" {
		t.Errorf("source = %q, want web_api_hub", res.Source)
	}
	if len(res.ProjectsTried) != 2 || res.ProjectsTried[1] != resolver.WebAPIsTried {
		t.Errorf("projects_tried = %v", res.ProjectsTried)
	}
}

func TestSearchResult_NotFound(t *testing.T) {
	e := testEnv(t, "")
	e.mock.RegisterNoResponder(httpmock.NewStringResponder(http.StatusNotFound, `{"success": false}`))

	w := e.do(t, http.MethodPost, "/search-result", map[string]string{"rollNo": "999999", "regulation": "2016"}, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var body errResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.ProjectsSearched) != 2 || body.ProjectsSearched[0] != "main" || body.ProjectsSearched[1] != "web_apis" {
		t.Errorf("projects_searched = %v", body.ProjectsSearched)
	}
}

func TestSearchResult_Validation(t *testing.T) {
	e := testEnv(t, "")

	tests := []struct {
		name  string
		body  map[string]string
		field string
	}{
		{"missing roll", map[string]string{"regulation": "2016"}, "rollNo"},
		{"short roll", map[string]string{"rollNo": "123", "regulation": "2016"}, "rollNo"},
		{"bad regulation", map[string]string{"rollNo": "721942", "regulation": "16"}, "regulation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/search-result", tt.body, "")
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			var body map[string]any
			_ = json.Unmarshal(w.Body.Bytes(), &body)
			fields, _ := body["fields"].(map[string]any)
			if _, ok := fields[tt.field]; !ok {
				t.Errorf("fields = %v, want %q", fields, tt.field)
			}
		})
	}
}

func TestSearchResult_InvalidJSON(t *testing.T) {
	e := testEnv(t, "")
	req := httptest.NewRequest(http.MethodPost, "/search-result", bytes.NewReader([]byte("{")))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestIngest_NothingParsed(t *testing.T) {
	e := testEnv(t, "")
	w := e.do(t, http.MethodPost, "/ingest", map[string]string{"regulation": "2016", "text": "no results on this page"}, "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	var sum IngestSummary
	_ = json.Unmarshal(w.Body.Bytes(), &sum)
	if sum.Success || sum.Operations != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRegulations(t *testing.T) {
	e := testEnv(t, "")
	e.ingestSample(t)

	w := e.do(t, http.MethodGet, "/regulations/"+"Diploma%20in%20Engineering", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp RegulationsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Regulations) != 1 || resp.Regulations[0] != "2016" {
		t.Errorf("regulations = %v", resp.Regulations)
	}
}

func TestStatsStoresAndWebAPIs(t *testing.T) {
	e := testEnv(t, "")
	e.ingestSample(t)

	w := e.do(t, http.MethodGet, "/stats", nil, "")
	var stats StatsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &stats)
	if len(stats.Stores) != 1 || stats.Stores[0].Stats == nil || stats.Stores[0].Stats.Students != 9 {
		t.Errorf("stats = %s", w.Body.String())
	}

	w = e.do(t, http.MethodGet, "/stores", nil, "")
	var stores StoresResponse
	_ = json.Unmarshal(w.Body.Bytes(), &stores)
	if len(stores.Stores) != 1 || !stores.Stores[0].IngestTarget || stores.Stores[0].SearchRank != 1 {
		t.Errorf("stores = %s", w.Body.String())
	}

	w = e.do(t, http.MethodGet, "/web-apis", nil, "")
	var apis WebAPIsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &apis)
	if len(apis.WebAPIs) != 1 || apis.WebAPIs[0].Name != "hub" || apis.WebAPIs[0].Timeout != "1s" {
		t.Errorf("web apis = %s", w.Body.String())
	}
	if bytes.Contains(w.Body.Bytes(), []byte(`"params"`)) {
		t.Errorf("web api listing exposes params: %s", w.Body.String())
	}
}

func TestTestStore(t *testing.T) {
	e := testEnv(t, "")

	if w := e.do(t, http.MethodGet, "/stores/main/test", nil, ""); w.Code != http.StatusOK {
		t.Errorf("test main = %d, want 200", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/stores/ghost/test", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("test ghost = %d, want 404", w.Code)
	}
}

func upload(t *testing.T, e *env, filename, program, regulation string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("program", program)
	_ = mw.WriteField("regulation", regulation)
	part, _ := mw.CreateFormFile("file", filename)
	_, _ = part.Write([]byte(testutil.SampleGradesheet))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/inbox", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestInboxUpload(t *testing.T) {
	e := testEnv(t, "")

	w := upload(t, e, "sheet.txt", testutil.SampleProgram, "2016")
	if w.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(filepath.Join(e.inboxDir, testutil.SampleProgram, "2016", "sheet.txt")); err != nil {
		t.Fatalf("uploaded file missing: %v", err)
	}

	w = e.do(t, http.MethodGet, "/inbox", nil, "")
	var files []InboxFile
	_ = json.Unmarshal(w.Body.Bytes(), &files)
	if len(files) != 1 || files[0].Regulation != "2016" || files[0].Ingested {
		t.Errorf("inbox = %s", w.Body.String())
	}
}

func TestInboxUpload_Rejected(t *testing.T) {
	e := testEnv(t, "")

	tests := []struct {
		name, filename, program, regulation string
	}{
		{"not text", "sheet.pdf", testutil.SampleProgram, "2016"},
		{"hidden name", "_sheet.txt", testutil.SampleProgram, "2016"},
		{"program with slash", "sheet.txt", "a/b", "2016"},
		{"bad regulation", "sheet.txt", testutil.SampleProgram, "twenty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := upload(t, e, tt.filename, tt.program, tt.regulation); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestTokenAuth_ValidToken(t *testing.T) {
	e := testEnv(t, "secret123")
	w := e.do(t, http.MethodPost, "/ingest", map[string]string{"regulation": "2016", "text": testutil.SampleGradesheet}, "secret123")
	if w.Code != http.StatusOK {
		t.Errorf("authed ingest = %d, want 200", w.Code)
	}
}

func TestTokenAuth_MissingToken(t *testing.T) {
	e := testEnv(t, "secret123")
	w := e.do(t, http.MethodPost, "/ingest", map[string]string{"regulation": "2016", "text": "x"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthed ingest = %d, want 401", w.Code)
	}
	if !strings.Contains(w.Body.String(), "missing bearer token") {
		t.Errorf("body = %s", w.Body.String())
	}
	if got := w.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
		t.Errorf("WWW-Authenticate = %q", got)
	}
}

func TestTokenAuth_WrongToken(t *testing.T) {
	e := testEnv(t, "secret123")
	w := e.do(t, http.MethodGet, "/stores/main/test", nil, "wrong")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d, want 401", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid bearer token") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestTokenAuth_SchemeIsCaseInsensitive(t *testing.T) {
	e := testEnv(t, "secret123")
	req := httptest.NewRequest(http.MethodGet, "/stores/main/test", nil)
	req.Header.Set("Authorization", "bearer secret123")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("lowercase scheme = %d, want 200", w.Code)
	}
}

func TestTokenAuth_QueryTokenOnlyForStream(t *testing.T) {
	e := testEnv(t, "secret123")
	w := e.do(t, http.MethodGet, "/stores/main/test?access_token=secret123", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("query token on store test = %d, want 401", w.Code)
	}
}

func TestTokenAuth_SearchIsPublic(t *testing.T) {
	e := testEnv(t, "secret123")
	e.mock.RegisterNoResponder(httpmock.NewStringResponder(http.StatusNotFound, ""))
	if w := e.do(t, http.MethodGet, "/search?roll=721942&regulation=2016", nil, ""); w.Code == http.StatusUnauthorized {
		t.Error("search should not require auth")
	}
}

// SSE endpoint auth tests.

// blockingSSE writes headers and blocks until the request context ends.
var blockingSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	e := testEnvWithSSE(t, "secret", blockingSSE)
	if w := e.do(t, http.MethodGet, "/events", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	e := testEnvWithSSE(t, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

func TestSSEEvents_QueryToken(t *testing.T) {
	e := testEnvWithSSE(t, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?access_token=tok", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with access_token = %d, want 200", w.Code)
	}

	if w := e.do(t, http.MethodGet, "/events?access_token=nope", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE with wrong access_token = %d, want 401", w.Code)
	}
}
