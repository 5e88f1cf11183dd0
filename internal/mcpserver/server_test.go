package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/gpahub/internal/ingest"
	"github.com/starford/gpahub/internal/models"
	"github.com/starford/gpahub/internal/resolver"
	"github.com/starford/gpahub/internal/resultservice"
	"github.com/starford/gpahub/internal/testutil"
)

var quiet = slog.New(slog.NewJSONHandler(io.Discard, nil))

func testServer(t *testing.T) *Server {
	t.Helper()

	db, _ := testutil.TestSQLite(t, "main")
	plan, err := resolver.NewPlan([]resolver.Source{{Name: "main", Reader: db}}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	svc := resultservice.New(resultservice.Deps{
		Pipeline:       ingest.New(db, ingest.Config{BatchSize: 100}, ingest.WithLogger(quiet)),
		Resolver:       resolver.New(plan, nil, resolver.WithLogger(quiet)),
		Stores:         []resultservice.StoreEntry{{Store: db}},
		Logger:         quiet,
		DefaultProgram: testutil.SampleProgram,
	})
	return New(svc, quiet)
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no in-process "call tool" helper, so dispatch to the handlers directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "search_result":
		result, err = srv.searchResult(ctx, req)
	case "parse_gradesheet":
		result, err = srv.parseGradesheet(ctx, req)
	case "ingest_gradesheet":
		result, err = srv.ingestGradesheet(ctx, req)
	case "list_stores":
		result, err = srv.listStores(ctx, req)
	case "get_gradesheet_format":
		result, err = srv.getGradesheetFormat(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestIngestAndSearch(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "ingest_gradesheet", map[string]interface{}{
		"text":       testutil.SampleGradesheet,
		"regulation": "2016",
	})
	if r.IsError {
		t.Fatalf("ingest failed: %s", resultText(r))
	}
	var sum ingest.Summary
	if err := json.Unmarshal([]byte(resultText(r)), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.Written != sum.Operations || sum.StudentsFound != 9 {
		t.Errorf("summary = %+v", sum)
	}

	r = callTool(t, srv, "search_result", map[string]interface{}{
		"roll":       "700017",
		"regulation": "2016",
	})
	if r.IsError {
		t.Fatalf("search failed: %s", resultText(r))
	}
	var res models.QueryResult
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Institute.Code != "66712" {
		t.Errorf("institute = %+v", res.Institute)
	}
	if len(res.CGPA) != 1 || res.CGPA[0].CGPA != "3.51" {
		t.Errorf("cgpa = %+v", res.CGPA)
	}
}

func TestSearchNotFound(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "search_result", map[string]interface{}{"roll": "999999", "regulation": "2016"})
	if !r.IsError {
		t.Fatal("expected error for unknown roll")
	}
	if text := resultText(r); !strings.Contains(text, "main, web_apis") {
		t.Errorf("error = %q, want searched sources", text)
	}
}

func TestSearchMissingArgument(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "search_result", map[string]interface{}{"roll": "721942"})
	if !r.IsError {
		t.Error("expected error without regulation")
	}
}

func TestParseGradesheetWritesNothing(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "parse_gradesheet", map[string]interface{}{
		"text":       testutil.SampleGradesheet,
		"regulation": "2016",
	})
	if r.IsError {
		t.Fatalf("parse failed: %s", resultText(r))
	}
	var p ingest.Preview
	if err := json.Unmarshal([]byte(resultText(r)), &p); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if p.StudentsFound != 9 || len(p.Rejected) != 1 {
		t.Errorf("preview = %+v", p)
	}

	r = callTool(t, srv, "search_result", map[string]interface{}{"roll": "721942", "regulation": "2016"})
	if !r.IsError {
		t.Error("dry run must not write records")
	}
}

func TestIngestNothingParsed(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "ingest_gradesheet", map[string]interface{}{
		"text":       "Bangladesh Technical Education Board",
		"regulation": "2016",
	})
	if !r.IsError {
		t.Error("expected error when nothing was parsed")
	}
}

func TestListStores(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "list_stores", map[string]interface{}{})

	var out struct {
		Stores      []resultservice.StoreInfo `json:"stores"`
		SearchOrder []string                  `json:"search_order"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Stores) != 1 || out.Stores[0].Driver != "sqlite" || !out.Stores[0].IngestTarget {
		t.Errorf("stores = %+v", out.Stores)
	}
	if len(out.SearchOrder) != 1 || out.SearchOrder[0] != "main" {
		t.Errorf("search order = %v", out.SearchOrder)
	}
}

func TestGradesheetFormat(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "get_gradesheet_format", map[string]interface{}{})
	if !strings.Contains(resultText(r), "gpa<N>") {
		t.Error("format contract missing gpa token description")
	}

	contents, err := srv.readFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if tc, ok := contents[0].(mcp.TextResourceContents); !ok || tc.URI != formatURI {
		t.Errorf("resource = %+v", contents[0])
	}
}
