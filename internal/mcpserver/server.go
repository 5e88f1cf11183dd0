// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes gpahub lookups and ingestion for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/gpahub/internal/ingest"
	"github.com/starford/gpahub/internal/resolver"
	"github.com/starford/gpahub/internal/resultservice"
)

const formatURI = "gpahub://gradesheet-format"

// Server wraps the MCP server with gpahub tools.
type Server struct {
	mcp    *server.MCPServer
	svc    *resultservice.Service
	logger *slog.Logger
}

// New creates a new MCP server with all gpahub tools registered.
func New(svc *resultservice.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, logger: logger}

	s.mcp = server.NewMCPServer(
		"gpahub",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_result",
		mcp.WithDescription("Look up a student's semester GPAs and CGPA by roll number. "+
			"Stores are searched in configured order, then web APIs."),
		mcp.WithString("roll", mcp.Required(), mcp.Description("Roll number, 6 to 8 digits")),
		mcp.WithString("regulation", mcp.Required(), mcp.Description("Regulation year, e.g. 2016")),
		mcp.WithString("program", mcp.Description("Program name; defaults to the server's default program")),
	), s.searchResult)

	s.mcp.AddTool(mcp.NewTool("parse_gradesheet",
		mcp.WithDescription("Dry-run a gradesheet: parse and validate it, report what would be "+
			"written and any warnings, without writing anything."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Gradesheet text as extracted from the PDF")),
		mcp.WithString("regulation", mcp.Required(), mcp.Description("Regulation year the sheet belongs to")),
		mcp.WithString("program", mcp.Description("Program name; defaults to the server's default program")),
	), s.parseGradesheet)

	s.mcp.AddTool(mcp.NewTool("ingest_gradesheet",
		mcp.WithDescription("Parse a gradesheet and write its records to the ingest store. "+
			"Read the format via get_gradesheet_format or the "+formatURI+" resource first."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Gradesheet text as extracted from the PDF")),
		mcp.WithString("regulation", mcp.Required(), mcp.Description("Regulation year the sheet belongs to")),
		mcp.WithString("program", mcp.Description("Program name; defaults to the server's default program")),
	), s.ingestGradesheet)

	s.mcp.AddTool(mcp.NewTool("list_stores",
		mcp.WithDescription("List configured stores in search order, their record counts, and the web API fallbacks."),
	), s.listStores)

	s.mcp.AddTool(mcp.NewTool("get_gradesheet_format",
		mcp.WithDescription("Returns the gradesheet text layout the parser understands."),
	), s.getGradesheetFormat)

	// Resource: gradesheet format.
	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Gradesheet Format",
			mcp.WithResourceDescription("Text layout of a gradesheet accepted by ingest_gradesheet."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) searchResult(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roll, err := req.RequireString("roll")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	regulation, err := req.RequireString("regulation")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	program := req.GetString("program", "")

	res, err := s.svc.Search(ctx, roll, regulation, program)
	if err != nil {
		var nf *resolver.NotFoundError
		if errors.As(err, &nf) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: searched %s", strings.Join(nf.Tried, ", "))), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res), nil
}

func (s *Server) parseGradesheet(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	regulation, err := req.RequireString("regulation")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	program := req.GetString("program", s.svc.DefaultProgram())

	p, err := ingest.DryRun(strings.NewReader(text), program, regulation, s.logger)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(p), nil
}

func (s *Server) ingestGradesheet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	regulation, err := req.RequireString("regulation")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	program := req.GetString("program", "")

	sum, err := s.svc.IngestText(ctx, text, program, regulation)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !sum.Success {
		out, _ := json.MarshalIndent(sum, "", "  ")
		return mcp.NewToolResultError("ingest incomplete:\n" + string(out)), nil
	}
	return jsonResult(sum), nil
}

func (s *Server) listStores(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{
		"stores":       s.svc.Stores(),
		"search_order": s.svc.SearchOrder(),
		"stats":        s.svc.Stats(ctx),
		"web_apis":     s.svc.WebAPIs(),
	}), nil
}

func (s *Server) getGradesheetFormat(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(GradesheetFormat), nil
}

func (s *Server) readFormatResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     GradesheetFormat,
		},
	}, nil
}
