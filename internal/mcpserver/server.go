// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes railguard analysis and run history via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/railguard/internal/diffreport"
	"github.com/starford/railguard/internal/ledger"
	"github.com/starford/railguard/internal/pipeline"
)

// Server wraps the MCP server with railguard tools.
type Server struct {
	mcp  *server.MCPServer
	orch *pipeline.Orchestrator
	root string
	runs ledger.Store
}

// New creates a new MCP server for the project at root. runs may be nil,
// in which case the history tools are not registered.
func New(orch *pipeline.Orchestrator, root string, runs ledger.Store) *Server {
	s := &Server{orch: orch, root: root, runs: runs}

	s.mcp = server.NewMCPServer(
		"Railguard",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("analyze_project",
		mcp.WithDescription("Discover and parse a project, extract annotations and resolve "+
			"the persistence classes. Nothing is written."),
		mcp.WithString("root", mcp.Description("Project root (defaults to the served project)")),
	), s.analyzeProject)

	s.mcp.AddTool(mcp.NewTool("preview_run",
		mcp.WithDescription("Run the full pipeline as a dry run and return the resulting "+
			"changes as a unified diff."),
		mcp.WithString("root", mcp.Description("Project root (defaults to the served project)")),
	), s.previewRun)

	s.mcp.AddTool(mcp.NewTool("get_guard_format",
		mcp.WithDescription("Returns the annotation and policy file format. "+
			"Call this before editing annotations or the policy file."),
	), s.getGuardFormat)

	if runs != nil {
		s.mcp.AddTool(mcp.NewTool("list_runs",
			mcp.WithDescription("List recorded pipeline runs, newest first."),
			mcp.WithNumber("limit", mcp.Description("Page size (default 50)")),
			mcp.WithNumber("offset", mcp.Description("Page offset")),
		), s.listRuns)

		s.mcp.AddTool(mcp.NewTool("get_run",
			mcp.WithDescription("Get one recorded run with its classes and writes."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Run ID")),
		), s.getRun)
	}

	s.mcp.AddResource(
		mcp.NewResource("railguard://guard-format", "Guard Input Format",
			mcp.WithResourceDescription("Annotation comment and policy file format."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuardFormatResource,
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

func (s *Server) rootArg(req mcp.CallToolRequest) string {
	if r := req.GetString("root", ""); r != "" {
		return r
	}
	return s.root
}

func (s *Server) analyzeProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	an, err := s.orch.Analyze(ctx, s.rootArg(req))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(an, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) previewRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.orch.Run(ctx, s.rootArg(req), pipeline.Options{DryRun: true})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var b strings.Builder
	if err := diffreport.Write(&b, res.Changes); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if b.Len() == 0 {
		return mcp.NewToolResultText("no changes"), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) listRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 0)
	offset := req.GetInt("offset", 0)
	runs, total, err := s.runs.ListRuns(ctx, limit, offset)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(map[string]any{"runs": runs, "total": total}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	run, err := s.runs.GetRun(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	out, _ := json.MarshalIndent(run, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getGuardFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(GuardFormatContract), nil
}

func (s *Server) readGuardFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "railguard://guard-format",
			MIMEType: "text/markdown",
			Text:     GuardFormatContract,
		},
	}, nil
}
