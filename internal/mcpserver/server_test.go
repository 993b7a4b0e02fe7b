package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/railguard/internal/annotation"
	"github.com/starford/railguard/internal/artifact"
	"github.com/starford/railguard/internal/ledger"
	"github.com/starford/railguard/internal/pipeline"
	"github.com/starford/railguard/internal/syntax"
	"github.com/starford/railguard/internal/testutil"
	"github.com/starford/railguard/internal/transform"
	"github.com/starford/railguard/internal/writer"
)

var project = map[string]string{
	"app/models/user.rb": "# @guard owner id\nclass User < ActiveRecord::Base\nend\n",
	"app/models/note.rb": "class Note\nend\n",
}

func testServer(t *testing.T) (*Server, string) {
	t.Helper()

	root := testutil.Project(t, project)

	dbFile, err := os.CreateTemp("", "railguard-mcp-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := ledger.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	logger := testutil.Logger()
	orch := pipeline.New(pipeline.Deps{
		Parser: syntax.Ruby{},
		Layout: artifact.Layout{
			EntityDir:     "app/models",
			ControllerDir: "app/controllers",
			TemplateDir:   "app/views",
			SchemaFile:    "db/schema.rb",
			HelperFile:    "app/helpers/application_helper.rb",
			RootMarker:    "app",
			Suffix:        "rb",
		},
		BaseClasses: []string{"ActiveRecord::Base"},
		Extractor:   annotation.CommentExtractor{},
		Transformer: &transform.Injector{Module: "GuardRails", PolicyFile: "config/config.gr", Logger: logger},
		Writer:      writer.New("<% protect do %>", "<% end %>", logger),
		Logger:      logger,
	}, pipeline.WithLedger(db))

	return New(orch, root, db), root
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "analyze_project":
		result, err = srv.analyzeProject(ctx, req)
	case "preview_run":
		result, err = srv.previewRun(ctx, req)
	case "list_runs":
		result, err = srv.listRuns(ctx, req)
	case "get_run":
		result, err = srv.getRun(ctx, req)
	case "get_guard_format":
		result, err = srv.getGuardFormat(ctx, req)
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

func TestAnalyzeProject(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "analyze_project", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("analyze failed: %s", resultText(r))
	}
	var an struct {
		Entities int `json:"entities"`
		Classes  struct {
			Names []string `json:"names"`
		} `json:"classes"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &an); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if an.Entities != 2 || len(an.Classes.Names) != 1 || an.Classes.Names[0] != "User" {
		t.Errorf("analysis = %+v", an)
	}
}

func TestAnalyzeProject_BadRoot(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "analyze_project", map[string]interface{}{"root": t.TempDir()})
	if !r.IsError {
		t.Error("expected error for a root without the project layout")
	}
}

func TestPreviewRun_LeavesTreeUntouched(t *testing.T) {
	srv, root := testServer(t)

	r := callTool(t, srv, "preview_run", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("preview failed: %s", resultText(r))
	}
	text := resultText(r)
	if !strings.Contains(text, "+  guard :owner, id") {
		t.Errorf("diff missing guard:\n%s", text)
	}
	if got := testutil.ReadFile(t, root, "app/models/user.rb"); got != project["app/models/user.rb"] {
		t.Errorf("preview wrote to disk: %q", got)
	}
}

func TestRunHistory(t *testing.T) {
	srv, _ := testServer(t)
	_ = callTool(t, srv, "preview_run", map[string]interface{}{})

	r := callTool(t, srv, "list_runs", map[string]interface{}{"limit": 10})
	var list struct {
		Runs []struct {
			ID string `json:"id"`
		} `json:"runs"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Total != 1 || len(list.Runs) != 1 {
		t.Fatalf("list = %+v", list)
	}

	r = callTool(t, srv, "get_run", map[string]interface{}{"id": list.Runs[0].ID})
	if r.IsError {
		t.Fatalf("get_run failed: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), `"User"`) {
		t.Errorf("run detail missing class: %s", resultText(r))
	}
}

func TestGetRunMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_run", map[string]interface{}{"id": "nope"})
	if !r.IsError {
		t.Error("expected error for missing run")
	}
}

func TestGetGuardFormat(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_guard_format", map[string]interface{}{})
	if !strings.Contains(resultText(r), "plural_assoc_write") {
		t.Error("format contract missing policy kinds")
	}
}
