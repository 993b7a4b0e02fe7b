package internal

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/railguard/internal/ledger"
	"github.com/starford/railguard/internal/testutil"
)

var project = map[string]string{
	"app/models/user.rb":            "# @guard owner id\nclass User < ActiveRecord::Base\nend\n",
	"app/views/users/show.html.erb": "<%= @user.name %>",
}

func TestRun_InPlace(t *testing.T) {
	root := testutil.Project(t, project)
	cfg := NewDefaultConfig()
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "ledger.db")

	err := Run(context.Background(),
		WithConfig(cfg), WithRoot(root), WithLogOutput(io.Discard))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := testutil.ReadFile(t, root, "app/models/user.rb")
	if !strings.Contains(got, "include GuardRails") || !strings.Contains(got, "guard :owner, id") {
		t.Errorf("user.rb = %q", got)
	}

	db, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	runs, total, err := db.ListRuns(context.Background(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || runs[0].Status != "completed" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestRun_DryRunPrintsDiff(t *testing.T) {
	root := testutil.Project(t, project)
	var out bytes.Buffer

	err := Run(context.Background(),
		WithConfig(NewDefaultConfig()), WithRoot(root), WithDryRun(true),
		WithStdout(&out), WithLogOutput(io.Discard))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "+  include GuardRails") {
		t.Errorf("diff = %q", out.String())
	}
	if got := testutil.ReadFile(t, root, "app/models/user.rb"); got != project["app/models/user.rb"] {
		t.Errorf("dry run modified user.rb: %q", got)
	}
}

func TestRun_RequiresRoot(t *testing.T) {
	if err := Run(context.Background(), WithConfig(NewDefaultConfig())); err == nil {
		t.Fatal("expected an error without a root")
	}
}

func TestRunWatch_RequiresOutsideOutput(t *testing.T) {
	root := t.TempDir()
	err := RunWatch(context.Background(),
		WithConfig(NewDefaultConfig()), WithRoot(root), WithOutput(filepath.Join(root, "out")),
		WithLogOutput(io.Discard))
	if err == nil || !strings.Contains(err.Error(), "inside the project root") {
		t.Fatalf("err = %v", err)
	}

	err = RunWatch(context.Background(), WithConfig(NewDefaultConfig()), WithRoot(root))
	if err == nil {
		t.Fatal("expected an error without an output directory")
	}
}

func TestSourceFilter(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Policy.File = "config/config.gr"
	keep := sourceFilter(cfg)
	cases := map[string]bool{
		"app/models/user.rb":            true,
		"app/views/users/show.html.erb": true,
		"config/config.gr":              true,
		"other/config.gr":               false,
		"app/models/.user.rb.swp":       false,
		"README.md":                     false,
	}
	for rel, want := range cases {
		if got := keep(rel); got != want {
			t.Errorf("keep(%q) = %v, want %v", rel, got, want)
		}
	}
}

func TestWithin(t *testing.T) {
	cases := []struct {
		root, p string
		want    bool
	}{
		{"/a/b", "/a/b", true},
		{"/a/b", "/a/b/c", true},
		{"/a/b", "/a/bc", false},
		{"/a/b", "/a", false},
		{"/a/b", "/x/..a", false},
	}
	for _, c := range cases {
		if got := within(c.root, c.p); got != c.want {
			t.Errorf("within(%q, %q) = %v, want %v", c.root, c.p, got, c.want)
		}
	}
}
