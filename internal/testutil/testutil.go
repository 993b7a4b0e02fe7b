// Package testutil provides shared test helpers for building project trees.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

// Skeleton is the minimal set of files a project needs to pass discovery.
var Skeleton = map[string]string{
	"app/models/.keep":                  "",
	"app/controllers/.keep":             "",
	"app/views/.keep":                   "",
	"db/schema.rb":                      "ActiveRecord::Schema.define(version: 1) do\nend\n",
	"app/helpers/application_helper.rb": "module ApplicationHelper\nend\n",
}

// Project writes the skeleton plus files under a fresh temporary root and
// returns the root. files overrides skeleton entries with the same path.
func Project(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	WriteFiles(t, root, Skeleton)
	WriteFiles(t, root, files)
	return root
}

// WriteFiles writes slash-separated relative paths beneath root.
func WriteFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// ReadFile returns the content of a slash-separated path beneath root.
func ReadFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
