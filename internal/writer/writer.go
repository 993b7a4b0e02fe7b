// Package writer serializes rewritten artifacts back into a project tree and
// wraps template files in the guard block.
package writer

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/starford/railguard/internal/apperr"
	"github.com/starford/railguard/internal/artifact"
	"github.com/starford/railguard/internal/checksum"
	"github.com/starford/railguard/internal/storage"
)

// Write describes one file written by Flush. Before is empty when the file
// did not exist.
type Write struct {
	Role   string `json:"role"`
	Path   string `json:"path"`
	Before string `json:"before,omitempty"`
	After  string `json:"after"`
}

// Writer flushes a store to a target tree.
type Writer struct {
	open   string
	close  string
	logger *slog.Logger
}

// New creates a Writer that wraps templates between openTag and closeTag.
func New(openTag, closeTag string, logger *slog.Logger) *Writer {
	return &Writer{open: openTag, close: closeTag, logger: logger}
}

// Flush writes every entity and controller to its recorded fragment under
// dst, wraps every legal template file under the template directory, and
// writes the schema and helper to their fixed paths. Existing files are
// overwritten unconditionally. Template wrapping is not idempotent: a file
// flushed twice is wrapped twice.
//
// The first failure aborts the flush; files written before it stay written.
func (w *Writer) Flush(store *artifact.Store, dst storage.Provider) ([]Write, error) {
	var writes []Write
	layout := store.Layout()

	for _, group := range [][]*artifact.Artifact{store.Entities(), store.Controllers()} {
		for _, a := range group {
			rel, err := store.GetPath(a.Role, a.Identity)
			if err != nil {
				return writes, apperr.New(apperr.PhaseWrite, apperr.ErrWrite, a.Path, err)
			}
			wr, err := w.unparse(store, dst, a, rel)
			if err != nil {
				return writes, err
			}
			writes = append(writes, wr)
		}
	}

	templates, err := dst.List(layout.TemplateDir, store.Filter())
	if err != nil {
		return writes, apperr.New(apperr.PhaseWrite, apperr.ErrWrite, w.abs(dst, layout.TemplateDir), err)
	}
	for _, e := range templates {
		text, err := dst.Read(e.Path)
		if err != nil {
			return writes, apperr.New(apperr.PhaseWrite, apperr.ErrWrite, w.abs(dst, e.Path), err)
		}
		wrapped := []byte(w.open + " " + string(text) + " " + w.close + "\n")
		wr, err := w.put(dst, artifact.Template, e.Path, wrapped)
		if err != nil {
			return writes, err
		}
		writes = append(writes, wr)
	}

	for _, s := range []struct {
		a   *artifact.Artifact
		rel string
	}{
		{store.Schema(), layout.SchemaFile},
		{store.Helper(), layout.HelperFile},
	} {
		if s.a == nil {
			return writes, apperr.New(apperr.PhaseWrite, apperr.ErrWrite, w.abs(dst, s.rel),
				fmt.Errorf("artifact not loaded"))
		}
		wr, err := w.unparse(store, dst, s.a, s.rel)
		if err != nil {
			return writes, err
		}
		writes = append(writes, wr)
	}

	w.logger.Info("artifacts flushed",
		slog.String("root", dst.Root()),
		slog.Int("files", len(writes)),
		slog.Int("templates", len(templates)))
	return writes, nil
}

func (w *Writer) unparse(store *artifact.Store, dst storage.Provider, a *artifact.Artifact, rel string) (Write, error) {
	out, err := store.Parser().Unparse(a.File)
	if err != nil {
		return Write{}, apperr.New(apperr.PhaseWrite, apperr.ErrWrite, a.Path, err)
	}
	if !strings.HasSuffix(string(out), "\n") {
		out = append(out, '\n')
	}
	return w.put(dst, a.Role, rel, out)
}

func (w *Writer) put(dst storage.Provider, role artifact.Role, rel string, content []byte) (Write, error) {
	wr := Write{Role: role.String(), Path: path.Clean(rel), After: checksum.Sum(content)}
	prev, err := dst.Read(rel)
	switch {
	case err == nil:
		wr.Before = checksum.Sum(prev)
	case !errors.Is(err, fs.ErrNotExist):
		return Write{}, apperr.New(apperr.PhaseWrite, apperr.ErrWrite, w.abs(dst, rel), err)
	}
	if err := dst.Write(rel, content); err != nil {
		return Write{}, apperr.New(apperr.PhaseWrite, apperr.ErrWrite, w.abs(dst, rel), err)
	}
	w.logger.Debug("artifact written",
		slog.String("role", wr.Role),
		slog.String("path", wr.Path),
		slog.String("checksum", checksum.Short(content)))
	return wr, nil
}

func (w *Writer) abs(dst storage.Provider, rel string) string {
	return filepath.Join(dst.Root(), filepath.FromSlash(rel))
}
