// Package artifact holds the parsed source files of one project, partitioned
// by role, together with the bookkeeping needed to write them back.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/railguard/internal/apperr"
	"github.com/starford/railguard/internal/storage"
	"github.com/starford/railguard/internal/syntax"
)

// Role is the functional category of an artifact.
type Role int

const (
	Entity Role = iota
	Controller
	Template
	Schema
	Helper
)

func (r Role) String() string {
	switch r {
	case Entity:
		return "entity"
	case Controller:
		return "controller"
	case Template:
		return "template"
	case Schema:
		return "schema"
	case Helper:
		return "helper"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Artifact is one parsed source file.
type Artifact struct {
	Role     Role
	Identity string // base name, unique within its role
	Path     string // absolute source path
	File     *syntax.File
}

// Layout locates each role beneath a project root. Paths are slash-separated.
type Layout struct {
	EntityDir     string
	ControllerDir string
	TemplateDir   string
	SchemaFile    string
	HelperFile    string
	RootMarker    string
	Suffix        string
}

// Store owns every artifact of one run. It is not safe for concurrent use.
type Store struct {
	parser syntax.Parser
	layout Layout
	logger *slog.Logger

	root        string
	entities    map[string]*Artifact
	controllers map[string]*Artifact
	schema      *Artifact
	helper      *Artifact
	paths       map[pathKey]string // absolute path per role and identity
}

type pathKey struct {
	role     Role
	identity string
}

// NewStore creates an empty store.
func NewStore(parser syntax.Parser, layout Layout, logger *slog.Logger) *Store {
	return &Store{
		parser: parser,
		layout: layout,
		logger: logger,
	}
}

// LegalFile reports whether a file named name takes part in parsing and
// rewriting: it must end with suffix and start with a word character, which
// rules out hidden, swap and backup files.
func LegalFile(name, suffix string) bool {
	if name == "" || !strings.HasSuffix(name, suffix) {
		return false
	}
	c := name[0]
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// Filter returns the storage filter for this store's layout.
func (s *Store) Filter() storage.Filter {
	return func(name string) bool { return LegalFile(name, s.layout.Suffix) }
}

// Layout returns the layout the store was created with.
func (s *Store) Layout() Layout {
	return s.layout
}

// Root returns the absolute root of the last discovery.
func (s *Store) Root() string {
	return s.root
}

// Parser returns the parser used for every artifact.
func (s *Store) Parser() syntax.Parser {
	return s.parser
}

// DiscoverAndParse walks the entity and controller directories beneath root,
// parses every legal file, and parses the schema and helper files. Any
// previous content of the store is discarded.
func (s *Store) DiscoverAndParse(root string) error {
	src, err := storage.NewFS(root)
	if err != nil {
		return apperr.New(apperr.PhaseDiscover, apperr.ErrDiscovery, root, err)
	}
	s.root = src.Root()
	s.entities = make(map[string]*Artifact)
	s.controllers = make(map[string]*Artifact)
	s.paths = make(map[pathKey]string)
	s.schema, s.helper = nil, nil

	if err := s.discoverRole(src, Entity, s.layout.EntityDir, s.entities); err != nil {
		return err
	}
	if err := s.discoverRole(src, Controller, s.layout.ControllerDir, s.controllers); err != nil {
		return err
	}

	// Templates are not parsed; the directory only has to exist.
	if _, err := src.List(s.layout.TemplateDir, func(string) bool { return false }); err != nil {
		return apperr.New(apperr.PhaseDiscover, apperr.ErrDiscovery, filepath.Join(s.root, filepath.FromSlash(s.layout.TemplateDir)), err)
	}

	if s.schema, err = s.parseSingleton(src, Schema, s.layout.SchemaFile); err != nil {
		return err
	}
	if s.helper, err = s.parseSingleton(src, Helper, s.layout.HelperFile); err != nil {
		return err
	}

	s.logger.Info("artifacts discovered",
		slog.String("root", s.root),
		slog.Int("entities", len(s.entities)),
		slog.Int("controllers", len(s.controllers)))
	return nil
}

func (s *Store) discoverRole(src storage.Provider, role Role, dir string, into map[string]*Artifact) error {
	entries, err := src.List(dir, s.Filter())
	if err != nil {
		return apperr.New(apperr.PhaseDiscover, apperr.ErrDiscovery, filepath.Join(s.root, filepath.FromSlash(dir)), err)
	}
	for _, e := range entries {
		abs := filepath.Join(s.root, filepath.FromSlash(e.Path))
		identity := path.Base(e.Path)
		key := pathKey{role: role, identity: identity}
		if prev, dup := s.paths[key]; dup {
			return apperr.New(apperr.PhaseDiscover, apperr.ErrDiscovery, abs,
				fmt.Errorf("identity %q already recorded for %s", identity, prev))
		}
		file, err := s.parse(src, e.Path, abs)
		if err != nil {
			return err
		}
		into[identity] = &Artifact{Role: role, Identity: identity, Path: abs, File: file}
		s.paths[key] = abs
		s.logger.Debug("artifact parsed", slog.String("role", role.String()), slog.String("path", abs))
	}
	return nil
}

func (s *Store) parseSingleton(src storage.Provider, role Role, rel string) (*Artifact, error) {
	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	file, err := s.parse(src, rel, abs)
	if err != nil {
		return nil, err
	}
	return &Artifact{Role: role, Identity: path.Base(rel), Path: abs, File: file}, nil
}

func (s *Store) parse(src storage.Provider, rel, abs string) (*syntax.File, error) {
	data, err := src.Read(rel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.New(apperr.PhaseDiscover, apperr.ErrDiscovery, abs, err)
		}
		return nil, apperr.New(apperr.PhaseDiscover, apperr.ErrParse, abs, err)
	}
	file, err := s.parser.Parse(data)
	if err != nil {
		return nil, apperr.New(apperr.PhaseDiscover, apperr.ErrParse, abs, err)
	}
	return file, nil
}

// GetPath returns the recorded path of the role's identity from the first
// root marker segment onward, slash-separated, so it can be joined onto
// another root. Only the part of the path below the discovery root is
// searched for the marker, and the fragment must lead back to the recorded
// file when joined onto that root.
func (s *Store) GetPath(role Role, identity string) (string, error) {
	abs, ok := s.paths[pathKey{role: role, identity: identity}]
	if !ok {
		return "", fmt.Errorf("artifact: %w: no %s path recorded for %q", apperr.ErrNotFound, role, identity)
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", fmt.Errorf("artifact: relativise %s: %w", abs, err)
	}
	segs := strings.Split(filepath.ToSlash(rel), "/")
	for i, seg := range segs {
		if seg != s.layout.RootMarker {
			continue
		}
		frag := strings.Join(segs[i:], "/")
		if got := filepath.Join(s.root, filepath.FromSlash(frag)); got != abs {
			return "", fmt.Errorf("artifact: fragment %s resolves to %s, not %s", frag, got, abs)
		}
		return frag, nil
	}
	return "", fmt.Errorf("artifact: %w: root marker %q not in %s", apperr.ErrNotFound, s.layout.RootMarker, abs)
}

// Entities returns the entity artifacts sorted by identity.
func (s *Store) Entities() []*Artifact {
	return sorted(s.entities)
}

// Controllers returns the controller artifacts sorted by identity.
func (s *Store) Controllers() []*Artifact {
	return sorted(s.controllers)
}

// Entity returns one entity artifact.
func (s *Store) Entity(identity string) (*Artifact, bool) {
	a, ok := s.entities[identity]
	return a, ok
}

// Schema returns the schema artifact.
func (s *Store) Schema() *Artifact {
	return s.schema
}

// Helper returns the helper artifact.
func (s *Store) Helper() *Artifact {
	return s.helper
}

func sorted(m map[string]*Artifact) []*Artifact {
	out := make([]*Artifact, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}
