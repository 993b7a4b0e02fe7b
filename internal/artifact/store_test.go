package artifact

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/starford/railguard/internal/apperr"
	"github.com/starford/railguard/internal/syntax"
	"github.com/starford/railguard/internal/testutil"
)

var railsLayout = Layout{
	EntityDir:     "app/models",
	ControllerDir: "app/controllers",
	TemplateDir:   "app/views",
	SchemaFile:    "db/schema.rb",
	HelperFile:    "app/helpers/application_helper.rb",
	RootMarker:    "app",
	Suffix:        "rb",
}

func newStore() *Store {
	return NewStore(syntax.Ruby{}, railsLayout, testutil.Logger())
}

func TestLegalFile(t *testing.T) {
	cases := map[string]bool{
		"user.rb":        true,
		"index.html.erb": true,
		"_form.html.erb": true,
		"9lives.rb":      true,
		".user.rb.swp":   false,
		"#user.rb#":      false,
		"~user.rb":       false,
		"user.rb~":       false,
		"README.md":      false,
		"":               false,
	}
	for name, want := range cases {
		if got := LegalFile(name, "rb"); got != want {
			t.Errorf("LegalFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestDiscoverAndParse(t *testing.T) {
	root := testutil.Project(t, map[string]string{
		"app/models/user.rb":                        "class User < ActiveRecord::Base\nend\n",
		"app/models/admin/role.rb":                  "class Role < User\nend\n",
		"app/models/.user.rb.swp":                   "garbage {{{",
		"app/controllers/users_controller.rb":       "class UsersController < ApplicationController\nend\n",
		"app/controllers/application_controller.rb": "class ApplicationController < ActionController::Base\nend\n",
	})
	s := newStore()
	if err := s.DiscoverAndParse(root); err != nil {
		t.Fatalf("DiscoverAndParse: %v", err)
	}

	ents := s.Entities()
	if len(ents) != 2 || ents[0].Identity != "role.rb" || ents[1].Identity != "user.rb" {
		t.Fatalf("entities = %v", ents)
	}
	if got := len(s.Controllers()); got != 2 {
		t.Errorf("controllers = %d, want 2", got)
	}
	if s.Schema() == nil || s.Helper() == nil {
		t.Fatal("singletons not parsed")
	}
	if ents[0].Path != filepath.Join(s.Root(), "app", "models", "admin", "role.rb") {
		t.Errorf("path = %s", ents[0].Path)
	}
}

func TestGetPath_Fidelity(t *testing.T) {
	root := testutil.Project(t, map[string]string{
		"app/models/user.rb":       "class User < ActiveRecord::Base\nend\n",
		"app/models/admin/role.rb": "class Role < User\nend\n",
	})
	s := newStore()
	if err := s.DiscoverAndParse(root); err != nil {
		t.Fatal(err)
	}
	for _, a := range s.Entities() {
		frag, err := s.GetPath(Entity, a.Identity)
		if err != nil {
			t.Fatalf("GetPath(%s): %v", a.Identity, err)
		}
		if got := filepath.Join(s.Root(), filepath.FromSlash(frag)); got != a.Path {
			t.Errorf("rejoined = %s, want %s", got, a.Path)
		}
	}
	frag, _ := s.GetPath(Entity, "role.rb")
	if frag != "app/models/admin/role.rb" {
		t.Errorf("fragment = %q", frag)
	}
}

func TestGetPath_MarkerInsideRootIsIgnored(t *testing.T) {
	outer := t.TempDir()
	root := filepath.Join(outer, "app", "project")
	testutil.WriteFiles(t, root, testutil.Skeleton)
	testutil.WriteFiles(t, root, map[string]string{"app/models/user.rb": "class User\nend\n"})

	s := newStore()
	if err := s.DiscoverAndParse(root); err != nil {
		t.Fatal(err)
	}
	frag, err := s.GetPath(Entity, "user.rb")
	if err != nil {
		t.Fatal(err)
	}
	if frag != "app/models/user.rb" {
		t.Errorf("fragment = %q, want app/models/user.rb", frag)
	}
}

func TestGetPath_FragmentMustLeadBack(t *testing.T) {
	root := testutil.Project(t, map[string]string{"src/app/models/user.rb": "class User\nend\n"})
	layout := railsLayout
	layout.EntityDir = "src/app/models"

	s := NewStore(syntax.Ruby{}, layout, testutil.Logger())
	if err := s.DiscoverAndParse(root); err != nil {
		t.Fatal(err)
	}
	if frag, err := s.GetPath(Entity, "user.rb"); err == nil {
		t.Errorf("fragment = %q, want an error for a marker below the first segment", frag)
	}
}

func TestGetPath_PerRole(t *testing.T) {
	root := testutil.Project(t, map[string]string{
		"app/models/admin.rb":      "class Admin < ActiveRecord::Base\nend\n",
		"app/controllers/admin.rb": "class AdminController < ApplicationController\nend\n",
	})
	s := newStore()
	if err := s.DiscoverAndParse(root); err != nil {
		t.Fatalf("DiscoverAndParse: %v", err)
	}
	cases := map[Role]string{
		Entity:     "app/models/admin.rb",
		Controller: "app/controllers/admin.rb",
	}
	for role, want := range cases {
		got, err := s.GetPath(role, "admin.rb")
		if err != nil {
			t.Fatalf("GetPath(%s): %v", role, err)
		}
		if got != want {
			t.Errorf("GetPath(%s) = %q, want %q", role, got, want)
		}
	}
}

func TestGetPath_Unknown(t *testing.T) {
	s := newStore()
	if err := s.DiscoverAndParse(testutil.Project(t, nil)); err != nil {
		t.Fatal(err)
	}
	_, err := s.GetPath(Entity, "missing.rb")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDiscover_MissingSingleton(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFiles(t, root, map[string]string{
		"app/models/.keep":      "",
		"app/controllers/.keep": "",
		"app/views/.keep":       "",
		"db/schema.rb":          "x = 1\n",
	})
	err := newStore().DiscoverAndParse(root)
	if !errors.Is(err, apperr.ErrDiscovery) {
		t.Fatalf("err = %v, want ErrDiscovery", err)
	}
	var pe *apperr.PhaseError
	if !errors.As(err, &pe) || filepath.Base(pe.Path) != "application_helper.rb" {
		t.Errorf("phase error = %+v", pe)
	}
}

func TestDiscover_MissingTemplateDir(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFiles(t, root, map[string]string{
		"app/models/.keep":                  "",
		"app/controllers/.keep":             "",
		"db/schema.rb":                      "x = 1\n",
		"app/helpers/application_helper.rb": "module ApplicationHelper\nend\n",
	})
	if err := newStore().DiscoverAndParse(root); !errors.Is(err, apperr.ErrDiscovery) {
		t.Fatalf("err = %v, want ErrDiscovery", err)
	}
}

func TestDiscover_TemplateDirIsFile(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{}
	for k, v := range testutil.Skeleton {
		files[k] = v
	}
	delete(files, "app/views/.keep")
	files["app/views"] = "not a directory"
	testutil.WriteFiles(t, root, files)

	err := newStore().DiscoverAndParse(root)
	if !errors.Is(err, apperr.ErrDiscovery) {
		t.Fatalf("err = %v, want ErrDiscovery", err)
	}
	var pe *apperr.PhaseError
	if !errors.As(err, &pe) || filepath.Base(pe.Path) != "views" {
		t.Errorf("phase error = %+v", pe)
	}
}

func TestDiscover_ParseErrorIsFatal(t *testing.T) {
	root := testutil.Project(t, map[string]string{
		"app/models/broken.rb": "class Broken < ActiveRecord::Base\n  def x\nend\n",
	})
	err := newStore().DiscoverAndParse(root)
	if !errors.Is(err, apperr.ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
	var perr *syntax.ParseError
	if !errors.As(err, &perr) {
		t.Errorf("parse error detail lost: %v", err)
	}
}

func TestDiscover_DuplicateIdentity(t *testing.T) {
	root := testutil.Project(t, map[string]string{
		"app/models/user.rb":       "class User\nend\n",
		"app/models/admin/user.rb": "class AdminUser\nend\n",
	})
	if err := newStore().DiscoverAndParse(root); !errors.Is(err, apperr.ErrDiscovery) {
		t.Fatalf("err = %v, want ErrDiscovery", err)
	}
}
