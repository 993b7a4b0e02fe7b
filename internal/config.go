package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/railguard/internal/artifact"
	"github.com/starford/railguard/internal/syntax"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App         ApplicationConfig `yaml:"app"`
	Layout      LayoutConfig      `yaml:"layout"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Guard       GuardConfig       `yaml:"guard"`
	Policy      PolicyConfig      `yaml:"policy"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Watch       WatchConfig       `yaml:"watch"`
	Auth        AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Layout.Validate(); err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	if err := c.Persistence.Validate(); err != nil {
		return fmt.Errorf("persistence: %w", err)
	}
	if err := c.Guard.Validate(); err != nil {
		return fmt.Errorf("guard: %w", err)
	}
	if err := c.Watch.Validate(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds the watch-mode HTTP server configuration. Port 0 disables
// the server.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Enabled reports whether the HTTP server should be started.
func (c *HTTPConfig) Enabled() bool {
	return c.Port > 0
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Min(0), validation.Max(65535)),
	)
}

// LayoutConfig describes where each artifact role lives beneath the project
// root. All paths are slash-separated and relative to the root.
type LayoutConfig struct {
	EntityDir     string `yaml:"entity_dir"`
	ControllerDir string `yaml:"controller_dir"`
	TemplateDir   string `yaml:"template_dir"`
	SchemaFile    string `yaml:"schema_file"`
	HelperFile    string `yaml:"helper_file"`
	// RootMarker is the path segment that starts the root-relative fragment
	// recorded for entities and controllers. EntityDir and ControllerDir must
	// begin with it.
	RootMarker string `yaml:"root_marker"`
	// SourceSuffix is matched against the end of every file name. The default
	// "rb" admits both .rb sources and .erb templates.
	SourceSuffix string `yaml:"source_suffix"`
}

// Validate validates the layout configuration.
func (c *LayoutConfig) Validate() error {
	// Write-back joins the fragment from the marker onward onto the root, so
	// the marker has to lead the path.
	underMarker := validation.By(func(value any) error {
		dir, _ := value.(string)
		if c.RootMarker == "" {
			return nil
		}
		first, _, _ := strings.Cut(strings.TrimPrefix(filepath.ToSlash(filepath.Clean(dir)), "./"), "/")
		if first != c.RootMarker {
			return fmt.Errorf("must start with the root marker segment %q", c.RootMarker)
		}
		return nil
	})
	relative := validation.By(func(value any) error {
		p, _ := value.(string)
		if filepath.IsAbs(p) {
			return errors.New("must be relative to the project root")
		}
		return nil
	})
	return validation.ValidateStruct(c,
		validation.Field(&c.EntityDir, validation.Required, relative, underMarker),
		validation.Field(&c.ControllerDir, validation.Required, relative, underMarker),
		validation.Field(&c.TemplateDir, validation.Required, relative),
		validation.Field(&c.SchemaFile, validation.Required, relative),
		validation.Field(&c.HelperFile, validation.Required, relative),
		validation.Field(&c.RootMarker, validation.Required, validation.By(func(value any) error {
			s, _ := value.(string)
			if strings.ContainsAny(s, `/\`) {
				return errors.New("must be a single path segment")
			}
			return nil
		})),
		validation.Field(&c.SourceSuffix, validation.Required),
	)
}

// Artifact returns the layout in the form the artifact store consumes.
func (c *LayoutConfig) Artifact() artifact.Layout {
	return artifact.Layout{
		EntityDir:     c.EntityDir,
		ControllerDir: c.ControllerDir,
		TemplateDir:   c.TemplateDir,
		SchemaFile:    c.SchemaFile,
		HelperFile:    c.HelperFile,
		RootMarker:    c.RootMarker,
		Suffix:        c.SourceSuffix,
	}
}

// PersistenceConfig lists the literal parent expressions that mark a class as
// persistent. Matching is syntactic; aliases are not resolved.
type PersistenceConfig struct {
	BaseClasses []string `yaml:"base_classes"`
}

// Validate validates the persistence configuration.
func (c *PersistenceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseClasses, validation.Required, validation.Each(validation.Required, validation.By(func(value any) error {
			s, _ := value.(string)
			switch syntax.ParseExpr(s).(type) {
			case *syntax.Ident, *syntax.Qualified:
				return nil
			}
			return fmt.Errorf("%q is not a constant path", s)
		}))),
	)
}

// GuardConfig holds the template guard directive pair and the module name the
// default transformer injects.
type GuardConfig struct {
	Open   string `yaml:"open"`
	Close  string `yaml:"close"`
	Module string `yaml:"module"`
}

// Validate validates the guard configuration.
func (c *GuardConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Open, validation.Required),
		validation.Field(&c.Close, validation.Required),
		validation.Field(&c.Module, validation.Required),
	)
}

// PolicyConfig points at the optional line-oriented policy file, relative to
// the project root.
type PolicyConfig struct {
	File string `yaml:"file"`
}

// LedgerConfig holds the SQLite run ledger location. An empty path disables
// the ledger.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// WatchConfig holds watch-mode settings.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// AuthConfig holds authentication configuration for the watch-mode HTTP API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a Config laid out for a conventional Rails tree.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Layout: LayoutConfig{
			EntityDir:     "app/models",
			ControllerDir: "app/controllers",
			TemplateDir:   "app/views",
			SchemaFile:    "db/schema.rb",
			HelperFile:    "app/helpers/application_helper.rb",
			RootMarker:    "app",
			SourceSuffix:  "rb",
		},
		Persistence: PersistenceConfig{
			BaseClasses: []string{"ActiveRecord::Base"},
		},
		Guard: GuardConfig{
			Open:   "<% protect do %>",
			Close:  "<% end %>",
			Module: "GuardRails",
		},
		Policy: PolicyConfig{
			File: "config/config.gr",
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
