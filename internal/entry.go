// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/railguard/internal/annotation"
	"github.com/starford/railguard/internal/api"
	"github.com/starford/railguard/internal/artifact"
	"github.com/starford/railguard/internal/diffreport"
	"github.com/starford/railguard/internal/ledger"
	"github.com/starford/railguard/internal/mcpserver"
	"github.com/starford/railguard/internal/pipeline"
	"github.com/starford/railguard/internal/sse"
	"github.com/starford/railguard/internal/syntax"
	"github.com/starford/railguard/internal/transform"
	"github.com/starford/railguard/internal/watch"
	"github.com/starford/railguard/internal/writer"
)

// Run performs a single pipeline run over the configured project.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts, os.Stdout)
	if err != nil {
		return err
	}
	orch, db, err := app.build()
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	res, err := orch.Run(ctx, app.root, pipeline.Options{Output: app.output, DryRun: app.dryRun})
	if err != nil {
		return err
	}
	if app.dryRun {
		if err := diffreport.Write(app.stdout, res.Changes); err != nil {
			return fmt.Errorf("print diff: %w", err)
		}
	}
	return nil
}

// RunWatch runs the pipeline once, then again after every settled burst of
// source changes until ctx ends or a shutdown signal arrives. Writes always
// go to the output mirror so they cannot retrigger the watcher.
func RunWatch(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts, os.Stdout)
	if err != nil {
		return err
	}
	if app.output == "" {
		return errors.New("watch mode requires an output directory")
	}
	if within(app.root, app.output) {
		return fmt.Errorf("output directory %s must not be inside the project root", app.output)
	}
	cfg := app.config

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	orch, db, err := app.build(pipeline.WithObserver(broker.PublishRun))
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	logger := slog.Default()

	runOnce := func(ctx context.Context) (*pipeline.Result, error) {
		return orch.Run(ctx, app.root, pipeline.Options{Output: app.output})
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Initial run, then file watcher.
	g.Go(func() error {
		_, _ = runOnce(gCtx)
		err := watch.Watch(gCtx, app.root, cfg.Watch.Debounce, sourceFilter(cfg), logger,
			func(paths []string) {
				broker.PublishChange(paths)
				// Failures are recorded and published; the watcher keeps going.
				_, _ = runOnce(gCtx)
			})
		if err != nil {
			return fmt.Errorf("watch: %w", err)
		}
		return nil
	})

	var httpServer *http.Server
	if cfg.App.HTTP.Enabled() {
		httpServer = &http.Server{
			Addr:    cfg.App.HTTP.Address(),
			Handler: newHTTPHandler(cfg, db, runOnce, broker),
		}
		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
			}
		}
		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Watcher stopped successfully")
	return nil
}

// RunMCP serves the MCP tools for the configured project on stdio. Logs go
// to stderr since stdout carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts, os.Stderr)
	if err != nil {
		return err
	}
	orch, db, err := app.build()
	if err != nil {
		return err
	}
	var runs ledger.Store
	if db != nil {
		defer db.Close()
		runs = db
	}

	slog.Default().Info("MCP server starting", slog.String("root", app.root))
	return mcpserver.New(orch, app.root, runs).ServeStdio()
}

func newApplication(opts []Option, logOut *os.File) (*application, error) {
	app := &application{stdout: os.Stdout, logOut: logOut}
	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if app.root == "" {
		return nil, fmt.Errorf("project root is required")
	}
	// Diffs own stdout during a dry run.
	if app.dryRun && app.logOut == os.Stdout {
		app.logOut = os.Stderr
	}
	return app, nil
}

// build initializes logging, the optional ledger and the orchestrator.
func (app *application) build(extra ...pipeline.Option) (*pipeline.Orchestrator, *ledger.DB, error) {
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("root", app.root),
		slog.String("output", app.output),
		slog.Bool("dry_run", app.dryRun),
		slog.Any("base_classes", cfg.Persistence.BaseClasses),
		slog.String("ledger_path", cfg.Ledger.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	var opts []pipeline.Option
	var db *ledger.DB
	if cfg.Ledger.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Ledger.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create ledger dir: %w", err)
		}
		var err error
		db, err = ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("init ledger: %w", err)
		}
		opts = append(opts, pipeline.WithLedger(db))
	}
	opts = append(opts, extra...)

	orch := pipeline.New(pipeline.Deps{
		Parser:      syntax.Ruby{},
		Layout:      cfg.Layout.Artifact(),
		BaseClasses: cfg.Persistence.BaseClasses,
		Extractor:   annotation.CommentExtractor{},
		Transformer: &transform.Injector{
			Module:     cfg.Guard.Module,
			PolicyFile: cfg.Policy.File,
			Logger:     logger,
		},
		Writer: writer.New(cfg.Guard.Open, cfg.Guard.Close, logger),
		Logger: logger,
	}, opts...)
	return orch, db, nil
}

func newHTTPHandler(cfg *Config, db *ledger.DB, trigger api.RunFunc, broker *sse.Broker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if db != nil {
		r.Mount("/api", api.NewRouter(db, trigger, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))
	} else {
		r.With(api.AuthMiddleware(cfg.Auth.AuthEnabled(), cfg.Auth.Token)).Get("/api/events", broker.ServeHTTP)
	}
	return r
}

// sourceFilter accepts the project-relative paths whose change can alter a
// run: legal source files and the policy file.
func sourceFilter(cfg *Config) func(rel string) bool {
	suffix := cfg.Layout.SourceSuffix
	policy := ""
	if cfg.Policy.File != "" {
		policy = path.Clean(filepath.ToSlash(cfg.Policy.File))
	}
	return func(rel string) bool {
		return rel == policy || artifact.LegalFile(path.Base(rel), suffix)
	}
}

// within reports whether p is root or lies beneath it.
func within(root, p string) bool {
	absRoot, err1 := filepath.Abs(root)
	absP, err2 := filepath.Abs(p)
	if err1 != nil || err2 != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absP)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
