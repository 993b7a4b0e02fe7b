// Package pipeline sequences one guard-injection run over a project tree:
// discovery, annotation extraction, closure resolution, transformation and
// write-back.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/railguard/internal/annotation"
	"github.com/starford/railguard/internal/apperr"
	"github.com/starford/railguard/internal/artifact"
	"github.com/starford/railguard/internal/closure"
	"github.com/starford/railguard/internal/storage"
	"github.com/starford/railguard/internal/syntax"
	"github.com/starford/railguard/internal/transform"
	"github.com/starford/railguard/internal/writer"
)

// Status is the outcome of a run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Options select where a run writes.
type Options struct {
	// Output, when set, receives a mirror of the project and all writes;
	// the project itself is left untouched.
	Output string
	// DryRun captures writes in memory instead of touching disk.
	DryRun bool
}

// Result describes a finished run, successful or not.
type Result struct {
	RunID       string                       `json:"run_id"`
	Root        string                       `json:"root"`
	Output      string                       `json:"output,omitempty"`
	DryRun      bool                         `json:"dry_run"`
	Status      Status                       `json:"status"`
	Error       string                       `json:"error,omitempty"`
	Classes     *closure.Set                 `json:"classes,omitempty"`
	Annotations map[string]annotation.Record `json:"annotations,omitempty"`
	Written     []writer.Write               `json:"written,omitempty"`
	StartedAt   time.Time                    `json:"started_at"`
	FinishedAt  time.Time                    `json:"finished_at"`

	// Changes holds the captured writes of a dry run.
	Changes []storage.Change `json:"-"`
}

// Analysis is the read-only part of a run: everything up to, but not
// including, transformation.
type Analysis struct {
	Root        string                       `json:"root"`
	Entities    int                          `json:"entities"`
	Controllers int                          `json:"controllers"`
	Classes     *closure.Set                 `json:"classes"`
	Annotations map[string]annotation.Record `json:"annotations"`

	store *artifact.Store
}

// Ledger persists run results.
type Ledger interface {
	RecordRun(ctx context.Context, res *Result) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Parser      syntax.Parser
	Layout      artifact.Layout
	BaseClasses []string
	Extractor   annotation.Extractor
	Transformer transform.Transformer
	Writer      *writer.Writer
	Logger      *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLedger records every run in l.
func WithLedger(l Ledger) Option {
	return func(o *Orchestrator) {
		o.ledger = l
	}
}

// WithObserver calls fn after every run.
func WithObserver(fn func(*Result)) Option {
	return func(o *Orchestrator) {
		o.observers = append(o.observers, fn)
	}
}

// Orchestrator runs the pipeline. Runs are serialized.
type Orchestrator struct {
	deps      Deps
	ledger    Ledger
	observers []func(*Result)

	mu sync.Mutex
}

// New creates an Orchestrator.
func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{deps: deps}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes every phase in order against the project at root. The
// returned Result is never nil; on failure it carries StatusFailed and the
// error is a *apperr.PhaseError naming the phase and path, or the context
// error when ctx ends between phases.
func (o *Orchestrator) Run(ctx context.Context, root string, opts Options) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	res := &Result{
		RunID:     uuid.NewString(),
		Root:      root,
		Output:    opts.Output,
		DryRun:    opts.DryRun,
		StartedAt: time.Now().UTC(),
	}
	logger := o.deps.Logger.With(slog.String("run_id", res.RunID))
	logger.Info("run started",
		slog.String("root", root),
		slog.String("output", opts.Output),
		slog.Bool("dry_run", opts.DryRun))

	err := o.run(ctx, logger, res, opts)

	res.FinishedAt = time.Now().UTC()
	res.Status = StatusCompleted
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		logger.Error("run failed", slog.String("error", err.Error()))
	} else {
		logger.Info("run completed",
			slog.Int("classes", res.Classes.Len()),
			slog.Int("written", len(res.Written)),
			slog.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))
	}

	if o.ledger != nil {
		// The ledger outlives a cancelled run.
		if lerr := o.ledger.RecordRun(context.WithoutCancel(ctx), res); lerr != nil {
			logger.Warn("ledger record failed", slog.String("error", lerr.Error()))
		}
	}
	for _, fn := range o.observers {
		fn(res)
	}
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, res *Result, opts Options) error {
	if opts.DryRun && opts.Output != "" {
		return fmt.Errorf("dry run and output directory are mutually exclusive")
	}

	an, err := o.analyze(ctx, logger, res.Root)
	if an != nil {
		res.Root = an.Root
		res.Classes = an.Classes
		res.Annotations = an.Annotations
	}
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := o.deps.Transformer.Transform(an.store, an.Annotations, an.Classes); err != nil {
		return apperr.New(apperr.PhaseTransform, apperr.ErrTransform, an.Root, err)
	}
	logger.Debug("transform finished")
	if err := ctx.Err(); err != nil {
		return err
	}

	dst, rec, err := o.target(an.Root, opts)
	if err != nil {
		return err
	}
	res.Written, err = o.deps.Writer.Flush(an.store, dst)
	if err != nil {
		return err
	}
	if rec != nil {
		if res.Changes, err = rec.Changes(); err != nil {
			return apperr.New(apperr.PhaseWrite, apperr.ErrWrite, an.Root, err)
		}
	}
	return nil
}

// target picks the provider the writer flushes into.
func (o *Orchestrator) target(root string, opts Options) (storage.Provider, *storage.Recorder, error) {
	dir := root
	if opts.Output != "" {
		if err := storage.Mirror(root, opts.Output); err != nil {
			return nil, nil, apperr.New(apperr.PhaseWrite, apperr.ErrWrite, opts.Output, err)
		}
		dir = opts.Output
	}
	fsys, err := storage.NewFS(dir)
	if err != nil {
		return nil, nil, apperr.New(apperr.PhaseWrite, apperr.ErrWrite, dir, err)
	}
	if opts.DryRun {
		rec := storage.NewRecorder(fsys)
		return rec, rec, nil
	}
	return fsys, nil, nil
}

// Analyze discovers and parses the project at root, extracts annotations and
// resolves the persistence-class set without transforming or writing.
func (o *Orchestrator) Analyze(ctx context.Context, root string) (*Analysis, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.analyze(ctx, o.deps.Logger, root)
}

func (o *Orchestrator) analyze(ctx context.Context, logger *slog.Logger, root string) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apperr.New(apperr.PhaseDiscover, apperr.ErrDiscovery, root, err)
	}

	store := artifact.NewStore(o.deps.Parser, o.deps.Layout, logger)
	if err := store.DiscoverAndParse(abs); err != nil {
		return nil, err
	}
	an := &Analysis{
		Root:        store.Root(),
		Entities:    len(store.Entities()),
		Controllers: len(store.Controllers()),
		Annotations: make(map[string]annotation.Record),
		store:       store,
	}

	// Annotations live in comments, so they come from the original files.
	for _, a := range store.Entities() {
		if err := ctx.Err(); err != nil {
			return an, err
		}
		rec, err := o.deps.Extractor.Extract(a.Path)
		if err != nil {
			return an, apperr.New(apperr.PhaseAnnotate, apperr.ErrExtract, a.Path, err)
		}
		an.Annotations[a.Identity] = rec
	}

	an.Classes = closure.Resolve(store.Entities(), o.deps.BaseClasses)
	for _, s := range an.Classes.Skipped {
		logger.Warn("entity skipped", slog.String("identity", s.Identity), slog.String("reason", s.Reason))
	}
	logger.Info("persistence classes resolved",
		slog.Int("classes", an.Classes.Len()),
		slog.Int("passes", an.Classes.Passes))
	return an, nil
}
