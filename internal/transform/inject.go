// Package transform rewrites parsed artifacts to add guard logic.
package transform

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/starford/railguard/internal/annotation"
	"github.com/starford/railguard/internal/artifact"
	"github.com/starford/railguard/internal/closure"
	"github.com/starford/railguard/internal/policy"
	"github.com/starford/railguard/internal/syntax"
)

// Transformer mutates the artifacts of a store in place. ann is keyed by
// entity identity; set is the resolved persistence-class set.
type Transformer interface {
	Transform(store *artifact.Store, ann map[string]annotation.Record, set *closure.Set) error
}

// Func adapts a function to Transformer.
type Func func(store *artifact.Store, ann map[string]annotation.Record, set *closure.Set) error

// Transform implements Transformer.
func (f Func) Transform(store *artifact.Store, ann map[string]annotation.Record, set *closure.Set) error {
	return f(store, ann, set)
}

// Injector is the default Transformer. It mixes the guard module into every
// persistence class, every controller and the view helper, and turns each
// entity annotation into a guard declaration. Entities outside the
// persistence set are left untouched.
//
// When PolicyFile names an existing file below the store root, the helper
// also receives the policy's error-case and pass-user methods.
type Injector struct {
	Module     string
	PolicyFile string
	Logger     *slog.Logger
}

// Transform implements Transformer.
func (in *Injector) Transform(store *artifact.Store, ann map[string]annotation.Record, set *closure.Set) error {
	entityMixin := "include " + in.Module
	for _, a := range store.Entities() {
		if !set.HasIdentity(a.Identity) {
			continue
		}
		decl, ok := syntax.FirstClass(a.File)
		if !ok {
			return fmt.Errorf("persistence entity %s has no class", a.Identity)
		}
		if includes(decl.Body, entityMixin) {
			in.Logger.Debug("entity already guarded", slog.String("identity", a.Identity))
			continue
		}
		nodes := []syntax.Node{syntax.NewStmt(entityMixin)}
		for _, an := range ann[a.Identity].Annotations {
			nodes = append(nodes, syntax.NewStmt(guardCall(an)))
		}
		decl.Prepend(nodes...)
		in.Logger.Debug("entity guarded",
			slog.String("identity", a.Identity),
			slog.Int("guards", len(nodes)-1))
	}

	controllerMixin := "include " + in.Module + "::Controller"
	for _, a := range store.Controllers() {
		decl, ok := syntax.FirstClass(a.File)
		if !ok || includes(decl.Body, controllerMixin) {
			continue
		}
		decl.Prepend(syntax.NewStmt(controllerMixin))
	}

	var pol *policy.Policy
	if in.PolicyFile != "" {
		var err error
		pol, err = policy.LoadOptional(filepath.Join(store.Root(), filepath.FromSlash(in.PolicyFile)))
		if err != nil {
			return err
		}
	}
	return in.helper(store.Helper(), pol)
}

func (in *Injector) helper(a *artifact.Artifact, pol *policy.Policy) error {
	if a == nil {
		return fmt.Errorf("no helper artifact")
	}
	mod, ok := syntax.FirstModule(a.File)
	if !ok {
		return fmt.Errorf("helper %s declares no module", a.Path)
	}
	mixin := "include " + in.Module + "::Helper"
	if includes(mod.Body, mixin) {
		return nil
	}
	mod.Prepend(syntax.NewStmt(mixin))
	if pol == nil {
		return nil
	}
	in.Logger.Debug("policy applied", slog.String("file", in.PolicyFile), slog.Int("cases", len(pol.ErrorCases)))
	mod.Append(errorCaseMethod(pol), passUserMethod(pol))
	return nil
}

func guardCall(an annotation.Annotation) string {
	if an.Args == "" {
		return "guard :" + an.Name
	}
	return "guard :" + an.Name + ", " + an.Args
}

// errorCaseMethod builds guard_error_case(kind), which evaluates the
// configured handler for kind.
func errorCaseMethod(p *policy.Policy) syntax.Node {
	sel := &syntax.Block{Header: "case kind", Closer: "end"}
	for _, k := range policy.Kinds {
		h := p.Handler(k)
		if h == "" {
			continue
		}
		sel.Clauses = append(sel.Clauses, &syntax.Clause{
			Header: "when :" + string(k),
			Body:   []syntax.Node{syntax.NewStmt(h)},
		})
	}
	if len(sel.Clauses) == 0 {
		return &syntax.Block{Header: "def guard_error_case(kind)", Body: []syntax.Node{syntax.NewStmt("nil")}, Closer: "end"}
	}
	return &syntax.Block{Header: "def guard_error_case(kind)", Body: []syntax.Node{sel}, Closer: "end"}
}

func passUserMethod(p *policy.Policy) syntax.Node {
	m := &syntax.Block{Header: "def guard_pass_user", Closer: "end"}
	for _, line := range p.PassUser {
		if line = strings.TrimSpace(line); line != "" {
			m.Body = append(m.Body, syntax.NewStmt(line))
		}
	}
	return m
}

func includes(body []syntax.Node, stmt string) bool {
	for _, n := range body {
		if s, ok := n.(*syntax.Stmt); ok && strings.TrimSpace(s.Text) == stmt {
			return true
		}
	}
	return false
}
