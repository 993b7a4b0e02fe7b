// Package closure computes which entity classes derive, directly or through a
// chain of subclasses, from a persistence base class.
package closure

import (
	"fmt"
	"slices"

	"github.com/starford/railguard/internal/artifact"
	"github.com/starford/railguard/internal/syntax"
)

// Set is the resolved persistence-class set. Names and Identities are
// parallel: Names[i] is declared in the entity artifact Identities[i].
type Set struct {
	Names      []string `json:"names"`
	Identities []string `json:"identities"`

	// Passes counts full scans, including the final scan that added nothing.
	Passes int `json:"passes"`
	// Sizes holds the set size after each pass.
	Sizes []int `json:"sizes"`
	// Skipped lists entities that were never candidates.
	Skipped []Skip `json:"skipped,omitempty"`
}

// Skip records an entity excluded from resolution because of its shape.
type Skip struct {
	Identity string `json:"identity"`
	Reason   string `json:"reason"`
}

// Len returns the number of persistence classes.
func (s *Set) Len() int {
	return len(s.Names)
}

// Contains reports whether name is a persistence class.
func (s *Set) Contains(name string) bool {
	return slices.Contains(s.Names, name)
}

// HasIdentity reports whether the entity artifact identity defines a
// persistence class.
func (s *Set) HasIdentity(identity string) bool {
	return slices.Contains(s.Identities, identity)
}

type candidate struct {
	identity string
	name     string
	parent   syntax.Expr
}

// Resolve runs a fixed-point scan over entities. A class joins the set when
// its parent expression is syntactically equal to one of bases, or to the
// bare name of a class already in the set at the start of the pass. Scans
// repeat until one adds nothing, so a chain of n subclasses converges in n
// productive passes regardless of artifact order.
func Resolve(entities []*artifact.Artifact, bases []string) *Set {
	set := &Set{Names: []string{}, Identities: []string{}}

	baseForms := make([]syntax.Expr, 0, len(bases))
	for _, b := range bases {
		baseForms = append(baseForms, syntax.ParseExpr(b))
	}

	var pending []candidate
	for _, a := range entities {
		decl, ok := syntax.FirstClass(a.File)
		if !ok {
			set.Skipped = append(set.Skipped, Skip{Identity: a.Identity, Reason: "no class declaration"})
			continue
		}
		name, ok := syntax.SimpleName(decl.Name)
		if !ok {
			set.Skipped = append(set.Skipped, Skip{
				Identity: a.Identity,
				Reason:   fmt.Sprintf("class name %q is not a simple identifier", decl.Name.String()),
			})
			continue
		}
		pending = append(pending, candidate{identity: a.Identity, name: name, parent: decl.Parent})
	}

	for {
		set.Passes++
		known := make([]syntax.Expr, 0, len(set.Names))
		for _, n := range set.Names {
			known = append(known, &syntax.Ident{Name: n})
		}

		var rest []candidate
		for _, c := range pending {
			if matchesAny(c.parent, baseForms) || matchesAny(c.parent, known) {
				set.Names = append(set.Names, c.name)
				set.Identities = append(set.Identities, c.identity)
				continue
			}
			rest = append(rest, c)
		}
		set.Sizes = append(set.Sizes, len(set.Names))

		if len(rest) == len(pending) {
			return set
		}
		pending = rest
	}
}

func matchesAny(parent syntax.Expr, forms []syntax.Expr) bool {
	if parent == nil {
		return false
	}
	for _, f := range forms {
		if syntax.EqualExpr(parent, f) {
			return true
		}
	}
	return false
}
