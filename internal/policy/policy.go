// Package policy reads the line-oriented guard policy file of a project.
//
// The first ten lines name the handler for each access-violation kind, in
// the order of Kinds. Text after a '#' on those lines is ignored. Every
// following line belongs to the pass-user block, which is copied verbatim.
package policy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// Kind is one access-violation category.
type Kind string

const (
	SingleModelRead    Kind = "single_model_read"
	ManyModelRead      Kind = "many_model_read"
	ModelCreate        Kind = "model_create"
	ModelDestroy       Kind = "model_destroy"
	AttRead            Kind = "att_read"
	AttWrite           Kind = "att_write"
	SingularAssocRead  Kind = "singular_assoc_read"
	SingularAssocWrite Kind = "singular_assoc_write"
	PluralAssocRead    Kind = "plural_assoc_read"
	PluralAssocWrite   Kind = "plural_assoc_write"
)

// Kinds lists every kind in file order.
var Kinds = []Kind{
	SingleModelRead, ManyModelRead, ModelCreate, ModelDestroy,
	AttRead, AttWrite, SingularAssocRead, SingularAssocWrite,
	PluralAssocRead, PluralAssocWrite,
}

// Policy is a parsed policy file.
type Policy struct {
	// ErrorCases maps each kind present in the file to its handler
	// expression. A short file leaves trailing kinds unset.
	ErrorCases map[Kind]string
	// PassUser holds the pass-user block lines.
	PassUser []string
}

// Handler returns the handler for kind, or "" when none is configured.
func (p *Policy) Handler(kind Kind) string {
	if p == nil {
		return ""
	}
	return p.ErrorCases[kind]
}

// Load reads the policy file at path.
func Load(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open policy: %w", err)
	}
	defer f.Close()

	p, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", path, err)
	}
	return p, nil
}

// LoadOptional is Load, except that a missing file yields a nil policy and
// no error.
func LoadOptional(path string) (*Policy, error) {
	p, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return p, err
}

// Parse reads a policy from r.
func Parse(r io.Reader) (*Policy, error) {
	p := &Policy{ErrorCases: make(map[Kind]string, len(Kinds))}
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		line := sc.Text()
		if n < len(Kinds) {
			handler, _, _ := strings.Cut(line, "#")
			p.ErrorCases[Kinds[n]] = strings.TrimSpace(handler)
		} else {
			p.PassUser = append(p.PassUser, line)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return p, nil
}
