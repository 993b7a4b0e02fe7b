package syntax

import (
	"regexp"
	"strings"
)

// Expr is the parsed form of a class name or superclass reference.
type Expr interface {
	expr()
	String() string
}

// Ident is a bare constant or identifier, e.g. Account.
type Ident struct {
	Name string
}

// Qualified is a scoped constant path, e.g. ActiveRecord::Base or ::Base.
type Qualified struct {
	Parts  []string
	Rooted bool
}

// Literal is a symbol, string, number, nil or boolean literal.
type Literal struct {
	Text string
}

// OtherExpr is any expression railguard does not interpret, e.g.
// Struct.new(:a) or "<< self".
type OtherExpr struct {
	Text string
}

func (*Ident) expr()     {}
func (*Qualified) expr() {}
func (*Literal) expr()   {}
func (*OtherExpr) expr() {}

func (e *Ident) String() string { return e.Name }

func (e *Qualified) String() string {
	s := strings.Join(e.Parts, "::")
	if e.Rooted {
		return "::" + s
	}
	return s
}

func (e *Literal) String() string   { return e.Text }
func (e *OtherExpr) String() string { return e.Text }

var (
	constPathRe = regexp.MustCompile(`^(::)?[A-Za-z_]\w*(::[A-Za-z_]\w*)*$`)
	literalRe   = regexp.MustCompile(`^(:[A-Za-z_]\w*[?!]?|"[^"]*"|'[^']*'|-?\d+(\.\d+)?|nil|true|false)$`)
)

// ParseExpr classifies s into one of the expression variants. It never fails:
// anything it does not recognise becomes an OtherExpr.
func ParseExpr(s string) Expr {
	s = strings.TrimSpace(s)
	switch {
	case literalRe.MatchString(s):
		return &Literal{Text: s}
	case constPathRe.MatchString(s):
		rooted := strings.HasPrefix(s, "::")
		parts := strings.Split(strings.TrimPrefix(s, "::"), "::")
		if len(parts) == 1 && !rooted {
			return &Ident{Name: parts[0]}
		}
		return &Qualified{Parts: parts, Rooted: rooted}
	default:
		return &OtherExpr{Text: s}
	}
}

// EqualExpr reports whether a and b are syntactically identical. It does not
// resolve aliases or scopes: ::Base and Base are different expressions.
func EqualExpr(a, b Expr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case *Ident:
		y, ok := b.(*Ident)
		return ok && x.Name == y.Name
	case *Qualified:
		y, ok := b.(*Qualified)
		if !ok || x.Rooted != y.Rooted || len(x.Parts) != len(y.Parts) {
			return false
		}
		for i := range x.Parts {
			if x.Parts[i] != y.Parts[i] {
				return false
			}
		}
		return true
	case *Literal:
		y, ok := b.(*Literal)
		return ok && x.Text == y.Text
	case *OtherExpr:
		y, ok := b.(*OtherExpr)
		return ok && x.Text == y.Text
	}
	return false
}

// SimpleName returns the identifier name when e is an Ident.
func SimpleName(e Expr) (string, bool) {
	id, ok := e.(*Ident)
	if !ok {
		return "", false
	}
	return id.Name, true
}
