package syntax

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/ruby"
)

// ParseError reports source text the Ruby grammar rejects.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Ruby parses Ruby source with the tree-sitter grammar. Class, module and
// singleton class definitions become declarations; every other statement is
// kept as its verbatim source text, so method bodies, chained blocks and
// multi-line calls pass through untouched. Comments between statements are
// not retained.
type Ruby struct{}

var _ Parser = Ruby{}

// Parse implements Parser.
func (Ruby) Parse(src []byte) (*File, error) {
	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(ruby.GetLanguage())

	tree, err := p.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("syntax: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, syntaxError(root, src)
	}
	b := builder{src: src}
	f := &File{Body: b.statements(root)}
	f.Data, f.HasData = dataSection(root, src)
	return f, nil
}

type builder struct {
	src []byte
}

// statements converts the named children of n that are not in skip.
func (b builder) statements(n *sitter.Node, skip ...*sitter.Node) []Node {
	var out []Node
	var open *Stmt
	var openStart uint32
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if contains(skip, c) {
			continue
		}
		switch c.Type() {
		case "comment", "empty_statement", "uninterpreted":
			continue
		case "body_statement":
			out = append(out, b.statements(c)...)
			open = nil
			continue
		case "heredoc_body":
			// The body follows the line that opened it.
			if open != nil {
				open.Text = b.text(openStart, c.EndByte())
			}
			continue
		case "class":
			if decl, ok := b.class(c); ok {
				out = append(out, decl)
				open = nil
				continue
			}
		case "singleton_class":
			if v := c.ChildByFieldName("value"); v != nil {
				decl := &ClassDecl{Name: &OtherExpr{Text: "<< " + v.Content(b.src)}}
				decl.Body = b.statements(c, v)
				out = append(out, decl)
				open = nil
				continue
			}
		case "module":
			if name := c.ChildByFieldName("name"); name != nil {
				out = append(out, &ModuleDecl{Name: ParseExpr(name.Content(b.src)), Body: b.statements(c, name)})
				open = nil
				continue
			}
		}
		open = &Stmt{Text: b.text(c.StartByte(), c.EndByte())}
		openStart = c.StartByte()
		out = append(out, open)
	}
	return out
}

func (b builder) class(n *sitter.Node) (*ClassDecl, bool) {
	name := n.ChildByFieldName("name")
	if name == nil {
		return nil, false
	}
	decl := &ClassDecl{Name: ParseExpr(name.Content(b.src))}
	skip := []*sitter.Node{name}
	if sup := n.ChildByFieldName("superclass"); sup != nil {
		skip = append(skip, sup)
		expr := sup
		if sup.NamedChildCount() > 0 {
			expr = sup.NamedChild(0)
		}
		decl.Parent = ParseExpr(expr.Content(b.src))
	}
	decl.Body = b.statements(n, skip...)
	return decl, true
}

func (b builder) text(start, end uint32) string {
	s := strings.ReplaceAll(string(b.src[start:end]), "\r\n", "\n")
	return strings.TrimRight(s, "\n")
}

func contains(nodes []*sitter.Node, n *sitter.Node) bool {
	for _, s := range nodes {
		if s.StartByte() == n.StartByte() && s.EndByte() == n.EndByte() && s.Type() == n.Type() {
			return true
		}
	}
	return false
}

var endMarker = []byte("__END__")

// dataSection returns everything after the line holding __END__.
func dataSection(root *sitter.Node, src []byte) (string, bool) {
	for i := 0; i < int(root.ChildCount()); i++ {
		c := root.Child(i)
		if c.Type() != "__END__" && c.Type() != "uninterpreted" {
			continue
		}
		at := int(c.StartByte())
		if k := bytes.LastIndex(src[:at], endMarker); k >= 0 && c.Type() == "uninterpreted" {
			at = k
		}
		nl := bytes.IndexByte(src[at:], '\n')
		if nl < 0 {
			return "", true
		}
		return string(src[at+nl+1:]), true
	}
	return "", false
}

func syntaxError(root *sitter.Node, src []byte) *ParseError {
	bad := firstError(root)
	if bad == nil {
		return &ParseError{Line: 1, Msg: "invalid syntax"}
	}
	line := int(bad.StartPoint().Row) + 1
	if bad.IsMissing() {
		return &ParseError{Line: line, Msg: fmt.Sprintf("missing %q", bad.Type())}
	}
	text, _, _ := strings.Cut(bad.Content(src), "\n")
	if len(text) > 40 {
		text = text[:40] + "..."
	}
	return &ParseError{Line: line, Msg: fmt.Sprintf("unexpected %q", text)}
}

// firstError returns the first ERROR or MISSING node in source order.
func firstError(n *sitter.Node) *sitter.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	if !n.HasError() {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if bad := firstError(n.Child(i)); bad != nil {
			return bad
		}
	}
	return nil
}

// Unparse implements Parser. Declarations and blocks use two-space
// indentation; continuation lines of a multi-line statement are written as
// they were read.
func (Ruby) Unparse(f *File) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("syntax: nil file")
	}
	var b strings.Builder
	if err := printNodes(&b, f.Body, 0); err != nil {
		return nil, err
	}
	if f.HasData {
		b.WriteString("__END__\n")
		b.WriteString(f.Data)
	}
	return []byte(b.String()), nil
}

func printNodes(b *strings.Builder, nodes []Node, depth int) error {
	indent := strings.Repeat("  ", depth)
	for _, n := range nodes {
		switch v := n.(type) {
		case *Stmt:
			b.WriteString(indent + v.Text + "\n")
		case *ClassDecl:
			if v.Name == nil {
				return fmt.Errorf("syntax: class without a name")
			}
			b.WriteString(indent + "class " + v.Name.String())
			if v.Parent != nil {
				b.WriteString(" < " + v.Parent.String())
			}
			b.WriteString("\n")
			if err := printNodes(b, v.Body, depth+1); err != nil {
				return err
			}
			b.WriteString(indent + "end\n")
		case *ModuleDecl:
			if v.Name == nil {
				return fmt.Errorf("syntax: module without a name")
			}
			b.WriteString(indent + "module " + v.Name.String() + "\n")
			if err := printNodes(b, v.Body, depth+1); err != nil {
				return err
			}
			b.WriteString(indent + "end\n")
		case *Block:
			b.WriteString(indent + v.Header + "\n")
			if err := printNodes(b, v.Body, depth+1); err != nil {
				return err
			}
			for _, c := range v.Clauses {
				b.WriteString(indent + c.Header + "\n")
				if err := printNodes(b, c.Body, depth+1); err != nil {
					return err
				}
			}
			b.WriteString(indent + v.Closer + v.Tail + "\n")
		default:
			return fmt.Errorf("syntax: cannot print %T", n)
		}
	}
	return nil
}
