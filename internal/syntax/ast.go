// Package syntax defines the tagged-variant syntax tree railguard rewrites and the
// parser/unparser pair that converts source text to and from it.
package syntax

// Node is one statement-level element of a parsed source file.
type Node interface {
	node()
}

// File is the root of a parsed source file.
type File struct {
	Body []Node
	// HasData is set when the source carries an __END__ marker; Data holds
	// everything after it, verbatim.
	HasData bool
	Data    string
}

// ClassDecl is a class definition. Parent is nil when the class has no
// explicit superclass.
type ClassDecl struct {
	Name   Expr
	Parent Expr
	Body   []Node
}

// ModuleDecl is a module definition.
type ModuleDecl struct {
	Name Expr
	Body []Node
}

// Block is a construct with a header line, a nested body and a closing
// token, such as a method definition or a case expression. Parse keeps such
// constructs as Stmt text; rewriters build Blocks for code they add.
type Block struct {
	Header  string
	Body    []Node
	Clauses []*Clause
	Closer  string
	// Tail is whatever follows the closing token on the same line.
	Tail string
}

// Clause is a mid-block section such as else, elsif, when, rescue or ensure.
type Clause struct {
	Header string
	Body   []Node
}

// Stmt is an opaque statement. Text may span several lines, for a method
// body or a heredoc; continuation lines are kept verbatim.
type Stmt struct {
	Text string
}

func (*ClassDecl) node()  {}
func (*ModuleDecl) node() {}
func (*Block) node()      {}
func (*Stmt) node()       {}

// NewStmt returns a statement node for a single line of source.
func NewStmt(text string) *Stmt {
	return &Stmt{Text: text}
}

// Parser converts between source text and syntax trees.
type Parser interface {
	Parse(src []byte) (*File, error)
	Unparse(f *File) ([]byte, error)
}
