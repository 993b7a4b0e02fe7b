package syntax

// children returns the nested nodes of n in source order.
func children(n Node) []Node {
	switch v := n.(type) {
	case *ClassDecl:
		return v.Body
	case *ModuleDecl:
		return v.Body
	case *Block:
		out := append([]Node(nil), v.Body...)
		for _, c := range v.Clauses {
			out = append(out, c.Body...)
		}
		return out
	}
	return nil
}

// FirstClass returns the first class declaration in a depth-first, pre-order
// walk of f, or false when the file declares no class.
func FirstClass(f *File) (*ClassDecl, bool) {
	return first[*ClassDecl](f)
}

// FirstModule returns the first module declaration in a depth-first,
// pre-order walk of f.
func FirstModule(f *File) (*ModuleDecl, bool) {
	return first[*ModuleDecl](f)
}

func first[T Node](f *File) (T, bool) {
	var zero T
	if f == nil {
		return zero, false
	}
	stack := make([]Node, 0, len(f.Body))
	for i := len(f.Body) - 1; i >= 0; i-- {
		stack = append(stack, f.Body[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if v, ok := n.(T); ok {
			return v, true
		}
		kids := children(n)
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	return zero, false
}

// Prepend inserts nodes at the top of the class body.
func (c *ClassDecl) Prepend(nodes ...Node) {
	c.Body = append(append([]Node(nil), nodes...), c.Body...)
}

// Prepend inserts nodes at the top of the module body.
func (m *ModuleDecl) Prepend(nodes ...Node) {
	m.Body = append(append([]Node(nil), nodes...), m.Body...)
}

// Append adds nodes at the bottom of the module body.
func (m *ModuleDecl) Append(nodes ...Node) {
	m.Body = append(m.Body, nodes...)
}
