package expr

import "strings"

// Node is one operand or sub-expression of a parsed expression.
type Node interface {
	// text renders this node back to expression syntax after any rewrites
	// applied by Rewrite have mutated it in place.
	text() string
}

// PathSegment is one dotted component of an attribute path, optionally
// followed by one or more list-index brackets ("[3]").
type PathSegment struct {
	Name          string // literal identifier text, or "#placeholder" including the '#'
	IsPlaceholder bool
	Indices       []string // digits inside each trailing "[n]", in order
}

func (s PathSegment) text() string {
	var b strings.Builder
	b.WriteString(s.Name)
	for _, idx := range s.Indices {
		b.WriteByte('[')
		b.WriteString(idx)
		b.WriteByte(']')
	}
	return b.String()
}

// Path is an attribute path such as #pk, a.b[2].c, or a bare identifier.
type Path struct {
	Segments []PathSegment
	// isHashKey is set by Rewrite when this path's root segment resolves to
	// the table's (or a secondary index's) hash key attribute, so sibling
	// value operands compared against it can be routed through the key
	// codec too.
	isHashKey bool
}

func (p *Path) text() string {
	parts := make([]string, len(p.Segments))
	for i, s := range p.Segments {
		parts[i] = s.text()
	}
	return strings.Join(parts, ".")
}

// RootName returns the first path segment's literal text, e.g. "#pk" or
// "email", along with whether it is a name placeholder.
func (p *Path) RootName() (string, bool) {
	return p.Segments[0].Name, p.Segments[0].IsPlaceholder
}

// Value is a ":val" value placeholder operand.
type Value struct {
	Name string // includes the leading ':'
}

func (v *Value) text() string { return v.Name }

// Literal is a string or numeric literal operand, passed through unchanged.
type Literal struct {
	Text string
}

func (l *Literal) text() string { return l.Text }

// Func is a function-call operand: attribute_exists, attribute_not_exists,
// begins_with, contains, attribute_type, or size.
type Func struct {
	Name string
	Args []Node
}

func (f *Func) text() string {
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		parts[i] = a.text()
	}
	return f.Name + "(" + strings.Join(parts, ", ") + ")"
}

// Arith is a SET clause's "+"/"-" arithmetic combination, e.g. "qty - :dec".
type Arith struct {
	Left  Node
	Op    string // "+" or "-"
	Right Node
}

func (a *Arith) text() string { return a.Left.text() + " " + a.Op + " " + a.Right.text() }

// Comparison is a binary comparison "left op right" where op is one of
// = <> < <= > >=.
type Comparison struct {
	Left  Node
	Op    string
	Right Node
}

func (c *Comparison) text() string {
	return c.Left.text() + " " + c.Op + " " + c.Right.text()
}

// Between is "operand BETWEEN low AND high".
type Between struct {
	Operand   Node
	Low, High Node
}

func (b *Between) text() string {
	return b.Operand.text() + " BETWEEN " + b.Low.text() + " AND " + b.High.text()
}

// In is "operand IN (list...)".
type In struct {
	Operand Node
	List    []Node
}

func (in *In) text() string {
	parts := make([]string, len(in.List))
	for i, n := range in.List {
		parts[i] = n.text()
	}
	return in.Operand.text() + " IN (" + strings.Join(parts, ", ") + ")"
}

// Not is "NOT operand".
type Not struct {
	Operand Node
}

func (n *Not) text() string { return "NOT " + parenthesize(n.Operand, precedenceOf(n)) }

// And is a left-associative chain of AND-joined operands.
type And struct {
	Operands []Node
}

func (a *And) text() string {
	parts := make([]string, len(a.Operands))
	for i, n := range a.Operands {
		parts[i] = parenthesize(n, precedenceOf(a))
	}
	return strings.Join(parts, " AND ")
}

// Or is a left-associative chain of OR-joined operands, the lowest
// precedence node kind.
type Or struct {
	Operands []Node
}

func (o *Or) text() string {
	parts := make([]string, len(o.Operands))
	for i, n := range o.Operands {
		parts[i] = parenthesize(n, precedenceOf(o))
	}
	return strings.Join(parts, " OR ")
}

// precedenceOf ranks node kinds so the serializer only adds parentheses
// where operator precedence would otherwise change meaning: OR binds
// loosest, then AND, then NOT, then comparisons/BETWEEN/IN/functions/paths.
func precedenceOf(n Node) int {
	switch n.(type) {
	case *Or:
		return 0
	case *And:
		return 1
	case *Not:
		return 2
	default:
		return 3
	}
}

func parenthesize(n Node, parentPrec int) string {
	if precedenceOf(n) < parentPrec {
		return "(" + n.text() + ")"
	}
	return n.text()
}

// String renders a parsed expression node back to expression syntax.
func String(n Node) string { return n.text() }
