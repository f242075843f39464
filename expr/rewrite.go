package expr

import (
	"fmt"

	"github.com/acksell/mtdynamo"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Role names which of the five expression grammars a piece of text is
// written in, since Rewrite needs to pick the matching parser.
type Role int

const (
	RoleCondition Role = iota
	RoleFilter
	RoleKeyCondition
	RoleProjection
	RoleUpdate
)

func (r Role) String() string {
	switch r {
	case RoleCondition:
		return "condition"
	case RoleFilter:
		return "filter"
	case RoleKeyCondition:
		return "key-condition"
	case RoleProjection:
		return "projection"
	case RoleUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// FieldRewriter resolves a virtual attribute name referenced by an
// expression to its physical counterpart, and rewrites values compared
// against a hash key attribute through the key codec. A TableMapping is the
// only implementation used in this repository.
type FieldRewriter interface {
	// RewriteField returns the physical field name for virtualName and
	// whether it is a hash key (primary or secondary-index). ok is false if
	// virtualName is not a mapped key attribute, in which case the caller
	// must leave it untouched.
	RewriteField(virtualName string) (physicalName string, isHashKey bool, ok bool)
	// RewriteHashValue converts a virtual hash key value into its physical
	// composite-encoded form.
	RewriteHashValue(v types.AttributeValue) (types.AttributeValue, error)
}

// Rewrite rewrites text (interpreted per role) so that every reference to a
// mapped key attribute — whether a literal identifier or a #name
// placeholder — names its physical field instead, and every value compared
// against a hash key attribute is routed through fr.RewriteHashValue. It
// returns the rewritten text and copies of names/values extended with any
// new or changed entries; the inputs are never mutated.
func Rewrite(role Role, text string, names map[string]string, values map[string]types.AttributeValue, fr FieldRewriter) (string, map[string]string, map[string]types.AttributeValue, error) {
	outNames := copyNames(names)
	outValues := copyValues(values)

	rw := &rewriter{fr: fr, names: names, values: values, outNames: outNames, outValues: outValues}

	switch role {
	case RoleProjection:
		paths, err := ParseProjection(text)
		if err != nil {
			return "", nil, nil, fmt.Errorf("expr: parsing %s expression: %w", role, err)
		}
		for _, p := range paths {
			if err := rw.rewritePath(p); err != nil {
				return "", nil, nil, err
			}
		}
		return joinPaths(paths), rw.outNames, rw.outValues, nil

	case RoleUpdate:
		clauses, err := ParseUpdate(text)
		if err != nil {
			return "", nil, nil, fmt.Errorf("expr: parsing %s expression: %w", role, err)
		}
		for i := range clauses {
			if err := rw.rewritePath(clauses[i].Target); err != nil {
				return "", nil, nil, err
			}
			if clauses[i].Target.isHashKey {
				return "", nil, nil, mtdynamo.Errorf(mtdynamo.KindUnsupportedOperation,
					"update expression targets hash key attribute %q", clauses[i].Target.text())
			}
			if clauses[i].Value != nil {
				if err := rw.rewriteNode(clauses[i].Value); err != nil {
					return "", nil, nil, err
				}
			}
		}
		return renderUpdate(clauses), rw.outNames, rw.outValues, nil

	default: // RoleCondition, RoleFilter, RoleKeyCondition
		node, err := Parse(text)
		if err != nil {
			return "", nil, nil, fmt.Errorf("expr: parsing %s expression: %w", role, err)
		}
		if err := rw.rewriteNode(node); err != nil {
			return "", nil, nil, err
		}
		return node.text(), rw.outNames, rw.outValues, nil
	}
}

type rewriter struct {
	fr        FieldRewriter
	names     map[string]string
	values    map[string]types.AttributeValue
	outNames  map[string]string
	outValues map[string]types.AttributeValue
}

// rewriteNode walks n, rewriting path field names in place and, where a
// hash-key path is directly compared against a value placeholder, routing
// that value through the key codec.
func (rw *rewriter) rewriteNode(n Node) error {
	switch v := n.(type) {
	case *Path:
		return rw.rewritePath(v)
	case *Value, *Literal:
		return nil
	case *Func:
		for _, a := range v.Args {
			if err := rw.rewriteNode(a); err != nil {
				return err
			}
		}
		return nil
	case *Not:
		return rw.rewriteNode(v.Operand)
	case *And:
		for _, o := range v.Operands {
			if err := rw.rewriteNode(o); err != nil {
				return err
			}
		}
		return nil
	case *Or:
		for _, o := range v.Operands {
			if err := rw.rewriteNode(o); err != nil {
				return err
			}
		}
		return nil
	case *Arith:
		if err := rw.rewriteNode(v.Left); err != nil {
			return err
		}
		return rw.rewriteNode(v.Right)
	case *Comparison:
		if err := rw.rewriteNode(v.Left); err != nil {
			return err
		}
		if err := rw.rewriteNode(v.Right); err != nil {
			return err
		}
		if v.Op != "=" {
			return nil
		}
		if err := rw.rewriteHashValueSide(v.Left, v.Right); err != nil {
			return err
		}
		return rw.rewriteHashValueSide(v.Right, v.Left)
	case *Between:
		if err := rw.rewriteNode(v.Operand); err != nil {
			return err
		}
		if err := rw.rewriteNode(v.Low); err != nil {
			return err
		}
		if err := rw.rewriteNode(v.High); err != nil {
			return err
		}
		if path, ok := v.Operand.(*Path); ok && path.isHashKey {
			if err := rw.rewriteHashValue(v.Low); err != nil {
				return err
			}
			if err := rw.rewriteHashValue(v.High); err != nil {
				return err
			}
		}
		return nil
	case *In:
		if err := rw.rewriteNode(v.Operand); err != nil {
			return err
		}
		for _, item := range v.List {
			if err := rw.rewriteNode(item); err != nil {
				return err
			}
		}
		if path, ok := v.Operand.(*Path); ok && path.isHashKey {
			for _, item := range v.List {
				if err := rw.rewriteHashValue(item); err != nil {
					return err
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("expr: unhandled node type %T", n)
	}
}

// rewriteHashValueSide rewrites other's value if side is a hash-key path
// and other is a value placeholder.
func (rw *rewriter) rewriteHashValueSide(side, other Node) error {
	path, ok := side.(*Path)
	if !ok || !path.isHashKey {
		return nil
	}
	return rw.rewriteHashValue(other)
}

func (rw *rewriter) rewriteHashValue(n Node) error {
	val, ok := n.(*Value)
	if !ok {
		return nil
	}
	// Always encode the caller's original value, so a placeholder compared
	// against a hash key more than once is encoded exactly once.
	original, ok := rw.values[val.Name]
	if !ok {
		return fmt.Errorf("expr: value placeholder %q has no bound value", val.Name)
	}
	rewritten, err := rw.fr.RewriteHashValue(original)
	if err != nil {
		return fmt.Errorf("expr: rewriting hash key value for %q: %w", val.Name, err)
	}
	rw.outValues[val.Name] = rewritten
	return nil
}

func (rw *rewriter) rewritePath(p *Path) error {
	root := &p.Segments[0]
	virtualName := root.Name
	if root.IsPlaceholder {
		resolved, ok := rw.names[root.Name]
		if !ok {
			return fmt.Errorf("expr: name placeholder %q has no bound name", root.Name)
		}
		virtualName = resolved
	}
	physicalName, isHashKey, ok := rw.fr.RewriteField(virtualName)
	if !ok {
		return nil
	}
	p.isHashKey = isHashKey
	if root.IsPlaceholder {
		rw.outNames[root.Name] = physicalName
	} else {
		root.Name = physicalName
	}
	return nil
}

func copyNames(names map[string]string) map[string]string {
	out := make(map[string]string, len(names))
	for k, v := range names {
		out[k] = v
	}
	return out
}

func copyValues(values map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func joinPaths(paths []*Path) string {
	s := ""
	for i, p := range paths {
		if i > 0 {
			s += ", "
		}
		s += p.text()
	}
	return s
}

func renderUpdate(clauses []UpdateClause) string {
	if len(clauses) == 0 {
		return ""
	}
	s := ""
	action := ""
	for _, c := range clauses {
		if c.Action != action {
			if action != "" {
				s += " "
			}
			s += c.Action + " "
			action = c.Action
		} else {
			s += ", "
		}
		s += c.Target.text()
		switch c.Action {
		case "SET":
			s += " = " + c.Value.text()
		case "ADD", "DELETE":
			s += " " + c.Value.text()
		}
	}
	return s
}
