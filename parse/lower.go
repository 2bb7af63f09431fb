package parse

import (
	"fmt"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// program parses src and returns the decorated tree. A top level "=" turns
// the source into an AssignmentExpression, since expr has no assignment.
func program(src string) (*Program, error) {
	var (
		expr Node
		err  error
	)
	if lhs, rhs, ok := splitAssignment(src); ok {
		expr, err = assignment(lhs, rhs)
	} else {
		expr, err = single(src)
	}
	if err != nil {
		return nil, err
	}
	stmt := &ExpressionStatement{Expression: expr}
	stmt.constant = expr.Constant()
	p := &Program{Body: []*ExpressionStatement{stmt}}
	p.constant = stmt.constant
	return p, nil
}

func single(src string) (Node, error) {
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, &SyntaxError{Source: src, Err: err}
	}
	n, err := lower(tree.Node)
	if err != nil {
		return nil, &SyntaxError{Source: src, Err: err}
	}
	return n, nil
}

func assignment(lhs, rhs string) (Node, error) {
	left, err := single(lhs)
	if err != nil {
		return nil, err
	}
	switch left.(type) {
	case *Identifier, *MemberExpression:
	default:
		return nil, &SyntaxError{Source: lhs + "=" + rhs, Err: fmt.Errorf("cannot assign to %s", left.Kind())}
	}
	right, err := single(rhs)
	if err != nil {
		return nil, err
	}
	n := &AssignmentExpression{Left: left, Right: right}
	n.toWatch = []Node{n}
	return n, nil
}

// splitAssignment finds a lone "=" outside of quotes and brackets.
func splitAssignment(src string) (lhs, rhs string, ok bool) {
	depth := 0
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '=':
			if depth != 0 {
				continue
			}
			if i+1 < len(src) && (src[i+1] == '=' || src[i+1] == '>') {
				i++
				continue
			}
			if i > 0 && (src[i-1] == '!' || src[i-1] == '<' || src[i-1] == '>' || src[i-1] == '=') {
				continue
			}
			return src[:i], src[i+1:], true
		}
	}
	return "", "", false
}

func lower(n ast.Node) (Node, error) {
	switch n := n.(type) {
	case *ast.NilNode:
		return literal(nil), nil
	case *ast.BoolNode:
		return literal(n.Value), nil
	case *ast.IntegerNode:
		return literal(n.Value), nil
	case *ast.FloatNode:
		return literal(n.Value), nil
	case *ast.StringNode:
		return literal(n.Value), nil
	case *ast.ConstantNode:
		return literal(n.Value), nil

	case *ast.IdentifierNode:
		switch n.Value {
		case "this":
			return &ThisExpression{}, nil
		case "$locals":
			return &LocalsExpression{}, nil
		case "undefined", "null":
			return literal(nil), nil
		}
		id := &Identifier{Name: n.Value}
		id.toWatch = []Node{id}
		return id, nil

	case *ast.ChainNode:
		return lower(n.Node)

	case *ast.MemberNode:
		obj, err := lower(n.Node)
		if err != nil {
			return nil, err
		}
		m := &MemberExpression{Object: obj}
		if s, ok := n.Property.(*ast.StringNode); ok {
			m.Property = &Identifier{Name: s.Value}
			m.constant = obj.Constant()
		} else {
			prop, err := lower(n.Property)
			if err != nil {
				return nil, err
			}
			m.Property = prop
			m.Computed = true
			m.constant = obj.Constant() && prop.Constant()
		}
		if !m.constant {
			m.toWatch = []Node{m}
		}
		return m, nil

	case *ast.CallNode:
		callee, err := lower(n.Callee)
		if err != nil {
			return nil, err
		}
		return call(callee, n.Arguments, false)

	case *ast.BuiltinNode:
		callee := &Identifier{Name: n.Name}
		callee.toWatch = []Node{callee}
		return call(callee, n.Arguments, true)

	case *ast.UnaryNode:
		arg, err := lower(n.Node)
		if err != nil {
			return nil, err
		}
		op := n.Operator
		if op == "not" {
			op = "!"
		}
		u := &UnaryExpression{Operator: op, Argument: arg}
		u.constant = arg.Constant()
		u.toWatch = arg.ToWatch()
		return u, nil

	case *ast.BinaryNode:
		left, err := lower(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := lower(n.Right)
		if err != nil {
			return nil, err
		}
		switch n.Operator {
		case "&&", "and", "||", "or", "??":
			op := n.Operator
			switch op {
			case "and":
				op = "&&"
			case "or":
				op = "||"
			}
			l := &LogicalExpression{Operator: op, Left: left, Right: right}
			l.constant = left.Constant() && right.Constant()
			if !l.constant {
				l.toWatch = []Node{l}
			}
			return l, nil
		}
		b := &BinaryExpression{Operator: n.Operator, Left: left, Right: right}
		b.constant = left.Constant() && right.Constant()
		b.toWatch = concatWatch(left, right)
		return b, nil

	case *ast.ConditionalNode:
		test, err := lower(n.Cond)
		if err != nil {
			return nil, err
		}
		cons, err := lower(n.Exp1)
		if err != nil {
			return nil, err
		}
		alt, err := lower(n.Exp2)
		if err != nil {
			return nil, err
		}
		c := &ConditionalExpression{Test: test, Consequent: cons, Alternate: alt}
		c.constant = test.Constant() && cons.Constant() && alt.Constant()
		if !c.constant {
			c.toWatch = []Node{c}
		}
		return c, nil

	case *ast.ArrayNode:
		a := &ArrayExpression{}
		a.constant = true
		for _, e := range n.Nodes {
			el, err := lower(e)
			if err != nil {
				return nil, err
			}
			a.Elements = append(a.Elements, el)
			a.constant = a.constant && el.Constant()
			a.toWatch = append(a.toWatch, el.ToWatch()...)
		}
		return a, nil

	case *ast.MapNode:
		o := &ObjectExpression{}
		o.constant = true
		for _, p := range n.Pairs {
			pair, ok := p.(*ast.PairNode)
			if !ok {
				return nil, fmt.Errorf("unexpected %T in object literal", p)
			}
			key, err := pairKey(pair.Key)
			if err != nil {
				return nil, err
			}
			val, err := lower(pair.Value)
			if err != nil {
				return nil, err
			}
			prop := &Property{Key: key, Value: val}
			prop.constant = val.Constant()
			prop.toWatch = val.ToWatch()
			o.Properties = append(o.Properties, prop)
			o.constant = o.constant && prop.constant
			o.toWatch = append(o.toWatch, prop.toWatch...)
		}
		return o, nil
	}
	return nil, fmt.Errorf("unsupported syntax %T", n)
}

func call(callee Node, args []ast.Node, builtin bool) (Node, error) {
	c := &CallExpression{Callee: callee, Builtin: builtin}
	for _, a := range args {
		arg, err := lower(a)
		if err != nil {
			return nil, err
		}
		c.Arguments = append(c.Arguments, arg)
		c.toWatch = append(c.toWatch, arg.ToWatch()...)
	}
	return c, nil
}

func pairKey(n ast.Node) (string, error) {
	switch k := n.(type) {
	case *ast.StringNode:
		return k.Value, nil
	case *ast.IdentifierNode:
		return k.Value, nil
	case *ast.IntegerNode:
		return fmt.Sprint(k.Value), nil
	}
	return "", fmt.Errorf("unsupported object key %T", n)
}

func literal(v any) *Literal {
	l := &Literal{Value: v}
	l.constant = true
	return l
}

func concatWatch(nodes ...Node) []Node {
	var out []Node
	for _, n := range nodes {
		out = append(out, n.ToWatch()...)
	}
	return out
}
