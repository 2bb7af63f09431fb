package scope

import (
	"errors"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/delaneyj/ngscope/parse"
)

// watchKey is one trigger key. owner is the node whose value holds the key,
// nil for a bare identifier read off the scope.
type watchKey struct {
	name  string
	owner parse.Node
}

// keyExtractor derives trigger keys from a decorated tree. It implements
// parse.Visitor so every node kind has an explicit rule.
type keyExtractor struct {
	keys []watchKey
	seen mapset.Set[watchKey]

	// listening is false for watches registered without a listener.
	listening bool
	// immediate asks for a check right after registration.
	immediate bool
	// fireAndForget marks an assignment watched without a listener.
	fireAndForget bool
}

func extractKeys(n parse.Node, listening bool) (*keyExtractor, error) {
	x := &keyExtractor{seen: mapset.NewThreadUnsafeSet[watchKey](), listening: listening}
	if err := n.Accept(x); err != nil {
		return nil, err
	}
	return x, nil
}

func (x *keyExtractor) add(name string, owner parse.Node) {
	k := watchKey{name: name, owner: owner}
	if x.seen.Add(k) {
		x.keys = append(x.keys, k)
	}
}

// each visits nodes, ignoring the ones that carry no key, and fails with
// ErrNoWatchKey when none of them produced one.
func (x *keyExtractor) each(nodes []parse.Node) error {
	before := len(x.keys)
	for _, n := range nodes {
		if err := n.Accept(x); err != nil {
			var unsupported *UnsupportedNodeError
			if errors.As(err, &unsupported) || errors.Is(err, ErrNoWatchKey) {
				continue
			}
			return err
		}
	}
	if len(x.keys) == before {
		return ErrNoWatchKey
	}
	return nil
}

func rootIdentifier(n parse.Node) *parse.Identifier {
	for {
		switch m := n.(type) {
		case *parse.Identifier:
			return m
		case *parse.MemberExpression:
			n = m.Object
		case *parse.CallExpression:
			n = m.Callee
		default:
			return nil
		}
	}
}

func (x *keyExtractor) VisitIdentifier(n *parse.Identifier) error {
	x.add(n.Name, nil)
	return nil
}

func (x *keyExtractor) VisitMemberExpression(n *parse.MemberExpression) error {
	if name, ok := n.PropertyName(); ok {
		x.add(name, n.Object)
		return nil
	}
	root := rootIdentifier(n.Object)
	if root == nil {
		return ErrNoWatchKey
	}
	x.add(root.Name, nil)
	return nil
}

func (x *keyExtractor) VisitBinaryExpression(n *parse.BinaryExpression) error {
	return x.each(n.ToWatch())
}

func (x *keyExtractor) VisitUnaryExpression(n *parse.UnaryExpression) error {
	return x.each(n.ToWatch())
}

func (x *keyExtractor) VisitLogicalExpression(n *parse.LogicalExpression) error {
	before := len(x.keys)
	for _, side := range []parse.Node{n.Left, n.Right} {
		if w := side.ToWatch(); len(w) > 0 {
			if err := x.each(w[:1]); err != nil && !errors.Is(err, ErrNoWatchKey) {
				return err
			}
		}
	}
	if len(x.keys) == before {
		return ErrNoWatchKey
	}
	return nil
}

func (x *keyExtractor) VisitCallExpression(n *parse.CallExpression) error {
	for _, w := range n.ToWatch() {
		if id, ok := w.(*parse.Identifier); ok {
			x.add(id.Name, nil)
		}
	}
	x.immediate = true
	return nil
}

func (x *keyExtractor) VisitArrayExpression(n *parse.ArrayExpression) error {
	for _, el := range n.Elements {
		switch el.(type) {
		case *parse.Identifier, *parse.MemberExpression:
			if err := el.Accept(x); err != nil && !errors.Is(err, ErrNoWatchKey) {
				return err
			}
		}
	}
	if len(x.keys) == 0 {
		x.immediate = true
	}
	return nil
}

func (x *keyExtractor) VisitObjectExpression(n *parse.ObjectExpression) error {
	if len(n.Properties) == 0 {
		return ErrNoWatchKey
	}
	for _, p := range n.Properties {
		switch v := p.Value.(type) {
		case *parse.Identifier:
			x.add(v.Name, nil)
		case *parse.MemberExpression:
			if err := v.Accept(x); err == nil {
				continue
			}
			x.add(n.Properties[0].Key, nil)
		default:
			x.add(n.Properties[0].Key, nil)
		}
	}
	return nil
}

func (x *keyExtractor) VisitConditionalExpression(n *parse.ConditionalExpression) error {
	switch n.Test.(type) {
	case *parse.Identifier, *parse.MemberExpression, *parse.LogicalExpression,
		*parse.BinaryExpression, *parse.UnaryExpression, *parse.ConditionalExpression:
		return n.Test.Accept(x)
	}
	return ErrNoWatchKey
}

func (x *keyExtractor) VisitAssignmentExpression(n *parse.AssignmentExpression) error {
	if !x.listening {
		x.fireAndForget = true
		return nil
	}
	return n.Left.Accept(x)
}

func (x *keyExtractor) unsupported(n parse.Node) error {
	return &UnsupportedNodeError{Kind: n.Kind()}
}

func (x *keyExtractor) VisitProgram(n *parse.Program) error {
	return x.unsupported(n)
}

func (x *keyExtractor) VisitExpressionStatement(n *parse.ExpressionStatement) error {
	return x.unsupported(n)
}

func (x *keyExtractor) VisitLiteral(n *parse.Literal) error {
	return x.unsupported(n)
}

func (x *keyExtractor) VisitProperty(n *parse.Property) error {
	return x.unsupported(n)
}

func (x *keyExtractor) VisitThisExpression(n *parse.ThisExpression) error {
	return x.unsupported(n)
}

func (x *keyExtractor) VisitLocalsExpression(n *parse.LocalsExpression) error {
	return x.unsupported(n)
}

func (x *keyExtractor) VisitNgValueParameter(n *parse.NgValueParameter) error {
	return x.unsupported(n)
}
