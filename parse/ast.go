package parse

import "fmt"

// Kind tags a decorated node. The set is closed: every Kind has exactly one
// node type and one Visitor method.
type Kind uint8

const (
	KindProgram Kind = iota
	KindExpressionStatement
	KindAssignmentExpression
	KindConditionalExpression
	KindLogicalExpression
	KindBinaryExpression
	KindUnaryExpression
	KindCallExpression
	KindMemberExpression
	KindIdentifier
	KindLiteral
	KindArrayExpression
	KindProperty
	KindObjectExpression
	KindThisExpression
	KindLocalsExpression
	KindNgValueParameter
)

var kindNames = [...]string{
	KindProgram:               "Program",
	KindExpressionStatement:   "ExpressionStatement",
	KindAssignmentExpression:  "AssignmentExpression",
	KindConditionalExpression: "ConditionalExpression",
	KindLogicalExpression:     "LogicalExpression",
	KindBinaryExpression:      "BinaryExpression",
	KindUnaryExpression:       "UnaryExpression",
	KindCallExpression:        "CallExpression",
	KindMemberExpression:      "MemberExpression",
	KindIdentifier:            "Identifier",
	KindLiteral:               "Literal",
	KindArrayExpression:       "ArrayExpression",
	KindProperty:              "Property",
	KindObjectExpression:      "ObjectExpression",
	KindThisExpression:        "ThisExpression",
	KindLocalsExpression:      "LocalsExpression",
	KindNgValueParameter:      "NgValueParameter",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Visitor has one method per node kind. Implementations get a compile error
// when a kind is added, instead of a silent default branch.
type Visitor interface {
	VisitProgram(*Program) error
	VisitExpressionStatement(*ExpressionStatement) error
	VisitAssignmentExpression(*AssignmentExpression) error
	VisitConditionalExpression(*ConditionalExpression) error
	VisitLogicalExpression(*LogicalExpression) error
	VisitBinaryExpression(*BinaryExpression) error
	VisitUnaryExpression(*UnaryExpression) error
	VisitCallExpression(*CallExpression) error
	VisitMemberExpression(*MemberExpression) error
	VisitIdentifier(*Identifier) error
	VisitLiteral(*Literal) error
	VisitArrayExpression(*ArrayExpression) error
	VisitProperty(*Property) error
	VisitObjectExpression(*ObjectExpression) error
	VisitThisExpression(*ThisExpression) error
	VisitLocalsExpression(*LocalsExpression) error
	VisitNgValueParameter(*NgValueParameter) error
}

// Node is a decorated AST node.
type Node interface {
	Kind() Kind
	Accept(v Visitor) error
	// ToWatch lists the sub-nodes whose values this node depends on.
	ToWatch() []Node
	// Constant reports whether the node's value can never change.
	Constant() bool
}

type decor struct {
	toWatch  []Node
	constant bool
}

func (d *decor) ToWatch() []Node { return d.toWatch }
func (d *decor) Constant() bool  { return d.constant }

type Program struct {
	decor
	Body []*ExpressionStatement
}

func (n *Program) Kind() Kind             { return KindProgram }
func (n *Program) Accept(v Visitor) error { return v.VisitProgram(n) }

type ExpressionStatement struct {
	decor
	Expression Node
}

func (n *ExpressionStatement) Kind() Kind             { return KindExpressionStatement }
func (n *ExpressionStatement) Accept(v Visitor) error { return v.VisitExpressionStatement(n) }

type AssignmentExpression struct {
	decor
	Left, Right Node
}

func (n *AssignmentExpression) Kind() Kind             { return KindAssignmentExpression }
func (n *AssignmentExpression) Accept(v Visitor) error { return v.VisitAssignmentExpression(n) }

type ConditionalExpression struct {
	decor
	Test, Consequent, Alternate Node
}

func (n *ConditionalExpression) Kind() Kind             { return KindConditionalExpression }
func (n *ConditionalExpression) Accept(v Visitor) error { return v.VisitConditionalExpression(n) }

// LogicalExpression is &&, || or ??.
type LogicalExpression struct {
	decor
	Operator    string
	Left, Right Node
}

func (n *LogicalExpression) Kind() Kind             { return KindLogicalExpression }
func (n *LogicalExpression) Accept(v Visitor) error { return v.VisitLogicalExpression(n) }

type BinaryExpression struct {
	decor
	Operator    string
	Left, Right Node
}

func (n *BinaryExpression) Kind() Kind             { return KindBinaryExpression }
func (n *BinaryExpression) Accept(v Visitor) error { return v.VisitBinaryExpression(n) }

type UnaryExpression struct {
	decor
	Operator string
	Argument Node
}

func (n *UnaryExpression) Kind() Kind             { return KindUnaryExpression }
func (n *UnaryExpression) Accept(v Visitor) error { return v.VisitUnaryExpression(n) }

type CallExpression struct {
	decor
	Callee    Node
	Arguments []Node
	// Builtin is set when the callee name resolved to an expr builtin
	// (len, upper, ...) at parse time.
	Builtin bool
}

func (n *CallExpression) Kind() Kind             { return KindCallExpression }
func (n *CallExpression) Accept(v Visitor) error { return v.VisitCallExpression(n) }

// MemberExpression is object.property or object[property]. When Computed is
// false Property is an *Identifier holding the property name.
type MemberExpression struct {
	decor
	Object   Node
	Property Node
	Computed bool
}

func (n *MemberExpression) Kind() Kind             { return KindMemberExpression }
func (n *MemberExpression) Accept(v Visitor) error { return v.VisitMemberExpression(n) }

// PropertyName returns the statically known property name, if any.
func (n *MemberExpression) PropertyName() (string, bool) {
	switch p := n.Property.(type) {
	case *Identifier:
		if !n.Computed {
			return p.Name, true
		}
	case *Literal:
		switch v := p.Value.(type) {
		case string:
			return v, true
		case int:
			return fmt.Sprint(v), true
		}
	}
	return "", false
}

type Identifier struct {
	decor
	Name string
}

func (n *Identifier) Kind() Kind             { return KindIdentifier }
func (n *Identifier) Accept(v Visitor) error { return v.VisitIdentifier(n) }

type Literal struct {
	decor
	Value any
}

func (n *Literal) Kind() Kind             { return KindLiteral }
func (n *Literal) Accept(v Visitor) error { return v.VisitLiteral(n) }

type ArrayExpression struct {
	decor
	Elements []Node
}

func (n *ArrayExpression) Kind() Kind             { return KindArrayExpression }
func (n *ArrayExpression) Accept(v Visitor) error { return v.VisitArrayExpression(n) }

// Property is one key/value pair of an ObjectExpression.
type Property struct {
	decor
	Key   string
	Value Node
}

func (n *Property) Kind() Kind             { return KindProperty }
func (n *Property) Accept(v Visitor) error { return v.VisitProperty(n) }

type ObjectExpression struct {
	decor
	Properties []*Property
}

func (n *ObjectExpression) Kind() Kind             { return KindObjectExpression }
func (n *ObjectExpression) Accept(v Visitor) error { return v.VisitObjectExpression(n) }

type ThisExpression struct{ decor }

func (n *ThisExpression) Kind() Kind             { return KindThisExpression }
func (n *ThisExpression) Accept(v Visitor) error { return v.VisitThisExpression(n) }

// LocalsExpression is the $locals identifier.
type LocalsExpression struct{ decor }

func (n *LocalsExpression) Kind() Kind             { return KindLocalsExpression }
func (n *LocalsExpression) Accept(v Visitor) error { return v.VisitLocalsExpression(n) }

// NgValueParameter stands for the value passed to Expression.Assign.
type NgValueParameter struct{ decor }

func (n *NgValueParameter) Kind() Kind             { return KindNgValueParameter }
func (n *NgValueParameter) Accept(v Visitor) error { return v.VisitNgValueParameter(n) }
