// Package parse compiles watch expressions into decorated trees the scope
// package can extract dependency keys from, and evaluates them.
//
// Source text is parsed with the expr-lang parser and lowered into a closed
// set of node kinds. Every node carries the list of sub-nodes it depends on
// (ToWatch) and whether its value is constant.
package parse

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// SyntaxError is returned for source the parser rejects.
type SyntaxError struct {
	Source string
	Err    error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("parse %q: %v", e.Source, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// Expression is a compiled expression.
type Expression struct {
	Source  string
	Program *Program

	constant bool
	literal  bool
	oneTime  bool
	value    any
}

// Compile parses src. A leading "::" marks a one-time expression.
func Compile(src string) (*Expression, error) {
	e := &Expression{Source: src}
	body := strings.TrimSpace(src)
	if strings.HasPrefix(body, "::") {
		e.oneTime = true
		body = strings.TrimSpace(body[2:])
	}

	if body == "" {
		stmt := &ExpressionStatement{Expression: literal(nil)}
		stmt.constant = true
		e.Program = &Program{Body: []*ExpressionStatement{stmt}}
		e.Program.constant = true
		e.constant = true
		return e, nil
	}

	p, err := program(body)
	if err != nil {
		return nil, err
	}
	e.Program = p
	e.constant = p.Constant()
	switch p.Body[0].Expression.(type) {
	case *Literal, *ArrayExpression, *ObjectExpression:
		e.literal = true
	}
	if e.constant {
		if e.value, err = Eval(p, nil, nil); err != nil {
			return nil, &SyntaxError{Source: src, Err: err}
		}
	}
	return e, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Expression {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

// Node returns the expression node of the first statement.
func (e *Expression) Node() Node {
	return e.Program.Body[0].Expression
}

func (e *Expression) Constant() bool { return e.constant }
func (e *Expression) Literal() bool  { return e.literal }
func (e *Expression) OneTime() bool  { return e.oneTime }

// Value is the statically known value of a constant expression.
func (e *Expression) Value() any { return e.value }

// Eval evaluates the expression against self.
func (e *Expression) Eval(self any, locals Locals) (any, error) {
	if e.constant {
		return e.value, nil
	}
	return Eval(e.Program, self, locals)
}

// Assignable reports whether Assign can be used.
func (e *Expression) Assignable() bool {
	switch e.Node().(type) {
	case *Identifier, *MemberExpression:
		return true
	}
	return false
}

// Assign writes value to the location the expression names.
func (e *Expression) Assign(self any, value any) error {
	if !e.Assignable() {
		return fmt.Errorf("expression %q is not assignable", e.Source)
	}
	n := &AssignmentExpression{Left: e.Node(), Right: &NgValueParameter{}}
	ev := &evaluator{self: self, value: value}
	_, err := ev.eval(n)
	return err
}

func (e *Expression) String() string { return e.Source }

// Cache memoises compiled expressions by source text.
type Cache struct {
	mu      sync.Mutex
	entries map[uint64]*Expression
}

func NewCache() *Cache {
	return &Cache{entries: map[uint64]*Expression{}}
}

// Compile returns the cached expression for src, compiling it on a miss.
func (c *Cache) Compile(src string) (*Expression, error) {
	h := xxhash.Sum64String(src)

	c.mu.Lock()
	e, ok := c.entries[h]
	c.mu.Unlock()
	if ok && e.Source == src {
		return e, nil
	}

	e, err := Compile(src)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, taken := c.entries[h]; !taken {
		c.entries[h] = e
	}
	return e, nil
}

// Len is the number of cached expressions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
