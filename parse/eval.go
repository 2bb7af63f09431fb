package parse

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Getter is implemented by reactive containers so expressions can read
// through them.
type Getter interface {
	Get(key string) any
}

// Setter is implemented by reactive containers so assignments go through
// their write path.
type Setter interface {
	Set(key string, value any)
}

// Func is the callable value type understood by the evaluator. this is the
// object the function was read from.
type Func func(this any, args ...any) (any, error)

// Locals shadow the evaluation context.
type Locals map[string]any

// Eval evaluates a single decorated node against self.
func Eval(n Node, self any, locals Locals) (any, error) {
	e := &evaluator{self: self, locals: locals}
	return e.eval(n)
}

type evaluator struct {
	self   any
	locals Locals
	value  any
}

func (e *evaluator) eval(n Node) (any, error) {
	switch n := n.(type) {
	case *Program:
		var last any
		for _, stmt := range n.Body {
			v, err := e.eval(stmt.Expression)
			if err != nil {
				return nil, err
			}
			last = v
		}
		return last, nil
	case *ExpressionStatement:
		return e.eval(n.Expression)
	case *Literal:
		return n.Value, nil
	case *ThisExpression:
		return e.self, nil
	case *LocalsExpression:
		return e.locals, nil
	case *NgValueParameter:
		return e.value, nil
	case *Identifier:
		return e.lookup(n.Name), nil

	case *MemberExpression:
		obj, err := e.eval(n.Object)
		if err != nil || obj == nil {
			return nil, err
		}
		key, err := e.memberKey(n)
		if err != nil {
			return nil, err
		}
		return GetProperty(obj, key), nil

	case *CallExpression:
		return e.call(n)

	case *UnaryExpression:
		v, err := e.eval(n.Argument)
		if err != nil {
			return nil, err
		}
		return unary(n.Operator, v)

	case *BinaryExpression:
		l, err := e.eval(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := e.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return binary(n.Operator, l, r)

	case *LogicalExpression:
		l, err := e.eval(n.Left)
		if err != nil {
			return nil, err
		}
		switch n.Operator {
		case "&&":
			if !Truthy(l) {
				return l, nil
			}
		case "||":
			if Truthy(l) {
				return l, nil
			}
		case "??":
			if l != nil {
				return l, nil
			}
		}
		return e.eval(n.Right)

	case *ConditionalExpression:
		t, err := e.eval(n.Test)
		if err != nil {
			return nil, err
		}
		if Truthy(t) {
			return e.eval(n.Consequent)
		}
		return e.eval(n.Alternate)

	case *ArrayExpression:
		out := make([]any, 0, len(n.Elements))
		for _, el := range n.Elements {
			v, err := e.eval(el)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case *ObjectExpression:
		out := make(map[string]any, len(n.Properties))
		for _, p := range n.Properties {
			v, err := e.eval(p.Value)
			if err != nil {
				return nil, err
			}
			out[p.Key] = v
		}
		return out, nil

	case *Property:
		return e.eval(n.Value)

	case *AssignmentExpression:
		v, err := e.eval(n.Right)
		if err != nil {
			return nil, err
		}
		if err := e.assign(n.Left, v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, fmt.Errorf("cannot evaluate %s", n.Kind())
}

func (e *evaluator) lookup(name string) any {
	if e.locals != nil {
		if v, ok := e.locals[name]; ok {
			return v
		}
	}
	if e.self == nil {
		return nil
	}
	return GetProperty(e.self, name)
}

func (e *evaluator) memberKey(n *MemberExpression) (string, error) {
	if name, ok := n.PropertyName(); ok {
		return name, nil
	}
	k, err := e.eval(n.Property)
	if err != nil {
		return "", err
	}
	return ToKey(k), nil
}

func (e *evaluator) assign(target Node, v any) error {
	switch t := target.(type) {
	case *Identifier:
		if e.locals != nil {
			if _, ok := e.locals[t.Name]; ok {
				e.locals[t.Name] = v
				return nil
			}
		}
		return SetProperty(e.self, t.Name, v)
	case *MemberExpression:
		obj, err := e.eval(t.Object)
		if err != nil {
			return err
		}
		if obj == nil {
			return fmt.Errorf("cannot set property of undefined")
		}
		key, err := e.memberKey(t)
		if err != nil {
			return err
		}
		return SetProperty(obj, key, v)
	}
	return fmt.Errorf("cannot assign to %s", target.Kind())
}

func (e *evaluator) call(n *CallExpression) (any, error) {
	var fn, this any
	switch c := n.Callee.(type) {
	case *MemberExpression:
		obj, err := e.eval(c.Object)
		if err != nil {
			return nil, err
		}
		if obj == nil {
			return nil, nil
		}
		key, err := e.memberKey(c)
		if err != nil {
			return nil, err
		}
		fn, this = GetProperty(obj, key), obj
	case *Identifier:
		fn, this = e.lookup(c.Name), e.self
		if fn == nil && n.Builtin {
			if b, ok := builtins[c.Name]; ok {
				fn = b
			}
		}
	default:
		v, err := e.eval(c)
		if err != nil {
			return nil, err
		}
		fn, this = v, e.self
	}
	if fn == nil {
		return nil, nil
	}

	args := make([]any, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		v, err := e.eval(a)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return Call(fn, this, args...)
}

// Call invokes fn when it is one of the callable shapes the evaluator knows.
func Call(fn any, this any, args ...any) (any, error) {
	switch f := fn.(type) {
	case Func:
		return f(this, args...)
	case func(this any, args ...any) (any, error):
		return f(this, args...)
	case func(args ...any) any:
		return f(args...), nil
	case func() any:
		return f(), nil
	}
	return nil, fmt.Errorf("%T is not a function", fn)
}

// IsCallable reports whether Call accepts v.
func IsCallable(v any) bool {
	switch v.(type) {
	case Func, func(any, ...any) (any, error), func(...any) any, func() any:
		return true
	}
	return false
}

// GetProperty reads key from obj. Unknown shapes read as undefined.
func GetProperty(obj any, key string) any {
	switch o := obj.(type) {
	case Getter:
		return o.Get(key)
	case map[string]any:
		return o[key]
	case Locals:
		return o[key]
	case []any:
		if key == "length" {
			return len(o)
		}
		if i, err := strconv.Atoi(key); err == nil && i >= 0 && i < len(o) {
			return o[i]
		}
	case string:
		if key == "length" {
			return utf8.RuneCountInString(o)
		}
	}
	return nil
}

// SetProperty writes key on obj.
func SetProperty(obj any, key string, v any) error {
	switch o := obj.(type) {
	case Setter:
		o.Set(key, v)
		return nil
	case map[string]any:
		o[key] = v
		return nil
	case []any:
		if i, err := strconv.Atoi(key); err == nil && i >= 0 && i < len(o) {
			o[i] = v
			return nil
		}
	}
	return fmt.Errorf("cannot set %q on %T", key, obj)
}

// ToKey renders a computed member key the way property names are stored.
func ToKey(v any) string {
	switch k := v.(type) {
	case string:
		return k
	case float64:
		if k == math.Trunc(k) {
			return strconv.FormatInt(int64(k), 10)
		}
	case nil:
		return "undefined"
	}
	return fmt.Sprint(v)
}

// Truthy is false for nil, false, "", zero and NaN.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	}
	if f, ok := ToNumber(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

// ToNumber converts any Go numeric type to float64.
func ToNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int8:
		return int(x), true
	case int16:
		return int(x), true
	case int32:
		return int(x), true
	case int64:
		return int(x), true
	case uint8:
		return int(x), true
	case uint16:
		return int(x), true
	case uint32:
		return int(x), true
	}
	return 0, false
}

// LooseEqual compares numbers by value and everything else by identity.
func LooseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := ToNumber(a); ok {
		if fb, ok := ToNumber(b); ok {
			return fa == fb
		}
		return false
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

func unary(op string, v any) (any, error) {
	switch op {
	case "!":
		return !Truthy(v), nil
	case "-":
		if i, ok := toInt(v); ok {
			return -i, nil
		}
		if f, ok := ToNumber(v); ok {
			return -f, nil
		}
		return math.NaN(), nil
	case "+":
		if _, ok := toInt(v); ok {
			return v, nil
		}
		if f, ok := ToNumber(v); ok {
			return f, nil
		}
		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f, nil
			}
		}
		return math.NaN(), nil
	}
	return nil, fmt.Errorf("unknown unary operator %q", op)
}

func binary(op string, l, r any) (any, error) {
	switch op {
	case "==":
		return LooseEqual(l, r), nil
	case "!=":
		return !LooseEqual(l, r), nil
	case "+":
		ls, lok := l.(string)
		rs, rok := r.(string)
		if lok || rok {
			if !lok {
				ls = display(l)
			}
			if !rok {
				rs = display(r)
			}
			return ls + rs, nil
		}
	}

	li, lInt := toInt(l)
	ri, rInt := toInt(r)
	if lInt && rInt {
		switch op {
		case "+":
			return li + ri, nil
		case "-":
			return li - ri, nil
		case "*":
			return li * ri, nil
		case "%":
			if ri == 0 {
				return math.NaN(), nil
			}
			return li % ri, nil
		}
	}

	if op == "<" || op == ">" || op == "<=" || op == ">=" {
		if ls, ok := l.(string); ok {
			if rs, ok := r.(string); ok {
				return compare(op, strings.Compare(ls, rs)), nil
			}
		}
	}

	lf, lok := ToNumber(l)
	rf, rok := ToNumber(r)
	if !lok {
		lf = math.NaN()
	}
	if !rok {
		rf = math.NaN()
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		return lf / rf, nil
	case "%":
		return math.Mod(lf, rf), nil
	case "**", "^":
		return math.Pow(lf, rf), nil
	case "<", ">", "<=", ">=":
		if math.IsNaN(lf) || math.IsNaN(rf) {
			return false, nil
		}
		c := 0
		if lf < rf {
			c = -1
		} else if lf > rf {
			c = 1
		}
		return compare(op, c), nil
	}
	return nil, fmt.Errorf("unknown binary operator %q", op)
}

func compare(op string, c int) bool {
	switch op {
	case "<":
		return c < 0
	case ">":
		return c > 0
	case "<=":
		return c <= 0
	default:
		return c >= 0
	}
}

func display(v any) string {
	switch x := v.(type) {
	case nil:
		return "undefined"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

var builtins = map[string]Func{
	"len": func(_ any, args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("len expects 1 argument, got %d", len(args))
		}
		switch v := args[0].(type) {
		case nil:
			return 0, nil
		case string:
			return utf8.RuneCountInString(v), nil
		case map[string]any:
			return len(v), nil
		}
		if n, ok := GetProperty(args[0], "length").(int); ok {
			return n, nil
		}
		return nil, fmt.Errorf("invalid argument for len (type %T)", args[0])
	},
	"upper": stringFunc(strings.ToUpper),
	"lower": stringFunc(strings.ToLower),
	"trim":  stringFunc(strings.TrimSpace),
	"abs": func(_ any, args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("abs expects 1 argument, got %d", len(args))
		}
		if i, ok := toInt(args[0]); ok {
			if i < 0 {
				return -i, nil
			}
			return i, nil
		}
		f, _ := ToNumber(args[0])
		return math.Abs(f), nil
	},
}

func stringFunc(fn func(string) string) Func {
	return func(_ any, args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", args[0])
		}
		return fn(s), nil
	}
}
