package parse_test

import (
	"testing"

	"github.com/delaneyj/ngscope/parse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileKinds(t *testing.T) {
	cases := map[string]parse.Kind{
		"a":            parse.KindIdentifier,
		"a.b.c":        parse.KindMemberExpression,
		"a[0]":         parse.KindMemberExpression,
		"a + b":        parse.KindBinaryExpression,
		"!a":           parse.KindUnaryExpression,
		"a && b":       parse.KindLogicalExpression,
		"a or b":       parse.KindLogicalExpression,
		"f(a, 1)":      parse.KindCallExpression,
		"a ? b : c":    parse.KindConditionalExpression,
		"[a, 1]":       parse.KindArrayExpression,
		"{x: a, y: 2}": parse.KindObjectExpression,
		"a = b":        parse.KindAssignmentExpression,
		"a.b = 1":      parse.KindAssignmentExpression,
		"1":            parse.KindLiteral,
		"this":         parse.KindThisExpression,
		"$locals":      parse.KindLocalsExpression,
		"a == b":       parse.KindBinaryExpression,
		"len(items)":   parse.KindCallExpression,
		"items.length": parse.KindMemberExpression,
		"user?.name":   parse.KindMemberExpression,
		"a != 'x = y'": parse.KindBinaryExpression,
	}
	for src, kind := range cases {
		t.Run(src, func(t *testing.T) {
			e, err := parse.Compile(src)
			require.NoError(t, err)
			assert.Equal(t, kind, e.Node().Kind(), "kind of %q", src)
		})
	}
}

func TestSyntaxError(t *testing.T) {
	_, err := parse.Compile("a +")
	require.Error(t, err)
	var se *parse.SyntaxError
	assert.ErrorAs(t, err, &se)

	_, err = parse.Compile("1 = 2")
	assert.Error(t, err)
}

func TestConstantAndLiteral(t *testing.T) {
	e := parse.MustCompile("1 + 2")
	assert.True(t, e.Constant())
	assert.False(t, e.Literal())
	assert.Equal(t, 3, e.Value())

	e = parse.MustCompile("[1, 'a']")
	assert.True(t, e.Constant())
	assert.True(t, e.Literal())

	e = parse.MustCompile("[1, a]")
	assert.False(t, e.Constant())
	assert.True(t, e.Literal())

	e = parse.MustCompile("f()")
	assert.False(t, e.Constant())

	e = parse.MustCompile("")
	assert.True(t, e.Constant())
	assert.Nil(t, e.Value())
}

func TestOneTime(t *testing.T) {
	e := parse.MustCompile("::user.name")
	assert.True(t, e.OneTime())
	assert.Equal(t, parse.KindMemberExpression, e.Node().Kind())
}

func TestToWatch(t *testing.T) {
	t.Run("binary collects both operands", func(t *testing.T) {
		n := parse.MustCompile("a.b + c").Node()
		w := n.ToWatch()
		require.Len(t, w, 2)
		assert.Equal(t, parse.KindMemberExpression, w[0].Kind())
		assert.Equal(t, "c", w[1].(*parse.Identifier).Name)
	})

	t.Run("literals contribute nothing", func(t *testing.T) {
		n := parse.MustCompile("1 + a").Node()
		w := n.ToWatch()
		require.Len(t, w, 1)
		assert.Equal(t, "a", w[0].(*parse.Identifier).Name)
	})

	t.Run("call collects arguments", func(t *testing.T) {
		n := parse.MustCompile("fmt(a, b.c, 3)").Node()
		w := n.ToWatch()
		require.Len(t, w, 2)
		assert.Equal(t, parse.KindIdentifier, w[0].Kind())
		assert.Equal(t, parse.KindMemberExpression, w[1].Kind())
	})

	t.Run("logical watches itself", func(t *testing.T) {
		n := parse.MustCompile("a || b").Node().(*parse.LogicalExpression)
		require.Len(t, n.ToWatch(), 1)
		assert.Same(t, n, n.ToWatch()[0])
		assert.Equal(t, "a", n.Left.ToWatch()[0].(*parse.Identifier).Name)
	})
}

func TestEval(t *testing.T) {
	self := map[string]any{
		"a":     2,
		"b":     3.5,
		"name":  "Ada",
		"items": []any{1, 2, 3},
		"user":  map[string]any{"name": "Grace", "tags": []any{"x"}},
		"double": parse.Func(func(this any, args ...any) (any, error) {
			n, _ := parse.ToNumber(args[0])
			return n * 2, nil
		}),
	}
	cases := []struct {
		src  string
		want any
	}{
		{"a", 2},
		{"a + 1", 3},
		{"a * b", 7.0},
		{"a - 5", -3},
		{"name + '!'", "Ada!"},
		{"items.length", 3},
		{"items[1]", 2},
		{"user.name", "Grace"},
		{"user.tags[0]", "x"},
		{"missing.deep.path", nil},
		{"a > 1 ? 'big' : 'small'", "big"},
		{"!a", false},
		{"missing || 'fallback'", "fallback"},
		{"a && name", "Ada"},
		{"missing ?? 5", 5},
		{"double(a)", 4.0},
		{"len(items)", 3},
		{"upper(name)", "ADA"},
		{"a == 2.0", true},
		{"[a, name]", []any{2, "Ada"}},
		{"{x: a}", map[string]any{"x": 2}},
		{"$locals.extra", 10},
		{"extra", 10},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			v, err := parse.MustCompile(tc.src).Eval(self, parse.Locals{"extra": 10})
			require.NoError(t, err)
			assert.Equal(t, tc.want, v)
		})
	}
}

func TestAssign(t *testing.T) {
	self := map[string]any{"user": map[string]any{}}

	_, err := parse.MustCompile("count = 1 + 1").Eval(self, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, self["count"])

	require.NoError(t, parse.MustCompile("user.name").Assign(self, "Ada"))
	assert.Equal(t, "Ada", self["user"].(map[string]any)["name"])

	assert.Error(t, parse.MustCompile("a + b").Assign(self, 1))
	assert.Error(t, parse.MustCompile("missing.name").Assign(self, 1))
}

func TestCallNotFunction(t *testing.T) {
	_, err := parse.MustCompile("a()").Eval(map[string]any{"a": 1}, nil)
	assert.Error(t, err)

	v, err := parse.MustCompile("nothing()").Eval(map[string]any{}, nil)
	assert.NoError(t, err)
	assert.Nil(t, v)
}

func TestCache(t *testing.T) {
	c := parse.NewCache()
	a, err := c.Compile("a.b")
	require.NoError(t, err)
	b, err := c.Compile("a.b")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, c.Len())

	_, err = c.Compile("a +")
	assert.Error(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "MemberExpression", parse.KindMemberExpression.String())
	assert.Equal(t, "NgValueParameter", parse.KindNgValueParameter.String())
}

func TestGetAndSetProperty(t *testing.T) {
	m := map[string]any{"a": 1}
	assert.Equal(t, 1, parse.GetProperty(m, "a"))
	assert.Nil(t, parse.GetProperty(m, "missing"))
	require.NoError(t, parse.SetProperty(m, "b", 2))
	assert.Equal(t, 2, parse.GetProperty(m, "b"))

	list := []any{"x", "y"}
	assert.Equal(t, 2, parse.GetProperty(list, "length"))
	assert.Equal(t, "y", parse.GetProperty(list, "1"))
	assert.Nil(t, parse.GetProperty(list, "5"))
	require.NoError(t, parse.SetProperty(list, "0", "z"))
	assert.Equal(t, "z", list[0])
	assert.Error(t, parse.SetProperty(list, "9", "w"))

	assert.Equal(t, 3, parse.GetProperty("héé", "length"))
	assert.Nil(t, parse.GetProperty(42, "a"))
	assert.Error(t, parse.SetProperty(42, "a", 1))
}
