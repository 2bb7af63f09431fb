package scope

import (
	"testing"

	"github.com/delaneyj/ngscope/parse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyNames(x *keyExtractor) []string {
	var names []string
	for _, k := range x.keys {
		names = append(names, k.name)
	}
	return names
}

func TestExtractKeys(t *testing.T) {
	cases := []struct {
		src       string
		keys      []string
		immediate bool
	}{
		{src: "a", keys: []string{"a"}},
		{src: "user.name", keys: []string{"name"}},
		{src: "user.address.city", keys: []string{"city"}},
		{src: "items[0]", keys: []string{"0"}},
		{src: "items[i]", keys: []string{"items"}},
		{src: "a + b.c", keys: []string{"a", "c"}},
		{src: "-count", keys: []string{"count"}},
		{src: "!user.active", keys: []string{"active"}},
		{src: "a || b.c", keys: []string{"a", "c"}},
		{src: "a && (b || c)", keys: []string{"a", "b", "c"}},
		{src: "fmt(a, b.c)", keys: []string{"a"}, immediate: true},
		{src: "now()", keys: nil, immediate: true},
		{src: "[a, 1, b.c]", keys: []string{"a", "c"}},
		{src: "{x: a, y: b.c}", keys: []string{"a", "c"}},
		{src: "{x: a + 1}", keys: []string{"x"}},
		{src: "ready ? a : b", keys: []string{"ready"}},
		{src: "a > 1 ? a : b", keys: []string{"a"}},
		{src: "total = a", keys: []string{"total"}},
		{src: "a + a", keys: []string{"a"}},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			e, err := parse.Compile(tc.src)
			require.NoError(t, err)
			x, err := extractKeys(e.Node(), true)
			require.NoError(t, err)
			assert.Equal(t, tc.keys, keyNames(x))
			assert.Equal(t, tc.immediate, x.immediate)
		})
	}
}

func TestExtractKeysOwners(t *testing.T) {
	e := parse.MustCompile("a.b + c")
	x, err := extractKeys(e.Node(), true)
	require.NoError(t, err)
	require.Len(t, x.keys, 2)

	owner, ok := x.keys[0].owner.(*parse.Identifier)
	require.True(t, ok)
	assert.Equal(t, "a", owner.Name)
	assert.Nil(t, x.keys[1].owner)
}

func TestExtractKeysFireAndForget(t *testing.T) {
	x, err := extractKeys(parse.MustCompile("a = b").Node(), false)
	require.NoError(t, err)
	assert.True(t, x.fireAndForget)
	assert.Empty(t, x.keys)
}

func TestExtractKeysUnsupported(t *testing.T) {
	unsupported := map[string]parse.Node{
		"program":   &parse.Program{},
		"statement": &parse.ExpressionStatement{},
		"literal":   &parse.Literal{Value: 1},
		"property":  &parse.Property{Key: "a"},
		"this":      &parse.ThisExpression{},
		"locals":    &parse.LocalsExpression{},
		"value":     &parse.NgValueParameter{},
	}
	for name, n := range unsupported {
		t.Run(name, func(t *testing.T) {
			_, err := extractKeys(n, true)
			var ue *UnsupportedNodeError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, n.Kind(), ue.Kind)
		})
	}
}

func TestExtractKeysNoKey(t *testing.T) {
	for _, src := range []string{"f() + 1", "f() ? 1 : 2"} {
		_, err := extractKeys(parse.MustCompile(src).Node(), true)
		assert.ErrorIs(t, err, ErrNoWatchKey, src)
	}
}
