package scope

import (
	"math"
	"reflect"
	"slices"
	"sort"
	"strconv"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/delaneyj/ngscope/parse"
)

const (
	// NonScopeKey marks a plain object as non-observable. A true value
	// excludes the whole object, a list of names excludes those keys.
	NonScopeKey = "$nonscope"
	// HashKey is the repeat-identity marker carried by repeated items.
	HashKey = "$$hashKey"
)

// Object is a wrapped value: a map or array whose reads and writes go
// through the observation engine. Plain map[string]any and []any values are
// wrapped recursively when they are stored.
type Object struct {
	reg   *Registry
	array bool

	keys  []string
	props map[string]any
	items []any

	// proto is consulted for keys missing locally (child scope lookups).
	proto *Object
	scope *Scope
	// excluded keys hold raw, unwrapped values.
	excluded map[string]struct{}
}

func newObject(reg *Registry, array bool) *Object {
	return &Object{reg: reg, array: array, props: map[string]any{}}
}

// wrap returns v instrumented for reg. Primitives, opaque values and
// already wrapped objects are returned unchanged.
func (r *Registry) wrap(v any) any {
	return r.wrapSeen(v, map[plainRef]*Object{})
}

// plainRef identifies a plain map or slice so a value reachable twice is
// wrapped once and self references do not recurse forever.
type plainRef struct {
	ptr uintptr
	n   int
}

func refOf(v any) (plainRef, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return plainRef{}, false
		}
		return plainRef{ptr: rv.Pointer(), n: -1}, true
	case reflect.Slice:
		if rv.Len() == 0 {
			return plainRef{}, false
		}
		return plainRef{ptr: rv.Pointer(), n: rv.Len()}, true
	}
	return plainRef{}, false
}

func (r *Registry) wrapSeen(v any, seen map[plainRef]*Object) any {
	switch x := v.(type) {
	case *Object:
		return x
	case map[string]any:
		if excludedWhole(x) {
			return x
		}
		ref, ok := refOf(x)
		if o, found := seen[ref]; ok && found {
			return o
		}
		o := newObject(r, false)
		if ok {
			seen[ref] = o
		}
		o.excluded = excludedKeys(x)
		for _, k := range sortedKeys(x) {
			val := x[k]
			if _, skip := o.excluded[k]; !skip {
				val = r.wrapSeen(val, seen)
			}
			o.keys = append(o.keys, k)
			o.props[k] = val
		}
		return o
	case []any:
		ref, ok := refOf(x)
		if o, found := seen[ref]; ok && found {
			return o
		}
		o := newObject(r, true)
		if ok {
			seen[ref] = o
		}
		o.items = make([]any, len(x))
		for i, el := range x {
			o.items[i] = r.wrapSeen(el, seen)
		}
		return o
	}
	return v
}

func excludedWhole(m map[string]any) bool {
	b, ok := m[NonScopeKey].(bool)
	return ok && b
}

func excludedKeys(m map[string]any) map[string]struct{} {
	var names []string
	switch v := m[NonScopeKey].(type) {
	case []string:
		names = v
	case []any:
		for _, n := range v {
			if s, ok := n.(string); ok {
				names = append(names, s)
			}
		}
	}
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsArray reports whether o wraps an array.
func (o *Object) IsArray() bool { return o.array }

// Scope returns the scope o is the target of, if any.
func (o *Object) Scope() *Scope { return o.scope }

// Get reads key, falling back to the lookup chain when it is not set
// locally. Scope targets answer reserved API names first.
func (o *Object) Get(key string) any {
	if o.scope != nil {
		if v, ok := o.scope.reserved(key); ok {
			return v
		}
	}
	for cur := o; cur != nil; cur = cur.proto {
		if v, ok := cur.own(key); ok {
			return v
		}
	}
	return nil
}

// Has reports whether key is set on o itself.
func (o *Object) Has(key string) bool {
	_, ok := o.own(key)
	return ok
}

func (o *Object) own(key string) (any, bool) {
	if o.array {
		if key == "length" {
			return len(o.items), true
		}
		if i, ok := index(key); ok {
			if i < len(o.items) {
				return o.items[i], true
			}
			return nil, false
		}
	}
	v, ok := o.props[key]
	return v, ok
}

func index(key string) (int, bool) {
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 || strconv.Itoa(i) != key {
		return 0, false
	}
	return i, true
}

// Keys lists own keys: indexes for arrays, insertion order for maps.
func (o *Object) Keys() []string {
	if o.array {
		keys := make([]string, len(o.items))
		for i := range o.items {
			keys[i] = strconv.Itoa(i)
		}
		return keys
	}
	return slices.Clone(o.keys)
}

// Len is the array length or the number of own keys.
func (o *Object) Len() int {
	if o.array {
		return len(o.items)
	}
	return len(o.keys)
}

// Index returns the i-th array element.
func (o *Object) Index(i int) any {
	if i < 0 || i >= len(o.items) {
		return nil
	}
	return o.items[i]
}

func (o *Object) store(key string, v any) {
	if o.array {
		if key == "length" {
			n, _ := parse.ToNumber(v)
			o.resize(int(n))
			return
		}
		if i, ok := index(key); ok {
			if i >= len(o.items) {
				o.resize(i + 1)
			}
			o.items[i] = v
			return
		}
	}
	if _, ok := o.props[key]; !ok && !o.array {
		o.keys = append(o.keys, key)
	}
	o.props[key] = v
}

func (o *Object) resize(n int) {
	if n < 0 {
		n = 0
	}
	if n <= len(o.items) {
		clear(o.items[n:])
		o.items = o.items[:n]
		return
	}
	o.items = append(o.items, make([]any, n-len(o.items))...)
}

func (o *Object) remove(key string) {
	if o.array {
		if i, ok := index(key); ok {
			if i < len(o.items) {
				o.items[i] = nil
			}
			return
		}
	}
	if _, ok := o.props[key]; !ok {
		return
	}
	delete(o.props, key)
	if i := slices.Index(o.keys, key); i >= 0 {
		o.keys = slices.Delete(o.keys, i, i+1)
	}
}

type valueShape uint8

const (
	shapeOther valueShape = iota
	shapeUndefined
	shapeArray
	shapeObject
)

func shapeOf(v any) valueShape {
	switch x := v.(type) {
	case nil:
		return shapeUndefined
	case *Object:
		if x.array {
			return shapeArray
		}
		return shapeObject
	case []any:
		return shapeArray
	case map[string]any:
		if excludedWhole(x) {
			return shapeOther
		}
		return shapeObject
	}
	return shapeOther
}

func isNaN(v any) bool {
	f, ok := v.(float64)
	return ok && math.IsNaN(f)
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// Set writes key through the observation engine. Listeners are never run
// synchronously; they are queued on the scheduler.
//
// Set panics with ErrUndefinedKey when key is "undefined".
func (o *Object) Set(key string, value any) {
	if key == "undefined" {
		panic(ErrUndefinedKey)
	}
	if o.scope != nil && o.scope.isReserved(key) {
		log.Debugf("ignoring write to reserved key %q on scope %d", key, o.scope.id)
		return
	}
	r := o.reg
	old, had := o.own(key)
	if _, raw := o.excluded[key]; raw {
		o.store(key, value)
		r.notifyKey(o, key)
		return
	}
	if isNaN(old) && isNaN(value) {
		return
	}

	if oldObj, ok := old.(*Object); ok {
		switch shapeOf(value) {
		case shapeArray:
			if vo, ok := value.(*Object); ok && vo == oldObj {
				return
			}
			nv := r.adopt(value)
			o.store(key, nv)
			r.retrack(o, key, oldObj, nv)
			r.notifyKey(o, key)
			if no, ok := nv.(*Object); ok {
				r.deepNotify(no)
				for i := len(no.items); i < len(oldObj.items); i++ {
					r.notifyKey(no, strconv.Itoa(i))
				}
			}

		case shapeObject:
			if vo, ok := value.(*Object); ok && vo == oldObj {
				return
			}
			for _, k := range staleKeys(oldObj, value) {
				oldObj.Delete(k)
			}
			nv := r.adopt(value)
			o.store(key, nv)
			r.retrack(o, key, oldObj, nv)
			r.notifyKey(o, key)
			if no, ok := nv.(*Object); ok {
				r.deepNotify(no)
			}

		case shapeUndefined:
			oldObj.clear()
			o.store(key, nil)
			r.untrack(oldObj, key)
			r.notifyKey(o, key)

		default:
			o.store(key, value)
			r.untrack(oldObj, key)
			r.notifyKey(o, key)
		}
		r.notifyObject(o)
		return
	}

	if had && sameValue(old, value) {
		return
	}
	if vo, ok := value.(*Object); ok && !had && vo.reg != r {
		r.foreignProxies.Add(vo)
		o.store(key, vo)
		r.notifyKey(o, key)
		r.notifyObject(o)
		return
	}

	nv := value
	if value != nil {
		nv = r.adopt(value)
	}
	o.store(key, nv)
	if no, ok := nv.(*Object); ok {
		r.retrack(o, key, nil, no)
		if old == nil && !no.array {
			// Nothing could have been observing keys of an object that did
			// not exist yet, so its keys are announced now.
			r.deepNotify(no)
		}
	}
	r.notifyKey(o, key)
	if o.array {
		r.notifyKey(o, "length")
	}
	r.notifyObject(o)
}

// adopt wraps v, recording wrapped values from other registries as foreign
// proxies instead of re-wrapping them.
func (r *Registry) adopt(v any) any {
	if vo, ok := v.(*Object); ok && vo.reg != r {
		r.foreignProxies.Add(vo)
		return vo
	}
	return r.wrap(v)
}

func staleKeys(old *Object, next any) []string {
	var present func(string) bool
	switch n := next.(type) {
	case map[string]any:
		present = func(k string) bool { _, ok := n[k]; return ok }
	case *Object:
		present = n.Has
	default:
		return nil
	}
	var stale []string
	for _, k := range old.Keys() {
		if !present(k) {
			stale = append(stale, k)
		}
	}
	return stale
}

// clear empties o, notifying listeners of each removed key.
func (o *Object) clear() {
	o.clearSeen(mapset.NewThreadUnsafeSet[*Object]())
}

func (o *Object) clearSeen(seen mapset.Set[*Object]) {
	if !seen.Add(o) {
		return
	}
	for _, k := range o.Keys() {
		v, _ := o.own(k)
		if nested, ok := v.(*Object); ok {
			nested.clearSeen(seen)
			o.reg.untrack(nested, k)
		}
		o.remove(k)
		o.reg.notifyKey(o, k)
	}
	if o.array {
		o.items = o.items[:0]
		o.reg.notifyKey(o, "length")
	}
	o.reg.notifyObject(o)
}

// Delete removes key. A wrapped value is cleared first so watchers of its
// nested keys see it go away.
func (o *Object) Delete(key string) {
	old, had := o.own(key)
	if !had {
		return
	}
	if _, ok := old.(*Object); ok {
		o.Set(key, nil)
	}
	o.remove(key)
	o.reg.notifyKey(o, key)
	o.reg.notifyObject(o)
}

// Merge writes every key of m through Set.
func (o *Object) Merge(m map[string]any) {
	for _, k := range sortedKeys(m) {
		o.Set(k, m[k])
	}
}

// Push appends values to an array.
func (o *Object) Push(values ...any) int {
	for _, v := range values {
		o.Set(strconv.Itoa(len(o.items)), v)
	}
	return len(o.items)
}

// Pop removes and returns the last array element.
func (o *Object) Pop() any {
	n := len(o.items)
	if !o.array || n == 0 {
		return nil
	}
	last := o.items[n-1]
	if _, ok := last.(*Object); ok {
		o.Set(strconv.Itoa(n-1), nil)
	}
	o.Set("length", n-1)
	o.reg.notifyKey(o, strconv.Itoa(n-1))
	return last
}

// Splice removes deleteCount elements at start and inserts values in their
// place, returning the removed elements.
func (o *Object) Splice(start, deleteCount int, values ...any) []any {
	if !o.array {
		return nil
	}
	n := len(o.items)
	start = max(0, min(start, n))
	deleteCount = max(0, min(deleteCount, n-start))

	removed := slices.Clone(o.items[start : start+deleteCount])
	inserted := make([]any, len(values))
	for i, v := range values {
		inserted[i] = o.reg.adopt(v)
	}
	o.items = slices.Replace(o.items, start, start+deleteCount, inserted...)
	for _, el := range removed {
		if nested, ok := el.(*Object); ok && !slices.Contains(o.items, el) {
			nested.clear()
		}
	}

	for i := start; i < max(n, len(o.items)); i++ {
		o.reg.notifyKey(o, strconv.Itoa(i))
	}
	if len(o.items) != n {
		o.reg.notifyKey(o, "length")
	}
	o.reg.notifyObject(o)
	return removed
}

// Plain returns a deep copy of o as plain maps and slices. A reference back
// to an enclosing object is copied as nil.
func (o *Object) Plain() any {
	return plain(o, mapset.NewThreadUnsafeSet[*Object]())
}

func plain(v any, path mapset.Set[*Object]) any {
	o, ok := v.(*Object)
	if !ok {
		return v
	}
	if !path.Add(o) {
		return nil
	}
	defer path.Remove(o)
	if o.array {
		out := make([]any, len(o.items))
		for i, el := range o.items {
			out[i] = plain(el, path)
		}
		return out
	}
	out := make(map[string]any, len(o.keys))
	for _, k := range o.keys {
		out[k] = plain(o.props[k], path)
	}
	return out
}
