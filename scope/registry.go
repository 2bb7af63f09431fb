package scope

import (
	"fmt"
	"slices"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/delaneyj/ngscope/parse"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("ngscope.scope")

var listenerIDs atomic.Uint64

// ErrorHandler receives every error raised inside a listener, an event
// callback or an applied expression. It must not panic.
type ErrorHandler func(err error)

// ListenerFunc is called with the value of a watched expression and the
// target object the watch was registered on.
type ListenerFunc func(value any, target *Object) error

// Deregister removes a registration. Calling it more than once is a no-op.
type Deregister func()

func noop() {}

// Listener is one registered watch.
type Listener struct {
	ID      uint64
	ScopeID uint64
	// Property lists the keys the listener is filed under.
	Property []string
	// WatchProp is the full expression when it differs from the bare key.
	WatchProp string

	expr   *parse.Expression
	fn     ListenerFunc
	target *Object
	scope  *Scope
	reg    *Registry

	owners  map[string][]parse.Node
	filings []filing
	// whole listeners are also notified when any key of the object they
	// currently resolve to changes.
	whole    bool
	oneTime  bool
	pending  bool
	removed  bool
	fallback *Object
}

type filing struct {
	reg     *Registry
	key     string
	foreign bool
}

// Expression returns the compiled watch expression.
func (l *Listener) Expression() *parse.Expression { return l.expr }

// accepts reports whether a change of key on o concerns l. A key derived
// from a member access only matches when the owning path resolves to o, a
// bare identifier only when o is on the lookup chain of the target.
func (l *Listener) accepts(o *Object, key string) bool {
	owners, ok := l.owners[key]
	if !ok {
		return false
	}
	for _, owner := range owners {
		if owner == nil {
			for cur := l.target; cur != nil; cur = cur.proto {
				if cur == o {
					return true
				}
			}
			continue
		}
		v, err := parse.Eval(owner, l.target, nil)
		if err != nil {
			continue
		}
		if vo, ok := v.(*Object); ok && vo == o {
			return true
		}
	}
	return false
}

func (l *Listener) assigns() bool {
	_, ok := l.expr.Node().(*parse.AssignmentExpression)
	return ok
}

// resolves reports whether the watch expression currently evaluates to o.
func (l *Listener) resolves(o *Object) bool {
	v, err := l.expr.Eval(l.target, nil)
	if err != nil {
		return false
	}
	vo, ok := v.(*Object)
	return ok && vo == o
}

// Registry is the observation context shared by every scope of one tree.
type Registry struct {
	watchers         map[string][]*Listener
	foreignListeners map[string][]*Listener
	objectListeners  map[*Object][]string
	foreignProxies   mapset.Set[*Object]
	owned            map[uint64][]*Listener

	sched   *Scheduler
	onError ErrorHandler
	cache   *parse.Cache
	log     commonlog.Logger
}

func newRegistry(sched *Scheduler, onError ErrorHandler, cache *parse.Cache, logger commonlog.Logger) *Registry {
	return &Registry{
		watchers:         map[string][]*Listener{},
		foreignListeners: map[string][]*Listener{},
		objectListeners:  map[*Object][]string{},
		foreignProxies:   mapset.NewThreadUnsafeSet[*Object](),
		owned:            map[uint64][]*Listener{},
		sched:            sched,
		onError:          onError,
		cache:            cache,
		log:              logger,
	}
}

// Wrap instruments v for this registry. Wrapping an *Object returns it
// unchanged.
func (r *Registry) Wrap(v any) any {
	return r.wrap(v)
}

// Scheduler returns the queue notifications are dispatched from.
func (r *Registry) Scheduler() *Scheduler { return r.sched }

// Len is the number of live listeners.
func (r *Registry) Len() int {
	n := 0
	for _, ls := range r.owned {
		n += len(ls)
	}
	return n
}

func (r *Registry) report(err error) {
	if err == nil {
		return
	}
	r.onError(err)
}

func defaultErrorHandler(err error) {
	log.Errorf("%s", err)
}

func (r *Registry) newListener(s *Scope, e *parse.Expression, fn ListenerFunc) *Listener {
	l := &Listener{
		ID:      listenerIDs.Add(1),
		ScopeID: s.id,
		expr:    e,
		fn:      fn,
		target:  s.target,
		scope:   s,
		reg:     r,
		owners:  map[string][]parse.Node{},
		oneTime: e.OneTime(),
	}
	r.owned[s.id] = append(r.owned[s.id], l)
	return l
}

// file registers l under key. When the owning object of a member key lives
// in another registry the listener is filed there as a foreign listener.
func (r *Registry) file(l *Listener, key string, owner parse.Node) {
	if !slices.Contains(l.owners[key], owner) {
		l.owners[key] = append(l.owners[key], owner)
	}
	if !slices.Contains(l.Property, key) {
		l.Property = append(l.Property, key)
	}
	if key != l.expr.Source && l.WatchProp == "" {
		l.WatchProp = l.expr.Source
	}

	home, foreign := r, false
	if owner != nil {
		if v, err := parse.Eval(owner, l.target, nil); err == nil {
			if vo, ok := v.(*Object); ok && vo.reg != r {
				home, foreign = vo.reg, true
				if r.foreignProxies.Contains(vo) {
					r.log.Debugf("watch %q follows an aliased object", l.expr.Source)
				}
			}
		}
	}
	f := filing{reg: home, key: key, foreign: foreign}
	if slices.Contains(l.filings, f) {
		return
	}
	l.filings = append(l.filings, f)
	if foreign {
		home.foreignListeners[key] = append(home.foreignListeners[key], l)
		return
	}
	r.watchers[key] = append(r.watchers[key], l)
}

func (r *Registry) deregister(l *Listener) {
	if l.removed {
		return
	}
	l.removed = true
	for _, f := range l.filings {
		m := f.reg.watchers
		if f.foreign {
			m = f.reg.foreignListeners
		}
		ls := slices.DeleteFunc(slices.Clone(m[f.key]), func(x *Listener) bool { return x == l })
		if len(ls) == 0 {
			delete(m, f.key)
		} else {
			m[f.key] = ls
		}
	}
	owned := slices.DeleteFunc(r.owned[l.ScopeID], func(x *Listener) bool { return x == l })
	if len(owned) == 0 {
		delete(r.owned, l.ScopeID)
	} else {
		r.owned[l.ScopeID] = owned
	}
}

// dropScope removes every listener owned by the given scope ids.
func (r *Registry) dropScope(ids mapset.Set[uint64]) int {
	n := 0
	for _, id := range ids.ToSlice() {
		for _, l := range slices.Clone(r.owned[id]) {
			r.deregister(l)
			n++
		}
	}
	return n
}

// reset clears every map, used when a root scope is destroyed.
func (r *Registry) reset() {
	for _, ls := range r.owned {
		for _, l := range ls {
			l.removed = true
		}
	}
	clear(r.watchers)
	clear(r.foreignListeners)
	clear(r.objectListeners)
	clear(r.owned)
	r.foreignProxies.Clear()
}

func (r *Registry) schedule(l *Listener, changed *Object) {
	if l.removed {
		return
	}
	l.fallback = changed
	l.reg.sched.enqueueListener(l)
}

// notifyKey queues the listeners interested in a change of key on o.
func (r *Registry) notifyKey(o *Object, key string) {
	for _, l := range r.watchers[key] {
		if l.accepts(o, key) {
			r.schedule(l, o)
		}
	}
	foreign := r.foreignListeners[key]
	if len(foreign) == 0 {
		return
	}
	hash, hashed := o.own(HashKey)
	for _, l := range foreign {
		if hashed && !sameValue(l.target.Get(HashKey), hash) {
			continue
		}
		if l.accepts(o, key) {
			r.schedule(l, o)
		}
	}
}

// notifyObject queues whole-object listeners tracking o.
func (r *Registry) notifyObject(o *Object) {
	for _, key := range r.objectListeners[o] {
		for _, l := range r.watchers[key] {
			if l.whole && l.resolves(o) {
				r.schedule(l, o)
			}
		}
	}
}

// deepNotify announces every key reachable from o.
func (r *Registry) deepNotify(o *Object) {
	r.deepNotifySeen(o, mapset.NewThreadUnsafeSet[*Object]())
}

func (r *Registry) deepNotifySeen(o *Object, seen mapset.Set[*Object]) {
	if !seen.Add(o) {
		return
	}
	for _, k := range o.Keys() {
		r.notifyKey(o, k)
		if nested, ok := o.props[k].(*Object); ok && !o.array {
			r.deepNotifySeen(nested, seen)
		}
	}
	if o.array {
		r.notifyKey(o, "length")
		for _, el := range o.items {
			if nested, ok := el.(*Object); ok {
				r.deepNotifySeen(nested, seen)
			}
		}
	}
}

func (r *Registry) track(o *Object, key string) {
	if o.reg != r {
		return
	}
	if !slices.Contains(r.objectListeners[o], key) {
		r.objectListeners[o] = append(r.objectListeners[o], key)
	}
}

func (r *Registry) untrack(o *Object, key string) {
	keys := slices.DeleteFunc(slices.Clone(r.objectListeners[o]), func(k string) bool { return k == key })
	if len(keys) == 0 {
		delete(r.objectListeners, o)
		return
	}
	r.objectListeners[o] = keys
}

// retrack moves whole-object tracking for key from old to the value now
// stored under it on owner.
func (r *Registry) retrack(owner *Object, key string, old *Object, nv any) {
	if old != nil {
		r.untrack(old, key)
	}
	no, ok := nv.(*Object)
	if !ok {
		return
	}
	for _, l := range r.watchers[key] {
		if l.whole && l.accepts(owner, key) {
			r.track(no, key)
			return
		}
	}
}

// notifyListener evaluates l and calls its listener function. l stays
// pending while its expression is evaluated, so writes made by the
// expression itself do not queue it again; writes made by the listener
// function do.
func (r *Registry) notifyListener(l *Listener) {
	if l.removed {
		l.pending = false
		return
	}
	v, err := l.expr.Eval(l.target, nil)
	if err == nil && v == nil && l.fallback != nil && l.fallback != l.target && !l.assigns() {
		v, err = l.expr.Eval(l.fallback, nil)
	}
	if err == nil {
		v, err = resolveCallables(v, l.target)
	}
	l.pending = false
	if err != nil {
		r.report(&ListenerError{Expr: l.expr.Source, ScopeID: l.ScopeID, Err: err})
		return
	}
	if l.oneTime {
		if v == nil {
			return
		}
		r.deregister(l)
	}
	if err := invoke(func() error { return l.fn(v, l.target) }); err != nil {
		r.report(&ListenerError{Expr: l.expr.Source, ScopeID: l.ScopeID, Err: err})
	}
}

func resolveCallables(v any, this *Object) (any, error) {
	if parse.IsCallable(v) {
		return parse.Call(v, this)
	}
	var items []any
	switch x := v.(type) {
	case *Object:
		if !x.array {
			return v, nil
		}
		items = x.items
	case []any:
		items = x
	default:
		return v, nil
	}
	if !slices.ContainsFunc(items, parse.IsCallable) {
		return v, nil
	}
	out := make([]any, len(items))
	for i, el := range items {
		if parse.IsCallable(el) {
			res, err := parse.Call(el, this)
			if err != nil {
				return nil, err
			}
			el = res
		}
		out[i] = el
	}
	return out, nil
}

// invoke runs fn, turning a panic into a *PanicError.
func invoke(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p}
		}
	}()
	return fn()
}

func (l *Listener) String() string {
	return fmt.Sprintf("listener %d (scope %d) %q on %v", l.ID, l.ScopeID, l.expr.Source, l.Property)
}
