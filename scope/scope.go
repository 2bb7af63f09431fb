// Package scope is a hierarchical, mutation-observing data model. Listeners
// bind to expressions over a scope's data and are notified, after the write
// that caused it and at most once per flush, when a key they depend on
// changes.
//
// Data lives in *Object values. Reads and writes go through Get and Set,
// which consult a Registry shared by every scope of one tree to find the
// listeners to queue on the Scheduler. Nothing is dispatched synchronously:
// Flush (or Apply) drains the queue.
package scope

import (
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/delaneyj/ngscope/parse"
	"github.com/tliron/commonlog"
)

// DestroyEvent is broadcast to a scope and its descendants before they are
// torn down.
const DestroyEvent = "$destroy"

var scopeIDs atomic.Uint64

type options struct {
	onError ErrorHandler
	sched   *Scheduler
	ttl     int
	logger  commonlog.Logger
	cache   *parse.Cache
}

type Option func(*options)

// WithErrorHandler replaces the handler that logs listener failures.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(o *options) { o.onError = fn }
}

// WithScheduler shares a notification queue between scope trees.
func WithScheduler(s *Scheduler) Option {
	return func(o *options) { o.sched = s }
}

// WithTTL bounds how often one listener may fire in a single flush.
func WithTTL(ttl int) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithLogger replaces the registry's debug logger.
func WithLogger(l commonlog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCache shares compiled expressions between scope trees.
func WithCache(c *parse.Cache) Option {
	return func(o *options) { o.cache = c }
}

// Scope is one node of the observation tree.
type Scope struct {
	id       uint64
	name     string
	reg      *Registry
	target   *Object
	parent   *Scope
	root     *Scope
	children []*Scope

	events     map[string][]*handler
	postDigest []func()
	destroyed  bool
}

// NewRoot creates the root of a new scope tree seeded with seed.
func NewRoot(seed map[string]any, opts ...Option) *Scope {
	o := &options{onError: defaultErrorHandler, logger: log}
	for _, opt := range opts {
		opt(o)
	}
	if o.sched == nil {
		o.sched = NewScheduler()
	}
	if o.ttl > 0 {
		o.sched.SetTTL(o.ttl)
	}
	if o.cache == nil {
		o.cache = parse.NewCache()
	}
	reg := newRegistry(o.sched, o.onError, o.cache, o.logger)
	s := newScope(reg, nil, nil)
	s.root = s
	s.seed(seed)
	reg.log.Debugf("created root scope %d", s.id)
	return s
}

func newScope(reg *Registry, proto *Object, parent *Scope) *Scope {
	s := &Scope{
		id:     scopeIDs.Add(1),
		reg:    reg,
		parent: parent,
		events: map[string][]*handler{},
	}
	s.target = newObject(reg, false)
	s.target.scope = s
	s.target.proto = proto
	return s
}

func (s *Scope) seed(m map[string]any) {
	if len(m) == 0 {
		return
	}
	w, ok := s.reg.wrap(m).(*Object)
	if !ok {
		s.target.excluded = map[string]struct{}{}
		for _, k := range sortedKeys(m) {
			s.target.excluded[k] = struct{}{}
			s.target.store(k, m[k])
		}
		return
	}
	s.target.keys, s.target.props, s.target.excluded = w.keys, w.props, w.excluded
}

func (s *Scope) derive(seed map[string]any, proto *Object, parent, root *Scope) *Scope {
	c := newScope(s.reg, proto, parent)
	c.root = root
	if root == nil {
		c.root = c
	}
	c.seed(seed)
	if s.destroyed || parent.destroyed {
		c.destroyed = true
		return c
	}
	parent.children = append(parent.children, c)
	s.reg.log.Debugf("created scope %d under %d", c.id, parent.id)
	return c
}

// New creates a child scope. Keys missing on the child are read from s.
func (s *Scope) New(seed map[string]any) *Scope {
	return s.derive(seed, s.target, s, s.root)
}

// NewIsolate creates a child that does not read through to s and is the
// root of its own event and lookup tree. It still shares the registry.
func (s *Scope) NewIsolate(seed map[string]any) *Scope {
	return s.derive(seed, nil, s, nil)
}

// Transcluded creates a child that reads through to s but whose logical
// parent is parent. A nil parent behaves like New.
func (s *Scope) Transcluded(parent *Scope) *Scope {
	if parent == nil {
		return s.New(nil)
	}
	return s.derive(nil, s.target, parent, parent.root)
}

// Destroy tears down s and its descendants. A $destroy event is broadcast
// first, then every listener owned by the subtree is deregistered. Destroying
// the tree root clears the whole registry. Calling Destroy again is a no-op.
func (s *Scope) Destroy() {
	if s.destroyed {
		return
	}
	s.Broadcast(DestroyEvent)

	ids := mapset.NewThreadUnsafeSet[uint64]()
	s.teardown(ids)
	if s.parent == nil {
		s.reg.reset()
		s.reg.log.Debugf("destroyed root scope %d", s.id)
		return
	}
	n := s.reg.dropScope(ids)
	s.parent.children = slices.DeleteFunc(s.parent.children, func(c *Scope) bool { return c == s })
	s.reg.log.Debugf("destroyed scope %d: %d scopes, %d listeners", s.id, ids.Cardinality(), n)
}

func (s *Scope) teardown(ids mapset.Set[uint64]) {
	ids.Add(s.id)
	for _, c := range s.children {
		c.teardown(ids)
	}
	s.children = nil
	clear(s.events)
	s.postDigest = nil
	s.destroyed = true
}

func (s *Scope) ID() uint64          { return s.id }
func (s *Scope) Parent() *Scope      { return s.parent }
func (s *Scope) Root() *Scope        { return s.root }
func (s *Scope) IsRoot() bool        { return s.root == s }
func (s *Scope) Destroyed() bool     { return s.destroyed }
func (s *Scope) Target() *Object     { return s.target }
func (s *Scope) Registry() *Registry { return s.reg }

func (s *Scope) Name() string        { return s.name }
func (s *Scope) SetName(name string) { s.name = name }

// Children returns a copy of the child list.
func (s *Scope) Children() []*Scope { return slices.Clone(s.children) }

// WatchersCount is the number of live listeners owned by s and its
// descendants.
func (s *Scope) WatchersCount() int {
	n := len(s.reg.owned[s.id])
	for _, c := range s.children {
		n += c.WatchersCount()
	}
	return n
}

func (s *Scope) Get(key string) any        { return s.target.Get(key) }
func (s *Scope) Set(key string, value any) { s.target.Set(key, value) }
func (s *Scope) Delete(key string)         { s.target.Delete(key) }

// Merge writes every key of m through the write path.
func (s *Scope) Merge(m map[string]any) { s.target.Merge(m) }

// Wrap instruments v for this scope's registry.
func (s *Scope) Wrap(v any) any { return s.reg.wrap(v) }

// Watch calls fn once after registration and then whenever a key the
// expression depends on changes.
func (s *Scope) Watch(src string, fn ListenerFunc) (Deregister, error) {
	return s.watch(src, fn, false)
}

// WatchLazy is Watch without the initial notification.
func (s *Scope) WatchLazy(src string, fn ListenerFunc) (Deregister, error) {
	return s.watch(src, fn, true)
}

// WatchCollection is Watch. Arrays and objects are tracked as a whole, so
// writes to their elements already notify.
func (s *Scope) WatchCollection(src string, fn ListenerFunc) (Deregister, error) {
	return s.watch(src, fn, false)
}

func (s *Scope) watch(src string, fn ListenerFunc, lazy bool) (Deregister, error) {
	if s.destroyed {
		return noop, ErrDestroyed
	}
	e, err := s.reg.cache.Compile(src)
	if err != nil {
		return noop, err
	}

	if e.Constant() {
		if fn != nil {
			v := e.Value()
			s.reg.sched.enqueue(s.reg, func() error {
				if s.destroyed {
					return nil
				}
				if err := invoke(func() error { return fn(v, s.target) }); err != nil {
					return &ListenerError{Expr: src, ScopeID: s.id, Err: err}
				}
				return nil
			})
		}
		return noop, nil
	}

	x, err := extractKeys(e.Node(), fn != nil)
	if err != nil {
		return noop, err
	}
	if x.fireAndForget {
		s.reg.sched.enqueue(s.reg, func() error {
			if s.destroyed {
				return nil
			}
			if _, err := e.Eval(s.target, nil); err != nil {
				return &ListenerError{Expr: src, ScopeID: s.id, Err: err}
			}
			return nil
		})
		return noop, nil
	}
	if fn == nil {
		fn = func(any, *Object) error { return nil }
	}

	l := s.reg.newListener(s, e, fn)
	for _, k := range x.keys {
		s.reg.file(l, k.name, k.owner)
	}
	switch e.Node().(type) {
	case *parse.Identifier, *parse.MemberExpression:
		l.whole = true
		if v, err := e.Eval(s.target, nil); err == nil && len(x.keys) > 0 {
			if vo, ok := v.(*Object); ok {
				s.reg.track(vo, x.keys[0].name)
			}
		}
	}
	if x.immediate || !lazy {
		s.reg.schedule(l, nil)
	}
	return func() { s.reg.deregister(l) }, nil
}

// GroupFunc receives the current value of every expression of a group.
type GroupFunc func(values []any, target *Object) error

// WatchGroup calls fn with the values of all srcs whenever any of them
// changes. Changes to several members before a flush produce one call.
func (s *Scope) WatchGroup(srcs []string, fn GroupFunc) (Deregister, error) {
	if s.destroyed {
		return noop, ErrDestroyed
	}
	exprs := make([]*parse.Expression, len(srcs))
	for i, src := range srcs {
		e, err := s.reg.cache.Compile(src)
		if err != nil {
			return noop, err
		}
		exprs[i] = e
	}

	name := strings.Join(srcs, "; ")
	var pending, removed bool
	run := func() error {
		pending = false
		if removed || s.destroyed {
			return nil
		}
		values := make([]any, len(exprs))
		for i, e := range exprs {
			v, err := e.Eval(s.target, nil)
			if err != nil {
				return &ListenerError{Expr: name, ScopeID: s.id, Err: err}
			}
			values[i] = v
		}
		if err := invoke(func() error { return fn(values, s.target) }); err != nil {
			return &ListenerError{Expr: name, ScopeID: s.id, Err: err}
		}
		return nil
	}
	trigger := func(any, *Object) error {
		if !pending {
			pending = true
			s.reg.sched.enqueue(s.reg, run)
		}
		return nil
	}

	deregs := make([]Deregister, 0, len(srcs))
	for _, src := range srcs {
		d, err := s.WatchLazy(src, trigger)
		if err != nil {
			for _, d := range deregs {
				d()
			}
			return noop, err
		}
		deregs = append(deregs, d)
	}
	trigger(nil, nil)
	return func() {
		removed = true
		for _, d := range deregs {
			d()
		}
	}, nil
}

// Eval evaluates src against the scope.
func (s *Scope) Eval(src string, locals parse.Locals) (any, error) {
	e, err := s.reg.cache.Compile(src)
	if err != nil {
		return nil, err
	}
	var v any
	err = invoke(func() error {
		var err error
		v, err = e.Eval(s.target, locals)
		return err
	})
	return v, err
}

// Apply evaluates src, reports any failure to the error handler, then
// flushes pending notifications. An empty src only flushes.
func (s *Scope) Apply(src string) any {
	defer s.Flush()
	if src == "" {
		return nil
	}
	v, err := s.Eval(src, nil)
	if err != nil {
		s.reg.report(fmt.Errorf("scope %d: apply %q: %w", s.id, src, err))
		return nil
	}
	return v
}

// ApplyFunc runs fn against the scope target, then flushes.
func (s *Scope) ApplyFunc(fn func(target *Object) error) {
	defer s.Flush()
	if err := invoke(func() error { return fn(s.target) }); err != nil {
		s.reg.report(fmt.Errorf("scope %d: apply: %w", s.id, err))
	}
}

// EvalAsync queues src to be evaluated on the next flush.
func (s *Scope) EvalAsync(src string, locals parse.Locals) error {
	e, err := s.reg.cache.Compile(src)
	if err != nil {
		return err
	}
	s.reg.sched.enqueue(s.reg, func() error {
		if s.destroyed {
			return nil
		}
		if _, err := e.Eval(s.target, locals); err != nil {
			return fmt.Errorf("scope %d: evalAsync %q: %w", s.id, src, err)
		}
		return nil
	})
	return nil
}

// Flush dispatches every queued notification.
func (s *Scope) Flush() int {
	return s.reg.sched.Flush()
}

// PostUpdate queues fn to run once after the next notified listener.
func (s *Scope) PostUpdate(fn func()) {
	s.reg.sched.addPostUpdate(s.reg, fn)
}

// PostDigest queues fn to run once after the next listener owned by s fires.
func (s *Scope) PostDigest(fn func()) {
	s.postDigest = append(s.postDigest, fn)
}

func (s *Scope) runPostDigest() {
	for len(s.postDigest) > 0 {
		fn := s.postDigest[0]
		s.postDigest = s.postDigest[1:]
		if err := invoke(func() error { fn(); return nil }); err != nil {
			s.reg.report(fmt.Errorf("scope %d: post digest: %w", s.id, err))
		}
	}
}

// GetByID searches s and its descendants depth first.
func (s *Scope) GetByID(id uint64) *Scope {
	return s.find(func(c *Scope) bool { return c.id == id })
}

// SearchByName returns the first scope in the subtree named name.
func (s *Scope) SearchByName(name string) *Scope {
	return s.find(func(c *Scope) bool { return c.name == name })
}

func (s *Scope) find(match func(*Scope) bool) *Scope {
	if match(s) {
		return s
	}
	for _, c := range s.children {
		if found := c.find(match); found != nil {
			return found
		}
	}
	return nil
}

func (s *Scope) String() string {
	if s.name != "" {
		return fmt.Sprintf("scope %d (%s)", s.id, s.name)
	}
	return fmt.Sprintf("scope %d", s.id)
}
