package scope

import "fmt"

// EventFunc handles an event. A returned error is reported and does not stop
// propagation.
type EventFunc func(e *Event, args ...any) error

type handler struct {
	fn EventFunc
}

// Event is threaded through every callback of one Emit or Broadcast.
type Event struct {
	Name             string
	TargetScope      *Scope
	CurrentScope     *Scope
	DefaultPrevented bool

	stopped bool
}

func (e *Event) StopPropagation() { e.stopped = true }
func (e *Event) PreventDefault()  { e.DefaultPrevented = true }
func (e *Event) Stopped() bool    { return e.stopped }

// On registers fn for name. On a destroyed scope it registers nothing.
func (s *Scope) On(name string, fn EventFunc) Deregister {
	if s.destroyed {
		return noop
	}
	h := &handler{fn: fn}
	s.events[name] = append(s.events[name], h)
	return func() {
		list := s.events[name]
		for i, x := range list {
			if x == h {
				list = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(s.events, name)
			return
		}
		s.events[name] = list
	}
}

// Emit dispatches name upward from s through every ancestor that listens
// for it. The walk ends at the root of the tree s belongs to, which for an
// isolate scope is the isolate itself.
func (s *Scope) Emit(name string, args ...any) *Event {
	e := &Event{Name: name, TargetScope: s}
	if s.destroyed {
		return e
	}
	for cur := s; cur != nil; cur = cur.parent {
		if len(cur.events[name]) > 0 {
			e.CurrentScope = cur
			cur.dispatch(e, args)
			if e.stopped {
				break
			}
		}
		if cur.IsRoot() {
			break
		}
	}
	e.CurrentScope = nil
	return e
}

// Broadcast dispatches name to s, then to each descendant depth first in
// child order.
func (s *Scope) Broadcast(name string, args ...any) *Event {
	e := &Event{Name: name, TargetScope: s}
	if s.destroyed {
		return e
	}
	s.broadcast(e, args)
	e.CurrentScope = nil
	return e
}

func (s *Scope) broadcast(e *Event, args []any) {
	e.CurrentScope = s
	s.dispatch(e, args)
	for _, c := range s.Children() {
		if e.stopped {
			return
		}
		c.broadcast(e, args)
	}
}

// dispatch calls the handlers for e.Name in registration order. A handler
// removing itself or an earlier one does not cause the next to be skipped.
func (s *Scope) dispatch(e *Event, args []any) {
	for i := 0; i < len(s.events[e.Name]); i++ {
		h := s.events[e.Name][i]
		if err := invoke(func() error { return h.fn(e, args...) }); err != nil {
			s.reg.report(fmt.Errorf("scope %d: event %q: %w", s.id, e.Name, err))
		}
		list := s.events[e.Name]
		if i >= len(list) || list[i] != h {
			i = indexOf(list, h, i)
		}
	}
}

// indexOf finds where h moved to after a removal, or the slot before the
// next handler when h itself was removed.
func indexOf(list []*handler, h *handler, last int) int {
	for j := min(last, len(list)-1); j >= 0; j-- {
		if list[j] == h {
			return j
		}
	}
	return min(last, len(list)) - 1
}
