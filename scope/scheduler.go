package scope

// DefaultTTL is how many times one listener may be notified within a single
// flush before the loop is reported and the listener skipped.
const DefaultTTL = 10

type task struct {
	l   *Listener
	fn  func() error
	reg *Registry
}

type hook struct {
	fn  func()
	reg *Registry
}

// Scheduler is the deferred notification queue. Writes only enqueue work;
// nothing is dispatched until Flush drains the queue in FIFO order.
type Scheduler struct {
	queue      []task
	postUpdate []hook
	ttl        int
	counts     map[*Listener]int
	flushing   bool

	flushes  uint64
	notified uint64
}

func NewScheduler() *Scheduler {
	return &Scheduler{ttl: DefaultTTL, counts: map[*Listener]int{}}
}

// SetTTL changes the per-flush notification limit. Values below one are
// ignored.
func (s *Scheduler) SetTTL(ttl int) {
	if ttl > 0 {
		s.ttl = ttl
	}
}

// Pending is the number of queued tasks.
func (s *Scheduler) Pending() int { return len(s.queue) }

// Flushes is the number of completed Flush calls that ran at least one task.
func (s *Scheduler) Flushes() uint64 { return s.flushes }

// Notified is the total number of listener invocations.
func (s *Scheduler) Notified() uint64 { return s.notified }

// enqueueListener queues l unless it is already waiting. The listener reads
// the live value when it is dispatched, so one queued entry covers every
// write made before the flush reaches it.
func (s *Scheduler) enqueueListener(l *Listener) {
	if l.pending {
		return
	}
	l.pending = true
	s.queue = append(s.queue, task{l: l, reg: l.reg})
}

func (s *Scheduler) enqueue(reg *Registry, fn func() error) {
	s.queue = append(s.queue, task{fn: fn, reg: reg})
}

func (s *Scheduler) addPostUpdate(reg *Registry, fn func()) {
	s.postUpdate = append(s.postUpdate, hook{fn: fn, reg: reg})
}

// Flush runs queued tasks until the queue is empty, including tasks queued
// while flushing. A nested call made from inside a listener returns
// immediately; the outer flush picks up anything it queued. It returns the
// number of listeners notified.
func (s *Scheduler) Flush() int {
	if s.flushing || len(s.queue) == 0 {
		return 0
	}
	s.flushing = true
	defer func() {
		s.flushing = false
		clear(s.counts)
	}()

	n := 0
	for len(s.queue) > 0 {
		t := s.queue[0]
		s.queue[0] = task{}
		s.queue = s.queue[1:]

		if l := t.l; l != nil {
			if l.removed {
				l.pending = false
				continue
			}
			s.counts[l]++
			if c := s.counts[l]; c > s.ttl {
				l.pending = false
				if c == s.ttl+1 {
					l.reg.report(&ListenerError{Expr: l.expr.Source, ScopeID: l.ScopeID, Err: ErrInfiniteDigest})
				}
				continue
			}
			l.reg.notifyListener(l)
			n++
			l.scope.runPostDigest()
		} else if err := invoke(t.fn); err != nil {
			t.reg.report(err)
		}
		s.drainPostUpdate()
	}
	if len(s.queue) == 0 {
		s.queue = nil
	}
	s.flushes++
	s.notified += uint64(n)
	return n
}

func (s *Scheduler) drainPostUpdate() {
	for len(s.postUpdate) > 0 {
		h := s.postUpdate[0]
		s.postUpdate[0] = hook{}
		s.postUpdate = s.postUpdate[1:]
		if err := invoke(func() error { h.fn(); return nil }); err != nil {
			h.reg.report(err)
		}
	}
}
