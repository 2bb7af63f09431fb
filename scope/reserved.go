package scope

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/delaneyj/ngscope/parse"
)

// Names a scope target answers itself. Writes to them are ignored.
var reservedNames = mapset.NewThreadUnsafeSet(
	"$id", "$parent", "$root", "$children", "$$watchersCount",
	"$watch", "$watchGroup", "$watchCollection",
	"$new", "$newIsolate", "$transcluded", "$destroy",
	"$eval", "$apply", "$evalAsync",
	"$on", "$emit", "$broadcast",
	"$merge", "$getById", "$postUpdate",
)

func (s *Scope) isReserved(key string) bool {
	return reservedNames.Contains(key)
}

// reserved returns the value of a reserved name: scope metadata, or the
// scope API bound to s as parse.Func values so expressions can call it.
func (s *Scope) reserved(key string) (any, bool) {
	switch key {
	case "$id":
		return s.id, true
	case "$parent":
		if s.parent == nil {
			return nil, true
		}
		return s.parent.target, true
	case "$root":
		return s.root.target, true
	case "$children":
		out := make([]any, len(s.children))
		for i, c := range s.children {
			out[i] = c.target
		}
		return out, true
	case "$$watchersCount":
		return s.WatchersCount(), true
	}
	if fn, ok := s.method(key); ok {
		return fn, true
	}
	return nil, false
}

func (s *Scope) method(key string) (parse.Func, bool) {
	switch key {
	case "$watch", "$watchCollection":
		return func(_ any, args ...any) (any, error) {
			d, err := s.Watch(argString(args, 0), callbackListener(arg(args, 1)))
			return deregisterFunc(d), err
		}, true
	case "$watchGroup":
		return func(_ any, args ...any) (any, error) {
			var srcs []string
			for _, v := range argList(args, 0) {
				srcs = append(srcs, fmt.Sprint(v))
			}
			cb := arg(args, 1)
			d, err := s.WatchGroup(srcs, func(values []any, target *Object) error {
				if cb == nil {
					return nil
				}
				_, err := parse.Call(cb, target, values)
				return err
			})
			return deregisterFunc(d), err
		}, true
	case "$new":
		return func(_ any, args ...any) (any, error) {
			return s.New(argMap(args, 0)).target, nil
		}, true
	case "$newIsolate":
		return func(_ any, args ...any) (any, error) {
			return s.NewIsolate(argMap(args, 0)).target, nil
		}, true
	case "$transcluded":
		return func(_ any, args ...any) (any, error) {
			var parent *Scope
			if o, ok := arg(args, 0).(*Object); ok {
				parent = o.scope
			}
			return s.Transcluded(parent).target, nil
		}, true
	case "$destroy":
		return func(any, ...any) (any, error) {
			s.Destroy()
			return nil, nil
		}, true
	case "$eval":
		return func(_ any, args ...any) (any, error) {
			return s.Eval(argString(args, 0), parse.Locals(argMap(args, 1)))
		}, true
	case "$apply":
		return func(_ any, args ...any) (any, error) {
			return s.Apply(argString(args, 0)), nil
		}, true
	case "$evalAsync":
		return func(_ any, args ...any) (any, error) {
			return nil, s.EvalAsync(argString(args, 0), parse.Locals(argMap(args, 1)))
		}, true
	case "$on":
		return func(_ any, args ...any) (any, error) {
			cb := arg(args, 1)
			d := s.On(argString(args, 0), func(e *Event, rest ...any) error {
				_, err := parse.Call(cb, s.target, append([]any{e}, rest...)...)
				return err
			})
			return deregisterFunc(d), nil
		}, true
	case "$emit":
		return func(_ any, args ...any) (any, error) {
			return s.Emit(argString(args, 0), rest(args)...), nil
		}, true
	case "$broadcast":
		return func(_ any, args ...any) (any, error) {
			return s.Broadcast(argString(args, 0), rest(args)...), nil
		}, true
	case "$merge":
		return func(_ any, args ...any) (any, error) {
			switch m := arg(args, 0).(type) {
			case map[string]any:
				s.Merge(m)
			case *Object:
				for _, k := range m.Keys() {
					s.Set(k, m.Get(k))
				}
			}
			return nil, nil
		}, true
	case "$getById":
		return func(_ any, args ...any) (any, error) {
			n, ok := parse.ToNumber(arg(args, 0))
			if !ok {
				return nil, nil
			}
			if c := s.GetByID(uint64(n)); c != nil {
				return c.target, nil
			}
			return nil, nil
		}, true
	case "$postUpdate":
		return func(_ any, args ...any) (any, error) {
			cb := arg(args, 0)
			s.PostUpdate(func() {
				if _, err := parse.Call(cb, s.target); err != nil {
					s.reg.report(fmt.Errorf("scope %d: post update: %w", s.id, err))
				}
			})
			return nil, nil
		}, true
	}
	return nil, false
}

func callbackListener(cb any) ListenerFunc {
	if cb == nil {
		return nil
	}
	return func(value any, target *Object) error {
		_, err := parse.Call(cb, target, value, target)
		return err
	}
}

func deregisterFunc(d Deregister) parse.Func {
	return func(any, ...any) (any, error) {
		if d != nil {
			d()
		}
		return nil, nil
	}
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func rest(args []any) []any {
	if len(args) < 2 {
		return nil
	}
	return args[1:]
}

func argString(args []any, i int) string {
	switch v := arg(args, i).(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func argMap(args []any, i int) map[string]any {
	switch v := arg(args, i).(type) {
	case map[string]any:
		return v
	case *Object:
		if p, ok := v.Plain().(map[string]any); ok {
			return p
		}
	}
	return nil
}

func argList(args []any, i int) []any {
	switch v := arg(args, i).(type) {
	case []any:
		return v
	case *Object:
		if v.IsArray() {
			return v.items
		}
	}
	return nil
}
