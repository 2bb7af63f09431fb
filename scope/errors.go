package scope

import (
	"errors"
	"fmt"

	"github.com/delaneyj/ngscope/parse"
)

var (
	// ErrUndefinedKey is raised when writing the literal key "undefined",
	// which almost always means a computed key evaluated to undefined.
	ErrUndefinedKey = errors.New(`scope: cannot set property named "undefined"`)
	// ErrNoWatchKey means no observable key could be derived from an
	// expression.
	ErrNoWatchKey = errors.New("scope: unable to determine key to watch")
	ErrDestroyed  = errors.New("scope: scope has been destroyed")
	// ErrInfiniteDigest is reported when a listener keeps re-triggering
	// itself within one flush.
	ErrInfiniteDigest = errors.New("scope: listener notified too many times in one flush")
)

// UnsupportedNodeError is returned by Watch for node kinds that have no
// observable key.
type UnsupportedNodeError struct {
	Kind parse.Kind
}

func (e *UnsupportedNodeError) Error() string {
	return fmt.Sprintf("scope: unsupported expression type %s", e.Kind)
}

// ListenerError wraps a failure raised while notifying a watch listener.
type ListenerError struct {
	Expr    string
	ScopeID uint64
	Err     error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("scope %d: watch %q: %v", e.ScopeID, e.Expr, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }

// PanicError carries a value recovered from a panicking callback.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
