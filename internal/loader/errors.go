package loader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hanpama/notegraph/internal/query"
)

var (
	// ErrBatchLength is returned for every key of a batch whose function
	// returned a result slice that does not line up with Batch.IDs.
	ErrBatchLength = errors.New("loader: batch result length mismatch")
	// ErrPanic wraps a panic recovered from a batch function.
	ErrPanic = errors.New("loader: batch function panicked")
	// ErrGroupType is returned by New when WithGroup was given a function
	// over a different id type.
	ErrGroupType = errors.New("loader: group function does not match id type")
	// ErrSession is returned by loads whose WithSession value is not
	// comparable.
	ErrSession = errors.New("loader: session is not comparable")
)

// ValidationError reports a cached value that the validator rejected. It
// fails the whole Load call it surfaced in.
type ValidationError struct {
	Loader string
	Query  query.Node
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("loader %s: validate %s: %v", e.Loader, leafPath(e.Query), e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// leafPath renders the field path of a single-field leaf, e.g. "a.b".
func leafPath(n query.Node) string {
	var parts []string
	for {
		switch v := n.(type) {
		case query.Object:
			keys := query.Fields(v)
			if len(keys) != 1 {
				return strings.Join(append(parts, "{"+strings.Join(keys, ",")+"}"), ".")
			}
			parts = append(parts, keys[0])
			n = v[keys[0]]
			continue
		case query.Array:
			n = v.Elem
			continue
		}
		if len(parts) == 0 {
			return "."
		}
		return strings.Join(parts, ".")
	}
}
