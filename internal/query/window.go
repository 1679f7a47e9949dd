package query

// Window is one cursor pagination request over a list field.
//
// Forward windows set First and/or After, backward windows set Last and/or
// Before. A zero First or Last means "no size limit"; a nil cursor means
// "from the start" (forward) or "from the end" (backward).
type Window struct {
	First  int `json:"first,omitempty"`
	After  any `json:"after,omitempty"`
	Last   int `json:"last,omitempty"`
	Before any `json:"before,omitempty"`
}

// Kind classifies a window by direction and by whether it is anchored at a cursor.
type Kind int

const (
	UnboundedForward Kind = iota
	UnboundedBackward
	BoundedForward
	BoundedBackward
)

func (k Kind) String() string {
	switch k {
	case UnboundedForward:
		return "unbounded-forward"
	case UnboundedBackward:
		return "unbounded-backward"
	case BoundedForward:
		return "bounded-forward"
	case BoundedBackward:
		return "bounded-backward"
	}
	return "unknown"
}

func (w Window) forward() bool  { return w.First != 0 || w.After != nil }
func (w Window) backward() bool { return w.Last != 0 || w.Before != nil }

// Validate rejects negative sizes, empty windows and windows mixing forward
// and backward arguments.
func (w Window) Validate() error {
	if w.First < 0 || w.Last < 0 {
		return ErrNegativeWindow
	}
	switch {
	case w.forward() && w.backward():
		return ErrMixedPagination
	case !w.forward() && !w.backward():
		return ErrEmptyWindow
	}
	return nil
}

// Kind returns the classification of a valid window.
func (w Window) Kind() Kind {
	switch {
	case w.After != nil:
		return BoundedForward
	case w.Before != nil:
		return BoundedBackward
	case w.Last != 0:
		return UnboundedBackward
	}
	return UnboundedForward
}
