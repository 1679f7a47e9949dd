// Package pagination answers many cursor windows over one list field with a
// single read of that list.
//
// A Plan reduces a set of windows to slices: one prefix covering every
// unbounded forward window (or the whole list, when some caller selects the
// field without a window), one suffix covering every unbounded backward
// window, and one slice per cursor-anchored window. The slices are
// concatenated into an envelope together with their sizes:
//
//	{array: [prefix..., suffix..., forward_0..., backward_0...], sizes: [len(prefix), len(suffix), len(forward_0), len(backward_0)]}
//
// Expression builds the envelope inside a MongoDB aggregation, Evaluate builds
// it in process, and Slice recovers the items of one window from it.
package pagination

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/hanpama/notegraph/internal/query"
)

// Config describes where cursors live in the list elements.
type Config struct {
	// Cursor is the element field holding the cursor. Empty means the element
	// itself is the cursor.
	Cursor string
	// Consecutive locates cursors arithmetically (index = cursor - first cursor).
	// Only valid for gapless ascending integer cursors such as revision numbers.
	Consecutive bool
}

// Plan is the reduced form of a set of windows over one list.
type Plan struct {
	MaxFirst int
	MaxLast  int
	Forward  []query.Window
	Backward []query.Window
	// Whole makes the prefix the entire list.
	Whole bool
}

// NewPlan classifies and reduces windows. Structural duplicates among bounded
// windows are kept once, in input order.
func NewPlan(windows []query.Window) (*Plan, error) {
	p := &Plan{}
	seen := map[string]struct{}{}
	for _, w := range windows {
		if err := w.Validate(); err != nil {
			return nil, err
		}
		switch w.Kind() {
		case query.UnboundedForward:
			p.MaxFirst = max(p.MaxFirst, w.First)
		case query.UnboundedBackward:
			p.MaxLast = max(p.MaxLast, w.Last)
		default:
			k := query.Key(w)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			if w.Kind() == query.BoundedForward {
				p.Forward = append(p.Forward, w)
			} else {
				p.Backward = append(p.Backward, w)
			}
		}
	}
	return p, nil
}

// PlanFor builds the plan of a merged list field: its windows, and the whole
// list when m was also selected without a window.
func PlanFor(m *query.Merged) (*Plan, error) {
	p, err := NewPlan(m.Windows())
	if err != nil {
		return nil, err
	}
	p.Whole = m.Whole()
	return p, nil
}

// Slices is the number of slices in the envelope.
func (p *Plan) Slices() int { return 2 + len(p.Forward) + len(p.Backward) }

// cursors returns the bounded cursors: forward ones first, then backward.
func (p *Plan) cursors() []any {
	out := lo.Map(p.Forward, func(w query.Window, _ int) any { return w.After })
	return append(out, lo.Map(p.Backward, func(w query.Window, _ int) any { return w.Before })...)
}

// Envelope is the combined result of a plan.
type Envelope struct {
	Array []any
	Sizes []int
}

// Slice returns the items of w from env. The window must be one of those the
// plan was built from.
func (p *Plan) Slice(env Envelope, w query.Window) ([]any, error) {
	if err := p.check(env); err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	s0, s1 := env.Sizes[0], env.Sizes[1]
	switch w.Kind() {
	case query.UnboundedForward:
		return env.Array[:min(w.First, s0)], nil
	case query.UnboundedBackward:
		n := min(w.Last, s1)
		return env.Array[s0+s1-n : s0+s1], nil
	}

	offset := s0 + s1
	slot := 2
	group := p.Forward
	if w.Kind() == query.BoundedBackward {
		for i := range p.Forward {
			offset += env.Sizes[slot+i]
		}
		slot += len(p.Forward)
		group = p.Backward
	}
	key := query.Key(w)
	for i, candidate := range group {
		size := env.Sizes[slot+i]
		if query.Key(candidate) == key {
			return env.Array[offset : offset+size], nil
		}
		offset += size
	}
	return nil, fmt.Errorf("%w: %+v", ErrUnknownWindow, w)
}

// All returns the entire list from env. The plan must be Whole.
func (p *Plan) All(env Envelope) ([]any, error) {
	if !p.Whole {
		return nil, ErrNotWhole
	}
	if err := p.check(env); err != nil {
		return nil, err
	}
	return env.Array[:env.Sizes[0]], nil
}

func (p *Plan) check(env Envelope) error {
	if len(env.Sizes) != p.Slices() {
		return fmt.Errorf("%w: %d sizes for %d slices", ErrEnvelope, len(env.Sizes), p.Slices())
	}
	total := lo.Sum(env.Sizes)
	if total != len(env.Array) {
		return fmt.Errorf("%w: sizes add up to %d, array has %d items", ErrEnvelope, total, len(env.Array))
	}
	return nil
}

// DecodeEnvelope reads an envelope from a decoded document.
func DecodeEnvelope(v any) (Envelope, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: expected document, got %T", ErrEnvelope, v)
	}
	var env Envelope
	switch arr := m["array"].(type) {
	case []any:
		env.Array = arr
	case nil:
	default:
		return Envelope{}, fmt.Errorf("%w: array is %T", ErrEnvelope, arr)
	}
	sizes, ok := m["sizes"].([]any)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: sizes is %T", ErrEnvelope, m["sizes"])
	}
	for _, s := range sizes {
		n, ok := toInt(s)
		if !ok {
			return Envelope{}, fmt.Errorf("%w: size %v is %T", ErrEnvelope, s, s)
		}
		env.Sizes = append(env.Sizes, n)
	}
	return env, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	}
	return 0, false
}
