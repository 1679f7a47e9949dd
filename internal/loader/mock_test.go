package loader

import (
	"context"
	"errors"
	"sync"

	"github.com/hanpama/notegraph/internal/query"
)

var errNotFound = errors.New("not found")

// recorder is a BatchFunc backed by an in-memory fixture that records every
// batch it receives.
type recorder[ID any] struct {
	mu      sync.Mutex
	data    map[string]any
	batches []*Batch[ID]
	// result overrides the fixture lookup when set.
	result func(*Batch[ID]) ([]any, error)
}

func newRecorder[ID any](data map[string]any) *recorder[ID] {
	return &recorder[ID]{data: data}
}

func (r *recorder[ID]) fn(_ context.Context, b *Batch[ID]) ([]any, error) {
	r.mu.Lock()
	r.batches = append(r.batches, b)
	r.mu.Unlock()
	if r.result != nil {
		return r.result(b)
	}
	out := make([]any, len(b.IDs))
	for i, id := range b.IDs {
		v, ok := r.data[query.Key(id)]
		if !ok {
			out[i] = errNotFound
			continue
		}
		out[i] = v
	}
	return out, nil
}

func (r *recorder[ID]) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *recorder[ID]) batch(i int) *Batch[ID] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[i]
}

// countingValidator passes values through and counts Validate calls. Values
// holding the string "invalid" anywhere are rejected.
type countingValidator struct {
	mu    sync.Mutex
	calls int
}

var errInvalid = errors.New("invalid value")

func (v *countingValidator) Validate(raw any, _ query.Node) (any, error) {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()
	if containsInvalid(raw) {
		return nil, errInvalid
	}
	return raw, nil
}

func (v *countingValidator) Raw(validated any, _ query.Node) (any, error) {
	return validated, nil
}

func containsInvalid(v any) bool {
	switch v := v.(type) {
	case string:
		return v == "invalid"
	case map[string]any:
		for _, c := range v {
			if containsInvalid(c) {
				return true
			}
		}
	case []any:
		for _, c := range v {
			if containsInvalid(c) {
				return true
			}
		}
	}
	return false
}
