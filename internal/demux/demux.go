// Package demux carves the result of one merged query back into the shape of
// an individual query.
package demux

import (
	"github.com/hanpama/notegraph/internal/description"
	"github.com/hanpama/notegraph/internal/query"
)

// Demux walks raw against q and its merged query m.
//
// At every node the MapAggregateResult hooks of descs run first, as a left
// fold, so they can turn a storage shape (such as a pagination envelope)
// into the shape the children expect. Lists are then demultiplexed element
// by element with those hooks stripped; documents keep only keys present in
// both q and m whose own result is non-nil. A nil raw value is returned as is.
func Demux(q query.Node, m *query.Merged, raw any, descs []*description.Description) (any, error) {
	return demux(nil, q, m, raw, descs)
}

// Prune is Demux without descriptions: it reduces v to the shape of q.
func Prune(q query.Node, v any) any {
	out, _ := demux(nil, q, query.Merge(q), v, nil)
	return out
}

func demux(path []string, q query.Node, m *query.Merged, raw any, descs []*description.Description) (any, error) {
	if raw == nil || m == nil {
		return nil, nil
	}
	for _, d := range descs {
		if d == nil || d.MapAggregateResult == nil {
			continue
		}
		v, err := d.MapAggregateResult(&description.ResultContext{Path: path, Query: q, Merged: m}, raw)
		if err != nil {
			return nil, err
		}
		raw = v
		if raw == nil {
			return nil, nil
		}
	}

	switch q := q.(type) {
	case query.Leaf:
		if !q {
			return nil, nil
		}
		return raw, nil
	case query.Array:
		return demuxList(path, q.Elem, m, raw, descs)
	case query.Object:
		if list, ok := raw.([]any); ok {
			return demuxList(path, q, m, list, descs)
		}
		doc, ok := raw.(map[string]any)
		if !ok {
			return nil, nil
		}
		out := make(map[string]any, len(q))
		for k, sub := range q {
			mk := m.Field(k)
			if mk == nil {
				continue
			}
			v, err := demux(append(path[:len(path):len(path)], k), sub, mk, doc[k], children(descs, k))
			if err != nil {
				return nil, err
			}
			if v != nil {
				out[k] = v
			}
		}
		return out, nil
	}
	return nil, nil
}

func demuxList(path []string, elem query.Node, m *query.Merged, raw any, descs []*description.Description) (any, error) {
	list, ok := raw.([]any)
	if !ok {
		// a scalar where a list was expected is kept for whole-value selections
		if l, isLeaf := elem.(query.Leaf); isLeaf && bool(l) {
			return raw, nil
		}
		return demux(path, elem, m, raw, stripped(descs))
	}
	inner := stripped(descs)
	out := make([]any, len(list))
	for i, item := range list {
		v, err := demux(path, elem, m, item, inner)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func stripped(descs []*description.Description) []*description.Description {
	out := make([]*description.Description, len(descs))
	for i, d := range descs {
		out[i] = d.WithoutResult()
	}
	return out
}

// children resolves the descriptions for key, expanding wildcards.
func children(descs []*description.Description, key string) []*description.Description {
	var out []*description.Description
	for _, d := range descs {
		if c := d.Child(key); c != nil {
			out = append(out, c)
		}
	}
	return out
}
