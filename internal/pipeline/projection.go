package pipeline

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/hanpama/notegraph/internal/description"
	"github.com/hanpama/notegraph/internal/query"
)

// project computes the projection of m: 1 for a whole value, a bson.D for
// nested selections, nil when nothing is selected. MapLastProject hooks are
// applied bottom-up; with hooks false the hook of m itself is skipped.
func (c *compiler) project(path []string, m *query.Merged, d *description.Description, hooks bool) (any, error) {
	var computed any
	if m.Include {
		computed = 1
	} else if len(m.Fields) > 0 {
		doc := bson.D{}
		for _, k := range m.Keys() {
			v, err := c.project(childPath(path, k), m.Fields[k], d.Child(k), true)
			if err != nil {
				return nil, err
			}
			if v != nil {
				doc = append(doc, bson.E{Key: k, Value: v})
			}
		}
		if len(doc) > 0 {
			computed = doc
		}
	}
	if !hooks || d == nil || d.MapLastProject == nil {
		return computed, nil
	}
	p, err := d.MapLastProject(&description.ProjectContext{Path: path, Merged: m, Computed: computed})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrHook, pathString(path), err)
	}
	if p.Replace {
		return p.Value, nil
	}
	return mergeProjection(computed, p.Value), nil
}

// document turns a computed projection into a $project document. Dotted keys
// are expanded into nested documents; an empty selection keeps only _id.
func document(v any) bson.D {
	d, ok := v.(bson.D)
	if !ok || len(d) == 0 {
		return bson.D{{Key: "_id", Value: 1}}
	}
	return expand(d)
}

func expand(d bson.D) bson.D {
	out := bson.D{}
	for _, e := range d {
		value := e.Value
		if sub, ok := value.(bson.D); ok && !isOperator(sub) {
			value = expand(sub)
		}
		parts := strings.Split(e.Key, ".")
		out = setPath(out, parts, value)
	}
	return out
}

func setPath(d bson.D, parts []string, value any) bson.D {
	key := parts[0]
	for i := range d {
		if d[i].Key != key {
			continue
		}
		if len(parts) == 1 {
			d[i].Value = mergeProjection(d[i].Value, value)
			return d
		}
		sub, ok := d[i].Value.(bson.D)
		if !ok {
			sub = bson.D{}
		}
		d[i].Value = setPath(sub, parts[1:], value)
		return d
	}
	if len(parts) == 1 {
		return append(d, bson.E{Key: key, Value: value})
	}
	return append(d, bson.E{Key: key, Value: setPath(bson.D{}, parts[1:], value)})
}

// mergeProjection merges fragment b into a. Nested documents merge key by
// key; anything else in b replaces a.
func mergeProjection(a, b any) any {
	if b == nil {
		return a
	}
	ad, aok := a.(bson.D)
	bd, bok := b.(bson.D)
	if !aok || !bok || isOperator(ad) || isOperator(bd) {
		return b
	}
	out := append(bson.D{}, ad...)
	for _, e := range bd {
		out = setPath(out, []string{e.Key}, e.Value)
	}
	return out
}

func isOperator(d bson.D) bool {
	return len(d) > 0 && strings.HasPrefix(d[0].Key, "$")
}
