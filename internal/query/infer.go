package query

import "go.mongodb.org/mongo-driver/v2/bson"

// Infer derives the query that selects exactly the shape of v. Documents
// become Objects, lists of documents become the union of their elements'
// shapes, everything else is an included Leaf.
func Infer(v any) Node {
	switch v := v.(type) {
	case map[string]any:
		o := make(Object, len(v))
		for k, c := range v {
			o[k] = Infer(c)
		}
		return o
	case bson.M:
		return Infer(map[string]any(v))
	case []any:
		var elem Node
		for _, item := range v {
			switch item.(type) {
			case map[string]any, bson.M:
				elem = unionNode(elem, Infer(item))
			}
		}
		if elem == nil {
			return Include
		}
		return elem
	}
	return Include
}

func unionNode(a, b Node) Node {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if l, ok := a.(Leaf); ok && bool(l) {
		return a
	}
	if l, ok := b.(Leaf); ok && bool(l) {
		return b
	}
	ao, aok := a.(Object)
	bo, bok := b.(Object)
	if !aok || !bok {
		return b
	}
	out := make(Object, len(ao)+len(bo))
	for k, v := range ao {
		out[k] = v
	}
	for k, v := range bo {
		out[k] = unionNode(out[k], v)
	}
	return out
}
