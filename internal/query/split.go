package query

// Split partitions n into single-field leaves. Every leaf selects exactly one
// scalar path; argument bundles stay attached to the list field they modify,
// so each leaf below a paginated field carries that field's window.
//
// Anchor fields are added to every leaf inside Array elements so a cached
// element always carries its identity (typically "_id").
func Split(n Node, anchors ...string) []Node {
	return split(n, anchors)
}

func split(n Node, anchors []string) []Node {
	switch n := n.(type) {
	case Leaf:
		if n {
			return []Node{n}
		}
	case Object:
		var out []Node
		for _, k := range sortedKeys(n) {
			for _, sub := range split(n[k], anchors) {
				out = append(out, Object{k: sub})
			}
		}
		return out
	case Array:
		subs := split(n.Elem, anchors)
		out := make([]Node, 0, len(subs))
		for _, sub := range subs {
			out = append(out, Array{Elem: anchor(sub, anchors), Args: n.Args})
		}
		return out
	}
	return nil
}

func anchor(n Node, anchors []string) Node {
	o, ok := n.(Object)
	if !ok || len(anchors) == 0 {
		return n
	}
	out := make(Object, len(o)+len(anchors))
	for k, v := range o {
		out[k] = v
	}
	for _, a := range anchors {
		if _, ok := out[a]; !ok {
			out[a] = Include
		}
	}
	return out
}
