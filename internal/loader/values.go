package loader

// mergeValues combines two leaf values of the same entity. Documents are
// merged key by key and lists element by element; neither input is
// modified.
func mergeValues(a, b any) any {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok {
			return a
		}
		out := make(map[string]any, len(av)+len(bv))
		for k, v := range av {
			out[k] = v
		}
		for k, v := range bv {
			out[k] = mergeValues(out[k], v)
		}
		return out
	case []any:
		bv, ok := b.([]any)
		if !ok {
			return a
		}
		n := max(len(av), len(bv))
		out := make([]any, n)
		for i := range n {
			var x, y any
			if i < len(av) {
				x = av[i]
			}
			if i < len(bv) {
				y = bv[i]
			}
			out[i] = mergeValues(x, y)
		}
		return out
	}
	return a
}
