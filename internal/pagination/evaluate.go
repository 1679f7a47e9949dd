package pagination

import "github.com/hanpama/notegraph/internal/query"

// Evaluate builds the envelope for items in process. It follows the same
// rules as Expression.
func (p *Plan) Evaluate(items []any, cfg Config) Envelope {
	n := len(items)
	slices := make([][]any, 0, p.Slices())
	if p.Whole {
		slices = append(slices, items)
	} else {
		slices = append(slices, items[:min(p.MaxFirst, n)])
	}
	slices = append(slices, items[n-min(p.MaxLast, n):])

	idx := p.locate(items, cfg)
	for i, w := range p.Forward {
		at := idx[i]
		if at < 0 {
			slices = append(slices, nil)
			continue
		}
		end := n
		if w.First > 0 {
			end = min(at+1+w.First, n)
		}
		slices = append(slices, items[at+1:end])
	}
	for i, w := range p.Backward {
		at := idx[len(p.Forward)+i]
		if at <= 0 {
			slices = append(slices, nil)
			continue
		}
		start := 0
		if w.Last > 0 {
			start = max(0, at-w.Last)
		}
		slices = append(slices, items[start:at])
	}

	env := Envelope{Array: []any{}, Sizes: make([]int, 0, len(slices))}
	for _, s := range slices {
		env.Array = append(env.Array, s...)
		env.Sizes = append(env.Sizes, len(s))
	}
	return env
}

// locate returns the index of every bounded cursor in items, -1 when absent.
func (p *Plan) locate(items []any, cfg Config) []int {
	cursors := p.cursors()
	idx := make([]int, len(cursors))
	for i := range idx {
		idx[i] = -1
	}
	if len(cursors) == 0 || len(items) == 0 {
		return idx
	}
	if cfg.Consecutive {
		first, ok := toInt64(cursorOf(items[0], cfg))
		if !ok {
			return idx
		}
		for i, c := range cursors {
			v, ok := toInt64(c)
			if d := v - first; ok && d >= 0 && d < int64(len(items)) {
				idx[i] = int(d)
			}
		}
		return idx
	}
	keys := make([]string, len(cursors))
	for i, c := range cursors {
		keys[i] = query.Key(c)
	}
	for at, item := range items {
		k := query.Key(cursorOf(item, cfg))
		for i := range keys {
			if idx[i] == -1 && keys[i] == k {
				idx[i] = at
			}
		}
	}
	return idx
}

func cursorOf(item any, cfg Config) any {
	if cfg.Cursor == "" {
		return item
	}
	if m, ok := item.(map[string]any); ok {
		return m[cfg.Cursor]
	}
	return nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), n == float64(int64(n))
	}
	return 0, false
}
