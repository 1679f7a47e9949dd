package query

// Merged is the combination of several queries against one entity.
//
// Projection bits are unioned: once any source includes a field it stays
// included. Argument bundles of list fields are collected in first-seen order
// with structural duplicates removed.
type Merged struct {
	Include bool
	Fields  map[string]*Merged
	Args    []Args

	argKeys map[string]struct{}
	whole   bool
}

// Merge combines nodes into one Merged tree.
func Merge(nodes ...Node) *Merged {
	m := &Merged{}
	for _, n := range nodes {
		m.add(n)
	}
	return m
}

// Union combines already merged trees.
func Union(ms ...*Merged) *Merged {
	out := &Merged{}
	for _, m := range ms {
		out.union(m)
	}
	return out
}

// Field returns the merged child for key, or nil.
func (m *Merged) Field(key string) *Merged {
	if m == nil {
		return nil
	}
	return m.Fields[key]
}

// At follows path from m and returns the node found there, or nil.
func (m *Merged) At(path []string) *Merged {
	cur := m
	for _, k := range path {
		cur = cur.Field(k)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Keys returns child field names in sorted order.
func (m *Merged) Keys() []string {
	if m == nil {
		return nil
	}
	return sortedKeys(m.Fields)
}

// Windows returns the pagination windows among m's argument bundles.
func (m *Merged) Windows() []Window {
	var out []Window
	for _, a := range m.Args {
		if a.Page != nil {
			out = append(out, *a.Page)
		}
	}
	return out
}

// Whole reports whether some source selected m without a pagination
// window, and so expects the entire list.
func (m *Merged) Whole() bool { return m != nil && m.whole }

func (m *Merged) child(key string) *Merged {
	if m.Fields == nil {
		m.Fields = make(map[string]*Merged)
	}
	c, ok := m.Fields[key]
	if !ok {
		c = &Merged{}
		m.Fields[key] = c
	}
	return c
}

func (m *Merged) add(n Node) {
	switch n := n.(type) {
	case Leaf:
		if n {
			m.Include = true
			m.whole = true
		}
	case Object:
		m.whole = true
		for k, c := range n {
			if l, ok := c.(Leaf); ok && !bool(l) {
				continue
			}
			m.child(k).add(c)
		}
	case Array:
		m.addArgs(n.Args)
		whole := m.whole
		m.add(n.Elem)
		m.whole = whole || n.Args.Page == nil
	}
}

func (m *Merged) addArgs(a Args) {
	if a.IsZero() {
		return
	}
	k := Key(a)
	if _, seen := m.argKeys[k]; seen {
		return
	}
	if m.argKeys == nil {
		m.argKeys = make(map[string]struct{})
	}
	m.argKeys[k] = struct{}{}
	m.Args = append(m.Args, a)
}

func (m *Merged) union(o *Merged) {
	if o == nil {
		return
	}
	m.Include = m.Include || o.Include
	m.whole = m.whole || o.whole
	for _, a := range o.Args {
		m.addArgs(a)
	}
	for _, k := range o.Keys() {
		m.child(k).union(o.Fields[k])
	}
}

// Node converts m back into a query node. Argument bundles are dropped.
func (m *Merged) Node() Node {
	if m == nil {
		return Leaf(false)
	}
	if m.Include {
		return Include
	}
	o := Object{}
	for k, c := range m.Fields {
		o[k] = c.Node()
	}
	return o
}
