// Package query models partial field selections over documents.
//
// A query is a tree of Nodes. Leaf marks a field as included (or omitted),
// Object selects nested fields, and Array attaches an argument bundle such as
// a pagination window to a list field. Object nodes are transparent over
// lists: applied to a list value they select the same fields in every element.
//
// Many queries against the same entity are combined with Merge into a Merged
// tree, and a query is partitioned into single-field leaves with Split. Both
// operate on structure only and never look at data.
package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Node is a query tree node. Implementations are Leaf, Object and Array.
type Node interface {
	isNode()
}

// Leaf includes (true) or omits (false) a whole field value.
type Leaf bool

// Object selects nested fields by name.
type Object map[string]Node

// Array is a list field carrying an argument bundle. Elem selects what each
// element contributes.
type Array struct {
	Elem Node
	Args Args
}

func (Leaf) isNode()   {}
func (Object) isNode() {}
func (Array) isNode()  {}

// Include is shorthand for Leaf(true).
const Include = Leaf(true)

// Args is the argument bundle of one list field: a pagination window and any
// other named parameters. Parameter names conventionally start with "$".
type Args struct {
	Page   *Window
	Params map[string]any
}

// IsZero reports whether the bundle carries no arguments.
func (a Args) IsZero() bool { return a.Page == nil && len(a.Params) == 0 }

// Paginate returns an Array over elem restricted to w.
func Paginate(elem Node, w Window) Array {
	return Array{Elem: elem, Args: Args{Page: &w}}
}

// Validate checks every pagination window in n.
func Validate(n Node) error {
	return validate(n, nil)
}

func validate(n Node, path []string) error {
	switch n := n.(type) {
	case Object:
		for _, k := range sortedKeys(n) {
			if err := validate(n[k], append(path, k)); err != nil {
				return err
			}
		}
	case Array:
		if n.Args.Page != nil {
			if err := n.Args.Page.Validate(); err != nil {
				return fmt.Errorf("%s: %w", strings.Join(path, "."), err)
			}
		}
		return validate(n.Elem, path)
	}
	return nil
}

// Fields returns the selected field names of n in sorted order.
func Fields(n Node) []string {
	switch n := n.(type) {
	case Object:
		return sortedKeys(n)
	case Array:
		return Fields(n.Elem)
	}
	return nil
}

// At returns the node selected for key, looking through Array wrappers.
func At(n Node, key string) (Node, bool) {
	switch n := n.(type) {
	case Object:
		c, ok := n[key]
		return c, ok
	case Array:
		return At(n.Elem, key)
	}
	return nil, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
