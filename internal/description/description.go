// Package description holds per-entity hook trees that steer pipeline
// compilation and result reshaping.
//
// A Description mirrors the document shape of one entity. Each node may carry
// hooks:
//
//   - AddStages contributes aggregation stages. It runs once per compilation
//     depth for all sibling fields sharing the node, identified by Handle.
//   - MapLastProject rewrites the projection computed for the node's subtree.
//   - MapAggregateResult transforms the raw value found at the node before the
//     demultiplexer descends into it.
//
// AnyKey applies one Description to every dynamic key of a map-like field.
package description

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/hanpama/notegraph/internal/query"
)

// Handle identifies an interned Description node. The zero Handle means the
// node has not been registered.
type Handle int

// Description is one node of a hook tree.
type Description struct {
	AddStages          func(*StageContext) ([]bson.D, error)
	MapLastProject     func(*ProjectContext) (Projection, error)
	MapAggregateResult func(*ResultContext, any) (any, error)

	Fields map[string]*Description
	AnyKey *Description

	handle Handle
}

// Handle returns the registry handle of d.
func (d *Description) Handle() Handle {
	if d == nil {
		return 0
	}
	return d.handle
}

// Child returns the description for key: the named field if present,
// otherwise the wildcard.
func (d *Description) Child(key string) *Description {
	if d == nil {
		return nil
	}
	if c, ok := d.Fields[key]; ok {
		return c
	}
	return d.AnyKey
}

// At follows path from d.
func (d *Description) At(path []string) *Description {
	cur := d
	for _, k := range path {
		cur = cur.Child(k)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// WithoutResult returns a shallow copy of d without its MapAggregateResult hook.
func (d *Description) WithoutResult() *Description {
	if d == nil || d.MapAggregateResult == nil {
		return d
	}
	c := *d
	c.MapAggregateResult = nil
	return &c
}

// Field is one occurrence of a description in a merged query.
type Field struct {
	// Path is the absolute path from the compilation root.
	Path []string
	// Rel is the path relative to the nearest ancestor whose description
	// contributed stages.
	Rel []string
	// Key is the last path element.
	Key string
	// Merged is the merged query node at Path.
	Merged *query.Merged
}

// StageContext is passed to AddStages.
type StageContext struct {
	Fields []Field

	// Pipeline compiles the stages for the subtree at rel below every field of
	// the group, merged together. With exclude, those subtrees are skipped by
	// the enclosing traversal.
	Pipeline func(rel []string, exclude bool) ([]bson.D, error)
	// Projection computes the final projection of the subtree at rel below
	// every field of the group, without running AddStages hooks. It returns
	// nil when the subtree is selected as a whole.
	Projection func(rel []string) (bson.D, error)
}

// ProjectContext is passed to MapLastProject.
type ProjectContext struct {
	Path   []string
	Merged *query.Merged
	// Computed is the projection built so far for this subtree: 1 for a whole
	// field, a bson.D for nested fields, or nil when nothing was selected.
	Computed any
}

// Projection is the result of MapLastProject. Without Replace the value is
// merged into the computed projection.
type Projection struct {
	Value   any
	Replace bool
}

// ResultContext is passed to MapAggregateResult.
type ResultContext struct {
	Path   []string
	Query  query.Node
	Merged *query.Merged
}
