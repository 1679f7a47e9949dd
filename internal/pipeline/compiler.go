package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/hanpama/notegraph/internal/description"
	"github.com/hanpama/notegraph/internal/query"
)

// ErrHook wraps errors returned by description hooks.
var ErrHook = errors.New("pipeline: hook failed")

// Pipeline is an ordered list of aggregation stages.
type Pipeline []bson.D

// ExtJSON renders the pipeline as indented relaxed extended JSON.
func (p Pipeline) ExtJSON() (string, error) {
	stages := make(bson.A, len(p))
	for i, s := range p {
		stages[i] = s
	}
	raw, err := bson.MarshalExtJSON(bson.D{{Key: "pipeline", Value: stages}}, false, false)
	if err != nil {
		return "", err
	}
	var wrapped struct {
		Pipeline json.RawMessage `json:"pipeline"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, wrapped.Pipeline, "", "  "); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Compile builds the pipeline for m against d. The result ends with a
// $project stage unless the whole document is selected.
func Compile(m *query.Merged, d *description.Description) (Pipeline, error) {
	c := newCompiler()
	stages, err := c.stages(frame{merged: m, desc: d}, false)
	if err != nil {
		return nil, err
	}
	proj, err := c.project(nil, m, d, true)
	if err != nil {
		return nil, err
	}
	if proj == 1 {
		return stages, nil
	}
	return append(stages, bson.D{{Key: "$project", Value: document(proj)}}), nil
}

type compiler struct {
	excluded [][]string
}

func newCompiler() *compiler { return &compiler{} }

type frame struct {
	path   []string
	rel    []string
	merged *query.Merged
	desc   *description.Description
}

type group struct {
	desc   *description.Description
	fields []description.Field
}

// stages runs the level-by-level traversal. With skipRoot the root's own
// AddStages is not invoked; sub-pipelines start below the field that owns them.
func (c *compiler) stages(root frame, skipRoot bool) ([]bson.D, error) {
	var out []bson.D
	level := []frame{root}
	for depth := 0; len(level) > 0; depth++ {
		// 1. group hooked fields of this level by handle
		var order []description.Handle
		groups := map[description.Handle]*group{}
		for _, f := range level {
			if !c.hooked(f, depth, skipRoot) || c.isExcluded(f.path) {
				continue
			}
			h := f.desc.Handle()
			if h == 0 {
				return nil, fmt.Errorf("%w: %s", description.ErrUnregistered, pathString(f.path))
			}
			g, ok := groups[h]
			if !ok {
				g = &group{desc: f.desc}
				groups[h] = g
				order = append(order, h)
			}
			g.fields = append(g.fields, description.Field{
				Path:   f.path,
				Rel:    f.rel,
				Key:    lastKey(f.path),
				Merged: f.merged,
			})
		}

		// 2. one AddStages call per description
		for _, h := range order {
			g := groups[h]
			st, err := g.desc.AddStages(&description.StageContext{
				Fields:     g.fields,
				Pipeline:   c.subPipeline(g),
				Projection: c.subProjection(g),
			})
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrHook, pathString(g.fields[0].Path), err)
			}
			out = append(out, st...)
		}

		// 3. descend
		var next []frame
		for _, f := range level {
			if c.isExcluded(f.path) {
				continue
			}
			hooked := c.hooked(f, depth, skipRoot)
			for _, k := range f.merged.Keys() {
				rel := childPath(f.rel, k)
				if hooked {
					rel = []string{k}
				}
				next = append(next, frame{
					path:   childPath(f.path, k),
					rel:    rel,
					merged: f.merged.Fields[k],
					desc:   f.desc.Child(k),
				})
			}
		}
		level = next
	}
	return out, nil
}

func (c *compiler) hooked(f frame, depth int, skipRoot bool) bool {
	if depth == 0 && skipRoot {
		return false
	}
	return f.desc != nil && f.desc.AddStages != nil
}

func (c *compiler) subtrees(g *group, rel []string) *query.Merged {
	subs := make([]*query.Merged, 0, len(g.fields))
	for _, f := range g.fields {
		if m := f.Merged.At(rel); m != nil {
			subs = append(subs, m)
		}
	}
	return query.Union(subs...)
}

func (c *compiler) subPipeline(g *group) func([]string, bool) ([]bson.D, error) {
	return func(rel []string, exclude bool) ([]bson.D, error) {
		if exclude {
			for _, f := range g.fields {
				c.excluded = append(c.excluded, childPath(f.Path, rel...))
			}
		}
		return newCompiler().stages(frame{merged: c.subtrees(g, rel), desc: g.desc.At(rel)}, true)
	}
}

func (c *compiler) subProjection(g *group) func([]string) (bson.D, error) {
	return func(rel []string) (bson.D, error) {
		v, err := newCompiler().project(nil, c.subtrees(g, rel), g.desc.At(rel), false)
		if err != nil {
			return nil, err
		}
		if v == 1 {
			return nil, nil
		}
		return document(v), nil
	}
}

func (c *compiler) isExcluded(path []string) bool {
	for _, ex := range c.excluded {
		if hasPrefix(path, ex) {
			return true
		}
	}
	return false
}

func hasPrefix(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}

func childPath(path []string, keys ...string) []string {
	out := make([]string, 0, len(path)+len(keys))
	out = append(out, path...)
	return append(out, keys...)
}

func lastKey(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return path[len(path)-1]
}

func pathString(path []string) string {
	if len(path) == 0 {
		return "<root>"
	}
	return strings.Join(path, ".")
}
