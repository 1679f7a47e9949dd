package language

import (
	"fmt"
	"math"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/hanpama/notegraph/internal/query"
)

// Translate reads the selection set of the named operation. An empty name
// selects the only operation of the document.
func Translate(doc *QueryDocument, operationName string, vars map[string]any) (query.Node, error) {
	op := doc.Operations.ForName(operationName)
	if op == nil {
		return nil, fmt.Errorf("%w: %q", ErrOperation, operationName)
	}
	return TranslateSelection(doc, op.SelectionSet, vars)
}

// TranslateSelection reads set, resolving fragment spreads against doc.
func TranslateSelection(doc *QueryDocument, set SelectionSet, vars map[string]any) (query.Node, error) {
	t := &translator{doc: doc, vars: vars}
	return t.object(set)
}

type translator struct {
	doc  *QueryDocument
	vars map[string]any
}

// group is every field selecting one document key.
type group struct {
	key    string
	fields []*Field
}

func (t *translator) object(set SelectionSet) (query.Object, error) {
	var groups []*group
	index := map[string]*group{}
	if err := t.collect(set, map[string]bool{}, func(key string, f *Field) {
		g, ok := index[key]
		if !ok {
			g = &group{key: key}
			index[key] = g
			groups = append(groups, g)
		}
		g.fields = append(g.fields, f)
	}); err != nil {
		return nil, err
	}

	out := query.Object{}
	for _, g := range groups {
		n, err := t.field(g)
		if err != nil {
			return nil, err
		}
		out[g.key] = n
	}
	return out, nil
}

// collect walks set in document order, inlining fragments.
func (t *translator) collect(set SelectionSet, visited map[string]bool, add func(string, *Field)) error {
	for _, selection := range set {
		switch sel := selection.(type) {
		case *Field:
			if sel.Name == "__typename" {
				continue
			}
			ok, err := t.included(sel.Directives)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			key, err := t.documentKey(sel)
			if err != nil {
				return err
			}
			add(key, sel)

		case *InlineFragment:
			ok, err := t.included(sel.Directives)
			if err != nil {
				return err
			}
			if ok {
				if err := t.collect(sel.SelectionSet, visited, add); err != nil {
					return err
				}
			}

		case *FragmentSpread:
			ok, err := t.included(sel.Directives)
			if err != nil {
				return err
			}
			if !ok || visited[sel.Name] {
				continue
			}
			visited[sel.Name] = true
			def := t.doc.Fragments.ForName(sel.Name)
			if def == nil {
				return fmt.Errorf("%w: unknown fragment %q", ErrArgument, sel.Name)
			}
			ok, err = t.included(def.Directives)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := t.collect(def.SelectionSet, visited, add); err != nil {
				return err
			}
		}
	}
	return nil
}

// included evaluates @skip and @include.
func (t *translator) included(directives DirectiveList) (bool, error) {
	if d := directives.ForName("skip"); d != nil {
		skip, err := t.boolArgument(d.Arguments, "if")
		if err != nil {
			return false, err
		}
		if skip {
			return false, nil
		}
	}
	if d := directives.ForName("include"); d != nil {
		include, err := t.boolArgument(d.Arguments, "if")
		if err != nil {
			return false, err
		}
		return include, nil
	}
	return true, nil
}

func (t *translator) boolArgument(args ArgumentList, name string) (bool, error) {
	arg := args.ForName(name)
	if arg == nil {
		return false, fmt.Errorf("%w: missing %s", ErrArgument, name)
	}
	v, err := arg.Value.Value(t.vars)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrArgument, name, err)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean, got %T", ErrArgument, name, v)
	}
	return b, nil
}

func (t *translator) documentKey(f *Field) (string, error) {
	arg := f.Arguments.ForName("key")
	if arg == nil {
		return f.Name, nil
	}
	v, err := arg.Value.Value(t.vars)
	if err != nil {
		return "", fmt.Errorf("%w: %s.key: %v", ErrArgument, f.Name, err)
	}
	key, ok := v.(string)
	if !ok || key == "" {
		return "", fmt.Errorf("%w: %s.key must be a non-empty string", ErrArgument, f.Name)
	}
	return key, nil
}

func (t *translator) field(g *group) (query.Node, error) {
	args, err := t.args(g.fields[0])
	if err != nil {
		return nil, err
	}
	var sets SelectionSet
	for i, f := range g.fields {
		if i > 0 {
			other, err := t.args(f)
			if err != nil {
				return nil, err
			}
			if query.Key(other) != query.Key(args) {
				return nil, fmt.Errorf("%w: %s selected with different arguments", ErrConflict, g.key)
			}
		}
		sets = append(sets, f.SelectionSet...)
	}

	var elem query.Node = query.Include
	if len(sets) > 0 {
		obj, err := t.object(sets)
		if err != nil {
			return nil, err
		}
		elem = obj
	}
	if args.IsZero() {
		return elem, nil
	}
	return query.Array{Elem: elem, Args: args}, nil
}

func (t *translator) args(f *Field) (query.Args, error) {
	var args query.Args
	var w query.Window
	paged := false
	for _, arg := range f.Arguments {
		if arg.Name == "key" {
			continue
		}
		v, err := arg.Value.Value(t.vars)
		if err != nil {
			return args, fmt.Errorf("%w: %s.%s: %v", ErrArgument, f.Name, arg.Name, err)
		}
		switch arg.Name {
		case "first", "last":
			if v == nil {
				continue
			}
			n, ok := toInt(v)
			if !ok {
				return args, fmt.Errorf("%w: %s.%s must be an integer, got %v", ErrArgument, f.Name, arg.Name, v)
			}
			if arg.Name == "first" {
				w.First = n
			} else {
				w.Last = n
			}
			paged = true
		case "after", "before":
			if v == nil {
				continue
			}
			if arg.Name == "after" {
				w.After = cursor(v)
			} else {
				w.Before = cursor(v)
			}
			paged = true
		default:
			if args.Params == nil {
				args.Params = map[string]any{}
			}
			args.Params["$"+arg.Name] = v
		}
	}
	if paged {
		if err := w.Validate(); err != nil {
			return args, fmt.Errorf("%w: %s: %w", ErrArgument, f.Name, err)
		}
		args.Page = &w
	}
	return args, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

// cursor normalizes a cursor argument: whole numbers become int64 and
// object id hex strings become object ids.
func cursor(v any) any {
	switch c := v.(type) {
	case int:
		return int64(c)
	case float64:
		if c == math.Trunc(c) {
			return int64(c)
		}
	case string:
		if id, err := bson.ObjectIDFromHex(c); err == nil {
			return id
		}
	}
	return v
}
