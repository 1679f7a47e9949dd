// Package schema validates stored documents against CUE definitions.
//
// A Schema wraps one closed CUE definition. Validate checks a raw document
// subtree, as selected by a query, against the definition and returns its
// validated form: object ids become hex strings and timestamps become
// RFC 3339 strings. Raw converts a validated value back, guided by the
// @bson(objectid) and @bson(date) attributes of the definition.
//
// Values are partial: only the fields present are checked, so a
// definition's regular fields behave as optional during validation.
package schema

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/hanpama/notegraph/internal/query"
)

// Schema validates values against one CUE definition. It is safe for
// concurrent use.
type Schema struct {
	mu   sync.Mutex // guards ctx, which is not safe for concurrent use
	ctx  *cue.Context
	def  cue.Value
	name string
}

// Compile builds the definition named definition (for example "#Note")
// from CUE source.
func Compile(src, definition string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	def := v.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return nil, fmt.Errorf("%w: %s not found", ErrCompile, definition)
	}
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCompile, definition, err)
	}
	return &Schema{ctx: ctx, def: def, name: definition}, nil
}

// Name returns the definition name.
func (s *Schema) Name() string { return s.name }

// Validate checks raw and returns its validated form.
func (s *Schema) Validate(raw any, q query.Node) (any, error) {
	if raw == nil {
		return nil, nil
	}
	out := coerce(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.ctx.Encode(out)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: encode: %v", ErrInvalid, s.name, err)
	}
	if err := s.def.Unify(v).Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrInvalid, s.name, fieldList(q), err)
	}
	return out, nil
}

// Raw converts a validated value back to its stored form.
func (s *Schema) Raw(validated any, _ query.Node) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw(nil, s.def, "", validated)
}

func (s *Schema) raw(path []string, def cue.Value, kind string, v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		fields := structFields(def)
		out := make(map[string]any, len(v))
		for k, c := range v {
			f, ok := fields[k]
			if !ok {
				f = def.LookupPath(cue.MakePath(cue.AnyString))
			}
			conv, err := s.raw(append(path[:len(path):len(path)], k), f, bsonKind(f), c)
			if err != nil {
				return nil, err
			}
			out[k] = conv
		}
		return out, nil
	case []any:
		elem := def.LookupPath(cue.MakePath(cue.AnyIndex))
		if k := bsonKind(elem); k != "" {
			kind = k
		}
		out := make([]any, len(v))
		for i, c := range v {
			conv, err := s.raw(path, elem, kind, c)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case string:
		switch kind {
		case "objectid":
			id, err := bson.ObjectIDFromHex(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, strings.Join(path, "."), err)
			}
			return id, nil
		case "date":
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, strings.Join(path, "."), err)
			}
			return t, nil
		}
	}
	return v, nil
}

// structFields indexes the regular and optional fields of def by name.
func structFields(def cue.Value) map[string]cue.Value {
	out := map[string]cue.Value{}
	if !def.Exists() {
		return out
	}
	iter, err := def.Fields(cue.Optional(true))
	if err != nil {
		return out
	}
	for iter.Next() {
		sel := iter.Selector()
		if sel.LabelType() != cue.StringLabel {
			continue
		}
		out[sel.Unquoted()] = iter.Value()
	}
	return out
}

func bsonKind(v cue.Value) string {
	if !v.Exists() {
		return ""
	}
	a := v.Attribute("bson")
	if a.Err() != nil {
		return ""
	}
	kind, err := a.String(0)
	if err != nil {
		return ""
	}
	return kind
}

// coerce converts driver types into their validated representation.
func coerce(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, c := range v {
			out[k] = coerce(c)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, c := range v {
			out[i] = coerce(c)
		}
		return out
	case bson.ObjectID:
		return v.Hex()
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case bson.DateTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case int32:
		return int64(v)
	}
	return v
}

func fieldList(q query.Node) string {
	if q == nil {
		return ""
	}
	return "{" + strings.Join(query.Fields(q), ",") + "}"
}
