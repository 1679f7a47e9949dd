package query

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Key returns a deep structural key for v. Two values have the same key when
// they are structurally equal: map key order is irrelevant, integer kinds are
// compared by value, and opaque identifiers (object ids, timestamps, uuids)
// compare by the identity they denote rather than by instance.
func Key(v any) string {
	var b strings.Builder
	writeKey(&b, v)
	return b.String()
}

// Equal reports whether a and b have the same structural key.
func Equal(a, b any) bool { return Key(a) == Key(b) }

func writeKey(b *strings.Builder, v any) {
	switch v := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString(strconv.FormatBool(v))
	case string:
		b.WriteString(strconv.Quote(v))
	case int:
		writeInt(b, int64(v))
	case int8:
		writeInt(b, int64(v))
	case int16:
		writeInt(b, int64(v))
	case int32:
		writeInt(b, int64(v))
	case int64:
		writeInt(b, v)
	case uint:
		writeUint(b, uint64(v))
	case uint8:
		writeUint(b, uint64(v))
	case uint16:
		writeUint(b, uint64(v))
	case uint32:
		writeUint(b, uint64(v))
	case uint64:
		writeUint(b, v)
	case float32:
		writeFloat(b, float64(v))
	case float64:
		writeFloat(b, v)
	case bson.ObjectID:
		b.WriteString("oid:")
		b.WriteString(v.Hex())
	case *bson.ObjectID:
		if v == nil {
			b.WriteString("null")
			return
		}
		writeKey(b, *v)
	case time.Time:
		b.WriteString("t:")
		b.WriteString(strconv.FormatInt(v.UnixNano(), 10))
	case bson.DateTime:
		writeKey(b, v.Time())
	case uuid.UUID:
		b.WriteString("uuid:")
		b.WriteString(v.String())
	case Leaf:
		if v {
			b.WriteString("1")
		} else {
			b.WriteString("0")
		}
	case Object:
		writeMap(b, len(v), func(yield func(string, any)) {
			for k, c := range v {
				yield(k, c)
			}
		})
	case Array:
		b.WriteString("arr(")
		writeKey(b, v.Elem)
		b.WriteByte(',')
		writeKey(b, v.Args)
		b.WriteByte(')')
	case Args:
		b.WriteString("args(")
		if v.Page != nil {
			writeKey(b, *v.Page)
		}
		b.WriteByte(',')
		writeKey(b, v.Params)
		b.WriteByte(')')
	case Window:
		b.WriteString("w(")
		writeInt(b, int64(v.First))
		b.WriteByte(',')
		writeKey(b, v.After)
		b.WriteByte(',')
		writeInt(b, int64(v.Last))
		b.WriteByte(',')
		writeKey(b, v.Before)
		b.WriteByte(')')
	case map[string]any:
		writeMap(b, len(v), func(yield func(string, any)) {
			for k, c := range v {
				yield(k, c)
			}
		})
	case bson.M:
		writeKey(b, map[string]any(v))
	case bson.D:
		writeMap(b, len(v), func(yield func(string, any)) {
			for _, e := range v {
				yield(e.Key, e.Value)
			}
		})
	case []any:
		writeList(b, len(v), func(i int) any { return v[i] })
	case bson.A:
		writeKey(b, []any(v))
	default:
		writeReflect(b, reflect.ValueOf(v))
	}
}

func writeInt(b *strings.Builder, n int64) {
	b.WriteString(strconv.FormatInt(n, 10))
}

func writeUint(b *strings.Builder, n uint64) {
	b.WriteString(strconv.FormatUint(n, 10))
}

func writeFloat(b *strings.Builder, f float64) {
	if f == float64(int64(f)) {
		writeInt(b, int64(f))
		return
	}
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

func writeMap(b *strings.Builder, n int, each func(yield func(string, any))) {
	type kv struct {
		k string
		v any
	}
	entries := make([]kv, 0, n)
	each(func(k string, v any) { entries = append(entries, kv{k, v}) })
	sort.Slice(entries, func(i, j int) bool { return entries[i].k < entries[j].k })
	b.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(e.k))
		b.WriteByte(':')
		writeKey(b, e.v)
	}
	b.WriteByte('}')
}

func writeList(b *strings.Builder, n int, at func(int) any) {
	b.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		writeKey(b, at(i))
	}
	b.WriteByte(']')
}

func writeReflect(b *strings.Builder, rv reflect.Value) {
	switch rv.Kind() {
	case reflect.Invalid:
		b.WriteString("null")
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			b.WriteString("null")
			return
		}
		writeKey(b, rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			b.WriteString("null")
			return
		}
		writeList(b, rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			fmt.Fprintf(b, "%v", rv.Interface())
			return
		}
		writeMap(b, rv.Len(), func(yield func(string, any)) {
			iter := rv.MapRange()
			for iter.Next() {
				yield(iter.Key().String(), iter.Value().Interface())
			}
		})
	case reflect.Struct:
		t := rv.Type()
		writeMap(b, t.NumField(), func(yield func(string, any)) {
			for i := 0; i < t.NumField(); i++ {
				if f := t.Field(i); f.IsExported() {
					yield(f.Name, rv.Field(i).Interface())
				}
			}
		})
	case reflect.String:
		writeKey(b, rv.String())
	case reflect.Bool:
		writeKey(b, rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		writeInt(b, rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		writeUint(b, rv.Uint())
	case reflect.Float32, reflect.Float64:
		writeFloat(b, rv.Float())
	default:
		fmt.Fprintf(b, "%v", rv.Interface())
	}
}
