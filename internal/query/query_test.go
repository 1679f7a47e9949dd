package query

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var ignoreMergedIndex = cmpopts.IgnoreUnexported(Merged{})

func TestMergeDisjointFields(t *testing.T) {
	got := Merge(Object{"title": Include}, Object{"other": Include})
	want := &Merged{Fields: map[string]*Merged{
		"title": {Include: true},
		"other": {Include: true},
	}}
	if diff := cmp.Diff(want, got, ignoreMergedIndex); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeUnionsProjectionBits(t *testing.T) {
	a := Object{"author": Object{"name": Include}, "body": Leaf(false)}
	b := Object{"author": Object{"email": Include}, "body": Include}

	ab := Merge(a, b)
	ba := Merge(b, a)
	if diff := cmp.Diff(ab, ba, ignoreMergedIndex); diff != "" {
		t.Fatalf("merge not commutative (-ab +ba):\n%s", diff)
	}
	want := &Merged{Fields: map[string]*Merged{
		"author": {Fields: map[string]*Merged{
			"name":  {Include: true},
			"email": {Include: true},
		}},
		"body": {Include: true},
	}}
	if diff := cmp.Diff(want, ab, ignoreMergedIndex); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeTracksWholeSelections(t *testing.T) {
	elem := Object{"revision": Include}
	paged := Object{"records": Paginate(elem, Window{First: 2})}
	if Merge(paged).Field("records").Whole() {
		t.Fatalf("windowed selection marked whole")
	}

	for name, n := range map[string]Node{
		"leaf":   Object{"records": Include},
		"object": Object{"records": elem},
		"params": Object{"records": Array{Elem: elem, Args: Args{Params: map[string]any{"$tag": "x"}}}},
	} {
		t.Run(name, func(t *testing.T) {
			if !Merge(paged, n).Field("records").Whole() {
				t.Fatalf("merge lost the whole selection")
			}
			if !Union(Merge(paged), Merge(n)).Field("records").Whole() {
				t.Fatalf("union lost the whole selection")
			}
		})
	}
}

func TestMergeDeduplicatesArguments(t *testing.T) {
	elem := Object{"revision": Include}
	got := Merge(
		Object{"records": Paginate(elem, Window{First: 2})},
		Object{"records": Paginate(elem, Window{First: 2})},
		Object{"records": Paginate(elem, Window{Last: 3})},
		Object{"records": Paginate(elem, Window{First: 2})},
	)
	want := []Args{
		{Page: &Window{First: 2}},
		{Page: &Window{Last: 3}},
	}
	if diff := cmp.Diff(want, got.Field("records").Args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeArgumentsUseStructuralEquality(t *testing.T) {
	id := bson.NewObjectID()
	same, _ := bson.ObjectIDFromHex(id.Hex())
	got := Merge(
		Object{"order": Paginate(Include, Window{After: id, First: int(1)})},
		Object{"order": Paginate(Include, Window{After: same, First: 1})},
		Object{"order": Array{Elem: Include, Args: Args{Params: map[string]any{"$sort": int32(1)}}}},
		Object{"order": Array{Elem: Include, Args: Args{Params: map[string]any{"$sort": int64(1)}}}},
	)
	if n := len(got.Field("order").Args); n != 2 {
		t.Fatalf("expected 2 argument bundles, got %d: %#v", n, got.Field("order").Args)
	}
}

func TestUnionMergedTrees(t *testing.T) {
	a := Merge(Object{"x": Include, "l": Paginate(Include, Window{First: 1})})
	b := Merge(Object{"y": Include, "l": Paginate(Include, Window{First: 1})}, Object{"l": Paginate(Include, Window{Last: 1})})
	got := Union(a, b)
	if diff := cmp.Diff([]string{"l", "x", "y"}, got.Keys()); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	if n := len(got.Field("l").Args); n != 2 {
		t.Fatalf("expected 2 args, got %d", n)
	}
}

func TestSplit(t *testing.T) {
	q := Object{
		"id":          Include,
		"description": Include,
		"hidden":      Leaf(false),
		"topProducts": Object{"name": Include, "price": Include},
	}
	want := []Node{
		Object{"description": Include},
		Object{"id": Include},
		Object{"topProducts": Object{"name": Include}},
		Object{"topProducts": Object{"price": Include}},
	}
	if diff := cmp.Diff(want, Split(q)); diff != "" {
		t.Fatalf("split mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitKeepsWindowWithElementProjection(t *testing.T) {
	w := Window{Last: 2}
	q := Object{"records": Paginate(Object{"revision": Include, "changeset": Include}, w)}
	want := []Node{
		Object{"records": Array{Elem: Object{"changeset": Include}, Args: Args{Page: &w}}},
		Object{"records": Array{Elem: Object{"revision": Include}, Args: Args{Page: &w}}},
	}
	if diff := cmp.Diff(want, Split(q)); diff != "" {
		t.Fatalf("split mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitAnchors(t *testing.T) {
	w := Window{First: 5}
	q := Object{"order": Paginate(Object{"title": Include, "_id": Include}, w)}
	want := []Node{
		Object{"order": Array{Elem: Object{"_id": Include}, Args: Args{Page: &w}}},
		Object{"order": Array{Elem: Object{"_id": Include, "title": Include}, Args: Args{Page: &w}}},
	}
	if diff := cmp.Diff(want, Split(q, "_id")); diff != "" {
		t.Fatalf("split mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitThenMergeRestoresProjection(t *testing.T) {
	q := Object{
		"a": Include,
		"b": Object{"c": Include, "d": Object{"e": Include}},
		"l": Paginate(Object{"x": Include, "y": Include}, Window{First: 3}),
	}
	if diff := cmp.Diff(Merge(q), Merge(Split(q)...), ignoreMergedIndex); diff != "" {
		t.Fatalf("merge(split(q)) mismatch (-want +got):\n%s", diff)
	}
}

func TestKeyStructural(t *testing.T) {
	id := bson.NewObjectID()
	copied, _ := bson.ObjectIDFromHex(id.Hex())
	now := time.Now()
	type counter uint64
	cases := []struct {
		name string
		a, b any
		eq   bool
	}{
		{"map order", map[string]any{"a": 1, "b": 2}, map[string]any{"b": 2, "a": 1}, true},
		{"int kinds", int32(7), int64(7), true},
		{"unsigned kinds", uint8(7), int64(7), true},
		{"large unsigned", uint64(math.MaxUint64), int64(-1), false},
		{"large uint", uint(math.MaxUint64), int64(-1), false},
		{"named unsigned", counter(math.MaxUint64), int64(-1), false},
		{"named unsigned value", counter(math.MaxUint64), uint64(math.MaxUint64), true},
		{"object id", id, copied, true},
		{"distinct ids", id, bson.NewObjectID(), false},
		{"time instance", now, now.In(time.UTC), true},
		{"bson.D vs map", bson.D{{Key: "a", Value: 1}}, map[string]any{"a": 1}, true},
		{"string vs int", "1", 1, false},
		{"struct", struct{ A, B int }{1, 2}, struct{ A, B int }{1, 2}, true},
		{"query nodes", Object{"a": Include}, Object{"a": Leaf(false)}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Equal(c.a, c.b); got != c.eq {
				t.Fatalf("Equal(%v, %v) = %v, want %v (%q vs %q)", c.a, c.b, got, c.eq, Key(c.a), Key(c.b))
			}
		})
	}
}

func TestWindowValidate(t *testing.T) {
	cases := []struct {
		w    Window
		err  error
		kind Kind
	}{
		{Window{First: 2}, nil, UnboundedForward},
		{Window{First: 2, After: 5}, nil, BoundedForward},
		{Window{After: 5}, nil, BoundedForward},
		{Window{Last: 3}, nil, UnboundedBackward},
		{Window{Last: 1, Before: 4}, nil, BoundedBackward},
		{Window{Before: 4}, nil, BoundedBackward},
		{Window{First: 1, Last: 1}, ErrMixedPagination, 0},
		{Window{After: 1, Before: 2}, ErrMixedPagination, 0},
		{Window{}, ErrEmptyWindow, 0},
		{Window{First: -1}, ErrNegativeWindow, 0},
	}
	for _, c := range cases {
		err := c.w.Validate()
		if !errors.Is(err, c.err) {
			t.Fatalf("%+v: expected %v, got %v", c.w, c.err, err)
		}
		if err == nil && c.w.Kind() != c.kind {
			t.Fatalf("%+v: expected kind %v, got %v", c.w, c.kind, c.w.Kind())
		}
	}
}

func TestValidateReportsPath(t *testing.T) {
	q := Object{"collabText": Object{"records": Paginate(Include, Window{First: 1, Before: 3})}}
	err := Validate(q)
	if !errors.Is(err, ErrMixedPagination) {
		t.Fatalf("expected ErrMixedPagination, got %v", err)
	}
	if got, want := err.Error(), "collabText.records: "+ErrMixedPagination.Error(); got != want {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestInfer(t *testing.T) {
	v := map[string]any{
		"title": "groceries",
		"tags":  []any{"a", "b"},
		"records": []any{
			map[string]any{"revision": 1},
			map[string]any{"revision": 2, "changeset": "x"},
		},
	}
	want := Object{
		"title":   Include,
		"tags":    Include,
		"records": Object{"revision": Include, "changeset": Include},
	}
	if diff := cmp.Diff(want, Infer(v)); diff != "" {
		t.Fatalf("infer mismatch (-want +got):\n%s", diff)
	}
}
