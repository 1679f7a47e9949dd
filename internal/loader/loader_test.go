package loader

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/notegraph/internal/description"
	"github.com/hanpama/notegraph/internal/pagination"
	"github.com/hanpama/notegraph/internal/query"
)

type shopKey struct{ ShopID string }

func shopFixture() map[string]any {
	return map[string]any{
		"id":          "first",
		"description": "the best shop",
		"topProducts": []any{
			map[string]any{"name": "pc", "price": 1000},
			map[string]any{"name": "tree", "price": 5000},
		},
	}
}

var shopQuery = query.Object{
	"id":          query.Include,
	"description": query.Include,
	"topProducts": query.Object{"name": query.Include, "price": query.Include},
}

func newShops(t *testing.T, opts ...Option) (*Loader[shopKey], *recorder[shopKey]) {
	t.Helper()
	rec := newRecorder[shopKey](map[string]any{
		query.Key(shopKey{"first"}): shopFixture(),
		query.Key(shopKey{"second"}): map[string]any{
			"id":          "second",
			"description": "invalid",
		},
	})
	l, err := New[shopKey]("shops", rec.fn, opts...)
	require.NoError(t, err)
	return l, rec
}

func TestLoadFixture(t *testing.T) {
	l, rec := newShops(t)
	got, err := l.Load(context.Background(), shopKey{"first"}, shopQuery)
	require.NoError(t, err)
	if diff := cmp.Diff(shopFixture(), got); diff != "" {
		t.Fatalf("load mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 1, rec.calls())
	b := rec.batch(0)
	require.Len(t, b.Keys, 4)
	if diff := cmp.Diff([]shopKey{{"first"}}, b.IDs); diff != "" {
		t.Fatalf("batch ids mismatch (-want +got):\n%s", diff)
	}
}

func TestPrimeThenLoadSubset(t *testing.T) {
	l, rec := newShops(t)
	ctx := context.Background()
	require.NoError(t, l.Prime(ctx, shopKey{"first"}, shopFixture()))

	got, err := l.Load(ctx, shopKey{"first"}, query.Object{
		"id":          query.Include,
		"topProducts": query.Object{"name": query.Include},
	})
	require.NoError(t, err)
	want := map[string]any{
		"id":          "first",
		"topProducts": []any{map[string]any{"name": "pc"}, map[string]any{"name": "tree"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("load mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 0, rec.calls())
}

func TestLoadFetchesOnlyMissingLeaves(t *testing.T) {
	l, rec := newShops(t)
	ctx := context.Background()
	_, err := l.Load(ctx, shopKey{"first"}, query.Object{"id": query.Include, "description": query.Include})
	require.NoError(t, err)

	got, err := l.Load(ctx, shopKey{"first"}, shopQuery)
	require.NoError(t, err)
	if diff := cmp.Diff(shopFixture(), got); diff != "" {
		t.Fatalf("load mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 2, rec.calls())
	var leaves []string
	for _, k := range rec.batch(1).Keys {
		leaves = append(leaves, query.Key(k.Query))
	}
	want := []string{
		query.Key(query.Object{"topProducts": query.Object{"name": query.Include}}),
		query.Key(query.Object{"topProducts": query.Object{"price": query.Include}}),
	}
	sort.Strings(leaves)
	sort.Strings(want)
	if diff := cmp.Diff(want, leaves); diff != "" {
		t.Fatalf("second batch leaves mismatch (-want +got):\n%s", diff)
	}
}

func TestPerKeyErrorFailsOnlyThatID(t *testing.T) {
	l, rec := newShops(t)
	ctx := context.Background()
	q := query.Object{"id": query.Include}
	first := l.LoadThunk(ctx, shopKey{"first"}, q)
	missing := l.LoadThunk(ctx, shopKey{"missing"}, q)

	got, err := first.Get(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]any{"id": "first"}, got); diff != "" {
		t.Fatalf("load mismatch (-want +got):\n%s", diff)
	}
	_, err = missing.Get(ctx)
	require.ErrorIs(t, err, errNotFound)
	require.Equal(t, 1, rec.calls())

	// errors are not cached
	_, err = l.Load(ctx, shopKey{"missing"}, q)
	require.ErrorIs(t, err, errNotFound)
	require.Equal(t, 2, rec.calls())
}

func TestBatchErrorFailsEveryKey(t *testing.T) {
	l, rec := newShops(t)
	boom := errors.New("boom")
	rec.result = func(*Batch[shopKey]) ([]any, error) { return nil, boom }
	ctx := context.Background()

	a := l.LoadThunk(ctx, shopKey{"first"}, shopQuery)
	b := l.LoadThunk(ctx, shopKey{"second"}, shopQuery)
	_, errA := a.Get(ctx)
	_, errB := b.Get(ctx)
	require.ErrorIs(t, errA, boom)
	require.ErrorIs(t, errB, boom)
	require.Equal(t, 1, rec.calls())
}

func TestBatchFunctionContractFailures(t *testing.T) {
	l, rec := newShops(t)
	ctx := context.Background()
	q := query.Object{"id": query.Include}

	rec.result = func(*Batch[shopKey]) ([]any, error) { return []any{}, nil }
	_, err := l.Load(ctx, shopKey{"first"}, q)
	require.ErrorIs(t, err, ErrBatchLength)

	rec.result = func(*Batch[shopKey]) ([]any, error) { panic("kaboom") }
	_, err = l.Load(ctx, shopKey{"first"}, q)
	require.ErrorIs(t, err, ErrPanic)
}

func TestInvalidQueryIsRejectedBeforeBatching(t *testing.T) {
	l, rec := newShops(t)
	q := query.Object{"items": query.Paginate(query.Include, query.Window{First: 1, Before: 3})}
	_, err := l.Load(context.Background(), shopKey{"first"}, q)
	require.ErrorIs(t, err, query.ErrMixedPagination)
	require.Equal(t, 0, rec.calls())
}

func TestSessionsNeverShareBatches(t *testing.T) {
	l, rec := newShops(t)
	ctx := context.Background()
	q := query.Object{"description": query.Include}

	thunks := []*Thunk[shopKey]{
		l.LoadThunk(ctx, shopKey{"first"}, q),
		l.LoadThunk(ctx, shopKey{"first"}, q, WithSession("a")),
		l.LoadThunk(ctx, shopKey{"first"}, q, WithSession("b")),
		l.LoadThunk(ctx, shopKey{"first"}, q, WithSession("a")),
	}
	for _, th := range thunks {
		got, err := th.Get(ctx)
		require.NoError(t, err)
		if diff := cmp.Diff(map[string]any{"description": "the best shop"}, got); diff != "" {
			t.Fatalf("load mismatch (-want +got):\n%s", diff)
		}
	}
	require.Equal(t, 3, rec.calls())
	var sessions []any
	for i := range 3 {
		sessions = append(sessions, rec.batch(i).Session)
	}
	require.ElementsMatch(t, []any{nil, "a", "b"}, sessions)

	// session loads bypass the cache, plain loads use it
	_, err := l.Load(ctx, shopKey{"first"}, q)
	require.NoError(t, err)
	require.Equal(t, 3, rec.calls())
	_, err = l.Load(ctx, shopKey{"first"}, q, WithSession("a"))
	require.NoError(t, err)
	require.Equal(t, 4, rec.calls())
}

func TestGroupsSplitBatches(t *testing.T) {
	l, rec := newShops(t, WithGroup(func(k shopKey) string { return k.ShopID[:1] }))
	rec.result = func(b *Batch[shopKey]) ([]any, error) {
		out := make([]any, len(b.IDs))
		for i, id := range b.IDs {
			out[i] = map[string]any{"id": id.ShopID}
		}
		return out, nil
	}
	ctx := context.Background()
	q := query.Object{"id": query.Include}
	var thunks []*Thunk[shopKey]
	for _, id := range []string{"a1", "b1", "a2"} {
		thunks = append(thunks, l.LoadThunk(ctx, shopKey{id}, q))
	}
	for _, th := range thunks {
		_, err := th.Get(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, 2, rec.calls())
	got := map[string][]shopKey{}
	for i := range 2 {
		b := rec.batch(i)
		got[b.Group] = b.IDs
	}
	want := map[string][]shopKey{"a": {{"a1"}, {"a2"}}, "b": {{"b1"}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupTypeMismatch(t *testing.T) {
	_, err := New[string]("x", func(context.Context, *Batch[string]) ([]any, error) { return nil, nil },
		WithGroup(func(int) string { return "" }))
	require.ErrorIs(t, err, ErrGroupType)
}

func TestValidationIsLazyAndCached(t *testing.T) {
	v := &countingValidator{}
	l, _ := newShops(t, WithValidator(v))
	ctx := context.Background()

	for range 2 {
		_, err := l.Load(ctx, shopKey{"first"}, shopQuery)
		require.NoError(t, err)
	}
	require.Equal(t, 4, v.calls)
}

func TestValidationErrorFailsWholeLoad(t *testing.T) {
	v := &countingValidator{}
	l, rec := newShops(t, WithValidator(v))
	ctx := context.Background()

	_, err := l.Load(ctx, shopKey{"second"}, query.Object{"id": query.Include, "description": query.Include})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.ErrorIs(t, err, errInvalid)
	require.Equal(t, "shops", verr.Loader)
	require.Contains(t, err.Error(), "description")

	// the valid sibling leaf was cached; only the load failed
	got, err := l.Load(ctx, shopKey{"second"}, query.Object{"id": query.Include})
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]any{"id": "second"}, got); diff != "" {
		t.Fatalf("load mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 1, rec.calls())
}

func TestLoadedEvents(t *testing.T) {
	l, _ := newShops(t)
	ctx := context.Background()
	var got []Loaded[shopKey]
	l.Loaded().Subscribe(func(_ context.Context, ev Loaded[shopKey]) { got = append(got, ev) })

	_, err := l.Load(ctx, shopKey{"first"}, query.Object{"id": query.Include, "description": query.Include})
	require.NoError(t, err)
	_, err = l.Load(ctx, shopKey{"first"}, query.Object{"id": query.Include})
	require.NoError(t, err)

	require.Len(t, got, 2)
	values := map[string]any{}
	for _, ev := range got {
		require.Equal(t, LoadedVersion, ev.Version)
		require.Equal(t, "shops", ev.Loader)
		require.Equal(t, shopKey{"first"}, ev.Key.ID)
		values[query.Key(ev.Key.Query)] = ev.Value
	}
	want := map[string]any{
		query.Key(query.Object{"id": query.Include}):          map[string]any{"id": "first"},
		query.Key(query.Object{"description": query.Include}): map[string]any{"description": "the best shop"},
	}
	if diff := cmp.Diff(want, values); diff != "" {
		t.Fatalf("event values mismatch (-want +got):\n%s", diff)
	}
}

func TestReentrantLoadedIsSuppressed(t *testing.T) {
	l, _ := newShops(t)
	ctx := context.Background()
	events := 0
	l.Loaded().Subscribe(func(ctx context.Context, ev Loaded[shopKey]) {
		events++
		if events > 10 {
			t.Errorf("loaded events recurse")
			return
		}
		if err := l.Prime(ctx, ev.Key.ID, ev.Value, PrimeQuery(ev.Key.Query), ClearCache()); err != nil {
			t.Errorf("prime: %v", err)
		}
	})

	_, err := l.Load(ctx, shopKey{"first"}, shopQuery)
	require.NoError(t, err)
	require.Equal(t, 4, events)
}

func TestBridgePrimesOtherLoader(t *testing.T) {
	ctx := context.Background()
	users := newRecorder[string](map[string]any{
		query.Key("u1"): map[string]any{
			"_id": "u1",
			"notes": []any{
				map[string]any{"_id": "n1", "title": "groceries"},
				map[string]any{"_id": "n2", "title": "todo"},
			},
		},
	})
	notes := newRecorder[string](nil)
	userLoader, err := New[string]("users", users.fn, WithAnchors("_id"))
	require.NoError(t, err)
	noteLoader, err := New[string]("notes", notes.fn)
	require.NoError(t, err)

	unsubscribe := Bridge(userLoader, noteLoader, func(ev Loaded[string]) []Primed[string] {
		doc, _ := ev.Value.(map[string]any)
		list, _ := doc["notes"].([]any)
		var out []Primed[string]
		for _, item := range list {
			note := item.(map[string]any)
			out = append(out, Primed[string]{ID: note["_id"].(string), Value: note})
		}
		return out
	})
	defer unsubscribe()

	got, err := userLoader.Load(ctx, "u1", query.Object{
		"notes": query.Paginate(query.Object{"title": query.Include}, query.Window{First: 10}),
	})
	require.NoError(t, err)
	want := map[string]any{"notes": []any{
		map[string]any{"title": "groceries"},
		map[string]any{"title": "todo"},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("user load mismatch (-want +got):\n%s", diff)
	}

	note, err := noteLoader.Load(ctx, "n2", query.Object{"_id": query.Include, "title": query.Include})
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]any{"_id": "n2", "title": "todo"}, note); diff != "" {
		t.Fatalf("note load mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 0, notes.calls())
}

func TestQueryFn(t *testing.T) {
	l, rec := newShops(t)
	fn := l.QueryFn(shopKey{"first"})
	got, err := fn(context.Background(), query.Object{"description": query.Include})
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]any{"description": "the best shop"}, got); diff != "" {
		t.Fatalf("load mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 1, rec.calls())
}

func TestConcurrentLoadsShareOneBatch(t *testing.T) {
	l, rec := newShops(t)
	rec.result = func(b *Batch[shopKey]) ([]any, error) {
		out := make([]any, len(b.IDs))
		for i, id := range b.IDs {
			out[i] = map[string]any{"id": id.ShopID}
		}
		return out, nil
	}
	ctx := context.Background()
	q := query.Object{"id": query.Include}
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	thunks := make([]*Thunk[shopKey], len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			thunks[i] = l.LoadThunk(ctx, shopKey{id}, q)
		}()
	}
	wg.Wait()

	results := make([]any, len(ids))
	errs := make([]error, len(ids))
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = thunks[i].Get(ctx)
		}()
	}
	wg.Wait()

	for i, id := range ids {
		require.NoError(t, errs[i])
		if diff := cmp.Diff(map[string]any{"id": id}, results[i]); diff != "" {
			t.Fatalf("load %s mismatch (-want +got):\n%s", id, diff)
		}
	}
	require.Equal(t, 1, rec.calls())
	require.Len(t, rec.batch(0).IDs, len(ids))
}

func TestMaxBatch(t *testing.T) {
	l, rec := newShops(t, WithMaxBatch(2))
	rec.result = func(b *Batch[shopKey]) ([]any, error) {
		out := make([]any, len(b.IDs))
		for i, id := range b.IDs {
			out[i] = map[string]any{"id": id.ShopID}
		}
		return out, nil
	}
	ctx := context.Background()
	q := query.Object{"id": query.Include}
	var thunks []*Thunk[shopKey]
	for _, id := range []string{"a", "b", "c"} {
		thunks = append(thunks, l.LoadThunk(ctx, shopKey{id}, q))
	}
	for _, th := range thunks {
		_, err := th.Get(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, 2, rec.calls())
	sizes := []int{len(rec.batch(0).IDs), len(rec.batch(1).IDs)}
	sort.Ints(sizes)
	require.Equal(t, []int{1, 2}, sizes)
}

func TestWaitClosesBatchOnTimer(t *testing.T) {
	l, rec := newShops(t, WithWait(50*time.Millisecond))
	ctx := context.Background()
	a := l.LoadThunk(ctx, shopKey{"first"}, query.Object{"id": query.Include})
	b := l.LoadThunk(ctx, shopKey{"second"}, query.Object{"id": query.Include})

	_, err := a.Get(ctx)
	require.NoError(t, err)
	_, err = b.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rec.calls())
	require.Len(t, rec.batch(0).IDs, 2)
}

func TestGetHonoursContext(t *testing.T) {
	l, _ := newShops(t, WithWait(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	th := l.LoadThunk(ctx, shopKey{"first"}, query.Object{"id": query.Include})
	cancel()
	_, err := th.Get(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestClear(t *testing.T) {
	l, rec := newShops(t)
	ctx := context.Background()
	q := query.Object{"id": query.Include}
	_, err := l.Load(ctx, shopKey{"first"}, q)
	require.NoError(t, err)
	l.Clear(shopKey{"first"}, q)
	_, err = l.Load(ctx, shopKey{"first"}, q)
	require.NoError(t, err)
	require.Equal(t, 2, rec.calls())

	l.ClearAll()
	_, err = l.Load(ctx, shopKey{"first"}, q)
	require.NoError(t, err)
	require.Equal(t, 3, rec.calls())
}

func TestCacheSizeEvicts(t *testing.T) {
	l, rec := newShops(t, WithCacheSize(2))
	ctx := context.Background()
	_, err := l.Load(ctx, shopKey{"first"}, shopQuery)
	require.NoError(t, err)
	require.Equal(t, int64(2), l.Stats().Evictions())
	_, err = l.Load(ctx, shopKey{"first"}, shopQuery)
	require.NoError(t, err)
	require.Equal(t, 2, rec.calls())
}

func TestPaginatedLoadsShareOneRead(t *testing.T) {
	cfg := pagination.Config{Cursor: "revision", Consecutive: true}
	desc := &description.Description{Fields: map[string]*description.Description{
		"records": pagination.Description(cfg),
	}}
	var records []any
	for i := 1; i <= 10; i++ {
		records = append(records, map[string]any{"revision": i})
	}
	rec := newRecorder[string](nil)
	rec.result = func(b *Batch[string]) ([]any, error) {
		plan, err := pagination.PlanFor(b.Query.Field("records"))
		if err != nil {
			return nil, err
		}
		env := plan.Evaluate(records, cfg)
		sizes := make([]any, len(env.Sizes))
		for i, s := range env.Sizes {
			sizes[i] = s
		}
		return []any{map[string]any{"records": map[string]any{"array": env.Array, "sizes": sizes}}}, nil
	}
	l, err := New[string]("history", rec.fn, WithDescription(desc))
	require.NoError(t, err)

	ctx := context.Background()
	page := func(w query.Window) query.Node {
		return query.Object{"records": query.Paginate(query.Object{"revision": query.Include}, w)}
	}
	windows := []query.Window{{First: 2}, {Last: 3}, {After: 5, First: 1}, {Before: 4, Last: 1}}
	var thunks []*Thunk[string]
	for _, w := range windows {
		thunks = append(thunks, l.LoadThunk(ctx, "doc", page(w)))
	}
	wants := [][]int{{1, 2}, {8, 9, 10}, {6}, {3}}
	for i, th := range thunks {
		got, err := th.Get(ctx)
		require.NoError(t, err)
		var want []any
		for _, r := range wants[i] {
			want = append(want, map[string]any{"revision": r})
		}
		if diff := cmp.Diff(map[string]any{"records": want}, got); diff != "" {
			t.Fatalf("window %+v mismatch (-want +got):\n%s", windows[i], diff)
		}
	}
	require.Equal(t, 1, rec.calls())
}

func TestMergeValues(t *testing.T) {
	a := map[string]any{"x": 1, "list": []any{map[string]any{"n": "a"}, map[string]any{"n": "b"}}}
	b := map[string]any{"y": 2, "list": []any{map[string]any{"p": 1}, map[string]any{"p": 2}}}
	want := map[string]any{"x": 1, "y": 2, "list": []any{
		map[string]any{"n": "a", "p": 1},
		map[string]any{"n": "b", "p": 2},
	}}
	if diff := cmp.Diff(want, mergeValues(a, b)); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
	if _, ok := a["y"]; ok {
		t.Fatalf("mergeValues modified its input")
	}
}

func TestWindowedAndWholeListsShareOneRead(t *testing.T) {
	cfg := pagination.Config{}
	desc := &description.Description{Fields: map[string]*description.Description{
		"items": pagination.Description(cfg),
	}}
	items := []any{1, 2, 3, 4, 5}
	rec := newRecorder[string](nil)
	rec.result = func(b *Batch[string]) ([]any, error) {
		plan, err := pagination.PlanFor(b.Query.Field("items"))
		if err != nil {
			return nil, err
		}
		env := plan.Evaluate(items, cfg)
		sizes := make([]any, len(env.Sizes))
		for i, s := range env.Sizes {
			sizes[i] = int32(s)
		}
		return []any{map[string]any{"items": map[string]any{"array": env.Array, "sizes": sizes}}}, nil
	}
	l, err := New[string]("lists", rec.fn, WithDescription(desc))
	require.NoError(t, err)

	ctx := context.Background()
	whole := l.LoadThunk(ctx, "doc", query.Object{"items": query.Include})
	page := l.LoadThunk(ctx, "doc", query.Object{"items": query.Paginate(query.Include, query.Window{First: 2})})

	got, err := whole.Get(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]any{"items": items}, got); diff != "" {
		t.Fatalf("whole list mismatch (-want +got):\n%s", diff)
	}
	got, err = page.Get(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]any{"items": []any{1, 2}}, got); diff != "" {
		t.Fatalf("page mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 1, rec.calls())
}

func TestLoadInsideLoadedHandler(t *testing.T) {
	l, rec := newShops(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var (
		mu       sync.Mutex
		reloaded = map[string]any{}
		errs     []error
	)
	l.Loaded().Subscribe(func(ctx context.Context, ev Loaded[shopKey]) {
		v, err := l.Load(ctx, ev.Key.ID, ev.Key.Query)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			return
		}
		reloaded[query.Key(ev.Key.Query)] = v
	})

	got, err := l.Load(ctx, shopKey{"first"}, query.Object{"id": query.Include, "description": query.Include})
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]any{"id": "first", "description": "the best shop"}, got); diff != "" {
		t.Fatalf("load mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 1, rec.calls())

	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, errs)
	want := map[string]any{
		query.Key(query.Object{"id": query.Include}):          map[string]any{"id": "first"},
		query.Key(query.Object{"description": query.Include}): map[string]any{"description": "the best shop"},
	}
	if diff := cmp.Diff(want, reloaded); diff != "" {
		t.Fatalf("reloaded values mismatch (-want +got):\n%s", diff)
	}
}

func TestFlushDispatchesOpenBatches(t *testing.T) {
	l, rec := newShops(t, WithWait(time.Hour))
	ctx := context.Background()
	loaded := 0
	l.Loaded().Subscribe(func(context.Context, Loaded[shopKey]) { loaded++ })

	th := l.LoadThunk(ctx, shopKey{"first"}, query.Object{"id": query.Include})
	require.Equal(t, 0, rec.calls())
	l.Flush()
	require.Equal(t, 1, rec.calls())
	require.Equal(t, 1, loaded)

	got, err := th.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"id": "first"}, got)
	require.Equal(t, 1, rec.calls())

	l.Flush()
	require.Equal(t, 1, rec.calls())
}

func TestUncomparableSessionIsRejected(t *testing.T) {
	l, rec := newShops(t)
	ctx := context.Background()
	q := query.Object{"id": query.Include}
	type tx struct{ state any }

	for _, s := range []any{[]string{"tx"}, tx{state: map[string]int{}}} {
		_, err := l.Load(ctx, shopKey{"first"}, q, WithSession(s))
		require.ErrorIs(t, err, ErrSession)
	}
	require.Equal(t, 0, rec.calls())

	_, err := l.Load(ctx, shopKey{"first"}, q, WithSession(&tx{state: []string{"x"}}))
	require.NoError(t, err)
	require.Equal(t, 1, rec.calls())
}
