// Package loader batches and caches entity reads.
//
// A Loader splits every requested query into single-field leaves and caches
// each leaf under its (id, leaf) key. Leaves that are neither cached nor in
// flight are collected into open batches, one per (group, session) pair.
// A batch closes at the first Thunk.Get (or after WithWait, or once it
// reaches WithMaxBatch keys) and the BatchFunc runs once with the merged
// query of all its keys. Each key's own value is demultiplexed from the
// single result of its id, cached, and announced on the Loaded topic.
//
// Per-key state moves from in-flight to cached (raw) and, with a
// Validator, lazily to cached (validated). Errors returned for one id fail
// only the keys of that id and are never cached.
//
// Settled values are readable as soon as the batch settles, including from
// Loaded handlers. Loads that joined the batch return once its Loaded events
// have been published.
package loader

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hanpama/notegraph/internal/cache"
	"github.com/hanpama/notegraph/internal/demux"
	"github.com/hanpama/notegraph/internal/description"
	"github.com/hanpama/notegraph/internal/eventbus"
	"github.com/hanpama/notegraph/internal/events"
	"github.com/hanpama/notegraph/internal/query"
	"github.com/hanpama/notegraph/internal/reqid"
)

// LoadedVersion is the schema version of Loaded events.
const LoadedVersion = 1

// BatchFunc reads every id of a batch with the batch's merged query. The
// result must be parallel to b.IDs; an error element fails only that id.
type BatchFunc[ID any] func(ctx context.Context, b *Batch[ID]) ([]any, error)

// Validator converts between raw stored values and validated values for
// the shape selected by a query.
type Validator interface {
	Validate(raw any, q query.Node) (any, error)
	Raw(validated any, q query.Node) (any, error)
}

// Key identifies one cached leaf.
type Key[ID any] struct {
	ID    ID
	Query query.Node
}

// String returns the structural cache key.
func (k Key[ID]) String() string {
	return query.Key(k.ID) + "/" + query.Key(k.Query)
}

// Batch is one invocation of a BatchFunc.
type Batch[ID any] struct {
	ID      uuid.UUID
	Group   string
	Session any
	Keys    []Key[ID]
	// IDs holds the distinct ids of Keys in first-seen order.
	IDs []ID
	// Query merges the leaf queries of every key.
	Query *query.Merged
}

// Loaded announces a leaf that was not cached before.
type Loaded[ID any] struct {
	Version int
	Loader  string
	Key     Key[ID]
	Value   any
}

type entry struct {
	done chan struct{}
	// published is closed after the Loaded events of the entry's batch.
	published chan struct{}
	raw       any
	err       error

	mu        sync.Mutex
	validated any
	checked   bool
}

var closed = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

func (e *entry) validate(v Validator, q query.Node) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.checked || e.raw == nil {
		return e.validated, nil
	}
	out, err := v.Validate(e.raw, q)
	if err != nil {
		return nil, err
	}
	e.validated, e.checked = out, true
	return out, nil
}

type flightKey struct {
	session any
	key     string
}

type batchKey struct {
	group   string
	session any
}

type pending[ID any] struct {
	ctx       context.Context
	key       batchKey
	keys      []Key[ID]
	entries   []*entry
	timer     *time.Timer
	published chan struct{}
}

// Loader loads entities of one kind by id.
type Loader[ID any] struct {
	name   string
	fn     BatchFunc[ID]
	group  func(ID) string
	opts   options
	cache  cache.Cache[*entry]
	loaded eventbus.Topic[Loaded[ID]]

	mu       sync.Mutex
	inflight map[flightKey]*entry
	open     map[batchKey]*pending[ID]
	emitting map[string]struct{}
}

// New creates a Loader named name.
func New[ID any](name string, fn BatchFunc[ID], opts ...Option) (*Loader[ID], error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	l := &Loader[ID]{
		name:     name,
		fn:       fn,
		group:    func(ID) string { return "" },
		opts:     o,
		inflight: make(map[flightKey]*entry),
		open:     make(map[batchKey]*pending[ID]),
		emitting: make(map[string]struct{}),
	}
	if o.group != nil {
		g, ok := o.group.(func(ID) string)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrGroupType, o.group)
		}
		l.group = g
	}

	var cacheOpts []cache.Option[*entry]
	if o.metricsReg != nil {
		cacheOpts = append(cacheOpts, cache.WithMetrics[*entry](o.metricsReg, name))
	}
	var err error
	if o.cacheSize > 0 {
		l.cache, err = cache.NewLRU[*entry](o.cacheSize, cacheOpts...)
	} else {
		l.cache, err = cache.NewSimple[*entry](cacheOpts...)
	}
	if err != nil {
		return nil, fmt.Errorf("loader %s: %w", name, err)
	}
	return l, nil
}

// Name returns the loader name.
func (l *Loader[ID]) Name() string { return l.name }

// Loaded returns the topic of newly cached leaves.
func (l *Loader[ID]) Loaded() *eventbus.Topic[Loaded[ID]] { return &l.loaded }

// Stats returns the leaf cache statistics.
func (l *Loader[ID]) Stats() *cache.Statistics { return l.cache.Stats() }

// Load returns the value of id shaped like q.
func (l *Loader[ID]) Load(ctx context.Context, id ID, q query.Node, opts ...LoadOption) (any, error) {
	return l.LoadThunk(ctx, id, q, opts...).Get(ctx)
}

// QueryFn binds Load to id.
func (l *Loader[ID]) QueryFn(id ID, opts ...LoadOption) func(context.Context, query.Node) (any, error) {
	return func(ctx context.Context, q query.Node) (any, error) {
		return l.Load(ctx, id, q, opts...)
	}
}

// Thunk is a pending Load.
type Thunk[ID any] struct {
	l       *Loader[ID]
	q       query.Node
	leaves  []query.Node
	entries []*entry
	joined  []bool
	err     error
}

// LoadThunk registers the leaves of q without waiting for them. Loads
// registered before the first Get share batches.
func (l *Loader[ID]) LoadThunk(ctx context.Context, id ID, q query.Node, opts ...LoadOption) *Thunk[ID] {
	if err := query.Validate(q); err != nil {
		return &Thunk[ID]{err: err}
	}
	var lo loadOptions
	for _, opt := range opts {
		opt(&lo)
	}
	if lo.session != nil && !reflect.ValueOf(lo.session).Comparable() {
		return &Thunk[ID]{err: fmt.Errorf("%w: %T", ErrSession, lo.session)}
	}

	leaves := query.Split(q, l.opts.anchors...)
	t := &Thunk[ID]{
		l:       l,
		q:       q,
		leaves:  leaves,
		entries: make([]*entry, len(leaves)),
		joined:  make([]bool, len(leaves)),
	}

	var ready []*pending[ID]
	l.mu.Lock()
	for i, leaf := range leaves {
		k := Key[ID]{ID: id, Query: leaf}
		ks := k.String()
		fk := flightKey{session: lo.session, key: ks}
		if e, ok := l.inflight[fk]; ok {
			t.entries[i], t.joined[i] = e, true
			continue
		}
		if lo.session != nil {
			_, _ = l.cache.Delete(ks)
		} else if e, ok := l.cache.Get(ks); ok {
			t.entries[i] = e
			continue
		}
		e := &entry{done: make(chan struct{})}
		l.inflight[fk] = e
		t.entries[i], t.joined[i] = e, true
		if p := l.enqueue(ctx, id, lo.session, k, e); p != nil {
			ready = append(ready, p)
		}
	}
	l.mu.Unlock()

	for _, p := range ready {
		go l.dispatch(p)
	}
	return t
}

// Get closes the open batches, waits for the leaves of the load and
// assembles them into the requested shape.
func (t *Thunk[ID]) Get(ctx context.Context) (any, error) {
	if t.err != nil {
		return nil, t.err
	}
	if t.l.opts.wait == 0 {
		if ps := t.l.detachAll(); len(ps) > 0 {
			go t.l.run(ps)
		}
	}
	for i, e := range t.entries {
		select {
		case <-e.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if !t.joined[i] {
			continue
		}
		select {
		case <-e.published:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return t.l.assemble(t.q, t.leaves, t.entries)
}

// Flush dispatches every open batch and waits until each has settled and
// published its Loaded events. Thunks registered before Flush then return
// without starting another batch.
func (l *Loader[ID]) Flush() {
	l.run(l.detachAll())
}

// Clear drops the cached leaves of q for id.
func (l *Loader[ID]) Clear(id ID, q query.Node) {
	for _, leaf := range query.Split(q, l.opts.anchors...) {
		_, _ = l.cache.Delete(Key[ID]{ID: id, Query: leaf}.String())
	}
}

// ClearAll drops every cached leaf.
func (l *Loader[ID]) ClearAll() {
	_ = l.cache.Clear()
}

// Prime caches value for id. The leaves come from PrimeQuery, or from the
// shape of value itself. Cached leaves are kept unless ClearCache is given.
func (l *Loader[ID]) Prime(ctx context.Context, id ID, value any, opts ...PrimeOption) error {
	var o primeOptions
	for _, opt := range opts {
		opt(&o)
	}
	q := o.query
	if q == nil {
		q = query.Infer(value)
	}
	if err := query.Validate(q); err != nil {
		return err
	}
	validated := o.validated && l.opts.validator != nil
	raw := value
	if validated {
		r, err := l.opts.validator.Raw(value, q)
		if err != nil {
			return fmt.Errorf("loader %s: prime: %w", l.name, err)
		}
		raw = r
	}

	var fresh []Loaded[ID]
	l.mu.Lock()
	for _, leaf := range query.Split(q, l.opts.anchors...) {
		k := Key[ID]{ID: id, Query: leaf}
		ks := k.String()
		if o.clear {
			_, _ = l.cache.Delete(ks)
		} else if l.cache.Contains(ks) {
			continue
		}
		e := &entry{done: closed, published: closed, raw: demux.Prune(leaf, raw)}
		if validated {
			e.validated, e.checked = demux.Prune(leaf, value), true
		}
		if _, err := l.cache.Set(ks, e); err != nil {
			l.mu.Unlock()
			return fmt.Errorf("loader %s: prime: %w", l.name, err)
		}
		fresh = append(fresh, Loaded[ID]{Version: LoadedVersion, Loader: l.name, Key: k, Value: e.raw})
	}
	l.mu.Unlock()

	l.emit(ctx, fresh)
	return nil
}

// enqueue adds k to its open batch and returns the batch if it is full.
// l.mu must be held.
func (l *Loader[ID]) enqueue(ctx context.Context, id ID, session any, k Key[ID], e *entry) *pending[ID] {
	bk := batchKey{group: l.group(id), session: session}
	p, ok := l.open[bk]
	if !ok {
		p = &pending[ID]{ctx: context.WithoutCancel(ctx), key: bk, published: make(chan struct{})}
		l.open[bk] = p
		if l.opts.wait > 0 {
			p.timer = time.AfterFunc(l.opts.wait, func() { l.expire(p) })
		}
	}
	e.published = p.published
	p.keys = append(p.keys, k)
	p.entries = append(p.entries, e)
	if l.opts.maxBatch > 0 && len(p.keys) >= l.opts.maxBatch {
		l.detach(p)
		return p
	}
	return nil
}

// detach removes p from the open batches. l.mu must be held.
func (l *Loader[ID]) detach(p *pending[ID]) {
	if l.open[p.key] == p {
		delete(l.open, p.key)
	}
	if p.timer != nil {
		p.timer.Stop()
	}
}

func (l *Loader[ID]) expire(p *pending[ID]) {
	l.mu.Lock()
	if l.open[p.key] != p {
		l.mu.Unlock()
		return
	}
	l.detach(p)
	l.mu.Unlock()
	l.dispatch(p)
}

func (l *Loader[ID]) detachAll() []*pending[ID] {
	l.mu.Lock()
	defer l.mu.Unlock()
	ps := make([]*pending[ID], 0, len(l.open))
	for _, p := range l.open {
		ps = append(ps, p)
	}
	for _, p := range ps {
		l.detach(p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].key.group < ps[j].key.group })
	return ps
}

func (l *Loader[ID]) run(ps []*pending[ID]) {
	var g errgroup.Group
	g.SetLimit(l.opts.maxConcurrency)
	for _, p := range ps {
		g.Go(func() error {
			l.dispatch(p)
			return nil
		})
	}
	_ = g.Wait()
}

func (l *Loader[ID]) descs() []*description.Description {
	if l.opts.desc == nil {
		return nil
	}
	return []*description.Description{l.opts.desc}
}

func (l *Loader[ID]) dispatch(p *pending[ID]) {
	b := &Batch[ID]{ID: uuid.New(), Group: p.key.group, Session: p.key.session, Keys: p.keys}
	ctx := events.WithBatch(p.ctx, b.ID)
	index := make(map[string]int)
	pos := make([]int, len(p.keys))
	leaves := make([]query.Node, len(p.keys))
	for i, k := range p.keys {
		ik := query.Key(k.ID)
		j, ok := index[ik]
		if !ok {
			j = len(b.IDs)
			index[ik] = j
			b.IDs = append(b.IDs, k.ID)
		}
		pos[i] = j
		leaves[i] = k.Query
	}
	b.Query = query.Merge(leaves...)

	start := time.Now()
	eventbus.Publish(ctx, events.LoaderBatchStart{
		Loader: l.name, BatchID: b.ID, Group: b.Group, Keys: len(b.Keys), IDs: len(b.IDs),
	})

	results, err := l.call(ctx, b)
	if err == nil && len(results) != len(b.IDs) {
		err = fmt.Errorf("%w: %d results for %d ids", ErrBatchLength, len(results), len(b.IDs))
	}
	descs := l.descs()
	for i, k := range p.keys {
		e := p.entries[i]
		if err != nil {
			e.err = err
			continue
		}
		if rerr, ok := results[pos[i]].(error); ok {
			e.err = rerr
			continue
		}
		e.raw, e.err = demux.Demux(k.Query, b.Query, results[pos[i]], descs)
	}

	fresh := l.settle(p)
	for _, e := range p.entries {
		close(e.done)
	}
	l.emit(ctx, fresh)
	close(p.published)

	dur := time.Since(start)
	l.logBatch(ctx, b, dur, err)
	eventbus.Publish(ctx, events.LoaderBatchFinish{
		Loader: l.name, BatchID: b.ID, Group: b.Group, Keys: len(b.Keys), IDs: len(b.IDs),
		Err: err, Duration: dur,
	})
}

func (l *Loader[ID]) call(ctx context.Context, b *Batch[ID]) (results []any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return l.fn(ctx, b)
}

// settle moves the entries of p out of flight and caches the successful
// ones. It returns the events for leaves that were not cached before.
func (l *Loader[ID]) settle(p *pending[ID]) []Loaded[ID] {
	l.mu.Lock()
	defer l.mu.Unlock()
	var fresh []Loaded[ID]
	for i, k := range p.keys {
		e := p.entries[i]
		ks := k.String()
		fk := flightKey{session: p.key.session, key: ks}
		if l.inflight[fk] == e {
			delete(l.inflight, fk)
		}
		if e.err != nil {
			continue
		}
		known := l.cache.Contains(ks)
		if _, err := l.cache.Set(ks, e); err != nil {
			continue
		}
		if !known {
			fresh = append(fresh, Loaded[ID]{Version: LoadedVersion, Loader: l.name, Key: k, Value: e.raw})
		}
	}
	return fresh
}

// emit publishes evs. A key already being published further up the stack
// is skipped.
func (l *Loader[ID]) emit(ctx context.Context, evs []Loaded[ID]) {
	if len(evs) == 0 || l.loaded.Len() == 0 {
		return
	}
	for _, ev := range evs {
		ks := ev.Key.String()
		l.mu.Lock()
		if _, busy := l.emitting[ks]; busy {
			l.mu.Unlock()
			continue
		}
		l.emitting[ks] = struct{}{}
		l.mu.Unlock()

		l.loaded.Publish(ctx, ev)

		l.mu.Lock()
		delete(l.emitting, ks)
		l.mu.Unlock()
	}
}

func (l *Loader[ID]) assemble(q query.Node, leaves []query.Node, entries []*entry) (any, error) {
	var out any
	for i, e := range entries {
		if e.err != nil {
			return nil, e.err
		}
		v := e.raw
		if l.opts.validator != nil {
			var err error
			if v, err = e.validate(l.opts.validator, leaves[i]); err != nil {
				return nil, &ValidationError{Loader: l.name, Query: leaves[i], Err: err}
			}
		}
		out = mergeValues(out, v)
	}
	return demux.Prune(q, out), nil
}

func (l *Loader[ID]) logBatch(ctx context.Context, b *Batch[ID], dur time.Duration, err error) {
	attrs := []any{
		"loader", l.name,
		"batch_id", b.ID.String(),
		"group", b.Group,
		"keys", len(b.Keys),
		"ids", len(b.IDs),
		"duration", dur,
	}
	if rid := reqid.String(ctx); rid != "" {
		attrs = append(attrs, "request_id", rid)
	}
	if err != nil {
		l.opts.logger.WarnContext(ctx, "batch failed", append(attrs, "error", err)...)
		return
	}
	l.opts.logger.DebugContext(ctx, "batch loaded", attrs...)
}
