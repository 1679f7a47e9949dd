// Package mongostore runs aggregation pipelines against MongoDB.
//
// Results are normalized to plain Go values: documents become
// map[string]any and arrays become []any, at every depth.
package mongostore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hanpama/notegraph/internal/eventbus"
	"github.com/hanpama/notegraph/internal/events"
	"github.com/hanpama/notegraph/internal/reqid"
)

// Store executes aggregations against one database.
type Store struct {
	opts   *Options
	client *mongo.Client
	db     *mongo.Database
	owned  bool
	closed atomic.Bool
}

// Connect dials uri and pings the server.
func Connect(ctx context.Context, uri string, opts ...Option) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	s := New(client, opts...)
	s.owned = true
	return s, nil
}

// New wraps an existing client. Close does not disconnect it.
func New(client *mongo.Client, opts ...Option) *Store {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	return &Store{opts: o, client: client, db: client.Database(o.Database)}
}

// Database returns the underlying database handle.
func (s *Store) Database() *mongo.Database { return s.db }

// Aggregate runs pipeline on collection and returns the normalized
// documents. session is nil or a *mongo.Session whose transaction the
// read joins.
func (s *Store) Aggregate(ctx context.Context, collection string, pipeline []bson.D, session any) (docs []map[string]any, err error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if session != nil {
		sess, ok := session.(*mongo.Session)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrSessionType, session)
		}
		ctx = mongo.NewSessionContext(ctx, sess)
	}
	if _, ok := ctx.Deadline(); !ok && s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	op := uuid.New()
	start := time.Now()
	batch, _ := events.BatchFromContext(ctx)
	eventbus.Publish(ctx, events.AggregateStart{OpID: op, BatchID: batch, Collection: collection, Stages: len(pipeline)})
	defer func() {
		dur := time.Since(start)
		eventbus.Publish(ctx, events.AggregateFinish{
			OpID: op, Collection: collection, Stages: len(pipeline),
			Documents: len(docs), Err: err, Duration: dur,
		})
		attrs := []any{"collection", collection, "stages", len(pipeline), "documents", len(docs), "duration", dur}
		if rid := reqid.String(ctx); rid != "" {
			attrs = append(attrs, "request_id", rid)
		}
		if err != nil {
			s.opts.Logger.WarnContext(ctx, "aggregate failed", append(attrs, "error", err)...)
			return
		}
		s.opts.Logger.DebugContext(ctx, "aggregate", attrs...)
	}()

	cur, err := s.db.Collection(collection).Aggregate(ctx, mongo.Pipeline(pipeline),
		options.Aggregate().SetAllowDiskUse(s.opts.AllowDiskUse))
	if err != nil {
		return nil, fmt.Errorf("mongostore: aggregate %s: %w", collection, err)
	}
	var raw []bson.D
	if err := cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("mongostore: aggregate %s: %w", collection, err)
	}
	docs = make([]map[string]any, len(raw))
	for i, d := range raw {
		docs[i] = Normalize(d).(map[string]any)
	}
	return docs, nil
}

// WithTransaction runs fn inside a transaction. The session passed to fn
// is the handle loads inside the transaction use to read their own writes.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, session *mongo.Session) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("mongostore: start session: %w", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))
	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx, sess)
	})
	return err
}

// Close disconnects the client if the store dialed it.
func (s *Store) Close(ctx context.Context) error {
	if s.closed.Swap(true) || !s.owned {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// Normalize converts driver documents and arrays into map[string]any and
// []any recursively. Other values are returned unchanged.
func Normalize(v any) any {
	switch v := v.(type) {
	case bson.D:
		out := make(map[string]any, len(v))
		for _, e := range v {
			out[e.Key] = Normalize(e.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(v))
		for k, c := range v {
			out[k] = Normalize(c)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, c := range v {
			out[k] = Normalize(c)
		}
		return out
	case bson.A:
		out := make([]any, len(v))
		for i, c := range v {
			out[i] = Normalize(c)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, c := range v {
			out[i] = Normalize(c)
		}
		return out
	}
	return v
}
