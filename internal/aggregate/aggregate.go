// Package aggregate turns a collection and a description into a loader
// batch function: one $match plus the compiled pipeline per batch.
package aggregate

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/hanpama/notegraph/internal/description"
	"github.com/hanpama/notegraph/internal/loader"
	"github.com/hanpama/notegraph/internal/pipeline"
	"github.com/hanpama/notegraph/internal/query"
)

// ErrNotFound is returned in place of a document for ids the aggregation
// did not return.
var ErrNotFound = errors.New("aggregate: not found")

// Aggregator runs a pipeline against a collection.
type Aggregator interface {
	Aggregate(ctx context.Context, collection string, pipeline []bson.D, session any) ([]map[string]any, error)
}

// Source describes how entities of one kind are read.
type Source[ID any] struct {
	Store       Aggregator
	Collection  string
	Description *description.Description
	// Match builds the $match filter selecting ids.
	Match func(ids []ID, group string) bson.D
	// DocID extracts the id-matching value from a returned document and
	// IDValue the same value from an id. Results are paired by query.Key of
	// these values. DocID defaults to the document's _id.
	DocID   func(doc map[string]any) any
	IDValue func(id ID) any
}

// Pipeline returns the stages a batch for ids would run.
func (s *Source[ID]) Pipeline(ids []ID, group string, m *query.Merged) (pipeline.Pipeline, error) {
	compiled, err := pipeline.Compile(m, s.Description)
	if err != nil {
		return nil, err
	}
	stages := make(pipeline.Pipeline, 0, len(compiled)+1)
	stages = append(stages, bson.D{{Key: "$match", Value: s.Match(ids, group)}})
	return append(stages, compiled...), nil
}

// BatchFunc returns the loader batch function for s.
func (s *Source[ID]) BatchFunc() loader.BatchFunc[ID] {
	return func(ctx context.Context, b *loader.Batch[ID]) ([]any, error) {
		stages, err := s.Pipeline(b.IDs, b.Group, b.Query)
		if err != nil {
			return nil, err
		}
		docs, err := s.Store.Aggregate(ctx, s.Collection, stages, b.Session)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]map[string]any, len(docs))
		for _, doc := range docs {
			byID[query.Key(s.docID(doc))] = doc
		}
		out := make([]any, len(b.IDs))
		for i, id := range b.IDs {
			doc, ok := byID[query.Key(s.idValue(id))]
			if !ok {
				out[i] = fmt.Errorf("%w: %s %v", ErrNotFound, s.Collection, id)
				continue
			}
			out[i] = doc
		}
		return out, nil
	}
}

func (s *Source[ID]) docID(doc map[string]any) any {
	if s.DocID != nil {
		return s.DocID(doc)
	}
	return doc["_id"]
}

func (s *Source[ID]) idValue(id ID) any {
	if s.IDValue != nil {
		return s.IDValue(id)
	}
	return id
}

// MatchIDs matches documents whose _id is one of ids.
func MatchIDs[ID any](ids []ID, _ string) bson.D {
	in := make(bson.A, len(ids))
	for i, id := range ids {
		in[i] = id
	}
	return bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: in}}}}
}
