package notes

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/hanpama/notegraph/internal/aggregate"
	"github.com/hanpama/notegraph/internal/loader"
	"github.com/hanpama/notegraph/internal/query"
)

// NoteKey identifies a note. Notes are always read on behalf of their owner.
type NoteKey struct {
	UserID bson.ObjectID
	NoteID bson.ObjectID
}

// Loaders are the entity loaders of one request scope.
type Loaders struct {
	Users *loader.Loader[bson.ObjectID]
	Notes *loader.Loader[NoteKey]

	UserSource *aggregate.Source[bson.ObjectID]
	NoteSource *aggregate.Source[NoteKey]

	unbridge func()
}

// NewLoaders builds validated user and note loaders reading from store.
// Notes found in user results prime the note loader. opts apply to both
// loaders.
func NewLoaders(store aggregate.Aggregator, opts ...loader.Option) (*Loaders, error) {
	noteSchema, userSchema, err := Schemas()
	if err != nil {
		return nil, err
	}

	l := &Loaders{
		UserSource: &aggregate.Source[bson.ObjectID]{
			Store:       store,
			Collection:  UserCollection,
			Description: User,
			Match:       aggregate.MatchIDs[bson.ObjectID],
		},
		NoteSource: &aggregate.Source[NoteKey]{
			Store:       store,
			Collection:  NoteCollection,
			Description: Note,
			Match:       matchNotes,
			IDValue:     func(k NoteKey) any { return k.NoteID },
		},
	}

	userOpts := append([]loader.Option{
		loader.WithDescription(User),
		loader.WithValidator(userSchema),
		loader.WithAnchors("_id"),
	}, opts...)
	if l.Users, err = loader.New[bson.ObjectID](UserCollection, l.UserSource.BatchFunc(), userOpts...); err != nil {
		return nil, err
	}

	noteOpts := append([]loader.Option{
		loader.WithDescription(Note),
		loader.WithValidator(noteSchema),
		loader.WithAnchors("_id"),
		loader.WithGroup(func(k NoteKey) string { return k.UserID.Hex() }),
	}, opts...)
	if l.Notes, err = loader.New[NoteKey](NoteCollection, l.NoteSource.BatchFunc(), noteOpts...); err != nil {
		return nil, err
	}

	l.unbridge = loader.Bridge(l.Users, l.Notes, orderedNotes)
	return l, nil
}

// Close detaches the loaders from each other.
func (l *Loaders) Close() {
	if l.unbridge != nil {
		l.unbridge()
	}
}

// matchNotes selects the notes of one owner. Batches are grouped by owner.
func matchNotes(keys []NoteKey, _ string) bson.D {
	ids := make(bson.A, len(keys))
	for i, k := range keys {
		ids[i] = k.NoteID
	}
	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}
	if len(keys) > 0 {
		filter = append(filter, bson.E{Key: "userId", Value: keys[0].UserID})
	}
	return filter
}

// orderedNotes extracts the note documents resolved under
// notes.category.<name>.order of a loaded user leaf.
func orderedNotes(ev loader.Loaded[bson.ObjectID]) []loader.Primed[NoteKey] {
	categories, ok := nodeAt(ev.Key.Query, "notes", "category").(query.Object)
	if !ok {
		return nil
	}
	var out []loader.Primed[NoteKey]
	for name, cat := range categories {
		order := nodeAt(cat, "order")
		var elem query.Node = order
		if a, ok := order.(query.Array); ok {
			elem = a.Elem
		}
		if _, ok := elem.(query.Object); !ok {
			elem = nil
		}
		list, _ := valueAt(ev.Value, "notes", "category", name, "order").([]any)
		for _, item := range list {
			doc, ok := item.(map[string]any)
			if !ok {
				continue
			}
			id, ok := doc["_id"].(bson.ObjectID)
			if !ok {
				continue
			}
			out = append(out, loader.Primed[NoteKey]{
				ID:    NoteKey{UserID: ev.Key.ID, NoteID: id},
				Query: elem,
				Value: doc,
			})
		}
	}
	return out
}

func nodeAt(n query.Node, path ...string) query.Node {
	for _, k := range path {
		o, ok := n.(query.Object)
		if !ok {
			return nil
		}
		n = o[k]
	}
	return n
}

func valueAt(v any, path ...string) any {
	for _, k := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[k]
	}
	return v
}
