// Package notes wires the note-taking entities into the query engine: their
// description trees, schemas and loaders.
package notes

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/hanpama/notegraph/internal/description"
	"github.com/hanpama/notegraph/internal/pagination"
)

const (
	NoteCollection = "notes"
	UserCollection = "users"
)

// RecordsConfig paginates collabText.records by revision. Revisions are
// gapless, so cursors are located arithmetically.
var RecordsConfig = pagination.Config{Cursor: "revision", Consecutive: true}

// Registry holds the note and user description trees.
var Registry = description.NewRegistry()

var (
	Note = Registry.MustRegister("note", newNoteDescription())
	User = Registry.MustRegister("user", newUserDescription(Note))
)

func newNoteDescription() *description.Description {
	return &description.Description{Fields: map[string]*description.Description{
		"collabText": {Fields: map[string]*description.Description{
			"records": pagination.Description(RecordsConfig),
		}},
	}}
}

// newUserDescription resolves notes.category.<name>.order, a list of note
// ids, into note documents described by note.
func newUserDescription(note *description.Description) *description.Description {
	order := &description.Description{
		AddStages:      orderStages,
		MapLastProject: pagination.Project,
		MapAggregateResult: func(ctx *description.ResultContext, v any) (any, error) {
			v, err := pagination.Result(ctx, v)
			if err != nil {
				return nil, err
			}
			return dropMissing(v), nil
		},
		Fields: note.Fields,
	}
	return &description.Description{Fields: map[string]*description.Description{
		"notes": {Fields: map[string]*description.Description{
			"category": {AnyKey: &description.Description{Fields: map[string]*description.Description{
				"order": order,
			}}},
		}},
	}}
}

const lookupField = "_notes"

// orderStages paginates every selected order list, then resolves the ids of
// all of them with a single $lookup. Ids without a note become null.
func orderStages(ctx *description.StageContext) ([]bson.D, error) {
	var stages []bson.D
	set, err := pagination.SetStage(ctx.Fields, pagination.Config{})
	if err != nil {
		return nil, err
	}
	if set != nil {
		stages = append(stages, set)
	}

	inner, err := ctx.Pipeline(nil, true)
	if err != nil {
		return nil, err
	}
	proj, err := ctx.Projection(nil)
	if err != nil {
		return nil, err
	}

	lists := bson.A{}
	resolve := bson.D{}
	for _, f := range ctx.Fields {
		path := strings.Join(f.Path, ".")
		if len(f.Merged.Windows()) > 0 {
			path += ".array"
		}
		lists = append(lists, bson.D{{Key: "$ifNull", Value: bson.A{"$" + path, bson.A{}}}})
		resolve = append(resolve, bson.E{Key: path, Value: resolveIDs("$" + path)})
	}

	sub := []bson.D{{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{
		{Key: "$in", Value: bson.A{"$_id", "$$ids"}},
	}}}}}}
	sub = append(sub, inner...)
	if proj != nil {
		sub = append(sub, bson.D{{Key: "$project", Value: proj}})
	}

	return append(stages,
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: NoteCollection},
			{Key: "let", Value: bson.D{{Key: "ids", Value: bson.D{{Key: "$concatArrays", Value: lists}}}}},
			{Key: "pipeline", Value: sub},
			{Key: "as", Value: lookupField},
		}}},
		bson.D{{Key: "$set", Value: resolve}},
		bson.D{{Key: "$unset", Value: lookupField}},
	), nil
}

// resolveIDs maps each id of the list at input to its looked-up document.
func resolveIDs(input string) bson.D {
	at := bson.D{{Key: "$indexOfArray", Value: bson.A{"$" + lookupField + "._id", "$$id"}}}
	return bson.D{{Key: "$map", Value: bson.D{
		{Key: "input", Value: bson.D{{Key: "$ifNull", Value: bson.A{input, bson.A{}}}}},
		{Key: "as", Value: "id"},
		{Key: "in", Value: bson.D{{Key: "$let", Value: bson.D{
			{Key: "vars", Value: bson.D{{Key: "i", Value: at}}},
			{Key: "in", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{"$$i", -1}}},
				nil,
				bson.D{{Key: "$arrayElemAt", Value: bson.A{"$" + lookupField, "$$i"}}},
			}}}},
		}}}},
	}}}
}

// dropMissing removes the nulls left by deleted notes. It runs after the
// window is sliced so envelope sizes still match.
func dropMissing(v any) any {
	list, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]any, 0, len(list))
	for _, item := range list {
		if item != nil {
			out = append(out, item)
		}
	}
	return out
}
