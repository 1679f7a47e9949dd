package pagination

import (
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/hanpama/notegraph/internal/description"
	"github.com/hanpama/notegraph/internal/query"
)

// ErrMissingWindow indicates a result read without a window from an envelope
// whose plan does not hold the whole list.
var ErrMissingWindow = errors.New("pagination: field requires a window")

// Description returns a description node that paginates a list field. Mount
// it at the field in the entity's description tree; Fields may be set on the
// result to describe the elements.
func Description(cfg Config) *description.Description {
	return &description.Description{
		AddStages: func(ctx *description.StageContext) ([]bson.D, error) {
			stage, err := SetStage(ctx.Fields, cfg)
			if err != nil || stage == nil {
				return nil, err
			}
			return []bson.D{stage}, nil
		},
		MapLastProject:     Project,
		MapAggregateResult: Result,
	}
}

// SetStage returns one $set stage replacing every field with its envelope,
// or nil when no field carries a window. A field also selected without a
// window keeps its entire list in the envelope prefix.
func SetStage(fields []description.Field, cfg Config) (bson.D, error) {
	set := bson.D{}
	for _, f := range fields {
		windows := f.Merged.Windows()
		if len(windows) == 0 {
			continue
		}
		path := strings.Join(f.Path, ".")
		plan, err := PlanFor(f.Merged)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		set = append(set, bson.E{Key: path, Value: plan.Expression("$"+path, cfg)})
	}
	if len(set) == 0 {
		return nil, nil
	}
	return bson.D{{Key: "$set", Value: set}}, nil
}

// Project projects the envelope, keeping the computed element projection.
func Project(ctx *description.ProjectContext) (description.Projection, error) {
	if len(ctx.Merged.Windows()) == 0 {
		return description.Projection{Value: ctx.Computed, Replace: true}, nil
	}
	elem := ctx.Computed
	if elem == nil {
		elem = 1
	}
	return description.Projection{
		Value:   bson.D{{Key: "array", Value: elem}, {Key: "sizes", Value: 1}},
		Replace: true,
	}, nil
}

// Result decodes the window requested by ctx.Query out of an envelope. A
// query without a window gets the entire list.
func Result(ctx *description.ResultContext, v any) (any, error) {
	if v == nil || len(ctx.Merged.Windows()) == 0 {
		return v, nil
	}
	plan, err := PlanFor(ctx.Merged)
	if err != nil {
		return nil, err
	}
	env, err := DecodeEnvelope(v)
	if err != nil {
		return nil, err
	}
	a, ok := ctx.Query.(query.Array)
	if ok && a.Args.Page != nil {
		return plan.Slice(env, *a.Args.Page)
	}
	if !plan.Whole {
		return nil, fmt.Errorf("%w: %s", ErrMissingWindow, strings.Join(ctx.Path, "."))
	}
	return plan.All(env)
}
