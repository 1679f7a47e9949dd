package pagination

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Expression returns an aggregation expression that evaluates input (a list)
// to the plan's envelope. Every cursor of every bounded window is located in
// one $reduce pass over the list, or arithmetically when cfg.Consecutive.
func (p *Plan) Expression(input any, cfg Config) bson.D {
	slices := bson.A{p.prefix(), p.suffix()}
	for i, w := range p.Forward {
		slices = append(slices, forwardSlice(p.index(i, cfg), w.First))
	}
	for i, w := range p.Backward {
		slices = append(slices, backwardSlice(p.index(len(p.Forward)+i, cfg), w.Last))
	}

	body := let(bson.D{{Key: "slices", Value: slices}}, bson.D{
		{Key: "array", Value: bson.D{{Key: "$reduce", Value: bson.D{
			{Key: "input", Value: "$$slices"},
			{Key: "initialValue", Value: bson.A{}},
			{Key: "in", Value: bson.D{{Key: "$concatArrays", Value: bson.A{"$$value", "$$this"}}}},
		}}}},
		{Key: "sizes", Value: bson.D{{Key: "$map", Value: bson.D{
			{Key: "input", Value: "$$slices"},
			{Key: "as", Value: "s"},
			{Key: "in", Value: bson.D{{Key: "$size", Value: "$$s"}}},
		}}}},
	})

	if len(p.Forward)+len(p.Backward) > 0 {
		if !cfg.Consecutive {
			body = let(bson.D{{Key: "scan", Value: p.scan()}}, body)
		}
		body = let(bson.D{{Key: "cursors", Value: cursorList(cfg)}}, body)
	}
	return let(bson.D{{Key: "arr", Value: bson.D{{Key: "$ifNull", Value: bson.A{input, bson.A{}}}}}}, body)
}

func let(vars bson.D, in any) bson.D {
	return bson.D{{Key: "$let", Value: bson.D{{Key: "vars", Value: vars}, {Key: "in", Value: in}}}}
}

func (p *Plan) prefix() any {
	if p.Whole {
		return "$$arr"
	}
	if p.MaxFirst == 0 {
		return bson.A{}
	}
	return bson.D{{Key: "$slice", Value: bson.A{"$$arr", p.MaxFirst}}}
}

func (p *Plan) suffix() any {
	if p.MaxLast == 0 {
		return bson.A{}
	}
	return bson.D{{Key: "$slice", Value: bson.A{"$$arr", -p.MaxLast}}}
}

func cursorList(cfg Config) any {
	if cfg.Cursor == "" {
		return "$$arr"
	}
	return bson.D{{Key: "$map", Value: bson.D{
		{Key: "input", Value: "$$arr"},
		{Key: "as", Value: "e"},
		{Key: "in", Value: "$$e." + cfg.Cursor},
	}}}
}

// scan finds the first index of every bounded cursor in one pass:
// {i: <position>, found: [<index or -1>...]}.
func (p *Plan) scan() bson.D {
	cursors := p.cursors()
	initial := make(bson.A, len(cursors))
	for i := range initial {
		initial[i] = -1
	}
	prev := bson.D{{Key: "$arrayElemAt", Value: bson.A{"$$value.found", "$$k"}}}
	return bson.D{{Key: "$reduce", Value: bson.D{
		{Key: "input", Value: "$$cursors"},
		{Key: "initialValue", Value: bson.D{{Key: "i", Value: 0}, {Key: "found", Value: initial}}},
		{Key: "in", Value: bson.D{
			{Key: "i", Value: bson.D{{Key: "$add", Value: bson.A{"$$value.i", 1}}}},
			{Key: "found", Value: bson.D{{Key: "$map", Value: bson.D{
				{Key: "input", Value: bson.D{{Key: "$range", Value: bson.A{0, len(cursors)}}}},
				{Key: "as", Value: "k"},
				{Key: "in", Value: bson.D{{Key: "$cond", Value: bson.A{
					bson.D{{Key: "$and", Value: bson.A{
						bson.D{{Key: "$eq", Value: bson.A{prev, -1}}},
						bson.D{{Key: "$eq", Value: bson.A{"$$this", bson.D{{Key: "$arrayElemAt", Value: bson.A{
							bson.D{{Key: "$literal", Value: bson.A(cursors)}}, "$$k",
						}}}}}},
					}}},
					"$$value.i",
					prev,
				}}}},
			}}}},
		}},
	}}}
}

// index is the expression for the position of bounded cursor i, -1 when absent.
func (p *Plan) index(i int, cfg Config) any {
	if !cfg.Consecutive {
		return bson.D{{Key: "$arrayElemAt", Value: bson.A{"$$scan.found", i}}}
	}
	cursor := p.cursors()[i]
	return let(
		bson.D{{Key: "d", Value: bson.D{{Key: "$subtract", Value: bson.A{
			bson.D{{Key: "$literal", Value: cursor}},
			bson.D{{Key: "$arrayElemAt", Value: bson.A{"$$cursors", 0}}},
		}}}}},
		bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$and", Value: bson.A{
				bson.D{{Key: "$gte", Value: bson.A{"$$d", 0}}},
				bson.D{{Key: "$lt", Value: bson.A{"$$d", bson.D{{Key: "$size", Value: "$$cursors"}}}}},
			}}},
			"$$d",
			-1,
		}}},
	)
}

func forwardSlice(index any, first int) bson.D {
	var n any = bson.D{{Key: "$max", Value: bson.A{1, bson.D{{Key: "$size", Value: "$$arr"}}}}}
	if first > 0 {
		n = first
	}
	return let(bson.D{{Key: "i", Value: index}}, bson.D{{Key: "$cond", Value: bson.A{
		bson.D{{Key: "$eq", Value: bson.A{"$$i", -1}}},
		bson.A{},
		bson.D{{Key: "$slice", Value: bson.A{"$$arr", bson.D{{Key: "$add", Value: bson.A{"$$i", 1}}}, n}}},
	}}})
}

func backwardSlice(index any, last int) bson.D {
	var start any = 0
	if last > 0 {
		start = bson.D{{Key: "$max", Value: bson.A{0, bson.D{{Key: "$subtract", Value: bson.A{"$$i", last}}}}}}
	}
	return let(bson.D{{Key: "i", Value: index}}, bson.D{{Key: "$cond", Value: bson.A{
		bson.D{{Key: "$lte", Value: bson.A{"$$i", 0}}},
		bson.A{},
		let(bson.D{{Key: "s", Value: start}}, bson.D{{Key: "$slice", Value: bson.A{
			"$$arr", "$$s", bson.D{{Key: "$subtract", Value: bson.A{"$$i", "$$s"}}},
		}}}),
	}}})
}
