package loader

import (
	"context"

	"github.com/hanpama/notegraph/internal/query"
)

// Primed is a value one loader hands to another.
type Primed[ID any] struct {
	ID    ID
	Query query.Node // nil infers the query from Value
	Value any
}

// Bridge primes dst with the values extract finds in the Loaded events of
// src. Cycles between bridged loaders end at the loader already publishing
// the key. The returned function removes the bridge.
func Bridge[S, D any](src *Loader[S], dst *Loader[D], extract func(Loaded[S]) []Primed[D]) (unsubscribe func()) {
	return src.Loaded().Subscribe(func(ctx context.Context, ev Loaded[S]) {
		if ev.Version != LoadedVersion {
			return
		}
		for _, p := range extract(ev) {
			var opts []PrimeOption
			if p.Query != nil {
				opts = append(opts, PrimeQuery(p.Query))
			}
			if err := dst.Prime(ctx, p.ID, p.Value, opts...); err != nil {
				dst.opts.logger.WarnContext(ctx, "bridge prime failed",
					"from", src.name, "to", dst.name, "error", err)
			}
		}
	})
}
