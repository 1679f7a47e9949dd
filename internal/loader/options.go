package loader

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hanpama/notegraph/internal/description"
	"github.com/hanpama/notegraph/internal/query"
)

// Option configures a Loader.
type Option func(*options)

type options struct {
	group          any // func(ID) string
	desc           *description.Description
	validator      Validator
	anchors        []string
	cacheSize      int
	metricsReg     prometheus.Registerer
	logger         *slog.Logger
	wait           time.Duration
	maxBatch       int
	maxConcurrency int
}

func defaultOptions() options {
	return options{
		logger:         slog.Default(),
		maxConcurrency: 8,
	}
}

// WithGroup derives the batch group of an id. Ids of different groups are
// never batched together. By default every id shares one group.
func WithGroup[ID any](fn func(ID) string) Option {
	return func(o *options) { o.group = fn }
}

// WithDescription sets the description whose MapAggregateResult hooks are
// applied when results are demultiplexed.
func WithDescription(d *description.Description) Option {
	return func(o *options) { o.desc = d }
}

// WithValidator enables lazy validation of cached values.
func WithValidator(v Validator) Option {
	return func(o *options) { o.validator = v }
}

// WithAnchors lists fields added to every element of a split list leaf so
// cached elements keep their identity. Anchors are pruned from results
// that did not ask for them.
func WithAnchors(fields ...string) Option {
	return func(o *options) { o.anchors = append(o.anchors, fields...) }
}

// WithCacheSize bounds the leaf cache to n entries with LRU eviction.
// Zero keeps every entry.
func WithCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.cacheSize = n
		}
	}
}

// WithCacheMetrics exports leaf cache statistics to reg, labelled with the
// loader name.
func WithCacheMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.metricsReg = reg
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithWait closes each batch d after its first key was added instead of
// at the first Get.
func WithWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.wait = d
		}
	}
}

// WithMaxBatch dispatches a batch as soon as it holds n keys.
func WithMaxBatch(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBatch = n
		}
	}
}

// WithMaxConcurrency limits how many batches a flush runs at once.
func WithMaxConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrency = n
		}
	}
}

// LoadOption configures one Load call.
type LoadOption func(*loadOptions)

type loadOptions struct {
	session any
}

// WithSession scopes a load to a database session. Loads of different
// sessions never share a batch, and a session load drops its keys from the
// cache before reading. A session that is not comparable fails the load
// with ErrSession.
func WithSession(s any) LoadOption {
	return func(o *loadOptions) { o.session = s }
}

// PrimeOption configures one Prime call.
type PrimeOption func(*primeOptions)

type primeOptions struct {
	query     query.Node
	clear     bool
	validated bool
}

// PrimeQuery primes the leaves of q instead of the shape inferred from the
// value.
func PrimeQuery(q query.Node) PrimeOption {
	return func(o *primeOptions) { o.query = q }
}

// ClearCache replaces leaves that are already cached.
func ClearCache() PrimeOption {
	return func(o *primeOptions) { o.clear = true }
}

// Validated marks the primed value as already validated. It is converted
// back to its raw form with the loader's validator.
func Validated() PrimeOption {
	return func(o *primeOptions) { o.validated = true }
}
