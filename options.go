package aggtree

import "go.uber.org/zap"

const defaultActivityLogSize = 4096

// options configures an Engine: a plain struct of knobs, a package-level
// default (defaultOptions), and a set of functional-option constructors
// (Option func(*options) plus the With... helpers below).
type options[Ref comparable, Info any, Change any] struct {
	logger *zap.SugaredLogger

	bottomCache NodeCacheProvider[*bottomNode[Ref, Info, Change]]
	topCache    NodeCacheProvider[*topNode[Ref, Info, Change]]

	activityEnabled bool
	activityLogSize int
}

func defaultOptions[Ref comparable, Info any, Change any]() options[Ref, Info, Change] {
	return options[Ref, Info, Change]{
		logger:          defaultLogger(),
		bottomCache:     NewMapNodeCache[*bottomNode[Ref, Info, Change]],
		topCache:        NewMapNodeCache[*topNode[Ref, Info, Change]],
		activityEnabled: false,
		activityLogSize: defaultActivityLogSize,
	}
}

// Option configures an Engine at construction time.
type Option[Ref comparable, Info any, Change any] func(o *options[Ref, Info, Change])

// WithLogger overrides the Engine's structured logger (default: a no-op
// sink, see log.go).
func WithLogger[Ref comparable, Info any, Change any](logger *zap.SugaredLogger) Option[Ref, Info, Change] {
	return func(o *options[Ref, Info, Change]) {
		o.logger = logger
	}
}

// WithNodeCacheProviders overrides the memoization backing for a Leaf's
// bottom-tree and top-tree maps. Most callers never need this; it exists
// for embedders that want to cap or instrument memoization, the same
// role swapping in a no-op cache instead of a map-backed one plays for a
// transaction-scoped radix tree.
func WithNodeCacheProviders[Ref comparable, Info any, Change any](
	bottomCache NodeCacheProvider[*bottomNode[Ref, Info, Change]],
	topCache NodeCacheProvider[*topNode[Ref, Info, Change]],
) Option[Ref, Info, Change] {
	return func(o *options[Ref, Info, Change]) {
		o.bottomCache = bottomCache
		o.topCache = topCache
	}
}

// WithActivityLog enables the bounded recent-touch trace used by tests to
// assert that a single deep mutation only touches a number of
// aggregation nodes proportional to tree depth, not tree width. size is
// the number of distinct node keys retained; <=0 uses a default.
func WithActivityLog[Ref comparable, Info any, Change any](size int) Option[Ref, Info, Change] {
	return func(o *options[Ref, Info, Change]) {
		o.activityEnabled = true
		o.activityLogSize = size
	}
}
