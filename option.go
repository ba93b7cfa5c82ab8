package tangle

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/viant/tangle/queue"
	"github.com/viant/tangle/segment"
)

// DefaultMaxBatch bounds the number of entries a single batch may carry.
const DefaultMaxBatch = 256

type options struct {
	name            string
	viewCacheSize   int
	indexQuantum    int64
	dataQuantum     int64
	initialCapacity int64
	idleTimeout     time.Duration
	maxBatch        int
	ownSource       bool
	logger          *logrus.Logger
}

// Option mutates tangle configuration.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		name:            "tangle",
		viewCacheSize:   0, // segment default
		indexQuantum:    segment.IndexGrowthQuantum,
		dataQuantum:     segment.DefaultGrowthQuantum,
		initialCapacity: segment.DefaultInitialCapacity,
		idleTimeout:     queue.DefaultIdleTimeout,
		maxBatch:        DefaultMaxBatch,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.New()
		o.logger.SetOutput(io.Discard)
	}
	return o
}

// WithName sets the stream name prefix used by Open.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithViewCacheSize bounds the number of cached mmap views per segment.
func WithViewCacheSize(size int) Option {
	return func(o *options) { o.viewCacheSize = size }
}

// WithIndexGrowthQuantum sets the index segment growth step.
func WithIndexGrowthQuantum(quantum int64) Option {
	return func(o *options) { o.indexQuantum = quantum }
}

// WithDataGrowthQuantum sets the key and data segment growth step.
func WithDataGrowthQuantum(quantum int64) Option {
	return func(o *options) { o.dataQuantum = quantum }
}

// WithInitialCapacity sets the physical size of freshly created segments.
func WithInitialCapacity(capacity int64) Option {
	return func(o *options) { o.initialCapacity = capacity }
}

// WithIdleTimeout sets how long the worker lingers before flushing caches and
// exiting.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(o *options) { o.idleTimeout = timeout }
}

// WithMaxBatch bounds the entry count accepted by SetBatch.
func WithMaxBatch(max int) Option {
	return func(o *options) { o.maxBatch = max }
}

// WithOwnedSource makes the tangle close its source on Close.
func WithOwnedSource(owned bool) Option {
	return func(o *options) { o.ownSource = owned }
}

// WithLogger injects a logger for engine events.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) { o.logger = logger }
}
