package seisgo

import (
	"log/slog"

	"github.com/hupe1980/seisgo/resource"
)

type options struct {
	metricsCollector  MetricsCollector
	logger            *Logger
	cacheCapacity     int
	cacheCopyOnReturn bool
	controller        *resource.Controller
}

// Option configures Cube open behavior.
//
// Today options primarily exist to avoid exploding the API surface
// (e.g. backend-specific constructor variants).
type Option func(*options)

// WithCacheCapacity bounds the number of slides held in the cube's
// slide cache. The default is 128 entries.
//
// Slide caching is what makes small-extent crops cheap: a crop thinner
// than the stacking threshold is assembled from cached cross-sections
// instead of gathering traces. Capacity 0 disables storage entirely.
func WithCacheCapacity(capacity int) Option {
	return func(o *options) {
		o.cacheCapacity = capacity
	}
}

// WithCacheCopyOnReturn makes cached slide loads return defensive
// copies. Enable this when callers mutate returned buffers in place;
// it trades an allocation per hit for aliasing safety.
func WithCacheCopyOnReturn() Option {
	return func(o *options) {
		o.cacheCopyOnReturn = true
	}
}

// WithController attaches a resource controller that budgets cache
// memory and throttles full-volume IO passes. Multiple cubes may share
// one controller to enforce a process-wide budget.
//
// Example:
//
//	ctrl := resource.NewController(resource.Config{
//	    MemoryLimitBytes:   512 << 20,
//	    IOLimitBytesPerSec: 200 << 20,
//	})
//	cube, _ := seisgo.Open(path, seisgo.WithController(ctrl))
func WithController(c *resource.Controller) Option {
	return func(o *options) {
		o.controller = c
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &seisgo.BasicMetricsCollector{}
//	cube, _ := seisgo.Open(path, seisgo.WithMetricsCollector(metrics))
//	// ... use cube ...
//	stats := metrics.GetStats()
//	fmt.Printf("Crops: %d, Avg latency: %dns\n", stats.CropCount, stats.CropAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := seisgo.NewJSONLogger(slog.LevelInfo)
//	cube, _ := seisgo.Open(path, seisgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		cacheCapacity:    128,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
