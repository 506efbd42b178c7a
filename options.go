package darena

import (
	"log/slog"

	"github.com/hupe1980/darena/resource"
)

// DefaultBlockSize is the default leaf granularity of the buddy tree (512 B).
const DefaultBlockSize = 512

type options struct {
	blockSize        int
	name             string
	metricsCollector MetricsCollector
	logger           *Logger
	controller       *resource.Controller
}

// Option configures arena constructors.
type Option func(*options)

// WithBlockSize sets the smallest block the buddy tree hands out.
// It must be a power of two and a multiple of the Info alignment.
// Ignored by NewLinear.
func WithBlockSize(n int) Option {
	return func(o *options) {
		o.blockSize = n
	}
}

// WithName tags every log record of the arena with an "arena" field.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithMetricsCollector configures a metrics collector for alloc/free calls.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &darena.BasicMetricsCollector{}
//	a, _ := darena.New(1<<30, 1<<24, darena.DefaultInfo(), darena.WithMetricsCollector(metrics))
//	// ... use a ...
//	stats := metrics.GetStats()
//	fmt.Printf("Allocs: %d, overflow: %d\n", stats.AllocCount, stats.OverflowAllocs)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := darena.NewJSONLogger(slog.LevelInfo)
//	a, _ := darena.New(maxSize, maxBlock, darena.DefaultInfo(), darena.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
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

// WithResourceController charges every backing allocation of the arena to rc.
// Several arenas may share one controller to enforce a process-wide budget.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.controller = rc
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		blockSize:        DefaultBlockSize,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	o.logger = o.logger.WithName(o.name)
	return o
}
