package event

import "go.uber.org/zap"

// BusOption configures a Bus.
type BusOption func(*busConfig)

type busConfig struct {
	logger      *zap.Logger
	concurrency int
	onError     func(name string, err error)
}

func defaultBusConfig() busConfig {
	return busConfig{
		logger: zap.NewNop(),
	}
}

// WithLogger sets the logger used for isolated listener failures.
func WithLogger(l *zap.Logger) BusOption {
	return func(c *busConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithConcurrency caps the number of listeners Parallel runs at once.
// Zero or less means unlimited.
func WithConcurrency(n int) BusOption {
	return func(c *busConfig) {
		c.concurrency = n
	}
}

// WithErrorHandler is called for every listener failure the bus
// swallows, after it has been logged.
func WithErrorHandler(fn func(name string, err error)) BusOption {
	return func(c *busConfig) {
		c.onError = fn
	}
}
