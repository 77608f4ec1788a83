package worker

import (
	"time"
)

// Config holds worker configuration
type Config struct {
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
	Backoff         Backoff
}

// Option is a function that modifies worker configuration
type Option func(*Config)

// defaultConfig returns default configuration
func defaultConfig() *Config {
	return &Config{
		PollInterval:    250 * time.Millisecond,
		ShutdownTimeout: 30 * time.Second,
		Backoff:         DefaultBackoff(),
	}
}

// WithPollInterval sets the idle wait between dequeue attempts
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PollInterval = d
	}
}

// WithShutdownTimeout sets how long Stop waits for in-flight jobs to drain
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ShutdownTimeout = d
	}
}

// WithBackoff sets the retry-delay policy
func WithBackoff(b Backoff) Option {
	return func(c *Config) {
		c.Backoff = b
	}
}
