package collector

import (
	"errors"
	"fmt"
	"time"
)

// DefaultLimit is used when Options.Limit is left at zero.
const DefaultLimit = 1

var (
	// ErrInvalidConfig is wrapped by every configuration error.
	ErrInvalidConfig = errors.New("collector: invalid config")
	// ErrInvalidLimit is returned for a negative limit.
	ErrInvalidLimit = fmt.Errorf("%w: limit must be >= 1", ErrInvalidConfig)
	// ErrInvalidTimeout is returned for a negative timeout.
	ErrInvalidTimeout = fmt.Errorf("%w: timeout must be >= 0", ErrInvalidConfig)
	// ErrNilSource is returned when no event source is given.
	ErrNilSource = errors.New("collector: event source is required")
)

// Options is the caller-facing input for a collector. A zero Limit means
// DefaultLimit.
type Options struct {
	Limit   int           `yaml:"limit" json:"limit"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Config is the validated, immutable form of Options.
type Config struct {
	limit   int
	timeout time.Duration
}

// NewConfig validates opts and applies defaults. opts is taken by value and
// never modified.
func NewConfig(opts Options) (Config, error) {
	limit := opts.Limit
	switch {
	case limit == 0:
		limit = DefaultLimit
	case limit < 0:
		return Config{}, fmt.Errorf("%w (got %d)", ErrInvalidLimit, opts.Limit)
	}
	if opts.Timeout < 0 {
		return Config{}, fmt.Errorf("%w (got %s)", ErrInvalidTimeout, opts.Timeout)
	}
	return Config{limit: limit, timeout: opts.Timeout}, nil
}

// Limit is the number of messages that completes the collection.
func (c Config) Limit() int { return c.limit }

// Timeout is the deadline measured from construction.
func (c Config) Timeout() time.Duration { return c.timeout }

// Options converts the config back to its input form.
func (c Config) Options() Options {
	return Options{Limit: c.limit, Timeout: c.timeout}
}
