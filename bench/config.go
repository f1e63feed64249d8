package bench

import (
	"strconv"

	"github.com/unixpickle/collbench/payload"
)

// GiB is 2^30 bytes, the unit behind every "GB" printed by
// the benchmark.
const GiB = 1 << 30

// Defaults match the sweep the benchmark was tuned for:
// 4 bytes to 16 GiB, with room for 8 Gi elements.
const (
	DefaultMinPacketBytes = 4
	DefaultMaxPacketBytes = 16 * GiB
	DefaultMaxElements    = 8 * GiB
	DefaultWarmup         = 10
	DefaultIterations     = 50
)

// Config holds the settings for a benchmark run.
//
// It is built once at startup and handed to NewRunner.
type Config struct {
	// PacketSizes is an optional comma-separated list of
	// byte sizes. When set, MinPacketBytes and
	// MaxPacketBytes are ignored.
	PacketSizes    string
	MinPacketBytes int64
	MaxPacketBytes int64

	// MaxElements is the minimum payload capacity. The
	// payload grows beyond it if the plan needs more.
	MaxElements int64

	Warmup     int
	Iterations int
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		MinPacketBytes: DefaultMinPacketBytes,
		MaxPacketBytes: DefaultMaxPacketBytes,
		MaxElements:    DefaultMaxElements,
		Warmup:         DefaultWarmup,
		Iterations:     DefaultIterations,
	}
}

// Plan derives the packet sizes to sweep.
func (c Config) Plan() (Plan, error) {
	return ParsePacketSizes(c.PacketSizes, c.MinPacketBytes, c.MaxPacketBytes)
}

// Validate checks the settings that do not depend on the
// plan.
func (c Config) Validate() error {
	if c.Warmup < 0 {
		return &ConfigError{Field: "warmup", Reason: "must be non-negative, got " + strconv.Itoa(c.Warmup)}
	}
	if c.Iterations < 1 {
		return &ConfigError{Field: "iterations", Reason: "must be positive, got " + strconv.Itoa(c.Iterations)}
	}
	if c.MaxElements < 0 || c.MaxElements > payload.MaxElements {
		return &ConfigError{
			Field:  "max_elements",
			Reason: "must be in [0, " + strconv.FormatInt(payload.MaxElements, 10) + "], got " + strconv.FormatInt(c.MaxElements, 10),
		}
	}
	return nil
}
