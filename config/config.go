// Package config defines the configuration schema consumed by the net-copy
// core. Parsing configuration files is the embedding process's concern; the
// core receives a populated Config and validates units and bounds before use.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sean-Khorasani/net-copy/limits"
)

// KeySize is the required pre-shared key length in bytes (256 bits).
const KeySize = 32

// DefaultLinkCapacity is the assumed link capacity in bytes per second
// when the embedding process does not measure one (1 Gbit/s).
const DefaultLinkCapacity = 125_000_000

var (
	// ErrInvalidKey indicates the pre-shared key is missing or malformed.
	ErrInvalidKey = errors.New("pre-shared key must be 64 hex characters")

	// ErrInvalidBandwidthPercent indicates max_bandwidth_percent is outside [1,100].
	ErrInvalidBandwidthPercent = errors.New("max_bandwidth_percent must be between 1 and 100")

	// ErrInvalidBufferSize indicates buffer_size is outside the supported chunk range.
	ErrInvalidBufferSize = errors.New("buffer_size outside supported range")

	// ErrNoAllowedPaths indicates the paths section lists no allowed roots.
	ErrNoAllowedPaths = errors.New("at least one allowed path is required")

	// ErrInvalidPoolSize indicates thread_pool_size is not positive.
	ErrInvalidPoolSize = errors.New("thread_pool_size must be positive")

	// ErrInvalidMaxConnections indicates max_connections is not positive.
	ErrInvalidMaxConnections = errors.New("max_connections must be positive")

	// ErrInvalidTimeout indicates timeout_seconds is not positive.
	ErrInvalidTimeout = errors.New("timeout_seconds must be positive")

	// ErrInvalidPort indicates the port is outside the valid range.
	ErrInvalidPort = errors.New("port must be between 1 and 65535")
)

// Network holds the network section of the configuration.
type Network struct {
	ListenAddress  string `json:"listen_address"`
	Port           int    `json:"port"`
	MaxConnections int    `json:"max_connections"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Security holds the security section of the configuration.
type Security struct {
	// Key is the pre-shared secret as 64 hex characters (256-bit key).
	Key         string `json:"key"`
	RequireAuth bool   `json:"require_auth"`
	MaxFileSize uint64 `json:"max_file_size"`
}

// Performance holds the performance section of the configuration.
type Performance struct {
	BufferSize          int `json:"buffer_size"`
	MaxBandwidthPercent int `json:"max_bandwidth_percent"`
	ThreadPoolSize      int `json:"thread_pool_size"`

	// LinkCapacity is the assumed link capacity in bytes per second used
	// to convert MaxBandwidthPercent into a byte rate. Zero selects
	// DefaultLinkCapacity.
	LinkCapacity int64 `json:"link_capacity"`
}

// Paths holds the paths section of the configuration.
type Paths struct {
	// AllowedPaths lists root directories transfers may read from or
	// write to. Any requested file outside these roots is rejected at
	// the metadata step.
	AllowedPaths []string `json:"allowed_paths"`
}

// Config is the complete configuration surface consumed by the core.
type Config struct {
	Network     Network     `json:"network"`
	Security    Security    `json:"security"`
	Performance Performance `json:"performance"`
	Paths       Paths       `json:"paths"`
}

// Default returns a configuration with safe defaults. The pre-shared key
// and allowed paths have no defaults and must be supplied.
func Default() *Config {
	return &Config{
		Network: Network{
			ListenAddress:  "0.0.0.0",
			Port:           9337,
			MaxConnections: 32,
			TimeoutSeconds: 30,
		},
		Security: Security{
			RequireAuth: true,
			MaxFileSize: 1 << 40, // 1 TiB
		},
		Performance: Performance{
			BufferSize:          limits.DefaultChunkSize,
			MaxBandwidthPercent: 100,
			ThreadPoolSize:      8,
			LinkCapacity:        DefaultLinkCapacity,
		},
	}
}

// Validate checks all units and bounds. It must be called before the
// configuration is handed to the core.
func (c *Config) Validate() error {
	logrus.WithFields(logrus.Fields{
		"function": "Validate",
		"package":  "config",
	}).Debug("Validating configuration")

	if c.Network.Port < 1 || c.Network.Port > 65535 {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, c.Network.Port)
	}
	if c.Network.MaxConnections < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxConnections, c.Network.MaxConnections)
	}
	if c.Network.TimeoutSeconds < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidTimeout, c.Network.TimeoutSeconds)
	}
	if _, err := c.PresharedKey(); err != nil {
		return err
	}
	if c.Performance.BufferSize < limits.MinChunkSize || c.Performance.BufferSize > limits.MaxChunkSize {
		return fmt.Errorf("%w: got %d, want [%d,%d]", ErrInvalidBufferSize,
			c.Performance.BufferSize, limits.MinChunkSize, limits.MaxChunkSize)
	}
	if c.Performance.MaxBandwidthPercent < 1 || c.Performance.MaxBandwidthPercent > 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidBandwidthPercent, c.Performance.MaxBandwidthPercent)
	}
	if c.Performance.ThreadPoolSize < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidPoolSize, c.Performance.ThreadPoolSize)
	}
	if len(c.Paths.AllowedPaths) == 0 {
		return ErrNoAllowedPaths
	}
	for _, p := range c.Paths.AllowedPaths {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("allowed path %q is not absolute", p)
		}
	}
	return nil
}

// PresharedKey decodes the hex-encoded pre-shared key from the security
// section. The raw key is returned by value so callers can wipe their copy
// independently.
func (c *Config) PresharedKey() ([KeySize]byte, error) {
	var key [KeySize]byte
	raw, err := hex.DecodeString(c.Security.Key)
	if err != nil || len(raw) != KeySize {
		return key, ErrInvalidKey
	}
	copy(key[:], raw)
	return key, nil
}

// Timeout returns the configured socket timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Network.TimeoutSeconds) * time.Second
}

// LinkCapacity returns the configured link capacity, falling back to
// DefaultLinkCapacity when unset.
func (c *Config) LinkCapacity() int64 {
	if c.Performance.LinkCapacity > 0 {
		return c.Performance.LinkCapacity
	}
	return DefaultLinkCapacity
}

// BandwidthLimit returns the byte-per-second throughput ceiling derived
// from max_bandwidth_percent and the link capacity.
func (c *Config) BandwidthLimit() int64 {
	return c.LinkCapacity() * int64(c.Performance.MaxBandwidthPercent) / 100
}
