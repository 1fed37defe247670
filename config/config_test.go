package config

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Security.Key = strings.Repeat("ab", KeySize)
	cfg.Paths.AllowedPaths = []string{"/srv/netcopy"}
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateBounds(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"port zero", func(c *Config) { c.Network.Port = 0 }, ErrInvalidPort},
		{"port too high", func(c *Config) { c.Network.Port = 70000 }, ErrInvalidPort},
		{"no connections", func(c *Config) { c.Network.MaxConnections = 0 }, ErrInvalidMaxConnections},
		{"no timeout", func(c *Config) { c.Network.TimeoutSeconds = 0 }, ErrInvalidTimeout},
		{"missing key", func(c *Config) { c.Security.Key = "" }, ErrInvalidKey},
		{"short key", func(c *Config) { c.Security.Key = "abcd" }, ErrInvalidKey},
		{"non-hex key", func(c *Config) { c.Security.Key = strings.Repeat("zz", KeySize) }, ErrInvalidKey},
		{"buffer too small", func(c *Config) { c.Performance.BufferSize = 16 }, ErrInvalidBufferSize},
		{"buffer too large", func(c *Config) { c.Performance.BufferSize = 1 << 24 }, ErrInvalidBufferSize},
		{"bandwidth zero", func(c *Config) { c.Performance.MaxBandwidthPercent = 0 }, ErrInvalidBandwidthPercent},
		{"bandwidth over 100", func(c *Config) { c.Performance.MaxBandwidthPercent = 101 }, ErrInvalidBandwidthPercent},
		{"pool zero", func(c *Config) { c.Performance.ThreadPoolSize = 0 }, ErrInvalidPoolSize},
		{"no paths", func(c *Config) { c.Paths.AllowedPaths = nil }, ErrNoAllowedPaths},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateRejectsRelativePath(t *testing.T) {
	cfg := validConfig()
	cfg.Paths.AllowedPaths = []string{"relative/dir"}
	require.Error(t, cfg.Validate())
}

func TestPresharedKeyRoundTrip(t *testing.T) {
	cfg := validConfig()
	key, err := cfg.PresharedKey()
	require.NoError(t, err)
	assert.Equal(t, cfg.Security.Key, hex.EncodeToString(key[:]))
}

func TestBandwidthLimit(t *testing.T) {
	cfg := validConfig()
	cfg.Performance.LinkCapacity = 1000
	cfg.Performance.MaxBandwidthPercent = 40
	assert.Equal(t, int64(400), cfg.BandwidthLimit())

	cfg.Performance.LinkCapacity = 0
	cfg.Performance.MaxBandwidthPercent = 100
	assert.Equal(t, int64(DefaultLinkCapacity), cfg.BandwidthLimit())
}
