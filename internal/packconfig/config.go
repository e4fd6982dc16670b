// Package packconfig loads the pack builder's small enumerated option set
// through spf13/viper, the way the richer repos in the example corpus (e.g.
// alexander-storage's internal/config) load structured configuration rather
// than hand-parsing flags. The recognized keys are the pack.* keys Load
// sets defaults for.
package packconfig

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the pack builder's tunables. Load fills keys that no source
// sets with documented defaults, and also replaces a zero Window or
// MaxDepth with its default; other explicit zeros are kept.
type Config struct {
	// DeltaCacheSize bounds the sum of cached, possibly-compressed delta
	// buffers held in memory between delta search and pack write.
	DeltaCacheSize int64
	// DeltaCacheLimit is the "small delta" threshold below which a delta is
	// always eligible for caching regardless of the size-ratio heuristic.
	DeltaCacheLimit int64
	// WindowMemory bounds the sliding window's live uncompressed payload
	// bytes plus the estimated size of its delta indexes; 0 means unlimited.
	WindowMemory int64
	// BigFileThreshold is the size above which an object is never
	// considered as a delta target or base. Deliberately a distinct key
	// from DeltaCacheSize -- see DESIGN.md's note on the reference
	// implementation's "reads the same key twice" bug.
	BigFileThreshold int64
	// Window is the sliding window size (W); the search keeps W+1 slots
	// live so a just-evicted object can still serve as this round's base.
	Window int
	// MaxDepth is the maximum delta chain length (D).
	MaxDepth int
	// Workers is the worker count; 0 means "autodetect CPU count", 1 forces
	// serial execution.
	Workers int
}

const (
	defaultDeltaCacheSize   = 256 << 20 // 256MiB
	defaultDeltaCacheLimit  = 1000
	defaultWindowMemory     = 0 // unlimited
	defaultBigFileThreshold = 512 << 20 // 512MiB
	// DefaultWindow and DefaultMaxDepth are the compile-time constants
	// spec.md §6 calls out; the search itself uses DefaultWindow+1 slots.
	DefaultWindow   = 10
	DefaultMaxDepth = 50
)

// Load reads pack.* settings from built-in defaults, configFile (if
// non-empty), and environment variables prefixed PACKLINE_ (e.g.
// PACKLINE_PACK_DELTACACHESIZE), in increasing precedence order: env
// overrides file, file overrides defaults.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PACKLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("pack.deltacachesize", defaultDeltaCacheSize)
	v.SetDefault("pack.deltacachelimit", defaultDeltaCacheLimit)
	v.SetDefault("pack.windowmemory", defaultWindowMemory)
	v.SetDefault("pack.bigfilethreshold", defaultBigFileThreshold)
	v.SetDefault("pack.window", DefaultWindow)
	v.SetDefault("pack.maxdepth", DefaultMaxDepth)
	v.SetDefault("pack.workers", 0)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("packconfig: read %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		DeltaCacheSize:   v.GetInt64("pack.deltacachesize"),
		DeltaCacheLimit:  v.GetInt64("pack.deltacachelimit"),
		WindowMemory:     v.GetInt64("pack.windowmemory"),
		BigFileThreshold: v.GetInt64("pack.bigfilethreshold"),
		Window:           v.GetInt("pack.window"),
		MaxDepth:         v.GetInt("pack.maxdepth"),
		Workers:          v.GetInt("pack.workers"),
	}
	return cfg.validate()
}

func (c *Config) validate() (*Config, error) {
	if c.DeltaCacheSize < 0 || c.DeltaCacheLimit < 0 || c.WindowMemory < 0 ||
		c.BigFileThreshold < 0 || c.Window < 0 || c.MaxDepth < 0 || c.Workers < 0 {
		return nil, fmt.Errorf("packconfig: negative configuration value")
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	return c, nil
}
