// Package config holds every configuration struct recognized by the
// engine (spec.md §6), loadable from YAML, with environment-variable
// overrides for the adaptive router and the fallback whitelist.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/txnvm/core/pkg/txnerr"
)

// AutoGcConfig configures the GcWorker's background trigger.
type AutoGcConfig struct {
	IntervalSecs     uint64 `yaml:"interval_secs"`
	VersionThreshold uint64 `yaml:"version_threshold"`
	RunOnStart       bool   `yaml:"run_on_start"`
	EnableAdaptive   bool   `yaml:"enable_adaptive"`
	// CronExpr, when non-empty, takes precedence over IntervalSecs.
	CronExpr string `yaml:"cron_expr"`
}

// GcConfig configures one GcWorker cycle's pruning behavior.
type GcConfig struct {
	MaxVersionsPerKey int           `yaml:"max_versions_per_key"`
	EnableTimeBasedGC bool          `yaml:"enable_time_based_gc"`
	VersionTTLSecs    uint64        `yaml:"version_ttl_secs"`
	AutoGC            *AutoGcConfig `yaml:"auto_gc"`
}

// DefaultGcConfig matches the spec's defaults: no cap, GC disabled until
// configured, auto-GC off.
func DefaultGcConfig() GcConfig {
	return GcConfig{MaxVersionsPerKey: 0, EnableTimeBasedGC: false}
}

// AutoFlushConfig configures the AutoFlushWorker's background trigger.
type AutoFlushConfig struct {
	IntervalSecs       uint64 `yaml:"interval_secs"`
	BlocksPerFlush     uint64 `yaml:"blocks_per_flush"`
	KeepRecentVersions int    `yaml:"keep_recent_versions"`
	FlushOnStart       bool   `yaml:"flush_on_start"`
	CronExpr           string `yaml:"cron_expr"`
}

// DefaultAutoFlushConfig matches the spec's default of keeping the 2 most
// recent versions per key.
func DefaultAutoFlushConfig() AutoFlushConfig {
	return AutoFlushConfig{KeepRecentVersions: 2}
}

// OptimizedSchedulerConfig configures OptimizedMvccScheduler (spec.md §6).
type OptimizedSchedulerConfig struct {
	EnableBloomFilter        bool     `yaml:"enable_bloom_filter"`
	UseKeyIndexGrouping      bool     `yaml:"use_key_index_grouping"`
	EnableBatchCommit        bool     `yaml:"enable_batch_commit"`
	MinBatchSize             int      `yaml:"min_batch_size"`
	EnableOwnerSharding      bool     `yaml:"enable_owner_sharding"`
	NumShards                int      `yaml:"num_shards"`
	EnableHotKeyIsolation    bool     `yaml:"enable_hot_key_isolation"`
	HotKeyThreshold          uint64   `yaml:"hot_key_threshold"`
	EnableHotKeyBucketing    bool     `yaml:"enable_hot_key_bucketing"`
	EnableLFUTracking        bool     `yaml:"enable_lfu_tracking"`
	LFUHotKeyThresholdMedium uint64   `yaml:"lfu_hot_key_threshold_medium"`
	LFUHotKeyThresholdHigh   uint64   `yaml:"lfu_hot_key_threshold_high"`
	LFUDecayPeriod           uint64   `yaml:"lfu_decay_period"`
	LFUDecayFactor           float64  `yaml:"lfu_decay_factor"`
	DensityFallbackThreshold float64  `yaml:"density_fallback_threshold"`
	MaxRetries               uint32   `yaml:"max_retries"`
	MvccConfig               GcConfig `yaml:"mvcc_config"`
	EnableAutoTuning          bool     `yaml:"enable_auto_tuning"`
}

// DefaultOptimizedSchedulerConfig matches the spec's stated defaults.
func DefaultOptimizedSchedulerConfig() OptimizedSchedulerConfig {
	return OptimizedSchedulerConfig{
		NumShards:                8,
		DensityFallbackThreshold: 0.50,
		MaxRetries:               5,
		MvccConfig:               DefaultGcConfig(),
	}
}

func (c OptimizedSchedulerConfig) Validate() error {
	if c.NumShards < 0 {
		return fmt.Errorf("%w: num_shards must be non-negative", txnerr.ErrConfiguration)
	}
	if c.DensityFallbackThreshold < 0 || c.DensityFallbackThreshold > 1 {
		return fmt.Errorf("%w: density_fallback_threshold must be in [0,1]", txnerr.ErrConfiguration)
	}
	return nil
}

// AdaptiveRouterConfig configures PathRouter's optional adaptive
// fast-ratio tuning (spec.md §4.5). Names and defaults are carried over
// from original_source/src/vm-runtime/src/adaptive_router.rs.
type AdaptiveRouterConfig struct {
	InitialFastRatio float64 `yaml:"initial_fast_ratio"`
	MinRatio         float64 `yaml:"min_ratio"`
	MaxRatio         float64 `yaml:"max_ratio"`
	StepUp           float64 `yaml:"step_up"`
	StepDown         float64 `yaml:"step_down"`
	ConflictLow      float64 `yaml:"conflict_low"`
	ConflictHigh     float64 `yaml:"conflict_high"`
	SuccessLow       float64 `yaml:"success_low"`
	UpdateEvery      uint64  `yaml:"update_every"`
}

// DefaultAdaptiveRouterConfig matches spec.md §4.5's stated defaults.
func DefaultAdaptiveRouterConfig() AdaptiveRouterConfig {
	return AdaptiveRouterConfig{
		InitialFastRatio: 0.5,
		MinRatio:         0.10,
		MaxRatio:         0.90,
		StepUp:           0.05,
		StepDown:         0.05,
		ConflictLow:      0.05,
		ConflictHigh:     0.25,
		SuccessLow:       0.80,
		UpdateEvery:      100,
	}
}

// FromEnv overlays environment-variable overrides onto c, recognizing
// exactly the SUPERVM_ADAPTIVE_* variable family. Unset variables leave
// the existing field untouched. Call LoadDotEnv first to populate the
// process environment from a .env file, if desired.
func (c AdaptiveRouterConfig) FromEnv() (AdaptiveRouterConfig, error) {
	var err error
	c.InitialFastRatio, err = overrideFloat(err, "SUPERVM_ADAPTIVE_INIT", c.InitialFastRatio)
	c.MinRatio, err = overrideFloat(err, "SUPERVM_ADAPTIVE_MIN", c.MinRatio)
	c.MaxRatio, err = overrideFloat(err, "SUPERVM_ADAPTIVE_MAX", c.MaxRatio)
	c.StepUp, err = overrideFloat(err, "SUPERVM_ADAPTIVE_STEP_UP", c.StepUp)
	c.StepDown, err = overrideFloat(err, "SUPERVM_ADAPTIVE_STEP_DOWN", c.StepDown)
	c.ConflictLow, err = overrideFloat(err, "SUPERVM_ADAPTIVE_CONFLICT_LOW", c.ConflictLow)
	c.ConflictHigh, err = overrideFloat(err, "SUPERVM_ADAPTIVE_CONFLICT_HIGH", c.ConflictHigh)
	c.SuccessLow, err = overrideFloat(err, "SUPERVM_ADAPTIVE_SUCCESS_LOW", c.SuccessLow)
	if err != nil {
		return c, err
	}

	if v, ok := os.LookupEnv("SUPERVM_ADAPTIVE_UPDATE_EVERY"); ok {
		n, perr := strconv.ParseUint(v, 10, 64)
		if perr != nil {
			return c, fmt.Errorf("%w: SUPERVM_ADAPTIVE_UPDATE_EVERY: %v", txnerr.ErrConfiguration, perr)
		}
		c.UpdateEvery = n
	}
	return c, nil
}

func overrideFloat(prevErr error, name string, current float64) (float64, error) {
	if prevErr != nil {
		return current, prevErr
	}
	v, ok := os.LookupEnv(name)
	if !ok {
		return current, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return current, fmt.Errorf("%w: %s: %v", txnerr.ErrConfiguration, name, err)
	}
	return f, nil
}

// FacadeConfig configures VmFacade.
type FacadeConfig struct {
	EnableFallback     bool     `yaml:"enable_fallback"`
	FallbackWhitelist  []string `yaml:"fallback_whitelist"`
	PrivacyBatchSize   int      `yaml:"privacy_batch_size"`
	PrivacyMaxBatchAgeMS int64  `yaml:"privacy_max_batch_age_ms"`
}

// DefaultFacadeConfig provides sane defaults for the facade's batching.
func DefaultFacadeConfig() FacadeConfig {
	return FacadeConfig{
		EnableFallback:       true,
		PrivacyBatchSize:     16,
		PrivacyMaxBatchAgeMS: 50,
	}
}

// FromEnv overlays SUPERVM_FALLBACK_WHITELIST (comma-separated substrings)
// onto c's whitelist, replacing it entirely when set.
func (c FacadeConfig) FromEnv() FacadeConfig {
	if v, ok := os.LookupEnv("SUPERVM_FALLBACK_WHITELIST"); ok {
		parts := strings.Split(v, ",")
		list := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				list = append(list, p)
			}
		}
		c.FallbackWhitelist = list
	}
	return c
}

// LoadDotEnv loads path (a .env-style file) into the process environment,
// ignoring a missing file — overrides are opt-in, not required.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%w: loading %s: %v", txnerr.ErrConfiguration, path, err)
	}
	return nil
}

// LoadYAML decodes a YAML document from path into v.
func LoadYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", txnerr.ErrConfiguration, path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: parsing %s: %v", txnerr.ErrConfiguration, path, err)
	}
	return nil
}
