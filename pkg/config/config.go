// Package config loads and validates the verification framework's
// top-level configuration: the ambient logging settings plus the
// tunable knobs for every collaborator the orchestrator wires together
// (routing thresholds, comparator tolerances, metrics window,
// divergence store capacity/persistence, shadow backpressure, contract
// enforcement, and the emergency kill switch).
//
// Shaped after a nested-struct-per-subsystem Config with DefaultConfig,
// YAML Load/Save via os.ExpandEnv, and Validate, generalized from
// chaos-scenario settings (Kurtosis, Docker, EVM RPC endpoints) to the
// verification core's own collaborators.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jihwankim/vesper-verify/pkg/comparator"
	"github.com/jihwankim/vesper-verify/pkg/divergence"
	"github.com/jihwankim/vesper-verify/pkg/metrics"
	"github.com/jihwankim/vesper-verify/pkg/routing"
	"github.com/jihwankim/vesper-verify/pkg/shadow"
)

// Config is the full verification framework configuration.
type Config struct {
	Framework  FrameworkConfig  `yaml:"framework"`
	Routing    RoutingConfig    `yaml:"routing"`
	Comparator ComparatorConfig `yaml:"comparator"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Divergence DivergenceConfig `yaml:"divergence"`
	Shadow     ShadowConfig     `yaml:"shadow"`
	Contract   ContractConfig   `yaml:"contract"`
	Emergency  EmergencyConfig  `yaml:"emergency"`
}

// FrameworkConfig contains general framework settings.
type FrameworkConfig struct {
	Version   string `yaml:"version"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// RoutingConfig mirrors pkg/routing.Config plus the node override map
// spec.md §3 and §6 document as part of the routing configuration.
type RoutingConfig struct {
	CanaryThreshold      float64           `yaml:"canary_threshold"`
	DualVerifyThreshold  float64           `yaml:"dual_verify_threshold"`
	DirectOnlyThreshold  float64           `yaml:"direct_only_threshold"`
	CanaryPercentage     float64           `yaml:"canary_percentage"`
	DirectOnlySampleRate float64           `yaml:"direct_only_sample_rate"`
	ShadowModeEnabled    bool              `yaml:"shadow_mode_enabled"`
	NodeOverrides        map[string]string `yaml:"node_overrides"`
}

// ToRouterConfig converts RoutingConfig into the Config pkg/routing.Router
// expects; node overrides are applied separately via Router.SetNodeOverride
// since they are not part of routing.Config itself.
func (r RoutingConfig) ToRouterConfig() routing.Config {
	return routing.Config{
		CanaryThreshold:      r.CanaryThreshold,
		DualVerifyThreshold:  r.DualVerifyThreshold,
		DirectOnlyThreshold:  r.DirectOnlyThreshold,
		CanaryPercentage:     r.CanaryPercentage,
		DirectOnlySampleRate: r.DirectOnlySampleRate,
		ShadowModeEnabled:    r.ShadowModeEnabled,
	}
}

// ApplyOverrides registers every configured node override onto router.
func (r RoutingConfig) ApplyOverrides(router *routing.Router) {
	for nodeID, mode := range r.NodeOverrides {
		router.SetNodeOverride(nodeID, routing.Mode(mode))
	}
}

// ComparatorConfig mirrors pkg/comparator.Config.
type ComparatorConfig struct {
	Epsilon              float64 `yaml:"epsilon"`
	TimestampToleranceMs float64 `yaml:"timestamp_tolerance_ms"`
}

func (c ComparatorConfig) ToComparatorConfig() comparator.Config {
	return comparator.Config{Epsilon: c.Epsilon, TimestampToleranceMs: c.TimestampToleranceMs}
}

// MetricsConfig controls the Metrics Aggregator's rolling sample window.
type MetricsConfig struct {
	MaxSamplesPerNode int `yaml:"max_samples_per_node"`
}

// DivergenceConfig controls the Divergence Store's capacity and
// optional durability path.
type DivergenceConfig struct {
	MaxRecordsPerNode int    `yaml:"max_records_per_node"`
	SnapshotPath      string `yaml:"snapshot_path"`
}

// ShadowConfig controls the Shadow Executor's backpressure bound.
type ShadowConfig struct {
	MaxInFlight int `yaml:"max_in_flight"`
}

// ContractConfig gates whether precondition/postcondition enforcement
// is active at all, per spec.md §7: contract violations "surface only
// when contract checking is enabled; otherwise silent."
type ContractConfig struct {
	Enabled bool `yaml:"enabled"`
}

// EmergencyConfig contains the kill-switch settings for pkg/emergency.
type EmergencyConfig struct {
	StopFile             string        `yaml:"stop_file"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	EnableSignalHandlers bool          `yaml:"enable_signal_handlers"`
}

// DefaultConfig returns a configuration matching spec.md §3's literal
// defaults for every tunable the document names.
func DefaultConfig() *Config {
	return &Config{
		Framework: FrameworkConfig{
			Version:   "v1",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Routing: RoutingConfig{
			CanaryThreshold:      0.95,
			DualVerifyThreshold:  0.999,
			DirectOnlyThreshold:  0.9999,
			CanaryPercentage:     0.05,
			DirectOnlySampleRate: 0.01,
			ShadowModeEnabled:    true,
		},
		Comparator: ComparatorConfig{
			Epsilon:              1e-9,
			TimestampToleranceMs: 1000,
		},
		Metrics: MetricsConfig{
			MaxSamplesPerNode: metrics.DefaultMaxSamples,
		},
		Divergence: DivergenceConfig{
			MaxRecordsPerNode: divergence.DefaultCapacity,
		},
		Shadow: ShadowConfig{
			MaxInFlight: shadow.DefaultMaxInFlight,
		},
		Contract: ContractConfig{
			Enabled: false,
		},
		Emergency: EmergencyConfig{
			StopFile:             "/tmp/vesper-emergency-stop",
			PollInterval:         1 * time.Second,
			EnableSignalHandlers: true,
		},
	}
}

// Load loads configuration from a YAML file, starting from
// DefaultConfig and overlaying whatever the file sets. A missing path
// falls back to the built-in defaults rather than erroring: config is
// optional.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = "vesper.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content, e.g.
	// "snapshot_path: ${VESPER_STATE_DIR}/divergences.json".
	expanded := []byte(os.ExpandEnv(string(data)))

	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	if c.Routing.CanaryThreshold <= 0 || c.Routing.CanaryThreshold >= 1 {
		return fmt.Errorf("routing.canary_threshold must be in (0, 1)")
	}
	if c.Routing.DualVerifyThreshold <= c.Routing.CanaryThreshold {
		return fmt.Errorf("routing.dual_verify_threshold must exceed canary_threshold")
	}
	if c.Routing.DirectOnlyThreshold <= c.Routing.DualVerifyThreshold {
		return fmt.Errorf("routing.direct_only_threshold must exceed dual_verify_threshold")
	}
	if c.Routing.CanaryPercentage < 0 || c.Routing.CanaryPercentage > 1 {
		return fmt.Errorf("routing.canary_percentage must be in [0, 1]")
	}
	if c.Routing.DirectOnlySampleRate < 0 || c.Routing.DirectOnlySampleRate > 1 {
		return fmt.Errorf("routing.direct_only_sample_rate must be in [0, 1]")
	}
	if c.Comparator.Epsilon <= 0 {
		return fmt.Errorf("comparator.epsilon must be positive")
	}
	if c.Metrics.MaxSamplesPerNode < 1 {
		return fmt.Errorf("metrics.max_samples_per_node must be at least 1")
	}
	if c.Divergence.MaxRecordsPerNode < 1 {
		return fmt.Errorf("divergence.max_records_per_node must be at least 1")
	}
	if c.Shadow.MaxInFlight < 1 {
		return fmt.Errorf("shadow.max_in_flight must be at least 1")
	}
	return nil
}
