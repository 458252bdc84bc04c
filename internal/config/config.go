// Package config holds the daemon configuration: defaults, the JSON file
// loader, and validation.
package config

import (
	"fmt"
	"net/netip"
)

const (
	DefaultPort         = 8000
	DefaultSeed         = 1337
	DefaultWorkers      = 4
	DefaultRingCapacity = 1000
	DefaultCriticalRisk = 95
	DefaultBlockTTLSec  = 3600
)

// Config represents the main configuration structure
type Config struct {
	DataDir string `json:"data_dir"`
	Port    int    `json:"port"`

	// Capture source selection. Live captures from Interface; otherwise the
	// seeded simulator runs.
	Live      bool   `json:"live"`
	Interface string `json:"interface,omitempty"`
	Seed      int64  `json:"seed"`

	// Storage options
	Reset    bool `json:"reset"`
	InMemory bool `json:"inmemory"`

	// LocalPrefixes marks additional CIDR ranges as internal, on top of the
	// RFC 1918 and loopback defaults.
	LocalPrefixes []string `json:"local_prefixes,omitempty"`

	Logging  *LogConfig     `json:"logging,omitempty"`
	Defense  DefenseConfig  `json:"defense"`
	ML       MLConfig       `json:"ml"`
	Analyzer AnalyzerConfig `json:"analyzer"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level"`
	EnableFile    bool   `json:"enable_file"`
	EnableConsole bool   `json:"enable_console"`
	Filename      string `json:"filename"`
	LogDir        string `json:"log_dir,omitempty"`
	MaxSize       int    `json:"max_size"`    // MB
	MaxBackups    int    `json:"max_backups"` // number of backup files
	MaxAge        int    `json:"max_age"`     // days
	Compress      bool   `json:"compress"`
	JSONFormat    bool   `json:"json_format"`
}

// DefenseConfig controls the active response layer.
type DefenseConfig struct {
	ProbeEnabled    bool `json:"probe_enabled"`
	BlockTTLSeconds int  `json:"block_ttl_seconds"`
}

// MLConfig controls the analysis engine.
type MLConfig struct {
	Enabled bool `json:"enabled"`
}

// AnalyzerConfig sizes the detection pipeline.
type AnalyzerConfig struct {
	Workers      int `json:"workers"`
	RingCapacity int `json:"ring_capacity"`
	CriticalRisk int `json:"critical_risk"`
}

// DefaultConfig returns the configuration used when no file or flags are given.
func DefaultConfig() *Config {
	return &Config{
		Port: DefaultPort,
		Seed: DefaultSeed,
		Defense: DefenseConfig{
			ProbeEnabled:    true,
			BlockTTLSeconds: DefaultBlockTTLSec,
		},
		ML: MLConfig{Enabled: true},
		Analyzer: AnalyzerConfig{
			Workers:      DefaultWorkers,
			RingCapacity: DefaultRingCapacity,
			CriticalRisk: DefaultCriticalRisk,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Live && c.Interface == "" {
		return fmt.Errorf("live capture requires an interface")
	}
	if c.Analyzer.Workers < 1 {
		return fmt.Errorf("analyzer workers must be at least 1, got %d", c.Analyzer.Workers)
	}
	if c.Analyzer.RingCapacity < 1 {
		return fmt.Errorf("alert ring capacity must be at least 1, got %d", c.Analyzer.RingCapacity)
	}
	if c.Analyzer.CriticalRisk < 0 || c.Analyzer.CriticalRisk > 100 {
		return fmt.Errorf("critical risk threshold %d out of range [0,100]", c.Analyzer.CriticalRisk)
	}
	if c.Defense.BlockTTLSeconds < 1 {
		return fmt.Errorf("block ttl must be positive, got %d", c.Defense.BlockTTLSeconds)
	}
	for _, p := range c.LocalPrefixes {
		if _, err := netip.ParsePrefix(p); err != nil {
			return fmt.Errorf("invalid local prefix %q: %w", p, err)
		}
	}
	return nil
}
