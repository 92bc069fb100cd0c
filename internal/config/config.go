// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	Pool      PoolConfig      `yaml:"pool"`
	Risk      RiskConfig      `yaml:"risk"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Storage   StorageConfig   `yaml:"storage"`
}

// PoolConfig identifies which underwriting pool this engine sells against.
type PoolConfig struct {
	Address string `yaml:"address" validate:"required"`
	Network string `yaml:"network" validate:"oneof=signet mainnet"`
}

// RiskConfig carries the collateral/margin policy tunables.
type RiskConfig struct {
	CollateralRate float64 `yaml:"collateral_rate" validate:"min=0,max=1"` // fraction of pool usable, (0,1]
	RiskMargin     float64 `yaml:"risk_margin" validate:"min=1"`
	RiskFreeRate   float64 `yaml:"risk_free_rate" validate:"min=0,max=1"`
}

// UpstreamConfig addresses the three market-data sources this engine fuses.
type UpstreamConfig struct {
	AggregatorURL string `yaml:"aggregator_url" validate:"required"` // net/rpc spot aggregator, host:port
	IVAPIURL      string `yaml:"iv_api_url" validate:"required"`
	DeribitAPIURL string `yaml:"deribit_api_url"` // production IV source the IV refresher polls
	PoolAPIURL    string `yaml:"pool_api_url" validate:"required"`
}

// SystemConfig contains system settings.
type SystemConfig struct {
	LogLevel   string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	ListenAddr string `yaml:"listen_addr"`
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// StorageConfig addresses the durable contract store.
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path" validate:"required"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	if err := c.validatePool(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateRisk(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateUpstream(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSystem(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateStorage(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validatePool() error {
	if c.Pool.Address == "" {
		return ValidationError{Field: "pool.address", Message: "pool address is required"}
	}
	if c.Pool.Network != "signet" && c.Pool.Network != "mainnet" {
		return ValidationError{Field: "pool.network", Value: c.Pool.Network, Message: "must be one of: signet, mainnet"}
	}
	return nil
}

func (c *Config) validateRisk() error {
	if c.Risk.CollateralRate <= 0 || c.Risk.CollateralRate > 1 {
		return ValidationError{Field: "risk.collateral_rate", Value: c.Risk.CollateralRate, Message: "must be in (0, 1]"}
	}
	if c.Risk.RiskMargin < 1 {
		return ValidationError{Field: "risk.risk_margin", Value: c.Risk.RiskMargin, Message: "must be >= 1"}
	}
	if c.Risk.RiskFreeRate < 0 || c.Risk.RiskFreeRate > 1 {
		return ValidationError{Field: "risk.risk_free_rate", Value: c.Risk.RiskFreeRate, Message: "must be in [0, 1]"}
	}
	return nil
}

func (c *Config) validateUpstream() error {
	if c.Upstream.AggregatorURL == "" {
		return ValidationError{Field: "upstream.aggregator_url", Message: "spot aggregator address is required"}
	}
	if c.Upstream.IVAPIURL == "" {
		return ValidationError{Field: "upstream.iv_api_url", Message: "IV API URL is required"}
	}
	if c.Upstream.PoolAPIURL == "" {
		return ValidationError{Field: "upstream.pool_api_url", Message: "pool API URL is required"}
	}
	return nil
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{Field: "system.log_level", Value: c.System.LogLevel, Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", "))}
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.SQLitePath == "" {
		return ValidationError{Field: "storage.sqlite_path", Message: "sqlite path is required"}
	}
	return nil
}

// String returns the configuration rendered as YAML. No field is masked.
func (c *Config) String() string {
	configCopy := *c
	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns the documented default configuration, overridden by
// LoadConfig via YAML + environment-variable expansion.
func DefaultConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			Network: "signet",
		},
		Risk: RiskConfig{
			CollateralRate: 0.5,
			RiskMargin:     1.2,
			RiskFreeRate:   0.05,
		},
		Upstream: UpstreamConfig{
			AggregatorURL: "localhost:50051",
			IVAPIURL:      "http://localhost:8081",
			DeribitAPIURL: "https://www.deribit.com/api/v2/public",
			PoolAPIURL:    "http://localhost:8082",
		},
		System: SystemConfig{
			LogLevel:   "INFO",
			ListenAddr: ":8080",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
		Storage: StorageConfig{
			SQLitePath: "options-engine.db",
		},
	}
}
