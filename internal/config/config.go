// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AMR_RELAY_"

// Delivery modes
const (
	DeliveryDirect   = "direct"
	DeliveryTemporal = "temporal"
)

// Config represents the complete relay configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Relay     RelayConfig     `yaml:"relay"`
	Temporal  TemporalConfig  `yaml:"temporal"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds the inbound HTTP listener settings
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BackendConfig locates the AMR offboard infrastructure REST API
type BackendConfig struct {
	BaseURL      string `yaml:"base_url"`
	MissionsPath string `yaml:"missions_path"`
}

// ExecutorConfig locates the task executor that accepts completions
type ExecutorConfig struct {
	BaseURL        string `yaml:"base_url"`
	CompletionPath string `yaml:"completion_path"`
}

// DeliveryConfig controls outbound calls to the backend and executor
type DeliveryConfig struct {
	Mode           string        `yaml:"mode"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// RelayConfig bounds how long a request may hold a robot
type RelayConfig struct {
	LockTimeout      time.Duration `yaml:"lock_timeout"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// TemporalConfig configures durable delivery through Temporal
type TemporalConfig struct {
	HostPort  string `yaml:"host_port"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`
	// RunWorker starts an in-process worker alongside the HTTP server
	RunWorker bool `yaml:"run_worker"`
}

// TelemetryConfig configures OpenTelemetry tracing
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service_name"`
	CollectorURL string  `yaml:"collector_url"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// Default returns the configuration used when no file or override is given.
// The backend address is the testbed's offboard infrastructure host.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8889,
			ShutdownTimeout: 5 * time.Second,
		},
		Backend: BackendConfig{
			BaseURL:      "http://192.168.0.46:8000",
			MissionsPath: "/amrmissions/",
		},
		Executor: ExecutorConfig{
			CompletionPath: "/amrmissions/",
		},
		Delivery: DeliveryConfig{
			Mode:           DeliveryDirect,
			RequestTimeout: 5 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
		},
		Relay: RelayConfig{
			LockTimeout:      2 * time.Second,
			OperationTimeout: 15 * time.Second,
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "amr-relay-delivery",
			RunWorker: true,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "amr-relay",
			CollectorURL: "localhost:4318",
			Environment:  "development",
			SamplingRate: 1.0,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and AMR_RELAY_* environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if val, ok := lookup(EnvPrefix + key); ok && val != "" {
			*dst = val
		}
	}

	if val, ok := lookup(EnvPrefix + "PORT"); ok && val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%sPORT: %w", EnvPrefix, err)
		}
		c.Server.Port = port
	}

	str("BACKEND_URL", &c.Backend.BaseURL)
	str("EXECUTOR_URL", &c.Executor.BaseURL)
	str("DELIVERY_MODE", &c.Delivery.Mode)
	str("TEMPORAL_HOST", &c.Temporal.HostPort)
	str("TEMPORAL_NAMESPACE", &c.Temporal.Namespace)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_LEVEL", &c.Log.Level)

	if val, ok := lookup(EnvPrefix + "OTEL_ENDPOINT"); ok && val != "" {
		c.Telemetry.CollectorURL = val
		c.Telemetry.Enabled = true
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d is out of range", c.Server.Port)
	}

	if err := validateBaseURL("backend", c.Backend.BaseURL); err != nil {
		return err
	}

	if err := validateBaseURL("executor", c.Executor.BaseURL); err != nil {
		return err
	}

	if !strings.HasPrefix(c.Backend.MissionsPath, "/") {
		return fmt.Errorf("backend missions path must start with /")
	}

	if !strings.HasPrefix(c.Executor.CompletionPath, "/") {
		return fmt.Errorf("executor completion path must start with /")
	}

	switch c.Delivery.Mode {
	case DeliveryDirect:
	case DeliveryTemporal:
		if c.Temporal.HostPort == "" {
			return fmt.Errorf("temporal host_port is required for temporal delivery")
		}
		if c.Temporal.TaskQueue == "" {
			return fmt.Errorf("temporal task_queue is required for temporal delivery")
		}
	default:
		return fmt.Errorf("unknown delivery mode %q", c.Delivery.Mode)
	}

	if c.Delivery.MaxAttempts < 1 {
		return fmt.Errorf("delivery max_attempts must be at least 1")
	}

	if c.Delivery.RequestTimeout <= 0 {
		return fmt.Errorf("delivery request_timeout must be positive")
	}

	if c.Relay.LockTimeout <= 0 || c.Relay.OperationTimeout <= 0 {
		return fmt.Errorf("relay lock_timeout and operation_timeout must be positive")
	}

	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

func validateBaseURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s base url is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s base url: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s base url must be http or https: %s", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s base url has no host: %s", name, raw)
	}
	return nil
}
