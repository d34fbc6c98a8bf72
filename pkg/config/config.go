package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logging"
	"github.com/core-tools/hsu-startup/pkg/process"
	"github.com/core-tools/hsu-startup/pkg/processfile"
	"github.com/core-tools/hsu-startup/pkg/readiness"
	"github.com/core-tools/hsu-startup/pkg/supervisor"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDependencyPort = 8001
	DefaultPrimaryPort    = 5000
	DefaultPortEnv        = "PORT"
	DefaultMetricsAddress = "127.0.0.1"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
)

// Config represents the top-level configuration file structure
type Config struct {
	Supervisor SupervisorConfig    `yaml:"supervisor"`
	Dependency process.ProcessSpec `yaml:"dependency"`
	Primary    PrimaryConfig       `yaml:"primary"`
	Readiness  readiness.Check     `yaml:"readiness"`
	PIDFiles   *processfile.Config `yaml:"pid_files,omitempty"`
	Metrics    MetricsConfig       `yaml:"metrics"`
	Logging    LoggingConfig       `yaml:"logging"`
}

type SupervisorConfig struct {
	OnDependencyFailure supervisor.FailurePolicy `yaml:"on_dependency_failure"`
}

// PrimaryConfig is the primary process plus where its bind port comes from
type PrimaryConfig struct {
	process.ProcessSpec `yaml:",inline"`

	// PortEnv names the deployment variable holding the bind port.
	// When set in the supervisor's environment it overrides Port.
	PortEnv string `yaml:"port_env,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Address string `yaml:"address,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // json, console, plain
}

// DefaultConfig reproduces the original start script: an ASGI backend on
// port 8001 and a WSGI frontend bound to $PORT
func DefaultConfig() *Config {
	config := &Config{}
	setConfigDefaults(config)
	return config
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config, err := ParseConfig(data)
	if err != nil {
		return nil, errors.NewValidationError("invalid configuration file", err).WithContext("filename", filename)
	}
	return config, nil
}

func ParseConfig(data []byte) (*Config, error) {
	var config Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && err != io.EOF {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err)
	}

	setConfigDefaults(&config)
	return &config, nil
}

// LoadConfig loads filename, or the defaults when filename is empty
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return DefaultConfig(), nil
	}
	return LoadConfigFromFile(filename)
}

func setConfigDefaults(config *Config) {
	if config.Supervisor.OnDependencyFailure == "" {
		config.Supervisor.OnDependencyFailure = supervisor.FailurePolicyAbort
	}

	dependency := &config.Dependency
	if dependency.ID == "" {
		dependency.ID = "backend"
	}
	if dependency.ExecutablePath == "" {
		dependency.ExecutablePath = "uvicorn"
		if dependency.Args == nil {
			dependency.Args = []string{"backend:app", "--port", "{port}"}
		}
	}
	if dependency.BindPort == 0 {
		dependency.BindPort = DefaultDependencyPort
	}
	if dependency.GracefulTimeout == 0 {
		dependency.GracefulTimeout = process.DefaultGracefulTimeout
	}

	primary := &config.Primary
	if primary.ID == "" {
		primary.ID = "frontend"
	}
	if primary.ExecutablePath == "" {
		primary.ExecutablePath = "gunicorn"
		if primary.Args == nil {
			primary.Args = []string{"app:app", "--bind", "0.0.0.0:{port}"}
		}
		if primary.PortEnv == "" {
			primary.PortEnv = DefaultPortEnv
		}
	}
	if primary.BindPort == 0 {
		primary.BindPort = DefaultPrimaryPort
	}
	if primary.GracefulTimeout == 0 {
		primary.GracefulTimeout = process.DefaultGracefulTimeout
	}

	if config.Metrics.Address == "" {
		config.Metrics.Address = DefaultMetricsAddress
	}

	if config.Logging.Level == "" {
		config.Logging.Level = DefaultLogLevel
	}
	if config.Logging.Format == "" {
		config.Logging.Format = DefaultLogFormat
	}
}

// ResolvePrimaryPort applies the deployment port variable, if set, to the
// primary and exports the port to the primary's environment
func ResolvePrimaryPort(config *Config, getenv func(string) string) error {
	primary := &config.Primary
	if primary.PortEnv == "" {
		return nil
	}

	if value := strings.TrimSpace(getenv(primary.PortEnv)); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 || port > 65535 {
			return errors.NewValidationError("invalid port in environment variable "+primary.PortEnv, err).
				WithContext("value", value)
		}
		primary.BindPort = port
	}

	prefix := primary.PortEnv + "="
	for _, env := range primary.Environment {
		if strings.HasPrefix(env, prefix) {
			return nil
		}
	}
	primary.Environment = append(primary.Environment, prefix+"{port}")
	return nil
}

// Overrides are command line or environment settings layered over the file
type Overrides struct {
	OnDependencyFailure string
	ReadinessTimeout    time.Duration
	PollInterval        time.Duration
	DependencyPort      int
	PrimaryPort         int
	PIDDirectory        string
	MetricsPort         int
	LogLevel            string
	LogFormat           string
}

func ApplyOverrides(config *Config, overrides Overrides) {
	if overrides.OnDependencyFailure != "" {
		config.Supervisor.OnDependencyFailure = supervisor.FailurePolicy(overrides.OnDependencyFailure)
	}
	if overrides.ReadinessTimeout > 0 {
		config.Readiness.Timeout = overrides.ReadinessTimeout
	}
	if overrides.PollInterval > 0 {
		config.Readiness.PollInterval = overrides.PollInterval
	}
	if overrides.DependencyPort > 0 {
		// A readiness port that tracked the old bind port follows it; one
		// pointing elsewhere, such as a health sidecar, is kept
		if config.Readiness.Port == config.Dependency.BindPort {
			config.Readiness.Port = overrides.DependencyPort
		}
		config.Dependency.BindPort = overrides.DependencyPort
	}
	if overrides.PrimaryPort > 0 {
		config.Primary.BindPort = overrides.PrimaryPort
		config.Primary.PortEnv = ""
	}
	if overrides.PIDDirectory != "" {
		if config.PIDFiles == nil {
			config.PIDFiles = &processfile.Config{}
		}
		config.PIDFiles.Directory = overrides.PIDDirectory
	}
	if overrides.MetricsPort > 0 {
		config.Metrics.Enabled = true
		config.Metrics.Port = overrides.MetricsPort
	}
	if overrides.LogLevel != "" {
		config.Logging.Level = overrides.LogLevel
	}
	if overrides.LogFormat != "" {
		config.Logging.Format = overrides.LogFormat
	}
}

// Options converts the configuration into supervisor inputs
func (c *Config) Options() supervisor.Options {
	return supervisor.Options{
		Dependency:          c.Dependency,
		Primary:             c.Primary.ProcessSpec,
		Readiness:           c.Readiness,
		OnDependencyFailure: c.Supervisor.OnDependencyFailure,
	}.WithDefaults()
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := supervisor.ValidateOptions(config.Options()); err != nil {
		return errors.NewValidationError("invalid supervisor configuration", err)
	}

	if config.Metrics.Enabled && (config.Metrics.Port < 0 || config.Metrics.Port > 65535) {
		return errors.NewValidationError("metrics port must be between 0 and 65535", nil).WithContext("port", config.Metrics.Port)
	}

	if _, err := logging.ParseLevel(config.Logging.Level); err != nil {
		return errors.NewValidationError("invalid log level", err).WithContext("level", config.Logging.Level)
	}

	switch config.Logging.Format {
	case "json", "console", "plain":
	default:
		return errors.NewValidationError("unsupported log format: "+config.Logging.Format, nil).
			WithContext("supported_formats", "json, console, plain")
	}

	return nil
}

// LoadAndValidateConfig loads filename (built-in defaults when empty), layers
// the overrides and the deployment port variable over it and validates the
// result. Any error is a configuration error.
func LoadAndValidateConfig(filename string, overrides Overrides, getenv func(string) string) (*Config, error) {
	config, err := LoadConfig(filename)
	if err != nil {
		return nil, err
	}

	ApplyOverrides(config, overrides)

	if err := ResolvePrimaryPort(config, getenv); err != nil {
		return nil, err
	}

	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Summary is a human-readable overview of the configuration
type Summary struct {
	OnDependencyFailure string `json:"on_dependency_failure"`
	Dependency          string `json:"dependency"`
	Primary             string `json:"primary"`
	Readiness           string `json:"readiness"`
	PIDFiles            bool   `json:"pid_files"`
	MetricsPort         int    `json:"metrics_port,omitempty"`
}

func GetConfigSummary(config *Config) Summary {
	options := config.Options()

	summary := Summary{
		OnDependencyFailure: string(options.OnDependencyFailure),
		Dependency:          describeProcess(options.Dependency),
		Primary:             describeProcess(options.Primary),
		Readiness: fmt.Sprintf("%s %s, timeout %v, poll interval %v",
			options.Readiness.Type, options.Readiness.Target(), options.Readiness.Timeout, options.Readiness.PollInterval),
		PIDFiles: config.PIDFiles != nil,
	}
	if config.Metrics.Enabled {
		summary.MetricsPort = config.Metrics.Port
	}
	return summary
}

func describeProcess(spec process.ProcessSpec) string {
	return fmt.Sprintf("%s: %s (port %d)", spec.ID, strings.Join(spec.Resolved().Command(), " "), spec.BindPort)
}
