package readiness

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/core-tools/hsu-startup/pkg/errors"
)

type CheckType string

const (
	CheckTypeTCP  CheckType = "tcp"
	CheckTypeHTTP CheckType = "http"
	CheckTypeGRPC CheckType = "grpc"
	CheckTypeExec CheckType = "exec"
)

const (
	DefaultAddress        = "127.0.0.1"
	DefaultTimeout        = 30 * time.Second
	DefaultPollInterval   = 200 * time.Millisecond
	maxAttemptTimeout     = time.Second
	defaultHTTPPath       = "/"
	defaultHTTPMethod     = "GET"
	defaultExpectedStatus = 0 // any 2xx
)

type HTTPCheckConfig struct {
	Path         string            `yaml:"path,omitempty"`
	Method       string            `yaml:"method,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	ExpectStatus int               `yaml:"expect_status,omitempty"`
}

type GRPCCheckConfig struct {
	// Service name passed to grpc.health.v1.Health/Check; empty means the whole server
	Service string `yaml:"service,omitempty"`
}

type ExecCheckConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

// Check describes how to decide that the dependency is ready.
// Evaluated once per supervisor run, by polling until success or Timeout.
type Check struct {
	Type    CheckType `yaml:"type,omitempty"`
	Address string    `yaml:"address,omitempty"`
	Port    int       `yaml:"port,omitempty"`

	Timeout        time.Duration `yaml:"timeout,omitempty"`
	PollInterval   time.Duration `yaml:"poll_interval,omitempty"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout,omitempty"`

	HTTP HTTPCheckConfig `yaml:"http,omitempty"`
	GRPC GRPCCheckConfig `yaml:"grpc,omitempty"`
	Exec ExecCheckConfig `yaml:"exec,omitempty"`
}

// WithDefaults returns a copy with unset fields filled in
func (c Check) WithDefaults() Check {
	if c.Type == "" {
		c.Type = CheckTypeTCP
	}
	if c.Address == "" || c.Address == "0.0.0.0" || c.Address == "::" {
		// A wildcard bind address is probed over loopback
		c.Address = DefaultAddress
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.AttemptTimeout == 0 {
		c.AttemptTimeout = c.PollInterval
		if c.AttemptTimeout > maxAttemptTimeout {
			c.AttemptTimeout = maxAttemptTimeout
		}
	}
	if c.Type == CheckTypeHTTP {
		if c.HTTP.Path == "" {
			c.HTTP.Path = defaultHTTPPath
		}
		if c.HTTP.Method == "" {
			c.HTTP.Method = defaultHTTPMethod
		}
	}
	return c
}

// Target is the host:port the probe connects to
func (c Check) Target() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// ValidateCheck validates a check with defaults applied
func ValidateCheck(c Check) error {
	if c.Timeout <= 0 {
		return errors.NewValidationError("readiness timeout must be positive", nil)
	}
	if c.PollInterval <= 0 {
		return errors.NewValidationError("readiness poll interval must be positive", nil)
	}
	if c.AttemptTimeout <= 0 {
		return errors.NewValidationError("readiness attempt timeout must be positive", nil)
	}

	switch c.Type {
	case CheckTypeTCP, CheckTypeHTTP, CheckTypeGRPC:
		if c.Address == "" {
			return errors.NewValidationError("readiness address is required for "+string(c.Type)+" check", nil)
		}
		if c.Port <= 0 || c.Port > 65535 {
			return errors.NewValidationError("readiness port must be between 1 and 65535", nil).WithContext("port", c.Port)
		}
		if c.Type == CheckTypeHTTP {
			if !strings.HasPrefix(c.HTTP.Path, "/") {
				return errors.NewValidationError("HTTP readiness path must start with '/'", nil).WithContext("path", c.HTTP.Path)
			}
			if c.HTTP.ExpectStatus != defaultExpectedStatus && (c.HTTP.ExpectStatus < 100 || c.HTTP.ExpectStatus > 599) {
				return errors.NewValidationError("HTTP expected status must be a valid status code", nil).WithContext("expect_status", c.HTTP.ExpectStatus)
			}
		}

	case CheckTypeExec:
		if c.Exec.Command == "" {
			return errors.NewValidationError("command is required for exec readiness check", nil)
		}

	default:
		return errors.NewValidationError("unsupported readiness check type: "+string(c.Type), nil)
	}

	return nil
}
