package process

import (
	"strconv"
	"strings"
	"time"
)

// Role tells the supervisor how a process participates in startup
type Role string

const (
	RoleDependency Role = "dependency" // started in the background, must become ready first
	RolePrimary    Role = "primary"    // started in the foreground, defines the supervisor lifetime
)

const DefaultGracefulTimeout = 10 * time.Second

// ProcessSpec describes one managed child process.
// Args and Environment may contain {port} and {address} placeholders,
// substituted from BindPort and BindAddress by Resolved.
type ProcessSpec struct {
	ID               string        `yaml:"id"`
	Role             Role          `yaml:"-"`
	ExecutablePath   string        `yaml:"executable_path"`
	Args             []string      `yaml:"args,omitempty"`
	Environment      []string      `yaml:"environment,omitempty"`
	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	BindAddress      string        `yaml:"bind_address,omitempty"`
	BindPort         int           `yaml:"port,omitempty"`
	GracefulTimeout  time.Duration `yaml:"graceful_timeout,omitempty"`
}

// Command returns the full command line, executable first
func (s ProcessSpec) Command() []string {
	return append([]string{s.ExecutablePath}, s.Args...)
}

// Resolved returns a copy with placeholders substituted
func (s ProcessSpec) Resolved() ProcessSpec {
	replacer := strings.NewReplacer(
		"{port}", strconv.Itoa(s.BindPort),
		"{address}", s.BindAddress,
	)

	resolved := s
	resolved.Args = make([]string, len(s.Args))
	for i, arg := range s.Args {
		resolved.Args[i] = replacer.Replace(arg)
	}
	resolved.Environment = make([]string, len(s.Environment))
	for i, env := range s.Environment {
		resolved.Environment[i] = replacer.Replace(env)
	}
	return resolved
}

func (s ProcessSpec) gracefulTimeout() time.Duration {
	if s.GracefulTimeout > 0 {
		return s.GracefulTimeout
	}
	return DefaultGracefulTimeout
}
