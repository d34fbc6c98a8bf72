package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logging"
	"github.com/core-tools/hsu-startup/pkg/process"
)

const DefaultAppName = "hsu-startup"

// ServiceContext selects the OS default directory when no explicit directory is set
type ServiceContext string

const (
	SystemService  ServiceContext = "system"
	UserService    ServiceContext = "user"
	SessionService ServiceContext = "session"
)

type Config struct {
	// Directory for PID files; empty selects a default for ServiceContext
	Directory       string         `yaml:"directory,omitempty"`
	ServiceContext  ServiceContext `yaml:"service_context,omitempty"`
	AppName         string         `yaml:"app_name,omitempty"`
	UseSubdirectory bool           `yaml:"use_subdirectory,omitempty"`
}

// Manager writes and removes PID files for supervised children
type Manager struct {
	config Config
	logger logging.Logger
}

func NewManager(config Config, logger logging.Logger) *Manager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.ServiceContext == "" {
		config.ServiceContext = UserService
	}
	return &Manager{
		config: config,
		logger: logger,
	}
}

// PIDFilePath returns the PID file path for a child id
func (m *Manager) PIDFilePath(id string) string {
	dir := m.baseDirectory()
	if m.config.UseSubdirectory {
		dir = filepath.Join(dir, m.config.AppName)
	}
	return filepath.Join(dir, id+".pid")
}

func (m *Manager) WritePIDFile(id string, pid int) error {
	path := m.PIDFilePath(id)
	m.logger.Debugf("Writing PID file, id: %s, PID: %d, path: %s", id, pid, path)

	if err := ValidateDirectory(path); err != nil {
		return errors.NewIOError("PID file directory validation failed", err).WithContext("pid_file", path)
	}

	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", path).WithContext("pid", pid)
	}

	m.logger.Infof("PID file written, id: %s, PID: %d, path: %s", id, pid, path)
	return nil
}

func (m *Manager) ReadPIDFile(id string) (int, error) {
	path := m.PIDFilePath(id)

	content, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", path)
	}

	pid, err := process.ValidatePID(strings.TrimSpace(string(content)))
	if err != nil {
		return 0, errors.NewValidationError("invalid PID in PID file", err).WithContext("pid_file", path)
	}
	return pid, nil
}

// RemovePIDFile removes the PID file; a missing file is not an error
func (m *Manager) RemovePIDFile(id string) error {
	path := m.PIDFilePath(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", path)
	}
	m.logger.Debugf("PID file removed, id: %s, path: %s", id, path)
	return nil
}

func (m *Manager) baseDirectory() string {
	if m.config.Directory != "" {
		return m.config.Directory
	}

	switch m.config.ServiceContext {
	case SystemService:
		return systemDirectory()
	case SessionService:
		return sessionDirectory()
	default:
		return userDirectory()
	}
}

func systemDirectory() string {
	switch runtime.GOOS {
	case "windows":
		if programData := os.Getenv("PROGRAMDATA"); programData != "" {
			return programData
		}
		return "C:\\ProgramData"
	case "darwin":
		return "/var/run"
	default:
		if _, err := os.Stat("/run"); err == nil {
			return "/run"
		}
		return "/var/run"
	}
}

func userDirectory() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return localAppData
		}
		return os.TempDir()
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return os.TempDir()
		}
		return filepath.Join(homeDir, "Library", "Application Support")
	default:
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		return os.TempDir()
	}
}

func sessionDirectory() string {
	if runtime.GOOS == "linux" {
		dir := fmt.Sprintf("/run/user/%d", os.Getuid())
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
	}
	return os.TempDir()
}

// ValidateDirectory makes sure the parent directory of path exists and is writable
func ValidateDirectory(path string) error {
	dir := filepath.Dir(path)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access PID file directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create PID file directory", err).WithContext("directory", dir)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("PID file parent is not a directory", nil).WithContext("path", dir)
	}

	probe, err := os.CreateTemp(dir, ".write_test")
	if err != nil {
		return errors.NewPermissionError("PID file directory is not writable", err).WithContext("directory", dir)
	}
	probe.Close()
	os.Remove(probe.Name())

	return nil
}
