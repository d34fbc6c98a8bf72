package process

import (
	stderrors "errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-startup/pkg/errors"
)

// ValidatePID validates PID value
func ValidatePID(pidStr string) (int, error) {
	if pidStr == "" {
		return 0, errors.NewValidationError("PID cannot be empty", nil)
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, errors.NewValidationError("invalid PID format: "+pidStr, err)
	}

	if pid <= 0 {
		return 0, errors.NewValidationError("PID must be positive: "+pidStr, nil)
	}

	return pid, nil
}

// ValidateProcessSpec validates the static part of a process spec.
// Whether the executable exists is checked at launch time, since a missing
// executable is a launch failure rather than a configuration error.
func ValidateProcessSpec(spec ProcessSpec) error {
	if spec.ID == "" {
		return errors.NewValidationError("process id is required", nil)
	}

	if spec.Role != RoleDependency && spec.Role != RolePrimary {
		return errors.NewValidationError("invalid process role: "+string(spec.Role), nil).WithContext("id", spec.ID)
	}

	if strings.TrimSpace(spec.ExecutablePath) == "" {
		return errors.NewValidationError("executable path is required", nil).WithContext("id", spec.ID)
	}

	if spec.WorkingDirectory != "" {
		if !filepath.IsAbs(spec.WorkingDirectory) {
			return errors.NewValidationError("working directory must be absolute path", nil).WithContext("id", spec.ID)
		}

		if info, err := os.Stat(spec.WorkingDirectory); err != nil {
			return errors.NewValidationError("working directory not accessible: "+spec.WorkingDirectory, err).WithContext("id", spec.ID)
		} else if !info.IsDir() {
			return errors.NewValidationError("working directory is not a directory: "+spec.WorkingDirectory, nil).WithContext("id", spec.ID)
		}
	}

	for _, env := range spec.Environment {
		if !strings.Contains(env, "=") {
			return errors.NewValidationError("invalid environment variable format: "+env, nil).WithContext("id", spec.ID)
		}
	}

	if spec.BindPort < 0 || spec.BindPort > 65535 {
		return errors.NewValidationError("port must be between 0 and 65535", nil).WithContext("id", spec.ID)
	}

	if spec.GracefulTimeout < 0 {
		return errors.NewValidationError("graceful timeout cannot be negative", nil).WithContext("id", spec.ID)
	}

	return nil
}

// LookupExecutable resolves path to an executable file.
// Bare names are searched in PATH, anything with a separator is used as given.
func LookupExecutable(path string) (string, error) {
	if !strings.ContainsRune(path, os.PathSeparator) && !strings.ContainsRune(path, '/') {
		resolved, err := exec.LookPath(path)
		if err != nil {
			if stderrors.Is(err, os.ErrPermission) {
				return "", errors.NewPermissionError("executable is not permitted", err).WithContext("executable_path", path)
			}
			return "", errors.NewProcessError("executable not found in PATH", err).WithContext("executable_path", path)
		}
		return resolved, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsPermission(err) {
			return "", errors.NewPermissionError("executable is not accessible", err).WithContext("executable_path", path)
		}
		return "", errors.NewProcessError("executable not found", err).WithContext("executable_path", path)
	}

	if info.IsDir() {
		return "", errors.NewProcessError("executable path is a directory", nil).WithContext("executable_path", path)
	}

	// Windows has no execute bit, extensions decide
	if runtime.GOOS != "windows" && info.Mode()&0111 == 0 {
		return "", errors.NewPermissionError("file is not executable", nil).WithContext("executable_path", path)
	}

	return path, nil
}
