package process

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/core-tools/hsu-startup/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateProcessSpec(t *testing.T) {
	workDir := t.TempDir()
	notADir := filepath.Join(workDir, "file.txt")
	require.NoError(t, os.WriteFile(notADir, []byte("x"), 0644))

	valid := ProcessSpec{
		ID:             "backend",
		Role:           RoleDependency,
		ExecutablePath: "uvicorn",
		Args:           []string{"backend:app", "--port", "{port}"},
		BindPort:       8001,
	}

	tests := []struct {
		name      string
		mutate    func(spec *ProcessSpec)
		shouldErr bool
	}{
		{"valid", func(spec *ProcessSpec) {}, false},
		{"valid_working_directory", func(spec *ProcessSpec) { spec.WorkingDirectory = workDir }, false},
		{"valid_primary_without_port", func(spec *ProcessSpec) { spec.Role = RolePrimary; spec.BindPort = 0 }, false},
		{"missing_id", func(spec *ProcessSpec) { spec.ID = "" }, true},
		{"missing_role", func(spec *ProcessSpec) { spec.Role = "" }, true},
		{"unknown_role", func(spec *ProcessSpec) { spec.Role = "sidecar" }, true},
		{"missing_executable", func(spec *ProcessSpec) { spec.ExecutablePath = "  " }, true},
		{"relative_working_directory", func(spec *ProcessSpec) { spec.WorkingDirectory = "relative/dir" }, true},
		{"missing_working_directory", func(spec *ProcessSpec) { spec.WorkingDirectory = filepath.Join(workDir, "missing") }, true},
		{"working_directory_is_file", func(spec *ProcessSpec) { spec.WorkingDirectory = notADir }, true},
		{"bad_environment", func(spec *ProcessSpec) { spec.Environment = []string{"NOEQUALS"} }, true},
		{"port_too_high", func(spec *ProcessSpec) { spec.BindPort = 65536 }, true},
		{"negative_port", func(spec *ProcessSpec) { spec.BindPort = -1 }, true},
		{"negative_graceful_timeout", func(spec *ProcessSpec) { spec.GracefulTimeout = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := valid
			tt.mutate(&spec)

			err := ValidateProcessSpec(spec)
			if tt.shouldErr {
				assert.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePID(t *testing.T) {
	tests := []struct {
		name        string
		pidStr      string
		expectedPID int
		shouldErr   bool
	}{
		{"valid_pid", "1234", 1234, false},
		{"empty_pid", "", 0, true},
		{"invalid_format", "abc", 0, true},
		{"zero_pid", "0", 0, true},
		{"negative_pid", "-1", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pid, err := ValidatePID(tt.pidStr)

			if tt.shouldErr {
				assert.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expectedPID, pid)
			}
		})
	}
}

func TestProcessSpec_Resolved(t *testing.T) {
	spec := ProcessSpec{
		ID:             "frontend",
		ExecutablePath: "gunicorn",
		Args:           []string{"app:app", "--bind", "{address}:{port}"},
		Environment:    []string{"PORT={port}", "STATIC=1"},
		BindAddress:    "0.0.0.0",
		BindPort:       10000,
	}

	resolved := spec.Resolved()

	assert.Equal(t, []string{"app:app", "--bind", "0.0.0.0:10000"}, resolved.Args)
	assert.Equal(t, []string{"PORT=10000", "STATIC=1"}, resolved.Environment)
	assert.Equal(t, []string{"gunicorn", "app:app", "--bind", "0.0.0.0:10000"}, resolved.Command())

	// original is untouched
	assert.Equal(t, "{address}:{port}", spec.Args[2])
	assert.Equal(t, "PORT={port}", spec.Environment[0])
}

func TestLookupExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("execute bit semantics are Unix only")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "run.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0755))
	notExecutable := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(notExecutable, []byte("x"), 0644))

	t.Run("absolute_executable", func(t *testing.T) {
		path, err := LookupExecutable(script)
		require.NoError(t, err)
		assert.Equal(t, script, path)
	})

	t.Run("found_in_path", func(t *testing.T) {
		path, err := LookupExecutable("sh")
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(path))
	})

	t.Run("missing_in_path", func(t *testing.T) {
		_, err := LookupExecutable("definitely-not-a-real-binary-hsu")
		require.Error(t, err)
		assert.True(t, errors.IsProcessError(err))
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := LookupExecutable(filepath.Join(dir, "missing"))
		require.Error(t, err)
		assert.True(t, errors.IsProcessError(err))
	})

	t.Run("directory", func(t *testing.T) {
		_, err := LookupExecutable(dir)
		require.Error(t, err)
		assert.True(t, errors.IsProcessError(err))
	})

	t.Run("not_executable", func(t *testing.T) {
		_, err := LookupExecutable(notExecutable)
		require.Error(t, err)
		assert.True(t, errors.IsPermissionError(err))
	})
}
