package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of supervisor errors
type ErrorType string

const (
	// Startup failures, one per supervisor error kind
	ErrorTypeDependencyLaunch  ErrorType = "dependency_launch_failed"
	ErrorTypeDependencyTimeout ErrorType = "dependency_timeout"
	ErrorTypePrimaryLaunch     ErrorType = "primary_launch_failed"
	ErrorTypePrimaryExit       ErrorType = "primary_non_zero_exit"

	// Generic categories
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeProcess    ErrorType = "process"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypePermission ErrorType = "permission"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeCancelled  ErrorType = "cancelled"
)

// Exit codes reported by the supervisor for its own failures.
// Values follow sysexits.h so that deployment tooling can tell them apart
// from exit codes propagated from the primary process.
const (
	ExitCodeLaunchFailed       = 69 // EX_UNAVAILABLE
	ExitCodeInternal           = 70 // EX_SOFTWARE
	ExitCodeDependencyNotReady = 75 // EX_TEMPFAIL
	ExitCodeConfig             = 78 // EX_CONFIG
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError of the same type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Supervisor errors
func NewDependencyLaunchError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeDependencyLaunch, message, cause)
}

func NewDependencyTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeDependencyTimeout, message, cause)
}

func NewPrimaryLaunchError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePrimaryLaunch, message, cause)
}

func NewPrimaryExitError(exitCode int) *DomainError {
	return NewDomainError(ErrorTypePrimaryExit, fmt.Sprintf("primary exited with code %d", exitCode), nil).
		WithContext("exit_code", exitCode)
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewNetworkError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNetwork, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// TypeOf returns the type of the outermost DomainError in the chain, or "" if there is none
func TypeOf(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

func isType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

func IsDependencyLaunchError(err error) bool {
	return isType(err, ErrorTypeDependencyLaunch)
}

func IsDependencyTimeoutError(err error) bool {
	return isType(err, ErrorTypeDependencyTimeout)
}

func IsPrimaryLaunchError(err error) bool {
	return isType(err, ErrorTypePrimaryLaunch)
}

func IsPrimaryExitError(err error) bool {
	return isType(err, ErrorTypePrimaryExit)
}

func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

func IsProcessError(err error) bool {
	return isType(err, ErrorTypeProcess)
}

func IsTimeoutError(err error) bool {
	return isType(err, ErrorTypeTimeout)
}

func IsPermissionError(err error) bool {
	return isType(err, ErrorTypePermission)
}

func IsIOError(err error) bool {
	return isType(err, ErrorTypeIO)
}

func IsNetworkError(err error) bool {
	return isType(err, ErrorTypeNetwork)
}

func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

func IsCancelledError(err error) bool {
	return isType(err, ErrorTypeCancelled)
}

// ExitCodeFor maps a supervisor failure onto the process exit code reported for it.
// A nil error maps to 0. Primary exit errors carry their own code in the context.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}

	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return ExitCodeInternal
	}

	switch domainErr.Type {
	case ErrorTypeDependencyLaunch, ErrorTypePrimaryLaunch:
		return ExitCodeLaunchFailed
	case ErrorTypeDependencyTimeout:
		return ExitCodeDependencyNotReady
	case ErrorTypeValidation:
		return ExitCodeConfig
	case ErrorTypePrimaryExit:
		if code, ok := domainErr.Context["exit_code"].(int); ok {
			return code
		}
		return ExitCodeInternal
	default:
		return ExitCodeInternal
	}
}

// ErrorCollection aggregates errors from teardown of several processes
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
