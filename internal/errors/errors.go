// Package errors provides centralized error definitions and error handling
// utilities for hal9000. It defines sentinel errors, typed errors for each
// failure class of the worker-session core, and helpers that classify an
// error into a process exit code.
//
// # Error Classes
//
//   - ValidationError: bad or missing arguments; nothing was mutated
//   - ResolutionError: unknown session name or missing socket; carries the
//     currently known sessions as a recovery hint
//   - LockTimeoutError: a lock could not be acquired within its bounded wait;
//     carries the lock path to remove
//   - BroadcastError: one or more targets of a broadcast failed
//   - SessionError: any other failure tied to a specific worker session
//
// Liveness warnings (socket present, container gone) are not errors and are
// reported as values by the remote package.
//
// # Usage
//
//	err := errors.NewResolutionError("session", "feature-auth").
//	    WithKnown([]string{"feature-api"})
//	if errors.Is(err, errors.ErrSessionNotFound) { ... }
//	os.Exit(errors.ExitCode(err))
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Process exit codes returned by the CLI.
const (
	ExitOK           = 0
	ExitUsage        = 1
	ExitResolution   = 2
	ExitLockTimeout  = 3
	ExitPartial      = 4
	ExitRuntimeError = 5
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Session-related sentinel errors
var (
	// ErrSessionNotFound indicates that a session could not be found.
	ErrSessionNotFound = New("session not found")
	// ErrSocketNotFound indicates that a worker's control socket does not exist.
	ErrSocketNotFound = New("socket not found")
	// ErrContainerNotRunning indicates that a session's container is not running.
	ErrContainerNotRunning = New("container not running")
)

// General sentinel errors
var (
	// ErrLockTimeout indicates that a lock could not be acquired in time.
	ErrLockTimeout = New("lock acquisition timed out")
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrPartialFailure indicates that some targets of a fan-out failed.
	ErrPartialFailure = New("partial failure")
)

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

// HalError is implemented by every typed error in this package.
type HalError interface {
	error
	Unwrap() error
	Severity() Severity
	IsUserFacing() bool
	ExitCode() int
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// ExitCode returns the generic runtime failure code.
func (e *baseError) ExitCode() int {
	return ExitRuntimeError
}

// -----------------------------------------------------------------------------
// SessionError
// -----------------------------------------------------------------------------

// SessionError represents a failure tied to a specific worker session.
//
// Example:
//
//	err := errors.NewSessionError("failed to start container", cause).
//	    WithSession("feature-auth").WithContainer("squad-feature-auth-slot1")
type SessionError struct {
	baseError
	Session   string
	Container string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithSession adds a session name to the error context.
func (e *SessionError) WithSession(name string) *SessionError {
	e.Session = name
	return e
}

// WithContainer adds a container name to the error context.
func (e *SessionError) WithContainer(name string) *SessionError {
	e.Container = name
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	var parts []string
	if e.Session != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.Session))
	}
	if e.Container != "" {
		parts = append(parts, fmt.Sprintf("container=%s", e.Container))
	}

	prefix := "session error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("session error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// ValidationError
// -----------------------------------------------------------------------------

// ValidationError represents invalid input. No state is mutated when one is
// returned.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%q", fmt.Sprint(e.Value)))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// ExitCode implements HalError.
func (e *ValidationError) ExitCode() int {
	return ExitUsage
}

// -----------------------------------------------------------------------------
// ResolutionError
// -----------------------------------------------------------------------------

// ResolutionError is returned when a session name or socket cannot be
// resolved. Known lists the sessions that do exist so the operator can
// correct the name.
type ResolutionError struct {
	baseError
	Kind  string // "session" or "socket"
	Name  string
	Known []string
}

// NewResolutionError creates a new ResolutionError for the given kind of
// resource.
func NewResolutionError(kind, name string) *ResolutionError {
	return &ResolutionError{
		baseError: baseError{
			message:    fmt.Sprintf("%s not found: %s", kind, name),
			severity:   SeverityError,
			userFacing: true,
		},
		Kind: kind,
		Name: name,
	}
}

// WithKnown attaches the currently known session names.
func (e *ResolutionError) WithKnown(names []string) *ResolutionError {
	known := append([]string(nil), names...)
	sort.Strings(known)
	e.Known = known
	return e
}

// Error returns the formatted error message including the recovery hint.
func (e *ResolutionError) Error() string {
	if len(e.Known) == 0 {
		return e.message + " (no sessions are currently known)"
	}
	return fmt.Sprintf("%s (known sessions: %s)", e.message, strings.Join(e.Known, ", "))
}

// Is checks if this error matches the target.
func (e *ResolutionError) Is(target error) bool {
	switch target {
	case ErrSessionNotFound:
		return e.Kind == "session"
	case ErrSocketNotFound:
		return e.Kind == "socket"
	}
	return false
}

// ExitCode implements HalError.
func (e *ResolutionError) ExitCode() int {
	return ExitResolution
}

// -----------------------------------------------------------------------------
// LockTimeoutError
// -----------------------------------------------------------------------------

// LockTimeoutError is returned when a lock could not be acquired within its
// bounded wait. The remediation names the directory an operator must remove.
type LockTimeoutError struct {
	baseError
	Name   string
	Path   string
	Waited time.Duration
}

// NewLockTimeoutError creates a new LockTimeoutError.
func NewLockTimeoutError(name, path string, waited time.Duration) *LockTimeoutError {
	return &LockTimeoutError{
		baseError: baseError{
			message:    fmt.Sprintf("could not acquire lock %q after %s", name, waited),
			severity:   SeverityCritical,
			userFacing: true,
		},
		Name:   name,
		Path:   path,
		Waited: waited,
	}
}

// Error returns the message with remediation instructions.
func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("%s; if no other hal9000 process is running, remove the stale lock with `rm -rf %s` or `hal9000 lock clear %s`",
		e.message, e.Path, e.Name)
}

// Is checks if this error matches the target.
func (e *LockTimeoutError) Is(target error) bool {
	return target == ErrLockTimeout || target == ErrTimeout
}

// ExitCode implements HalError.
func (e *LockTimeoutError) ExitCode() int {
	return ExitLockTimeout
}

// -----------------------------------------------------------------------------
// BroadcastError
// -----------------------------------------------------------------------------

// BroadcastError summarizes the failed targets of a broadcast. The targets
// that succeeded are not affected by it.
type BroadcastError struct {
	baseError
	Failed map[string]error
	Total  int
}

// NewBroadcastError creates a BroadcastError from per-target failures.
func NewBroadcastError(failed map[string]error, total int) *BroadcastError {
	return &BroadcastError{
		baseError: baseError{
			message:    fmt.Sprintf("broadcast failed for %d of %d sessions", len(failed), total),
			severity:   SeverityWarning,
			userFacing: true,
		},
		Failed: failed,
		Total:  total,
	}
}

// Error returns the summary followed by each failed target.
func (e *BroadcastError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(e.message)
	for _, name := range names {
		fmt.Fprintf(&sb, "\n  %s: %v", name, e.Failed[name])
	}
	return sb.String()
}

// Is checks if this error matches the target.
func (e *BroadcastError) Is(target error) bool {
	return target == ErrPartialFailure
}

// ExitCode implements HalError.
func (e *BroadcastError) ExitCode() int {
	return ExitPartial
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// ExitCode maps an error to the process exit code the CLI should use.
// A nil error maps to ExitOK; errors outside this package map to
// ExitRuntimeError.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var validation *ValidationError
	var resolution *ResolutionError
	var lockTimeout *LockTimeoutError
	var broadcast *BroadcastError

	switch {
	case As(err, &validation):
		return ExitUsage
	case As(err, &resolution):
		return ExitResolution
	case As(err, &lockTimeout):
		return ExitLockTimeout
	case As(err, &broadcast):
		return ExitPartial
	}

	var halErr HalError
	if As(err, &halErr) {
		return halErr.ExitCode()
	}
	return ExitRuntimeError
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var halErr HalError
	if As(err, &halErr) {
		return halErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement HalError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var halErr HalError
	if As(err, &halErr) {
		return halErr.Severity()
	}
	return SeverityError
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
