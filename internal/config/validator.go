package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "lock.max_wait_seconds")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// prefixRegex validates the session prefix; it becomes part of container names
var prefixRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// volumeRegex validates "name:/container/path" volume specs
var volumeRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*:/.*$`)

// ValidPrefix reports whether p can be used as a container name prefix.
func ValidPrefix(p string) bool {
	return prefixRegex.MatchString(p)
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validateLock()...)
	errors = append(errors, c.validateAudit()...)
	errors = append(errors, c.validateContainer()...)
	errors = append(errors, c.validateTmux()...)
	errors = append(errors, c.validateBroadcast()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError

	if !prefixRegex.MatchString(c.Session.Prefix) {
		errors = append(errors, ValidationError{
			Field:   "session.prefix",
			Value:   c.Session.Prefix,
			Message: "must be lowercase alphanumeric, may contain '-' and '_'",
		})
	}

	if c.Session.DefaultProfile != "" {
		if _, ok := c.Container.Images[c.Session.DefaultProfile]; !ok {
			errors = append(errors, ValidationError{
				Field:   "session.default_profile",
				Value:   c.Session.DefaultProfile,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(c.Container.Profiles(), ", ")),
			})
		}
	}

	return errors
}

func (c *Config) validateLock() []ValidationError {
	var errors []ValidationError

	if c.Lock.MaxWaitSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "lock.max_wait_seconds",
			Value:   c.Lock.MaxWaitSeconds,
			Message: "must be positive",
		})
	}
	if c.Lock.RetryIntervalMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "lock.retry_interval_ms",
			Value:   c.Lock.RetryIntervalMs,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateAudit() []ValidationError {
	var errors []ValidationError

	if c.Audit.MaxSizeBytes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "audit.max_size_bytes",
			Value:   c.Audit.MaxSizeBytes,
			Message: "must be positive",
		})
	}
	if c.Audit.MaxFiles < 0 {
		errors = append(errors, ValidationError{
			Field:   "audit.max_files",
			Value:   c.Audit.MaxFiles,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateContainer() []ValidationError {
	var errors []ValidationError

	if c.Container.Runtime == "" {
		errors = append(errors, ValidationError{
			Field:   "container.runtime",
			Value:   c.Container.Runtime,
			Message: "must not be empty",
		})
	}
	if len(c.Container.Images) == 0 {
		errors = append(errors, ValidationError{
			Field:   "container.images",
			Value:   c.Container.Images,
			Message: "at least one profile image is required",
		})
	}
	for _, profile := range c.Container.Profiles() {
		if c.Container.Images[profile] == "" {
			errors = append(errors, ValidationError{
				Field:   "container.images." + profile,
				Value:   "",
				Message: "image reference must not be empty",
			})
		}
	}
	for _, v := range c.Container.Volumes {
		if !volumeRegex.MatchString(v) {
			errors = append(errors, ValidationError{
				Field:   "container.volumes",
				Value:   v,
				Message: "must be of the form name:/absolute/path",
			})
		}
	}
	if !strings.HasPrefix(c.Container.Workdir, "/") {
		errors = append(errors, ValidationError{
			Field:   "container.workdir",
			Value:   c.Container.Workdir,
			Message: "must be an absolute path",
		})
	}
	if c.Container.StopTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "container.stop_timeout_seconds",
			Value:   c.Container.StopTimeoutSeconds,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateTmux() []ValidationError {
	var errors []ValidationError

	if c.Tmux.Binary == "" {
		errors = append(errors, ValidationError{
			Field:   "tmux.binary",
			Value:   c.Tmux.Binary,
			Message: "must not be empty",
		})
	}
	if c.Tmux.StartupTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "tmux.startup_timeout_seconds",
			Value:   c.Tmux.StartupTimeoutSeconds,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateBroadcast() []ValidationError {
	var errors []ValidationError

	if c.Broadcast.Parallelism < 1 {
		errors = append(errors, ValidationError{
			Field:   "broadcast.parallelism",
			Value:   c.Broadcast.Parallelism,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
