package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/root4loot/shave/pkg/session"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // config key, e.g. "discovery.interval"
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

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

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if !slices.Contains(session.Backends(), c.Backend) {
		errs = append(errs, ValidationError{
			Field:   "backend",
			Value:   c.Backend,
			Message: fmt.Sprintf("must be one of %s", strings.Join(session.Backends(), ", ")),
		})
	}

	errs = append(errs, c.validateCapture()...)
	errs = append(errs, c.validateDiscovery()...)
	errs = append(errs, c.validateBatch()...)

	return errs
}

func (c *Config) validateCapture() []ValidationError {
	var errs []ValidationError

	// A window needs both sides or neither.
	if c.Capture.Width < 0 || c.Capture.Height < 0 || (c.Capture.Width == 0) != (c.Capture.Height == 0) {
		errs = append(errs, ValidationError{
			Field:   "capture.width",
			Value:   fmt.Sprintf("%dx%d", c.Capture.Width, c.Capture.Height),
			Message: "width and height must both be positive or both be zero",
		})
	}
	if c.Capture.Delay < 0 {
		errs = append(errs, ValidationError{Field: "capture.delay", Value: c.Capture.Delay, Message: "must not be negative"})
	}
	if c.Capture.WaitTimeout < 0 {
		errs = append(errs, ValidationError{Field: "capture.wait_timeout", Value: c.Capture.WaitTimeout, Message: "must not be negative"})
	}

	return errs
}

func (c *Config) validateDiscovery() []ValidationError {
	var errs []ValidationError

	if c.Discovery.Timeout <= 0 {
		errs = append(errs, ValidationError{Field: "discovery.timeout", Value: c.Discovery.Timeout, Message: "must be positive"})
	}
	if c.Discovery.Interval <= 0 {
		errs = append(errs, ValidationError{Field: "discovery.interval", Value: c.Discovery.Interval, Message: "must be positive"})
	} else if c.Discovery.Timeout > 0 && c.Discovery.Interval > c.Discovery.Timeout {
		errs = append(errs, ValidationError{Field: "discovery.interval", Value: c.Discovery.Interval, Message: "must not exceed discovery.timeout"})
	}

	return errs
}

func (c *Config) validateBatch() []ValidationError {
	var errs []ValidationError

	if c.Batch.Concurrency < 1 {
		errs = append(errs, ValidationError{Field: "batch.concurrency", Value: c.Batch.Concurrency, Message: "must be at least 1"})
	}
	if c.Batch.Timeout < 0 {
		errs = append(errs, ValidationError{Field: "batch.timeout", Value: c.Batch.Timeout, Message: "must not be negative"})
	}
	if c.Batch.DuplicateThreshold < 1 || c.Batch.DuplicateThreshold > 100 {
		errs = append(errs, ValidationError{Field: "batch.duplicate_threshold", Value: c.Batch.DuplicateThreshold, Message: "must be between 1 and 100"})
	}

	return errs
}
