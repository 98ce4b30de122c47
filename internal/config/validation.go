package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

func (ve *ValidationErrors) requirePositive(field string, d time.Duration) {
	if d <= 0 {
		ve.Add(field, "must be a positive duration", d)
	}
}

// Validate checks that every timeout is bounded and that there is something
// to launch and a broker to verify against.
func (c HarnessConfig) Validate() error {
	var errs ValidationErrors

	if strings.TrimSpace(c.Child) == "" && strings.TrimSpace(c.Binary) == "" {
		errs.Add("child", "either child or binary is required")
	}
	if strings.TrimSpace(c.Host) == "" {
		errs.Add("host", "is required")
	}
	if len(c.Broker.Brokers) == 0 {
		errs.Add("broker.brokers", "must have at least one broker")
	}

	errs.requirePositive("broker.read_timeout", c.Broker.ReadTimeout)
	errs.requirePositive("broker.drain_timeout", c.Broker.DrainTimeout)
	errs.requirePositive("timeouts.ready", c.Timeouts.Ready)
	errs.requirePositive("timeouts.exit", c.Timeouts.Exit)
	errs.requirePositive("timeouts.line", c.Timeouts.Line)
	errs.requirePositive("timeouts.log_pattern", c.Timeouts.LogPattern)
	errs.requirePositive("timeouts.request", c.Timeouts.Request)
	errs.requirePositive("timeouts.scenario", c.Timeouts.Scenario)

	if errs.HasErrors() {
		return errs
	}
	return nil
}
