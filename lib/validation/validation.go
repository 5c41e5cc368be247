// Package validation provides field validators for sockpool configuration.
// Every validator returns nil on success or a *Result naming the field, so
// messages read like "pool.idle_timeout: must be positive".
package validation

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Sentinel errors wrapped by every Result.
var (
	// ErrRequired indicates a required field is missing or empty.
	ErrRequired = errors.New("field is required")

	// ErrTooLong indicates a string exceeds the maximum length.
	ErrTooLong = errors.New("value exceeds maximum length")

	// ErrInvalidFormat indicates a value doesn't match the expected format.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrOutOfRange indicates a numeric value is outside the allowed range.
	ErrOutOfRange = errors.New("value out of range")
)

// MaxGroupNameLength bounds configured group names.
const MaxGroupNameLength = 64

var groupNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Result is a validation failure for one field.
type Result struct {
	Field   string
	Message string
	Err     error
}

func (r *Result) Error() string {
	if r.Field != "" {
		return fmt.Sprintf("%s: %s", r.Field, r.Message)
	}
	return r.Message
}

func (r *Result) Unwrap() error {
	return r.Err
}

// NewResult creates a validation result.
func NewResult(field, message string, err error) *Result {
	return &Result{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// Required validates that a string is non-empty.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewResult(field, "is required", ErrRequired)
	}
	return nil
}

// AtLeast validates that value >= min.
func AtLeast(field string, value, min int) error {
	if value < min {
		return NewResult(field, fmt.Sprintf("must be at least %d", min), ErrOutOfRange)
	}
	return nil
}

// NonNegative validates that an integer is >= 0.
func NonNegative(field string, value int) error {
	if value < 0 {
		return NewResult(field, "must not be negative", ErrOutOfRange)
	}
	return nil
}

// PositiveDuration validates that d > 0.
func PositiveDuration(field string, d time.Duration) error {
	if d <= 0 {
		return NewResult(field, "must be positive", ErrOutOfRange)
	}
	return nil
}

// NonNegativeDuration validates that d >= 0. Zero usually selects a default.
func NonNegativeDuration(field string, d time.Duration) error {
	if d < 0 {
		return NewResult(field, "must not be negative", ErrOutOfRange)
	}
	return nil
}

// NonNegativeRate validates a per-second rate.
func NonNegativeRate(field string, rate float64) error {
	if rate < 0 {
		return NewResult(field, "must not be negative", ErrOutOfRange)
	}
	return nil
}

// HostPort validates a host:port address.
func HostPort(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}
	if _, _, err := net.SplitHostPort(value); err != nil {
		return NewResult(field, "must be in host:port format", ErrInvalidFormat)
	}
	return nil
}

// GroupName validates a pool group name from the config file.
func GroupName(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}
	if utf8.RuneCountInString(value) > MaxGroupNameLength {
		return NewResult(field, fmt.Sprintf("exceeds maximum length of %d characters", MaxGroupNameLength), ErrTooLong)
	}
	if !groupNamePattern.MatchString(value) {
		return NewResult(field, "must start with a letter or digit and contain only letters, digits, '.', '_' and '-'", ErrInvalidFormat)
	}
	return nil
}

// Errors collects multiple validation errors.
type Errors []error

// Add appends err to the collection. Nil errors are ignored.
func (e *Errors) Add(err error) {
	if err != nil {
		*e = append(*e, err)
	}
}

// Addf appends a formatted error.
func (e *Errors) Addf(format string, args ...any) {
	*e = append(*e, fmt.Errorf(format, args...))
}

// HasErrors returns true if any errors were collected.
func (e Errors) HasErrors() bool {
	return len(e) > 0
}

// Err joins the collected errors, or returns nil if there are none.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return errors.Join(e...)
}

// First returns the first error, or nil if none.
func (e Errors) First() error {
	if len(e) == 0 {
		return nil
	}
	return e[0]
}
