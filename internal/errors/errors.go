// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrConfigInvalid        = errors.New("invalid configuration")
	ErrTooManyCombinations  = errors.New("too many parameter combinations")
	ErrNoData               = errors.New("no price data")
	ErrInvalidBars          = errors.New("invalid price bars")
	ErrInvalidStrategy      = errors.New("invalid strategy")
	ErrRunNotFound          = errors.New("run not found")
	ErrUnsupportedObjective = errors.New("unsupported objective")
)

// ValidationError represents a rejected configuration field.
// It matches ErrConfigInvalid with errors.Is.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// DataError represents a data-related error.
type DataError struct {
	DataType string
	Symbol   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, symbol, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Symbol:   symbol,
		Message:  message,
		Err:      err,
	}
}

// LimitError represents a request that exceeds a hard computational limit.
type LimitError struct {
	Limit   string
	Current int
	Max     int
	Err     error
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("limit exceeded [%s]: %d (max: %d)", e.Limit, e.Current, e.Max)
}

func (e *LimitError) Unwrap() error {
	return e.Err
}

// NewLimitError creates a new LimitError wrapping the given sentinel.
func NewLimitError(limit string, current, max int, err error) *LimitError {
	return &LimitError{
		Limit:   limit,
		Current: current,
		Max:     max,
		Err:     err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
