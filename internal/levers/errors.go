package levers

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateKey    = errors.New("duplicate lever key")
	ErrLeverNotFound   = errors.New("relevancy lever not found")
	ErrOrderByNotFound = errors.New("order by lever not found")

	// ErrInvalidConfiguration matches every typed configuration error in this
	// package via errors.Is.
	ErrInvalidConfiguration = errors.New("invalid lever configuration")
)

// ConfigurationError reports a catalog that cannot be built.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "lever catalog configuration error: " + e.Reason
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrInvalidConfiguration }

// InvalidFallbackError is returned when a lever's fallback is not numeric.
type InvalidFallbackError struct {
	Key      string
	Fallback any
}

func (e *InvalidFallbackError) Error() string {
	return fmt.Sprintf("lever %q: expected numeric fallback, got %#v", e.Key, e.Fallback)
}

func (e *InvalidFallbackError) Is(target error) bool { return target == ErrInvalidConfiguration }

// InvalidCasesError is returned when cases are not a list of numeric pairs.
type InvalidCasesError struct {
	Key   string
	Cases any
}

func (e *InvalidCasesError) Error() string {
	return fmt.Sprintf("lever %q: expected cases to be an array of [threshold, weight] numeric pairs, got %#v", e.Key, e.Cases)
}

func (e *InvalidCasesError) Is(target error) bool { return target == ErrInvalidConfiguration }

// InvalidQueryParametersError names the parameters a lever expected and the
// ones it was given.
type InvalidQueryParametersError struct {
	Key      string
	Expected []string
	Given    []string
}

func (e *InvalidQueryParametersError) Error() string {
	return fmt.Sprintf("lever %q: expected query parameters [%s], given [%s]",
		e.Key, strings.Join(e.Expected, ", "), strings.Join(e.Given, ", "))
}

func (e *InvalidQueryParametersError) Is(target error) bool { return target == ErrInvalidConfiguration }
