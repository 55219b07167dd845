package config

import (
	"errors"
	"fmt"
)

// ErrInvalidScenario matches every *ConfigurationError via errors.Is.
var ErrInvalidScenario = errors.New("invalid scenario")

// ConfigurationError reports an invalid or out-of-range scenario option.
// It is raised at build time; the caller has to fix the input and rebuild.
type ConfigurationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid scenario option %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid scenario option %s=%v: %s", e.Field, e.Value, e.Reason)
}

// Is reports whether target is ErrInvalidScenario.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidScenario
}

func invalid(field string, value any, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Value: value, Reason: fmt.Sprintf(format, args...)}
}
