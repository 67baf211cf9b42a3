package clearcore

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is matched by every *ConfigError.
	ErrConfig = errors.New("invalid configuration")
	// ErrDependency is matched by every *DependencyError.
	ErrDependency = errors.New("unresolved dependency")
	// ErrUnrecognizedFeedback marks a feedback line that matched no known
	// pattern. It is logged and the line discarded; callers never see it.
	ErrUnrecognizedFeedback = errors.New("unrecognized feedback")
	// ErrMotionTimeout is returned when a move does not reach its target
	// before MotorConfig.MotionTimeout.
	ErrMotionTimeout = errors.New("motion timed out")
)

// ConfigError reports a missing or invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config field %q: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// DependencyError reports a dependency, such as the serial port, that could
// not be resolved.
type DependencyError struct {
	Name string
	Err  error
}

func (e *DependencyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("dependency %q not found", e.Name)
	}
	return fmt.Sprintf("dependency %q: %v", e.Name, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

func (e *DependencyError) Is(target error) bool {
	return target == ErrDependency
}
