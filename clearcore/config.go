package clearcore

import (
	"time"

	"go.uber.org/multierr"
)

const (
	// DefaultMotionTimeout is the margin added to the expected duration of a
	// move when MotionTimeout is zero.
	DefaultMotionTimeout = 2 * time.Minute
	// NoMotionTimeout polls until the target is reached, however long it takes.
	NoMotionTimeout time.Duration = -1
)

// MotorConfig describes one motor connector on the controller.
type MotorConfig struct {
	MotorID            int
	StepsPerRevolution int
	MaxRPM             float64
	MotionTimeout      time.Duration
}

// Validate returns every problem with c combined into one error.
func (c MotorConfig) Validate() error {
	var err error
	if c.MotorID < 0 {
		err = multierr.Append(err, &ConfigError{Field: "motor_id", Reason: "must not be negative"})
	}
	if c.StepsPerRevolution <= 0 {
		err = multierr.Append(err, &ConfigError{Field: "steps_per_revolution", Reason: "must be greater than 0"})
	}
	if !(c.MaxRPM > 0) {
		err = multierr.Append(err, &ConfigError{Field: "max_rpm", Reason: "must be greater than 0"})
	}
	if c.MotionTimeout < 0 && c.MotionTimeout != NoMotionTimeout {
		err = multierr.Append(err, &ConfigError{Field: "motion_timeout", Reason: "must not be negative"})
	}
	return err
}

// motionTimeout bounds a move of delta steps at limit steps per minute. Zero
// means no bound.
func (c MotorConfig) motionTimeout(delta, limit int64) time.Duration {
	switch {
	case c.MotionTimeout > 0:
		return c.MotionTimeout
	case c.MotionTimeout < 0:
		return 0
	case limit <= 0:
		return DefaultMotionTimeout
	}
	if delta < 0 {
		delta = -delta
	}
	expected := time.Duration(float64(delta) / float64(limit) * float64(time.Minute))
	return expected + DefaultMotionTimeout
}
