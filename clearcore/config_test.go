package clearcore

import (
	"errors"
	"testing"
	"time"
)

func TestMotionTimeoutFor(t *testing.T) {
	for _, test := range []struct {
		name         string
		timeout      time.Duration
		delta, limit int64
		want         time.Duration
	}{
		{"configured", 30 * time.Second, 2000, 3, 30 * time.Second},
		{"unbounded", NoMotionTimeout, 2000, 3, 0},
		{"scaled to a slow move", 0, 2000, 4, 500*time.Minute + DefaultMotionTimeout},
		{"ten revolutions at one rpm", 0, 2000, 200, 10*time.Minute + DefaultMotionTimeout},
		{"scaled in reverse", 0, -200, 100, 2*time.Minute + DefaultMotionTimeout},
		{"zero limit", 0, 200, 0, DefaultMotionTimeout},
	} {
		t.Run(test.name, func(t *testing.T) {
			cfg := testConfig
			cfg.MotionTimeout = test.timeout
			if got := cfg.motionTimeout(test.delta, test.limit); got != test.want {
				t.Errorf("motionTimeout(%d, %d) = %v, want %v", test.delta, test.limit, got, test.want)
			}
		})
	}
}

func TestMotorConfigValidate(t *testing.T) {
	if err := testConfig.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	err := MotorConfig{MotorID: -1, MotionTimeout: -time.Second}.Validate()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("got %v, want %v", err, ErrConfig)
	}
	var cerr *ConfigError
	if !errors.As(err, &cerr) || cerr.Field != "motor_id" {
		t.Errorf("first error %v, want the motor_id field", err)
	}
}
