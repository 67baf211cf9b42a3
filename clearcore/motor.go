// Package clearcore drives a Teknic ClearCore stepper controller over its
// line-oriented ASCII command protocol.
package clearcore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/operation"
)

// Transport carries command lines to the controller and buffers the
// feedback lines it prints.
type Transport interface {
	Send(ctx context.Context, line string) error
	// PollFeedback returns the lines received since the previous call. An
	// empty result is normal.
	PollFeedback(ctx context.Context) ([]string, error)
}

type PowerState int

const (
	Disabled PowerState = iota
	Enabled
)

func (p PowerState) String() string {
	if p == Enabled {
		return "Enabled"
	}
	return "Disabled"
}

// Status is a snapshot of a motor's runtime state.
type Status struct {
	MotorID       int     `json:"motor_id"`
	Powered       bool    `json:"powered"`
	Moving        bool    `json:"moving"`
	PositionSteps int64   `json:"position_steps"`
	Position      float64 `json:"position"`
	CurrentRPM    float64 `json:"current_rpm"`
}

type StatusCallback func(status Status)

// timing holds the settle delays of the protocol. The controller drops
// commands that arrive before it has finished with the previous one.
type timing struct {
	enableSettle   time.Duration
	limitSettle    time.Duration
	moveSettle     time.Duration
	feedbackWait   time.Duration
	pollInterval   time.Duration
	stopSettle     time.Duration
	zeroSettle     time.Duration
	shutdownSettle time.Duration
}

var defaultTiming = timing{
	enableSettle:   300 * time.Millisecond,
	limitSettle:    100 * time.Millisecond,
	moveSettle:     100 * time.Millisecond,
	feedbackWait:   50 * time.Millisecond,
	pollInterval:   100 * time.Millisecond,
	stopSettle:     300 * time.Millisecond,
	zeroSettle:     100 * time.Millisecond,
	shutdownSettle: 200 * time.Millisecond,
}

// exchanger is implemented by transports shared with other motors. The
// returned lock is held for each exchange on the line.
type exchanger interface {
	exchangeLock() sync.Locker
}

// Motor is the protocol state machine for one motor connector.
//
// Every exchange with the controller (a command, its settle delay and the
// feedback drain) runs while holding the exchange lock and mu, so
// command/response pairs on the line never interleave. The exchange lock is
// per line; mu guards the runtime state.
type Motor struct {
	transport      Transport
	logger         *log.Logger
	statusCallback StatusCallback
	timing         timing
	ops            *operation.SingleOperationManager
	xmu            sync.Locker

	mu            sync.Mutex
	cfg           MotorConfig
	power         PowerState
	positionSteps int64
	currentRPM    float64
}

// NewMotor returns a disabled motor at position 0. logger and statusCallback
// may be nil.
func NewMotor(cfg MotorConfig, t Transport, logger *log.Logger, statusCallback StatusCallback) (*Motor, error) {
	if t == nil {
		return nil, &DependencyError{Name: "serial"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	if statusCallback == nil {
		statusCallback = func(Status) {}
	}
	var xmu sync.Locker = &sync.Mutex{}
	if x, ok := t.(exchanger); ok {
		xmu = x.exchangeLock()
	}
	return &Motor{
		transport:      t,
		logger:         logger,
		statusCallback: statusCallback,
		timing:         defaultTiming,
		ops:            operation.NewSingleOperationManager(),
		xmu:            xmu,
		cfg:            cfg,
	}, nil
}

// Reconfigure replaces the configuration. It does not touch the runtime state.
func (m *Motor) Reconfigure(cfg MotorConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

func (m *Motor) Config() MotorConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

func (m *Motor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Motor) statusLocked() Status {
	return Status{
		MotorID:       m.cfg.MotorID,
		Powered:       m.power == Enabled,
		Moving:        m.power == Enabled,
		PositionSteps: m.positionSteps,
		Position:      StepsToRevolutions(m.positionSteps, m.cfg.StepsPerRevolution),
		CurrentRPM:    m.currentRPM,
	}
}

// locked runs f as one exclusive exchange and reports a state change, if
// any, once the lock is released.
func (m *Motor) locked(f func() error) error {
	m.xmu.Lock()
	m.mu.Lock()
	old := m.statusLocked()
	err := f()
	cur := m.statusLocked()
	m.mu.Unlock()
	m.xmu.Unlock()
	if cur != old {
		m.statusCallback(cur)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (m *Motor) sendLocked(ctx context.Context, c Command) error {
	line := Encode(c)
	if err := m.transport.Send(ctx, line); err != nil {
		return fmt.Errorf("sending %q: %w", line, err)
	}
	return nil
}

// drainLocked decodes all pending feedback and keeps the last position
// report. Missing feedback leaves the cached position alone.
func (m *Motor) drainLocked(ctx context.Context) {
	lines, err := m.transport.PollFeedback(ctx)
	if err != nil {
		m.logger.Printf("motor %d: reading feedback: %v", m.cfg.MotorID, err)
		return
	}
	for _, line := range lines {
		steps, err := parsePositionReport(line)
		if err != nil {
			m.logger.Printf("motor %d: discarding %v", m.cfg.MotorID, err)
			continue
		}
		m.positionSteps = steps
	}
}

func (m *Motor) refreshPositionLocked(ctx context.Context) error {
	if err := m.sendLocked(ctx, QueryPosition(m.cfg.MotorID)); err != nil {
		return err
	}
	if err := sleep(ctx, m.timing.feedbackWait); err != nil {
		return err
	}
	m.drainLocked(ctx)
	return nil
}

func (m *Motor) enableLocked(ctx context.Context) error {
	if m.power == Enabled {
		return nil
	}
	if err := m.sendLocked(ctx, Enable(m.cfg.MotorID)); err != nil {
		return err
	}
	m.power = Enabled
	return sleep(ctx, m.timing.enableSettle)
}

// Enable powers the motor. It does nothing if the motor is already enabled.
func (m *Motor) Enable(ctx context.Context) error {
	return m.locked(func() error {
		return m.enableLocked(ctx)
	})
}

// SetPower runs the motor in velocity mode at fraction of MaxRPM, enabling
// it first if needed. fraction is clamped to [-1, 1].
func (m *Motor) SetPower(ctx context.Context, fraction float64) error {
	m.ops.CancelRunning(ctx)
	fraction = math.Max(-1, math.Min(1, fraction))
	return m.locked(func() error {
		return m.setVelocityLocked(ctx, fraction*m.cfg.MaxRPM)
	})
}

// SetRPM runs the motor in velocity mode at rpm, clamped to MaxRPM in either
// direction.
func (m *Motor) SetRPM(ctx context.Context, rpm float64) error {
	m.ops.CancelRunning(ctx)
	return m.locked(func() error {
		if warning, _ := motor.CheckSpeed(rpm, m.cfg.MaxRPM); rpm != 0 && warning != "" {
			m.logger.Printf("motor %d: %s", m.cfg.MotorID, warning)
		}
		return m.setVelocityLocked(ctx, math.Max(-m.cfg.MaxRPM, math.Min(m.cfg.MaxRPM, rpm)))
	})
}

// setVelocityLocked sends rpm truncated to a whole number, the unit of the
// velocity register.
func (m *Motor) setVelocityLocked(ctx context.Context, rpm float64) error {
	velocity := int64(rpm)
	if err := m.enableLocked(ctx); err != nil {
		return err
	}
	if err := m.sendLocked(ctx, SetVelocity(m.cfg.MotorID, velocity)); err != nil {
		return err
	}
	m.currentRPM = float64(velocity)
	return nil
}

// checkSpeed logs speed warnings and reports whether a motion at rpm should
// run at all.
func (m *Motor) checkSpeed(cfg MotorConfig, op string, rpm, revolutions float64) bool {
	if warning, _ := motor.CheckSpeed(rpm, cfg.MaxRPM); warning != "" {
		m.logger.Printf("motor %d: %s", cfg.MotorID, warning)
	}
	if rpm <= 0 {
		m.logger.Printf("motor %d: %s(%v rpm, %v rev) has nothing to do", cfg.MotorID, op, rpm, revolutions)
		return false
	}
	return true
}

// GoFor moves revolutions relative to the last known position at rpm and
// returns once the controller reports the move complete. Zero speed, a
// negative speed or a distance under one step is a no-op.
func (m *Motor) GoFor(ctx context.Context, rpm, revolutions float64) error {
	cfg := m.Config()
	if !m.checkSpeed(cfg, "go_for", rpm, revolutions) {
		return nil
	}
	delta := RevolutionsToSteps(revolutions, cfg.StepsPerRevolution)
	if delta == 0 {
		m.logger.Printf("motor %d: go_for(%v rpm, %v rev) is under one step", cfg.MotorID, rpm, revolutions)
		return nil
	}

	ctx, done := m.ops.New(ctx)
	defer done()

	m.mu.Lock()
	target := m.positionSteps + delta
	m.mu.Unlock()
	return m.move(ctx, cfg, rpm, delta, target)
}

// GoTo moves to an absolute position in revolutions at rpm. The position is
// refreshed from the controller before the distance is computed.
func (m *Motor) GoTo(ctx context.Context, rpm, revolutions float64) error {
	cfg := m.Config()
	if !m.checkSpeed(cfg, "go_to", rpm, revolutions) {
		return nil
	}

	ctx, done := m.ops.New(ctx)
	defer done()

	target := RevolutionsToSteps(revolutions, cfg.StepsPerRevolution)
	var delta int64
	if err := m.locked(func() error {
		if err := m.refreshPositionLocked(ctx); err != nil {
			return err
		}
		delta = target - m.positionSteps
		return nil
	}); err != nil {
		return m.stopAfter(ctx, err)
	}
	if delta == 0 {
		m.logger.Printf("motor %d: already at %d steps", cfg.MotorID, target)
		return nil
	}
	return m.move(ctx, cfg, rpm, delta, target)
}

// move runs the motion phase shared by GoFor and GoTo: enable, set the
// velocity limit, start the relative move, poll until position reaches
// target, then stop. The motor is stopped on every exit path.
func (m *Motor) move(ctx context.Context, cfg MotorConfig, rpm float64, delta, target int64) error {
	var limit int64
	err := m.locked(func() error {
		if err := m.enableLocked(ctx); err != nil {
			return err
		}
		limit = RPMToStepsPerMinute(rpm, cfg.StepsPerRevolution)
		if ceiling := RPMToStepsPerMinute(cfg.MaxRPM, cfg.StepsPerRevolution); limit > ceiling {
			m.logger.Printf("motor %d: %v rpm exceeds max_rpm %v; limiting to %d steps/min", cfg.MotorID, rpm, cfg.MaxRPM, ceiling)
			limit = ceiling
		}
		m.currentRPM = math.Min(rpm, cfg.MaxRPM)
		if err := m.sendLocked(ctx, SetVelocityLimit(cfg.MotorID, limit)); err != nil {
			return err
		}
		if err := sleep(ctx, m.timing.limitSettle); err != nil {
			return err
		}
		if err := m.sendLocked(ctx, MoveRelative(cfg.MotorID, delta)); err != nil {
			return err
		}
		return sleep(ctx, m.timing.moveSettle)
	})
	if err == nil {
		err = m.awaitPosition(ctx, cfg.motionTimeout(delta, limit), target)
	}
	return m.stopAfter(ctx, err)
}

// stopAfter runs the stop sequence detached from ctx and adds its error to err.
func (m *Motor) stopAfter(ctx context.Context, err error) error {
	if stopErr := m.stop(context.WithoutCancel(ctx)); stopErr != nil {
		err = multierr.Append(err, fmt.Errorf("stopping: %w", stopErr))
	}
	return err
}

// awaitPosition polls the controller until the reported position equals
// target, timeout expires or ctx is done. A zero timeout polls without a
// deadline.
func (m *Motor) awaitPosition(ctx context.Context, timeout time.Duration, target int64) error {
	pollCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var position int64
	err := m.ops.WaitForSuccess(pollCtx, m.timing.pollInterval, func(ctx context.Context) (bool, error) {
		reached := false
		err := m.locked(func() error {
			if err := m.refreshPositionLocked(ctx); err != nil {
				return err
			}
			position = m.positionSteps
			reached = position == target
			return nil
		})
		return reached, err
	})
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v: target %d steps, last reported %d", ErrMotionTimeout, timeout, target, position)
	}
	return err
}

func (m *Motor) stop(ctx context.Context) error {
	return m.locked(func() error {
		id := m.cfg.MotorID
		err := m.sendLocked(ctx, SetVelocity(id, 0))
		err = multierr.Append(err, sleep(ctx, m.timing.stopSettle))
		m.drainLocked(ctx)
		err = multierr.Append(err, m.sendLocked(ctx, Disable(id)))
		err = multierr.Append(err, sleep(ctx, m.timing.stopSettle))
		m.drainLocked(ctx)
		m.power = Disabled
		m.currentRPM = 0
		return err
	})
}

// Stop cancels any motion in progress, zeroes the velocity and disables the
// motor. The motor is left disabled even if a command fails. Cancelling ctx
// does not interrupt the sequence.
func (m *Motor) Stop(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	m.ops.CancelRunning(ctx)
	return m.stop(ctx)
}

// ResetZeroPosition makes the current position the origin. Only a zero
// offset is supported by the controller; other values are ignored.
func (m *Motor) ResetZeroPosition(ctx context.Context, offset float64) error {
	return m.locked(func() error {
		if offset != 0 {
			m.logger.Printf("motor %d: ignoring zero offset %v", m.cfg.MotorID, offset)
		}
		if err := m.sendLocked(ctx, ZeroPosition(m.cfg.MotorID)); err != nil {
			return err
		}
		if err := sleep(ctx, m.timing.zeroSettle); err != nil {
			return err
		}
		m.drainLocked(ctx)
		m.positionSteps = 0
		return nil
	})
}

// Position queries the controller and returns the position in revolutions.
// Without a fresh report the last known position is returned.
func (m *Motor) Position(ctx context.Context) (float64, error) {
	var revolutions float64
	err := m.locked(func() error {
		if err := m.refreshPositionLocked(ctx); err != nil {
			return err
		}
		revolutions = StepsToRevolutions(m.positionSteps, m.cfg.StepsPerRevolution)
		return nil
	})
	return revolutions, err
}

// IsPowered returns the cached power state. The controller has no power
// sense line, so the confidence is always 1.
func (m *Motor) IsPowered() (bool, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.power == Enabled, 1.0
}

// IsMoving reports whether the motor is enabled. The controller does not
// report motion, and the motor is only enabled while it is being driven.
func (m *Motor) IsMoving() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.power == Enabled
}

// Shutdown clears faults and zeroes the position. It does not stop a motion
// in progress.
func (m *Motor) Shutdown(ctx context.Context) error {
	return m.locked(func() error {
		id := m.cfg.MotorID
		err := m.sendLocked(ctx, ClearErrors(id))
		err = multierr.Append(err, sleep(ctx, m.timing.shutdownSettle))
		m.drainLocked(ctx)
		if zerr := m.sendLocked(ctx, ZeroPosition(id)); zerr != nil {
			return multierr.Append(err, zerr)
		}
		err = multierr.Append(err, sleep(ctx, m.timing.shutdownSettle))
		m.drainLocked(ctx)
		m.positionSteps = 0
		return err
	})
}
