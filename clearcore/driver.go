package clearcore

import (
	"context"
	"fmt"
	"io"
	"log"

	"go.uber.org/multierr"
	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/resource"
)

// Driver exposes a Motor as an rdk motor component.
type Driver struct {
	resource.Named
	resource.AlwaysRebuild

	motor     *Motor
	transport Transport
}

var _ motor.Motor = (*Driver)(nil)

// NewDriver builds the driver for one configured motor. The transport is
// closed by Close if it implements io.Closer.
func NewDriver(name string, cfg MotorConfig, t Transport, logger *log.Logger, statusCallback StatusCallback) (*Driver, error) {
	m, err := NewMotor(cfg, t, logger, statusCallback)
	if err != nil {
		return nil, fmt.Errorf("motor %q: %w", name, err)
	}
	return &Driver{
		Named:     resource.NewName(motor.API, name).AsNamed(),
		motor:     m,
		transport: t,
	}, nil
}

// Config returns the motor id, steps per revolution and max RPM in use.
func (d *Driver) Config() MotorConfig { return d.motor.Config() }

func (d *Driver) Status() Status { return d.motor.Status() }

// UpdateConfig swaps in a new configuration without touching the runtime
// state.
func (d *Driver) UpdateConfig(cfg MotorConfig) error {
	return d.motor.Reconfigure(cfg)
}

func (d *Driver) SetPower(ctx context.Context, powerPct float64, extra map[string]interface{}) error {
	return d.motor.SetPower(ctx, powerPct)
}

func (d *Driver) SetRPM(ctx context.Context, rpm float64, extra map[string]interface{}) error {
	return d.motor.SetRPM(ctx, rpm)
}

func (d *Driver) GoFor(ctx context.Context, rpm, revolutions float64, extra map[string]interface{}) error {
	return d.motor.GoFor(ctx, rpm, revolutions)
}

func (d *Driver) GoTo(ctx context.Context, rpm, positionRevolutions float64, extra map[string]interface{}) error {
	return d.motor.GoTo(ctx, rpm, positionRevolutions)
}

func (d *Driver) ResetZeroPosition(ctx context.Context, offset float64, extra map[string]interface{}) error {
	return d.motor.ResetZeroPosition(ctx, offset)
}

func (d *Driver) Position(ctx context.Context, extra map[string]interface{}) (float64, error) {
	return d.motor.Position(ctx)
}

func (d *Driver) Properties(ctx context.Context, extra map[string]interface{}) (motor.Properties, error) {
	return motor.Properties{PositionReporting: true}, nil
}

func (d *Driver) Stop(ctx context.Context, extra map[string]interface{}) error {
	return d.motor.Stop(ctx)
}

func (d *Driver) IsPowered(ctx context.Context, extra map[string]interface{}) (bool, float64, error) {
	on, confidence := d.motor.IsPowered()
	return on, confidence, nil
}

func (d *Driver) IsMoving(ctx context.Context) (bool, error) {
	return d.motor.IsMoving(), nil
}

// DoCommand is reserved; it accepts any command and does nothing.
func (d *Driver) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

// Close runs the shutdown sequence to completion, then releases the transport.
func (d *Driver) Close(ctx context.Context) error {
	err := d.motor.Shutdown(context.WithoutCancel(ctx))
	if c, ok := d.transport.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}
