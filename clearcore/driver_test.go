package clearcore

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/resource"
)

type closingTransport struct {
	*fakeTransport
	closed   bool
	closeErr error
}

func (c *closingTransport) Close() error {
	c.closed = true
	return c.closeErr
}

func newTestDriver(t *testing.T, tr Transport) *Driver {
	t.Helper()
	d, err := NewDriver("azimuth", testConfig, tr, log.New(io.Discard, "", 0), nil)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	d.motor.timing = timing{pollInterval: time.Millisecond}
	return d
}

func TestNewDriverErrors(t *testing.T) {
	if _, err := NewDriver("azimuth", testConfig, nil, nil, nil); !errors.Is(err, ErrDependency) {
		t.Errorf("got %v, want %v", err, ErrDependency)
	}
	cfg := testConfig
	cfg.MaxRPM = 0
	if _, err := NewDriver("azimuth", cfg, newFake(), nil, nil); !errors.Is(err, ErrConfig) {
		t.Errorf("got %v, want %v", err, ErrConfig)
	}
}

func TestDriver(t *testing.T) {
	ctx := context.Background()
	ft := newFake()
	var d motor.Motor = newTestDriver(t, ft)
	if got := d.Name().ShortName(); got != "azimuth" {
		t.Errorf("Name = %q, want azimuth", got)
	}
	if got := d.Name().API; got != motor.API {
		t.Errorf("API = %v, want %v", got, motor.API)
	}

	props, err := d.Properties(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(props, motor.Properties{PositionReporting: true}); diff != "" {
		t.Errorf("unexpected properties: got(-)/want(+):\n%s", diff)
	}

	if err := d.SetPower(ctx, 0.5, nil); err != nil {
		t.Fatal(err)
	}
	on, confidence, err := d.IsPowered(ctx, nil)
	if err != nil || !on || confidence != 1 {
		t.Errorf("IsPowered = %v, %v, %v; want true, 1, nil", on, confidence, err)
	}
	if moving, _ := d.IsMoving(ctx); !moving {
		t.Error("IsMoving = false while powered")
	}
	if err := d.Stop(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if moving, _ := d.IsMoving(ctx); moving {
		t.Error("IsMoving = true after Stop")
	}

	if err := d.SetRPM(ctx, -90, nil); err != nil {
		t.Fatal(err)
	}
	if sent := ft.Sent(); sent[len(sent)-1] != "v3 -60" {
		t.Errorf("SetRPM sent %q, want v3 -60", sent[len(sent)-1])
	}
	if err := d.Stop(ctx, nil); err != nil {
		t.Fatal(err)
	}

	if err := d.GoFor(ctx, 30, 1, nil); err != nil {
		t.Fatal(err)
	}
	pos, err := d.Position(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if pos != 1 {
		t.Errorf("Position = %v, want 1", pos)
	}
	if err := d.GoTo(ctx, 30, 0.5, nil); err != nil {
		t.Fatal(err)
	}
	if err := d.ResetZeroPosition(ctx, 0, nil); err != nil {
		t.Fatal(err)
	}
	if pos, _ := d.Position(ctx, nil); pos != 0 {
		t.Errorf("Position after reset = %v, want 0", pos)
	}

	out, err := d.DoCommand(ctx, map[string]interface{}{"anything": 1})
	if err != nil || len(out) != 0 {
		t.Errorf("DoCommand = %v, %v; want empty map", out, err)
	}
}

func TestDriverClose(t *testing.T) {
	tr := &closingTransport{fakeTransport: newFake(), closeErr: errors.New("busy")}
	d := newTestDriver(t, tr)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Close(ctx)
	if err == nil || err.Error() != "busy" {
		t.Errorf("Close = %v, want the transport's error", err)
	}
	if !tr.closed {
		t.Error("transport not closed")
	}
	if diff := cmp.Diff(tr.Sent(), []string{"c3", "z3"}); diff != "" {
		t.Errorf("unexpected commands: got(-)/want(+):\n%s", diff)
	}
}

func TestDriverUpdateConfig(t *testing.T) {
	d := newTestDriver(t, newFake())
	if err := d.Reconfigure(context.Background(), nil, resource.Config{}); err == nil {
		t.Error("Reconfigure succeeded; the driver must be rebuilt")
	}
	cfg := testConfig
	cfg.MaxRPM = 120
	if err := d.UpdateConfig(cfg); err != nil {
		t.Fatal(err)
	}
	if got := d.Config().MaxRPM; got != 120 {
		t.Errorf("max_rpm = %v, want 120", got)
	}
	cfg.StepsPerRevolution = 0
	if err := d.UpdateConfig(cfg); !errors.Is(err, ErrConfig) {
		t.Errorf("got %v, want %v", err, ErrConfig)
	}
	if got := d.Config().StepsPerRevolution; got != 200 {
		t.Errorf("steps_per_revolution = %d, want the old 200", got)
	}
}
