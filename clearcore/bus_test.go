package clearcore

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// scriptedLine returns its queued lines on the next poll.
type scriptedLine struct {
	queued []string
	sent   []string
	closed int
}

func (l *scriptedLine) Send(ctx context.Context, line string) error {
	l.sent = append(l.sent, line)
	return nil
}

func (l *scriptedLine) PollFeedback(ctx context.Context) ([]string, error) {
	lines := l.queued
	l.queued = nil
	return lines, nil
}

func (l *scriptedLine) Close() error {
	l.closed++
	return nil
}

func TestFeedbackMotorID(t *testing.T) {
	for _, test := range []struct {
		line string
		id   int
		ok   bool
	}{
		{"Motor 3 is in position (steps) 200", 3, true},
		{"Motor 12 enabled", 12, true},
		{"  Motor 0 disabled", 0, true},
		{"Motor3 enabled", 0, false},
		{"? bogus", 0, false},
		{"", 0, false},
	} {
		id, ok := FeedbackMotorID(test.line)
		if id != test.id || ok != test.ok {
			t.Errorf("FeedbackMotorID(%q) = %d, %t; want %d, %t", test.line, id, ok, test.id, test.ok)
		}
	}
}

func TestBusRouting(t *testing.T) {
	ctx := context.Background()
	line := &scriptedLine{}
	b := NewBus(line)
	p1, err := b.Port(1)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := b.Port(2)
	if err != nil {
		t.Fatal(err)
	}
	if p1.exchangeLock() != p2.exchangeLock() {
		t.Error("ports on one bus do not share the exchange lock")
	}

	line.queued = []string{
		"Motor 2 is in position (steps) 20",
		"Motor 1 is in position (steps) 10",
		"? bogus",
		"Motor 9 is in position (steps) 90",
		"Motor 2 enabled",
	}
	got, err := p1.PollFeedback(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(got, []string{"Motor 1 is in position (steps) 10", "? bogus"}); diff != "" {
		t.Errorf("motor 1 feedback: got(-)/want(+):\n%s", diff)
	}

	line.queued = []string{"Motor 2 disabled"}
	got, err = p2.PollFeedback(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Motor 2 is in position (steps) 20", "Motor 2 enabled", "Motor 2 disabled"}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("motor 2 feedback: got(-)/want(+):\n%s", diff)
	}
}

func TestBusMotors(t *testing.T) {
	ctx := context.Background()
	line := &scriptedLine{}
	b := NewBus(line)
	newMotor := func(id int) *Motor {
		p, err := b.Port(id)
		if err != nil {
			t.Fatal(err)
		}
		cfg := testConfig
		cfg.MotorID = id
		return newTestMotorConfig(t, cfg, p)
	}
	m1, m2 := newMotor(1), newMotor(2)

	// Controller output for both motors arrives while motor 1 exchanges.
	line.queued = []string{"Motor 2 is in position (steps) -50", "Motor 1 is in position (steps) 100"}
	pos, err := m1.Position(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pos != 0.5 {
		t.Errorf("motor 1 at %v, want 0.5", pos)
	}
	pos, err = m2.Position(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pos != -0.25 {
		t.Errorf("motor 2 at %v, want -0.25", pos)
	}
	if diff := cmp.Diff(line.sent, []string{"q1p", "q2p"}); diff != "" {
		t.Errorf("unexpected commands: got(-)/want(+):\n%s", diff)
	}
}

func TestBusPortOnce(t *testing.T) {
	b := NewBus(&scriptedLine{})
	if _, err := b.Port(3); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Port(3); !errors.Is(err, ErrConfig) {
		t.Errorf("second Port(3): got %v, want %v", err, ErrConfig)
	}
}

func TestBusClose(t *testing.T) {
	line := &scriptedLine{}
	b := NewBus(line)
	p1, _ := b.Port(1)
	p2, _ := b.Port(2)
	if err := p1.Close(); err != nil {
		t.Fatal(err)
	}
	p1.Close()
	if line.closed != 0 {
		t.Fatal("line closed while motor 2 is attached")
	}
	if err := p2.Close(); err != nil {
		t.Fatal(err)
	}
	if line.closed != 1 {
		t.Errorf("line closed %d times, want 1", line.closed)
	}
	if _, err := b.Port(1); err != nil {
		t.Errorf("reattaching motor 1: %v", err)
	}
}
