// Package simulator models a ClearCore controller on the other end of a
// net.Pipe so the driver can run without hardware.
package simulator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/c-j-payne/ClearCore/clearcore"
)

const (
	// Discrete simulation step size
	stepSize = 25 * time.Millisecond

	defaultStepsPerRevolution = 200
)

type axis struct {
	enabled bool
	// position is kept fractional so slow moves still advance between ticks.
	position float64
	target   int64
	moving   bool
	// limit is the velocity limit of relative moves in steps/minute.
	limit int64
	// velocity is the velocity mode setpoint in RPM.
	velocity int64
}

type Simulator struct {
	// TimeScale multiplies simulated time. Zero means 1.
	TimeScale float64
	// StepsPerRevolution converts velocity mode RPM to steps. Zero means 200.
	StepsPerRevolution int
	// Quiet suppresses per-line logging.
	Quiet bool

	conn io.ReadWriteCloser
	mu   sync.Mutex
	axes map[int]*axis
}

// New returns a simulator and the connection the driver should talk to.
func New() (*Simulator, net.Conn) {
	a, b := net.Pipe()
	return &Simulator{conn: a, axes: make(map[int]*axis)}, b
}

func (s *Simulator) axis(id int) *axis {
	a, ok := s.axes[id]
	if !ok {
		a = &axis{}
		s.axes[id] = a
	}
	return a
}

// Position returns the position of motor id in whole steps.
func (s *Simulator) Position(id int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(math.Round(s.axis(id).position))
}

func (s *Simulator) Enabled(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.axis(id).enabled
}

// SetPosition moves motor id instantly, as if pushed by hand.
func (s *Simulator) SetPosition(id int, steps int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.axis(id)
	a.position = float64(steps)
	a.target = steps
}

func (s *Simulator) handle(input string) error {
	cmd, err := clearcore.ParseCommand(input)
	if err != nil {
		return multierr.Append(err, s.send("? %s", input))
	}
	s.mu.Lock()
	var reply string
	a := s.axis(cmd.MotorID)
	switch cmd.Op {
	case clearcore.OpClearErrors:
		reply = fmt.Sprintf("Motor %d alerts cleared", cmd.MotorID)
	case clearcore.OpZeroPosition:
		a.position, a.target, a.moving = 0, 0, false
		reply = fmt.Sprintf("Motor %d position zeroed", cmd.MotorID)
	case clearcore.OpEnable:
		a.enabled = true
		reply = fmt.Sprintf("Motor %d enabled", cmd.MotorID)
	case clearcore.OpDisable:
		a.enabled, a.moving, a.velocity = false, false, 0
		reply = fmt.Sprintf("Motor %d disabled", cmd.MotorID)
	case clearcore.OpSetVelocity:
		a.velocity = cmd.Value
		if cmd.Value != 0 {
			a.moving = false
		}
		reply = fmt.Sprintf("Motor %d velocity %d", cmd.MotorID, cmd.Value)
	case clearcore.OpSetVelocityLimit:
		a.limit = cmd.Value
		reply = fmt.Sprintf("Motor %d velocity limit %d", cmd.MotorID, cmd.Value)
	case clearcore.OpMoveRelative:
		if a.enabled {
			a.target = int64(math.Round(a.position)) + cmd.Value
			a.moving = true
			reply = fmt.Sprintf("Motor %d moving %d steps", cmd.MotorID, cmd.Value)
		} else {
			reply = fmt.Sprintf("Motor %d is disabled", cmd.MotorID)
		}
	case clearcore.OpQueryPosition:
		reply = clearcore.FormatPositionReport(cmd.MotorID, int64(math.Round(a.position)))
	}
	s.mu.Unlock()
	return s.send("%s", reply)
}

func (s *Simulator) Run(ctx context.Context) error {
	t := time.NewTicker(stepSize)
	defer t.Stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Wait for context to be canceled, then close connection.
		<-ctx.Done()
		return s.conn.Close()
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			s.step()
		}
	})
	g.Go(s.reader)
	return g.Wait()
}

func (s *Simulator) reader() error {
	scanner := bufio.NewScanner(s.conn)
	for scanner.Scan() {
		input := scanner.Text()
		if !s.Quiet {
			log.Printf("srv->sim: %s", input)
		}
		if err := s.handle(input); err != nil {
			log.Printf("parsing %q: %v", input, err)
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading port: %w", err)
	}
	return io.EOF
}

func (s *Simulator) step() {
	scale := s.TimeScale
	if scale == 0 {
		scale = 1
	}
	spr := s.StepsPerRevolution
	if spr == 0 {
		spr = defaultStepsPerRevolution
	}
	minutes := stepSize.Minutes() * scale

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.axes {
		if !a.enabled {
			continue
		}
		switch {
		case a.moving:
			delta := float64(a.limit) * minutes
			remaining := float64(a.target) - a.position
			if math.Abs(remaining) <= delta {
				a.position = float64(a.target)
				a.moving = false
			} else {
				a.position += math.Copysign(delta, remaining)
			}
		case a.velocity != 0:
			a.position += float64(a.velocity) * float64(spr) * minutes
		}
	}
}

func (s *Simulator) send(cmd string, fields ...interface{}) error {
	if len(fields) > 0 {
		cmd = fmt.Sprintf(cmd, fields...)
	}
	if !s.Quiet {
		log.Printf("sim->srv: %s", cmd)
	}
	_, err := fmt.Fprintf(s.conn, "%s\n", cmd)
	return err
}
