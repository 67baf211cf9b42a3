package clearcore

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// maxRouted bounds the feedback held for a motor that has not polled yet.
const maxRouted = 256

// Bus shares one controller line among the motor connectors wired to it.
// Each motor talks through its own Port. Exchanges on the line are
// serialized, and feedback naming a motor id is routed to that motor's
// port. Lines that name no motor go to the motor polling; lines naming a
// motor with no port are dropped.
type Bus struct {
	transport Transport
	exchange  sync.Mutex

	mu      sync.Mutex
	routed  map[int][]string
	ports   map[int]bool
	closers int
}

func NewBus(t Transport) *Bus {
	return &Bus{transport: t, routed: make(map[int][]string), ports: make(map[int]bool)}
}

// Port attaches motor id to the line. Each id may be attached once. Closing
// the last port closes the line's transport if it is an io.Closer.
func (b *Bus) Port(id int) (*Port, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ports[id] {
		return nil, &ConfigError{Field: "motor_id", Reason: fmt.Sprintf("motor %d is already attached to this controller", id)}
	}
	b.ports[id] = true
	b.closers++
	return &Port{bus: b, id: id}, nil
}

// Port is the Transport of one motor on a Bus.
type Port struct {
	bus  *Bus
	id   int
	once sync.Once
}

var _ Transport = (*Port)(nil)

func (p *Port) exchangeLock() sync.Locker {
	return &p.bus.exchange
}

func (p *Port) Send(ctx context.Context, line string) error {
	return p.bus.transport.Send(ctx, line)
}

// PollFeedback returns the lines routed to this motor since its last poll,
// followed by the new lines on the line that belong to it.
func (p *Port) PollFeedback(ctx context.Context) ([]string, error) {
	b := p.bus
	lines, err := b.transport.PollFeedback(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	mine := b.routed[p.id]
	delete(b.routed, p.id)
	for _, line := range lines {
		id, ok := FeedbackMotorID(line)
		switch {
		case !ok || id == p.id:
			mine = append(mine, line)
		case b.ports[id]:
			q := append(b.routed[id], line)
			if len(q) > maxRouted {
				q = q[len(q)-maxRouted:]
			}
			b.routed[id] = q
		}
	}
	return mine, err
}

// Close detaches the motor. It is safe to call more than once.
func (p *Port) Close() error {
	var err error
	p.once.Do(func() {
		b := p.bus
		b.mu.Lock()
		delete(b.ports, p.id)
		delete(b.routed, p.id)
		b.closers--
		last := b.closers == 0
		b.mu.Unlock()
		if c, ok := b.transport.(io.Closer); ok && last {
			err = c.Close()
		}
	})
	return err
}
