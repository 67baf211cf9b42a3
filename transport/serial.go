package transport

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/sync/errgroup"
)

// DefaultBaud is the USB serial rate of the ClearCore command firmware.
const DefaultBaud = 115200

// Serial is a local serial port. It keeps trying to (re)open the port in the
// background; Send fails with ErrNotConnected while it is closed.
type Serial struct {
	name   string
	baud   int
	logger *log.Logger
	buf    lineBuffer

	mu sync.Mutex
	s  *serial.Port

	cancel context.CancelFunc
	done   chan struct{}
}

func OpenSerial(ctx context.Context, port string, baud int, logger *log.Logger) *Serial {
	if baud == 0 {
		baud = DefaultBaud
	}
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Serial{name: port, baud: baud, logger: logger, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		s.reconnectLoop(ctx)
	}()
	return s
}

func (s *Serial) reconnectLoop(ctx context.Context) {
	for {
		c := &serial.Config{Name: s.name, Baud: s.baud}
		p, err := serial.OpenPort(c)
		if err != nil {
			s.logger.Printf("opening %q: %v", s.name, err)
		} else {
			s.logger.Printf("opened %q", s.name)
			s.mu.Lock()
			s.s = p
			s.mu.Unlock()
			if err := s.watch(ctx, p); err != nil {
				s.logger.Printf("reading %q: %v", s.name, err)
			}
			s.mu.Lock()
			s.s = nil
			s.mu.Unlock()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
	}
}

func (s *Serial) watch(ctx context.Context, p io.ReadWriteCloser) error {
	g, ctx := errgroup.WithContext(ctx)
	stop := make(chan struct{})
	g.Go(func() error {
		// Close the port on cancellation so the blocked read returns.
		select {
		case <-ctx.Done():
		case <-stop:
		}
		return p.Close()
	})
	g.Go(func() error {
		defer close(stop)
		err := scanLines(p, &s.buf)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	return g.Wait()
}

func (s *Serial) Send(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.s == nil {
		return ErrNotConnected
	}
	s.logger.Printf("Writing: %s", line)
	if _, err := s.s.Write([]byte(line + "\n")); err != nil {
		return err
	}
	return nil
}

func (s *Serial) PollFeedback(ctx context.Context) ([]string, error) {
	lines, dropped := s.buf.drain()
	if dropped > 0 {
		s.logger.Printf("%s: dropped %d feedback lines", s.name, dropped)
	}
	return lines, nil
}

// Close stops reconnecting and closes the port.
func (s *Serial) Close() error {
	s.cancel()
	<-s.done
	return nil
}
