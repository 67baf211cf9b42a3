package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Stream speaks the line protocol over any connection, such as a TCP serial
// server or a pipe to the simulator.
type Stream struct {
	conn   io.ReadWriteCloser
	logger *log.Logger
	buf    lineBuffer

	writeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// NewStream starts reading conn in the background. The stream stops when
// ctx is canceled, Close is called or conn reaches EOF.
func NewStream(ctx context.Context, conn io.ReadWriteCloser, logger *log.Logger) *Stream {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{conn: conn, logger: logger, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		s.err = s.watch(ctx)
	}()
	return s
}

// DialTCP connects to a serial-over-TCP server.
func DialTCP(ctx context.Context, addr string, logger *log.Logger) (*Stream, error) {
	dialer := &net.Dialer{
		Timeout: time.Second,
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", addr, err)
	}
	return NewStream(ctx, conn, logger), nil
}

func (s *Stream) watch(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Wait for context to be canceled, then close connection.
		<-ctx.Done()
		return s.conn.Close()
	})
	g.Go(func() error {
		defer s.cancel()
		err := scanLines(s.conn, &s.buf)
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	return g.Wait()
}

// scanLines feeds non-empty lines from r into buf until r fails.
func scanLines(r io.Reader, buf *lineBuffer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		buf.push(line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading port: %w", err)
	}
	return nil
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

func (s *Stream) Send(ctx context.Context, line string) error {
	select {
	case <-s.done:
		return ErrNotConnected
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if wd, ok := s.conn.(writeDeadliner); ok {
		deadline, _ := ctx.Deadline()
		if err := wd.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("setting write deadline: %w", err)
		}
	}
	s.logger.Printf("Writing: %s", line)
	if _, err := io.WriteString(s.conn, line+"\n"); err != nil {
		return err
	}
	return nil
}

// PollFeedback returns the lines read since the last call. Once the stream
// has stopped and everything buffered has been returned, it reports why.
func (s *Stream) PollFeedback(ctx context.Context) ([]string, error) {
	lines, dropped := s.buf.drain()
	if dropped > 0 {
		s.logger.Printf("dropped %d feedback lines", dropped)
	}
	if len(lines) == 0 {
		select {
		case <-s.done:
			if s.err != nil {
				return nil, s.err
			}
			return nil, ErrNotConnected
		default:
		}
	}
	return lines, nil
}

// Close stops the reader and closes the connection.
func (s *Stream) Close() error {
	s.cancel()
	<-s.done
	return s.err
}
