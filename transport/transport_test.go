package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var quiet = log.New(io.Discard, "", 0)

func TestLineBuffer(t *testing.T) {
	var b lineBuffer
	for i := 0; i < maxPending+5; i++ {
		b.push(strconv.Itoa(i))
	}
	lines, dropped := b.drain()
	if dropped != 5 {
		t.Errorf("dropped %d lines, want 5", dropped)
	}
	if len(lines) != maxPending || lines[0] != "5" || lines[len(lines)-1] != strconv.Itoa(maxPending+4) {
		t.Errorf("got %d lines from %q to %q", len(lines), lines[0], lines[len(lines)-1])
	}
	if lines, dropped := b.drain(); len(lines) != 0 || dropped != 0 {
		t.Errorf("second drain = %q, %d; want nothing", lines, dropped)
	}
}

// pollUntil polls p until it has returned want lines or fails.
func pollUntil(t *testing.T, poll func(context.Context) ([]string, error), want int) ([]string, error) {
	t.Helper()
	var got []string
	deadline := time.Now().Add(5 * time.Second)
	for len(got) < want && time.Now().Before(deadline) {
		lines, err := poll(context.Background())
		got = append(got, lines...)
		if err != nil {
			return got, err
		}
		time.Sleep(5 * time.Millisecond)
	}
	return got, nil
}

func TestStream(t *testing.T) {
	a, b := net.Pipe()
	s := NewStream(context.Background(), a, quiet)
	defer s.Close()

	go fmt.Fprint(b, "Motor 3 enabled\r\n\n   \nMotor 3 is in position (steps) 200\n")
	got, err := pollUntil(t, s.PollFeedback, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Motor 3 enabled", "Motor 3 is in position (steps) 200"}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("unexpected feedback: got(-)/want(+):\n%s", diff)
	}

	r := bufio.NewReader(b)
	errc := make(chan error, 1)
	go func() {
		errc <- s.Send(context.Background(), "q3p")
	}()
	b.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "q3p\n" {
		t.Errorf("wrote %q, want %q", line, "q3p\n")
	}
	if err := <-errc; err != nil {
		t.Errorf("Send: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Send(ctx, "e3"); !errors.Is(err, context.Canceled) {
		t.Errorf("Send with cancelled context: got %v, want %v", err, context.Canceled)
	}
}

func TestStreamRemoteClose(t *testing.T) {
	a, b := net.Pipe()
	s := NewStream(context.Background(), a, quiet)
	defer s.Close()

	fmt.Fprint(b, "last words\n")
	b.Close()
	got, err := pollUntil(t, s.PollFeedback, 2)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("PollFeedback: got %v, want %v", err, ErrNotConnected)
	}
	if diff := cmp.Diff(got, []string{"last words"}); diff != "" {
		t.Errorf("unexpected feedback: got(-)/want(+):\n%s", diff)
	}
	if err := s.Send(context.Background(), "e3"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send: got %v, want %v", err, ErrNotConnected)
	}
}

func TestSerialWatch(t *testing.T) {
	a, b := net.Pipe()
	s := &Serial{name: "pipe", logger: quiet}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.watch(ctx, a)
	}()

	fmt.Fprint(b, "Motor 1 disabled\n")
	got, err := pollUntil(t, s.PollFeedback, 1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(got, []string{"Motor 1 disabled"}); diff != "" {
		t.Errorf("unexpected feedback: got(-)/want(+):\n%s", diff)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
}

func TestSerialMissingPort(t *testing.T) {
	s := OpenSerial(context.Background(), "/dev/does-not-exist", 0, quiet)
	if s.baud != DefaultBaud {
		t.Errorf("baud = %d, want %d", s.baud, DefaultBaud)
	}
	if err := s.Send(context.Background(), "e3"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send: got %v, want %v", err, ErrNotConnected)
	}
	if lines, err := s.PollFeedback(context.Background()); err != nil || len(lines) != 0 {
		t.Errorf("PollFeedback = %q, %v; want nothing", lines, err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

var errNoDeadline = errors.New("deadlines unsupported")

type noDeadlineConn struct {
	net.Conn
}

func (noDeadlineConn) SetWriteDeadline(time.Time) error {
	return errNoDeadline
}

func TestStreamWriteDeadlineError(t *testing.T) {
	a, _ := net.Pipe()
	s := NewStream(context.Background(), noDeadlineConn{a}, quiet)
	defer s.Close()
	if err := s.Send(context.Background(), "e3"); !errors.Is(err, errNoDeadline) {
		t.Errorf("Send: got %v, want %v", err, errNoDeadline)
	}
}
