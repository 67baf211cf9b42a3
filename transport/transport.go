// Package transport carries ClearCore command lines over serial ports and
// streams, buffering feedback lines until they are polled.
package transport

import (
	"errors"
	"sync"
)

var ErrNotConnected = errors.New("not connected")

// maxPending bounds the feedback kept between polls. The oldest lines are
// dropped first.
const maxPending = 1024

type lineBuffer struct {
	mu      sync.Mutex
	lines   []string
	dropped int
}

func (b *lineBuffer) push(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) >= maxPending {
		b.lines = b.lines[1:]
		b.dropped++
	}
	b.lines = append(b.lines, line)
}

// drain returns the buffered lines in arrival order along with the number
// of lines dropped since the last drain.
func (b *lineBuffer) drain() ([]string, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines, dropped := b.lines, b.dropped
	b.lines, b.dropped = nil, 0
	return lines, dropped
}
