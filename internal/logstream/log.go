// Package logstream holds the append-only, replayable log of a single job.
//
// One producer appends lines; any number of subscribers read them. Every
// subscriber starts at sequence 0 and sees the full history in append order,
// then follows new lines until the log is closed and drained, or until its
// context is cancelled. Each subscriber keeps its own cursor, so a slow reader
// never delays the producer or other readers.
package logstream

import (
	"context"
	"sync"
)

type Entry struct {
	Seq  int    `json:"seq"`
	Line string `json:"line"`
}

type Log struct {
	mu     sync.Mutex
	lines  []string
	closed bool
	// wake is closed and replaced on every append and on Close.
	wake chan struct{}
	subs int
}

func New() *Log {
	return &Log{wake: make(chan struct{})}
}

// Append stores line under the next sequence number and wakes subscribers.
// Appending to a closed log is a no-op and returns -1.
func (l *Log) Append(line string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return -1
	}
	l.lines = append(l.lines, line)
	l.broadcast()
	return len(l.lines) - 1
}

// Close marks the log complete. Subscribers finish once they have drained it.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.broadcast()
}

func (l *Log) broadcast() {
	close(l.wake)
	l.wake = make(chan struct{})
}

func (l *Log) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines)
}

// Lines returns a copy of the full history.
func (l *Log) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// Subscribers reports how many subscriptions are still attached.
func (l *Log) Subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subs
}

// since returns the entries from seq on, whether the log is closed, and a
// channel that is closed on the next change.
func (l *Log) since(seq int) ([]string, bool, <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var pending []string
	if seq < len(l.lines) {
		// lines is append-only, so the shared backing array is safe to read.
		pending = l.lines[seq:len(l.lines):len(l.lines)]
	}
	return pending, l.closed, l.wake
}

// Subscribe replays the log from sequence 0 and then follows it. The returned
// channel is closed when the log is closed and fully delivered, or when ctx is
// done.
func (l *Log) Subscribe(ctx context.Context) <-chan Entry {
	out := make(chan Entry)

	l.mu.Lock()
	l.subs++
	l.mu.Unlock()

	go func() {
		defer func() {
			l.mu.Lock()
			l.subs--
			l.mu.Unlock()
			close(out)
		}()

		next := 0
		for {
			pending, closed, wake := l.since(next)
			for _, line := range pending {
				select {
				case out <- Entry{Seq: next, Line: line}:
					next++
				case <-ctx.Done():
					return
				}
			}
			if len(pending) > 0 {
				continue
			}
			if closed {
				return
			}
			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
