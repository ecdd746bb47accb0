// Package logbuf captures a child process's output. Each complete line is
// kept in a fixed-size ring and optionally forwarded to a structured
// logger, throttled so a chatty child cannot flood the service log.
package logbuf

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Ring is a thread-safe ring buffer of the last N output lines.
// It implements io.Writer so it can be used as stdout/stderr for a process.
type Ring struct {
	mu    sync.Mutex
	lines []string
	size  int
	pos   int
	full  bool
	// partial holds an incomplete line (no trailing newline yet)
	partial bytes.Buffer

	logger  *slog.Logger
	limiter *rate.Limiter
	dropped int
}

// Option configures a Ring.
type Option func(*Ring)

// WithLogger forwards every complete line to logger at info level.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Ring) {
		r.logger = logger
	}
}

// WithRate caps forwarded lines per second with a burst of the same size.
// Lines over the cap are still kept in the ring; a count of the dropped
// lines is logged with the next line that gets through.
func WithRate(perSecond float64) Option {
	return func(r *Ring) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// New creates a ring buffer that stores the last n lines.
func New(n int, opts ...Option) *Ring {
	if n <= 0 {
		n = 1
	}
	r := &Ring{
		lines: make([]string, n),
		size:  n,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Write implements io.Writer. Splits input on newlines and stores each line.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.partial.Write(p)

	for {
		line, err := r.partial.ReadString('\n')
		if err != nil {
			// No more complete lines, put the partial back
			r.partial.Reset()
			r.partial.WriteString(line)
			break
		}
		r.addLine(strings.TrimRight(line, "\r\n"))
	}

	return len(p), nil
}

// Flush stores and forwards a trailing line that never got its newline.
func (r *Ring) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.partial.Len() == 0 {
		return
	}
	line := strings.TrimRight(r.partial.String(), "\r")
	r.partial.Reset()
	r.addLine(line)
}

func (r *Ring) addLine(line string) {
	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % r.size
	if r.pos == 0 {
		r.full = true
	}
	r.forward(line)
}

func (r *Ring) forward(line string) {
	if r.logger == nil {
		return
	}
	if r.limiter != nil && !r.limiter.Allow() {
		r.dropped++
		return
	}
	if r.dropped > 0 {
		r.logger.Warn("output throttled", "dropped_lines", r.dropped)
		r.dropped = 0
	}
	r.logger.Info(line)
}

// Dropped returns how many lines were not forwarded since the last one that was.
func (r *Ring) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Lines returns all stored lines in order, oldest first.
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		result := make([]string, r.pos)
		copy(result, r.lines[:r.pos])
		return result
	}

	result := make([]string, r.size)
	copy(result, r.lines[r.pos:])
	copy(result[r.size-r.pos:], r.lines[:r.pos])
	return result
}

// Last returns the last n lines. If fewer lines exist, returns all of them.
func (r *Ring) Last(n int) []string {
	all := r.Lines()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}
