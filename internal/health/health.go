// Package health probes a supervised program from the outside and recycles
// it when it stops answering. A probe is an HTTP GET, a TCP connect or a
// shell command, run on an interval once a grace period after each spawn
// has passed.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/zhujunling-nj/anyservice/internal/supervisor"
)

// Status represents the health state of the current child.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Kind selects how a Check probes.
type Kind string

const (
	KindHTTP Kind = "http"
	KindTCP  Kind = "tcp"
	KindExec Kind = "exec"
)

const (
	DefaultInterval  = 10 * time.Second
	DefaultTimeout   = 5 * time.Second
	DefaultThreshold = 3
)

var ErrBadTarget = errors.New("health: unsupported check target")

// Check describes one probe and how often to run it.
type Check struct {
	Kind        Kind
	Target      string // URL, host:port or shell command
	Interval    time.Duration
	Timeout     time.Duration
	GracePeriod time.Duration // after each spawn, before the first probe
	Threshold   int           // consecutive failures before unhealthy
}

// ParseTarget builds a Check from "http://...", "https://...",
// "tcp://host:port" or "exec:command". Timing fields get defaults.
func ParseTarget(target string) (Check, error) {
	c := Check{Interval: DefaultInterval, Timeout: DefaultTimeout, Threshold: DefaultThreshold}
	switch {
	case strings.HasPrefix(target, "http://"), strings.HasPrefix(target, "https://"):
		u, err := url.Parse(target)
		if err != nil {
			return Check{}, fmt.Errorf("%w: %v", ErrBadTarget, err)
		}
		if u.Host == "" {
			return Check{}, fmt.Errorf("%w: %q has no host", ErrBadTarget, target)
		}
		c.Kind, c.Target = KindHTTP, u.String()
	case strings.HasPrefix(target, "tcp://"):
		addr := strings.TrimPrefix(target, "tcp://")
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return Check{}, fmt.Errorf("%w: %v", ErrBadTarget, err)
		}
		c.Kind, c.Target = KindTCP, addr
	case strings.HasPrefix(target, "exec:"):
		cmd := strings.TrimSpace(strings.TrimPrefix(target, "exec:"))
		if cmd == "" {
			return Check{}, fmt.Errorf("%w: empty command", ErrBadTarget)
		}
		c.Kind, c.Target = KindExec, cmd
	default:
		return Check{}, fmt.Errorf("%w: %q", ErrBadTarget, target)
	}
	return c, nil
}

// Probe runs the check once.
func (c Check) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	switch c.Kind {
	case KindHTTP:
		return probeHTTP(ctx, c.Target)
	case KindTCP:
		return probeTCP(ctx, c.Target)
	case KindExec:
		return probeExec(ctx, c.Target)
	default:
		return fmt.Errorf("unknown health check type: %s", c.Kind)
	}
}

func (c Check) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func probeHTTP(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
	}
	return nil
}

func probeTCP(ctx context.Context, addr string) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp connect failed: %w", err)
	}
	conn.Close()
	return nil
}

func probeExec(ctx context.Context, command string) error {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Monitor probes on an interval and calls onUnhealthy once per child when
// the failure threshold is reached. It is a supervisor.Observer: every
// spawn resets the state and restarts the grace period, and probing pauses
// from an exit until the next spawn.
type Monitor struct {
	check       Check
	logger      *slog.Logger
	onUnhealthy func()
	wake        chan struct{}

	mu               sync.Mutex
	alive            bool   // a child is running
	generation       uint64 // bumped on every spawn and exit
	status           Status
	consecutiveFails int
}

// NewMonitor creates a monitor. Nothing is probed until Run.
func NewMonitor(check Check, logger *slog.Logger, onUnhealthy func()) *Monitor {
	if check.Threshold <= 0 {
		check.Threshold = DefaultThreshold
	}
	if check.Interval <= 0 {
		check.Interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.With("component", "health")
	}
	return &Monitor{
		check:       check,
		logger:      logger,
		onUnhealthy: onUnhealthy,
		wake:        make(chan struct{}, 1),
		status:      StatusUnknown,
	}
}

// Observe implements supervisor.Observer.
func (m *Monitor) Observe(ev supervisor.Event) {
	m.mu.Lock()
	switch ev.Kind {
	case supervisor.EventSpawn:
		m.alive = true
	case supervisor.EventExit, supervisor.EventSpawnFailed:
		m.alive = false
	default:
		m.mu.Unlock()
		return
	}
	m.generation++
	m.status = StatusUnknown
	m.consecutiveFails = 0
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// CurrentStatus returns the status of the current child.
func (m *Monitor) CurrentStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Run probes until ctx is cancelled. Probing waits for the first spawn.
func (m *Monitor) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
			m.mu.Lock()
			alive := m.alive
			m.mu.Unlock()
			if alive {
				timer.Reset(m.check.GracePeriod)
			} else {
				timer.Stop()
			}
		case <-timer.C:
			if m.probe(ctx) {
				timer.Reset(m.check.Interval)
			}
		}
	}
}

// probe runs one check against the current child and reports whether the
// child is still there to be probed again.
func (m *Monitor) probe(ctx context.Context) bool {
	m.mu.Lock()
	gen, alive := m.generation, m.alive
	m.mu.Unlock()
	if !alive {
		return false
	}

	err := m.check.Probe(ctx)
	// The monitor is shutting down; the result says nothing about the child.
	if ctx.Err() != nil {
		return false
	}

	m.mu.Lock()
	if m.generation != gen {
		// The child exited or was replaced while the check ran.
		m.mu.Unlock()
		return false
	}
	prev := m.status
	if err == nil {
		m.consecutiveFails = 0
		m.status = StatusHealthy
	} else {
		m.consecutiveFails++
		if m.consecutiveFails >= m.check.Threshold {
			m.status = StatusUnhealthy
		}
	}
	next := m.status
	fails := m.consecutiveFails
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("health check failed",
			"error", err,
			"consecutive_fails", fails,
			"threshold", m.check.Threshold,
		)
	} else if prev != StatusHealthy {
		m.logger.Info("health check passed", "check", string(m.check.Kind))
	}

	if prev != StatusUnhealthy && next == StatusUnhealthy {
		m.logger.Error("program is unhealthy", "consecutive_fails", fails)
		if m.onUnhealthy != nil {
			m.onUnhealthy()
		}
	}
	return true
}
