package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhujunling-nj/anyservice/internal/logbuf"
	"github.com/zhujunling-nj/anyservice/internal/supervisor"
)

const (
	defaultBufSize = 1000

	// drainDelay bounds how long output is still copied after the child
	// exits, in case a grandchild inherited the pipes.
	drainDelay = 2 * time.Second

	stderrTail = 5
)

// NativeConfig holds configuration for spawning native processes.
type NativeConfig struct {
	Env     []string // nil inherits the service's environment
	BufSize int      // lines kept per stream, 0 for default
	LogRate float64  // forwarded lines per second per stream, 0 for no limit
	Logger  *slog.Logger
}

// Native spawns children with os/exec.
type Native struct {
	env     []string
	bufSize int
	logRate float64
	logger  *slog.Logger
}

// NewNative creates a native spawner.
func NewNative(cfg NativeConfig) *Native {
	bufSize := cfg.BufSize
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.With("component", "child")
	}
	return &Native{
		env:     cfg.Env,
		bufSize: bufSize,
		logRate: cfg.LogRate,
		logger:  logger,
	}
}

// Spawn starts launch. The child is not bound to ctx; the supervisor
// decides when it is terminated.
func (n *Native) Spawn(_ context.Context, launch supervisor.LaunchSpec) (supervisor.Process, error) {
	if len(launch.Args) == 0 || launch.Path == "" {
		return nil, supervisor.ErrNoProgram
	}

	cmd := exec.Command(launch.Path, launch.Args[1:]...)
	cmd.Args = append([]string(nil), launch.Args...)
	cmd.Env = n.env
	cmd.Dir = launch.Dir
	cmd.SysProcAttr = sysProcAttr(launch)

	// The child gets plain file ends so Wait returns when it is reaped,
	// not when every holder of the pipes has closed them.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdoutR.Close()
		stderrR.Close()
		return nil, fmt.Errorf("starting process: %w", err)
	}

	p := &nativeProcess{
		cmd: cmd,
		pid: cmd.Process.Pid,
		stdout: logbuf.New(n.bufSize,
			logbuf.WithLogger(n.logger.With("stream", "stdout")),
			logbuf.WithRate(n.logRate)),
		stderr: logbuf.New(n.bufSize,
			logbuf.WithLogger(n.logger.With("stream", "stderr")),
			logbuf.WithRate(n.logRate)),
		pipes:    []*os.File{stdoutR, stderrR},
		logger:   n.logger.With("pid", cmd.Process.Pid),
		done:     make(chan struct{}),
		drained:  make(chan struct{}),
		exitCode: -1,
	}
	p.copying.Add(2)
	go p.copyOutput(p.stdout, stdoutR)
	go p.copyOutput(p.stderr, stderrR)
	go p.wait()
	return p, nil
}

// nativeProcess is a child started by Native. The wait goroutine owns the
// OS handle and frees it when the child has been reaped.
type nativeProcess struct {
	cmd    *exec.Cmd
	pid    int
	stdout *logbuf.Ring
	stderr *logbuf.Ring
	pipes  []*os.File // read ends, closed once copying is over
	logger *slog.Logger

	copying  sync.WaitGroup
	done     chan struct{} // closed when the child has been reaped
	drained  chan struct{} // closed when its output has been collected
	exitCode int           // written before done is closed
	released atomic.Bool
}

func (p *nativeProcess) copyOutput(ring *logbuf.Ring, r io.Reader) {
	defer p.copying.Done()
	_, _ = io.Copy(ring, r)
	ring.Flush()
}

func (p *nativeProcess) wait() {
	err := p.cmd.Wait()

	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.logger.Warn("waiting for process", "error", err)
	}
	close(p.done)

	p.drain()
	if p.exitCode != 0 {
		if tail := p.stderr.Last(stderrTail); len(tail) > 0 {
			p.logger.Warn("process exited with error", "exit_code", p.exitCode, "stderr", strings.Join(tail, "\n"))
		}
	}
	close(p.drained)
}

// drain waits for the output copies to finish. A descendant still holding
// the pipes after drainDelay loses them; the copies are not waited for
// after that.
func (p *nativeProcess) drain() {
	copied := make(chan struct{})
	go func() {
		p.copying.Wait()
		close(copied)
	}()

	t := time.NewTimer(drainDelay)
	defer t.Stop()
	select {
	case <-copied:
	case <-t.C:
		p.logger.Warn("output still open after exit, closing it", "delay", drainDelay)
	}
	for _, f := range p.pipes {
		f.Close()
	}
}

func (p *nativeProcess) Pid() int { return p.pid }

func (p *nativeProcess) Done() <-chan struct{} { return p.done }

func (p *nativeProcess) ExitCode() int {
	select {
	case <-p.done:
		return p.exitCode
	default:
		return -1
	}
}

// Terminate kills the child itself (TerminateProcess or SIGKILL). A child
// that has already been reaped counts as terminated.
func (p *nativeProcess) Terminate() error {
	if err := p.cmd.Process.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("killing process %d: %w", p.pid, err)
	}
	return nil
}

// Release gives up the handle. A reaped child has nothing left to free;
// a child that outlived its stop is detached, and the wait goroutine frees
// the handle once it finally exits.
func (p *nativeProcess) Release() error {
	if !p.released.CompareAndSwap(false, true) {
		return nil
	}
	select {
	case <-p.done:
	default:
		p.logger.Warn("detaching from process that has not exited")
	}
	return nil
}
