// Package supervisor runs one child process for the lifetime of a service:
// it spawns the program, waits for it, respawns it after it exits and tears
// it down when the service framework asks the service to stop.
//
// Run is the supervisory loop and owns the child. Notify is the control
// handler; it may be called from any goroutine, typically the one the
// service framework delivers notifications on.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultStopTimeout bounds the wait for a terminated child to exit.
	DefaultStopTimeout = 20 * time.Second

	// DefaultCheckpointInterval is how often a pending stop reports progress.
	DefaultCheckpointInterval = time.Second

	// killTimeout bounds a single call into the external killer.
	killTimeout = 10 * time.Second
)

// Spawner creates child processes.
type Spawner interface {
	Spawn(ctx context.Context, launch LaunchSpec) (Process, error)
}

// Process is a running child created by a Spawner.
type Process interface {
	// Pid returns the OS process identifier.
	Pid() int
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// ExitCode returns the exit code after Done is closed, -1 if unknown.
	ExitCode() int
	// Terminate forcibly ends this process only.
	Terminate() error
	// Release frees the OS handle. It is called exactly once.
	Release() error
}

// Killer is the external termination path, used for tree kills and as
// the fallback when Process.Terminate fails.
type Killer interface {
	Kill(ctx context.Context, pid int, tree bool) error
}

// Reporter receives every status change. Implementations must be safe for
// concurrent use; reports arrive from both Run and Notify. Report must not
// call back into the Supervisor.
type Reporter interface {
	Report(Status)
}

// Observer receives child lifecycle events. Observe is called from the
// goroutine running Run with no locks held.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Status)

func (f ReporterFunc) Report(st Status) { f(st) }

// Supervisor keeps a single child process running.
type Supervisor struct {
	launch             LaunchSpec
	policy             RestartPolicy
	spawner            Spawner
	killer             Killer
	reporter           Reporter
	observers          []Observer
	logger             *slog.Logger
	stopTimeout        time.Duration
	checkpointInterval time.Duration

	mu           sync.Mutex
	state        State
	child        Process
	termSent     bool // termination already issued for child
	terminating  sync.WaitGroup
	recycled     bool // child was terminated by Recycle
	stopping     bool
	announced    bool // Running has been reported
	stopCh       chan struct{}
	done         chan struct{}
	restartCount int
	lastExitCode int
	startedAt    time.Time

	checkpoint atomic.Uint32

	reportMu sync.Mutex
	final    bool // Stopped has been reported
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithReporter sets where status changes are reported.
func WithReporter(r Reporter) Option {
	return func(s *Supervisor) {
		s.reporter = r
	}
}

// WithObserver adds an observer of child lifecycle events.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = l
	}
}

// WithStopTimeout bounds how long a stop waits for the terminated child.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithCheckpointInterval sets how often a pending stop reports progress.
func WithCheckpointInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.checkpointInterval = d
		}
	}
}

// New creates a supervisor for launch. Nothing runs until Run is called.
func New(launch LaunchSpec, policy RestartPolicy, spawner Spawner, killer Killer, opts ...Option) *Supervisor {
	s := &Supervisor{
		launch:             launch,
		policy:             policy,
		spawner:            spawner,
		killer:             killer,
		reporter:           ReporterFunc(func(Status) {}),
		logger:             slog.With("component", "supervisor"),
		stopTimeout:        DefaultStopTimeout,
		checkpointInterval: DefaultCheckpointInterval,
		state:              StateIdle,
		lastExitCode:       -1,
		stopCh:             make(chan struct{}),
		done:               make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Launch returns the launch parameters.
func (s *Supervisor) Launch() LaunchSpec {
	return s.launch
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a snapshot of the supervisor.
func (s *Supervisor) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		State:        s.state,
		RestartCount: s.restartCount,
		LastExitCode: s.lastExitCode,
		StartedAt:    s.startedAt,
	}
	if s.child != nil {
		info.PID = s.child.Pid()
	}
	return info
}

// Done is closed when Run returns.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// supervisionPhase is a step of the supervisory loop.
type supervisionPhase int

const (
	phaseStarting   supervisionPhase = iota // spawn the child
	phaseRunning                            // wait for exit or a stop request
	phaseStopping                           // wait for a terminated child to go away
	phaseEvaluating                         // release the child, decide on restart
	phaseRestarting                         // fixed backoff, then spawn again
	phaseStopped                            // terminal
)

// Run supervises the child until a stop is requested, the child exits with
// restarts disabled, or the child cannot be created. Cancelling ctx is the
// same as Notify(ControlStop). The only error returned is a *SpawnError
// (or ErrAlreadyRunning); it has also been reported through the Reporter.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = StateStarting
	if s.stopping {
		s.state = StateStopRequested
	}
	s.mu.Unlock()
	defer close(s.done)

	stopOnCancel := context.AfterFunc(ctx, func() { s.Notify(ControlStop) })
	defer stopOnCancel()

	s.report(Status{State: StateStarting, WaitHint: s.waitHint(), ExitCode: -1})

	var (
		proc       Process
		err        error
		phase      = phaseStarting
		spawnCount int
	)

	for phase != phaseStopped {
		switch phase {
		case phaseStarting:
			proc, phase, err = s.handleStarting(ctx)
			if proc != nil {
				spawnCount++
			}
		case phaseRunning:
			phase = s.handleRunning(proc)
		case phaseStopping:
			phase = s.handleStopping(proc)
		case phaseEvaluating:
			phase = s.handleEvaluating(proc)
			proc = nil
		case phaseRestarting:
			phase = s.handleRestarting()
		}
	}

	s.mu.Lock()
	s.state = StateStopped
	exitCode := s.lastExitCode
	s.mu.Unlock()

	s.logger.Info("supervisor stopped", "spawns", spawnCount, "last_exit_code", exitCode)
	s.report(Status{State: StateStopped, ExitCode: exitCode, Err: err})
	return err
}

// handleStarting creates the child. A stop that arrived while the child was
// being created is honoured here, since Notify had no child to terminate.
func (s *Supervisor) handleStarting(ctx context.Context) (Process, supervisionPhase, error) {
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		return nil, phaseStopped, nil
	}

	s.logger.Info("starting process", "path", s.launch.Path, "dir", s.launch.Dir, "command_line", s.launch.CommandLine)
	proc, err := s.spawner.Spawn(ctx, s.launch)
	if err != nil {
		s.logger.Error("failed to start process", "path", s.launch.Path, "error", err)
		spawnErr := &SpawnError{Path: s.launch.Path, Dir: s.launch.Dir, Err: err}
		s.observe(Event{Kind: EventSpawnFailed, RestartCount: s.restarts(), Err: spawnErr})
		return nil, phaseStopped, spawnErr
	}
	s.observe(Event{Kind: EventSpawn, PID: proc.Pid(), RestartCount: s.restarts()})

	s.mu.Lock()
	defer s.mu.Unlock()

	s.child = proc
	s.termSent = false
	s.recycled = false
	s.startedAt = time.Now()
	s.logger.Info("process started", "pid", proc.Pid())

	if s.stopping {
		s.state = StateStopRequested
		if claimed := s.claimTerminationLocked(); claimed != nil {
			go s.terminate(claimed)
		}
		return proc, phaseStopping, nil
	}
	s.state = StateRunning
	if !s.announced {
		// Reported under s.mu so a concurrent Notify cannot report
		// stop-pending ahead of it.
		s.announced = true
		s.report(Status{State: StateRunning, ExitCode: -1})
	}
	return proc, phaseRunning, nil
}

// handleRunning blocks until the child exits or a stop is requested.
func (s *Supervisor) handleRunning(proc Process) supervisionPhase {
	select {
	case <-proc.Done():
		return phaseEvaluating
	case <-s.stopCh:
		return phaseStopping
	}
}

// handleStopping waits for the child that Notify terminated, reporting a
// checkpoint on every tick. If the child outlives the stop timeout the
// handle is released anyway so the service can report Stopped on time.
func (s *Supervisor) handleStopping(proc Process) supervisionPhase {
	timeout := time.NewTimer(s.stopTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-proc.Done():
			return phaseEvaluating
		case <-ticker.C:
			s.report(Status{
				State:      StateStopRequested,
				CheckPoint: s.checkpoint.Add(1),
				WaitHint:   s.waitHint(),
				ExitCode:   -1,
			})
		case <-timeout.C:
			s.logger.Error("process still running after termination, giving up", "pid", proc.Pid(), "timeout", s.stopTimeout)
			return phaseEvaluating
		}
	}
}

// handleEvaluating releases the child and decides whether to restart. The
// stop flag is read here, after the wait, so a stop that won the race
// against a natural exit always prevents the respawn.
func (s *Supervisor) handleEvaluating(proc Process) supervisionPhase {
	s.mu.Lock()
	s.child = nil
	s.mu.Unlock()
	// A termination still in flight must not outlive the handle.
	s.terminating.Wait()

	s.mu.Lock()
	exitCode := -1
	select {
	case <-proc.Done():
		exitCode = proc.ExitCode()
	default:
	}
	s.lastExitCode = exitCode
	stopping := s.stopping
	recycled := s.recycled
	s.mu.Unlock()

	if err := proc.Release(); err != nil {
		s.logger.Warn("releasing process handle", "pid", proc.Pid(), "error", err)
	}
	s.logger.Info("process exited", "pid", proc.Pid(), "exit_code", exitCode, "recycled", recycled)
	s.observe(Event{Kind: EventExit, PID: proc.Pid(), ExitCode: exitCode, RestartCount: s.restarts(), Recycled: recycled})

	if stopping {
		return phaseStopped
	}
	if !s.policy.RestartOnExit {
		s.logger.Info("restart disabled, not respawning")
		return phaseStopped
	}

	s.mu.Lock()
	s.restartCount++
	s.state = StateStarting
	s.mu.Unlock()
	return phaseRestarting
}

// handleRestarting waits out the fixed backoff unless a stop arrives first.
func (s *Supervisor) handleRestarting() supervisionPhase {
	delay := s.policy.delay()

	count := s.restarts()
	s.logger.Info("restarting after delay", "delay", delay, "restart_count", count)
	s.observe(Event{Kind: EventRestart, RestartCount: count})

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return phaseStarting
	case <-s.stopCh:
		return phaseStopped
	}
}

// Notify delivers a control notification. Only the first stop or shutdown
// has any effect; stop is never withdrawn. Stop-pending is reported before
// the child is terminated.
func (s *Supervisor) Notify(c Control) {
	s.mu.Lock()
	if s.stopping || s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	close(s.stopCh)
	prev := s.state
	if prev != StateIdle {
		s.state = StateStopRequested
	}
	s.mu.Unlock()

	s.logger.Info("stop requested", "control", c.String(), "state", prev.String())
	if prev == StateIdle {
		return
	}

	s.report(Status{
		State:      StateStopRequested,
		CheckPoint: s.checkpoint.Add(1),
		WaitHint:   s.waitHint(),
		ExitCode:   -1,
	})

	s.mu.Lock()
	proc := s.claimTerminationLocked()
	s.mu.Unlock()
	if proc != nil {
		s.terminate(proc)
	}
}

// Recycle terminates the current child without requesting a stop, leaving
// the restart policy to decide what follows. It reports whether a
// termination was issued.
func (s *Supervisor) Recycle() bool {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return false
	}
	proc := s.claimTerminationLocked()
	if proc == nil {
		s.mu.Unlock()
		return false
	}
	s.recycled = true
	s.mu.Unlock()

	s.logger.Info("recycling process", "pid", proc.Pid())
	s.terminate(proc)
	return true
}

// claimTerminationLocked marks the current child as terminated and returns
// it, at most once per child. A child that has already exited is left
// alone. The caller holds s.mu and must pass the result to terminate.
func (s *Supervisor) claimTerminationLocked() Process {
	proc := s.child
	if proc == nil || s.termSent {
		return nil
	}
	select {
	case <-proc.Done():
		return nil
	default:
	}
	s.termSent = true
	s.terminating.Add(1)
	return proc
}

// terminate kills proc without holding s.mu, so status queries and the
// stop-pending report are never held up by a slow killer. The handle stays
// valid until it returns: handleEvaluating waits for it before Release.
func (s *Supervisor) terminate(proc Process) {
	defer s.terminating.Done()

	pid := proc.Pid()
	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()

	if s.policy.StopChildTree {
		s.logger.Info("killing process tree", "pid", pid)
		if err := s.killer.Kill(ctx, pid, true); err != nil {
			s.logger.Error("killing process tree failed", "pid", pid, "error", err)
		}
		return
	}

	s.logger.Info("terminating process", "pid", pid)
	err := proc.Terminate()
	if err == nil {
		return
	}
	select {
	case <-proc.Done():
		// Exited on its own meanwhile; its pid may already be reused.
		return
	default:
	}
	s.logger.Warn("terminate failed, trying external kill", "pid", pid, "error", err)
	if err := s.killer.Kill(ctx, pid, false); err != nil {
		s.logger.Error("external kill failed", "pid", pid, "error", err)
	}
}

// report forwards st to the reporter. Nothing is reported after Stopped.
func (s *Supervisor) report(st Status) {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()

	if s.final {
		return
	}
	if st.State == StateStopped {
		s.final = true
	}
	s.reporter.Report(st)
}

func (s *Supervisor) observe(ev Event) {
	for _, o := range s.observers {
		o.Observe(ev)
	}
}

func (s *Supervisor) restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartCount
}

func (s *Supervisor) waitHint() time.Duration {
	return 3 * s.checkpointInterval
}
