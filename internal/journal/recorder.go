package journal

import (
	"log/slog"
	"sync"

	"github.com/zhujunling-nj/anyservice/internal/supervisor"
)

// Recorder writes supervisor status reports and child events to a Journal.
// It implements supervisor.Reporter and supervisor.Observer.
type Recorder struct {
	journal *Journal
	service string
	command string
	logger  *slog.Logger

	mu           sync.Mutex
	stopRecorded bool
}

// NewRecorder creates a recorder for the named service.
func NewRecorder(j *Journal, service, command string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.With("component", "journal")
	}
	return &Recorder{journal: j, service: service, command: command, logger: logger}
}

// Report records the service-level transitions. Running is covered by the
// spawn event and repeated stop-pending checkpoints collapse into one entry.
func (r *Recorder) Report(st supervisor.Status) {
	switch st.State {
	case supervisor.StateStarting:
		r.log(Entry{Event: EventStarting, Command: r.command})
	case supervisor.StateStopRequested:
		r.mu.Lock()
		first := !r.stopRecorded
		r.stopRecorded = true
		r.mu.Unlock()
		if first {
			r.log(Entry{Event: EventStopRequested})
		}
	case supervisor.StateStopped:
		e := Entry{Event: EventStopped}
		if st.ExitCode >= 0 {
			e.ExitCode = intPtr(st.ExitCode)
		}
		if st.Err != nil {
			e.Error = st.Err.Error()
		}
		r.log(e)
	}
}

// Observe records one entry per child event.
func (r *Recorder) Observe(ev supervisor.Event) {
	e := Entry{PID: ev.PID, RestartCount: ev.RestartCount}
	switch ev.Kind {
	case supervisor.EventSpawn:
		e.Event = EventSpawn
	case supervisor.EventExit:
		e.Event = EventExit
		e.ExitCode = intPtr(ev.ExitCode)
		e.Recycled = ev.Recycled
	case supervisor.EventRestart:
		e.Event = EventRestart
	case supervisor.EventSpawnFailed:
		e.Event = EventSpawnFailed
		if ev.Err != nil {
			e.Error = ev.Err.Error()
		}
	default:
		return
	}
	r.log(e)
}

func (r *Recorder) log(e Entry) {
	e.Service = r.service
	if err := r.journal.Log(e); err != nil {
		r.logger.Warn("journal write failed", "path", r.journal.Path(), "event", string(e.Event), "error", err)
	}
}

func intPtr(v int) *int { return &v }
