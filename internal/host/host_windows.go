//go:build windows

package host

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/windows/svc"

	"github.com/zhujunling-nj/anyservice/internal/supervisor"
)

const accepted = svc.AcceptStop | svc.AcceptShutdown

// statusQueue bounds status updates waiting for Execute to forward them.
const statusQueue = 32

// scmHost is a svc.Handler that drives the supervisor from service
// control requests. Status updates are queued and forwarded by Execute,
// so the supervisor never blocks on the dispatcher.
type scmHost struct {
	name   string
	logger *slog.Logger

	sup      *supervisor.Supervisor
	statusCh chan svc.Status
}

// New returns the host for this platform.
func New(name string, logger *slog.Logger) Host {
	if logger == nil {
		logger = slog.With("component", "host")
	}
	return &scmHost{name: name, logger: logger, statusCh: make(chan svc.Status, statusQueue)}
}

// CheckContext returns ErrNotService unless the process was started by
// the service control manager.
func CheckContext() error {
	ok, err := svc.IsWindowsService()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotService
	}
	return nil
}

// Run blocks in the service control dispatcher until the service stops.
func (h *scmHost) Run(_ context.Context, sup *supervisor.Supervisor) error {
	h.sup = sup
	if err := svc.Run(h.name, h); err != nil {
		return fmt.Errorf("running service %s: %w", h.name, err)
	}
	return nil
}

func (h *scmHost) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	errCh := make(chan error, 1)
	go func() { errCh <- h.sup.Run(context.Background()) }()

	for {
		select {
		case st := <-h.statusCh:
			changes <- st
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop:
				go h.sup.Notify(supervisor.ControlStop)
			case svc.Shutdown:
				go h.sup.Notify(supervisor.ControlShutdown)
			default:
				h.logger.Warn("unexpected service control request", "cmd", uint32(c.Cmd))
			}
		case err := <-errCh:
			if err != nil {
				h.logger.Error("service failed", "error", err)
			}
			return exitCode(err)
		}
	}
}

// exitCode turns the supervisor's result into the service exit code. The
// final Stopped status is sent by the dispatcher when Execute returns.
func exitCode(err error) (bool, uint32) {
	if err == nil {
		return false, 0
	}
	if errno, ok := errnoOf(err); ok {
		return false, uint32(errno)
	}
	return true, 1
}

// Report queues a status change for the service control manager. Stopped
// is left to Execute's return value.
func (h *scmHost) Report(st supervisor.Status) {
	status, ok := toSvcStatus(st)
	if !ok {
		return
	}
	select {
	case h.statusCh <- status:
	default:
		h.logger.Warn("status queue full, dropping update", "state", st.State.String(), "checkpoint", st.CheckPoint)
	}
}

func toSvcStatus(st supervisor.Status) (svc.Status, bool) {
	waitHint := uint32(st.WaitHint / time.Millisecond)
	switch st.State {
	case supervisor.StateStarting:
		return svc.Status{State: svc.StartPending, CheckPoint: st.CheckPoint, WaitHint: waitHint}, true
	case supervisor.StateRunning:
		return svc.Status{State: svc.Running, Accepts: accepted}, true
	case supervisor.StateStopRequested:
		return svc.Status{State: svc.StopPending, CheckPoint: st.CheckPoint, WaitHint: waitHint}, true
	}
	return svc.Status{}, false
}
