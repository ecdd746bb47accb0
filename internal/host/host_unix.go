//go:build unix

package host

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sys/unix"
	"vawter.tech/stopper"

	"github.com/zhujunling-nj/anyservice/internal/supervisor"
)

// notifyFunc sends a state string to the service manager. It reports
// false without error when no manager is listening.
type notifyFunc func(state string) (bool, error)

func sdNotify(state string) (bool, error) {
	return daemon.SdNotify(false, state)
}

// posixHost maps SIGTERM and SIGINT to a stop and SIGHUP to a recycle of
// the child, and reports status over sd_notify.
type posixHost struct {
	name   string
	logger *slog.Logger
	notify notifyFunc

	mu       sync.Mutex
	stopping bool
}

// New returns the host for this platform.
func New(name string, logger *slog.Logger) Host {
	return newPosixHost(name, logger, sdNotify)
}

func newPosixHost(name string, logger *slog.Logger, notify notifyFunc) *posixHost {
	if logger == nil {
		logger = slog.With("component", "host")
	}
	return &posixHost{name: name, logger: logger, notify: notify}
}

// CheckContext always succeeds; the service may be run by any supervisor
// or by hand.
func CheckContext() error {
	return nil
}

// NewLogHandler returns fallback; stderr is already captured by the
// service manager.
func NewLogHandler(_ string, fallback slog.Handler) (slog.Handler, func() error, error) {
	return fallback, func() error { return nil }, nil
}

func (h *posixHost) Run(ctx context.Context, sup *supervisor.Supervisor) error {
	sctx := stopper.WithContext(ctx)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGTERM, unix.SIGINT, unix.SIGHUP)
	sctx.Defer(func() { signal.Stop(sigs) })

	var runErr error
	sctx.Go(func(sctx *stopper.Context) error {
		runErr = sup.Run(ctx)
		sctx.Stop(0)
		return nil
	})
	sctx.Go(func(sctx *stopper.Context) error {
		for {
			select {
			case <-sctx.Stopping():
				return nil
			case sig := <-sigs:
				h.logger.Info("received signal", "signal", sig.String())
				switch sig {
				case unix.SIGHUP:
					if !sup.Recycle() {
						h.logger.Info("no running process to recycle")
					}
				case unix.SIGINT:
					sup.Notify(supervisor.ControlShutdown)
				default:
					sup.Notify(supervisor.ControlStop)
				}
			}
		}
	})

	if err := sctx.Wait(); err != nil {
		return fmt.Errorf("waiting for supervisor: %w", err)
	}
	return runErr
}

// Report translates a status into sd_notify assignments.
func (h *posixHost) Report(st supervisor.Status) {
	var lines []string
	switch st.State {
	case supervisor.StateStarting:
		lines = append(lines, "STATUS=starting "+h.name)
	case supervisor.StateRunning:
		lines = append(lines, daemon.SdNotifyReady, "STATUS=running "+h.name)
	case supervisor.StateStopRequested:
		h.mu.Lock()
		first := !h.stopping
		h.stopping = true
		h.mu.Unlock()
		if first {
			lines = append(lines, daemon.SdNotifyStopping, "STATUS=stopping "+h.name)
		}
		if st.WaitHint > 0 {
			lines = append(lines, fmt.Sprintf("EXTEND_TIMEOUT_USEC=%d", st.WaitHint/time.Microsecond))
		}
	case supervisor.StateStopped:
		if st.Err != nil {
			lines = append(lines, "STATUS="+firstLine(st.Err.Error()))
			if errno, ok := errnoOf(st.Err); ok {
				lines = append(lines, fmt.Sprintf("ERRNO=%d", int(errno)))
			}
		} else {
			lines = append(lines, "STATUS=stopped "+h.name)
		}
	}
	if len(lines) == 0 {
		return
	}
	if _, err := h.notify(strings.Join(lines, "\n")); err != nil {
		h.logger.Warn("sd_notify failed", "state", st.State.String(), "error", err)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
