//go:build windows

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/eventlog"
	"golang.org/x/sys/windows/svc/mgr"

	"github.com/zhujunling-nj/anyservice/internal/cmdline"
	"github.com/zhujunling-nj/anyservice/internal/descriptor"
)

// scm registers services with the Windows service control manager.
type scm struct {
	logger *slog.Logger
	poller poller
}

// New returns the registry for this platform.
func New(logger *slog.Logger) Registry {
	if logger == nil {
		logger = slog.With("component", "registry")
	}
	return &scm{logger: logger, poller: defaultPoller}
}

func (r *scm) Install(ctx context.Context, d *descriptor.Descriptor, exe string) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connecting to service manager: %w", err)
	}
	defer m.Disconnect()

	cfg := mgr.Config{
		ServiceType:      windows.SERVICE_WIN32_OWN_PROCESS,
		StartType:        mgr.StartManual,
		ErrorControl:     mgr.ErrorNormal,
		DisplayName:      d.Title(),
		Description:      d.Description,
		Dependencies:     d.Dependencies,
		ServiceStartName: d.Username,
		Password:         d.Password,
	}
	if d.Interactive {
		cfg.ServiceType |= windows.SERVICE_INTERACTIVE_PROCESS
	}
	if d.AutoStart {
		cfg.StartType = mgr.StartAutomatic
	}

	s, err := m.CreateService(d.Name, exe, cfg, d.RunArgs()...)
	if err != nil {
		return fmt.Errorf("creating service %s: %w", d.Name, err)
	}
	defer s.Close()

	// The command line is rebuilt with the quoting used for the child.
	cfg, err = s.Config()
	if err != nil {
		return fmt.Errorf("reading service %s config: %w", d.Name, err)
	}
	cfg.BinaryPathName = cmdline.Join(append([]string{exe}, d.RunArgs()...))
	if err := s.UpdateConfig(cfg); err != nil {
		return fmt.Errorf("setting service %s command line: %w", d.Name, err)
	}

	if err := eventlog.InstallAsEventCreate(d.Name, eventlog.Error|eventlog.Warning|eventlog.Info); err != nil {
		r.logger.Warn("registering event log source", "service", d.Name, "error", err)
	}
	r.logger.Info("service installed", "service", d.Name, "command_line", cfg.BinaryPathName)

	if d.AutoStart {
		return r.start(ctx, s)
	}
	return nil
}

func (r *scm) start(ctx context.Context, s *mgr.Service) error {
	r.logger.Info("starting service", "service", s.Name)
	if err := s.Start(); err != nil {
		return fmt.Errorf("starting service %s: %w", s.Name, err)
	}

	st, err := r.waitWhile(ctx, s, svc.StartPending)
	if err != nil {
		return err
	}
	if st.State != svc.Running {
		if st.Win32ExitCode != 0 {
			return fmt.Errorf("%w: %s: %w", ErrNotRunning, s.Name, windows.Errno(st.Win32ExitCode))
		}
		return fmt.Errorf("%w: %s", ErrNotRunning, s.Name)
	}
	r.logger.Info("service started", "service", s.Name)
	return nil
}

func (r *scm) Remove(ctx context.Context, name string) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connecting to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if err != nil {
		return fmt.Errorf("opening service %s: %w", name, err)
	}
	defer s.Close()

	if err := r.stop(ctx, s); err != nil {
		r.logger.Warn("stopping service before removal", "service", name, "error", err)
	}
	if err := s.Delete(); err != nil {
		return fmt.Errorf("deleting service %s: %w", name, err)
	}
	if err := eventlog.Remove(name); err != nil {
		r.logger.Debug("removing event log source", "service", name, "error", err)
	}
	r.logger.Info("service removed", "service", name)
	return nil
}

// stop asks a running service to stop and waits until it has.
func (r *scm) stop(ctx context.Context, s *mgr.Service) error {
	st, err := s.Query()
	if err != nil {
		return fmt.Errorf("querying service %s: %w", s.Name, err)
	}
	if st.State != svc.Running {
		return nil
	}

	r.logger.Info("stopping service", "service", s.Name)
	if _, err := s.Control(svc.Stop); err != nil {
		return fmt.Errorf("stopping service %s: %w", s.Name, err)
	}
	st, err = r.waitWhile(ctx, s, svc.StopPending)
	if err != nil {
		return err
	}
	if st.State != svc.Stopped {
		return fmt.Errorf("service %s did not stop, state %d", s.Name, st.State)
	}
	r.logger.Info("service stopped", "service", s.Name)
	return nil
}

// waitWhile waits out a pending state and returns the last status seen.
func (r *scm) waitWhile(ctx context.Context, s *mgr.Service, pending svc.State) (svc.Status, error) {
	var last svc.Status
	err := r.poller.wait(ctx, func() (Progress, error) {
		st, err := s.Query()
		if err != nil {
			return Progress{}, fmt.Errorf("querying service %s: %w", s.Name, err)
		}
		last = st
		return Progress{
			Pending:    st.State == pending,
			CheckPoint: st.CheckPoint,
			WaitHint:   time.Duration(st.WaitHint) * time.Millisecond,
		}, nil
	})
	return last, err
}
