// Package host runs a Supervisor under the operating system's service
// framework: the Windows service control manager, or signals and the
// systemd notify protocol elsewhere.
//
// A Host is also the supervisor's Reporter; every status change is
// translated into the framework's own status protocol.
package host

import (
	"context"
	"errors"
	"syscall"

	"github.com/zhujunling-nj/anyservice/internal/supervisor"
)

// ErrNotService is returned by CheckContext when the process was not
// started by the service manager it would have to talk to.
var ErrNotService = errors.New("host: not started by the service control manager")

// Host connects a Supervisor to the service framework.
type Host interface {
	supervisor.Reporter
	// Run runs sup until it stops and returns its error.
	Run(ctx context.Context, sup *supervisor.Supervisor) error
}

// errnoOf extracts the OS error code behind a failed run, if there is one.
func errnoOf(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) && errno != 0 {
		return errno, true
	}
	return 0, false
}
