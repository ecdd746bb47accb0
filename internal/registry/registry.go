// Package registry registers services with the operating system's service
// manager so they run "anyservice run" at boot or on demand.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zhujunling-nj/anyservice/internal/descriptor"
)

// ErrNotRunning is returned when a started service did not reach the
// running state.
var ErrNotRunning = errors.New("registry: service did not start")

// Registry installs and removes services.
type Registry interface {
	// Install registers d to run exe with d.RunArgs() and, if d.AutoStart
	// is set, starts it and waits until it is running.
	Install(ctx context.Context, d *descriptor.Descriptor, exe string) error
	// Remove stops the named service if it is running, then deletes it.
	Remove(ctx context.Context, name string) error
}

// Progress is one observation of a service in a transitional state.
type Progress struct {
	Pending    bool // still in the state being waited out
	CheckPoint uint32
	WaitHint   time.Duration
}

// poller waits out start-pending and stop-pending states.
type poller struct {
	minPoll time.Duration
	maxPoll time.Duration
	now     func() time.Time
}

var defaultPoller = poller{minPoll: time.Second, maxPoll: 10 * time.Second, now: time.Now}

// wait polls query while the service reports it is pending. Each poll
// sleeps a tenth of the wait hint, clamped to [minPoll, maxPoll]. The wait
// gives up, without error, once the checkpoint has not advanced for longer
// than the wait hint; the caller inspects the final state.
func (p poller) wait(ctx context.Context, query func() (Progress, error)) error {
	st, err := query()
	if err != nil {
		return err
	}
	lastCheckPoint := st.CheckPoint
	lastProgress := p.now()

	for st.Pending {
		interval := min(max(st.WaitHint/10, p.minPoll), p.maxPoll)
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("waiting for service: %w", ctx.Err())
		case <-t.C:
		}

		if st, err = query(); err != nil {
			return err
		}
		if st.CheckPoint > lastCheckPoint {
			lastCheckPoint = st.CheckPoint
			lastProgress = p.now()
		} else if p.now().Sub(lastProgress) > st.WaitHint {
			return nil
		}
	}
	return nil
}
