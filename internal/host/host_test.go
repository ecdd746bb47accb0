package host

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/zhujunling-nj/anyservice/internal/supervisor"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeProcess struct {
	pid  int
	done chan struct{}
	once sync.Once
}

func (p *fakeProcess) Pid() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) ExitCode() int         { return 0 }
func (p *fakeProcess) Release() error        { return nil }
func (p *fakeProcess) Terminate() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

type fakeSpawner struct {
	mu     sync.Mutex
	spawns int
	last   *fakeProcess
}

func (f *fakeSpawner) Spawn(context.Context, supervisor.LaunchSpec) (supervisor.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawns++
	f.last = &fakeProcess{pid: 1000 + f.spawns, done: make(chan struct{})}
	return f.last, nil
}

func (f *fakeSpawner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawns
}

func (f *fakeSpawner) current() *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type noKiller struct{}

func (noKiller) Kill(context.Context, int, bool) error { return nil }
