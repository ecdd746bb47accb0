// Package driver creates, watches and kills the supervised child process
// on the host operating system.
package driver

import "github.com/zhujunling-nj/anyservice/internal/supervisor"

var (
	_ supervisor.Spawner = (*Native)(nil)
	_ supervisor.Process = (*nativeProcess)(nil)
	_ supervisor.Killer  = TreeKiller{}
)
