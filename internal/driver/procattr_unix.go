//go:build unix

package driver

import (
	"syscall"

	"github.com/zhujunling-nj/anyservice/internal/supervisor"
)

// sysProcAttr puts the child in its own process group so a tree kill can
// signal the group.
func sysProcAttr(supervisor.LaunchSpec) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
