//go:build windows

package driver

import (
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/zhujunling-nj/anyservice/internal/supervisor"
)

// sysProcAttr hands CreateProcess the joined command line as is, so the
// child sees exactly the arguments the service was installed with.
func sysProcAttr(launch supervisor.LaunchSpec) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CmdLine:       launch.CommandLine,
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}
}
