//go:build windows

package driver

import (
	"fmt"
	"strconv"

	"golang.org/x/sys/windows"
)

func killCommand(pid int, tree bool) (string, []string) {
	args := []string{"/F", "/PID", strconv.Itoa(pid)}
	if tree {
		args = append(args, "/T")
	}
	return "taskkill", args
}

// directKill can only end the process itself; descendants survive.
func directKill(pid int, _ bool) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("opening process %d: %w", pid, err)
	}
	defer windows.CloseHandle(h)

	if err := windows.TerminateProcess(h, 1); err != nil {
		return fmt.Errorf("terminating process %d: %w", pid, err)
	}
	return nil
}
