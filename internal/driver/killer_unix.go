//go:build unix

package driver

import (
	"fmt"
	"strconv"

	"golang.org/x/sys/unix"
)

// killCommand kills the process, or its whole process group for a tree.
// Children are started with Setpgid, so the group id is the pid.
func killCommand(pid int, tree bool) (string, []string) {
	if tree {
		return "kill", []string{"-KILL", "--", "-" + strconv.Itoa(pid)}
	}
	return "kill", []string{"-KILL", strconv.Itoa(pid)}
}

func directKill(pid int, tree bool) error {
	target := pid
	if tree {
		target = -pid
	}
	if err := unix.Kill(target, unix.SIGKILL); err != nil {
		return fmt.Errorf("kill %d: %w", target, err)
	}
	return nil
}
