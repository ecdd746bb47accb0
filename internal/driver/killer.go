package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// TreeKiller terminates processes with the platform's kill utility,
// optionally together with everything they started. When the utility is
// not installed it signals the process directly.
type TreeKiller struct {
	Logger *slog.Logger
}

// Kill forcibly ends pid, and its descendants when tree is set.
func (k TreeKiller) Kill(ctx context.Context, pid int, tree bool) error {
	name, args := killCommand(pid, tree)
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if errors.Is(err, exec.ErrNotFound) {
		k.logger().Warn("kill utility not found, signalling directly", "utility", name, "pid", pid)
		return directKill(pid, tree)
	}
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
		}
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
	}
	k.logger().Debug("killed process", "pid", pid, "tree", tree)
	return nil
}

func (k TreeKiller) logger() *slog.Logger {
	if k.Logger != nil {
		return k.Logger
	}
	return slog.With("component", "killer")
}
