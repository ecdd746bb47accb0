package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhujunling-nj/anyservice/internal/config"
	"github.com/zhujunling-nj/anyservice/internal/driver"
	"github.com/zhujunling-nj/anyservice/internal/health"
	"github.com/zhujunling-nj/anyservice/internal/host"
	"github.com/zhujunling-nj/anyservice/internal/journal"
	"github.com/zhujunling-nj/anyservice/internal/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <workdir|.> <program> [args...]",
	Short: "Run a program under supervision (invoked by the service manager)",
	Long: `Run the program as the body of a service. The first argument is the
working directory, or "." to use the directory that contains the program.
The program is restarted after it exits (5s later by default) unless
--norestart is set.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRun,
}

var runOpts struct {
	name      string
	stopChild bool
	noRestart bool
	watch     bool
	journal   string

	health          string
	healthInterval  time.Duration
	healthTimeout   time.Duration
	healthGrace     time.Duration
	healthThreshold int
}

func init() {
	f := runCmd.Flags()
	f.SetInterspersed(false)
	f.StringVar(&runOpts.name, "name", "anyservice", "service name used in logs and the journal")
	f.BoolVar(&runOpts.stopChild, "stopchild", false, "kill the program's process tree on stop")
	f.BoolVar(&runOpts.noRestart, "norestart", false, "do not restart the program when it exits")
	f.BoolVar(&runOpts.watch, "watch", false, "restart the program when its executable changes")
	f.StringVar(&runOpts.journal, "journal", "", "append lifecycle events to this NDJSON file")
	f.StringVar(&runOpts.health, "health", "", `recycle the program when this check fails ("http://...", "tcp://host:port" or "exec:command")`)
	f.DurationVar(&runOpts.healthInterval, "health-interval", health.DefaultInterval, "time between health checks")
	f.DurationVar(&runOpts.healthTimeout, "health-timeout", health.DefaultTimeout, "time limit for one health check")
	f.DurationVar(&runOpts.healthGrace, "health-grace", 0, "delay after each start before the first health check")
	f.IntVar(&runOpts.healthThreshold, "health-threshold", health.DefaultThreshold, "consecutive failures before the program is recycled")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := host.CheckContext(); err != nil {
		if errors.Is(err, host.ErrNotService) {
			_ = cmd.Usage()
		}
		return err
	}

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	logger, closeLog, err := setupLogging(cfg, runOpts.name, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	launch, err := supervisor.NewLaunchSpec(args[0], args[1:])
	if err != nil {
		return err
	}
	policy := supervisor.RestartPolicy{
		StopChildTree: runOpts.stopChild,
		RestartOnExit: !runOpts.noRestart,
		Delay:         cfg.RestartDelay.Duration,
	}

	h := host.New(runOpts.name, logger.With("component", "host"))
	reporters := supervisor.MultiReporter{h, supervisor.LogReporter{Logger: logger.With("component", "status")}}
	opts := []supervisor.Option{
		supervisor.WithLogger(logger.With("component", "supervisor")),
		supervisor.WithStopTimeout(cfg.StopTimeout.Duration),
		supervisor.WithCheckpointInterval(cfg.CheckpointInterval.Duration),
	}

	journalPath := runOpts.journal
	if journalPath == "" {
		journalPath = cfg.Journal
	}
	if journalPath != "" {
		j, err := journal.Open(journalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		rec := journal.NewRecorder(j, runOpts.name, launch.CommandLine, logger.With("component", "journal"))
		reporters = append(reporters, rec)
		opts = append(opts, supervisor.WithObserver(rec))
	}

	// The monitor's callback runs only after Run has spawned a child, by
	// which time sup is set.
	var sup *supervisor.Supervisor
	var monitor *health.Monitor
	if runOpts.health != "" {
		check, err := healthCheck()
		if err != nil {
			return err
		}
		monitor = health.NewMonitor(check, logger.With("component", "health"), func() { sup.Recycle() })
		opts = append(opts, supervisor.WithObserver(monitor))
	}
	opts = append(opts, supervisor.WithReporter(reporters))

	spawner := driver.NewNative(driver.NativeConfig{
		BufSize: cfg.LogLines,
		LogRate: cfg.LogRate,
		Logger:  logger.With("component", "child"),
	})
	killer := driver.TreeKiller{Logger: logger.With("component", "killer")}
	sup = supervisor.New(launch, policy, spawner, killer, opts...)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if runOpts.watch {
		go watchProgram(ctx, sup, launch, logger)
	}
	if monitor != nil {
		go monitor.Run(ctx)
	}

	logger.Info("service starting", "command_line", launch.CommandLine, "dir", launch.Dir,
		"stop_child", policy.StopChildTree, "restart", policy.RestartOnExit)
	if err := h.Run(ctx, sup); err != nil {
		return fmt.Errorf("service %s: %w", runOpts.name, err)
	}
	return nil
}

func healthCheck() (health.Check, error) {
	check, err := health.ParseTarget(runOpts.health)
	if err != nil {
		return health.Check{}, err
	}
	check.Interval = runOpts.healthInterval
	check.Timeout = runOpts.healthTimeout
	check.GracePeriod = runOpts.healthGrace
	check.Threshold = runOpts.healthThreshold
	return check, nil
}

func watchProgram(ctx context.Context, sup *supervisor.Supervisor, launch supervisor.LaunchSpec, logger *slog.Logger) {
	path := launch.Path
	if resolved, err := exec.LookPath(path); err == nil {
		path = resolved
	}
	if err := supervisor.Watch(ctx, sup, path); err != nil {
		// The service keeps running without the watcher.
		logger.Warn("executable watcher stopped", "path", path, "error", err)
	}
}
