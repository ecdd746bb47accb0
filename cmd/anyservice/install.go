package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zhujunling-nj/anyservice/internal/descriptor"
	"github.com/zhujunling-nj/anyservice/internal/registry"
)

var installCmd = &cobra.Command{
	Use:   "install [flags] <name> <program> [args...]",
	Short: "Register a program as a service",
	Long: `Register a program with the service manager. The service runs
"anyservice run" which in turn starts and supervises the program.

Use --from to read the whole service description from a YAML file instead
of flags and arguments.`,
	Example: `  anyservice install --auto --stopchild web /opt/web/server --port 8080
  anyservice install --username svc --password - worker C:\apps\worker.exe
  anyservice install --from services/web.yaml`,
	RunE: runInstall,
}

var installOpts struct {
	from         string
	workDir      string
	displayName  string
	description  string
	dependencies []string
	username     string
	password     string
	interactive  bool
	autoStart    bool
	stopChild    bool
	noRestart    bool
}

func init() {
	f := installCmd.Flags()
	f.SetInterspersed(false)
	f.StringVar(&installOpts.from, "from", "", "read the service description from a YAML file")
	f.StringVar(&installOpts.workDir, "workdir", "", "working directory (default: the program's directory)")
	f.StringVar(&installOpts.displayName, "displayname", "", "display name shown by the service manager")
	f.StringVar(&installOpts.description, "description", "", "service description")
	f.StringArrayVar(&installOpts.dependencies, "dependence", nil, "service that must start first (repeatable)")
	f.StringVar(&installOpts.username, "username", "", "account the service runs as")
	f.StringVar(&installOpts.password, "password", "", `account password, or "-" to prompt`)
	f.BoolVar(&installOpts.interactive, "interactive", false, "allow the service to interact with the desktop")
	f.BoolVar(&installOpts.autoStart, "auto", false, "start automatically at boot and start now")
	f.BoolVar(&installOpts.stopChild, "stopchild", false, "kill the program's process tree on stop")
	f.BoolVar(&installOpts.noRestart, "norestart", false, "do not restart the program when it exits")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	d, err := installDescriptor(args)
	if err != nil {
		return err
	}
	if d.Password == "-" {
		pw, err := readPassword(cmd.ErrOrStderr(), d.Username)
		if err != nil {
			return err
		}
		d.Password = pw
	}
	if err := d.Validate(); err != nil {
		return err
	}

	exe, err := executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}

	logger, closeLog, err := commandLogger(d.Name)
	if err != nil {
		return err
	}
	defer closeLog()

	if err := registry.New(logger.With("component", "registry")).Install(cmd.Context(), d, exe); err != nil {
		return fmt.Errorf("installing %s: %w", d.Name, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Service %q installed\n", d.Name)
	return nil
}

// installDescriptor builds the descriptor from --from or from flags and
// positional arguments. It does not validate it.
func installDescriptor(args []string) (*descriptor.Descriptor, error) {
	if installOpts.from != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("--from does not take arguments, got %q", args)
		}
		return descriptor.Load(installOpts.from)
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("install needs a service name and a program")
	}
	return &descriptor.Descriptor{
		Name:         args[0],
		DisplayName:  installOpts.displayName,
		Description:  installOpts.description,
		Dependencies: installOpts.dependencies,
		Username:     installOpts.username,
		Password:     installOpts.password,
		WorkDir:      installOpts.workDir,
		Interactive:  installOpts.interactive,
		AutoStart:    installOpts.autoStart,
		StopChild:    installOpts.stopChild,
		NoRestart:    installOpts.noRestart,
		Command:      append([]string(nil), args[1:]...),
	}, nil
}

func readPassword(w io.Writer, user string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return strings.TrimRight(string(b), "\r\n"), nil
	}
	fmt.Fprintf(w, "Password for %s: ", user)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}
