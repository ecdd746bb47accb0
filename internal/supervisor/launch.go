package supervisor

import (
	"strings"

	"github.com/zhujunling-nj/anyservice/internal/cmdline"
)

// CurrentDirMarker as the first configured argument means "derive the
// working directory from the program path that follows it".
const CurrentDirMarker = "."

// LaunchSpec describes how to create the child process. It is computed
// once before the first spawn and never modified.
type LaunchSpec struct {
	// Path is the executable, always Args[0].
	Path string
	// Dir is the working directory; empty inherits the supervisor's.
	Dir string
	// Args is the full argument vector including the program path.
	Args []string
	// CommandLine is Args joined with cmdline.Join, exactly as handed to
	// process creation on platforms that take a single string.
	CommandLine string
}

// NewLaunchSpec resolves launch parameters from the configured argument
// list. A leading CurrentDirMarker is dropped from the argument vector and
// the working directory is taken from the program path after it. Otherwise
// workDir wins when set, falling back to the directory of argv[0].
func NewLaunchSpec(workDir string, argv []string) (LaunchSpec, error) {
	if len(argv) == 0 {
		return LaunchSpec{}, ErrNoProgram
	}

	args := argv
	dir := workDir
	if argv[0] == CurrentDirMarker {
		if len(argv) < 2 {
			return LaunchSpec{}, ErrNoProgram
		}
		args = argv[1:]
		dir = DirOf(args[0])
	} else if dir == "" || dir == CurrentDirMarker {
		dir = DirOf(args[0])
	}

	if args[0] == "" {
		return LaunchSpec{}, ErrNoProgram
	}

	args = append([]string(nil), args...)
	return LaunchSpec{
		Path:        args[0],
		Dir:         dir,
		Args:        args,
		CommandLine: cmdline.Join(args),
	}, nil
}

// DirOf strips the final path separator and the component after it.
// Both '\' and '/' count as separators regardless of the host platform.
// A path without a separator yields "".
func DirOf(path string) string {
	i := strings.LastIndexAny(path, `\/`)
	if i < 0 {
		return ""
	}
	return path[:i]
}
