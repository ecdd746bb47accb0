package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProgram is returned when the argument list names no program.
	ErrNoProgram = errors.New("supervisor: no program to run")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("supervisor: already running")
)

// SpawnError reports a failure to create the child process. It is fatal
// to the run: the binary is missing, access was denied or the working
// directory is invalid, none of which fixes itself.
type SpawnError struct {
	Path string
	Dir  string
	Err  error
}

func (e *SpawnError) Error() string {
	if e.Dir == "" {
		return fmt.Sprintf("starting %q: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("starting %q in %q: %v", e.Path, e.Dir, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
