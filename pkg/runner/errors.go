package runner

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
)

// LaunchError reports a command that could not be started.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	if errors.Is(e.Err, exec.ErrNotFound) || errors.Is(e.Err, fs.ErrNotExist) {
		return fmt.Sprintf("command not found: %s", e.Command)
	}
	return fmt.Sprintf("cannot start %s: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
