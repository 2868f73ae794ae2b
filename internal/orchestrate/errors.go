package orchestrate

import "fmt"

// BuildFailure is a project whose build process did not exit zero or could
// not be started.
type BuildFailure struct {
	Project  string
	ExitCode int
	Err      error
}

func (e *BuildFailure) Error() string {
	return fmt.Sprintf("project %s failed (exit code %d): %v", e.Project, e.ExitCode, e.Err)
}

func (e *BuildFailure) Unwrap() error {
	return e.Err
}
