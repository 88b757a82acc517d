package ports

import "context"

// ProcessExecutorPort runs an external command, streaming its output line
// by line. A timeout or failure to start surfaces as a non-zero exit code
// alongside the error.
type ProcessExecutorPort interface {
	Execute(ctx context.Context, path string, args string, timeoutSeconds int, onStdout func(string), onStderr func(string)) (int, error)
}
