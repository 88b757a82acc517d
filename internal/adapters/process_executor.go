package adapters

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/shlex"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"

	"pkgkeeper/internal/ports"
)

// killedExitCode is reported when a command is stopped on timeout or
// cancellation.
const killedExitCode = -1

// ProcessExecutorAdapter runs external commands and streams their output
// line by line. On timeout the whole process tree is killed.
type ProcessExecutorAdapter struct{}

func NewProcessExecutorAdapter() ProcessExecutorAdapter {
	return ProcessExecutorAdapter{}
}

// Execute runs path with args split using shell quoting rules. A non-zero
// exit is returned as the code with a nil error; only failures to start,
// timeouts and cancellation return an error.
func (a ProcessExecutorAdapter) Execute(ctx context.Context, path string, args string, timeoutSeconds int, onStdout func(string), onStderr func(string)) (int, error) {
	argv, err := shlex.Split(args)
	if err != nil {
		return killedExitCode, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid arguments for %s", path)).
			WithCause(err)
	}
	cmd := exec.Command(path, argv...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return killedExitCode, startError(path, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return killedExitCode, startError(path, err)
	}
	log.Ctx(ctx).Debug().Str("path", path).Strs("args", argv).Int("timeout_seconds", timeoutSeconds).Msg("starting process")
	if err := cmd.Start(); err != nil {
		return killedExitCode, startError(path, err)
	}

	var (
		callbackMu sync.Mutex
		readers    sync.WaitGroup
	)
	stream := func(reader io.Reader, callback func(string)) {
		defer readers.Done()
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if callback == nil {
				continue
			}
			callbackMu.Lock()
			callback(scanner.Text())
			callbackMu.Unlock()
		}
	}
	readers.Add(2)
	go stream(stdout, onStdout)
	go stream(stderr, onStderr)

	done := make(chan error, 1)
	go func() {
		readers.Wait()
		done <- cmd.Wait()
	}()

	var timeout <-chan time.Time
	if timeoutSeconds > 0 {
		timer := time.NewTimer(time.Duration(timeoutSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		return exitCodeOf(path, err)
	case <-timeout:
		killTree(ctx, cmd.Process.Pid)
		<-done
		return killedExitCode, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("%s timed out after %d seconds", path, timeoutSeconds))
	case <-ctx.Done():
		killTree(context.Background(), cmd.Process.Pid)
		<-done
		return killedExitCode, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("%s was canceled", path)).
			WithCause(ctx.Err())
	}
}

func exitCodeOf(path string, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return killedExitCode, errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(fmt.Sprintf("failed waiting for %s", path)).
		WithCause(err)
}

// killTree kills the children of pid depth first, then pid itself.
func killTree(ctx context.Context, pid int) {
	root, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return
	}
	killProcess(ctx, root)
}

func killProcess(ctx context.Context, proc *process.Process) {
	children, _ := proc.ChildrenWithContext(ctx)
	for _, child := range children {
		killProcess(ctx, child)
	}
	if err := proc.KillWithContext(ctx); err != nil {
		log.Ctx(ctx).Debug().Int32("pid", proc.Pid).Err(err).Msg("failed to kill process")
	}
}

func startError(path string, err error) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(fmt.Sprintf("failed to start %s", path)).
		WithCause(err)
}

var _ ports.ProcessExecutorPort = ProcessExecutorAdapter{}
