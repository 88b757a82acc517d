// Package sources implements the alternative package sources (pip, apt)
// that plug into the same lifecycle verbs as native packages.
package sources

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"pkgkeeper/internal/ports"
	"pkgkeeper/internal/types"
)

const (
	packageToken = "{package}"
	versionToken = "{version}"
)

// BootstrapFunc installs the tool a runner depends on through the native
// install pipeline.
type BootstrapFunc func(ctx context.Context, cfg types.LifecycleConfig, packageName string) error

// commandLine is an executable plus an argument template.
type commandLine struct {
	exe  string
	args string
}

func (c commandLine) expand(values map[string]string) commandLine {
	args := c.args
	for token, value := range values {
		args = strings.ReplaceAll(args, token, value)
	}
	return commandLine{exe: c.exe, args: strings.Join(strings.Fields(args), " ")}
}

func (c commandLine) String() string {
	if c.args == "" {
		return c.exe
	}
	return c.exe + " " + c.args
}

// output is the captured output of one command run.
type output struct {
	exitCode int
	stdout   []string
	stderr   []string
}

// commandRunner executes runner commands and honours dry runs.
type commandRunner struct {
	executor ports.ProcessExecutorPort
	out      io.Writer
}

func (r commandRunner) run(ctx context.Context, cfg types.LifecycleConfig, command commandLine) (output, error) {
	if r.executor == nil {
		return output{}, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("no process executor is configured")
	}
	log.Ctx(ctx).Debug().Str("command", command.String()).Msg("running source command")
	var captured output
	code, err := r.executor.Execute(ctx, command.exe, command.args, cfg.CommandExecutionTimeoutSeconds,
		func(line string) { captured.stdout = append(captured.stdout, line) },
		func(line string) { captured.stderr = append(captured.stderr, line) },
	)
	captured.exitCode = code
	if err != nil {
		return captured, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to run '%s'", command)).
			WithCause(err)
	}
	return captured, nil
}

// dryRun prints the command that would run.
func (r commandRunner) dryRun(command commandLine) {
	if r.out == nil {
		return
	}
	_, _ = fmt.Fprintf(r.out, "Would have run '%s'\n", command)
}

func packageResult(results ports.ResultSink, name string, version string) *types.PackageResult {
	return results.GetOrAdd(strings.ToLower(name), func() *types.PackageResult {
		return types.NewPackageResult(types.PackageIdentity{ID: name, Version: version})
	})
}

// matchAll returns the submatches of pattern over every line.
func matchAll(pattern *regexp.Regexp, lines []string) [][]string {
	var matches [][]string
	for _, line := range lines {
		if match := pattern.FindStringSubmatch(strings.TrimSpace(line)); match != nil {
			matches = append(matches, match)
		}
	}
	return matches
}

func appendOutputErrors(result *types.PackageResult, pattern *regexp.Regexp, lines []string) bool {
	found := false
	for _, match := range matchAll(pattern, lines) {
		result.Append(types.SeverityError, match[0])
		found = true
	}
	return found
}
