package adapters

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"pkgkeeper/internal/ports"
	"pkgkeeper/internal/types"
)

const (
	statusSucceeded    = "succeeded"
	statusFailed       = "failed"
	statusInconclusive = "inconclusive"
)

// ConsoleReporter prints pipeline results. Human mode prints every
// message colored by severity followed by totals; machine mode prints one
// id|version|status line per package.
type ConsoleReporter struct {
	out     io.Writer
	machine bool
}

func NewConsoleReporter(out io.Writer, mode types.OutputMode) ConsoleReporter {
	return ConsoleReporter{out: out, machine: mode == types.OutputModeMachine}
}

func (r ConsoleReporter) Line(text string) {
	_, _ = fmt.Fprintln(r.out, text)
}

func (r ConsoleReporter) Report(command types.CommandType, results []*types.PackageResult) error {
	if r.machine {
		for _, result := range results {
			identity := result.Identity()
			if _, err := fmt.Fprintf(r.out, "%s|%s|%s\n", identity.ID, identity.Version, resultStatus(result)); err != nil {
				return err
			}
		}
		return nil
	}
	var succeeded, failed, skipped int
	var failures []string
	for _, result := range results {
		printed := map[string]struct{}{}
		for _, message := range result.Messages() {
			if _, seen := printed[message.Text]; seen && message.Severity == types.SeverityInconclusive {
				continue
			}
			line, ok := colorize(message)
			if !ok {
				continue
			}
			printed[message.Text] = struct{}{}
			if _, err := fmt.Fprintln(r.out, line); err != nil {
				return err
			}
		}
		switch resultStatus(result) {
		case statusFailed:
			failed++
			failures = append(failures, result.Identity().ID)
		case statusInconclusive:
			skipped++
		default:
			succeeded++
		}
	}
	total := len(results)
	summary := fmt.Sprintf("\npkgkeeper %s %d/%d packages.", pastTenseCommand(command), succeeded, total)
	if failed > 0 {
		summary += fmt.Sprintf(" %d packages failed.", failed)
	}
	if skipped > 0 {
		summary += fmt.Sprintf(" %d packages skipped.", skipped)
	}
	if _, err := fmt.Fprintln(r.out, summary); err != nil {
		return err
	}
	if failed > 0 {
		_, err := fmt.Fprintln(r.out, color.RedString("Failures\n - %s", strings.Join(failures, "\n - ")))
		return err
	}
	return nil
}

// resultStatus ranks Error above Inconclusive.
func resultStatus(result *types.PackageResult) string {
	switch {
	case !result.Success():
		return statusFailed
	case result.Inconclusive():
		return statusInconclusive
	default:
		return statusSucceeded
	}
}

// colorize renders a message for the terminal. Debug messages are not
// printed.
func colorize(message types.ResultMessage) (string, bool) {
	switch message.Severity {
	case types.SeverityNote, types.SeverityInconclusive:
		return message.Text, true
	case types.SeverityWarn:
		return color.YellowString("%s", message.Text), true
	case types.SeverityError:
		return color.RedString("%s", message.Text), true
	default:
		return "", false
	}
}

func pastTenseCommand(command types.CommandType) string {
	switch command {
	case types.CommandUpgrade:
		return "upgraded"
	case types.CommandUninstall:
		return "uninstalled"
	default:
		return "installed"
	}
}

var _ ports.ReporterPort = ConsoleReporter{}
