package sources

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	debversion "github.com/knqyf263/go-deb-version"

	"pkgkeeper/internal/ports"
	"pkgkeeper/internal/types"
)

var aptArguments = map[types.Verb]commandLine{
	types.VerbList:      {exe: "apt", args: "list --installed"},
	types.VerbSearch:    {exe: "apt-cache", args: "madison {package}"},
	types.VerbInstall:   {exe: "apt-get", args: "install -y {package}"},
	types.VerbUpgrade:   {exe: "apt-get", args: "install -y --only-upgrade {package}"},
	types.VerbUninstall: {exe: "apt-get", args: "remove -y {package}"},
}

var (
	aptListLine        = regexp.MustCompile(`^([a-z0-9][a-z0-9+.-]*)/\S+\s+(\S+)\s`)
	aptMadisonLine     = regexp.MustCompile(`^\s*(\S+)\s*\|\s*(\S+)\s*\|`)
	aptSettingUpLine   = regexp.MustCompile(`^Setting up ([a-z0-9][a-z0-9+.-]*)(?::\S+)? \((\S+)\)`)
	aptRemovingLine    = regexp.MustCompile(`^Removing ([a-z0-9][a-z0-9+.-]*)(?::\S+)? \((\S+)\)`)
	aptNewestLine      = regexp.MustCompile(`^([a-z0-9][a-z0-9+.-]*) is already the newest version \((\S+)\)`)
	aptNotInstalled    = regexp.MustCompile(`^Package '([a-z0-9][a-z0-9+.-]*)' is not installed, so not removed`)
	aptErrorLine       = regexp.MustCompile(`^E: .+$`)
	aptUnableToLocate  = regexp.MustCompile(`^E: Unable to locate package (\S+)`)
	aptVersionNotFound = regexp.MustCompile(`^E: Version '([^']+)' for '([^']+)' was not found`)
)

// AptRunner manages Debian packages through apt. apt itself is expected
// to be present; it is only checked, never installed.
type AptRunner struct {
	commands commandRunner
}

func NewAptRunner(executor ports.ProcessExecutorPort, out io.Writer) AptRunner {
	return AptRunner{commands: commandRunner{executor: executor, out: out}}
}

func (r AptRunner) SourceType() types.SourceType {
	return types.SourceTypeApt
}

func (r AptRunner) EnsureSourceApp(ctx context.Context, cfg types.LifecycleConfig) error {
	captured, err := r.commands.run(ctx, cfg, commandLine{exe: "apt-get", args: "--version"})
	if err != nil {
		return err
	}
	if captured.exitCode != 0 {
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("apt-get is not usable (exit code %d)", captured.exitCode))
	}
	return nil
}

func (r AptRunner) List(ctx context.Context, cfg types.LifecycleConfig) ([]types.PackageIdentity, error) {
	captured, err := r.commands.run(ctx, cfg, aptArguments[types.VerbList])
	if err != nil {
		return nil, err
	}
	if captured.exitCode != 0 {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("apt list exited with code %d", captured.exitCode))
	}
	var packages []types.PackageIdentity
	for _, match := range matchAll(aptListLine, captured.stdout) {
		packages = append(packages, types.PackageIdentity{ID: match[1], Version: match[2]})
	}
	return packages, nil
}

// Search returns the candidate versions apt knows for query, newest first.
func (r AptRunner) Search(ctx context.Context, cfg types.LifecycleConfig, query string) ([]types.PackageIdentity, error) {
	captured, err := r.commands.run(ctx, cfg, aptArguments[types.VerbSearch].expand(map[string]string{packageToken: query}))
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var parsed []debversion.Version
	for _, match := range matchAll(aptMadisonLine, captured.stdout) {
		if match[1] != query {
			continue
		}
		version, err := debversion.NewVersion(match[2])
		if err != nil {
			continue
		}
		if _, ok := seen[version.String()]; ok {
			continue
		}
		seen[version.String()] = struct{}{}
		parsed = append(parsed, version)
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].GreaterThan(parsed[j]) })
	out := make([]types.PackageIdentity, 0, len(parsed))
	for _, version := range parsed {
		out = append(out, types.PackageIdentity{ID: query, Version: version.String()})
	}
	return out, nil
}

func (r AptRunner) Install(ctx context.Context, cfg types.LifecycleConfig, results ports.ResultSink) error {
	return r.mutate(ctx, cfg, results, types.VerbInstall)
}

func (r AptRunner) Upgrade(ctx context.Context, cfg types.LifecycleConfig, results ports.ResultSink) error {
	return r.mutate(ctx, cfg, results, types.VerbUpgrade)
}

func (r AptRunner) Uninstall(ctx context.Context, cfg types.LifecycleConfig, results ports.ResultSink) error {
	return r.mutate(ctx, cfg, results, types.VerbUninstall)
}

func (r AptRunner) mutate(ctx context.Context, cfg types.LifecycleConfig, results ports.ResultSink, verb types.Verb) error {
	for _, name := range types.SplitPackageNames(cfg.PackageNames) {
		if ctx.Err() != nil {
			break
		}
		result := packageResult(results, name, cfg.Version)
		target := name
		if version := strings.TrimSpace(cfg.Version); version != "" && verb != types.VerbUninstall {
			if _, err := debversion.NewVersion(version); err != nil {
				result.Append(types.SeverityError, fmt.Sprintf("%s: invalid version '%s': %v", name, version, err))
				continue
			}
			target = name + "=" + version
		}
		flags := ""
		if verb != types.VerbUninstall {
			flags = aptInstallFlags(cfg)
		} else if cfg.ForceDependencies {
			flags = "--auto-remove"
		}
		command := withArguments(aptArguments[verb].expand(map[string]string{packageToken: target}), cfg, flags)
		if cfg.Noop {
			r.commands.dryRun(command)
			result.Append(types.SeverityNote, fmt.Sprintf("Would have run '%s'.", command))
			continue
		}
		captured, err := r.commands.run(ctx, cfg, command)
		if err != nil {
			result.Append(types.SeverityError, err.Error())
			continue
		}
		lines := append(append([]string(nil), captured.stdout...), captured.stderr...)
		if captured.exitCode != 0 {
			r.recordFailure(result, name, cfg, lines, captured.exitCode, command)
			continue
		}
		r.recordSuccess(result, name, verb, lines)
	}
	return nil
}

func (r AptRunner) recordFailure(result *types.PackageResult, name string, cfg types.LifecycleConfig, lines []string, exitCode int, command commandLine) {
	result.SetExitCode(exitCode)
	switch {
	case len(matchAll(aptUnableToLocate, lines)) > 0, len(matchAll(aptVersionNotFound, lines)) > 0:
		result.Append(types.SeverityError, fmt.Sprintf("%s was not found with the source(s) listed.\n Version: '%s'", name, versionOrLatest(cfg.Version)))
	case appendOutputErrors(result, aptErrorLine, lines):
	default:
		result.Append(types.SeverityError, fmt.Sprintf("'%s' exited with code %d.", command, exitCode))
	}
}

func (r AptRunner) recordSuccess(result *types.PackageResult, name string, verb types.Verb, lines []string) {
	if verb == types.VerbUninstall {
		if len(matchAll(aptNotInstalled, lines)) > 0 {
			result.Append(types.SeverityError, fmt.Sprintf("%s is not installed. Cannot uninstall a non-existent package.", name))
			return
		}
		for _, match := range matchAll(aptRemovingLine, lines) {
			if match[1] == name {
				result.SetVersion(match[2])
			}
		}
		result.Append(types.SeverityNote, fmt.Sprintf("%s has been uninstalled.", name))
		return
	}
	for _, match := range matchAll(aptNewestLine, lines) {
		if match[1] != name {
			continue
		}
		result.SetVersion(match[2])
		if verb == types.VerbUpgrade {
			result.Append(types.SeverityInconclusive, fmt.Sprintf("%s v%s is the latest version available based on your source(s).", name, match[2]))
			return
		}
		message := fmt.Sprintf("%s v%s already installed.\n Use --force to reinstall.", name, match[2])
		result.Append(types.SeverityWarn, message)
		result.Append(types.SeverityInconclusive, message)
		return
	}
	version := newestDebVersion(lines, name)
	if version != "" {
		result.SetVersion(version)
		result.Append(types.SeverityNote, fmt.Sprintf("%s v%s has been %s.", name, version, pastTense(verb)))
		return
	}
	result.Append(types.SeverityNote, fmt.Sprintf("%s has been %s.", name, pastTense(verb)))
}

// newestDebVersion picks the highest version apt reported setting up for
// name; upgrades can mention the package more than once.
func newestDebVersion(lines []string, name string) string {
	var newest *debversion.Version
	for _, match := range matchAll(aptSettingUpLine, lines) {
		if match[1] != name {
			continue
		}
		version, err := debversion.NewVersion(match[2])
		if err != nil {
			continue
		}
		if newest == nil || version.GreaterThan(*newest) {
			newest = &version
		}
	}
	if newest == nil {
		return ""
	}
	return newest.String()
}

func aptInstallFlags(cfg types.LifecycleConfig) string {
	var flags []string
	if cfg.Force {
		flags = append(flags, "--reinstall")
	}
	if cfg.IgnoreDependencies {
		flags = append(flags, "--no-install-recommends")
	}
	return strings.Join(flags, " ")
}

func pastTense(verb types.Verb) string {
	switch verb {
	case types.VerbUpgrade:
		return "upgraded"
	case types.VerbUninstall:
		return "uninstalled"
	default:
		return "installed"
	}
}

func versionOrLatest(version string) string {
	if strings.TrimSpace(version) == "" {
		return "latest"
	}
	return version
}

var (
	_ ports.Bootstrappable = AptRunner{}
	_ ports.Listable       = AptRunner{}
	_ ports.Searchable     = AptRunner{}
	_ ports.Installable    = AptRunner{}
	_ ports.Upgradable     = AptRunner{}
	_ ports.Uninstallable  = AptRunner{}
)
