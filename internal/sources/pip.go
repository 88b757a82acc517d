package sources

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	pep440 "github.com/aquasecurity/go-pep440-version"
	"github.com/rs/zerolog/log"

	"pkgkeeper/internal/ports"
	"pkgkeeper/internal/shared"
	"pkgkeeper/internal/types"
)

const pipBootstrapPackage = "python"

var pipArguments = map[types.Verb]string{
	types.VerbList:      "-m pip list --format=freeze --disable-pip-version-check",
	types.VerbSearch:    "-m pip index versions {package} --disable-pip-version-check",
	types.VerbInstall:   "-m pip install {package} --disable-pip-version-check",
	types.VerbUpgrade:   "-m pip install --upgrade {package} --disable-pip-version-check",
	types.VerbUninstall: "-m pip uninstall -y {package} --disable-pip-version-check",
}

var (
	pipFreezeLine       = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)==(\S+)$`)
	pipInstalledLine    = regexp.MustCompile(`^Successfully installed (.+)$`)
	pipUninstalledLine  = regexp.MustCompile(`^Successfully uninstalled ([A-Za-z0-9._-]+?)-(\d\S*)$`)
	pipSatisfiedLine    = regexp.MustCompile(`^Requirement already satisfied: ([A-Za-z0-9._-]+)`)
	pipNotInstalledLine = regexp.MustCompile(`^WARNING: Skipping (\S+) as it is not installed`)
	pipAvailableLine    = regexp.MustCompile(`^Available versions: (.+)$`)
	pipErrorLine        = regexp.MustCompile(`^ERROR: .+$`)
)

// PipRunner manages Python packages through pip.
type PipRunner struct {
	commands  commandRunner
	bootstrap BootstrapFunc
	python    string
}

func NewPipRunner(executor ports.ProcessExecutorPort, out io.Writer, bootstrap BootstrapFunc) PipRunner {
	return PipRunner{
		commands:  commandRunner{executor: executor, out: out},
		bootstrap: bootstrap,
		python:    "python3",
	}
}

func (r PipRunner) SourceType() types.SourceType {
	return types.SourceTypePip
}

// EnsureSourceApp installs python through the native pipeline when pip
// cannot be run.
func (r PipRunner) EnsureSourceApp(ctx context.Context, cfg types.LifecycleConfig) error {
	captured, err := r.commands.run(ctx, cfg, commandLine{exe: r.python, args: "-m pip --version"})
	if err == nil && captured.exitCode == 0 {
		return nil
	}
	if r.bootstrap == nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("pip is not available and no bootstrap is configured")
	}
	log.Ctx(ctx).Info().Str("package", pipBootstrapPackage).Msg("pip is not available, installing python")
	return r.bootstrap(ctx, cfg, pipBootstrapPackage)
}

func (r PipRunner) List(ctx context.Context, cfg types.LifecycleConfig) ([]types.PackageIdentity, error) {
	captured, err := r.commands.run(ctx, cfg, r.command(types.VerbList, nil))
	if err != nil {
		return nil, err
	}
	if captured.exitCode != 0 {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("pip list exited with code %d", captured.exitCode))
	}
	var packages []types.PackageIdentity
	for _, match := range matchAll(pipFreezeLine, captured.stdout) {
		packages = append(packages, types.PackageIdentity{ID: match[1], Version: match[2]})
	}
	return packages, nil
}

// Search returns the published versions of query, newest first.
// Prereleases are only included with cfg.Prerelease.
func (r PipRunner) Search(ctx context.Context, cfg types.LifecycleConfig, query string) ([]types.PackageIdentity, error) {
	captured, err := r.commands.run(ctx, cfg, r.command(types.VerbSearch, map[string]string{packageToken: query}))
	if err != nil {
		return nil, err
	}
	var parsed []pep440.Version
	for _, match := range matchAll(pipAvailableLine, captured.stdout) {
		for _, raw := range strings.Split(match[1], ",") {
			version, err := pep440.Parse(strings.TrimSpace(raw))
			if err != nil || (version.IsPreRelease() && !cfg.Prerelease) {
				continue
			}
			parsed = append(parsed, version)
		}
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].Compare(parsed[j]) > 0 })
	out := make([]types.PackageIdentity, 0, len(parsed))
	for _, version := range parsed {
		out = append(out, types.PackageIdentity{ID: query, Version: version.String()})
	}
	return out, nil
}

func (r PipRunner) Install(ctx context.Context, cfg types.LifecycleConfig, results ports.ResultSink) error {
	for _, name := range types.SplitPackageNames(cfg.PackageNames) {
		if ctx.Err() != nil {
			break
		}
		result := packageResult(results, name, cfg.Version)
		requirement, err := pipRequirement(name, cfg.Version)
		if err != nil {
			result.Append(types.SeverityError, err.Error())
			continue
		}
		command := r.command(types.VerbInstall, map[string]string{packageToken: requirement})
		command = withArguments(command, cfg, pipInstallFlags(cfg))
		captured, ok := r.execute(ctx, cfg, command, result)
		if !ok {
			continue
		}
		if version, installed := installedVersion(captured.stdout, name); installed {
			result.SetVersion(version)
			result.Append(types.SeverityNote, fmt.Sprintf("%s v%s has been installed.", name, version))
			continue
		}
		if len(matchAll(pipSatisfiedLine, captured.stdout)) > 0 {
			message := fmt.Sprintf("%s already installed.\n Use --force to reinstall.", name)
			result.Append(types.SeverityWarn, message)
			result.Append(types.SeverityInconclusive, message)
			continue
		}
		result.Append(types.SeverityNote, fmt.Sprintf("%s has been installed.", name))
	}
	return nil
}

// Upgrade compares the installed version before and after running pip so
// a no-op upgrade is reported as already current.
func (r PipRunner) Upgrade(ctx context.Context, cfg types.LifecycleConfig, results ports.ResultSink) error {
	before := map[string]string{}
	if !cfg.Noop {
		if installed, err := r.List(ctx, cfg); err == nil {
			for _, identity := range installed {
				before[shared.NormalizePipName(identity.ID)] = identity.Version
			}
		}
	}
	for _, name := range types.SplitPackageNames(cfg.PackageNames) {
		if ctx.Err() != nil {
			break
		}
		result := packageResult(results, name, cfg.Version)
		requirement, err := pipRequirement(name, cfg.Version)
		if err != nil {
			result.Append(types.SeverityError, err.Error())
			continue
		}
		command := r.command(types.VerbUpgrade, map[string]string{packageToken: requirement})
		command = withArguments(command, cfg, pipInstallFlags(cfg))
		captured, ok := r.execute(ctx, cfg, command, result)
		if !ok {
			continue
		}
		previous := before[shared.NormalizePipName(name)]
		version, installed := installedVersion(captured.stdout, name)
		if !installed {
			result.SetVersion(previous)
			result.Append(types.SeverityInconclusive, fmt.Sprintf("%s v%s is the latest version available based on your source(s).", name, previous))
			continue
		}
		result.SetVersion(version)
		if comparePep440(version, previous) > 0 && previous != "" {
			result.Append(types.SeverityNote, fmt.Sprintf("%s upgraded from v%s to v%s.", name, previous, version))
			continue
		}
		result.Append(types.SeverityNote, fmt.Sprintf("%s v%s has been installed.", name, version))
	}
	return nil
}

func (r PipRunner) Uninstall(ctx context.Context, cfg types.LifecycleConfig, results ports.ResultSink) error {
	for _, name := range types.SplitPackageNames(cfg.PackageNames) {
		if ctx.Err() != nil {
			break
		}
		result := packageResult(results, name, cfg.Version)
		command := r.command(types.VerbUninstall, map[string]string{packageToken: name})
		command = withArguments(command, cfg, "")
		captured, ok := r.execute(ctx, cfg, command, result)
		if !ok {
			continue
		}
		if len(matchAll(pipNotInstalledLine, append(captured.stdout, captured.stderr...))) > 0 {
			result.Append(types.SeverityError, fmt.Sprintf("%s is not installed. Cannot uninstall a non-existent package.", name))
			continue
		}
		for _, match := range matchAll(pipUninstalledLine, captured.stdout) {
			if shared.NormalizePipName(match[1]) == shared.NormalizePipName(name) {
				result.SetVersion(match[2])
			}
		}
		result.Append(types.SeverityNote, fmt.Sprintf("%s has been uninstalled.", name))
	}
	return nil
}

func (r PipRunner) command(verb types.Verb, values map[string]string) commandLine {
	return commandLine{exe: r.python, args: pipArguments[verb]}.expand(values)
}

// execute runs command, or prints it on a dry run. It reports false when
// the caller should not inspect the output.
func (r PipRunner) execute(ctx context.Context, cfg types.LifecycleConfig, command commandLine, result *types.PackageResult) (output, bool) {
	if cfg.Noop {
		r.commands.dryRun(command)
		result.Append(types.SeverityNote, fmt.Sprintf("Would have run '%s'.", command))
		return output{}, false
	}
	captured, err := r.commands.run(ctx, cfg, command)
	if err != nil {
		result.Append(types.SeverityError, err.Error())
		return captured, false
	}
	if captured.exitCode != 0 {
		if !appendOutputErrors(result, pipErrorLine, captured.stderr) {
			result.Append(types.SeverityError, fmt.Sprintf("'%s' exited with code %d.", command, captured.exitCode))
		}
		result.SetExitCode(captured.exitCode)
		return captured, false
	}
	return captured, true
}

// pipRequirement turns a name and an optional version or specifier into a
// pip requirement string.
func pipRequirement(name string, version string) (string, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return name, nil
	}
	if strings.ContainsAny(version[:1], "<>=!~") {
		if _, err := pep440.NewSpecifiers(version); err != nil {
			return "", fmt.Errorf("%s: invalid version specifier '%s': %w", name, version, err)
		}
		return name + version, nil
	}
	if _, err := pep440.Parse(version); err != nil {
		return "", fmt.Errorf("%s: invalid version '%s': %w", name, version, err)
	}
	return name + "==" + version, nil
}

func pipInstallFlags(cfg types.LifecycleConfig) string {
	var flags []string
	if cfg.Force {
		flags = append(flags, "--force-reinstall")
	}
	if cfg.Prerelease {
		flags = append(flags, "--pre")
	}
	if cfg.IgnoreDependencies {
		flags = append(flags, "--no-deps")
	}
	return strings.Join(flags, " ")
}

// withArguments adds runner flags and user arguments. Overriding user
// arguments replace the runner flags but never the command itself.
func withArguments(command commandLine, cfg types.LifecycleConfig, flags string) commandLine {
	user := strings.TrimSpace(cfg.InstallArguments)
	if cfg.OverrideArguments && user != "" {
		flags = ""
	}
	command.args = strings.Join(strings.Fields(strings.Join([]string{command.args, flags, user}, " ")), " ")
	return command
}

// installedVersion finds name in pip's "Successfully installed" line.
func installedVersion(lines []string, name string) (string, bool) {
	want := shared.NormalizePipName(name)
	for _, match := range matchAll(pipInstalledLine, lines) {
		for _, token := range strings.Fields(match[1]) {
			idx := strings.LastIndex(token, "-")
			if idx <= 0 {
				continue
			}
			if shared.NormalizePipName(token[:idx]) == want {
				return token[idx+1:], true
			}
		}
	}
	return "", false
}

func comparePep440(a string, b string) int {
	v1, err := pep440.Parse(a)
	if err != nil {
		return strings.Compare(a, b)
	}
	v2, err := pep440.Parse(b)
	if err != nil {
		return strings.Compare(a, b)
	}
	return v1.Compare(v2)
}

var (
	_ ports.Bootstrappable = PipRunner{}
	_ ports.Listable       = PipRunner{}
	_ ports.Searchable     = PipRunner{}
	_ ports.Installable    = PipRunner{}
	_ ports.Upgradable     = PipRunner{}
	_ ports.Uninstallable  = PipRunner{}
)
