package uninstaller

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkgkeeper/internal/types"
)

type executorCall struct {
	Path    string
	Args    string
	Timeout int
}

type recordingExecutor struct {
	exitCode int
	err      error
	calls    []executorCall
}

func (e *recordingExecutor) Execute(_ context.Context, path string, args string, timeoutSeconds int, onStdout func(string), _ func(string)) (int, error) {
	e.calls = append(e.calls, executorCall{Path: path, Args: args, Timeout: timeoutSeconds})
	onStdout("uninstalling")
	return e.exitCode, e.err
}

type answeringPrompt struct {
	answer   string
	timeouts []int
	defaults []string
}

func (p *answeringPrompt) Confirm(_ context.Context, _ string, _ []string, defaultChoice string, timeoutSeconds int) (string, error) {
	p.timeouts = append(p.timeouts, timeoutSeconds)
	p.defaults = append(p.defaults, defaultChoice)
	return p.answer, nil
}

type staticMetadata struct {
	metadata types.PackageMetadata
	found    bool
}

func (s staticMetadata) Get(types.PackageIdentity) (types.PackageMetadata, bool, error) {
	return s.metadata, s.found, nil
}

func (s staticMetadata) Save(types.PackageMetadata) error { return nil }

func (s staticMetadata) Remove(types.PackageIdentity) error { return nil }

func (s staticMetadata) List() ([]types.PackageMetadata, error) { return nil, nil }

type missingKeys map[string]bool

func (m missingKeys) KeyExists(keyPath string) bool { return !m[keyPath] }

var bob = types.PackageIdentity{ID: "bob", Version: "1.2.0"}

func snapshotOf(keys ...types.RegistryApplicationKey) staticMetadata {
	return staticMetadata{
		found: true,
		metadata: types.PackageMetadata{
			Identity:         bob,
			RegistrySnapshot: &types.RegistrySnapshot{Keys: keys},
		},
	}
}

func enabledConfig(t *testing.T) types.LifecycleConfig {
	t.Helper()
	return types.LifecycleConfig{
		Paths:                          types.Paths{CacheLocation: filepath.Join(t.TempDir(), "cache")},
		Features:                       types.Features{AutoUninstaller: true},
		CommandExecutionTimeoutSeconds: 60,
	}
}

func newTestUninstaller(metadata staticMetadata, executor *recordingExecutor, prompt *answeringPrompt) (*AutomaticUninstaller, *[]time.Duration) {
	var slept []time.Duration
	u := NewAutomaticUninstaller(metadata, executor, prompt, nil)
	u.Sleep = func(_ context.Context, d time.Duration) { slept = append(slept, d) }
	return u, &slept
}

func lastMessage(t *testing.T, result *types.PackageResult) types.ResultMessage {
	t.Helper()
	messages := result.Messages()
	require.NotEmpty(t, messages)
	return messages[len(messages)-1]
}

func TestAutomaticUninstallerSkips(t *testing.T) {
	tests := []struct {
		name     string
		metadata staticMetadata
		disabled bool
		want     string
	}{
		{name: "feature disabled", metadata: snapshotOf(types.RegistryApplicationKey{UninstallString: "x"}), disabled: true, want: "not enabled"},
		{name: "metadata unavailable", metadata: staticMetadata{}, want: "no package information"},
		{name: "no snapshot", metadata: staticMetadata{found: true, metadata: types.PackageMetadata{Identity: bob}}, want: "no registry snapshot"},
		{name: "zero keys", metadata: snapshotOf(), want: "no registry keys"},
		{name: "empty uninstall string", metadata: snapshotOf(types.RegistryApplicationKey{DisplayName: "Bob", UninstallString: "  "}), want: "has no uninstall command"},
		{name: "ghost executable", metadata: snapshotOf(types.RegistryApplicationKey{DisplayName: "Bob", UninstallString: `"/nonexistent/bob/uninst.exe" /S`, InstallerType: types.InstallerTypeNsis}), want: "no longer exists"},
		{name: "install location gone", metadata: snapshotOf(types.RegistryApplicationKey{DisplayName: "Bob", UninstallString: "uninst.exe", InstallLocation: "/nonexistent/bob"}), want: "uninstalled already"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := &recordingExecutor{}
			u, _ := newTestUninstaller(tt.metadata, executor, &answeringPrompt{})
			cfg := enabledConfig(t)
			cfg.Features.AutoUninstaller = !tt.disabled
			result := types.NewPackageResult(bob)

			u.Run(t.Context(), cfg, result)

			assert.Empty(t, executor.calls)
			assert.True(t, result.Success())
			message := lastMessage(t, result)
			assert.Equal(t, types.SeverityNote, message.Severity)
			assert.Contains(t, message.Text, tt.want)
		})
	}
}

func TestAutomaticUninstallerSkipMarker(t *testing.T) {
	tests := []struct {
		name     string
		marker   string
		wantSkip bool
	}{
		{name: "root marker", marker: ".skipAutoUninstaller", wantSkip: true},
		{name: "nested short marker", marker: filepath.Join("tools", ".skipAutoUninstall"), wantSkip: true},
		{name: "templates ignored", marker: filepath.Join("templates", ".skipAutoUninstaller"), wantSkip: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			location := t.TempDir()
			path := filepath.Join(location, tt.marker)
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
			require.NoError(t, os.WriteFile(path, nil, 0644))

			executor := &recordingExecutor{}
			u, _ := newTestUninstaller(snapshotOf(types.RegistryApplicationKey{
				DisplayName:       "Bob",
				UninstallString:   "MsiExec.exe /X{GUID}",
				HasQuietUninstall: true,
				InstallerType:     types.InstallerTypeMsi,
			}), executor, &answeringPrompt{})
			result := types.NewPackageResult(bob)
			result.SetInstallLocation(location)

			u.Run(t.Context(), enabledConfig(t), result)

			if tt.wantSkip {
				assert.Empty(t, executor.calls)
				assert.True(t, result.HasMessage(types.SeverityNote, "skip file"))
				return
			}
			assert.Len(t, executor.calls, 1)
		})
	}
}

func TestAutomaticUninstallerSkipMarkerInBackupAfterRemoval(t *testing.T) {
	cfg := enabledConfig(t)
	cfg.Paths.BackupRoot = filepath.Join(t.TempDir(), "lib-bkp")
	backup := cfg.Paths.BackupDir(bob.ID)
	require.NoError(t, os.MkdirAll(backup, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(backup, ".skipAutoUninstaller"), nil, 0644))

	executor := &recordingExecutor{}
	u, _ := newTestUninstaller(snapshotOf(types.RegistryApplicationKey{
		DisplayName:       "Bob",
		UninstallString:   "MsiExec.exe /X{GUID}",
		HasQuietUninstall: true,
		InstallerType:     types.InstallerTypeMsi,
	}), executor, &answeringPrompt{})
	result := types.NewPackageResult(bob)
	result.SetInstallLocation(filepath.Join(t.TempDir(), "removed", "bob"))

	u.Run(t.Context(), cfg, result)

	assert.Empty(t, executor.calls)
	assert.True(t, result.HasMessage(types.SeverityNote, "skip file"))
}

func TestAutomaticUninstallerMsi(t *testing.T) {
	executor := &recordingExecutor{exitCode: 3010}
	u, slept := newTestUninstaller(snapshotOf(types.RegistryApplicationKey{
		KeyPath:         `HKLM\Software\Microsoft\Windows\CurrentVersion\Uninstall\{GUID}`,
		DisplayName:     "Bob",
		UninstallString: "MsiExec.exe /i{GUID}",
		InstallerType:   types.InstallerTypeMsi,
	}), executor, &answeringPrompt{})
	cfg := enabledConfig(t)
	cfg.AutoUninstallerDelay = 2 * time.Second
	result := types.NewPackageResult(bob)

	u.Run(t.Context(), cfg, result)

	logDir := cfg.Paths.PackageCacheDir(bob)
	want := []executorCall{{
		Path:    "MsiExec.exe",
		Args:    `/X{GUID} /qn /norestart /l*v "` + filepath.Join(logDir, "MsiUninstall.log") + `"`,
		Timeout: 60,
	}}
	if diff := cmp.Diff(want, executor.calls); diff != "" {
		t.Fatalf("executor calls mismatch (-want +got):\n%s", diff)
	}
	assert.DirExists(t, logDir)
	assert.Equal(t, []time.Duration{2 * time.Second}, *slept)
	assert.True(t, result.Success())
	assert.True(t, result.HasMessage(types.SeverityNote, "successfully uninstalled"))
}

func TestAutomaticUninstallerQuietStringKeepsArguments(t *testing.T) {
	executor := &recordingExecutor{}
	u, _ := newTestUninstaller(snapshotOf(types.RegistryApplicationKey{
		DisplayName:       "Bob",
		UninstallString:   `uninst.exe /quiet`,
		HasQuietUninstall: true,
		InstallerType:     types.InstallerTypeCustom,
	}), executor, &answeringPrompt{})
	result := types.NewPackageResult(bob)

	u.Run(t.Context(), enabledConfig(t), result)

	require.Len(t, executor.calls, 1)
	assert.Equal(t, "/quiet", executor.calls[0].Args)
}

func TestAutomaticUninstallerUserArguments(t *testing.T) {
	tests := []struct {
		name     string
		override bool
		want     string
	}{
		{name: "append", want: "/S /D={PACKAGE_LOCATION}"},
		{name: "override", override: true, want: "--purge"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := &recordingExecutor{}
			u, _ := newTestUninstaller(snapshotOf(types.RegistryApplicationKey{
				DisplayName:     "Bob",
				UninstallString: "uninst.exe",
				InstallerType:   types.InstallerTypeNsis,
			}), executor, &answeringPrompt{})
			cfg := enabledConfig(t)
			if tt.override {
				cfg.InstallArguments = "--purge"
				cfg.OverrideArguments = true
			} else {
				cfg.InstallArguments = "/D={PACKAGE_LOCATION}"
			}
			result := types.NewPackageResult(bob)

			u.Run(t.Context(), cfg, result)

			require.Len(t, executor.calls, 1)
			want := substituteLocations(tt.want, cfg.Paths.PackageCacheDir(bob))
			assert.Equal(t, want, executor.calls[0].Args)
		})
	}
}

func TestAutomaticUninstallerCustomDeclined(t *testing.T) {
	executor := &recordingExecutor{}
	prompt := &answeringPrompt{answer: "no"}
	u, _ := newTestUninstaller(snapshotOf(types.RegistryApplicationKey{
		DisplayName:     "Bob",
		UninstallString: "uninst.exe",
		InstallerType:   types.InstallerTypeCustom,
	}), executor, prompt)
	result := types.NewPackageResult(bob)

	u.Run(t.Context(), enabledConfig(t), result)

	assert.Empty(t, executor.calls)
	assert.True(t, result.Success())
	assert.True(t, result.HasMessage(types.SeverityNote, "skipping auto uninstaller"))
	assert.Equal(t, []int{0}, prompt.timeouts)
	assert.Equal(t, []string{"no"}, prompt.defaults)
}

func TestAutomaticUninstallerCustomConfirmed(t *testing.T) {
	executor := &recordingExecutor{}
	prompt := &answeringPrompt{answer: "yes"}
	u, _ := newTestUninstaller(snapshotOf(types.RegistryApplicationKey{
		DisplayName:     "Bob",
		UninstallString: "uninst.exe",
		InstallerType:   types.InstallerTypeUnknown,
	}), executor, prompt)
	cfg := enabledConfig(t)
	cfg.PromptForConfirmation = true
	cfg.ConfirmTimeoutSeconds = 30
	result := types.NewPackageResult(bob)

	u.Run(t.Context(), cfg, result)

	require.Len(t, executor.calls, 1)
	assert.Equal(t, "/S", executor.calls[0].Args)
	assert.Equal(t, []int{30}, prompt.timeouts)
}

func TestConfirmTimeout(t *testing.T) {
	tests := []struct {
		name    string
		prompt  bool
		timeout int
		want    int
	}{
		{name: "prompting disabled takes the default", prompt: false, timeout: 30, want: 0},
		{name: "prompting without a timeout waits", prompt: true, timeout: 0, want: -1},
		{name: "prompting with a timeout", prompt: true, timeout: 30, want: 30},
		{name: "negative timeout waits", prompt: true, timeout: -5, want: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := types.LifecycleConfig{PromptForConfirmation: tt.prompt, ConfirmTimeoutSeconds: tt.timeout}
			assert.Equal(t, tt.want, confirmTimeout(cfg))
		})
	}
}

func TestAutomaticUninstallerPromptWaitsForAnswer(t *testing.T) {
	executor := &recordingExecutor{}
	prompt := &answeringPrompt{answer: "yes"}
	u, _ := newTestUninstaller(snapshotOf(types.RegistryApplicationKey{
		DisplayName:     "Bob",
		UninstallString: "uninst.exe",
		InstallerType:   types.InstallerTypeCustom,
	}), executor, prompt)
	cfg := enabledConfig(t)
	cfg.PromptForConfirmation = true
	result := types.NewPackageResult(bob)

	u.Run(t.Context(), cfg, result)

	assert.Equal(t, []int{-1}, prompt.timeouts)
	assert.Len(t, executor.calls, 1)
}

func TestAutomaticUninstallerInvalidExitCode(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		err      error
		want     int
	}{
		{name: "bad exit code", exitCode: 2, want: 2},
		{name: "timeout kill", exitCode: -1, err: errors.New("timed out"), want: -1},
		{name: "failed to start", exitCode: 0, err: errors.New("not found"), want: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := &recordingExecutor{exitCode: tt.exitCode, err: tt.err}
			u, _ := newTestUninstaller(snapshotOf(types.RegistryApplicationKey{
				DisplayName:       "Bob",
				UninstallString:   "unins000.exe",
				HasQuietUninstall: true,
				InstallerType:     types.InstallerTypeInnoSetup,
			}), executor, &answeringPrompt{})
			result := types.NewPackageResult(bob)

			u.Run(t.Context(), enabledConfig(t), result)

			assert.False(t, result.Success())
			assert.Equal(t, tt.want, result.ExitCode())
		})
	}
}

func TestAutomaticUninstallerMissingRegistryKey(t *testing.T) {
	executor := &recordingExecutor{}
	u, _ := newTestUninstaller(snapshotOf(
		types.RegistryApplicationKey{KeyPath: "gone", DisplayName: "Old", UninstallString: "old.exe", HasQuietUninstall: true},
		types.RegistryApplicationKey{KeyPath: "present", DisplayName: "New", UninstallString: "new.exe", HasQuietUninstall: true},
	), executor, &answeringPrompt{})
	u.Registry = missingKeys{"gone": true}
	result := types.NewPackageResult(bob)

	u.Run(t.Context(), enabledConfig(t), result)

	require.Len(t, executor.calls, 1)
	assert.Equal(t, "new.exe", executor.calls[0].Path)
	assert.True(t, result.HasMessage(types.SeverityNote, "'Old' appears to have been uninstalled already"))
}
