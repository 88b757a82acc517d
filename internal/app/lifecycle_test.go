package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"pkgkeeper/internal/adapters"
	"pkgkeeper/internal/ports"
	"pkgkeeper/internal/types"
)

type executorCall struct {
	path string
	args string
}

// fakeExecutor answers every command with a fixed exit code and output.
type fakeExecutor struct {
	calls    []executorCall
	exitCode func(path string, args string) int
	stdout   map[string][]string
}

func (e *fakeExecutor) Execute(_ context.Context, path string, args string, _ int, onStdout func(string), _ func(string)) (int, error) {
	e.calls = append(e.calls, executorCall{path: path, args: args})
	for _, line := range e.stdout[strings.TrimSpace(path+" "+args)] {
		onStdout(line)
	}
	if e.exitCode == nil {
		return 0, nil
	}
	return e.exitCode(path, args), nil
}

type fixedPrompt struct {
	answer string
}

func (p fixedPrompt) Confirm(context.Context, string, []string, string, int) (string, error) {
	return p.answer, nil
}

type testEnv struct {
	service  Service
	executor *fakeExecutor
	feedRoot string
	paths    types.Paths
	out      *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	paths := types.Paths{
		InstallRoot:   filepath.Join(root, "lib"),
		BackupRoot:    filepath.Join(root, "lib-bkp"),
		CacheLocation: filepath.Join(root, "cache"),
		MetadataRoot:  filepath.Join(root, "metadata"),
	}
	feedRoot := filepath.Join(root, "feed")
	require.NoError(t, os.MkdirAll(feedRoot, 0o755))
	out := &bytes.Buffer{}
	executor := &fakeExecutor{stdout: map[string][]string{}}
	service := NewService(paths, []string{feedRoot}, adapters.HTTPFeedOptions{}, out)
	service.Executor = executor
	service.Prompt = fixedPrompt{answer: "no"}
	return &testEnv{service: service, executor: executor, feedRoot: feedRoot, paths: paths, out: out}
}

func (e *testEnv) publish(t *testing.T, id string, version string) {
	t.Helper()
	dir := filepath.Join(e.feedRoot, id, version)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest, err := yaml.Marshal(ports.FeedPackage{ID: id, Version: version})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, adapters.PackageManifestName), manifest, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tool.conf"), []byte("version="+version), 0o644))
}

func (e *testEnv) config(names string) types.LifecycleConfig {
	return types.LifecycleConfig{
		PackageNames:     names,
		Sources:          []string{e.feedRoot},
		Paths:            e.paths,
		ConfigExtensions: types.DefaultConfigExtensions,
		Output:           types.OutputModeHuman,
	}
}

func (e *testEnv) metadata(t *testing.T) []types.PackageMetadata {
	t.Helper()
	records, err := e.service.Metadata.List()
	require.NoError(t, err)
	return records
}

func TestInstallRecordsMetadata(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "tool", "1.0.0")

	cfg := env.config("tool")
	cfg.SideBySide = true
	result, err := env.service.Install(t.Context(), LifecycleRequest{Config: cfg})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, types.CommandInstall, result.Command)
	want := []types.PackageMetadata{{Identity: types.PackageIdentity{ID: "tool", Version: "1.0.0"}, IsSideBySide: true}}
	if diff := cmp.Diff(want, env.metadata(t)); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestInstallNoopRecordsNothing(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "tool", "1.0.0")

	cfg := env.config("tool")
	cfg.Noop = true
	_, err := env.service.Install(t.Context(), LifecycleRequest{Config: cfg})
	require.NoError(t, err)

	assert.Empty(t, env.metadata(t))
	assert.NoDirExists(t, filepath.Join(env.paths.InstallRoot, "tool"))
	assert.Contains(t, env.out.String(), "Would have installed tool v1.0.0")
}

func TestForcedReinstallKeepsPin(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "tool", "1.0.0")
	_, err := env.service.Install(t.Context(), LifecycleRequest{Config: env.config("tool")})
	require.NoError(t, err)
	_, err = env.service.PinAdd(t.Context(), PinRequest{Config: env.config(""), PackageName: "tool"})
	require.NoError(t, err)

	cfg := env.config("tool")
	cfg.Force = true
	result, err := env.service.Install(t.Context(), LifecycleRequest{Config: cfg})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	records := env.metadata(t)
	require.Len(t, records, 1)
	assert.True(t, records[0].IsPinned)
}

func TestUpgradeReplacesMetadata(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "tool", "1.0.0")
	_, err := env.service.Install(t.Context(), LifecycleRequest{Config: env.config("tool")})
	require.NoError(t, err)
	env.publish(t, "tool", "1.1.0")

	result, err := env.service.Upgrade(t.Context(), LifecycleRequest{Config: env.config("all")})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	records := env.metadata(t)
	require.Len(t, records, 1)
	assert.Equal(t, "1.1.0", records[0].Identity.Version)
}

func TestUpgradeSkipsPinned(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "tool", "1.0.0")
	_, err := env.service.Install(t.Context(), LifecycleRequest{Config: env.config("tool")})
	require.NoError(t, err)
	_, err = env.service.PinAdd(t.Context(), PinRequest{Config: env.config(""), PackageName: "tool"})
	require.NoError(t, err)
	env.publish(t, "tool", "1.1.0")

	result, err := env.service.Upgrade(t.Context(), LifecycleRequest{Config: env.config("tool")})
	require.NoError(t, err)

	require.Len(t, result.Results, 1)
	assert.True(t, result.Results[0].HasMessage(types.SeverityWarn, "is pinned"))
	installed, _, err := env.service.Repository.FindInstalled(t.Context(), "tool")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", installed.Version)
}

func TestUpgradeAllWithNothingInstalled(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.service.Upgrade(t.Context(), LifecycleRequest{Config: env.config("all")})
	require.NoError(t, err)
	assert.Empty(t, result.Results)
}

func TestUninstallRunsAutoUninstallerAndForgetsMetadata(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "tool", "1.0.0")
	_, err := env.service.Install(t.Context(), LifecycleRequest{Config: env.config("tool")})
	require.NoError(t, err)

	uninstaller := filepath.Join(t.TempDir(), "uninst.exe")
	require.NoError(t, os.WriteFile(uninstaller, []byte("stub"), 0o755))
	identity := types.PackageIdentity{ID: "tool", Version: "1.0.0"}
	require.NoError(t, env.service.Metadata.Save(types.PackageMetadata{
		Identity: identity,
		RegistrySnapshot: &types.RegistrySnapshot{Keys: []types.RegistryApplicationKey{{
			KeyPath:           "Software/Tool",
			DisplayName:       "Tool",
			UninstallString:   `"` + uninstaller + `" /S`,
			HasQuietUninstall: true,
			InstallerType:     types.InstallerTypeNsis,
		}}},
	}))

	cfg := env.config("tool")
	cfg.Features.AutoUninstaller = true
	result, err := env.service.Uninstall(t.Context(), LifecycleRequest{Config: cfg})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	require.Len(t, env.executor.calls, 1)
	assert.Equal(t, uninstaller, env.executor.calls[0].path)
	assert.Equal(t, "/S", env.executor.calls[0].args)
	require.Len(t, result.Results, 1)
	assert.True(t, result.Results[0].HasMessage(types.SeverityNote, "Auto uninstaller has successfully uninstalled"))
	assert.Empty(t, env.metadata(t))
	assert.NoDirExists(t, filepath.Join(env.paths.InstallRoot, "tool"))
}

func TestUninstallHonoursShippedSkipMarker(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "tool", "1.0.0")
	require.NoError(t, os.WriteFile(filepath.Join(env.feedRoot, "tool", "1.0.0", ".skipAutoUninstaller"), nil, 0o644))
	_, err := env.service.Install(t.Context(), LifecycleRequest{Config: env.config("tool")})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(env.paths.InstallRoot, "tool", ".skipAutoUninstaller"))

	uninstaller := filepath.Join(t.TempDir(), "uninst.exe")
	require.NoError(t, os.WriteFile(uninstaller, []byte("stub"), 0o755))
	require.NoError(t, env.service.Metadata.Save(types.PackageMetadata{
		Identity: types.PackageIdentity{ID: "tool", Version: "1.0.0"},
		RegistrySnapshot: &types.RegistrySnapshot{Keys: []types.RegistryApplicationKey{{
			KeyPath:           "Software/Tool",
			DisplayName:       "Tool",
			UninstallString:   `"` + uninstaller + `" /S`,
			HasQuietUninstall: true,
			InstallerType:     types.InstallerTypeNsis,
		}}},
	}))

	cfg := env.config("tool")
	cfg.Features.AutoUninstaller = true
	result, err := env.service.Uninstall(t.Context(), LifecycleRequest{Config: cfg})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	assert.Empty(t, env.executor.calls)
	require.Len(t, result.Results, 1)
	assert.True(t, result.Results[0].HasMessage(types.SeverityNote, "skip file"))
	assert.NoDirExists(t, filepath.Join(env.paths.InstallRoot, "tool"))
	assert.Empty(t, env.metadata(t))
}

func TestUninstallAllVersionsForgetsEverySideBySideVersion(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "tool", "1.1.0")
	env.publish(t, "tool", "1.2.0")
	for _, version := range []string{"1.1.0", "1.2.0"} {
		cfg := env.config("tool")
		cfg.Version = version
		cfg.SideBySide = true
		_, err := env.service.Install(t.Context(), LifecycleRequest{Config: cfg})
		require.NoError(t, err)
	}
	require.Len(t, env.metadata(t), 2)

	cfg := env.config("tool")
	cfg.AllVersions = true
	result, err := env.service.Uninstall(t.Context(), LifecycleRequest{Config: cfg})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	require.Len(t, result.Results, 2)
	assert.Empty(t, env.metadata(t))

	upgraded, err := env.service.Upgrade(t.Context(), LifecycleRequest{Config: env.config("all")})
	require.NoError(t, err)
	assert.Empty(t, upgraded.Results)
	assert.NoDirExists(t, env.paths.VersionedPackageDir("tool", "1.1.0"))
}

func TestUninstallMissingFails(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.service.Uninstall(t.Context(), LifecycleRequest{Config: env.config("ghost")})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)
	assert.Equal(t, 1, result.Failed)
}

func TestPinLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "tool", "1.0.0")
	_, err := env.service.Install(t.Context(), LifecycleRequest{Config: env.config("tool")})
	require.NoError(t, err)

	pinned, err := env.service.PinAdd(t.Context(), PinRequest{Config: env.config(""), PackageName: "TOOL"})
	require.NoError(t, err)
	assert.True(t, pinned.Changed)
	again, err := env.service.PinAdd(t.Context(), PinRequest{Config: env.config(""), PackageName: "tool"})
	require.NoError(t, err)
	assert.False(t, again.Changed)

	list, err := env.service.PinList(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []types.PackageIdentity{{ID: "tool", Version: "1.0.0"}}, list)

	removed, err := env.service.PinRemove(t.Context(), PinRequest{Config: env.config(""), PackageName: "tool", Version: "1.0"})
	require.NoError(t, err)
	assert.True(t, removed.Changed)
	list, err = env.service.PinList(t.Context())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPinErrors(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "tool", "1.0.0")
	_, err := env.service.Install(t.Context(), LifecycleRequest{Config: env.config("tool")})
	require.NoError(t, err)

	tests := []struct {
		name     string
		req      PinRequest
		wantCode errbuilder.ErrCode
	}{
		{name: "missing name", req: PinRequest{}, wantCode: errbuilder.CodeInvalidArgument},
		{name: "not installed", req: PinRequest{PackageName: "ghost"}, wantCode: errbuilder.CodeNotFound},
		{name: "version not installed", req: PinRequest{PackageName: "tool", Version: "2.0.0"}, wantCode: errbuilder.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.PinAdd(t.Context(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errbuilder.CodeOf(err))
		})
	}
}

func TestListAndOutdated(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "alpha", "1.0.0")
	env.publish(t, "beta", "2.0.0")
	_, err := env.service.Install(t.Context(), LifecycleRequest{Config: env.config("alpha;beta")})
	require.NoError(t, err)
	require.NoError(t, env.service.Metadata.Save(types.PackageMetadata{Identity: types.PackageIdentity{ID: "gone", Version: "1.0.0"}}))
	env.publish(t, "alpha", "1.2.0")

	listed, err := env.service.List(t.Context(), ListRequest{Config: env.config("")})
	require.NoError(t, err)
	var ids []string
	for _, pkg := range listed.Packages {
		ids = append(ids, pkg.Identity.String())
	}
	assert.Equal(t, []string{"alpha v1.0.0", "beta v2.0.0"}, ids)

	filtered, err := env.service.List(t.Context(), ListRequest{Config: env.config(""), Filter: "BET"})
	require.NoError(t, err)
	require.Len(t, filtered.Packages, 1)

	outdated, err := env.service.Outdated(t.Context(), OutdatedRequest{Config: env.config("")})
	require.NoError(t, err)
	want := []OutdatedPackage{{ID: "alpha", Installed: "1.0.0", Available: "1.2.0"}}
	if diff := cmp.Diff(want, outdated.Packages); diff != "" {
		t.Fatalf("outdated mismatch (-want +got):\n%s", diff)
	}
	installed, _, err := env.service.Repository.FindInstalled(t.Context(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", installed.Version)
}

func TestAlternativeSourceDispatch(t *testing.T) {
	env := newTestEnv(t)
	env.executor.stdout["python3 -m pip install requests --disable-pip-version-check"] = []string{"Successfully installed requests-2.31.0"}

	result, err := env.service.Install(t.Context(), LifecycleRequest{Config: env.config("requests"), Source: types.SourceTypePip})
	require.NoError(t, err)

	require.Len(t, result.Results, 1)
	assert.Equal(t, "2.31.0", result.Results[0].Identity().Version)
	assert.Empty(t, env.metadata(t))

	_, err = env.service.Install(t.Context(), LifecycleRequest{Config: env.config("requests"), Source: "gem"})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestPipBootstrapsPython(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "python", "3.12.1")
	env.executor.exitCode = func(_ string, args string) int {
		if args == "-m pip --version" {
			return 1
		}
		return 0
	}

	_, err := env.service.Install(t.Context(), LifecycleRequest{Config: env.config("requests"), Source: types.SourceTypePip})
	require.NoError(t, err)

	installed, found, err := env.service.Repository.FindInstalled(t.Context(), "python")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "3.12.1", installed.Version)
}

func TestDefaultPaths(t *testing.T) {
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })
	home := t.TempDir()
	t.Setenv("HOME", home)

	paths, err := DefaultPaths(types.Paths{BackupRoot: "~/backups"})
	require.NoError(t, err)

	want := types.Paths{
		InstallRoot:   filepath.Join(home, ".pkgkeeper", "lib"),
		BackupRoot:    filepath.Join(home, "backups"),
		CacheLocation: filepath.Join(home, ".pkgkeeper", "cache"),
		MetadataRoot:  filepath.Join(home, ".pkgkeeper", ".metadata"),
	}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}
}
