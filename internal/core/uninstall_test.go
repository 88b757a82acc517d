package core

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkgkeeper/internal/ports"
	"pkgkeeper/internal/types"
)

func sideBySideMetadata(id string, versions ...string) *memoryMetadataStore {
	store := newMemoryMetadataStore()
	for _, version := range versions {
		_ = store.Save(types.PackageMetadata{
			Identity:     types.PackageIdentity{ID: id, Version: version},
			IsSideBySide: true,
		})
	}
	return store
}

func TestUninstallPipelineAllVersions(t *testing.T) {
	paths := testPaths(t)
	repo := newMemoryRepository(paths)
	repo.seedInstalled(t, "bob", "1.1.0", true)
	repo.seedInstalled(t, "bob", "1.2.0", true)
	cfg := testConfig(paths, "bob")
	cfg.AllVersions = true
	recorder := &continuationRecorder{}

	results, err := NewUninstallPipeline(repo, sideBySideMetadata("bob", "1.1.0", "1.2.0"), nil, nil).Run(t.Context(), cfg, recorder.record)
	require.NoError(t, err)

	if diff := cmp.Diff([]string{"bob|1.1.0", "bob|1.2.0"}, results.Keys()); diff != "" {
		t.Fatalf("result keys mismatch (-want +got):\n%s", diff)
	}
	for _, result := range results.Results() {
		assert.True(t, result.Success())
	}
	assert.NoDirExists(t, paths.VersionedPackageDir("bob", "1.1.0"))
	assert.NoDirExists(t, paths.VersionedPackageDir("bob", "1.2.0"))
	if diff := cmp.Diff([]string{"bob|1.2.0", "bob|1.1.0"}, recorder.calls); diff != "" {
		t.Fatalf("continuation calls mismatch (-want +got):\n%s", diff)
	}
}

func TestUninstallPipelineOlderVersionSkipsContinuation(t *testing.T) {
	paths := testPaths(t)
	repo := newMemoryRepository(paths)
	repo.seedInstalled(t, "bob", "1.1.0", true)
	repo.seedInstalled(t, "bob", "1.2.0", true)
	cfg := testConfig(paths, "bob")
	cfg.Version = "1.1.0"
	recorder := &continuationRecorder{}

	results, err := NewUninstallPipeline(repo, sideBySideMetadata("bob", "1.1.0", "1.2.0"), nil, nil).Run(t.Context(), cfg, recorder.record)
	require.NoError(t, err)

	result, ok := results.Get("bob|1.1.0")
	require.True(t, ok)
	assert.True(t, result.Success())
	assert.Empty(t, recorder.calls)
	assert.DirExists(t, paths.VersionedPackageDir("bob", "1.2.0"))
}

func TestUninstallPipelineAllowMultipleVersionsRunsEveryContinuation(t *testing.T) {
	paths := testPaths(t)
	repo := newMemoryRepository(paths)
	repo.seedInstalled(t, "bob", "1.1.0", true)
	repo.seedInstalled(t, "bob", "1.2.0", true)
	cfg := testConfig(paths, "bob")
	cfg.AllVersions = true
	cfg.AllowMultipleVersions = true
	recorder := &continuationRecorder{}

	_, err := NewUninstallPipeline(repo, sideBySideMetadata("bob", "1.1.0", "1.2.0"), nil, nil).Run(t.Context(), cfg, recorder.record)
	require.NoError(t, err)
	assert.Len(t, recorder.calls, 2)
}

func TestUninstallPipelineExplicitVersion(t *testing.T) {
	paths := testPaths(t)
	repo := newMemoryRepository(paths)
	repo.seedInstalled(t, "bob", "1.1.0", true)
	repo.seedInstalled(t, "bob", "1.2.0", true)
	cfg := testConfig(paths, "bob")
	cfg.Version = "1.1.0"

	results, err := NewUninstallPipeline(repo, sideBySideMetadata("bob", "1.1.0", "1.2.0"), nil, nil).Run(t.Context(), cfg, nil)
	require.NoError(t, err)

	if diff := cmp.Diff([]string{"bob|1.1.0"}, results.Keys()); diff != "" {
		t.Fatalf("result keys mismatch (-want +got):\n%s", diff)
	}
	assert.NoDirExists(t, paths.VersionedPackageDir("bob", "1.1.0"))
	assert.DirExists(t, paths.VersionedPackageDir("bob", "1.2.0"))
}

func TestUninstallPipelineNotInstalled(t *testing.T) {
	paths := testPaths(t)
	repo := newMemoryRepository(paths)

	results, err := NewUninstallPipeline(repo, nil, nil, nil).Run(t.Context(), testConfig(paths, "bob"), nil)
	require.NoError(t, err)

	result, ok := results.Get("bob")
	require.True(t, ok)
	assert.False(t, result.Success())
	assert.True(t, result.HasMessage(types.SeverityError, "not installed"))
	assert.Equal(t, 0, repo.uninstallCalls)
}

func TestUninstallPipelinePinnedSkips(t *testing.T) {
	paths := testPaths(t)
	repo := newMemoryRepository(paths)
	repo.seedInstalled(t, "bob", "1.0.0", false)
	metadata := newMemoryMetadataStore(types.PackageMetadata{
		Identity: types.PackageIdentity{ID: "bob", Version: "1.0.0"},
		IsPinned: true,
	})

	results, err := NewUninstallPipeline(repo, metadata, nil, nil).Run(t.Context(), testConfig(paths, "bob"), nil)
	require.NoError(t, err)

	result, ok := results.Get("bob|1.0.0")
	require.True(t, ok)
	assert.True(t, result.Inconclusive())
	assert.True(t, result.HasMessage(types.SeverityWarn, "pinned"))
	assert.DirExists(t, paths.PackageDir("bob"))
	assert.Equal(t, 0, repo.uninstallCalls)
}

func TestUninstallPipelineInteractiveSelection(t *testing.T) {
	tests := []struct {
		name        string
		answer      string
		wantRemoved []string
		wantChoices []string
		cancelled   bool
	}{
		{name: "none aborts", answer: "None", cancelled: true, wantChoices: []string{"None", "1.1.0", "1.2.0", "All versions"}},
		{name: "empty aborts", answer: "", cancelled: true, wantChoices: []string{"None", "1.1.0", "1.2.0", "All versions"}},
		{name: "single version", answer: "1.1.0", wantRemoved: []string{"1.1.0"}, wantChoices: []string{"None", "1.1.0", "1.2.0", "All versions"}},
		{name: "all versions", answer: "All versions", wantRemoved: []string{"1.1.0", "1.2.0"}, wantChoices: []string{"None", "1.1.0", "1.2.0", "All versions"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths := testPaths(t)
			repo := newMemoryRepository(paths)
			repo.seedInstalled(t, "bob", "1.1.0", true)
			repo.seedInstalled(t, "bob", "1.2.0", true)
			prompt := &scriptedPrompt{answer: tt.answer}
			cfg := testConfig(paths, "bob")
			cfg.Interactive = true

			results, err := NewUninstallPipeline(repo, sideBySideMetadata("bob", "1.1.0", "1.2.0"), prompt, nil).Run(t.Context(), cfg, nil)
			require.NoError(t, err)

			require.Len(t, prompt.choices, 1)
			if diff := cmp.Diff(tt.wantChoices, prompt.choices[0]); diff != "" {
				t.Fatalf("choices mismatch (-want +got):\n%s", diff)
			}
			if tt.cancelled {
				result, ok := results.Get("bob")
				require.True(t, ok)
				assert.True(t, result.Inconclusive())
				assert.Equal(t, 0, repo.uninstallCalls)
				return
			}
			assert.Equal(t, len(tt.wantRemoved), repo.uninstallCalls)
			for _, version := range tt.wantRemoved {
				assert.NoDirExists(t, paths.VersionedPackageDir("bob", version))
			}
		})
	}
}

func TestUninstallPipelineSingleVersionPromptHasNoAllChoice(t *testing.T) {
	paths := testPaths(t)
	repo := newMemoryRepository(paths)
	repo.seedInstalled(t, "bob", "1.0.0", false)
	prompt := &scriptedPrompt{answer: "1.0.0"}
	cfg := testConfig(paths, "bob")
	cfg.Interactive = true

	_, err := NewUninstallPipeline(repo, nil, prompt, nil).Run(t.Context(), cfg, nil)
	require.NoError(t, err)

	require.Len(t, prompt.choices, 1)
	if diff := cmp.Diff([]string{"None", "1.0.0"}, prompt.choices[0]); diff != "" {
		t.Fatalf("choices mismatch (-want +got):\n%s", diff)
	}
	assert.NoDirExists(t, paths.PackageDir("bob"))
}

func TestUninstallPipelineRepeatedNotificationsAreBounded(t *testing.T) {
	paths := testPaths(t)
	repo := newMemoryRepository(paths)
	repo.seedInstalled(t, "bob", "1.0.0", false)
	repo.uninstallRepeats = 25
	recorder := &continuationRecorder{}

	results, err := NewUninstallPipeline(repo, nil, nil, nil).Run(t.Context(), testConfig(paths, "bob"), recorder.record)
	require.NoError(t, err)

	result, ok := results.Get("bob|1.0.0")
	require.True(t, ok)
	assert.Len(t, recorder.calls, 1)
	assert.True(t, result.Success())
	loops := 0
	for _, message := range result.Messages() {
		if message.Severity == types.SeverityWarn {
			loops++
		}
	}
	assert.Equal(t, 1, loops)
	assert.True(t, result.HasMessage(types.SeverityWarn, "loop detected"))
}

func TestUninstallPipelineFailureSkipsContinuation(t *testing.T) {
	paths := testPaths(t)
	repo := &failingUninstallRepository{memoryRepository: newMemoryRepository(paths)}
	repo.seedInstalled(t, "bob", "1.0.0", false)
	recorder := &continuationRecorder{}

	results, err := NewUninstallPipeline(repo, nil, nil, nil).Run(t.Context(), testConfig(paths, "bob"), recorder.record)
	require.NoError(t, err)

	result, ok := results.Get("bob|1.0.0")
	require.True(t, ok)
	assert.False(t, result.Success())
	assert.Empty(t, recorder.calls)
}

func TestNotificationGuard(t *testing.T) {
	guard := newNotificationGuard(2)
	var got []notificationState
	for i := 0; i < 5; i++ {
		got = append(got, guard.observe("bob|1.0.0"))
	}
	want := []notificationState{notificationFirst, notificationRepeated, notificationRepeated, notificationLoop, notificationRepeated}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("states mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, notificationFirst, guard.observe("alice|1.0.0"))
}

type failingUninstallRepository struct {
	*memoryRepository
}

func (r *failingUninstallRepository) Uninstall(_ context.Context, _ types.PackageIdentity, _ ports.UninstallOptions) ([]types.PackageOperation, error) {
	r.uninstallCalls++
	return nil, errors.New("uninstaller crashed")
}
