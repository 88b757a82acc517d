package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"pkgkeeper/internal/ports"
	"pkgkeeper/internal/types"
)

// memoryRepository keeps installed and available versions in maps and
// mirrors installs onto the install root so directory assertions work.
type memoryRepository struct {
	paths        types.Paths
	installed    map[string][]string
	available    map[string][]string
	dependencies map[string][]types.PackageIdentity
	failInstall  map[string]error
	// uninstallRepeats makes Uninstall report the same notification this
	// many extra times.
	uninstallRepeats int

	installCalls   int
	updateCalls    int
	uninstallCalls int
}

func newMemoryRepository(paths types.Paths) *memoryRepository {
	return &memoryRepository{
		paths:        paths,
		installed:    map[string][]string{},
		available:    map[string][]string{},
		dependencies: map[string][]types.PackageIdentity{},
		failInstall:  map[string]error{},
	}
}

func (r *memoryRepository) seedInstalled(t *testing.T, id string, version string, sideBySide bool) {
	t.Helper()
	dir := r.paths.PackageDir(id)
	if sideBySide {
		dir = r.paths.VersionedPackageDir(id, version)
	}
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tool.txt"), []byte(version), 0644))
	key := strings.ToLower(id)
	r.installed[key] = append(r.installed[key], version)
}

func (r *memoryRepository) FindInstalled(_ context.Context, id string) (types.PackageIdentity, bool, error) {
	versions := r.installed[strings.ToLower(id)]
	if len(versions) == 0 {
		return types.PackageIdentity{}, false, nil
	}
	return types.PackageIdentity{ID: id, Version: newest(versions)}, true, nil
}

func (r *memoryRepository) FindInstalledAllVersions(_ context.Context, id string) ([]types.PackageIdentity, error) {
	versions := append([]string(nil), r.installed[strings.ToLower(id)]...)
	sort.Slice(versions, func(i, j int) bool { return CompareVersions(versions[i], versions[j]) < 0 })
	out := make([]types.PackageIdentity, 0, len(versions))
	for _, version := range versions {
		out = append(out, types.PackageIdentity{ID: id, Version: version})
	}
	return out, nil
}

func (r *memoryRepository) FindAvailable(_ context.Context, id string, version string, prerelease bool) (types.PackageIdentity, bool, error) {
	var candidates []string
	for _, candidate := range r.available[strings.ToLower(id)] {
		if version != "" && !VersionsEqual(candidate, version) {
			continue
		}
		if !prerelease && IsPrerelease(candidate) {
			continue
		}
		candidates = append(candidates, candidate)
	}
	if len(candidates) == 0 {
		return types.PackageIdentity{}, false, nil
	}
	return types.PackageIdentity{ID: id, Version: newest(candidates)}, true, nil
}

func (r *memoryRepository) Install(_ context.Context, identity types.PackageIdentity, opts ports.InstallOptions) ([]types.PackageOperation, error) {
	r.installCalls++
	if err := r.failInstall[identity.Key()]; err != nil {
		return nil, err
	}
	paths := r.paths
	if opts.InstallRoot != "" {
		paths.InstallRoot = opts.InstallRoot
	}
	var operations []types.PackageOperation
	if !opts.IgnoreDependencies {
		for _, dependency := range r.dependencies[identity.Key()] {
			operations = append(operations, r.place(paths, dependency, opts.SideBySide, opts.InstallRoot == "", types.OperationInstalled))
		}
	}
	operations = append(operations, r.place(paths, identity, opts.SideBySide, opts.InstallRoot == "", types.OperationInstalled))
	return operations, nil
}

func (r *memoryRepository) Update(_ context.Context, identity types.PackageIdentity, opts ports.UpdateOptions) ([]types.PackageOperation, error) {
	r.updateCalls++
	if err := r.failInstall[identity.Key()]; err != nil {
		return nil, err
	}
	if !opts.SideBySide {
		r.installed[identity.Key()] = nil
	}
	return []types.PackageOperation{r.place(r.paths, identity, opts.SideBySide, true, types.OperationUpdated)}, nil
}

func (r *memoryRepository) Uninstall(_ context.Context, identity types.PackageIdentity, _ ports.UninstallOptions) ([]types.PackageOperation, error) {
	r.uninstallCalls++
	key := identity.Key()
	var kept []string
	found := false
	for _, version := range r.installed[key] {
		if !found && VersionsEqual(version, identity.Version) {
			found = true
			continue
		}
		kept = append(kept, version)
	}
	if !found {
		return nil, errors.New("package is not installed")
	}
	r.installed[key] = kept
	dir := r.paths.VersionedPackageDir(identity.ID, identity.Version)
	if _, err := os.Stat(dir); err != nil {
		dir = r.paths.PackageDir(identity.ID)
	}
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	operation := types.PackageOperation{Kind: types.OperationUninstalled, Identity: identity, InstallLocation: dir}
	operations := []types.PackageOperation{operation}
	for i := 0; i < r.uninstallRepeats; i++ {
		operations = append(operations, operation)
	}
	return operations, nil
}

func (r *memoryRepository) place(paths types.Paths, identity types.PackageIdentity, sideBySide bool, record bool, kind types.OperationKind) types.PackageOperation {
	dir := paths.PackageDir(identity.ID)
	if sideBySide {
		dir = paths.VersionedPackageDir(identity.ID, identity.Version)
	}
	_ = os.MkdirAll(dir, 0755)
	_ = os.WriteFile(filepath.Join(dir, "tool.txt"), []byte(identity.Version), 0644)
	if record {
		r.installed[identity.Key()] = append(r.installed[identity.Key()], identity.Version)
	}
	return types.PackageOperation{Kind: kind, Identity: identity, InstallLocation: dir}
}

func newest(versions []string) string {
	latest := ""
	for _, version := range versions {
		if latest == "" || CompareVersions(version, latest) > 0 {
			latest = version
		}
	}
	return latest
}

type memoryMetadataStore struct {
	entries map[string]types.PackageMetadata
}

func newMemoryMetadataStore(entries ...types.PackageMetadata) *memoryMetadataStore {
	store := &memoryMetadataStore{entries: map[string]types.PackageMetadata{}}
	for _, entry := range entries {
		store.entries[entry.Identity.VersionKey()] = entry
	}
	return store
}

func (s *memoryMetadataStore) Get(identity types.PackageIdentity) (types.PackageMetadata, bool, error) {
	metadata, ok := s.entries[identity.VersionKey()]
	return metadata, ok, nil
}

func (s *memoryMetadataStore) Save(metadata types.PackageMetadata) error {
	s.entries[metadata.Identity.VersionKey()] = metadata
	return nil
}

func (s *memoryMetadataStore) Remove(identity types.PackageIdentity) error {
	delete(s.entries, identity.VersionKey())
	return nil
}

func (s *memoryMetadataStore) List() ([]types.PackageMetadata, error) {
	out := make([]types.PackageMetadata, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	return out, nil
}

type scriptedPrompt struct {
	answer   string
	err      error
	messages []string
	choices  [][]string
}

func (p *scriptedPrompt) Confirm(_ context.Context, message string, choices []string, _ string, _ int) (string, error) {
	p.messages = append(p.messages, message)
	p.choices = append(p.choices, choices)
	return p.answer, p.err
}

// continuationRecorder counts continuation calls per result version key.
type continuationRecorder struct {
	calls []string
}

func (c *continuationRecorder) record(_ context.Context, result *types.PackageResult) {
	c.calls = append(c.calls, result.Identity().VersionKey())
}

func testPaths(t *testing.T) types.Paths {
	t.Helper()
	root := t.TempDir()
	return types.Paths{
		InstallRoot:   filepath.Join(root, "lib"),
		BackupRoot:    filepath.Join(root, "lib-bkp"),
		CacheLocation: filepath.Join(root, "cache"),
		MetadataRoot:  filepath.Join(root, "metadata"),
	}
}

func testConfig(paths types.Paths, names string) types.LifecycleConfig {
	return types.LifecycleConfig{
		PackageNames: names,
		Sources:      []string{"local"},
		Output:       types.OutputModeHuman,
		Paths:        paths,
	}
}
