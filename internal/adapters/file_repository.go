package adapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"pkgkeeper/internal/core"
	"pkgkeeper/internal/ports"
	"pkgkeeper/internal/shared"
	"pkgkeeper/internal/types"
)

// ManifestFileName is written into every installed package directory.
const ManifestFileName = ".pkgkeeper.yaml"

// installManifest records what lives in an install directory.
type installManifest struct {
	ID           string   `yaml:"id"`
	Version      string   `yaml:"version"`
	Dependencies []string `yaml:"dependencies,omitempty"`
	SideBySide   bool     `yaml:"side_by_side"`
	Feed         string   `yaml:"feed,omitempty"`
}

type installedPackage struct {
	manifest installManifest
	dir      string
}

// FileRepositoryAdapter installs packages from feeds into directories
// under the install root. Unversioned directories hold the single active
// version; side-by-side installs use <id>.<version>.
type FileRepositoryAdapter struct {
	Paths types.Paths
	Feeds []ports.FeedPort
}

func NewFileRepositoryAdapter(paths types.Paths, feeds ...ports.FeedPort) FileRepositoryAdapter {
	return FileRepositoryAdapter{Paths: paths, Feeds: feeds}
}

func (a FileRepositoryAdapter) FindInstalled(ctx context.Context, id string) (types.PackageIdentity, bool, error) {
	all, err := a.FindInstalledAllVersions(ctx, id)
	if err != nil || len(all) == 0 {
		return types.PackageIdentity{}, false, err
	}
	return all[len(all)-1], true, nil
}

// FindInstalledAllVersions returns every installed version of id, oldest
// first.
func (a FileRepositoryAdapter) FindInstalledAllVersions(_ context.Context, id string) ([]types.PackageIdentity, error) {
	installed, err := scanInstalled(a.Paths.InstallRoot)
	if err != nil {
		return nil, err
	}
	var out []types.PackageIdentity
	for _, pkg := range installed {
		if strings.EqualFold(pkg.manifest.ID, strings.TrimSpace(id)) {
			out = append(out, types.PackageIdentity{ID: pkg.manifest.ID, Version: pkg.manifest.Version})
		}
	}
	sort.Slice(out, func(i, j int) bool { return core.CompareVersions(out[i].Version, out[j].Version) < 0 })
	return out, nil
}

// FindAvailable picks the highest version offered by any feed. An explicit
// version must match exactly; prereleases are skipped unless requested or
// asked for by version.
func (a FileRepositoryAdapter) FindAvailable(ctx context.Context, id string, version string, prerelease bool) (types.PackageIdentity, bool, error) {
	candidate, _, ok, err := a.resolve(ctx, id, version, prerelease)
	if err != nil || !ok {
		return types.PackageIdentity{}, ok, err
	}
	return types.PackageIdentity{ID: candidate.ID, Version: candidate.Version}, true, nil
}

func (a FileRepositoryAdapter) Install(ctx context.Context, identity types.PackageIdentity, opts ports.InstallOptions) ([]types.PackageOperation, error) {
	root := a.Paths.InstallRoot
	if strings.TrimSpace(opts.InstallRoot) != "" {
		root = opts.InstallRoot
	}
	plan := newInstallPlan(root, opts.SideBySide, opts.Prerelease)
	if err := a.install(ctx, identity, !opts.IgnoreDependencies, false, plan); err != nil {
		return plan.operations, err
	}
	return plan.operations, nil
}

// Update installs identity over the active version. Without side-by-side
// every other version of the id is removed.
func (a FileRepositoryAdapter) Update(ctx context.Context, identity types.PackageIdentity, opts ports.UpdateOptions) ([]types.PackageOperation, error) {
	plan := newInstallPlan(a.Paths.InstallRoot, opts.SideBySide, opts.Prerelease)
	plan.kind = types.OperationUpdated
	plan.updateDependencies = opts.UpdateDependencies
	if err := a.install(ctx, identity, true, true, plan); err != nil {
		return plan.operations, err
	}
	return plan.operations, nil
}

func (a FileRepositoryAdapter) Uninstall(ctx context.Context, identity types.PackageIdentity, opts ports.UninstallOptions) ([]types.PackageOperation, error) {
	installed, err := scanInstalled(a.Paths.InstallRoot)
	if err != nil {
		return nil, err
	}
	var operations []types.PackageOperation
	removed := map[string]struct{}{}
	if err := a.uninstall(ctx, identity, opts, installed, removed, &operations); err != nil {
		return operations, err
	}
	return operations, nil
}

func (a FileRepositoryAdapter) uninstall(ctx context.Context, identity types.PackageIdentity, opts ports.UninstallOptions, installed []installedPackage, removed map[string]struct{}, operations *[]types.PackageOperation) error {
	target, ok := findInstalledVersion(installed, identity)
	if !ok {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("%s is not installed", identity))
	}
	if dependents := dependentsOf(installed, target, removed); len(dependents) > 0 && !opts.Force {
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("%s is a dependency of %s; use --force to remove it anyway", identity.ID, strings.Join(dependents, ", ")))
	}
	log.Ctx(ctx).Debug().Str("package", target.manifest.ID).Str("dir", target.dir).Msg("removing package directory")
	if err := os.RemoveAll(target.dir); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to remove %s", target.dir)).
			WithCause(err)
	}
	removed[strings.ToLower(target.manifest.ID)] = struct{}{}
	*operations = append(*operations, types.PackageOperation{
		Kind:            types.OperationUninstalled,
		Identity:        types.PackageIdentity{ID: target.manifest.ID, Version: target.manifest.Version},
		InstallLocation: target.dir,
	})
	if !opts.RemoveDependencies {
		return nil
	}
	for _, raw := range target.manifest.Dependencies {
		dependency := parseDependency(raw)
		if _, done := removed[strings.ToLower(dependency.ID)]; done {
			continue
		}
		installedDependency, ok := findInstalledVersion(installed, types.PackageIdentity{ID: dependency.ID})
		if !ok {
			continue
		}
		if len(dependentsOf(installed, installedDependency, removed)) > 0 {
			continue
		}
		next := types.PackageIdentity{ID: installedDependency.manifest.ID, Version: installedDependency.manifest.Version}
		if err := a.uninstall(ctx, next, opts, installed, removed, operations); err != nil {
			return err
		}
	}
	return nil
}

// installPlan carries the state of one install or update call.
type installPlan struct {
	root               string
	sideBySide         bool
	prerelease         bool
	updateDependencies bool
	kind               types.OperationKind
	visited            map[string]struct{}
	operations         []types.PackageOperation
}

func newInstallPlan(root string, sideBySide bool, prerelease bool) *installPlan {
	return &installPlan{
		root:       root,
		sideBySide: sideBySide,
		prerelease: prerelease,
		kind:       types.OperationInstalled,
		visited:    map[string]struct{}{},
	}
}

// install places dependencies first, then identity, so operations arrive
// in install order.
func (a FileRepositoryAdapter) install(ctx context.Context, identity types.PackageIdentity, withDependencies bool, replace bool, plan *installPlan) error {
	key := strings.ToLower(identity.ID)
	if _, ok := plan.visited[key]; ok {
		return nil
	}
	plan.visited[key] = struct{}{}
	if err := ctx.Err(); err != nil {
		return err
	}
	pkg, feed, ok, err := a.resolve(ctx, identity.ID, identity.Version, plan.prerelease || identity.Version != "")
	if err != nil {
		return err
	}
	if !ok {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("%s was not found in any feed", identity))
	}
	if withDependencies {
		if err := a.installDependencies(ctx, pkg, plan); err != nil {
			return err
		}
	}
	dir := filepath.Join(plan.root, pkg.ID)
	if plan.sideBySide {
		dir = filepath.Join(plan.root, pkg.ID+"."+pkg.Version)
	}
	if err := placePackage(ctx, feed, pkg, dir, plan.sideBySide); err != nil {
		return err
	}
	if replace && !plan.sideBySide {
		if err := removeOtherVersions(plan.root, pkg, dir); err != nil {
			return err
		}
	}
	plan.operations = append(plan.operations, types.PackageOperation{
		Kind:            plan.kind,
		Identity:        types.PackageIdentity{ID: pkg.ID, Version: pkg.Version},
		InstallLocation: dir,
	})
	return nil
}

func (a FileRepositoryAdapter) installDependencies(ctx context.Context, pkg ports.FeedPackage, plan *installPlan) error {
	installed, err := scanInstalled(plan.root)
	if err != nil {
		return err
	}
	kind := plan.kind
	defer func() { plan.kind = kind }()
	for _, raw := range pkg.Dependencies {
		dependency := parseDependency(raw)
		current, present := findInstalledVersion(installed, types.PackageIdentity{ID: dependency.ID})
		switch {
		case !present:
			plan.kind = types.OperationInstalled
		case dependency.Version != "" && core.CompareVersions(current.manifest.Version, dependency.Version) < 0:
			plan.kind = types.OperationUpdated
		case plan.updateDependencies:
			latest, _, ok, err := a.resolve(ctx, dependency.ID, "", plan.prerelease)
			if err != nil {
				return err
			}
			if !ok || core.CompareVersions(latest.Version, current.manifest.Version) <= 0 {
				continue
			}
			plan.kind = types.OperationUpdated
		default:
			continue
		}
		if err := a.install(ctx, types.PackageIdentity{ID: dependency.ID}, true, plan.kind == types.OperationUpdated, plan); err != nil {
			return err
		}
	}
	return nil
}

// resolve finds the best matching package across feeds.
func (a FileRepositoryAdapter) resolve(ctx context.Context, id string, version string, prerelease bool) (ports.FeedPackage, ports.FeedPort, bool, error) {
	var (
		best     ports.FeedPackage
		bestFeed ports.FeedPort
		found    bool
	)
	version = strings.TrimSpace(version)
	for _, feed := range a.Feeds {
		candidates, err := feed.Versions(ctx, id)
		if err != nil {
			return ports.FeedPackage{}, nil, false, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg(fmt.Sprintf("failed to query feed %s", feed.Name())).
				WithCause(err)
		}
		for _, candidate := range candidates {
			if version != "" && core.CompareVersions(candidate.Version, version) != 0 {
				continue
			}
			if version == "" && !prerelease && core.IsPrerelease(candidate.Version) {
				continue
			}
			if !found || core.CompareVersions(candidate.Version, best.Version) > 0 {
				best, bestFeed, found = candidate, feed, true
			}
		}
	}
	return best, bestFeed, found, nil
}

// placePackage fetches into a staging directory next to dir and swaps it
// in, so a failed fetch never leaves a half-written install.
func placePackage(ctx context.Context, feed ports.FeedPort, pkg ports.FeedPackage, dir string, sideBySide bool) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create install root").
			WithCause(err)
	}
	staging, err := os.MkdirTemp(filepath.Dir(dir), "."+filepath.Base(dir)+"-")
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create staging directory").
			WithCause(err)
	}
	defer os.RemoveAll(staging)
	if err := feed.Fetch(ctx, types.PackageIdentity{ID: pkg.ID, Version: pkg.Version}, staging); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to fetch %s v%s from %s", pkg.ID, pkg.Version, feed.Name())).
			WithCause(err)
	}
	manifest := installManifest{
		ID:           pkg.ID,
		Version:      pkg.Version,
		Dependencies: pkg.Dependencies,
		SideBySide:   sideBySide,
		Feed:         feed.Name(),
	}
	if err := writeManifest(staging, manifest); err != nil {
		return err
	}
	if err := shared.MoveDir(staging, dir); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to move package into %s", dir)).
			WithCause(err)
	}
	return nil
}

func removeOtherVersions(root string, pkg ports.FeedPackage, keep string) error {
	installed, err := scanInstalled(root)
	if err != nil {
		return err
	}
	for _, other := range installed {
		if other.dir == keep || !strings.EqualFold(other.manifest.ID, pkg.ID) {
			continue
		}
		if err := os.RemoveAll(other.dir); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg(fmt.Sprintf("failed to remove %s", other.dir)).
				WithCause(err)
		}
	}
	return nil
}

func writeManifest(dir string, manifest installManifest) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode install manifest").
			WithCause(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), data, 0644); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write install manifest").
			WithCause(err)
	}
	return nil
}

// scanInstalled reads the manifest of every package directory under root.
// Directories without a manifest are not managed and are ignored.
func scanInstalled(root string) ([]installedPackage, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to read install root %s", root)).
			WithCause(err)
	}
	var installed []installedPackage
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
		if err != nil {
			continue
		}
		var manifest installManifest
		if err := yaml.Unmarshal(data, &manifest); err != nil || strings.TrimSpace(manifest.ID) == "" {
			continue
		}
		installed = append(installed, installedPackage{manifest: manifest, dir: dir})
	}
	return installed, nil
}

// findInstalledVersion matches by id, and by version when one is given.
// Without a version the highest installed version wins.
func findInstalledVersion(installed []installedPackage, identity types.PackageIdentity) (installedPackage, bool) {
	var (
		best  installedPackage
		found bool
	)
	for _, pkg := range installed {
		if !strings.EqualFold(pkg.manifest.ID, strings.TrimSpace(identity.ID)) {
			continue
		}
		if identity.Version != "" && core.CompareVersions(pkg.manifest.Version, identity.Version) != 0 {
			continue
		}
		if !found || core.CompareVersions(pkg.manifest.Version, best.manifest.Version) > 0 {
			best, found = pkg, true
		}
	}
	return best, found
}

// dependentsOf lists installed packages, other than those already
// removed, that depend on target's id.
func dependentsOf(installed []installedPackage, target installedPackage, removed map[string]struct{}) []string {
	var dependents []string
	for _, pkg := range installed {
		if pkg.dir == target.dir {
			continue
		}
		if _, gone := removed[strings.ToLower(pkg.manifest.ID)]; gone {
			continue
		}
		for _, raw := range pkg.manifest.Dependencies {
			if strings.EqualFold(parseDependency(raw).ID, target.manifest.ID) {
				dependents = append(dependents, pkg.manifest.ID)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}

// parseDependency reads "id" or "id@minimum-version".
func parseDependency(raw string) types.PackageIdentity {
	id, version, _ := strings.Cut(strings.TrimSpace(raw), "@")
	return types.PackageIdentity{ID: strings.TrimSpace(id), Version: strings.TrimSpace(version)}
}

var _ ports.RepositoryPort = FileRepositoryAdapter{}
