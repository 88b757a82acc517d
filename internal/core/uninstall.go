package core

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"pkgkeeper/internal/ports"
	"pkgkeeper/internal/types"
)

const (
	choiceNone        = "None"
	choiceAllVersions = "All versions"
)

type UninstallPipeline struct {
	Repository ports.RepositoryPort
	Metadata   ports.MetadataStorePort
	Prompt     ports.PromptPort
	Out        io.Writer
}

func NewUninstallPipeline(repo ports.RepositoryPort, metadata ports.MetadataStorePort, prompt ports.PromptPort, out io.Writer) UninstallPipeline {
	return UninstallPipeline{
		Repository: repo,
		Metadata:   metadata,
		Prompt:     prompt,
		Out:        out,
	}
}

// Run removes the selected versions of each package named in cfg. Results
// are keyed per id and version so every removed version reports on its own.
func (p UninstallPipeline) Run(ctx context.Context, cfg types.LifecycleConfig, continuation Continuation) (*ResultAggregate, error) {
	if err := validateConfig(p.Repository, cfg); err != nil {
		return nil, err
	}
	if err := ensureRoots(cfg.Paths); err != nil {
		return nil, err
	}
	backup := NewBackupManager(cfg.Paths, cfg.ConfigExtensions)
	results := NewResultAggregate()
	guard := newNotificationGuard(maxRepeatedNotifications)
	for _, name := range types.SplitPackageNames(cfg.PackageNames) {
		if err := ctx.Err(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("package", name).Msg("uninstall interrupted before package started")
			break
		}
		p.uninstallPackage(ctx, cfg, name, backup, results, guard, continuation)
	}
	return results, nil
}

func (p UninstallPipeline) uninstallPackage(ctx context.Context, cfg types.LifecycleConfig, name string, backup *BackupManager, results *ResultAggregate, guard *notificationGuard, continuation Continuation) {
	logger := log.Ctx(ctx)
	backup.RemoveRollbackDirectoryIfExists(ctx, name)

	key := strings.ToLower(name)
	all, err := p.Repository.FindInstalledAllVersions(ctx, name)
	if err != nil {
		result := results.GetOrAdd(key, identityFactory(types.PackageIdentity{ID: name, Version: cfg.Version}))
		result.Append(types.SeverityError, fmt.Sprintf("Unable to determine installed versions of %s: %v", name, err))
		return
	}
	candidates := all
	if version := strings.TrimSpace(cfg.Version); version != "" {
		candidates = nil
		for _, identity := range all {
			if VersionsEqual(identity.Version, version) {
				candidates = append(candidates, identity)
			}
		}
	}
	if len(candidates) == 0 {
		result := results.GetOrAdd(key, identityFactory(types.PackageIdentity{ID: name, Version: cfg.Version}))
		result.Append(types.SeverityError, fmt.Sprintf("%s is not installed. Cannot uninstall a non-existent package.", name))
		return
	}

	selected := candidates
	if !cfg.AllVersions && cfg.Interactive && p.Prompt != nil {
		var ok bool
		selected, ok = p.selectVersions(ctx, name, candidates)
		if !ok {
			result := results.GetOrAdd(key, identityFactory(types.PackageIdentity{ID: name}))
			message := fmt.Sprintf("Cancelling uninstall of %s.", name)
			result.Append(types.SeverityNote, message)
			result.Append(types.SeverityInconclusive, message)
			return
		}
	}

	// Newest first: after each removal the next version is the current latest.
	selected = append([]types.PackageIdentity(nil), selected...)
	sort.SliceStable(selected, func(i, j int) bool { return CompareVersions(selected[i].Version, selected[j].Version) > 0 })

	for _, identity := range selected {
		result := results.GetOrAdd(identity.VersionKey(), identityFactory(identity))
		result.SetInstallLocation(backup.InstallPath(identity))
		metadata := lookupMetadata(p.Metadata, identity)
		if metadata.IsPinned {
			message := fmt.Sprintf("%s is pinned. Skipping pinned package.", identity.ID)
			result.Append(types.SeverityWarn, message)
			result.Append(types.SeverityInconclusive, message)
			continue
		}
		if cfg.Noop {
			result.Append(types.SeverityNote, fmt.Sprintf("Would have uninstalled %s v%s.", identity.ID, identity.Version))
			writeLine(p.Out, "Would have uninstalled %s v%s", identity.ID, identity.Version)
			continue
		}

		latest := p.currentLatest(ctx, identity)
		backup.RenameLegacyPackageVersion(ctx, identity, metadata)
		backup.BackupExistingVersion(ctx, identity, result)

		logger.Info().Str("package", identity.ID).Str("version", identity.Version).Msg("uninstalling package")
		operations, err := p.Repository.Uninstall(ctx, identity, ports.UninstallOptions{
			Force:              cfg.Force,
			RemoveDependencies: cfg.ForceDependencies,
		})
		if err != nil {
			result.Append(types.SeverityError, fmt.Sprintf("%s v%s not uninstalled. An error occurred during uninstall:\n %v", identity.ID, identity.Version, err))
			continue
		}
		for _, operation := range operations {
			p.handleOperation(ctx, cfg, identity, latest, operation, results, guard, continuation)
		}
	}
}

func (p UninstallPipeline) handleOperation(ctx context.Context, cfg types.LifecycleConfig, target types.PackageIdentity, latest string, operation types.PackageOperation, results *ResultAggregate, guard *notificationGuard, continuation Continuation) {
	key := operation.Identity.VersionKey()
	result := results.GetOrAdd(key, identityFactory(operation.Identity))
	switch guard.observe(key) {
	case notificationRepeated:
		return
	case notificationLoop:
		log.Ctx(ctx).Warn().Str("package", operation.Identity.ID).Str("version", operation.Identity.Version).Msg("repeated uninstall notifications")
		result.Append(types.SeverityWarn, fmt.Sprintf("Uninstall notifications for %s v%s repeated more than %d times, loop detected. Ignoring further notifications.", operation.Identity.ID, operation.Identity.Version, maxRepeatedNotifications))
		return
	}

	if operation.InstallLocation != "" {
		result.SetInstallLocation(operation.InstallLocation)
	}
	result.Append(types.SeverityNote, fmt.Sprintf("%s v%s has been successfully uninstalled.", operation.Identity.ID, operation.Identity.Version))
	if continuation == nil {
		return
	}
	if operation.Identity.SameID(target) && !cfg.AllowMultipleVersions && !VersionsEqual(operation.Identity.Version, latest) {
		log.Ctx(ctx).Debug().Str("package", operation.Identity.ID).Str("version", operation.Identity.Version).Msg("older side-by-side version removed, skipping continuation")
		return
	}
	continuation(ctx, result)
}

func (p UninstallPipeline) selectVersions(ctx context.Context, name string, candidates []types.PackageIdentity) ([]types.PackageIdentity, bool) {
	choices := []string{choiceNone}
	for _, identity := range candidates {
		choices = append(choices, identity.Version)
	}
	if len(candidates) > 1 {
		choices = append(choices, choiceAllVersions)
	}
	answer, err := p.Prompt.Confirm(ctx, fmt.Sprintf("Which version of %s would you like to uninstall?", name), choices, choiceNone, -1)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("package", name).Msg("version selection failed")
		return nil, false
	}
	answer = strings.TrimSpace(answer)
	switch {
	case answer == "" || strings.EqualFold(answer, choiceNone):
		return nil, false
	case strings.EqualFold(answer, choiceAllVersions):
		return candidates, true
	}
	for _, identity := range candidates {
		if VersionsEqual(identity.Version, answer) {
			return []types.PackageIdentity{identity}, true
		}
	}
	return nil, false
}

// currentLatest is the newest version of identity's package installed right
// now. A lookup failure falls back to identity itself.
func (p UninstallPipeline) currentLatest(ctx context.Context, identity types.PackageIdentity) string {
	installed, err := p.Repository.FindInstalledAllVersions(ctx, identity.ID)
	if err != nil || len(installed) == 0 {
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("package", identity.ID).Msg("unable to refresh installed versions")
		}
		return identity.Version
	}
	return latestVersion(installed)
}

func latestVersion(identities []types.PackageIdentity) string {
	latest := ""
	for _, identity := range identities {
		if latest == "" || CompareVersions(identity.Version, latest) > 0 {
			latest = identity.Version
		}
	}
	return latest
}

type notificationState int

const (
	notificationFirst notificationState = iota
	notificationRepeated
	notificationLoop
)

// notificationGuard counts uninstall notifications per id|version. The
// first one is processed, later ones are ignored, and the one that crosses
// the limit is reported as a loop.
type notificationGuard struct {
	limit  int
	counts map[string]int
}

func newNotificationGuard(limit int) *notificationGuard {
	return &notificationGuard{limit: limit, counts: map[string]int{}}
}

func (g *notificationGuard) observe(key string) notificationState {
	count := g.counts[key]
	g.counts[key] = count + 1
	switch {
	case count == 0:
		return notificationFirst
	case count == g.limit+1:
		return notificationLoop
	default:
		return notificationRepeated
	}
}
