package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"pkgkeeper/internal/ports"
	"pkgkeeper/internal/types"
)

type InstallPipeline struct {
	Repository ports.RepositoryPort
	Metadata   ports.MetadataStorePort
	Out        io.Writer
}

func NewInstallPipeline(repo ports.RepositoryPort, metadata ports.MetadataStorePort, out io.Writer) InstallPipeline {
	return InstallPipeline{
		Repository: repo,
		Metadata:   metadata,
		Out:        out,
	}
}

// Run installs each package named in cfg. One package failing never stops
// the rest; only configuration and root-directory failures are returned as
// errors. With cfg.Noop the same resolution runs against a throwaway
// install root that is removed afterwards.
func (p InstallPipeline) Run(ctx context.Context, cfg types.LifecycleConfig, continuation Continuation) (*ResultAggregate, error) {
	if err := validateConfig(p.Repository, cfg); err != nil {
		return nil, err
	}
	if err := ensureRoots(cfg.Paths); err != nil {
		return nil, err
	}
	installRoot := ""
	if cfg.Noop {
		tmp, err := os.MkdirTemp("", "pkgkeeper-noop-")
		if err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to create dry-run install root").
				WithCause(err)
		}
		defer os.RemoveAll(tmp)
		installRoot = tmp
	}

	backup := NewBackupManager(cfg.Paths, cfg.ConfigExtensions)
	results := NewResultAggregate()
	for _, name := range types.SplitPackageNames(cfg.PackageNames) {
		if err := ctx.Err(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("package", name).Msg("install interrupted before package started")
			break
		}
		p.installPackage(ctx, cfg, name, installRoot, backup, results, continuation)
	}
	return results, nil
}

func (p InstallPipeline) installPackage(ctx context.Context, cfg types.LifecycleConfig, name string, installRoot string, backup *BackupManager, results *ResultAggregate, continuation Continuation) {
	logger := log.Ctx(ctx)
	backup.RemoveRollbackDirectoryIfExists(ctx, name)

	version := strings.TrimSpace(cfg.Version)
	result := results.GetOrAdd(strings.ToLower(name), identityFactory(types.PackageIdentity{ID: name, Version: version}))

	installed, isInstalled, err := p.Repository.FindInstalled(ctx, name)
	if err != nil {
		result.Append(types.SeverityError, fmt.Sprintf("Unable to determine whether %s is installed: %v", name, err))
		return
	}
	if isInstalled {
		backup.RenameLegacyPackageVersion(ctx, installed, lookupMetadata(p.Metadata, installed))
	}
	if isInstalled && !cfg.Force && (version == "" || VersionsEqual(version, installed.Version)) {
		result.SetVersion(installed.Version)
		result.SetInstallLocation(backup.InstallPath(installed))
		message := fmt.Sprintf("%s v%s already installed.\n Use --force to reinstall, specify a version to install, or try upgrade.", installed.ID, installed.Version)
		result.Append(types.SeverityWarn, message)
		result.Append(types.SeverityInconclusive, message)
		return
	}
	if isInstalled && cfg.Force && version == "" {
		version = installed.Version
	}

	available, found, err := p.Repository.FindAvailable(ctx, name, version, cfg.Prerelease)
	if err != nil || !found {
		message := fmt.Sprintf("%s not installed. The package was not found with the source(s) listed.\n Source(s): '%s'\n Version: '%s'\n Verify the package name, the version and that the source is reachable.", name, cfg.SourcesDescription(), versionText(version))
		if err != nil {
			message = fmt.Sprintf("%s\n Error: %v", message, err)
		}
		result.Append(types.SeverityError, message)
		return
	}
	result.SetVersion(available.Version)

	opts := ports.InstallOptions{
		IgnoreDependencies: cfg.IgnoreDependencies,
		Prerelease:         cfg.Prerelease,
		SideBySide:         cfg.SideBySide,
		InstallRoot:        installRoot,
	}
	if cfg.Noop {
		operations, err := p.Repository.Install(ctx, available, opts)
		if err != nil {
			result.Append(types.SeverityError, fmt.Sprintf("%s would fail to install: %v", name, err))
			return
		}
		for _, operation := range operations {
			target := results.GetOrAdd(operation.Identity.Key(), identityFactory(operation.Identity))
			target.SetVersion(operation.Identity.Version)
			target.Append(types.SeverityNote, fmt.Sprintf("Would have installed %s v%s.", operation.Identity.ID, operation.Identity.Version))
			writeLine(p.Out, "Would have installed %s v%s", operation.Identity.ID, operation.Identity.Version)
		}
		return
	}

	if isInstalled && cfg.Force && VersionsEqual(installed.Version, available.Version) {
		backup.BackupExistingVersion(ctx, installed, result)
		if path := backup.InstallPath(installed); path != "" {
			if err := os.RemoveAll(path); err != nil {
				result.Append(types.SeverityInconclusive, fmt.Sprintf("Unable to remove existing package prior to forced reinstall: %v", err))
			}
		}
	}

	logger.Info().Str("package", available.ID).Str("version", available.Version).Msg("installing package")
	operations, err := p.Repository.Install(ctx, available, opts)
	if err != nil {
		result.Append(types.SeverityError, fmt.Sprintf("%s not installed. An error occurred during installation:\n %v", name, err))
		return
	}
	dispatchOperations(ctx, operations, results, "install", continuation)
}

// dispatchOperations records one result per notified package and runs the
// continuation once for each of them.
func dispatchOperations(ctx context.Context, operations []types.PackageOperation, results *ResultAggregate, action string, continuation Continuation) {
	seen := map[string]struct{}{}
	for _, operation := range operations {
		key := operation.Identity.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result := results.GetOrAdd(key, identityFactory(operation.Identity))
		result.SetVersion(operation.Identity.Version)
		if operation.InstallLocation != "" {
			result.SetInstallLocation(operation.InstallLocation)
		}
		result.Append(types.SeverityNote, fmt.Sprintf("The %s of %s v%s was successful.", action, operation.Identity.ID, operation.Identity.Version))
		if continuation != nil {
			continuation(ctx, result)
		}
	}
}
