package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"pkgkeeper/internal/ports"
	"pkgkeeper/internal/types"
)

const latestVersionMessage = "is the latest version available based on your source(s)."

type UpgradePipeline struct {
	Repository ports.RepositoryPort
	Metadata   ports.MetadataStorePort
	Install    InstallPipeline
	Out        io.Writer
}

func NewUpgradePipeline(repo ports.RepositoryPort, metadata ports.MetadataStorePort, out io.Writer) UpgradePipeline {
	return UpgradePipeline{
		Repository: repo,
		Metadata:   metadata,
		Install:    NewInstallPipeline(repo, metadata, out),
		Out:        out,
	}
}

// Run upgrades each package named in cfg. Packages that are not installed
// yet are installed through the install pipeline. With cfg.Noop every
// comparison still runs and is reported, but nothing is mutated.
func (p UpgradePipeline) Run(ctx context.Context, cfg types.LifecycleConfig, continuation Continuation) (*ResultAggregate, error) {
	if err := validateConfig(p.Repository, cfg); err != nil {
		return nil, err
	}
	if err := ensureRoots(cfg.Paths); err != nil {
		return nil, err
	}
	backup := NewBackupManager(cfg.Paths, cfg.ConfigExtensions)
	results := NewResultAggregate()
	for _, name := range types.SplitPackageNames(cfg.PackageNames) {
		if err := ctx.Err(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("package", name).Msg("upgrade interrupted before package started")
			break
		}
		p.upgradePackage(ctx, cfg, name, backup, results, continuation)
	}
	return results, nil
}

func (p UpgradePipeline) upgradePackage(ctx context.Context, cfg types.LifecycleConfig, name string, backup *BackupManager, results *ResultAggregate, continuation Continuation) {
	logger := log.Ctx(ctx)
	backup.RemoveRollbackDirectoryIfExists(ctx, name)

	key := strings.ToLower(name)
	installed, isInstalled, err := p.Repository.FindInstalled(ctx, name)
	if err != nil {
		result := results.GetOrAdd(key, identityFactory(types.PackageIdentity{ID: name, Version: cfg.Version}))
		result.Append(types.SeverityError, fmt.Sprintf("Unable to determine whether %s is installed: %v", name, err))
		return
	}
	if !isInstalled {
		p.installMissing(ctx, cfg, name, results, continuation)
		return
	}

	result := results.GetOrAdd(key, identityFactory(installed))
	result.SetInstallLocation(backup.InstallPath(installed))
	pinned := lookupMetadata(p.Metadata, installed).IsPinned

	available, found, err := p.Repository.FindAvailable(ctx, name, cfg.Version, cfg.Prerelease)
	if err != nil || !found {
		message := fmt.Sprintf("%s was not found with the source(s) listed.\n If you specified a particular version and are receiving this message, it is possible that the package name exists but the version does not.\n Version: '%s'; Source(s): '%s'", name, versionText(cfg.Version), cfg.SourcesDescription())
		if err != nil {
			message = fmt.Sprintf("%s\n Error: %v", message, err)
		}
		if cfg.FailOnUnfound {
			result.Append(types.SeverityError, message)
		} else {
			result.Append(types.SeverityWarn, message)
			result.Append(types.SeverityInconclusive, message)
		}
		if !cfg.HumanOutput() {
			writeLine(p.Out, "%s|%s|%s|%s", installed.ID, installed.Version, installed.Version, strconv.FormatBool(pinned))
		}
		return
	}

	comparison := CompareVersions(installed.Version, available.Version)
	if !cfg.HumanOutput() {
		writeLine(p.Out, "%s|%s|%s|%s", installed.ID, installed.Version, available.Version, strconv.FormatBool(pinned))
	}

	if pinned {
		message := fmt.Sprintf("%s is pinned. Skipping pinned package.", installed.ID)
		result.Append(types.SeverityWarn, message)
		result.Append(types.SeverityInconclusive, message)
		return
	}
	switch {
	case comparison > 0:
		result.Append(types.SeverityInconclusive, fmt.Sprintf("%s v%s is newer than the most recent available version (v%s).", installed.ID, installed.Version, available.Version))
		return
	case comparison == 0 && !cfg.Force:
		if !result.HasMessage(types.SeverityInconclusive, latestVersionMessage) {
			result.Append(types.SeverityInconclusive, fmt.Sprintf("%s v%s %s", installed.ID, installed.Version, latestVersionMessage))
		}
		return
	}

	reinstall := comparison == 0
	if cfg.Noop {
		if reinstall {
			result.Append(types.SeverityNote, fmt.Sprintf("Would have reinstalled %s v%s.", installed.ID, installed.Version))
		} else {
			result.Append(types.SeverityNote, fmt.Sprintf("You have %s v%s installed. Version %s is available based on your source(s).", installed.ID, installed.Version, available.Version))
		}
		if cfg.HumanOutput() {
			writeLine(p.Out, "%s v%s -> v%s", installed.ID, installed.Version, available.Version)
		}
		return
	}

	backup.RenameLegacyPackageVersion(ctx, installed, lookupMetadata(p.Metadata, installed))
	backup.BackupExistingVersion(ctx, installed, result)

	var operations []types.PackageOperation
	if reinstall {
		if path := backup.InstallPath(installed); path != "" {
			if err := os.RemoveAll(path); err != nil {
				result.Append(types.SeverityInconclusive, fmt.Sprintf("Unable to remove existing package prior to forced reinstall: %v", err))
			}
		}
		logger.Info().Str("package", available.ID).Str("version", available.Version).Msg("reinstalling package")
		operations, err = p.Repository.Install(ctx, available, ports.InstallOptions{
			IgnoreDependencies: cfg.IgnoreDependencies,
			Prerelease:         cfg.Prerelease,
			SideBySide:         cfg.SideBySide,
		})
	} else {
		logger.Info().Str("package", available.ID).Str("from", installed.Version).Str("to", available.Version).Msg("upgrading package")
		operations, err = p.Repository.Update(ctx, available, ports.UpdateOptions{
			UpdateDependencies: !cfg.IgnoreDependencies,
			Prerelease:         cfg.Prerelease,
			SideBySide:         cfg.SideBySide,
		})
	}
	if err != nil {
		result.Append(types.SeverityError, fmt.Sprintf("%s not upgraded. An error occurred during installation:\n %v", name, err))
		return
	}
	dispatchOperations(ctx, operations, results, "upgrade", continuation)
}

func (p UpgradePipeline) installMissing(ctx context.Context, cfg types.LifecycleConfig, name string, results *ResultAggregate, continuation Continuation) {
	log.Ctx(ctx).Warn().Str("package", name).Msg("package is not installed, installing instead of upgrading")
	installCfg := cfg
	installCfg.PackageNames = name
	installed, err := p.Install.Run(ctx, installCfg, continuation)
	if err != nil {
		result := results.GetOrAdd(strings.ToLower(name), identityFactory(types.PackageIdentity{ID: name, Version: cfg.Version}))
		result.Append(types.SeverityError, fmt.Sprintf("%s is not installed and could not be installed: %v", name, err))
		return
	}
	results.Merge(installed)
	result := results.GetOrAdd(strings.ToLower(name), identityFactory(types.PackageIdentity{ID: name, Version: cfg.Version}))
	result.Append(types.SeverityWarn, fmt.Sprintf("%s is not installed. Installing...\n Upgrading a package that is not installed is deprecated and will install it instead.", name))
}
