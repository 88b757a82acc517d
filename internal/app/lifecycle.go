package app

import (
	"context"
	"fmt"
	"strings"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"pkgkeeper/internal/core"
	"pkgkeeper/internal/types"
)

func (s Service) Install(ctx context.Context, req LifecycleRequest) (LifecycleResult, error) {
	if isAlternativeSource(req.Source) {
		return s.runSource(ctx, types.VerbInstall, types.CommandInstall, req)
	}
	pipeline := core.NewInstallPipeline(s.Repository, s.Metadata, s.Out)
	results, err := pipeline.Run(ctx, req.Config, s.recordInstall(req.Config))
	if err != nil {
		return LifecycleResult{}, err
	}
	return lifecycleResult(types.CommandInstall, results), nil
}

func (s Service) Upgrade(ctx context.Context, req LifecycleRequest) (LifecycleResult, error) {
	if isAlternativeSource(req.Source) {
		return s.runSource(ctx, types.VerbUpgrade, types.CommandUpgrade, req)
	}
	cfg := req.Config
	if strings.TrimSpace(cfg.PackageNames) == "all" {
		names, err := s.installedNames()
		if err != nil {
			return LifecycleResult{}, err
		}
		if len(names) == 0 {
			return LifecycleResult{Command: types.CommandUpgrade}, nil
		}
		cfg.PackageNames = strings.Join(names, ";")
	}
	pipeline := core.NewUpgradePipeline(s.Repository, s.Metadata, s.Out)
	results, err := pipeline.Run(ctx, cfg, s.recordUpgrade(cfg))
	if err != nil {
		return LifecycleResult{}, err
	}
	return lifecycleResult(types.CommandUpgrade, results), nil
}

func (s Service) Uninstall(ctx context.Context, req LifecycleRequest) (LifecycleResult, error) {
	if isAlternativeSource(req.Source) {
		return s.runSource(ctx, types.VerbUninstall, types.CommandUninstall, req)
	}
	pipeline := core.NewUninstallPipeline(s.Repository, s.Metadata, s.Prompt, s.Out)
	results, err := pipeline.Run(ctx, req.Config, s.cleanupUninstall(req.Config))
	if err != nil {
		return LifecycleResult{}, err
	}
	return lifecycleResult(types.CommandUninstall, results), nil
}

// recordInstall saves metadata for each newly installed version. An
// existing record keeps its pin and registry snapshot.
func (s Service) recordInstall(cfg types.LifecycleConfig) core.Continuation {
	return func(ctx context.Context, result *types.PackageResult) {
		if cfg.Noop || s.Metadata == nil {
			return
		}
		identity := result.Identity()
		assert.NotEmpty(ctx, identity.ID, "installed package must have an id")
		metadata, found, err := s.Metadata.Get(identity)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("package", identity.ID).Msg("unreadable package metadata, replacing it")
		}
		if !found || err != nil {
			metadata = types.PackageMetadata{Identity: identity}
		}
		metadata.IsSideBySide = cfg.SideBySide
		if err := s.Metadata.Save(metadata); err != nil {
			result.Append(types.SeverityWarn, fmt.Sprintf("Unable to save package information for %s: %v", identity, err))
		}
	}
}

// recordUpgrade records the new version like an install, then drops the
// metadata of versions the upgrade replaced.
func (s Service) recordUpgrade(cfg types.LifecycleConfig) core.Continuation {
	record := s.recordInstall(cfg)
	return func(ctx context.Context, result *types.PackageResult) {
		record(ctx, result)
		if cfg.Noop || s.Metadata == nil {
			return
		}
		s.pruneMetadata(ctx, result.Identity())
	}
}

// cleanupUninstall runs the automatic uninstaller for the removed version
// and then forgets its metadata.
func (s Service) cleanupUninstall(cfg types.LifecycleConfig) core.Continuation {
	auto := s.automaticUninstaller()
	return func(ctx context.Context, result *types.PackageResult) {
		if cfg.Noop {
			return
		}
		auto.Run(ctx, cfg, result)
		if s.Metadata == nil {
			return
		}
		identity := result.Identity()
		if err := s.Metadata.Remove(identity); err != nil {
			result.Append(types.SeverityWarn, fmt.Sprintf("Unable to remove package information for %s: %v", identity, err))
		}
	}
}

func (s Service) pruneMetadata(ctx context.Context, current types.PackageIdentity) {
	records, err := s.Metadata.List()
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to list package metadata")
		return
	}
	installed, err := s.Repository.FindInstalledAllVersions(ctx, current.ID)
	if err != nil {
		return
	}
	live := map[string]struct{}{}
	for _, identity := range installed {
		live[identity.VersionKey()] = struct{}{}
	}
	for _, record := range records {
		if !record.Identity.SameID(current) {
			continue
		}
		if _, ok := live[record.Identity.VersionKey()]; ok {
			continue
		}
		if err := s.Metadata.Remove(record.Identity); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("package", record.Identity.ID).Msg("failed to remove stale metadata")
		}
	}
}

// bootstrap installs the tool an alternative source needs through the
// native install pipeline.
func (s Service) bootstrap(ctx context.Context, cfg types.LifecycleConfig, packageName string) error {
	bootstrapCfg := cfg
	bootstrapCfg.PackageNames = packageName
	bootstrapCfg.Version = ""
	bootstrapCfg.Force = false
	bootstrapCfg.InstallArguments = ""
	bootstrapCfg.OverrideArguments = false
	pipeline := core.NewInstallPipeline(s.Repository, s.Metadata, s.Out)
	results, err := pipeline.Run(ctx, bootstrapCfg, s.recordInstall(bootstrapCfg))
	if err != nil {
		return err
	}
	if results.FailureCount() > 0 {
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("unable to install %s", packageName))
	}
	return nil
}

func (s Service) runSource(ctx context.Context, verb types.Verb, command types.CommandType, req LifecycleRequest) (LifecycleResult, error) {
	if len(types.SplitPackageNames(req.Config.PackageNames)) == 0 {
		return LifecycleResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("at least one package name is required")
	}
	results := core.NewResultAggregate()
	if err := s.sourceRegistry().Run(ctx, verb, req.Source, req.Config, results); err != nil {
		return LifecycleResult{}, err
	}
	return lifecycleResult(command, results), nil
}

// installedNames lists the ids with recorded metadata, once each.
func (s Service) installedNames() ([]string, error) {
	if s.Metadata == nil {
		return nil, nil
	}
	records, err := s.Metadata.List()
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var names []string
	for _, record := range records {
		if _, ok := seen[record.Identity.Key()]; ok {
			continue
		}
		seen[record.Identity.Key()] = struct{}{}
		names = append(names, record.Identity.ID)
	}
	return names, nil
}

func isAlternativeSource(source types.SourceType) bool {
	return source != "" && source != types.SourceTypeNative
}

func lifecycleResult(command types.CommandType, results *core.ResultAggregate) LifecycleResult {
	return LifecycleResult{
		Command:  command,
		Results:  results.Results(),
		ExitCode: results.ExitCode(),
		Failed:   results.FailureCount(),
	}
}
