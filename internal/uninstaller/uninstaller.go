// Package uninstaller removes the native software a package installed by
// replaying the uninstall entries captured in its registry snapshot.
package uninstaller

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pkgkeeper/internal/ports"
	"pkgkeeper/internal/shared"
	"pkgkeeper/internal/types"
)

var skipMarkers = []string{".skipAutoUninstaller", ".skipAutoUninstall"}

const (
	choiceYes = "yes"
	choiceNo  = "no"
)

type AutomaticUninstaller struct {
	Metadata ports.MetadataStorePort
	Executor ports.ProcessExecutorPort
	Prompt   ports.PromptPort
	// Registry is optional; without it every captured key is assumed to
	// still exist.
	Registry ports.RegistryProbePort
	Sleep    func(ctx context.Context, d time.Duration)
}

func NewAutomaticUninstaller(metadata ports.MetadataStorePort, executor ports.ProcessExecutorPort, prompt ports.PromptPort, registry ports.RegistryProbePort) *AutomaticUninstaller {
	return &AutomaticUninstaller{
		Metadata: metadata,
		Executor: executor,
		Prompt:   prompt,
		Registry: registry,
		Sleep:    sleepContext,
	}
}

// Run uninstalls the native software recorded for the package behind
// result. Every skip is a note on the result; only an uninstaller exiting
// with an unexpected code is an error.
func (u *AutomaticUninstaller) Run(ctx context.Context, cfg types.LifecycleConfig, result *types.PackageResult) {
	logger := log.Ctx(ctx)
	identity := result.Identity()

	if !cfg.Features.AutoUninstaller {
		u.skip(ctx, result, "Skipping auto uninstaller - the auto uninstaller feature is not enabled.")
		return
	}
	if marker := packageSkipMarker(cfg, result); marker != "" {
		u.skip(ctx, result, fmt.Sprintf("Skipping auto uninstaller - package contains a skip file ('%s').", marker))
		return
	}
	if u.Metadata == nil {
		u.skip(ctx, result, "Skipping auto uninstaller - no package information is available.")
		return
	}
	metadata, ok, err := u.Metadata.Get(identity)
	if err != nil || !ok {
		if err != nil {
			logger.Warn().Err(err).Str("package", identity.ID).Msg("unable to read package metadata")
		}
		u.skip(ctx, result, "Skipping auto uninstaller - no package information is available.")
		return
	}
	if metadata.RegistrySnapshot == nil {
		u.skip(ctx, result, "Skipping auto uninstaller - no registry snapshot was captured.")
		return
	}
	if len(metadata.RegistrySnapshot.Keys) == 0 {
		u.skip(ctx, result, "Skipping auto uninstaller - no registry keys were recorded.")
		return
	}

	logger.Info().Str("package", identity.ID).Int("keys", len(metadata.RegistrySnapshot.Keys)).Msg("running auto uninstaller")
	delayed := false
	for _, key := range metadata.RegistrySnapshot.Keys {
		if err := ctx.Err(); err != nil {
			logger.Warn().Err(err).Str("package", identity.ID).Msg("auto uninstaller interrupted")
			return
		}
		u.uninstallKey(ctx, cfg, result, key, &delayed)
	}
}

func (u *AutomaticUninstaller) uninstallKey(ctx context.Context, cfg types.LifecycleConfig, result *types.PackageResult, key types.RegistryApplicationKey, delayed *bool) {
	logger := log.Ctx(ctx)
	identity := result.Identity()

	if strings.TrimSpace(key.UninstallString) == "" {
		u.skip(ctx, result, fmt.Sprintf("Skipping auto uninstaller - '%s' has no uninstall command.", key.DisplayName))
		return
	}
	if u.Registry != nil && !u.Registry.KeyExists(key.KeyPath) {
		u.skip(ctx, result, fmt.Sprintf("Skipping auto uninstaller - '%s' appears to have been uninstalled already by other means.", key.DisplayName))
		return
	}
	if location := strings.TrimSpace(key.InstallLocation); location != "" && !shared.DirExists(location) {
		u.skip(ctx, result, fmt.Sprintf("Skipping auto uninstaller - '%s' appears to have been uninstalled already by other means.", key.DisplayName))
		return
	}

	exe, args := ParseUninstallString(key.UninstallString)
	if strings.ContainsAny(exe, `/\`) && !shared.PathExists(exe) {
		u.skip(ctx, result, fmt.Sprintf("Skipping auto uninstaller - the uninstaller file no longer exists: '%s'.", exe))
		return
	}

	logDir := cfg.Paths.PackageCacheDir(identity)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		logger.Warn().Err(err).Str("path", logDir).Msg("unable to create uninstall log directory")
	}

	family := installerFor(key.InstallerType)
	if family.kind == types.InstallerTypeMsi {
		args = rewriteMsiArguments(args)
	}
	if !key.HasQuietUninstall {
		args = joinArguments(args, family.silentUninstallArguments(logDir))
	}
	if user := strings.TrimSpace(cfg.InstallArguments); user != "" {
		if cfg.OverrideArguments {
			args = user
		} else {
			args = joinArguments(args, user)
		}
	}

	args = substituteLocations(args, logDir)

	if !*delayed && cfg.AutoUninstallerDelay > 0 {
		logger.Debug().Dur("delay", cfg.AutoUninstallerDelay).Msg("waiting before auto uninstall")
		u.sleep(ctx, cfg.AutoUninstallerDelay)
	}
	*delayed = true

	if !key.HasQuietUninstall && family.kind == types.InstallerTypeCustom {
		if !u.confirm(ctx, cfg, key) {
			result.Append(types.SeverityNote, fmt.Sprintf("Skipping auto uninstaller - '%s' could not be uninstalled silently and was not confirmed.", key.DisplayName))
			result.Append(types.SeverityWarn, fmt.Sprintf("'%s' may need to be removed manually.", key.DisplayName))
			return
		}
	}
	if u.Executor == nil {
		result.Append(types.SeverityError, fmt.Sprintf("Auto uninstaller cannot run '%s': no process executor is configured.", key.DisplayName))
		return
	}

	logger.Info().Str("package", identity.ID).Str("path", exe).Str("args", args).Msg("running native uninstaller")
	exitCode, err := u.Executor.Execute(ctx, exe, args, cfg.CommandExecutionTimeoutSeconds,
		func(line string) { logger.Info().Str("package", identity.ID).Msg(line) },
		func(line string) { logger.Error().Str("package", identity.ID).Msg(line) },
	)
	if err != nil {
		logger.Error().Err(err).Str("package", identity.ID).Int("exit_code", exitCode).Msg("native uninstaller failed")
		if exitCode == 0 {
			exitCode = -1
		}
	}
	if !family.validExitCode(exitCode) {
		result.Append(types.SeverityError, fmt.Sprintf("Auto uninstaller for '%s' failed. The uninstaller exited with code %d, which is not a valid exit code for a %s uninstaller. '%s' may need to be removed manually.", key.DisplayName, exitCode, family.kind, key.DisplayName))
		result.SetExitCode(exitCode)
		return
	}
	result.Append(types.SeverityNote, fmt.Sprintf("Auto uninstaller has successfully uninstalled '%s' or detected previous uninstall.", key.DisplayName))
}

func (u *AutomaticUninstaller) confirm(ctx context.Context, cfg types.LifecycleConfig, key types.RegistryApplicationKey) bool {
	if u.Prompt == nil {
		return false
	}
	message := fmt.Sprintf("Uninstalling '%s' may not be silent and could require interaction. Do you want to continue?", key.DisplayName)
	answer, err := u.Prompt.Confirm(ctx, message, []string{choiceYes, choiceNo}, choiceNo, confirmTimeout(cfg))
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", key.KeyPath).Msg("uninstall confirmation failed")
		return false
	}
	return strings.EqualFold(strings.TrimSpace(answer), choiceYes)
}

// confirmTimeout maps the prompt settings onto the PromptPort convention:
// 0 answers with the default at once and a negative value waits for the user.
func confirmTimeout(cfg types.LifecycleConfig) int {
	if !cfg.PromptForConfirmation {
		return 0
	}
	if cfg.ConfirmTimeoutSeconds > 0 {
		return cfg.ConfirmTimeoutSeconds
	}
	return -1
}

func (u *AutomaticUninstaller) skip(ctx context.Context, result *types.PackageResult, message string) {
	log.Ctx(ctx).Info().Str("package", result.Identity().ID).Msg(message)
	result.Append(types.SeverityNote, message)
}

func (u *AutomaticUninstaller) sleep(ctx context.Context, d time.Duration) {
	if u.Sleep == nil {
		sleepContext(ctx, d)
		return
	}
	u.Sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

var errMarkerFound = errors.New("skip marker found")

// packageSkipMarker looks in the install location and, once the package
// directory is gone, in the backup slot taken just before removal.
func packageSkipMarker(cfg types.LifecycleConfig, result *types.PackageResult) string {
	location := result.InstallLocation()
	if strings.TrimSpace(location) != "" && shared.DirExists(location) {
		return findSkipMarker(location)
	}
	if cfg.Paths.BackupRoot == "" {
		return ""
	}
	return findSkipMarker(cfg.Paths.BackupDir(result.Identity().ID))
}

// findSkipMarker returns the first skip marker under location, ignoring
// templates directories.
func findSkipMarker(location string) string {
	if strings.TrimSpace(location) == "" || !shared.DirExists(location) {
		return ""
	}
	found := ""
	_ = filepath.WalkDir(location, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			if path != location && strings.EqualFold(entry.Name(), "templates") {
				return filepath.SkipDir
			}
			return nil
		}
		for _, marker := range skipMarkers {
			if strings.EqualFold(entry.Name(), marker) {
				found = path
				return errMarkerFound
			}
		}
		return nil
	})
	return found
}
