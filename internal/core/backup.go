package core

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"pkgkeeper/internal/shared"
	"pkgkeeper/internal/types"
)

// BackupManager keeps one rollback copy per package id under the backup
// root and snapshots configuration files before a package is replaced.
// Every operation is best effort: failures are logged and reported as
// warnings, never returned.
type BackupManager struct {
	paths      types.Paths
	extensions map[string]struct{}
	locks      *keyedMutex
}

func NewBackupManager(paths types.Paths, configExtensions []string) *BackupManager {
	if len(configExtensions) == 0 {
		configExtensions = types.DefaultConfigExtensions
	}
	extensions := map[string]struct{}{}
	for _, ext := range configExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions[ext] = struct{}{}
	}
	return &BackupManager{
		paths:      paths,
		extensions: extensions,
		locks:      newKeyedMutex(),
	}
}

// InstallPath returns the directory the package currently lives in, or
// "" when neither the unversioned nor the versioned layout exists.
func (m *BackupManager) InstallPath(identity types.PackageIdentity) string {
	if dir := m.paths.PackageDir(identity.ID); shared.DirExists(dir) {
		return dir
	}
	if strings.TrimSpace(identity.Version) != "" {
		if dir := m.paths.VersionedPackageDir(identity.ID, identity.Version); shared.DirExists(dir) {
			return dir
		}
	}
	return ""
}

// BackupExistingVersion moves the live install into the backup slot for
// its id and copies it back, so a restorable copy exists while the live
// directory stays in place. Failures are warnings: an error message on
// result would fail the package even though the install or uninstall
// itself went ahead.
func (m *BackupManager) BackupExistingVersion(ctx context.Context, identity types.PackageIdentity, result *types.PackageResult) {
	logger := log.Ctx(ctx)
	installPath := m.InstallPath(identity)
	if installPath == "" {
		logger.Debug().Str("package", identity.ID).Msg("no existing install to back up")
		return
	}
	unlock := m.locks.lock(identity.Key())
	defer unlock()

	backupPath := m.paths.BackupDir(identity.ID)
	logger.Debug().Str("package", identity.ID).Str("path", backupPath).Msg("backing up existing version")

	moved := true
	if err := shared.MoveDir(installPath, backupPath); err != nil {
		moved = false
		logger.Error().Err(err).Str("package", identity.ID).Msg("failed to move install directory to backup")
		appendMessage(result, types.SeverityWarn, fmt.Sprintf("Error during backup (move phase) of %s: %v", identity.ID, err))
	}
	if err := shared.CopyDir(backupPath, installPath); err != nil {
		logger.Error().Err(err).Str("package", identity.ID).Msg("failed to restore install directory from backup")
		appendMessage(result, types.SeverityWarn, fmt.Sprintf("Error during backup (reset phase) of %s: %v", identity.ID, err))
		return
	}
	if moved {
		m.BackupConfigFiles(ctx, installPath, identity.Version)
	}
}

// BackupConfigFiles copies every configuration file under installPath to
// <name>.<version><ext> beside the original.
func (m *BackupManager) BackupConfigFiles(ctx context.Context, installPath string, version string) {
	logger := log.Ctx(ctx)
	version = strings.TrimSpace(version)
	if version == "" || !shared.DirExists(installPath) {
		return
	}
	var candidates []string
	err := filepath.WalkDir(installPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable path during config backup")
			return nil
		}
		if entry.IsDir() || !entry.Type().IsRegular() {
			return nil
		}
		if m.isConfigFile(entry.Name()) {
			candidates = append(candidates, path)
		}
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Str("path", installPath).Msg("config file scan failed")
	}
	for _, path := range candidates {
		dest := configBackupPath(path, version)
		if isConfigBackupName(filepath.Base(path), version) {
			continue
		}
		if err := shared.CopyFile(path, dest); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("failed to back up config file")
			continue
		}
		logger.Debug().Str("path", dest).Msg("backed up config file")
	}
}

// RenameLegacyPackageVersion migrates a versioned directory from older
// layouts to the unversioned one for packages not installed side by side.
func (m *BackupManager) RenameLegacyPackageVersion(ctx context.Context, identity types.PackageIdentity, metadata types.PackageMetadata) {
	if metadata.IsSideBySide || strings.TrimSpace(identity.Version) == "" {
		return
	}
	unversioned := m.paths.PackageDir(identity.ID)
	if shared.PathExists(unversioned) {
		return
	}
	legacy := m.paths.VersionedPackageDir(identity.ID, identity.Version)
	if !shared.DirExists(legacy) {
		return
	}
	unlock := m.locks.lock(identity.Key())
	defer unlock()
	if err := os.Rename(legacy, unversioned); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("package", identity.ID).Str("path", legacy).Msg("unable to rename legacy package directory")
		return
	}
	log.Ctx(ctx).Debug().Str("package", identity.ID).Str("from", legacy).Str("to", unversioned).Msg("renamed legacy package directory")
}

// RemoveRollbackDirectoryIfExists deletes a stale rollback for name left
// by an interrupted run: an exact match first, otherwise the last
// directory (lexicographically) starting with name.
func (m *BackupManager) RemoveRollbackDirectoryIfExists(ctx context.Context, name string) {
	logger := log.Ctx(ctx)
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	unlock := m.locks.lock(strings.ToLower(name))
	defer unlock()

	entries, err := os.ReadDir(m.paths.BackupRoot)
	if err != nil {
		return
	}
	lower := strings.ToLower(name)
	var exact string
	var prefixed []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		entryLower := strings.ToLower(entry.Name())
		if entryLower == lower {
			exact = entry.Name()
			break
		}
		if strings.HasPrefix(entryLower, lower) {
			prefixed = append(prefixed, entry.Name())
		}
	}
	target := exact
	if target == "" && len(prefixed) > 0 {
		sort.Strings(prefixed)
		target = prefixed[len(prefixed)-1]
	}
	if target == "" {
		return
	}
	path := filepath.Join(m.paths.BackupRoot, target)
	if err := os.RemoveAll(path); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("unable to remove stale rollback directory")
		return
	}
	logger.Debug().Str("path", path).Msg("removed stale rollback directory")
}

func (m *BackupManager) isConfigFile(name string) bool {
	_, ok := m.extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func configBackupPath(path string, version string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return base + "." + version + ext
}

func isConfigBackupName(name string, version string) bool {
	ext := filepath.Ext(name)
	return strings.HasSuffix(strings.ToLower(strings.TrimSuffix(name, ext)), "."+strings.ToLower(version))
}

func appendMessage(result *types.PackageResult, severity types.Severity, text string) {
	if result == nil {
		return
	}
	result.Append(severity, text)
}

// keyedMutex serializes work per package id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*sync.Mutex{}}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}
