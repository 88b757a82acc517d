package types

import (
	"path/filepath"
	"strings"
	"time"
)

type OutputMode string

const (
	OutputModeHuman   OutputMode = "human"
	OutputModeMachine OutputMode = "machine"
)

// Paths is the on-disk layout shared by the pipelines and the file
// repository.
type Paths struct {
	InstallRoot   string `yaml:"install_root"`
	BackupRoot    string `yaml:"backup_root"`
	CacheLocation string `yaml:"cache_location"`
	MetadataRoot  string `yaml:"metadata_root"`
}

// PackageDir is the unversioned install directory for an id.
func (p Paths) PackageDir(id string) string {
	return filepath.Join(p.InstallRoot, strings.TrimSpace(id))
}

// VersionedPackageDir is the side-by-side (or legacy) directory.
func (p Paths) VersionedPackageDir(id string, version string) string {
	return filepath.Join(p.InstallRoot, strings.TrimSpace(id)+"."+strings.TrimSpace(version))
}

func (p Paths) BackupDir(id string) string {
	return filepath.Join(p.BackupRoot, strings.TrimSpace(id))
}

// PackageCacheDir holds logs and downloads for one package version.
func (p Paths) PackageCacheDir(identity PackageIdentity) string {
	return filepath.Join(p.CacheLocation, strings.TrimSpace(identity.ID), strings.TrimSpace(identity.Version))
}

type Features struct {
	AutoUninstaller bool `yaml:"auto_uninstaller"`
}

// LifecycleConfig is threaded explicitly through every pipeline call.
type LifecycleConfig struct {
	PackageNames          string
	Version               string
	Sources               []string
	Force                 bool
	ForceDependencies     bool
	IgnoreDependencies    bool
	Prerelease            bool
	AllVersions           bool
	AllowMultipleVersions bool
	SideBySide            bool
	FailOnUnfound         bool
	Noop                  bool
	Interactive           bool
	Output                OutputMode

	InstallArguments  string
	OverrideArguments bool

	Paths            Paths
	Features         Features
	ConfigExtensions []string

	AutoUninstallerDelay           time.Duration
	CommandExecutionTimeoutSeconds int
	PromptForConfirmation          bool
	ConfirmTimeoutSeconds          int
}

// HumanOutput reports whether prose output is wanted over compact lines.
func (c LifecycleConfig) HumanOutput() bool {
	return c.Output != OutputModeMachine
}

// SourcesDescription names the configured sources for messages.
func (c LifecycleConfig) SourcesDescription() string {
	if len(c.Sources) == 0 {
		return "(none configured)"
	}
	return strings.Join(c.Sources, ";")
}

var DefaultConfigExtensions = []string{".config", ".conf", ".cfg", ".jsconf", ".json", ".ini", ".xml", ".yaml", ".yml"}

const (
	DefaultAutoUninstallerDelay           = 2 * time.Second
	DefaultCommandExecutionTimeoutSeconds = 2700
)
