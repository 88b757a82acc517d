package types

type InstallerType string

const (
	InstallerTypeUnknown                InstallerType = "unknown"
	InstallerTypeMsi                    InstallerType = "msi"
	InstallerTypeInnoSetup              InstallerType = "innosetup"
	InstallerTypeNsis                   InstallerType = "nsis"
	InstallerTypeInstallShield          InstallerType = "installshield"
	InstallerTypeCustom                 InstallerType = "custom"
	InstallerTypeHotfixOrSecurityUpdate InstallerType = "hotfix"
	InstallerTypeServicePack            InstallerType = "servicepack"
)

// RegistryApplicationKey is one uninstall entry captured when a package's
// native installer ran.
type RegistryApplicationKey struct {
	KeyPath           string        `yaml:"key_path"`
	DisplayName       string        `yaml:"display_name"`
	DisplayVersion    string        `yaml:"display_version,omitempty"`
	UninstallString   string        `yaml:"uninstall_string"`
	HasQuietUninstall bool          `yaml:"has_quiet_uninstall"`
	InstallerType     InstallerType `yaml:"installer_type"`
	InstallLocation   string        `yaml:"install_location,omitempty"`
}

// RegistrySnapshot is the set of keys a package added. A snapshot with
// no keys and a missing snapshot both mean there is nothing to remove.
type RegistrySnapshot struct {
	User string                   `yaml:"user,omitempty"`
	Keys []RegistryApplicationKey `yaml:"keys"`
}
