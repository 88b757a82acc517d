package types

// PackageMetadata is the per-version state kept beside an installed
// package.
type PackageMetadata struct {
	Identity         PackageIdentity   `yaml:"identity"`
	IsPinned         bool              `yaml:"is_pinned"`
	IsSideBySide     bool              `yaml:"is_side_by_side"`
	RegistrySnapshot *RegistrySnapshot `yaml:"registry_snapshot,omitempty"`
}

type OperationKind string

const (
	OperationInstalled   OperationKind = "installed"
	OperationUpdated     OperationKind = "updated"
	OperationUninstalled OperationKind = "uninstalled"
)

// PackageOperation is one progress notification from the repository. A
// single mutation yields one per affected package, dependencies included.
type PackageOperation struct {
	Kind            OperationKind
	Identity        PackageIdentity
	InstallLocation string
}
