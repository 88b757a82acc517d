package ports

import (
	"context"

	"pkgkeeper/internal/types"
)

type InstallOptions struct {
	IgnoreDependencies bool
	Prerelease         bool
	SideBySide         bool
	// InstallRoot overrides the repository's install root; dry runs point
	// it at a throwaway directory.
	InstallRoot string
}

type UpdateOptions struct {
	UpdateDependencies bool
	Prerelease         bool
	SideBySide         bool
}

type UninstallOptions struct {
	Force              bool
	RemoveDependencies bool
}

// RepositoryPort is the package resolver. Lookups report presence with a
// boolean; mutations return the ordered progress notifications for every
// package they touched.
type RepositoryPort interface {
	FindInstalled(ctx context.Context, id string) (types.PackageIdentity, bool, error)
	FindInstalledAllVersions(ctx context.Context, id string) ([]types.PackageIdentity, error)
	FindAvailable(ctx context.Context, id string, version string, prerelease bool) (types.PackageIdentity, bool, error)
	Install(ctx context.Context, identity types.PackageIdentity, opts InstallOptions) ([]types.PackageOperation, error)
	Update(ctx context.Context, identity types.PackageIdentity, opts UpdateOptions) ([]types.PackageOperation, error)
	Uninstall(ctx context.Context, identity types.PackageIdentity, opts UninstallOptions) ([]types.PackageOperation, error)
}
