package ports

import "pkgkeeper/internal/types"

type MetadataStorePort interface {
	Get(identity types.PackageIdentity) (types.PackageMetadata, bool, error)
	Save(metadata types.PackageMetadata) error
	Remove(identity types.PackageIdentity) error
	List() ([]types.PackageMetadata, error)
}
