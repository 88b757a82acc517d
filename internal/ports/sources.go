package ports

import (
	"context"

	"pkgkeeper/internal/types"
)

// SourceRunner is the base every alternative source implements. The
// remaining interfaces are optional capabilities; a runner implements
// only the verbs its underlying tool supports.
type SourceRunner interface {
	SourceType() types.SourceType
}

// Bootstrappable runners can make sure their underlying tool is present.
type Bootstrappable interface {
	SourceRunner
	EnsureSourceApp(ctx context.Context, cfg types.LifecycleConfig) error
}

type Listable interface {
	SourceRunner
	List(ctx context.Context, cfg types.LifecycleConfig) ([]types.PackageIdentity, error)
}

type Searchable interface {
	SourceRunner
	Search(ctx context.Context, cfg types.LifecycleConfig, query string) ([]types.PackageIdentity, error)
}

type Installable interface {
	SourceRunner
	Install(ctx context.Context, cfg types.LifecycleConfig, results ResultSink) error
}

type Upgradable interface {
	SourceRunner
	Upgrade(ctx context.Context, cfg types.LifecycleConfig, results ResultSink) error
}

type Uninstallable interface {
	SourceRunner
	Uninstall(ctx context.Context, cfg types.LifecycleConfig, results ResultSink) error
}

// ResultSink is the get-or-insert side of a result aggregate.
type ResultSink interface {
	GetOrAdd(key string, factory func() *types.PackageResult) *types.PackageResult
}
