package app

import "pkgkeeper/internal/types"

// LifecycleRequest runs one install, upgrade or uninstall. An empty or
// native Source uses the pipelines; any other source is dispatched to its
// runner.
type LifecycleRequest struct {
	Config types.LifecycleConfig
	Source types.SourceType
}

type LifecycleResult struct {
	Command  types.CommandType
	Results  []*types.PackageResult
	ExitCode int
	Failed   int
}

type PinRequest struct {
	Config      types.LifecycleConfig
	PackageName string
	Version     string
}

type PinResult struct {
	Identity types.PackageIdentity
	Changed  bool
}

type ListRequest struct {
	Config types.LifecycleConfig
	Source types.SourceType
	Filter string
}

// ListedPackage is one installed package as shown by list.
type ListedPackage struct {
	Identity   types.PackageIdentity
	Pinned     bool
	SideBySide bool
}

type ListResult struct {
	Packages []ListedPackage
}

type OutdatedRequest struct {
	Config types.LifecycleConfig
}

// OutdatedPackage compares the installed version with the newest one the
// sources offer.
type OutdatedPackage struct {
	ID        string
	Installed string
	Available string
	Pinned    bool
}

type OutdatedResult struct {
	Packages []OutdatedPackage
}

// SearchRequest looks up the versions a source offers for Query. The
// native source answers with the newest matching feed version only.
type SearchRequest struct {
	Config types.LifecycleConfig
	Source types.SourceType
	Query  string
}

type SearchResult struct {
	Packages []types.PackageIdentity
}
