package ports

import (
	"context"

	"pkgkeeper/internal/types"
)

// FeedPackage describes one published package version.
type FeedPackage struct {
	ID           string   `yaml:"id"`
	Version      string   `yaml:"version"`
	Dependencies []string `yaml:"dependencies,omitempty"`
	Files        []string `yaml:"files,omitempty"`
}

// FeedPort is a source of installable packages.
type FeedPort interface {
	Name() string
	Versions(ctx context.Context, id string) ([]FeedPackage, error)
	Fetch(ctx context.Context, identity types.PackageIdentity, destDir string) error
}
