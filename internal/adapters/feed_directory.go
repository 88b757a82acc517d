package adapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"

	"pkgkeeper/internal/ports"
	"pkgkeeper/internal/shared"
	"pkgkeeper/internal/types"
)

// PackageManifestName describes one published version inside a feed.
const PackageManifestName = "package.yaml"

// DirectoryFeedAdapter serves packages laid out as
// <root>/<id>/<version>/package.yaml next to the payload files.
type DirectoryFeedAdapter struct {
	Root string
}

func NewDirectoryFeedAdapter(root string) DirectoryFeedAdapter {
	return DirectoryFeedAdapter{Root: root}
}

func (a DirectoryFeedAdapter) Name() string {
	return a.Root
}

func (a DirectoryFeedAdapter) Versions(_ context.Context, id string) ([]ports.FeedPackage, error) {
	packageDir, ok := a.packageDir(id)
	if !ok {
		return nil, nil
	}
	entries, err := os.ReadDir(packageDir)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to read feed directory %s", packageDir)).
			WithCause(err)
	}
	var packages []ports.FeedPackage
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pkg, err := readPackageManifest(filepath.Join(packageDir, entry.Name(), PackageManifestName))
		if err != nil {
			continue
		}
		if pkg.ID == "" {
			pkg.ID = filepath.Base(packageDir)
		}
		if pkg.Version == "" {
			pkg.Version = entry.Name()
		}
		packages = append(packages, pkg)
	}
	return packages, nil
}

// Fetch copies the payload of identity into destDir. The feed manifest
// itself is not copied.
func (a DirectoryFeedAdapter) Fetch(_ context.Context, identity types.PackageIdentity, destDir string) error {
	packageDir, ok := a.packageDir(identity.ID)
	if !ok {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("%s is not published in %s", identity.ID, a.Root))
	}
	versionDir := filepath.Join(packageDir, identity.Version)
	if !shared.DirExists(versionDir) {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("%s is not published in %s", identity, a.Root))
	}
	if err := shared.CopyDir(versionDir, destDir); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to copy %s", identity)).
			WithCause(err)
	}
	if err := os.Remove(filepath.Join(destDir, PackageManifestName)); err != nil && !os.IsNotExist(err) {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to remove feed manifest from payload").
			WithCause(err)
	}
	return nil
}

// packageDir matches id against the feed's directories ignoring case.
func (a DirectoryFeedAdapter) packageDir(id string) (string, bool) {
	direct := filepath.Join(a.Root, strings.TrimSpace(id))
	if shared.DirExists(direct) {
		return direct, true
	}
	entries, err := os.ReadDir(a.Root)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.EqualFold(entry.Name(), strings.TrimSpace(id)) {
			return filepath.Join(a.Root, entry.Name()), true
		}
	}
	return "", false
}

func readPackageManifest(path string) (ports.FeedPackage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ports.FeedPackage{}, err
	}
	var pkg ports.FeedPackage
	if err := yaml.Unmarshal(data, &pkg); err != nil {
		return ports.FeedPackage{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid package manifest %s", path)).
			WithCause(err)
	}
	return pkg, nil
}

var _ ports.FeedPort = DirectoryFeedAdapter{}
