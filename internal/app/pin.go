package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"pkgkeeper/internal/core"
	"pkgkeeper/internal/types"
)

// PinAdd pins the installed version of a package, or the given version
// when several are installed side by side. Pinned versions are skipped by
// upgrade and uninstall.
func (s Service) PinAdd(ctx context.Context, req PinRequest) (PinResult, error) {
	return s.setPinned(ctx, req, true)
}

func (s Service) PinRemove(ctx context.Context, req PinRequest) (PinResult, error) {
	return s.setPinned(ctx, req, false)
}

// PinList returns every pinned version ordered by id.
func (s Service) PinList(_ context.Context) ([]types.PackageIdentity, error) {
	records, err := s.Metadata.List()
	if err != nil {
		return nil, err
	}
	var pinned []types.PackageIdentity
	for _, record := range records {
		if record.IsPinned {
			pinned = append(pinned, record.Identity)
		}
	}
	return pinned, nil
}

func (s Service) setPinned(ctx context.Context, req PinRequest, pinned bool) (PinResult, error) {
	name := strings.TrimSpace(req.PackageName)
	if name == "" {
		return PinResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("a package name is required")
	}
	identity, err := s.installedVersion(ctx, name, strings.TrimSpace(req.Version))
	if err != nil {
		return PinResult{}, err
	}
	metadata, found, err := s.Metadata.Get(identity)
	if err != nil {
		return PinResult{}, err
	}
	if !found {
		metadata = types.PackageMetadata{Identity: identity}
	}
	if metadata.IsPinned == pinned {
		return PinResult{Identity: identity}, nil
	}
	if req.Config.Noop {
		return PinResult{Identity: identity, Changed: true}, nil
	}
	metadata.IsPinned = pinned
	if err := s.Metadata.Save(metadata); err != nil {
		return PinResult{}, err
	}
	return PinResult{Identity: identity, Changed: true}, nil
}

// installedVersion resolves name, and version when given, to an installed
// identity.
func (s Service) installedVersion(ctx context.Context, name string, version string) (types.PackageIdentity, error) {
	all, err := s.Repository.FindInstalledAllVersions(ctx, name)
	if err != nil {
		return types.PackageIdentity{}, err
	}
	if len(all) == 0 {
		return types.PackageIdentity{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("%s is not installed", name))
	}
	if version == "" {
		return all[len(all)-1], nil
	}
	for _, identity := range all {
		if core.VersionsEqual(identity.Version, version) {
			return identity, nil
		}
	}
	return types.PackageIdentity{}, errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(fmt.Sprintf("%s v%s is not installed", name, version))
}
