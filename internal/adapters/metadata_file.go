package adapters

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"

	"pkgkeeper/internal/core"
	"pkgkeeper/internal/ports"
	"pkgkeeper/internal/types"
)

const metadataFileName = "metadata.yaml"

// MetadataFileAdapter keeps one YAML document per installed version at
// <root>/<id>/<version>/metadata.yaml. Ids are stored lower-cased.
type MetadataFileAdapter struct {
	Root string
}

func NewMetadataFileAdapter(root string) MetadataFileAdapter {
	return MetadataFileAdapter{Root: root}
}

func (a MetadataFileAdapter) Get(identity types.PackageIdentity) (types.PackageMetadata, bool, error) {
	data, err := os.ReadFile(a.path(identity))
	if err != nil {
		if os.IsNotExist(err) {
			return types.PackageMetadata{}, false, nil
		}
		return types.PackageMetadata{}, false, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to read metadata for %s", identity)).
			WithCause(err)
	}
	var metadata types.PackageMetadata
	if err := yaml.Unmarshal(data, &metadata); err != nil {
		return types.PackageMetadata{}, false, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid metadata for %s", identity)).
			WithCause(err)
	}
	return metadata, true, nil
}

func (a MetadataFileAdapter) Save(metadata types.PackageMetadata) error {
	if strings.TrimSpace(metadata.Identity.ID) == "" || strings.TrimSpace(metadata.Identity.Version) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("metadata requires an id and a version")
	}
	path := a.path(metadata.Identity)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create metadata directory").
			WithCause(err)
	}
	data, err := yaml.Marshal(metadata)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode metadata").
			WithCause(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to write metadata for %s", metadata.Identity)).
			WithCause(err)
	}
	return nil
}

// Remove deletes the version directory, then the id directory once it is
// empty. Removing metadata that does not exist is not an error.
func (a MetadataFileAdapter) Remove(identity types.PackageIdentity) error {
	versionDir := filepath.Dir(a.path(identity))
	if err := os.RemoveAll(versionDir); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to remove metadata for %s", identity)).
			WithCause(err)
	}
	idDir := filepath.Dir(versionDir)
	if entries, err := os.ReadDir(idDir); err == nil && len(entries) == 0 {
		_ = os.Remove(idDir)
	}
	return nil
}

// List returns every stored record ordered by id, then version.
func (a MetadataFileAdapter) List() ([]types.PackageMetadata, error) {
	matches, err := filepath.Glob(filepath.Join(a.Root, "*", "*", metadataFileName))
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to list metadata").
			WithCause(err)
	}
	var out []types.PackageMetadata
	for _, match := range matches {
		data, err := os.ReadFile(match)
		if err != nil {
			continue
		}
		var metadata types.PackageMetadata
		if err := yaml.Unmarshal(data, &metadata); err != nil {
			continue
		}
		out = append(out, metadata)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Identity.Key() != out[j].Identity.Key() {
			return out[i].Identity.Key() < out[j].Identity.Key()
		}
		return core.CompareVersions(out[i].Identity.Version, out[j].Identity.Version) < 0
	})
	return out, nil
}

func (a MetadataFileAdapter) path(identity types.PackageIdentity) string {
	return filepath.Join(a.Root, identity.Key(), strings.ToLower(strings.TrimSpace(identity.Version)), metadataFileName)
}

var _ ports.MetadataStorePort = MetadataFileAdapter{}
