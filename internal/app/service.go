package app

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"

	"pkgkeeper/internal/adapters"
	"pkgkeeper/internal/ports"
	"pkgkeeper/internal/sources"
	"pkgkeeper/internal/types"
	"pkgkeeper/internal/uninstaller"
)

const defaultHomeDirName = ".pkgkeeper"

type Service struct {
	Repository ports.RepositoryPort
	Metadata   ports.MetadataStorePort
	Executor   ports.ProcessExecutorPort
	Prompt     ports.PromptPort
	// Registry is optional; without it every captured uninstall key is
	// assumed to still exist.
	Registry ports.RegistryProbePort
	Out      io.Writer
}

// NewService wires the file-backed adapters for paths. Each source is a
// feed: http(s) URLs are read as HTTP feeds, anything else as a directory.
func NewService(paths types.Paths, feedSources []string, feedOptions adapters.HTTPFeedOptions, out io.Writer) Service {
	var feeds []ports.FeedPort
	for _, source := range feedSources {
		source = strings.TrimSpace(source)
		if source == "" {
			continue
		}
		lower := strings.ToLower(source)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
			feeds = append(feeds, adapters.NewHTTPFeedAdapter(source, feedOptions))
			continue
		}
		feeds = append(feeds, adapters.NewDirectoryFeedAdapter(source))
	}
	return Service{
		Repository: adapters.NewFileRepositoryAdapter(paths, feeds...),
		Metadata:   adapters.NewMetadataFileAdapter(paths.MetadataRoot),
		Executor:   adapters.NewProcessExecutorAdapter(),
		Prompt:     adapters.NewHuhPromptAdapter(),
		Out:        out,
	}
}

// DefaultPaths fills unset roots with directories under ~/.pkgkeeper.
func DefaultPaths(paths types.Paths) (types.Paths, error) {
	home, err := homedir.Dir()
	if err != nil {
		return paths, err
	}
	base := filepath.Join(home, defaultHomeDirName)
	if strings.TrimSpace(paths.InstallRoot) == "" {
		paths.InstallRoot = filepath.Join(base, "lib")
	}
	if strings.TrimSpace(paths.BackupRoot) == "" {
		paths.BackupRoot = filepath.Join(base, "lib-bkp")
	}
	if strings.TrimSpace(paths.CacheLocation) == "" {
		paths.CacheLocation = filepath.Join(base, "cache")
	}
	if strings.TrimSpace(paths.MetadataRoot) == "" {
		paths.MetadataRoot = filepath.Join(base, ".metadata")
	}
	for _, target := range []*string{&paths.InstallRoot, &paths.BackupRoot, &paths.CacheLocation, &paths.MetadataRoot} {
		expanded, err := homedir.Expand(*target)
		if err != nil {
			return paths, err
		}
		*target = expanded
	}
	return paths, nil
}

func (s Service) automaticUninstaller() *uninstaller.AutomaticUninstaller {
	return uninstaller.NewAutomaticUninstaller(s.Metadata, s.Executor, s.Prompt, s.Registry)
}

// sourceRegistry builds the alternative source runners. pip bootstraps
// python through the native install pipeline.
func (s Service) sourceRegistry() *sources.Registry {
	return sources.NewRegistry(
		sources.NewPipRunner(s.Executor, s.Out, s.bootstrap),
		sources.NewAptRunner(s.Executor, s.Out),
	)
}
