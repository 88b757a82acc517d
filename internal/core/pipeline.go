package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"pkgkeeper/internal/ports"
	"pkgkeeper/internal/types"
)

// Continuation runs once per successfully processed package so callers can
// chain script execution, shimming or automatic uninstall.
type Continuation func(ctx context.Context, result *types.PackageResult)

// maxRepeatedNotifications bounds how often the repository may report the
// same package version during one uninstall run before it is treated as a
// notification loop.
const maxRepeatedNotifications = 10

func validateConfig(repo ports.RepositoryPort, cfg types.LifecycleConfig) error {
	if repo == nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("pipeline requires a repository port")
	}
	if strings.TrimSpace(cfg.Paths.InstallRoot) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("install root is required")
	}
	if strings.TrimSpace(cfg.Paths.BackupRoot) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("backup root is required")
	}
	if len(types.SplitPackageNames(cfg.PackageNames)) == 0 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("at least one package name is required")
	}
	return nil
}

// ensureRoots creates the install and backup roots. Failing here is the
// one failure class that aborts a run instead of becoming a result.
func ensureRoots(paths types.Paths) error {
	for _, dir := range []string{paths.InstallRoot, paths.BackupRoot} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg(fmt.Sprintf("failed to create directory %s", dir)).
				WithCause(err)
		}
	}
	return nil
}

func lookupMetadata(store ports.MetadataStorePort, identity types.PackageIdentity) types.PackageMetadata {
	if store == nil {
		return types.PackageMetadata{Identity: identity}
	}
	metadata, ok, err := store.Get(identity)
	if err != nil || !ok {
		return types.PackageMetadata{Identity: identity}
	}
	return metadata
}

func writeLine(out io.Writer, format string, args ...any) {
	if out == nil {
		return
	}
	_, _ = fmt.Fprintf(out, format+"\n", args...)
}

func identityFactory(identity types.PackageIdentity) func() *types.PackageResult {
	return func() *types.PackageResult {
		return types.NewPackageResult(identity)
	}
}

func versionText(version string) string {
	if strings.TrimSpace(version) == "" {
		return "latest"
	}
	return version
}
