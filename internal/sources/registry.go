package sources

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"pkgkeeper/internal/ports"
	"pkgkeeper/internal/types"
)

// Registry dispatches verbs to the runner registered for a source type.
type Registry struct {
	runners map[types.SourceType]ports.SourceRunner
}

func NewRegistry(runners ...ports.SourceRunner) *Registry {
	registry := &Registry{runners: map[types.SourceType]ports.SourceRunner{}}
	for _, runner := range runners {
		registry.runners[runner.SourceType()] = runner
	}
	return registry
}

func (r *Registry) Get(sourceType types.SourceType) (ports.SourceRunner, bool) {
	runner, ok := r.runners[sourceType]
	return runner, ok
}

// Types lists the registered source types in sorted order.
func (r *Registry) Types() []types.SourceType {
	out := make([]types.SourceType, 0, len(r.runners))
	for sourceType := range r.runners {
		out = append(out, sourceType)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Run performs a mutating verb through the runner for sourceType. A verb
// the runner does not support is reported as an error result, not as a
// returned error.
func (r *Registry) Run(ctx context.Context, verb types.Verb, sourceType types.SourceType, cfg types.LifecycleConfig, results ports.ResultSink) error {
	runner, ok := r.runners[sourceType]
	if !ok {
		return r.unknown(sourceType)
	}
	if bootstrappable, ok := runner.(ports.Bootstrappable); ok && !cfg.Noop {
		if err := bootstrappable.EnsureSourceApp(ctx, cfg); err != nil {
			result := packageResult(results, string(sourceType), "")
			result.Append(types.SeverityError, fmt.Sprintf("Unable to prepare the %s source: %v", sourceType, err))
			return nil
		}
	}
	switch verb {
	case types.VerbInstall:
		if installable, ok := runner.(ports.Installable); ok {
			return installable.Install(ctx, cfg, results)
		}
	case types.VerbUpgrade:
		if upgradable, ok := runner.(ports.Upgradable); ok {
			return upgradable.Upgrade(ctx, cfg, results)
		}
	case types.VerbUninstall:
		if uninstallable, ok := runner.(ports.Uninstallable); ok {
			return uninstallable.Uninstall(ctx, cfg, results)
		}
	}
	unsupported(results, cfg, verb, sourceType)
	return nil
}

// List returns the packages installed through sourceType.
func (r *Registry) List(ctx context.Context, sourceType types.SourceType, cfg types.LifecycleConfig) ([]types.PackageIdentity, error) {
	runner, ok := r.runners[sourceType]
	if !ok {
		return nil, r.unknown(sourceType)
	}
	listable, ok := runner.(ports.Listable)
	if !ok {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("the %s source does not support %s", sourceType, types.VerbList))
	}
	return listable.List(ctx, cfg)
}

// Search returns the versions sourceType offers for query.
func (r *Registry) Search(ctx context.Context, sourceType types.SourceType, cfg types.LifecycleConfig, query string) ([]types.PackageIdentity, error) {
	runner, ok := r.runners[sourceType]
	if !ok {
		return nil, r.unknown(sourceType)
	}
	searchable, ok := runner.(ports.Searchable)
	if !ok {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("the %s source does not support %s", sourceType, types.VerbSearch))
	}
	return searchable.Search(ctx, cfg, query)
}

func (r *Registry) unknown(sourceType types.SourceType) error {
	known := make([]string, 0, len(r.runners))
	for _, registered := range r.Types() {
		known = append(known, string(registered))
	}
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(fmt.Sprintf("unknown source type %q (available: %s, %s)", sourceType, types.SourceTypeNative, strings.Join(known, ", ")))
}

func unsupported(results ports.ResultSink, cfg types.LifecycleConfig, verb types.Verb, sourceType types.SourceType) {
	names := types.SplitPackageNames(cfg.PackageNames)
	if len(names) == 0 {
		names = []string{string(sourceType)}
	}
	for _, name := range names {
		result := packageResult(results, name, cfg.Version)
		result.Append(types.SeverityError, fmt.Sprintf("The %s source does not support %s. Unable to %s %s.", sourceType, strings.ToLower(string(verb)), verb, name))
	}
}
