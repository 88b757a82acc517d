package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pkgkeeper/internal/adapters"
	"pkgkeeper/internal/app"
	"pkgkeeper/internal/types"
)

type searchOptions struct {
	Source     string
	Version    string
	Prerelease bool
}

func newSearchCommand(global *globalOptions) *cobra.Command {
	opts := searchOptions{}
	cmd := &cobra.Command{
		Use:   "search <package>",
		Short: "Show the versions a source offers for a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, *global, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.Source, "source", string(types.SourceTypeNative), "Package source (native, pip or apt)")
	cmd.Flags().StringVar(&opts.Version, "version", "", "Exact version to look for (native source only)")
	cmd.Flags().BoolVar(&opts.Prerelease, "pre", false, "Include prerelease versions")
	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, global globalOptions, opts searchOptions, query string) error {
	cfg, err := baseConfig(cmd, global)
	if err != nil {
		return err
	}
	cfg.Version = strings.TrimSpace(opts.Version)
	cfg.Prerelease = opts.Prerelease
	result, err := newAppService(cmd, global, cfg).Search(ctx, app.SearchRequest{
		Config: cfg,
		Source: types.SourceType(strings.ToLower(strings.TrimSpace(opts.Source))),
		Query:  query,
	})
	if err != nil {
		return err
	}
	reporter := adapters.NewConsoleReporter(cmd.OutOrStdout(), cfg.Output)
	for _, identity := range result.Packages {
		if cfg.HumanOutput() {
			reporter.Line(fmt.Sprintf("%s %s", identity.ID, identity.Version))
			continue
		}
		reporter.Line(fmt.Sprintf("%s|%s", identity.ID, identity.Version))
	}
	if cfg.HumanOutput() {
		reporter.Line(fmt.Sprintf("%d versions found.", len(result.Packages)))
	}
	return nil
}
