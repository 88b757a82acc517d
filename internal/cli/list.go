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

type listOptions struct {
	Source string
}

func newListCommand(global *globalOptions) *cobra.Command {
	opts := listOptions{}
	cmd := &cobra.Command{
		Use:   "list [filter]",
		Short: "List installed packages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ""
			if len(args) == 1 {
				filter = args[0]
			}
			return runList(cmd.Context(), cmd, *global, opts, filter)
		},
	}
	cmd.Flags().StringVar(&opts.Source, "source", string(types.SourceTypeNative), "Package source (native, pip or apt)")
	return cmd
}

func runList(ctx context.Context, cmd *cobra.Command, global globalOptions, opts listOptions, filter string) error {
	cfg, err := baseConfig(cmd, global)
	if err != nil {
		return err
	}
	result, err := newAppService(cmd, global, cfg).List(ctx, app.ListRequest{
		Config: cfg,
		Source: types.SourceType(strings.ToLower(strings.TrimSpace(opts.Source))),
		Filter: filter,
	})
	if err != nil {
		return err
	}
	reporter := adapters.NewConsoleReporter(cmd.OutOrStdout(), cfg.Output)
	for _, pkg := range result.Packages {
		if cfg.HumanOutput() {
			reporter.Line(humanListLine(pkg))
			continue
		}
		reporter.Line(fmt.Sprintf("%s|%s", pkg.Identity.ID, pkg.Identity.Version))
	}
	if cfg.HumanOutput() {
		reporter.Line(fmt.Sprintf("%d packages installed.", len(result.Packages)))
	}
	return nil
}

func humanListLine(pkg app.ListedPackage) string {
	line := fmt.Sprintf("%s %s", pkg.Identity.ID, pkg.Identity.Version)
	var flags []string
	if pkg.Pinned {
		flags = append(flags, "pinned")
	}
	if pkg.SideBySide {
		flags = append(flags, "side-by-side")
	}
	if len(flags) > 0 {
		line += " [" + strings.Join(flags, ", ") + "]"
	}
	return line
}

func newOutdatedCommand(global *globalOptions) *cobra.Command {
	opts := lifecycleOptions{}
	cmd := &cobra.Command{
		Use:   "outdated",
		Short: "List installed packages with a newer version available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOutdated(cmd.Context(), cmd, *global, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Prerelease, "pre", false, "Include prerelease versions")
	cmd.Flags().BoolVar(&opts.IgnoreDependencies, "ignore-dependencies", false, "Skip dependencies")
	return cmd
}

func runOutdated(ctx context.Context, cmd *cobra.Command, global globalOptions, opts lifecycleOptions) error {
	cfg, err := baseConfig(cmd, global)
	if err != nil {
		return err
	}
	cfg.Prerelease = opts.Prerelease
	cfg.IgnoreDependencies = opts.IgnoreDependencies
	result, err := newAppService(cmd, global, cfg).Outdated(ctx, app.OutdatedRequest{Config: cfg})
	if err != nil {
		return err
	}
	reporter := adapters.NewConsoleReporter(cmd.OutOrStdout(), cfg.Output)
	if cfg.HumanOutput() {
		reporter.Line("Outdated packages")
		reporter.Line(" Output is package name | current version | available version | pinned?")
		reporter.Line("")
	}
	for _, pkg := range result.Packages {
		reporter.Line(fmt.Sprintf("%s|%s|%s|%t", pkg.ID, pkg.Installed, pkg.Available, pkg.Pinned))
	}
	if cfg.HumanOutput() {
		reporter.Line("")
		reporter.Line(fmt.Sprintf("pkgkeeper has determined %d package(s) are outdated.", len(result.Packages)))
	}
	return nil
}
