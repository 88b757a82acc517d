package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"pkgkeeper/internal/adapters"
	"pkgkeeper/internal/app"
	"pkgkeeper/internal/types"
)

type lifecycleRunner func(app.Service, context.Context, app.LifecycleRequest) (app.LifecycleResult, error)

func newInstallCommand(global *globalOptions) *cobra.Command {
	return newLifecycleCommand(global, "install <package>...", "Install packages and their dependencies", app.Service.Install)
}

func newUpgradeCommand(global *globalOptions) *cobra.Command {
	return newLifecycleCommand(global, "upgrade <package|all>...", "Upgrade installed packages to the latest available version", app.Service.Upgrade)
}

func newUninstallCommand(global *globalOptions) *cobra.Command {
	return newLifecycleCommand(global, "uninstall <package>...", "Uninstall packages", app.Service.Uninstall)
}

func newLifecycleCommand(global *globalOptions, use string, short string, run lifecycleRunner) *cobra.Command {
	opts := lifecycleOptions{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLifecycle(cmd.Context(), cmd, *global, opts, args, run)
		},
	}
	addLifecycleFlags(cmd, &opts)
	return cmd
}

func runLifecycle(ctx context.Context, cmd *cobra.Command, global globalOptions, opts lifecycleOptions, args []string, run lifecycleRunner) error {
	cfg, err := lifecycleConfig(cmd, global, opts, args)
	if err != nil {
		return err
	}
	service := newAppService(cmd, global, cfg)
	result, err := run(service, ctx, app.LifecycleRequest{
		Config: cfg,
		Source: types.SourceType(strings.ToLower(strings.TrimSpace(opts.Source))),
	})
	if err != nil {
		return err
	}
	reporter := adapters.NewConsoleReporter(cmd.OutOrStdout(), cfg.Output)
	if err := reporter.Report(result.Command, result.Results); err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return resultError{code: result.ExitCode}
	}
	return nil
}
