package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pkgkeeper/internal/adapters"
	"pkgkeeper/internal/app"
	"pkgkeeper/internal/types"
)

type pinOptions struct {
	Version string
	Noop    bool
}

func newPinCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pin",
		Short: "Keep installed versions out of upgrade and uninstall",
	}
	cmd.AddCommand(newPinChangeCommand(global, "add", "Pin the installed version of a package", app.Service.PinAdd))
	cmd.AddCommand(newPinChangeCommand(global, "remove", "Remove the pin from a package", app.Service.PinRemove))
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pinned packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPinList(cmd.Context(), cmd, *global)
		},
	})
	return cmd
}

type pinRunner func(app.Service, context.Context, app.PinRequest) (app.PinResult, error)

func newPinChangeCommand(global *globalOptions, use string, short string, run pinRunner) *cobra.Command {
	opts := pinOptions{}
	cmd := &cobra.Command{
		Use:   use + " <package>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPinChange(cmd.Context(), cmd, *global, opts, args[0], use == "add", run)
		},
	}
	cmd.Flags().StringVar(&opts.Version, "version", "", "Installed version to change (defaults to the latest)")
	cmd.Flags().BoolVarP(&opts.Noop, "noop", "n", false, "Report what would change without saving")
	return cmd
}

func runPinChange(ctx context.Context, cmd *cobra.Command, global globalOptions, opts pinOptions, name string, adding bool, run pinRunner) error {
	cfg, err := baseConfig(cmd, global)
	if err != nil {
		return err
	}
	cfg.Noop = opts.Noop
	result, err := run(newAppService(cmd, global, cfg), ctx, app.PinRequest{
		Config:      cfg,
		PackageName: name,
		Version:     opts.Version,
	})
	if err != nil {
		return err
	}
	reporter := adapters.NewConsoleReporter(cmd.OutOrStdout(), cfg.Output)
	if cfg.Output == types.OutputModeMachine {
		reporter.Line(fmt.Sprintf("%s|%s|%t", result.Identity.ID, result.Identity.Version, result.Changed))
		return nil
	}
	switch {
	case !result.Changed:
		reporter.Line(fmt.Sprintf("Nothing to change for %s.", result.Identity))
	case cfg.Noop && adding:
		reporter.Line(fmt.Sprintf("Would have pinned %s.", result.Identity))
	case cfg.Noop:
		reporter.Line(fmt.Sprintf("Would have removed the pin from %s.", result.Identity))
	case adding:
		reporter.Line(fmt.Sprintf("Successfully pinned %s.", result.Identity))
	default:
		reporter.Line(fmt.Sprintf("Successfully removed the pin from %s.", result.Identity))
	}
	return nil
}

func runPinList(ctx context.Context, cmd *cobra.Command, global globalOptions) error {
	cfg, err := baseConfig(cmd, global)
	if err != nil {
		return err
	}
	pinned, err := newAppService(cmd, global, cfg).PinList(ctx)
	if err != nil {
		return err
	}
	reporter := adapters.NewConsoleReporter(cmd.OutOrStdout(), cfg.Output)
	for _, identity := range pinned {
		reporter.Line(fmt.Sprintf("%s|%s", identity.ID, identity.Version))
	}
	if cfg.HumanOutput() {
		reporter.Line(fmt.Sprintf("%d packages pinned.", len(pinned)))
	}
	return nil
}
