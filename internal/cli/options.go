package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pkgkeeper/internal/adapters"
	"pkgkeeper/internal/app"
	"pkgkeeper/internal/types"
)

// globalOptions are shared by every command and bound to the config file.
type globalOptions struct {
	InstallRoot      string
	BackupRoot       string
	CacheLocation    string
	MetadataRoot     string
	Sources          []string
	ConfigExtensions []string
	Output           string
	FeedUser         string
	FeedAPIKey       string
	FeedTimeoutSec   int
	FeedRetries      int
	FeedRetryDelayMs int
}

func addGlobalFlags(cmd *cobra.Command, opts *globalOptions) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.InstallRoot, "install-root", "", "Install root (defaults to ~/.pkgkeeper/lib)")
	flags.StringVar(&opts.BackupRoot, "backup-root", "", "Backup root (defaults to ~/.pkgkeeper/lib-bkp)")
	flags.StringVar(&opts.CacheLocation, "cache-location", "", "Cache directory (defaults to ~/.pkgkeeper/cache)")
	flags.StringVar(&opts.MetadataRoot, "metadata-root", "", "Package metadata directory (defaults to ~/.pkgkeeper/.metadata)")
	flags.StringSliceVarP(&opts.Sources, "sources", "s", nil, "Package feeds: directories or http(s) endpoints")
	flags.StringSliceVar(&opts.ConfigExtensions, "config-extensions", types.DefaultConfigExtensions, "File extensions kept across upgrades")
	flags.StringVar(&opts.Output, "output", string(types.OutputModeHuman), "Output mode (human or machine)")
	flags.StringVar(&opts.FeedUser, "feed-user", "", "HTTP feed username for basic auth (defaults to api)")
	flags.StringVar(&opts.FeedAPIKey, "feed-api-key", "", "HTTP feed API key or password for basic auth")
	flags.IntVar(&opts.FeedTimeoutSec, "feed-timeout", 60, "HTTP feed timeout in seconds (0 = default)")
	flags.IntVar(&opts.FeedRetries, "feed-retries", 3, "HTTP feed retries (0 = default)")
	flags.IntVar(&opts.FeedRetryDelayMs, "feed-retry-delay-ms", 200, "HTTP feed retry base delay in ms (0 = default)")

	_ = viper.BindPFlag("install_root", flags.Lookup("install-root"))
	_ = viper.BindPFlag("backup_root", flags.Lookup("backup-root"))
	_ = viper.BindPFlag("cache_location", flags.Lookup("cache-location"))
	_ = viper.BindPFlag("metadata_root", flags.Lookup("metadata-root"))
	_ = viper.BindPFlag("sources", flags.Lookup("sources"))
	_ = viper.BindPFlag("config_extensions", flags.Lookup("config-extensions"))
	_ = viper.BindPFlag("output", flags.Lookup("output"))
	_ = viper.BindPFlag("feed_user", flags.Lookup("feed-user"))
	_ = viper.BindPFlag("feed_api_key", flags.Lookup("feed-api-key"))
	_ = viper.BindPFlag("feed_timeout_sec", flags.Lookup("feed-timeout"))
	_ = viper.BindPFlag("feed_retries", flags.Lookup("feed-retries"))
	_ = viper.BindPFlag("feed_retry_delay_ms", flags.Lookup("feed-retry-delay-ms"))
}

// lifecycleOptions back the install, upgrade and uninstall flags.
type lifecycleOptions struct {
	Version                string
	Source                 string
	Force                  bool
	ForceDependencies      bool
	IgnoreDependencies     bool
	Prerelease             bool
	AllVersions            bool
	AllowMultipleVersions  bool
	SideBySide             bool
	FailOnUnfound          bool
	Noop                   bool
	Interactive            bool
	InstallArguments       string
	OverrideArguments      bool
	AutoUninstaller        bool
	AutoUninstallerDelayMs int
	CommandTimeoutSec      int
	PromptForConfirmation  bool
	ConfirmTimeoutSec      int
}

func addLifecycleFlags(cmd *cobra.Command, opts *lifecycleOptions) {
	flags := cmd.Flags()
	flags.StringVar(&opts.Version, "version", "", "Package version (defaults to the latest)")
	flags.StringVar(&opts.Source, "source", string(types.SourceTypeNative), "Package source (native, pip or apt)")
	flags.BoolVarP(&opts.Force, "force", "f", false, "Reinstall or remove even when checks would skip the package")
	flags.BoolVar(&opts.ForceDependencies, "force-dependencies", false, "Apply the command to dependencies too")
	flags.BoolVar(&opts.IgnoreDependencies, "ignore-dependencies", false, "Skip dependencies")
	flags.BoolVar(&opts.Prerelease, "pre", false, "Include prerelease versions")
	flags.BoolVar(&opts.AllVersions, "all-versions", false, "Uninstall every installed version")
	flags.BoolVarP(&opts.AllowMultipleVersions, "allow-multiple-versions", "m", false, "Allow several versions of a package side by side")
	flags.BoolVar(&opts.SideBySide, "side-by-side", false, "Install into a versioned directory")
	flags.BoolVar(&opts.FailOnUnfound, "fail-on-unfound", false, "Fail when a package is missing from every source")
	flags.BoolVarP(&opts.Noop, "noop", "n", false, "Report what would happen without changing anything")
	flags.BoolVarP(&opts.Interactive, "interactive", "i", false, "Ask which version to uninstall")
	flags.StringVar(&opts.InstallArguments, "install-arguments", "", "Extra arguments for native installers")
	flags.BoolVar(&opts.OverrideArguments, "override-arguments", false, "Replace the default installer arguments")
	flags.BoolVar(&opts.AutoUninstaller, "auto-uninstaller", true, "Run the uninstaller recorded at install time")
	flags.IntVar(&opts.AutoUninstallerDelayMs, "auto-uninstaller-delay-ms", int(types.DefaultAutoUninstallerDelay/time.Millisecond), "Delay before the first automatic uninstaller runs")
	flags.IntVar(&opts.CommandTimeoutSec, "command-timeout", types.DefaultCommandExecutionTimeoutSeconds, "Timeout in seconds for external commands (0 = none)")
	flags.BoolVar(&opts.PromptForConfirmation, "prompt", false, "Prompt before running uninstallers that cannot run silently")
	flags.IntVar(&opts.ConfirmTimeoutSec, "confirm-timeout", 0, "Seconds before a prompt takes its default (0 = wait, only with --prompt)")

	_ = viper.BindPFlag("auto_uninstaller", flags.Lookup("auto-uninstaller"))
	_ = viper.BindPFlag("auto_uninstaller_delay_ms", flags.Lookup("auto-uninstaller-delay-ms"))
	_ = viper.BindPFlag("command_execution_timeout_seconds", flags.Lookup("command-timeout"))
	_ = viper.BindPFlag("prompt_for_confirmation", flags.Lookup("prompt"))
	_ = viper.BindPFlag("confirm_timeout_seconds", flags.Lookup("confirm-timeout"))
}

// lifecycleConfig merges flags, config file and environment into the
// pipeline configuration. Paths are filled by DefaultPaths.
func lifecycleConfig(cmd *cobra.Command, global globalOptions, opts lifecycleOptions, args []string) (types.LifecycleConfig, error) {
	paths, err := resolvePaths(cmd, global)
	if err != nil {
		return types.LifecycleConfig{}, err
	}
	return types.LifecycleConfig{
		PackageNames:          strings.Join(args, ";"),
		Version:               strings.TrimSpace(opts.Version),
		Sources:               resolveStrings(cmd, global.Sources, "sources", "sources"),
		Force:                 opts.Force,
		ForceDependencies:     opts.ForceDependencies,
		IgnoreDependencies:    opts.IgnoreDependencies,
		Prerelease:            opts.Prerelease,
		AllVersions:           opts.AllVersions,
		AllowMultipleVersions: opts.AllowMultipleVersions,
		SideBySide:            opts.SideBySide,
		FailOnUnfound:         opts.FailOnUnfound,
		Noop:                  opts.Noop,
		Interactive:           opts.Interactive,
		Output:                resolveOutput(cmd, global),
		InstallArguments:      opts.InstallArguments,
		OverrideArguments:     opts.OverrideArguments,
		Paths:                 paths,
		Features: types.Features{
			AutoUninstaller: resolveBool(cmd, opts.AutoUninstaller, "auto_uninstaller", "auto-uninstaller"),
		},
		ConfigExtensions:               resolveStrings(cmd, global.ConfigExtensions, "config_extensions", "config-extensions"),
		AutoUninstallerDelay:           time.Duration(resolveInt(cmd, opts.AutoUninstallerDelayMs, "auto_uninstaller_delay_ms", "auto-uninstaller-delay-ms")) * time.Millisecond,
		CommandExecutionTimeoutSeconds: resolveInt(cmd, opts.CommandTimeoutSec, "command_execution_timeout_seconds", "command-timeout"),
		PromptForConfirmation:          resolveBool(cmd, opts.PromptForConfirmation, "prompt_for_confirmation", "prompt"),
		ConfirmTimeoutSeconds:          resolveInt(cmd, opts.ConfirmTimeoutSec, "confirm_timeout_seconds", "confirm-timeout"),
	}, nil
}

// baseConfig is the configuration for commands without lifecycle flags.
func baseConfig(cmd *cobra.Command, global globalOptions) (types.LifecycleConfig, error) {
	paths, err := resolvePaths(cmd, global)
	if err != nil {
		return types.LifecycleConfig{}, err
	}
	return types.LifecycleConfig{
		Sources:                        resolveStrings(cmd, global.Sources, "sources", "sources"),
		Output:                         resolveOutput(cmd, global),
		Paths:                          paths,
		ConfigExtensions:               resolveStrings(cmd, global.ConfigExtensions, "config_extensions", "config-extensions"),
		CommandExecutionTimeoutSeconds: types.DefaultCommandExecutionTimeoutSeconds,
	}, nil
}

func resolvePaths(cmd *cobra.Command, global globalOptions) (types.Paths, error) {
	return app.DefaultPaths(types.Paths{
		InstallRoot:   resolveString(cmd, global.InstallRoot, "install_root", "install-root"),
		BackupRoot:    resolveString(cmd, global.BackupRoot, "backup_root", "backup-root"),
		CacheLocation: resolveString(cmd, global.CacheLocation, "cache_location", "cache-location"),
		MetadataRoot:  resolveString(cmd, global.MetadataRoot, "metadata_root", "metadata-root"),
	})
}

func resolveOutput(cmd *cobra.Command, global globalOptions) types.OutputMode {
	if strings.EqualFold(resolveString(cmd, global.Output, "output", "output"), string(types.OutputModeMachine)) {
		return types.OutputModeMachine
	}
	return types.OutputModeHuman
}

func newAppService(cmd *cobra.Command, global globalOptions, cfg types.LifecycleConfig) app.Service {
	return app.NewService(cfg.Paths, cfg.Sources, adapters.HTTPFeedOptions{
		User:           resolveString(cmd, global.FeedUser, "feed_user", "feed-user"),
		APIKey:         resolveString(cmd, global.FeedAPIKey, "feed_api_key", "feed-api-key"),
		TimeoutSeconds: resolveInt(cmd, global.FeedTimeoutSec, "feed_timeout_sec", "feed-timeout"),
		Retries:        resolveInt(cmd, global.FeedRetries, "feed_retries", "feed-retries"),
		RetryDelayMs:   resolveInt(cmd, global.FeedRetryDelayMs, "feed_retry_delay_ms", "feed-retry-delay-ms"),
	}, cmd.OutOrStdout())
}

func resolveString(cmd *cobra.Command, value string, key string, flagName string) string {
	if cmd == nil {
		if value != "" {
			return value
		}
		return viper.GetString(key)
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetString(key)
}

func resolveStrings(cmd *cobra.Command, values []string, key string, flagName string) []string {
	if cmd == nil {
		if len(values) > 0 {
			return values
		}
		return viper.GetStringSlice(key)
	}
	if flagChanged(cmd, flagName) {
		return values
	}
	return viper.GetStringSlice(key)
}

func resolveBool(cmd *cobra.Command, value bool, key string, flagName string) bool {
	if cmd == nil {
		return value
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetBool(key)
}

func resolveInt(cmd *cobra.Command, value int, key string, flagName string) int {
	if cmd == nil {
		return value
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetInt(key)
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil || strings.TrimSpace(name) == "" {
		return false
	}
	if flag := cmd.Flags().Lookup(name); flag != nil {
		return flag.Changed
	}
	if flag := cmd.PersistentFlags().Lookup(name); flag != nil {
		return flag.Changed
	}
	return false
}
