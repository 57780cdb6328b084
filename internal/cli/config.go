package cli

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cperrin88/yumsync/pkg/config"
	"github.com/cperrin88/yumsync/pkg/errors"
	"github.com/cperrin88/yumsync/pkg/logger"
)

// NewConfigCmd creates the config command with subcommands.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `View and modify yumsync settings and per-repository sync policy.

Settings are addressed by name (store, pool_dir, max_concurrent, ...).
Repository policy is addressed as REPOSITORY.FIELD, where FIELD is one of
feed_dir, base_url, retain_old_count ("all" keeps every version),
remove_missing or skip (comma separated content types).`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigSetCmd(),
		newConfigGetCmd(),
		newConfigInitCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show settings and repository policies",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runConfigShow()
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "set KEY VALUE",
		Short:   "Set a setting or repository policy value",
		Example: "  yumsync config set max_concurrent 8\n  yumsync config set fedora.retain_old_count 2\n  yumsync config set fedora.skip drpm,erratum",
		Args:    cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runConfigSet(args[0], args[1])
		},
		ValidArgsFunction: completeConfigKeys,
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get KEY",
		Short:   "Get a setting or repository policy value",
		Example: "  yumsync config get fedora.retain_old_count",
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runConfigGet(args[0])
		},
		ValidArgsFunction: completeConfigKeys,
	}
}

func newConfigInitCmd() *cobra.Command {
	var (
		force   bool
		store   string
		poolDir string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runConfigInit(force, store, poolDir)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")
	cmd.Flags().StringVar(&store, "store", "", "Store DSN, sqlite:PATH or json:PATH")
	cmd.Flags().StringVar(&poolDir, "pool-dir", "", "Directory downloaded packages are kept in")

	return cmd
}

// completeConfigKeys offers the keys the loaded configuration accepts.
func completeConfigKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return cfg.Keys(), cobra.ShellCompDirectiveNoFileComp
}

type configView struct {
	Settings     map[string]string         `json:"settings" yaml:"settings"`
	Repositories []config.RepositoryConfig `json:"repositories" yaml:"repositories"`
}

func runConfigShow() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	settings := cfg.ToMap()
	view := configView{Settings: settings, Repositories: redacted(cfg.Repositories)}
	if ok, err := printStructured(os.Stdout, view); ok || err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, TabWidth, ' ', 0)
	_, _ = fmt.Fprintln(w, "SETTING\tVALUE")
	for _, key := range slices.Sorted(maps.Keys(settings)) {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", key, orDash(settings[key]))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(cfg.Repositories) == 0 {
		fmt.Println("\nNo repositories configured")
		return nil
	}

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, TabWidth, ' ', 0)
	_, _ = fmt.Fprintln(w, "REPOSITORY\tRETAIN\tREMOVE MISSING\tSKIP\tAUTH\tHOOKS")
	for _, rc := range cfg.Repositories {
		retain := config.RetainAll
		if rc.RetainOldCount != nil {
			retain = strconv.Itoa(*rc.RetainOldCount)
		}
		var hooks []string
		if rc.Hooks.PreSync != "" {
			hooks = append(hooks, "pre_sync")
		}
		if rc.Hooks.PostSync != "" {
			hooks = append(hooks, "post_sync")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%t\t%s\n",
			rc.Name, retain, rc.RemoveMissing, orDash(config.FormatContentTypes(rc.Skip)),
			rc.Authenticator() != nil, orDash(strings.Join(hooks, ",")))
	}
	return w.Flush()
}

func runConfigSet(key, value string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := cfg.SetValue(key, value); err != nil {
		return fmt.Errorf("cannot set %s: %w", key, err)
	}
	if err := cfg.SaveConfig(getConfigPath()); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	logger.Success("Configuration updated", logger.Fields{"key": key, "value": value})
	return nil
}

func runConfigGet(key string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	value, err := cfg.GetValue(key)
	if err != nil {
		return err
	}

	fmt.Println(value)
	return nil
}

func runConfigInit(force bool, store, poolDir string) error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%w: %s (use --force to overwrite)", errors.ErrConfigFileExists, path)
	}

	cfg := config.DefaultConfig()
	if store != "" {
		if _, _, err := config.ParseStoreDSN(store); err != nil {
			return err
		}
		cfg.Settings.Store = store
	}
	if poolDir != "" {
		cfg.Settings.PoolDir = poolDir
	}
	if err := cfg.SaveConfig(path); err != nil {
		return fmt.Errorf("failed to save default configuration: %w", err)
	}

	logger.Success("Configuration file created", logger.Fields{"path": path, "store": cfg.Settings.Store})
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
