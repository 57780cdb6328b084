package cli

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cperrin88/yumsync/pkg/config"
	"github.com/cperrin88/yumsync/pkg/errors"
	"github.com/cperrin88/yumsync/pkg/logger"
)

// NewRepoCmd creates the repo command with subcommands.
func NewRepoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage repositories",
		Long:  "Add, remove and list mirrored repositories",
	}

	cmd.AddCommand(
		newRepoAddCmd(),
		newRepoRemoveCmd(),
		newRepoListCmd(),
	)

	return cmd
}

func newRepoAddCmd() *cobra.Command {
	var (
		rc     config.RepositoryConfig
		retain int
		skip   []string
	)

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a repository",
		Long:  "Add a repository mirrored from a feed directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc.Name = args[0]
			if cmd.Flags().Changed("retain-old-count") {
				rc.RetainOldCount = &retain
			}
			types, err := parseTypes(skip)
			if err != nil {
				return err
			}
			if len(skip) > 0 {
				rc.Skip = types
			}
			return runRepoAdd(&rc)
		},
	}

	cmd.Flags().StringVar(&rc.FeedDir, "feed-dir", "", "Directory holding the upstream feed files")
	cmd.Flags().StringVar(&rc.BaseURL, "base-url", "", "URL package locations are relative to")
	cmd.Flags().IntVar(&retain, "retain-old-count", 0, "Older versions to keep per package (default keep all)")
	cmd.Flags().BoolVar(&rc.RemoveMissing, "remove-missing", false, "Remove content no longer listed upstream")
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "Content types not to sync")
	_ = cmd.MarkFlagRequired("feed-dir")

	return cmd
}

func newRepoRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove NAME",
		Short: "Remove a repository",
		Long:  "Remove a repository from the configuration. Its units stay in the store.",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runRepoRemove(args[0])
		},
	}

	return cmd
}

func newRepoListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured repositories",
		Long:  "List all configured repositories and their sync policy",
		RunE:  runRepoList,
	}

	return cmd
}

func runRepoAdd(rc *config.RepositoryConfig) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.AddRepository(rc); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.SaveConfig(getConfigPath()); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	logger.Success("Repository added", logger.Fields{"repo": rc.Name, "feed_dir": rc.FeedDir})
	return nil
}

func runRepoRemove(name string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.RemoveRepository(name) {
		return errors.RepositoryNotFound(name)
	}
	if err := cfg.SaveConfig(getConfigPath()); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	logger.Success("Repository removed", logger.Fields{"repo": name})
	return nil
}

func runRepoList(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if ok, err := printStructured(os.Stdout, redacted(cfg.Repositories)); ok || err != nil {
		return err
	}
	if len(cfg.Repositories) == 0 {
		fmt.Println("No repositories configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, TabWidth, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tFEED\tBASE URL\tRETAIN\tREMOVE MISSING")
	for _, rc := range cfg.Repositories {
		retain := config.RetainAll
		if rc.RetainOldCount != nil {
			retain = strconv.Itoa(*rc.RetainOldCount)
		}
		baseURL := rc.BaseURL
		if baseURL == "" {
			baseURL = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", rc.Name, rc.FeedDir, baseURL, retain, rc.RemoveMissing)
	}
	return w.Flush()
}

// redacted copies repos without their credentials.
func redacted(repos []*config.RepositoryConfig) []config.RepositoryConfig {
	out := make([]config.RepositoryConfig, 0, len(repos))
	for _, rc := range repos {
		c := *rc
		c.Auth = nil
		out = append(out, c)
	}
	return out
}
