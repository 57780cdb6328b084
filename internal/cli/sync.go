package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cperrin88/yumsync/pkg/config"
	"github.com/cperrin88/yumsync/pkg/logger"
	"github.com/cperrin88/yumsync/pkg/metrics"
	"github.com/cperrin88/yumsync/pkg/orchestrator"
)

// NewSyncCmd creates the sync command.
func NewSyncCmd() *cobra.Command {
	var (
		dryRun      bool
		concurrency int
		poolDir     string
	)

	cmd := &cobra.Command{
		Use:   "sync [REPOSITORY...]",
		Short: "Synchronize repositories with their feeds",
		Long: `Synchronize the named repositories, or every configured repository,
with their upstream feeds: fetch new packages, apply the retention policy,
remove content that left upstream and resolve duplicates.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, args, dryRun, concurrency, poolDir)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan and report without changing anything")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Number of parallel downloads (defaults to config)")
	cmd.Flags().StringVar(&poolDir, "pool-dir", "", "Package pool directory (defaults to config)")

	return cmd
}

func runSync(cmd *cobra.Command, names []string, dryRun bool, concurrency int, poolDir string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repos, err := selectRepositories(cfg, names)
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		logger.Info("No repositories configured")
		return nil
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)

	if concurrency <= 0 {
		concurrency = cfg.Settings.MaxConcurrent
	}
	if poolDir == "" {
		poolDir = cfg.Settings.PoolDir
	}

	rec := metrics.New()
	orch := &orchestrator.Orchestrator{
		Store:   st,
		DL:      loadDownloadManager(cfg),
		Metrics: rec,
		Hooks: orchestrator.Hooks{OnEvent: func(e orchestrator.Event) {
			logger.Debug("Sync progress", logger.Fields{"phase": e.Phase, "repo": e.ID, "msg": e.Msg})
		}},
	}
	opts := orchestrator.Options{PoolDir: poolDir, Concurrency: concurrency, DryRun: dryRun}

	ctx := cmd.Context()
	reports := make([]orchestrator.Report, 0, len(repos))
	failed := 0
	for _, rc := range repos {
		if ctx.Err() != nil {
			break
		}
		rep, err := syncOne(cmd, orch, rc, opts)
		if err != nil {
			failed++
			logger.Error("Sync failed", logger.Fields{"repo": rc.Name, "error": err})
		}
		reports = append(reports, rep)
	}

	if !dryRun {
		writeMetrics(cfg, rec)
	}
	if err := printReports(reports); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d repositories failed to sync", failed, len(repos))
	}
	return nil
}

// syncOne runs a single repository with its own hook scripts.
func syncOne(cmd *cobra.Command, orch *orchestrator.Orchestrator, rc *config.RepositoryConfig, opts orchestrator.Options) (orchestrator.Report, error) {
	failed := orchestrator.Report{Repo: rc.Name, State: orchestrator.StateFailed}
	repo, err := loadRepository(rc)
	if err != nil {
		return failed, err
	}
	scripts, err := loadHookManager(rc)
	if err != nil {
		return failed, err
	}

	o := *orch
	o.Scripts = scripts
	return o.Sync(cmd.Context(), repo, opts)
}

func printReports(reports []orchestrator.Report) error {
	if ok, err := printStructured(os.Stdout, reports); ok || err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, TabWidth, ' ', 0)
	_, _ = fmt.Fprintln(w, "REPOSITORY\tSTATE\tPLANNED\tPRESENT\tDOWNLOADED\tASSOCIATED\tREMOVED\tTOOK")
	for _, r := range reports {
		removed := 0
		for _, n := range r.Removed {
			removed += n
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Repo, r.State, r.Planned, r.Present, r.Downloaded, r.Associated, removed, r.Duration.Round(time.Millisecond))
	}
	return w.Flush()
}
