package cli

import (
	"fmt"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cperrin88/yumsync/pkg/dedup"
	"github.com/cperrin88/yumsync/pkg/logger"
	"github.com/cperrin88/yumsync/pkg/metrics"
	"github.com/cperrin88/yumsync/pkg/model"
	"github.com/cperrin88/yumsync/pkg/store"
)

// NewDedupCmd creates the dedup command.
func NewDedupCmd() *cobra.Command {
	var (
		global     bool
		types      []string
		partitions int
	)

	cmd := &cobra.Command{
		Use:   "dedup [REPOSITORY...]",
		Short: "Remove duplicate packages from repositories",
		Long: `Find packages that share name, epoch, version, release and arch but
differ in checksum, and keep only the most recently associated one in each
repository. With --global the whole content pool is searched at once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if global && len(args) > 0 {
				return fmt.Errorf("--global cannot be combined with repository names")
			}
			return runDedup(cmd, args, global, types, partitions)
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "Search the whole content pool instead of one repository at a time")
	cmd.Flags().StringSliceVar(&types, "type", nil, "Content types to deduplicate (default rpm, srpm, drpm)")
	cmd.Flags().IntVar(&partitions, "partitions", dedup.DefaultPartitions, "Hash partitions for stores without aggregation")

	return cmd
}

func parseTypes(names []string) ([]model.ContentType, error) {
	if len(names) == 0 {
		return model.PackageContentTypes, nil
	}
	out := make([]model.ContentType, 0, len(names))
	for _, n := range names {
		ct, err := model.ParseContentType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, nil
}

func runDedup(cmd *cobra.Command, names []string, global bool, typeNames []string, partitions int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	types, err := parseTypes(typeNames)
	if err != nil {
		return err
	}

	scopes := []string{""}
	if !global {
		repos, err := selectRepositories(cfg, names)
		if err != nil {
			return err
		}
		scopes = scopes[:0]
		for _, rc := range repos {
			scopes = append(scopes, rc.Name)
		}
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)

	dd := dedup.New(st, dedup.WithPartitions(partitions))
	logger.Debug("Duplicate search mode", logger.Fields{"aggregation": dd.Mode(cmd.Context()).String()})

	rec := metrics.New()
	removed := make(map[string]int)
	groups := 0
	for _, repo := range scopes {
		for _, ct := range types {
			res, err := dd.Sweep(cmd.Context(), store.Scope{Repo: repo, ContentType: ct})
			groups += res.Groups
			for r, keys := range res.Removed {
				removed[r] += len(keys)
				rec.Removed(r, metrics.ReasonDuplicate, len(keys))
			}
			if err != nil {
				writeMetrics(cfg, rec)
				return err
			}
		}
	}
	writeMetrics(cfg, rec)

	type summary struct {
		Groups  int            `json:"groups" yaml:"groups"`
		Removed map[string]int `json:"removed" yaml:"removed"`
	}
	if ok, err := printStructured(os.Stdout, summary{Groups: groups, Removed: removed}); ok || err != nil {
		return err
	}

	fmt.Printf("Duplicate groups: %d\n", groups)
	if len(removed) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, TabWidth, ' ', 0)
	_, _ = fmt.Fprintln(w, "REPOSITORY\tREMOVED")
	repos := make([]string, 0, len(removed))
	for r := range removed {
		repos = append(repos, r)
	}
	slices.Sort(repos)
	for _, r := range repos {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", r, removed[r])
	}
	return w.Flush()
}
