package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cperrin88/yumsync/pkg/depsolve"
	"github.com/cperrin88/yumsync/pkg/model"
)

// NewResolveCmd creates the resolve command.
func NewResolveCmd() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "resolve REPOSITORY REQUIREMENT...",
		Short: "Resolve requirements against a repository",
		Long: `Find the packages of a repository that satisfy the given requirements,
for example "firefox" or "xulrunner >= 23.0", together with the packages
they depend on. With --recursive the whole dependency closure is listed.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, args[0], args[1:], recursive)
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Follow dependencies transitively")

	return cmd
}

type resolveResult struct {
	Matched      []string `json:"matched" yaml:"matched"`
	Dependencies []string `json:"dependencies" yaml:"dependencies"`
	Unmet        []string `json:"unmet,omitempty" yaml:"unmet,omitempty"`
}

func runResolve(cmd *cobra.Command, repoName string, args []string, recursive bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := cfg.GetRepository(repoName); err != nil {
		return err
	}

	reqs := make([]model.Requirement, 0, len(args))
	names := make([]string, 0, len(args))
	for _, a := range args {
		req, err := model.ParseRequirement(a)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
		names = append(names, req.Name)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)

	ctx := cmd.Context()
	query := depsolve.RepoQuery(st, repoName)
	r, err := depsolve.NewResolver(query(ctx, names))
	if err != nil {
		return err
	}

	var res resolveResult
	for _, req := range reqs {
		if len(r.Match([]model.Requirement{req})) == 0 {
			res.Unmet = append(res.Unmet, req.String())
		}
	}
	seeds := r.Match(reqs)

	var deps []model.Package
	if recursive {
		deps, err = depsolve.Closure(ctx, seeds, query)
	} else {
		deps, err = depsolve.FindDependentRPMs(ctx, seeds, query)
	}
	if err != nil {
		return err
	}

	for _, p := range seeds {
		res.Matched = append(res.Matched, p.Key.String())
	}
	for _, p := range deps {
		res.Dependencies = append(res.Dependencies, p.Key.String())
	}

	if ok, err := printStructured(os.Stdout, res); ok || err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, TabWidth, ' ', 0)
	_, _ = fmt.Fprintln(w, "ROLE\tPACKAGE")
	for _, k := range res.Matched {
		_, _ = fmt.Fprintf(w, "match\t%s\n", k)
	}
	for _, k := range res.Dependencies {
		_, _ = fmt.Fprintf(w, "requires\t%s\n", k)
	}
	for _, k := range res.Unmet {
		_, _ = fmt.Fprintf(w, "unmet\t%s\n", k)
	}
	return w.Flush()
}
