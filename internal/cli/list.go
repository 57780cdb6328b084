package cli

import (
	"cmp"
	"fmt"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cperrin88/yumsync/pkg/model"
	"github.com/cperrin88/yumsync/pkg/rpmver"
	"github.com/cperrin88/yumsync/pkg/store"
)

// NewListCmd creates the list command.
func NewListCmd() *cobra.Command {
	var (
		typeName   string
		nameFilter string
	)

	cmd := &cobra.Command{
		Use:   "list REPOSITORY",
		Short: "List the units of a repository",
		Long: `List the units associated with a repository, newest version first per
package. Use --name to filter packages by name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, args[0], typeName, nameFilter)
		},
	}

	cmd.Flags().StringVarP(&typeName, "type", "t", string(model.ContentTypeRPM), "Content type to list")
	cmd.Flags().StringVar(&nameFilter, "name", "", "Filter packages by name (partial match)")

	return cmd
}

func runList(cmd *cobra.Command, repo, typeName, nameFilter string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := cfg.GetRepository(repo); err != nil {
		return err
	}
	ct, err := model.ParseContentType(typeName)
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)

	keys, err := store.Collect(st.Keys(cmd.Context(), store.Scope{Repo: repo, ContentType: ct}))
	if err != nil {
		return err
	}
	filtered := keys[:0]
	for _, k := range keys {
		label := k.Name
		if !ct.IsPackage() {
			label = k.ID
		} else if ct.IsDelta() {
			label = k.Filename
		}
		if nameFilter == "" || strings.Contains(label, nameFilter) {
			filtered = append(filtered, k)
		}
	}
	slices.SortStableFunc(filtered, func(a, b model.UnitKey) int {
		return cmp.Or(
			cmp.Compare(a.Name+a.Filename+a.ID, b.Name+b.Filename+b.ID),
			rpmver.Compare(b.EVR(), a.EVR()),
			cmp.Compare(a.Arch, b.Arch),
		)
	})

	if ok, err := printStructured(os.Stdout, filtered); ok || err != nil {
		return err
	}
	if len(filtered) == 0 {
		fmt.Printf("No %s units in %s\n", ct, repo)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, TabWidth, ' ', 0)
	_, _ = fmt.Fprintln(w, "UNIT\tCHECKSUM")
	for _, k := range filtered {
		sum := k.Checksum
		if len(sum) > checksumDisplayLength {
			sum = sum[:checksumDisplayLength]
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", k.NEVRA(), sum)
	}
	return w.Flush()
}
