package cli

import (
	"fmt"

	"github.com/hashicorp/go-version"
	"github.com/spf13/cobra"

	"github.com/cperrin88/yumsync/pkg/feed"
)

// Build information, overridden through -ldflags.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display version information for yumsync and the feed formats it reads",
		RunE:  runVersion,
	}

	return cmd
}

func runVersion(*cobra.Command, []string) error {
	v, err := version.NewVersion(Version)
	if err != nil {
		return fmt.Errorf("invalid build version %q: %w", Version, err)
	}
	fmt.Printf("yumsync version %s\n", v)
	fmt.Printf("Build date: %s\n", BuildDate)
	fmt.Printf("Git commit: %s\n", GitCommit)
	fmt.Printf("Feed formats: %s\n", feed.SupportedFormats)
	return nil
}
