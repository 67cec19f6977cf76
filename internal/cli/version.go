package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const modulePath = "github.com/mesh-intelligence/peermention"

// Version is stamped at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the peermention version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]string{"version": Version, "module": modulePath})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "peermention %s\nmodule: %s\n", Version, modulePath)
			return nil
		},
	}
}
