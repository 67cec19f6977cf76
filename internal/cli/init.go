package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/peermention/internal/config"
	"github.com/mesh-intelligence/peermention/internal/paths"
	"github.com/mesh-intelligence/peermention/internal/urlutil"
	"github.com/mesh-intelligence/peermention/pkg/types"
)

func newInitCmd() *cobra.Command {
	var (
		endpoint string
		relayURL string
		backend  string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize peermention configuration and storage",
		Long: "Create the configuration and data directories, write config.yaml and lists.json\n" +
			"when missing, then initialize the drive store.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, err := paths.ResolveConfigDir(flags.configDir)
			if err != nil {
				return exitError(exitSysError, "resolve config dir: %w", err)
			}
			if endpoint != "" {
				if _, err := urlutil.Origin(endpoint); err != nil {
					return exitError(exitUserError, "endpoint: %w", err)
				}
			}

			f := config.DefaultFile()
			f.Endpoint = endpoint
			f.RelayURL = relayURL
			f.DataDir = flags.dataDir
			if backend != "" {
				f.Backend = backend
			}
			written, err := config.WriteIfMissing(configDir, f)
			if err != nil {
				return exitError(exitSysError, "write config: %w", err)
			}
			if err := writeListsIfMissing(configDir); err != nil {
				return exitError(exitSysError, "write lists: %w", err)
			}

			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.close()
			store, err := e.openStore()
			if err != nil {
				return err
			}
			if err := store.Detach(); err != nil {
				return exitError(exitSysError, "finalize storage: %w", err)
			}

			out := cmd.OutOrStdout()
			if !written {
				fmt.Fprintf(out, "Keeping existing %s\n", paths.ConfigFile(configDir))
			}
			fmt.Fprintf(out, "peermention initialized (config: %s, data: %s)\n", configDir, e.dataDir)
			if !(types.Config{Backend: e.rt.Backend}).Persistent() {
				fmt.Fprintf(out, "backend %s keeps no drives between runs\n", e.rt.Backend)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "this node's Webmention endpoint URL")
	cmd.Flags().StringVar(&relayURL, "relay", "", "relay URL peers meet on")
	cmd.Flags().StringVar(&backend, "backend", "", "drive store backend (sqlite or memory)")
	return cmd
}

// writeListsIfMissing saves the default lists record unless one exists.
func writeListsIfMissing(configDir string) error {
	if _, err := os.Stat(paths.ListsFile(configDir)); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	lists, err := config.LoadLists(configDir)
	if err != nil {
		return err
	}
	return config.SaveLists(configDir, lists)
}
