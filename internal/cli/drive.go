package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/peermention/internal/drive"
	"github.com/mesh-intelligence/peermention/internal/urlutil"
)

func newDriveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drive",
		Short: "Manage the local per-host drives",
	}
	cmd.AddCommand(newDriveClaimCmd(), newDrivePutCmd(), newDriveLsCmd())
	return cmd
}

// withStore runs fn against the attached drive store.
func withStore(fn func(store drive.Store) error) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.close()
	store, err := e.openStore()
	if err != nil {
		return err
	}
	defer store.Detach()
	return fn(store)
}

func newDriveClaimCmd() *cobra.Command {
	var readOnly bool
	cmd := &cobra.Command{
		Use:   "claim <host>",
		Short: "Take write authority over the drive for host",
		Long: "Claim creates the drive for host if needed and marks it writable, so mentions\n" +
			"of its pages are recorded here. --read-only gives the authority up.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store drive.Store) error {
				if err := store.Create(cmd.Context(), args[0], !readOnly); err != nil {
					return exitError(exitUserError, "claim %s: %w", args[0], err)
				}
				state := "writable"
				if readOnly {
					state = "read-only"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], state)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "mark the drive read-only instead")
	return cmd
}

func newDrivePutCmd() *cobra.Command {
	var metadata map[string]string
	cmd := &cobra.Command{
		Use:   "put <url> <file>",
		Short: "Store a file in the drive of the URL's host",
		Long: "Put stores the contents of file (\"-\" for stdin) at the URL's path. Metadata\n" +
			"pairs travel with the file; webmention=<endpoint> designates the page's endpoint.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, p, err := urlutil.HostPath(args[0])
			if err != nil {
				return exitError(exitUserError, "%w", err)
			}
			content, err := readInput(cmd, args[1])
			if err != nil {
				return exitError(exitUserError, "read %s: %w", args[1], err)
			}
			return withStore(func(store drive.Store) error {
				if err := store.Put(cmd.Context(), host, p, content, metadata); err != nil {
					return exitError(exitUserError, "put %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s%s (%d bytes)\n", host, p, len(content))
				return nil
			})
		},
	}
	cmd.Flags().StringToStringVar(&metadata, "meta", nil, "metadata key=value pairs")
	return cmd
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}

// fileView is the JSON output of one drive file.
type fileView struct {
	Path      string            `json:"path"`
	Size      int64             `json:"size"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func newDriveLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [host]",
		Short: "List drives, or the files of one drive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return withStore(func(store drive.Store) error {
				if len(args) == 0 {
					hosts, err := store.Hosts(cmd.Context())
					if err != nil {
						return exitError(exitSysError, "list drives: %w", err)
					}
					if flags.jsonMode {
						return printJSON(out, hosts)
					}
					for _, h := range hosts {
						state := "read-only"
						if h.Writable {
							state = "writable"
						}
						fmt.Fprintf(out, "%s\t%s\n", h.Host, state)
					}
					return nil
				}

				files, err := store.Files(cmd.Context(), args[0])
				if err != nil {
					return exitError(exitUserError, "list %s: %w", args[0], err)
				}
				if flags.jsonMode {
					views := make([]fileView, 0, len(files))
					for _, f := range files {
						views = append(views, fileView(f))
					}
					return printJSON(out, views)
				}
				for _, f := range files {
					fmt.Fprintf(out, "%s\t%d\n", f.Path, f.Size)
				}
				return nil
			})
		},
	}
}
