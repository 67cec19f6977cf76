// Package cli implements the peermention command-line interface.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
	logLevel  string
}

var flags rootFlags

// NewRootCmd creates the top-level "peermention" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "peermention",
		Short: "A peer-to-peer Webmention endpoint",
		Long: "peermention records and serves Webmentions for the drives it has authority over,\n" +
			"and relays requests for other origins to the peers that serve them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "data directory (default: platform data dir)")
	root.PersistentFlags().BoolVar(&flags.jsonMode, "json", false, "output in JSON format")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newGetCmd())
	root.AddCommand(newOpenCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newRelayCmd())
	root.AddCommand(newListsCmd())
	root.AddCommand(newDriveCmd())

	return root
}

// Execute runs the root command and exits with the appropriate code.
// SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	os.Exit(report(os.Stderr, err))
}

// report prints err and returns the process exit code for it.
func report(w io.Writer, err error) int {
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintln(w, "Error:", err)
	var ce *codeError
	if errors.As(err, &ce) {
		return ce.code
	}
	return exitUserError
}

// codeError carries an exit code out of a command.
type codeError struct {
	code int
	err  error
}

func (e *codeError) Error() string { return e.err.Error() }
func (e *codeError) Unwrap() error { return e.err }

// exitError wraps a formatted error with an exit code.
func exitError(code int, format string, args ...any) error {
	return &codeError{code: code, err: fmt.Errorf(format, args...)}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return exitError(exitSysError, "marshal output: %w", err)
	}
	fmt.Fprintln(w, string(out))
	return nil
}
