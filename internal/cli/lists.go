package cli

import (
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/peermention/internal/config"
	"github.com/mesh-intelligence/peermention/internal/paths"
	"github.com/mesh-intelligence/peermention/pkg/types"
)

func newListsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lists",
		Short: "Show or replace the blacklist and whitelist",
		Long: "Blacklist patterns are matched against the source of a mention; any match blocks it.\n" +
			"Whitelist patterns are matched against the target; one must match. Patterns are\n" +
			"regular expressions matched anywhere in the URL. An empty list places no restriction.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the saved lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := paths.ResolveConfigDir(flags.configDir)
			if err != nil {
				return exitError(exitSysError, "resolve config dir: %w", err)
			}
			lists, err := config.LoadLists(dir)
			if err != nil {
				return exitError(exitSysError, "load lists: %w", err)
			}
			if flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), lists)
			}
			printList(cmd, "blacklist", lists.Blacklist)
			printList(cmd, "whitelist", lists.Whitelist)
			return nil
		},
	})
	cmd.AddCommand(newSetListCmd("blacklist", func(l *types.Lists) *[]string { return &l.Blacklist }))
	cmd.AddCommand(newSetListCmd("whitelist", func(l *types.Lists) *[]string { return &l.Whitelist }))
	return cmd
}

func printList(cmd *cobra.Command, name string, list []string) {
	out := cmd.OutOrStdout()
	if types.IsUnset(list) {
		fmt.Fprintf(out, "%s: (unset)\n", name)
		return
	}
	fmt.Fprintf(out, "%s:\n", name)
	for _, p := range list {
		fmt.Fprintf(out, "  %s\n", p)
	}
}

// newSetListCmd builds "set-<name>", which replaces one list and keeps the other.
func newSetListCmd(name string, field func(*types.Lists) *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "set-" + name + " [pattern...]",
		Short: "Replace the " + name + "; no patterns unsets it",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range args {
				if _, err := regexp.Compile(p); err != nil {
					return exitError(exitUserError, "pattern %q: %w", p, err)
				}
			}
			dir, err := paths.ResolveConfigDir(flags.configDir)
			if err != nil {
				return exitError(exitSysError, "resolve config dir: %w", err)
			}
			lists, err := config.LoadLists(dir)
			if err != nil {
				return exitError(exitSysError, "load lists: %w", err)
			}
			*field(&lists) = args
			lists = lists.Normalize()
			if err := config.SaveLists(dir, lists); err != nil {
				return exitError(exitSysError, "save lists: %w", err)
			}
			printList(cmd, name, *field(&lists))
			return nil
		},
	}
}
