package commands

import (
	"fmt"

	"github.com/reeflective/console"
	"github.com/spf13/cobra"
)

// shellCmd launches an interactive console built on reeflective/console,
// reusing the same cobra command tree as the one-shot invocations: every
// top-level command (set, loglevel, dump, version) is available at the
// shell prompt exactly as it is from the regular command line.
func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive powerapidctl console",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			app := console.New("powerapidctl")

			menu := app.NewMenu("")
			menu.SetCommands(func() *cobra.Command {
				return shellRootCmd()
			})
			menu.Prompt().Primary = func() string {
				return "powerapidctl> "
			}

			if err := app.Start(); err != nil {
				return fmt.Errorf("start console: %w", err)
			}
			return nil
		},
	}
}

// shellRootCmd builds a fresh root command for each console read: cobra
// commands are not safe to re-Execute once flags have been parsed, and
// the console driver invokes this factory per input line.
func shellRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "powerapidctl",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(setCmd())
	root.AddCommand(logLevelCmd())
	root.AddCommand(dumpCmd())
	root.AddCommand(versionCmd())
	return root
}
