// Package commands implements the powerapidctl command-line client: a
// thin cobra-based wrapper around the rendezvous wire protocol, for
// operators and init scripts that need to issue a single SET, LOGLEVEL,
// or DUMP request without linking against the daemon itself.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	socketPath  string
	contextName string
	asManager   bool
)

var rootCmd = &cobra.Command{
	Use:   "powerapidctl",
	Short: "CLI client for the powerapid arbitration daemon",
	Long:  "powerapidctl communicates with the powerapid daemon over its rendezvous socket to set power/performance control points and inspect daemon state.",

	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/var/opt/cray/powerapi/run/powerapid.sock",
		"path to the daemon's rendezvous socket")
	rootCmd.PersistentFlags().StringVar(&contextName, "context", "powerapidctl",
		"context name to declare in AUTH")
	rootCmd.PersistentFlags().BoolVar(&asManager, "resource-manager", false,
		"authenticate as the resource-manager role instead of client")

	rootCmd.AddCommand(setCmd())
	rootCmd.AddCommand(logLevelCmd())
	rootCmd.AddCommand(dumpCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

func authRole() uint8 {
	if asManager {
		return roleResourceManager
	}
	return roleClient
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
