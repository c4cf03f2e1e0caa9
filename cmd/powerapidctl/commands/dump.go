package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cray-hpe/powerapid/internal/wire"
)

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Request a diagnostic dump of engine state (root-only)",
		Long:  "dump asks the daemon to log a snapshot of every touched attribute path to its own log stream; the daemon rejects this request unless the caller's kernel-verified uid is 0.",
		RunE: func(_ *cobra.Command, _ []string) error {
			c, err := dialAndAuth(socketPath, authRole(), contextName)
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.roundTrip(wire.Request{Type: wire.ReqDump})
			if err != nil {
				return err
			}
			fmt.Println(resp.Code)
			if resp.Code != wire.CodeSuccess {
				return fmt.Errorf("dump rejected: %s", resp.Code)
			}
			return nil
		},
	}
}
