package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cray-hpe/powerapid/internal/wire"
)

func logLevelCmd() *cobra.Command {
	var debug, trace bool

	cmd := &cobra.Command{
		Use:   "loglevel",
		Short: "Change the daemon's runtime verbosity",
		RunE: func(_ *cobra.Command, _ []string) error {
			c, err := dialAndAuth(socketPath, authRole(), contextName)
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.roundTrip(wire.Request{
				Type:     wire.ReqLogLevel,
				LogLevel: wire.LogLevelPayload{Debug: debug, Trace: trace},
			})
			if err != nil {
				return err
			}
			if resp.Code != wire.CodeSuccess {
				return fmt.Errorf("loglevel rejected: %s", resp.Code)
			}
			fmt.Printf("debug=%t trace=%t\n", resp.LogLevel.Debug, resp.LogLevel.Trace)
			return nil
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	cmd.Flags().BoolVar(&trace, "trace", false, "enable trace logging (implies debug)")
	return cmd
}
