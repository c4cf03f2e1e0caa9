package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cray-hpe/powerapid/internal/wire"
)

// kindNames maps the CLI's --kind flag values to the wire's AttributeKind
// byte, mirroring arb.AttributeKind.String() without importing the
// daemon's internal package.
var kindNames = map[string]uint8{
	"FREQ_REQ":        1,
	"FREQ_LIMIT_MIN":  2,
	"FREQ_LIMIT_MAX":  3,
	"POWER_LIMIT_MAX": 4,
	"POWER_LIMIT_MIN": 5,
	"CSTATE_LIMIT":    6,
	"GOV":             7,
}

var governorNames = map[string]uint64{
	"performance":  1,
	"powersave":    2,
	"userspace":    3,
	"ondemand":     4,
	"conservative": 5,
	"schedutil":    6,
}

func setCmd() *cobra.Command {
	var (
		kind  string
		path  string
		value string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Submit a SET request for one attribute path",
		Long: "set submits a single attribute mutation to the daemon and prints the\n" +
			"resulting return code. --value accepts a governor name for --kind GOV,\n" +
			"a floating-point watts figure for the two POWER_LIMIT kinds, and an\n" +
			"integer otherwise (kHz for frequency kinds, a C-state index for\n" +
			"CSTATE_LIMIT).",
		RunE: func(_ *cobra.Command, _ []string) error {
			kindByte, ok := kindNames[strings.ToUpper(kind)]
			if !ok {
				return fmt.Errorf("unknown --kind %q", kind)
			}
			if path == "" {
				return fmt.Errorf("--path is required")
			}

			payload, err := buildSetPayload(kindByte, path, value)
			if err != nil {
				return err
			}

			c, err := dialAndAuth(socketPath, authRole(), contextName)
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.roundTrip(wire.Request{Type: wire.ReqSet, Set: payload})
			if err != nil {
				return err
			}

			fmt.Printf("%s (sequence %d)\n", resp.Code, resp.Sequence)
			if resp.Code != wire.CodeSuccess {
				return fmt.Errorf("set rejected: %s", resp.Code)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "attribute kind (FREQ_REQ, FREQ_LIMIT_MIN, FREQ_LIMIT_MAX, POWER_LIMIT_MAX, POWER_LIMIT_MIN, CSTATE_LIMIT, GOV)")
	cmd.Flags().StringVar(&path, "path", "", "sysfs-rooted attribute path")
	cmd.Flags().StringVar(&value, "value", "", "value to set (see --help for the per-kind format)")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("path")
	_ = cmd.MarkFlagRequired("value")

	return cmd
}

// buildSetPayload parses value according to kind's expected wire DataType:
// float for the two power-limit kinds, a governor name for GOV, an
// integer for everything else.
func buildSetPayload(kind uint8, path, value string) (wire.SetPayload, error) {
	const (
		dataInt           = 1
		dataFloat         = 2
		kindPowerLimitMax = 4
		kindPowerLimitMin = 5
		kindGov           = 7
	)

	switch kind {
	case kindPowerLimitMax, kindPowerLimitMin:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return wire.SetPayload{}, fmt.Errorf("--value %q is not a number: %w", value, err)
		}
		return wire.SetPayload{Kind: kind, DataType: dataFloat, Value: bitsFromFloat64(f), Path: path}, nil
	case kindGov:
		gov, ok := governorNames[strings.ToLower(value)]
		if !ok {
			return wire.SetPayload{}, fmt.Errorf("unknown governor %q", value)
		}
		return wire.SetPayload{Kind: kind, DataType: dataInt, Value: gov, Path: path}, nil
	default:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return wire.SetPayload{}, fmt.Errorf("--value %q is not an integer: %w", value, err)
		}
		return wire.SetPayload{Kind: kind, DataType: dataInt, Value: n, Path: path}, nil
	}
}
