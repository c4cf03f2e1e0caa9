// Package hwsink implements arb.HardwareSink and arb.HardwareSource against
// the real kernel control-point files: plain-text sysfs-style files opened,
// read or written, flushed, and closed per operation, matching the worker
// helpers of the original C daemon (file_read_uint64/file_write_uint64 and
// friends) rather than any binary or mmap'd interface.
package hwsink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cray-hpe/powerapid/internal/arb"
)

// Sysfs is a HardwareSink and HardwareSource backed by ordinary files. Paths
// passed to Read/Write name the control-point file directly, except for
// CSTATE_LIMIT, whose path is the directory of state%d subdirectories (see
// readCstateLimit and writeCstateLimit). GOV values are read and written as
// governor names; the two POWER_LIMIT kinds as floating-point text.
type Sysfs struct{}

// New returns a Sysfs hardware backend.
func New() *Sysfs {
	return &Sysfs{}
}

// Read implements arb.HardwareSource.
func (s *Sysfs) Read(_ context.Context, kind arb.AttributeKind, path string) (arb.Value, error) {
	switch kind {
	case arb.AttrCstateLimit:
		n, err := readCstateLimit(path)
		if err != nil {
			return arb.Value{}, err
		}
		return arb.Value{Type: arb.DataInt, Int: uint64(n)}, nil
	case arb.AttrGov:
		g, err := readGovernor(path)
		if err != nil {
			return arb.Value{}, err
		}
		return arb.Value{Type: arb.DataInt, Int: uint64(g)}, nil
	case arb.AttrPowerLimitMax, arb.AttrPowerLimitMin:
		f, err := readDouble(path)
		if err != nil {
			return arb.Value{}, err
		}
		return arb.Value{Type: arb.DataFloat, Float: f}, nil
	default:
		n, err := readUint64(path)
		if err != nil {
			return arb.Value{}, err
		}
		return arb.Value{Type: arb.DataInt, Int: n}, nil
	}
}

// Write implements arb.HardwareSink.
func (s *Sysfs) Write(_ context.Context, kind arb.AttributeKind, path string, v arb.Value) error {
	switch kind {
	case arb.AttrCstateLimit:
		return writeCstateLimit(path, v.Int)
	case arb.AttrGov:
		return writeString(path, arb.Governor(v.Int).String())
	case arb.AttrPowerLimitMax, arb.AttrPowerLimitMin:
		return writeDouble(path, v.Float)
	default:
		return writeUint64(path, v.Int)
	}
}

func readUint64(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var n uint64
	if _, err := fmt.Fscanf(f, "%d", &n); err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	return n, nil
}

func readDouble(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var v float64
	if _, err := fmt.Fscanf(f, "%g", &v); err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	return v, nil
}

func writeUint64(path string, v uint64) error {
	return writeString(path, strconv.FormatUint(v, 10))
}

func writeDouble(path string, v float64) error {
	return writeString(path, strconv.FormatFloat(v, 'g', -1, 64))
}

func writeString(path, val string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprint(f, val); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Sync()
}

// cstateDisableFile is the per-substate file written to disable/enable a
// C-state, relative to the directory named by path.
func cstateDisableFile(path string, i int) string {
	return fmt.Sprintf("%s/state%d/disable", path, i)
}

// countCstates counts the "state%d" subdirectories under path, mirroring
// get_cstates_count's directory scan.
func countCstates(path string) (int, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return 0, fmt.Errorf("opendir %s: %w", path, err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "state") {
			n++
		}
	}
	return n, nil
}

// readCstateLimit scans substates 1..count-1, stopping at the first
// disabled (nonzero) state and returning its index minus one: the deepest
// C-state still permitted. With none disabled it returns count-1.
func readCstateLimit(path string) (int, error) {
	count, err := countCstates(path)
	if err != nil {
		return 0, err
	}

	i := 1
	for ; i < count; i++ {
		disabled, err := readUint64(cstateDisableFile(path, i))
		if err != nil {
			return 0, err
		}
		if disabled > 0 {
			break
		}
	}
	return i - 1, nil
}

// writeCstateLimit fans out a single CSTATE_LIMIT value across every
// numbered substate: states 1..n stay enabled (disable=0), states n+1..last
// are disabled (disable=1).
func writeCstateLimit(path string, n uint64) error {
	count, err := countCstates(path)
	if err != nil {
		return err
	}
	// A limit equal to the last state index disables nothing, which is a
	// legitimate degenerate request; only limits beyond the enumerated
	// substates are rejected.
	if count == 0 || n >= uint64(count) {
		return fmt.Errorf("%w: %d substates, requested limit %d", arb.ErrInvalidCstate, count, n)
	}

	for i := 1; i < count; i++ {
		disable := uint64(0)
		if uint64(i) > n {
			disable = 1
		}
		if err := writeUint64(cstateDisableFile(path, i), disable); err != nil {
			return err
		}
	}
	return nil
}

func readGovernor(path string) (arb.Governor, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, fmt.Errorf("read %s: empty governor file", path)
	}
	name := strings.TrimSpace(sc.Text())
	return governorFromString(name), nil
}

func governorFromString(name string) arb.Governor {
	switch name {
	case "performance":
		return arb.GovPerformance
	case "powersave":
		return arb.GovPowersave
	case "userspace":
		return arb.GovUserspace
	case "ondemand":
		return arb.GovOndemand
	case "conservative":
		return arb.GovConservative
	case "schedutil":
		return arb.GovSchedutil
	default:
		return 0
	}
}
