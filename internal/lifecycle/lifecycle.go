// Package lifecycle implements the daemon's persisted liveness markers and
// crash-recovery gate: the pidfile, the "dirty state" marker that records
// whether hardware currently holds overrides, and the operator override
// that permits continuing after an abnormal exit.
package lifecycle

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

// Markers bundles the three persisted files the design calls for: one
// pidfile, one dirty-state marker (presence is the signal, contents
// ignored), and one operator "allow restart" marker (same).
type Markers struct {
	PIDFilePath      string
	DirtyMarkerPath  string
	AllowRestartPath string

	log *slog.Logger
}

// New constructs a Markers using the given paths. A nil logger defaults to
// slog.Default().
func New(pidfilePath, dirtyMarkerPath, allowRestartPath string, log *slog.Logger) *Markers {
	if log == nil {
		log = slog.Default()
	}
	return &Markers{
		PIDFilePath:      pidfilePath,
		DirtyMarkerPath:  dirtyMarkerPath,
		AllowRestartPath: allowRestartPath,
		log:              log,
	}
}

// WritePID writes the current process's PID, as decimal text, to
// PIDFilePath. Failure here is a fatal initialization error per the design.
func (m *Markers) WritePID(pid int) error {
	if err := os.WriteFile(m.PIDFilePath, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("write pidfile %s: %w", m.PIDFilePath, err)
	}
	return nil
}

// MarkDirty creates the dirty-state marker, recording that at least one
// session is open and hardware may hold non-default overrides. Idempotent.
func (m *Markers) MarkDirty() error {
	f, err := os.OpenFile(m.DirtyMarkerPath, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return fmt.Errorf("create dirty marker %s: %w", m.DirtyMarkerPath, err)
	}
	return f.Close()
}

// MarkClean removes the dirty-state marker, recording that no session is
// open and every attribute has reverted to its baseline. A missing file is
// not an error.
func (m *Markers) MarkClean() error {
	if err := os.Remove(m.DirtyMarkerPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove dirty marker %s: %w", m.DirtyMarkerPath, err)
	}
	return nil
}

// IsDirty reports whether the dirty-state marker is currently present.
func (m *Markers) IsDirty() bool {
	_, err := os.Stat(m.DirtyMarkerPath)
	return err == nil
}

// allowRestartMarkerPresent reports whether the operator has dropped the
// "allow restart" marker file.
func (m *Markers) allowRestartMarkerPresent() bool {
	_, err := os.Stat(m.AllowRestartPath)
	return err == nil
}

// CheckCrashState implements the post-crash restart gate: if the dirty
// marker is present, the daemon is assumed to have exited abnormally while
// hardware held overrides. restartFlag is the operator's "-r" command-line
// override; the on-disk allow-restart marker is an equivalent, file-based
// override for environments that can't pass daemon flags directly.
//
// Returns allowed=true (and clears the dirty marker) when either override
// is present. Returns allowed=false when neither is present, meaning the
// caller must escalate and then park on pause rather than continue with
// possibly-stale hardware state.
func (m *Markers) CheckCrashState(restartFlag bool) (allowed bool, err error) {
	if !m.IsDirty() {
		return true, nil
	}

	m.log.Error("dirty state marker present: daemon appears to have exited abnormally",
		slog.String("path", m.DirtyMarkerPath))

	allow := restartFlag
	if m.allowRestartMarkerPresent() {
		m.log.Warn("allow-restart marker present, permitting restart",
			slog.String("path", m.AllowRestartPath))
		allow = true
	}

	if !allow {
		return false, nil
	}

	m.log.Warn("restart allowed, clearing dirty state and continuing")
	if err := m.MarkClean(); err != nil {
		return false, err
	}
	return true, nil
}
