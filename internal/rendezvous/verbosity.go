package rendezvous

import (
	"log/slog"
	"sync"
)

// LevelTrace is one step more verbose than slog.LevelDebug, used for the
// daemon's "-TT"/"-TTT"-style trace output. The wire protocol only
// distinguishes "trace requested" from "not requested" (a single bool), so
// this package collapses the original's three-level trace granularity to
// one.
const LevelTrace = slog.Level(-8)

// Verbosity is the daemon's runtime-adjustable stderr log level, shared
// between the `-D`/`-T` startup flags, SIGHUP reload, and the LOGLEVEL
// wire request -- all three converge on the same slog.LevelVar so a change
// from any source is immediately visible everywhere.
type Verbosity struct {
	mu    sync.Mutex
	debug bool
	trace bool
	level *slog.LevelVar
}

// NewVerbosity constructs a Verbosity wrapping the given LevelVar, which
// the caller also hands to its slog.Handler so level changes take effect
// without rebuilding the logger.
func NewVerbosity(level *slog.LevelVar) *Verbosity {
	return &Verbosity{level: level}
}

// LevelVar returns the underlying slog.LevelVar for constructing the
// process's log handler.
func (v *Verbosity) LevelVar() *slog.LevelVar {
	return v.level
}

// Set updates the effective level from a LOGLEVEL request or a startup
// flag count: trace implies debug-or-deeper, matching the original's
// dbglvl/trclvl stacking.
func (v *Verbosity) Set(debug, trace bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.debug = debug
	v.trace = trace

	switch {
	case trace:
		v.level.Set(LevelTrace)
	case debug:
		v.level.Set(slog.LevelDebug)
	default:
		v.level.Set(slog.LevelInfo)
	}
}

// Get returns the currently effective debug/trace flags, as reported back
// in a LOGLEVEL response.
func (v *Verbosity) Get() (debug, trace bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.debug, v.trace
}
