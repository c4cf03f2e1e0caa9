// Package arb implements the node-local priority ladder arbitration engine:
// the ordered-by-priority bookkeeping that decides, for every hardware
// control point under management, which of the currently live requests is
// authoritative.
package arb

import (
	"errors"
	"fmt"
)

// AttributeKind identifies a class of hardware control point. The
// comparator used to order competing requests on a path is selected solely
// by kind (see attrValueComp).
type AttributeKind uint8

const (
	// AttrFreqReq requests an exact CPU frequency target.
	AttrFreqReq AttributeKind = iota + 1

	// AttrFreqLimitMin constrains the minimum allowed CPU frequency. Higher
	// values win: raising the floor is the more restrictive request.
	AttrFreqLimitMin

	// AttrFreqLimitMax constrains the maximum allowed CPU frequency. Lower
	// values win: lowering the ceiling is the more restrictive request.
	AttrFreqLimitMax

	// AttrPowerLimitMax constrains the maximum RAPL package/DRAM power cap.
	// Lower values win.
	AttrPowerLimitMax

	// AttrPowerLimitMin constrains the minimum RAPL power cap. Higher
	// values win.
	AttrPowerLimitMin

	// AttrCstateLimit caps the deepest allowable C-state index.
	// Lower values win (shallower permitted sleep is more restrictive).
	AttrCstateLimit

	// AttrGov selects the P-state governor.
	AttrGov
)

// String returns the human-readable name for the attribute kind.
func (k AttributeKind) String() string {
	switch k {
	case AttrFreqReq:
		return "FREQ_REQ"
	case AttrFreqLimitMin:
		return "FREQ_LIMIT_MIN"
	case AttrFreqLimitMax:
		return "FREQ_LIMIT_MAX"
	case AttrPowerLimitMax:
		return "POWER_LIMIT_MAX"
	case AttrPowerLimitMin:
		return "POWER_LIMIT_MIN"
	case AttrCstateLimit:
		return "CSTATE_LIMIT"
	case AttrGov:
		return "GOV"
	default:
		return "UNKNOWN"
	}
}

// DataType tags which member of Value is populated.
type DataType uint8

const (
	// DataInt tags an integer Value (cstate index, governor id, frequency
	// in kHz).
	DataInt DataType = iota + 1

	// DataFloat tags a floating-point Value (RAPL power cap in watts).
	DataFloat
)

// Governor enumerates the P-state governor selectors a GOV request may
// carry. GovUserspace is the dominance anchor in the GOV comparator: a
// pending userspace request always wins over any other live governor
// request regardless of timestamp.
type Governor uint64

const (
	GovPerformance Governor = iota + 1
	GovPowersave
	GovUserspace
	GovOndemand
	GovConservative
	GovSchedutil
)

// String returns the Linux cpufreq governor name written to sysfs.
func (g Governor) String() string {
	switch g {
	case GovPerformance:
		return "performance"
	case GovPowersave:
		return "powersave"
	case GovUserspace:
		return "userspace"
	case GovOndemand:
		return "ondemand"
	case GovConservative:
		return "conservative"
	case GovSchedutil:
		return "schedutil"
	default:
		return "unknown"
	}
}

// Value is a tagged union holding either an integer or a floating-point
// measurement, matching the wire encoding's fixed 8-byte payload.
type Value struct {
	Type  DataType
	Int   uint64
	Float float64
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than
// other. Both values must share the same Type.
func (v Value) Compare(other Value) int {
	switch v.Type {
	case DataFloat:
		switch {
		case v.Float < other.Float:
			return -1
		case v.Float > other.Float:
			return 1
		default:
			return 0
		}
	default:
		switch {
		case v.Int < other.Int:
			return -1
		case v.Int > other.Int:
			return 1
		default:
			return 0
		}
	}
}

// Errors returned by package arb. Callers at the rendezvous boundary
// translate these into wire ReturnCodes via errors.Is.
var (
	// ErrInvalidAttribute indicates an AttributeKind outside the known set.
	ErrInvalidAttribute = errors.New("arb: invalid attribute kind")

	// ErrInvalidPath indicates an empty or malformed attribute path.
	ErrInvalidPath = errors.New("arb: invalid attribute path")

	// ErrInvalidCstate indicates a CSTATE_LIMIT value outside the
	// hardware's enumerated substate range.
	ErrInvalidCstate = errors.New("arb: cstate limit out of range")

	// ErrUnknownSession indicates a request referencing a session the
	// engine has no record of (the session closed concurrently).
	ErrUnknownSession = errors.New("arb: unknown session")

	// ErrEngineClosed indicates the engine is shutting down and no longer
	// accepts new work.
	ErrEngineClosed = errors.New("arb: engine closed")

	// ErrQueueFull indicates the worker's backlog has reached its bound.
	ErrQueueFull = errors.New("arb: work queue full")
)

// ValidateKind reports an error if k is not one of the known AttributeKind
// values.
func ValidateKind(k AttributeKind) error {
	switch k {
	case AttrFreqReq, AttrFreqLimitMin, AttrFreqLimitMax,
		AttrPowerLimitMax, AttrPowerLimitMin, AttrCstateLimit, AttrGov:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrInvalidAttribute, k)
	}
}
