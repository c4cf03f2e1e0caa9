package arb

import "time"

// SessionID identifies the owning Session of a SetRequest. The zero value
// identifies the synthetic default-register entry, which never has an
// owning session.
type SessionID uint64

// SetRequest is a single live demand on an attribute path. The priority
// ladder for a path is the ordered sequence of its SetRequests; the head of
// the ladder is authoritative and determines the value the worker writes to
// hardware.
type SetRequest struct {
	// Kind selects the comparator used to order this request against its
	// peers on the same Path.
	Kind AttributeKind

	// Path names the control point this request targets.
	Path string

	// Value is the requested setting.
	Value Value

	// Origin is the session that raised this request. Zero for the
	// synthetic default-register entry.
	Origin SessionID

	// Persistent marks a request raised by a persistent session (root,
	// resource-manager role, per Session.Persistent). Such a request
	// redefines the default-register baseline for its path instead of
	// only overlaying it, so the value survives the originating session's
	// own disconnect.
	Persistent bool

	// AcceptedAt is when the worker admitted this request onto the
	// ladder. Only the GOV comparator consults it; it breaks ties between
	// two non-userspace governor requests in favor of the most recent.
	AcceptedAt time.Time
}

// attrValueComp orders two SetRequests on the same attribute path. It
// returns a negative number when a should sort ahead of b (a is the more
// restrictive / authoritative request), positive when b should lead, and
// zero only when the two are indistinguishable (callers break the tie with
// insertion sequence).
//
// The rule per kind: CSTATE_LIMIT, FREQ_REQ, FREQ_LIMIT_MAX, and
// POWER_LIMIT_MAX favor the lower value (the more restrictive cap).
// FREQ_LIMIT_MIN and POWER_LIMIT_MIN favor the higher value (raising a
// floor is the more restrictive demand) — the same comparison as the first
// group with the two arguments swapped. GOV uses its own dominance rule.
func attrValueComp(a, b *SetRequest) int {
	switch a.Kind {
	case AttrCstateLimit, AttrFreqReq, AttrFreqLimitMax, AttrPowerLimitMax:
		return a.Value.Compare(b.Value)
	case AttrFreqLimitMin, AttrPowerLimitMin:
		return b.Value.Compare(a.Value)
	case AttrGov:
		return govComp(a, b)
	default:
		return 0
	}
}

// govComp implements the GOV comparator: a live request for GovUserspace
// dominates every other governor, since a resource manager or operator
// asking for manual pstate control overrides any policy-driven governor
// choice. Between two non-userspace requests the most recently accepted
// one wins; equal timestamps compare equal.
func govComp(a, b *SetRequest) int {
	ga, gb := Governor(a.Value.Int), Governor(b.Value.Int)

	switch {
	case ga == gb:
		return 0
	case ga == GovUserspace:
		return -1
	case gb == GovUserspace:
		return 1
	case a.AcceptedAt.After(b.AcceptedAt):
		return -1
	case b.AcceptedAt.After(a.AcceptedAt):
		return 1
	default:
		return 0
	}
}
