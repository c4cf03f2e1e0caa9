package arb_test

import (
	"testing"

	"github.com/cray-hpe/powerapid/internal/arb"
)

func TestValueCompare(t *testing.T) {
	a := arb.Value{Type: arb.DataInt, Int: 5}
	b := arb.Value{Type: arb.DataInt, Int: 10}
	if a.Compare(b) >= 0 {
		t.Fatalf("expected a < b")
	}
	if b.Compare(a) <= 0 {
		t.Fatalf("expected b > a")
	}
	if a.Compare(a) != 0 {
		t.Fatalf("expected equal values to compare 0")
	}

	fa := arb.Value{Type: arb.DataFloat, Float: 1.5}
	fb := arb.Value{Type: arb.DataFloat, Float: 2.5}
	if fa.Compare(fb) >= 0 {
		t.Fatalf("expected fa < fb")
	}
}

func TestValidateKind(t *testing.T) {
	if err := arb.ValidateKind(arb.AttrGov); err != nil {
		t.Fatalf("AttrGov should be valid: %v", err)
	}
	if err := arb.ValidateKind(AttributeKindInvalid); err == nil {
		t.Fatalf("expected error for invalid kind")
	}
}

// AttributeKindInvalid is a value outside arb's enumerated kinds, used only
// to exercise ValidateKind's default branch.
const AttributeKindInvalid = arb.AttributeKind(255)

func TestAttributeKindString(t *testing.T) {
	cases := map[arb.AttributeKind]string{
		arb.AttrFreqReq:       "FREQ_REQ",
		arb.AttrFreqLimitMin:  "FREQ_LIMIT_MIN",
		arb.AttrFreqLimitMax:  "FREQ_LIMIT_MAX",
		arb.AttrPowerLimitMax: "POWER_LIMIT_MAX",
		arb.AttrPowerLimitMin: "POWER_LIMIT_MIN",
		arb.AttrCstateLimit:   "CSTATE_LIMIT",
		arb.AttrGov:           "GOV",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", kind, got, want)
		}
	}
	if got := AttributeKindInvalid.String(); got != "UNKNOWN" {
		t.Errorf("invalid kind String() = %q, want UNKNOWN", got)
	}
}
