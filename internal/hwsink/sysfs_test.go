package hwsink_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cray-hpe/powerapid/internal/arb"
	"github.com/cray-hpe/powerapid/internal/hwsink"
)

func TestUint64RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "freq_max")
	if err := os.WriteFile(path, []byte("1000000"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := hwsink.New()
	ctx := context.Background()

	if err := s.Write(ctx, arb.AttrFreqLimitMax, path, arb.Value{Type: arb.DataInt, Int: 2000000}); err != nil {
		t.Fatalf("write: %v", err)
	}
	v, err := s.Read(ctx, arb.AttrFreqLimitMax, path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v.Int != 2000000 {
		t.Fatalf("got %d, want 2000000", v.Int)
	}
}

func TestGovernorRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scaling_governor")
	if err := os.WriteFile(path, []byte("performance\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := hwsink.New()
	ctx := context.Background()

	if err := s.Write(ctx, arb.AttrGov, path, arb.Value{Type: arb.DataInt, Int: uint64(arb.GovPowersave)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	v, err := s.Read(ctx, arb.AttrGov, path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if arb.Governor(v.Int) != arb.GovPowersave {
		t.Fatalf("got %v, want powersave", arb.Governor(v.Int))
	}
}

// setupCstateDir builds a fake HT_CSTATE_PATH-style directory tree with
// numbered "state%d/disable" files, state0 always enabled.
func setupCstateDir(t *testing.T, numStates int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < numStates; i++ {
		sub := filepath.Join(dir, "state"+itoa(i))
		if err := os.MkdirAll(sub, 0o755); err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			continue
		}
		if err := os.WriteFile(filepath.Join(sub, "disable"), []byte("0"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestCstateLimitRoundTrip(t *testing.T) {
	dir := setupCstateDir(t, 4) // state0..state3, substates 1-3 writable

	s := hwsink.New()
	ctx := context.Background()

	if err := s.Write(ctx, arb.AttrCstateLimit, dir, arb.Value{Type: arb.DataInt, Int: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	v, err := s.Read(ctx, arb.AttrCstateLimit, dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v.Int != 1 {
		t.Fatalf("got %d, want 1", v.Int)
	}

	disable2, err := os.ReadFile(filepath.Join(dir, "state2", "disable"))
	if err != nil {
		t.Fatal(err)
	}
	if string(disable2) != "1" {
		t.Fatalf("state2/disable = %q, want 1", disable2)
	}
}

// A limit naming the deepest enumerated state is valid and leaves every
// substate enabled.
func TestCstateLimitMaxLeavesAllEnabled(t *testing.T) {
	dir := setupCstateDir(t, 4)

	s := hwsink.New()
	ctx := context.Background()

	if err := s.Write(ctx, arb.AttrCstateLimit, dir, arb.Value{Type: arb.DataInt, Int: 3}); err != nil {
		t.Fatalf("write: %v", err)
	}

	for i := 1; i <= 3; i++ {
		data, err := os.ReadFile(filepath.Join(dir, "state"+itoa(i), "disable"))
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "0" {
			t.Fatalf("state%d/disable = %q, want 0", i, data)
		}
	}

	v, err := s.Read(ctx, arb.AttrCstateLimit, dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v.Int != 3 {
		t.Fatalf("got %d, want 3", v.Int)
	}
}

func TestCstateLimitOutOfRangeRejected(t *testing.T) {
	dir := setupCstateDir(t, 3)

	s := hwsink.New()
	err := s.Write(context.Background(), arb.AttrCstateLimit, dir, arb.Value{Type: arb.DataInt, Int: 10})
	if err == nil {
		t.Fatalf("expected out-of-range error")
	}
}
