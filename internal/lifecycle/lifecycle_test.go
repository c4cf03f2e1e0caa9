package lifecycle_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/cray-hpe/powerapid/internal/lifecycle"
)

func newMarkers(t *testing.T) *lifecycle.Markers {
	t.Helper()
	dir := t.TempDir()
	return lifecycle.New(
		filepath.Join(dir, "powerapid.pid"),
		filepath.Join(dir, "dirty"),
		filepath.Join(dir, "allow-restart"),
		nil,
	)
}

func TestWritePID(t *testing.T) {
	m := newMarkers(t)
	if err := m.WritePID(4242); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	data, err := os.ReadFile(m.PIDFilePath)
	if err != nil {
		t.Fatalf("read pidfile: %v", err)
	}
	if got, _ := strconv.Atoi(string(data)); got != 4242 {
		t.Errorf("pidfile contents = %q, want 4242", data)
	}
}

func TestDirtyMarkerLifecycle(t *testing.T) {
	m := newMarkers(t)
	if m.IsDirty() {
		t.Fatalf("expected clean before any MarkDirty")
	}
	if err := m.MarkDirty(); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}
	if !m.IsDirty() {
		t.Fatalf("expected dirty after MarkDirty")
	}
	if err := m.MarkClean(); err != nil {
		t.Fatalf("MarkClean: %v", err)
	}
	if m.IsDirty() {
		t.Fatalf("expected clean after MarkClean")
	}
	// MarkClean on an already-clean marker is not an error.
	if err := m.MarkClean(); err != nil {
		t.Fatalf("MarkClean (idempotent): %v", err)
	}
}

func TestCheckCrashStateNotDirty(t *testing.T) {
	m := newMarkers(t)
	allowed, err := m.CheckCrashState(false)
	if err != nil || !allowed {
		t.Fatalf("CheckCrashState() = %v, %v, want true, nil", allowed, err)
	}
}

func TestCheckCrashStateDirtyNoOverride(t *testing.T) {
	m := newMarkers(t)
	if err := m.MarkDirty(); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}
	allowed, err := m.CheckCrashState(false)
	if err != nil {
		t.Fatalf("CheckCrashState: %v", err)
	}
	if allowed {
		t.Fatalf("expected disallowed restart with no override present")
	}
	if !m.IsDirty() {
		t.Fatalf("dirty marker should remain set when restart is disallowed")
	}
}

func TestCheckCrashStateDirtyWithFlag(t *testing.T) {
	m := newMarkers(t)
	if err := m.MarkDirty(); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}
	allowed, err := m.CheckCrashState(true)
	if err != nil || !allowed {
		t.Fatalf("CheckCrashState(true) = %v, %v, want true, nil", allowed, err)
	}
	if m.IsDirty() {
		t.Fatalf("dirty marker should be cleared once restart is allowed")
	}
}

func TestCheckCrashStateDirtyWithMarkerFile(t *testing.T) {
	m := newMarkers(t)
	if err := m.MarkDirty(); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}
	if err := os.WriteFile(m.AllowRestartPath, nil, 0o644); err != nil {
		t.Fatalf("write allow-restart marker: %v", err)
	}
	allowed, err := m.CheckCrashState(false)
	if err != nil || !allowed {
		t.Fatalf("CheckCrashState() = %v, %v, want true, nil", allowed, err)
	}
	if m.IsDirty() {
		t.Fatalf("dirty marker should be cleared once restart is allowed")
	}
}
