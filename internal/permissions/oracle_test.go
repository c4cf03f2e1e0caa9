package permissions_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cray-hpe/powerapid/internal/permissions"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestOracleNotInitialized(t *testing.T) {
	o := permissions.New(filepath.Join(t.TempDir(), "perms"), nil)
	if _, err := o.Allow(0); err != permissions.ErrNotInitialized {
		t.Fatalf("Allow before Load: got %v, want ErrNotInitialized", err)
	}
}

func TestOracleAllowDeny(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perms")
	writeFile(t, path, "# comment\n0\n1000\n\n2000\n")

	o := permissions.New(path, nil)
	if err := o.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, uid := range []uint32{0, 1000, 2000} {
		ok, err := o.Allow(uid)
		if err != nil || !ok {
			t.Errorf("Allow(%d) = %v, %v, want true, nil", uid, ok, err)
		}
	}
	ok, err := o.Allow(9999)
	if err != nil || ok {
		t.Errorf("Allow(9999) = %v, %v, want false, nil", ok, err)
	}
}

func TestOracleWildcard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perms")
	writeFile(t, path, "*\n")

	o := permissions.New(path, nil)
	if err := o.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ok, err := o.Allow(31337)
	if err != nil || !ok {
		t.Errorf("Allow with wildcard = %v, %v, want true, nil", ok, err)
	}
}

func TestOracleMalformedEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perms")
	writeFile(t, path, "not-a-uid\n")

	o := permissions.New(path, nil)
	if err := o.Load(); err == nil {
		t.Fatalf("expected error for malformed entry")
	}
}

func TestOracleWatchReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perms")
	writeFile(t, path, "1000\n")

	o := permissions.New(path, nil)
	if err := o.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := o.WatchReload(); err != nil {
		t.Fatalf("WatchReload: %v", err)
	}
	defer o.Stop()

	writeFile(t, path, "2000\n")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ok, _ := o.Allow(2000)
		if ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("permissions file change was not picked up")
}
