package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
)

// Escalator invokes the remote "mark this node administratively down"
// facility. The daemon calls it exactly once, from CheckCrashState's
// failure path, when an abnormal exit left the dirty marker set and no
// restart override is present -- the intent is to refuse silent
// continuation when recorded hardware overrides may be stale.
type Escalator interface {
	MarkAdminDown(ctx context.Context) error
}

// DBusEscalator calls a well-known node-management bus method over the
// system bus, with a bounded timeout on the reply.
type DBusEscalator struct {
	BusName    string
	ObjectPath string
	Timeout    time.Duration
}

// NewDBusEscalator constructs a DBusEscalator targeting busName/objectPath
// with the given per-call timeout.
func NewDBusEscalator(busName, objectPath string, timeout time.Duration) *DBusEscalator {
	return &DBusEscalator{BusName: busName, ObjectPath: objectPath, Timeout: timeout}
}

// MarkAdminDown opens a system bus connection, invokes the node-management
// service's AdminDown method, and returns once it replies or the bounded
// timeout elapses -- the daemon must not hang indefinitely waiting on a
// remote call before parking on pause.
func (e *DBusEscalator) MarkAdminDown(ctx context.Context) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connect to system bus: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	obj := conn.Object(e.BusName, dbus.ObjectPath(e.ObjectPath))
	call := obj.CallWithContext(ctx, e.BusName+".AdminDown", 0)
	if call.Err != nil {
		return fmt.Errorf("call %s.AdminDown on %s: %w", e.BusName, e.ObjectPath, call.Err)
	}
	return nil
}

// NoopEscalator discards the escalation request. Used when the escalation
// path is disabled (single-node test deployments, development).
type NoopEscalator struct{}

// MarkAdminDown implements Escalator by doing nothing.
func (NoopEscalator) MarkAdminDown(context.Context) error { return nil }
