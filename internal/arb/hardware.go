package arb

import "context"

// HardwareSink writes an accepted value to the underlying control point.
// Implementations perform the actual kernel interface I/O (sysfs writes for
// frequency/governor/power-cap/cstate paths); the engine calls Write only
// when the authoritative request for a path actually changes.
type HardwareSink interface {
	Write(ctx context.Context, kind AttributeKind, path string, v Value) error
}

// HardwareSource reads the current value of a control point directly from
// hardware. The engine consults it exactly once per path, to seed the
// default register the first time a path is touched.
type HardwareSource interface {
	Read(ctx context.Context, kind AttributeKind, path string) (Value, error)
}
