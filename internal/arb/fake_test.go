package arb_test

import (
	"context"
	"sync"

	"github.com/cray-hpe/powerapid/internal/arb"
)

// fakeHardware is an in-memory HardwareSink and HardwareSource used by the
// engine tests to assert convergence without touching real sysfs paths.
type fakeHardware struct {
	mu       sync.Mutex
	values   map[string]arb.Value
	writes   []write
	failNext error
}

type write struct {
	kind arb.AttributeKind
	path string
	val  arb.Value
}

func newFakeHardware() *fakeHardware {
	return &fakeHardware{values: make(map[string]arb.Value)}
}

func (f *fakeHardware) failNextWrite(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
}

func (f *fakeHardware) seed(path string, v arb.Value) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[path] = v
}

func (f *fakeHardware) Read(_ context.Context, _ arb.AttributeKind, path string) (arb.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[path]
	if !ok {
		return arb.Value{Type: arb.DataInt}, nil
	}
	return v, nil
}

func (f *fakeHardware) Write(_ context.Context, kind arb.AttributeKind, path string, v arb.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.values[path] = v
	f.writes = append(f.writes, write{kind: kind, path: path, val: v})
	return nil
}

func (f *fakeHardware) lastWrite() (write, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return write{}, false
	}
	return f.writes[len(f.writes)-1], true
}

func (f *fakeHardware) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func intValue(n uint64) arb.Value {
	return arb.Value{Type: arb.DataInt, Int: n}
}
