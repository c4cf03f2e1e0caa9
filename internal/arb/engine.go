package arb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EngineMetrics receives counters from the engine's worker loop. Callers
// wire in internal/metrics.Collector; tests use a no-op implementation.
type EngineMetrics interface {
	IncQueued()
	IncApplied(kind AttributeKind)
	IncRejected(reason string)
	SetQueueDepth(n int)
	ObserveWriteLatency(kind AttributeKind, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) IncQueued()                                       {}
func (noopMetrics) IncApplied(AttributeKind)                         {}
func (noopMetrics) IncRejected(string)                               {}
func (noopMetrics) SetQueueDepth(int)                                {}
func (noopMetrics) ObserveWriteLatency(AttributeKind, time.Duration) {}

// EngineOption configures optional Engine parameters.
type EngineOption func(*Engine)

// WithMetrics attaches an EngineMetrics sink. A nil m is ignored.
func WithMetrics(m EngineMetrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithLogger attaches a structured logger. A nil l is ignored.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithQueueCapacity bounds the worker backlog. The default is 4096.
func WithQueueCapacity(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.queueCap = n
		}
	}
}

const defaultQueueCapacity = 4096

// queueItem is either a real SET destined for the worker, or the shutdown
// sentinel (req == nil) that unblocks the worker's Run loop.
type queueItem struct {
	req   *SetRequest
	reply chan<- replyMsg
}

// replyMsg is the single reply the worker sends per queued SET, matching
// the reply-sequence invariant: exactly one reply per accepted request.
type replyMsg struct {
	err error
}

// Engine owns the priority ladder, the default register, and the
// single-consumer work queue described by the arbitration design: a
// Listener-equivalent enqueues SetRequests via Submit, and the one Worker
// goroutine started by Run is the only consumer of the queue.
//
// The ladder, the default register, and the per-session path membership
// share one mutex, held for the duration of any insertion, withdrawal,
// head read, or the hardware write that follows one. Rollback (on the
// caller's goroutine) and the worker both take it, so their writes for
// the same path can never interleave with a stale head.
//
// All exported methods are safe for concurrent use; Submit may be called
// from many goroutines while Run's worker serializes application.
type Engine struct {
	mu       sync.Mutex
	ladders  map[string]*ladder
	defaults map[string]*SetRequest
	sessions map[SessionID]map[string]struct{}

	sink   HardwareSink
	source HardwareSource

	metrics EngineMetrics
	log     *slog.Logger

	queueCap int
	queue    chan queueItem

	// closeMu serializes Submit's enqueue against Close's sentinel push:
	// once isClosed is observed under the lock, no further item can land
	// behind the sentinel, so the worker replies to everything it ever
	// dequeues.
	closeMu  sync.RWMutex
	isClosed bool
}

// NewEngine constructs an Engine around the given hardware sink and source.
// Call Run in its own goroutine before Submit-ing requests.
func NewEngine(sink HardwareSink, source HardwareSource, opts ...EngineOption) *Engine {
	e := &Engine{
		ladders:  make(map[string]*ladder),
		defaults: make(map[string]*SetRequest),
		sessions: make(map[SessionID]map[string]struct{}),
		sink:     sink,
		source:   source,
		metrics:  noopMetrics{},
		log:      slog.Default(),
		queueCap: defaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.queue = make(chan queueItem, e.queueCap)
	return e
}

// RegisterSession records a new session with the engine so its touched
// paths can be tracked for rollback on UnregisterSession.
func (e *Engine) RegisterSession(id SessionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[id] = make(map[string]struct{})
}

// UnregisterSession withdraws every live request the session holds,
// restoring the next-best value on each touched path, and forgets the
// session. For every path the closing session forced, the new head after
// withdrawal is written to hardware only if the withdrawn request had been
// the authoritative one.
func (e *Engine) UnregisterSession(ctx context.Context, id SessionID) {
	e.mu.Lock()
	paths := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()

	for path := range paths {
		e.rollback(ctx, id, path)
	}
}

// Submit enqueues a SET for serialized application by the worker and
// blocks until the worker has replied. It returns ErrEngineClosed if Close
// has already been called, and ErrQueueFull if the backlog is saturated.
func (e *Engine) Submit(ctx context.Context, id SessionID, req SetRequest) error {
	if err := ValidateKind(req.Kind); err != nil {
		return err
	}
	if req.Path == "" {
		return ErrInvalidPath
	}

	e.mu.Lock()
	if _, ok := e.sessions[id]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("submit %s: %w", req.Path, ErrUnknownSession)
	}
	e.mu.Unlock()

	req.Origin = id

	reply := make(chan replyMsg, 1)
	item := queueItem{req: &req, reply: reply}

	e.closeMu.RLock()
	if e.isClosed {
		e.closeMu.RUnlock()
		return ErrEngineClosed
	}
	select {
	case e.queue <- item:
		e.closeMu.RUnlock()
		e.metrics.IncQueued()
		e.metrics.SetQueueDepth(len(e.queue))
	default:
		e.closeMu.RUnlock()
		e.metrics.IncRejected("queue_full")
		return ErrQueueFull
	}

	select {
	case r := <-reply:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the work queue until Close pushes the shutdown sentinel,
// applying each SET in turn. It must be started in its own goroutine.
func (e *Engine) Run(ctx context.Context) error {
	for item := range e.queue {
		if item.req == nil {
			// Shutdown sentinel; nothing further to apply.
			if item.reply != nil {
				item.reply <- replyMsg{}
			}
			return nil
		}

		err := e.apply(ctx, item.req)
		e.metrics.SetQueueDepth(len(e.queue))
		if item.reply != nil {
			item.reply <- replyMsg{err: err}
		}
	}
	return nil
}

// apply admits req onto the ladder for its path and converges hardware:
// the new head is written iff its value differs from what hardware is
// already known to hold. A persistent seed takes the request's own value
// rather than the hardware's current one, so its first touch always
// writes to bring hardware in line with the redefined baseline.
func (e *Engine) apply(ctx context.Context, req *SetRequest) error {
	req.AcceptedAt = time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.ladders[req.Path]
	if !ok {
		l = &ladder{}
		e.ladders[req.Path] = l
	}

	// knownVal is the value hardware is already converged to, when the
	// engine can tell: the head before this mutation, or a default just
	// read in from hardware itself. A persistent seed offers no such
	// knowledge, which is exactly why its first touch must write.
	var knownVal Value
	var haveKnown bool
	if h := l.head(); h != nil {
		knownVal, haveKnown = h.Value, true
	}

	if def, ok := e.defaults[req.Path]; !ok {
		def, err := e.seedDefaultLocked(ctx, req)
		if err != nil {
			e.log.Warn("seed default register failed", "path", req.Path, "err", err)
			e.metrics.IncRejected("hardware_read")
			return fmt.Errorf("read default for %s: %w", req.Path, err)
		}
		l.insert(def)
		if !req.Persistent {
			knownVal, haveKnown = def.Value, true
		}
	} else if req.Persistent {
		// A persistent session's write redefines the baseline: withdraw
		// the existing default, overwrite its value, and reinsert it at
		// its new ladder position.
		l.remove(def.Origin)
		def.Value = req.Value
		l.insert(def)
	}

	l.replace(req.Origin, req)
	newHead := l.head()

	if sessPaths, ok := e.sessions[req.Origin]; ok {
		sessPaths[req.Path] = struct{}{}
	}

	if haveKnown && newHead.Value == knownVal {
		return nil
	}

	start := time.Now()
	if err := e.sink.Write(ctx, newHead.Kind, newHead.Path, newHead.Value); err != nil {
		e.metrics.IncRejected("hardware_write")
		return fmt.Errorf("write %s: %w", req.Path, err)
	}
	e.metrics.ObserveWriteLatency(newHead.Kind, time.Since(start))
	e.metrics.IncApplied(newHead.Kind)
	return nil
}

// seedDefaultLocked populates the default register entry for a path the
// first time it is touched. A persistent session's own request seeds the
// default directly; otherwise the current hardware value is read in,
// stamped with a zero AcceptedAt so that any later, real request compares
// ahead of it.
func (e *Engine) seedDefaultLocked(ctx context.Context, req *SetRequest) (*SetRequest, error) {
	if def, ok := e.defaults[req.Path]; ok {
		return def, nil
	}

	var v Value
	if req.Persistent {
		v = req.Value
	} else {
		var err error
		v, err = e.source.Read(ctx, req.Kind, req.Path)
		if err != nil {
			return nil, err
		}
	}
	def := &SetRequest{
		Kind:  req.Kind,
		Path:  req.Path,
		Value: v,
	}
	e.defaults[req.Path] = def
	return def, nil
}

// rollback withdraws session's entry for path and writes the new head to
// hardware only when the withdrawn entry was strictly higher priority, i.e.
// its removal demoted the winner. The comparison happens against the
// withdrawn request before it is dropped, and both the head re-read and the
// conditional write stay under the engine lock so a concurrent worker apply
// on the same path cannot interleave a stale value.
func (e *Engine) rollback(ctx context.Context, session SessionID, path string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.ladders[path]
	if !ok {
		return
	}
	withdrawn, found := l.remove(session)
	if !found {
		return
	}
	newHead := l.head()
	if newHead == nil {
		// The default register entry is never removed by rollback, so a
		// touched path's ladder cannot drain completely.
		return
	}

	if attrValueComp(withdrawn, newHead) < 0 {
		if err := e.sink.Write(ctx, newHead.Kind, newHead.Path, newHead.Value); err != nil {
			e.log.Error("rollback write failed", "path", path, "err", err)
			e.metrics.IncRejected("rollback_write")
			return
		}
		e.metrics.IncApplied(newHead.Kind)
	}
}

// Close pushes the shutdown sentinel and blocks until the worker has
// drained every request queued ahead of it. Submit calls that lose the
// race return ErrEngineClosed; none can land behind the sentinel. Safe to
// call more than once, but Run must be active for the first call to
// return.
func (e *Engine) Close() error {
	e.closeMu.Lock()
	if e.isClosed {
		e.closeMu.Unlock()
		return nil
	}
	e.isClosed = true
	e.closeMu.Unlock()

	done := make(chan replyMsg, 1)
	e.queue <- queueItem{reply: done}
	<-done
	return nil
}
