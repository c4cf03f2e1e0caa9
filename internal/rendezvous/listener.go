// Package rendezvous implements the daemon's local rendezvous endpoint:
// the Unix domain socket clients connect to, peer-credential
// authorization, request-frame demultiplexing, and the session lifecycle
// that ties accepted connections to the arbitration engine.
//
// Where the original daemon drives one select(2) loop across every client
// fd on a single OS thread, this package spawns one goroutine per accepted
// connection -- the Go-idiomatic way to satisfy the same requirement ("the
// Listener never blocks on any single client"). Admission control and
// session-table bookkeeping still happen on a single accept goroutine, so
// the cap check and the log-throttle behavior stay exactly as serialized
// as the original's single thread.
package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"os"
	"sync"

	"github.com/cray-hpe/powerapid/internal/arb"
	"github.com/cray-hpe/powerapid/internal/lifecycle"
	"github.com/cray-hpe/powerapid/internal/permissions"
	"github.com/cray-hpe/powerapid/internal/wire"
)

// Metrics receives session-count and rejection counters. internal/metrics.
// Collector satisfies this in addition to arb.EngineMetrics.
type Metrics interface {
	RegisterSession(role string)
	UnregisterSession(role string)
	IncRejected(reason string)
}

type noopMetrics struct{}

func (noopMetrics) RegisterSession(string)   {}
func (noopMetrics) UnregisterSession(string) {}
func (noopMetrics) IncRejected(string)       {}

// Config controls the rendezvous socket's path, permissions, and the
// admission cap (the design requires >= 256; the reference value is 300).
type Config struct {
	SocketPath  string
	SocketMode  os.FileMode
	MaxSessions int
}

// Listener accepts connections on the rendezvous socket, authenticates
// peers via kernel peer-credentials, demultiplexes request frames, and
// owns the session table that ties live requests back to their owning
// connection.
type Listener struct {
	cfg Config

	engine     *arb.Engine
	oracle     *permissions.Oracle
	markers    *lifecycle.Markers
	verbosity  *Verbosity
	metrics    Metrics
	log        *slog.Logger
	rmRoleName string

	sessions *arb.SessionTable
	conns    sync.Map // arb.SessionID -> *net.UnixConn, for the shutdown forced-disconnect sweep

	ln *net.UnixListener

	admitMu      sync.Mutex
	rejectLogged bool

	wg sync.WaitGroup
}

// Option configures optional Listener dependencies.
type Option func(*Listener)

// WithMetrics attaches a Metrics sink. A nil m is ignored.
func WithMetrics(m Metrics) Option {
	return func(l *Listener) {
		if m != nil {
			l.metrics = m
		}
	}
}

// WithLogger attaches a structured logger. A nil lg is ignored.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Listener) {
		if lg != nil {
			l.log = lg
		}
	}
}

// WithResourceManagerRoleName records the configured declared context name
// for the resource-manager role, used only to annotate AUTH log lines when
// a persistent session's declared name doesn't match the configured one.
func WithResourceManagerRoleName(name string) Option {
	return func(l *Listener) { l.rmRoleName = name }
}

// New constructs a Listener. Call Run to bind the socket and start
// accepting connections.
func New(cfg Config, engine *arb.Engine, oracle *permissions.Oracle, markers *lifecycle.Markers, verbosity *Verbosity, opts ...Option) *Listener {
	l := &Listener{
		cfg:       cfg,
		engine:    engine,
		oracle:    oracle,
		markers:   markers,
		verbosity: verbosity,
		metrics:   noopMetrics{},
		log:       slog.Default(),
		sessions:  arb.NewSessionTable(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run binds the rendezvous socket -- unlinking any stale endpoint first --
// sets its permissions to cfg.SocketMode (world-writable 0666 in the default
// configuration), and accepts connections until ctx
// is canceled. It returns once the accept loop and every spawned
// connection goroutine have exited.
func (l *Listener) Run(ctx context.Context) error {
	_ = os.Remove(l.cfg.SocketPath)

	addr, err := net.ResolveUnixAddr("unix", l.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("resolve rendezvous addr %s: %w", l.cfg.SocketPath, err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("bind rendezvous socket %s: %w", l.cfg.SocketPath, err)
	}
	if err := os.Chmod(l.cfg.SocketPath, l.cfg.SocketMode); err != nil {
		ln.Close()
		return fmt.Errorf("chmod rendezvous socket %s: %w", l.cfg.SocketPath, err)
	}
	l.ln = ln

	l.log.Info("rendezvous listening", slog.String("path", l.cfg.SocketPath), slog.Int("max_sessions", l.cfg.MaxSessions))

	go func() {
		<-ctx.Done()
		ln.Close()
		// Force every live connection closed so each handler goroutine
		// unblocks from its frame read and runs teardown (rollback to
		// baseline) before Run returns.
		l.conns.Range(func(_, v any) bool {
			v.(*net.UnixConn).Close()
			return true
		})
	}()

	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			l.log.Warn("accept failed", slog.String("error", err.Error()))
			continue
		}
		l.accept(ctx, conn)
	}

	l.wg.Wait()
	return nil
}

// Close unlinks the rendezvous socket. Run's own shutdown (via ctx
// cancellation) closes the listener socket itself; Close additionally
// removes the filesystem entry, matching named_socket_destruct.
func (l *Listener) Close() error {
	if err := os.Remove(l.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlink rendezvous socket %s: %w", l.cfg.SocketPath, err)
	}
	return nil
}

// accept authenticates and admits one connection, spawning its handler
// goroutine on success. It runs entirely on the single Accept-loop
// goroutine, so the cap check below never races with another admission.
func (l *Listener) accept(ctx context.Context, conn *net.UnixConn) {
	peer, err := peerCreds(conn)
	if err != nil {
		l.throttledReject(conn, wire.CodeInvalid, "peer credentials unavailable", err)
		return
	}

	allow, err := l.oracle.Allow(peer.UID)
	if err != nil {
		l.throttledReject(conn, wire.CodeFailure, "permissions oracle error", err)
		return
	}
	if !allow {
		l.log.Warn("rejecting connection: uid not permitted", slog.Uint64("uid", uint64(peer.UID)))
		l.rejectOne(conn, wire.CodeNoPerm)
		l.metrics.IncRejected("no_perm")
		return
	}

	if l.sessions.Len() >= l.cfg.MaxSessions {
		l.admitMu.Lock()
		first := !l.rejectLogged
		l.rejectLogged = true
		l.admitMu.Unlock()
		if first {
			l.log.Error("rendezvous session cap reached", slog.Int("max_sessions", l.cfg.MaxSessions))
		}
		l.rejectOne(conn, wire.CodeFailure)
		l.metrics.IncRejected("session_cap")
		return
	}

	l.admitMu.Lock()
	l.rejectLogged = false
	l.admitMu.Unlock()

	sess := l.sessions.Open(peer, 0, "")
	l.engine.RegisterSession(sess.ID)
	l.conns.Store(sess.ID, conn)
	if err := l.markers.MarkDirty(); err != nil {
		l.log.Error("failed to set dirty marker", slog.String("error", err.Error()))
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.handleConn(ctx, conn, sess)
	}()
}

// throttledReject logs at most once per over-cap window before closing a
// connection that never obtained a Session, matching the original's
// err_throttle counter around getsockopt/accept failures.
func (l *Listener) throttledReject(conn *net.UnixConn, code wire.ReturnCode, msg string, err error) {
	l.admitMu.Lock()
	first := !l.rejectLogged
	l.rejectLogged = true
	l.admitMu.Unlock()
	if first {
		l.log.Error(msg, slog.String("error", err.Error()))
	}
	l.rejectOne(conn, code)
}

// rejectOne writes a single response frame carrying code, then closes the
// socket, per the design's "rejected peers receive exactly one response
// frame ... then the socket is closed."
func (l *Listener) rejectOne(conn *net.UnixConn, code wire.ReturnCode) {
	_ = wire.EncodeResponse(conn, wire.Response{Code: code})
	conn.Close()
}

// handleConn reads and dispatches frames for one session until EOF, a
// short read, or a decode error, then tears the session down.
func (l *Listener) handleConn(ctx context.Context, conn *net.UnixConn, sess *arb.Session) {
	defer l.teardown(ctx, conn, sess)

	for {
		req, err := wire.DecodeRequest(conn)
		if err != nil {
			if !errors.Is(err, wire.ErrShortFrame) && !errors.Is(err, io.EOF) {
				l.log.Warn("frame decode error", slog.Uint64("session", uint64(sess.ID)), slog.String("error", err.Error()))
			}
			return
		}

		resp := l.dispatch(ctx, sess, req)
		if resp == nil {
			// SET requests defer their reply to the worker.
			continue
		}
		if err := wire.EncodeResponse(conn, *resp); err != nil {
			l.log.Warn("response encode error", slog.Uint64("session", uint64(sess.ID)), slog.String("error", err.Error()))
			return
		}
	}
}

// dispatch handles one decoded request. It returns a non-nil Response for
// every request type except SET, whose reply arrives asynchronously from
// the worker once the engine has applied it.
func (l *Listener) dispatch(ctx context.Context, sess *arb.Session, req wire.Request) *wire.Response {
	switch req.Type {
	case wire.ReqAuth:
		return l.handleAuth(sess, req)
	case wire.ReqSet:
		l.handleSet(ctx, sess, req)
		return nil
	case wire.ReqLogLevel:
		return l.handleLogLevel(sess, req)
	case wire.ReqDump:
		return l.handleDump(sess)
	default:
		return &wire.Response{Code: wire.CodeInvalid, Sequence: sess.PeekReplySeq()}
	}
}

func (l *Listener) handleAuth(sess *arb.Session, req wire.Request) *wire.Response {
	if sess.Role != 0 {
		l.log.Warn("redundant AUTH request", slog.Uint64("session", uint64(sess.ID)))
		return &wire.Response{Code: wire.CodeInvalid, Sequence: sess.PeekReplySeq()}
	}

	sess.Role = arb.Role(req.Auth.Role)
	sess.ContextName = req.Auth.ContextName
	l.metrics.RegisterSession(sess.Role.String())

	l.log.Debug("session authorized",
		slog.Uint64("session", uint64(sess.ID)),
		slog.Uint64("uid", uint64(sess.Peer.UID)),
		slog.String("role", sess.Role.String()),
		slog.String("context", sess.ContextName),
	)
	if sess.Persistent() && l.rmRoleName != "" && sess.ContextName != l.rmRoleName {
		l.log.Warn("persistent session declared an unexpected context name",
			slog.String("declared", sess.ContextName), slog.String("configured", l.rmRoleName))
	}

	return &wire.Response{Code: wire.CodeSuccess, Sequence: sess.PeekReplySeq()}
}

func (l *Listener) handleSet(ctx context.Context, sess *arb.Session, req wire.Request) {
	if sess.Role == 0 {
		l.writeInvalidSet(sess)
		return
	}

	kind := arb.AttributeKind(req.Set.Kind)
	val := arb.Value{Type: arb.DataType(req.Set.DataType)}
	if val.Type == arb.DataFloat {
		val.Float = float64FromBits(req.Set.Value)
	} else {
		val.Int = req.Set.Value
	}

	setReq := arb.SetRequest{Kind: kind, Path: req.Set.Path, Value: val, Persistent: sess.Persistent()}

	// Submit blocks until the worker has applied the request and replied;
	// the reply we send below carries this session's own sequence number
	// rather than whatever Submit returns, preserving per-session ordering
	// even though Submit's internal channel makes no ordering promise
	// across sessions.
	err := l.engine.Submit(ctx, sess.ID, setReq)
	seq := sess.NextReplySeq()

	code := wire.CodeSuccess
	switch {
	case err == nil:
	case errors.Is(err, arb.ErrInvalidAttribute), errors.Is(err, arb.ErrInvalidPath),
		errors.Is(err, arb.ErrInvalidCstate), errors.Is(err, arb.ErrUnknownSession):
		code = wire.CodeInvalid
	default:
		code = wire.CodeFailure
	}

	if conn, ok := l.connFor(sess.ID); ok {
		_ = wire.EncodeResponse(conn, wire.Response{Code: code, Sequence: seq})
	}
}

func (l *Listener) writeInvalidSet(sess *arb.Session) {
	if conn, ok := l.connFor(sess.ID); ok {
		_ = wire.EncodeResponse(conn, wire.Response{Code: wire.CodeInvalid, Sequence: sess.NextReplySeq()})
	}
}

func (l *Listener) handleLogLevel(sess *arb.Session, req wire.Request) *wire.Response {
	l.verbosity.Set(req.LogLevel.Debug, req.LogLevel.Trace)
	debug, trace := l.verbosity.Get()
	return &wire.Response{
		Code:     wire.CodeSuccess,
		Sequence: sess.PeekReplySeq(),
		LogLevel: wire.LogLevelPayload{Debug: debug, Trace: trace},
	}
}

func (l *Listener) handleDump(sess *arb.Session) *wire.Response {
	if sess.Peer.UID != 0 {
		return &wire.Response{Code: wire.CodeNoPerm, Sequence: sess.PeekReplySeq()}
	}

	for _, st := range l.engine.DumpState() {
		l.log.Info("dump",
			slog.String("path", st.Path),
			slog.String("kind", st.Kind.String()),
			slog.Int("entries", st.Entries),
		)
	}
	l.log.Info("dump complete", slog.Int("sessions", l.sessions.Len()))

	return &wire.Response{Code: wire.CodeSuccess, Sequence: sess.PeekReplySeq()}
}

func (l *Listener) connFor(id arb.SessionID) (*net.UnixConn, bool) {
	v, ok := l.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*net.UnixConn), true
}

// teardown runs rollback for every path the session held, removes it from
// the session table, and clears the dirty marker once the last session has
// gone.
func (l *Listener) teardown(ctx context.Context, conn *net.UnixConn, sess *arb.Session) {
	// Detach from ctx's cancellation: rollback must still run and write
	// the withdrawn path's next-best value to hardware even when teardown
	// was triggered by daemon shutdown, not just an ordinary disconnect.
	l.engine.UnregisterSession(context.WithoutCancel(ctx), sess.ID)
	l.sessions.Close(sess.ID)
	l.conns.Delete(sess.ID)
	conn.Close()

	if sess.Role != 0 {
		l.metrics.UnregisterSession(sess.Role.String())
	}

	if l.sessions.Len() == 0 {
		if err := l.markers.MarkClean(); err != nil {
			l.log.Error("failed to clear dirty marker", slog.String("error", err.Error()))
		}
	}

	l.log.Debug("session closed", slog.Uint64("session", uint64(sess.ID)))
}

// float64FromBits reinterprets the wire's u64 union member as a float64,
// matching the C union's bit-identical overlay of the two fields.
func float64FromBits(bits uint64) float64 {
	return math.Float64frombits(bits)
}
