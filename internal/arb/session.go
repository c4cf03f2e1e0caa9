package arb

import (
	"sync"
	"sync/atomic"
	"time"
)

// Role identifies the declared purpose of a connecting peer. Only
// RoleResourceManager sessions, when also running as the superuser, are
// eligible to seed the default register directly from their own request
// (the "persistent session" rule).
type Role uint8

const (
	// RoleClient is an ordinary application or tool session.
	RoleClient Role = iota + 1

	// RoleResourceManager identifies the batch resource manager's
	// connection. Combined with peer uid 0 this session is persistent.
	RoleResourceManager
)

// String returns the human-readable role name.
func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleResourceManager:
		return "resource-manager"
	default:
		return "unknown"
	}
}

// PeerCreds carries the kernel-verified identity of a connecting peer, as
// obtained from the rendezvous socket's peer-credential lookup.
type PeerCreds struct {
	UID uint32
	GID uint32
	PID int32
}

// Session is the engine's record of one connected client: its verified
// identity, declared role and context name, and a reply-sequencing
// counter. The set of attribute paths a session currently forces lives in
// Engine.sessions, keyed by the same SessionID, to keep the one lock that
// guards the ladder also guarding membership.
type Session struct {
	ID          SessionID
	Peer        PeerCreds
	Role        Role
	ContextName string
	OpenedAt    time.Time

	replySeq atomic.Uint64
}

// Persistent reports whether this session is eligible to seed default
// register entries directly, per the design's persistent-session rule:
// superuser and declared as the resource manager.
func (s *Session) Persistent() bool {
	return s.Peer.UID == 0 && s.Role == RoleResourceManager
}

// NextReplySeq returns the next monotonically increasing reply sequence
// number for this session. The first call returns 0. Only SET replies
// consume the counter: a client issuing N SETs sees sequences 0..N-1 in
// issue order regardless of any interleaved AUTH, LOGLEVEL, or DUMP
// round trips.
func (s *Session) NextReplySeq() uint64 {
	return s.replySeq.Add(1) - 1
}

// PeekReplySeq returns the sequence the next SET reply will carry,
// without consuming it. Inline (non-SET) replies report this value.
func (s *Session) PeekReplySeq() uint64 {
	return s.replySeq.Load()
}

// SessionTable allocates SessionIDs and owns the Session records
// themselves; Engine separately tracks which attribute paths each ID
// currently forces. Splitting the two mirrors the design's separation
// between "who is connected" (Listener's concern) and "what do they hold"
// (Worker's concern), while sharing the same identifier space.
type SessionTable struct {
	mu       sync.RWMutex
	sessions map[SessionID]*Session
	nextID   atomic.Uint64
}

// NewSessionTable constructs an empty SessionTable.
func NewSessionTable() *SessionTable {
	return &SessionTable{sessions: make(map[SessionID]*Session)}
}

// Open registers a new session with the given verified peer credentials,
// role, and context name, returning its record.
func (t *SessionTable) Open(peer PeerCreds, role Role, contextName string) *Session {
	id := SessionID(t.nextID.Add(1))
	s := &Session{
		ID:          id,
		Peer:        peer,
		Role:        role,
		ContextName: contextName,
		OpenedAt:    time.Now(),
	}

	t.mu.Lock()
	t.sessions[id] = s
	t.mu.Unlock()

	return s
}

// Close removes the session record. It does not perform rollback; callers
// invoke Engine.UnregisterSession first and then SessionTable.Close.
func (t *SessionTable) Close(id SessionID) {
	t.mu.Lock()
	delete(t.sessions, id)
	t.mu.Unlock()
}

// Get returns the session record for id, if it is still open.
func (t *SessionTable) Get(id SessionID) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Len reports the number of currently open sessions, used to enforce the
// admission cap and to detect the "daemon is clean" all-closed condition.
func (t *SessionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
