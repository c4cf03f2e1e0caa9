package arb

import "sort"

// ladder holds, for a single attribute path, every currently live
// SetRequest ordered by attrValueComp with the head entry authoritative.
// Insertion sequence is the deterministic tie-breaker for requests the
// comparator considers equal, matching the insertion-order stability of a
// sorted linked-list insert.
type ladder struct {
	entries []*SetRequest
}

// insert adds req to the ladder, preserving sort order. Ties keep earlier
// insertions ahead of later ones.
func (l *ladder) insert(req *SetRequest) {
	idx := sort.Search(len(l.entries), func(i int) bool {
		return attrValueComp(l.entries[i], req) > 0
	})
	l.entries = append(l.entries, nil)
	copy(l.entries[idx+1:], l.entries[idx:])
	l.entries[idx] = req
}

// remove deletes the first entry belonging to session on this ladder, if
// any, and reports whether one was found.
func (l *ladder) remove(session SessionID) (*SetRequest, bool) {
	for i, e := range l.entries {
		if e.Origin == session {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return e, true
		}
	}
	return nil, false
}

// replace removes any existing entry for session and inserts req in its
// place, returning the displaced entry if there was one. Used when a
// session issues a second SET for a path it already holds.
func (l *ladder) replace(session SessionID, req *SetRequest) *SetRequest {
	prev, _ := l.remove(session)
	l.insert(req)
	return prev
}

// head returns the authoritative entry, or nil if the ladder is empty.
func (l *ladder) head() *SetRequest {
	if len(l.entries) == 0 {
		return nil
	}
	return l.entries[0]
}
