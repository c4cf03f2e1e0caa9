package arb

// PathState summarizes one attribute path's ladder for diagnostic dumps:
// the default-register value, the value of the authoritative head, and
// the number of ladder entries. The individual live requests are not
// listed.
type PathState struct {
	Path    string
	Kind    AttributeKind
	Default Value
	Head    Value
	Entries int
}

// DumpState returns a snapshot of every touched attribute path, for the
// root-only DUMP request. It takes the engine lock for the duration of the
// snapshot; callers must not call it from inside apply/rollback.
func (e *Engine) DumpState() []PathState {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]PathState, 0, len(e.ladders))
	for path, l := range e.ladders {
		st := PathState{Path: path, Entries: len(l.entries)}
		if def, ok := e.defaults[path]; ok {
			st.Kind = def.Kind
			st.Default = def.Value
		}
		if h := l.head(); h != nil {
			st.Head = h.Value
			st.Kind = h.Kind
		}
		out = append(out, st)
	}
	return out
}

// SessionCount reports how many sessions are currently registered with the
// engine. The listener's dirty-marker decision uses its own session table's
// Len rather than this count.
func (e *Engine) SessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}
