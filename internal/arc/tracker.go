package arc

import "sync"

// Tracker keeps one arc per conversation id.
type Tracker struct {
	mu    sync.RWMutex
	state map[string]State
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{state: make(map[string]State)}
}

// Get returns the arc for a conversation, or an empty arc.
func (t *Tracker) Get(conversationID string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state[conversationID]
}

// Append applies a turn to a conversation's arc and returns the new state and
// any escalations it triggered.
func (t *Tracker) Append(conversationID string, turn Turn) (State, []Escalation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next, triggered := Append(t.state[conversationID], turn)
	t.state[conversationID] = next
	return next, triggered
}

// RecordScopeExpansion flags a scope expansion on a conversation.
func (t *Tracker) RecordScopeExpansion(conversationID, details string) *Escalation {
	t.mu.Lock()
	defer t.mu.Unlock()
	next, e := RecordScopeExpansion(t.state[conversationID], details)
	t.state[conversationID] = next
	return e
}

// Reset clears a conversation's arc at an explicit conversation boundary.
func (t *Tracker) Reset(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.state, conversationID)
}
