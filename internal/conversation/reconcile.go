package conversation

import "sync"

// ReplyTicket identifies one send from the moment it is issued until its
// settlement refresh has run.
type ReplyTicket struct {
	id uint64
}

// ReplySink receives the reply audio of sends.
type ReplySink interface {
	Begin() ReplyTicket
	Offer(uri string, t ReplyTicket)
	Done(t ReplyTicket)
}

type ticketState struct {
	advances  uint64
	contested bool
}

// ReconcileBuffer joins reply audio with the assistant turn it belongs to.
// Audio arrives with the send response; the turn id only appears after the
// next cache refresh, so the audio waits here until then.
type ReconcileBuffer struct {
	mu       sync.Mutex
	pending  string
	lastSeen string
	// advances counts marker moves to a new turn id.
	advances uint64
	bindings map[string]string
	active   map[uint64]*ticketState
	nextID   uint64
	// retry binds audio that arrives after the refresh already advanced the
	// marker, for sends no other send overlapped.
	retry    bool
	observer Observer
}

func NewReconcileBuffer(retry bool, observer Observer) *ReconcileBuffer {
	return &ReconcileBuffer{
		bindings: make(map[string]string),
		active:   make(map[uint64]*ticketState),
		retry:    retry,
		observer: observerOrNop(observer),
	}
}

// Begin opens a ticket for a send about to be issued. Sends whose
// lifetimes overlap contest each other.
func (b *ReconcileBuffer) Begin() ReplyTicket {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	st := &ticketState{advances: b.advances}
	if len(b.active) > 0 {
		st.contested = true
		for _, other := range b.active {
			other.contested = true
		}
	}
	b.active[b.nextID] = st
	return ReplyTicket{id: b.nextID}
}

// Done closes t once its settlement refresh has run.
func (b *ReconcileBuffer) Done(t ReplyTicket) {
	b.mu.Lock()
	delete(b.active, t.id)
	b.mu.Unlock()
}

// Offer stores uri as the unclaimed reply audio of t, replacing any
// previous one.
func (b *ReconcileBuffer) Offer(uri string, t ReplyTicket) {
	if uri == "" {
		return
	}
	b.mu.Lock()
	b.pending = uri
	bound := false
	if b.retry && b.ownsAdvanceLocked(t) {
		if _, taken := b.bindings[b.lastSeen]; !taken {
			b.bindLocked(b.lastSeen)
			bound = true
		}
	}
	b.mu.Unlock()

	b.observer.ReconcileEvent("offered")
	if bound {
		b.observer.ReconcileEvent("retry_bound")
	}
}

// ownsAdvanceLocked reports whether the marker moved exactly once while t
// was the only send in flight, so the new turn can only be t's reply.
func (b *ReconcileBuffer) ownsAdvanceLocked(t ReplyTicket) bool {
	st, ok := b.active[t.id]
	if !ok || st.contested || b.lastSeen == "" {
		return false
	}
	return b.advances-st.advances == 1
}

// Observe feeds the latest assistant turn id seen in the conversation and
// reports whether it bound the pending audio.
func (b *ReconcileBuffer) Observe(latestAssistantID string) bool {
	if latestAssistantID == "" {
		return false
	}
	b.mu.Lock()
	if latestAssistantID == b.lastSeen {
		b.mu.Unlock()
		return false
	}
	if b.pending == "" {
		b.advanceLocked(latestAssistantID)
		b.mu.Unlock()
		return false
	}
	if _, taken := b.bindings[latestAssistantID]; taken {
		b.mu.Unlock()
		return false
	}
	b.bindLocked(latestAssistantID)
	b.mu.Unlock()

	b.observer.ReconcileEvent("bound")
	return true
}

func (b *ReconcileBuffer) advanceLocked(turnID string) {
	if turnID != b.lastSeen {
		b.lastSeen = turnID
		b.advances++
	}
}

func (b *ReconcileBuffer) bindLocked(turnID string) {
	b.bindings[turnID] = b.pending
	b.advanceLocked(turnID)
	b.pending = ""
}

// Binding returns the audio bound to turnID.
func (b *ReconcileBuffer) Binding(turnID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	uri, ok := b.bindings[turnID]
	return uri, ok
}

// Bindings returns a copy of every binding.
func (b *ReconcileBuffer) Bindings() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.bindings))
	for k, v := range b.bindings {
		out[k] = v
	}
	return out
}

// Pending returns the unclaimed audio, if any.
func (b *ReconcileBuffer) Pending() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending, b.pending != ""
}

// Reset forgets unclaimed audio and the marker when the conversation changes.
// Sends still in flight lose their retry. Bindings are keyed by globally
// unique turn ids and survive.
func (b *ReconcileBuffer) Reset() {
	b.mu.Lock()
	b.pending = ""
	b.lastSeen = ""
	for _, st := range b.active {
		st.contested = true
	}
	b.mu.Unlock()
}

type nopReplies struct{}

func (nopReplies) Begin() ReplyTicket        { return ReplyTicket{} }
func (nopReplies) Offer(string, ReplyTicket) {}
func (nopReplies) Done(ReplyTicket)          {}
