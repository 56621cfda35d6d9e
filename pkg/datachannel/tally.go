package datachannel

import "sync"

// Tracker keeps per-peer tally and mute state and exposes an aggregate
// view. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	local  TallyState
	peers  map[string]TallyState
	muted  map[string]MuteState
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		peers: make(map[string]TallyState),
		muted: make(map[string]MuteState),
	}
}

// SetLocal stores our own tally state.
func (t *Tracker) SetLocal(state TallyState) {
	t.mu.Lock()
	t.local = state
	t.mu.Unlock()
}

// Local returns our own tally state.
func (t *Tracker) Local() TallyState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

// UpdateTally records a peer's reported tally state.
func (t *Tracker) UpdateTally(uuid string, state TallyState) {
	t.mu.Lock()
	t.peers[uuid] = state
	t.mu.Unlock()
}

// UpdateMute records a peer's reported mute flags.
func (t *Tracker) UpdateMute(uuid string, state MuteState) {
	t.mu.Lock()
	t.muted[uuid] = state
	t.mu.Unlock()
}

// PeerTally returns the last tally reported by uuid, zero when unknown.
func (t *Tracker) PeerTally(uuid string) TallyState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peers[uuid]
}

// Remove forgets a peer, e.g. after it disconnects.
func (t *Tracker) Remove(uuid string) {
	t.mu.Lock()
	delete(t.peers, uuid)
	delete(t.muted, uuid)
	t.mu.Unlock()
}

// Aggregate ORs tally flags across all tracked peers: if any viewer has
// us on program, we are on program.
func (t *Tracker) Aggregate() TallyState {
	t.mu.Lock()
	defer t.mu.Unlock()
	var agg TallyState
	for _, state := range t.peers {
		agg.Program = agg.Program || state.Program
		agg.Preview = agg.Preview || state.Preview
	}
	return agg
}
