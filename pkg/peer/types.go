package peer

// Role distinguishes peers we send media to from peers we receive from.
type Role int

const (
	RolePublisher Role = iota // remote viewer receiving our stream
	RoleViewer                // remote publisher we are receiving from
)

func (r Role) String() string {
	switch r {
	case RolePublisher:
		return "publisher"
	case RoleViewer:
		return "viewer"
	}
	return "unknown"
}

// State is the lifecycle state of a peer connection. New, Connecting and
// Connected count toward the viewer capacity limit; the terminal states
// do not.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// terminal reports whether the state no longer occupies a capacity slot.
func (s State) terminal() bool {
	return s == StateDisconnected || s == StateFailed || s == StateClosed
}

// Signaler sends negotiation messages back to the remote peer. The
// signaling client implements this.
type Signaler interface {
	SendOffer(uuid, session, sdp string) error
	SendAnswer(uuid, session, sdp string) error
	SendICECandidate(uuid, session, candidate, mid string) error
}

// Events receives peer lifecycle and data-channel notifications. Methods
// are invoked from pion callback goroutines; implementations must not
// block for long.
type Events interface {
	// OnPeerConnected fires when a peer transitions into Connected.
	OnPeerConnected(uuid string)
	// OnPeerDisconnected fires when a peer reaches a terminal state,
	// before the peer is removed from the manager.
	OnPeerDisconnected(uuid string)
	// OnDataChannelMessage delivers an inbound data-channel text frame.
	// Binary frames are dropped before reaching this.
	OnDataChannelMessage(uuid string, message string)
}

// NopEvents is an Events implementation that ignores everything.
type NopEvents struct{}

func (NopEvents) OnPeerConnected(string)           {}
func (NopEvents) OnPeerDisconnected(string)        {}
func (NopEvents) OnDataChannelMessage(_, _ string) {}

// Snapshot is a read-only view of one peer for telemetry surfaces.
type Snapshot struct {
	UUID            string `json:"uuid"`
	Role            string `json:"role"`
	State           string `json:"state"`
	DataChannelOpen bool   `json:"dataChannelOpen"`
}
