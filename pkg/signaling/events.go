package signaling

// Events is the sink for everything the signaling client reports. One
// method per event kind; implementations are injected at construction so
// the client never holds mutable callback fields.
type Events interface {
	// OnConnected fires after each successful (re)connect.
	OnConnected()
	// OnDisconnected fires exactly once per successful prior connect.
	OnDisconnected()
	// OnError reports transport failures and server alerts.
	OnError(msg string)
	// OnOfferRequest reports a viewer asking us to send an offer.
	OnOfferRequest(uuid, session string)
	// OnOffer reports an inbound SDP offer (viewing role).
	OnOffer(uuid, session, sdp string)
	// OnAnswer reports an inbound SDP answer for one of our offers.
	OnAnswer(uuid, session, sdp string)
	// OnICECandidate reports one remote candidate; bundles fan out here in
	// arrival order.
	OnICECandidate(uuid, session, candidate, mid string)
	// OnRoomListing reports room membership after admission.
	OnRoomListing(members []string)
	// OnStreamAdded and OnStreamRemoved report room membership changes.
	OnStreamAdded(streamID, uuid string)
	OnStreamRemoved(streamID, uuid string)
}

// NopEvents implements Events with no-ops, for embedding by consumers that
// only care about a subset.
type NopEvents struct{}

func (NopEvents) OnConnected()                            {}
func (NopEvents) OnDisconnected()                         {}
func (NopEvents) OnError(string)                          {}
func (NopEvents) OnOfferRequest(string, string)           {}
func (NopEvents) OnOffer(string, string, string)          {}
func (NopEvents) OnAnswer(string, string, string)         {}
func (NopEvents) OnICECandidate(string, string, string, string) {}
func (NopEvents) OnRoomListing([]string)                  {}
func (NopEvents) OnStreamAdded(string, string)            {}
func (NopEvents) OnStreamRemoved(string, string)          {}

var _ Events = NopEvents{}
