package signaling

import (
	"fmt"
	"strings"

	"github.com/silviot/vdon_publisher_go/pkg/protocol"
	"github.com/silviot/vdon_publisher_go/pkg/vdoutil"
)

// resolveEffectivePassword applies the precedence an operation password
// goes through: a disabled token turns hashing off entirely, an empty
// password falls back to the client default.
func (c *Client) resolveEffectivePassword(password string) (effective string, disabled bool) {
	trimmed := strings.TrimSpace(password)
	if vdoutil.IsPasswordDisabled(trimmed) {
		return "", true
	}
	if trimmed == "" {
		return c.defaultPassword, false
	}
	return trimmed, false
}

// JoinRoom requests admission to a room, hashing the id when a password is
// active. Fails fast when disconnected.
func (c *Client) JoinRoom(roomID, password string, claimDirector bool) error {
	if !c.connected.Load() {
		return fmt.Errorf("cannot join room: not connected")
	}

	effective, disabled := c.resolveEffectivePassword(password)
	hashedRoom := roomID
	if !disabled {
		hashedRoom = vdoutil.HashRoomID(roomID, effective, c.salt)
	}

	c.stateMu.Lock()
	c.room = roomInfo{roomID: roomID, hashedRoomID: hashedRoom, password: effective}
	if disabled {
		c.room.password = ""
	}
	c.stateMu.Unlock()

	if err := c.enqueue(protocol.JoinRoomRequest(hashedRoom, claimDirector)); err != nil {
		return err
	}
	c.logger.Info("joining room", "room", roomID, "resolved", hashedRoom, "claim", claimDirector)
	return nil
}

// LeaveRoom leaves the current room; a no-op when not joined.
func (c *Client) LeaveRoom() error {
	c.stateMu.Lock()
	joined := c.room.joined
	c.stateMu.Unlock()
	if !joined {
		return nil
	}

	if err := c.enqueue(protocol.LeaveRoomRequest()); err != nil {
		return err
	}
	c.stateMu.Lock()
	c.room = roomInfo{}
	c.stateMu.Unlock()
	c.logger.Info("left room")
	return nil
}

// InRoom reports whether a listing confirmed room admission.
func (c *Client) InRoom() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.room.joined
}

// PublishStream announces our stream as available (seed).
func (c *Client) PublishStream(streamID, password string) error {
	if !c.connected.Load() {
		return fmt.Errorf("cannot publish: not connected")
	}

	effective, disabled := c.resolveEffectivePassword(password)
	hashedStream := streamID
	if !disabled {
		hashedStream = vdoutil.HashStreamID(streamID, effective, c.salt)
	}

	c.stateMu.Lock()
	c.published = streamInfo{
		streamID:       streamID,
		hashedStreamID: hashedStream,
		publishing:     true,
	}
	if !disabled {
		c.published.password = effective
	}
	c.stateMu.Unlock()

	if err := c.enqueue(protocol.SeedRequest(hashedStream)); err != nil {
		return err
	}
	c.logger.Info("publishing stream", "streamID", streamID, "hashed", hashedStream)
	return nil
}

// UnpublishStream withdraws a seeded stream; a no-op when not publishing.
func (c *Client) UnpublishStream() error {
	c.stateMu.Lock()
	if !c.published.publishing {
		c.stateMu.Unlock()
		return nil
	}
	hashed := c.published.hashedStreamID
	c.stateMu.Unlock()

	if err := c.enqueue(protocol.UnseedRequest(hashed)); err != nil {
		return err
	}
	c.stateMu.Lock()
	c.published = streamInfo{}
	c.stateMu.Unlock()
	c.logger.Info("unpublished stream")
	return nil
}

// IsPublishing reports whether a seed request is outstanding.
func (c *Client) IsPublishing() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.published.publishing
}

// PublishedStreamID returns the plaintext id of the seeded stream.
func (c *Client) PublishedStreamID() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.published.streamID
}

// ViewStream asks the publisher of streamID for an offer (play).
func (c *Client) ViewStream(streamID, password string) error {
	if !c.connected.Load() {
		return fmt.Errorf("cannot view stream: not connected")
	}

	effective, disabled := c.resolveEffectivePassword(password)
	hashedStream := streamID
	if !disabled {
		hashedStream = vdoutil.HashStreamID(streamID, effective, c.salt)
	}

	info := streamInfo{
		streamID:       streamID,
		hashedStreamID: hashedStream,
		viewing:        true,
	}
	if !disabled {
		info.password = effective
	}
	c.stateMu.Lock()
	c.viewing[streamID] = info
	c.stateMu.Unlock()

	if err := c.enqueue(protocol.PlayRequest(hashedStream)); err != nil {
		return err
	}
	c.logger.Info("requesting to view stream", "streamID", streamID, "hashed", hashedStream)
	return nil
}

// StopViewing stops playback of streamID; a no-op when not viewing it.
func (c *Client) StopViewing(streamID string) error {
	c.stateMu.Lock()
	info, ok := c.viewing[streamID]
	if ok {
		delete(c.viewing, streamID)
	}
	c.stateMu.Unlock()
	if !ok {
		return nil
	}

	if err := c.enqueue(protocol.StopPlayRequest(info.hashedStreamID)); err != nil {
		return err
	}
	c.logger.Info("stopped viewing stream", "streamID", streamID)
	return nil
}

// activePassword returns the password that applies to negotiation payload
// encryption: published stream first, then any viewed stream, then the
// room.
func (c *Client) activePassword() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.published.publishing && c.published.password != "" {
		return c.published.password
	}
	for _, info := range c.viewing {
		if info.viewing && info.password != "" {
			return info.password
		}
	}
	if c.room.joined && c.room.password != "" {
		return c.room.password
	}
	return ""
}

// SendOffer relays a local SDP offer, encrypted when a password is active.
// Encryption failure falls back to plaintext with a warning.
func (c *Client) SendOffer(uuid, session, sdp string) error {
	c.stateMu.Lock()
	hashedStream := ""
	if c.published.publishing {
		hashedStream = c.published.hashedStreamID
	}
	c.stateMu.Unlock()

	env := c.descriptionEnvelope(uuid, session, "offer", sdp)
	if hashedStream != "" {
		env["streamID"] = hashedStream
	}
	if err := c.enqueue(env); err != nil {
		return err
	}
	c.logger.Debug("sent offer", "uuid", uuid)
	return nil
}

// SendAnswer relays a local SDP answer.
func (c *Client) SendAnswer(uuid, session, sdp string) error {
	if err := c.enqueue(c.descriptionEnvelope(uuid, session, "answer", sdp)); err != nil {
		return err
	}
	c.logger.Debug("sent answer", "uuid", uuid)
	return nil
}

func (c *Client) descriptionEnvelope(uuid, session, sdpType, sdp string) protocol.Envelope {
	if password := c.activePassword(); password != "" {
		cipherHex, vectorHex, err := protocol.Encrypt(protocol.DescriptionPayload(sdpType, sdp), password+c.salt)
		if err == nil {
			return protocol.EncryptedDescriptionEnvelope(uuid, session, cipherHex, vectorHex)
		}
		c.logger.Warn("failed to encrypt SDP; sending plaintext", "type", sdpType, "error", err)
	}
	return protocol.DescriptionEnvelope(uuid, session, sdpType, sdp)
}

// SendICECandidate relays one locally gathered candidate.
func (c *Client) SendICECandidate(uuid, session, candidate, mid string) error {
	var env protocol.Envelope
	if password := c.activePassword(); password != "" {
		cipherHex, vectorHex, err := protocol.Encrypt(protocol.CandidatePayload(candidate, mid), password+c.salt)
		if err == nil {
			env = protocol.EncryptedCandidateEnvelope(uuid, session, cipherHex, vectorHex)
		} else {
			c.logger.Warn("failed to encrypt ICE candidate; sending plaintext", "error", err)
		}
	}
	if env == nil {
		env = protocol.CandidateEnvelope(uuid, session, candidate, mid)
	}
	if err := c.enqueue(env); err != nil {
		return err
	}
	c.logger.Debug("sent ICE candidate", "uuid", uuid)
	return nil
}
