package domain

import "time"

// Channel identifies where a message entered or leaves the system.
type Channel string

const (
	ChannelWeb   Channel = "web"
	ChannelChat  Channel = "chat"
	ChannelEmail Channel = "email"
	ChannelAPI   Channel = "api"
)

// KnownChannels lists every channel the gateway accepts.
var KnownChannels = []Channel{ChannelWeb, ChannelChat, ChannelEmail, ChannelAPI}

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelWeb, ChannelChat, ChannelEmail, ChannelAPI:
		return true
	}
	return false
}

// Direction marks an envelope as inbound (user → bot) or outbound (bot → user).
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Envelope is the canonical message representation. The gateway creates one
// per inbound event; the dialog manager produces one per response. Envelopes
// are treated as immutable after construction.
type Envelope struct {
	Channel       Channel
	SessionKey    string
	Direction     Direction
	Body          string
	Attachments   [][]byte // opaque blobs, never interpreted by the core
	Timestamp     time.Time
	CorrelationID string // correlates one inbound turn with its response
}
