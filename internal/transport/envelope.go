package transport

import "time"

// Envelope kinds.
const (
	KindMessage = "message"
	KindReply   = "reply"
	KindNotify  = "notify"
	KindStatus  = "status"
)

const (
	// Time allowed to write a frame to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size; image replies are a few tens of KB
	maxMessageSize = 4 << 20

	// Time allowed for the host's status frame after connecting
	statusWait = 10 * time.Second
)

// Envelope is one WebSocket frame. ID correlates a reply with its message;
// the payload is opaque to the transport.
type Envelope struct {
	ID      string  `json:"id,omitempty"`
	Kind    string  `json:"kind"`
	Payload []byte  `json:"payload,omitempty"`
	Status  *Status `json:"status,omitempty"`
}

// Status is the host's state as seen by the companion.
type Status struct {
	AppInstalled bool `json:"appInstalled"`
	NeedsUnlock  bool `json:"needsUnlock"`
}
