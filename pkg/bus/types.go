package bus

import (
	"time"

	"go.mau.fi/whatsmeow/types/events"
)

// InboundMessage is one raw protocol event waiting for dispatch.
type InboundMessage struct {
	Channel    string          `json:"channel"`
	Event      *events.Message `json:"-"`
	ReceivedAt time.Time       `json:"received_at"`
}

// MessageID returns the protocol id of the carried event, or "".
func (m InboundMessage) MessageID() string {
	if m.Event == nil {
		return ""
	}

	return m.Event.Info.ID
}
