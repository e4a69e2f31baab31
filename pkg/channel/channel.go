package channel

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"ghostbot/pkg/message"
)

// Conn is the send-side surface handlers and the dispatcher use to talk back
// to the chat network.
type Conn interface {
	Send(ctx context.Context, chatID string, payload Payload, opts SendOptions) (Sent, error)
	MarkRead(ctx context.Context, refs ...message.Ref) error
	SelfID() string
	GroupMetadata(ctx context.Context, chatID string) (*GroupMetadata, error)
}

// Payload is one outbound message. Exactly one field should be set; when
// several are set the first in declaration order wins.
type Payload struct {
	Text     string
	Image    *Media
	Video    *Media
	Document *Media
	Sticker  *Media
	Reaction *Reaction
}

// Kind names the populated payload branch, or "empty".
func (p Payload) Kind() string {
	switch {
	case p.Text != "":
		return "text"
	case p.Image != nil:
		return "image"
	case p.Video != nil:
		return "video"
	case p.Document != nil:
		return "document"
	case p.Sticker != nil:
		return "sticker"
	case p.Reaction != nil:
		return "reaction"
	default:
		return "empty"
	}
}

// Media is an attachment given either by URL (fetched before upload) or raw bytes.
type Media struct {
	URL      string
	Data     []byte
	Caption  string
	Mimetype string
	FileName string
}

// Reaction reacts to Target with Emoji. An empty Emoji removes a reaction.
type Reaction struct {
	Emoji  string
	Target message.Ref
}

// SendOptions carries per-send modifiers.
type SendOptions struct {
	// Quoted makes the outbound message a reply to this message.
	Quoted *message.Message
}

// Sent is the handle of a delivered message.
type Sent struct {
	ID        string
	Timestamp time.Time
}

// GroupMetadata is the subset of group info the dispatcher exposes to handlers.
type GroupMetadata struct {
	ID           string
	Subject      string
	Participants []Participant
}

// Participant is one group member.
type Participant struct {
	ID           string
	IsAdmin      bool
	IsSuperAdmin bool
}

// Admins returns the member ids holding admin or super-admin rights.
func (g *GroupMetadata) Admins() []string {
	if g == nil {
		return nil
	}

	admins := make([]string, 0, len(g.Participants))
	for _, p := range g.Participants {
		if p.IsAdmin || p.IsSuperAdmin {
			admins = append(admins, p.ID)
		}
	}

	return admins
}

// State is a connection lifecycle state.
type State string

const (
	StateOpen      State = "open"
	StateClosed    State = "closed"
	StateLoggedOut State = "logged_out"
)

// StateChange is published whenever the connection opens or drops.
type StateChange struct {
	State  State
	Reason string
}

// Handlers receives everything an adapter observes. Either field may be nil.
type Handlers struct {
	Message func(context.Context, *events.Message)
	State   func(context.Context, StateChange)
}

// Adapter owns one chat network connection: its lifecycle, its credentials and
// the delivery of inbound events.
type Adapter interface {
	Conn
	Name() string
	Run(context.Context, Handlers) error
}
