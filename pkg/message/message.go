// Package message turns inbound WhatsApp events into a wrapper-free canonical view.
package message

import (
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
)

const (
	// UserServer is the JID domain suffix of personal accounts.
	UserServer = "s.whatsapp.net"
	// GroupServer is the JID domain suffix of group chats.
	GroupServer = "g.us"
	// StatusBroadcast is the pseudo chat that carries status updates.
	StatusBroadcast = "status@broadcast"
)

// ContentType identifies which content branch supplied the body text.
type ContentType string

const (
	TypeUnknown      ContentType = "unknown"
	TypePlainText    ContentType = "conversation"
	TypeExtendedText ContentType = "extended_text"
	TypeImage        ContentType = "image"
	TypeVideo        ContentType = "video"
	TypeDocument     ContentType = "document"
	TypeButtonReply  ContentType = "button_reply"
	TypeListReply    ContentType = "list_reply"
	TypeSticker      ContentType = "sticker"
)

// Message is the canonical view of one inbound event. Body is never nil-like:
// content types without text yield an empty string.
type Message struct {
	ID       string
	ChatID   string
	SenderID string
	PushName string
	FromMe   bool
	IsGroup  bool

	Type ContentType
	Body string

	// Quoted is the replied-to message, unwrapped one level deep. Its own
	// Quoted field is always nil.
	Quoted *Message

	// Content is the resolved (unwrapped) protocol payload, nil for unknown shapes.
	Content *waE2E.Message
}

// Ref identifies a message for receipts and reactions.
type Ref struct {
	ID       string
	ChatID   string
	SenderID string
	FromMe   bool
}

// Ref returns the receipt/reaction reference of m.
func (m *Message) Ref() Ref {
	if m == nil {
		return Ref{}
	}

	return Ref{ID: m.ID, ChatID: m.ChatID, SenderID: m.SenderID, FromMe: m.FromMe}
}

// IsStatus reports whether m was posted to the status broadcast pseudo chat.
func (m *Message) IsStatus() bool {
	return m != nil && m.ChatID == StatusBroadcast
}

// HasMedia reports whether the resolved content carries a downloadable attachment.
func (m *Message) HasMedia() bool {
	if m == nil {
		return false
	}

	switch m.Type {
	case TypeImage, TypeVideo, TypeDocument, TypeSticker:
		return true
	default:
		return false
	}
}

// Number returns the user part of a JID with any device suffix removed:
// "94770000000:12@s.whatsapp.net" becomes "94770000000".
func Number(jid string) string {
	user, _, _ := strings.Cut(jid, "@")
	user, _, _ = strings.Cut(user, ":")
	return user
}

// UserJID returns the device-less personal JID for the identity jid.
func UserJID(jid string) string {
	number := Number(jid)
	if number == "" {
		return ""
	}

	return number + "@" + UserServer
}

// IsGroupJID reports whether jid addresses a group chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@"+GroupServer)
}
