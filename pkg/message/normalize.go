package message

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// maxUnwrapDepth bounds wrapper descent; deeper payloads are treated as unknown.
const maxUnwrapDepth = 8

// Normalize converts evt into a canonical message. self is the bot's own JID
// (device suffix allowed) and is used for messages sent by the bot itself.
// It never panics: malformed or missing fields degrade to empty values.
func Normalize(evt *events.Message, self string) *Message {
	if evt == nil {
		return &Message{Type: TypeUnknown}
	}

	chat := evt.Info.Chat.String()
	if evt.Info.Chat.IsEmpty() {
		chat = ""
	}

	msg := &Message{
		ID:       evt.Info.ID,
		ChatID:   chat,
		PushName: evt.Info.PushName,
		FromMe:   evt.Info.IsFromMe,
		IsGroup:  IsGroupJID(chat),
	}
	msg.SenderID = senderID(msg, evt, self)

	content := Unwrap(evt.Message)
	msg.Content = content
	msg.Type, msg.Body = Classify(content)
	msg.Quoted = quoted(content, msg.ChatID, self)

	return msg
}

func senderID(msg *Message, evt *events.Message, self string) string {
	switch {
	case msg.FromMe:
		return UserJID(self)
	case msg.IsGroup || msg.IsStatus():
		if evt.Info.Sender.IsEmpty() {
			return ""
		}
		return evt.Info.Sender.ToNonAD().String()
	default:
		return msg.ChatID
	}
}

// Unwrap descends through ephemeral, view-once and document-with-caption
// wrappers. It returns nil when the payload is missing, when a wrapper has no
// nested message, or when the nesting exceeds maxUnwrapDepth.
func Unwrap(content *waE2E.Message) *waE2E.Message {
	current := content
	for range maxUnwrapDepth {
		if current == nil {
			return nil
		}

		inner, wrapped := nested(current)
		if !wrapped {
			return current
		}
		if inner == nil {
			return nil
		}
		current = inner
	}

	if _, wrapped := nested(current); wrapped {
		return nil
	}
	return current
}

// nested reports whether m is a wrapper layer and returns its payload.
func nested(m *waE2E.Message) (*waE2E.Message, bool) {
	switch {
	case m.EphemeralMessage != nil:
		return m.GetEphemeralMessage().GetMessage(), true
	case m.ViewOnceMessage != nil:
		return m.GetViewOnceMessage().GetMessage(), true
	case m.ViewOnceMessageV2 != nil:
		return m.GetViewOnceMessageV2().GetMessage(), true
	case m.ViewOnceMessageV2Extension != nil:
		return m.GetViewOnceMessageV2Extension().GetMessage(), true
	case m.DocumentWithCaptionMessage != nil:
		return m.GetDocumentWithCaptionMessage().GetMessage(), true
	default:
		return nil, false
	}
}

// Classify picks the content type of an unwrapped payload by fixed priority
// and extracts its body text.
func Classify(m *waE2E.Message) (ContentType, string) {
	if m == nil {
		return TypeUnknown, ""
	}

	switch {
	case m.Conversation != nil:
		return TypePlainText, m.GetConversation()
	case m.ExtendedTextMessage != nil:
		return TypeExtendedText, m.GetExtendedTextMessage().GetText()
	case m.ImageMessage != nil:
		return TypeImage, m.GetImageMessage().GetCaption()
	case m.VideoMessage != nil:
		return TypeVideo, m.GetVideoMessage().GetCaption()
	case m.DocumentMessage != nil:
		doc := m.GetDocumentMessage()
		if caption := doc.GetCaption(); caption != "" {
			return TypeDocument, caption
		}
		return TypeDocument, doc.GetFileName()
	case m.ButtonsResponseMessage != nil:
		reply := m.GetButtonsResponseMessage()
		if id := reply.GetSelectedButtonID(); id != "" {
			return TypeButtonReply, id
		}
		return TypeButtonReply, reply.GetSelectedDisplayText()
	case m.TemplateButtonReplyMessage != nil:
		reply := m.GetTemplateButtonReplyMessage()
		if id := reply.GetSelectedID(); id != "" {
			return TypeButtonReply, id
		}
		return TypeButtonReply, reply.GetSelectedDisplayText()
	case m.ListResponseMessage != nil:
		return TypeListReply, m.GetListResponseMessage().GetSingleSelectReply().GetSelectedRowID()
	case m.StickerMessage != nil:
		return TypeSticker, ""
	default:
		return TypeUnknown, ""
	}
}

// contextInfo returns the reply metadata of the content branch, if any.
func contextInfo(m *waE2E.Message) *waE2E.ContextInfo {
	if m == nil {
		return nil
	}

	switch {
	case m.ExtendedTextMessage != nil:
		return m.GetExtendedTextMessage().GetContextInfo()
	case m.ImageMessage != nil:
		return m.GetImageMessage().GetContextInfo()
	case m.VideoMessage != nil:
		return m.GetVideoMessage().GetContextInfo()
	case m.DocumentMessage != nil:
		return m.GetDocumentMessage().GetContextInfo()
	case m.ButtonsResponseMessage != nil:
		return m.GetButtonsResponseMessage().GetContextInfo()
	case m.TemplateButtonReplyMessage != nil:
		return m.GetTemplateButtonReplyMessage().GetContextInfo()
	case m.ListResponseMessage != nil:
		return m.GetListResponseMessage().GetContextInfo()
	case m.StickerMessage != nil:
		return m.GetStickerMessage().GetContextInfo()
	default:
		return nil
	}
}

// quoted builds the one-level quoted view from the content's reply metadata.
func quoted(content *waE2E.Message, chat, self string) *Message {
	info := contextInfo(content)
	if info == nil || info.GetQuotedMessage() == nil {
		return nil
	}

	inner := Unwrap(info.GetQuotedMessage())
	q := &Message{
		ID:       info.GetStanzaID(),
		ChatID:   chat,
		SenderID: info.GetParticipant(),
		IsGroup:  IsGroupJID(chat),
		Content:  inner,
	}
	if remote := info.GetRemoteJID(); remote != "" {
		q.ChatID = remote
		q.IsGroup = IsGroupJID(remote)
	}
	if q.SenderID == "" && !q.IsGroup {
		q.SenderID = q.ChatID
	}
	if selfNumber := Number(self); selfNumber != "" {
		q.FromMe = Number(q.SenderID) == selfNumber
	}
	q.Type, q.Body = Classify(inner)

	return q
}
