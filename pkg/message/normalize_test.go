package message

import (
	"testing"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

const (
	selfJID   = "94770000000:12@s.whatsapp.net"
	userJID   = "94711111111@s.whatsapp.net"
	memberJID = "94722222222@s.whatsapp.net"
	groupJID  = "120363000000000000@g.us"
)

func directEvent(t *testing.T, content *waE2E.Message) *events.Message {
	t.Helper()
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:   mustJID(t, userJID),
				Sender: mustJID(t, userJID),
			},
			ID:       "MSG1",
			PushName: "Kasun",
		},
		Message: content,
	}
}

func groupEvent(t *testing.T, content *waE2E.Message) *events.Message {
	t.Helper()
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:    mustJID(t, groupJID),
				Sender:  mustJID(t, "94722222222:3@s.whatsapp.net"),
				IsGroup: true,
			},
			ID: "MSG2",
		},
		Message: content,
	}
}

func mustJID(t *testing.T, raw string) types.JID {
	t.Helper()
	jid, err := types.ParseJID(raw)
	if err != nil {
		t.Fatalf("parse jid %q: %v", raw, err)
	}
	return jid
}

func TestClassifyPriorityAndBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		content  *waE2E.Message
		wantType ContentType
		wantBody string
	}{
		{"conversation", &waE2E.Message{Conversation: proto.String(".ping")}, TypePlainText, ".ping"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hi")}}, TypeExtendedText, "hi"},
		{"image caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")}}, TypeImage, "look"},
		{"image without caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, TypeImage, ""},
		{"video caption", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{Caption: proto.String("clip")}}, TypeVideo, "clip"},
		{"document caption", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{Caption: proto.String("cv"), FileName: proto.String("cv.pdf")}}, TypeDocument, "cv"},
		{"document filename", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{FileName: proto.String("cv.pdf")}}, TypeDocument, "cv.pdf"},
		{"button reply", &waE2E.Message{ButtonsResponseMessage: &waE2E.ButtonsResponseMessage{SelectedButtonID: proto.String(".menu")}}, TypeButtonReply, ".menu"},
		{"template reply", &waE2E.Message{TemplateButtonReplyMessage: &waE2E.TemplateButtonReplyMessage{SelectedID: proto.String(".alive")}}, TypeButtonReply, ".alive"},
		{"list reply", &waE2E.Message{ListResponseMessage: &waE2E.ListResponseMessage{
			SingleSelectReply: &waE2E.ListResponseMessage_SingleSelectReply{SelectedRowID: proto.String(".song x")},
		}}, TypeListReply, ".song x"},
		{"list reply without selection", &waE2E.Message{ListResponseMessage: &waE2E.ListResponseMessage{}}, TypeListReply, ""},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, TypeSticker, ""},
		{"text wins over image", &waE2E.Message{Conversation: proto.String("a"), ImageMessage: &waE2E.ImageMessage{Caption: proto.String("b")}}, TypePlainText, "a"},
		{"unknown", &waE2E.Message{LocationMessage: &waE2E.LocationMessage{}}, TypeUnknown, ""},
		{"empty", &waE2E.Message{}, TypeUnknown, ""},
		{"nil", nil, TypeUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gotType, gotBody := Classify(tt.content)
			if gotType != tt.wantType || gotBody != tt.wantBody {
				t.Fatalf("Classify = (%q, %q), want (%q, %q)", gotType, gotBody, tt.wantType, tt.wantBody)
			}
		})
	}
}

func TestUnwrapNestedWrappers(t *testing.T) {
	t.Parallel()

	inner := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String(".sticker")}}
	wrapped := &waE2E.Message{EphemeralMessage: &waE2E.FutureProofMessage{
		Message: &waE2E.Message{ViewOnceMessageV2: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{ViewOnceMessageV2Extension: &waE2E.FutureProofMessage{Message: inner}},
		}},
	}}

	msg := Normalize(directEvent(t, wrapped), selfJID)
	if msg.Type != TypeImage || msg.Body != ".sticker" {
		t.Fatalf("normalized = (%q, %q), want image with caption", msg.Type, msg.Body)
	}
	if msg.Content != inner {
		t.Fatal("expected resolved content to be the innermost payload")
	}
}

func TestUnwrapDocumentWithCaption(t *testing.T) {
	t.Parallel()

	wrapped := &waE2E.Message{DocumentWithCaptionMessage: &waE2E.FutureProofMessage{
		Message: &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{Caption: proto.String("report")}},
	}}

	gotType, gotBody := Classify(Unwrap(wrapped))
	if gotType != TypeDocument || gotBody != "report" {
		t.Fatalf("Classify = (%q, %q), want document report", gotType, gotBody)
	}
}

func TestUnwrapFailsClosed(t *testing.T) {
	t.Parallel()

	t.Run("wrapper without payload", func(t *testing.T) {
		msg := Normalize(directEvent(t, &waE2E.Message{ViewOnceMessage: &waE2E.FutureProofMessage{}}), selfJID)
		if msg.Type != TypeUnknown || msg.Body != "" {
			t.Fatalf("normalized = (%q, %q), want unknown and empty", msg.Type, msg.Body)
		}
	})

	t.Run("nesting beyond bound", func(t *testing.T) {
		content := &waE2E.Message{Conversation: proto.String("deep")}
		for range maxUnwrapDepth + 1 {
			content = &waE2E.Message{EphemeralMessage: &waE2E.FutureProofMessage{Message: content}}
		}

		msg := Normalize(directEvent(t, content), selfJID)
		if msg.Type != TypeUnknown || msg.Body != "" {
			t.Fatalf("normalized = (%q, %q), want unknown and empty", msg.Type, msg.Body)
		}
	})

	t.Run("nesting at bound", func(t *testing.T) {
		content := &waE2E.Message{Conversation: proto.String("deep")}
		for range maxUnwrapDepth {
			content = &waE2E.Message{ViewOnceMessage: &waE2E.FutureProofMessage{Message: content}}
		}

		msg := Normalize(directEvent(t, content), selfJID)
		if msg.Type != TypePlainText || msg.Body != "deep" {
			t.Fatalf("normalized = (%q, %q), want plain text", msg.Type, msg.Body)
		}
	})
}

func TestNormalizeSender(t *testing.T) {
	t.Parallel()

	text := &waE2E.Message{Conversation: proto.String("hello")}

	direct := Normalize(directEvent(t, text), selfJID)
	if direct.SenderID != userJID || direct.IsGroup {
		t.Fatalf("direct sender = %q group=%v, want %q", direct.SenderID, direct.IsGroup, userJID)
	}
	if direct.PushName != "Kasun" || direct.ID != "MSG1" || direct.ChatID != userJID {
		t.Fatalf("direct message = %+v", direct)
	}

	group := Normalize(groupEvent(t, text), selfJID)
	if group.SenderID != memberJID || !group.IsGroup || group.ChatID != groupJID {
		t.Fatalf("group sender = %q chat=%q group=%v", group.SenderID, group.ChatID, group.IsGroup)
	}

	own := groupEvent(t, text)
	own.Info.IsFromMe = true
	fromMe := Normalize(own, selfJID)
	if fromMe.SenderID != "94770000000@s.whatsapp.net" || !fromMe.FromMe {
		t.Fatalf("fromMe sender = %q, want own device-less jid", fromMe.SenderID)
	}
}

func TestNormalizeQuotedOneLevel(t *testing.T) {
	t.Parallel()

	quotedQuoted := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text: proto.String("level two"),
		ContextInfo: &waE2E.ContextInfo{
			StanzaID:      proto.String("Q2"),
			QuotedMessage: &waE2E.Message{Conversation: proto.String("level three")},
		},
	}}
	content := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text: proto.String(".sticker"),
		ContextInfo: &waE2E.ContextInfo{
			StanzaID:    proto.String("Q1"),
			Participant: proto.String("94770000000@s.whatsapp.net"),
			QuotedMessage: &waE2E.Message{ViewOnceMessage: &waE2E.FutureProofMessage{
				Message: quotedQuoted,
			}},
		},
	}}

	msg := Normalize(groupEvent(t, content), selfJID)
	if msg.Quoted == nil {
		t.Fatal("expected quoted message")
	}
	q := msg.Quoted
	if q.ID != "Q1" || q.Type != TypeExtendedText || q.Body != "level two" {
		t.Fatalf("quoted = %+v, want Q1 extended text", q)
	}
	if !q.FromMe {
		t.Fatal("expected quoted message from own number to be FromMe")
	}
	if q.ChatID != groupJID {
		t.Fatalf("quoted chat = %q, want %q", q.ChatID, groupJID)
	}
	if q.Quoted != nil {
		t.Fatal("quoted-of-quoted must not be resolved")
	}
}

func TestNormalizeNilAndEmpty(t *testing.T) {
	t.Parallel()

	if msg := Normalize(nil, selfJID); msg.Type != TypeUnknown || msg.Body != "" {
		t.Fatalf("Normalize(nil) = %+v", msg)
	}

	msg := Normalize(&events.Message{}, "")
	if msg.Type != TypeUnknown || msg.Body != "" || msg.ChatID != "" || msg.SenderID != "" {
		t.Fatalf("Normalize(empty) = %+v", msg)
	}
}

func TestJIDHelpers(t *testing.T) {
	t.Parallel()

	if got := Number(selfJID); got != "94770000000" {
		t.Fatalf("Number = %q", got)
	}
	if got := UserJID(selfJID); got != "94770000000@s.whatsapp.net" {
		t.Fatalf("UserJID = %q", got)
	}
	if got := UserJID(""); got != "" {
		t.Fatalf("UserJID(empty) = %q, want empty", got)
	}
	if !IsGroupJID(groupJID) || IsGroupJID(userJID) {
		t.Fatal("IsGroupJID misclassified")
	}
	status := &Message{ChatID: StatusBroadcast}
	if !status.IsStatus() {
		t.Fatal("expected status broadcast")
	}
}
