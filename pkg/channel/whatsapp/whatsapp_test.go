package whatsapp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	"ghostbot/pkg/channel"
	"ghostbot/pkg/config"
	"ghostbot/pkg/message"
)

func testAdapter(t *testing.T) *Adapter {
	t.Helper()

	a, err := NewAdapter(config.WhatsAppConfig{SessionDB: t.TempDir() + "/session.db"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	return a
}

func TestNewAdapterRequiresSessionDB(t *testing.T) {
	if _, err := NewAdapter(config.WhatsAppConfig{}, nil); err == nil {
		t.Fatal("NewAdapter() error = nil, want missing session_db error")
	}
}

func TestAdapterNotConnected(t *testing.T) {
	a := testAdapter(t)

	if a.Name() != "whatsapp" {
		t.Fatalf("Name() = %q, want whatsapp", a.Name())
	}
	if a.SelfID() != "" {
		t.Fatalf("SelfID() = %q, want empty before open", a.SelfID())
	}
	if a.Connected() {
		t.Fatal("Connected() = true before open")
	}
	if _, err := a.Send(context.Background(), "1@s.whatsapp.net", channel.Payload{Text: "hi"}, channel.SendOptions{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send() error = %v, want ErrNotConnected", err)
	}
	if err := a.MarkRead(context.Background(), message.Ref{ID: "A", ChatID: "1@s.whatsapp.net"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("MarkRead() error = %v, want ErrNotConnected", err)
	}
	if _, err := a.GroupMetadata(context.Background(), "1@g.us"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("GroupMetadata() error = %v, want ErrNotConnected", err)
	}
}

func TestReceiptBatches(t *testing.T) {
	refs := []message.Ref{
		{ID: "A", ChatID: "1@s.whatsapp.net", SenderID: "1@s.whatsapp.net"},
		{ID: "B", ChatID: "9@g.us", SenderID: "2@s.whatsapp.net"},
		{ID: "C", ChatID: "1@s.whatsapp.net", SenderID: "1@s.whatsapp.net"},
		{ID: "D", ChatID: "9@g.us", SenderID: "3@s.whatsapp.net"},
		{ID: "E", ChatID: "1@s.whatsapp.net", FromMe: true},
		{ID: "", ChatID: "1@s.whatsapp.net"},
		{ID: "F", ChatID: message.StatusBroadcast, SenderID: "4@s.whatsapp.net"},
	}

	batches := receiptBatches(refs)
	if len(batches) != 4 {
		t.Fatalf("receiptBatches len = %d, want 4: %+v", len(batches), batches)
	}

	direct := batches[0]
	if direct.chat != "1@s.whatsapp.net" || direct.sender != "" {
		t.Fatalf("direct batch = %+v, want chat without sender", direct)
	}
	if len(direct.ids) != 2 || direct.ids[0] != "A" || direct.ids[1] != "C" {
		t.Fatalf("direct ids = %v, want [A C]", direct.ids)
	}
	if batches[1].sender != "2@s.whatsapp.net" || batches[2].sender != "3@s.whatsapp.net" {
		t.Fatalf("group batches split by sender = %+v", batches[1:3])
	}
	if batches[3].chat != message.StatusBroadcast || batches[3].sender != "4@s.whatsapp.net" {
		t.Fatalf("status batch = %+v, want sender kept", batches[3])
	}
}

func TestConvertGroupInfo(t *testing.T) {
	if convertGroupInfo(nil) != nil {
		t.Fatal("convertGroupInfo(nil) != nil")
	}

	info := &types.GroupInfo{
		JID:       types.NewJID("123", types.GroupServer),
		GroupName: types.GroupName{Name: "Ghosts"},
		Participants: []types.GroupParticipant{
			{JID: types.NewADJID("1", 0, 3), IsSuperAdmin: true, IsAdmin: true},
			{JID: types.NewJID("2", types.DefaultUserServer), IsAdmin: true},
			{JID: types.NewJID("3", types.DefaultUserServer)},
		},
	}

	meta := convertGroupInfo(info)
	if meta.ID != "123@g.us" || meta.Subject != "Ghosts" {
		t.Fatalf("meta = %+v, want id and subject", meta)
	}
	if meta.Participants[0].ID != "1@s.whatsapp.net" {
		t.Fatalf("participant id = %q, want device suffix stripped", meta.Participants[0].ID)
	}

	admins := meta.Admins()
	if len(admins) != 2 {
		t.Fatalf("Admins() = %v, want 2 entries", admins)
	}
}

func TestTextMessage(t *testing.T) {
	plain := textMessage("hello", nil)
	if plain.GetConversation() != "hello" || plain.GetExtendedTextMessage() != nil {
		t.Fatalf("plain text = %v, want conversation only", plain)
	}

	quoted := &message.Message{
		ID:       "Q1",
		SenderID: "2@s.whatsapp.net",
		Content:  &waE2E.Message{Conversation: proto.String("original")},
	}
	reply := textMessage("pong", quoteInfo(quoted))
	ext := reply.GetExtendedTextMessage()
	if ext.GetText() != "pong" {
		t.Fatalf("reply text = %q, want pong", ext.GetText())
	}
	ci := ext.GetContextInfo()
	if ci.GetStanzaID() != "Q1" || ci.GetParticipant() != "2@s.whatsapp.net" {
		t.Fatalf("context info = %v, want stanza and participant", ci)
	}
	if ci.GetQuotedMessage().GetConversation() != "original" {
		t.Fatalf("quoted message = %v, want original content", ci.GetQuotedMessage())
	}
}

func TestQuoteInfoWithoutID(t *testing.T) {
	if quoteInfo(nil) != nil {
		t.Fatal("quoteInfo(nil) != nil")
	}
	if quoteInfo(&message.Message{}) != nil {
		t.Fatal("quoteInfo(empty) != nil")
	}
}

func TestMediaMessage(t *testing.T) {
	up := whatsmeow.UploadResponse{URL: "https://mmg/x", DirectPath: "/x", FileLength: 42}

	img := mediaMessage(whatsmeow.MediaImage, &channel.Media{Caption: "look"}, "image/png", up, nil)
	if img.GetImageMessage().GetCaption() != "look" || img.GetImageMessage().GetFileLength() != 42 {
		t.Fatalf("image message = %v", img.GetImageMessage())
	}

	doc := mediaMessage(whatsmeow.MediaDocument, &channel.Media{}, "application/pdf", up, nil)
	if doc.GetDocumentMessage().GetFileName() != "file" {
		t.Fatalf("document file name = %q, want fallback", doc.GetDocumentMessage().GetFileName())
	}

	sticker := mediaMessage(mediaSticker, &channel.Media{}, "image/webp", up, nil)
	if sticker.GetStickerMessage().GetMimetype() != "image/webp" {
		t.Fatalf("sticker message = %v", sticker.GetStickerMessage())
	}
}

func TestFetchMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png; charset=binary")
			_, _ = w.Write([]byte("\x89PNG\r\n\x1a\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := testAdapter(t)

	data, contentType, err := a.fetchMedia(context.Background(), srv.URL+"/ok.png")
	if err != nil {
		t.Fatalf("fetchMedia() error = %v", err)
	}
	if contentType != "image/png" {
		t.Fatalf("content type = %q, want image/png", contentType)
	}
	if !strings.HasPrefix(string(data), "\x89PNG") {
		t.Fatalf("data = %q, want png header", data)
	}

	if _, _, err := a.fetchMedia(context.Background(), srv.URL+"/missing"); err == nil {
		t.Fatal("fetchMedia(missing) error = nil, want status error")
	}
}

func TestWithRetry(t *testing.T) {
	calls := 0
	send := withRetry(3, time.Millisecond, func(context.Context) (whatsmeow.SendResponse, error) {
		calls++
		if calls < 3 {
			return whatsmeow.SendResponse{}, errors.New("transient")
		}
		return whatsmeow.SendResponse{ID: "OK"}, nil
	})

	resp, err := send(context.Background())
	if err != nil || resp.ID != "OK" {
		t.Fatalf("send() = %v, %v; want OK", resp.ID, err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestWithRetryStopsOnContextError(t *testing.T) {
	calls := 0
	send := withRetry(5, time.Millisecond, func(context.Context) (whatsmeow.SendResponse, error) {
		calls++
		return whatsmeow.SendResponse{}, context.DeadlineExceeded
	})

	if _, err := send(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("send() error = %v, want deadline exceeded", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestWithRateLimitHonorsContext(t *testing.T) {
	lim := rate.NewLimiter(rate.Every(time.Hour), 1)
	next := func(context.Context) (whatsmeow.SendResponse, error) {
		return whatsmeow.SendResponse{ID: "X"}, nil
	}
	send := withRateLimit(lim, next)

	if _, err := send(context.Background()); err != nil {
		t.Fatalf("first send error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := send(ctx); err == nil {
		t.Fatal("second send error = nil, want limiter wait error")
	}
}
