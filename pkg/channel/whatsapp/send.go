package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	"ghostbot/pkg/channel"
	"ghostbot/pkg/message"
)

// maxMediaBytes caps downloads of URL media before upload.
const maxMediaBytes = 64 << 20

type sendFunc func(ctx context.Context) (whatsmeow.SendResponse, error)

func withRateLimit(lim *rate.Limiter, next sendFunc) sendFunc {
	return func(ctx context.Context) (whatsmeow.SendResponse, error) {
		if err := lim.Wait(ctx); err != nil {
			return whatsmeow.SendResponse{}, err
		}
		return next(ctx)
	}
}

// withRetry retries next with doubling delay (capped at 5s). Context errors
// are never retried.
func withRetry(attempts int, delay time.Duration, next sendFunc) sendFunc {
	return func(ctx context.Context) (whatsmeow.SendResponse, error) {
		var (
			resp whatsmeow.SendResponse
			err  error
		)
		d := delay
		for i := range attempts {
			resp, err = next(ctx)
			if err == nil {
				return resp, nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || i == attempts-1 {
				break
			}

			select {
			case <-time.After(d):
			case <-ctx.Done():
				return resp, ctx.Err()
			}
			if d < 5*time.Second {
				d *= 2
			}
		}
		return resp, err
	}
}

func (a *Adapter) buildMessage(ctx context.Context, client *whatsmeow.Client, payload channel.Payload, opts channel.SendOptions) (*waE2E.Message, error) {
	quote := quoteInfo(opts.Quoted)

	switch {
	case payload.Text != "":
		return textMessage(payload.Text, quote), nil
	case payload.Image != nil:
		return a.uploadMedia(ctx, client, whatsmeow.MediaImage, payload.Image, quote)
	case payload.Video != nil:
		return a.uploadMedia(ctx, client, whatsmeow.MediaVideo, payload.Video, quote)
	case payload.Document != nil:
		return a.uploadMedia(ctx, client, whatsmeow.MediaDocument, payload.Document, quote)
	case payload.Sticker != nil:
		sticker := *payload.Sticker
		if sticker.Mimetype == "" {
			sticker.Mimetype = "image/webp"
		}
		return a.uploadMedia(ctx, client, mediaSticker, &sticker, quote)
	case payload.Reaction != nil:
		return reactionMessage(client, payload.Reaction)
	default:
		return nil, errors.New("empty payload")
	}
}

// mediaSticker marks sticker uploads; stickers share the image upload type.
const mediaSticker whatsmeow.MediaType = "WhatsApp Sticker Keys"

func (a *Adapter) uploadMedia(ctx context.Context, client *whatsmeow.Client, kind whatsmeow.MediaType, media *channel.Media, quote *waE2E.ContextInfo) (*waE2E.Message, error) {
	data := media.Data
	mimetype := media.Mimetype
	if len(data) == 0 {
		if media.URL == "" {
			return nil, errors.New("media has neither data nor url")
		}
		fetched, detected, err := a.fetchMedia(ctx, media.URL)
		if err != nil {
			return nil, err
		}
		data = fetched
		if mimetype == "" {
			mimetype = detected
		}
	}
	if mimetype == "" {
		mimetype = http.DetectContentType(data)
	}

	uploadKind := kind
	if kind == mediaSticker {
		uploadKind = whatsmeow.MediaImage
	}
	uploaded, err := client.Upload(ctx, data, uploadKind)
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}

	return mediaMessage(kind, media, mimetype, uploaded, quote), nil
}

// fetchMedia downloads url, returning the body and the served content type.
func (a *Adapter) fetchMedia(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("fetch media: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, "", fmt.Errorf("media exceeds %d bytes", maxMediaBytes)
	}

	contentType, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	return data, strings.TrimSpace(contentType), nil
}

func textMessage(text string, quote *waE2E.ContextInfo) *waE2E.Message {
	if quote == nil {
		return &waE2E.Message{Conversation: proto.String(text)}
	}

	return &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text:        proto.String(text),
		ContextInfo: quote,
	}}
}

func mediaMessage(kind whatsmeow.MediaType, media *channel.Media, mimetype string, up whatsmeow.UploadResponse, quote *waE2E.ContextInfo) *waE2E.Message {
	var caption *string
	if media.Caption != "" {
		caption = proto.String(media.Caption)
	}

	switch kind {
	case whatsmeow.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       caption,
			Mimetype:      proto.String(mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			ContextInfo:   quote,
		}}
	case whatsmeow.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       caption,
			Mimetype:      proto.String(mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			ContextInfo:   quote,
		}}
	case mediaSticker:
		return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			Mimetype:      proto.String(mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			ContextInfo:   quote,
		}}
	default:
		fileName := media.FileName
		if fileName == "" {
			fileName = "file"
		}
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Title:         proto.String(fileName),
			FileName:      proto.String(fileName),
			Caption:       caption,
			Mimetype:      proto.String(mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			ContextInfo:   quote,
		}}
	}
}

func reactionMessage(client *whatsmeow.Client, reaction *channel.Reaction) (*waE2E.Message, error) {
	target := reaction.Target
	if target.ID == "" || target.ChatID == "" {
		return nil, errors.New("reaction target is incomplete")
	}

	chat, err := types.ParseJID(target.ChatID)
	if err != nil {
		return nil, fmt.Errorf("parse reaction chat %q: %w", target.ChatID, err)
	}
	sender := chat
	if target.SenderID != "" {
		if sender, err = types.ParseJID(target.SenderID); err != nil {
			return nil, fmt.Errorf("parse reaction sender %q: %w", target.SenderID, err)
		}
	}

	return client.BuildReaction(chat, sender, target.ID, reaction.Emoji), nil
}

// quoteInfo builds the reply metadata that makes an outbound message quote q.
func quoteInfo(q *message.Message) *waE2E.ContextInfo {
	if q == nil || q.ID == "" {
		return nil
	}

	info := &waE2E.ContextInfo{
		StanzaID:      proto.String(q.ID),
		QuotedMessage: q.Content,
	}
	if q.SenderID != "" {
		info.Participant = proto.String(q.SenderID)
	}

	return info
}
