package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/time/rate"

	"ghostbot/pkg/channel"
	"ghostbot/pkg/config"
	"ghostbot/pkg/logger"
	"ghostbot/pkg/message"
)

const (
	channelName = "whatsapp"

	defaultSendRate          = 5
	defaultSendBurst         = 10
	defaultReconnectDelay    = 2 * time.Second
	defaultConnectAttempts   = 5
	defaultMediaFetchTimeout = 60 * time.Second
	sendAttempts             = 3
	sendRetryDelay           = 250 * time.Millisecond
)

var (
	// ErrNotConnected is returned by send-side calls while no session is open.
	ErrNotConnected = errors.New("whatsapp: not connected")
	// ErrLoggedOut is returned by Run when the session was revoked from the phone.
	ErrLoggedOut = errors.New("whatsapp: logged out")
	// ErrStreamReplaced is returned by Run when another client took over the session.
	ErrStreamReplaced = errors.New("whatsapp: stream replaced by another client")
	errPairingTimeout = errors.New("whatsapp: pairing timed out")
)

// Adapter owns the multi-device session: credential storage, pairing,
// connection lifecycle and the send primitives handlers use.
type Adapter struct {
	cfg     config.WhatsAppConfig
	log     *slog.Logger
	waLog   waLog.Logger
	limiter *rate.Limiter
	http    *http.Client
	qrOut   io.Writer

	mu     sync.RWMutex
	client *whatsmeow.Client
}

// NewAdapter validates the session configuration. Nothing is opened until Open.
func NewAdapter(cfg config.WhatsAppConfig, log *slog.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.SessionDB) == "" {
		return nil, errors.New("whatsapp.session_db is required")
	}
	if log == nil {
		log = slog.Default()
	}

	perSecond := cfg.SendRatePerSecond
	if perSecond <= 0 {
		perSecond = defaultSendRate
	}
	burst := cfg.SendBurst
	if burst <= 0 {
		burst = defaultSendBurst
	}
	fetchTimeout := defaultMediaFetchTimeout
	if cfg.MediaFetchTimeoutSeconds > 0 {
		fetchTimeout = time.Duration(cfg.MediaFetchTimeoutSeconds) * time.Second
	}

	return &Adapter{
		cfg:     cfg,
		log:     log.With("component", "channel.whatsapp"),
		waLog:   logger.WhatsApp(log, "whatsmeow"),
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		http:    &http.Client{Timeout: fetchTimeout},
		qrOut:   os.Stdout,
	}, nil
}

// Name returns the channel identifier used in bus metadata and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Open loads (or creates) the device from the session database and builds
// the protocol client. Failing here means the bot cannot start at all.
func (a *Adapter) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return nil
	}

	address := "file:" + a.cfg.SessionDB + "?_foreign_keys=on"
	container, err := sqlstore.New(ctx, "sqlite3", address, a.waLog.Sub("Database"))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, a.waLog.Sub("Client"))
	client.EnableAutoReconnect = true
	a.client = client

	return nil
}

// Run connects (pairing first when the session has no credentials) and
// delivers events to h until ctx is canceled or the session ends for good.
// Transient drops are retried by the protocol client itself.
func (a *Adapter) Run(ctx context.Context, h channel.Handlers) error {
	if err := a.Open(ctx); err != nil {
		return err
	}
	client := a.currentClient()

	fatal := make(chan error, 1)
	handlerID := client.AddEventHandler(a.eventHandler(ctx, h, fatal))
	defer client.RemoveEventHandler(handlerID)
	defer client.Disconnect()

	if client.Store.ID == nil {
		if err := a.pair(ctx, client); err != nil {
			return err
		}
	} else if err := a.connectWithRetry(ctx, client); err != nil {
		return err
	}

	a.log.Info("WhatsApp channel started", "self", a.SelfID())

	select {
	case <-ctx.Done():
		return nil
	case err := <-fatal:
		return err
	}
}

func (a *Adapter) eventHandler(ctx context.Context, h channel.Handlers, fatal chan<- error) func(any) {
	notify := func(change channel.StateChange) {
		if h.State != nil {
			h.State(ctx, change)
		}
	}
	stop := func(err error) {
		select {
		case fatal <- err:
		default:
		}
	}

	return func(evt any) {
		switch e := evt.(type) {
		case *events.Message:
			if h.Message != nil {
				h.Message(ctx, e)
			}
		case *events.Connected:
			a.log.Info("Connection open")
			notify(channel.StateChange{State: channel.StateOpen})
		case *events.Disconnected:
			a.log.Warn("Connection closed, waiting for reconnect")
			notify(channel.StateChange{State: channel.StateClosed, Reason: "disconnected"})
		case *events.StreamReplaced:
			a.log.Error("Session opened elsewhere")
			notify(channel.StateChange{State: channel.StateClosed, Reason: "stream_replaced"})
			stop(ErrStreamReplaced)
		case *events.LoggedOut:
			a.log.Error("Session logged out", "reason", e.Reason.String())
			notify(channel.StateChange{State: channel.StateLoggedOut, Reason: e.Reason.String()})
			stop(ErrLoggedOut)
		}
	}
}

// pair links a new device, either by terminal QR code or by phone-number
// pairing code when whatsapp.pair_phone is configured.
func (a *Adapter) pair(ctx context.Context, client *whatsmeow.Client) error {
	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("open pairing channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect for pairing: %w", err)
	}

	phone := strings.Join(config.NormalizeNumbers([]string{a.cfg.PairPhone}), "")
	requested := false
	for item := range qrChan {
		switch item.Event {
		case "code":
			if phone == "" {
				a.log.Info("Scan the QR code with WhatsApp > Linked devices")
				qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, a.qrOut)
				continue
			}
			if requested {
				continue
			}
			requested = true
			code, err := client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome ("+runtime.GOOS+")")
			if err != nil {
				return fmt.Errorf("request pairing code: %w", err)
			}
			a.log.Info("Enter the pairing code on your phone", "code", code)
		case "success":
			a.log.Info("Device paired")
			return nil
		case "timeout":
			return errPairingTimeout
		default:
			if item.Error != nil {
				return fmt.Errorf("pairing failed: %w", item.Error)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New("pairing channel closed before success")
}

func (a *Adapter) connectWithRetry(ctx context.Context, client *whatsmeow.Client) error {
	attempts := a.cfg.MaxConnectAttempts
	if attempts <= 0 {
		attempts = defaultConnectAttempts
	}
	delay := defaultReconnectDelay
	if a.cfg.ReconnectDelaySeconds > 0 {
		delay = time.Duration(a.cfg.ReconnectDelaySeconds) * time.Second
	}

	var err error
	for i := range attempts {
		if client.IsConnected() {
			return nil
		}
		if err = client.Connect(); err == nil {
			return nil
		}
		a.log.Warn("Connect attempt failed", "attempt", i+1, "error", err)

		select {
		case <-time.After(delay + time.Duration(i)*250*time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("connect after %d attempts: %w", attempts, err)
}

// SelfID returns the session's own JID (with device suffix), or "" before pairing.
func (a *Adapter) SelfID() string {
	client := a.currentClient()
	if client == nil || client.Store == nil || client.Store.ID == nil {
		return ""
	}

	return client.Store.ID.String()
}

// Connected reports whether the protocol socket is up and authenticated.
func (a *Adapter) Connected() bool {
	client := a.currentClient()
	return client != nil && client.IsConnected() && client.IsLoggedIn()
}

// Send delivers payload to chatID through the send limiter, retrying
// transient failures.
func (a *Adapter) Send(ctx context.Context, chatID string, payload channel.Payload, opts channel.SendOptions) (channel.Sent, error) {
	client, err := a.connectedClient()
	if err != nil {
		return channel.Sent{}, err
	}

	chat, err := types.ParseJID(chatID)
	if err != nil {
		return channel.Sent{}, fmt.Errorf("parse chat id %q: %w", chatID, err)
	}

	msg, err := a.buildMessage(ctx, client, payload, opts)
	if err != nil {
		return channel.Sent{}, err
	}

	send := withRetry(sendAttempts, sendRetryDelay, withRateLimit(a.limiter, func(ctx context.Context) (whatsmeow.SendResponse, error) {
		return client.SendMessage(ctx, chat, msg)
	}))
	resp, err := send(ctx)
	if err != nil {
		return channel.Sent{}, fmt.Errorf("send %s to %s: %w", payload.Kind(), chatID, err)
	}

	return channel.Sent{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// MarkRead sends read receipts for refs, batched per chat and sender.
func (a *Adapter) MarkRead(ctx context.Context, refs ...message.Ref) error {
	client, err := a.connectedClient()
	if err != nil {
		return err
	}

	var errs []error
	for _, batch := range receiptBatches(refs) {
		chat, err := types.ParseJID(batch.chat)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse chat id %q: %w", batch.chat, err))
			continue
		}
		sender := types.EmptyJID
		if batch.sender != "" {
			if sender, err = types.ParseJID(batch.sender); err != nil {
				errs = append(errs, fmt.Errorf("parse sender id %q: %w", batch.sender, err))
				continue
			}
		}
		if err := client.MarkRead(ctx, batch.ids, time.Now(), chat, sender); err != nil {
			errs = append(errs, fmt.Errorf("mark read in %s: %w", batch.chat, err))
		}
	}

	return errors.Join(errs...)
}

// GroupMetadata fetches the group's subject and participant roles.
func (a *Adapter) GroupMetadata(ctx context.Context, chatID string) (*channel.GroupMetadata, error) {
	client, err := a.connectedClient()
	if err != nil {
		return nil, err
	}

	jid, err := types.ParseJID(chatID)
	if err != nil {
		return nil, fmt.Errorf("parse group id %q: %w", chatID, err)
	}

	info, err := client.GetGroupInfo(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("get group info: %w", err)
	}

	return convertGroupInfo(info), nil
}

func (a *Adapter) currentClient() *whatsmeow.Client {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client
}

func (a *Adapter) connectedClient() (*whatsmeow.Client, error) {
	client := a.currentClient()
	if client == nil || !client.IsConnected() {
		return nil, ErrNotConnected
	}

	return client, nil
}

func convertGroupInfo(info *types.GroupInfo) *channel.GroupMetadata {
	if info == nil {
		return nil
	}

	meta := &channel.GroupMetadata{
		ID:           info.JID.String(),
		Subject:      info.Name,
		Participants: make([]channel.Participant, 0, len(info.Participants)),
	}
	for _, p := range info.Participants {
		meta.Participants = append(meta.Participants, channel.Participant{
			ID:           p.JID.ToNonAD().String(),
			IsAdmin:      p.IsAdmin,
			IsSuperAdmin: p.IsSuperAdmin,
		})
	}

	return meta
}

type receiptBatch struct {
	chat   string
	sender string
	ids    []types.MessageID
}

// receiptBatches groups refs by (chat, sender) in first-seen order. Direct
// chats do not carry a sender; group and status receipts must.
func receiptBatches(refs []message.Ref) []receiptBatch {
	var batches []receiptBatch
	index := make(map[[2]string]int)

	for _, ref := range refs {
		if ref.ID == "" || ref.ChatID == "" || ref.FromMe {
			continue
		}

		sender := ""
		if message.IsGroupJID(ref.ChatID) || ref.ChatID == message.StatusBroadcast {
			sender = ref.SenderID
		}

		key := [2]string{ref.ChatID, sender}
		i, ok := index[key]
		if !ok {
			i = len(batches)
			index[key] = i
			batches = append(batches, receiptBatch{chat: ref.ChatID, sender: sender})
		}
		batches[i].ids = append(batches[i].ids, types.MessageID(ref.ID))
	}

	return batches
}
