package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"ghostbot/pkg/bus"
	"ghostbot/pkg/channel"
	"ghostbot/pkg/config"
	"ghostbot/pkg/dispatch"
	"ghostbot/pkg/message"
	"ghostbot/pkg/plugins"
)

const (
	defaultHealthHost = "0.0.0.0"
	defaultHealthPort = 18790
	drainTimeout      = 10 * time.Second
)

// Service wires one channel adapter to the dispatcher: intake goes through
// the bus, each message is dispatched in its own goroutine, and connection
// state is exposed on the health server.
type Service struct {
	cfg        *config.Config
	log        *slog.Logger
	adapter    channel.Adapter
	dispatcher *dispatch.Dispatcher
	bus        *bus.MessageBus

	inflight  sync.WaitGroup
	aliveOnce sync.Once

	mu        sync.RWMutex
	startedAt time.Time
	channel   channelState
}

type channelState struct {
	Name   string        `json:"name"`
	State  channel.State `json:"state"`
	Reason string        `json:"reason,omitempty"`
	Since  string        `json:"since,omitempty"`
	Error  string        `json:"error,omitempty"`
}

type statusResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Channel       channelState   `json:"channel"`
	Pending       int            `json:"pending"`
	Dispatch      dispatch.Stats `json:"dispatch"`
}

func NewService(cfg *config.Config, adapter channel.Adapter, dispatcher *dispatch.Dispatcher, mb *bus.MessageBus, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if adapter == nil {
		return nil, errors.New("channel adapter is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if mb == nil {
		return nil, errors.New("message bus is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		cfg:        cfg,
		log:        log.With("component", "gateway.service"),
		adapter:    adapter,
		dispatcher: dispatcher,
		bus:        mb,
		channel:    channelState{Name: adapter.Name(), State: channel.StateClosed},
	}, nil
}

// Run serves until ctx is canceled or the adapter stops for good. In-flight
// dispatches get a bounded grace period before Run returns.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	serverErrors := make(chan error, 1)
	go s.runHealthServer(ctx, serverErrors)

	intakeDone := make(chan struct{})
	go func() {
		defer close(intakeDone)
		s.consume(ctx)
	}()

	errCh := make(chan error, 1)
	adapterDone := make(chan struct{})
	go func() {
		defer close(adapterDone)
		err := s.adapter.Run(ctx, channel.Handlers{Message: s.enqueue, State: s.onState})
		s.setChannelError(err)
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("run %s channel: %w", s.adapter.Name(), err)
			return
		}
		errCh <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErrors:
	case runErr = <-errCh:
		if runErr == nil && ctx.Err() == nil {
			runErr = fmt.Errorf("%s channel stopped", s.adapter.Name())
		}
	}

	cancel()
	<-intakeDone
	select {
	case <-adapterDone:
	case <-time.After(drainTimeout):
		s.log.Warn("Channel adapter did not stop in time", "channel", s.adapter.Name())
	}
	s.drain()

	return runErr
}

// enqueue is the adapter's message callback. It blocks while the bus is full.
func (s *Service) enqueue(ctx context.Context, evt *events.Message) {
	if evt == nil {
		return
	}

	inbound := bus.InboundMessage{Channel: s.adapter.Name(), Event: evt, ReceivedAt: time.Now().UTC()}
	if !s.bus.PublishInbound(ctx, inbound) {
		s.log.Warn("Inbound message dropped", "message_id", inbound.MessageID())
	}
}

func (s *Service) consume(ctx context.Context) {
	for {
		inbound, ok := s.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}

		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.handleInbound(ctx, inbound)
		}()
	}
}

// handleInbound runs the pre-dispatch side effects and the dispatcher for one
// message, using a single settings snapshot for both.
func (s *Service) handleInbound(ctx context.Context, inbound bus.InboundMessage) {
	msg := message.Normalize(inbound.Event, s.adapter.SelfID())
	snap := s.dispatcher.Snapshot(ctx)

	switch {
	case msg.IsStatus():
		if snap.AutoStatusWatch && !msg.FromMe {
			dispatch.BestEffort(ctx, s.log, "status_read", func(ctx context.Context) error {
				return s.adapter.MarkRead(ctx, msg.Ref())
			})
			if emoji := snap.AutoStatusReact; emoji != "" {
				dispatch.BestEffort(ctx, s.log, "status_react", func(ctx context.Context) error {
					_, err := s.adapter.Send(ctx, message.StatusBroadcast, channel.Payload{
						Reaction: &channel.Reaction{Emoji: emoji, Target: msg.Ref()},
					}, channel.SendOptions{})
					return err
				})
			}
		}
	case snap.AutoRead && !msg.FromMe:
		dispatch.BestEffort(ctx, s.log, "auto_read", func(ctx context.Context) error {
			return s.adapter.MarkRead(ctx, msg.Ref())
		})
	}

	out := s.dispatcher.DispatchWith(ctx, s.adapter, inbound.Event, msg, snap)
	s.log.Debug("Message dispatched",
		"message_id", out.MessageID,
		"skipped", out.Skipped,
		"command", out.Command,
		"triggers", len(out.Triggers),
		"queue_ms", time.Since(inbound.ReceivedAt).Milliseconds(),
	)
}

func (s *Service) onState(ctx context.Context, change channel.StateChange) {
	s.mu.Lock()
	s.channel.State = change.State
	s.channel.Reason = change.Reason
	s.channel.Since = time.Now().UTC().Format(time.RFC3339)
	s.mu.Unlock()

	event := bus.Event{Channel: s.adapter.Name(), Payload: map[string]string{"reason": change.Reason}}
	switch change.State {
	case channel.StateOpen:
		event.Type = bus.EventConnectionOpen
		s.aliveOnce.Do(func() {
			s.inflight.Add(1)
			go func() {
				defer s.inflight.Done()
				s.sendAlive(ctx)
			}()
		})
	case channel.StateLoggedOut:
		event.Type = bus.EventLoggedOut
	default:
		event.Type = bus.EventConnectionClosed
	}
	s.bus.PublishEvent(ctx, event)
}

// sendAlive greets the primary owner once the first connection opens.
func (s *Service) sendAlive(ctx context.Context) {
	snap := s.dispatcher.Snapshot(ctx)
	owner := snap.PrimaryOwner()
	if owner == "" {
		s.log.Debug("No owner number configured, alive message skipped")
		return
	}

	dispatch.BestEffort(ctx, s.log, "alive", func(ctx context.Context) error {
		_, err := s.adapter.Send(ctx, owner+"@"+message.UserServer, plugins.AlivePayload(snap), channel.SendOptions{})
		return err
	})
}

func (s *Service) drain() {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		s.log.Warn("Shutdown with dispatches still running", "grace", drainTimeout)
	}
}

func (s *Service) runHealthServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		Channel:       s.channel,
		Pending:       s.bus.Pending(),
		Dispatch:      s.dispatcher.Stats(),
	}
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.channel.State == channel.StateOpen
}

func (s *Service) setChannelError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.channel.State = channel.StateClosed
	if err != nil && !errors.Is(err, context.Canceled) {
		s.channel.Error = err.Error()
	}
}
