// Package whatsapp implements the WhatsApp channel for ZapSeller using
// whatsmeow — a native Go WhatsApp Web API library.
//
// The channel owns the single long-lived session: QR pairing with persistent
// credentials (SQLite), automatic reconnection with exponential backoff and a
// bounded attempt ceiling, and a terminal logged-out state that requires a
// fresh pairing. Incoming events are normalized into channels.IncomingMessage
// values; media-only messages are filtered out at the source.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/zapseller/pkg/zapseller/channels"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/term"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for the credential store.
)

// Config holds WhatsApp channel configuration.
type Config struct {
	// SessionDir is the directory for credential persistence (SQLite).
	// Ignored if DatabasePath is set.
	SessionDir string `yaml:"session_dir"`

	// DatabasePath is the path to the SQLite database file for credential
	// storage. If empty, defaults to {SessionDir}/whatsapp.db.
	DatabasePath string `yaml:"database_path"`

	// RespondToGroups enables emitting messages from group chats.
	// A sales conversation is one-to-one, so this defaults to false.
	RespondToGroups bool `yaml:"respond_to_groups"`

	// ReconnectBackoff is the initial backoff duration for reconnection.
	// Each attempt doubles it, capped at MaxReconnectBackoff.
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`

	// MaxReconnectBackoff caps the exponential backoff growth.
	MaxReconnectBackoff time.Duration `yaml:"max_reconnect_backoff"`

	// MaxReconnectAttempts is the maximum number of reconnection attempts
	// before the channel stays disconnected (0 = unlimited).
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// QRInTerminal renders pairing QR codes on stdout when it is a TTY.
	QRInTerminal bool `yaml:"qr_in_terminal"`

	// HealthMonitor configures proactive connection health monitoring.
	HealthMonitor HealthMonitorConfig `yaml:"health_monitor"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SessionDir:           "./sessions/whatsapp",
		RespondToGroups:      false,
		ReconnectBackoff:     5 * time.Second,
		MaxReconnectBackoff:  5 * time.Minute,
		MaxReconnectAttempts: 10,
		QRInTerminal:         true,
		HealthMonitor:        DefaultHealthMonitorConfig(),
	}
}

// QREvent represents a QR pairing event sent to observers.
type QREvent struct {
	// Type is "code", "success", "timeout", "error" or "refresh".
	Type string `json:"type"`
	// Code is the raw QR code string (only for Type == "code").
	Code string `json:"code,omitempty"`
	// Message is a human-readable description.
	Message string `json:"message,omitempty"`
}

// WhatsApp implements the channels.Channel interface.
type WhatsApp struct {
	cfg    Config
	client *whatsmeow.Client
	logger *slog.Logger

	// messages is the channel for incoming messages.
	messages chan *channels.IncomingMessage

	// connected tracks connection state.
	connected atomic.Bool

	// state tracks detailed connection state.
	state atomic.Value // ConnectionState

	// lastMsg tracks the last activity timestamp for health.
	lastMsg atomic.Value // time.Time

	// errorCount tracks consecutive errors.
	errorCount atomic.Int64

	// reconnectAttempts tracks reconnection tries.
	reconnectAttempts atomic.Int32

	// qrObservers receives QR events (for the admin gateway).
	qrObservers   []chan QREvent
	qrObserversMu sync.Mutex
	// lastQR caches the most recent QR code so late-joining observers get it.
	lastQR *QREvent

	// connObservers receives connection state changes.
	connObservers   []ConnectionObserver
	connObserversMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	// reconnectGuard prevents multiple concurrent reconnection attempts.
	reconnectGuard atomic.Bool

	// messagesClosed prevents sending to a closed messages channel.
	messagesClosed atomic.Bool
}

// New creates a new WhatsApp channel instance.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	if cfg.MaxReconnectBackoff <= 0 {
		cfg.MaxReconnectBackoff = 5 * time.Minute
	}

	w := &WhatsApp{
		cfg:      cfg,
		logger:   logger.With("component", "whatsapp"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
	w.setState(StateDisconnected)
	return w
}

// ---------- State Management ----------

func (w *WhatsApp) getState() ConnectionState {
	if v := w.state.Load(); v != nil {
		return v.(ConnectionState)
	}
	return StateDisconnected
}

func (w *WhatsApp) setState(state ConnectionState) {
	w.state.Store(state)
}

// GetState returns the current connection state (public API).
func (w *WhatsApp) GetState() ConnectionState {
	return w.getState()
}

func (w *WhatsApp) getClientJID() string {
	if w.client != nil && w.client.Store.ID != nil {
		return w.client.Store.ID.String()
	}
	return ""
}

// ---------- QR Subscription ----------

// SubscribeQR registers a channel to receive QR pairing events.
// Returns an unsubscribe function.
func (w *WhatsApp) SubscribeQR() (chan QREvent, func()) {
	ch := make(chan QREvent, 8)
	w.qrObserversMu.Lock()
	w.qrObservers = append(w.qrObservers, ch)
	// Replay the last QR code so a late observer doesn't miss it.
	if w.lastQR != nil {
		select {
		case ch <- *w.lastQR:
		default:
		}
	}
	w.qrObserversMu.Unlock()

	return ch, func() {
		w.qrObserversMu.Lock()
		defer w.qrObserversMu.Unlock()
		for i, obs := range w.qrObservers {
			if obs == ch {
				w.qrObservers = append(w.qrObservers[:i], w.qrObservers[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

// notifyQR sends a QR event to all observers and caches codes.
func (w *WhatsApp) notifyQR(evt QREvent) {
	w.qrObserversMu.Lock()
	defer w.qrObserversMu.Unlock()

	if evt.Type == "code" {
		w.lastQR = &evt
	} else {
		// QR is no longer valid after success/timeout/error.
		w.lastQR = nil
	}

	for _, ch := range w.qrObservers {
		select {
		case ch <- evt:
		default:
			// Observer too slow, skip.
		}
	}
}

// ---------- Connection Observer ----------

// AddConnectionObserver registers a connection observer.
func (w *WhatsApp) AddConnectionObserver(obs ConnectionObserver) {
	w.connObserversMu.Lock()
	defer w.connObserversMu.Unlock()
	w.connObservers = append(w.connObservers, obs)
}

// notifyConnectionChange notifies all connection observers.
func (w *WhatsApp) notifyConnectionChange(evt ConnectionEvent) {
	w.connObserversMu.Lock()
	observers := make([]ConnectionObserver, len(w.connObservers))
	copy(observers, w.connObservers)
	w.connObserversMu.Unlock()

	for _, obs := range observers {
		go func(o ConnectionObserver) {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Warn("whatsapp: connection observer panic", "error", r)
				}
			}()
			o.OnConnectionChange(evt)
		}(obs)
	}
}

// ---------- Channel Interface ----------

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

// Connect establishes the WhatsApp Web connection via whatsmeow.
// If no existing credentials are found, the QR pairing process runs in the
// background (non-blocking) so the rest of the process can start.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.setState(StateConnecting)
	w.logger.Info("whatsapp: initializing connection...")

	dbPath := w.cfg.DatabasePath
	if dbPath == "" {
		dbPath = w.cfg.SessionDir + "/whatsapp.db"
	}
	container, err := sqlstore.New(w.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", dbPath),
		waLog.Noop)
	if err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("creating credential store: %w", err)
	}

	device, err := w.getDevice(w.ctx, container)
	if err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("getting device: %w", err)
	}

	// Device name shown in the WhatsApp linked devices list.
	store.SetOSInfo("ZapSeller", [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)

	if w.client.Store.ID == nil {
		// First login — start QR pairing in background.
		w.setState(StateWaitingQR)
		w.logger.Info("whatsapp: no existing credentials, QR pairing required")
		go func() {
			if err := w.loginWithQR(w.ctx); err != nil {
				w.logger.Warn("whatsapp: QR pairing pending", "error", err)
			}
		}()
		return nil
	}

	// Existing credentials — reconnect.
	if err := w.client.Connect(); err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("connecting: %w", err)
	}

	w.connected.Store(true)
	w.logger.Info("whatsapp: connected (existing credentials)",
		"jid", w.getClientJID())

	w.StartHealthMonitor(w.ctx, w.cfg.HealthMonitor)

	return nil
}

// Disconnect gracefully closes the WhatsApp connection.
func (w *WhatsApp) Disconnect() error {
	previous := w.getState()
	w.setState(StateDisconnected)
	w.connected.Store(false)

	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.Disconnect()
	}

	// Mark the channel closed before actually closing so emitMessage
	// cannot race against a send to a closed channel.
	if w.messagesClosed.CompareAndSwap(false, true) {
		close(w.messages)
	}

	w.logger.Info("whatsapp: disconnected")

	w.notifyConnectionChange(ConnectionEvent{
		State:     StateDisconnected,
		Previous:  previous,
		Timestamp: time.Now(),
		Reason:    "user_request",
	})

	return nil
}

// Logout logs out and clears the stored credentials.
func (w *WhatsApp) Logout() error {
	if w.client == nil {
		return nil
	}

	previous := w.getState()
	w.connected.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := w.client.Logout(ctx)
	if err != nil {
		w.logger.Warn("whatsapp: logout error, forcing cleanup", "error", err)
		w.client.Disconnect()
		if w.client.Store != nil {
			if delErr := w.client.Store.Delete(ctx); delErr != nil {
				w.logger.Warn("whatsapp: failed to delete credentials", "error", delErr)
			}
		}
	}

	w.setState(StateLoggedOut)
	w.qrObserversMu.Lock()
	w.lastQR = nil
	w.qrObserversMu.Unlock()

	w.logger.Info("whatsapp: logged out, credentials cleared")

	w.notifyConnectionChange(ConnectionEvent{
		State:     StateLoggedOut,
		Previous:  previous,
		Timestamp: time.Now(),
		Reason:    "logout",
	})

	return nil
}

// attemptReconnect tries to reconnect with exponential backoff and jitter.
// A CompareAndSwap guard prevents concurrent reconnection loops. The loop
// runs until reconnection succeeds, the attempt ceiling is reached, the
// session is logged out, or the context is cancelled.
func (w *WhatsApp) attemptReconnect() {
	if !w.reconnectGuard.CompareAndSwap(false, true) {
		w.logger.Debug("whatsapp: reconnect already in progress, skipping")
		return
	}
	defer w.reconnectGuard.Store(false)

	if w.getState() == StateLoggedOut {
		// Terminal: a new pairing is required, never retry on our own.
		w.logger.Warn("whatsapp: logged out, reconnect not attempted")
		return
	}

	previous := w.getState()
	w.setState(StateReconnecting)

	for {
		if w.ctx.Err() != nil {
			w.logger.Debug("whatsapp: reconnect cancelled, context done")
			return
		}
		if w.getState() == StateLoggedOut {
			// Logged out mid-loop: stop retrying, a new pairing is required.
			w.logger.Warn("whatsapp: logged out, aborting reconnect")
			return
		}

		attempts := w.reconnectAttempts.Add(1)
		if w.cfg.MaxReconnectAttempts > 0 && attempts > int32(w.cfg.MaxReconnectAttempts) {
			w.logger.Error("whatsapp: max reconnect attempts reached",
				"attempts", attempts-1)
			w.setState(StateDisconnected)
			w.notifyConnectionChange(ConnectionEvent{
				State:     StateDisconnected,
				Timestamp: time.Now(),
				Reason:    "max_reconnect_attempts",
				Details:   map[string]any{"attempts": attempts - 1},
			})
			return
		}

		backoff := reconnectBackoff(w.cfg.ReconnectBackoff, w.cfg.MaxReconnectBackoff, int(attempts))

		w.logger.Info("whatsapp: attempting reconnect",
			"attempt", attempts,
			"backoff", backoff)

		w.notifyConnectionChange(ConnectionEvent{
			State:     StateReconnecting,
			Previous:  previous,
			Timestamp: time.Now(),
			Reason:    "connection_lost",
			Details: map[string]any{
				"attempt":     attempts,
				"backoff_sec": backoff.Seconds(),
			},
		})

		select {
		case <-time.After(backoff):
		case <-w.ctx.Done():
			w.logger.Debug("whatsapp: reconnect cancelled during backoff")
			return
		}

		if w.client == nil {
			w.logger.Warn("whatsapp: client is nil, cannot reconnect")
			return
		}

		// Disconnect first to clear any stale websocket state.
		if w.client.IsConnected() {
			w.client.Disconnect()
			time.Sleep(100 * time.Millisecond)
		}

		if err := w.client.Connect(); err != nil {
			w.logger.Warn("whatsapp: reconnect attempt failed, will retry",
				"attempt", attempts,
				"error", err)
			continue
		}

		// Connection initiated — the Connected event confirms and resets
		// the attempt counter.
		w.logger.Info("whatsapp: reconnect initiated, waiting for confirmation")
		return
	}
}

// reconnectBackoff computes the delay before the given attempt: exponential
// growth from base, capped at max, with up to 20% random jitter to avoid
// synchronized reconnect storms.
func reconnectBackoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	if d+jitter > max {
		return max
	}
	return d + jitter
}

// Send sends a text message to the specified customer JID.
func (w *WhatsApp) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	if w.getState() == StateLoggedOut {
		return channels.ErrLoggedOut
	}
	if !w.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	jid, err := parseJID(to)
	if err != nil {
		return fmt.Errorf("invalid JID %q: %w", to, err)
	}

	waMsg := buildTextMessage(msg.Content, msg.ReplyTo)

	_, err = w.client.SendMessage(ctx, jid, waMsg)
	if err != nil {
		w.errorCount.Add(1)
		return fmt.Errorf("sending message: %w", err)
	}

	return nil
}

// buildTextMessage builds an outgoing waE2E text message, optionally quoting
// another message.
func buildTextMessage(content, replyTo string) *waE2E.Message {
	if replyTo == "" {
		return &waE2E.Message{Conversation: proto.String(content)}
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(content),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID: proto.String(replyTo),
			},
		},
	}
}

// SendPresence sends a presence update (available/unavailable). Used by the
// pinger to keep the connection warm. A no-op while disconnected.
func (w *WhatsApp) SendPresence(ctx context.Context, available bool) error {
	if !w.connected.Load() {
		return nil
	}
	if available {
		return w.client.SendPresence(ctx, types.PresenceAvailable)
	}
	return w.client.SendPresence(ctx, types.PresenceUnavailable)
}

// Receive returns the incoming messages channel.
func (w *WhatsApp) Receive() <-chan *channels.IncomingMessage {
	return w.messages
}

// IsConnected returns true if WhatsApp is connected.
func (w *WhatsApp) IsConnected() bool {
	return w.connected.Load()
}

// NeedsQR returns true if the session is not linked (needs a QR scan).
func (w *WhatsApp) NeedsQR() bool {
	if w.getState() == StateLoggedOut {
		return true
	}
	return w.client != nil && w.client.Store.ID == nil && !w.connected.Load()
}

// Health returns the WhatsApp channel health status.
func (w *WhatsApp) Health() channels.HealthStatus {
	h := channels.HealthStatus{
		Connected:  w.connected.Load(),
		ErrorCount: int(w.errorCount.Load()),
		Details:    make(map[string]any),
	}
	if t, ok := w.lastMsg.Load().(time.Time); ok {
		h.LastMessageAt = t
	}
	h.Details["state"] = string(w.getState())
	if w.client != nil && w.client.Store.ID != nil {
		h.Details["jid"] = w.client.Store.ID.String()
	}
	h.Details["reconnect_attempts"] = w.reconnectAttempts.Load()
	return h
}

// ---------- Internal ----------

// getDevice retrieves an existing device or creates a new one.
func (w *WhatsApp) getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// loginWithQR handles the QR pairing flow. Codes are delivered to observers
// and, when stdout is a terminal, rendered directly for scanning.
func (w *WhatsApp) loginWithQR(ctx context.Context) error {
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}

	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting for QR: %w", err)
	}

	w.setState(StateWaitingQR)
	w.logger.Info("whatsapp: waiting for QR code scan")

	for {
		select {
		case <-ctx.Done():
			w.setState(StateDisconnected)
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed unexpectedly")
			}

			switch evt.Event {
			case "code":
				w.setState(StateWaitingQR)
				w.renderQR(evt.Code)
				w.notifyQR(QREvent{
					Type:    "code",
					Code:    evt.Code,
					Message: "Scan the QR code with WhatsApp to link your device",
				})

			case "success":
				w.connected.Store(true)
				w.reconnectAttempts.Store(0)
				w.setState(StateConnected)
				w.logger.Info("whatsapp: pairing successful")
				w.notifyQR(QREvent{
					Type:    "success",
					Message: "WhatsApp linked successfully",
				})
				w.StartHealthMonitor(w.ctx, w.cfg.HealthMonitor)
				return nil

			case "timeout":
				w.setState(StateDisconnected)
				w.logger.Warn("whatsapp: QR code expired")
				w.notifyQR(QREvent{
					Type:    "timeout",
					Message: "QR code expired — request a new one",
				})
				return fmt.Errorf("QR code timeout")

			default:
				if evt.Error != nil {
					w.setState(StateDisconnected)
					w.logger.Error("whatsapp: QR pairing error", "error", evt.Error)
					w.notifyQR(QREvent{
						Type:    "error",
						Message: fmt.Sprintf("Error: %s", evt.Error.Error()),
					})
					return fmt.Errorf("QR pairing error: %v", evt.Error)
				}
			}
		}
	}
}

// renderQR prints the QR code to stdout when configured and attached to a
// terminal. Headless deployments consume the code via SubscribeQR instead.
func (w *WhatsApp) renderQR(code string) {
	if !w.cfg.QRInTerminal {
		return
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return
	}
	qrterminal.GenerateHalfBlock(code, qrterminal.L, os.Stdout)
	fmt.Fprintln(os.Stdout, "Scan the code above with WhatsApp > Linked Devices")
}

// RequestNewQR restarts the pairing flow to generate a fresh QR code.
// Used after a timeout or a logout.
func (w *WhatsApp) RequestNewQR(ctx context.Context) error {
	if w.connected.Load() {
		return fmt.Errorf("already connected")
	}
	if w.client == nil {
		return fmt.Errorf("client not initialized")
	}

	w.client.Disconnect()
	w.setState(StateWaitingQR)

	w.notifyQR(QREvent{
		Type:    "refresh",
		Message: "Generating new QR code...",
	})

	go func() {
		qrCtx := ctx
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			qrCtx, cancel = context.WithTimeout(ctx, 2*time.Minute)
			defer cancel()
		}

		if err := w.loginWithQR(qrCtx); err != nil {
			w.logger.Error("whatsapp: QR re-pairing failed", "error", err)
		}
	}()

	return nil
}

// emitMessage sends a message to the incoming messages channel.
func (w *WhatsApp) emitMessage(msg *channels.IncomingMessage) {
	if w.messagesClosed.Load() {
		return
	}

	select {
	case w.messages <- msg:
		w.lastMsg.Store(time.Now())
	case <-w.ctx.Done():
	default:
		w.logger.Warn("whatsapp: message channel full, dropping message",
			"from", msg.From, "type", msg.Type)
	}
}

// parseJID converts a string JID to types.JID.
// Accepts "5511999999999" or "5511999999999@s.whatsapp.net".
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}

	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	// Bare phone number — strip non-digits and add the default server.
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)

	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}

	return types.NewJID(digits, types.DefaultUserServer), nil
}
