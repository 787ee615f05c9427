package whatsapp

import (
	"strings"
	"time"

	"github.com/jholhewres/zapseller/pkg/zapseller/channels"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// ConnectionState represents the state of the WhatsApp connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateWaitingQR    ConnectionState = "waiting_qr"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	// StateLoggedOut is terminal: credentials were invalidated remotely and
	// no automatic reconnection is attempted. A new QR pairing is required.
	StateLoggedOut ConnectionState = "logged_out"
)

// ConnectionEvent carries a connection state transition.
type ConnectionEvent struct {
	State     ConnectionState `json:"state"`
	Previous  ConnectionState `json:"previous,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Reason    string          `json:"reason,omitempty"`
	Details   map[string]any  `json:"details,omitempty"`
}

// ConnectionObserver is notified of connection state changes.
type ConnectionObserver interface {
	OnConnectionChange(evt ConnectionEvent)
}

// handleEvent processes whatsmeow events.
func (w *WhatsApp) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		w.handleMessageEvt(v)

	case *events.Connected:
		previous := w.getState()
		w.connected.Store(true)
		w.reconnectAttempts.Store(0)
		w.errorCount.Store(0)
		w.setState(StateConnected)
		w.logger.Info("whatsapp: connection established", "jid", w.getClientJID())
		w.notifyConnectionChange(ConnectionEvent{
			State:     StateConnected,
			Previous:  previous,
			Timestamp: time.Now(),
			Reason:    "connected",
		})

	case *events.PairSuccess:
		w.logger.Info("whatsapp: device paired", "jid", v.ID.String())

	case *events.Disconnected:
		// Ignore stale disconnects while already logged out.
		if w.getState() == StateLoggedOut {
			return
		}
		previous := w.getState()
		w.connected.Store(false)
		w.setState(StateDisconnected)
		w.logger.Warn("whatsapp: connection lost")
		w.notifyConnectionChange(ConnectionEvent{
			State:     StateDisconnected,
			Previous:  previous,
			Timestamp: time.Now(),
			Reason:    "connection_lost",
		})
		go w.attemptReconnect()

	case *events.LoggedOut:
		// Terminal: the session was unlinked from the phone. Do not retry.
		previous := w.getState()
		w.connected.Store(false)
		w.setState(StateLoggedOut)
		w.qrObserversMu.Lock()
		w.lastQR = nil
		w.qrObserversMu.Unlock()
		w.logger.Error("whatsapp: session logged out by remote device",
			"reason", v.Reason.String())
		w.notifyConnectionChange(ConnectionEvent{
			State:     StateLoggedOut,
			Previous:  previous,
			Timestamp: time.Now(),
			Reason:    "logged_out",
			Details:   map[string]any{"wa_reason": v.Reason.String()},
		})

	case *events.StreamReplaced:
		// Another client connected with the same session. Treat as a lost
		// connection; reconnecting will displace the other client back.
		previous := w.getState()
		w.connected.Store(false)
		w.setState(StateDisconnected)
		w.logger.Warn("whatsapp: stream replaced by another client")
		w.notifyConnectionChange(ConnectionEvent{
			State:     StateDisconnected,
			Previous:  previous,
			Timestamp: time.Now(),
			Reason:    "stream_replaced",
		})
		go w.attemptReconnect()

	case *events.KeepAliveTimeout:
		w.errorCount.Add(1)
		w.logger.Warn("whatsapp: keepalive timeout",
			"error_count", v.ErrorCount)

	case *events.ConnectFailure:
		w.errorCount.Add(1)
		w.logger.Error("whatsapp: connection failure",
			"reason", v.Reason.String())

	case *events.StreamError:
		w.errorCount.Add(1)
		w.logger.Error("whatsapp: stream error", "code", v.Code)
	}
}

// handleMessageEvt converts a whatsmeow message into a channels.IncomingMessage.
// Self messages, status broadcasts, and (by default) group messages are
// dropped here so downstream code only ever sees customer turns.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	// Loop guard: never react to messages sent by this session.
	if evt.Info.IsFromMe {
		return
	}

	// Status broadcasts are not conversations.
	if evt.Info.Chat.Server == "broadcast" {
		return
	}

	isGroup := evt.Info.IsGroup
	if isGroup && !w.cfg.RespondToGroups {
		return
	}

	content, msgType := extractMessageContent(evt.Message)
	if content == "" {
		// Media-only message with no text payload — nothing to classify
		// or respond to.
		w.logger.Debug("whatsapp: dropping message without text content",
			"from", evt.Info.Sender.User, "type", msgType)
		return
	}

	msg := &channels.IncomingMessage{
		ID:        evt.Info.ID,
		Channel:   "whatsapp",
		From:      evt.Info.Sender.ToNonAD().String(),
		FromName:  evt.Info.PushName,
		ChatID:    evt.Info.Chat.String(),
		IsGroup:   isGroup,
		Type:      msgType,
		Content:   content,
		Timestamp: evt.Info.Timestamp,
	}

	w.emitMessage(msg)
}

// extractMessageContent extracts text from the different shapes a WhatsApp
// message can take. Returns empty content for media without a caption.
func extractMessageContent(msg *waE2E.Message) (string, channels.MessageType) {
	if msg == nil {
		return "", channels.MessageUnknown
	}

	if text := msg.GetConversation(); text != "" {
		return strings.TrimSpace(text), channels.MessageText
	}

	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return strings.TrimSpace(ext.GetText()), channels.MessageText
	}

	if img := msg.GetImageMessage(); img != nil {
		return strings.TrimSpace(img.GetCaption()), channels.MessageImage
	}

	if vid := msg.GetVideoMessage(); vid != nil {
		return strings.TrimSpace(vid.GetCaption()), channels.MessageVideo
	}

	if msg.GetAudioMessage() != nil {
		return "", channels.MessageAudio
	}

	if doc := msg.GetDocumentMessage(); doc != nil {
		return strings.TrimSpace(doc.GetCaption()), channels.MessageDocument
	}

	if msg.GetStickerMessage() != nil {
		return "", channels.MessageSticker
	}

	return "", channels.MessageUnknown
}
