// Package channels defines the interface and types for the messaging
// transport that carries customer conversations. The WhatsApp channel is the
// only core implementation; the seller depends exclusively on this interface.
package channels

import (
	"context"
	"fmt"
	"time"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
	MessageSticker  MessageType = "sticker"
	MessageUnknown  MessageType = "unknown"
)

// Channel is the interface the messaging transport must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "whatsapp").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a message to the specified recipient.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// IncomingMessage represents a message received from the channel.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// Channel identifies the source channel (e.g. "whatsapp").
	Channel string

	// From is the sender identifier on the platform (customer id).
	From string

	// FromName is the sender display name (if available).
	FromName string

	// ChatID is the conversation identifier.
	ChatID string

	// IsGroup indicates whether the message came from a group chat.
	IsGroup bool

	// Type is the message content type.
	Type MessageType

	// Content is the text content of the message. For media messages this
	// is the caption; media-only messages are dropped before emission.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// ReplyTo contains the ID of the message being replied to.
	ReplyTo string

	// Metadata contains additional channel-specific data.
	Metadata map[string]any
}

// OutgoingMessage represents a message to be sent through the channel.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	Details       map[string]any
}

// Errors.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrSendFailed          = fmt.Errorf("failed to send message")
	ErrLoggedOut           = fmt.Errorf("session logged out, new pairing required")
)
