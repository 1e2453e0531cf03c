package websocket

import (
	"time"

	"github.com/KevinKickass/OpenSkyCam/internal/scheduler"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Auth handshake
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"

	// Scheduler iterations
	MessageTypeCaptureComplete MessageType = "capture_complete"
	MessageTypeCaptureFailed   MessageType = "capture_failed"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// AuthData is the payload of auth replies.
type AuthData struct {
	Username    string   `json:"username,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewIterationMessage wraps a finished scheduler iteration.
func NewIterationMessage(res scheduler.Result) Message {
	msgType := MessageTypeCaptureComplete
	if !res.OK() {
		msgType = MessageTypeCaptureFailed
	}
	return NewMessage(msgType, res)
}
