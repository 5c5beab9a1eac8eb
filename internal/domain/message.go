package domain

import "time"

// MessageType represents how a message came to exist.
type MessageType string

// Message types.
const (
	MessageTypeStart  MessageType = "Start"
	MessageTypeEnd    MessageType = "End"
	MessageTypeManual MessageType = "Manual"
)

// IsValid checks if the message type is valid.
func (t MessageType) IsValid() bool {
	return t == MessageTypeStart || t == MessageTypeEnd || t == MessageTypeManual
}

// Message is a rendered, timestamped status line attached to an event.
// Time is unique per event.
type Message struct {
	EventRowKey string      `json:"event_row_key"`
	Time        time.Time   `json:"time"`
	Contents    string      `json:"contents"`
	Type        MessageType `json:"type"`
}

// IsManual returns true for messages edited by a human; those are never overwritten.
func (m *Message) IsManual() bool {
	return m.Type == MessageTypeManual
}
