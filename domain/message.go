// Package domain contains core concepts of the chat system.
// This file defines Message events and related rules.
// Messages are immutable once appended to a history.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message represents an immutable chat event.
type Message struct {
	ID        uuid.UUID // unique identifier
	Sender    string
	Body      string // single-line message text, after moderation
	Raw       string // verbatim wire block delivered to recipients
	CreatedAt time.Time
}
