package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks client-generated placeholder ids for messages that have
// not been persisted yet. A message carries either a durable server id or a
// temp id, never both meaningfully at once: ID == 0 means pending.
const TempIDPrefix = "temp-"

// MessageSender is the sender snapshot embedded in a message so history stays
// renderable even if the account is later renamed or removed.
type MessageSender struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type Message struct {
	ID             int64         `json:"id,omitempty"`
	TempID         string        `json:"temp_id,omitempty"`
	ClientRef      string        `json:"client_ref,omitempty"`
	ConversationID int64         `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Content        string        `json:"content"`
	Sender         MessageSender `json:"sender"`
	ReadBy         []string      `json:"read_by,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Pending reports whether the message is still waiting for server confirmation.
func (m *Message) Pending() bool { return m.ID == 0 }

// NewTempID returns a fresh placeholder id, distinguishable by its prefix.
func NewTempID() string {
	return fmt.Sprintf("%s%d-%s", TempIDPrefix, time.Now().UnixMilli(), uuid.NewString()[:8])
}

// IsTempID reports whether id is a client placeholder rather than a server id.
func IsTempID(id string) bool { return strings.HasPrefix(id, TempIDPrefix) }

// Before orders messages chronologically, tie-breaking equal timestamps by id
// recency so the rendered order stays stable.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}
