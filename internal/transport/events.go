package transport

import (
	"encoding/json"

	"github.com/hunghuyn2003-source/mall-messaging/internal/models"
)

// Outbound event names.
const (
	EventSendMessage       = "send_message"
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
)

// Inbound event names.
const (
	EventNewMessage          = "new_message"
	EventMessageSent         = "message_sent"
	EventMessageDeleted      = "message_deleted"
	EventConversationUpdated = "conversation_updated"
	EventUserTyping          = "user_typing"
	EventPaymentNotification = "payment_notification"
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ts    int64           `json:"ts,omitempty"`
}

func newEnvelope(event string, data interface{}, ts int64) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Event: event, Data: raw, Ts: ts}, nil
}

// SendPayload carries a send intent. ClientRef is echoed back in the
// message_sent confirmation so the sender can correlate it with its
// optimistic entry.
type SendPayload struct {
	ConversationID int64  `json:"conversation_id"`
	Content        string `json:"content"`
	ClientRef      string `json:"client_ref"`
}

type RoomPayload struct {
	ConversationID int64 `json:"conversation_id"`
}

// TypingPayload is both the outbound typing_start/typing_stop body and the
// inbound user_typing body.
type TypingPayload struct {
	ConversationID int64  `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"`
	Typing         bool   `json:"typing"`
}

type DeletePayload struct {
	ConversationID int64 `json:"conversation_id"`
	MessageID      int64 `json:"message_id"`
}

// Handlers is the callback set fanned incoming events out to. Replacing it
// via SetHandlers never touches the underlying connection, so a frequently
// re-constructed UI layer can re-register on every rebuild.
type Handlers struct {
	OnConnect             func()
	OnNewMessage          func(*models.Message)
	OnMessageSent         func(*models.Message)
	OnMessageDeleted      func(conversationID, messageID int64)
	OnConversationUpdated func(*models.Conversation)
	OnTyping              func(conversationID int64, userID string, typing bool)
	OnNotification        func(*models.PaymentNotification)
}
