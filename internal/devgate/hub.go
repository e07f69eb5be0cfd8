package devgate

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hunghuyn2003-source/mall-messaging/internal/transport"
)

// subscriber is one realtime attachment, either a websocket connection or a
// long-poll session.
type subscriber interface {
	UserID() string
	Deliver(*transport.Envelope)
}

// Hub routes realtime events between subscribers. Chat traffic is scoped to
// conversation rooms; the notification namespace broadcasts to everyone.
type Hub struct {
	store *Store
	log   *zap.SugaredLogger

	mu    sync.RWMutex
	subs  map[subscriber]bool
	rooms map[int64]map[subscriber]bool
}

func NewHub(store *Store, log *zap.SugaredLogger) *Hub {
	return &Hub{
		store: store,
		log:   log,
		subs:  make(map[subscriber]bool),
		rooms: make(map[int64]map[subscriber]bool),
	}
}

func (h *Hub) Register(sub subscriber) {
	h.mu.Lock()
	h.subs[sub] = true
	h.mu.Unlock()
}

func (h *Hub) Unregister(sub subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	for _, members := range h.rooms {
		delete(members, sub)
	}
	h.mu.Unlock()
}

func (h *Hub) join(room int64, sub subscriber) {
	h.mu.Lock()
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[subscriber]bool)
	}
	h.rooms[room][sub] = true
	h.mu.Unlock()
}

func (h *Hub) leave(room int64, sub subscriber) {
	h.mu.Lock()
	if members, ok := h.rooms[room]; ok {
		delete(members, sub)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcastRoom(room int64, env *transport.Envelope, except subscriber) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.rooms[room] {
		if sub != except {
			sub.Deliver(env)
		}
	}
}

// BroadcastAll delivers an event to every subscriber of this hub.
func (h *Hub) BroadcastAll(env *transport.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		sub.Deliver(env)
	}
}

func envelope(event string, data interface{}) *transport.Envelope {
	raw, _ := json.Marshal(data)
	return &transport.Envelope{Event: event, Data: raw, Ts: time.Now().UnixMilli()}
}

// HandleEvent processes one inbound envelope from a subscriber.
func (h *Hub) HandleEvent(sub subscriber, env *transport.Envelope) {
	switch env.Event {
	case transport.EventJoinConversation:
		var p transport.RoomPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return
		}
		h.join(p.ConversationID, sub)

	case transport.EventLeaveConversation:
		var p transport.RoomPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return
		}
		h.leave(p.ConversationID, sub)

	case transport.EventSendMessage:
		var p transport.SendPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return
		}
		msg, ok := h.store.AppendMessage(p.ConversationID, sub.UserID(), p.Content, p.ClientRef)
		if !ok {
			h.log.Warnw("send to unknown conversation", "conversation", p.ConversationID)
			return
		}
		sub.Deliver(envelope(transport.EventMessageSent, msg))
		h.broadcastRoom(p.ConversationID, envelope(transport.EventNewMessage, msg), sub)
		if conv, ok := h.store.Conversation(p.ConversationID); ok {
			h.broadcastRoom(p.ConversationID, envelope(transport.EventConversationUpdated, conv), nil)
		}

	case transport.EventTypingStart, transport.EventTypingStop:
		var p transport.TypingPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return
		}
		out := transport.TypingPayload{
			ConversationID: p.ConversationID,
			UserID:         sub.UserID(),
			Typing:         env.Event == transport.EventTypingStart,
		}
		h.broadcastRoom(p.ConversationID, envelope(transport.EventUserTyping, out), sub)

	default:
		h.log.Debugw("unhandled inbound event", "event", env.Event)
	}
}
