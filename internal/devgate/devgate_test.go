package devgate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hunghuyn2003-source/mall-messaging/internal/models"
	"github.com/hunghuyn2003-source/mall-messaging/internal/transport"
)

func seedStore() *Store {
	return NewStore([]models.ChatUser{
		{ID: "u-a", Name: "A", Role: models.RoleAdmin},
		{ID: "u-b", Name: "B", Role: models.RoleStoreOwner},
		{ID: "u-c", Name: "C", Role: models.RoleStaff},
	})
}

func TestDirectConversationGetOrCreate(t *testing.T) {
	s := seedStore()
	first, ok := s.DirectConversation("u-a", "u-b")
	require.True(t, ok)
	again, ok := s.DirectConversation("u-b", "u-a")
	require.True(t, ok)
	assert.Equal(t, first.ID, again.ID, "member order must not fork the conversation")

	other, ok := s.DirectConversation("u-a", "u-c")
	require.True(t, ok)
	assert.NotEqual(t, first.ID, other.ID)

	_, ok = s.DirectConversation("u-a", "u-a")
	assert.False(t, ok)
	_, ok = s.DirectConversation("u-a", "nobody")
	assert.False(t, ok)
}

func TestMessagesPagination(t *testing.T) {
	s := seedStore()
	conv, _ := s.DirectConversation("u-a", "u-b")
	for i := 0; i < 7; i++ {
		_, ok := s.AppendMessage(conv.ID, "u-a", "msg", "")
		require.True(t, ok)
	}

	p1 := s.MessagesPage(conv.ID, 1, 3)
	assert.Len(t, p1.Data, 3)
	assert.Equal(t, 7, p1.Meta.Total)
	assert.Equal(t, 3, p1.Meta.TotalPages)
	// Page 1 is the most recent window.
	assert.EqualValues(t, 7, p1.Data[len(p1.Data)-1].ID)

	p3 := s.MessagesPage(conv.ID, 3, 3)
	assert.Len(t, p3.Data, 1)
	assert.EqualValues(t, 1, p3.Data[0].ID)

	p9 := s.MessagesPage(conv.ID, 9, 3)
	assert.Empty(t, p9.Data)
}

func TestAppendMessageUpdatesConversation(t *testing.T) {
	s := seedStore()
	conv, _ := s.DirectConversation("u-a", "u-b")
	msg, ok := s.AppendMessage(conv.ID, "u-b", "chào anh", "ref-1")
	require.True(t, ok)
	assert.EqualValues(t, 1, msg.ID)
	assert.Equal(t, "ref-1", msg.ClientRef)
	assert.Equal(t, "B", msg.Sender.Name)

	got, _ := s.Conversation(conv.ID)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, msg.ID, got.LastMessage.ID)
}

func drain(t *testing.T, pc *pollClient, cursor int64) (int64, []*transport.Envelope) {
	t.Helper()
	return pc.Events(cursor, 0)
}

func eventNames(evs []*transport.Envelope) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Event
	}
	return out
}

func TestHubRoutesSendToRoomMembers(t *testing.T) {
	s := seedStore()
	conv, _ := s.DirectConversation("u-a", "u-b")
	h := NewHub(s, zap.NewNop().Sugar())

	a := newPollClient("u-a")
	b := newPollClient("u-b")
	h.Register(a)
	h.Register(b)

	join, _ := json.Marshal(transport.RoomPayload{ConversationID: conv.ID})
	h.HandleEvent(a, &transport.Envelope{Event: transport.EventJoinConversation, Data: join})
	h.HandleEvent(b, &transport.Envelope{Event: transport.EventJoinConversation, Data: join})

	send, _ := json.Marshal(transport.SendPayload{ConversationID: conv.ID, Content: "Xin chào", ClientRef: "ref-7"})
	h.HandleEvent(a, &transport.Envelope{Event: transport.EventSendMessage, Data: send})

	_, aEvs := drain(t, a, 0)
	assert.ElementsMatch(t, []string{transport.EventMessageSent, transport.EventConversationUpdated}, eventNames(aEvs))

	_, bEvs := drain(t, b, 0)
	assert.ElementsMatch(t, []string{transport.EventNewMessage, transport.EventConversationUpdated}, eventNames(bEvs))

	for _, e := range bEvs {
		if e.Event != transport.EventNewMessage {
			continue
		}
		var m models.Message
		require.NoError(t, json.Unmarshal(e.Data, &m))
		assert.Equal(t, "Xin chào", m.Content)
		assert.Equal(t, "u-a", m.SenderID)
		assert.NotZero(t, m.ID)
	}
}

func TestHubTypingExcludesSender(t *testing.T) {
	s := seedStore()
	conv, _ := s.DirectConversation("u-a", "u-b")
	h := NewHub(s, zap.NewNop().Sugar())

	a := newPollClient("u-a")
	b := newPollClient("u-b")
	h.Register(a)
	h.Register(b)
	join, _ := json.Marshal(transport.RoomPayload{ConversationID: conv.ID})
	h.HandleEvent(a, &transport.Envelope{Event: transport.EventJoinConversation, Data: join})
	h.HandleEvent(b, &transport.Envelope{Event: transport.EventJoinConversation, Data: join})

	typ, _ := json.Marshal(transport.TypingPayload{ConversationID: conv.ID, Typing: true})
	h.HandleEvent(a, &transport.Envelope{Event: transport.EventTypingStart, Data: typ})

	_, aEvs := drain(t, a, 0)
	assert.Empty(t, aEvs, "sender must not see their own typing echo")

	_, bEvs := drain(t, b, 0)
	require.Len(t, bEvs, 1)
	var p transport.TypingPayload
	require.NoError(t, json.Unmarshal(bEvs[0].Data, &p))
	assert.Equal(t, "u-a", p.UserID)
	assert.True(t, p.Typing)
}

func TestHubLeaveStopsDelivery(t *testing.T) {
	s := seedStore()
	conv, _ := s.DirectConversation("u-a", "u-b")
	h := NewHub(s, zap.NewNop().Sugar())

	a := newPollClient("u-a")
	b := newPollClient("u-b")
	h.Register(a)
	h.Register(b)
	join, _ := json.Marshal(transport.RoomPayload{ConversationID: conv.ID})
	h.HandleEvent(a, &transport.Envelope{Event: transport.EventJoinConversation, Data: join})
	h.HandleEvent(b, &transport.Envelope{Event: transport.EventJoinConversation, Data: join})
	h.HandleEvent(b, &transport.Envelope{Event: transport.EventLeaveConversation, Data: join})

	send, _ := json.Marshal(transport.SendPayload{ConversationID: conv.ID, Content: "ai còn ở đây?"})
	h.HandleEvent(a, &transport.Envelope{Event: transport.EventSendMessage, Data: send})

	_, bEvs := drain(t, b, 0)
	assert.Empty(t, bEvs)
}

func TestPollClientCursorSemantics(t *testing.T) {
	pc := newPollClient("u-a")
	pc.Deliver(envelope("e1", nil))
	pc.Deliver(envelope("e2", nil))

	cursor, evs := pc.Events(0, 0)
	assert.EqualValues(t, 2, cursor)
	assert.Equal(t, []string{"e1", "e2"}, eventNames(evs))

	// Re-polling with an old cursor re-reads; with the new cursor it waits.
	_, again := pc.Events(0, 0)
	assert.Len(t, again, 2)
	_, empty := pc.Events(cursor, 0)
	assert.Empty(t, empty)

	done := make(chan []*transport.Envelope, 1)
	go func() {
		_, evs := pc.Events(cursor, time.Second)
		done <- evs
	}()
	pc.Deliver(envelope("e3", nil))
	select {
	case evs := <-done:
		assert.Equal(t, []string{"e3"}, eventNames(evs))
	case <-time.After(2 * time.Second):
		t.Fatal("waiting poll never woke")
	}
}
