// Package devgate is a local stand-in for the two external collaborators of
// the messaging core: the REST message API and the realtime endpoint. It
// exists for development and integration testing; the production backend is
// owned elsewhere.
package devgate

import (
	"sort"
	"sync"
	"time"

	"github.com/hunghuyn2003-source/mall-messaging/internal/models"
)

// Store keeps conversations and messages in memory, capped per conversation.
type Store struct {
	mu       sync.Mutex
	users    []models.ChatUser
	convs    map[int64]*models.Conversation
	pairs    map[string]int64 // "low|high" member pair -> conversation id
	msgs     map[int64][]*models.Message
	nextConv int64
	nextMsg  int64
}

const maxPerConversation = 1000

func NewStore(users []models.ChatUser) *Store {
	return &Store{
		users: users,
		convs: make(map[int64]*models.Conversation),
		pairs: make(map[string]int64),
		msgs:  make(map[int64][]*models.Message),
	}
}

func (s *Store) Users() []models.ChatUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatUser, len(s.users))
	copy(out, s.users)
	return out
}

func (s *Store) user(id string) (models.ChatUser, bool) {
	for _, u := range s.users {
		if u.ID == id {
			return u, true
		}
	}
	return models.ChatUser{}, false
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// DirectConversation returns the direct conversation between the two users,
// creating it on first use.
func (s *Store) DirectConversation(aID, bID string) (*models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, okA := s.user(aID)
	b, okB := s.user(bID)
	if !okA || !okB || aID == bID {
		return nil, false
	}
	if id, ok := s.pairs[pairKey(aID, bID)]; ok {
		return s.convs[id], true
	}
	s.nextConv++
	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:        s.nextConv,
		Type:      models.ConversationDirect,
		Members:   []models.ChatUser{a, b},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.convs[conv.ID] = conv
	s.pairs[pairKey(aID, bID)] = conv.ID
	return conv, true
}

func (s *Store) Conversation(id int64) (*models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	return conv, ok
}

// Members returns the user ids in a conversation.
func (s *Store) Members(id int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(conv.Members))
	for _, m := range conv.Members {
		out = append(out, m.ID)
	}
	return out
}

// AppendMessage persists a message, assigns its durable id and refreshes the
// conversation's last-message pointer.
func (s *Store) AppendMessage(conversationID int64, senderID, content, clientRef string) (*models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return nil, false
	}
	sender, _ := s.user(senderID)
	s.nextMsg++
	msg := &models.Message{
		ID:             s.nextMsg,
		ClientRef:      clientRef,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Sender: models.MessageSender{
			ID:     sender.ID,
			Name:   sender.Name,
			Avatar: sender.Avatar,
		},
		CreatedAt: time.Now().UTC(),
	}
	s.msgs[conversationID] = append(s.msgs[conversationID], msg)
	if len(s.msgs[conversationID]) > maxPerConversation {
		s.msgs[conversationID] = s.msgs[conversationID][len(s.msgs[conversationID])-maxPerConversation:]
	}
	conv.LastMessage = msg
	conv.UpdatedAt = msg.CreatedAt
	return msg, true
}

// MessagesPage returns one history page. Page 1 is the most recent window;
// messages within a page are ordered ascending.
func (s *Store) MessagesPage(conversationID int64, page, limit int) *models.MessagePage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 30
	}
	all := s.msgs[conversationID]
	total := len(all)
	totalPages := (total + limit - 1) / limit
	end := total - (page-1)*limit
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	data := make([]*models.Message, end-start)
	copy(data, all[start:end])
	sort.SliceStable(data, func(i, j int) bool { return data[i].Before(data[j]) })
	return &models.MessagePage{
		Data: data,
		Meta: models.PageMeta{Page: page, Limit: limit, Total: total, TotalPages: totalPages},
	}
}
