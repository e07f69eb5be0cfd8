// Package cache owns the ordered, de-duplicated message list for the active
// conversation, reconciling REST history pages, socket-pushed events and this
// client's own optimistic sends.
package cache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hunghuyn2003-source/mall-messaging/internal/models"
	"github.com/hunghuyn2003-source/mall-messaging/internal/session"
)

var ErrEmptyMessage = errors.New("message content is empty")

// Fetcher is the slice of the REST collaborator the cache needs.
type Fetcher interface {
	Messages(ctx context.Context, conversationID int64, page, limit int) (*models.MessagePage, error)
}

// Sender is the slice of the transport channel the cache needs.
type Sender interface {
	Send(conversationID int64, content, clientRef string) error
}

type Options struct {
	SendTimeout  time.Duration
	TypingExpiry time.Duration
}

type pendingSend struct {
	tempID  string
	content string
	timer   *time.Timer
}

// Cache holds exactly one active conversation at a time. Events for any other
// conversation are dropped at the point of application, which also disarms
// stale REST responses racing a conversation switch.
type Cache struct {
	self    *session.Session
	fetcher Fetcher
	sender  Sender
	opts    Options
	log     *zap.SugaredLogger

	mu       sync.Mutex
	active   int64
	conv     *models.Conversation
	messages []*models.Message
	pending  map[string]*pendingSend // client ref -> pending optimistic send
	typing   map[string]*typingEntry // user id -> expiry state

	onChange  func()
	onWarning func(string)
	now       func() time.Time
}

func New(self *session.Session, fetcher Fetcher, sender Sender, opts Options, log *zap.SugaredLogger) *Cache {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.TypingExpiry <= 0 {
		opts.TypingExpiry = 6 * time.Second
	}
	return &Cache{
		self:    self,
		fetcher: fetcher,
		sender:  sender,
		opts:    opts,
		log:     log,
		pending: make(map[string]*pendingSend),
		typing:  make(map[string]*typingEntry),
		now:     time.Now,
	}
}

// OnChange registers the re-render hook, invoked after every externally
// visible mutation.
func (c *Cache) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// OnWarning registers the recoverable-problem hook (send timeouts, emit
// failures). The optimistic message always stays visible when it fires.
func (c *Cache) OnWarning(fn func(string)) {
	c.mu.Lock()
	c.onWarning = fn
	c.mu.Unlock()
}

// SetActive switches the active conversation and discards all state of the
// previous one: baseline, typing presence and pending-send timers.
func (c *Cache) SetActive(conv *models.Conversation) {
	c.mu.Lock()
	c.active = conv.ID
	c.conv = conv
	c.messages = nil
	for _, p := range c.pending {
		p.timer.Stop()
	}
	c.pending = make(map[string]*pendingSend)
	for _, e := range c.typing {
		e.timer.Stop()
	}
	c.typing = make(map[string]*typingEntry)
	c.mu.Unlock()
	c.notify()
}

// ActiveID returns the active conversation id, zero when none is selected.
func (c *Cache) ActiveID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// LoadPage fetches one history page and establishes the baseline. The result
// is applied only if the conversation is still active when the response
// lands; a response for a conversation the user has already left is dropped.
// A failed fetch leaves the previous baseline intact.
func (c *Cache) LoadPage(ctx context.Context, conversationID int64, page, limit int) (*models.PageMeta, error) {
	res, err := c.fetcher.Messages(ctx, conversationID, page, limit)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.active != conversationID {
		c.mu.Unlock()
		c.log.Debugw("dropping stale history page", "conversation", conversationID)
		return &res.Meta, nil
	}
	merged := make([]*models.Message, 0, len(res.Data)+len(c.messages))
	seen := make(map[int64]bool, len(res.Data))
	for _, m := range res.Data {
		if m.ID != 0 {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
		}
		merged = append(merged, m)
	}
	// Carry over what the page does not cover: pending optimistic entries
	// and messages pushed over the socket while the fetch was in flight.
	// Either way user-visible content never disappears on a page apply.
	for _, m := range c.messages {
		if m.Pending() {
			merged = append(merged, m)
			continue
		}
		if !seen[m.ID] {
			seen[m.ID] = true
			merged = append(merged, m)
		}
	}
	c.messages = merged
	c.resortLocked()
	c.mu.Unlock()
	c.notify()
	return &res.Meta, nil
}

// AppendIncoming applies a new_message push and reports whether the message
// was actually inserted. Events for other conversations are ignored;
// redelivery of an already known server id is a no-op, so callers rendering
// on arrival can skip duplicates.
func (c *Cache) AppendIncoming(msg *models.Message) bool {
	c.mu.Lock()
	if msg.ConversationID != c.active {
		c.mu.Unlock()
		return false
	}
	if c.hasServerIDLocked(msg.ID) {
		c.mu.Unlock()
		return false
	}
	c.messages = append(c.messages, msg)
	c.resortLocked()
	c.mu.Unlock()
	c.notify()
	return true
}

// SendOptimistic inserts a temp-id message authored by the current user
// before emitting the send intent, so the UI reflects the send immediately.
// The returned temp id identifies the entry until confirmation arrives. If no
// confirmation lands within SendTimeout, the sending affordance clears and a
// warning fires, but the entry stays visible for retry.
func (c *Cache) SendOptimistic(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyMessage
	}

	c.mu.Lock()
	conversationID := c.active
	clientRef := uuid.NewString()
	msg := &models.Message{
		TempID:         models.NewTempID(),
		ClientRef:      clientRef,
		ConversationID: conversationID,
		SenderID:       c.self.UserID,
		Content:        content,
		Sender: models.MessageSender{
			ID:     c.self.UserID,
			Name:   c.self.Name,
			Avatar: c.self.Avatar,
		},
		CreatedAt: c.now(),
	}
	p := &pendingSend{tempID: msg.TempID, content: content}
	p.timer = time.AfterFunc(c.opts.SendTimeout, func() { c.expirePending(clientRef) })
	c.pending[clientRef] = p
	c.messages = append(c.messages, msg)
	c.resortLocked()
	c.mu.Unlock()
	c.notify()

	if err := c.sender.Send(conversationID, content, clientRef); err != nil {
		c.mu.Lock()
		if p, ok := c.pending[clientRef]; ok {
			p.timer.Stop()
			delete(c.pending, clientRef)
		}
		c.mu.Unlock()
		c.warn("message not sent: connection unavailable, try again")
		c.notify()
	}
	return msg.TempID, nil
}

func (c *Cache) expirePending(clientRef string) {
	c.mu.Lock()
	_, ok := c.pending[clientRef]
	if ok {
		delete(c.pending, clientRef)
	}
	c.mu.Unlock()
	if ok {
		c.warn("message delivery unconfirmed, it may not have been received")
		c.notify()
	}
}

// ReconcileConfirmed replaces the matching optimistic entry with the durable
// message from a message_sent confirmation. The match is by echoed client ref
// when present, otherwise by sender and exact content, since client and
// server clocks cannot be compared. The swap happens under one lock so no
// reader ever observes both entries.
func (c *Cache) ReconcileConfirmed(msg *models.Message) {
	c.mu.Lock()
	if msg.ConversationID != c.active {
		c.mu.Unlock()
		return
	}

	ref := msg.ClientRef
	if _, ok := c.pending[ref]; !ok {
		ref = ""
		if msg.SenderID == c.self.UserID {
			// Fallback for servers that do not echo the client ref: pending
			// entries are all self-authored, so exact content is the only
			// remaining correlation key.
			for r, p := range c.pending {
				if p.content == msg.Content {
					ref = r
					break
				}
			}
		}
	}
	if ref != "" {
		p := c.pending[ref]
		p.timer.Stop()
		delete(c.pending, ref)
		c.removeTempLocked(p.tempID)
	}
	if !c.hasServerIDLocked(msg.ID) {
		c.messages = append(c.messages, msg)
	}
	c.resortLocked()
	c.mu.Unlock()
	c.notify()
}

// RemoveMessage applies a message_deleted event for the active conversation.
func (c *Cache) RemoveMessage(conversationID, messageID int64) {
	c.mu.Lock()
	if conversationID != c.active {
		c.mu.Unlock()
		return
	}
	kept := c.messages[:0]
	for _, m := range c.messages {
		if m.ID != messageID {
			kept = append(kept, m)
		}
	}
	c.messages = kept
	c.mu.Unlock()
	c.notify()
}

// ApplyConversationUpdate refreshes the active conversation's last-message
// pointer and timestamps.
func (c *Cache) ApplyConversationUpdate(conv *models.Conversation) {
	c.mu.Lock()
	if c.conv == nil || conv.ID != c.active {
		c.mu.Unlock()
		return
	}
	c.conv.LastMessage = conv.LastMessage
	c.conv.UpdatedAt = conv.UpdatedAt
	c.mu.Unlock()
	c.notify()
}

// Sending reports whether the given temp id is still waiting for its
// confirmation; drives the per-message sending affordance.
func (c *Cache) Sending(tempID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pending {
		if p.tempID == tempID {
			return true
		}
	}
	return false
}

// Messages returns the rendered list: a copy, always sorted ascending by
// creation time.
func (c *Cache) Messages() []*models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Cache) hasServerIDLocked(id int64) bool {
	if id == 0 {
		return false
	}
	for _, m := range c.messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (c *Cache) removeTempLocked(tempID string) {
	kept := c.messages[:0]
	for _, m := range c.messages {
		if m.TempID != tempID {
			kept = append(kept, m)
		}
	}
	c.messages = kept
}

// Page sizes are tens of messages, so re-sorting after each mutation is
// cheaper than keeping an ordered structure.
func (c *Cache) resortLocked() {
	sort.SliceStable(c.messages, func(i, j int) bool {
		return c.messages[i].Before(c.messages[j])
	})
}

func (c *Cache) notify() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Cache) warn(msg string) {
	c.mu.Lock()
	fn := c.onWarning
	c.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
	c.log.Warnw(msg)
}
