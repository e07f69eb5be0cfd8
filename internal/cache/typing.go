package cache

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// typingEntry tracks one user's indicator. The generation stamps each armed
// timer so a timer that already fired when a refresh came in cannot clear the
// refreshed entry.
type typingEntry struct {
	timer *time.Timer
	gen   int
}

// SetTyping applies a user_typing event. Events for other conversations and
// for the current user's own id are ignored. Each typing entry expires on its
// own after TypingExpiry so a dropped typing_stop cannot strand the
// indicator.
func (c *Cache) SetTyping(conversationID int64, userID string, typing bool) {
	c.mu.Lock()
	if conversationID != c.active || userID == c.self.UserID {
		c.mu.Unlock()
		return
	}
	if typing {
		e, ok := c.typing[userID]
		if ok {
			e.timer.Stop()
		} else {
			e = &typingEntry{}
			c.typing[userID] = e
		}
		e.gen++
		gen := e.gen
		e.timer = time.AfterFunc(c.opts.TypingExpiry, func() {
			c.clearTyping(userID, gen)
		})
	} else {
		if e, ok := c.typing[userID]; ok {
			e.timer.Stop()
			delete(c.typing, userID)
		}
	}
	c.mu.Unlock()
	c.notify()
}

// clearTyping removes the entry only if the firing timer is still the current
// generation; a superseded timer that lost the race to a refresh is a no-op.
func (c *Cache) clearTyping(userID string, gen int) {
	c.mu.Lock()
	e, ok := c.typing[userID]
	if !ok || e.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.typing, userID)
	c.mu.Unlock()
	c.notify()
}

// TypingUsers returns the ids currently typing in the active conversation.
func (c *Cache) TypingUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.typing))
	for id := range c.typing {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// PresenceEmitter is the transport slice the Typer drives.
type PresenceEmitter interface {
	StartTyping(conversationID int64)
	StopTyping(conversationID int64)
}

// Typer debounces the local user's keystrokes into presence emits: at most
// one typing_start per throttle window while typing continues, and a
// typing_stop once input has been idle long enough or a message is sent.
type Typer struct {
	emitter PresenceEmitter
	lim     *rate.Limiter
	idle    time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	conv   int64
	active bool
}

func NewTyper(emitter PresenceEmitter, throttle, idle time.Duration) *Typer {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}
	if idle <= 0 {
		idle = 3 * time.Second
	}
	return &Typer{
		emitter: emitter,
		lim:     rate.NewLimiter(rate.Every(throttle), 1),
		idle:    idle,
	}
}

// Tick records keystroke activity in the given conversation.
func (t *Typer) Tick(conversationID int64) {
	t.mu.Lock()
	if t.active && t.conv != conversationID {
		t.emitter.StopTyping(t.conv)
		t.active = false
	}
	t.conv = conversationID
	if t.lim.Allow() {
		t.active = true
		t.emitter.StartTyping(conversationID)
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.idle, t.Stop)
	t.mu.Unlock()
}

// Stop emits an immediate typing_stop, typically right before a send.
func (t *Typer) Stop() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	active := t.active
	conv := t.conv
	t.active = false
	t.mu.Unlock()
	if active {
		t.emitter.StopTyping(conv)
	}
}
