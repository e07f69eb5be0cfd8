package transport

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hunghuyn2003-source/mall-messaging/internal/models"
	"github.com/hunghuyn2003-source/mall-messaging/internal/session"
)

var (
	ErrNotConnected = errors.New("realtime channel not connected")
	ErrClosed       = errors.New("realtime channel closed")
)

// conn abstracts over the websocket and long-poll transports.
type conn interface {
	ReadEnvelope() (*Envelope, error)
	WriteEnvelope(*Envelope) error
	Close() error
}

type Options struct {
	// URL is the realtime namespace base, e.g. http://host:9092/rt/chat.
	// Configured independently of the REST base URL.
	URL               string
	DialTimeout       time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// Channel supervises exactly one live connection for one session and
// namespace. Construct once per login and Close on logout; a new session
// gets a new Channel. It prefers the websocket transport and falls back to
// long-polling when the upgrade cannot be established.
type Channel struct {
	opts Options
	sess *session.Session
	log  *zap.SugaredLogger

	mu        sync.Mutex
	conn      conn
	connected bool
	lastErr   string
	started   bool
	closed    bool
	done      chan struct{}

	hmu      sync.RWMutex
	handlers Handlers
}

func New(opts Options, sess *session.Session, log *zap.SugaredLogger) *Channel {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = 5
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	return &Channel{
		opts: opts,
		sess: sess,
		log:  log,
		done: make(chan struct{}),
	}
}

// SetHandlers replaces the callback set. The connection is untouched; only
// the most recent set is invoked from then on.
func (c *Channel) SetHandlers(h Handlers) {
	c.hmu.Lock()
	c.handlers = h
	c.hmu.Unlock()
}

func (c *Channel) getHandlers() Handlers {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	return c.handlers
}

func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// LastError returns the most recent connection or send error, empty when
// healthy.
func (c *Channel) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect starts the connection supervisor. It returns immediately; dial
// progress and failures surface through IsConnected/LastError and the
// OnConnect handler. Calling it again while the supervisor is live is a
// no-op.
func (c *Channel) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	c.started = true
	go c.run()
	return nil
}

// Close tears the channel down for good: the supervisor stops, the socket
// closes and no handler fires afterwards. Safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Channel) run() {
	attempts := 0
	for {
		select {
		case <-c.done:
			return
		default:
		}

		t, err := c.dial()
		if err != nil {
			attempts++
			c.setError("realtime service unreachable")
			c.log.Warnw("realtime dial failed", "attempt", attempts, "err", err)
			if attempts >= c.opts.ReconnectAttempts {
				c.log.Warnw("reconnect attempts exhausted", "attempts", attempts)
				return
			}
			select {
			case <-c.done:
				return
			case <-time.After(c.opts.ReconnectDelay):
			}
			continue
		}
		attempts = 0

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = t.Close()
			return
		}
		c.conn = t
		c.connected = true
		c.lastErr = ""
		c.mu.Unlock()

		if h := c.getHandlers(); h.OnConnect != nil {
			h.OnConnect()
		}

		readErr := c.readLoop(t)

		c.mu.Lock()
		closed := c.closed
		c.conn = nil
		c.connected = false
		c.mu.Unlock()
		_ = t.Close()
		if closed {
			return
		}
		c.setError("realtime connection lost")
		c.log.Warnw("realtime connection dropped", "err", readErr)
	}
}

// dial tries the websocket upgrade first and degrades to long-polling when
// the upgrade endpoint is unreachable.
func (c *Channel) dial() (conn, error) {
	cookie := session.CookieName + "=" + c.sess.Token
	ws, wsErr := dialWS(c.opts.URL, cookie, c.opts.DialTimeout)
	if wsErr == nil {
		return ws, nil
	}
	c.log.Debugw("websocket dial failed, trying long-poll", "err", wsErr)
	pc, pollErr := dialPoll(c.opts.URL, cookie, c.opts.DialTimeout)
	if pollErr == nil {
		c.log.Infow("degraded to long-poll transport")
		return pc, nil
	}
	return nil, wsErr
}

func (c *Channel) readLoop(t conn) error {
	for {
		env, err := t.ReadEnvelope()
		if err != nil {
			return err
		}
		c.dispatch(env)
	}
}

func (c *Channel) dispatch(env *Envelope) {
	h := c.getHandlers()
	switch env.Event {
	case EventNewMessage:
		var m models.Message
		if json.Unmarshal(env.Data, &m) == nil && h.OnNewMessage != nil {
			h.OnNewMessage(&m)
		}
	case EventMessageSent:
		var m models.Message
		if json.Unmarshal(env.Data, &m) == nil && h.OnMessageSent != nil {
			h.OnMessageSent(&m)
		}
	case EventMessageDeleted:
		var p DeletePayload
		if json.Unmarshal(env.Data, &p) == nil && h.OnMessageDeleted != nil {
			h.OnMessageDeleted(p.ConversationID, p.MessageID)
		}
	case EventConversationUpdated:
		var cv models.Conversation
		if json.Unmarshal(env.Data, &cv) == nil && h.OnConversationUpdated != nil {
			h.OnConversationUpdated(&cv)
		}
	case EventUserTyping:
		var p TypingPayload
		if json.Unmarshal(env.Data, &p) == nil && h.OnTyping != nil {
			h.OnTyping(p.ConversationID, p.UserID, p.Typing)
		}
	case EventPaymentNotification:
		var n models.PaymentNotification
		if json.Unmarshal(env.Data, &n) == nil && h.OnNotification != nil {
			h.OnNotification(&n)
		}
	default:
		c.log.Debugw("unhandled realtime event", "event", env.Event)
	}
}

func (c *Channel) setError(msg string) {
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()
}

func (c *Channel) emit(event string, data interface{}) error {
	env, err := newEnvelope(event, data, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	c.mu.Lock()
	t := c.conn
	ok := c.connected
	c.mu.Unlock()
	if !ok || t == nil {
		return ErrNotConnected
	}
	return t.WriteEnvelope(env)
}

// JoinConversation subscribes to a conversation's room. A silent no-op while
// disconnected; callers re-join from their OnConnect handler.
func (c *Channel) JoinConversation(id int64) {
	if err := c.emit(EventJoinConversation, RoomPayload{ConversationID: id}); err != nil {
		c.log.Debugw("join skipped", "conversation", id, "err", err)
	}
}

func (c *Channel) LeaveConversation(id int64) {
	if err := c.emit(EventLeaveConversation, RoomPayload{ConversationID: id}); err != nil {
		c.log.Debugw("leave skipped", "conversation", id, "err", err)
	}
}

// Send emits a send intent. It does not wait for confirmation; the caller
// observes the message_sent handler. Sending while disconnected surfaces
// through LastError and returns ErrNotConnected.
func (c *Channel) Send(conversationID int64, content, clientRef string) error {
	err := c.emit(EventSendMessage, SendPayload{
		ConversationID: conversationID,
		Content:        content,
		ClientRef:      clientRef,
	})
	if errors.Is(err, ErrNotConnected) {
		c.setError("cannot send while disconnected")
	}
	return err
}

// StartTyping and StopTyping are fire-and-forget presence emits.
func (c *Channel) StartTyping(conversationID int64) {
	_ = c.emit(EventTypingStart, TypingPayload{ConversationID: conversationID, Typing: true})
}

func (c *Channel) StopTyping(conversationID int64) {
	_ = c.emit(EventTypingStop, TypingPayload{ConversationID: conversationID, Typing: false})
}
