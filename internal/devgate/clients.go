package devgate

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/hunghuyn2003-source/mall-messaging/internal/transport"
)

// wsClient is a websocket subscriber.
type wsClient struct {
	userID string
	ws     *websocket.Conn
	send   chan *transport.Envelope
	hub    *Hub
	once   sync.Once
}

func newWSClient(userID string, conn *websocket.Conn, hub *Hub) *wsClient {
	return &wsClient{
		userID: userID,
		ws:     conn,
		send:   make(chan *transport.Envelope, 256),
		hub:    hub,
	}
}

func (c *wsClient) UserID() string { return c.userID }

func (c *wsClient) Deliver(env *transport.Envelope) {
	select {
	case c.send <- env:
	default:
		// drop if blocked
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		c.hub.Unregister(c)
		close(c.send)
	})
}

// run services the connection until either pump fails. It blocks, matching
// the gofiber websocket handler contract.
func (c *wsClient) run() {
	c.hub.Register(c)
	go c.writePump()
	c.readPump()
}

func (c *wsClient) readPump() {
	defer func() {
		c.close()
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(64 * 1024)
	_ = c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		var env transport.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		c.hub.HandleEvent(c, &env)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				_ = c.ws.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(time.Second))
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}

// pollClient is a long-poll subscriber. Events accumulate with an absolute
// cursor so a retried poll re-reads instead of losing frames.
type pollClient struct {
	userID string

	mu    sync.Mutex
	buf   []*transport.Envelope
	total int64 // events ever queued; cursor of the newest buffered event
	wake  chan struct{}
}

const pollBufferMax = 512

func newPollClient(userID string) *pollClient {
	return &pollClient{userID: userID, wake: make(chan struct{}, 1)}
}

func (c *pollClient) UserID() string { return c.userID }

func (c *pollClient) Deliver(env *transport.Envelope) {
	c.mu.Lock()
	c.buf = append(c.buf, env)
	c.total++
	if len(c.buf) > pollBufferMax {
		c.buf = c.buf[len(c.buf)-pollBufferMax:]
	}
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Events returns everything queued past cursor, waiting up to wait for the
// first event when the queue is drained.
func (c *pollClient) Events(cursor int64, wait time.Duration) (int64, []*transport.Envelope) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		c.mu.Lock()
		if cursor < c.total {
			first := c.total - int64(len(c.buf))
			idx := cursor - first
			if idx < 0 {
				idx = 0
			}
			out := make([]*transport.Envelope, len(c.buf[idx:]))
			copy(out, c.buf[idx:])
			total := c.total
			c.mu.Unlock()
			return total, out
		}
		total := c.total
		c.mu.Unlock()
		if wait <= 0 {
			return total, nil
		}
		select {
		case <-c.wake:
		case <-deadline.C:
			return total, nil
		}
	}
}
