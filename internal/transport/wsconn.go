package transport

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readLimit     = 64 * 1024
	readWait      = 60 * time.Second
	writeWait     = 10 * time.Second
)

// wsConn is the full-duplex transport. Writes are serialized because gorilla
// allows only one concurrent writer.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func dialWS(base, cookie string, timeout time.Duration) (*wsConn, error) {
	u, err := wsURL(base)
	if err != nil {
		return nil, err
	}
	d := websocket.Dialer{HandshakeTimeout: timeout}
	hdr := http.Header{}
	hdr.Set("Cookie", cookie)
	ws, resp, err := d.Dial(u, hdr)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPingHandler(func(appData string) error {
		_ = ws.SetReadDeadline(time.Now().Add(readWait))
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})
	return &wsConn{ws: ws}, nil
}

// wsURL swaps the configured http(s) scheme for ws(s) and appends the
// upgrade path.
func wsURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

func (c *wsConn) ReadEnvelope() (*Envelope, error) {
	_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
	var env Envelope
	if err := c.ws.ReadJSON(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (c *wsConn) WriteEnvelope(env *Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(env)
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.ws.Close()
}
