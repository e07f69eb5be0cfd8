package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const pollWaitSeconds = 25

// pollConn is the degraded transport used when the websocket upgrade is not
// reachable (restrictive proxies, handshake failures). It long-polls
// GET <base>/poll for inbound events and POSTs outbound events to
// <base>/emit. The cursor makes redelivery after a dropped poll harmless.
type pollConn struct {
	base   string
	cookie string
	client *http.Client
	cursor int64
	queue  []*Envelope

	ctx    context.Context
	cancel context.CancelFunc
}

func dialPoll(base, cookie string, timeout time.Duration) (*pollConn, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &pollConn{
		base:   base,
		cookie: cookie,
		client: &http.Client{Timeout: (pollWaitSeconds + 10) * time.Second},
		ctx:    ctx,
		cancel: cancel,
	}
	// Probe with a zero-wait poll so a dead endpoint fails fast.
	probeCtx, probeCancel := context.WithTimeout(ctx, timeout)
	defer probeCancel()
	if _, err := c.poll(probeCtx, 0); err != nil {
		cancel()
		return nil, err
	}
	return c, nil
}

type pollResponse struct {
	Cursor int64       `json:"cursor"`
	Events []*Envelope `json:"events"`
}

func (c *pollConn) poll(ctx context.Context, wait int) (*pollResponse, error) {
	u := fmt.Sprintf("%s/poll?cursor=%d&wait=%d", c.base, c.cursor, wait)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cookie", c.cookie)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("poll: unexpected status %d", resp.StatusCode)
	}
	var pr pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, err
	}
	c.cursor = pr.Cursor
	return &pr, nil
}

func (c *pollConn) ReadEnvelope() (*Envelope, error) {
	for {
		if len(c.queue) > 0 {
			env := c.queue[0]
			c.queue = c.queue[1:]
			return env, nil
		}
		pr, err := c.poll(c.ctx, pollWaitSeconds)
		if err != nil {
			return nil, err
		}
		c.queue = append(c.queue, pr.Events...)
	}
}

func (c *pollConn) WriteEnvelope(env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, c.base+"/emit", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Cookie", c.cookie)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("emit: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *pollConn) Close() error {
	c.cancel()
	return nil
}
