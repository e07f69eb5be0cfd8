// Package restapi is the client for the mall dashboard's REST backend, used
// by the messaging core for counterpart listing, conversation resolution and
// history pages. The resource schemas themselves are owned by the backend.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/hunghuyn2003-source/mall-messaging/internal/models"
	"github.com/hunghuyn2003-source/mall-messaging/internal/session"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
)

type Options struct {
	BaseURL       string
	Timeout       time.Duration
	RetryMaxTime  time.Duration
}

type Client struct {
	base  string
	http  *http.Client
	sess  *session.Session
	retry time.Duration
	log   *zap.SugaredLogger
}

func New(opts Options, sess *session.Session, log *zap.SugaredLogger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RetryMaxTime <= 0 {
		opts.RetryMaxTime = 20 * time.Second
	}
	return &Client{
		base:  strings.TrimSuffix(opts.BaseURL, "/"),
		http:  &http.Client{Timeout: opts.Timeout},
		sess:  sess,
		retry: opts.RetryMaxTime,
		log:   log,
	}
}

// ChatUsers lists the possible messaging counterparts for the current user.
func (c *Client) ChatUsers(ctx context.Context) ([]models.ChatUser, error) {
	var out struct {
		Data []models.ChatUser `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chat/users", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// DirectConversation fetches or lazily creates the direct conversation with
// the given counterpart. Conversation ids always originate server-side.
func (c *Client) DirectConversation(ctx context.Context, counterpartID string) (*models.Conversation, error) {
	body := map[string]string{"user_id": counterpartID}
	var out struct {
		Data *models.Conversation `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/chat/conversations/direct", body, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Messages fetches one page of a conversation's history.
func (c *Client) Messages(ctx context.Context, conversationID int64, page, limit int) (*models.MessagePage, error) {
	path := fmt.Sprintf("/api/chat/conversations/%d/messages?page=%d&limit=%d", conversationID, page, limit)
	var out models.MessagePage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do runs one request with exponential backoff on network errors and 5xx
// responses. Client errors are permanent and fail immediately.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	operation := func() error {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Cookie", session.CookieName+"="+c.sess.Token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		case resp.StatusCode == http.StatusNotFound:
			io.Copy(io.Discard, resp.Body)
			return backoff.Permanent(ErrNotFound)
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			io.Copy(io.Discard, resp.Body)
			return backoff.Permanent(ErrUnauthorized)
		case resp.StatusCode >= 400:
			io.Copy(io.Discard, resp.Body)
			return backoff.Permanent(fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
		}

		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s: %w", path, err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.retry
	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	if err != nil {
		c.log.Warnw("rest request failed", "method", method, "path", path, "err", err)
	}
	return err
}
