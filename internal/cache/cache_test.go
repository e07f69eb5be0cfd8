package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hunghuyn2003-source/mall-messaging/internal/models"
	"github.com/hunghuyn2003-source/mall-messaging/internal/session"
)

type fetcherFunc func(ctx context.Context, conversationID int64, page, limit int) (*models.MessagePage, error)

func (f fetcherFunc) Messages(ctx context.Context, conversationID int64, page, limit int) (*models.MessagePage, error) {
	return f(ctx, conversationID, page, limit)
}

type fakeSender struct {
	mu    sync.Mutex
	sends []sentIntent
	err   error
}

type sentIntent struct {
	conversationID int64
	content        string
	clientRef      string
}

func (s *fakeSender) Send(conversationID int64, content, clientRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sends = append(s.sends, sentIntent{conversationID, content, clientRef})
	return nil
}

func (s *fakeSender) last() sentIntent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends[len(s.sends)-1]
}

func emptyPage(ctx context.Context, conversationID int64, page, limit int) (*models.MessagePage, error) {
	return &models.MessagePage{Meta: models.PageMeta{Page: page, Limit: limit}}, nil
}

func testSession(id string) *session.Session {
	return &session.Session{UserID: id, Name: "User " + id}
}

func newTestCache(t *testing.T, fetch fetcherFunc, send *fakeSender, opts Options) *Cache {
	t.Helper()
	if fetch == nil {
		fetch = emptyPage
	}
	if send == nil {
		send = &fakeSender{}
	}
	return New(testSession("u-a"), fetch, send, opts, zap.NewNop().Sugar())
}

func serverMsg(id, conv int64, sender, content string, at time.Time) *models.Message {
	return &models.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       sender,
		Content:        content,
		Sender:         models.MessageSender{ID: sender},
		CreatedAt:      at,
	}
}

func activeConv(id int64) *models.Conversation {
	return &models.Conversation{ID: id, Type: models.ConversationDirect}
}

func requireChronological(t *testing.T, msgs []*models.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		require.False(t, msgs[i].Before(msgs[i-1]),
			"messages out of order at %d: %v then %v", i, msgs[i-1].CreatedAt, msgs[i].CreatedAt)
	}
}

func TestChronologicalOrderAcrossInterleavings(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	page := &models.MessagePage{
		Data: []*models.Message{
			serverMsg(3, 1, "u-b", "third", base.Add(3*time.Minute)),
			serverMsg(1, 1, "u-b", "first", base.Add(1*time.Minute)),
			serverMsg(2, 1, "u-a", "second", base.Add(2*time.Minute)),
		},
		Meta: models.PageMeta{Page: 1, Limit: 30, Total: 3, TotalPages: 1},
	}
	c := newTestCache(t, func(ctx context.Context, id int64, p, l int) (*models.MessagePage, error) {
		return page, nil
	}, nil, Options{})
	c.SetActive(activeConv(1))

	// Socket push lands before the history page resolves.
	c.AppendIncoming(serverMsg(5, 1, "u-b", "fifth", base.Add(5*time.Minute)))
	_, err := c.LoadPage(context.Background(), 1, 1, 30)
	require.NoError(t, err)
	c.AppendIncoming(serverMsg(4, 1, "u-b", "fourth", base.Add(4*time.Minute)))

	msgs := c.Messages()
	require.Len(t, msgs, 5)
	requireChronological(t, msgs)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "fifth", msgs[4].Content)
}

// A push that lands while the history fetch is still in flight must survive
// the page apply even though the page does not contain it yet.
func TestSocketPushSurvivesLaterHistoryPage(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	page := &models.MessagePage{
		Data: []*models.Message{serverMsg(1, 1, "u-b", "history", base)},
		Meta: models.PageMeta{Page: 1, Limit: 30, Total: 1, TotalPages: 1},
	}
	c := newTestCache(t, func(ctx context.Context, id int64, p, l int) (*models.MessagePage, error) {
		return page, nil
	}, nil, Options{})
	c.SetActive(activeConv(1))

	require.True(t, c.AppendIncoming(serverMsg(5, 1, "u-b", "pushed first", base.Add(5*time.Minute))))
	_, err := c.LoadPage(context.Background(), 1, 1, 30)
	require.NoError(t, err)

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	requireChronological(t, msgs)
	assert.EqualValues(t, 1, msgs[0].ID)
	assert.EqualValues(t, 5, msgs[1].ID)

	// A later page apply must not duplicate it either.
	_, err = c.LoadPage(context.Background(), 1, 1, 30)
	require.NoError(t, err)
	require.Len(t, c.Messages(), 2)
}

func TestAppendIncomingDeduplicatesByServerID(t *testing.T) {
	c := newTestCache(t, nil, nil, Options{})
	c.SetActive(activeConv(1))
	at := time.Now()
	require.True(t, c.AppendIncoming(serverMsg(42, 1, "u-b", "hi", at)))
	require.False(t, c.AppendIncoming(serverMsg(42, 1, "u-b", "hi", at)),
		"redelivery must report no insertion so callers do not re-render it")
	require.False(t, c.AppendIncoming(serverMsg(43, 2, "u-b", "elsewhere", at)))
	require.Len(t, c.Messages(), 1)
}

func TestOptimisticReconciliationByContent(t *testing.T) {
	send := &fakeSender{}
	c := newTestCache(t, nil, send, Options{})
	c.SetActive(activeConv(1))

	tempID, err := c.SendOptimistic("hello")
	require.NoError(t, err)
	require.True(t, models.IsTempID(tempID))
	require.True(t, c.Sending(tempID))

	// Confirmation without an echoed client ref: correlated by sender and
	// exact content.
	c.ReconcileConfirmed(serverMsg(42, 1, "u-a", "hello", time.Now()))

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.EqualValues(t, 42, msgs[0].ID)
	for _, m := range msgs {
		assert.NotEqual(t, tempID, m.TempID)
	}
	assert.False(t, c.Sending(tempID))
}

func TestOptimisticReconciliationByClientRef(t *testing.T) {
	send := &fakeSender{}
	c := newTestCache(t, nil, send, Options{})
	c.SetActive(activeConv(1))

	tempID, err := c.SendOptimistic("hello")
	require.NoError(t, err)

	confirmed := serverMsg(7, 1, "u-a", "hello", time.Now())
	confirmed.ClientRef = send.last().clientRef
	c.ReconcileConfirmed(confirmed)

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.EqualValues(t, 7, msgs[0].ID)
	assert.False(t, c.Sending(tempID))
}

func TestReconcileWithoutPendingInsertsOnce(t *testing.T) {
	c := newTestCache(t, nil, nil, Options{})
	c.SetActive(activeConv(1))
	m := serverMsg(9, 1, "u-a", "late", time.Now())
	c.ReconcileConfirmed(m)
	c.ReconcileConfirmed(m)
	require.Len(t, c.Messages(), 1)
}

func TestCrossConversationEventsIgnored(t *testing.T) {
	c := newTestCache(t, nil, nil, Options{})
	c.SetActive(activeConv(1))
	c.AppendIncoming(serverMsg(1, 1, "u-b", "mine", time.Now()))

	c.AppendIncoming(serverMsg(2, 2, "u-b", "other room", time.Now()))
	c.SetTyping(2, "u-b", true)
	c.ReconcileConfirmed(serverMsg(3, 2, "u-a", "other confirm", time.Now()))

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "mine", msgs[0].Content)
	assert.Empty(t, c.TypingUsers())
}

func TestStaleHistoryPageDropped(t *testing.T) {
	page := &models.MessagePage{
		Data: []*models.Message{serverMsg(1, 1, "u-b", "old room", time.Now())},
		Meta: models.PageMeta{Page: 1, Limit: 30, Total: 1, TotalPages: 1},
	}
	c := newTestCache(t, func(ctx context.Context, id int64, p, l int) (*models.MessagePage, error) {
		return page, nil
	}, nil, Options{})

	// The user switched to conversation 2 while the fetch for 1 was in
	// flight; the response must not land.
	c.SetActive(activeConv(2))
	_, err := c.LoadPage(context.Background(), 1, 1, 30)
	require.NoError(t, err)
	require.Empty(t, c.Messages())
}

func TestFailedFetchKeepsBaseline(t *testing.T) {
	fail := false
	c := newTestCache(t, func(ctx context.Context, id int64, p, l int) (*models.MessagePage, error) {
		if fail {
			return nil, errors.New("backend down")
		}
		return &models.MessagePage{
			Data: []*models.Message{serverMsg(1, 1, "u-b", "kept", time.Now())},
			Meta: models.PageMeta{Page: 1, Limit: 30, Total: 1, TotalPages: 1},
		}, nil
	}, nil, Options{})
	c.SetActive(activeConv(1))

	_, err := c.LoadPage(context.Background(), 1, 1, 30)
	require.NoError(t, err)
	fail = true
	_, err = c.LoadPage(context.Background(), 1, 1, 30)
	require.Error(t, err)
	require.Len(t, c.Messages(), 1)
}

func TestSendTimeoutKeepsMessageVisible(t *testing.T) {
	send := &fakeSender{}
	var warnings []string
	var wmu sync.Mutex
	c := newTestCache(t, nil, send, Options{SendTimeout: 50 * time.Millisecond})
	c.OnWarning(func(msg string) {
		wmu.Lock()
		warnings = append(warnings, msg)
		wmu.Unlock()
	})
	c.SetActive(activeConv(1))

	tempID, err := c.SendOptimistic("did this arrive?")
	require.NoError(t, err)
	require.True(t, c.Sending(tempID))

	require.Eventually(t, func() bool {
		return !c.Sending(tempID)
	}, time.Second, 10*time.Millisecond)

	wmu.Lock()
	assert.NotEmpty(t, warnings)
	wmu.Unlock()

	// User-authored content is never silently dropped.
	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, tempID, msgs[0].TempID)
	assert.True(t, msgs[0].Pending())
}

func TestSendWhileDisconnectedClearsSpinner(t *testing.T) {
	send := &fakeSender{err: errors.New("not connected")}
	var warned bool
	var wmu sync.Mutex
	c := newTestCache(t, nil, send, Options{})
	c.OnWarning(func(string) {
		wmu.Lock()
		warned = true
		wmu.Unlock()
	})
	c.SetActive(activeConv(1))

	tempID, err := c.SendOptimistic("offline text")
	require.NoError(t, err)
	assert.False(t, c.Sending(tempID))
	wmu.Lock()
	assert.True(t, warned)
	wmu.Unlock()
	require.Len(t, c.Messages(), 1)
}

func TestEmptyContentRejected(t *testing.T) {
	c := newTestCache(t, nil, nil, Options{})
	c.SetActive(activeConv(1))
	_, err := c.SendOptimistic("   ")
	require.ErrorIs(t, err, ErrEmptyMessage)
	require.Empty(t, c.Messages())
}

func TestRefreshKeepsPendingEntries(t *testing.T) {
	page := &models.MessagePage{
		Data: []*models.Message{serverMsg(1, 1, "u-b", "history", time.Now().Add(-time.Hour))},
		Meta: models.PageMeta{Page: 1, Limit: 30, Total: 1, TotalPages: 1},
	}
	c := newTestCache(t, func(ctx context.Context, id int64, p, l int) (*models.MessagePage, error) {
		return page, nil
	}, nil, Options{})
	c.SetActive(activeConv(1))

	tempID, err := c.SendOptimistic("still pending")
	require.NoError(t, err)
	_, err = c.LoadPage(context.Background(), 1, 1, 30)
	require.NoError(t, err)

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, tempID, msgs[1].TempID)
}

func TestRemoveMessage(t *testing.T) {
	c := newTestCache(t, nil, nil, Options{})
	c.SetActive(activeConv(1))
	c.AppendIncoming(serverMsg(5, 1, "u-b", "soon gone", time.Now()))
	c.RemoveMessage(1, 5)
	require.Empty(t, c.Messages())

	c.AppendIncoming(serverMsg(6, 1, "u-b", "stays", time.Now()))
	c.RemoveMessage(2, 6)
	require.Len(t, c.Messages(), 1)
}

func TestTypingExpiresWithoutStopEvent(t *testing.T) {
	c := newTestCache(t, nil, nil, Options{TypingExpiry: 50 * time.Millisecond})
	c.SetActive(activeConv(1))

	c.SetTyping(1, "u-b", true)
	require.Equal(t, []string{"u-b"}, c.TypingUsers())

	// The stop event is dropped; the local expiry clears the entry anyway.
	require.Eventually(t, func() bool {
		return len(c.TypingUsers()) == 0
	}, time.Second, 10*time.Millisecond)
}

// A timer that fired just as a refresh re-armed the entry must not clear the
// refreshed indicator.
func TestStaleTypingExpiryDoesNotClearRefreshedEntry(t *testing.T) {
	c := newTestCache(t, nil, nil, Options{TypingExpiry: time.Hour})
	c.SetActive(activeConv(1))

	c.SetTyping(1, "u-b", true) // arms generation 1
	c.SetTyping(1, "u-b", true) // refresh, generation 2

	c.clearTyping("u-b", 1) // the superseded timer firing late
	require.Equal(t, []string{"u-b"}, c.TypingUsers())

	c.clearTyping("u-b", 2)
	require.Empty(t, c.TypingUsers())
}

func TestTypingStopAndSelfIgnored(t *testing.T) {
	c := newTestCache(t, nil, nil, Options{})
	c.SetActive(activeConv(1))

	c.SetTyping(1, "u-a", true) // own id
	require.Empty(t, c.TypingUsers())

	c.SetTyping(1, "u-b", true)
	c.SetTyping(1, "u-b", false)
	require.Empty(t, c.TypingUsers())
}

// Mirrors the full exchange: A sends, sees its pending entry, reconciles on
// confirmation; B independently receives the broadcast exactly once and in
// order.
func TestDirectExchangeEndToEnd(t *testing.T) {
	sendA := &fakeSender{}
	a := New(testSession("u-a"), fetcherFunc(emptyPage), sendA, Options{}, zap.NewNop().Sugar())
	b := New(testSession("u-b"), fetcherFunc(emptyPage), &fakeSender{}, Options{}, zap.NewNop().Sugar())
	a.SetActive(activeConv(1))
	b.SetActive(activeConv(1))

	b.AppendIncoming(serverMsg(10, 1, "u-b", "earlier history", time.Now().Add(-time.Hour)))

	tempID, err := a.SendOptimistic("Xin chào")
	require.NoError(t, err)
	require.True(t, a.Sending(tempID))

	confirmed := serverMsg(11, 1, "u-a", "Xin chào", time.Now())
	confirmed.ClientRef = sendA.last().clientRef

	a.ReconcileConfirmed(confirmed)
	b.AppendIncoming(confirmed)
	b.AppendIncoming(confirmed) // socket + refresh race redelivery

	aMsgs := a.Messages()
	require.Len(t, aMsgs, 1)
	assert.EqualValues(t, 11, aMsgs[0].ID)
	assert.False(t, a.Sending(tempID))

	bMsgs := b.Messages()
	require.Len(t, bMsgs, 2)
	requireChronological(t, bMsgs)
	assert.Equal(t, "Xin chào", bMsgs[1].Content)
}
