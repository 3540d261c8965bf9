package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/channel"
	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/sse"
)

const waitFor = 2 * time.Second
const tick = 10 * time.Millisecond

type sent struct {
	conversationID string
	text           string
}

type fakeSession struct {
	inbox chan channel.Message
	crash chan error

	mu     sync.Mutex
	sent   []sent
	typing int
	closed bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		inbox: make(chan channel.Message, 10),
		crash: make(chan error, 1),
	}
}

func (s *fakeSession) SelfID() string { return "@bot:example.org" }

func (s *fakeSession) Run(ctx context.Context, handler channel.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-s.crash:
			return err
		case msg := <-s.inbox:
			handler(ctx, msg)
		}
	}
}

func (s *fakeSession) Send(_ context.Context, conversationID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sent{conversationID: conversationID, text: text})
	return nil
}

func (s *fakeSession) Typing(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing++
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, m := range s.sent {
		out[i] = m.text
	}
	return out
}

type fakeConnector struct {
	mu       sync.Mutex
	sessions []*fakeSession
	tokens   []string
	failWith error

	// gate, when set, parks Connect until released.
	gate    chan struct{}
	entered chan struct{}
}

func (c *fakeConnector) Connect(ctx context.Context, token string) (channel.Session, error) {
	c.mu.Lock()
	gate, entered := c.gate, c.entered
	c.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = append(c.tokens, token)
	if c.failWith != nil {
		return nil, c.failWith
	}
	s := newFakeSession()
	c.sessions = append(c.sessions, s)
	return s, nil
}

func (c *fakeConnector) hold() (<-chan struct{}, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gate := make(chan struct{})
	c.gate = gate
	c.entered = make(chan struct{}, 1)
	return c.entered, func() { close(gate) }
}

func (c *fakeConnector) session(i int) *fakeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[i]
}

func (c *fakeConnector) connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}

func (c *fakeConnector) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWith = err
}

type fakePresence struct {
	mu    sync.Mutex
	away  bool
	calls int
}

func (p *fakePresence) set(away bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.away = away
}

func (p *fakePresence) GetProfile(_ context.Context, userID string) (*model.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return &model.User{UserID: userID, Profile: model.Profile{Name: "Ada"}, Away: p.away}, nil
}

func (p *fakePresence) checks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeResponder struct {
	mu    sync.Mutex
	reply string
	err   error
	tags  []model.ChannelTag
}

func (r *fakeResponder) Mimic(_ context.Context, _, _ string, tag model.ChannelTag) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags = append(r.tags, tag)
	return r.reply, r.err
}

type fakeLedger struct {
	mu     sync.Mutex
	logged []model.LogAwayMessageParams
}

func (l *fakeLedger) LogMessage(_ context.Context, params model.LogAwayMessageParams) (*model.AwayMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logged = append(l.logged, params)
	return &model.AwayMessage{ID: int64(len(l.logged)), SenderID: params.SenderID, Content: params.Content}, nil
}

func (l *fakeLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.logged)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []sse.Event
}

func (p *fakePublisher) Publish(_ context.Context, _ string, event sse.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type memoryTokens struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newMemoryTokens() *memoryTokens {
	return &memoryTokens{tokens: make(map[string]string)}
}

func (m *memoryTokens) Save(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[userID] = token
	return nil
}

func (m *memoryTokens) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, userID)
	return nil
}

func (m *memoryTokens) LoadAll(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.tokens))
	for k, v := range m.tokens {
		out[k] = v
	}
	return out, nil
}

func (m *memoryTokens) has(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tokens[userID]
	return ok
}

// gatedSave parks Save until released.
type gatedSave struct {
	*memoryTokens
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSave) Save(ctx context.Context, userID, token string) error {
	g.entered <- struct{}{}
	<-g.release
	return g.memoryTokens.Save(ctx, userID, token)
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for signal")
	}
}

type harness struct {
	sup       *Supervisor
	connector *fakeConnector
	presence  *fakePresence
	responder *fakeResponder
	ledger    *fakeLedger
	publisher *fakePublisher
	tokens    *memoryTokens
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tokens := newMemoryTokens()
	return buildHarness(t, tokens, tokens)
}

func buildHarness(t *testing.T, tokens *memoryTokens, store TokenStore) *harness {
	t.Helper()
	h := &harness{
		connector: &fakeConnector{},
		presence:  &fakePresence{away: true},
		responder: &fakeResponder{reply: "brb, grabbing coffee"},
		ledger:    &fakeLedger{},
		publisher: &fakePublisher{},
		tokens:    tokens,
	}
	h.sup = New(Deps{
		Connector: h.connector,
		Responder: h.responder,
		Presence:  h.presence,
		Ledger:    h.ledger,
		Publisher: h.publisher,
		Tokens:    store,
	}, Config{ReplyTimeout: time.Second})

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		h.sup.Shutdown(ctx)
	})
	return h
}

func inbound(sender, content string) channel.Message {
	return channel.Message{ConversationID: "!room:example.org", SenderID: sender, SenderName: sender, Content: content}
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()

	t.Run("starts listener and persists token", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.sup.Initialize(ctx, "ada", "tok-1"))

		assert.True(t, h.sup.Status("ada"))
		assert.True(t, h.tokens.has("ada"))
		assert.Contains(t, h.publisher.types(), sse.EventBotStatus)
	})

	t.Run("rejects empty token", func(t *testing.T) {
		h := newHarness(t)
		err := h.sup.Initialize(ctx, "ada", "")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingRequired))
		assert.Equal(t, 0, h.connector.connects())
	})

	t.Run("bad token fails synchronously", func(t *testing.T) {
		h := newHarness(t)
		h.connector.fail(errors.New("M_UNKNOWN_TOKEN"))

		err := h.sup.Initialize(ctx, "ada", "bad")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeExternal))
		assert.False(t, h.sup.Status("ada"))
		assert.False(t, h.tokens.has("ada"))
	})

	t.Run("second start is rejected", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.sup.Initialize(ctx, "ada", "tok-1"))

		err := h.sup.Initialize(ctx, "ada", "tok-2")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAlreadyRunning))
		assert.Equal(t, 1, h.connector.connects())
	})

	t.Run("start over a crashed listener closes its session", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.sup.Initialize(ctx, "ada", "tok-1"))
		h.connector.session(0).crash <- errors.New("sync failed")
		require.Eventually(t, func() bool { return !h.sup.Status("ada") }, waitFor, tick)

		require.NoError(t, h.sup.Initialize(ctx, "ada", "tok-2"))
		assert.True(t, h.sup.Status("ada"))
		assert.True(t, h.connector.session(0).isClosed())
		assert.False(t, h.connector.session(1).isClosed())
		assert.Equal(t, 0, h.sup.CheckListeners(ctx))
	})

	t.Run("stop while token is being saved leaves nothing persisted", func(t *testing.T) {
		tokens := newMemoryTokens()
		store := &gatedSave{memoryTokens: tokens, entered: make(chan struct{}, 1), release: make(chan struct{})}
		h := buildHarness(t, tokens, store)

		initErr := make(chan error, 1)
		go func() { initErr <- h.sup.Initialize(ctx, "ada", "tok") }()
		waitSignal(t, store.entered)

		stopped := make(chan bool, 1)
		go func() {
			ok, _ := h.sup.Stop(ctx, "ada")
			stopped <- ok
		}()
		require.Eventually(t, func() bool { return len(h.sup.Managed()) == 0 }, waitFor, tick)

		close(store.release)
		require.NoError(t, <-initErr)
		assert.True(t, <-stopped)

		assert.False(t, h.sup.Status("ada"))
		assert.False(t, tokens.has("ada"))

		statuses := 0
		for _, typ := range h.publisher.types() {
			if typ == sse.EventBotStatus {
				statuses++
			}
		}
		assert.Equal(t, 1, statuses, "only the stop is announced")
	})
}

func TestListenerReplies(t *testing.T) {
	ctx := context.Background()

	t.Run("greets a sender once then mimics", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.sup.Initialize(ctx, "ada", "tok"))
		session := h.connector.session(0)

		for i := 0; i < 10; i++ {
			session.inbox <- inbound("@bob:example.org", "you there?")
		}

		require.Eventually(t, func() bool { return len(session.texts()) == 11 }, waitFor, tick)
		texts := session.texts()
		assert.Contains(t, texts[0], "standing in for Ada")
		greetings := 0
		for _, text := range texts {
			if strings.Contains(text, "standing in for") {
				greetings++
			}
		}
		assert.Equal(t, 1, greetings)
		for _, text := range texts[1:] {
			assert.Equal(t, "brb, grabbing coffee", text)
		}
		assert.Equal(t, 10, h.ledger.count())
		assert.Contains(t, h.publisher.types(), sse.EventAwayMessage)

		h.responder.mu.Lock()
		assert.Equal(t, model.ChannelMatrix, h.responder.tags[0])
		h.responder.mu.Unlock()
	})

	t.Run("ignores self-authored messages", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.sup.Initialize(ctx, "ada", "tok"))
		session := h.connector.session(0)

		session.inbox <- inbound(session.SelfID(), "echo")
		session.inbox <- inbound("@bob:example.org", "hi")

		require.Eventually(t, func() bool { return h.ledger.count() == 1 }, waitFor, tick)
		h.ledger.mu.Lock()
		assert.Equal(t, "@bob:example.org", h.ledger.logged[0].SenderID)
		h.ledger.mu.Unlock()
	})

	t.Run("stays silent while user is available", func(t *testing.T) {
		h := newHarness(t)
		h.presence.set(false)
		require.NoError(t, h.sup.Initialize(ctx, "ada", "tok"))
		session := h.connector.session(0)

		session.inbox <- inbound("@bob:example.org", "hi")
		require.Eventually(t, func() bool { return h.presence.checks() == 1 }, waitFor, tick)
		h.presence.set(true)
		session.inbox <- inbound("@carol:example.org", "hey")

		require.Eventually(t, func() bool { return h.ledger.count() == 1 }, waitFor, tick)
		h.ledger.mu.Lock()
		assert.Equal(t, "@carol:example.org", h.ledger.logged[0].SenderID)
		h.ledger.mu.Unlock()
	})
}

func TestReplyText(t *testing.T) {
	assert.Equal(t, "hi", replyText("hi", nil))
	assert.Equal(t, NoticeEmptyReply, replyText("  ", nil))
	assert.Equal(t, NoticeNotAway, replyText("", apperrors.NotAway()))
	assert.Equal(t, NoticeUpstreamError, replyText("", apperrors.UpstreamFailure("Chat", errors.New("503"))))
}

func TestStop(t *testing.T) {
	ctx := context.Background()

	t.Run("stops and forgets registration", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.sup.Initialize(ctx, "ada", "tok"))

		stopped, err := h.sup.Stop(ctx, "ada")
		require.NoError(t, err)
		assert.True(t, stopped)
		assert.False(t, h.sup.Status("ada"))
		assert.False(t, h.tokens.has("ada"))
		assert.True(t, h.connector.session(0).isClosed())
		assert.Equal(t, 0, h.sup.CheckListeners(ctx))
	})

	t.Run("reports when nothing was running", func(t *testing.T) {
		h := newHarness(t)
		stopped, err := h.sup.Stop(ctx, "ada")
		require.NoError(t, err)
		assert.False(t, stopped)
	})

	t.Run("stopped listener is not resurrected by watchdog", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.sup.Initialize(ctx, "ada", "tok"))
		h.connector.session(0).crash <- errors.New("sync failed")
		require.Eventually(t, func() bool { return !h.sup.Status("ada") }, waitFor, tick)

		_, err := h.sup.Stop(ctx, "ada")
		require.NoError(t, err)
		assert.Equal(t, 0, h.sup.CheckListeners(ctx))
		assert.Equal(t, 1, h.connector.connects())
	})
}

func TestCheckListeners(t *testing.T) {
	ctx := context.Background()

	t.Run("restarts crashed listener with retained token", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.sup.Initialize(ctx, "ada", "tok-ada"))
		h.connector.session(0).crash <- errors.New("sync failed")
		require.Eventually(t, func() bool { return !h.sup.Status("ada") }, waitFor, tick)

		assert.Equal(t, 1, h.sup.CheckListeners(ctx))
		assert.True(t, h.sup.Status("ada"))

		h.connector.mu.Lock()
		assert.Equal(t, []string{"tok-ada", "tok-ada"}, h.connector.tokens)
		h.connector.mu.Unlock()
	})

	t.Run("greeting is not repeated after restart", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.sup.Initialize(ctx, "ada", "tok"))
		first := h.connector.session(0)
		first.inbox <- inbound("@bob:example.org", "hi")
		require.Eventually(t, func() bool { return len(first.texts()) == 2 }, waitFor, tick)

		first.crash <- errors.New("sync failed")
		require.Eventually(t, func() bool { return !h.sup.Status("ada") }, waitFor, tick)
		require.Equal(t, 1, h.sup.CheckListeners(ctx))

		second := h.connector.session(1)
		second.inbox <- inbound("@bob:example.org", "still there?")
		require.Eventually(t, func() bool { return len(second.texts()) == 1 }, waitFor, tick)
		assert.Equal(t, "brb, grabbing coffee", second.texts()[0])
	})

	t.Run("stop during reconnect leaves listener stopped", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.sup.Initialize(ctx, "ada", "tok"))
		h.connector.session(0).crash <- errors.New("sync failed")
		require.Eventually(t, func() bool { return !h.sup.Status("ada") }, waitFor, tick)

		entered, release := h.connector.hold()
		restarted := make(chan int, 1)
		go func() { restarted <- h.sup.CheckListeners(ctx) }()
		waitSignal(t, entered)

		stopped, err := h.sup.Stop(ctx, "ada")
		require.NoError(t, err)
		assert.True(t, stopped)

		release()
		assert.Equal(t, 0, <-restarted)
		assert.False(t, h.sup.Status("ada"))
		assert.Empty(t, h.sup.Managed())
		assert.False(t, h.tokens.has("ada"))
		assert.True(t, h.connector.session(1).isClosed())
	})

	t.Run("gives up when reconnect fails", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.sup.Initialize(ctx, "ada", "tok"))
		h.connector.session(0).crash <- errors.New("sync failed")
		require.Eventually(t, func() bool { return !h.sup.Status("ada") }, waitFor, tick)

		h.connector.fail(errors.New("token revoked"))
		assert.Equal(t, 0, h.sup.CheckListeners(ctx))
		assert.Empty(t, h.sup.Managed())
		assert.False(t, h.tokens.has("ada"))
	})
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.tokens.Save(ctx, "ada", "tok-ada"))
	require.NoError(t, h.tokens.Save(ctx, "bob", "tok-bob"))

	require.NoError(t, h.sup.Restore(ctx))
	assert.True(t, h.sup.Status("ada"))
	assert.True(t, h.sup.Status("bob"))
}

func TestShutdownKeepsRegistrations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.sup.Initialize(ctx, "ada", "tok"))

	h.sup.Shutdown(ctx)
	assert.False(t, h.sup.Status("ada"))
	assert.True(t, h.tokens.has("ada"))
}
