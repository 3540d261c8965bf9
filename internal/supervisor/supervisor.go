// Package supervisor runs one presence listener per user on an external chat
// channel and keeps it alive until the user stops it.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog/log"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/channel"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/config"
	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/sse"
)

type Responder interface {
	Mimic(ctx context.Context, userID, message string, tag model.ChannelTag) (string, error)
}

type PresenceReader interface {
	GetProfile(ctx context.Context, userID string) (*model.User, error)
}

type AwayLogger interface {
	LogMessage(ctx context.Context, params model.LogAwayMessageParams) (*model.AwayMessage, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event sse.Event) error
}

type Config struct {
	// Tag labels turns produced by listeners in conversation history.
	Tag              model.ChannelTag
	RepliesPerMinute int
	ConnectTimeout   time.Duration
	ReplyTimeout     time.Duration
}

type Deps struct {
	Connector channel.Connector
	Responder Responder
	Presence  PresenceReader
	Ledger    AwayLogger
	Publisher EventPublisher
	// Tokens is optional; without it registrations live only in memory.
	Tokens TokenStore
}

type Supervisor struct {
	connector channel.Connector
	responder Responder
	presence  PresenceReader
	ledger    AwayLogger
	publisher EventPublisher
	store     TokenStore
	cfg       Config

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu        sync.Mutex
	listeners map[string]*listener
	// tokens retains each managed user's token for crash restarts.
	tokens map[string]string

	// persistMu orders token store writes against registry changes.
	persistMu sync.Mutex
}

func New(deps Deps, cfg Config) *Supervisor {
	if !cfg.Tag.Valid() {
		cfg.Tag = model.ChannelMatrix
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = config.ListenerConnectTimeout
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = config.GenerationTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		connector:  deps.Connector,
		responder:  deps.Responder,
		presence:   deps.Presence,
		ledger:     deps.Ledger,
		publisher:  deps.Publisher,
		store:      deps.Tokens,
		cfg:        cfg,
		baseCtx:    ctx,
		baseCancel: cancel,
		listeners:  make(map[string]*listener),
		tokens:     make(map[string]string),
	}
}

type botStatus struct {
	Running bool   `json:"running"`
	Reason  string `json:"reason"`
}

func (s *Supervisor) connect(ctx context.Context, token string) (channel.Session, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	return s.connector.Connect(cctx, token)
}

// start launches the listener goroutine. The listener context derives from
// the supervisor, not the caller, so it outlives the request that started it.
func (s *Supervisor) start(userID string, session channel.Session, state *replyState) *listener {
	ctx, cancel := context.WithCancel(s.baseCtx)
	l := &listener{
		userID:  userID,
		runID:   shortuuid.New(),
		session: session,
		state:   state,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(l.done)
		l.err = session.Run(ctx, s.handler(l))
		if l.err != nil {
			log.Warn().Err(l.err).Str("userId", userID).Str("runId", l.runID).Msg("listener exited")
		} else {
			log.Info().Str("userId", userID).Str("runId", l.runID).Msg("listener finished")
		}
	}()

	log.Info().Str("userId", userID).Str("runId", l.runID).Msg("listener started")
	return l
}

// Initialize connects with token and starts the user's listener. A bad token
// fails here rather than inside the background goroutine.
func (s *Supervisor) Initialize(ctx context.Context, userID, token string) error {
	if token == "" {
		return apperrors.MissingRequired("token")
	}

	if s.Status(userID) {
		return apperrors.AlreadyRunning(userID)
	}

	session, err := s.connect(ctx, token)
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("listener connect failed")
		return apperrors.External("chat channel", err)
	}

	s.mu.Lock()
	old, replaced := s.listeners[userID]
	if replaced && !old.exited() {
		s.mu.Unlock()
		_ = session.Close()
		return apperrors.AlreadyRunning(userID)
	}
	l := s.start(userID, session, newReplyState(s.cfg.RepliesPerMinute))
	s.listeners[userID] = l
	s.tokens[userID] = token
	s.mu.Unlock()

	if replaced {
		// The exited run was still waiting for the watchdog.
		if err := old.session.Close(); err != nil {
			log.Debug().Err(err).Str("userId", userID).Str("runId", old.runID).Msg("session close failed")
		}
	}

	s.persist(ctx, l, token)
	return nil
}

func (s *Supervisor) current(l *listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listeners[l.userID] == l
}

// persist saves the token and announces the start, unless the listener was
// stopped or replaced in the meantime.
func (s *Supervisor) persist(ctx context.Context, l *listener, token string) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if !s.current(l) {
		return
	}
	if s.store != nil {
		if err := s.store.Save(ctx, l.userID, token); err != nil {
			log.Error().Err(err).Str("userId", l.userID).Msg("failed to persist bot registration")
		}
	}
	if !s.current(l) {
		return
	}
	s.publishStatus(ctx, l.userID, true, "started")
}

// forget deletes the stored registration unless a new listener has already
// taken the user's slot.
func (s *Supervisor) forget(ctx context.Context, userID string) {
	if s.store == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	_, taken := s.listeners[userID]
	s.mu.Unlock()
	if taken {
		return
	}
	if err := s.store.Delete(ctx, userID); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to delete bot registration")
	}
}

// Stop removes the user from the managed set, then cancels the listener and
// waits for its goroutine to exit. It reports whether a listener was managed.
func (s *Supervisor) Stop(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	l := s.listeners[userID]
	delete(s.listeners, userID)
	delete(s.tokens, userID)
	s.mu.Unlock()

	s.forget(ctx, userID)

	if l == nil {
		return false, nil
	}

	err := s.halt(ctx, l)
	log.Info().Str("userId", userID).Str("runId", l.runID).Msg("listener stopped")
	s.publishStatus(ctx, userID, false, "stopped")
	return true, err
}

func (s *Supervisor) halt(ctx context.Context, l *listener) error {
	l.cancel()
	if err := l.session.Close(); err != nil {
		log.Debug().Err(err).Str("userId", l.userID).Msg("session close failed")
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for listener %s: %w", l.runID, ctx.Err())
	}
}

// Status reports whether the user has a registered listener that has not exited.
func (s *Supervisor) Status(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listeners[userID]
	return ok && !l.exited()
}

// Managed lists users currently in the managed set, running or awaiting restart.
func (s *Supervisor) Managed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]string, 0, len(s.listeners))
	for userID := range s.listeners {
		users = append(users, userID)
	}
	return users
}

// CheckListeners restarts every exited listener with its retained token.
// It returns the number of listeners restarted.
func (s *Supervisor) CheckListeners(ctx context.Context) int {
	s.mu.Lock()
	var dead []*listener
	for _, l := range s.listeners {
		if l.exited() {
			dead = append(dead, l)
		}
	}
	s.mu.Unlock()

	restarted := 0
	for _, old := range dead {
		if s.restart(ctx, old) {
			restarted++
		}
	}
	return restarted
}

func (s *Supervisor) restart(ctx context.Context, old *listener) bool {
	s.mu.Lock()
	token, ok := s.tokens[old.userID]
	current := s.listeners[old.userID]
	s.mu.Unlock()
	if !ok || current != old {
		return false
	}

	log.Warn().Err(old.err).Str("userId", old.userID).Str("runId", old.runID).Msg("listener crash detected, restarting")

	session, err := s.connect(ctx, token)

	s.mu.Lock()
	if s.listeners[old.userID] != old {
		// Stopped or replaced while reconnecting.
		s.mu.Unlock()
		if session != nil {
			_ = session.Close()
		}
		return false
	}
	if err != nil {
		delete(s.listeners, old.userID)
		delete(s.tokens, old.userID)
		s.mu.Unlock()

		log.Error().Err(err).Str("userId", old.userID).Msg("listener restart failed, giving up")
		s.forget(ctx, old.userID)
		s.publishStatus(ctx, old.userID, false, "crashed")
		return false
	}
	l := s.start(old.userID, session, old.state)
	s.listeners[old.userID] = l
	s.mu.Unlock()

	log.Info().Str("userId", old.userID).Str("runId", l.runID).Str("previousRunId", old.runID).Msg("listener restarted")
	return true
}

// Restore starts a listener for every persisted registration.
func (s *Supervisor) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	tokens, err := s.store.LoadAll(ctx)
	if err != nil {
		return err
	}

	restored := 0
	for userID, token := range tokens {
		if err := s.Initialize(ctx, userID, token); err != nil {
			log.Warn().Err(err).Str("userId", userID).Msg("failed to restore listener")
			continue
		}
		restored++
	}
	log.Info().Int("restored", restored).Int("registrations", len(tokens)).Msg("listeners restored")
	return nil
}

// Shutdown stops every listener without forgetting persisted registrations.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	all := make([]*listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		all = append(all, l)
	}
	s.listeners = make(map[string]*listener)
	s.tokens = make(map[string]string)
	s.mu.Unlock()

	for _, l := range all {
		if err := s.halt(ctx, l); err != nil {
			log.Warn().Err(err).Str("userId", l.userID).Msg("listener did not exit before shutdown deadline")
		}
	}
	s.baseCancel()
	log.Info().Int("listeners", len(all)).Msg("supervisor shut down")
}

func (s *Supervisor) publishStatus(ctx context.Context, userID string, running bool, reason string) {
	event, err := sse.NewEvent(sse.EventBotStatus, botStatus{Running: running, Reason: reason})
	if err != nil {
		return
	}
	s.publish(ctx, userID, event)
}
