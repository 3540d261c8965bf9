package service

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/database"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/llm"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/repository"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/sse"
)

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) userResult(args mock.Arguments) (*model.User, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) FindByID(ctx context.Context, userID string) (*model.User, error) {
	return m.userResult(m.Called(ctx, userID))
}

func (m *mockUserRepo) FindByVerificationTokenHash(ctx context.Context, tokenHash string) (*model.User, error) {
	return m.userResult(m.Called(ctx, tokenHash))
}

func (m *mockUserRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	return m.userResult(m.Called(ctx, params))
}

func (m *mockUserRepo) SetVerificationToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*model.User, error) {
	return m.userResult(m.Called(ctx, userID, tokenHash, expiresAt))
}

func (m *mockUserRepo) MarkEmailVerified(ctx context.Context, userID string) (*model.User, error) {
	return m.userResult(m.Called(ctx, userID))
}

func (m *mockUserRepo) SaveProfile(ctx context.Context, userID string, profile model.Profile) (*model.User, error) {
	return m.userResult(m.Called(ctx, userID, profile))
}

func (m *mockUserRepo) MergeProfile(ctx context.Context, userID string, patch json.RawMessage) (*model.User, error) {
	return m.userResult(m.Called(ctx, userID, patch))
}

func (m *mockUserRepo) SetMode(ctx context.Context, userID string, mode model.Mode) (*model.User, error) {
	return m.userResult(m.Called(ctx, userID, mode))
}

func (m *mockUserRepo) SetAway(ctx context.Context, userID string, away bool) (*model.User, error) {
	return m.userResult(m.Called(ctx, userID, away))
}

func (m *mockUserRepo) SetPlan(ctx context.Context, userID string, plan model.Plan, txHash *string) (*model.User, error) {
	return m.userResult(m.Called(ctx, userID, plan, txHash))
}

func (m *mockUserRepo) IncrementCounter(ctx context.Context, userID string, counter model.Counter) (*model.User, error) {
	return m.userResult(m.Called(ctx, userID, counter))
}

func (m *mockUserRepo) ClearExpiredVerificationTokens(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockUserRepo) WithTx(*sqlx.Tx) repository.UserRepository {
	return m
}

type mockTurnRepo struct {
	mock.Mock
}

func (m *mockTurnRepo) Create(ctx context.Context, params model.CreateChatTurnParams) (*model.ChatTurn, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ChatTurn), args.Error(1)
}

func (m *mockTurnRepo) FindByUserID(ctx context.Context, userID string, limit, offset int) ([]model.ChatTurn, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ChatTurn), args.Error(1)
}

func (m *mockTurnRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockTurnRepo) WithTx(*sqlx.Tx) repository.ChatTurnRepository {
	return m
}

type mockVectorIndex struct {
	mock.Mock
}

func (m *mockVectorIndex) Upsert(ctx context.Context, turnID string, embedding []float32, embeddingModel string) error {
	return m.Called(ctx, turnID, embedding, embeddingModel).Error(0)
}

func (m *mockVectorIndex) Nearest(ctx context.Context, embedding []float32, k int) ([]model.TurnCandidate, error) {
	args := m.Called(ctx, embedding, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TurnCandidate), args.Error(1)
}

func (m *mockVectorIndex) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) sessionResult(args mock.Arguments) (*model.AwaySession, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AwaySession), args.Error(1)
}

func (m *mockSessionRepo) Open(ctx context.Context, userID string) (*model.AwaySession, error) {
	return m.sessionResult(m.Called(ctx, userID))
}

func (m *mockSessionRepo) Close(ctx context.Context, userID string) (*model.AwaySession, error) {
	return m.sessionResult(m.Called(ctx, userID))
}

func (m *mockSessionRepo) AppendMessage(ctx context.Context, params model.LogAwayMessageParams) (*model.AwayMessage, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AwayMessage), args.Error(1)
}

func (m *mockSessionRepo) FindByUserID(ctx context.Context, userID string) ([]model.AwaySession, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AwaySession), args.Error(1)
}

func (m *mockSessionRepo) FindMessagesBySessionIDs(ctx context.Context, sessionIDs []string) ([]model.AwayMessage, error) {
	args := m.Called(ctx, sessionIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AwayMessage), args.Error(1)
}

func (m *mockSessionRepo) WithTx(*sqlx.Tx) repository.AwaySessionRepository {
	return m
}

type mockDuelRepo struct {
	mock.Mock
}

func (m *mockDuelRepo) duelResult(args mock.Arguments) (*model.Duel, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Duel), args.Error(1)
}

func (m *mockDuelRepo) Create(ctx context.Context, creatorID, pathHash string) (*model.Duel, error) {
	return m.duelResult(m.Called(ctx, creatorID, pathHash))
}

func (m *mockDuelRepo) FindByID(ctx context.Context, id int64) (*model.Duel, error) {
	return m.duelResult(m.Called(ctx, id))
}

func (m *mockDuelRepo) FindByIDForUpdate(ctx context.Context, id int64) (*model.Duel, error) {
	return m.duelResult(m.Called(ctx, id))
}

func (m *mockDuelRepo) AddGuess(ctx context.Context, duelID int64, userID string, path model.MazePath, receipt string) (*model.DuelGuess, error) {
	args := m.Called(ctx, duelID, userID, path, receipt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DuelGuess), args.Error(1)
}

func (m *mockDuelRepo) FindGuesses(ctx context.Context, duelID int64) ([]model.DuelGuess, error) {
	args := m.Called(ctx, duelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DuelGuess), args.Error(1)
}

func (m *mockDuelRepo) Reveal(ctx context.Context, id int64, path model.MazePath, winnerID *string) (*model.Duel, error) {
	return m.duelResult(m.Called(ctx, id, path, winnerID))
}

func (m *mockDuelRepo) WithTx(*sqlx.Tx) repository.DuelRepository {
	return m
}

type mockStoryRepo struct {
	mock.Mock
}

func (m *mockStoryRepo) Create(ctx context.Context, params model.CreateStoryParams) (*model.Story, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Story), args.Error(1)
}

func (m *mockStoryRepo) FindByUserID(ctx context.Context, userID string, limit, offset int) ([]model.Story, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Story), args.Error(1)
}

// fakeTx runs fn without a real transaction; repository mocks ignore the tx.
type fakeTx struct {
	calls int
}

func (f *fakeTx) WithTx(_ context.Context, fn database.TxFunc) error {
	f.calls++
	return fn(nil)
}

// fakeGenerator replies with fixed text or streams fixed chunks.
type fakeGenerator struct {
	mu        sync.Mutex
	reply     string
	replyFn   func(req llm.Request) (string, error)
	chunks    []string
	streamErr error
	err       error
	requests  []llm.Request
}

func (g *fakeGenerator) record(req llm.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
}

func (g *fakeGenerator) Generate(_ context.Context, req llm.Request) (string, error) {
	g.record(req)
	if g.replyFn != nil {
		return g.replyFn(req)
	}
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *fakeGenerator) GenerateStream(_ context.Context, req llm.Request) (llm.Stream, error) {
	g.record(req)
	if g.err != nil {
		return nil, g.err
	}
	return &fakeStream{chunks: g.chunks, err: g.streamErr}, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type fakeStream struct {
	chunks []string
	err    error
	pos    int
	closed bool
}

func (s *fakeStream) Recv() (string, error) {
	if s.pos < len(s.chunks) {
		chunk := s.chunks[s.pos]
		s.pos++
		return chunk, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (e *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	e.calls++
	return e.vector, e.err
}

func (e *fakeEmbedder) Model() string {
	return "test-embedding"
}

type fakeStopper struct {
	stopped []string
}

func (f *fakeStopper) Stop(_ context.Context, userID string) (bool, error) {
	f.stopped = append(f.stopped, userID)
	return true, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	events []sse.Event
}

func (p *fakePublisher) Publish(_ context.Context, topic string, event sse.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

type fakeLimiter struct {
	allowed bool
}

func (f fakeLimiter) CheckLimit(context.Context, string, int, time.Duration) (bool, time.Time) {
	return f.allowed, time.Now()
}

type fakeMailer struct {
	to    string
	links []string
}

func (f *fakeMailer) SendVerification(_ context.Context, to, _, link string) error {
	f.to = to
	f.links = append(f.links, link)
	return nil
}

func newUser(userID string, plan model.Plan) *model.User {
	return &model.User{
		UserID: userID,
		Plan:   plan,
		Mode:   model.ModeProfessional,
	}
}
