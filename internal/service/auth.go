package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/config"
	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/repository"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/util"
)

const tokenIssuer = "echopersona"

type Claims struct {
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 access tokens whose subject is the
// user id.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *TokenIssuer) Issue(userID string) (string, error) {
	now := t.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify returns the user id carried by a valid token.
func (t *TokenIssuer) Verify(token string) (string, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperrors.New(apperrors.ErrCodeTokenExpired, "Token expired")
		}
		return "", apperrors.InvalidToken("Invalid token")
	}
	if claims.Subject == "" {
		return "", apperrors.InvalidToken("Invalid token")
	}
	return claims.Subject, nil
}

// Limiter is the sliding-window check backed by Redis.
type Limiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time)
}

type AuthConfig struct {
	PublicBaseURL            string
	RequireEmailVerification bool
}

type AuthService struct {
	users   repository.UserRepository
	tokens  *TokenIssuer
	mailer  Mailer
	limiter Limiter
	cfg     AuthConfig
}

func NewAuthService(users repository.UserRepository, tokens *TokenIssuer, mailer Mailer, limiter Limiter, cfg AuthConfig) *AuthService {
	return &AuthService{
		users:   users,
		tokens:  tokens,
		mailer:  mailer,
		limiter: limiter,
		cfg:     cfg,
	}
}

type RegisterParams struct {
	UserID   string
	Email    string
	Password string
}

func (s *AuthService) Register(ctx context.Context, params RegisterParams) (*model.User, error) {
	if !util.IsValidUserID(params.UserID) {
		return nil, apperrors.InvalidInput("userId", "must be 3-64 letters, digits, '.', '_' or '-'")
	}
	if len(params.Password) < 8 {
		return nil, apperrors.InvalidInput("password", "must be at least 8 characters")
	}

	email := strings.TrimSpace(strings.ToLower(params.Email))
	if email != "" && !util.IsValidEmail(email) {
		return nil, apperrors.InvalidInput("email", "invalid address")
	}

	hash, err := util.HashPassword(params.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	create := model.CreateUserParams{
		UserID:        params.UserID,
		PasswordHash:  hash,
		EmailVerified: email == "",
	}

	var token string
	if email != "" {
		token, err = util.GenerateToken()
		if err != nil {
			return nil, fmt.Errorf("generate verification token: %w", err)
		}
		tokenHash := util.HashToken(token)
		expires := time.Now().Add(config.VerificationTokenLifetime)
		create.Email = &email
		create.VerificationTokenHash = &tokenHash
		create.VerificationExpiresAt = &expires
	}

	user, err := s.users.Create(ctx, create)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if user == nil {
		return nil, apperrors.AlreadyExists("User")
	}

	log.Info().Str("userId", user.UserID).Bool("hasEmail", email != "").Msg("user registered")

	if token != "" {
		s.sendVerification(ctx, email, user.UserID, token)
	}
	return user, nil
}

// Login checks credentials and issues an access token.
func (s *AuthService) Login(ctx context.Context, userID, password string) (string, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("find user: %w", err)
	}
	if user == nil || !util.CheckPasswordHash(password, user.PasswordHash) {
		return "", apperrors.Unauthorized("Invalid credentials")
	}
	if s.cfg.RequireEmailVerification && !user.EmailVerified {
		return "", apperrors.EmailNotVerified()
	}

	token, err := s.tokens.Issue(user.UserID)
	if err != nil {
		return "", err
	}
	log.Info().Str("userId", user.UserID).Msg("user logged in")
	return token, nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, apperrors.InvalidToken("Invalid or expired verification link")
	}
	user, err := s.users.FindByVerificationTokenHash(ctx, util.HashToken(token))
	if err != nil {
		return nil, fmt.Errorf("find user by verification token: %w", err)
	}
	if user == nil {
		return nil, apperrors.InvalidToken("Invalid or expired verification link")
	}

	verified, err := s.users.MarkEmailVerified(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("mark email verified: %w", err)
	}
	if verified == nil {
		return nil, apperrors.NotFound("User")
	}

	log.Info().Str("userId", user.UserID).Msg("email verified")
	return verified, nil
}

// ResendVerification issues a fresh verification link. Unknown users and
// already verified addresses return nil so the endpoint does not leak which
// accounts exist.
func (s *AuthService) ResendVerification(ctx context.Context, userID string) error {
	allowed, _ := s.limiter.CheckLimit(ctx, "resend-verification:"+userID,
		config.VerificationResendLimit, config.VerificationResendWindow)
	if !allowed {
		return apperrors.RateLimitExceeded()
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if user == nil || user.Email == nil || user.EmailVerified {
		return nil
	}

	token, err := util.GenerateToken()
	if err != nil {
		return fmt.Errorf("generate verification token: %w", err)
	}
	if _, err := s.users.SetVerificationToken(ctx, userID, util.HashToken(token),
		time.Now().Add(config.VerificationTokenLifetime)); err != nil {
		return fmt.Errorf("set verification token: %w", err)
	}

	s.sendVerification(ctx, *user.Email, userID, token)
	return nil
}

func (s *AuthService) sendVerification(ctx context.Context, email, userID, token string) {
	link := strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/auth/verify-email/" + token

	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.MailSendTimeout)
	defer cancel()
	if err := s.mailer.SendVerification(mctx, email, userID, link); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to send verification email")
	}
}
