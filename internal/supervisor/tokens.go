package supervisor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/repository"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/util"
)

// TokenStore persists bot tokens so listeners survive a process restart.
type TokenStore interface {
	Save(ctx context.Context, userID, token string) error
	Delete(ctx context.Context, userID string) error
	LoadAll(ctx context.Context) (map[string]string, error)
}

// EncryptedTokenStore keeps tokens AES-GCM encrypted in bot_registrations,
// each row sealed to its own user id.
type EncryptedTokenStore struct {
	repo   repository.BotRegistrationRepository
	cipher *util.TokenCipher
}

func NewEncryptedTokenStore(repo repository.BotRegistrationRepository, hexKey string) (*EncryptedTokenStore, error) {
	c, err := util.NewTokenCipher(hexKey)
	if err != nil {
		return nil, err
	}
	return &EncryptedTokenStore{repo: repo, cipher: c}, nil
}

func (s *EncryptedTokenStore) Save(ctx context.Context, userID, token string) error {
	ciphertext, err := s.cipher.Seal(userID, token)
	if err != nil {
		return fmt.Errorf("encrypt bot token: %w", err)
	}
	if err := s.repo.Upsert(ctx, userID, ciphertext); err != nil {
		return fmt.Errorf("save bot registration: %w", err)
	}
	return nil
}

func (s *EncryptedTokenStore) Delete(ctx context.Context, userID string) error {
	if err := s.repo.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete bot registration: %w", err)
	}
	return nil
}

// LoadAll skips registrations that no longer decrypt, such as rows sealed
// under a rotated key or copied from another user.
func (s *EncryptedTokenStore) LoadAll(ctx context.Context) (map[string]string, error) {
	regs, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("find bot registrations: %w", err)
	}

	tokens := make(map[string]string, len(regs))
	for _, reg := range regs {
		token, err := s.cipher.Open(reg.UserID, reg.TokenCiphertext)
		if err != nil {
			log.Warn().Err(err).Str("userId", reg.UserID).Msg("skipping undecryptable bot registration")
			continue
		}
		tokens[reg.UserID] = token
	}
	return tokens, nil
}
