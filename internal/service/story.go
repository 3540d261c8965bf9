package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/llm"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/repository"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/util"
)

const (
	mintTimeout        = 30 * time.Second
	storyPreviewLength = 300
	storyTitleWords    = 6
)

type MintRequest struct {
	Recipient string `json:"recipient"`
	Title     string `json:"title"`
	Content   string `json:"content"`
}

type MintReceipt struct {
	TokenID  string `json:"tokenId"`
	TxHash   string `json:"txHash"`
	TokenURI string `json:"tokenUri"`
}

// Minter turns a story into a token owned by the recipient wallet.
type Minter interface {
	Mint(ctx context.Context, req MintRequest) (*MintReceipt, error)
}

// MintClient posts mint requests to the external mint service.
type MintClient struct {
	endpoint string
	client   *http.Client
}

func NewMintClient(endpoint string) *MintClient {
	return &MintClient{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: mintTimeout,
		},
	}
}

func (c *MintClient) Mint(ctx context.Context, mr MintRequest) (*MintReceipt, error) {
	if !isValidServiceURL(c.endpoint) {
		log.Warn().Str("url", c.endpoint).Msg("invalid mint service URL rejected")
		return nil, fmt.Errorf("invalid mint service URL")
	}

	body, err := json.Marshal(mr)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("mint request error")
		return nil, fmt.Errorf("mint request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().Int("status", resp.StatusCode).Dur("elapsed", elapsed).Msg("mint request failed")
		return nil, fmt.Errorf("mint failed with status %d", resp.StatusCode)
	}

	var receipt MintReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("decode mint receipt: %w", err)
	}

	log.Info().
		Str("recipient", mr.Recipient).
		Str("txHash", receipt.TxHash).
		Dur("elapsed", elapsed).
		Msg("story minted")
	return &receipt, nil
}

func isValidServiceURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return false
	}
	return parsed.Host != ""
}

type StoryResult struct {
	Story   *model.Story `json:"story"`
	Preview string       `json:"storyPreview"`
	Minted  bool         `json:"minted"`
}

type StoryService struct {
	plans     PremiumGate
	generator llm.Generator
	stories   repository.StoryRepository
	minter    Minter
}

// NewStoryService builds the service. A nil minter stores stories without
// minting them.
func NewStoryService(plans PremiumGate, generator llm.Generator, stories repository.StoryRepository, minter Minter) *StoryService {
	return &StoryService{plans: plans, generator: generator, stories: stories, minter: minter}
}

func (s *StoryService) Create(ctx context.Context, userID, prompt, wallet string) (*StoryResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, apperrors.MissingRequired("prompt")
	}
	if !util.IsValidWallet(wallet) {
		return nil, apperrors.InvalidInput("wallet", "must be a 0x-prefixed 20-byte hex address")
	}
	if _, err := s.plans.RequirePremium(ctx, userID, "story"); err != nil {
		return nil, err
	}

	text, err := s.generator.Generate(ctx, llm.Request{
		Input: fmt.Sprintf("Create a short story (max 600 words) based on this idea: %s. "+
			"The story should be vivid, imaginative and self-contained, with a clear setting, "+
			"one or two characters, a central conflict and a meaningful or surprising resolution.", prompt),
		Creative: true,
	})
	if err != nil {
		return nil, apperrors.UpstreamFailure("Story generation", err)
	}

	params := model.CreateStoryParams{
		UserID: userID,
		Prompt: prompt,
		Story:  text,
		Wallet: wallet,
	}

	minted := false
	if s.minter != nil {
		receipt, err := s.minter.Mint(ctx, MintRequest{
			Recipient: wallet,
			Title:     storyTitle(prompt),
			Content:   text,
		})
		if err != nil {
			return nil, apperrors.External("mint service", err)
		}
		params.TokenID = &receipt.TokenID
		params.TxHash = &receipt.TxHash
		params.TokenURI = &receipt.TokenURI
		minted = true
	}

	story, err := s.stories.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create story: %w", err)
	}

	log.Info().Str("userId", userID).Str("storyId", story.ID).Bool("minted", minted).Msg("story created")
	return &StoryResult{Story: story, Preview: storyPreview(text), Minted: minted}, nil
}

func (s *StoryService) List(ctx context.Context, userID string, limit, offset int) ([]model.Story, error) {
	stories, err := s.stories.FindByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("find stories: %w", err)
	}
	if stories == nil {
		stories = []model.Story{}
	}
	return stories, nil
}

// storyTitle takes the first few words of the prompt.
func storyTitle(prompt string) string {
	words := strings.Fields(prompt)
	if len(words) > storyTitleWords {
		words = words[:storyTitleWords]
	}
	return strings.Join(words, " ")
}

func storyPreview(text string) string {
	runes := []rune(text)
	if len(runes) <= storyPreviewLength {
		return text
	}
	return string(runes[:storyPreviewLength]) + "..."
}
