package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Request is one generation call: a system context plus the user's input.
type Request struct {
	System string
	Input  string
	// Creative selects the larger model used for summaries and stories.
	Creative bool
}

// Stream yields text chunks until Recv returns io.EOF. It is not restartable.
type Stream interface {
	Recv() (string, error)
	Close() error
}

type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	GenerateStream(ctx context.Context, req Request) (Stream, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

type Config struct {
	APIKey        string
	BaseURL       string
	ChatModel     string
	CreativeModel string
}

// Client generates text through an OpenAI-compatible chat completions API.
type Client struct {
	client        *openai.Client
	chatModel     string
	creativeModel string
}

func NewClient(cfg Config) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	creative := cfg.CreativeModel
	if creative == "" {
		creative = cfg.ChatModel
	}
	return &Client{
		client:        openai.NewClientWithConfig(clientConfig),
		chatModel:     cfg.ChatModel,
		creativeModel: creative,
	}
}

func (c *Client) chatRequest(req Request) openai.ChatCompletionRequest {
	model := c.chatModel
	if req.Creative {
		model = c.creativeModel
	}
	return openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Input},
		},
	}
}

func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.chatRequest(req))
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty chat completion response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Client) GenerateStream(ctx context.Context, req Request) (Stream, error) {
	chatReq := c.chatRequest(req)
	chatReq.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("create chat completion stream: %w", err)
	}
	return &chatStream{stream: stream}, nil
}

type chatStream struct {
	stream *openai.ChatCompletionStream
}

// Recv returns the next non-empty chunk. io.EOF is passed through unwrapped.
func (s *chatStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if text := resp.Choices[0].Delta.Content; text != "" {
			return text, nil
		}
	}
}

func (s *chatStream) Close() error {
	return s.stream.Close()
}

type EmbedderConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

type embedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

func NewEmbedder(cfg EmbedderConfig) Embedder {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &embedder{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

func (e *embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("empty embedding response")
	}
	vector := resp.Data[0].Embedding
	if e.dimensions > 0 && len(vector) != e.dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(vector), e.dimensions)
	}
	return vector, nil
}

func (e *embedder) Model() string {
	return e.model
}
