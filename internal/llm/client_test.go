package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newFakeAPI(t *testing.T, captured *capturedRequest) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(captured))

		if captured.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, chunk := range []string{"Hel", "", "lo"} {
				fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", chunk)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  hi there \n"},"finish_reason":"stop"}]}`)
	})

	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],"model":"embed"}`)
	})

	return httptest.NewServer(mux)
}

func TestClient_Generate(t *testing.T) {
	var captured capturedRequest
	srv := newFakeAPI(t, &captured)
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, ChatModel: "small", CreativeModel: "large"})

	t.Run("uses chat model and trims output", func(t *testing.T) {
		text, err := client.Generate(context.Background(), Request{System: "sys", Input: "hello"})
		require.NoError(t, err)
		assert.Equal(t, "hi there", text)
		assert.Equal(t, "small", captured.Model)
		require.Len(t, captured.Messages, 2)
		assert.Equal(t, "system", captured.Messages[0].Role)
		assert.Equal(t, "sys", captured.Messages[0].Content)
		assert.Equal(t, "hello", captured.Messages[1].Content)
	})

	t.Run("creative requests use the larger model", func(t *testing.T) {
		_, err := client.Generate(context.Background(), Request{System: "sys", Input: "story", Creative: true})
		require.NoError(t, err)
		assert.Equal(t, "large", captured.Model)
	})
}

func TestClient_GenerateStream(t *testing.T) {
	var captured capturedRequest
	srv := newFakeAPI(t, &captured)
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, ChatModel: "small"})
	stream, err := client.GenerateStream(context.Background(), Request{System: "sys", Input: "hello"})
	require.NoError(t, err)
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.NotEmpty(t, chunk)
		sb.WriteString(chunk)
	}

	assert.Equal(t, "Hello", sb.String())
	assert.True(t, captured.Stream)
}

func TestEmbedder(t *testing.T) {
	srv := newFakeAPI(t, &capturedRequest{})
	defer srv.Close()

	t.Run("returns vector", func(t *testing.T) {
		e := NewEmbedder(EmbedderConfig{BaseURL: srv.URL, Model: "embed", Dimensions: 3})
		vec, err := e.Embed(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
		assert.Equal(t, "embed", e.Model())
	})

	t.Run("rejects dimension mismatch", func(t *testing.T) {
		e := NewEmbedder(EmbedderConfig{BaseURL: srv.URL, Model: "embed", Dimensions: 4})
		_, err := e.Embed(context.Background(), "hello")
		assert.Error(t, err)
	})
}
