package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/nestor-home/nestor/pkg/config"
)

// Ollama's llama runner is unstable under concurrent embedding requests, so
// all embeds are serialized process-wide.
var ollamaEmbedMu sync.Mutex

const readinessTTL = 30 * time.Second

// OllamaClient embeds text through a local Ollama server.
type OllamaClient struct {
	config     *config.EmbedderConfig
	httpClient *http.Client
	encoding   *tiktoken.Tiktoken

	readyMu      sync.Mutex
	lastReady    bool
	lastReadyAt  time.Time
	queryPrelude []int
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func NewOllamaClientFromConfig(cfg *config.EmbedderConfig) (*OllamaClient, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer encoding: %w", err)
	}

	return &OllamaClient{
		config:       cfg,
		httpClient:   &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		encoding:     encoding,
		queryPrelude: encoding.Encode(QueryPrefix, nil, nil),
	}, nil
}

func (c *OllamaClient) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, c.truncate(text, c.config.MaxTokens))
}

func (c *OllamaClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	// Budget for the query text shrinks by the prefix tokens so the prefix
	// always survives truncation.
	budget := c.config.MaxTokens - len(c.queryPrelude)
	if budget < 1 {
		budget = 1
	}
	return c.embed(ctx, QueryPrefix+c.truncate(text, budget))
}

// truncate cuts text to at most maxTokens tokens.
func (c *OllamaClient) truncate(text string, maxTokens int) string {
	tokens := c.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return c.encoding.Decode(tokens[:maxTokens])
}

func (c *OllamaClient) embed(ctx context.Context, prompt string) ([]float32, error) {
	if !c.Ready() {
		return nil, ErrModelNotReady
	}

	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	request := ollamaEmbedRequest{Model: c.config.Model, Prompt: prompt}
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	var resp *http.Response
	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		resp, err = c.post(ctx, "/api/embeddings", body)
		if err == nil {
			break
		}
		slog.Debug("Ollama embedding retry", "attempt", attempt+1, "error", err)
		if attempt < c.config.MaxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
		}
	}
	if err != nil {
		slog.Error("Ollama embedding failed", "error", err, "model", c.config.Model)
		return nil, fmt.Errorf("failed to send request to Ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var response ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}

	if len(response.Embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding from Ollama")
	}
	if len(response.Embedding) != c.config.Dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d",
			len(response.Embedding), c.config.Dimension)
	}

	return response.Embedding, nil
}

func (c *OllamaClient) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Host+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

// Ready checks that the server is up and the configured model is pulled.
// The answer is cached briefly so readiness probes stay cheap.
func (c *OllamaClient) Ready() bool {
	c.readyMu.Lock()
	defer c.readyMu.Unlock()

	if time.Since(c.lastReadyAt) < readinessTTL {
		return c.lastReady
	}

	c.lastReady = c.probe()
	c.lastReadyAt = time.Now()
	return c.lastReady
}

func (c *OllamaClient) probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}

	want := c.config.Model
	for _, m := range tags.Models {
		if m.Name == want || strings.SplitN(m.Name, ":", 2)[0] == want {
			return true
		}
	}
	slog.Warn("embedding model not found on Ollama server", "model", want)
	return false
}

func (c *OllamaClient) Dimension() int {
	return c.config.Dimension
}

func (c *OllamaClient) Close() error {
	return nil
}
