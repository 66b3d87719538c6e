package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestor-home/nestor/pkg/config"
)

func testEmbedderConfig() *config.EmbedderConfig {
	cfg := &config.EmbedderConfig{}
	cfg.SetDefaults()
	return cfg
}

// fakeOllama serves /api/tags and /api/embeddings the way a real Ollama
// server does, recording the prompts it receives.
type fakeOllama struct {
	t         *testing.T
	model     string
	dimension int
	prompts   []string
	embedErr  int // HTTP status to return from /api/embeddings, 0 = OK
}

func (f *fakeOllama) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"models": []map[string]string{{"name": f.model + ":latest"}},
		})
	})
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.prompts = append(f.prompts, req.Prompt)

		if f.embedErr != 0 {
			w.WriteHeader(f.embedErr)
			return
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embedding: make([]float32, f.dimension),
		})
	})
	return mux
}

func newTestClient(t *testing.T, fake *fakeOllama, maxTokens int) *OllamaClient {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	cfg := testEmbedderConfig()
	cfg.Host = srv.URL
	cfg.Model = fake.model
	cfg.Dimension = fake.dimension
	cfg.MaxTokens = maxTokens

	client, err := NewOllamaClientFromConfig(cfg)
	require.NoError(t, err)
	return client
}

func TestEmbedDocument(t *testing.T) {
	fake := &fakeOllama{t: t, model: "nomic-embed-text", dimension: 8}
	client := newTestClient(t, fake, 8192)

	vec, err := client.EmbedDocument(context.Background(), "turn on the light")
	require.NoError(t, err)
	assert.Len(t, vec, 8)

	require.Len(t, fake.prompts, 1)
	assert.Equal(t, "turn on the light", fake.prompts[0])
}

func TestEmbedQueryAddsPrefix(t *testing.T) {
	fake := &fakeOllama{t: t, model: "nomic-embed-text", dimension: 8}
	client := newTestClient(t, fake, 8192)

	_, err := client.EmbedQuery(context.Background(), "motion sensor automation")
	require.NoError(t, err)

	require.Len(t, fake.prompts, 1)
	assert.True(t, strings.HasPrefix(fake.prompts[0], QueryPrefix))
	assert.Contains(t, fake.prompts[0], "motion sensor automation")
}

func TestEmbedDocumentTruncates(t *testing.T) {
	fake := &fakeOllama{t: t, model: "nomic-embed-text", dimension: 8}
	client := newTestClient(t, fake, 4)

	long := strings.Repeat("automation code line\n", 50)
	_, err := client.EmbedDocument(context.Background(), long)
	require.NoError(t, err)

	require.Len(t, fake.prompts, 1)
	assert.Less(t, len(fake.prompts[0]), len(long))
}

func TestEmbedQueryPrefixSurvivesTruncation(t *testing.T) {
	fake := &fakeOllama{t: t, model: "nomic-embed-text", dimension: 8}
	c := newTestClient(t, fake, 8192)
	prefixTokens := len(c.queryPrelude)
	c.config.MaxTokens = prefixTokens + 2

	_, err := c.EmbedQuery(context.Background(), strings.Repeat("kitchen light ", 100))
	require.NoError(t, err)

	require.Len(t, fake.prompts, 1)
	assert.True(t, strings.HasPrefix(fake.prompts[0], QueryPrefix))
}

func TestEmbedNotReady(t *testing.T) {
	// Server that knows no models: Ready must be false and embeds must fail
	// fast with ErrModelNotReady.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"models": []map[string]string{}})
	}))
	defer srv.Close()

	cfg := testEmbedderConfig()
	cfg.Host = srv.URL
	c, err := NewOllamaClientFromConfig(cfg)
	require.NoError(t, err)

	assert.False(t, c.Ready())
	_, err = c.EmbedDocument(context.Background(), "text")
	assert.ErrorIs(t, err, ErrModelNotReady)
}

func TestEmbedDimensionMismatch(t *testing.T) {
	fake := &fakeOllama{t: t, model: "nomic-embed-text", dimension: 8}
	c := newTestClient(t, fake, 8192)
	// Client expects a different dimension than the server produces.
	c.config.Dimension = 16

	_, err := c.EmbedDocument(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestEmbedServerError(t *testing.T) {
	fake := &fakeOllama{t: t, model: "nomic-embed-text", dimension: 8, embedErr: http.StatusInternalServerError}
	c := newTestClient(t, fake, 8192)

	_, err := c.EmbedDocument(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
