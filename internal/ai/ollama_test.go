package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOllamaTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, Provider) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	p, err := NewProvider(context.Background(), ProviderConfig{
		Kind:      ProviderOllama,
		OllamaURL: ts.URL,
		Model:     "test-model",
	})
	require.NoError(t, err)
	return ts, p
}

func TestOllamaGenerate(t *testing.T) {
	var gotReq ollamaChatRequest
	_, p := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaChatMessage{Role: "assistant", Content: "a reply"},
			Done:    true,
		})
	})
	defer p.Close()

	msg, err := p.Generate(context.Background(), []Message{
		{Role: RoleUser, Content: "hello"},
	}, DefaultGenerateOptions())
	require.NoError(t, err)

	assert.Equal(t, RoleAssistant, msg.Role)
	assert.Equal(t, "a reply", msg.Content)

	// Request shape: non-streaming, configured model, system turn first.
	assert.False(t, gotReq.Stream)
	assert.Equal(t, "test-model", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "hello", gotReq.Messages[1].Content)

	require.NotNil(t, gotReq.Options)
	assert.Equal(t, 2048, gotReq.Options.NumPredict)
	assert.InDelta(t, 0.7, gotReq.Options.Temperature, 1e-9)
}

func TestOllamaGenerateModelOverride(t *testing.T) {
	var gotModel string
	_, p := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		json.NewEncoder(w).Encode(ollamaChatResponse{Done: true})
	})
	defer p.Close()

	opts := DefaultGenerateOptions()
	opts.Model = "mistral"
	_, err := p.Generate(context.Background(), nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "mistral", gotModel)
}

func TestOllamaGenerateServerError(t *testing.T) {
	_, p := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	})
	defer p.Close()

	_, err := p.Generate(context.Background(), []Message{
		{Role: RoleUser, Content: "hi"},
	}, DefaultGenerateOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestOllamaGenerateContextCancelled(t *testing.T) {
	block := make(chan struct{})
	_, p := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
	})
	defer p.Close()
	// Unblock the handler before the cleanup closes the test server.
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Generate(ctx, []Message{{Role: RoleUser, Content: "hi"}}, GenerateOptions{})
	assert.Error(t, err)
}

func TestProviderConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     ProviderConfig
		wantErr bool
	}{
		{"valid bedrock", ProviderConfig{Kind: ProviderBedrock, Region: "us-east-1"}, false},
		{"bedrock missing region", ProviderConfig{Kind: ProviderBedrock}, true},
		{"valid ollama", ProviderConfig{Kind: ProviderOllama, OllamaURL: "http://localhost:11434"}, false},
		{"ollama missing url", ProviderConfig{Kind: ProviderOllama}, true},
		{"unknown kind", ProviderConfig{Kind: "gpt"}, true},
		{"empty kind", ProviderConfig{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWithSystemInstruction(t *testing.T) {
	turns := []Message{{Role: RoleUser, Content: "q"}}
	out := WithSystemInstruction(turns)
	require.Len(t, out, 2)
	assert.Equal(t, RoleSystem, out[0].Role)
	assert.NotContains(t, out[0].Content, "\n")

	// An existing leading system turn is respected.
	custom := []Message{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleUser, Content: "q"},
	}
	out = WithSystemInstruction(custom)
	require.Len(t, out, 2)
	assert.Equal(t, "be terse", out[0].Content)
}
