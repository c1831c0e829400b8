package ai

import (
	"context"
	"fmt"
)

// ---------------------------------------------------------------------------
// Provider kinds
// ---------------------------------------------------------------------------

// ProviderKind identifies a supported model backend.
type ProviderKind string

const (
	ProviderBedrock ProviderKind = "bedrock"
	ProviderOllama  ProviderKind = "ollama"
)

// ---------------------------------------------------------------------------
// Message types
// ---------------------------------------------------------------------------

// Role represents a conversation participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ---------------------------------------------------------------------------
// Completion options
// ---------------------------------------------------------------------------

// GenerateOptions configures a single completion request.
type GenerateOptions struct {
	Model       string   `json:"model,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	StopWords   []string `json:"stop_words,omitempty"`
}

// DefaultGenerateOptions returns sensible defaults.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		MaxTokens:   2048,
		Temperature: 0.7,
		TopP:        0.9,
	}
}

// ---------------------------------------------------------------------------
// Provider interface
// ---------------------------------------------------------------------------

// Provider is the contract every model backend must satisfy. The engine
// treats a reply as a single opaque string: one request, one complete
// response, no partial updates.
type Provider interface {
	// Generate produces a single, complete assistant response.
	Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*Message, error)

	// Name returns a human-readable provider name, e.g. "bedrock" or "ollama".
	Name() string

	// Close releases any resources held by the provider (e.g. HTTP clients).
	Close() error
}

// ---------------------------------------------------------------------------
// Provider configuration
// ---------------------------------------------------------------------------

// ProviderConfig holds all configuration accepted by NewProvider.
type ProviderConfig struct {
	Kind   ProviderKind `json:"kind"`
	Region string       `json:"region,omitempty"` // AWS region for Bedrock
	Model  string       `json:"model,omitempty"`  // default model ID

	// Ollama-specific
	OllamaURL string `json:"ollama_url,omitempty"` // e.g. "http://localhost:11434"
}

// Validate checks that required fields are set.
func (c ProviderConfig) Validate() error {
	switch c.Kind {
	case ProviderBedrock:
		if c.Region == "" {
			return fmt.Errorf("ai: bedrock provider requires region")
		}
	case ProviderOllama:
		if c.OllamaURL == "" {
			return fmt.Errorf("ai: ollama provider requires ollama_url")
		}
	default:
		return fmt.Errorf("ai: unknown provider kind %q", c.Kind)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

// NewProvider creates a concrete Provider from configuration.
func NewProvider(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case ProviderBedrock:
		return newBedrockProvider(ctx, cfg)
	case ProviderOllama:
		return newOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("ai: unsupported provider %q", cfg.Kind)
	}
}
