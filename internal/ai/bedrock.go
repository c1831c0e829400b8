package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// ---------------------------------------------------------------------------
// Default model IDs
// ---------------------------------------------------------------------------

const (
	defaultBedrockModel = "anthropic.claude-3-haiku-20240307-v1:0"
	anthropicVersion    = "bedrock-2023-05-31"
)

// ---------------------------------------------------------------------------
// BedrockProvider
// ---------------------------------------------------------------------------

// bedrockProvider implements Provider using InvokeModel with the Anthropic
// Messages API body format.
type bedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
	region       string
}

// newBedrockProvider initialises an AWS Bedrock provider.
func newBedrockProvider(ctx context.Context, cfg ProviderConfig) (*bedrockProvider, error) {
	awsCfg, err := awscfg.LoadDefaultConfig(ctx,
		awscfg.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("ai/bedrock: load aws config: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultBedrockModel
	}

	return &bedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: model,
		region:       cfg.Region,
	}, nil
}

// Name implements Provider.
func (b *bedrockProvider) Name() string { return "bedrock" }

// Close implements Provider.
func (b *bedrockProvider) Close() error { return nil }

// ---------------------------------------------------------------------------
// Anthropic Messages API types (used as InvokeModel body)
// ---------------------------------------------------------------------------

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float64            `json:"temperature,omitempty"`
	TopP             float64            `json:"top_p,omitempty"`
	StopSequences    []string           `json:"stop_sequences,omitempty"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
}

// ---------------------------------------------------------------------------
// Generate
// ---------------------------------------------------------------------------

// Generate implements Provider using InvokeModel with the Anthropic Messages API.
func (b *bedrockProvider) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*Message, error) {
	model := b.resolveModel(opts.Model)
	req := b.buildAnthropicRequest(WithSystemInstruction(messages), opts)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ai/bedrock: marshal request: %w", err)
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("ai/bedrock: invoke model: %w", err)
	}

	return b.parseAnthropicResponse(resp.Body)
}

// ---------------------------------------------------------------------------
// Request / response conversion
// ---------------------------------------------------------------------------

// buildAnthropicRequest converts engine messages into the Anthropic body.
// System turns are hoisted into the top-level system field — the Messages
// API rejects system entries inside the messages array.
func (b *bedrockProvider) buildAnthropicRequest(messages []Message, opts GenerateOptions) anthropicRequest {
	if opts.MaxTokens == 0 {
		opts = DefaultGenerateOptions()
	}

	var systemParts []string
	converted := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		converted = append(converted, anthropicMessage{
			Role: string(m.Role),
			Content: []anthropicContent{
				{Type: "text", Text: m.Content},
			},
		})
	}

	return anthropicRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        opts.MaxTokens,
		Temperature:      opts.Temperature,
		TopP:             opts.TopP,
		StopSequences:    opts.StopWords,
		System:           strings.Join(systemParts, "\n\n"),
		Messages:         converted,
	}
}

// parseAnthropicResponse extracts the text blocks of the reply.
func (b *bedrockProvider) parseAnthropicResponse(body []byte) (*Message, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("ai/bedrock: unmarshal response: %w", err)
	}

	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}

	return &Message{
		Role:    RoleAssistant,
		Content: text.String(),
	}, nil
}

func (b *bedrockProvider) resolveModel(override string) string {
	if override != "" {
		return override
	}
	return b.defaultModel
}
