package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAnthropicRequest(t *testing.T) {
	b := &bedrockProvider{defaultModel: defaultBedrockModel}

	msgs := WithSystemInstruction([]Message{
		{Role: RoleUser, Content: "first question"},
		{Role: RoleAssistant, Content: "first answer"},
		{Role: RoleUser, Content: "second question"},
	})
	req := b.buildAnthropicRequest(msgs, DefaultGenerateOptions())

	assert.Equal(t, anthropicVersion, req.AnthropicVersion)
	assert.Equal(t, 2048, req.MaxTokens)
	assert.NotEmpty(t, req.System)

	// System turns are hoisted out of the messages array.
	require.Len(t, req.Messages, 3)
	for _, m := range req.Messages {
		assert.NotEqual(t, "system", m.Role)
		require.Len(t, m.Content, 1)
		assert.Equal(t, "text", m.Content[0].Type)
	}
	assert.Equal(t, "second question", req.Messages[2].Content[0].Text)
}

func TestBuildAnthropicRequestZeroOptionsFallBack(t *testing.T) {
	b := &bedrockProvider{}
	req := b.buildAnthropicRequest(nil, GenerateOptions{})
	assert.Equal(t, DefaultGenerateOptions().MaxTokens, req.MaxTokens)
}

func TestParseAnthropicResponse(t *testing.T) {
	b := &bedrockProvider{}

	body := []byte(`{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"content": [
			{"type": "text", "text": "part one "},
			{"type": "tool_use"},
			{"type": "text", "text": "part two"}
		],
		"stop_reason": "end_turn"
	}`)
	msg, err := b.parseAnthropicResponse(body)
	require.NoError(t, err)
	assert.Equal(t, RoleAssistant, msg.Role)
	assert.Equal(t, "part one part two", msg.Content)
}

func TestParseAnthropicResponseInvalid(t *testing.T) {
	b := &bedrockProvider{}
	_, err := b.parseAnthropicResponse([]byte("not json"))
	assert.Error(t, err)
}

func TestBedrockResolveModel(t *testing.T) {
	b := &bedrockProvider{defaultModel: defaultBedrockModel}
	assert.Equal(t, defaultBedrockModel, b.resolveModel(""))
	assert.Equal(t, "anthropic.claude-3-sonnet-20240229-v1:0",
		b.resolveModel("anthropic.claude-3-sonnet-20240229-v1:0"))
}
