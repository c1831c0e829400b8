package ai

import (
	"strings"
)

// ---------------------------------------------------------------------------
// System instruction
// ---------------------------------------------------------------------------

// systemInstruction is prepended to every request at the provider boundary.
// The graph engine itself never adds a system turn — the boundary owns it,
// so the persisted document stays free of backend-specific framing.
const systemInstruction = `You are a helpful assistant inside a branching
conversation canvas. Each thread you see is one linear path through a tree
of follow-ups; answer the latest user turn in the context of that path
only. Be concise and direct.`

// WithSystemInstruction returns the conversation with the fixed system
// turn prepended. An existing leading system turn is left alone so callers
// can override the framing for tests.
func WithSystemInstruction(turns []Message) []Message {
	if len(turns) > 0 && turns[0].Role == RoleSystem {
		return turns
	}
	msgs := make([]Message, 0, 1+len(turns))
	msgs = append(msgs, Message{
		Role:    RoleSystem,
		Content: strings.Join(strings.Fields(systemInstruction), " "),
	})
	return append(msgs, turns...)
}
