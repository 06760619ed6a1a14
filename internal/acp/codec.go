package acp

import "strings"

// NewTextMessage creates a single-part text/plain message.
func NewTextMessage(role, text string) Message {
	return Message{
		Role: role,
		Parts: []MessagePart{
			{
				ContentType: "text/plain",
				Content:     text,
			},
		},
	}
}

// NewUserMessage creates a user message with text content.
func NewUserMessage(text string) Message {
	return NewTextMessage("user", text)
}

// NewAgentMessage creates an agent message with text content.
func NewAgentMessage(text string) Message {
	return NewTextMessage("agent", text)
}

// TextOutput concatenates, in message and part order, the content of every
// part whose content type is text/plain. A missing content type counts as
// text/plain; all other content types are skipped, never altered.
func TextOutput(messages []Message) string {
	var b strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if part.ContentType == "text/plain" || part.ContentType == "" {
				b.WriteString(part.Content)
			}
		}
	}
	return b.String()
}

// TextOutput returns the concatenated text output from the run.
func (r *Run) TextOutput() string {
	return TextOutput(r.Output)
}
