package acp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextOutputConcatenatesInOrder(t *testing.T) {
	messages := []Message{
		{
			Role: "agent",
			Parts: []MessagePart{
				{ContentType: "text/plain", Content: "hello "},
				{ContentType: "text/plain", Content: "world"},
			},
		},
		{
			Role: "agent",
			Parts: []MessagePart{
				{ContentType: "text/plain", Content: "!"},
			},
		},
	}

	assert.Equal(t, "hello world!", TextOutput(messages))
}

func TestTextOutputTreatsEmptyContentTypeAsText(t *testing.T) {
	messages := []Message{
		{
			Role: "agent",
			Parts: []MessagePart{
				{Content: "no type "},
				{ContentType: "text/plain", Content: "typed"},
			},
		},
	}

	assert.Equal(t, "no type typed", TextOutput(messages))
}

func TestTextOutputSkipsNonTextParts(t *testing.T) {
	messages := []Message{
		{
			Role: "agent",
			Parts: []MessagePart{
				{ContentType: "text/plain", Content: "before"},
				{ContentType: "image/png", Content: "aWdub3JlZA==", ContentEncoding: "base64"},
				{ContentType: "application/json", Content: `{"k":"v"}`},
				{ContentType: "text/plain", Content: "after"},
			},
		},
	}

	assert.Equal(t, "beforeafter", TextOutput(messages))
}

func TestTextOutputEmpty(t *testing.T) {
	assert.Equal(t, "", TextOutput(nil))
	assert.Equal(t, "", TextOutput([]Message{{Role: "agent"}}))
}

func TestNewTextMessage(t *testing.T) {
	msg := NewUserMessage("do the thing")

	assert.Equal(t, "user", msg.Role)
	assert.Len(t, msg.Parts, 1)
	assert.Equal(t, "text/plain", msg.Parts[0].ContentType)
	assert.Equal(t, "do the thing", msg.Parts[0].Content)

	assert.Equal(t, "agent", NewAgentMessage("done").Role)
}

func TestRunStatusIsTerminal(t *testing.T) {
	terminal := []RunStatus{RunStatusCompleted, RunStatusFailed, RunStatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), string(s))
	}

	open := []RunStatus{RunStatusCreated, RunStatusInProgress, RunStatusAwaiting, RunStatusCancelling}
	for _, s := range open {
		assert.False(t, s.IsTerminal(), string(s))
	}
}
