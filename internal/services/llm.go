package services

import "context"

// Sampling settings shared by every narration model.
const (
	llmTemperature     = 0.92
	llmMaxOutputTokens = 1024
)

// LLMRequest is one narration-writing call.
type LLMRequest struct {
	SystemPrompt  string
	Prompt        string
	Audio         []byte // optional reference audio context
	AudioMimeType string
}

// LLMService is the interface that any narration-writing model must implement.
// Callers treat every error as a signal to fall back to templates.
type LLMService interface {
	Configured() bool
	Name() string
	// SupportsAudio reports whether Audio in the request is passed to the model.
	SupportsAudio() bool
	Generate(ctx context.Context, req LLMRequest) (string, error)
}

// truncateString limits a string to maxLen runes for log and error output
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
