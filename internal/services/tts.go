package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// VoiceService clones a speaker and synthesizes speech in that voice.
// The batch processor uploads one reference recording per batch, synthesizes
// every recipient's segments with the resulting voice, then deletes it.
// ---------------------------------------------------------------------------

var (
	ErrProviderUnconfigured = errors.New("provider not configured")
	ErrFileNotFound         = errors.New("file not found")
	ErrUpload               = errors.New("voice upload failed")
	ErrEmptyInput           = errors.New("text is empty after sanitizing")
	ErrSynthesisFailed      = errors.New("speech synthesis failed")
)

// VoiceService is the interface that any voice-clone TTS provider must implement.
type VoiceService interface {
	// Configured reports whether credentials are present. Unconfigured is a
	// valid state: the pipeline renders without voiceover.
	Configured() bool

	// UploadVoice creates a voice clone from a reference recording.
	UploadVoice(ctx context.Context, audioPath string) (string, error)

	// DeleteVoice removes a clone. Failures are logged, never returned.
	DeleteVoice(ctx context.Context, voiceID string)

	// GenerateSpeech synthesizes text with the clone. joyful (0-5) steers delivery.
	GenerateSpeech(ctx context.Context, text, voiceID string, joyful int) ([]byte, error)
}

const (
	maxTTSTextLength = 10000
	ttsMaxAttempts   = 3
	ttsBaseDelay     = time.Second
	ttsMaxDelay      = 9 * time.Second
)

var (
	controlChars  = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	blankLines    = regexp.MustCompile(`\n\s*\n`)
	horizontalRun = regexp.MustCompile(`[ \t]+`)
)

// SanitizeTTSText strips control characters, collapses blank lines and runs
// of spaces, and caps the length.
func SanitizeTTSText(text string) string {
	text = controlChars.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = blankLines.ReplaceAllString(text, "\n")
	text = horizontalRun.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	if runes := []rune(text); len(runes) > maxTTSTextLength {
		text = string(runes[:maxTTSTextLength]) + "..."
	}
	return text
}

// ttsBackoff returns the wait after the given zero-based failed attempt: 1s, 3s, 9s (capped).
func ttsBackoff(attempt int) time.Duration {
	delay := ttsBaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 3
		if delay >= ttsMaxDelay {
			return ttsMaxDelay
		}
	}
	return delay
}

// retryWithBackoff runs fn up to attempts times, sleeping backoff(i) between tries.
func retryWithBackoff(ctx context.Context, label string, attempts int, backoff func(int) time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt - 1)
			log.Printf("%s retry %d/%d (waiting %v)...", label, attempt, attempts-1, delay)

			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}
		log.Printf("%s attempt %d failed: %v", label, attempt+1, lastErr)
	}
	return lastErr
}
