package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// ---------------------------------------------------------------------------
// ElevenLabs Voice Service
// Instant voice cloning (POST /v1/voices/add) plus text-to-speech with the
// cloned voice. Model: eleven_multilingual_v2 (handles Mandarin narration).
// ---------------------------------------------------------------------------

const (
	elevenLabsBaseURL      = "https://api.elevenlabs.io"
	elevenLabsDefaultModel = "eleven_multilingual_v2"
	elevenLabsOutputFormat = "mp3_44100_128" // High-quality MP3
)

// ElevenLabsService handles voice cloning and speech via the ElevenLabs API.
type ElevenLabsService struct {
	apiKey  string
	baseURL string
	modelID string
	client  *http.Client
	backoff func(attempt int) time.Duration
}

// Ensure ElevenLabsService implements VoiceService at compile time.
var _ VoiceService = (*ElevenLabsService)(nil)

// NewElevenLabsService creates the service. An empty apiKey yields an
// unconfigured service; baseURL and modelID fall back to defaults.
func NewElevenLabsService(apiKey, baseURL, modelID string) *ElevenLabsService {
	if baseURL == "" {
		baseURL = elevenLabsBaseURL
	}
	if modelID == "" {
		modelID = elevenLabsDefaultModel
	}
	return &ElevenLabsService{
		apiKey:  apiKey,
		baseURL: baseURL,
		modelID: modelID,
		client:  &http.Client{Timeout: 90 * time.Second},
		backoff: ttsBackoff,
	}
}

func (s *ElevenLabsService) Configured() bool {
	return s.apiKey != ""
}

// ---------------------------------------------------------------------------
// Request types
// ---------------------------------------------------------------------------

type elevenLabsRequest struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

type elevenLabsAddVoiceResponse struct {
	VoiceID string `json:"voice_id"`
}

// voiceSettingsForJoyful maps the 0-5 emotion level onto style exaggeration.
// Livelier delivery trades away some stability.
func voiceSettingsForJoyful(joyful int) *elevenLabsVoiceSettings {
	if joyful < 0 {
		joyful = 0
	}
	if joyful > 5 {
		joyful = 5
	}
	return &elevenLabsVoiceSettings{
		Stability:       0.75 - 0.07*float64(joyful),
		SimilarityBoost: 0.85,
		Style:           0.10 + 0.12*float64(joyful),
		UseSpeakerBoost: true,
	}
}

// UploadVoice creates an instant voice clone from the reference recording.
func (s *ElevenLabsService) UploadVoice(ctx context.Context, audioPath string) (string, error) {
	if !s.Configured() {
		return "", ErrProviderUnconfigured
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, audioPath)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("name", fmt.Sprintf("voice_clone_%d", time.Now().UnixMilli())); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	part, err := mw.CreateFormFile("files", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", audioPath, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/v1/voices/add", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create ElevenLabs request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("xi-api-key", s.apiKey)

	log.Printf("[ElevenLabs] Uploading reference audio %s (%d bytes)", filepath.Base(audioPath), body.Len())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d: %s", ErrUpload, resp.StatusCode, truncateString(string(respBody), 200))
	}

	var result elevenLabsAddVoiceResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("%w: malformed response: %v", ErrUpload, err)
	}
	if result.VoiceID == "" {
		return "", fmt.Errorf("%w: response has no voice_id", ErrUpload)
	}

	log.Printf("[ElevenLabs] Voice clone created (voiceID=%s)", result.VoiceID)
	return result.VoiceID, nil
}

// DeleteVoice removes a voice clone. Errors are only logged.
func (s *ElevenLabsService) DeleteVoice(ctx context.Context, voiceID string) {
	if !s.Configured() || voiceID == "" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, "DELETE", fmt.Sprintf("%s/v1/voices/%s", s.baseURL, voiceID), nil)
	if err != nil {
		log.Printf("[ElevenLabs] Warning: failed to build delete request for %s: %v", voiceID, err)
		return
	}
	req.Header.Set("xi-api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("[ElevenLabs] Warning: failed to delete voice %s: %v", voiceID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		log.Printf("[ElevenLabs] Warning: delete voice %s returned status %d: %s", voiceID, resp.StatusCode, truncateString(string(body), 200))
		return
	}

	log.Printf("[ElevenLabs] Voice clone deleted (voiceID=%s)", voiceID)
}

// GenerateSpeech converts text to speech with the cloned voice, retrying transient failures.
func (s *ElevenLabsService) GenerateSpeech(ctx context.Context, text, voiceID string, joyful int) ([]byte, error) {
	if !s.Configured() {
		return nil, ErrProviderUnconfigured
	}

	clean := SanitizeTTSText(text)
	if clean == "" {
		return nil, ErrEmptyInput
	}

	var audio []byte
	err := retryWithBackoff(ctx, "[ElevenLabs]", ttsMaxAttempts, s.backoff, func() error {
		data, err := s.synthesize(ctx, clean, voiceID, joyful)
		if err != nil {
			return err
		}
		audio = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	return audio, nil
}

func (s *ElevenLabsService) synthesize(ctx context.Context, text, voiceID string, joyful int) ([]byte, error) {
	reqBody := elevenLabsRequest{
		Text:          text,
		ModelID:       s.modelID,
		VoiceSettings: voiceSettingsForJoyful(joyful),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ElevenLabs request: %w", err)
	}

	// Build URL: POST /v1/text-to-speech/{voice_id}?output_format=mp3_44100_128
	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", s.baseURL, voiceID, elevenLabsOutputFormat)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create ElevenLabs request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)

	log.Printf("[ElevenLabs] Generating speech (voiceID=%s, model=%s, textLen=%d, joyful=%d)",
		voiceID, s.modelID, len([]rune(text)), joyful)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ElevenLabs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ElevenLabs returned status %d: %s", resp.StatusCode, truncateString(string(body), 200))
	}

	// The response body is the audio file.
	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ElevenLabs audio response: %w", err)
	}

	if len(audioData) == 0 {
		return nil, fmt.Errorf("ElevenLabs returned empty audio")
	}

	log.Printf("[ElevenLabs] Speech generated (%d bytes)", len(audioData))
	return audioData, nil
}
