package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Gemini narration writer
// Uses the Google Gen AI SDK. Reference audio is sent as an inline part so
// the model can imitate how the sender actually talks.
// ---------------------------------------------------------------------------

const (
	defaultGeminiModel     = "gemini-2.0-flash"
	geminiResponseMIMEType = "application/json"
)

type GeminiService struct {
	apiKey  string
	model   string
	baseURL string
}

var _ LLMService = (*GeminiService)(nil)

// NewGeminiService creates the service. An empty apiKey yields an unconfigured
// service; empty model and baseURL use the SDK defaults.
func NewGeminiService(apiKey, model, baseURL string) *GeminiService {
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiService{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
	}
}

func (s *GeminiService) Configured() bool    { return s.apiKey != "" }
func (s *GeminiService) Name() string        { return "gemini:" + s.model }
func (s *GeminiService) SupportsAudio() bool { return true }

// Generate sends the system instruction, optional audio and prompt, and
// returns the raw text of the first candidate.
func (s *GeminiService) Generate(ctx context.Context, req LLMRequest) (string, error) {
	if !s.Configured() {
		return "", ErrProviderUnconfigured
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      s.apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: s.baseURL},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create genai client: %w", err)
	}

	parts := make([]*genai.Part, 0, 2)
	if len(req.Audio) > 0 {
		mime := req.AudioMimeType
		if mime == "" {
			mime = "audio/wav"
		}
		parts = append(parts, genai.NewPartFromBytes(req.Audio, mime))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](llmTemperature),
		MaxOutputTokens:  llmMaxOutputTokens,
		ResponseMIMEType: geminiResponseMIMEType,
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	log.Printf("[Gemini] Generating narration (model=%s, promptLen=%d, audioBytes=%d)",
		s.model, len([]rune(req.Prompt)), len(req.Audio))

	resp, err := client.Models.GenerateContent(ctx, s.model, []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}, config)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini returned empty content")
	}

	return text, nil
}
