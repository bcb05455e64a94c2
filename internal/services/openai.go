package services

import (
	"context"
	"fmt"
	"log"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIService writes narration with chat completions in JSON mode.
// It ignores reference audio.
type OpenAIService struct {
	client *openai.Client
	model  string
	apiKey string
}

var _ LLMService = (*OpenAIService)(nil)

func NewOpenAIService(apiKey, model string) *OpenAIService {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIService{
		client: openai.NewClient(apiKey),
		model:  model,
		apiKey: apiKey,
	}
}

// NewOpenAIServiceWithBaseURL points the client at an OpenAI-compatible endpoint.
func NewOpenAIServiceWithBaseURL(apiKey, model, baseURL string) *OpenAIService {
	s := NewOpenAIService(apiKey, model)
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	s.client = openai.NewClientWithConfig(cfg)
	return s
}

func (s *OpenAIService) Configured() bool    { return s.apiKey != "" }
func (s *OpenAIService) Name() string        { return "openai:" + s.model }
func (s *OpenAIService) SupportsAudio() bool { return false }

func (s *OpenAIService) Generate(ctx context.Context, req LLMRequest) (string, error) {
	if !s.Configured() {
		return "", ErrProviderUnconfigured
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	log.Printf("[OpenAI] Generating narration (model=%s, promptLen=%d)", s.model, len([]rune(req.Prompt)))

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: llmTemperature,
		MaxTokens:   llmMaxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("no response from openai")
	}

	return resp.Choices[0].Message.Content, nil
}
