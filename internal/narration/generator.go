// Package narration writes the personalized texts for each recipient: an LLM
// when one is configured, and deterministic catalog templates otherwise.
package narration

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/bobarin/blessings/internal/models"
	"github.com/bobarin/blessings/internal/services"
)

const (
	// Larger recordings are left out of the request.
	maxAudioContextBytes = 18 * 1024 * 1024
	audioContextMimeType = "audio/wav"
)

type Generator struct {
	llm      services.LLMService
	catalogs map[models.Festival]*Catalog
}

// NewGenerator loads the embedded catalogs. llm may be nil.
func NewGenerator(llm services.LLMService) (*Generator, error) {
	catalogs, err := LoadCatalogs()
	if err != nil {
		return nil, err
	}
	return &Generator{llm: llm, catalogs: catalogs}, nil
}

// LLMConfigured reports whether Generate will try a model first.
func (g *Generator) LLMConfigured() bool {
	return g.llm != nil && g.llm.Configured()
}

// Generate never fails: model errors are logged and the template path is used.
func (g *Generator) Generate(ctx context.Context, r models.Recipient, sender string, festival models.Festival, audioPath string) models.Narration {
	catalog := g.catalog(festival)

	if g.LLMConfigured() {
		log.Printf("[Narration] Generating for %s with %s (%s)", r.Name, g.llm.Name(), catalog.Festival)
		n, err := g.generateWithLLM(ctx, catalog, r, sender, audioPath)
		if err == nil {
			log.Printf("[Narration] LLM narration for %s (opening %d chars, body %d chars, theme %s)",
				r.Name, len([]rune(n.TTSOpeningText)), len([]rune(n.TTSBlessingText)), n.Theme)
			return n
		}
		log.Printf("[Narration] Warning: LLM failed for %s, using template: %v", r.Name, err)
	}

	log.Printf("[Narration] Using template for %s (%s)", r.Name, catalog.Festival)
	return catalog.FromTemplate(r, sender)
}

func (g *Generator) catalog(festival models.Festival) *Catalog {
	if c, ok := g.catalogs[festival]; ok {
		return c
	}
	return g.catalogs[models.FestivalSpring]
}

func (g *Generator) generateWithLLM(ctx context.Context, c *Catalog, r models.Recipient, sender, audioPath string) (models.Narration, error) {
	req := services.LLMRequest{}

	hasAudio := false
	if audioPath != "" && g.llm.SupportsAudio() {
		if info, err := os.Stat(audioPath); err == nil && !info.IsDir() {
			hasAudio = true
			if info.Size() < maxAudioContextBytes {
				if data, err := os.ReadFile(audioPath); err == nil {
					req.Audio = data
					req.AudioMimeType = audioContextMimeType
				} else {
					log.Printf("[Narration] Warning: failed to read reference audio: %v", err)
				}
			} else {
				log.Printf("[Narration] Warning: reference audio too large (%.1fMB), skipping", float64(info.Size())/(1024*1024))
			}
		}
	}

	req.SystemPrompt, req.Prompt = c.Prompts(r, sender, hasAudio)

	text, err := g.llm.Generate(ctx, req)
	if err != nil {
		return models.Narration{}, err
	}
	if text == "" {
		return models.Narration{}, fmt.Errorf("%s returned empty content", g.llm.Name())
	}
	return parseLLMNarration(text)
}
