package narration

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/bobarin/blessings/internal/models"
)

const maxLLMBlessings = 6

var (
	errNoJSON        = errors.New("no JSON object in model response")
	fencedBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?\\s*```")
)

// extractJSON finds the JSON object in a model reply: the whole text, then a
// fenced code block, then the span from the first '{' to the last '}'.
func extractJSON(text string) (map[string]any, error) {
	var out map[string]any

	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &out); err == nil && out != nil {
		return out, nil
	}

	if m := fencedBlockRegex.FindStringSubmatch(text); m != nil {
		out = nil
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &out); err == nil && out != nil {
			return out, nil
		}
	}

	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first != -1 && last > first {
		out = nil
		if err := json.Unmarshal([]byte(text[first:last+1]), &out); err == nil && out != nil {
			return out, nil
		}
	}

	return nil, errNoJSON
}

// parseLLMNarration validates a model reply and maps it onto a Narration.
func parseLLMNarration(text string) (models.Narration, error) {
	data, err := extractJSON(text)
	if err != nil {
		return models.Narration{}, err
	}

	opening, ok := nonEmptyString(data, "opening")
	if !ok {
		return models.Narration{}, fmt.Errorf("response is missing opening")
	}
	body, ok := nonEmptyString(data, "narration")
	if !ok {
		return models.Narration{}, fmt.Errorf("response is missing narration")
	}
	openingText, ok := nonEmptyString(data, "openingText")
	if !ok {
		return models.Narration{}, fmt.Errorf("response is missing openingText")
	}

	raw, _ := data["blessings"].([]any)
	blessings := make([]string, 0, len(raw))
	for _, b := range raw {
		if s, ok := b.(string); ok {
			blessings = append(blessings, s)
		}
	}
	if len(blessings) < 2 {
		return models.Narration{}, fmt.Errorf("response has %d blessings, need at least 2", len(blessings))
	}
	if len(blessings) > maxLLMBlessings {
		blessings = blessings[:maxLLMBlessings]
	}

	theme := models.ThemeTraditional
	if s, ok := data["theme"].(string); ok && models.ValidTheme(models.Theme(s)) {
		theme = models.Theme(s)
	}

	joyful := models.JoyfulDefault
	if f, ok := data["joyful"].(float64); ok && f >= models.JoyfulMin && f <= models.JoyfulMax {
		joyful = int(math.Round(f))
	}

	return models.Narration{
		OpeningText:     openingText,
		Blessings:       blessings,
		TTSOpeningText:  opening,
		TTSBlessingText: body,
		Theme:           theme,
		Joyful:          joyful,
	}, nil
}

func nonEmptyString(data map[string]any, key string) (string, bool) {
	s, ok := data[key].(string)
	return s, ok && s != ""
}
