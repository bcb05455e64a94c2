package narration

import (
	"strings"

	"github.com/bobarin/blessings/internal/models"
)

// FromTemplate builds a narration from the catalog pools. The result depends
// only on the recipient, the sender and the catalog.
func (c *Catalog) FromTemplate(r models.Recipient, sender string) models.Narration {
	cat := Classify(r.Relation)
	seed := r.Name + "_" + r.Relation

	openingText := seededPick(pool(c.OpeningTexts, cat), seed)
	blessings := append([]string(nil), seededPick(pool(c.Blessings, cat), seed+"_b")...)

	vars := strings.NewReplacer(
		"{name}", r.Name,
		"{relation}", r.Relation,
		"{background}", r.Background,
		"{sender}", sender,
		"{lead}", strings.Join(blessings[:2], "，"),
		"{rest}", strings.Join(blessings[2:], "，"),
		"{third}", strings.Join(blessings[2:min(3, len(blessings))], ""),
	)

	opener := vars.Replace(seededPick(pool(c.Openers, cat), seed+c.OpenerSeedSuffix))

	var parts []string
	if strings.TrimSpace(r.Background) != "" {
		parts = append(parts, vars.Replace(seededPick(pool(c.BackgroundIntros, cat), seed+"_bg")))
	}
	for _, line := range pool(c.Body, cat) {
		parts = append(parts, vars.Replace(line))
	}

	return models.Narration{
		OpeningText:     openingText,
		Blessings:       blessings,
		TTSOpeningText:  opener,
		TTSBlessingText: strings.Join(parts, "。") + "！",
		Theme:           SuggestTheme(r.Relation, r.Background),
		Joyful:          c.joyfulFor(cat),
	}
}

// Prompts returns the system and user prompts for an LLM request.
func (c *Catalog) Prompts(r models.Recipient, sender string, withAudio bool) (system, user string) {
	background := r.Background
	if strings.TrimSpace(background) == "" {
		background = c.DefaultBackground
	}
	hint := ""
	if withAudio && c.AudioHint != "" {
		hint = "\n\n" + c.AudioHint
	}

	vars := strings.NewReplacer(
		"{name}", r.Name,
		"{relation}", r.Relation,
		"{background}", background,
		"{sender}", sender,
		"{audio_hint}", hint,
	)
	return c.SystemPrompt, vars.Replace(c.UserPrompt)
}
