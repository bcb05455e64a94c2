package narration

import (
	"embed"
	"fmt"
	"strings"

	"github.com/bobarin/blessings/internal/models"
	"github.com/pelletier/go-toml/v2"
)

//go:embed catalog/*.toml
var catalogFS embed.FS

// Catalog holds the prompts and template pools for one festival.
type Catalog struct {
	Festival          models.Festival `toml:"festival"`
	OpenerSeedSuffix  string          `toml:"opener_seed_suffix"`
	DefaultBackground string          `toml:"default_background"`
	SystemPrompt      string          `toml:"system_prompt"`
	UserPrompt        string          `toml:"user_prompt"`
	AudioHint         string          `toml:"audio_hint"`

	Joyful struct {
		Default          int      `toml:"default"`
		Lively           int      `toml:"lively"`
		LivelyCategories []string `toml:"lively_categories"`
	} `toml:"joyful"`

	OpeningTexts     map[string][]string   `toml:"opening_texts"`
	Blessings        map[string][][]string `toml:"blessings"`
	Openers          map[string][]string   `toml:"openers"`
	BackgroundIntros map[string][]string   `toml:"background_intros"`
	Body             map[string][]string   `toml:"body"`
}

// LoadCatalogs decodes every embedded festival catalog.
func LoadCatalogs() (map[models.Festival]*Catalog, error) {
	entries, err := catalogFS.ReadDir("catalog")
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog dir: %w", err)
	}

	catalogs := make(map[models.Festival]*Catalog, len(entries))
	for _, entry := range entries {
		data, err := catalogFS.ReadFile("catalog/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}

		var c Catalog
		if err := toml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", entry.Name(), err)
		}
		if err := c.validate(); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", entry.Name(), err)
		}

		c.SystemPrompt = strings.TrimSpace(c.SystemPrompt)
		c.UserPrompt = strings.TrimSpace(c.UserPrompt)
		c.AudioHint = strings.TrimSpace(c.AudioHint)
		catalogs[c.Festival] = &c
	}

	if _, ok := catalogs[models.FestivalSpring]; !ok {
		return nil, fmt.Errorf("spring catalog missing")
	}
	return catalogs, nil
}

// validate checks that every category can always be served through the
// general fallback.
func (c *Catalog) validate() error {
	if !models.ValidFestival(c.Festival) {
		return fmt.Errorf("unknown festival %q", c.Festival)
	}
	if c.SystemPrompt == "" || c.UserPrompt == "" {
		return fmt.Errorf("prompts are required")
	}
	if len(c.OpeningTexts[string(CategoryGeneral)]) == 0 {
		return fmt.Errorf("opening_texts.general is empty")
	}
	if len(c.Openers[string(CategoryGeneral)]) == 0 {
		return fmt.Errorf("openers.general is empty")
	}
	if len(c.BackgroundIntros[string(CategoryGeneral)]) == 0 {
		return fmt.Errorf("background_intros.general is empty")
	}
	if len(c.Body[string(CategoryGeneral)]) == 0 {
		return fmt.Errorf("body.general is empty")
	}
	if len(c.Blessings[string(CategoryGeneral)]) == 0 {
		return fmt.Errorf("blessings.general is empty")
	}
	for cat, sets := range c.Blessings {
		for _, set := range sets {
			if len(set) < 2 {
				return fmt.Errorf("blessings.%s has a set with fewer than 2 phrases", cat)
			}
		}
	}
	return nil
}

// pool returns the category's entries, or the general ones when the category has none.
func pool[T any](m map[string][]T, cat Category) []T {
	if entries := m[string(cat)]; len(entries) > 0 {
		return entries
	}
	return m[string(CategoryGeneral)]
}

func (c *Catalog) joyfulFor(cat Category) int {
	for _, lively := range c.Joyful.LivelyCategories {
		if lively == string(cat) {
			return c.Joyful.Lively
		}
	}
	return c.Joyful.Default
}
