package models

// ThemeInfo describes a visual variant offered to callers.
type ThemeInfo struct {
	ID          Theme    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SuitableFor []string `json:"suitableFor"`
}

// FestivalInfo holds the display texts the renderer and front-end use for a festival.
type FestivalInfo struct {
	ID         Festival `json:"id"`
	Name       string   `json:"name"`
	Emoji      string   `json:"emoji"`
	StampText  string   `json:"stampText"`
	FooterText string   `json:"footerText"`
	YearText   string   `json:"yearText"`
}

var themeOrder = []Theme{ThemeTraditional, ThemeModern, ThemeCute, ThemeElegant}

var themeCatalog = map[Theme]ThemeInfo{
	ThemeTraditional: {
		ID:          ThemeTraditional,
		Name:        "传统红金",
		Description: "经典喜庆，适合长辈和传统场合",
		SuitableFor: []string{"长辈", "父母", "亲戚", "传统"},
	},
	ThemeModern: {
		ID:          ThemeModern,
		Name:        "现代科技",
		Description: "时尚简约，适合年轻人和职场",
		SuitableFor: []string{"年轻人", "同事", "朋友", "商务"},
	},
	ThemeCute: {
		ID:          ThemeCute,
		Name:        "粉色温馨",
		Description: "甜美可爱，适合女性和孩子",
		SuitableFor: []string{"女性", "孩子", "闺蜜", "姐妹"},
	},
	ThemeElegant: {
		ID:          ThemeElegant,
		Name:        "墨绿优雅",
		Description: "典雅内敛，适合文艺和成熟人士",
		SuitableFor: []string{"文艺", "中年", "老师", "知识分子"},
	},
}

var festivalCatalog = map[Festival]FestivalInfo{
	FestivalSpring: {
		ID:         FestivalSpring,
		Name:       "春节",
		Emoji:      "🧧",
		StampText:  "吉",
		FooterText: "丙午年 · 新春快乐",
		YearText:   "2026 丙午马年 · 新春快乐",
	},
	FestivalValentine: {
		ID:         FestivalValentine,
		Name:       "情人节",
		Emoji:      "💝",
		StampText:  "爱",
		FooterText: "2.14 · 情人节快乐",
		YearText:   "2026 · Happy Valentine's Day",
	},
}

// DisplayName returns the localized theme name, or "" for unknown themes.
func (t Theme) DisplayName() string {
	return themeCatalog[t].Name
}

// Themes lists all themes in display order.
func Themes() []ThemeInfo {
	out := make([]ThemeInfo, 0, len(themeOrder))
	for _, t := range themeOrder {
		out = append(out, themeCatalog[t])
	}
	return out
}

// FestivalConfig returns the display config for f, falling back to spring.
func FestivalConfig(f Festival) FestivalInfo {
	if info, ok := festivalCatalog[f]; ok {
		return info
	}
	return festivalCatalog[FestivalSpring]
}
