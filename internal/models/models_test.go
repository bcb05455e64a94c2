package models

import (
	"encoding/json"
	"testing"
)

func TestItemStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to ItemStatus
		ok       bool
	}{
		{ItemStatusPending, ItemStatusProcessing, true},
		{ItemStatusPending, ItemStatusDone, false},
		{ItemStatusProcessing, ItemStatusDone, true},
		{ItemStatusProcessing, ItemStatusError, true},
		{ItemStatusDone, ItemStatusProcessing, false},
		{ItemStatusError, ItemStatusPending, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("%s -> %s: expected %v, got %v", c.from, c.to, c.ok, got)
		}
	}
}

func TestBatchJobCloneIsDeep(t *testing.T) {
	dur := 4.5
	theme := ThemeCute
	job := NewBatchJob("batch_1", "小明", FestivalSpring, "uploads/v.mp4", "", []Recipient{
		{Name: "张三", Relation: "发小"},
	})
	job.VideoDurationSec = &dur
	job.Items[0].Theme = &theme
	job.Items[0].Narration = &Narration{Blessings: []string{"a", "b"}}

	c := job.Clone()
	*c.VideoDurationSec = 9
	*c.Items[0].Theme = ThemeModern
	c.Items[0].Narration.Blessings[0] = "changed"
	c.Items[0].Status = ItemStatusDone

	if *job.VideoDurationSec != 4.5 {
		t.Errorf("video duration leaked through clone")
	}
	if *job.Items[0].Theme != ThemeCute {
		t.Errorf("theme leaked through clone")
	}
	if job.Items[0].Narration.Blessings[0] != "a" {
		t.Errorf("blessings leaked through clone")
	}
	if job.Items[0].Status != ItemStatusPending {
		t.Errorf("item status leaked through clone")
	}
}

func TestAllFailedAndCompleted(t *testing.T) {
	job := NewBatchJob("b", "s", FestivalSpring, "v", "", []Recipient{{Name: "a"}, {Name: "b"}})
	if job.AllFailed() || job.AllTerminal() {
		t.Fatal("fresh job must not be terminal")
	}

	job.Items[0].Status = ItemStatusError
	job.Items[1].Status = ItemStatusDone
	if job.AllFailed() {
		t.Error("one done item means the batch did not fail")
	}
	if job.Completed() != 2 || !job.AllTerminal() {
		t.Errorf("expected 2 completed, got %d", job.Completed())
	}

	job.Items[1].Status = ItemStatusError
	if !job.AllFailed() {
		t.Error("expected all failed")
	}

	empty := &BatchJob{}
	if empty.AllFailed() {
		t.Error("empty job cannot have failed")
	}
}

func TestNarrationEditApply(t *testing.T) {
	n := &Narration{
		OpeningText:     "新年好",
		Blessings:       []string{"一", "二"},
		TTSOpeningText:  "open",
		TTSBlessingText: "body",
		Theme:           ThemeTraditional,
		Joyful:          3,
	}

	bad := 9
	NarrationEdit{Joyful: &bad, Theme: "neon"}.Apply(n)
	if n.Joyful != 3 || n.Theme != ThemeTraditional {
		t.Fatalf("invalid edits must be ignored, got joyful=%d theme=%s", n.Joyful, n.Theme)
	}

	five := 5
	NarrationEdit{OpeningText: "想你了", Blessings: []string{"x", "y", "z"}, Joyful: &five, Theme: ThemeElegant}.Apply(n)
	if n.OpeningText != "想你了" || len(n.Blessings) != 3 || n.Joyful != 5 || n.Theme != ThemeElegant {
		t.Errorf("edit not applied: %+v", n)
	}
	if n.TTSOpeningText != "open" {
		t.Errorf("empty field must not overwrite, got %q", n.TTSOpeningText)
	}
}

func TestStatusResponseJSON(t *testing.T) {
	theme := ThemeModern
	job := NewBatchJob("batch_x", "s", FestivalValentine, "v", "", []Recipient{{Name: "a", Relation: "同事"}})
	job.Items[0].Theme = &theme
	job.Items[0].Status = ItemStatusDone
	job.Items[0].OutputReference = "/output/a.mp4"
	job.Items[0].Filename = "a.mp4"

	data, err := json.Marshal(NewStatusResponse(job))
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if result["completed"].(float64) != 1 {
		t.Errorf("expected completed=1, got %v", result["completed"])
	}
	item := result["items"].([]interface{})[0].(map[string]interface{})
	if item["themeName"] != "现代科技" {
		t.Errorf("expected theme name, got %v", item["themeName"])
	}
	if item["videoUrl"] != "/output/a.mp4" {
		t.Errorf("expected videoUrl, got %v", item["videoUrl"])
	}
}

func TestParseFestivalDefaults(t *testing.T) {
	if ParseFestival("valentine") != FestivalValentine {
		t.Error("valentine not parsed")
	}
	if ParseFestival("halloween") != FestivalSpring {
		t.Error("unknown festival must default to spring")
	}
	if FestivalConfig("nope").Name != "春节" {
		t.Error("festival config must fall back to spring")
	}
}
