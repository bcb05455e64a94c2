package models

import (
	"time"
)

// Enums
type Theme string

const (
	ThemeTraditional Theme = "traditional"
	ThemeModern      Theme = "modern"
	ThemeCute        Theme = "cute"
	ThemeElegant     Theme = "elegant"
)

type Festival string

const (
	FestivalSpring    Festival = "spring"
	FestivalValentine Festival = "valentine"
)

type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusDone       ItemStatus = "done"
	ItemStatusError      ItemStatus = "error"
)

type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
)

// Joyful bounds the TTS emotion level (0 = subdued, 5 = ecstatic).
const (
	JoyfulMin     = 0
	JoyfulMax     = 5
	JoyfulDefault = 3
)

// Terminal reports whether no further transitions are allowed.
func (s ItemStatus) Terminal() bool {
	return s == ItemStatusDone || s == ItemStatusError
}

// CanTransition enforces pending -> processing -> done|error.
func (s ItemStatus) CanTransition(to ItemStatus) bool {
	switch s {
	case ItemStatusPending:
		return to == ItemStatusProcessing
	case ItemStatusProcessing:
		return to == ItemStatusDone || to == ItemStatusError
	default:
		return false
	}
}

func ValidTheme(t Theme) bool {
	_, ok := themeCatalog[t]
	return ok
}

func ValidFestival(f Festival) bool {
	_, ok := festivalCatalog[f]
	return ok
}

// ParseFestival maps request input to a festival, defaulting to spring.
func ParseFestival(s string) Festival {
	f := Festival(s)
	if ValidFestival(f) {
		return f
	}
	return FestivalSpring
}

// Models

type Recipient struct {
	Name       string `json:"name" validate:"required,max=20"`
	Relation   string `json:"relation" validate:"required,max=50"`
	Background string `json:"background" validate:"max=200"`
}

type Narration struct {
	OpeningText     string   `json:"openingText"`
	Blessings       []string `json:"blessings"`
	TTSOpeningText  string   `json:"ttsOpeningText"`
	TTSBlessingText string   `json:"ttsBlessingText"`
	Theme           Theme    `json:"theme"`
	Joyful          int      `json:"joyful"`
}

func (n *Narration) Clone() *Narration {
	if n == nil {
		return nil
	}
	c := *n
	c.Blessings = append([]string(nil), n.Blessings...)
	return &c
}

type BatchItem struct {
	Index           int        `json:"index"`
	Recipient       Recipient  `json:"recipient"`
	Status          ItemStatus `json:"status"`
	Narration       *Narration `json:"narration,omitempty"`
	Theme           *Theme     `json:"theme,omitempty"`
	OutputReference string     `json:"outputReference,omitempty"`
	Filename        string     `json:"filename,omitempty"`
	Error           string     `json:"error,omitempty"`
}

type BatchJob struct {
	ID                    string      `json:"id"`
	SenderName            string      `json:"senderName"`
	VideoFile             string      `json:"videoFile"`           // relative to the public dir
	AudioFile             string      `json:"audioFile,omitempty"` // dedicated recording, relative to the public dir
	Festival              Festival    `json:"festival"`
	ExtractedAudioPath    string      `json:"extractedAudioPath,omitempty"`
	DedicatedAudioWavPath string      `json:"dedicatedAudioWavPath,omitempty"`
	VoiceCloneID          string      `json:"voiceCloneId,omitempty"`
	VideoDurationSec      *float64    `json:"videoDurationSec,omitempty"`
	Items                 []BatchItem `json:"items"`
	CreatedAt             time.Time   `json:"createdAt"`
	PreviewOnly           bool        `json:"previewOnly"`
	Status                JobStatus   `json:"status"`
}

// NewBatchJob creates a processing job with one pending item per recipient, in order.
func NewBatchJob(id, sender string, festival Festival, videoFile, audioFile string, recipients []Recipient) *BatchJob {
	items := make([]BatchItem, len(recipients))
	for i, r := range recipients {
		items[i] = BatchItem{Index: i, Recipient: r, Status: ItemStatusPending}
	}
	return &BatchJob{
		ID:         id,
		SenderName: sender,
		VideoFile:  videoFile,
		AudioFile:  audioFile,
		Festival:   festival,
		Items:      items,
		CreatedAt:  time.Now(),
		Status:     JobStatusProcessing,
	}
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (j *BatchJob) Clone() *BatchJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.VideoDurationSec != nil {
		d := *j.VideoDurationSec
		c.VideoDurationSec = &d
	}
	c.Items = make([]BatchItem, len(j.Items))
	for i, item := range j.Items {
		ci := item
		ci.Narration = item.Narration.Clone()
		if item.Theme != nil {
			t := *item.Theme
			ci.Theme = &t
		}
		c.Items[i] = ci
	}
	return &c
}

// Item returns the item with the given index.
func (j *BatchJob) Item(index int) *BatchItem {
	for i := range j.Items {
		if j.Items[i].Index == index {
			return &j.Items[i]
		}
	}
	return nil
}

// Completed counts items in a terminal state.
func (j *BatchJob) Completed() int {
	n := 0
	for _, item := range j.Items {
		if item.Status.Terminal() {
			n++
		}
	}
	return n
}

func (j *BatchJob) AllTerminal() bool {
	return j.Completed() == len(j.Items)
}

// AllFailed is true only for a non-empty batch whose every item errored.
func (j *BatchJob) AllFailed() bool {
	if len(j.Items) == 0 {
		return false
	}
	for _, item := range j.Items {
		if item.Status != ItemStatusError {
			return false
		}
	}
	return true
}

// TempAudioPaths lists the batch-scoped reference audio files on disk.
func (j *BatchJob) TempAudioPaths() []string {
	var paths []string
	if j.ExtractedAudioPath != "" {
		paths = append(paths, j.ExtractedAudioPath)
	}
	if j.DedicatedAudioWavPath != "" && j.DedicatedAudioWavPath != j.ExtractedAudioPath {
		paths = append(paths, j.DedicatedAudioWavPath)
	}
	return paths
}

// NarrationEdit carries caller overrides applied between preview and render.
// Empty strings and nil values leave the generated narration untouched.
type NarrationEdit struct {
	Index           int      `json:"index" validate:"min=0"`
	OpeningText     string   `json:"openingText,omitempty" validate:"max=50"`
	TTSOpeningText  string   `json:"ttsOpeningText,omitempty" validate:"max=200"`
	TTSBlessingText string   `json:"ttsBlessingText,omitempty" validate:"max=500"`
	Blessings       []string `json:"blessings,omitempty" validate:"max=8,dive,max=20"`
	Joyful          *int     `json:"joyful,omitempty" validate:"omitempty,min=0,max=5"`
	Theme           Theme    `json:"theme,omitempty"`
}

// Apply overwrites the non-empty fields of the edit onto the narration.
// Out-of-range joyful values and unknown themes are ignored.
func (e NarrationEdit) Apply(n *Narration) {
	if e.OpeningText != "" {
		n.OpeningText = e.OpeningText
	}
	if len(e.Blessings) > 0 {
		n.Blessings = append([]string(nil), e.Blessings...)
	}
	if e.TTSOpeningText != "" {
		n.TTSOpeningText = e.TTSOpeningText
	}
	if e.TTSBlessingText != "" {
		n.TTSBlessingText = e.TTSBlessingText
	}
	if e.Joyful != nil && *e.Joyful >= JoyfulMin && *e.Joyful <= JoyfulMax {
		n.Joyful = *e.Joyful
	}
	if e.Theme != "" && ValidTheme(e.Theme) {
		n.Theme = e.Theme
	}
}

// API request/response types

type CreateBatchRequest struct {
	SenderName string      `json:"senderName" validate:"required,max=20"`
	Recipients []Recipient `json:"recipients" validate:"required,min=1,dive"`
	Festival   Festival    `json:"festival,omitempty"`
}

type ConfirmRequest struct {
	Narrations []NarrationEdit `json:"narrations,omitempty" validate:"dive"`
}

type NarrationView struct {
	OpeningText     string   `json:"openingText"`
	Blessings       []string `json:"blessings"`
	TTSOpeningText  string   `json:"ttsOpeningText"`
	TTSBlessingText string   `json:"ttsBlessingText"`
	Theme           Theme    `json:"theme,omitempty"`
	ThemeName       string   `json:"themeName,omitempty"`
	Joyful          int      `json:"joyful"`
}

func NewNarrationView(n *Narration) *NarrationView {
	if n == nil {
		return nil
	}
	return &NarrationView{
		OpeningText:     n.OpeningText,
		Blessings:       n.Blessings,
		TTSOpeningText:  n.TTSOpeningText,
		TTSBlessingText: n.TTSBlessingText,
		Theme:           n.Theme,
		ThemeName:       n.Theme.DisplayName(),
		Joyful:          n.Joyful,
	}
}

type PreviewItem struct {
	Index         int            `json:"index"`
	RecipientName string         `json:"recipientName"`
	Relation      string         `json:"relation"`
	Background    string         `json:"background"`
	Narration     *NarrationView `json:"narration"`
}

type PreviewResponse struct {
	BatchID string        `json:"batchId"`
	Total   int           `json:"total"`
	Items   []PreviewItem `json:"items"`
}

type ConfirmResponse struct {
	BatchID string `json:"batchId"`
	Total   int    `json:"total"`
}

type ItemStatusView struct {
	Index         int            `json:"index"`
	RecipientName string         `json:"recipientName"`
	Relation      string         `json:"relation"`
	Theme         *Theme         `json:"theme"`
	ThemeName     *string        `json:"themeName"`
	Status        ItemStatus     `json:"status"`
	VideoURL      string         `json:"videoUrl,omitempty"`
	Filename      string         `json:"filename,omitempty"`
	Error         string         `json:"error,omitempty"`
	Narration     *NarrationView `json:"narration"`
}

type StatusResponse struct {
	BatchID   string           `json:"batchId"`
	Status    JobStatus        `json:"status"`
	Total     int              `json:"total"`
	Completed int              `json:"completed"`
	Items     []ItemStatusView `json:"items"`
}

// NewStatusResponse renders a job snapshot for callers polling progress.
func NewStatusResponse(job *BatchJob) *StatusResponse {
	items := make([]ItemStatusView, len(job.Items))
	for i, item := range job.Items {
		view := ItemStatusView{
			Index:         item.Index,
			RecipientName: item.Recipient.Name,
			Relation:      item.Recipient.Relation,
			Theme:         item.Theme,
			Status:        item.Status,
			VideoURL:      item.OutputReference,
			Filename:      item.Filename,
			Error:         item.Error,
			Narration:     NewNarrationView(item.Narration),
		}
		if item.Theme != nil {
			name := item.Theme.DisplayName()
			view.ThemeName = &name
		}
		items[i] = view
	}
	return &StatusResponse{
		BatchID:   job.ID,
		Status:    job.Status,
		Total:     len(job.Items),
		Completed: job.Completed(),
		Items:     items,
	}
}
