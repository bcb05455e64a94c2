package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bobarin/blessings/internal/events"
	"github.com/bobarin/blessings/internal/models"
	"github.com/bobarin/blessings/internal/services"
	"github.com/bobarin/blessings/internal/store"
	"github.com/bobarin/blessings/internal/timing"
	"golang.org/x/sync/errgroup"
)

const (
	// Used when a synthesized segment exists but cannot be measured.
	defaultSegmentDuration = 6.0
	maxItemErrorLength     = 200
	cleanupTimeout         = 30 * time.Second
)

// errEvicted stops a run whose job was removed from the store underneath it.
var errEvicted = errors.New("batch evicted during processing")

// NarrationGenerator writes the texts for one recipient. It never fails.
type NarrationGenerator interface {
	Generate(ctx context.Context, r models.Recipient, sender string, festival models.Festival, audioPath string) models.Narration
	LLMConfigured() bool
}

// Media probes durations and prepares reference audio.
type Media interface {
	ProbeDuration(ctx context.Context, path string) (float64, bool)
	ExtractAudio(ctx context.Context, videoPath, outputPath string) bool
	ConvertToWav(ctx context.Context, inputPath, outputPath string) bool
	Remove(paths ...string)
}

// VideoPublisher copies a rendered file somewhere public and returns its URL.
type VideoPublisher interface {
	PublishVideo(ctx context.Context, batchID, localPath string) (string, error)
}

// Paths are the directories the pipeline reads and writes.
type Paths struct {
	PublicDir  string // VideoFile and AudioFile are relative to this
	UploadsDir string // synthesized speech is written here so the renderer can load it
	OutputDir  string
	TempDir    string
}

type ProcessorConfig struct {
	Store     store.JobStore
	Narration NarrationGenerator
	Voice     services.VoiceService
	Media     Media
	Renderer  services.Renderer
	Publisher VideoPublisher   // optional
	Events    events.Publisher // optional
	Paths     Paths
}

// Processor runs the render phase of a batch.
type Processor struct {
	store     store.JobStore
	narration NarrationGenerator
	voice     services.VoiceService
	media     Media
	renderer  services.Renderer
	publisher VideoPublisher
	events    events.Publisher
	paths     Paths
	now       func() time.Time
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	pub := cfg.Events
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Processor{
		store:     cfg.Store,
		narration: cfg.Narration,
		voice:     cfg.Voice,
		media:     cfg.Media,
		renderer:  cfg.Renderer,
		publisher: cfg.Publisher,
		events:    pub,
		paths:     cfg.Paths,
		now:       time.Now,
	}
}

// Process renders every item of the batch in order. Item failures are recorded
// on the item; the returned error is only about loading or saving the job.
func (p *Processor) Process(ctx context.Context, batchID string) error {
	job, err := p.store.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if job.PreviewOnly {
		log.Printf("[Batch] %s is still awaiting confirmation, skipping", batchID)
		return nil
	}
	if job.Status != models.JobStatusProcessing {
		log.Printf("[Batch] %s already finished (%s), skipping", batchID, job.Status)
		return nil
	}

	start := time.Now()
	log.Printf("[Batch] Processing %s: %d recipients (%s)", job.ID, len(job.Items), job.Festival)
	p.events.Publish(ctx, events.JobEvent(events.TypeBatchStarted, job))

	refAudio, err := p.prepare(ctx, job)
	if err == nil {
		for i := range job.Items {
			if err = p.processItem(ctx, job, &job.Items[i], refAudio); err != nil {
				break
			}
		}
	}

	// Batch-scoped resources are released exactly once, whatever happened above.
	p.releaseResources(ctx, job)

	if errors.Is(err, errEvicted) {
		log.Printf("[Batch] Warning: %s was evicted mid-run, stopped after releasing resources", job.ID)
		return nil
	}
	if err != nil {
		return err
	}

	if job.AllFailed() {
		job.Status = models.JobStatusError
	} else {
		job.Status = models.JobStatusDone
	}
	if err := p.save(ctx, job); err != nil {
		if errors.Is(err, errEvicted) {
			return nil
		}
		return err
	}
	p.events.Publish(ctx, events.JobEvent(events.TypeBatchFinished, job))

	done := 0
	for _, item := range job.Items {
		if item.Status == models.ItemStatusDone {
			done++
		}
	}
	log.Printf("[Batch] %s finished: %d/%d videos succeeded in %v", job.ID, done, len(job.Items), time.Since(start).Round(time.Second))
	return nil
}

// prepare probes the source video and establishes the batch's voice clone.
// It returns the reference audio path used for narration context.
func (p *Processor) prepare(ctx context.Context, job *models.BatchJob) (string, error) {
	videoPath := filepath.Join(p.paths.PublicDir, job.VideoFile)

	if job.VideoDurationSec == nil {
		if d, ok := p.media.ProbeDuration(ctx, videoPath); ok {
			job.VideoDurationSec = &d
			log.Printf("[Batch] Source video duration: %.1fs", d)
		} else {
			log.Printf("[Batch] Warning: could not probe %s, using default scene timing", job.VideoFile)
		}
	}

	if !p.voice.Configured() {
		log.Printf("[Batch] Voice provider not configured, rendering without voiceover")
		return "", p.save(ctx, job)
	}

	refAudio := p.resolveReferenceAudio(ctx, job, videoPath)
	if err := p.save(ctx, job); err != nil {
		return "", err
	}

	switch {
	case refAudio == "":
		log.Printf("[Batch] Warning: no usable reference audio, rendering without voiceover")
	case job.VoiceCloneID != "":
		log.Printf("[Batch] Reusing voice clone %s", job.VoiceCloneID)
	default:
		voiceID, err := p.voice.UploadVoice(ctx, refAudio)
		if err != nil {
			log.Printf("[Batch] Warning: voice clone failed, rendering without voiceover: %v", err)
			break
		}
		// Stored immediately so a retried run never uploads a second clone.
		job.VoiceCloneID = voiceID
		if err := p.save(ctx, job); err != nil {
			return refAudio, err
		}
	}

	return refAudio, nil
}

// resolveReferenceAudio prefers the dedicated recording, then audio extracted
// during preview, then a fresh extraction from the source video.
func (p *Processor) resolveReferenceAudio(ctx context.Context, job *models.BatchJob, videoPath string) string {
	if fileHasData(job.DedicatedAudioWavPath) {
		log.Printf("[Batch] Using dedicated voice recording")
		return job.DedicatedAudioWavPath
	}
	if fileHasData(job.ExtractedAudioPath) {
		log.Printf("[Batch] Reusing audio extracted during preview")
		return job.ExtractedAudioPath
	}

	out := filepath.Join(p.paths.TempDir, fmt.Sprintf("ref_audio_%s.wav", job.ID))
	if !p.media.ExtractAudio(ctx, videoPath, out) {
		return ""
	}
	job.ExtractedAudioPath = out
	return out
}

func (p *Processor) processItem(ctx context.Context, job *models.BatchJob, item *models.BatchItem, refAudio string) error {
	if item.Status.Terminal() {
		return nil
	}
	if item.Status.CanTransition(models.ItemStatusProcessing) {
		item.Status = models.ItemStatusProcessing
	}
	log.Printf("[Batch] [%d/%d] Processing %s (%s)", item.Index+1, len(job.Items), item.Recipient.Name, item.Recipient.Relation)
	if err := p.saveItem(ctx, job, item); err != nil {
		return err
	}

	filename, err := p.renderItem(ctx, job, item, refAudio)
	if err != nil {
		item.Status = models.ItemStatusError
		item.Error = itemErrorMessage(err)
		log.Printf("[Batch] Failed %s: %s", item.Recipient.Name, item.Error)
		return p.saveItem(ctx, job, item)
	}

	item.Status = models.ItemStatusDone
	item.Filename = filename
	item.OutputReference = "/output/" + filename
	if p.publisher != nil {
		url, err := p.publisher.PublishVideo(ctx, job.ID, filepath.Join(p.paths.OutputDir, filename))
		if err != nil {
			log.Printf("[Batch] Warning: failed to publish %s, keeping local copy: %v", filename, err)
		} else {
			item.OutputReference = url
		}
	}
	log.Printf("[Batch] Done %s -> %s", item.Recipient.Name, item.OutputReference)
	return p.saveItem(ctx, job, item)
}

// renderItem produces one video and returns its filename.
func (p *Processor) renderItem(ctx context.Context, job *models.BatchJob, item *models.BatchItem, refAudio string) (string, error) {
	if item.Narration == nil {
		n := p.narration.Generate(ctx, item.Recipient, job.SenderName, job.Festival, refAudio)
		item.Narration = &n
	} else {
		log.Printf("[Batch] Reusing preview narration for %s", item.Recipient.Name)
	}
	n := item.Narration
	theme := n.Theme
	item.Theme = &theme

	opening, blessing := p.synthesize(ctx, job, item)
	defer p.media.Remove(opening.path, blessing.path)

	scenes := timing.Compute(job.VideoDurationSec, opening.duration, blessing.duration)
	log.Printf("[Batch] Frames: scene1=%d scene2=%d scene3=%d outro=%d total=%d",
		scenes.Scene1Frames, scenes.Scene2Frames, scenes.Scene3Frames, timing.OutroFrames, scenes.TotalFrames())

	props := services.RenderProps{
		SenderName:           job.SenderName,
		RecipientName:        item.Recipient.Name,
		OpeningText:          n.OpeningText,
		Blessings:            n.Blessings,
		VideoFile:            job.VideoFile,
		TTSOpeningText:       n.TTSOpeningText,
		Theme:                string(n.Theme),
		Festival:             string(job.Festival),
		Scene1Frames:         scenes.Scene1Frames,
		Scene2Frames:         scenes.Scene2Frames,
		Scene3Frames:         scenes.Scene3Frames,
		TTSOpeningAudioFile:  opening.relPath,
		TTSBlessingAudioFile: blessing.relPath,
	}

	filename := outputFilename(item, p.now())
	if err := p.renderer.Render(ctx, props, filepath.Join(p.paths.OutputDir, filename)); err != nil {
		return "", err
	}
	return filename, nil
}

// segment is one synthesized speech file. The zero value means "no audio".
type segment struct {
	path     string
	relPath  string
	duration *float64
}

// synthesize produces the opening and body speech concurrently. A failed
// segment is left out rather than failing the item.
func (p *Processor) synthesize(ctx context.Context, job *models.BatchJob, item *models.BatchItem) (opening, blessing segment) {
	if job.VoiceCloneID == "" {
		return
	}

	var g errgroup.Group
	g.Go(func() error {
		opening = p.synthesizeSegment(ctx, job, item, "opening", item.Narration.TTSOpeningText)
		return nil
	})
	g.Go(func() error {
		blessing = p.synthesizeSegment(ctx, job, item, "blessing", item.Narration.TTSBlessingText)
		return nil
	})
	_ = g.Wait()
	return
}

func (p *Processor) synthesizeSegment(ctx context.Context, job *models.BatchJob, item *models.BatchItem, kind, text string) segment {
	audio, err := p.voice.GenerateSpeech(ctx, text, job.VoiceCloneID, item.Narration.Joyful)
	if err != nil {
		log.Printf("[Batch] Warning: %s speech failed for %s: %v", kind, item.Recipient.Name, err)
		return segment{}
	}

	name := fmt.Sprintf("tts_%s_%d_%s.mp3", job.ID, item.Index, kind)
	path := filepath.Join(p.paths.UploadsDir, name)
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		log.Printf("[Batch] Warning: failed to write %s: %v", path, err)
		return segment{}
	}

	d, ok := p.media.ProbeDuration(ctx, path)
	if !ok {
		d = defaultSegmentDuration
	}
	log.Printf("[Batch] %s speech for %s: %.1fs", kind, item.Recipient.Name, d)

	return segment{path: path, relPath: p.publicRel(path), duration: &d}
}

// publicRel returns path relative to the public dir in slash form, the way
// the renderer resolves static files.
func (p *Processor) publicRel(path string) string {
	rel, err := filepath.Rel(p.paths.PublicDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "uploads/" + filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}

// releaseResources deletes the batch's temp audio and voice clone and clears
// the fields so nothing releases them twice.
func (p *Processor) releaseResources(ctx context.Context, job *models.BatchJob) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	p.media.Remove(job.TempAudioPaths()...)
	job.ExtractedAudioPath = ""
	job.DedicatedAudioWavPath = ""

	if job.VoiceCloneID != "" {
		log.Printf("[Batch] Deleting voice clone %s", job.VoiceCloneID)
		p.voice.DeleteVoice(ctx, job.VoiceCloneID)
		job.VoiceCloneID = ""
	}

	if err := p.save(ctx, job); err != nil && !errors.Is(err, errEvicted) {
		log.Printf("[Batch] Warning: failed to save %s after cleanup: %v", job.ID, err)
	}
}

// save writes job back unless it has been evicted.
func (p *Processor) save(ctx context.Context, job *models.BatchJob) error {
	ok, err := p.store.Update(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to save batch %s: %w", job.ID, err)
	}
	if !ok {
		return errEvicted
	}
	return nil
}

func (p *Processor) saveItem(ctx context.Context, job *models.BatchJob, item *models.BatchItem) error {
	if err := p.save(ctx, job); err != nil {
		return err
	}
	p.events.Publish(ctx, events.ItemEvent(job, item))
	return nil
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9\x{4e00}-\x{9fff}]`)

func outputFilename(item *models.BatchItem, now time.Time) string {
	safe := unsafeNameChars.ReplaceAllString(item.Recipient.Name, "")
	if safe == "" {
		safe = fmt.Sprintf("recipient%d", item.Index+1)
	}
	return fmt.Sprintf("blessing_%s_%d.mp4", safe, now.UnixMilli())
}

func itemErrorMessage(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = "render failed"
	}
	if runes := []rune(msg); len(runes) > maxItemErrorLength {
		msg = string(runes[:maxItemErrorLength])
	}
	return msg
}

func fileHasData(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}
