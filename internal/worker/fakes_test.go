package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bobarin/blessings/internal/models"
	"github.com/bobarin/blessings/internal/narration"
	"github.com/bobarin/blessings/internal/services"
	"github.com/bobarin/blessings/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeVoice struct {
	mu         sync.Mutex
	configured bool
	uploadErr  error
	uploads    []string
	deleted    []string
	// failFor makes synthesis fail when the text contains the substring.
	failFor string
	speech  int
}

func (f *fakeVoice) Configured() bool { return f.configured }

func (f *fakeVoice) UploadVoice(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploads = append(f.uploads, path)
	return "voice_1", nil
}

func (f *fakeVoice) DeleteVoice(_ context.Context, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

func (f *fakeVoice) GenerateSpeech(_ context.Context, text, voiceID string, joyful int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speech++
	if f.failFor != "" && strings.Contains(text, f.failFor) {
		return nil, services.ErrSynthesisFailed
	}
	return []byte("ID3" + voiceID), nil
}

func (f *fakeVoice) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// fakeMedia measures every .mp3 as 4 seconds and videos as videoSec.
type fakeMedia struct {
	mu        sync.Mutex
	extractOK bool
	convertOK bool
	videoSec  float64
	removed   []string
	extracted int
}

func (f *fakeMedia) ProbeDuration(_ context.Context, path string) (float64, bool) {
	if strings.HasSuffix(path, ".mp3") {
		return 4, true
	}
	if f.videoSec > 0 {
		return f.videoSec, true
	}
	return 0, false
}

func (f *fakeMedia) ExtractAudio(_ context.Context, _, out string) bool {
	f.mu.Lock()
	f.extracted++
	f.mu.Unlock()
	if !f.extractOK {
		return false
	}
	return os.WriteFile(out, []byte("RIFF"), 0o644) == nil
}

func (f *fakeMedia) ConvertToWav(_ context.Context, _, out string) bool {
	if !f.convertOK {
		return false
	}
	return os.WriteFile(out, []byte("RIFF"), 0o644) == nil
}

func (f *fakeMedia) Remove(paths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		if p == "" {
			continue
		}
		f.removed = append(f.removed, p)
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			panic(err)
		}
	}
}

type fakeRenderer struct {
	mu    sync.Mutex
	props []services.RenderProps
	// fail returns an error for the named recipient.
	fail   map[string]error
	before func(props services.RenderProps)
}

func (f *fakeRenderer) Render(_ context.Context, props services.RenderProps, outputPath string) error {
	if f.before != nil {
		f.before(props)
	}
	f.mu.Lock()
	f.props = append(f.props, props)
	f.mu.Unlock()
	if err := f.fail[props.RecipientName]; err != nil {
		return err
	}
	return os.WriteFile(outputPath, []byte("mp4"), 0o644)
}

type countingNarration struct {
	*narration.Generator
	mu    sync.Mutex
	calls int
}

func (c *countingNarration) Generate(ctx context.Context, r models.Recipient, sender string, festival models.Festival, audioPath string) models.Narration {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.Generator.Generate(ctx, r, sender, festival, audioPath)
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, id)
	return nil
}

type harness struct {
	store     *store.MemoryStore
	voice     *fakeVoice
	media     *fakeMedia
	renderer  *fakeRenderer
	narration *countingNarration
	paths     Paths
	processor *Processor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	paths := Paths{
		PublicDir:  filepath.Join(root, "public"),
		UploadsDir: filepath.Join(root, "public", "uploads"),
		OutputDir:  filepath.Join(root, "out"),
		TempDir:    filepath.Join(root, "tmp"),
	}
	for _, dir := range []string{paths.UploadsDir, paths.OutputDir, paths.TempDir} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	gen, err := narration.NewGenerator(nil)
	require.NoError(t, err)

	h := &harness{
		store:     store.NewMemoryStore(),
		voice:     &fakeVoice{},
		media:     &fakeMedia{},
		renderer:  &fakeRenderer{},
		narration: &countingNarration{Generator: gen},
		paths:     paths,
	}
	h.processor = NewProcessor(ProcessorConfig{
		Store:     h.store,
		Narration: h.narration,
		Voice:     h.voice,
		Media:     h.media,
		Renderer:  h.renderer,
		Paths:     paths,
	})
	return h
}

func (h *harness) service(d Dispatcher) *Service {
	return NewService(ServiceConfig{
		Store:      h.store,
		Narration:  h.narration,
		Voice:      h.voice,
		Media:      h.media,
		Dispatcher: d,
		Paths:      h.paths,
	})
}

func (h *harness) seed(t *testing.T, id string, recipients ...models.Recipient) *models.BatchJob {
	t.Helper()
	job := models.NewBatchJob(id, "小明", models.FestivalSpring, "uploads/video_1.mp4", "", recipients)
	require.NoError(t, h.store.Set(context.Background(), job))
	return job
}

func (h *harness) job(t *testing.T, id string) *models.BatchJob {
	t.Helper()
	job, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

var threeRecipients = []models.Recipient{
	{Name: "张三", Relation: "发小", Background: "刚升职"},
	{Name: "李四", Relation: "同事"},
	{Name: "王五", Relation: "妈妈"},
}
