package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/blessings/internal/events"
	"github.com/bobarin/blessings/internal/models"
	"github.com/bobarin/blessings/internal/services"
	"github.com/bobarin/blessings/internal/store"
	"github.com/bobarin/blessings/internal/timing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessTemplateOnlyBatch(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "batch_1", threeRecipients...)

	require.NoError(t, h.processor.Process(context.Background(), "batch_1"))

	job := h.job(t, "batch_1")
	assert.Equal(t, models.JobStatusDone, job.Status)
	for _, item := range job.Items {
		assert.Equal(t, models.ItemStatusDone, item.Status)
		assert.NotEmpty(t, item.Filename)
		assert.Equal(t, "/output/"+item.Filename, item.OutputReference)
		require.NotNil(t, item.Narration)
		require.NotNil(t, item.Theme)
		assert.FileExists(t, filepath.Join(h.paths.OutputDir, item.Filename))
	}

	require.Len(t, h.renderer.props, 3)
	for _, props := range h.renderer.props {
		assert.Equal(t, 150, props.Scene1Frames)
		assert.Equal(t, 150, props.Scene2Frames)
		assert.Equal(t, 180, props.Scene3Frames)
		assert.Equal(t, 570, timing.Scenes{Scene1Frames: props.Scene1Frames, Scene2Frames: props.Scene2Frames, Scene3Frames: props.Scene3Frames}.TotalFrames())
		assert.Empty(t, props.TTSOpeningAudioFile)
		assert.Empty(t, props.TTSBlessingAudioFile)
		assert.Equal(t, "uploads/video_1.mp4", props.VideoFile)
		assert.Equal(t, "spring", props.Festival)
	}
	assert.Equal(t, "张三", h.renderer.props[0].RecipientName)
	assert.Equal(t, "王五", h.renderer.props[2].RecipientName)
	assert.Empty(t, h.voice.uploads)
}

func TestProcessSpeechFailureForOneRecipient(t *testing.T) {
	h := newHarness(t)
	h.voice.configured = true
	h.media.videoSec = 8.2

	job := models.NewBatchJob("batch_2", "小明", models.FestivalSpring, "uploads/video_1.mp4", "", threeRecipients)
	wav := filepath.Join(h.paths.TempDir, "dedicated_audio_batch_2.wav")
	require.NoError(t, os.WriteFile(wav, []byte("RIFF"), 0o644))
	job.DedicatedAudioWavPath = wav
	// both of 李四's segments mention the name
	job.Items[1].Narration = &models.Narration{
		OpeningText:     "同事新年好",
		Blessings:       []string{"升职加薪", "准时下班", "不加班"},
		TTSOpeningText:  "李四新年好",
		TTSBlessingText: "李四马年升职加薪",
		Theme:           models.ThemeModern,
		Joyful:          3,
	}
	h.voice.failFor = "李四"
	require.NoError(t, h.store.Set(context.Background(), job))

	require.NoError(t, h.processor.Process(context.Background(), "batch_2"))

	job = h.job(t, "batch_2")
	assert.Equal(t, models.JobStatusDone, job.Status)
	for _, item := range job.Items {
		assert.Equal(t, models.ItemStatusDone, item.Status, item.Recipient.Name)
	}

	assert.Equal(t, []string{wav}, h.voice.uploads)
	assert.Equal(t, []string{"voice_1"}, h.voice.deletedIDs())
	assert.Empty(t, job.VoiceCloneID)
	assert.Empty(t, job.DedicatedAudioWavPath)
	assert.NoFileExists(t, wav)

	props := h.renderer.props
	require.Len(t, props, 3)
	assert.Equal(t, 246, props[0].Scene2Frames)
	assert.Equal(t, "uploads/tts_batch_2_0_opening.mp3", props[0].TTSOpeningAudioFile)
	assert.Equal(t, "uploads/tts_batch_2_0_blessing.mp3", props[0].TTSBlessingAudioFile)
	// 4s of speech: max(120+30, 120) and max(120+45, 150)
	assert.Equal(t, 150, props[0].Scene1Frames)
	assert.Equal(t, 165, props[0].Scene3Frames)

	assert.Empty(t, props[1].TTSOpeningAudioFile)
	assert.Empty(t, props[1].TTSBlessingAudioFile)
	assert.Equal(t, 150, props[1].Scene1Frames)
	assert.Equal(t, 180, props[1].Scene3Frames)
	assert.Equal(t, "同事新年好", props[1].OpeningText)

	assert.NotEmpty(t, props[2].TTSOpeningAudioFile)

	// per-item speech files are cleaned up
	entries, err := os.ReadDir(h.paths.UploadsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcessRenderTimeoutForOneRecipient(t *testing.T) {
	h := newHarness(t)
	long := "render timed out after 10m0s: " + strings.Repeat("x", 400)
	h.renderer.fail = map[string]error{"李四": errors.New(long)}
	h.seed(t, "batch_3", threeRecipients...)

	require.NoError(t, h.processor.Process(context.Background(), "batch_3"))

	job := h.job(t, "batch_3")
	assert.Equal(t, models.JobStatusDone, job.Status)

	failed := job.Items[1]
	assert.Equal(t, models.ItemStatusError, failed.Status)
	assert.Len(t, []rune(failed.Error), maxItemErrorLength)
	assert.True(t, strings.HasPrefix(failed.Error, "render timed out after"))
	assert.Empty(t, failed.Filename)

	assert.Equal(t, models.ItemStatusDone, job.Items[0].Status)
	assert.Equal(t, models.ItemStatusDone, job.Items[2].Status)
}

func TestProcessAllItemsFailed(t *testing.T) {
	h := newHarness(t)
	h.renderer.fail = map[string]error{
		"张三": errors.New("boom"),
		"李四": errors.New("boom"),
		"王五": errors.New("boom"),
	}
	h.seed(t, "batch_4", threeRecipients...)

	require.NoError(t, h.processor.Process(context.Background(), "batch_4"))

	job := h.job(t, "batch_4")
	assert.Equal(t, models.JobStatusError, job.Status)
	assert.True(t, job.AllTerminal())
	for _, item := range job.Items {
		assert.Equal(t, "boom", item.Error)
	}
}

func TestProcessExtractsReferenceAudioOnce(t *testing.T) {
	h := newHarness(t)
	h.voice.configured = true
	h.media.extractOK = true
	h.seed(t, "batch_5", threeRecipients...)

	require.NoError(t, h.processor.Process(context.Background(), "batch_5"))

	assert.Equal(t, 1, h.media.extracted)
	require.Len(t, h.voice.uploads, 1)
	ref := filepath.Join(h.paths.TempDir, "ref_audio_batch_5.wav")
	assert.Equal(t, ref, h.voice.uploads[0])
	assert.NoFileExists(t, ref)
	assert.Equal(t, 6, h.voice.speech)
}

func TestProcessReusesStoredVoiceClone(t *testing.T) {
	h := newHarness(t)
	h.voice.configured = true
	job := models.NewBatchJob("batch_6", "小明", models.FestivalSpring, "uploads/v.mp4", "", threeRecipients[:1])
	wav := filepath.Join(h.paths.TempDir, "audio_batch_6.wav")
	require.NoError(t, os.WriteFile(wav, []byte("RIFF"), 0o644))
	job.ExtractedAudioPath = wav
	job.VoiceCloneID = "voice_existing"
	require.NoError(t, h.store.Set(context.Background(), job))

	require.NoError(t, h.processor.Process(context.Background(), "batch_6"))

	assert.Empty(t, h.voice.uploads)
	assert.Equal(t, []string{"voice_existing"}, h.voice.deletedIDs())
}

func TestProcessVoiceUploadFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.voice.configured = true
	h.voice.uploadErr = fmt.Errorf("%w: status 500", services.ErrUpload)
	h.media.extractOK = true
	h.seed(t, "batch_7", threeRecipients[:2]...)

	require.NoError(t, h.processor.Process(context.Background(), "batch_7"))

	job := h.job(t, "batch_7")
	assert.Equal(t, models.JobStatusDone, job.Status)
	assert.Zero(t, h.voice.speech)
	assert.Empty(t, h.voice.deletedIDs())
	assert.Empty(t, job.ExtractedAudioPath)
}

func TestProcessStopsWhenEvicted(t *testing.T) {
	h := newHarness(t)
	h.voice.configured = true
	h.media.extractOK = true
	h.renderer.before = func(services.RenderProps) {
		_ = h.store.Delete(context.Background(), "batch_8")
	}
	h.seed(t, "batch_8", threeRecipients...)

	require.NoError(t, h.processor.Process(context.Background(), "batch_8"))

	ok, _ := h.store.Has(context.Background(), "batch_8")
	assert.False(t, ok, "processor must not recreate an evicted batch")
	assert.Len(t, h.renderer.props, 1)
	assert.Equal(t, []string{"voice_1"}, h.voice.deletedIDs())
	assert.NoFileExists(t, filepath.Join(h.paths.TempDir, "ref_audio_batch_8.wav"))
}

// sweepingStore evicts a job the moment a chosen write arrives, the way the
// sweeper can between a processor's read and its write.
type sweepingStore struct {
	*store.MemoryStore
	mu      sync.Mutex
	evictOn int
	updates int
}

func (s *sweepingStore) Has(ctx context.Context, id string) (bool, error) {
	ok, err := s.MemoryStore.Has(ctx, id)
	if ok {
		_ = s.MemoryStore.Delete(ctx, id)
	}
	return ok, err
}

func (s *sweepingStore) Update(ctx context.Context, job *models.BatchJob) (bool, error) {
	s.mu.Lock()
	s.updates++
	evict := s.updates == s.evictOn
	s.mu.Unlock()
	if evict {
		_ = s.MemoryStore.Delete(ctx, job.ID)
	}
	return s.MemoryStore.Update(ctx, job)
}

func TestProcessDoesNotResurrectSweptBatch(t *testing.T) {
	h := newHarness(t)
	st := &sweepingStore{MemoryStore: h.store, evictOn: 2}
	h.seed(t, "batch_swept", threeRecipients...)

	p := NewProcessor(ProcessorConfig{
		Store:     st,
		Narration: h.narration,
		Voice:     h.voice,
		Media:     h.media,
		Renderer:  h.renderer,
		Paths:     h.paths,
	})
	require.NoError(t, p.Process(context.Background(), "batch_swept"))

	ok, err := h.store.Has(context.Background(), "batch_swept")
	require.NoError(t, err)
	assert.False(t, ok, "swept batch must stay deleted")
	assert.Less(t, len(h.renderer.props), 3)
}

func TestProcessSkipsUnconfirmedPreview(t *testing.T) {
	h := newHarness(t)
	job := h.seed(t, "batch_9", threeRecipients...)
	job.PreviewOnly = true
	require.NoError(t, h.store.Set(context.Background(), job))

	require.NoError(t, h.processor.Process(context.Background(), "batch_9"))
	assert.Empty(t, h.renderer.props)
}

func TestAbortTerminatesUnfinishedItems(t *testing.T) {
	h := newHarness(t)
	job := h.seed(t, "batch_10", threeRecipients...)
	job.Items[0].Status = models.ItemStatusDone
	job.Items[0].Filename = "a.mp4"
	job.Items[0].OutputReference = "/output/a.mp4"
	require.NoError(t, h.store.Set(context.Background(), job))

	h.processor.Abort(context.Background(), "batch_10", errors.New("redis: connection refused"))

	job = h.job(t, "batch_10")
	assert.Equal(t, models.JobStatusDone, job.Status)
	assert.True(t, job.AllTerminal())
	assert.Equal(t, "redis: connection refused", job.Items[1].Error)
}

func TestOutputFilename(t *testing.T) {
	item := &models.BatchItem{Index: 2, Recipient: models.Recipient{Name: "张 三!"}}
	epoch := time.UnixMilli(1739500000000)
	assert.Equal(t, "blessing_张三_1739500000000.mp4", outputFilename(item, epoch))

	item.Recipient.Name = "😀😀"
	assert.Equal(t, "blessing_recipient3_1739500000000.mp4", outputFilename(item, epoch))

	item.Recipient.Name = "Amy-Lee"
	assert.Equal(t, "blessing_AmyLee_1739500000000.mp4", outputFilename(item, epoch))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type fakeVideoPublisher struct{ err error }

func (f fakeVideoPublisher) PublishVideo(_ context.Context, batchID, localPath string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.example.com/" + batchID + "/" + filepath.Base(localPath), nil
}

func TestProcessPublishesProgressAndUploads(t *testing.T) {
	h := newHarness(t)
	pub := &recordingPublisher{}
	h.processor.events = pub
	h.processor.publisher = fakeVideoPublisher{}
	h.seed(t, "batch_11", threeRecipients[:2]...)

	require.NoError(t, h.processor.Process(context.Background(), "batch_11"))

	job := h.job(t, "batch_11")
	for _, item := range job.Items {
		assert.Equal(t, "https://cdn.example.com/batch_11/"+item.Filename, item.OutputReference)
	}

	var types []events.Type
	for _, e := range pub.events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []events.Type{
		events.TypeBatchStarted,
		events.TypeItemUpdated, events.TypeItemUpdated,
		events.TypeItemUpdated, events.TypeItemUpdated,
		events.TypeBatchFinished,
	}, types)
	last := pub.events[len(pub.events)-1]
	assert.Equal(t, 2, last.Completed)
	assert.Equal(t, "done", last.Status)
}

func TestProcessKeepsLocalCopyWhenUploadFails(t *testing.T) {
	h := newHarness(t)
	h.processor.publisher = fakeVideoPublisher{err: errors.New("bucket unavailable")}
	h.seed(t, "batch_12", threeRecipients[:1]...)

	require.NoError(t, h.processor.Process(context.Background(), "batch_12"))

	item := h.job(t, "batch_12").Items[0]
	assert.Equal(t, models.ItemStatusDone, item.Status)
	assert.Equal(t, "/output/"+item.Filename, item.OutputReference)
}

func TestItemErrorMessage(t *testing.T) {
	assert.Equal(t, "render failed", itemErrorMessage(errors.New("  ")))
	assert.Equal(t, "exit status 1", itemErrorMessage(errors.New("exit status 1\n")))
	assert.Len(t, []rune(itemErrorMessage(errors.New(strings.Repeat("错", 300)))), maxItemErrorLength)
}
