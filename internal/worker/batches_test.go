package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/bobarin/blessings/internal/models"
	"github.com/bobarin/blessings/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBatchID(t *testing.T) {
	id := NewBatchID()
	assert.Regexp(t, regexp.MustCompile(`^batch_\d{13}_[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, NewBatchID())
}

func TestPreviewConfirmRender(t *testing.T) {
	h := newHarness(t)
	h.voice.configured = true
	h.media.convertOK = true
	d := &recordingDispatcher{}
	svc := h.service(d)
	ctx := context.Background()

	preview, err := svc.CreatePreview(ctx, BatchInput{
		SenderName: "小明",
		Recipients: threeRecipients,
		Festival:   models.FestivalSpring,
		VideoFile:  "uploads/video_1.mp4",
		AudioFile:  "uploads/audio_1.m4a",
	})
	require.NoError(t, err)
	require.Len(t, preview.Items, 3)
	assert.Equal(t, 3, preview.Total)
	assert.Equal(t, 3, h.narration.calls)
	for i, item := range preview.Items {
		assert.Equal(t, i, item.Index)
		require.NotNil(t, item.Narration)
		assert.NotEmpty(t, item.Narration.ThemeName)
	}

	job := h.job(t, preview.BatchID)
	assert.True(t, job.PreviewOnly)
	wav := filepath.Join(h.paths.TempDir, "dedicated_audio_"+preview.BatchID+".wav")
	assert.Equal(t, wav, job.DedicatedAudioWavPath)
	assert.FileExists(t, wav)

	// Rendering an unconfirmed preview is a no-op.
	require.NoError(t, h.processor.Process(ctx, preview.BatchID))
	assert.Empty(t, h.renderer.props)

	joyful := 5
	resp, err := svc.Confirm(ctx, preview.BatchID, []models.NarrationEdit{
		{Index: 1, OpeningText: "李总新年好", Blessings: []string{"步步高升", "财源广进"}, Joyful: &joyful, Theme: models.ThemeElegant},
		{Index: 9, OpeningText: "ignored"},
	})
	require.NoError(t, err)
	assert.Equal(t, preview.BatchID, resp.BatchID)
	assert.Equal(t, []string{preview.BatchID}, d.ids)

	job = h.job(t, preview.BatchID)
	assert.False(t, job.PreviewOnly)
	assert.Equal(t, "李总新年好", job.Items[1].Narration.OpeningText)
	assert.Equal(t, models.ThemeElegant, *job.Items[1].Theme)

	require.NoError(t, h.processor.Process(ctx, preview.BatchID))

	assert.Equal(t, 3, h.narration.calls, "render reuses preview narration")
	assert.Equal(t, []string{wav}, h.voice.uploads)
	require.Len(t, h.renderer.props, 3)
	assert.Equal(t, "李总新年好", h.renderer.props[1].OpeningText)
	assert.Equal(t, []string{"步步高升", "财源广进"}, h.renderer.props[1].Blessings)
	assert.Equal(t, "elegant", h.renderer.props[1].Theme)
	assert.NoFileExists(t, wav)

	status, err := svc.Status(ctx, preview.BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, status.Status)
	assert.Equal(t, 3, status.Completed)
}

func TestPreviewFallsBackToVideoAudio(t *testing.T) {
	h := newHarness(t)
	h.voice.configured = true
	h.media.extractOK = true
	svc := h.service(&recordingDispatcher{})

	preview, err := svc.CreatePreview(context.Background(), BatchInput{
		SenderName: "小明",
		Recipients: threeRecipients[:1],
		VideoFile:  "uploads/video_1.mp4",
		AudioFile:  "uploads/broken.webm",
	})
	require.NoError(t, err)

	job := h.job(t, preview.BatchID)
	assert.Empty(t, job.DedicatedAudioWavPath)
	assert.Equal(t, filepath.Join(h.paths.TempDir, "audio_"+preview.BatchID+".wav"), job.ExtractedAudioPath)
	assert.Equal(t, models.FestivalSpring, job.Festival)
}

func TestPreviewSkipsAudioWithoutConsumers(t *testing.T) {
	h := newHarness(t)
	h.media.extractOK = true
	svc := h.service(&recordingDispatcher{})

	preview, err := svc.CreatePreview(context.Background(), BatchInput{
		SenderName: "小明",
		Recipients: threeRecipients[:1],
		Festival:   models.FestivalValentine,
		VideoFile:  "uploads/video_1.mp4",
	})
	require.NoError(t, err)

	job := h.job(t, preview.BatchID)
	assert.Zero(t, h.media.extracted)
	assert.Empty(t, job.TempAudioPaths())
	assert.Equal(t, models.FestivalValentine, job.Festival)
}

func TestConfirmTwice(t *testing.T) {
	h := newHarness(t)
	d := &recordingDispatcher{}
	svc := h.service(d)
	ctx := context.Background()

	preview, err := svc.CreatePreview(ctx, BatchInput{SenderName: "小明", Recipients: threeRecipients, VideoFile: "uploads/v.mp4"})
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, preview.BatchID, nil)
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, preview.BatchID, nil)
	assert.ErrorIs(t, err, ErrBatchAlreadyStarted)
	assert.Len(t, d.ids, 1)
}

func TestConfirmUnknownBatch(t *testing.T) {
	h := newHarness(t)
	svc := h.service(&recordingDispatcher{})

	_, err := svc.Confirm(context.Background(), "batch_missing", nil)
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestConfirmDispatchFailureKeepsPreview(t *testing.T) {
	h := newHarness(t)
	d := &recordingDispatcher{err: errors.New("redis down")}
	svc := h.service(d)
	ctx := context.Background()

	preview, err := svc.CreatePreview(ctx, BatchInput{SenderName: "小明", Recipients: threeRecipients, VideoFile: "uploads/v.mp4"})
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, preview.BatchID, nil)
	require.Error(t, err)
	assert.True(t, h.job(t, preview.BatchID).PreviewOnly)

	d.err = nil
	_, err = svc.Confirm(ctx, preview.BatchID, nil)
	require.NoError(t, err)
}

func TestCreateRender(t *testing.T) {
	h := newHarness(t)
	d := &recordingDispatcher{}
	svc := h.service(d)

	resp, err := svc.CreateRender(context.Background(), BatchInput{SenderName: "小明", Recipients: threeRecipients, VideoFile: "uploads/v.mp4"})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, []string{resp.BatchID}, d.ids)
	assert.False(t, h.job(t, resp.BatchID).PreviewOnly)
	assert.Zero(t, h.narration.calls)

	d.err = errors.New("queue full")
	_, err = svc.CreateRender(context.Background(), BatchInput{SenderName: "小明", Recipients: threeRecipients, VideoFile: "uploads/v.mp4"})
	require.Error(t, err)
	jobs, err := h.store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestCompletedVideosAndRelease(t *testing.T) {
	h := newHarness(t)
	svc := h.service(&recordingDispatcher{})
	ctx := context.Background()

	job := h.seed(t, "batch_zip", threeRecipients...)
	_, _, err := svc.CompletedVideos(ctx, "batch_zip")
	assert.ErrorIs(t, err, ErrNoCompletedItems)
	assert.ErrorIs(t, svc.Release(ctx, "batch_zip"), ErrBatchInProgress)

	wav := filepath.Join(h.paths.TempDir, "audio_batch_zip.wav")
	require.NoError(t, os.WriteFile(wav, []byte("RIFF"), 0o644))
	job.ExtractedAudioPath = wav
	job.VoiceCloneID = "voice_9"
	job.Status = models.JobStatusDone
	job.Items[0].Status = models.ItemStatusDone
	job.Items[0].Filename = "blessing_张三_1.mp4"
	job.Items[1].Status = models.ItemStatusError
	job.Items[2].Status = models.ItemStatusDone
	job.Items[2].Filename = "blessing_王五_1.mp4"
	require.NoError(t, h.store.Set(ctx, job))

	_, paths, err := svc.CompletedVideos(ctx, "batch_zip")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(h.paths.OutputDir, "blessing_张三_1.mp4"),
		filepath.Join(h.paths.OutputDir, "blessing_王五_1.mp4"),
	}, paths)

	require.NoError(t, svc.Release(ctx, "batch_zip"))
	assert.NoFileExists(t, wav)
	assert.Equal(t, []string{"voice_9"}, h.voice.deletedIDs())
	_, err = svc.Status(ctx, "batch_zip")
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestReleaseUnconfirmedPreview(t *testing.T) {
	h := newHarness(t)
	svc := h.service(&recordingDispatcher{})
	ctx := context.Background()

	job := h.seed(t, "batch_abandoned", threeRecipients...)
	job.PreviewOnly = true
	require.NoError(t, h.store.Set(ctx, job))

	require.NoError(t, svc.Release(ctx, "batch_abandoned"))
	ok, err := h.store.Has(ctx, "batch_abandoned")
	require.NoError(t, err)
	assert.False(t, ok)
}

// gatedDispatcher holds Dispatch until release is closed.
type gatedDispatcher struct {
	entered chan struct{}
	release chan struct{}
}

func (d *gatedDispatcher) Dispatch(context.Context, string) error {
	close(d.entered)
	<-d.release
	return nil
}

func TestReleaseWaitsForConfirm(t *testing.T) {
	h := newHarness(t)
	d := &gatedDispatcher{entered: make(chan struct{}), release: make(chan struct{})}
	svc := h.service(d)
	ctx := context.Background()

	preview, err := svc.CreatePreview(ctx, BatchInput{SenderName: "小明", Recipients: threeRecipients, VideoFile: "uploads/v.mp4"})
	require.NoError(t, err)

	confirmed := make(chan error, 1)
	go func() {
		_, err := svc.Confirm(ctx, preview.BatchID, nil)
		confirmed <- err
	}()
	<-d.entered

	released := make(chan error, 1)
	go func() { released <- svc.Release(ctx, preview.BatchID) }()

	select {
	case err := <-released:
		t.Fatalf("release finished while confirm was dispatching: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(d.release)
	require.NoError(t, <-confirmed)
	assert.ErrorIs(t, <-released, ErrBatchInProgress)

	job := h.job(t, preview.BatchID)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	assert.False(t, job.PreviewOnly)
}
