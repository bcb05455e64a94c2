package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bobarin/blessings/internal/models"
	"github.com/bobarin/blessings/internal/services"
	"github.com/bobarin/blessings/internal/store"
	"github.com/google/uuid"
)

var (
	ErrBatchAlreadyStarted = errors.New("batch has already been confirmed")
	ErrBatchInProgress     = errors.New("batch is still rendering")
	ErrNoCompletedItems    = errors.New("batch has no completed videos")
)

// BatchInput is an already-validated batch request.
type BatchInput struct {
	SenderName string
	Recipients []models.Recipient
	Festival   models.Festival
	VideoFile  string // relative to the public dir
	AudioFile  string // optional dedicated voice recording, relative to the public dir
}

// Dispatcher schedules the render phase of a confirmed batch.
type Dispatcher interface {
	Dispatch(ctx context.Context, batchID string) error
}

type ServiceConfig struct {
	Store      store.JobStore
	Narration  NarrationGenerator
	Voice      services.VoiceService
	Media      Media
	Dispatcher Dispatcher
	Paths      Paths
}

// Service is what the HTTP layer calls: create, confirm, inspect and release batches.
type Service struct {
	store      store.JobStore
	narration  NarrationGenerator
	voice      services.VoiceService
	media      Media
	dispatcher Dispatcher
	paths      Paths
	newID      func() string

	// serializes confirm so a batch is dispatched once
	confirmMu sync.Mutex
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		store:      cfg.Store,
		narration:  cfg.Narration,
		voice:      cfg.Voice,
		media:      cfg.Media,
		dispatcher: cfg.Dispatcher,
		paths:      cfg.Paths,
		newID:      NewBatchID,
	}
}

// NewBatchID returns ids like batch_1739500000000_1a2b3c4d.
func NewBatchID() string {
	return fmt.Sprintf("batch_%d_%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// CreatePreview generates narration for every recipient and stores the batch
// until it is confirmed. Reference audio is prepared only when a model or the
// voice provider can use it.
func (s *Service) CreatePreview(ctx context.Context, in BatchInput) (*models.PreviewResponse, error) {
	job := models.NewBatchJob(s.newID(), in.SenderName, models.ParseFestival(string(in.Festival)), in.VideoFile, in.AudioFile, in.Recipients)
	job.PreviewOnly = true
	s.logBatch("Preview", job)

	audioPath := s.prepareReferenceAudio(ctx, job)

	resp := &models.PreviewResponse{
		BatchID: job.ID,
		Total:   len(job.Items),
		Items:   make([]models.PreviewItem, 0, len(job.Items)),
	}
	for i := range job.Items {
		item := &job.Items[i]
		log.Printf("[Batch] [%d/%d] Writing narration for %s", i+1, len(job.Items), item.Recipient.Name)

		n := s.narration.Generate(ctx, item.Recipient, job.SenderName, job.Festival, audioPath)
		item.Narration = &n
		theme := n.Theme
		item.Theme = &theme

		resp.Items = append(resp.Items, models.PreviewItem{
			Index:         item.Index,
			RecipientName: item.Recipient.Name,
			Relation:      item.Recipient.Relation,
			Background:    item.Recipient.Background,
			Narration:     models.NewNarrationView(item.Narration),
		})
	}

	if err := s.store.Set(ctx, job); err != nil {
		s.media.Remove(job.TempAudioPaths()...)
		return nil, fmt.Errorf("failed to save batch: %w", err)
	}

	log.Printf("[Batch] Preview %s ready, awaiting confirmation", job.ID)
	return resp, nil
}

func (s *Service) prepareReferenceAudio(ctx context.Context, job *models.BatchJob) string {
	if !s.narration.LLMConfigured() && !s.voice.Configured() {
		return ""
	}

	if job.AudioFile != "" {
		wav := filepath.Join(s.paths.TempDir, fmt.Sprintf("dedicated_audio_%s.wav", job.ID))
		if s.media.ConvertToWav(ctx, filepath.Join(s.paths.PublicDir, job.AudioFile), wav) {
			job.DedicatedAudioWavPath = wav
			return wav
		}
		log.Printf("[Batch] Warning: dedicated recording unusable, extracting from video instead")
	}

	out := filepath.Join(s.paths.TempDir, fmt.Sprintf("audio_%s.wav", job.ID))
	if s.media.ExtractAudio(ctx, filepath.Join(s.paths.PublicDir, job.VideoFile), out) {
		job.ExtractedAudioPath = out
		return out
	}
	return ""
}

// CreateRender stores a batch and renders it straight away, without preview.
func (s *Service) CreateRender(ctx context.Context, in BatchInput) (*models.ConfirmResponse, error) {
	job := models.NewBatchJob(s.newID(), in.SenderName, models.ParseFestival(string(in.Festival)), in.VideoFile, in.AudioFile, in.Recipients)
	s.logBatch("Render", job)

	if err := s.store.Set(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save batch: %w", err)
	}
	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		_ = s.store.Delete(ctx, job.ID)
		return nil, fmt.Errorf("failed to schedule batch: %w", err)
	}
	return &models.ConfirmResponse{BatchID: job.ID, Total: len(job.Items)}, nil
}

// Confirm applies caller edits to the preview narration and starts rendering.
func (s *Service) Confirm(ctx context.Context, batchID string, edits []models.NarrationEdit) (*models.ConfirmResponse, error) {
	s.confirmMu.Lock()
	defer s.confirmMu.Unlock()

	job, err := s.store.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !job.PreviewOnly {
		return nil, ErrBatchAlreadyStarted
	}

	for _, edit := range edits {
		item := job.Item(edit.Index)
		if item == nil || item.Narration == nil || item.Status != models.ItemStatusPending {
			continue
		}
		edit.Apply(item.Narration)
		theme := item.Narration.Theme
		item.Theme = &theme
	}

	job.PreviewOnly = false
	job.Status = models.JobStatusProcessing
	ok, err := s.store.Update(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to save batch: %w", err)
	}
	if !ok {
		return nil, store.ErrJobNotFound
	}

	log.Printf("[Batch] %s confirmed with %d edits, voice source: %s", job.ID, len(edits), voiceSource(job))

	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		// Put it back so the caller can confirm again.
		job.PreviewOnly = true
		if _, serr := s.store.Update(ctx, job); serr != nil {
			log.Printf("[Batch] Warning: failed to restore preview state for %s: %v", job.ID, serr)
		}
		return nil, fmt.Errorf("failed to schedule batch: %w", err)
	}
	return &models.ConfirmResponse{BatchID: job.ID, Total: len(job.Items)}, nil
}

func (s *Service) Status(ctx context.Context, batchID string) (*models.StatusResponse, error) {
	job, err := s.store.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return models.NewStatusResponse(job), nil
}

// CompletedVideos returns the batch and the local paths of its finished videos.
func (s *Service) CompletedVideos(ctx context.Context, batchID string) (*models.BatchJob, []string, error) {
	job, err := s.store.Get(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}

	var paths []string
	for _, item := range job.Items {
		if item.Status == models.ItemStatusDone && item.Filename != "" {
			paths = append(paths, filepath.Join(s.paths.OutputDir, item.Filename))
		}
	}
	if len(paths) == 0 {
		return nil, nil, ErrNoCompletedItems
	}
	return job, paths, nil
}

// Release drops a finished or abandoned batch: temp audio, voice clone and
// the store entry. Rendered videos stay in the output dir.
func (s *Service) Release(ctx context.Context, batchID string) error {
	job, err := s.detach(ctx, batchID)
	if err != nil {
		return err
	}

	s.media.Remove(job.TempAudioPaths()...)
	if job.VoiceCloneID != "" {
		s.voice.DeleteVoice(ctx, job.VoiceCloneID)
	}
	log.Printf("[Batch] Released %s", batchID)
	return nil
}

// detach removes a batch that is not rendering from the store. It shares
// confirmMu with Confirm so a preview cannot be deleted while it is being
// dispatched.
func (s *Service) detach(ctx context.Context, batchID string) (*models.BatchJob, error) {
	s.confirmMu.Lock()
	defer s.confirmMu.Unlock()

	job, err := s.store.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusProcessing && !job.PreviewOnly {
		return nil, ErrBatchInProgress
	}
	if err := s.store.Delete(ctx, batchID); err != nil {
		return nil, fmt.Errorf("failed to delete batch: %w", err)
	}
	return job, nil
}

func (s *Service) logBatch(mode string, job *models.BatchJob) {
	audio := "extract from video"
	if job.AudioFile != "" {
		audio = job.AudioFile
	}
	log.Printf("[Batch] %s batch %s (%s): sender=%s video=%s audio=%s recipients=%d llm=%t voice=%t",
		mode, job.ID, job.Festival, job.SenderName, job.VideoFile, audio, len(job.Items),
		s.narration.LLMConfigured(), s.voice.Configured())
}

func voiceSource(job *models.BatchJob) string {
	switch {
	case job.DedicatedAudioWavPath != "":
		return "dedicated recording"
	case job.ExtractedAudioPath != "":
		return "extracted from video"
	default:
		return "extract at render time"
	}
}
