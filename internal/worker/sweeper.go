package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/bobarin/blessings/internal/services"
	"github.com/bobarin/blessings/internal/store"
)

// Sweeper evicts batches older than the expiry window and releases whatever
// resources they still hold.
type Sweeper struct {
	store    store.JobStore
	media    Media
	voice    services.VoiceService
	expiry   time.Duration
	interval time.Duration

	// outstanding voice deletions
	pending sync.WaitGroup
}

func NewSweeper(st store.JobStore, media Media, voice services.VoiceService, expiry, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    st,
		media:    media,
		voice:    voice,
		expiry:   expiry,
		interval: interval,
	}
}

// Start sweeps every interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	log.Printf("[Sweeper] Started (expiry %v, every %v)", s.expiry, s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Sweeper] Stopped")
			return
		case now := <-ticker.C:
			s.Sweep(ctx, now)
		}
	}
}

// Sweep evicts every job created more than the expiry window before now and
// returns how many were removed. Voice clones are deleted in the background.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) int {
	jobs, err := s.store.List(ctx)
	if err != nil {
		log.Printf("[Sweeper] Warning: failed to list batches: %v", err)
		return 0
	}

	evicted := 0
	for _, job := range jobs {
		if now.Sub(job.CreatedAt) <= s.expiry {
			continue
		}

		s.media.Remove(job.TempAudioPaths()...)

		if voiceID := job.VoiceCloneID; voiceID != "" && s.voice.Configured() {
			s.pending.Add(1)
			go func() {
				defer s.pending.Done()
				dctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
				defer cancel()
				s.voice.DeleteVoice(dctx, voiceID)
			}()
		}

		if err := s.store.Delete(ctx, job.ID); err != nil {
			log.Printf("[Sweeper] Warning: failed to delete %s: %v", job.ID, err)
			continue
		}
		evicted++
		log.Printf("[Sweeper] Evicted %s (created %s)", job.ID, job.CreatedAt.Format(time.RFC3339))
	}

	return evicted
}

// Wait blocks until background voice deletions have returned.
func (s *Sweeper) Wait() {
	s.pending.Wait()
}
