// Package worker runs the batch pipeline: preview and confirmation, the
// per-recipient render loop, the Redis queue consumer and the expiry sweeper.
package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/bobarin/blessings/internal/models"
	"github.com/bobarin/blessings/internal/queue"
)

// JobSource yields queued render requests. *queue.Queue implements it.
type JobSource interface {
	Next(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Ack(ctx context.Context, job *queue.Job) error
}

var _ JobSource = (*queue.Queue)(nil)

var errInterrupted = errors.New("rendering was interrupted too many times")

// Worker consumes render requests from the Redis queue.
type Worker struct {
	source      JobSource
	processor   *Processor
	maxAttempts int
}

// New returns a worker that gives up on a batch after maxAttempts deliveries.
func New(source JobSource, processor *Processor, maxAttempts int) *Worker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Worker{source: source, processor: processor, maxAttempts: maxAttempts}
}

// Start runs concurrency consumers until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	log.Printf("Worker started with concurrency: %d", concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.processQueue(ctx)
		}()
	}

	<-ctx.Done()
	log.Println("Worker shutting down...")
	wg.Wait()
}

func (w *Worker) processQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.source.Next(ctx, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Error dequeuing render job: %v", err)
				time.Sleep(time.Second)
				continue
			}

			if job == nil {
				continue // No job available, retry
			}

			w.handle(context.WithoutCancel(ctx), job)
		}
	}
}

// handle runs one delivery to completion; shutdown waits for it.
func (w *Worker) handle(ctx context.Context, job *queue.Job) {
	defer func() {
		if err := w.source.Ack(ctx, job); err != nil {
			log.Printf("Warning: %v", err)
		}
	}()

	if job.Attempt >= w.maxAttempts {
		log.Printf("Job %s (batch: %s) was interrupted %d times, giving up", job.ID, job.BatchID, job.Attempt)
		w.processor.Abort(ctx, job.BatchID, errInterrupted)
		return
	}

	log.Printf("Processing job %s (batch: %s, attempt %d)", job.ID, job.BatchID, job.Attempt+1)
	if err := w.processor.Process(ctx, job.BatchID); err != nil {
		log.Printf("Job %s failed: %v", job.ID, err)
		w.processor.Abort(ctx, job.BatchID, err)
		return
	}
	log.Printf("Job %s completed", job.ID)
}

// InlineDispatcher runs batches in goroutines of this process, at most
// concurrency at a time.
type InlineDispatcher struct {
	processor *Processor
	sem       chan struct{}
	wg        sync.WaitGroup
}

var _ Dispatcher = (*InlineDispatcher)(nil)

func NewInlineDispatcher(processor *Processor, concurrency int) *InlineDispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &InlineDispatcher{processor: processor, sem: make(chan struct{}, concurrency)}
}

func (d *InlineDispatcher) Dispatch(_ context.Context, batchID string) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		ctx := context.Background()
		if err := d.processor.Process(ctx, batchID); err != nil {
			log.Printf("[Batch] %s failed: %v", batchID, err)
			d.processor.Abort(ctx, batchID, err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched batch has finished.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

// Abort marks unfinished items of a batch as failed after the run itself
// broke down, so the batch still reaches a terminal state.
func (p *Processor) Abort(ctx context.Context, batchID string, cause error) {
	job, err := p.store.Get(ctx, batchID)
	if err != nil {
		log.Printf("[Batch] Warning: cannot mark %s failed: %v", batchID, err)
		return
	}
	if job.Status != models.JobStatusProcessing || job.PreviewOnly {
		return
	}

	msg := itemErrorMessage(cause)
	for i := range job.Items {
		item := &job.Items[i]
		if item.Status.Terminal() {
			continue
		}
		item.Status = models.ItemStatusError
		item.Error = msg
	}
	if job.AllFailed() {
		job.Status = models.JobStatusError
	} else {
		job.Status = models.JobStatusDone
	}

	p.releaseResources(ctx, job)
	if err := p.save(ctx, job); err != nil {
		log.Printf("[Batch] Warning: failed to save aborted batch %s: %v", batchID, err)
	}
}
