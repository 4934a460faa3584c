// Package prefetch warms the summary cache in the background from the SQLite
// job queue.
package prefetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/vidsum/internal/storage"
	"github.com/kalambet/vidsum/internal/video"
)

// JobType is the queue type handled by Worker.
const JobType = "summary_fetch"

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// SummaryFetcher fetches a summary from the summarization service.
type SummaryFetcher interface {
	FetchSummary(ctx context.Context, ref video.Reference) (string, error)
}

// SummaryStore is where fetched summaries are recorded.
type SummaryStore interface {
	PutSummary(ctx context.Context, videoRef, summary string) error
	LookupSummary(ctx context.Context, videoRef string) (string, bool, error)
}

type payload struct {
	VideoRef string `json:"video_ref"`
}

// Enqueue validates rawURL and queues a summary_fetch job for it.
func Enqueue(ctx context.Context, jobs JobStore, rawURL string) (string, error) {
	ref, err := video.Parse(rawURL)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload{VideoRef: ref.URL})
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := jobs.EnqueueJob(ctx, storage.Job{ID: id, Type: JobType, PayloadJSON: string(body)}); err != nil {
		return "", fmt.Errorf("enqueueing prefetch for %s: %w", ref.URL, err)
	}
	return id, nil
}

// Worker processes summary_fetch jobs.
type Worker struct {
	jobs      JobStore
	fetcher   SummaryFetcher
	summaries SummaryStore
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(jobs JobStore, fetcher SummaryFetcher, summaries SummaryStore, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		jobs:      jobs,
		fetcher:   fetcher,
		summaries: summaries,
		poll:      pollInterval,
		logger:    logger,
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("prefetch iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. It reports whether a job was
// claimed, whatever its outcome.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextJob(ctx, []string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.process(ctx, job); err != nil {
		w.logger.Warn("prefetch job failed", "job_id", job.ID, "error", err)
		if failErr := w.jobs.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.jobs.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *storage.Job) error {
	var p payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	ref, err := video.Parse(p.VideoRef)
	if err != nil {
		return err
	}

	if _, ok, err := w.summaries.LookupSummary(ctx, ref.URL); err != nil {
		return fmt.Errorf("checking cache: %w", err)
	} else if ok {
		w.logger.Debug("prefetch skipped, already cached", "video_ref", ref.URL)
		return nil
	}

	summary, err := w.fetcher.FetchSummary(ctx, ref)
	if err != nil {
		return err
	}
	if err := w.summaries.PutSummary(ctx, ref.URL, summary); err != nil {
		return fmt.Errorf("storing summary: %w", err)
	}
	w.logger.Info("summary prefetched", "video_ref", ref.URL, "summary_len", len(summary))
	return nil
}
