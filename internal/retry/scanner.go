package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/eci-platform/notifyd/internal/domain"
	"github.com/eci-platform/notifyd/internal/logging"
	"github.com/eci-platform/notifyd/internal/store"
)

// Dispatcher re-enqueues a due or stalled job into the engine's work
// queue.
type Dispatcher interface {
	EnqueueRetry(ctx context.Context, jobID string) error
	EnqueueStalled(ctx context.Context, jobID string) error
}

// Scanner polls the state store for jobs whose backoff has expired and
// hands them back to the dispatch engine. It also sweeps for non-terminal
// jobs with no activity inside the staleness window, whose queue entry was
// lost to a crash or a full queue.
type Scanner struct {
	jobs         store.JobStore
	dispatcher   Dispatcher
	pollInterval time.Duration
	staleAfter   time.Duration
	batchSize    int
}

func NewScanner(jobs store.JobStore, dispatcher Dispatcher, pollInterval, staleAfter time.Duration) *Scanner {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &Scanner{
		jobs:         jobs,
		dispatcher:   dispatcher,
		pollInterval: pollInterval,
		staleAfter:   staleAfter,
		batchSize:    50,
	}
}

// Start runs the polling loop until ctx is cancelled.
func (s *Scanner) Start(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("retry scanner started",
		slog.String("code", "SYS_STARTUP"),
		slog.Duration("pollInterval", s.pollInterval),
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("retry scanner shutting down", slog.String("code", "SYS_SHUTDOWN"))
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

func (s *Scanner) scan(ctx context.Context) {
	jobs, err := s.jobs.DueForRetry(ctx, time.Now(), s.batchSize)
	if err != nil {
		slog.Error("scanner error fetching due jobs", slog.String("code", "DB_ERROR"), slog.Any("error", err))
		return
	}

	for _, job := range jobs {
		ctx := logging.WithJob(ctx, job.ID, string(job.Channel))
		l := logging.FromContext(ctx)

		if job.State != domain.StateRetrying {
			continue
		}

		l.Info("re-enqueueing job for retry",
			slog.String("code", "DEL_RETRY"),
			slog.Int("attempt", job.AttemptCount+1),
		)

		if err := s.dispatcher.EnqueueRetry(ctx, job.ID); err != nil {
			l.Error("failed to re-enqueue job", slog.String("code", "SYS_ERR"), slog.Any("error", err))
		}
	}

	s.sweepStalled(ctx)
}

func (s *Scanner) sweepStalled(ctx context.Context) {
	stalled, err := s.jobs.Stalled(ctx, time.Now().Add(-s.staleAfter), s.batchSize)
	if err != nil {
		slog.Error("scanner error fetching stalled jobs", slog.String("code", "DB_ERROR"), slog.Any("error", err))
		return
	}

	for _, job := range stalled {
		ctx := logging.WithJob(ctx, job.ID, string(job.Channel))
		l := logging.FromContext(ctx)

		l.Warn("re-enqueueing stalled job",
			slog.String("code", "SYS_RECOVER"),
			slog.String("state", string(job.State)),
		)

		if err := s.dispatcher.EnqueueStalled(ctx, job.ID); err != nil {
			l.Error("failed to re-enqueue stalled job", slog.String("code", "SYS_ERR"), slog.Any("error", err))
		}
	}
}
