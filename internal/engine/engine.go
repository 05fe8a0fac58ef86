package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eci-platform/notifyd/internal/config"
	"github.com/eci-platform/notifyd/internal/domain"
	"github.com/eci-platform/notifyd/internal/events"
	"github.com/eci-platform/notifyd/internal/logging"
	"github.com/eci-platform/notifyd/internal/provider"
	"github.com/eci-platform/notifyd/internal/retry"
	"github.com/eci-platform/notifyd/internal/store"
	"github.com/eci-platform/notifyd/internal/template"
)

// Submission is one notification request: an event routed to a single
// channel and recipient.
type Submission struct {
	EventID   string
	EventType string
	Channel   domain.Channel
	Recipient string
	Locale    string
	Payload   map[string]string
}

// Engine orchestrates the notification lifecycle: it derives jobs from
// events, enforces idempotency, renders templates, invokes channel
// providers and schedules retries.
type Engine struct {
	jobs      store.JobStore
	attempts  store.AttemptStore
	idem      store.IdempotencyStore
	templates *template.Registry
	providers map[domain.Channel]provider.Provider
	hub       *events.Hub

	backoff         *retry.Backoff
	maxAttempts     int
	providerTimeout time.Duration

	queue   chan string
	done    chan struct{}
	wg      sync.WaitGroup
	workers int

	mu     sync.Mutex
	closed bool
}

type Options struct {
	Jobs            store.JobStore
	Attempts        store.AttemptStore
	Idempotency     store.IdempotencyStore
	Templates       *template.Registry
	Providers       []provider.Provider
	Hub             *events.Hub
	Retry           config.RetryConfig
	Workers         int
	QueueSize       int
	ProviderTimeout time.Duration
}

func New(opts Options) *Engine {
	providers := make(map[domain.Channel]provider.Provider, len(opts.Providers))
	for _, p := range opts.Providers {
		providers[p.Channel()] = p
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 8
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	timeout := opts.ProviderTimeout
	if timeout <= 0 {
		timeout = config.DefaultProviderTimeout
	}
	hub := opts.Hub
	if hub == nil {
		hub = events.NewHub()
	}

	return &Engine{
		jobs:            opts.Jobs,
		attempts:        opts.Attempts,
		idem:            opts.Idempotency,
		templates:       opts.Templates,
		providers:       providers,
		hub:             hub,
		backoff:         retry.FromConfig(opts.Retry),
		maxAttempts:     opts.Retry.MaxAttempts,
		providerTimeout: timeout,
		queue:           make(chan string, queueSize),
		done:            make(chan struct{}),
		workers:         workers,
	}
}

// Start launches the worker pool. Workers exit when Shutdown closes the
// queue.
func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}
	slog.Info("dispatch engine started",
		slog.String("code", "SYS_STARTUP"),
		slog.Int("workers", e.workers),
		slog.Int("maxAttempts", e.maxAttempts),
	)
}

// Shutdown stops accepting work and waits for in-flight jobs to finish or
// ctx to expire. The queue itself is never closed: producers may still be
// blocked on a send, so shutdown is signalled through the done channel
// instead.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.done)
	}
	e.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		slog.Info("dispatch engine drained", slog.String("code", "SYS_SHUTDOWN"))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine drain interrupted: %w", ctx.Err())
	}
}

// Submit validates the event, enforces idempotency and creates a PENDING
// job. On an idempotent re-submission it returns the delivering job's ID
// together with domain.ErrAlreadyDelivered.
func (e *Engine) Submit(ctx context.Context, sub Submission) (string, error) {
	if sub.EventID == "" {
		return "", domain.Classify(domain.KindValidation, fmt.Errorf("event_id is required"))
	}
	if sub.Recipient == "" {
		return "", domain.Classify(domain.KindValidation, fmt.Errorf("recipient is required"))
	}
	if _, ok := domain.ParseChannel(string(sub.Channel)); !ok {
		return "", domain.Classify(domain.KindValidation, fmt.Errorf("unknown channel %q", sub.Channel))
	}
	if !e.templates.Known(sub.EventType) {
		return "", domain.Classify(domain.KindUnknownEventType, fmt.Errorf("event type %q", sub.EventType))
	}

	locale := sub.Locale
	if locale == "" {
		locale = template.DefaultLocale
	}

	dedupKey := DedupKey(sub.EventID, sub.Channel, sub.Recipient)
	jobID := uuid.New().String()

	res, err := e.idem.CheckAndReserve(ctx, dedupKey, jobID)
	if err != nil {
		return "", domain.Classify(domain.KindStoreUnavailable, err)
	}
	switch res.State {
	case store.ReservationAlreadyDelivered:
		return res.JobID, domain.ErrAlreadyDelivered
	case store.ReservationInFlight:
		return res.JobID, nil
	}

	job := &domain.NotificationJob{
		ID:            jobID,
		SourceEventID: sub.EventID,
		EventType:     sub.EventType,
		Channel:       sub.Channel,
		Recipient:     sub.Recipient,
		Locale:        locale,
		Payload:       sub.Payload,
		State:         domain.StatePending,
		CreatedAt:     time.Now(),
	}
	if err := e.jobs.Create(ctx, job); err != nil {
		// Roll back the reservation so the event can be re-submitted.
		if relErr := e.idem.Release(ctx, dedupKey); relErr != nil {
			slog.Error("failed to release dedup key", slog.String("code", "DB_ERROR"), slog.Any("error", relErr))
		}
		return "", domain.Classify(domain.KindStoreUnavailable, err)
	}

	e.publish(job, "")

	if err := e.enqueue(ctx, job.ID); err != nil {
		return "", err
	}

	logging.FromContext(logging.WithJob(ctx, job.ID, string(job.Channel))).Info("job accepted",
		slog.String("code", "JOB_ACCEPTED"),
		slog.String("eventType", job.EventType),
		slog.String("recipient", logging.MaskRecipient(job.Recipient)),
	)
	return job.ID, nil
}

// HandleEvent fans an inbound broker event out to every configured channel
// route. Missing recipients for a channel are skipped, matching the
// upstream producers that omit phone numbers for email-only customers.
func (e *Engine) HandleEvent(ctx context.Context, ev domain.Event) error {
	ctx = logging.WithEventID(ctx, ev.ID)
	l := logging.FromContext(ctx)

	if !e.templates.Known(ev.Type) {
		l.Warn("unhandled event type", slog.String("code", "EVT_UNKNOWN"), slog.String("eventType", ev.Type))
		return domain.Classify(domain.KindUnknownEventType, fmt.Errorf("event type %q", ev.Type))
	}

	for _, channel := range e.templates.Routes(ev.Type) {
		recipient := recipientFor(channel, ev.Payload)
		if recipient == "" {
			l.Warn("no recipient for channel",
				slog.String("code", "EVT_NO_RECIPIENT"),
				slog.String("channel", string(channel)),
			)
			continue
		}

		_, err := e.Submit(ctx, Submission{
			EventID:   ev.ID,
			EventType: ev.Type,
			Channel:   channel,
			Recipient: recipient,
			Locale:    ev.Payload["locale"],
			Payload:   ev.Payload,
		})
		if err != nil && err != domain.ErrAlreadyDelivered {
			if domain.KindOf(err).Permanent() {
				l.Error("event rejected", slog.String("code", "EVT_REJECTED"), slog.Any("error", err))
				continue
			}
			return err
		}
	}
	return nil
}

func recipientFor(channel domain.Channel, payload map[string]string) string {
	switch channel {
	case domain.ChannelEmail:
		return payload["customer_email"]
	case domain.ChannelSMS:
		return payload["customer_phone"]
	default:
		return ""
	}
}

// EnqueueRetry claims a RETRYING job whose backoff has expired and puts it
// back on the work queue. Claiming transitions the job to SENDING so
// overlapping scanner passes cannot enqueue it twice.
func (e *Engine) EnqueueRetry(ctx context.Context, jobID string) error {
	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != domain.StateRetrying {
		return nil
	}
	if err := e.transition(ctx, job, domain.StateSending); err != nil {
		return err
	}
	return e.enqueue(ctx, job.ID)
}

// Recover re-enqueues jobs that were persisted but never finished, which
// happens when the process crashed with entries still in its in-memory
// queue. A redelivered broker event cannot revive them: the dedup
// reservation short-circuits it, so recovery has to come from the store.
// Call after Start; anything beyond one batch is picked up by the
// scanner's stale pass.
func (e *Engine) Recover(ctx context.Context) error {
	jobs, err := e.jobs.Stalled(ctx, time.Now(), recoverBatchSize)
	if err != nil {
		return fmt.Errorf("scan unfinished jobs: %w", err)
	}
	for _, job := range jobs {
		if err := e.enqueue(ctx, job.ID); err != nil {
			return err
		}
	}
	if len(jobs) > 0 {
		slog.Info("recovered unfinished jobs",
			slog.String("code", "SYS_RECOVER"),
			slog.Int("count", len(jobs)),
		)
	}
	return nil
}

const recoverBatchSize = 500

// EnqueueStalled puts a job with a lost queue entry back on the work
// queue. The caller's staleness cutoff keeps actively processing jobs out
// of this path.
func (e *Engine) EnqueueStalled(ctx context.Context, jobID string) error {
	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() || job.State == domain.StateRetrying {
		return nil
	}
	return e.enqueue(ctx, job.ID)
}

// Resubmit creates a fresh job for a failed one, re-using its event
// fields. Terminal jobs are immutable, so a manual retry is a new
// submission rather than a state rollback; the dedup key was released on
// failure, which makes the re-submission admissible.
func (e *Engine) Resubmit(ctx context.Context, jobID string) (string, error) {
	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.State != domain.StateFailed {
		return "", domain.Classify(domain.KindValidation,
			fmt.Errorf("job %s is %s, only FAILED jobs can be retried", jobID, job.State))
	}
	return e.Submit(ctx, Submission{
		EventID:   job.SourceEventID,
		EventType: job.EventType,
		Channel:   job.Channel,
		Recipient: job.Recipient,
		Locale:    job.Locale,
		Payload:   job.Payload,
	})
}

// GetJob exposes job state to the management API.
func (e *Engine) GetJob(ctx context.Context, jobID string) (*domain.NotificationJob, error) {
	return e.jobs.GetByID(ctx, jobID)
}

func (e *Engine) Hub() *events.Hub {
	return e.hub
}

func (e *Engine) enqueue(ctx context.Context, jobID string) error {
	select {
	case <-e.done:
		return domain.Classify(domain.KindStoreUnavailable, fmt.Errorf("engine is shutting down"))
	default:
	}

	select {
	case e.queue <- jobID:
		return nil
	case <-e.done:
		return domain.Classify(domain.KindStoreUnavailable, fmt.Errorf("engine is shutting down"))
	case <-ctx.Done():
		return domain.Classify(domain.KindStoreUnavailable, ctx.Err())
	}
}

func (e *Engine) publish(job *domain.NotificationJob, kind domain.ErrorKind) {
	e.hub.Publish(events.DeliveryEvent{
		JobID:     job.ID,
		EventID:   job.SourceEventID,
		EventType: job.EventType,
		Channel:   job.Channel,
		State:     job.State,
		ErrorKind: kind,
		Attempt:   job.AttemptCount,
		Timestamp: time.Now(),
	})
}
