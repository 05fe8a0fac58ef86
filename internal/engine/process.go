package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eci-platform/notifyd/internal/domain"
	"github.com/eci-platform/notifyd/internal/logging"
	"github.com/eci-platform/notifyd/internal/provider"
)

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case jobID := <-e.queue:
			e.processJob(ctx, jobID)
		case <-e.done:
			// Drain whatever was queued before shutdown.
			for {
				select {
				case jobID := <-e.queue:
					e.processJob(ctx, jobID)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) processJob(ctx context.Context, jobID string) {
	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		slog.Error("failed to load job", slog.String("code", "DB_ERROR"),
			slog.String("job_id", jobID), slog.Any("error", err))
		return
	}
	if job.State.Terminal() {
		return
	}

	ctx = logging.WithJob(logging.WithEventID(ctx, job.SourceEventID), job.ID, string(job.Channel))

	switch job.State {
	case domain.StatePending, domain.StateRendering:
		e.renderAndSend(ctx, job)
	case domain.StateSending, domain.StateRetrying:
		// Content was rendered on a previous pass.
		e.send(ctx, job)
	}
}

func (e *Engine) renderAndSend(ctx context.Context, job *domain.NotificationJob) {
	l := logging.FromContext(ctx)

	if job.State == domain.StatePending {
		if err := e.transition(ctx, job, domain.StateRendering); err != nil {
			l.Error("transition to RENDERING failed", slog.String("code", "DB_ERROR"), slog.Any("error", err))
			return
		}
	}

	tmpl, err := e.templates.Resolve(job.EventType, job.Channel, job.Locale)
	if err != nil {
		e.fail(ctx, job, domain.KindOf(err), err)
		return
	}
	rendered, err := tmpl.Render(job.Payload)
	if err != nil {
		e.fail(ctx, job, domain.KindOf(err), err)
		return
	}

	job.TemplateID = tmpl.ID
	job.RenderedSubject = rendered.Subject
	job.RenderedBody = rendered.Body
	if err := e.transition(ctx, job, domain.StateSending); err != nil {
		l.Error("transition to SENDING failed", slog.String("code", "DB_ERROR"), slog.Any("error", err))
		return
	}

	e.send(ctx, job)
}

func (e *Engine) send(ctx context.Context, job *domain.NotificationJob) {
	l := logging.FromContext(ctx)

	if job.State == domain.StateRetrying {
		if err := e.transition(ctx, job, domain.StateSending); err != nil {
			l.Error("transition to SENDING failed", slog.String("code", "DB_ERROR"), slog.Any("error", err))
			return
		}
	}

	p, ok := e.providers[job.Channel]
	if !ok {
		e.fail(ctx, job, domain.KindValidation, fmt.Errorf("no provider for channel %s", job.Channel))
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.providerTimeout)
	res := p.Send(sendCtx, provider.Message{
		Recipient: job.Recipient,
		Subject:   job.RenderedSubject,
		Body:      job.RenderedBody,
	})
	cancel()

	now := time.Now()
	job.AttemptCount++
	job.LastAttemptAt = now

	attempt := &domain.DeliveryAttempt{
		ID:           uuid.New().String(),
		JobID:        job.ID,
		AttemptNo:    job.AttemptCount,
		ResponseCode: res.Code,
		Succeeded:    res.Status == provider.StatusSuccess,
		AttemptedAt:  now,
	}
	if res.Status != provider.StatusSuccess {
		attempt.ErrorKind = res.Status.String()
		attempt.Error = res.Detail
	}
	if err := e.attempts.Create(ctx, attempt); err != nil {
		l.Error("failed to record delivery attempt", slog.String("code", "DB_ERROR"), slog.Any("error", err))
	}

	switch res.Status {
	case provider.StatusSuccess:
		e.deliver(ctx, job)
	case provider.StatusPermanent:
		e.fail(ctx, job, domain.KindPermanent, fmt.Errorf("provider rejected: %s", res.Detail))
	case provider.StatusRetryable:
		e.scheduleRetry(ctx, job, res)
	}
}

func (e *Engine) deliver(ctx context.Context, job *domain.NotificationJob) {
	l := logging.FromContext(ctx)

	dedupKey := DedupKey(job.SourceEventID, job.Channel, job.Recipient)
	if err := e.idem.MarkDelivered(ctx, dedupKey, job.ID); err != nil {
		l.Error("failed to mark dedup key delivered", slog.String("code", "DB_ERROR"), slog.Any("error", err))
	}

	job.LastError = ""
	if err := e.transition(ctx, job, domain.StateDelivered); err != nil {
		l.Error("transition to DELIVERED failed", slog.String("code", "DB_ERROR"), slog.Any("error", err))
		return
	}

	l.Info("notification delivered",
		slog.String("code", "DEL_SUCCESS"),
		slog.Int("attempts", job.AttemptCount),
		slog.String("recipient", logging.MaskRecipient(job.Recipient)),
	)
}

func (e *Engine) scheduleRetry(ctx context.Context, job *domain.NotificationJob, res provider.Result) {
	l := logging.FromContext(ctx)

	if job.AttemptCount >= e.maxAttempts {
		e.fail(ctx, job, domain.KindExhaustedRetries,
			fmt.Errorf("exhausted %d attempts, last error: %s", job.AttemptCount, res.Detail))
		return
	}

	delay := e.backoff.NextDelay(job.AttemptCount)
	job.NextRetryAt = time.Now().Add(delay)
	job.LastError = res.Detail
	if err := e.transitionWith(ctx, job, domain.StateRetrying, domain.KindRetryable); err != nil {
		l.Error("transition to RETRYING failed", slog.String("code", "DB_ERROR"), slog.Any("error", err))
		return
	}

	l.Info("retry scheduled",
		slog.String("code", "DEL_RETRY"),
		slog.Int("attempt", job.AttemptCount),
		slog.Int("maxAttempts", e.maxAttempts),
		slog.Duration("delay", delay),
	)
}

// fail moves a job to its terminal FAILED state and releases the dedup key
// so a re-emitted business event can be processed again.
func (e *Engine) fail(ctx context.Context, job *domain.NotificationJob, kind domain.ErrorKind, cause error) {
	l := logging.FromContext(ctx)

	job.LastError = cause.Error()
	if err := e.transitionWith(ctx, job, domain.StateFailed, kind); err != nil {
		l.Error("transition to FAILED failed", slog.String("code", "DB_ERROR"), slog.Any("error", err))
		return
	}

	dedupKey := DedupKey(job.SourceEventID, job.Channel, job.Recipient)
	if err := e.idem.Release(ctx, dedupKey); err != nil {
		l.Error("failed to release dedup key", slog.String("code", "DB_ERROR"), slog.Any("error", err))
	}

	l.Error("terminal failure",
		slog.String("code", "DEL_FAILED"),
		slog.String("kind", string(kind)),
		slog.Int("attempts", job.AttemptCount),
		slog.Any("error", cause),
	)
}

func (e *Engine) transition(ctx context.Context, job *domain.NotificationJob, next domain.JobState) error {
	return e.transitionWith(ctx, job, next, "")
}

func (e *Engine) transitionWith(ctx context.Context, job *domain.NotificationJob, next domain.JobState, kind domain.ErrorKind) error {
	if !job.State.CanTransitionTo(next) {
		return fmt.Errorf("illegal transition %s -> %s for job %s", job.State, next, job.ID)
	}
	job.State = next
	if err := e.jobs.Update(ctx, job); err != nil {
		return err
	}
	e.publish(job, kind)
	return nil
}
