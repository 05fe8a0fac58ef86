package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/eci-platform/notifyd/internal/broker"
	"github.com/eci-platform/notifyd/internal/domain"
	"github.com/eci-platform/notifyd/internal/logging"
)

const (
	StreamName     = "ECOMMERCE_EVENTS"
	StreamSubjects = "events.>"
	DurableName    = "notifyd"
)

// eventMessage is the wire shape producers publish on events.<type>.
type eventMessage struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	Payload   map[string]string `json:"payload"`
	Timestamp time.Time         `json:"timestamp"`
}

// Consumer is a durable JetStream consumer over the e-commerce event
// stream. Messages are acknowledged only after the handler has persisted
// the derived jobs, so a crash before that point redelivers the event.
type Consumer struct {
	conn     *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	consCtx  jetstream.ConsumeContext
}

func New(ctx context.Context, url string) (*Consumer, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{StreamSubjects},
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       DurableName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       5 * time.Minute,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	return &Consumer{
		conn:     conn,
		js:       js,
		consumer: cons,
	}, nil
}

// Start begins delivering stream messages to the handler. Acking follows
// the error classification: nil and permanent errors ack (redelivery would
// fail the same way), transient errors nak for redelivery.
func (c *Consumer) Start(ctx context.Context, handler broker.Handler) error {
	consCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		var em eventMessage
		if err := json.Unmarshal(msg.Data(), &em); err != nil {
			slog.Error("undecodable event message",
				slog.String("code", "EVT_DECODE"),
				slog.String("subject", msg.Subject()),
				slog.Any("error", err),
			)
			_ = msg.Ack()
			return
		}

		ev := domain.Event{
			ID:         em.EventID,
			Type:       em.EventType,
			Payload:    em.Payload,
			OccurredAt: em.Timestamp,
		}

		hctx := logging.WithEventID(ctx, ev.ID)
		if err := handler(hctx, ev); err != nil {
			if domain.KindOf(err).Permanent() {
				logging.FromContext(hctx).Error("event dropped",
					slog.String("code", "EVT_DROPPED"),
					slog.String("eventType", ev.Type),
					slog.Any("error", err),
				)
				_ = msg.Ack()
				return
			}
			logging.FromContext(hctx).Warn("event requeued",
				slog.String("code", "EVT_REQUEUE"),
				slog.String("eventType", ev.Type),
				slog.Any("error", err),
			)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	c.consCtx = consCtx

	slog.Info("event consumer started",
		slog.String("code", "SYS_STARTUP"),
		slog.String("stream", StreamName),
		slog.String("durable", DurableName),
	)
	return nil
}

func (c *Consumer) Healthy() bool {
	return c.conn != nil && c.conn.IsConnected()
}

func (c *Consumer) Close() error {
	if c.consCtx != nil {
		c.consCtx.Drain()
	}
	c.conn.Close()
	return nil
}
