// Package ingester consumes external-source frames from NATS JetStream and
// feeds them into per-session inboxes.
package ingester

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/callsight/console/internal/batcher"
	"github.com/callsight/console/internal/events"
)

// Deliverer routes a decoded event to its session. The concrete
// implementation is the session manager.
type Deliverer interface {
	Deliver(sessionID string, e events.Event) error
}

// AlertHandlerFunc is called for every message on assist.alert.> subjects.
type AlertHandlerFunc func(ctx context.Context, subject string, data []byte)

type Ingester struct {
	nc           *nats.Conn
	js           jetstream.JetStream
	deliver      Deliverer
	batcher      *batcher.Batcher
	subs         []jetstream.ConsumeContext
	alertHandler AlertHandlerFunc
	ctx          context.Context
	cancel       context.CancelFunc
}

// streamSubjects maps JetStream stream names to the subjects the console
// subscribes to. Session frames arrive on assist.session.{session_id}.{kind}.
var streamSubjects = map[string][]string{
	"ASSIST_EVENTS": {"assist.session.>"},
	"ASSIST_ALERTS": {"assist.alert.>"},
}

func New(natsURL string, d Deliverer, b *batcher.Batcher) (*Ingester, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	ictx, ican := context.WithCancel(context.Background())
	ing := &Ingester{
		nc:      nc,
		js:      js,
		deliver: d,
		batcher: b,
		ctx:     ictx,
		cancel:  ican,
	}

	// Give the batcher a way to publish alerts back to NATS.
	b.SetNATSPublisher(func(subject string, data []byte) error {
		return nc.Publish(subject, data)
	})

	return ing, nil
}

// Start binds to durable consumers on each stream and begins consuming.
func (ing *Ingester) Start() error {
	ctx := context.Background()

	for stream, subjects := range streamSubjects {
		if err := ing.ensureStream(ctx, stream, subjects); err != nil {
			slog.Warn("stream not available, skipping", "stream", stream, "error", err)
			continue
		}

		consumerName := fmt.Sprintf("console-%s", stream)
		if err := ing.subscribe(ctx, stream, consumerName); err != nil {
			return fmt.Errorf("subscribe to %s: %w", stream, err)
		}

		slog.Info("subscribed to stream", "stream", stream, "consumer", consumerName)
	}

	return nil
}

func (ing *Ingester) ensureStream(ctx context.Context, name string, subjects []string) error {
	// Try to get existing stream first.
	_, err := ing.js.Stream(ctx, name)
	if err == nil {
		return nil
	}

	// Create stream if it doesn't exist.
	_, err = ing.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}

	slog.Info("created stream", "name", name, "subjects", subjects)
	return nil
}

func (ing *Ingester) subscribe(ctx context.Context, stream, consumerName string) error {
	consumer, err := ing.js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    3,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		ing.handleMessage(msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", consumerName, err)
	}

	ing.subs = append(ing.subs, cc)
	return nil
}

func (ing *Ingester) handleMessage(msg jetstream.Msg) {
	subject := msg.Subject()

	// Fork alert messages to the dedicated alert handler.
	if strings.HasPrefix(subject, "assist.alert.") {
		if ing.alertHandler != nil {
			ing.alertHandler(ing.ctx, subject, msg.Data())
		}
		_ = msg.Ack()
		return
	}

	sessionID := sessionFromSubject(subject)
	if sessionID == "" {
		slog.Warn("frame without session id in subject, skipping", "subject", subject)
		_ = msg.Ack()
		return
	}

	// Audit trail first: Normalize never drops a parseable frame.
	if rec, err := events.Normalize(msg.Data(), sessionID); err == nil {
		ing.batcher.Add(rec)
	} else {
		slog.Warn("malformed frame, skipping audit", "subject", subject, "error", err)
	}

	e, err := events.Decode(msg.Data())
	if err != nil {
		// A frame this core cannot interpret is absorbed, not redelivered.
		slog.Warn("undecodable frame, skipping", "subject", subject, "error", err)
		_ = msg.Ack()
		return
	}

	if err := ing.deliver.Deliver(sessionID, e); err != nil {
		slog.Warn("failed to deliver event", "subject", subject, "error", err)
	}

	// Ack after handoff. The durable consumer will redeliver if the console
	// crashes before the audit batch is flushed; event_id is the PK so
	// duplicates are harmless.
	if err := msg.Ack(); err != nil {
		slog.Warn("failed to ack message", "subject", subject, "error", err)
	}
}

// sessionFromSubject extracts the session id from
// assist.session.{session_id}.{kind...}.
func sessionFromSubject(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// SetAlertHandler registers a callback for assist.alert.> messages.
func (ing *Ingester) SetAlertHandler(fn AlertHandlerFunc) {
	ing.alertHandler = fn
}

// Publish sends a message to NATS (used for announcing the console's own
// lifecycle).
func (ing *Ingester) Publish(subject string, data []byte) error {
	return ing.nc.Publish(subject, data)
}

// Close drains subscriptions and closes the NATS connection.
func (ing *Ingester) Close() {
	ing.cancel()
	for _, cc := range ing.subs {
		cc.Stop()
	}
	ing.nc.Drain()
}
