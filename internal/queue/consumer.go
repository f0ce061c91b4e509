package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/foodbridge/internal/logger"
)

// StartLifecycleConsumer connects to RabbitMQ, declares the lifecycle queue
// and appends one line per consumed event to logPath.  It reconnects with
// exponential backoff until ctx is cancelled.
func StartLifecycleConsumer(ctx context.Context, url, queue, logPath string, log *logger.Logger) error {
	if queue == "" {
		queue = DefaultQueue
	}
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn("lifecycle-consumer: dial failed", "err", err, "retry_in", backoff.String())
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, queue, logPath, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("lifecycle-consumer: consume loop ended; reconnecting", "err", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, queue, logPath string, log *logger.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn("lifecycle-consumer: set QoS failed", "err", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := HandleMessage(d.Body, logPath); err != nil {
				log.Error("lifecycle-consumer: handle message failed", "err", err)
				_ = d.Nack(false, false) // do not requeue a poison message
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// HandleMessage decodes one event body and appends it to logPath.
func HandleMessage(body []byte, logPath string) error {
	var ev LifecycleEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Kind == "" || ev.DonationID == "" {
		return errors.New("event missing kind or donation id")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatLine renders ev as a single log line.
func FormatLine(ev LifecycleEvent) string {
	line := fmt.Sprintf("[%s] %s | actor=%s | donation=%s",
		ev.OccurredAt.UTC().Format(time.RFC3339), ev.Kind, ev.ActorID, ev.DonationID)
	if ev.DonationStatus != "" {
		line += " (" + ev.DonationStatus + ")"
	}
	if ev.RequestID != "" {
		line += fmt.Sprintf(" | request=%s (%s)", ev.RequestID, ev.RequestStatus)
	}
	if ev.DeliveryID != "" {
		line += fmt.Sprintf(" | delivery=%s (%s)", ev.DeliveryID, ev.DeliveryStatus)
	}
	return line + "\n"
}
